package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrSessionAlreadyActive = errors.New("another session is already active, please logout first")
	ErrSessionInvalidated   = errors.New("session invalidated")
)

// TokenType distinguishes student tokens from anything else the sandbox might sign.
type TokenType string

const TokenTypeStudent TokenType = "student"

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    int       `json:"user_id"`
}

// AuthService handles student login, JWT, and single-device session tracking.
// Active logins are kept in memory: the sandbox is a single process.
type AuthService struct {
	cfg *config.Config

	mu       sync.Mutex
	students map[string]model.Student // by NISN
	active   map[int]string           // student id -> JTI
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		cfg:      cfg,
		students: make(map[string]model.Student),
		active:   make(map[int]string),
	}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// RegisterStudent adds a student with a plaintext password (hashed here).
func (s *AuthService) RegisterStudent(id int, nisn, name, password string) error {
	hash, err := s.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	s.mu.Lock()
	s.students[nisn] = model.Student{ID: id, NISN: nisn, Name: name, PasswordHash: hash}
	s.mu.Unlock()
	return nil
}

// Login checks credentials and issues a student token.
func (s *AuthService) Login(ctx context.Context, nisn, password string) (string, *model.Student, error) {
	s.mu.Lock()
	student, ok := s.students[nisn]
	s.mu.Unlock()
	if !ok {
		return "", nil, ErrInvalidCredentials
	}
	if err := s.CheckPassword(student.PasswordHash, password); err != nil {
		return "", nil, err
	}

	token, err := s.GenerateStudentToken(ctx, student.ID)
	if err != nil {
		return "", nil, err
	}
	return token, &student, nil
}

// GenerateStudentToken creates a JWT for a student and registers the login.
// Returns an error if a login already exists (new logins are rejected).
func (s *AuthService) GenerateStudentToken(ctx context.Context, studentID int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[studentID]; exists {
		return "", ErrSessionAlreadyActive
	}

	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.Itoa(studentID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: TokenTypeStudent,
		UserID:    studentID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	s.active[studentID] = jti
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// ValidateStudentSession checks that the token's JTI matches the active login.
func (s *AuthService) ValidateStudentSession(ctx context.Context, studentID int, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.active[studentID]
	if !ok || stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// ResetStudentSession removes a student's login, allowing a new one.
func (s *AuthService) ResetStudentSession(ctx context.Context, studentID int) error {
	s.mu.Lock()
	delete(s.active, studentID)
	s.mu.Unlock()
	return nil
}
