package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stemsi/exstem-client/internal/config"
)

func TestStudentLoginSingleDevice(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "s", JWTExpiry: time.Hour, BcryptCost: 4})
	if err := auth.RegisterStudent(7, "0099", "Budi", "rahasia"); err != nil {
		t.Fatalf("RegisterStudent: %v", err)
	}
	ctx := context.Background()

	if _, _, err := auth.Login(ctx, "0099", "salah"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password = %v", err)
	}
	if _, _, err := auth.Login(ctx, "0000", "rahasia"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown nisn = %v", err)
	}

	token, student, err := auth.Login(ctx, "0099", "rahasia")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if student.ID != 7 || student.Name != "Budi" {
		t.Errorf("student = %+v", student)
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 7 || claims.TokenType != TokenTypeStudent {
		t.Errorf("claims = %+v", claims)
	}
	if err := auth.ValidateStudentSession(ctx, 7, claims.ID); err != nil {
		t.Errorf("active session rejected: %v", err)
	}

	if _, _, err := auth.Login(ctx, "0099", "rahasia"); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Errorf("second login = %v", err)
	}

	if err := auth.ResetStudentSession(ctx, 7); err != nil {
		t.Fatalf("ResetStudentSession: %v", err)
	}
	if err := auth.ValidateStudentSession(ctx, 7, claims.ID); !errors.Is(err, ErrSessionInvalidated) {
		t.Errorf("old token after logout = %v", err)
	}
	if _, _, err := auth.Login(ctx, "0099", "rahasia"); err != nil {
		t.Errorf("login after logout: %v", err)
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	a := NewAuthService(&config.Config{JWTSecret: "one", JWTExpiry: time.Hour, BcryptCost: 4})
	b := NewAuthService(&config.Config{JWTSecret: "two", JWTExpiry: time.Hour, BcryptCost: 4})
	token, err := a.GenerateStudentToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("GenerateStudentToken: %v", err)
	}
	if _, err := b.ValidateToken(token); err == nil {
		t.Error("token signed with another secret accepted")
	}
}
