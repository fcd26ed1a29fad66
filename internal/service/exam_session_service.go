package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/model"
)

// Exam session errors. The portal handler maps each to a response.ErrCode.
var (
	ErrExamNotFound      = errors.New("exam not found")
	ErrInvalidEntryToken = errors.New("invalid exam password")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionSubmitted  = errors.New("session already submitted")
	ErrTimeExpired       = errors.New("exam time expired")
	ErrIndexOutOfRange   = errors.New("question index out of range")
	ErrUnknownQuestion   = errors.New("question does not belong to exam")
)

// SandboxQuestion is a question plus its answer key. Correct holds the expected
// serialized answer; an empty key accepts any non-empty answer (essays).
type SandboxQuestion struct {
	model.Question
	Correct string
}

// SandboxExam is an exam the sandbox can serve.
type SandboxExam struct {
	ID           string
	Title        string
	PasswordHash string
	Duration     time.Duration
	Questions    []SandboxQuestion
}

type sessionRecord struct {
	id             string
	examID         string
	studentID      int
	startedAt      time.Time
	currentIndex   int
	answers        map[string]string // question id -> serialized answer
	submitted      bool
	focusLossCount int
	report         *GradeReport
}

// GradeReport is the submit-session payload, in the flat result shape.
type GradeReport struct {
	CorrectAnswers     int                    `json:"correct_answers"`
	WrongAnswers       int                    `json:"wrong_answers"`
	TotalQuestions     int                    `json:"total_questions"`
	Score              float64                `json:"score"`
	PerQuestionDetails []model.QuestionDetail `json:"per_question_details"`
}

// ExamSessionService runs exam sessions for the sandbox. All state is in memory.
type ExamSessionService struct {
	auth *AuthService
	now  func() time.Time
	log  zerolog.Logger

	mu       sync.Mutex
	exams    map[string]*SandboxExam
	sessions map[string]*sessionRecord
	byPair   map[string]string // "<student>/<exam>" -> session id
}

// NewExamSessionService creates a new ExamSessionService. A nil clock uses time.Now.
func NewExamSessionService(auth *AuthService, now func() time.Time, log zerolog.Logger) *ExamSessionService {
	if now == nil {
		now = time.Now
	}
	return &ExamSessionService{
		auth:     auth,
		now:      now,
		log:      log.With().Str("component", "exam_session_service").Logger(),
		exams:    make(map[string]*SandboxExam),
		sessions: make(map[string]*sessionRecord),
		byPair:   make(map[string]string),
	}
}

// AddExam registers an exam protected by a plaintext password (hashed here).
func (s *ExamSessionService) AddExam(id, title, password string, duration time.Duration, questions []SandboxQuestion) error {
	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash exam password: %w", err)
	}
	for i := range questions {
		questions[i].Index = i
	}
	s.mu.Lock()
	s.exams[id] = &SandboxExam{ID: id, Title: title, PasswordHash: hash, Duration: duration, Questions: questions}
	s.mu.Unlock()
	return nil
}

// JoinExam validates the exam password and starts a session for the student.
// Joining again returns the existing session at its saved position.
func (s *ExamSessionService) JoinExam(ctx context.Context, examID string, studentID int, password string) (*model.Snapshot, error) {
	s.mu.Lock()
	exam, ok := s.exams[examID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrExamNotFound
	}

	// bcrypt is slow; keep it outside the lock.
	if err := s.auth.CheckPassword(exam.PasswordHash, password); err != nil {
		return nil, ErrInvalidEntryToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pair := pairKey(studentID, examID)
	if sid, exists := s.byPair[pair]; exists {
		sess := s.sessions[sid]
		if sess.submitted {
			return nil, ErrSessionSubmitted
		}
		s.log.Info().Str("session_id", sid).Int("student_id", studentID).Msg("Session resumed")
		return s.snapshotLocked(exam, sess, true), nil
	}

	sess := &sessionRecord{
		id:        uuid.New().String(),
		examID:    examID,
		studentID: studentID,
		startedAt: s.now(),
		answers:   make(map[string]string),
	}
	s.sessions[sess.id] = sess
	s.byPair[pair] = sess.id

	s.log.Info().Str("session_id", sess.id).Str("exam_id", examID).Int("student_id", studentID).Msg("Session started")
	return s.snapshotLocked(exam, sess, true), nil
}

// GetQuestion moves the session to index and returns the question with the saved answer.
func (s *ExamSessionService) GetQuestion(ctx context.Context, sessionID string, studentID, index int) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exam, err := s.lookupLocked(sessionID, studentID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(exam.Questions) {
		return nil, ErrIndexOutOfRange
	}
	if !sess.submitted {
		sess.currentIndex = index
	}
	return s.snapshotLocked(exam, sess, true), nil
}

// SaveAnswer stores one answer. Saving the same text again is harmless.
func (s *ExamSessionService) SaveAnswer(ctx context.Context, sessionID string, studentID int, req model.SubmitAnswerRequest) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exam, err := s.lookupLocked(sessionID, studentID)
	if err != nil {
		return nil, err
	}
	if sess.submitted {
		return nil, ErrSessionSubmitted
	}
	if s.remainingLocked(exam, sess) == 0 {
		return nil, ErrTimeExpired
	}
	if exam.question(req.QuestionID) == nil {
		return nil, ErrUnknownQuestion
	}
	if req.CurrentIndex >= len(exam.Questions) {
		return nil, ErrIndexOutOfRange
	}

	if strings.TrimSpace(req.Answer) == "" {
		delete(sess.answers, req.QuestionID)
	} else {
		sess.answers[req.QuestionID] = req.Answer
	}
	sess.currentIndex = req.CurrentIndex

	snap := s.snapshotLocked(exam, sess, false)
	snap.IsLastQuestion = req.CurrentIndex == len(exam.Questions)-1
	return snap, nil
}

// Submit grades the session. A repeated submit returns the same report.
func (s *ExamSessionService) Submit(ctx context.Context, sessionID string, studentID int) (*GradeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exam, err := s.lookupLocked(sessionID, studentID)
	if err != nil {
		return nil, err
	}
	if sess.submitted {
		return sess.report, nil
	}

	report := grade(exam, sess.answers)
	sess.submitted = true
	sess.report = report

	s.log.Info().
		Str("session_id", sessionID).
		Int("student_id", studentID).
		Int("correct", report.CorrectAnswers).
		Int("total", report.TotalQuestions).
		Float64("score", report.Score).
		Msg("Exam submitted and graded")
	return report, nil
}

// RecordFocusLoss increments the session's focus-loss counter.
func (s *ExamSessionService) RecordFocusLoss(ctx context.Context, sessionID string, studentID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, _, err := s.lookupLocked(sessionID, studentID)
	if err != nil {
		return 0, err
	}
	if sess.submitted {
		return sess.focusLossCount, ErrSessionSubmitted
	}
	sess.focusLossCount++

	s.log.Warn().Str("session_id", sessionID).Int("student_id", studentID).
		Int("count", sess.focusLossCount).Msg("Focus loss recorded")
	return sess.focusLossCount, nil
}

// VerifyActiveSession checks that the session exists, belongs to the student and is not submitted.
func (s *ExamSessionService) VerifyActiveSession(ctx context.Context, sessionID string, studentID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, _, err := s.lookupLocked(sessionID, studentID)
	if err != nil {
		return err
	}
	if sess.submitted {
		return ErrSessionSubmitted
	}
	return nil
}

func (s *ExamSessionService) lookupLocked(sessionID string, studentID int) (*sessionRecord, *SandboxExam, error) {
	sess, ok := s.sessions[sessionID]
	// Another student's session is reported as missing.
	if !ok || sess.studentID != studentID {
		return nil, nil, ErrSessionNotFound
	}
	exam, ok := s.exams[sess.examID]
	if !ok {
		return nil, nil, ErrExamNotFound
	}
	return sess, exam, nil
}

// remainingLocked is start + duration - now in whole seconds (rounded up), clamped at 0.
func (s *ExamSessionService) remainingLocked(exam *SandboxExam, sess *sessionRecord) int {
	remaining := sess.startedAt.Add(exam.Duration).Sub(s.now())
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

func (s *ExamSessionService) snapshotLocked(exam *SandboxExam, sess *sessionRecord, withQuestion bool) *model.Snapshot {
	total := len(exam.Questions)
	status := model.SessionStatusActive
	if sess.submitted {
		status = model.SessionStatusSubmitted
	}

	snap := &model.Snapshot{
		SessionID:        sess.id,
		ExamID:           sess.examID,
		StudentID:        fmt.Sprint(sess.studentID),
		Status:           status,
		CurrentIndex:     model.IntPtr(sess.currentIndex),
		TotalQuestions:   model.IntPtr(total),
		RemainingSeconds: model.IntPtr(s.remainingLocked(exam, sess)),
		FocusLossCount:   model.IntPtr(sess.focusLossCount),
		QuestionStates:   make([]model.QuestionState, 0, total),
	}
	for _, q := range exam.Questions {
		snap.QuestionStates = append(snap.QuestionStates, model.QuestionState{
			QuestionID: q.ID,
			Index:      q.Index,
			Answered:   sess.answers[q.ID] != "",
		})
	}

	if withQuestion && total > 0 {
		q := exam.Questions[sess.currentIndex].Question
		q.Options = append([]model.Option(nil), q.Options...)
		snap.Question = &q
		snap.Answer = model.StringPtr(sess.answers[q.ID])
		snap.IsLastQuestion = sess.currentIndex == total-1
	}
	return snap
}

func (e *SandboxExam) question(id string) *SandboxQuestion {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i]
		}
	}
	return nil
}

func grade(exam *SandboxExam, answers map[string]string) *GradeReport {
	report := &GradeReport{
		TotalQuestions:     len(exam.Questions),
		PerQuestionDetails: make([]model.QuestionDetail, 0, len(exam.Questions)),
	}
	for _, q := range exam.Questions {
		given := answers[q.ID]
		correct := matches(q, given)
		if correct {
			report.CorrectAnswers++
		} else {
			report.WrongAnswers++
		}
		report.PerQuestionDetails = append(report.PerQuestionDetails, model.QuestionDetail{
			QuestionID:    q.ID,
			Answer:        given,
			CorrectAnswer: q.Correct,
			IsCorrect:     correct,
		})
	}
	if report.TotalQuestions > 0 {
		report.Score = float64(report.CorrectAnswers) / float64(report.TotalQuestions) * 100
	}
	return report
}

// matches compares answers as label sets, ignoring order and blanks.
func matches(q SandboxQuestion, given string) bool {
	if strings.TrimSpace(given) == "" {
		return false
	}
	if q.Correct == "" {
		return true
	}
	want := model.ParseSelection(q.Correct)
	got := model.ParseSelection(given)
	if q.Type == model.QuestionTypeEssay {
		return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(q.Correct))
	}
	sort.Strings(want)
	sort.Strings(got)
	return strings.Join(want, ",") == strings.Join(got, ",")
}

func pairKey(studentID int, examID string) string {
	return fmt.Sprintf("%d/%s", studentID, examID)
}
