package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/model"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newSeeded(t *testing.T) (*ExamSessionService, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)}
	auth := NewAuthService(&config.Config{JWTSecret: "s", JWTExpiry: time.Hour, BcryptCost: 4})
	svc := NewExamSessionService(auth, clock.Now, zerolog.Nop())
	if err := SeedDemo(auth, svc); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	return svc, clock
}

func join(t *testing.T, svc *ExamSessionService) *model.Snapshot {
	t.Helper()
	snap, err := svc.JoinExam(context.Background(), DemoExamID, DemoStudentID, DemoExamPassword)
	if err != nil {
		t.Fatalf("JoinExam: %v", err)
	}
	return snap
}

func TestJoinExam(t *testing.T) {
	svc, clock := newSeeded(t)
	ctx := context.Background()

	if _, err := svc.JoinExam(ctx, DemoExamID, DemoStudentID, "salah"); !errors.Is(err, ErrInvalidEntryToken) {
		t.Errorf("wrong password = %v", err)
	}
	if _, err := svc.JoinExam(ctx, "99", DemoStudentID, DemoExamPassword); !errors.Is(err, ErrExamNotFound) {
		t.Errorf("unknown exam = %v", err)
	}

	first := join(t, svc)
	if *first.RemainingSeconds != 3600 || len(first.QuestionStates) != DemoQuestionCount {
		t.Fatalf("first join = %+v", first)
	}

	if _, err := svc.GetQuestion(ctx, first.SessionID, DemoStudentID, 4); err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	clock.Advance(90*time.Second + 500*time.Millisecond)

	again := join(t, svc)
	if again.SessionID != first.SessionID {
		t.Errorf("rejoin created session %s, want %s", again.SessionID, first.SessionID)
	}
	if *again.CurrentIndex != 4 || again.Question.ID != "q4" {
		t.Errorf("rejoin position = %d (%v), want 4", *again.CurrentIndex, again.Question)
	}
	if *again.RemainingSeconds != 3510 {
		t.Errorf("remaining = %d, want 3510", *again.RemainingSeconds)
	}
}

func TestSaveAnswer(t *testing.T) {
	svc, clock := newSeeded(t)
	ctx := context.Background()
	sid := join(t, svc).SessionID

	snap, err := svc.SaveAnswer(ctx, sid, DemoStudentID, model.SubmitAnswerRequest{QuestionID: "q9", Answer: "x", CurrentIndex: 9})
	if err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	if !snap.QuestionStates[9].Answered || !snap.IsLastQuestion || snap.Question != nil {
		t.Errorf("save snapshot = %+v", snap)
	}

	snap, err = svc.SaveAnswer(ctx, sid, DemoStudentID, model.SubmitAnswerRequest{QuestionID: "q9", Answer: "  ", CurrentIndex: 9})
	if err != nil {
		t.Fatalf("clear answer: %v", err)
	}
	if snap.QuestionStates[9].Answered {
		t.Error("blank answer still counted as answered")
	}

	if _, err := svc.SaveAnswer(ctx, sid, DemoStudentID, model.SubmitAnswerRequest{QuestionID: "zz"}); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("unknown question = %v", err)
	}
	if _, err := svc.SaveAnswer(ctx, sid, 2, model.SubmitAnswerRequest{QuestionID: "q0"}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("other student = %v", err)
	}
	if _, err := svc.GetQuestion(ctx, sid, DemoStudentID, DemoQuestionCount); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("index past end = %v", err)
	}

	clock.Advance(DemoExamDuration)
	if _, err := svc.SaveAnswer(ctx, sid, DemoStudentID, model.SubmitAnswerRequest{QuestionID: "q0", Answer: "B"}); !errors.Is(err, ErrTimeExpired) {
		t.Errorf("save after deadline = %v", err)
	}
}

func TestSubmitGradesOnce(t *testing.T) {
	svc, _ := newSeeded(t)
	ctx := context.Background()
	sid := join(t, svc).SessionID

	answers := map[string]string{"q0": "B", "q1": "A", "q7": "C, A", "q8": "B", "q9": "karena"}
	for id, a := range answers {
		if _, err := svc.SaveAnswer(ctx, sid, DemoStudentID, model.SubmitAnswerRequest{QuestionID: id, Answer: a}); err != nil {
			t.Fatalf("SaveAnswer(%s): %v", id, err)
		}
	}

	report, err := svc.Submit(ctx, sid, DemoStudentID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// q0, q7 (order ignored) and the essay are correct.
	if report.CorrectAnswers != 3 || report.WrongAnswers != 7 || report.Score != 30 {
		t.Errorf("report = %+v", report)
	}
	if len(report.PerQuestionDetails) != DemoQuestionCount || !report.PerQuestionDetails[7].IsCorrect {
		t.Errorf("details = %+v", report.PerQuestionDetails)
	}

	again, err := svc.Submit(ctx, sid, DemoStudentID)
	if err != nil || again != report {
		t.Errorf("second submit = %p, %v; want cached report", again, err)
	}

	if _, err := svc.SaveAnswer(ctx, sid, DemoStudentID, model.SubmitAnswerRequest{QuestionID: "q1", Answer: "B"}); !errors.Is(err, ErrSessionSubmitted) {
		t.Errorf("save after submit = %v", err)
	}
	if _, err := svc.JoinExam(ctx, DemoExamID, DemoStudentID, DemoExamPassword); !errors.Is(err, ErrSessionSubmitted) {
		t.Errorf("rejoin after submit = %v", err)
	}
	if err := svc.VerifyActiveSession(ctx, sid, DemoStudentID); !errors.Is(err, ErrSessionSubmitted) {
		t.Errorf("verify after submit = %v", err)
	}
}

func TestRecordFocusLoss(t *testing.T) {
	svc, _ := newSeeded(t)
	ctx := context.Background()
	sid := join(t, svc).SessionID

	for want := 1; want <= 3; want++ {
		got, err := svc.RecordFocusLoss(ctx, sid, DemoStudentID)
		if err != nil || got != want {
			t.Fatalf("RecordFocusLoss = %d, %v; want %d", got, err, want)
		}
	}
	snap, _ := svc.GetQuestion(ctx, sid, DemoStudentID, 0)
	if *snap.FocusLossCount != 3 {
		t.Errorf("snapshot focus count = %d", *snap.FocusLossCount)
	}
}
