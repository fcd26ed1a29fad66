package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/checkpoint"
	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/response"
)

// fakeAPI is an in-memory exam server. Gates, when set, block the matching call until
// closed so tests can observe in-flight states.
type fakeAPI struct {
	mu sync.Mutex

	sessionID string
	examID    string
	password  string
	remaining int
	status    model.SessionStatus
	questions []model.Question
	saved     map[string]string
	focus     int

	calls map[string]int
	log   []string

	submitAnswerErr  error
	submitSessionErr error
	fetchErr         error
	focusErr         error
	result           json.RawMessage
	// omitAnswers leaves saved answer text out of snapshots; only the state list tells.
	omitAnswers bool

	fetchGate     chan struct{}
	fetchStarted  chan struct{}
	submitGate    chan struct{}
	submitStarted chan struct{}
	focusGate     chan struct{}
	focusStarted  chan struct{}
}

func newFakeAPI(total int) *fakeAPI {
	api := &fakeAPI{
		sessionID: "sess-1",
		examID:    "42",
		password:  "1234",
		remaining: 3600,
		status:    model.SessionStatusActive,
		saved:     make(map[string]string),
		calls:     make(map[string]int),
		result:    json.RawMessage(`{"correct_answers":7,"wrong_answers":3,"total_questions":10,"score":70}`),
	}
	for i := 0; i < total; i++ {
		q := model.Question{
			ID:     fmt.Sprintf("q%d", i),
			Index:  i,
			Type:   model.QuestionTypeSingleChoice,
			Prompt: fmt.Sprintf("Question %d", i+1),
			Options: []model.Option{
				{ID: "o1", Label: "A"}, {ID: "o2", Label: "B"},
				{ID: "o3", Label: "C"}, {ID: "o4", Label: "D"},
			},
		}
		api.questions = append(api.questions, q)
	}
	return api
}

func (f *fakeAPI) record(op string) {
	f.calls[op]++
	f.log = append(f.log, op)
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

// snapshot builds the server view at index. Callers hold f.mu.
func (f *fakeAPI) snapshot(index int) *model.Snapshot {
	q := f.questions[index]
	states := make([]model.QuestionState, len(f.questions))
	for i, qq := range f.questions {
		states[i] = model.QuestionState{QuestionID: qq.ID, Index: i, Answered: f.saved[qq.ID] != ""}
	}
	snap := &model.Snapshot{
		SessionID:        f.sessionID,
		ExamID:           f.examID,
		Status:           f.status,
		CurrentIndex:     model.IntPtr(index),
		TotalQuestions:   model.IntPtr(len(f.questions)),
		RemainingSeconds: model.IntPtr(f.remaining),
		Question:         &q,
		QuestionStates:   states,
		IsLastQuestion:   index == len(f.questions)-1,
	}
	if a, ok := f.saved[q.ID]; ok && !f.omitAnswers {
		snap.Answer = model.StringPtr(a)
	}
	return snap
}

func (f *fakeAPI) StartSession(ctx context.Context, examID, password string) (*model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	if examID != f.examID {
		return nil, examerr.Reject("start session", 404, response.ErrExamNotFound, "exam not found")
	}
	if password != f.password {
		return nil, examerr.Reject("start session", 403, response.ErrInvalidEntryToken, "wrong password")
	}
	return f.snapshot(0), nil
}

func (f *fakeAPI) FetchQuestion(ctx context.Context, sessionID string, index int) (*model.Snapshot, error) {
	f.mu.Lock()
	f.record(fmt.Sprintf("fetch:%d", index))
	started, gate, err := f.fetchStarted, f.fetchGate, f.fetchErr
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionID != f.sessionID {
		return nil, examerr.Reject("fetch question", 404, response.ErrSessionNotFound, "no session")
	}
	return f.snapshot(index), nil
}

func (f *fakeAPI) SubmitAnswer(ctx context.Context, sessionID string, req model.SubmitAnswerRequest) (*model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("answer:" + req.QuestionID)
	if f.submitAnswerErr != nil {
		return nil, f.submitAnswerErr
	}
	f.saved[req.QuestionID] = req.Answer
	snap := f.snapshot(req.CurrentIndex)
	snap.Question = nil
	snap.Answer = nil
	return snap, nil
}

func (f *fakeAPI) SubmitSession(ctx context.Context, sessionID string) (json.RawMessage, error) {
	f.mu.Lock()
	f.record("submit")
	started, gate := f.submitStarted, f.submitGate
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitSessionErr != nil {
		return nil, f.submitSessionErr
	}
	f.status = model.SessionStatusSubmitted
	return f.result, nil
}

func (f *fakeAPI) ReportFocusLoss(ctx context.Context, sessionID string) (*model.FocusLossReport, error) {
	f.mu.Lock()
	f.record("focus")
	started, gate := f.focusStarted, f.focusGate
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.focusErr != nil {
		return nil, f.focusErr
	}
	f.focus++
	return &model.FocusLossReport{SessionID: sessionID, FocusLossCount: f.focus}, nil
}

// fakeClock is a manually advanced wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testOptions(clock *fakeClock) Options {
	return Options{
		MinResubmitInterval:  2 * time.Second,
		CheckpointEveryTicks: 5,
		TickInterval:         time.Hour, // tests drive the timer by hand
		FocusReportTimeout:   time.Second,
		Now:                  clock.Now,
	}
}

// newTestController returns a controller on a fresh memory store.
func newTestController(t *testing.T, api *fakeAPI, clock *fakeClock) (*Controller, *checkpoint.MemoryStore) {
	t.Helper()
	store := checkpoint.NewMemoryStore()
	c := New(api, nil, store, testOptions(clock), zerolog.Nop())
	t.Cleanup(func() { c.Close(context.Background()) })
	return c, store
}

// startedController returns a controller with an ACTIVE session on exam 42.
func startedController(t *testing.T, api *fakeAPI, clock *fakeClock) *Controller {
	t.Helper()
	c, _ := newTestController(t, api, clock)
	if err := c.Start(context.Background(), "42", "1234"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}
