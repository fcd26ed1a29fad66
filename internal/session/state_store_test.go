package session

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/model"
)

// stubAnswers is a fixed AnswerSource.
type stubAnswers map[string]string

func (s stubAnswers) SeedConfirmed(questionID, text string) { s[questionID] = text }
func (s stubAnswers) Answered(questionID string) bool      { return s[questionID] != "" }

func TestApplySnapshotGrowsPlaceholders(t *testing.T) {
	st := NewStateStore(zerolog.Nop())
	err := st.ApplySnapshot(&model.Snapshot{
		SessionID:      "s1",
		Status:         model.SessionStatusActive,
		CurrentIndex:   model.IntPtr(2),
		TotalQuestions: model.IntPtr(5),
		Question:       &model.Question{ID: "q2", Type: model.QuestionTypeEssay},
	})
	if err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	if got := len(st.States()); got != 5 {
		t.Fatalf("states = %d, want 5", got)
	}
	if _, ok := st.Question(0); ok {
		t.Error("question 0 should be a placeholder")
	}
	q, ok := st.Question(2)
	if !ok || q.ID != "q2" || q.Index != 2 {
		t.Errorf("question 2 = %+v, %v", q, ok)
	}
	if _, ok := st.QuestionByID("q2"); !ok {
		t.Error("q2 not found by id")
	}
}

func TestApplySnapshotRejectsOtherSession(t *testing.T) {
	st := NewStateStore(zerolog.Nop())
	st.ApplySnapshot(&model.Snapshot{SessionID: "s1", TotalQuestions: model.IntPtr(3)})

	err := st.ApplySnapshot(&model.Snapshot{SessionID: "s2", TotalQuestions: model.IntPtr(9)})
	if !errors.Is(err, examerr.ErrStaleSnapshot) {
		t.Fatalf("err = %v, want ErrStaleSnapshot", err)
	}
	if got := st.Session().TotalQuestions; got != 3 {
		t.Errorf("total = %d, stale snapshot was applied", got)
	}
}

func TestStatusNeverMovesBackward(t *testing.T) {
	st := NewStateStore(zerolog.Nop())
	st.ApplySnapshot(&model.Snapshot{SessionID: "s1", Status: model.SessionStatusSubmitted})
	st.ApplySnapshot(&model.Snapshot{SessionID: "s1", Status: model.SessionStatusActive})

	if got := st.Session().Status; got != model.SessionStatusSubmitted {
		t.Errorf("status = %s, want SUBMITTED", got)
	}
}

func TestServerStatesReplaceLocal(t *testing.T) {
	st := NewStateStore(zerolog.Nop())
	st.ApplySnapshot(&model.Snapshot{
		SessionID:      "s1",
		Status:         model.SessionStatusActive,
		TotalQuestions: model.IntPtr(3),
		QuestionStates: []model.QuestionState{
			{QuestionID: "q2", Index: 2, Answered: true},
			{QuestionID: "q0", Index: 0, ReviewFlag: true},
			{QuestionID: "q1", Index: 1},
		},
	})

	states := st.States()
	if states[0].QuestionID != "q0" || states[2].QuestionID != "q2" {
		t.Fatalf("states not ordered by index: %+v", states)
	}
	if !states[0].ReviewFlag || !states[2].Answered {
		t.Errorf("server flags lost: %+v", states)
	}
}

func TestDerivedStatesAndCompletion(t *testing.T) {
	answers := stubAnswers{}
	st := NewStateStore(zerolog.Nop())
	st.SetAnswerSource(answers)

	st.ApplySnapshot(&model.Snapshot{
		SessionID:      "s1",
		Status:         model.SessionStatusActive,
		CurrentIndex:   model.IntPtr(0),
		TotalQuestions: model.IntPtr(2),
		Question:       &model.Question{ID: "q0"},
		Answer:         model.StringPtr("A"),
	})
	if !st.States()[0].Answered {
		t.Fatal("seeded answer should mark question 0 answered")
	}
	if st.Session().Status != model.SessionStatusActive {
		t.Fatal("completed with a question unanswered")
	}

	st.ApplySnapshot(&model.Snapshot{
		SessionID:    "s1",
		CurrentIndex: model.IntPtr(1),
		Question:     &model.Question{ID: "q1"},
	})
	answers["q1"] = "B"
	st.Refresh()
	if got := st.Session().Status; got != model.SessionStatusCompletedLocal {
		t.Errorf("status = %s, want COMPLETED_LOCAL", got)
	}
}

func TestListenersSeeAppliedSnapshot(t *testing.T) {
	st := NewStateStore(zerolog.Nop())
	var seen []int
	st.OnApply(func(snap model.Snapshot) {
		if snap.RemainingSeconds != nil {
			seen = append(seen, *snap.RemainingSeconds)
		}
	})

	st.ApplySnapshot(&model.Snapshot{SessionID: "s1", RemainingSeconds: model.IntPtr(60)})
	st.ApplySnapshot(&model.Snapshot{SessionID: "s1"})
	st.ApplySnapshot(&model.Snapshot{SessionID: "other", RemainingSeconds: model.IntPtr(5)})

	if len(seen) != 1 || seen[0] != 60 {
		t.Errorf("listener saw %v, want [60]", seen)
	}
}

func TestReviewFlagOverridesServer(t *testing.T) {
	st := NewStateStore(zerolog.Nop())
	if _, err := st.ToggleReviewFlag(0); !errors.Is(err, examerr.ErrNoSession) {
		t.Fatalf("toggle without session = %v", err)
	}

	st.ApplySnapshot(&model.Snapshot{
		SessionID:      "s1",
		TotalQuestions: model.IntPtr(2),
		QuestionStates: []model.QuestionState{{Index: 0, ReviewFlag: true}, {Index: 1}},
	})
	on, err := st.ToggleReviewFlag(0)
	if err != nil || on {
		t.Fatalf("toggle = %v, %v; want cleared", on, err)
	}
	if st.States()[0].ReviewFlag {
		t.Error("local clear should hide the server flag")
	}
	var ve *examerr.ValidationError
	if _, err := st.ToggleReviewFlag(5); !errors.As(err, &ve) {
		t.Errorf("out of range = %v, want ValidationError", err)
	}
}

func TestServerAnsweredSurvivesLocalEdits(t *testing.T) {
	answers := stubAnswers{}
	st := NewStateStore(zerolog.Nop())
	st.SetAnswerSource(answers)

	// The server says q0 is answered but does not send its text.
	st.ApplySnapshot(&model.Snapshot{
		SessionID:      "s1",
		Status:         model.SessionStatusActive,
		CurrentIndex:   model.IntPtr(0),
		TotalQuestions: model.IntPtr(2),
		Question:       &model.Question{ID: "q0"},
		QuestionStates: []model.QuestionState{
			{QuestionID: "q0", Index: 0, Answered: true},
			{QuestionID: "q1", Index: 1},
		},
	})
	st.ApplySnapshot(&model.Snapshot{
		SessionID:    "s1",
		CurrentIndex: model.IntPtr(1),
		Question:     &model.Question{ID: "q1"},
	})
	if !st.States()[0].Answered {
		t.Fatal("server-confirmed q0 lost after fetching q1")
	}

	answers["q1"] = "B"
	st.Refresh()
	if !st.States()[0].Answered {
		t.Error("local edit on q1 cleared the server's answered flag on q0")
	}
	if got := st.Session().Status; got != model.SessionStatusCompletedLocal {
		t.Errorf("status = %s, want COMPLETED_LOCAL", got)
	}
}

func TestResetPinsSession(t *testing.T) {
	st := NewStateStore(zerolog.Nop())
	st.ApplySnapshot(&model.Snapshot{SessionID: "s1", TotalQuestions: model.IntPtr(3)})

	st.Reset("s2")
	if err := st.ApplySnapshot(&model.Snapshot{SessionID: "s1", FocusLossCount: model.IntPtr(4)}); !errors.Is(err, examerr.ErrStaleSnapshot) {
		t.Fatalf("late s1 snapshot = %v, want ErrStaleSnapshot", err)
	}
	if err := st.ApplySnapshot(&model.Snapshot{SessionID: "s2", TotalQuestions: model.IntPtr(5)}); err != nil {
		t.Fatalf("s2 snapshot: %v", err)
	}
	sess := st.Session()
	if sess.ID != "s2" || sess.TotalQuestions != 5 || sess.FocusLossCount != 0 {
		t.Errorf("session = %+v", sess)
	}
}
