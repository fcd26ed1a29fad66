package model

import (
	"errors"
	"testing"
)

func multiChoice() *Question {
	return &Question{
		ID:   "q1",
		Type: QuestionTypeMultipleChoice,
		Options: []Option{
			{ID: "a", Label: "A"}, {ID: "b", Label: "B"},
			{ID: "c", Label: "C"}, {ID: "d", Label: "D"},
		},
	}
}

func TestToggleSelectionTwiceRemoves(t *testing.T) {
	q := multiChoice()

	once, err := ToggleSelection(q, "C", "a")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if once != "A,C" {
		t.Fatalf("after first toggle = %q, want A,C", once)
	}
	twice, err := ToggleSelection(q, once, "a")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if twice != "C" {
		t.Errorf("after second toggle = %q, want C", twice)
	}
}

func TestToggleSelectionNormalizesStoredText(t *testing.T) {
	q := multiChoice()
	got, err := ToggleSelection(q, " D , ,B,Z", "a")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	// Option order first, unknown stored labels after.
	if got != "A,B,D,Z" {
		t.Errorf("got %q, want A,B,D,Z", got)
	}
}

func TestToggleSelectionSingleChoiceReplaces(t *testing.T) {
	q := multiChoice()
	q.Type = QuestionTypeSingleChoice
	got, err := ToggleSelection(q, "A", "c")
	if err != nil || got != "C" {
		t.Errorf("got %q, %v; want C", got, err)
	}
}

func TestToggleSelectionErrors(t *testing.T) {
	q := multiChoice()
	if _, err := ToggleSelection(q, "", "x"); !errors.Is(err, ErrUnknownOption) {
		t.Errorf("unknown option = %v", err)
	}
	q.Type = QuestionTypeEssay
	if _, err := ToggleSelection(q, "", "a"); !errors.Is(err, ErrNotChoiceQuestion) {
		t.Errorf("essay = %v", err)
	}
}

func TestAnswerRecordState(t *testing.T) {
	cases := []struct {
		name     string
		rec      AnswerRecord
		dirty    bool
		answered bool
	}{
		{"empty", AnswerRecord{}, false, false},
		{"pending edit", AnswerRecord{RawText: "B"}, true, true},
		{"synced", AnswerRecord{RawText: "B", LastSyncedText: "B"}, false, true},
		{"cleared locally", AnswerRecord{RawText: "", LastSyncedText: "B"}, true, true},
		{"blank edit", AnswerRecord{RawText: "   "}, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.Dirty(); got != tc.dirty {
				t.Errorf("Dirty() = %v, want %v", got, tc.dirty)
			}
			if got := tc.rec.Answered(); got != tc.answered {
				t.Errorf("Answered() = %v, want %v", got, tc.answered)
			}
		})
	}
}
