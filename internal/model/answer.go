package model

import (
	"errors"
	"strings"
)

// ErrNotChoiceQuestion is returned when an option operation targets an essay question.
var ErrNotChoiceQuestion = errors.New("question has no selectable options")

// ErrUnknownOption is returned when an option id does not belong to the question.
var ErrUnknownOption = errors.New("option does not belong to question")

// AnswerRecord is the client-side cache of one question's answer.
// Dirty is derived: the local text differs from what the server last confirmed.
type AnswerRecord struct {
	QuestionID     string `json:"question_id"`
	RawText        string `json:"raw_text"`
	LastSyncedText string `json:"last_synced_text"`
}

// Dirty reports whether the record holds an edit the server has not confirmed.
func (r AnswerRecord) Dirty() bool {
	return r.RawText != r.LastSyncedText
}

// Answered reports whether either the confirmed or the pending text is non-empty.
func (r AnswerRecord) Answered() bool {
	return strings.TrimSpace(r.LastSyncedText) != "" || (r.Dirty() && strings.TrimSpace(r.RawText) != "")
}

// EliminationMark is a scratch annotation striking out an option. Never sent to the server.
type EliminationMark struct {
	QuestionID string `json:"question_id"`
	OptionID   string `json:"option_id"`
}

// selectionSeparator joins selected option labels in a multi-choice answer.
const selectionSeparator = ","

// ParseSelection splits a serialized multi-choice answer into trimmed, non-empty labels.
func ParseSelection(raw string) []string {
	parts := strings.Split(raw, selectionSeparator)
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			labels = append(labels, trimmed)
		}
	}
	return labels
}

// JoinSelection serializes selected labels, dropping blanks after trimming.
func JoinSelection(labels []string) string {
	kept := make([]string, 0, len(labels))
	for _, l := range labels {
		if trimmed := strings.TrimSpace(l); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, selectionSeparator)
}

// ToggleSelection returns the serialized answer after the student clicks optionID.
//
// Multiple choice toggles the option's label in or out of the set; the result is
// ordered by the question's option order. Single choice replaces the answer.
// Answers carry label text, not option ids.
func ToggleSelection(q *Question, current, optionID string) (string, error) {
	if q.Type == QuestionTypeEssay {
		return "", ErrNotChoiceQuestion
	}
	opt, ok := q.Option(optionID)
	if !ok {
		return "", ErrUnknownOption
	}
	if q.Type == QuestionTypeSingleChoice {
		return JoinSelection([]string{opt.Label}), nil
	}

	selected := make(map[string]bool)
	for _, l := range ParseSelection(current) {
		selected[l] = true
	}
	label := strings.TrimSpace(opt.Label)
	selected[label] = !selected[label]

	ordered := make([]string, 0, len(selected))
	for _, o := range q.Options {
		l := strings.TrimSpace(o.Label)
		if selected[l] {
			ordered = append(ordered, l)
			delete(selected, l)
		}
	}
	// Labels the server stored that are no longer offered keep their relative order.
	for _, l := range ParseSelection(current) {
		if selected[l] {
			ordered = append(ordered, l)
			delete(selected, l)
		}
	}
	return JoinSelection(ordered), nil
}
