package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ResultShape names which payload layout a submit-session response was parsed from.
type ResultShape string

const (
	// ResultShapeFlat: counts and score are top-level fields.
	ResultShapeFlat ResultShape = "flat"
	// ResultShapeNested: counts and score live under a "result" object.
	ResultShapeNested ResultShape = "nested"
	// ResultShapeDerived: only a per-question list is present; counts are computed from it.
	ResultShapeDerived ResultShape = "derived"
)

// ErrUnrecognizedResult is returned when no known result layout matches.
var ErrUnrecognizedResult = errors.New("unrecognized result payload")

// QuestionDetail is one graded question of a submitted exam.
type QuestionDetail struct {
	QuestionID    string `json:"question_id"`
	Answer        string `json:"answer,omitempty"`
	CorrectAnswer string `json:"correct_answer,omitempty"`
	IsCorrect     bool   `json:"is_correct"`
}

// Result is the canonical outcome of a terminal submit.
type Result struct {
	Shape              ResultShape      `json:"shape"`
	CorrectAnswers     int              `json:"correct_answers"`
	WrongAnswers       int              `json:"wrong_answers"`
	TotalQuestions     int              `json:"total_questions"`
	Score              float64          `json:"score"`
	PerQuestionDetails []QuestionDetail `json:"per_question_details,omitempty"`
}

// Field aliases accepted for each canonical field, in lookup order.
var (
	correctKeys = []string{"correct_answers", "correctAnswers", "correct"}
	wrongKeys   = []string{"wrong_answers", "wrongAnswers", "wrong", "incorrect"}
	totalKeys   = []string{"total_questions", "totalQuestions", "total"}
	scoreKeys   = []string{"score", "final_score", "finalScore"}
	detailKeys  = []string{"per_question_details", "perQuestionDetails", "details", "answers"}
	nestedKeys  = []string{"result"}
)

// ParseResult normalizes a submit-session payload. Layouts are tried in a fixed order
// and the first one that matches wins:
//
//  1. flat top-level count/score fields
//  2. a nested "result" object carrying the same fields
//  3. counts derived from a per-question details list
func ParseResult(raw []byte) (*Result, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedResult, err)
	}

	if res, ok := parseFlat(top); ok {
		res.Shape = ResultShapeFlat
		return res, nil
	}

	if nestedRaw, ok := lookup(top, nestedKeys); ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(nestedRaw, &nested); err == nil {
			if res, ok := parseFlat(nested); ok {
				res.Shape = ResultShapeNested
				return res, nil
			}
		}
	}

	if details, ok := parseDetails(top); ok {
		res := &Result{Shape: ResultShapeDerived, PerQuestionDetails: details}
		for _, d := range details {
			if d.IsCorrect {
				res.CorrectAnswers++
			} else {
				res.WrongAnswers++
			}
		}
		res.TotalQuestions = len(details)
		if res.TotalQuestions > 0 {
			res.Score = float64(res.CorrectAnswers) / float64(res.TotalQuestions) * 100
		}
		return res, nil
	}

	return nil, ErrUnrecognizedResult
}

// parseFlat matches when at least one count or score field is present at this level.
func parseFlat(obj map[string]json.RawMessage) (*Result, bool) {
	correct, hasCorrect := lookupNumber(obj, correctKeys)
	wrong, hasWrong := lookupNumber(obj, wrongKeys)
	score, hasScore := lookupNumber(obj, scoreKeys)
	if !hasCorrect && !hasWrong && !hasScore {
		return nil, false
	}

	res := &Result{
		CorrectAnswers: int(correct),
		WrongAnswers:   int(wrong),
		Score:          score,
	}
	if total, ok := lookupNumber(obj, totalKeys); ok {
		res.TotalQuestions = int(total)
	} else {
		res.TotalQuestions = res.CorrectAnswers + res.WrongAnswers
	}
	if details, ok := parseDetails(obj); ok {
		res.PerQuestionDetails = details
	}
	return res, true
}

func parseDetails(obj map[string]json.RawMessage) ([]QuestionDetail, bool) {
	raw, ok := lookup(obj, detailKeys)
	if !ok {
		return nil, false
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	details := make([]QuestionDetail, 0, len(items))
	for _, item := range items {
		var d QuestionDetail
		d.QuestionID, _ = lookupString(item, []string{"question_id", "questionId", "id"})
		d.Answer, _ = lookupString(item, []string{"answer", "student_answer", "studentAnswer"})
		d.CorrectAnswer, _ = lookupString(item, []string{"correct_answer", "correctAnswer"})
		d.IsCorrect, _ = lookupBool(item, []string{"is_correct", "isCorrect", "correct"})
		details = append(details, d)
	}
	return details, true
}

func lookup(obj map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func lookupNumber(obj map[string]json.RawMessage, keys []string) (float64, bool) {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || string(v) == "null" {
			continue
		}
		var n float64
		if err := json.Unmarshal(v, &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

func lookupString(obj map[string]json.RawMessage, keys []string) (string, bool) {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || string(v) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s, true
		}
	}
	return "", false
}

func lookupBool(obj map[string]json.RawMessage, keys []string) (bool, bool) {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || string(v) == "null" {
			continue
		}
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			return b, true
		}
	}
	return false, false
}
