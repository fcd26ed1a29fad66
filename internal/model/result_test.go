package model

import (
	"errors"
	"testing"
)

func TestParseResultShapes(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		shape   ResultShape
		correct int
		wrong   int
		total   int
		score   float64
	}{
		{
			name:  "flat",
			raw:   `{"correct_answers":8,"wrong_answers":2,"total_questions":10,"score":80}`,
			shape: ResultShapeFlat, correct: 8, wrong: 2, total: 10, score: 80,
		},
		{
			name:  "flat camel case without total",
			raw:   `{"correctAnswers":3,"wrongAnswers":1,"finalScore":75.5}`,
			shape: ResultShapeFlat, correct: 3, wrong: 1, total: 4, score: 75.5,
		},
		{
			name:  "nested",
			raw:   `{"message":"ok","result":{"correct":5,"wrong":5,"total":10,"score":50}}`,
			shape: ResultShapeNested, correct: 5, wrong: 5, total: 10, score: 50,
		},
		{
			name: "derived",
			raw: `{"details":[
				{"question_id":"q1","is_correct":true},
				{"question_id":"q2","isCorrect":false},
				{"question_id":"q3","correct":true},
				{"question_id":"q4","is_correct":true}]}`,
			shape: ResultShapeDerived, correct: 3, wrong: 1, total: 4, score: 75,
		},
		{
			name:  "null fields fall through to nested",
			raw:   `{"score":null,"result":{"correct_answers":1,"wrong_answers":0,"score":100}}`,
			shape: ResultShapeNested, correct: 1, wrong: 0, total: 1, score: 100,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ParseResult([]byte(tc.raw))
			if err != nil {
				t.Fatalf("ParseResult: %v", err)
			}
			if res.Shape != tc.shape {
				t.Errorf("shape = %s, want %s", res.Shape, tc.shape)
			}
			if res.CorrectAnswers != tc.correct || res.WrongAnswers != tc.wrong || res.TotalQuestions != tc.total {
				t.Errorf("counts = %d/%d/%d, want %d/%d/%d",
					res.CorrectAnswers, res.WrongAnswers, res.TotalQuestions, tc.correct, tc.wrong, tc.total)
			}
			if res.Score != tc.score {
				t.Errorf("score = %v, want %v", res.Score, tc.score)
			}
		})
	}
}

func TestParseResultKeepsDetails(t *testing.T) {
	raw := `{"correct_answers":1,"wrong_answers":1,"score":50,
		"per_question_details":[{"question_id":"q1","answer":"A","correct_answer":"A","is_correct":true},
		{"questionId":"q2","student_answer":"B","correctAnswer":"C","isCorrect":false}]}`
	res, err := ParseResult([]byte(raw))
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if len(res.PerQuestionDetails) != 2 {
		t.Fatalf("details = %d, want 2", len(res.PerQuestionDetails))
	}
	d := res.PerQuestionDetails[1]
	if d.QuestionID != "q2" || d.Answer != "B" || d.CorrectAnswer != "C" || d.IsCorrect {
		t.Errorf("detail = %+v", d)
	}
}

func TestParseResultUnrecognized(t *testing.T) {
	for _, raw := range []string{`{"message":"submitted"}`, `[1,2]`, `not json`, `{"result":"done"}`} {
		if _, err := ParseResult([]byte(raw)); !errors.Is(err, ErrUnrecognizedResult) {
			t.Errorf("ParseResult(%s) = %v, want ErrUnrecognizedResult", raw, err)
		}
	}
}
