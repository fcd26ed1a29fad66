package service

import (
	"fmt"
	"time"

	"github.com/stemsi/exstem-client/internal/model"
)

// Demo fixtures served by a fresh sandbox.
const (
	DemoStudentID       = 1
	DemoStudentNISN     = "0051234567"
	DemoStudentPassword = "siswa123"
	DemoExamID          = "42"
	DemoExamPassword    = "1234"
	DemoExamDuration    = time.Hour
	DemoQuestionCount   = 10
)

// SeedDemo registers the demo student and the demo exam.
func SeedDemo(auth *AuthService, sessions *ExamSessionService) error {
	if err := auth.RegisterStudent(DemoStudentID, DemoStudentNISN, "Siswa Demo", DemoStudentPassword); err != nil {
		return fmt.Errorf("seed student: %w", err)
	}
	if err := sessions.AddExam(DemoExamID, "Matematika Dasar", DemoExamPassword, DemoExamDuration, DemoQuestions()); err != nil {
		return fmt.Errorf("seed exam: %w", err)
	}
	return nil
}

// DemoQuestions returns the demo question set: single choice first, then two
// multiple-choice questions and a closing essay.
func DemoQuestions() []SandboxQuestion {
	qs := make([]SandboxQuestion, 0, DemoQuestionCount)
	for i := 0; i < DemoQuestionCount-3; i++ {
		qs = append(qs, SandboxQuestion{
			Question: model.Question{
				ID:      fmt.Sprintf("q%d", i),
				Type:    model.QuestionTypeSingleChoice,
				Prompt:  fmt.Sprintf("%d + %d = ?", i+1, i+2),
				Options: letterOptions(),
			},
			Correct: "B",
		})
	}
	qs = append(qs,
		SandboxQuestion{
			Question: model.Question{
				ID:      "q7",
				Type:    model.QuestionTypeMultipleChoice,
				Prompt:  "Pilih semua bilangan prima.",
				Options: letterOptions(),
			},
			Correct: "A,C",
		},
		SandboxQuestion{
			Question: model.Question{
				ID:      "q8",
				Type:    model.QuestionTypeMultipleChoice,
				Prompt:  "Pilih semua bilangan genap.",
				Options: letterOptions(),
			},
			Correct: "B,D",
		},
		SandboxQuestion{
			Question: model.Question{
				ID:     "q9",
				Type:   model.QuestionTypeEssay,
				Prompt: "Jelaskan langkah penyelesaian soal nomor 1.",
			},
		},
	)
	return qs
}

func letterOptions() []model.Option {
	return []model.Option{
		{ID: "o1", Label: "A"},
		{ID: "o2", Label: "B"},
		{ID: "o3", Label: "C"},
		{ID: "o4", Label: "D"},
	}
}
