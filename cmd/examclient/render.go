package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/session"
)

func render(v session.View) {
	fmt.Println(strings.Repeat("─", 60))

	if v.Result != nil {
		fmt.Printf("Ujian selesai. Benar %d, salah %d dari %d soal. Nilai %.1f\n",
			v.Result.CorrectAnswers, v.Result.WrongAnswers, v.Result.TotalQuestions, v.Result.Score)
		return
	}
	if v.Session.Status.Terminal() {
		fmt.Println("Ujian sudah dikumpulkan.")
		return
	}

	clock := "--:--"
	if v.RemainingSeconds != nil {
		clock = fmt.Sprintf("%02d:%02d", *v.RemainingSeconds/60, *v.RemainingSeconds%60)
	}
	fmt.Printf("Sisa waktu %s   %s\n", clock, grid(v.States, v.Session.CurrentIndex))

	q := v.Question
	if q == nil {
		return
	}
	fmt.Printf("Soal %d/%d (%s)\n%s\n", q.Index+1, v.Session.TotalQuestions, q.Type, q.Prompt)

	selected := make(map[string]bool)
	for _, l := range model.ParseSelection(v.Answer.RawText) {
		selected[l] = true
	}
	struck := make(map[string]bool)
	for _, id := range v.Eliminated {
		struck[id] = true
	}
	for _, o := range q.Options {
		mark := " "
		if selected[strings.TrimSpace(o.Label)] {
			mark = "x"
		}
		label := o.Label
		if struck[o.ID] {
			label = "~" + label + "~"
		}
		fmt.Printf("  [%s] %s  %s\n", mark, o.ID, label)
	}
	if q.Type == model.QuestionTypeEssay {
		fmt.Printf("  Jawaban: %s\n", v.Answer.RawText)
	}
	if v.Answer.Dirty() {
		fmt.Println("  (belum tersimpan)")
	}
}

// grid renders the navigation strip: answered ■, flagged ?, current in brackets.
func grid(states []model.QuestionState, current int) string {
	var b strings.Builder
	for _, s := range states {
		cell := "□"
		if s.Answered {
			cell = "■"
		}
		if s.ReviewFlag {
			cell = "?"
		}
		if s.Index == current {
			cell = "[" + cell + "]"
		}
		b.WriteString(cell)
	}
	return b.String()
}

// describe turns controller errors into a message for the student.
func describe(err error) string {
	var ve *examerr.ValidationError
	switch {
	case errors.As(err, &ve):
		return fmt.Sprintf("masukan tidak valid (%s %s)", ve.Field, ve.Reason)
	case errors.Is(err, examerr.ErrTransitionInFlight):
		return "tunggu, soal sedang dimuat"
	case errors.Is(err, examerr.ErrSubmissionInProgress):
		return "ujian sedang dikumpulkan"
	case errors.Is(err, examerr.ErrSessionClosed):
		return "ujian sudah dikumpulkan"
	case errors.Is(err, examerr.ErrNoSession):
		return "belum ada sesi ujian"
	}

	switch examerr.CauseOf(err) {
	case examerr.CauseCredentials:
		return "login tidak valid atau kedaluwarsa, silakan login ulang"
	case examerr.CauseSessionElsewhere:
		return "ujian sudah dibuka di perangkat lain"
	case examerr.CauseNotEnrolled:
		return "anda tidak terdaftar pada ujian ini"
	case examerr.CauseExamNotFound:
		return "ujian tidak ditemukan"
	case examerr.CausePasswordIncorrect:
		return "kata sandi ujian salah"
	case examerr.CauseTimeExpired:
		return "waktu ujian sudah habis"
	case examerr.CauseSessionClosed:
		return "ujian sudah dikumpulkan"
	}

	if examerr.IsRetryable(err) {
		return "koneksi bermasalah, coba lagi (" + err.Error() + ")"
	}
	return err.Error()
}
