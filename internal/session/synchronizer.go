package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/checkpoint"
	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/validator"
)

// Synchronizer keeps the per-question answer caches and pushes dirty answers to the
// server. A question is flushed at most once per MinResubmitInterval; the guard is kept
// both in memory and as a persisted flush stamp so it survives a reload.
type Synchronizer struct {
	mu           sync.Mutex
	records      map[string]*model.AnswerRecord
	stamps       map[string]time.Time // in-flight or recent flushes, by question
	eliminations map[model.EliminationMark]struct{}

	api      API
	store    *StateStore
	cp       *checkpoint.Checkpoints
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewSynchronizer wires a synchronizer to the store and registers it as the store's
// answer source.
func NewSynchronizer(api API, store *StateStore, cp *checkpoint.Checkpoints, opts Options, log zerolog.Logger) *Synchronizer {
	opts = opts.withDefaults()
	s := &Synchronizer{
		records:      make(map[string]*model.AnswerRecord),
		stamps:       make(map[string]time.Time),
		eliminations: make(map[model.EliminationMark]struct{}),
		api:          api,
		store:        store,
		cp:           cp,
		interval:     opts.MinResubmitInterval,
		now:          opts.Now,
		log:          log.With().Str("component", "synchronizer").Logger(),
	}
	store.SetAnswerSource(s)
	return s
}

// SeedConfirmed implements AnswerSource. A clean record follows the server; a dirty one
// keeps the student's pending edit.
func (s *Synchronizer) SeedConfirmed(questionID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[questionID]
	if !ok {
		s.records[questionID] = &model.AnswerRecord{QuestionID: questionID, RawText: text, LastSyncedText: text}
		return
	}
	if !rec.Dirty() {
		rec.RawText = text
	}
	rec.LastSyncedText = text
}

// Answered implements AnswerSource.
func (s *Synchronizer) Answered(questionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[questionID]
	return ok && rec.Answered()
}

// Answer returns a copy of the question's record.
func (s *Synchronizer) Answer(questionID string) (model.AnswerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[questionID]
	if !ok {
		return model.AnswerRecord{QuestionID: questionID}, false
	}
	return *rec, true
}

// Dirty reports whether the question holds an unconfirmed edit.
func (s *Synchronizer) Dirty(questionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[questionID]
	return ok && rec.Dirty()
}

// DirtyQuestionIDs lists every question with an unconfirmed edit, sorted.
func (s *Synchronizer) DirtyQuestionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, rec := range s.records {
		if rec.Dirty() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SetAnswer replaces the local text of a question. It never touches the network.
func (s *Synchronizer) SetAnswer(questionID, text string) error {
	if err := s.editable(questionID); err != nil {
		return err
	}
	s.mu.Lock()
	rec := s.record(questionID)
	rec.RawText = text
	s.mu.Unlock()

	s.store.Refresh()
	return nil
}

// ToggleOption selects or deselects a choice option and returns the new answer text.
func (s *Synchronizer) ToggleOption(questionID, optionID string) (string, error) {
	if err := s.editable(questionID); err != nil {
		return "", err
	}
	q, ok := s.store.QuestionByID(questionID)
	if !ok {
		return "", examerr.Validation("question_id", "is not loaded")
	}

	s.mu.Lock()
	rec := s.record(questionID)
	next, err := model.ToggleSelection(q, rec.RawText, optionID)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	rec.RawText = next
	s.mu.Unlock()

	s.store.Refresh()
	return next, nil
}

// ToggleElimination strikes out (or restores) an option. Marks stay on this device.
func (s *Synchronizer) ToggleElimination(questionID, optionID string) (bool, error) {
	q, ok := s.store.QuestionByID(questionID)
	if !ok {
		return false, examerr.Validation("question_id", "is not loaded")
	}
	if q.Type == model.QuestionTypeEssay {
		return false, model.ErrNotChoiceQuestion
	}
	if _, ok := q.Option(optionID); !ok {
		return false, model.ErrUnknownOption
	}

	mark := model.EliminationMark{QuestionID: questionID, OptionID: optionID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.eliminations[mark]; ok {
		delete(s.eliminations, mark)
		return false, nil
	}
	s.eliminations[mark] = struct{}{}
	return true, nil
}

// Eliminated returns the struck-out option ids of a question, sorted.
func (s *Synchronizer) Eliminated(questionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for m := range s.eliminations {
		if m.QuestionID == questionID {
			ids = append(ids, m.OptionID)
		}
	}
	sort.Strings(ids)
	return ids
}

// record returns the record of questionID, creating it. Callers hold s.mu.
func (s *Synchronizer) record(questionID string) *model.AnswerRecord {
	rec, ok := s.records[questionID]
	if !ok {
		rec = &model.AnswerRecord{QuestionID: questionID}
		s.records[questionID] = rec
	}
	return rec
}

func (s *Synchronizer) editable(questionID string) error {
	if questionID == "" {
		return examerr.Validation("question_id", "is required")
	}
	sess := s.store.Session()
	if sess.ID == "" {
		return examerr.ErrNoSession
	}
	if sess.Status.Terminal() {
		return examerr.ErrSessionClosed
	}
	return nil
}

// FlushCurrent flushes the question at the current index.
func (s *Synchronizer) FlushCurrent(ctx context.Context) error {
	q, ok := s.store.CurrentQuestion()
	if !ok {
		return nil
	}
	return s.Flush(ctx, q.ID)
}

// FlushPending flushes every dirty question. ErrTooSoon results are skipped;
// other failures are joined.
func (s *Synchronizer) FlushPending(ctx context.Context) error {
	var errs []error
	for _, qid := range s.DirtyQuestionIDs() {
		if err := s.Flush(ctx, qid); err != nil && !errors.Is(err, examerr.ErrTooSoon) {
			errs = append(errs, fmt.Errorf("flush %s: %w", qid, err))
		}
	}
	return errors.Join(errs...)
}

// Flush sends the question's answer if it is dirty. Clean questions return nil without
// a network call. A second flush of the same question inside the resubmit window fails
// with ErrTooSoon; a flush during terminal submit fails with ErrSubmissionInProgress.
func (s *Synchronizer) Flush(ctx context.Context, questionID string) error {
	sess := s.store.Session()
	if sess.ID == "" {
		return examerr.Validation("session_id", "is required")
	}
	if questionID == "" {
		return examerr.Validation("question_id", "is required")
	}
	if sess.Status.Terminal() {
		return examerr.ErrSessionClosed
	}

	submitting, err := s.cp.Submitting(ctx, sess.ID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read submit marker")
	}
	if submitting {
		return examerr.ErrSubmissionInProgress
	}

	if !s.Dirty(questionID) {
		return nil
	}

	now := s.now()
	if stamp, ok, err := s.cp.FlushStamp(ctx, sess.ID, questionID); err != nil {
		s.log.Warn().Err(err).Str("question_id", questionID).Msg("Failed to read flush stamp")
	} else if ok && now.Sub(stamp) < s.interval {
		return examerr.ErrTooSoon
	}

	s.mu.Lock()
	rec, ok := s.records[questionID]
	if !ok || !rec.Dirty() {
		s.mu.Unlock()
		return nil
	}
	if at, ok := s.stamps[questionID]; ok && now.Sub(at) < s.interval {
		s.mu.Unlock()
		return examerr.ErrTooSoon
	}
	s.stamps[questionID] = now
	text := rec.RawText
	s.mu.Unlock()

	if err := s.cp.SetFlushStamp(ctx, sess.ID, questionID, now); err != nil {
		s.log.Warn().Err(err).Str("question_id", questionID).Msg("Failed to persist flush stamp")
	}

	req := model.SubmitAnswerRequest{QuestionID: questionID, Answer: text, CurrentIndex: sess.CurrentIndex}
	if err := validator.Check(&req); err != nil {
		s.release(ctx, sess.ID, questionID)
		return err
	}

	snap, err := s.api.SubmitAnswer(ctx, sess.ID, req)
	if err != nil {
		s.release(ctx, sess.ID, questionID)
		s.log.Warn().Err(err).Str("question_id", questionID).Msg("Answer flush failed")
		return err
	}

	s.mu.Lock()
	s.record(questionID).LastSyncedText = text
	s.mu.Unlock()

	if err := s.cp.SetLastAnswer(ctx, sess.ID, questionID, text); err != nil {
		s.log.Warn().Err(err).Str("question_id", questionID).Msg("Failed to persist last answer")
	}

	s.store.Confirm(questionID, strings.TrimSpace(text) != "")
	if snap == nil {
		snap = &model.Snapshot{SessionID: sess.ID}
	}
	if err := s.store.ApplySnapshot(snap); err != nil {
		s.log.Warn().Err(err).Msg("Answer response not applied")
	}

	s.log.Debug().Str("session_id", sess.ID).Str("question_id", questionID).Msg("Answer flushed")
	return nil
}

// release clears the guard after a failed flush so the student can retry at once.
func (s *Synchronizer) release(ctx context.Context, sessionID, questionID string) {
	s.mu.Lock()
	delete(s.stamps, questionID)
	s.mu.Unlock()
	if err := s.cp.ClearFlushStamp(ctx, sessionID, questionID); err != nil {
		s.log.Warn().Err(err).Str("question_id", questionID).Msg("Failed to clear flush stamp")
	}
}

// Recover restores the last flushed text of a question from the checkpoint store when
// the server did not report one.
func (s *Synchronizer) Recover(ctx context.Context, sessionID, questionID string) error {
	s.mu.Lock()
	_, known := s.records[questionID]
	s.mu.Unlock()
	if known {
		return nil
	}

	text, ok, err := s.cp.LastAnswer(ctx, sessionID, questionID)
	if err != nil || !ok {
		return err
	}
	s.SeedConfirmed(questionID, text)
	s.store.Refresh()
	return nil
}

// Reset drops every answer cache, local and persisted.
func (s *Synchronizer) Reset(ctx context.Context, sessionID string) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.records = make(map[string]*model.AnswerRecord)
	s.stamps = make(map[string]time.Time)
	s.eliminations = make(map[model.EliminationMark]struct{})
	s.mu.Unlock()

	if sessionID == "" {
		return
	}
	if err := s.cp.ClearAnswers(ctx, sessionID, ids...); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to clear answer caches")
	}
}
