package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/checkpoint"
	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/model"
)

// Navigator moves between questions. Transitions are serialized: a second request
// while one is pending fails with ErrTransitionInFlight instead of queueing.
type Navigator struct {
	api      API
	store    *StateStore
	sync     *Synchronizer
	cp       *checkpoint.Checkpoints
	inFlight atomic.Bool
	log      zerolog.Logger
}

func NewNavigator(api API, store *StateStore, sync *Synchronizer, cp *checkpoint.Checkpoints, log zerolog.Logger) *Navigator {
	return &Navigator{
		api:   api,
		store: store,
		sync:  sync,
		cp:    cp,
		log:   log.With().Str("component", "navigator").Logger(),
	}
}

// InFlight reports whether a transition is pending.
func (n *Navigator) InFlight() bool {
	return n.inFlight.Load()
}

// GoTo flushes the current answer and fetches the question at target, clamped to the
// valid range. Moving to the current index is a no-op.
//
// A flush rejected as too soon leaves the answer dirty and navigation proceeds; the
// edit is retried by the next transition. Any other failure to flush the current
// question aborts the transition with the current index unchanged.
func (n *Navigator) GoTo(ctx context.Context, target int) error {
	sess := n.store.Session()
	if sess.ID == "" {
		return examerr.ErrNoSession
	}
	if sess.Status.Terminal() {
		return examerr.ErrSessionClosed
	}
	if sess.TotalQuestions <= 0 {
		return examerr.Validation("total_questions", "is unknown")
	}

	target = clampIndex(target, sess.TotalQuestions)
	if target == sess.CurrentIndex {
		if _, ok := n.store.Question(target); ok {
			return nil
		}
	}

	if !n.inFlight.CompareAndSwap(false, true) {
		return examerr.ErrTransitionInFlight
	}
	defer n.inFlight.Store(false)

	if err := n.sync.FlushCurrent(ctx); err != nil {
		if !errors.Is(err, examerr.ErrTooSoon) {
			return fmt.Errorf("flush before navigation: %w", err)
		}
		n.log.Debug().Int("from", sess.CurrentIndex).Int("to", target).Msg("Leaving question with an unsent edit")
	}
	// Edits left behind by earlier transitions go out once their window has passed.
	if err := n.sync.FlushPending(ctx); err != nil {
		n.log.Warn().Err(err).Msg("Earlier answers not flushed")
	}

	snap, err := n.api.FetchQuestion(ctx, sess.ID, target)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &model.Snapshot{SessionID: sess.ID}
	}
	if snap.CurrentIndex == nil {
		snap.CurrentIndex = model.IntPtr(target)
	}
	if err := n.store.ApplySnapshot(snap); err != nil {
		return err
	}

	if err := n.cp.SetCurrentIndex(ctx, sess.ID, n.store.Session().CurrentIndex); err != nil {
		n.log.Warn().Err(err).Msg("Failed to checkpoint current index")
	}
	return nil
}

// Next moves forward one question. On the last question it reports atLast instead of
// moving; the caller decides whether to submit.
func (n *Navigator) Next(ctx context.Context) (atLast bool, err error) {
	sess := n.store.Session()
	if sess.ID == "" {
		return false, examerr.ErrNoSession
	}
	if sess.CurrentIndex >= sess.LastIndex() || n.store.IsLastQuestion() {
		return true, nil
	}
	return false, n.GoTo(ctx, sess.CurrentIndex+1)
}

// Prev moves back one question. On the first question it is a no-op.
func (n *Navigator) Prev(ctx context.Context) error {
	sess := n.store.Session()
	if sess.ID == "" {
		return examerr.ErrNoSession
	}
	if sess.CurrentIndex == 0 {
		return nil
	}
	return n.GoTo(ctx, sess.CurrentIndex-1)
}
