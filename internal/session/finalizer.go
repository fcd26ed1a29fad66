package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/checkpoint"
	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/model"
)

// Finalizer performs the terminal submit. It runs at most once per session: a submit on
// an already SUBMITTED session returns the cached result without touching the network,
// and a submit while another is running fails with ErrSubmissionInProgress.
type Finalizer struct {
	api      API
	store    *StateStore
	sync     *Synchronizer
	timer    *Timer
	cp       *checkpoint.Checkpoints
	inFlight atomic.Bool
	now      func() time.Time

	mu     sync.Mutex
	result *model.Result

	log zerolog.Logger
}

func NewFinalizer(api API, store *StateStore, sync *Synchronizer, timer *Timer, cp *checkpoint.Checkpoints, opts Options, log zerolog.Logger) *Finalizer {
	opts = opts.withDefaults()
	return &Finalizer{
		api:   api,
		store: store,
		sync:  sync,
		timer: timer,
		cp:    cp,
		now:   opts.Now,
		log:   log.With().Str("component", "finalizer").Logger(),
	}
}

// Result returns the normalized result of the last successful submit.
func (f *Finalizer) Result() (*model.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.result != nil
}

// InFlight reports whether a submit is running.
func (f *Finalizer) InFlight() bool {
	return f.inFlight.Load()
}

// Submit flushes what it can, then submits the session.
//
// Flushes are best effort: the current question first, then every other dirty one.
// Their failures never block the submit. The persisted submit marker suppresses further
// flushes until the call returns. On success the status becomes SUBMITTED, even when the
// result payload cannot be normalized; in that case the returned error wraps
// model.ErrUnrecognizedResult. On failure the status is untouched.
func (f *Finalizer) Submit(ctx context.Context) (*model.Result, error) {
	sess := f.store.Session()
	if sess.ID == "" {
		return nil, examerr.ErrNoSession
	}
	if sess.Status == model.SessionStatusSubmitted {
		res, _ := f.Result()
		return res, nil
	}

	if !f.inFlight.CompareAndSwap(false, true) {
		return nil, examerr.ErrSubmissionInProgress
	}
	defer f.inFlight.Store(false)

	if err := f.sync.FlushCurrent(ctx); err != nil {
		f.log.Warn().Err(err).Msg("Current answer not flushed before submit")
	}
	if err := f.sync.FlushPending(ctx); err != nil {
		f.log.Warn().Err(err).Msg("Pending answers not flushed before submit")
	}

	if err := f.cp.SetSubmitting(ctx, sess.ID, f.now()); err != nil {
		f.log.Warn().Err(err).Msg("Failed to persist submit marker")
	}

	raw, err := f.api.SubmitSession(ctx, sess.ID)
	if err != nil {
		if cerr := f.cp.ClearSubmitting(ctx, sess.ID); cerr != nil {
			f.log.Warn().Err(cerr).Msg("Failed to clear submit marker")
		}
		f.log.Error().Err(err).Str("session_id", sess.ID).Msg("Session submit failed")
		return nil, err
	}

	res, perr := model.ParseResult(raw)
	if perr != nil {
		f.log.Warn().Err(perr).Str("session_id", sess.ID).Msg("Submit result not recognized")
		res = nil
	}

	if err := f.store.ApplySnapshot(&model.Snapshot{SessionID: sess.ID, Status: model.SessionStatusSubmitted}); err != nil {
		f.log.Warn().Err(err).Msg("Submitted status not applied")
	}
	f.timer.Stop()

	f.mu.Lock()
	f.result = res
	f.mu.Unlock()

	if err := f.cp.ClearSubmitting(ctx, sess.ID); err != nil {
		f.log.Warn().Err(err).Msg("Failed to clear submit marker")
	}
	f.sync.Reset(ctx, sess.ID)

	f.log.Info().Str("session_id", sess.ID).Msg("Session submitted")
	if perr != nil {
		return nil, fmt.Errorf("session submitted: %w", perr)
	}
	return res, nil
}

// reset forgets the cached result when the controller binds a new session.
func (f *Finalizer) reset() {
	f.mu.Lock()
	f.result = nil
	f.mu.Unlock()
}
