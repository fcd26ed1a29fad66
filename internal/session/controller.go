package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/checkpoint"
	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/validator"
)

// View is a read-only picture of the session for rendering.
type View struct {
	Session          model.ExamSession
	Question         *model.Question
	Answer           model.AnswerRecord
	Eliminated       []string
	States           []model.QuestionState
	RemainingSeconds *int
	Submitting       bool
	Navigating       bool
	Result           *model.Result
}

// Controller is the public surface of an exam session. It owns the components and the
// background tasks (timer loop, visibility subscription) they need.
type Controller struct {
	api API
	cp  *checkpoint.Checkpoints

	store     *StateStore
	sync      *Synchronizer
	nav       *Navigator
	timer     *Timer
	monitor   *IntegrityMonitor
	finalizer *Finalizer

	mu     sync.Mutex
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	log zerolog.Logger
}

// New builds a controller. focus may be nil, in which case api must implement
// FocusReporter.
func New(api API, focus FocusReporter, store checkpoint.Store, opts Options, log zerolog.Logger) *Controller {
	opts = opts.withDefaults()
	if focus == nil {
		focus, _ = api.(FocusReporter)
	}
	log = log.With().Str("module", "session").Logger()

	cp := checkpoint.New(store)
	st := NewStateStore(log)
	syn := NewSynchronizer(api, st, cp, opts, log)
	timer := NewTimer(cp, opts, log)
	fin := NewFinalizer(api, st, syn, timer, cp, opts, log)

	c := &Controller{
		api:       api,
		cp:        cp,
		store:     st,
		sync:      syn,
		nav:       NewNavigator(api, st, syn, cp, log),
		timer:     timer,
		monitor:   NewIntegrityMonitor(focus, st, opts, log),
		finalizer: fin,
		log:       log,
	}

	st.OnApply(func(snap model.Snapshot) {
		if snap.RemainingSeconds != nil {
			timer.Reconcile(*snap.RemainingSeconds)
		}
	})
	timer.OnExpire(func(ctx context.Context) error {
		_, err := fin.Submit(ctx)
		return err
	})
	return c
}

// Start opens a session for examID. Success moves the session to ACTIVE and starts the
// countdown.
func (c *Controller) Start(ctx context.Context, examID, password string) error {
	req := model.StartSessionRequest{ExamID: examID, Password: password}
	if err := validator.Check(&req); err != nil {
		return err
	}

	snap, err := c.api.StartSession(ctx, examID, password)
	if err != nil {
		return err
	}
	if snap == nil || snap.SessionID == "" {
		return examerr.Validation("session_id", "missing in start response")
	}

	c.bind(snap.SessionID)
	if snap.Status == "" || snap.Status == model.SessionStatusNotStarted {
		snap.Status = model.SessionStatusActive
	}
	if snap.ExamID == "" {
		snap.ExamID = examID
	}
	if err := c.store.ApplySnapshot(snap); err != nil {
		return err
	}

	sess := c.store.Session()
	if _, ok := c.store.CurrentQuestion(); !ok && sess.TotalQuestions > 0 {
		first, err := c.api.FetchQuestion(ctx, sess.ID, sess.CurrentIndex)
		if err != nil {
			return err
		}
		if err := c.store.ApplySnapshot(first); err != nil {
			return err
		}
	}

	if err := c.cp.SetCurrentSession(ctx, sess.ID); err != nil {
		c.log.Warn().Err(err).Msg("Failed to checkpoint session id")
	}
	if err := c.cp.SetCurrentIndex(ctx, sess.ID, sess.CurrentIndex); err != nil {
		c.log.Warn().Err(err).Msg("Failed to checkpoint current index")
	}

	c.log.Info().Str("session_id", sess.ID).Str("exam_id", sess.ExamID).Int("total", sess.TotalQuestions).Msg("Exam session started")
	c.startTasks()
	return nil
}

// Resume reattaches to the session recorded in the checkpoint store after a reload.
// The countdown is seeded from the last timer checkpoint until the server answers.
func (c *Controller) Resume(ctx context.Context) error {
	sid, ok, err := c.cp.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if !ok || sid == "" {
		return examerr.ErrNoSession
	}
	index, _, err := c.cp.CurrentIndex(ctx, sid)
	if err != nil {
		c.log.Warn().Err(err).Msg("Current index checkpoint unreadable, starting at 0")
		index = 0
	}

	c.bind(sid)
	if _, err := c.timer.Restore(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Timer checkpoint unreadable")
	}

	snap, err := c.api.FetchQuestion(ctx, sid, index)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &model.Snapshot{SessionID: sid}
	}
	if snap.CurrentIndex == nil {
		snap.CurrentIndex = model.IntPtr(index)
	}
	if snap.Status == "" {
		snap.Status = model.SessionStatusActive
	}
	if err := c.store.ApplySnapshot(snap); err != nil {
		return err
	}

	// A marker left by an interrupted submit would block every flush.
	if !c.store.Session().Status.Terminal() {
		if err := c.cp.ClearSubmitting(ctx, sid); err != nil {
			c.log.Warn().Err(err).Msg("Failed to clear submit marker")
		}
	}
	if q, ok := c.store.CurrentQuestion(); ok && snap.Answer == nil {
		if err := c.sync.Recover(ctx, sid, q.ID); err != nil {
			c.log.Warn().Err(err).Msg("Last answer checkpoint unreadable")
		}
	}

	c.log.Info().Str("session_id", sid).Int("index", c.store.Session().CurrentIndex).Msg("Exam session resumed")
	c.startTasks()
	return nil
}

// bind prepares every component for sessionID, dropping state of any other session.
func (c *Controller) bind(sessionID string) {
	c.stopTasks()
	if c.store.Session().ID != sessionID {
		c.store.Reset(sessionID)
		c.sync.Reset(context.Background(), "")
		c.finalizer.reset()
		c.monitor.rearm()
	}
	c.timer.Bind(sessionID)
}

func (c *Controller) startTasks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil || c.store.Session().Status.Terminal() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		c.timer.Run(ctx)
	}()
}

func (c *Controller) stopTasks() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.tasks.Wait()
}

// Watch feeds host visibility signals to the integrity monitor until the channel
// closes or the controller is closed. It does nothing before Start or Resume.
func (c *Controller) Watch(signals <-chan Visibility) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	prev := c.cancel
	c.cancel = func() {
		cancel()
		prev()
	}
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		c.monitor.Run(ctx, signals)
	}()
}

// SetVisibility reports a single visibility change.
func (c *Controller) SetVisibility(v Visibility) bool {
	return c.monitor.Observe(v)
}

func (c *Controller) GoTo(ctx context.Context, index int) error {
	return c.nav.GoTo(ctx, index)
}

// Next moves forward; on the last question it submits the session and returns the result.
func (c *Controller) Next(ctx context.Context) (*model.Result, error) {
	atLast, err := c.nav.Next(ctx)
	if err != nil || !atLast {
		return nil, err
	}
	return c.Submit(ctx)
}

func (c *Controller) Prev(ctx context.Context) error {
	return c.nav.Prev(ctx)
}

// SetAnswer edits the answer of the current question.
func (c *Controller) SetAnswer(text string) error {
	q, ok := c.store.CurrentQuestion()
	if !ok {
		return examerr.ErrNoSession
	}
	return c.sync.SetAnswer(q.ID, text)
}

// ToggleOption selects or deselects an option of the current question.
func (c *Controller) ToggleOption(optionID string) (string, error) {
	q, ok := c.store.CurrentQuestion()
	if !ok {
		return "", examerr.ErrNoSession
	}
	return c.sync.ToggleOption(q.ID, optionID)
}

// ToggleElimination strikes out an option of the current question.
func (c *Controller) ToggleElimination(optionID string) (bool, error) {
	q, ok := c.store.CurrentQuestion()
	if !ok {
		return false, examerr.ErrNoSession
	}
	return c.sync.ToggleElimination(q.ID, optionID)
}

// ToggleReviewFlag flags the current question for review.
func (c *Controller) ToggleReviewFlag() (bool, error) {
	return c.store.ToggleReviewFlag(c.store.Session().CurrentIndex)
}

// Flush saves the current answer now.
func (c *Controller) Flush(ctx context.Context) error {
	return c.sync.FlushCurrent(ctx)
}

// FlushPending saves every unsent answer.
func (c *Controller) FlushPending(ctx context.Context) error {
	return c.sync.FlushPending(ctx)
}

// Submit ends the session. Calling it again after success returns the same result.
func (c *Controller) Submit(ctx context.Context) (*model.Result, error) {
	return c.finalizer.Submit(ctx)
}

// View returns what the UI needs to render the current question.
func (c *Controller) View() View {
	sess := c.store.Session()
	v := View{
		Session:    sess,
		States:     c.store.States(),
		Navigating: c.nav.InFlight(),
		Submitting: c.finalizer.InFlight(),
	}
	if q, ok := c.store.CurrentQuestion(); ok {
		v.Question = q
		v.Answer, _ = c.sync.Answer(q.ID)
		v.Eliminated = c.sync.Eliminated(q.ID)
	}
	if r, ok := c.timer.Remaining(); ok {
		v.RemainingSeconds = &r
	}
	v.Result, _ = c.finalizer.Result()
	return v
}

// Close flushes what it can, stops background work and waits for in-flight reports.
func (c *Controller) Close(ctx context.Context) error {
	var err error
	if sess := c.store.Session(); sess.ID != "" && !sess.Status.Terminal() {
		if ferr := c.sync.FlushPending(ctx); ferr != nil && !errors.Is(ferr, examerr.ErrSubmissionInProgress) {
			err = ferr
		}
	}
	c.stopTasks()
	c.monitor.Wait()
	return err
}

// Forget drops every checkpoint of a submitted session so the next launch starts fresh.
func (c *Controller) Forget(ctx context.Context) error {
	sess := c.store.Session()
	if sess.ID == "" {
		return examerr.ErrNoSession
	}
	if !sess.Status.Terminal() {
		return examerr.Validation("status", "session not submitted yet")
	}
	return c.cp.ForgetSession(ctx, sess.ID)
}
