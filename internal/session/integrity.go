package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/examerr"
	"github.com/stemsi/exstem-client/internal/model"
)

// Visibility is a focus signal from the host environment.
type Visibility int

const (
	Visible Visibility = iota
	Hidden
)

func (v Visibility) String() string {
	if v == Hidden {
		return "hidden"
	}
	return "visible"
}

// IntegrityMonitor reports focus losses. One continuous loss is reported once: the
// monitor disarms on Hidden and re-arms on Visible. Reports are fire-and-forget; a
// failure is logged and never retried. Monitoring stops once the student is finished.
type IntegrityMonitor struct {
	active   atomic.Bool
	reporter FocusReporter
	store    *StateStore
	timeout  time.Duration
	wg       sync.WaitGroup
	log      zerolog.Logger
}

func NewIntegrityMonitor(reporter FocusReporter, store *StateStore, opts Options, log zerolog.Logger) *IntegrityMonitor {
	opts = opts.withDefaults()
	m := &IntegrityMonitor{
		reporter: reporter,
		store:    store,
		timeout:  opts.FocusReportTimeout,
		log:      log.With().Str("component", "integrity").Logger(),
	}
	m.active.Store(true)
	return m
}

// Active reports whether the next Hidden signal will be reported.
func (m *IntegrityMonitor) Active() bool {
	return m.active.Load()
}

// Observe handles one signal and reports whether a focus-loss report was dispatched.
func (m *IntegrityMonitor) Observe(v Visibility) bool {
	sess := m.store.Session()
	if sess.ID == "" || sess.Status == model.SessionStatusNotStarted || sess.Status.Finished() {
		return false
	}

	if v == Visible {
		m.active.Store(true)
		return false
	}
	if !m.active.CompareAndSwap(true, false) {
		return false
	}

	m.wg.Add(1)
	go m.report(sess.ID)
	return true
}

func (m *IntegrityMonitor) report(sessionID string) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	rep, err := m.reporter.ReportFocusLoss(ctx, sessionID)
	if err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("Focus loss report failed")
		return
	}
	if rep == nil {
		return
	}

	snap := &model.Snapshot{SessionID: sessionID, FocusLossCount: model.IntPtr(rep.FocusLossCount)}
	if err := m.store.ApplySnapshot(snap); err != nil && !errors.Is(err, examerr.ErrStaleSnapshot) {
		m.log.Warn().Err(err).Msg("Focus loss count not applied")
	}
	m.log.Info().Str("session_id", sessionID).Int("count", rep.FocusLossCount).Msg("Focus loss reported")
}

// rearm forgets an unfinished focus loss so the next Hidden signal is reported.
func (m *IntegrityMonitor) rearm() {
	m.active.Store(true)
}

// Run consumes signals until ctx is done or the channel closes.
func (m *IntegrityMonitor) Run(ctx context.Context, signals <-chan Visibility) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-signals:
			if !ok {
				return
			}
			m.Observe(v)
		}
	}
}

// Wait blocks until every dispatched report finished.
func (m *IntegrityMonitor) Wait() {
	m.wg.Wait()
}
