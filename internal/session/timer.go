package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/checkpoint"
)

// Timer is the local countdown. The server value always wins: Reconcile overwrites
// whatever the local clock computed. Reaching zero fires the expiry callback once per
// session, however many ticks follow.
type Timer struct {
	mu        sync.Mutex
	remaining *int // nil until the server (or a checkpoint) reports a value
	ticks     int
	stopped   bool
	sessionID string

	fired    atomic.Bool
	onExpire func(ctx context.Context) error

	every    int
	interval time.Duration
	cp       *checkpoint.Checkpoints
	now      func() time.Time
	log      zerolog.Logger
}

func NewTimer(cp *checkpoint.Checkpoints, opts Options, log zerolog.Logger) *Timer {
	opts = opts.withDefaults()
	return &Timer{
		every:    opts.CheckpointEveryTicks,
		interval: opts.TickInterval,
		cp:       cp,
		now:      opts.Now,
		log:      log.With().Str("component", "timer").Logger(),
	}
}

// OnExpire sets the callback invoked when the countdown reaches zero.
func (t *Timer) OnExpire(fn func(ctx context.Context) error) {
	t.mu.Lock()
	t.onExpire = fn
	t.mu.Unlock()
}

// Bind resets the timer for a new session.
func (t *Timer) Bind(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionID == sessionID {
		return
	}
	t.sessionID = sessionID
	t.remaining = nil
	t.ticks = 0
	t.stopped = false
	t.fired.Store(false)
}

// Reconcile replaces the local value with the server's.
func (t *Timer) Reconcile(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	t.mu.Lock()
	t.remaining = &seconds
	t.mu.Unlock()
}

// Restore seeds the timer from the last checkpoint, advanced by the wall time since it
// was written. It only applies while no server value is known.
func (t *Timer) Restore(ctx context.Context) (bool, error) {
	t.mu.Lock()
	sid, known := t.sessionID, t.remaining != nil
	t.mu.Unlock()
	if sid == "" || known {
		return false, nil
	}

	tc, ok, err := t.cp.Timer(ctx, sid)
	if err != nil || !ok {
		return false, err
	}
	estimate := tc.Estimate(t.now())

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remaining != nil {
		return false, nil
	}
	t.remaining = &estimate
	return true, nil
}

// Remaining returns the current value, if known.
func (t *Timer) Remaining() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remaining == nil {
		return 0, false
	}
	return *t.remaining, true
}

// Fired reports whether the expiry callback ran.
func (t *Timer) Fired() bool {
	return t.fired.Load()
}

// Stop freezes the countdown. Reconcile still updates the displayed value.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Tick advances the countdown by one second. Every CheckpointEveryTicks ticks the value
// is persisted. At zero the expiry callback runs synchronously.
func (t *Timer) Tick(ctx context.Context) {
	t.mu.Lock()
	if t.stopped || t.remaining == nil {
		t.mu.Unlock()
		return
	}
	persist := false
	if *t.remaining > 0 {
		*t.remaining--
		t.ticks++
		persist = t.ticks%t.every == 0
	}
	value := *t.remaining
	sid := t.sessionID
	t.mu.Unlock()

	if persist && sid != "" {
		tc := checkpoint.TimerCheckpoint{Seconds: value, At: t.now()}
		if err := t.cp.SetTimer(ctx, sid, tc); err != nil {
			t.log.Warn().Err(err).Msg("Failed to checkpoint timer")
		}
	}

	if value == 0 {
		t.expire(ctx)
	}
}

func (t *Timer) expire(ctx context.Context) {
	if !t.fired.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	fn := t.onExpire
	sid := t.sessionID
	t.mu.Unlock()

	t.log.Info().Str("session_id", sid).Msg("Time is up, submitting session")
	if fn == nil {
		return
	}
	if err := fn(ctx); err != nil {
		t.log.Error().Err(err).Str("session_id", sid).Msg("Auto-submit failed, manual submit required")
	}
}

// Run ticks every TickInterval until ctx is done.
func (t *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}
