package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/checkpoint"
)

func newTestTimer(t *testing.T, clock *fakeClock) (*Timer, *checkpoint.Checkpoints, *atomic.Int32) {
	t.Helper()
	cp := checkpoint.New(checkpoint.NewMemoryStore())
	tm := NewTimer(cp, testOptions(clock), zerolog.Nop())
	var fired atomic.Int32
	tm.OnExpire(func(context.Context) error {
		fired.Add(1)
		return nil
	})
	tm.Bind("s1")
	return tm, cp, &fired
}

func TestTimerIdleUntilKnown(t *testing.T) {
	tm, _, fired := newTestTimer(t, newFakeClock())
	tm.Tick(context.Background())
	if _, ok := tm.Remaining(); ok {
		t.Error("remaining known before any reconcile")
	}
	if fired.Load() != 0 {
		t.Error("expired without a value")
	}
}

func TestTimerClampsAtZeroAndFiresOnce(t *testing.T) {
	ctx := context.Background()
	tm, _, fired := newTestTimer(t, newFakeClock())
	tm.Reconcile(1)

	for i := 0; i < 4; i++ {
		tm.Tick(ctx)
	}
	if r, _ := tm.Remaining(); r != 0 {
		t.Errorf("remaining = %d, want 0", r)
	}
	if got := fired.Load(); got != 1 {
		t.Errorf("fired = %d, want 1", got)
	}

	// A server reporting zero again does not re-arm the latch.
	tm.Reconcile(0)
	tm.Tick(ctx)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired = %d after reconcile, want 1", got)
	}
}

func TestTimerFiresWhenServerReportsZero(t *testing.T) {
	tm, _, fired := newTestTimer(t, newFakeClock())
	tm.Reconcile(-4)
	if r, _ := tm.Remaining(); r != 0 {
		t.Fatalf("remaining = %d, want 0", r)
	}
	tm.Tick(context.Background())
	if fired.Load() != 1 {
		t.Error("latch did not fire for a server-reported zero")
	}
	if !tm.Fired() {
		t.Error("Fired() = false")
	}
}

func TestTimerStopFreezes(t *testing.T) {
	tm, _, fired := newTestTimer(t, newFakeClock())
	tm.Reconcile(1)
	tm.Stop()
	tm.Tick(context.Background())
	if r, _ := tm.Remaining(); r != 1 {
		t.Errorf("remaining = %d, want 1", r)
	}
	if fired.Load() != 0 {
		t.Error("stopped timer fired")
	}
}

func TestTimerCheckpointsAndRestores(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	tm, cp, _ := newTestTimer(t, clock)
	tm.Reconcile(100)

	for i := 0; i < 4; i++ {
		tm.Tick(ctx)
	}
	if _, ok, _ := cp.Timer(ctx, "s1"); ok {
		t.Fatal("checkpoint written before the interval")
	}
	tm.Tick(ctx)
	tc, ok, err := cp.Timer(ctx, "s1")
	if err != nil || !ok || tc.Seconds != 95 {
		t.Fatalf("checkpoint = %+v, %v, %v; want 95", tc, ok, err)
	}

	clock.Advance(30 * time.Second)
	restored := NewTimer(cp, testOptions(clock), zerolog.Nop())
	restored.Bind("s1")
	if ok, err := restored.Restore(ctx); !ok || err != nil {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	if r, _ := restored.Remaining(); r != 65 {
		t.Errorf("restored = %d, want 65", r)
	}

	// The server value wins over the estimate.
	restored.Reconcile(70)
	if r, _ := restored.Remaining(); r != 70 {
		t.Errorf("reconciled = %d, want 70", r)
	}
}

func TestTimerRunStopsWithContext(t *testing.T) {
	clock := newFakeClock()
	opts := testOptions(clock)
	opts.TickInterval = time.Millisecond
	tm := NewTimer(checkpoint.New(checkpoint.NewMemoryStore()), opts, zerolog.Nop())
	tm.Bind("s1")
	tm.Reconcile(1000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tm.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if r, _ := tm.Remaining(); r < 1000 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timer never ticked")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}
