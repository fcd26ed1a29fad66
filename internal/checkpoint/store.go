// Package checkpoint persists the small amount of client state that must survive a
// reload: the session id, the current index, timer checkpoints, submit markers and
// per-question answer caches.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Store is a key-value store that outlives the controller process.
type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key Key) (string, bool, error)
	Set(ctx context.Context, key Key, value string) error
	Delete(ctx context.Context, keys ...Key) error
	// DeleteSession removes every key scoped to sessionID.
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

// TimerCheckpoint is the last local timer value and when it was written.
type TimerCheckpoint struct {
	Seconds int       `json:"seconds"`
	At      time.Time `json:"at"`
}

// Estimate returns the remaining seconds at now, assuming the clock kept running.
func (t TimerCheckpoint) Estimate(now time.Time) int {
	elapsed := int(now.Sub(t.At) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := t.Seconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Checkpoints gives typed access to a Store.
type Checkpoints struct {
	store Store
}

// New wraps store.
func New(store Store) *Checkpoints {
	return &Checkpoints{store: store}
}

// Store returns the underlying store.
func (c *Checkpoints) Store() Store {
	return c.store
}

// CurrentSession returns the id of the session the client last worked on.
func (c *Checkpoints) CurrentSession(ctx context.Context) (string, bool, error) {
	return c.store.Get(ctx, CurrentSessionKey())
}

func (c *Checkpoints) SetCurrentSession(ctx context.Context, sessionID string) error {
	return c.store.Set(ctx, CurrentSessionKey(), sessionID)
}

func (c *Checkpoints) CurrentIndex(ctx context.Context, sessionID string) (int, bool, error) {
	v, ok, err := c.store.Get(ctx, CurrentIndexKey(sessionID))
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("parse current index %q: %w", v, err)
	}
	return n, true, nil
}

func (c *Checkpoints) SetCurrentIndex(ctx context.Context, sessionID string, index int) error {
	return c.store.Set(ctx, CurrentIndexKey(sessionID), strconv.Itoa(index))
}

func (c *Checkpoints) Timer(ctx context.Context, sessionID string) (TimerCheckpoint, bool, error) {
	v, ok, err := c.store.Get(ctx, TimerKey(sessionID))
	if err != nil || !ok {
		return TimerCheckpoint{}, false, err
	}
	var tc TimerCheckpoint
	if err := json.Unmarshal([]byte(v), &tc); err != nil {
		return TimerCheckpoint{}, false, fmt.Errorf("decode timer checkpoint: %w", err)
	}
	return tc, true, nil
}

func (c *Checkpoints) SetTimer(ctx context.Context, sessionID string, tc TimerCheckpoint) error {
	data, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("encode timer checkpoint: %w", err)
	}
	return c.store.Set(ctx, TimerKey(sessionID), string(data))
}

// Submitting reports whether a terminal submit is marked in progress.
func (c *Checkpoints) Submitting(ctx context.Context, sessionID string) (bool, error) {
	_, ok, err := c.store.Get(ctx, SubmittingKey(sessionID))
	return ok, err
}

func (c *Checkpoints) SetSubmitting(ctx context.Context, sessionID string, at time.Time) error {
	return c.store.Set(ctx, SubmittingKey(sessionID), strconv.FormatInt(at.UnixMilli(), 10))
}

func (c *Checkpoints) ClearSubmitting(ctx context.Context, sessionID string) error {
	return c.store.Delete(ctx, SubmittingKey(sessionID))
}

func (c *Checkpoints) LastAnswer(ctx context.Context, sessionID, questionID string) (string, bool, error) {
	return c.store.Get(ctx, LastAnswerKey(sessionID, questionID))
}

func (c *Checkpoints) SetLastAnswer(ctx context.Context, sessionID, questionID, text string) error {
	return c.store.Set(ctx, LastAnswerKey(sessionID, questionID), text)
}

// FlushStamp returns when the question was last flushed, if a flush is still guarded.
func (c *Checkpoints) FlushStamp(ctx context.Context, sessionID, questionID string) (time.Time, bool, error) {
	v, ok, err := c.store.Get(ctx, FlushStampKey(sessionID, questionID))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse flush stamp %q: %w", v, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (c *Checkpoints) SetFlushStamp(ctx context.Context, sessionID, questionID string, at time.Time) error {
	return c.store.Set(ctx, FlushStampKey(sessionID, questionID), strconv.FormatInt(at.UnixMilli(), 10))
}

func (c *Checkpoints) ClearFlushStamp(ctx context.Context, sessionID, questionID string) error {
	return c.store.Delete(ctx, FlushStampKey(sessionID, questionID))
}

// ClearAnswers drops the per-question caches of the given questions.
func (c *Checkpoints) ClearAnswers(ctx context.Context, sessionID string, questionIDs ...string) error {
	keys := make([]Key, 0, len(questionIDs)*2)
	for _, qid := range questionIDs {
		keys = append(keys, LastAnswerKey(sessionID, qid), FlushStampKey(sessionID, qid))
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.Delete(ctx, keys...)
}

// ForgetSession removes everything scoped to sessionID and unsets it as current.
func (c *Checkpoints) ForgetSession(ctx context.Context, sessionID string) error {
	if err := c.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	current, ok, err := c.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if ok && current == sessionID {
		return c.store.Delete(ctx, CurrentSessionKey())
	}
	return nil
}
