// Package session implements the exam session controller: the state machine that keeps a
// student's local quiz view consistent with the server of record.
//
// Components and what they own:
//
//	StateStore        the ExamSession aggregate, the sparse question list and question states
//	Synchronizer      per-question answer caches, dirty tracking and the resubmit guard
//	Navigator         serialized flush-then-fetch transitions between questions
//	Timer             the local countdown, reconciled from server values, and the auto-submit latch
//	IntegrityMonitor  focus-loss detection and fire-and-forget reporting
//	Finalizer         the exactly-once terminal submit and result normalization
//
// Controller wires them together and owns their background tasks.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/model"
)

// API is the Remote Session API as the controller consumes it.
type API interface {
	StartSession(ctx context.Context, examID, password string) (*model.Snapshot, error)
	FetchQuestion(ctx context.Context, sessionID string, index int) (*model.Snapshot, error)
	SubmitAnswer(ctx context.Context, sessionID string, req model.SubmitAnswerRequest) (*model.Snapshot, error)
	// SubmitSession returns the raw result payload; its layout varies between servers.
	SubmitSession(ctx context.Context, sessionID string) (json.RawMessage, error)
}

// FocusReporter delivers focus-loss reports.
type FocusReporter interface {
	ReportFocusLoss(ctx context.Context, sessionID string) (*model.FocusLossReport, error)
}

// Options tunes the controller. Zero values fall back to the defaults below.
type Options struct {
	// MinResubmitInterval is the per-question window in which a second flush is rejected.
	MinResubmitInterval time.Duration
	// CheckpointEveryTicks is the number of local ticks between timer checkpoints.
	CheckpointEveryTicks int
	TickInterval         time.Duration
	// FocusReportTimeout bounds a single focus-loss report.
	FocusReportTimeout time.Duration
	// Now is the wall clock; tests replace it.
	Now func() time.Time
}

const (
	defaultMinResubmitInterval  = 2 * time.Second
	defaultCheckpointEveryTicks = 30
	defaultTickInterval         = time.Second
	defaultFocusReportTimeout   = 5 * time.Second
)

// OptionsFromConfig maps the client configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinResubmitInterval:  cfg.MinResubmitInterval,
		CheckpointEveryTicks: cfg.CheckpointEveryTicks,
		TickInterval:         cfg.TickInterval,
		FocusReportTimeout:   cfg.FocusReportTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.MinResubmitInterval <= 0 {
		o.MinResubmitInterval = defaultMinResubmitInterval
	}
	if o.CheckpointEveryTicks <= 0 {
		o.CheckpointEveryTicks = defaultCheckpointEveryTicks
	}
	if o.TickInterval <= 0 {
		o.TickInterval = defaultTickInterval
	}
	if o.FocusReportTimeout <= 0 {
		o.FocusReportTimeout = defaultFocusReportTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
