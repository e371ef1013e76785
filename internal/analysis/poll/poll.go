// Package poll waits for a remote job to reach a terminal state.
//
// A failed status read and a job that reports its own failure are kept on two
// separate channels: the first is retried until the attempt budget runs out, the
// second ends polling immediately.
package poll

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/pkg/redact"
)

// State is the normalized lifecycle state of a remote job.
type State int

const (
	StatePending State = iota
	StateProcessing
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateProcessing:
		return "PROCESSING"
	case StateDone:
		return "DONE"
	case StateError:
		return "ERROR"
	default:
		return "PENDING"
	}
}

// Terminal reports whether no further transition can occur from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Status is one observed job status: the raw remote string and its normalized state.
type Status struct {
	Raw   string
	State State
}

// ParseStatus normalizes a remote status string. Unknown values are treated as pending.
func ParseStatus(raw string) Status {
	raw = strings.TrimSpace(raw)
	st := Status{Raw: raw, State: StatePending}
	switch strings.ToLower(raw) {
	case "done", "completed", "finished":
		st.State = StateDone
	case "error", "failed":
		st.State = StateError
	case "processing", "in_progress", "running":
		st.State = StateProcessing
	}
	if st.Raw == "" {
		st.Raw = "pending"
	}
	return st
}

// StatusFunc performs one status read. A returned error means the read itself
// failed (transport, non-2xx, undecodable body), not that the job failed.
type StatusFunc func(ctx context.Context) (Status, error)

// Options configures the polling budget.
type Options struct {
	// Interval is the fixed delay before every status read.
	Interval time.Duration
	// MaxAttempts bounds the number of status reads, successful or not.
	MaxAttempts int

	// Engine names the caller in errors and logs.
	Engine string
	Logger *zap.Logger
}

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 60
)

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Poll reads status until the job is DONE, reports ERROR, or the attempt budget is spent.
//
// Returns the terminal DONE status, an *analysis.EngineError for a remote ERROR, an
// *analysis.TimeoutError carrying the last observed status, or the context error.
func Poll(ctx context.Context, read StatusFunc, opts Options) (Status, error) {
	opts = opts.withDefaults()

	last := Status{Raw: "pending", State: StatePending}
	timer := time.NewTimer(opts.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer.Reset(opts.Interval)
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-timer.C:
		}

		st, err := read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			opts.Logger.Warn("status check failed, retrying",
				zap.String("engine", opts.Engine),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", opts.MaxAttempts),
				zap.String("error", redact.Secrets(err.Error())),
			)
			continue
		}

		last = st
		opts.Logger.Debug("polling status",
			zap.String("engine", opts.Engine),
			zap.String("status", st.Raw),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", opts.MaxAttempts),
		)

		switch st.State {
		case StateDone:
			return st, nil
		case StateError:
			return st, &analysis.EngineError{
				Engine:  opts.Engine,
				Message: "Analysis failed on remote server (Status: Error).",
			}
		}
	}

	return last, &analysis.TimeoutError{
		Engine:     opts.Engine,
		LastStatus: last.Raw,
		Attempts:   opts.MaxAttempts,
	}
}
