package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/palantir/compute-module-originality/pkg/redact"
)

// ValidationError reports caller input that violates an engine precondition.
// It is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil || strings.TrimSpace(e.Reason) == "" {
		return "invalid input"
	}
	return e.Reason
}

// Invalidf returns a ValidationError with a formatted reason.
func Invalidf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// EngineError reports that a backend failed or returned an unusable response.
//
// Message is the backend's own message where one was available.
type EngineError struct {
	Engine     string
	Message    string
	StatusCode int

	// Transient marks failures that a batch runner may retry (429, 5xx, network timeouts).
	Transient bool

	Err error
}

func (e *EngineError) Error() string {
	if e == nil {
		return "engine error"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "engine error"
	}
	return msg
}

func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TimeoutError reports that an async job did not reach a terminal state within budget.
type TimeoutError struct {
	Engine     string
	LastStatus string
	Attempts   int
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return "analysis timed out"
	}
	last := strings.TrimSpace(e.LastStatus)
	if last == "" {
		last = "unknown"
	}
	return fmt.Sprintf("Analysis timed out. Last status: %s. The service might be busy or the proxy is caching responses.", last)
}

// IsTransient reports whether err is worth retrying at the batch level.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var ee *EngineError
	if errors.As(err, &ee) && ee.Transient {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// TransientStatus reports whether an HTTP status code should be treated as transient.
func TransientStatus(code int) bool {
	return code == 429 || code/100 == 5
}

// TransportError wraps a failed round trip. The context error is returned as-is once
// the caller has given up, and network timeouts are flagged Transient.
func TransportError(ctx context.Context, engine string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	ee := &EngineError{
		Engine:  engine,
		Message: redact.Secrets(err.Error()),
		Err:     err,
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		ee.Transient = true
	}
	return ee
}
