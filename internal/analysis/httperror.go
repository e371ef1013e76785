package analysis

import (
	"encoding/json"
	"strings"

	"github.com/palantir/compute-module-originality/pkg/redact"
)

// errorEnvelope covers the error body shapes the backends return.
// Real responses may include additional fields; they are ignored.
type errorEnvelope struct {
	Message string `json:"message"`
	// Error is a string on some APIs and a boolean flag on others.
	Error  json.RawMessage `json:"error"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// EnvelopeMessage extracts a structured error message from a response body, if any.
func EnvelopeMessage(body []byte) string {
	var env errorEnvelope
	if len(body) == 0 || json.Unmarshal(body, &env) != nil {
		return ""
	}
	if m := strings.TrimSpace(env.Message); m != "" {
		return redact.Secrets(m)
	}
	var errStr string
	if len(env.Error) > 0 && json.Unmarshal(env.Error, &errStr) == nil {
		if m := strings.TrimSpace(errStr); m != "" {
			return redact.Secrets(m)
		}
	}
	for _, e := range env.Errors {
		if m := strings.TrimSpace(e.Message); m != "" {
			return redact.Secrets(m)
		}
	}
	return ""
}

// Snippet returns a small, redacted, single-line hint of a response body.
func Snippet(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	// Keep this small: response bodies can echo submitted text.
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
