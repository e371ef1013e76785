// Package redact scrubs credentials from error and log strings before they leave the process.
package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" and "Basic <credentials>" authorization values.
	authHeaderRe = regexp.MustCompile(`(?i)\b(Bearer|Basic)\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|gemini[_-]?api[_-]?key|token)\b\s*[:=]\s*[^\s"'&]+`)

	// user:password@ segments embedded in URLs.
	urlUserInfoRe = regexp.MustCompile(`(?i)(https?://)[^/\s:@]+:[^/\s@]+@`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
//
// It is safe to call on any message, including user-provided inputs and upstream
// error strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = authHeaderRe.ReplaceAllString(out, "$1 <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = urlUserInfoRe.ReplaceAllString(out, "$1<redacted>@")
	return strings.TrimSpace(out)
}
