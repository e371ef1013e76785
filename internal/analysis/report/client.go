package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/internal/analysis/poll"
)

// client speaks the report API through the forwarding proxy.
type client struct {
	base  *url.URL
	proxy string
	user  string
	key   string
	http  *http.Client
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("report API base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse report API base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("report API base URL must include a host (got %q)", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// target builds the upstream URL for path, with an optional cache-buster.
func (c *client) target(path string, cb int64) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	if cb > 0 {
		u.RawQuery = "cb=" + strconv.FormatInt(cb, 10)
	}
	return u.String()
}

// proxied wraps target in the proxy URL: the whole target is query-escaped and appended.
func (c *client) proxied(target string) string {
	return c.proxy + url.QueryEscape(target)
}

func (c *client) do(ctx context.Context, method, target string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.proxied(target), body)
	if err != nil {
		return 0, nil, err
	}
	req.SetBasicAuth(c.user, c.key)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, analysis.TransportError(ctx, engineName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, analysis.TransportError(ctx, engineName, err)
	}
	return resp.StatusCode, b, nil
}

// create submits text and returns the new job.
func (c *client) create(ctx context.Context, text string, now time.Time) (Job, error) {
	form := url.Values{}
	form.Set("text", text)

	code, b, err := c.do(ctx, http.MethodPost, c.target("reports/create", 0), strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return Job{}, err
	}
	if code/100 != 2 {
		return Job{}, &analysis.EngineError{
			Engine:     engineName,
			Message:    fmt.Sprintf("API Error (%d): %s", code, analysis.Snippet(b)),
			StatusCode: code,
			Transient:  analysis.TransientStatus(code),
		}
	}

	var out createResponse
	if err := json.Unmarshal(b, &out); err != nil || strings.TrimSpace(string(out.Data.ID)) == "" {
		return Job{}, &analysis.EngineError{
			Engine:  engineName,
			Message: "Failed to generate report ID from API response.",
			Err:     err,
		}
	}
	return Job{ID: string(out.Data.ID), Status: poll.StatePending, CreatedAt: now}, nil
}

// status performs one status read. Any failure here is a failed read, not a failed job.
func (c *client) status(ctx context.Context, id string, cb int64) (poll.Status, error) {
	code, b, err := c.do(ctx, http.MethodGet, c.target("reports/status/"+id, cb), nil, "")
	if err != nil {
		return poll.Status{}, err
	}
	if code/100 != 2 {
		return poll.Status{}, fmt.Errorf("status check returned HTTP %d: %s", code, analysis.Snippet(b))
	}
	var out statusResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return poll.Status{}, fmt.Errorf("parse status response: %w", err)
	}
	return poll.ParseStatus(out.Data.Status), nil
}

// fetch reads the finished report.
func (c *client) fetch(ctx context.Context, id string, cb int64) (reportData, error) {
	code, b, err := c.do(ctx, http.MethodGet, c.target("reports/"+id, cb), nil, "")
	if err != nil {
		return reportData{}, err
	}
	if code/100 != 2 {
		return reportData{}, &analysis.EngineError{
			Engine:     engineName,
			Message:    "Failed to fetch final report details.",
			StatusCode: code,
			Transient:  analysis.TransientStatus(code),
		}
	}
	var out reportResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return reportData{}, &analysis.EngineError{
			Engine:  engineName,
			Message: "Failed to fetch final report details.",
			Err:     err,
		}
	}
	return out.Data, nil
}

// cacheBuster yields strictly increasing millisecond stamps so that no two reads in
// one job share a proxy cache key, even within the same millisecond.
type cacheBuster struct {
	now  func() time.Time
	last int64
}

func (c *cacheBuster) next() int64 {
	n := c.now().UnixMilli()
	if n <= c.last {
		n = c.last + 1
	}
	c.last = n
	return n
}
