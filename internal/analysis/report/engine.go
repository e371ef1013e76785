// Package report scores originality with the PlagiarismSearch asynchronous report API.
//
// One Analyze call runs three strictly sequential phases: create a report, poll its
// status until it finishes, then fetch the result. Every request is sent through a
// forwarding proxy, and every read carries a fresh cache-buster.
package report

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/internal/analysis/poll"
)

const (
	engineName = "report"

	// MinTextLength is the shortest input, in characters, the remote service accepts.
	MinTextLength = 50

	DefaultBaseURL  = "https://plagiarismsearch.com/api/v3"
	DefaultProxyURL = "https://corsproxy.io/?"
)

type Config struct {
	User   string
	APIKey string

	BaseURL string
	// ProxyURL is the prefix the escaped target URL is appended to.
	ProxyURL string

	PollInterval    time.Duration
	PollMaxAttempts int
	Timeout         time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger

	// Now is the clock used for cache-busters and job timestamps.
	Now func() time.Time
}

type Engine struct {
	client *client
	poll   poll.Options
	now    func() time.Time
	logger *zap.Logger
}

func New(cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.User) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("PLAGIARISMSEARCH_USER and PLAGIARISMSEARCH_API_KEY are required")
	}
	baseURL := cfg.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	proxy := strings.TrimSpace(cfg.ProxyURL)
	if proxy == "" {
		proxy = DefaultProxyURL
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger = logger.Named(engineName)
	return &Engine{
		client: &client{
			base:  base,
			proxy: proxy,
			user:  strings.TrimSpace(cfg.User),
			key:   strings.TrimSpace(cfg.APIKey),
			http:  hc,
		},
		poll: poll.Options{
			Interval:    cfg.PollInterval,
			MaxAttempts: cfg.PollMaxAttempts,
			Engine:      engineName,
			Logger:      logger,
		},
		now:    now,
		logger: logger,
	}, nil
}

// Analyze creates a report for text, waits for it to finish and maps it to a WEB result.
func (e *Engine) Analyze(ctx context.Context, text string) (analysis.Result, error) {
	if utf8.RuneCountInString(text) < MinTextLength {
		return analysis.Result{}, analysis.Invalidf("PlagiarismSearch requires at least %d characters.", MinTextLength)
	}

	cb := &cacheBuster{now: e.now}

	job, err := e.client.create(ctx, text, e.now())
	if err != nil {
		return analysis.Result{}, err
	}
	e.logger.Info("report created", zap.String("report_id", job.ID))

	st, err := poll.Poll(ctx, func(ctx context.Context) (poll.Status, error) {
		return e.client.status(ctx, job.ID, cb.next())
	}, e.poll)
	job.Status = st.State
	if err != nil {
		e.logger.Warn("report did not finish",
			zap.String("report_id", job.ID),
			zap.Stringer("state", job.Status),
			zap.Duration("elapsed", e.now().Sub(job.CreatedAt)),
			zap.Error(err),
		)
		return analysis.Result{}, err
	}

	data, err := e.client.fetch(ctx, job.ID, cb.next())
	if err != nil {
		return analysis.Result{}, err
	}

	res := toResult(data)
	e.logger.Info("report complete",
		zap.String("report_id", job.ID),
		zap.Int("score", res.Score()),
		zap.Int("sources", len(res.Sources())),
		zap.Duration("elapsed", e.now().Sub(job.CreatedAt)),
	)
	return res, nil
}

// toResult maps the remote plagiarism percentage to an originality score.
func toResult(d reportData) analysis.Result {
	originality := int(math.Round(math.Max(0, 100-float64(d.SimilarityScore))))
	narrative := "Analysis via PlagiarismSearch.com completed.\nTotal Words: " + d.WordsCount.String()

	sources := make([]analysis.Source, 0, len(d.Relations))
	for _, rel := range d.Relations {
		title := strings.TrimSpace(rel.Title)
		if title == "" {
			title = rel.URL
		}
		sources = append(sources, analysis.Source{URI: rel.URL, Title: title})
	}
	return analysis.NewResult(analysis.KindWeb, narrative, originality, sources)
}
