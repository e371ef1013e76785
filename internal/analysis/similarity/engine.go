// Package similarity compares two texts with the Dandelion semantic similarity API.
package similarity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/palantir/compute-module-originality/internal/analysis"
)

const (
	engineName = "similarity"

	DefaultEndpoint = "https://api.dandelion.eu/datatxt/sim/v1/"
)

type Config struct {
	Token    string
	Endpoint string
	Timeout  time.Duration

	// HTTPClient overrides the default client. Tests pass httptest clients here.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Engine struct {
	endpoint string
	token    string
	http     *http.Client
	logger   *zap.Logger
}

// response is the success body of datatxt/sim.
type response struct {
	Time           float64 `json:"time"`
	Similarity     float64 `json:"similarity"`
	Lang           string  `json:"lang"`
	LangConfidence float64 `json:"langConfidence"`
}

func New(cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("DANDELION_TOKEN is required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse similarity endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("similarity endpoint must include a scheme and host (got %q)", endpoint)
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
	return &Engine{
		endpoint: u.String(),
		token:    strings.TrimSpace(cfg.Token),
		http:     hc,
		logger:   logger.Named(engineName),
	}, nil
}

// Compare returns the similarity of textA and textB as an integer percentage.
func (e *Engine) Compare(ctx context.Context, textA, textB string) (int, error) {
	if textA == "" || textB == "" {
		return 0, analysis.Invalidf("Both text fields are required for comparison.")
	}

	form := url.Values{}
	form.Set("token", e.token)
	form.Set("text1", textA)
	form.Set("text2", textB)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return 0, analysis.TransportError(ctx, engineName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, analysis.TransportError(ctx, engineName, err)
	}
	if resp.StatusCode/100 != 2 {
		return 0, statusErr(resp.StatusCode, b)
	}

	var out response
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, &analysis.EngineError{
			Engine:  engineName,
			Message: fmt.Sprintf("parse similarity response: %v", err),
			Err:     err,
		}
	}

	score := analysis.ClampScore(int(math.Round(out.Similarity * 100)))
	e.logger.Debug("similarity computed",
		zap.Float64("raw", out.Similarity),
		zap.Int("score", score),
		zap.String("lang", out.Lang),
		zap.Float64("lang_confidence", out.LangConfidence),
		zap.Float64("backend_time", out.Time),
	)
	return score, nil
}

func statusErr(code int, body []byte) error {
	msg := analysis.EnvelopeMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("API Error: %d", code)
	}
	return &analysis.EngineError{
		Engine:     engineName,
		Message:    msg,
		StatusCode: code,
		Transient:  analysis.TransientStatus(code),
	}
}
