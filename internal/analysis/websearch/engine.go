// Package websearch scores originality with a Gemini call grounded in Google Search.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/pkg/redact"
)

const (
	engineName = "websearch"

	// MinTextLength is the shortest input, in characters, the engine accepts.
	MinTextLength = 10

	// NoAnalysisNarrative replaces an empty backend narrative.
	NoAnalysisNarrative = "No analysis generated."

	DefaultModel       = "gemini-2.5-flash"
	DefaultTemperature = 0.1
)

var scoreRe = regexp.MustCompile(`(?i)Originality Score[:\s]*(\d+)`)

// Scoring holds the fallback heuristic used when the narrative carries no explicit score.
// Both values are undocumented tuning constants kept configurable.
type Scoring struct {
	PenaltyPerSource int `mapstructure:"penalty_per_source"`
	NoSourceScore    int `mapstructure:"no_source_score"`
}

// DefaultScoring returns the stock heuristic: 100 with no sources, minus 20 per source.
func DefaultScoring() Scoring {
	return Scoring{PenaltyPerSource: 20, NoSourceScore: 100}
}

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	Temperature float32
	Scoring     Scoring
	Logger      *zap.Logger
}

// generator is the slice of *genai.Models the engine uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Engine struct {
	models      generator
	model       string
	temperature float32
	scoring     Scoring
	logger      *zap.Logger
}

func New(ctx context.Context, cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return newEngine(client.Models, cfg), nil
}

func newEngine(models generator, cfg Config) *Engine {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = DefaultTemperature
	}
	scoring := cfg.Scoring
	if scoring == (Scoring{}) {
		scoring = DefaultScoring()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		models:      models,
		model:       model,
		temperature: temp,
		scoring:     scoring,
		logger:      logger.Named(engineName),
	}
}

// Analyze issues one grounded generation call and interprets the narrative and citations.
func (e *Engine) Analyze(ctx context.Context, text string) (analysis.Result, error) {
	if utf8.RuneCountInString(text) < MinTextLength {
		return analysis.Result{}, analysis.Invalidf("Please enter at least %d characters to analyze.", MinTextLength)
	}

	resp, err := e.models.GenerateContent(
		ctx,
		e.model,
		genai.Text(buildPrompt(text)),
		&genai.GenerateContentConfig{
			Tools: []*genai.Tool{
				{GoogleSearch: &genai.GoogleSearch{}},
			},
			Temperature: genai.Ptr(e.temperature),
		},
	)
	if err != nil {
		return analysis.Result{}, classifyErr(err)
	}

	narrative := responseText(resp)
	if strings.TrimSpace(narrative) == "" {
		narrative = NoAnalysisNarrative
	}
	sources := extractSources(resp)
	score := deriveScore(narrative, len(sources), e.scoring)

	e.logger.Debug("grounded analysis complete",
		zap.String("model", e.model),
		zap.Int("sources", len(sources)),
		zap.Int("score", score),
	)
	return analysis.NewResult(analysis.KindWeb, narrative, score, sources), nil
}

func buildPrompt(text string) string {
	return `Analyze the provided text for plagiarism and originality.

Text to analyze:
"` + text + `"

Instructions:
1. STRICTLY Search the web to see if this specific text appears online.
2. Identify if the text is:
   - A direct copy (verbatim).
   - Paraphrased (rewritten but same ideas).
   - Original (unique content).
3. If it matches a source, explicitly name the source in the summary.
4. Conclude with an "Originality Score" from 0 (Completely Plagiarized) to 100 (Completely Original).

Format the output as a professional detection report.`
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Text()
}

// extractSources keeps grounding chunks that carry both a URI and a title, deduplicated by URI.
func extractSources(resp *genai.GenerateContentResponse) []analysis.Source {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	gm := resp.Candidates[0].GroundingMetadata
	if gm == nil {
		return nil
	}

	var out []analysis.Source
	for _, chunk := range gm.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		uri := strings.TrimSpace(chunk.Web.URI)
		title := strings.TrimSpace(chunk.Web.Title)
		if uri == "" || title == "" {
			continue
		}
		out = append(out, analysis.Source{URI: uri, Title: title})
	}
	return analysis.DedupeSources(out)
}

// deriveScore prefers an explicit "Originality Score: N" in the narrative and falls
// back to a linear per-source penalty.
func deriveScore(narrative string, sourceCount int, s Scoring) int {
	if m := scoreRe.FindStringSubmatch(narrative); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			// Only overflow gets here; the digits are well-formed.
			n = math.MaxInt
		}
		return analysis.ClampScore(n)
	}
	if sourceCount == 0 {
		return analysis.ClampScore(s.NoSourceScore)
	}
	return analysis.ClampScore(max(0, 100-sourceCount*s.PenaltyPerSource))
}

func classifyErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	ee := &analysis.EngineError{
		Engine:  engineName,
		Message: redact.Secrets(err.Error()),
		Err:     err,
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		ee.StatusCode = apiErr.Code
		if m := strings.TrimSpace(apiErr.Message); m != "" {
			ee.Message = redact.Secrets(m)
		}
		ee.Transient = analysis.TransientStatus(apiErr.Code)
		return ee
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		ee.Transient = true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		ee.Transient = true
	}
	return ee
}
