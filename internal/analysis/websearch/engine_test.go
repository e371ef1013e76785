package websearch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/palantir/compute-module-originality/internal/analysis"
)

type fakeGenerator struct {
	resp *genai.GenerateContentResponse
	err  error

	calls     int
	gotModel  string
	gotPrompt string
	gotConfig *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.gotModel = model
	f.gotConfig = config
	if len(contents) > 0 && contents[0] != nil && len(contents[0].Parts) > 0 {
		f.gotPrompt = contents[0].Parts[0].Text
	}
	return f.resp, f.err
}

func response(narrative string, chunks ...*genai.GroundingChunk) *genai.GenerateContentResponse {
	c := &genai.Candidate{
		Content: &genai.Content{Role: "model"},
	}
	if narrative != "" {
		c.Content.Parts = []*genai.Part{{Text: narrative}}
	}
	if len(chunks) > 0 {
		c.GroundingMetadata = &genai.GroundingMetadata{GroundingChunks: chunks}
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{c}}
}

func web(uri, title string) *genai.GroundingChunk {
	return &genai.GroundingChunk{Web: &genai.GroundingChunkWeb{URI: uri, Title: title}}
}

func newTestEngine(t *testing.T, g generator) *Engine {
	t.Helper()
	return newEngine(g, Config{Logger: zaptest.NewLogger(t)})
}

const sample = "The quick brown fox jumps over the lazy dog."

func TestAnalyze_ExplicitScoreWins(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{resp: response(
		"Report: paraphrased.\nOriginality Score: 73",
		web("https://a.example", "A"),
		web("https://b.example", "B"),
	)}
	res, err := newTestEngine(t, g).Analyze(context.Background(), sample)
	require.NoError(t, err)

	assert.Equal(t, analysis.KindWeb, res.Kind())
	assert.Equal(t, 73, res.Score())
	assert.Len(t, res.Sources(), 2)
}

func TestAnalyze_HeuristicPenaltyPerSource(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{resp: response(
		"The text closely matches two sources.",
		web("https://a.example", "A"),
		web("https://b.example", "B"),
	)}
	res, err := newTestEngine(t, g).Analyze(context.Background(), sample)
	require.NoError(t, err)
	assert.Equal(t, 60, res.Score())
}

func TestAnalyze_NoSourcesNoTokenIsOriginal(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{resp: response("Nothing similar was found online.")}
	res, err := newTestEngine(t, g).Analyze(context.Background(), sample)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Score())
	assert.Empty(t, res.Sources())
}

func TestAnalyze_EmptyNarrativeUsesPlaceholder(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{resp: response("")}
	res, err := newTestEngine(t, g).Analyze(context.Background(), sample)
	require.NoError(t, err)
	assert.Equal(t, NoAnalysisNarrative, res.Narrative())
	assert.Equal(t, 100, res.Score())
}

func TestAnalyze_NilResponseUsesPlaceholder(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{resp: &genai.GenerateContentResponse{}}
	res, err := newTestEngine(t, g).Analyze(context.Background(), sample)
	require.NoError(t, err)
	assert.Equal(t, NoAnalysisNarrative, res.Narrative())
}

func TestAnalyze_FiltersAndDedupesSources(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{resp: response(
		"Matches found.",
		web("https://a.example", "T1"),
		web("https://a.example", "T2"),
		web("https://no-title.example", ""),
		web("", "No URI"),
		&genai.GroundingChunk{},
		web("https://b.example", "T3"),
	)}
	res, err := newTestEngine(t, g).Analyze(context.Background(), sample)
	require.NoError(t, err)

	want := []analysis.Source{
		{URI: "https://a.example", Title: "T1"},
		{URI: "https://b.example", Title: "T3"},
	}
	if diff := cmp.Diff(want, res.Sources()); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}
	// Penalty counts deduplicated sources.
	assert.Equal(t, 60, res.Score())
}

func TestAnalyze_RejectsShortText(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "short", "123456789", "ünïcödé!!"} {
		g := &fakeGenerator{}
		_, err := newTestEngine(t, g).Analyze(context.Background(), in)

		var ve *analysis.ValidationError
		require.ErrorAs(t, err, &ve, "input %q", in)
		assert.Equal(t, 0, g.calls, "no backend call for %q", in)
	}
}

func TestAnalyze_RequestShape(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{resp: response("Originality Score: 90")}
	_, err := newTestEngine(t, g).Analyze(context.Background(), sample)
	require.NoError(t, err)

	assert.Equal(t, 1, g.calls)
	assert.Equal(t, DefaultModel, g.gotModel)
	assert.Contains(t, g.gotPrompt, `"`+sample+`"`)
	assert.Contains(t, g.gotPrompt, `"Originality Score"`)
	require.NotNil(t, g.gotConfig)
	require.Len(t, g.gotConfig.Tools, 1)
	assert.NotNil(t, g.gotConfig.Tools[0].GoogleSearch)
	require.NotNil(t, g.gotConfig.Temperature)
	assert.InDelta(t, 0.1, *g.gotConfig.Temperature, 1e-6)
}

func TestAnalyze_BackendErrorPropagates(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{err: genai.APIError{Code: 503, Message: "model overloaded"}}
	_, err := newTestEngine(t, g).Analyze(context.Background(), sample)

	var ee *analysis.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "model overloaded", ee.Error())
	assert.Equal(t, 503, ee.StatusCode)
	assert.True(t, ee.Transient)
}

func TestDeriveScore(t *testing.T) {
	t.Parallel()

	s := DefaultScoring()
	tests := []struct {
		name      string
		narrative string
		sources   int
		want      int
	}{
		{name: "explicit", narrative: "...Originality Score: 73...", sources: 2, want: 73},
		{name: "explicit lowercase no colon", narrative: "originality score 12", sources: 0, want: 12},
		{name: "explicit zero", narrative: "Originality Score: 0", sources: 0, want: 0},
		{name: "explicit clamped", narrative: "Originality Score: 250", sources: 0, want: 100},
		{name: "explicit overflow", narrative: "Originality Score: 99999999999999999999999", sources: 0, want: 100},
		{name: "markdown bold", narrative: "**Originality Score:** 45", sources: 0, want: 100},
		{name: "no token two sources", narrative: "matches", sources: 2, want: 60},
		{name: "no token five sources", narrative: "matches", sources: 5, want: 0},
		{name: "no token seven sources", narrative: "matches", sources: 7, want: 0},
		{name: "no token no sources", narrative: "clean", sources: 0, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveScore(tt.narrative, tt.sources, s))
		})
	}
}

func TestDeriveScore_CustomScoring(t *testing.T) {
	t.Parallel()

	s := Scoring{PenaltyPerSource: 10, NoSourceScore: 95}
	assert.Equal(t, 95, deriveScore("clean", 0, s))
	assert.Equal(t, 70, deriveScore("matches", 3, s))
}

type tempNetErr struct{}

func (tempNetErr) Error() string   { return "i/o timeout" }
func (tempNetErr) Timeout() bool   { return true }
func (tempNetErr) Temporary() bool { return true }

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name          string
		in            error
		wantTransient bool
	}{
		{name: "api_429", in: genai.APIError{Code: 429}, wantTransient: true},
		{name: "api_500", in: genai.APIError{Code: 500}, wantTransient: true},
		{name: "api_401", in: genai.APIError{Code: 401, Message: "API key not valid"}, wantTransient: false},
		{name: "net_timeout", in: tempNetErr{}, wantTransient: true},
		{name: "plain", in: errors.New("boom"), wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyErr(tt.in)
			var ee *analysis.EngineError
			require.ErrorAs(t, got, &ee)
			assert.Equal(t, tt.wantTransient, ee.Transient)
			assert.Equal(t, tt.in, ee.Err)
		})
	}
}

func TestClassifyErr_CanceledPassesThrough(t *testing.T) {
	got := classifyErr(context.Canceled)
	require.ErrorIs(t, got, context.Canceled)
	var ee *analysis.EngineError
	assert.False(t, errors.As(got, &ee))
}

func TestClassifyErr_RedactsKeys(t *testing.T) {
	got := classifyErr(errors.New("request failed: api_key=AIzaSecret"))
	assert.False(t, strings.Contains(got.Error(), "AIzaSecret"))
}
