package app_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/internal/app"
	"github.com/palantir/compute-module-originality/internal/keepalive"
	"github.com/palantir/compute-module-originality/internal/orchestrator"
)

func TestJobHandler_RoutesQuery(t *testing.T) {
	t.Parallel()

	var got orchestrator.Request
	a := fnAnalyzer(func(_ context.Context, req orchestrator.Request) (analysis.Result, error) {
		got = req
		return analysis.NewResult(analysis.KindCompare, analysis.CompareNarrative(30), 30, nil), nil
	})

	handle := app.JobHandler(a, analysis.Thresholds{})
	b, err := handle(context.Background(), keepalive.Job{
		JobID: "job-1",
		Query: json.RawMessage(`{"mode":"compare","text":"one","compareText":"two"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.Request{
		Mode: orchestrator.ModeCompare, Engine: orchestrator.EnginePrimary, Text: "one", CompareText: "two",
	}, got)
	assert.JSONEq(t, `{"result":{
		"kind":"COMPARE","score":30,"originality":70,"verdict":"mixed",
		"narrative":"Comparison complete. Similarity score: 30%.","sources":[]}}`, string(b))
}

func TestJobHandler_VeritasAlias(t *testing.T) {
	t.Parallel()

	var got orchestrator.Engine
	a := fnAnalyzer(func(_ context.Context, req orchestrator.Request) (analysis.Result, error) {
		got = req.Engine
		return analysis.NewResult(analysis.KindWeb, "n", 100, nil), nil
	})
	_, err := app.JobHandler(a, analysis.DefaultThresholds())(context.Background(), keepalive.Job{
		JobID: "job-2",
		Query: json.RawMessage(`{"mode":"WEB","engine":"VERITAS","text":"hello world!"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.EnginePrimary, got)
}

func TestJobHandler_ErrorsAreReported(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		query    string
		err      error
		wantKind string
		wantMsg  string
	}{
		{name: "bad json", query: `{`, wantKind: "validation"},
		{name: "bad mode", query: `{"mode":"AUDIO"}`, wantKind: "validation"},
		{
			name: "timeout", query: `{"mode":"WEB","engine":"EXTERNAL","text":"x"}`,
			err:      &analysis.TimeoutError{LastStatus: "pending"},
			wantKind: "timeout",
			wantMsg:  "Analysis timed out. Last status: pending. The service might be busy or the proxy is caching responses.",
		},
		{
			name: "engine", query: `{"mode":"WEB","text":"x"}`,
			err:      &analysis.EngineError{Message: "quota exceeded"},
			wantKind: "engine",
			wantMsg:  "quota exceeded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := fnAnalyzer(func(context.Context, orchestrator.Request) (analysis.Result, error) {
				return analysis.Result{}, tt.err
			})
			b, err := app.JobHandler(a, analysis.Thresholds{})(context.Background(), keepalive.Job{
				JobID: "job-x",
				Query: json.RawMessage(tt.query),
			})
			require.Error(t, err)

			var resp app.JobResponse
			require.NoError(t, json.Unmarshal(b, &resp))
			assert.Nil(t, resp.Result)
			assert.Equal(t, tt.wantKind, resp.ErrorKind)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, resp.Error)
			}
		})
	}
}

func TestJobHandler_MissingQuery(t *testing.T) {
	t.Parallel()

	a := fnAnalyzer(func(context.Context, orchestrator.Request) (analysis.Result, error) {
		t.Fatal("analyzer must not be called")
		return analysis.Result{}, nil
	})
	_, err := app.JobHandler(a, analysis.Thresholds{})(context.Background(), keepalive.Job{JobID: "job-y"})
	var ve *analysis.ValidationError
	require.ErrorAs(t, err, &ve)
}
