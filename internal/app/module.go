package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/internal/keepalive"
	"github.com/palantir/compute-module-originality/internal/orchestrator"
	"github.com/palantir/compute-module-originality/pkg/redact"
)

// JobQuery is the query payload of a compute-module analyze job.
type JobQuery struct {
	Mode        string `json:"mode"`
	Engine      string `json:"engine"`
	Text        string `json:"text"`
	CompareText string `json:"compareText"`
}

// JobResponse is posted back for every job. Exactly one of Result and Error is set.
type JobResponse struct {
	Result    *Summary `json:"result,omitempty"`
	Error     string   `json:"error,omitempty"`
	ErrorKind string   `json:"errorKind,omitempty"`
}

// JobHandler answers compute-module jobs with the given analyzer.
func JobHandler(a Analyzer, thresholds analysis.Thresholds) keepalive.Handler {
	if thresholds == (analysis.Thresholds{}) {
		thresholds = analysis.DefaultThresholds()
	}
	return func(ctx context.Context, job keepalive.Job) ([]byte, error) {
		res, err := handleJob(ctx, a, thresholds, job)
		if err != nil {
			b, merr := json.Marshal(JobResponse{Error: redact.Secrets(err.Error()), ErrorKind: errorKind(err)})
			if merr != nil {
				return nil, err
			}
			return b, err
		}
		b, err := json.Marshal(JobResponse{Result: &res})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func handleJob(ctx context.Context, a Analyzer, thresholds analysis.Thresholds, job keepalive.Job) (Summary, error) {
	var q JobQuery
	if len(job.Query) == 0 {
		return Summary{}, analysis.Invalidf("job %s has no query", job.JobID)
	}
	if err := json.Unmarshal(job.Query, &q); err != nil {
		return Summary{}, analysis.Invalidf("parse job query: %v", err)
	}

	mode, err := orchestrator.ParseMode(q.Mode)
	if err != nil {
		return Summary{}, err
	}
	engine, err := orchestrator.ParseEngine(q.Engine)
	if err != nil {
		return Summary{}, err
	}

	res, err := a.Analyze(ctx, orchestrator.Request{
		Mode:        mode,
		Engine:      engine,
		Text:        q.Text,
		CompareText: q.CompareText,
	})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(res, thresholds), nil
}

// errorKind classifies err for callers that branch on failure type.
func errorKind(err error) string {
	var ve *analysis.ValidationError
	var te *analysis.TimeoutError
	var ee *analysis.EngineError
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &te):
		return "timeout"
	case errors.As(err, &ee):
		return "engine"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
