package app

import (
	"context"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/internal/orchestrator"
)

// Analyzer is the orchestrator surface the app layer depends on.
type Analyzer interface {
	Analyze(ctx context.Context, req orchestrator.Request) (analysis.Result, error)
}

// Summary is the presentation form of a Result: the raw score plus the
// originality framing and its verdict band.
type Summary struct {
	Kind        analysis.Kind     `json:"kind" yaml:"kind"`
	Score       int               `json:"score" yaml:"score"`
	Originality int               `json:"originality" yaml:"originality"`
	Verdict     analysis.Verdict  `json:"verdict" yaml:"verdict"`
	Narrative   string            `json:"narrative" yaml:"narrative"`
	Sources     []analysis.Source `json:"sources" yaml:"sources"`
}

// Summarize derives the presentation form of res using thresholds for the verdict.
func Summarize(res analysis.Result, thresholds analysis.Thresholds) Summary {
	return Summary{
		Kind:        res.Kind(),
		Score:       res.Score(),
		Originality: res.Originality(),
		Verdict:     thresholds.Verdict(res.Originality()),
		Narrative:   res.Narrative(),
		Sources:     res.Sources(),
	}
}
