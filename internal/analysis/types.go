package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies which family of engine produced a Result.
type Kind string

const (
	KindWeb     Kind = "WEB"
	KindCompare Kind = "COMPARE"
)

// Source is one matched web source.
type Source struct {
	URI   string `json:"uri" yaml:"uri"`
	Title string `json:"title" yaml:"title"`
}

// Result is the normalized output every engine adapter produces.
//
// Fields are unexported so the invariants established by NewResult (kind set once,
// score in [0,100], unique source URIs) cannot be broken after construction.
type Result struct {
	kind      Kind
	narrative string
	score     int
	sources   []Source
}

// NewResult builds a Result, clamping score to [0,100] and deduplicating sources by URI.
// COMPARE results never carry sources.
func NewResult(kind Kind, narrative string, score int, sources []Source) Result {
	r := Result{
		kind:      kind,
		narrative: narrative,
		score:     ClampScore(score),
	}
	if kind != KindCompare {
		r.sources = DedupeSources(sources)
	}
	if r.sources == nil {
		r.sources = []Source{}
	}
	return r
}

func (r Result) Kind() Kind        { return r.kind }
func (r Result) Narrative() string { return r.narrative }

// Score is mode-dependent: originality for WEB, similarity for COMPARE.
func (r Result) Score() int { return r.score }

// Sources returns a copy of the matched sources.
func (r Result) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Originality converts Score into an originality framing.
//
// This is the single inversion point for COMPARE results: the orchestrator reports
// similarity as-is and presentation code calls Originality when it wants 100 = unique.
func (r Result) Originality() int {
	if r.kind == KindCompare {
		return 100 - r.score
	}
	return r.score
}

type resultView struct {
	Kind      Kind     `json:"kind" yaml:"kind"`
	Narrative string   `json:"narrative" yaml:"narrative"`
	Score     int      `json:"score" yaml:"score"`
	Sources   []Source `json:"sources" yaml:"sources"`
}

func (r Result) view() resultView {
	return resultView{Kind: r.kind, Narrative: r.narrative, Score: r.score, Sources: r.Sources()}
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.view())
}

func (r Result) MarshalYAML() (any, error) {
	return r.view(), nil
}

// ClampScore limits v to [0,100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// DedupeSources drops sources with an empty URI and keeps the first occurrence of each URI.
func DedupeSources(in []Source) []Source {
	seen := make(map[string]struct{}, len(in))
	out := make([]Source, 0, len(in))
	for _, s := range in {
		uri := strings.TrimSpace(s.URI)
		if uri == "" {
			continue
		}
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}
		out = append(out, Source{URI: uri, Title: strings.TrimSpace(s.Title)})
	}
	return out
}

// WebAnalyzer is implemented by engines that score a single text for originality.
type WebAnalyzer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}

// Comparer is implemented by engines that score the similarity of two texts.
type Comparer interface {
	Compare(ctx context.Context, textA, textB string) (int, error)
}

// CompareNarrative is the templated sentence wrapped around a bare similarity score.
func CompareNarrative(similarity int) string {
	return fmt.Sprintf("Comparison complete. Similarity score: %d%%.", similarity)
}
