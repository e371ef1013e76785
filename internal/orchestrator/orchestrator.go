// Package orchestrator routes an analysis request to exactly one engine and returns
// its normalized result.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/pkg/redact"
)

// Mode selects the kind of analysis.
type Mode string

const (
	ModeWeb     Mode = "WEB"
	ModeCompare Mode = "COMPARE"
)

// Engine selects the WEB backend. It is ignored for COMPARE.
type Engine string

const (
	EnginePrimary  Engine = "PRIMARY"
	EngineExternal Engine = "EXTERNAL"
)

// ParseMode accepts a case-insensitive mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WEB", "":
		return ModeWeb, nil
	case "COMPARE":
		return ModeCompare, nil
	default:
		return "", analysis.Invalidf("unknown mode %q (want WEB or COMPARE)", s)
	}
}

// ParseEngine accepts a case-insensitive engine name. VERITAS is the product name of
// the primary engine and is accepted as an alias.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PRIMARY", "VERITAS", "":
		return EnginePrimary, nil
	case "EXTERNAL":
		return EngineExternal, nil
	default:
		return "", analysis.Invalidf("unknown engine %q (want PRIMARY or EXTERNAL)", s)
	}
}

// Request is one caller submission. CompareText is only read in COMPARE mode.
type Request struct {
	Mode        Mode
	Engine      Engine
	Text        string
	CompareText string
}

type Orchestrator struct {
	primary  analysis.WebAnalyzer
	external analysis.WebAnalyzer
	compare  analysis.Comparer
	logger   *zap.Logger
	newID    func() string
}

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRequestIDs overrides how request ids are generated.
func WithRequestIDs(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New wires the three engines. Any of them may be nil; requests routed to a nil
// engine fail with an EngineError.
func New(primary, external analysis.WebAnalyzer, compare analysis.Comparer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		primary:  primary,
		external: external,
		compare:  compare,
		logger:   zap.NewNop(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

// Analyze dispatches req to one engine. Engine errors are returned unchanged.
// COMPARE results carry the raw similarity score; callers that want an originality
// framing use Result.Originality.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (analysis.Result, error) {
	id := o.newID()
	log := o.logger.With(
		zap.String("request_id", id),
		zap.String("mode", string(req.Mode)),
	)
	start := time.Now()

	res, engine, err := o.dispatch(ctx, req)
	log = log.With(zap.String("engine", engine), zap.Duration("duration", time.Since(start)))
	if err != nil {
		log.Warn("analysis failed", zap.String("error", redact.Secrets(err.Error())))
		return analysis.Result{}, err
	}
	log.Info("analysis complete",
		zap.String("kind", string(res.Kind())),
		zap.Int("score", res.Score()),
		zap.Int("sources", len(res.Sources())),
	)
	return res, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, req Request) (analysis.Result, string, error) {
	switch req.Mode {
	case ModeCompare:
		if o.compare == nil {
			return analysis.Result{}, "similarity", notConfigured("similarity")
		}
		n, err := o.compare.Compare(ctx, req.Text, req.CompareText)
		if err != nil {
			return analysis.Result{}, "similarity", err
		}
		return analysis.NewResult(analysis.KindCompare, analysis.CompareNarrative(n), n, nil), "similarity", nil

	case ModeWeb:
		switch req.Engine {
		case EnginePrimary:
			return o.web(ctx, o.primary, "websearch", req.Text)
		case EngineExternal:
			return o.web(ctx, o.external, "report", req.Text)
		default:
			return analysis.Result{}, "", analysis.Invalidf("unknown engine %q", req.Engine)
		}

	default:
		return analysis.Result{}, "", analysis.Invalidf("unknown mode %q", req.Mode)
	}
}

func (o *Orchestrator) web(ctx context.Context, a analysis.WebAnalyzer, name, text string) (analysis.Result, string, error) {
	if a == nil {
		return analysis.Result{}, name, notConfigured(name)
	}
	res, err := a.Analyze(ctx, text)
	return res, name, err
}

func notConfigured(name string) error {
	return &analysis.EngineError{Engine: name, Message: name + " engine not configured"}
}
