package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/internal/orchestrator"
	"github.com/palantir/compute-module-originality/internal/worker"
	"github.com/palantir/compute-module-originality/pkg/redact"
)

// Input is one batch row.
type Input struct {
	Text        string
	CompareText string
}

// Row is the stable batch output schema.
type Row struct {
	Text        string
	CompareText string
	Mode        string
	Engine      string
	Kind        string
	Score       string
	Originality string
	Verdict     string
	Sources     string
	Narrative   string
	Status      string
	Error       string
	Attempts    string
}

// Header returns the stable CSV header for Row.
func Header() []string {
	return []string{
		"text",
		"compare_text",
		"mode",
		"engine",
		"kind",
		"score",
		"originality",
		"verdict",
		"sources",
		"narrative",
		"status",
		"error",
		"attempts",
	}
}

func (r Row) record() []string {
	return []string{
		r.Text,
		r.CompareText,
		r.Mode,
		r.Engine,
		r.Kind,
		r.Score,
		r.Originality,
		r.Verdict,
		r.Sources,
		r.Narrative,
		r.Status,
		r.Error,
		r.Attempts,
	}
}

type BatchOptions struct {
	Mode   orchestrator.Mode
	Engine orchestrator.Engine

	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitRPS   float64
	FailFast       bool

	Thresholds analysis.Thresholds
	Logger     *zap.Logger
}

// ReadInputCSV reads the "text" column and, when present, the "compare_text" column.
func ReadInputCSV(r io.Reader) ([]Input, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	textIdx, compareIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "text":
			if textIdx < 0 {
				textIdx = i
			}
		case "compare_text":
			if compareIdx < 0 {
				compareIdx = i
			}
		}
	}
	if textIdx < 0 {
		return nil, fmt.Errorf("missing required column %q", "text")
	}

	var out []Input
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if textIdx >= len(rec) {
			return nil, fmt.Errorf("row has %d columns, want at least %d", len(rec), textIdx+1)
		}
		in := Input{Text: rec[textIdx]}
		if compareIdx >= 0 && compareIdx < len(rec) {
			in.CompareText = rec[compareIdx]
		}
		out = append(out, in)
	}
	return out, nil
}

// WriteCSV writes rows with the stable header.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RunBatch analyzes every input independently and returns one row per input, in order.
//
// Per-row failures are recorded on the row unless FailFast is set.
func RunBatch(ctx context.Context, a Analyzer, inputs []Input, opts BatchOptions) ([]Row, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Thresholds == (analysis.Thresholds{}) {
		opts.Thresholds = analysis.DefaultThresholds()
	}
	policy := worker.FailurePolicyPartialOutput
	if opts.FailFast {
		policy = worker.FailurePolicyFailFast
	}

	start := time.Now()
	logger.Info("batch start",
		zap.Int("rows", len(inputs)),
		zap.String("mode", string(opts.Mode)),
		zap.String("engine", string(opts.Engine)),
		zap.Int("workers", opts.Workers),
		zap.Int("max_retries", opts.MaxRetries),
		zap.Float64("rate_limit_rps", opts.RateLimitRPS),
		zap.Bool("fail_fast", opts.FailFast),
	)

	process := func(ctx context.Context, in Input) (analysis.Result, error) {
		return a.Analyze(ctx, orchestrator.Request{
			Mode:        opts.Mode,
			Engine:      opts.Engine,
			Text:        in.Text,
			CompareText: in.CompareText,
		})
	}

	completed := 0
	out, err := worker.ProcessAllWithCallback(ctx, inputs, process, func(r worker.Result[Input, analysis.Result]) error {
		completed++
		status := "ok"
		if r.Err != nil {
			status = "error"
		}
		logger.Debug("row complete",
			zap.Int("row", r.Index),
			zap.String("status", status),
			zap.Int("attempts", r.Attempts),
			zap.Int("completed", completed),
			zap.Int("total", len(inputs)),
		)
		return nil
	}, worker.Options{
		Workers:           opts.Workers,
		MaxRetries:        opts.MaxRetries,
		RequestTimeout:    opts.RequestTimeout,
		RateLimitRPS:      opts.RateLimitRPS,
		FailurePolicy:     policy,
		BackoffInitial:    500 * time.Millisecond,
		BackoffMax:        10 * time.Second,
		BackoffJitterFrac: 0.2,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(out))
	okRows := 0
	for _, item := range out {
		row := Row{
			Text:        item.Input.Text,
			CompareText: item.Input.CompareText,
			Mode:        string(opts.Mode),
			Engine:      string(opts.Engine),
			Attempts:    strconv.Itoa(item.Attempts),
		}
		if opts.Mode == orchestrator.ModeCompare {
			row.Engine = ""
		}
		if item.Err != nil {
			row.Status = "error"
			row.Error = redact.Secrets(item.Err.Error())
			rows = append(rows, row)
			continue
		}

		s := Summarize(item.Output, opts.Thresholds)
		row.Kind = string(s.Kind)
		row.Score = strconv.Itoa(s.Score)
		row.Originality = strconv.Itoa(s.Originality)
		row.Verdict = string(s.Verdict)
		row.Sources = sourcesJSON(s.Sources)
		row.Narrative = s.Narrative
		row.Status = "ok"
		rows = append(rows, row)
		okRows++
	}

	logger.Info("batch complete",
		zap.Int("produced", len(rows)),
		zap.Int("ok", okRows),
		zap.Int("error", len(rows)-okRows),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
	return rows, nil
}

// RunLocal reads inputPath, analyzes every row and writes outputPath.
func RunLocal(ctx context.Context, a Analyzer, inputPath, outputPath string, opts BatchOptions) error {
	inF, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = inF.Close()
	}()

	inputs, err := ReadInputCSV(inF)
	if err != nil {
		return err
	}

	rows, err := RunBatch(ctx, a, inputs, opts)
	if err != nil {
		return err
	}

	outF, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = outF.Close()
	}()

	if err := WriteCSV(outF, rows); err != nil {
		return err
	}
	return outF.Close()
}

func sourcesJSON(sources []analysis.Source) string {
	if len(sources) == 0 {
		return ""
	}
	b, err := json.Marshal(sources)
	if err != nil {
		return ""
	}
	return string(b)
}
