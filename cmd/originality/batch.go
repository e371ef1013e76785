package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/internal/app"
	"github.com/palantir/compute-module-originality/internal/orchestrator"
)

func newBatchCmd(c *cli) *cobra.Command {
	var (
		inputPath, outputPath string
		mode, engine          string
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Analyze every row of a CSV file and write one result row per input",
		Long: `batch reads a CSV with a "text" column (and a "compare_text" column for
--mode compare) and writes the results, one row per input in input order.
Rows that fail carry status=error and the failure message; the run itself
only fails with --fail-fast or on cancellation.`,
		Example: `  originality batch --input texts.csv --output results.csv
  originality batch --mode compare --input pairs.csv --output sims.csv --workers 8`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inputPath == "" || outputPath == "" {
				return analysis.Invalidf("batch requires --input and --output")
			}
			m, err := orchestrator.ParseMode(mode)
			if err != nil {
				return err
			}
			e, err := orchestrator.ParseEngine(engine)
			if err != nil {
				return err
			}
			o, err := buildOrchestrator(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			b := c.cfg.Batch
			return app.RunLocal(cmd.Context(), o, inputPath, outputPath, app.BatchOptions{
				Mode:           m,
				Engine:         e,
				Workers:        b.Workers,
				MaxRetries:     b.MaxRetries,
				RequestTimeout: b.RequestTimeout,
				RateLimitRPS:   b.RateLimitRPS,
				FailFast:       b.FailFast,
				Thresholds:     c.cfg.Verdict,
				Logger:         c.logger,
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&inputPath, "input", "", "input CSV path")
	f.StringVar(&outputPath, "output", "", "output CSV path")
	f.StringVar(&mode, "mode", string(orchestrator.ModeWeb), "mode: web or compare")
	f.StringVarP(&engine, "engine", "e", string(orchestrator.EnginePrimary), "web engine: primary or external")
	f.Int("workers", 4, "concurrent analyses")
	f.Int("max-retries", 2, "retries per row for transient failures")
	f.Duration("request-timeout", 3*time.Minute, "per-attempt timeout for one row")
	f.Float64("rate-limit-rps", 0, "global request rate limit, 0 disables")
	f.Bool("fail-fast", false, "stop at the first failed row")
	mustBind(c.v, "batch.workers", f.Lookup("workers"))
	mustBind(c.v, "batch.max_retries", f.Lookup("max-retries"))
	mustBind(c.v, "batch.request_timeout", f.Lookup("request-timeout"))
	mustBind(c.v, "batch.rate_limit_rps", f.Lookup("rate-limit-rps"))
	mustBind(c.v, "batch.fail_fast", f.Lookup("fail-fast"))
	return cmd
}
