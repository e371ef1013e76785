package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/internal/analysis/report"
	"github.com/palantir/compute-module-originality/internal/analysis/similarity"
	"github.com/palantir/compute-module-originality/internal/analysis/websearch"
	"github.com/palantir/compute-module-originality/internal/config"
	"github.com/palantir/compute-module-originality/internal/orchestrator"
)

func mustBind(v *viper.Viper, key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// buildOrchestrator constructs every engine whose credentials are present. Missing
// engines are left nil and reported as not configured when a request selects them.
func buildOrchestrator(ctx context.Context, cfg config.Config, logger *zap.Logger) (*orchestrator.Orchestrator, error) {
	var (
		primary, external analysis.WebAnalyzer
		compare           analysis.Comparer
		err               error
	)

	if strings.TrimSpace(cfg.Gemini.APIKey) != "" {
		primary, err = websearch.New(ctx, websearch.Config{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			BaseURL:     cfg.Gemini.BaseURL,
			Temperature: cfg.Gemini.Temperature,
			Scoring:     cfg.Gemini.Scoring,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("websearch engine: %w", err)
		}
	}

	if strings.TrimSpace(cfg.Report.User) != "" && strings.TrimSpace(cfg.Report.APIKey) != "" {
		external, err = report.New(report.Config{
			User:            cfg.Report.User,
			APIKey:          cfg.Report.APIKey,
			BaseURL:         cfg.Report.BaseURL,
			ProxyURL:        cfg.Report.ProxyURL,
			PollInterval:    cfg.Report.PollInterval,
			PollMaxAttempts: cfg.Report.PollMaxAttempts,
			Timeout:         cfg.Report.Timeout,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("report engine: %w", err)
		}
	}

	if strings.TrimSpace(cfg.Dandelion.Token) != "" {
		compare, err = similarity.New(similarity.Config{
			Token:    cfg.Dandelion.Token,
			Endpoint: cfg.Dandelion.Endpoint,
			Timeout:  cfg.Dandelion.Timeout,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("similarity engine: %w", err)
		}
	}

	logger.Debug("engines configured",
		zap.Bool("websearch", primary != nil),
		zap.Bool("report", external != nil),
		zap.Bool("similarity", compare != nil),
	)

	return orchestrator.New(primary, external, compare, orchestrator.WithLogger(logger)), nil
}
