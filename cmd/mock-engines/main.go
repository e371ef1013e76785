package main

import (
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/palantir/compute-module-originality/internal/mockengines"
)

func main() {
	addr := defaultString("MOCK_ENGINES_ADDR", ":8080")
	dandelionToken := defaultString("MOCK_ENGINES_DANDELION_TOKEN", "")
	reportsUser := defaultString("MOCK_ENGINES_REPORTS_USER", "")
	reportsKey := defaultString("MOCK_ENGINES_REPORTS_KEY", "")
	statuses := defaultString("MOCK_ENGINES_STATUSES", "pending,processing,done")

	fs := flag.NewFlagSet("mock-engines", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&dandelionToken, "dandelion-token", dandelionToken, "Require this similarity token (empty accepts any)")
	fs.StringVar(&reportsUser, "reports-user", reportsUser, "Require basic auth with this user on the report API")
	fs.StringVar(&reportsKey, "reports-key", reportsKey, "Require basic auth with this key on the report API")
	fs.StringVar(&statuses, "statuses", statuses, "Comma-separated status sequence every report walks through")
	similarity := fs.Float64("similarity", 0, "similarity_score returned for every report")
	cacheProxy := fs.Bool("cache-proxy", false, "Cache successful GETs in the relay by full target URL")
	_ = fs.Parse(os.Args[1:])

	logger, err := zap.NewProduction()
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	srv := mockengines.New()
	if dandelionToken != "" {
		srv.RequireDandelionToken(dandelionToken)
	}
	if reportsUser != "" || reportsKey != "" {
		srv.RequireBasicAuth(reportsUser, reportsKey)
	}
	if seq := splitCSV(statuses); len(seq) > 0 {
		srv.Reports().Statuses(seq...)
	}
	srv.Reports().Result(*similarity)
	srv.Proxy().CacheGETs(*cacheProxy)

	logger.Info("mock-engines listening",
		zap.String("addr", addr),
		zap.String("similarity_path", mockengines.DandelionPath),
		zap.String("reports_path", mockengines.ReportsBasePath),
		zap.String("proxy_path", mockengines.ProxyPath+"?"),
		zap.Bool("cache_proxy", *cacheProxy),
	)
	hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	if err := hs.ListenAndServe(); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
