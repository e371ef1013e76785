// Package keepalive polls the compute-module runtime for jobs and posts their results.
package keepalive

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/palantir/compute-module-originality/pkg/redact"
)

type computeModuleJobEnvelope struct {
	ComputeModuleJobV1 Job `json:"computeModuleJobV1"`
}

// Job represents one compute-module job handed out by the runtime.
type Job struct {
	JobID     string          `json:"jobId"`
	QueryType string          `json:"queryType"`
	Query     json.RawMessage `json:"query"`
}

// Handler answers one job. The returned bytes are posted as the job result; on error
// they may be empty, in which case the redacted error text is posted instead.
type Handler func(ctx context.Context, job Job) ([]byte, error)

// Config controls compute-module polling.
type Config struct {
	GetJobURI       string
	PostResultURI   string
	ModuleAuthToken string
	DefaultCAPath   string

	// HTTPClient overrides the CA-pinned client built from DefaultCAPath.
	HTTPClient *http.Client
	Logger     *zap.Logger

	// IdleSleep is the pause after an empty poll.
	IdleSleep time.Duration
	// MaxBackoff caps the pause after a failed poll.
	MaxBackoff time.Duration
}

// NewConfig validates the runtime endpoints. It reports false when the endpoints are
// unset, meaning the process is not running inside a compute module.
func NewConfig(getJobURI, postResultURI, moduleAuthToken, defaultCAPath string) (Config, bool, error) {
	getJob, err := normalizeLocalhostURI(getJobURI)
	if err != nil {
		return Config{}, false, fmt.Errorf("invalid GET_JOB_URI: %w", err)
	}
	postRes, err := normalizeLocalhostURI(postResultURI)
	if err != nil {
		return Config{}, false, fmt.Errorf("invalid POST_RESULT_URI: %w", err)
	}
	if getJob == "" || postRes == "" {
		return Config{}, false, nil
	}

	modTok, err := readValueOrFile(moduleAuthToken, "MODULE_AUTH_TOKEN")
	if err != nil {
		return Config{}, false, err
	}
	if modTok == "" {
		return Config{}, false, fmt.Errorf("MODULE_AUTH_TOKEN is required when GET_JOB_URI/POST_RESULT_URI are set")
	}

	caPath := strings.TrimSpace(defaultCAPath)
	if caPath == "" {
		return Config{}, false, fmt.Errorf("DEFAULT_CA_PATH is required when GET_JOB_URI/POST_RESULT_URI are set")
	}

	return Config{
		GetJobURI:       getJob,
		PostResultURI:   postRes,
		ModuleAuthToken: modTok,
		DefaultCAPath:   caPath,
	}, true, nil
}

func normalizeLocalhostURI(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	// The runtime sidecar often binds only to IPv4 loopback while "localhost" may
	// resolve to ::1 first.
	host := strings.TrimSpace(u.Hostname())
	if host == "localhost" || host == "::1" {
		port := strings.TrimSpace(u.Port())
		if port != "" {
			u.Host = "127.0.0.1:" + port
		} else {
			u.Host = "127.0.0.1"
		}
	}
	return u.String(), nil
}

// RunLoop polls for jobs until ctx is done. Job failures are posted as results and
// never stop the loop.
func RunLoop(ctx context.Context, cfg Config, handle Handler) error {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("keepalive")
	idle := cfg.IdleSleep
	if idle <= 0 {
		idle = 500 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Second
	}

	hc := cfg.HTTPClient
	if hc == nil {
		var err error
		hc, err = newHTTPClient(cfg.DefaultCAPath)
		if err != nil {
			return err
		}
	}

	logger.Info("compute module client enabled", zap.String("get_job_uri", cfg.GetJobURI))

	backoff := idle
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, ok, err := getNextJob(ctx, hc, cfg.GetJobURI, cfg.ModuleAuthToken)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("get job failed", zap.String("error", redact.Secrets(err.Error())), zap.Duration("backoff", backoff))
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = idle
		if !ok {
			if err := sleep(ctx, idle); err != nil {
				return err
			}
			continue
		}

		jobID := strings.TrimSpace(job.JobID)
		if jobID == "" {
			logger.Warn("received job without jobId; skipping")
			if err := sleep(ctx, idle); err != nil {
				return err
			}
			continue
		}

		log := logger.With(zap.String("job_id", jobID), zap.String("query_type", strings.TrimSpace(job.QueryType)))
		log.Info("received job")
		start := time.Now()
		result, jobErr := handle(ctx, job)
		if jobErr != nil {
			log.Warn("job failed", zap.String("error", redact.Secrets(jobErr.Error())), zap.Duration("duration", time.Since(start)))
			if len(result) == 0 {
				result = []byte(redact.Secrets(jobErr.Error()))
			}
		} else {
			log.Info("job complete", zap.Duration("duration", time.Since(start)))
			if len(result) == 0 {
				result = []byte("ok")
			}
		}

		if err := postResultWithRetry(ctx, hc, cfg, jobID, result); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("post result failed", zap.String("error", redact.Secrets(err.Error())))
		}
	}
}

func postResultWithRetry(ctx context.Context, hc *http.Client, cfg Config, jobID string, result []byte) error {
	var err error
	for i := 0; i < 6; i++ {
		if i > 0 {
			if serr := sleep(ctx, time.Duration(i)*time.Second); serr != nil {
				return serr
			}
		}
		if err = postResult(ctx, hc, cfg.PostResultURI, cfg.ModuleAuthToken, jobID, result); err == nil {
			return nil
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newHTTPClient(caPath string) (*http.Client, error) {
	b, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read DEFAULT_CA_PATH: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(b); !ok {
		return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: tr, Timeout: 30 * time.Second}, nil
}

func getNextJob(ctx context.Context, hc *http.Client, getJobURI, moduleAuthToken string) (Job, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getJobURI, nil)
	if err != nil {
		return Job{}, false, err
	}
	req.Header.Set("Module-Auth-Token", moduleAuthToken)
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return Job{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return Job{}, false, nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Job{}, false, err
	}
	if resp.StatusCode/100 != 2 {
		return Job{}, false, fmt.Errorf("GET job: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var env computeModuleJobEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Job{}, false, fmt.Errorf("parse GET job response: %w", err)
	}
	return env.ComputeModuleJobV1, true, nil
}

func postResult(ctx context.Context, hc *http.Client, postResultURI, moduleAuthToken, jobID string, result []byte) error {
	base := strings.TrimRight(strings.TrimSpace(postResultURI), "/")
	u := base + "/" + path.Clean("/" + jobID)[1:]

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(result))
	if err != nil {
		return err
	}
	req.Header.Set("Module-Auth-Token", moduleAuthToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST result: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func readValueOrFile(v string, varName string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	if strings.Contains(v, "\n") || strings.Contains(v, "\r") {
		return v, nil
	}
	if fi, err := os.Stat(v); err == nil && !fi.IsDir() {
		b, err := os.ReadFile(v)
		if err != nil {
			return "", fmt.Errorf("read %s file: %w", varName, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return v, nil
}
