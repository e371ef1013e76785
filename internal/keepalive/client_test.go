package keepalive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type runtimeStub struct {
	mu      sync.Mutex
	jobs    []string
	posted  map[string]string
	gets    int
	failGet int
	done    chan struct{}
	want    int
}

func newRuntimeStub(want int, jobs ...string) *runtimeStub {
	return &runtimeStub{jobs: jobs, posted: map[string]string{}, done: make(chan struct{}), want: want}
}

func (s *runtimeStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/job", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("Module-Auth-Token"))
		s.mu.Lock()
		defer s.mu.Unlock()
		s.gets++
		if s.failGet > 0 {
			s.failGet--
			http.Error(w, "sidecar warming up", http.StatusServiceUnavailable)
			return
		}
		if len(s.jobs) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		body := s.jobs[0]
		s.jobs = s.jobs[1:]
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/result/", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.posted[strings.TrimPrefix(r.URL.Path, "/result/")] = string(b)
		if len(s.posted) == s.want {
			close(s.done)
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func runUntilDone(t *testing.T, stub *runtimeStub, handle Handler) {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- RunLoop(ctx, Config{
			GetJobURI:       srv.URL + "/job",
			PostResultURI:   srv.URL + "/result",
			ModuleAuthToken: "tok",
			HTTPClient:      srv.Client(),
			Logger:          zaptest.NewLogger(t),
			IdleSleep:       time.Millisecond,
			MaxBackoff:      2 * time.Millisecond,
		}, handle)
	}()

	select {
	case <-stub.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for results")
	}
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRunLoop_PostsHandlerResult(t *testing.T) {
	t.Parallel()

	stub := newRuntimeStub(1, `{"computeModuleJobV1":{"jobId":"job-1","queryType":"analyze","query":{"text":"hi"}}}`)
	var gotQuery string
	runUntilDone(t, stub, func(_ context.Context, job Job) ([]byte, error) {
		gotQuery = string(job.Query)
		return []byte(`{"score":90}`), nil
	})

	assert.JSONEq(t, `{"text":"hi"}`, gotQuery)
	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, `{"score":90}`, stub.posted["job-1"])
}

func TestRunLoop_PostsRedactedErrorWhenHandlerFails(t *testing.T) {
	t.Parallel()

	stub := newRuntimeStub(2,
		`{"computeModuleJobV1":{"jobId":"job-1"}}`,
		`{"computeModuleJobV1":{"jobId":"job-2"}}`,
	)
	runUntilDone(t, stub, func(_ context.Context, job Job) ([]byte, error) {
		if job.JobID == "job-1" {
			return nil, errors.New("upstream rejected api_key=sk-secret")
		}
		return nil, nil
	})

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.NotContains(t, stub.posted["job-1"], "sk-secret")
	assert.Equal(t, "ok", stub.posted["job-2"])
}

func TestRunLoop_BacksOffOnGetFailure(t *testing.T) {
	t.Parallel()

	stub := newRuntimeStub(1, `{"computeModuleJobV1":{"jobId":"job-1"}}`)
	stub.failGet = 3
	runUntilDone(t, stub, func(context.Context, Job) ([]byte, error) { return []byte("done"), nil })

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.GreaterOrEqual(t, stub.gets, 4)
	assert.Equal(t, "done", stub.posted["job-1"])
}

func TestNewConfig(t *testing.T) {
	t.Parallel()

	_, ok, err := NewConfig("", "", "", "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = NewConfig("http://localhost:8080/job", "http://localhost:8080/result", "", "/ca.pem")
	require.ErrorContains(t, err, "MODULE_AUTH_TOKEN")

	_, _, err = NewConfig("http://localhost:8080/job", "http://localhost:8080/result", "tok", "")
	require.ErrorContains(t, err, "DEFAULT_CA_PATH")

	tokFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokFile, []byte("from-file\n"), 0o600))
	cfg, ok, err := NewConfig("http://localhost:8080/job", "http://[::1]:9090/result", tokFile, "/ca.pem")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:8080/job", cfg.GetJobURI)
	assert.Equal(t, "http://127.0.0.1:9090/result", cfg.PostResultURI)
	assert.Equal(t, "from-file", cfg.ModuleAuthToken)
}
