// Package mockengines serves in-memory fakes of the similarity and report backends,
// plus a forwarding proxy that can cache GET responses the way public CORS proxies do.
package mockengines

import (
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
)

const (
	// DandelionPath is where the fake similarity endpoint is mounted.
	DandelionPath = "/dandelion/datatxt/sim/v1/"
	// ReportsBasePath is the fake report API base (the part before /reports/...).
	ReportsBasePath = "/plagiarismsearch/api/v3"
	// ProxyPath is where the forwarding proxy is mounted. Clients append "?" + escaped target.
	ProxyPath = "/proxy/"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
	Query  string
}

// Server implements the fake backend surface.
type Server struct {
	mu    sync.Mutex
	calls []Call

	dandelionToken string
	reportAuth     string

	reports *reportStore
	proxy   *Proxy
}

// New constructs a server with a default report script of pending, processing, done.
func New() *Server {
	s := &Server{
		reports: newReportStore(),
	}
	s.proxy = NewProxy(nil)
	return s
}

// RequireDandelionToken makes the similarity endpoint reject any other token with 401.
// An empty token disables the check.
func (s *Server) RequireDandelionToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dandelionToken = strings.TrimSpace(token)
}

// RequireBasicAuth makes the report endpoints reject other credentials with 401.
// An empty user disables the check.
func (s *Server) RequireBasicAuth(user, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(user) == "" {
		s.reportAuth = ""
		return
	}
	s.reportAuth = "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+key))
}

// Reports exposes the scripted report backend for test setup.
func (s *Server) Reports() *ReportScript {
	return &ReportScript{store: s.reports}
}

// Proxy returns the forwarding proxy mounted at ProxyPath.
func (s *Server) Proxy() *Proxy {
	return s.proxy
}

// Handler returns an http.Handler that serves every fake.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(DandelionPath, s.handleSimilarity)
	mux.HandleFunc(ReportsBasePath+"/reports/", s.handleReports)
	mux.Handle(ProxyPath, s.proxy)
	return mux
}

// Calls returns a snapshot of backend calls (proxy hops are not recorded here).
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})
}

func (s *Server) authorizeReports(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.reportAuth
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"status": false,
			"error":  "Unauthorized",
		})
		return false
	}
	return true
}
