package mockengines

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Proxy forwards "<proxy>/?<escaped target URL>" to the target.
//
// With caching enabled it remembers every successful GET response by full target
// URL (query included) and replays it, which is how a misbehaving public proxy
// pins a job at "pending" for clients that reuse the same status URL.
type Proxy struct {
	client *http.Client

	mu      sync.Mutex
	caching bool
	cache   map[string]cachedResponse
	hits    int
	misses  int
	targets []string
}

type cachedResponse struct {
	code        int
	contentType string
	body        []byte
}

// NewProxy builds a proxy that forwards with client (http.DefaultClient when nil).
func NewProxy(client *http.Client) *Proxy {
	if client == nil {
		client = http.DefaultClient
	}
	return &Proxy{
		client: client,
		cache:  make(map[string]cachedResponse),
	}
}

// CacheGETs toggles response caching for GET requests.
func (p *Proxy) CacheGETs(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caching = on
}

// Stats returns cache hits and misses.
func (p *Proxy) Stats() (hits, misses int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits, p.misses
}

// Targets returns every decoded target URL the proxy was asked for, in order.
func (p *Proxy) Targets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.targets))
	copy(out, p.targets)
	return out
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := url.QueryUnescape(r.URL.RawQuery)
	if err != nil || !strings.Contains(target, "://") {
		http.Error(w, "missing or invalid target url", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.targets = append(p.targets, target)
	caching := p.caching && r.Method == http.MethodGet
	if caching {
		if c, ok := p.cache[target]; ok {
			p.hits++
			p.mu.Unlock()
			writeRaw(w, c)
			return
		}
		p.misses++
	}
	p.mu.Unlock()

	var body io.Reader
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read request body", http.StatusBadRequest)
			return
		}
		body = bytes.NewReader(b)
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		http.Error(w, "build upstream request", http.StatusBadRequest)
		return
	}
	for _, h := range []string{"Authorization", "Content-Type", "Accept"} {
		if v := r.Header.Get(h); v != "" {
			out.Header.Set(h, v)
		}
	}

	resp, err := p.client.Do(out)
	if err != nil {
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "read upstream body", http.StatusBadGateway)
		return
	}

	c := cachedResponse{code: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: b}
	if caching && resp.StatusCode/100 == 2 {
		p.mu.Lock()
		p.cache[target] = c
		p.mu.Unlock()
	}
	writeRaw(w, c)
}

func writeRaw(w http.ResponseWriter, c cachedResponse) {
	if c.contentType != "" {
		w.Header().Set("Content-Type", c.contentType)
	}
	w.WriteHeader(c.code)
	_, _ = w.Write(c.body)
}
