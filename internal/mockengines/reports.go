package mockengines

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// Relation is one matched source the fake report returns.
type Relation struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type reportState struct {
	text     string
	script   []string
	next     int
	lastSeen string
}

type reportStore struct {
	mu sync.Mutex

	nextID  int
	reports map[int]*reportState

	script          []string
	similarity      float64
	relations       []Relation
	createStatus    int
	omitID          bool
	fetchStatus     int
	statusFailEvery int
	statusReads     int
}

func newReportStore() *reportStore {
	return &reportStore{
		nextID:     1,
		reports:    make(map[int]*reportState),
		script:     []string{"pending", "processing", "done"},
		similarity: 0,
	}
}

// ReportScript configures how the fake report backend behaves for reports created
// after the call. Methods are safe for concurrent use.
type ReportScript struct {
	store *reportStore
}

// Statuses sets the sequence of statuses returned by successive status reads.
// The last entry repeats once the script is exhausted.
func (rs *ReportScript) Statuses(seq ...string) *ReportScript {
	rs.store.mu.Lock()
	defer rs.store.mu.Unlock()
	rs.store.script = append([]string(nil), seq...)
	return rs
}

// Result sets the similarity score and relations returned by the fetch call.
func (rs *ReportScript) Result(similarity float64, relations ...Relation) *ReportScript {
	rs.store.mu.Lock()
	defer rs.store.mu.Unlock()
	rs.store.similarity = similarity
	rs.store.relations = append([]Relation(nil), relations...)
	return rs
}

// FailCreate makes the create call answer with the given HTTP status.
func (rs *ReportScript) FailCreate(code int) *ReportScript {
	rs.store.mu.Lock()
	defer rs.store.mu.Unlock()
	rs.store.createStatus = code
	return rs
}

// OmitID makes the create call succeed without returning a report id.
func (rs *ReportScript) OmitID() *ReportScript {
	rs.store.mu.Lock()
	defer rs.store.mu.Unlock()
	rs.store.omitID = true
	return rs
}

// FailFetch makes the final report fetch answer with the given HTTP status.
func (rs *ReportScript) FailFetch(code int) *ReportScript {
	rs.store.mu.Lock()
	defer rs.store.mu.Unlock()
	rs.store.fetchStatus = code
	return rs
}

// FailStatusEvery makes every n-th status read answer 502 without consuming the script.
func (rs *ReportScript) FailStatusEvery(n int) *ReportScript {
	rs.store.mu.Lock()
	defer rs.store.mu.Unlock()
	rs.store.statusFailEvery = n
	return rs
}

// Created returns how many reports have been created.
func (rs *ReportScript) Created() int {
	rs.store.mu.Lock()
	defer rs.store.mu.Unlock()
	return rs.store.nextID - 1
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorizeReports(w, r) {
		return
	}

	// {base}/reports/create
	// {base}/reports/status/{id}
	// {base}/reports/{id}
	rest := strings.TrimPrefix(r.URL.Path, ReportsBasePath+"/reports/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "create":
		s.handleCreate(w, r)
	case len(parts) == 2 && parts[0] == "status":
		s.handleStatus(w, r, parts[1])
	case len(parts) == 1 && parts[0] != "":
		s.handleFetch(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	st := s.reports
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.createStatus != 0 {
		http.Error(w, "report creation failed", st.createStatus)
		return
	}
	if st.omitID {
		writeJSON(w, http.StatusOK, map[string]any{"status": true, "data": map[string]any{}})
		return
	}

	id := st.nextID
	st.nextID++
	st.reports[id] = &reportState{
		text:   r.PostForm.Get("text"),
		script: append([]string(nil), st.script...),
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": true,
		"data":   map[string]any{"id": id, "status": "pending"},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, rawID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := s.reports
	st.mu.Lock()
	defer st.mu.Unlock()

	rep, ok := st.lookup(rawID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	st.statusReads++
	if st.statusFailEvery > 0 && st.statusReads%st.statusFailEvery == 0 {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	status := "pending"
	if len(rep.script) > 0 {
		i := rep.next
		if i >= len(rep.script) {
			i = len(rep.script) - 1
		} else {
			rep.next++
		}
		status = rep.script[i]
	}
	rep.lastSeen = status
	writeJSON(w, http.StatusOK, map[string]any{
		"status": true,
		"data":   map[string]any{"id": rawID, "status": status},
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request, rawID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := s.reports
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.fetchStatus != 0 {
		http.Error(w, "report unavailable", st.fetchStatus)
		return
	}
	rep, ok := st.lookup(rawID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	relations := st.relations
	if relations == nil {
		relations = []Relation{}
	}
	// The real API serializes numbers as strings in some fields.
	writeJSON(w, http.StatusOK, map[string]any{
		"status": true,
		"data": map[string]any{
			"id":               rawID,
			"status":           rep.lastSeen,
			"similarity_score": strconv.FormatFloat(st.similarity, 'f', -1, 64),
			"words_count":      countWords(rep.text),
			"relations":        relations,
		},
	})
}

func (st *reportStore) lookup(rawID string) (*reportState, bool) {
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return nil, false
	}
	rep, ok := st.reports[id]
	return rep, ok
}

func countWords(s string) int {
	return len(strings.FieldsFunc(s, unicode.IsSpace))
}
