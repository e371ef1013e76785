package mockengines

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"
)

func (s *Server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	expected := s.dandelionToken
	s.mu.Unlock()
	if expected != "" && r.PostForm.Get("token") != expected {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":   true,
			"status":  401,
			"code":    "error.authenticationError",
			"message": "Invalid token",
		})
		return
	}

	text1 := r.PostForm.Get("text1")
	text2 := r.PostForm.Get("text2")
	if strings.TrimSpace(text1) == "" || strings.TrimSpace(text2) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   true,
			"status":  400,
			"code":    "error.missingParameter",
			"message": "missing parameter text1 or text2",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"time":           1,
		"similarity":     Jaccard(text1, text2),
		"lang":           "en",
		"langConfidence": 1.0,
	})
}

// Jaccard is the word-set overlap of a and b in [0,1]. Identical texts score 1.
func Jaccard(a, b string) float64 {
	wa, wb := words(a), words(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func words(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[f] = struct{}{}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
