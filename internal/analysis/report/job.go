package report

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/palantir/compute-module-originality/internal/analysis/poll"
)

// Job is one remote report being tracked by a single Analyze call.
// It is never shared across calls and is abandoned, not cancelled, on timeout.
type Job struct {
	ID        string
	Status    poll.State
	CreatedAt time.Time
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexNumber accepts a JSON number or a numeric string. Anything unparsable decodes to 0.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		v = 0
	}
	*f = flexNumber(v)
	return nil
}

func (f flexNumber) String() string {
	return strconv.FormatFloat(float64(f), 'f', -1, 64)
}

type createResponse struct {
	Data struct {
		ID flexString `json:"id"`
	} `json:"data"`
}

type statusResponse struct {
	Data struct {
		Status string `json:"status"`
	} `json:"data"`
}

type relation struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type reportData struct {
	SimilarityScore flexNumber `json:"similarity_score"`
	WordsCount      flexNumber `json:"words_count"`
	Relations       []relation `json:"relations"`
}

type reportResponse struct {
	Data reportData `json:"data"`
}
