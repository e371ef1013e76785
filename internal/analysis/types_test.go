package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeSources_FirstOccurrenceWins(t *testing.T) {
	t.Parallel()

	in := []Source{
		{URI: "https://a.example", Title: "T1"},
		{URI: "https://a.example", Title: "T2"},
		{URI: "https://b.example", Title: "T3"},
	}
	want := []Source{
		{URI: "https://a.example", Title: "T1"},
		{URI: "https://b.example", Title: "T3"},
	}

	got := DedupeSources(in)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("DedupeSources mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, DedupeSources(got)); diff != "" {
		t.Fatalf("DedupeSources not idempotent (-want +got):\n%s", diff)
	}
}

func TestDedupeSources_DropsEmptyURI(t *testing.T) {
	t.Parallel()

	got := DedupeSources([]Source{{URI: "  ", Title: "blank"}, {URI: " https://x.example ", Title: " X "}})
	assert.Equal(t, []Source{{URI: "https://x.example", Title: "X"}}, got)
}

func TestNewResult_ClampsScore(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		in   int
		want int
	}{
		{in: -5, want: 0},
		{in: 0, want: 0},
		{in: 73, want: 73},
		{in: 100, want: 100},
		{in: 250, want: 100},
	} {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			r := NewResult(KindWeb, "n", tt.in, nil)
			assert.Equal(t, tt.want, r.Score())
		})
	}
}

func TestNewResult_CompareHasNoSources(t *testing.T) {
	t.Parallel()

	r := NewResult(KindCompare, CompareNarrative(40), 40, []Source{{URI: "https://a.example", Title: "A"}})
	assert.Equal(t, KindCompare, r.Kind())
	assert.Empty(t, r.Sources())
	assert.NotNil(t, r.Sources())
	assert.Equal(t, "Comparison complete. Similarity score: 40%.", r.Narrative())
}

func TestResult_SourcesReturnsCopy(t *testing.T) {
	t.Parallel()

	r := NewResult(KindWeb, "", 50, []Source{{URI: "https://a.example", Title: "A"}})
	s := r.Sources()
	s[0].URI = "https://mutated.example"
	assert.Equal(t, "https://a.example", r.Sources()[0].URI)
}

func TestResult_Originality(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 80, NewResult(KindWeb, "", 80, nil).Originality())
	assert.Equal(t, 20, NewResult(KindCompare, "", 80, nil).Originality())
}

func TestResult_MarshalJSON(t *testing.T) {
	t.Parallel()

	r := NewResult(KindWeb, "No analysis generated.", 100, nil)
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"WEB","narrative":"No analysis generated.","score":100,"sources":[]}`, string(b))
}

func TestThresholds_Verdict(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds()
	assert.Equal(t, VerdictOriginal, th.Verdict(100))
	assert.Equal(t, VerdictOriginal, th.Verdict(90))
	assert.Equal(t, VerdictMixed, th.Verdict(89))
	assert.Equal(t, VerdictMixed, th.Verdict(70))
	assert.Equal(t, VerdictPlagiarized, th.Verdict(69))
}

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "validation", err: Invalidf("too short"), want: false},
		{name: "engine permanent", err: &EngineError{Message: "bad key", StatusCode: 401}, want: false},
		{name: "engine transient", err: &EngineError{Message: "slow down", StatusCode: 429, Transient: true}, want: true},
		{name: "wrapped engine transient", err: fmt.Errorf("row 3: %w", &EngineError{Transient: true}), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "net timeout", err: timeoutNetErr{}, want: true},
		{name: "timeout error", err: &TimeoutError{LastStatus: "pending"}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Both text fields are required", (&ValidationError{Reason: "Both text fields are required"}).Error())
	assert.Equal(t, "upstream", (&EngineError{Err: errors.New("upstream")}).Error())
	assert.Contains(t, (&TimeoutError{LastStatus: "pending"}).Error(), "Last status: pending")

	cause := errors.New("dial tcp: refused")
	ee := &EngineError{Message: "request failed", Err: cause}
	assert.ErrorIs(t, ee, cause)
}

func TestEnvelopeMessageAndSnippet(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Invalid token", EnvelopeMessage([]byte(`{"error":true,"message":"Invalid token"}`)))
	assert.Equal(t, "quota", EnvelopeMessage([]byte(`{"errors":[{"message":"quota"}]}`)))
	assert.Equal(t, "rate limited", EnvelopeMessage([]byte(`{"error":"rate limited"}`)))
	assert.Equal(t, "", EnvelopeMessage([]byte(`<html>bad gateway</html>`)))

	assert.Equal(t, "", Snippet(nil))
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	s := Snippet(long)
	assert.Len(t, s, 259)
	assert.Contains(t, Snippet([]byte("line1\nline2")), "line1 line2")
}
