package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yungbote/curriculumgen/internal/generation/engine"
)

func TestMetricsAppend(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()
	recs := []engine.AttemptRecord{
		{Task: "summary", Outcome: engine.OutcomeParseError, Provider: "openai", Model: "gpt-4o", LatencyMS: 1200, InvalidRef: "a"},
		{Task: "summary", Outcome: engine.OutcomeValidationFailure, Provider: "openai", Model: "gpt-4o", LatencyMS: 800, InvalidRef: "b"},
		{Task: "summary", Outcome: engine.OutcomeSuccess, Provider: "openai", Model: "gpt-4o", LatencyMS: 900, PromptTokens: 100, CompletionTokens: 40},
	}
	for _, r := range recs {
		if err := m.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	m.ObserveTask("summary", "succeeded")

	if got := m.Attempts("summary", engine.OutcomeSuccess); got != 1 {
		t.Fatalf("success attempts = %v", got)
	}
	var b strings.Builder
	if err := m.WritePrometheus(&b); err != nil {
		t.Fatal(err)
	}
	out := b.String()
	for _, want := range []string{
		`curgen_attempts_total{task="summary",outcome="parse_error"} 1`,
		`curgen_invalid_responses_total{task="summary"} 2`,
		`curgen_llm_tokens_total{provider="openai",direction="output"} 40`,
		`curgen_attempt_duration_seconds_count{provider="openai",model="gpt-4o"} 3`,
		`curgen_attempt_duration_seconds_bucket{provider="openai",model="gpt-4o",le="1"} 2`,
		`curgen_tasks_total{task="summary",status="succeeded"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	if err := m.Append(context.Background(), engine.AttemptRecord{}); err != nil {
		t.Fatal(err)
	}
	m.ObserveTask("x", "failed")
	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestParseHeaders(t *testing.T) {
	h := ParseHeaders(" api-key = abc , bad, x= ")
	if len(h) != 1 || h["api-key"] != "abc" {
		t.Fatalf("headers = %v", h)
	}
	if ParseHeaders("") != nil {
		t.Fatal("empty input should give nil")
	}
}

func TestSampleRatio(t *testing.T) {
	for in, want := range map[float64]float64{0: 1, -1: 1, 0.25: 0.25, 3: 1} {
		if got := sampleRatio(in); got != want {
			t.Errorf("sampleRatio(%v) = %v, want %v", in, got, want)
		}
	}
}
