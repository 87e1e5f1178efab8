package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/curriculumgen/internal/generation/engine"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

// Metrics counts generation attempts and task outcomes. It implements engine.AttemptLog so
// it can sit next to the durable logs; a nil *Metrics is a valid no-op.
type Metrics struct {
	attempts       *CounterVec
	attemptLatency *HistogramVec
	tokens         *CounterVec
	invalid        *CounterVec
	tasks          *CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		attempts: NewCounterVec("curgen_attempts_total", "Generation attempts by task and outcome.", []string{"task", "outcome"}),
		attemptLatency: NewHistogramVec(
			"curgen_attempt_duration_seconds",
			"Provider latency per attempt by provider and model.",
			[]string{"provider", "model"},
			nil,
		),
		tokens:  NewCounterVec("curgen_llm_tokens_total", "LLM tokens by provider and direction.", []string{"provider", "direction"}),
		invalid: NewCounterVec("curgen_invalid_responses_total", "Responses saved to the invalid side channel by task.", []string{"task"}),
		tasks:   NewCounterVec("curgen_tasks_total", "Finished tasks by task and status.", []string{"task", "status"}),
	}
}

// Append records one attempt. It never fails.
func (m *Metrics) Append(ctx context.Context, rec engine.AttemptRecord) error {
	if m == nil {
		return nil
	}
	task := strings.TrimSpace(rec.Task)
	m.attempts.Inc(task, string(rec.Outcome))
	if rec.LatencyMS > 0 {
		m.attemptLatency.Observe(float64(rec.LatencyMS)/1000.0, rec.Provider, rec.Model)
	}
	if rec.PromptTokens > 0 {
		m.tokens.Add(float64(rec.PromptTokens), rec.Provider, "input")
	}
	if rec.CompletionTokens > 0 {
		m.tokens.Add(float64(rec.CompletionTokens), rec.Provider, "output")
	}
	if rec.InvalidRef != "" {
		m.invalid.Inc(task)
	}
	return nil
}

// ObserveTask counts one finished task (succeeded, degraded, failed or skipped).
func (m *Metrics) ObserveTask(task, status string) {
	if m == nil {
		return
	}
	m.tasks.Inc(task, status)
}

// Attempts returns the attempt count for task and outcome.
func (m *Metrics) Attempts(task string, outcome engine.Outcome) float64 {
	if m == nil {
		return 0
	}
	return m.attempts.Value(task, string(outcome))
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []interface{ WritePrometheus(io.Writer) error }{
		m.attempts, m.attemptLatency, m.tokens, m.invalid, m.tasks,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

// StartServer serves /metrics on addr until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", m.WriteHTTP)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed && log != nil {
			log.Error("metrics server failed", "error", err, "addr", addr)
		}
	}()
}
