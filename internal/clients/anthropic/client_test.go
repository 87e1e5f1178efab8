package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/curriculumgen/internal/clients/llm"
	"github.com/yungbote/curriculumgen/internal/pkg/httpx"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = url
	cfg.Retry = httpx.Retrier{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		Sleep:     func(ctx context.Context, d time.Duration) error { return nil },
	}
	c, err := NewClient(logger.Nop(), cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestGenerateConcatenatesTextBlocks(t *testing.T) {
	var gotSystem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" || r.Header.Get("anthropic-version") != apiVersion {
			t.Errorf("missing headers")
		}
		var body messagesRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotSystem = body.System
		_, _ = w.Write([]byte(`{"model":"claude-test","content":[{"type":"text","text":"{\"greeting_text\":"},{"type":"text","text":"\"Salve!\"}"}],"usage":{"input_tokens":9,"output_tokens":4}}`))
	}))
	defer srv.Close()

	resp, err := testClient(t, srv.URL).Generate(context.Background(), llm.Request{
		System: "You greet students.",
		User:   "Greet.",
		Schema: &llm.OutputSchema{Name: "greeting", Schema: map[string]any{"type": "object"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != `{"greeting_text":"Salve!"}` {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Structured != nil {
		t.Fatalf("anthropic responses are text only")
	}
	if !strings.Contains(gotSystem, "JSON schema (greeting)") {
		t.Fatalf("schema not rendered into system prompt: %q", gotSystem)
	}
	if resp.Meta.Provider != "anthropic" || resp.Meta.PromptTokens != 9 {
		t.Fatalf("unexpected metadata %+v", resp.Meta)
	}
}

func TestGenerateGivesUpAfterTransportAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Generate(context.Background(), llm.Request{User: "u"})
	var pe *llm.ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected ProviderError 502, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(logger.Nop(), Config{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
