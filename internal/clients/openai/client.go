package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/curriculumgen/internal/clients/llm"
	"github.com/yungbote/curriculumgen/internal/pkg/httpx"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

const providerName = "openai"

type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
	Retry             httpx.Retrier
}

func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.openai.com",
		Model:       "gpt-4o",
		Temperature: 0.2,
		Timeout:     180 * time.Second,
		Retry:       httpx.DefaultRetrier(),
	}
}

// Client generates through the Responses API.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	temp       float64
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      httpx.Retrier
}

var _ llm.Provider = (*Client)(nil)

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	def := DefaultConfig()
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = def.BaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = def.Model
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = def.Timeout
	}
	retry := cfg.Retry
	if retry.Attempts <= 0 {
		retry = def.Retry
	}

	c := &Client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		temp:       cfg.Temperature,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	c.retry.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.log.Warn("OpenAI request retrying",
			"attempt", attempt,
			"max_attempts", c.retry.Attempts,
			"sleep", wait.String(),
			"error", err.Error(),
		)
	}
	return c, nil
}

func (c *Client) Name() string { return providerName }

func (c *Client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &llm.ProviderError{Provider: providerName, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var raw []byte
	err := c.retry.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		resp, b, err := c.doOnce(ctx, method, path, body)
		raw = b
		return resp, err
	})
	if err != nil {
		return llm.AsProviderError(providerName, err)
	}
	if out == nil {
		return nil
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return &llm.ProviderError{Provider: providerName, Err: fmt.Errorf("decode response envelope: %w", uErr)}
	}
	return nil
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model string         `json:"model"`
	Input []inputMessage `json:"input"`
	Text  *struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Model  string `json:"model"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text,omitempty"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func extractOutputText(resp responsesResponse) (text string, refusal string) {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			switch c.Type {
			case "output_text":
				out.WriteString(c.Text)
			case "refusal":
				refusal = c.Refusal
			}
		}
	}
	return out.String(), refusal
}

// Generate sends one request. A schema switches on strict json_schema output and the decoded
// value is returned as Structured when it parses; otherwise only Text is set and the caller
// normalizes it.
func (c *Client) Generate(ctx context.Context, in llm.Request) (llm.Response, error) {
	req := responsesRequest{
		Model: c.model,
		Input: []inputMessage{
			{Role: "system", Content: in.System},
			{Role: "user", Content: in.User},
		},
		Temperature: c.temp,
	}
	if in.Schema != nil && in.Schema.Schema != nil {
		if strings.TrimSpace(in.Schema.Name) == "" {
			return llm.Response{}, errors.New("schema name required")
		}
		req.Text = &struct {
			Format map[string]any `json:"format,omitempty"`
		}{Format: map[string]any{
			"type":   "json_schema",
			"name":   in.Schema.Name,
			"schema": in.Schema.Schema,
			"strict": true,
		}}
	}

	start := time.Now()
	var resp responsesResponse
	if err := c.do(ctx, http.MethodPost, "/v1/responses", req, &resp); err != nil {
		return llm.Response{}, err
	}
	text, refusal := extractOutputText(resp)
	if refusal != "" && strings.TrimSpace(text) == "" {
		return llm.Response{}, &llm.ProviderError{Provider: providerName, Err: fmt.Errorf("model refused: %s", refusal)}
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	out := llm.Response{
		Text: text,
		Meta: llm.Metadata{
			Provider:         providerName,
			Model:            model,
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			LatencyMS:        time.Since(start).Milliseconds(),
		},
	}
	if req.Text != nil {
		var obj map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err == nil {
			out.Structured = obj
		}
	}
	return out, nil
}
