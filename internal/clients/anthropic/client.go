package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
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

const (
	providerName = "anthropic"
	apiVersion   = "2023-06-01"
)

type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
	Retry             httpx.Retrier
}

func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.anthropic.com/v1",
		Model:       "claude-sonnet-4-5",
		MaxTokens:   8192,
		Temperature: 0.2,
		Timeout:     180 * time.Second,
		Retry:       httpx.DefaultRetrier(),
	}
}

// Client generates through the Messages API. The API has no strict schema mode, so a
// requested schema is described in the system prompt and the text is normalized downstream.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
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
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}
	def := DefaultConfig()
	if cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = def.Retry
	}

	c := &Client{
		log:        log.With("service", "AnthropicClient"),
		baseURL:    cfg.BaseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		maxTokens:  cfg.MaxTokens,
		temp:       cfg.Temperature,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      cfg.Retry,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	c.retry.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.log.Warn("Anthropic request retrying",
			"attempt", attempt,
			"max_attempts", c.retry.Attempts,
			"sleep", wait.String(),
			"error", err.Error(),
		)
	}
	return c, nil
}

func (c *Client) Name() string { return providerName }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) post(ctx context.Context, body messagesRequest) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var raw []byte
	err = c.retry.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", apiVersion)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		b, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp, readErr
		}
		if resp.StatusCode != http.StatusOK {
			return resp, &llm.ProviderError{Provider: providerName, StatusCode: resp.StatusCode, Body: string(b)}
		}
		raw = b
		return resp, nil
	})
	if err != nil {
		return nil, llm.AsProviderError(providerName, err)
	}
	return raw, nil
}

func (c *Client) Generate(ctx context.Context, in llm.Request) (llm.Response, error) {
	system, err := systemWithSchema(in)
	if err != nil {
		return llm.Response{}, err
	}
	body := messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      system,
		Messages:    []message{{Role: "user", Content: in.User}},
		Temperature: c.temp,
	}

	start := time.Now()
	raw, err := c.post(ctx, body)
	if err != nil {
		return llm.Response{}, err
	}
	var resp messagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return llm.Response{}, &llm.ProviderError{Provider: providerName, Err: fmt.Errorf("decode response envelope: %w", err)}
	}
	if resp.Error != nil {
		return llm.Response{}, &llm.ProviderError{Provider: providerName, Err: fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Message)}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	model := resp.Model
	if model == "" {
		model = c.model
	}
	return llm.Response{
		Text: text.String(),
		Meta: llm.Metadata{
			Provider:         providerName,
			Model:            model,
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			LatencyMS:        time.Since(start).Milliseconds(),
		},
	}, nil
}

func systemWithSchema(in llm.Request) (string, error) {
	if in.Schema == nil || in.Schema.Schema == nil {
		return in.System, nil
	}
	b, err := json.MarshalIndent(in.Schema.Schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema %s: %w", in.Schema.Name, err)
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(in.System, "\n"))
	sb.WriteString("\n\nOUTPUT FORMAT:\nReturn a single JSON object and nothing else. It must match this JSON schema (")
	sb.WriteString(in.Schema.Name)
	sb.WriteString("):\n")
	sb.Write(b)
	sb.WriteString("\n")
	return sb.String(), nil
}
