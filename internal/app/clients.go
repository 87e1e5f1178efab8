package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/curriculumgen/internal/clients/anthropic"
	"github.com/yungbote/curriculumgen/internal/clients/gcp"
	"github.com/yungbote/curriculumgen/internal/clients/llm"
	"github.com/yungbote/curriculumgen/internal/clients/openai"
	"github.com/yungbote/curriculumgen/internal/clients/redis"
	"github.com/yungbote/curriculumgen/internal/data/db"
	"github.com/yungbote/curriculumgen/internal/pkg/httpx"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

type Clients struct {
	Provider llm.Provider
	DB       *db.Service
	Redis    *goredis.Client
	Bucket   gcp.BucketService
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	provider, err := newProvider(log, cfg.Provider)
	if err != nil {
		return c, fmt.Errorf("init provider: %w", err)
	}
	c.Provider = provider

	// Database
	if strings.EqualFold(cfg.Store.Backend, "db") || cfg.Audit.Database {
		svc, err := db.NewService(cfg.Database, log)
		if err != nil {
			return c, fmt.Errorf("init database: %w", err)
		}
		if err := svc.AutoMigrateAll(); err != nil {
			_ = svc.Close()
			return c, fmt.Errorf("database automigrate: %w", err)
		}
		c.DB = svc
	}

	// Redis
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		rdb, err := redis.NewClient(log, cfg.Redis.Config)
		if err != nil {
			c.close(log)
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		c.Redis = rdb
	}

	// Gcs
	if strings.EqualFold(cfg.Store.Backend, "gcs") {
		bucket, err := gcp.NewBucketService(ctx, log, cfg.Store.Bucket)
		if err != nil {
			c.close(log)
			return Clients{}, fmt.Errorf("init bucket client: %w", err)
		}
		c.Bucket = bucket
	}
	return c, nil
}

func (c Clients) close(log *logger.Logger) {
	if c.Bucket != nil {
		if err := c.Bucket.Close(); err != nil {
			log.Warn("bucket close failed", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			log.Warn("database close failed", "error", err)
		}
	}
}

func newProvider(log *logger.Logger, cfg ProviderConfig) (llm.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "openai":
		oc := openai.DefaultConfig()
		applyModel(&oc.APIKey, &oc.BaseURL, &oc.Model, &oc.Temperature, &oc.Timeout, &oc.RequestsPerMinute, &oc.Retry, cfg.OpenAI)
		return openai.NewClient(log, oc)
	case "anthropic":
		ac := anthropic.DefaultConfig()
		applyModel(&ac.APIKey, &ac.BaseURL, &ac.Model, &ac.Temperature, &ac.Timeout, &ac.RequestsPerMinute, &ac.Retry, cfg.Anthropic)
		if cfg.Anthropic.MaxTokens > 0 {
			ac.MaxTokens = cfg.Anthropic.MaxTokens
		}
		return anthropic.NewClient(log, ac)
	case "scripted":
		return loadScript(cfg.ScriptFile)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// applyModel overlays the non-zero settings of m on a client's defaults.
func applyModel(apiKey, baseURL, model *string, temp *float64, timeout *time.Duration, rpm *int, retry *httpx.Retrier, m ModelConfig) {
	*apiKey = m.APIKey
	if m.BaseURL != "" {
		*baseURL = m.BaseURL
	}
	if m.Model != "" {
		*model = m.Model
	}
	if m.Temperature > 0 {
		*temp = m.Temperature
	}
	if m.Timeout > 0 {
		*timeout = m.Timeout
	}
	*rpm = m.RequestsPerMinute
	if m.TransportAttempts > 0 {
		retry.Attempts = m.TransportAttempts
	}
}

// loadScript reads a YAML list of canned responses for dry runs.
func loadScript(path string) (*llm.Scripted, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("scripted provider needs script_file")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var texts []string
	if err := yaml.Unmarshal(raw, &texts); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("script %s has no responses", path)
	}
	return llm.Texts(texts...), nil
}
