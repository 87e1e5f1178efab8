package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/curriculumgen/internal/clients/gcp"
	"github.com/yungbote/curriculumgen/internal/clients/redis"
	"github.com/yungbote/curriculumgen/internal/data/db"
	"github.com/yungbote/curriculumgen/internal/generation/engine"
	"github.com/yungbote/curriculumgen/internal/generation/keylock"
	"github.com/yungbote/curriculumgen/internal/observability"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
	"github.com/yungbote/curriculumgen/internal/utils"
)

type Config struct {
	LogMode  string                   `yaml:"log_mode"`
	Provider ProviderConfig           `yaml:"provider"`
	Retry    RetryConfig              `yaml:"retry"`
	Store    StoreConfig              `yaml:"store"`
	Database db.Config                `yaml:"database"`
	Redis    RedisConfig              `yaml:"redis"`
	Audit    AuditConfig              `yaml:"audit"`
	Otel     observability.OtelConfig `yaml:"otel"`
	// Workers bounds how many weeks generate concurrently.
	Workers     int    `yaml:"workers"`
	MetricsAddr string `yaml:"metrics_addr"`
	ExportDir   string `yaml:"export_dir"`
}

type ProviderConfig struct {
	// Name is openai, anthropic or scripted.
	Name      string      `yaml:"name"`
	OpenAI    ModelConfig `yaml:"openai"`
	Anthropic ModelConfig `yaml:"anthropic"`
	// ScriptFile feeds the scripted provider one response per YAML list entry.
	ScriptFile string `yaml:"script_file"`
}

type ModelConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	// TransportAttempts bounds the inner HTTP retry; zero keeps the client default of 3.
	TransportAttempts int `yaml:"transport_attempts"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Deadline    time.Duration `yaml:"deadline"`
	// OnExhausted is abort, degrade or confirm. Empty aborts unless the caller picks a
	// default for its context.
	OnExhausted string `yaml:"on_exhausted"`
	Feedback    bool   `yaml:"feedback"`
}

type StoreConfig struct {
	// Backend is fs, db, gcs or memory.
	Backend string           `yaml:"backend"`
	Dir     string           `yaml:"dir"`
	Bucket  gcp.BucketConfig `yaml:"bucket"`
}

type RedisConfig struct {
	redis.Config `yaml:",inline"`
	Lock         keylock.RedisConfig `yaml:"lock"`
	// Publish sends every attempt record to Channel.
	Publish bool `yaml:"publish"`
}

type AuditConfig struct {
	LogDir     string `yaml:"log_dir"`
	InvalidDir string `yaml:"invalid_dir"`
	// Database also records attempts in the generation_run table.
	Database bool `yaml:"database"`
}

func DefaultConfig() Config {
	return Config{
		LogMode:  "development",
		Provider: ProviderConfig{Name: "openai"},
		Retry: RetryConfig{
			MaxAttempts: engine.DefaultMaxAttempts,
			Backoff:     engine.DefaultBackoff,
			Feedback:    true,
		},
		Store:    StoreConfig{Backend: "fs", Dir: "curriculum"},
		Database: db.Config{Driver: "sqlite", DSN: "curriculumgen.db"},
		Audit: AuditConfig{
			LogDir:     "logs",
			InvalidDir: "logs/invalid",
		},
		Otel:      observability.OtelConfig{ServiceName: "curriculumgen"},
		Workers:   1,
		ExportDir: "exports",
	}
}

// LoadConfig layers defaults, the optional YAML file at path, and the environment.
func LoadConfig(path string, log *logger.Logger) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg, log)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config, log *logger.Logger) {
	cfg.LogMode = utils.GetEnv("LOG_MODE", cfg.LogMode, log)
	cfg.Workers = utils.GetEnvAsInt("WORKERS", cfg.Workers, log)
	cfg.MetricsAddr = utils.GetEnv("METRICS_ADDR", cfg.MetricsAddr, log)
	cfg.ExportDir = utils.GetEnv("EXPORT_DIR", cfg.ExportDir, log)

	p := &cfg.Provider
	p.Name = utils.GetEnv("LLM_PROVIDER", p.Name, log)
	p.ScriptFile = utils.GetEnv("LLM_SCRIPT_FILE", p.ScriptFile, log)
	modelEnv(&p.OpenAI, "OPENAI", log)
	modelEnv(&p.Anthropic, "ANTHROPIC", log)

	r := &cfg.Retry
	r.MaxAttempts = utils.GetEnvAsInt("RETRY_MAX_ATTEMPTS", r.MaxAttempts, log)
	r.Backoff = utils.GetEnvAsDuration("RETRY_BACKOFF", r.Backoff, log)
	r.Deadline = utils.GetEnvAsDuration("RETRY_DEADLINE", r.Deadline, log)
	r.OnExhausted = utils.GetEnv("RETRY_ON_EXHAUSTED", r.OnExhausted, log)
	r.Feedback = utils.GetEnvAsBool("RETRY_FEEDBACK", r.Feedback, log)

	s := &cfg.Store
	s.Backend = utils.GetEnv("STORE_BACKEND", s.Backend, log)
	s.Dir = utils.GetEnv("STORE_DIR", s.Dir, log)
	s.Bucket.Name = utils.GetEnv("STORE_BUCKET", s.Bucket.Name, log)
	s.Bucket.Prefix = utils.GetEnv("STORE_BUCKET_PREFIX", s.Bucket.Prefix, log)
	s.Bucket.Credentials = utils.GetEnv("GOOGLE_APPLICATION_CREDENTIALS", s.Bucket.Credentials, log)

	cfg.Database.Driver = utils.GetEnv("DATABASE_DRIVER", cfg.Database.Driver, log)
	cfg.Database.DSN = utils.GetEnv("DATABASE_DSN", cfg.Database.DSN, log)

	cfg.Redis.Addr = utils.GetEnv("REDIS_ADDR", cfg.Redis.Addr, log)
	cfg.Redis.Password = utils.GetEnv("REDIS_PASSWORD", cfg.Redis.Password, log)
	cfg.Redis.DB = utils.GetEnvAsInt("REDIS_DB", cfg.Redis.DB, log)
	cfg.Redis.Channel = utils.GetEnv("REDIS_CHANNEL", cfg.Redis.Channel, log)
	cfg.Redis.Publish = utils.GetEnvAsBool("REDIS_PUBLISH", cfg.Redis.Publish, log)

	cfg.Audit.LogDir = utils.GetEnv("AUDIT_LOG_DIR", cfg.Audit.LogDir, log)
	cfg.Audit.InvalidDir = utils.GetEnv("AUDIT_INVALID_DIR", cfg.Audit.InvalidDir, log)
	cfg.Audit.Database = utils.GetEnvAsBool("AUDIT_DATABASE", cfg.Audit.Database, log)

	o := &cfg.Otel
	o.Enabled = utils.GetEnvAsBool("OTEL_ENABLED", o.Enabled, log)
	o.Endpoint = utils.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", o.Endpoint, log)
	o.Insecure = utils.GetEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", o.Insecure, log)
	if h := observability.ParseHeaders(utils.GetEnv("OTEL_EXPORTER_OTLP_HEADERS", "", log)); h != nil {
		o.Headers = h
	}
	o.Environment = utils.GetEnv("OTEL_ENVIRONMENT", o.Environment, log)
}

func modelEnv(m *ModelConfig, prefix string, log *logger.Logger) {
	m.APIKey = utils.GetEnv(prefix+"_API_KEY", m.APIKey, log)
	m.BaseURL = utils.GetEnv(prefix+"_BASE_URL", m.BaseURL, log)
	m.Model = utils.GetEnv(prefix+"_MODEL", m.Model, log)
	m.Timeout = utils.GetEnvAsDuration(prefix+"_TIMEOUT", m.Timeout, log)
	m.RequestsPerMinute = utils.GetEnvAsInt(prefix+"_RPM", m.RequestsPerMinute, log)
}

// Validate rejects settings that would only fail later, mid-batch.
func (c Config) Validate() error {
	switch strings.ToLower(c.Provider.Name) {
	case "openai", "anthropic", "scripted":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	switch strings.ToLower(c.Store.Backend) {
	case "fs", "db", "gcs", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if strings.EqualFold(c.Store.Backend, "gcs") && strings.TrimSpace(c.Store.Bucket.Name) == "" {
		return fmt.Errorf("store backend gcs needs a bucket name")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Retry.Backoff < 0 || c.Retry.Deadline < 0 {
		return fmt.Errorf("retry backoff and deadline must not be negative")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	return nil
}
