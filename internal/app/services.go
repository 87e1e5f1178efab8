package app

import (
	"fmt"
	"strings"

	"github.com/yungbote/curriculumgen/internal/artifacts"
	"github.com/yungbote/curriculumgen/internal/curriculum"
	repos "github.com/yungbote/curriculumgen/internal/data/repos/generation"
	"github.com/yungbote/curriculumgen/internal/generation/audit"
	"github.com/yungbote/curriculumgen/internal/generation/engine"
	"github.com/yungbote/curriculumgen/internal/generation/keylock"
	"github.com/yungbote/curriculumgen/internal/generation/tasks"
	"github.com/yungbote/curriculumgen/internal/observability"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

type Services struct {
	Store    artifacts.Store
	Runs     repos.GenerationRunRepo
	Attempts *audit.MemoryLog
	FileLog  *audit.FileAttemptLog
	Invalid  *audit.FileInvalidSink
	Metrics  *observability.Metrics
	Locker   keylock.Locker
	Tasks    *tasks.Registry
	Engine   *engine.Engine
	Driver   *curriculum.Driver
}

func wireServices(log *logger.Logger, cfg Config, c Clients, confirmer engine.Confirmer) (Services, error) {
	log.Info("Wiring services...")
	var s Services

	store, err := newStore(log, cfg.Store, c)
	if err != nil {
		return s, fmt.Errorf("init artifact store: %w", err)
	}
	s.Store = store
	if c.DB != nil {
		s.Runs = repos.NewGenerationRunRepo(c.DB.DB(), log)
	}

	s.FileLog, err = audit.NewFileAttemptLog(cfg.Audit.LogDir, log)
	if err != nil {
		return s, err
	}
	s.Invalid, err = audit.NewFileInvalidSink(cfg.Audit.InvalidDir, log)
	if err != nil {
		return s, err
	}
	s.Attempts = audit.NewMemoryLog()
	s.Metrics = observability.NewMetrics()

	logs := []engine.AttemptLog{s.FileLog, s.Attempts, s.Metrics}
	if cfg.Audit.Database && s.Runs != nil {
		logs = append(logs, audit.NewRunRepoLog(s.Runs, log))
	}
	if c.Redis != nil && cfg.Redis.Publish {
		logs = append(logs, audit.NewRedisPublisher(c.Redis, cfg.Redis.Channel, log))
	}

	if c.Redis != nil {
		s.Locker = keylock.NewRedis(c.Redis, log, cfg.Redis.Lock)
	} else {
		s.Locker = keylock.NewLocal()
	}

	onExhausted, err := engine.ParsePolicy(cfg.Retry.OnExhausted, confirmer)
	if err != nil {
		return s, err
	}
	s.Engine, err = engine.New(engine.Deps{
		Provider: c.Provider,
		Store:    s.Store,
		Log:      audit.Multi(logs...),
		Invalid:  s.Invalid,
		Locker:   s.Locker,
		Logger:   log,
	}, engine.Policy{
		MaxAttempts:        cfg.Retry.MaxAttempts,
		Backoff:            cfg.Retry.Backoff,
		Deadline:           cfg.Retry.Deadline,
		OnExhausted:        onExhausted,
		FeedbackViolations: cfg.Retry.Feedback,
	})
	if err != nil {
		return s, err
	}

	s.Tasks = tasks.Default()
	s.Driver = curriculum.NewDriver(s.Engine, s.Store, s.Tasks, log, curriculum.DriverConfig{
		Workers:    cfg.Workers,
		InvalidDir: s.Invalid.Dir(),
	})
	return s, nil
}

func newStore(log *logger.Logger, cfg StoreConfig, c Clients) (artifacts.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "fs":
		return artifacts.NewFSStore(cfg.Dir, log)
	case "db":
		if c.DB == nil {
			return nil, fmt.Errorf("store backend db needs a database")
		}
		return artifacts.NewDBStore(repos.NewArtifactRepo(c.DB.DB(), log), log), nil
	case "gcs":
		if c.Bucket == nil {
			return nil, fmt.Errorf("store backend gcs needs a bucket")
		}
		return artifacts.NewGCSStore(c.Bucket, log), nil
	case "memory":
		return artifacts.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
