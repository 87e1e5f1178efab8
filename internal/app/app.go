// Package app builds the configured pipeline: clients, stores, audit logs, the generation
// engine and the curriculum driver.
package app

import (
	"context"
	"fmt"

	"github.com/yungbote/curriculumgen/internal/generation/engine"
	"github.com/yungbote/curriculumgen/internal/observability"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Services Services

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

type Options struct {
	// Confirmer answers exhausted keys when the policy is "confirm".
	Confirmer engine.Confirmer
	// Logger overrides the logger built from Config.LogMode.
	Logger *logger.Logger
}

func New(ctx context.Context, cfg Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := opts.Logger
	if log == nil {
		l, err := logger.New(cfg.LogMode)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		log = l
	}

	shutdown := observability.InitOTel(ctx, log, cfg.Otel)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	services, err := wireServices(log, cfg, clients, opts.Confirmer)
	if err != nil {
		clients.close(log)
		log.Sync()
		return nil, err
	}

	a := &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Services:     services,
		otelShutdown: shutdown,
	}
	return a, nil
}

// Start launches background helpers such as the metrics endpoint.
func (a *App) Start(ctx context.Context) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.Services.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Clients.close(a.Log)
	a.Log.Sync()
}
