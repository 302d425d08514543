package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/docrag-backend/internal/data/db"
	"github.com/yungbote/docrag-backend/internal/data/repos"
	"github.com/yungbote/docrag-backend/internal/observability"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/temporalx/ingestflow"
)

type Options struct {
	// Worker wires the OCR client, the scheduler and the ingestion pipeline.
	// Without it only retrieval is available.
	Worker      bool
	ServiceName string
}

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    repos.Repos
	Clients  *Clients
	Services *Services
	Metrics  *observability.Metrics

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.ConfigFile != "" {
		log.Info("Loaded pipeline config file", "path", cfg.ConfigFile)
	}

	a := &App{Log: log, Cfg: cfg, Metrics: observability.Init()}
	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "docrag"
	}
	a.otelShutdown = observability.InitOTel(ctx, log, observability.ResolveOtelConfigFromEnv(serviceName))

	pg, err := db.NewPostgresService(log, db.ResolvePostgresConfigFromEnv())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	a.pg = pg
	a.DB = pg.DB()
	if err := db.AutoMigrateAll(a.DB); err != nil {
		a.Close()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	a.Repos = wireRepos(a.DB, log)

	if a.Clients, err = wireClients(ctx, log, cfg, opts.Worker); err != nil {
		a.Close()
		return nil, err
	}
	if a.Services, err = wireServices(log, cfg, a.Repos, a.Clients, a.Metrics); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Start runs the metrics endpoint, registers the scan schedule and starts
// polling the task queue. It returns once the worker is polling.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.Services == nil || a.Services.Runner == nil {
		return fmt.Errorf("app not initialized as a worker")
	}
	if a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Metrics.Serve(ctx, a.Log, a.Cfg.MetricsAddr)
	if err := ingestflow.EnsureScanSchedule(ctx, a.Clients.Temporal, a.Services.Temporal.TaskQueue, a.Cfg.Pipeline.ScanCron, a.Log); err != nil {
		return err
	}
	return a.Services.Runner.Start(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
