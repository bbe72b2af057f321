package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/lexicon-backend/internal/data/db"
	"github.com/yungbote/lexicon-backend/internal/jobs/schedule"
	"github.com/yungbote/lexicon-backend/internal/observability"
	"github.com/yungbote/lexicon-backend/internal/platform/envutil"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
	"github.com/yungbote/lexicon-backend/internal/services"
	"github.com/yungbote/lexicon-backend/internal/temporalx/temporalworker"
)

// Mode selects which clients New dials.
type Mode string

const (
	ModeServe  Mode = "serve"
	ModePoll   Mode = "poll"
	ModeWorker Mode = "worker"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Services Services
	Clients  Clients

	otelShutdown func(context.Context) error
}

// NewLogger builds the process logger from LOG_MODE.
func NewLogger() (*logger.Logger, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

func New(ctx context.Context, log *logger.Logger, mode Mode) (*App, error) {
	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	if mode == ModeServe {
		if err := cfg.validateServe(); err != nil {
			return nil, err
		}
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	theDB, err := openDB(log, cfg)
	if err != nil {
		return nil, err
	}

	clients, err := wireClients(log, cfg, mode == ModeWorker)
	if err != nil {
		return nil, err
	}
	reposet := wireRepos(theDB, log)
	serviceset, err := wireServices(theDB, log, cfg, reposet, clients)
	if err != nil {
		clients.Close()
		return nil, err
	}

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		Clients:      clients,
		otelShutdown: otelShutdown,
	}, nil
}

func openDB(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	theDB, err := db.Open(cfg.DBDriver, cfg.SQLitePath, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := db.AutoMigrateAll(theDB); err != nil {
			return nil, err
		}
	}
	return theDB, nil
}

// Migrate opens the configured database and applies the schema without wiring anything else.
func Migrate(log *logger.Logger) error {
	cfg := LoadConfig(log)
	theDB, err := db.Open(cfg.DBDriver, cfg.SQLitePath, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrateAll(theDB); err != nil {
		return err
	}
	log.Info("Schema migrated", "driver", cfg.DBDriver)
	return nil
}

// Serve runs the HTTP API and, when POLL_SCHEDULE is set, the in-process poll driver.
// It returns once ctx is cancelled and the server has drained.
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.DB == nil {
		return fmt.Errorf("app not initialized")
	}
	if mode := strings.ToLower(envutil.String("LOG_MODE", "development")); mode == "prod" || mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	handlers := wireHandlers(a.Log, a.DB, a.Services)
	middleware := wireMiddleware(a.Log, a.Cfg)
	server := wireServer(a.Log, a.Cfg, handlers, middleware)

	scheduler := schedule.NewPollScheduler(a.Log, a.Services.Poller)
	if err := scheduler.Start(ctx, a.Cfg.PollSchedule); err != nil {
		return err
	}
	defer scheduler.Stop()

	addr := net.JoinHostPort("", a.Cfg.Port)
	a.Log.Info("Server listening", "address", addr)
	return server.Run(ctx, addr)
}

// PollOnce runs a single poll tick, for external cron drivers.
func (a *App) PollOnce(ctx context.Context) (services.TickReport, error) {
	if a == nil || a.Services.Poller == nil {
		return services.TickReport{}, fmt.Errorf("app not initialized")
	}
	return a.Services.Poller.Tick(ctx)
}

// RunWorker hosts the Temporal poll workflow until ctx is cancelled.
func (a *App) RunWorker(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Clients.Temporal == nil {
		return errors.New("worker requires TEMPORAL_ADDRESS")
	}
	runner, err := temporalworker.NewRunner(a.Log, a.Cfg.Temporal, a.Clients.Temporal, a.Services.Poller)
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("start temporal worker: %w", err)
	}
	<-ctx.Done()
	a.Log.Info("Temporal worker stopping")
	return nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	a.Log.Sync()
}
