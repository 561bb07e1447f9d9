package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/H51976/roombox-fyp/common/database"
	rediscommon "github.com/H51976/roombox-fyp/common/redis"
	"github.com/H51976/roombox-fyp/internal/config"
	"github.com/H51976/roombox-fyp/internal/events"
	"github.com/H51976/roombox-fyp/internal/gateway"
	"github.com/H51976/roombox-fyp/internal/repository"
	"github.com/H51976/roombox-fyp/internal/service"
	"github.com/H51976/roombox-fyp/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// App lifecycle components wired from configuration, shared by roombox-api and roombox-ctl.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB       *sqlx.DB
	Postgres *repository.PostgresLedger
	Ledger   repository.LedgerStore
	Redis    *redis.Client
	Cache    *store.AvailabilityCache

	Signer     *gateway.Signer
	Engine     *service.LifecycleEngine
	Queries    *service.QueryService
	Reconciler *service.Reconciler
}

type Options struct {
	// RequireDB fail instead of falling back to the in-memory ledger
	RequireDB bool
}

// New connects to Postgres and Redis as configured. Without a database the in-memory ledger
// is used; without Redis events are dropped and the availability cache is off.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			if opts.RequireDB {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}
			logger.Warn("DB enabled but connection failed, falling back to memory ledger", zap.Error(err))
		} else {
			a.DB = db
			a.Postgres = repository.NewPostgresLedger(db, logger)
			a.Ledger = a.Postgres
			logger.Info("DB enabled for roombox", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.Database))
		}
	} else if opts.RequireDB {
		return nil, errors.New("database is disabled (DB_ENABLED=false)")
	}
	if a.Ledger == nil {
		a.Ledger = repository.NewMemoryLedger()
		logger.Warn("Using in-memory ledger; data is lost on restart")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Redis.Enabled {
		client := rediscommon.NewRedisClient(&cfg.Redis.RedisConfig)
		if err := rediscommon.Ping(ctx, client, 3*time.Second); err != nil {
			logger.Warn("Redis unavailable, lifecycle events and availability cache disabled",
				zap.String("addr", cfg.Redis.Addr),
				zap.Error(err),
			)
			_ = client.Close()
		} else {
			a.Redis = client
			a.Cache = store.NewAvailabilityCache(store.NewRedisKV(client), time.Duration(cfg.Redis.AvailabilityTTLSeconds)*time.Second)
			publisher = events.NewRedisStreamPublisher(client, cfg.Events.Stream, cfg.Events.MaxLen)
		}
	}

	a.Signer = gateway.NewSigner(gateway.Config{
		SecretKey:   cfg.Gateway.SecretKey,
		ProductCode: cfg.Gateway.ProductCode,
		FormURL:     cfg.Gateway.FormURL,
	})

	engineOpts := []service.EngineOption{service.WithPublisher(publisher)}
	if a.Cache != nil {
		engineOpts = append(engineOpts, service.WithAvailabilityCache(a.Cache))
	}
	a.Engine = service.NewLifecycleEngine(a.Ledger, a.Signer, logger, service.EngineOptions{
		AllowRejectApproved: cfg.Lifecycle.AllowRejectApproved,
		ExpirePending:       cfg.Lifecycle.ExpirePending,
		SuccessURL:          cfg.Gateway.SuccessURL,
		FailureURL:          cfg.Gateway.FailureURL,
	}, engineOpts...)
	a.Queries = service.NewQueryService(a.Ledger, a.Cache, logger)

	statusClient := gateway.NewStatusClient(cfg.Gateway.StatusURL, cfg.Gateway.ProductCode, logger)
	a.Reconciler = service.NewReconciler(a.Engine, a.Ledger, statusClient, logger)
	return a, nil
}

// Migrate applies the ledger schema; a no-op for the in-memory ledger.
func (a *App) Migrate(ctx context.Context) error {
	if a.Postgres == nil {
		return nil
	}
	return a.Postgres.Migrate(ctx)
}

// SweepOptions background sweep schedule from the lifecycle config
func (a *App) SweepOptions() service.SweepOptions {
	return service.SweepOptions{
		Interval:       a.Config.Lifecycle.SweepInterval,
		ReconcileAfter: a.Config.Lifecycle.ReconcileAfter,
		PendingTTL:     a.Config.Lifecycle.PendingTTL,
		BatchSize:      int(a.Config.Events.BatchSize),
	}
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := rediscommon.Close(a.Redis); err != nil {
			a.Logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := database.Close(a.DB); err != nil {
			a.Logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}
