package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bloom-hub/bloom-progress/config"
	"github.com/bloom-hub/bloom-progress/internal/application/command"
	"github.com/bloom-hub/bloom-progress/internal/application/query"
	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/external/discord"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/metrics"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/persistence/memory"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/persistence/postgres"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/persistence/redis"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/persistence/sqlite"
	"github.com/bloom-hub/bloom-progress/internal/interface/http/handlers"
	"github.com/bloom-hub/bloom-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ══════════════════════════════════════════════════════════════════════════════

// app holds every wired component. close releases them in reverse order.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	ladder progress.Ladder

	store    progress.SessionStore
	stats    progress.CommunityStatsStore
	postgres *postgres.Connection
	cache    *redis.Cache

	registry *prometheus.Registry
	recorder metrics.Recorder
	health   *handlers.CompositeHealthChecker

	getProgress   *query.GetUserProgressHandler
	recordSession *command.RecordSessionHandler
	syncRoles     *command.SyncRolesHandler

	communityStats *query.GetCommunityStatsHandler

	closers []func()
}

// loadConfig reads configuration and installs the default logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.SetupDefault(os.Stdout, logger.Options{
		Format: cfg.Observability.LogFormat,
		Level:  cfg.Observability.LogLevel,
	})
	return cfg, log, nil
}

// newApp connects the store, the cache and the role platform and builds the handlers.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	ladder, err := config.LoadLadder(cfg.Progress.RolesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load role ladders: %w", err)
	}
	a.ladder = ladder

	a.health = handlers.NewCompositeHealthChecker(cfg.App.Version)
	a.registry = prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.recorder = metrics.NewCollector(a.registry)
	} else {
		a.recorder = metrics.Nop{}
	}

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}

	var (
		progressCache progress.ProgressCache
		locker        progress.Locker = memory.NewLocker()
	)
	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(ctx, redisConfig(cfg.Redis))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.cache = cache
		a.closers = append(a.closers, func() { _ = cache.Close() })
		a.health.AddCheck("redis", handlers.PingCheck(cache))

		progressCache = redis.NewProgressCache(cache, cfg.Progress.CacheTTL)
		locker = redis.NewRoleLock(cache, log)
		log.Info("redis connection established")
	} else {
		log.Warn("redis disabled, progress is not cached and role locks are process-local")
	}

	var gateway progress.RoleGateway
	if cfg.Discord.Disabled {
		log.Warn("role platform disabled, role changes are logged only")
		gateway = memory.NewRoleGateway(log)
	} else {
		dc := discord.DefaultClientConfig(cfg.Discord.Token)
		dc.BaseURL = cfg.Discord.BaseURL
		dc.RequestsPerSecond = cfg.Discord.RateLimit
		dc.Burst = cfg.Discord.RateLimitBurst
		dc.Timeout = cfg.Discord.RequestTimeout
		dc.MaxAttempts = cfg.Discord.MaxRetries
		dc.Logger = log
		gateway = discord.NewClient(dc)
	}

	a.getProgress = query.NewGetUserProgressHandler(a.store, progressCache, ladder, a.recorder, log)
	a.syncRoles = command.NewSyncRolesHandler(a.getProgress, gateway, locker, cfg.Progress.LockTTL, a.recorder, log)
	a.recordSession = command.NewRecordSessionHandler(a.store, progressCache, a.syncRoles, a.recorder, log)
	a.communityStats = query.NewGetCommunityStatsHandler(a.stats, ladder.Horizon(), log)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	sc := a.cfg.Store
	switch sc.Driver {
	case config.DriverSQLite:
		repo, err := sqlite.Open(ctx, sc.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.store = repo
		a.stats = repo
		a.closers = append(a.closers, func() { _ = repo.Close() })
		a.health.AddCheck("store", handlers.PingCheck(repo))
		a.log.Info("sqlite store opened", "path", sc.SQLitePath)
		return nil

	default:
		conn, err := a.connectPostgres(ctx)
		if err != nil {
			return err
		}
		a.postgres = conn
		a.closers = append(a.closers, conn.Close)
		a.health.AddCheck("store", handlers.PingCheck(conn))

		if sc.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			a.log.Info("database schema is up to date", "applied", applied)
		}
		repo := postgres.NewSessionRepository(conn, sc.QueryTimeout)
		a.store = repo
		a.stats = repo
		return nil
	}
}

func (a *app) connectPostgres(ctx context.Context) (*postgres.Connection, error) {
	sc := a.cfg.Store
	a.log.Info("connecting to database...")
	conn, err := postgres.NewConnection(ctx, postgres.Config{
		URL:             sc.URL,
		MaxConns:        sc.MaxConns,
		MinConns:        sc.MinConns,
		MaxConnLifetime: sc.ConnMaxLifetime,
		MaxConnIdleTime: sc.ConnMaxIdleTime,
		ConnectAttempts: sc.ConnectAttempts,
		Logger:          a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.log.Info("database connection established")
	return conn, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func redisConfig(rc config.RedisConfig) redis.Config {
	return redis.Config{
		URL:          rc.URL,
		Host:         rc.Host,
		Port:         rc.Port,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		KeyPrefix:    rc.KeyPrefix,
	}
}
