// Package main is the entry point of the skillforge progress engine.
//
// The process serves the HTTP API on top of one storage driver (memory,
// postgres or sqlite). With Redis enabled, snapshots are cached and per-user
// locks are shared across instances, engine events are fanned out over
// pub/sub, and catalog changes made elsewhere are reloaded locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/skillforge/config"
	"github.com/alem-hub/skillforge/internal/application/command"
	"github.com/alem-hub/skillforge/internal/application/engine"
	"github.com/alem-hub/skillforge/internal/application/eventhandler"
	"github.com/alem-hub/skillforge/internal/application/query"
	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/progress"
	"github.com/alem-hub/skillforge/internal/domain/selfreport"
	"github.com/alem-hub/skillforge/internal/infrastructure/messaging"
	"github.com/alem-hub/skillforge/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/skillforge/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/skillforge/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/skillforge/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/skillforge/internal/infrastructure/seed"
	"github.com/alem-hub/skillforge/internal/infrastructure/tracing"
	httpserver "github.com/alem-hub/skillforge/internal/interface/http"
	"github.com/alem-hub/skillforge/internal/interface/http/handlers"
	"github.com/alem-hub/skillforge/pkg/circuitbreaker"
	"github.com/alem-hub/skillforge/pkg/logger"
	"github.com/alem-hub/skillforge/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	flags := pflag.NewFlagSet("skillforge", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to config.yaml")
	seedPath := flags.String("seed", "", "catalog seed file, overrides engine.seed_file")
	_ = flags.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *seedPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// storage bundles the driver-specific repositories.
type storage struct {
	catalog  catalog.Repository
	events   progress.EventLog
	requests selfreport.Repository
	ping     handlers.HealthCheckFunc
	close    func()
}

func run(ctx context.Context, configPath, seedPath string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if seedPath != "" {
		cfg.Engine.SeedFile = seedPath
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING & TRACING
	// ─────────────────────────────────────────────────────────────────────────
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.FilePath = cfg.Observability.LogPath
	opts.MaxSizeMB = cfg.Observability.LogMaxSizeMB
	opts.MaxBackups = cfg.Observability.LogMaxBackups
	opts.MaxAgeDays = cfg.Observability.LogMaxAgeDays
	opts.CompressFiles = true
	log := logger.New(opts)
	defer func() { _ = log.Sync() }()

	log.Info("starting skillforge",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("storage", cfg.Storage.Driver),
		logger.Bool("redis", cfg.Redis.Enabled),
	)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: cfg.App.Name,
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
		Endpoint:    cfg.Observability.TracingEndpoint,
		Insecure:    cfg.Observability.TracingInsecure,
		SampleRatio: cfg.Observability.TracingSampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if store.ping != nil {
		health.AddCheck(cfg.Storage.Driver, store.ping)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS, LOCKS & SNAPSHOT CACHE
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      cfg.Engine.AsyncEvents,
		WorkerPoolSize: cfg.Engine.WorkerPoolSize,
		Logger:         log,
	})
	defer func() { _ = bus.Close() }()
	health.AddInfo("event_bus", func() any { return bus.Metrics().Snapshot() })

	achievements := eventhandler.NewOnAchievementHandler(log, eventhandler.DefaultFeedConfig())
	if err := achievements.Register(bus); err != nil {
		return fmt.Errorf("failed to subscribe achievement feed: %w", err)
	}

	var (
		locker engine.Locker        = memory.NewKeyedLocker()
		cache  engine.SnapshotCache = memory.NewSnapshotCache()
		remote *redis.Publisher
	)
	g, gctx := errgroup.WithContext(ctx)

	cat := catalog.New(store.catalog)

	if cfg.Redis.Enabled {
		log.Info("connecting to Redis...", logger.String("addr", cfg.Redis.Addr))
		rcfg := redis.DefaultConfig()
		rcfg.Addr = cfg.Redis.Addr
		rcfg.Password = cfg.Redis.Password
		rcfg.DB = cfg.Redis.DB
		if cfg.Redis.PoolSize > 0 {
			rcfg.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MinIdleConns > 0 {
			rcfg.MinIdleConns = cfg.Redis.MinIdleConns
		}
		if cfg.Redis.DialTimeout > 0 {
			rcfg.DialTimeout = cfg.Redis.DialTimeout
		}
		if cfg.Redis.ReadTimeout > 0 {
			rcfg.ReadTimeout = cfg.Redis.ReadTimeout
		}
		if cfg.Redis.WriteTimeout > 0 {
			rcfg.WriteTimeout = cfg.Redis.WriteTimeout
		}

		client, err := retry.DoWithData(ctx, func(ctx context.Context) (*goredis.Client, error) {
			return redis.NewClient(ctx, rcfg)
		}, retryLogged(log, "redis"))
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() { _ = client.Close() }()
		health.AddCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })

		locker = redis.NewLocker(client, cfg.Redis.LockTTL, 0, log)
		breaker := circuitbreaker.New("redis-snapshots",
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			}),
		)
		cache = engine.NewGuardedCache(redis.NewSnapshotCache(client, cfg.Engine.SnapshotTTL), breaker)
		health.AddInfo("snapshot_cache", func() any {
			return map[string]any{"state": breaker.State().String(), "counts": breaker.Counts()}
		})
		remote = redis.NewPublisher(client)
		if err := bus.SubscribeAll(messaging.Forward(remote)); err != nil {
			return fmt.Errorf("failed to forward events to redis: %w", err)
		}

		reload := redis.CatalogReloader(cat, remote.Source(), log.Named("catalog"))
		g.Go(func() error {
			return redis.Subscribe(gctx, client, log.Named("pubsub"), reload)
		})
		log.Info("redis connected", logger.String("instance", remote.Source()))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. CATALOG & ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	if err := cat.Load(ctx); err != nil {
		return err
	}
	if cfg.Engine.SeedFile != "" {
		if err := seed.Apply(ctx, cat, cfg.Engine.SeedFile, log); err != nil {
			return err
		}
	}

	eng := engine.New(cat, store.events, cache, locker, bus, log, engine.Config{
		Policy:      engine.Policy{RetainThrottled: cfg.Engine.RetainThrottled},
		LockTimeout: cfg.Engine.LockTimeout,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(httpserver.Config{
		Host:               cfg.HTTP.Host,
		Port:               cfg.HTTP.Port,
		ReadTimeout:        cfg.HTTP.ReadTimeout,
		WriteTimeout:       cfg.HTTP.WriteTimeout,
		IdleTimeout:        cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:     httpserver.DefaultConfig().MaxHeaderBytes,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		RateLimitBurst:     cfg.HTTP.RateLimitBurst,
		Tracing:            cfg.Observability.TracingEnabled,
		ServiceName:        cfg.App.Name,
	}, httpserver.Dependencies{
		Catalog:                command.NewCatalogHandler(eng, log),
		SubmitPointEvent:       command.NewSubmitPointEventHandler(eng),
		SubmitSelfReport:       command.NewSubmitSelfReportHandler(eng, store.requests, log),
		ResolveSelfReport:      command.NewResolveSelfReportHandler(eng, store.requests, log),
		GetUserProgress:        query.NewGetUserProgressHandler(eng),
		GetUserBadges:          query.NewGetUserBadgesHandler(eng),
		GetDependencyStatus:    query.NewGetDependencyStatusHandler(eng),
		GetPointHistory:        query.NewGetPointHistoryHandler(eng),
		ListPendingSelfReports: query.NewListPendingSelfReportsHandler(store.requests),
		Achievements:           achievements,
		HealthChecker:          health,
		Logger:                 log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 7. RUN UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("skillforge stopped")
	return nil
}

// openStorage connects the configured driver and returns its repositories.
func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		log.Info("connecting to database...")
		pgcfg := postgres.Config{
			URL:             cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  cfg.Database.ConnectTimeout,
		}
		conn, err := retry.DoWithData(ctx, func(ctx context.Context) (*postgres.Connection, error) {
			return postgres.NewConnection(ctx, pgcfg)
		}, retryLogged(log, "postgres"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			log.Info("running database migrations...")
			migrator := postgres.NewMigrator(conn)
			if err := migrator.Migrate(ctx); err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			status, err := migrator.Status(ctx)
			if err != nil {
				log.Warn("failed to get migration status", logger.Err(err))
			} else {
				applied := 0
				for _, m := range status {
					if m.IsApplied {
						applied++
					}
				}
				log.Info("migrations completed", logger.Int("applied", applied), logger.Int("total", len(status)))
			}
		}
		return &storage{
			catalog:  postgres.NewCatalogRepository(conn),
			events:   postgres.NewEventLog(conn),
			requests: postgres.NewSelfReportRepository(conn),
			ping:     handlers.NewPingCheck(conn),
			close: func() {
				log.Info("closing database connection...")
				conn.Close()
			},
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return &storage{
			catalog:  sqlite.NewCatalogRepository(db),
			events:   sqlite.NewEventLog(db),
			requests: sqlite.NewSelfReportRepository(db),
			ping:     handlers.NewPingCheck(db),
			close:    func() { _ = db.Close() },
		}, nil

	default:
		return &storage{
			catalog:  memory.NewCatalogRepository(),
			events:   memory.NewEventLog(),
			requests: memory.NewSelfReportRepository(),
			close:    func() {},
		}, nil
	}
}

// retryLogged logs each failed connection attempt before the backoff sleep.
func retryLogged(log *logger.Logger, target string) retry.Option {
	return retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		log.Warn("connection attempt failed, retrying",
			logger.String("target", target),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})
}
