// Package app wires configuration into the storage, cache, notification and
// service objects shared by the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/api"
	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/cache"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduling/internal/slotgrid"
)

type Options struct {
	// Migrate applies the embedded schema after connecting to Postgres.
	Migrate bool
}

type App struct {
	Config   config.Config
	Logger   zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Pool  *pgxpool.Pool // nil with the memory store
	Redis *redis.Client // nil when nothing needs Redis

	Repo    appointment.Repository
	Service *appointment.Service
	Locker  redisclient.Locker
}

func New(ctx context.Context, cfg config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	grid, err := slotgrid.NewGrid(cfg.Policy)
	if err != nil {
		return nil, err
	}

	if err := a.connect(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	svcOpts := []appointment.Option{
		appointment.WithLogger(log),
		appointment.WithMetrics(a.Metrics),
		appointment.WithNotifier(a.notifier()),
	}
	if c := a.snapshotCache(); c != nil {
		svcOpts = append(svcOpts, appointment.WithCache(c))
	}
	a.Service = appointment.NewService(a.Repo, grid, cfg, svcOpts...)

	log.Info().
		Str("store", cfg.StoreBackend).
		Str("cache", cfg.CacheBackend).
		Int("capacity", cfg.MaxSlotsPerTime).
		Int("slots_per_day", len(grid.Slots())).
		Msg("appointment service ready")

	return a, nil
}

func (a *App) connect(ctx context.Context, opts Options) error {
	cfg := a.Config

	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
			MaxConns:    cfg.PostgresMaxConns,
			LockTimeout: cfg.PostgresLockTimeout,
			AppName:     "clinic-scheduling",
		})
		cancel()
		if err != nil {
			return fmt.Errorf("postgres connection error: %w", err)
		}
		a.Pool = pool
		a.Logger.Info().Msg("connected to Postgres")

		if opts.Migrate {
			if err := db.Migrate(ctx, pool, a.Logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		a.Repo = appointment.NewPgRepository(pool)
	default:
		a.Logger.Warn().Msg("using in-memory store, data is lost on restart and not shared between processes")
		a.Repo = appointment.NewMemoryRepository()
	}

	// Several processes share Postgres, so they also need Redis for the sweep lock.
	needRedis := cfg.StoreBackend == config.StoreBackendPostgres || cfg.CacheBackend == config.CacheBackendRedis
	if !needRedis {
		a.Locker = redisclient.NewLocalLocker()
		return nil
	}

	rdb, err := redisclient.NewRedisClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("redis connection error: %w", err)
	}
	a.Redis = rdb
	a.Locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	a.Logger.Info().Msg("connected to Redis")
	return nil
}

func (a *App) snapshotCache() appointment.SnapshotCache {
	switch a.Config.CacheBackend {
	case config.CacheBackendRedis:
		return redisclient.NewSnapshotCache(a.Redis, a.Config.AvailabilityCacheTTL)
	case config.CacheBackendMemory:
		return cache.NewMemory(a.Config.AvailabilityCacheTTL)
	default:
		return nil
	}
}

func (a *App) notifier() appointment.Notifier {
	var sender notify.Sender
	if a.Config.SMTP.Enabled() {
		sender = notify.NewSMTPSender(a.Config.SMTP)
	} else {
		sender = notify.NewLogSender(a.Logger)
	}
	return notify.NewEmailNotifier(a.Config.ClinicName, sender)
}

// Dependencies returns the readiness checks for whatever this process connected to.
func (a *App) Dependencies() []api.Dependency {
	var deps []api.Dependency
	if a.Pool != nil {
		deps = append(deps, api.Dependency{Name: "postgres", Check: a.Pool.Ping, Critical: true})
	}
	if a.Redis != nil {
		rdb := a.Redis
		deps = append(deps, api.Dependency{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	return deps
}

// Close waits for in-flight notifications and releases connections.
func (a *App) Close() {
	if a.Service != nil {
		a.Service.WaitNotifications()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("error closing redis")
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
