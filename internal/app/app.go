// Package app assembles the SkillX services from configuration. Both the
// API server and the worker start from New.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/taosiq/p2pskillx-sub000/config"
	"github.com/taosiq/p2pskillx-sub000/internal/application/account"
	"github.com/taosiq/p2pskillx-sub000/internal/application/catalog"
	"github.com/taosiq/p2pskillx-sub000/internal/application/credit"
	"github.com/taosiq/p2pskillx-sub000/internal/application/enrollment"
	"github.com/taosiq/p2pskillx-sub000/internal/application/feed"
	"github.com/taosiq/p2pskillx-sub000/internal/application/recommend"
	"github.com/taosiq/p2pskillx-sub000/internal/application/reconcile"
	"github.com/taosiq/p2pskillx-sub000/internal/application/social"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/messaging"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/persistence/memory"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/persistence/mongodb"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/persistence/postgres"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/persistence/redis"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/service"
	httpapi "github.com/taosiq/p2pskillx-sub000/internal/interface/http"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

// Pub/sub channel names.
const (
	NotificationsChannel = "notifications"
	EventsChannel        = "events"
)

// App holds the wired services. Cache is nil when Redis is disabled.
type App struct {
	Config *config.Config
	Log    *logger.Logger
	Store  store.Store
	Cache  *redis.Cache
	Events *messaging.InMemoryEventBus
	Health *httpapi.HealthChecker

	Ledger     *credit.Ledger
	Notifier   *service.StoreNotifier
	Social     *social.Manager
	Enrollment *enrollment.Manager
	Accounts   *account.Service
	Catalog    *catalog.Service
	Feed       *feed.Service
	Ranker     *recommend.Ranker

	closers []func(context.Context) error
}

// New connects the configured backends and builds every service. On error
// whatever was opened is closed again.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{Config: cfg, Log: log, Health: httpapi.NewHealthChecker(cfg.App.Version)}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openCache(ctx); err != nil {
		return nil, err
	}
	if err := a.wire(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Store.Driver {
	case config.DriverMemory:
		a.Log.Warn("using in-memory document store, data is lost on exit")
		a.Store = memory.New()
		a.Health.AddCheck("store", func(context.Context) error { return nil })

	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = int32(cfg.Database.MaxConns)
		pgCfg.MinConns = int32(cfg.Database.MinConns)
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { conn.Close(); return nil })
		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		a.Store = postgres.NewDocumentStore(conn, a.Log)
		a.Health.AddCheck("store", conn.Ping)

	case config.DriverMongo:
		ms, err := mongodb.Connect(ctx, mongodb.Config{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		}, a.Log)
		if err != nil {
			return fmt.Errorf("failed to connect to mongo: %w", err)
		}
		a.closers = append(a.closers, ms.Close)
		a.Store = ms
		a.Health.AddCheck("store", ms.Ping)

	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	a.Log.Info("document store ready", logger.String("driver", cfg.Store.Driver))
	return nil
}

func (a *App) openCache(ctx context.Context) error {
	rc := a.Config.Redis
	if rc.Disabled {
		a.Log.Info("redis disabled: no enrollment lock, recommendation cache or pub/sub")
		return nil
	}
	cache, err := redis.NewCache(ctx, redis.Config{
		URL:          rc.URL,
		Addr:         rc.Addr(),
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		MaxRetries:   3,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.Cache = cache
	a.closers = append(a.closers, func(context.Context) error { return cache.Close() })
	a.Health.AddCheck("redis", cache.Ping)
	return nil
}

func (a *App) wire() error {
	cfg, log, st := a.Config, a.Log, a.Store

	a.Events = messaging.NewInMemoryEventBus(messaging.Config{AsyncMode: true, WorkerPoolSize: 10, Logger: log})
	a.closers = append(a.closers, func(context.Context) error { return a.Events.Close() })

	var notifierOpts []service.NotifierOption
	if a.Cache != nil {
		notifierOpts = append(notifierOpts, service.WithChannel(a.Cache, redis.PubSubChannel(NotificationsChannel)))
	}
	a.Notifier = service.NewStoreNotifier(st, log, notifierOpts...)
	a.Ledger = credit.NewLedger(st, log)

	a.Social = social.NewManager(st, a.Notifier, log, social.WithEvents(a.Events))

	enrollOpts := []enrollment.Option{
		enrollment.WithConfig(enrollment.Config{
			LazyCreateProfile: cfg.Enrollment.LazyCreateProfile,
			LockTTL:           cfg.Enrollment.LockTTL,
		}),
		enrollment.WithEvents(a.Events),
	}
	rankOpts := []recommend.Option{recommend.WithLimit(cfg.Recommend.Limit)}
	if a.Cache != nil {
		enrollOpts = append(enrollOpts, enrollment.WithLocker(redis.NewLocker(a.Cache)))
		recCache := redis.NewRecommendationCache(a.Cache)
		rankOpts = append(rankOpts, recommend.WithCache(recCache, cfg.Recommend.CacheTTL))

		if err := SubscribeInvalidation(a.Events, recCache, log); err != nil {
			return err
		}
		if err := a.Events.SubscribeAll(messaging.NewForwarder(a.Cache, redis.PubSubChannel(EventsChannel)).Handle); err != nil {
			return err
		}
	}
	a.Enrollment = enrollment.NewManager(st, a.Ledger, a.Notifier, log, enrollOpts...)
	a.Ranker = recommend.NewRanker(st, log, rankOpts...)

	a.Accounts = account.NewService(st, a.Ledger, log, account.WithReconciler(a.Social), account.WithEvents(a.Events))
	a.Catalog = catalog.NewService(st, a.Notifier, log, catalog.WithEvents(a.Events))
	a.Feed = feed.NewService(st, a.Notifier, log, feed.WithEvents(a.Events))
	return nil
}

// HTTPDependencies returns the services the API router needs.
func (a *App) HTTPDependencies() httpapi.Dependencies {
	return httpapi.Dependencies{
		Accounts:    a.Accounts,
		Catalog:     a.Catalog,
		Feed:        a.Feed,
		Graph:       a.Social,
		Enroller:    a.Enrollment,
		Recommender: a.Ranker,
		Inbox:       a.Notifier,
		Health:      a.Health,
		Logger:      a.Log,
	}
}

// Sweeper builds the counter reconciliation job.
func (a *App) Sweeper() *reconcile.Sweeper {
	sc := a.Config.Scheduler
	cfg := reconcile.DefaultConfig()
	cfg.BatchSize = sc.BatchSize
	if sc.Concurrency > 0 {
		cfg.Concurrency = sc.Concurrency
	}
	if sc.JobTimeout > 0 {
		cfg.Timeout = sc.JobTimeout
	}
	cfg.MaxFailureRatio = sc.MaxFailureRatio
	return reconcile.NewSweeper(a.Store, a.Social, a.Enrollment, a.Log, cfg)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
