// Command worker runs SkillX background jobs. Today that is the counter
// reconciliation sweep, which repairs follower, following and enrollment
// counters that drifted after partial failures.
//
// Operators also use it for one-off credit top-ups:
//
//	worker -grant-user <id> -grant-amount 50
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/taosiq/p2pskillx-sub000/config"
	"github.com/taosiq/p2pskillx-sub000/internal/app"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/observability"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/scheduler"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

func main() {
	var opts options
	flag.BoolVar(&opts.once, "once", false, "run every job once and exit")
	flag.StringVar(&opts.grantUser, "grant-user", "", "grant credits to this user and exit")
	flag.IntVar(&opts.grantAmount, "grant-amount", 0, "number of credits to grant with -grant-user")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	once        bool
	grantUser   string
	grantAmount int
}

func run(ctx context.Context, opts options) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: true,
	}).With(logger.String("service", cfg.App.Name+"-worker"))
	defer log.Sync()

	log.Info("starting SkillX worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("store", cfg.Store.Driver),
		logger.String("timezone", cfg.App.Timezone),
	)

	shutdownTracing, err := observability.InitTracing(ctx, observability.Config{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: cfg.App.Name + "-worker",
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
		SampleRatio: cfg.Observability.TracingSampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Backends and jobs
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error("failed to release resources", logger.Err(err))
		}
	}()

	if opts.grantUser != "" {
		adj, err := a.Accounts.GrantCredits(ctx, opts.grantUser, opts.grantAmount)
		if err != nil {
			return fmt.Errorf("failed to grant credits: %w", err)
		}
		log.Info("grant applied",
			logger.UserID(opts.grantUser),
			logger.Int("previous", adj.Previous),
			logger.Int("new", adj.New),
		)
		return nil
	}

	sched := scheduler.New(scheduler.Config{
		Logger:         log,
		Timezone:       cfg.App.Location,
		MaxHistorySize: 100,
	})
	sweeper := a.Sweeper()
	if err := sched.Register(sweeper, cfg.Scheduler.ReconcileSpec); err != nil {
		return fmt.Errorf("failed to register %s: %w", sweeper.Name(), err)
	}
	sched.OnJobComplete(func(r scheduler.JobResult) {
		if !r.Success {
			return
		}
		if st := sweeper.LastStats(); st != nil {
			log.Info("reconciliation summary",
				logger.Int("users_scanned", st.UsersScanned),
				logger.Int("users_repaired", st.UsersRepaired),
				logger.Int("courses_scanned", st.CoursesScanned),
				logger.Int("courses_repaired", st.CoursesRepaired),
				logger.Int("failed", st.Failed),
			)
		}
	})

	if opts.once {
		res, err := sched.RunNow(ctx, sweeper.Name())
		if err != nil {
			return err
		}
		return res.Error
	}

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Run until signalled
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("scheduler started", logger.String("reconcile_spec", cfg.Scheduler.ReconcileSpec))

	<-ctx.Done()
	log.Info("received shutdown signal")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		log.Error("scheduler did not stop cleanly", logger.Err(err))
	}
	log.Info("SkillX worker stopped")
	return nil
}
