// Command api serves the SkillX JSON API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/taosiq/p2pskillx-sub000/config"
	"github.com/taosiq/p2pskillx-sub000/internal/app"
	"github.com/taosiq/p2pskillx-sub000/internal/infrastructure/observability"
	httpapi "github.com/taosiq/p2pskillx-sub000/internal/interface/http"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := newLogger(cfg)
	defer log.Sync()

	log.Info("starting SkillX API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("store", cfg.Store.Driver),
	)

	shutdownTracing, err := observability.InitTracing(ctx, observability.Config{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: cfg.App.Name + "-api",
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
		SampleRatio: cfg.Observability.TracingSampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Backends and services
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	srv := httpapi.NewServer(httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  httpapi.DefaultConfig().IdleTimeout,
		Debug:        cfg.App.Debug,
	}, a.HTTPDependencies())
	errCh := srv.StartAsync()

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error("http server stopped", logger.Err(err))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", logger.Err(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Error("failed to release resources", logger.Err(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", logger.Err(err))
	}
	log.Info("SkillX API stopped")
	return nil
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: true,
	}).With(logger.String("service", cfg.App.Name))
}
