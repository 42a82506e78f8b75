package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JonMunkholm/cdmtriage/internal/config"
	"github.com/JonMunkholm/cdmtriage/internal/core"
	"github.com/JonMunkholm/cdmtriage/internal/logging"
	"github.com/JonMunkholm/cdmtriage/internal/store"
	"github.com/JonMunkholm/cdmtriage/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	policy, err := cfg.ResolvePolicy()
	if err != nil {
		return err
	}

	ctx := context.Background()
	events, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer events.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	src := core.NewTimeSeededSource()
	if cfg.Simulation.Seed != 0 {
		src = core.NewSource(cfg.Simulation.Seed)
	}
	slog.Info("random source ready", "seed", src.Seed())

	service, err := core.NewService(events, cfg.ServiceConfig(policy),
		core.WithSource(src),
		core.WithMetrics(core.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	server := web.NewServer(service, cfg, reg)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	if cfg.Retriage.Enabled {
		go service.StartRetriageScheduler(jobCtx, cfg.Retriage.Interval)
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.ImportLimiterStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	slog.Info("server stopped")
	return nil
}
