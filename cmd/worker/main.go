// Package main is the entry point for the long-running crawl worker. It runs
// the scheduled discovery, scrape and cleanup jobs and serves health, metrics
// and job status over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/alqutdigital/funding-crawler/internal/api"
	"github.com/alqutdigital/funding-crawler/internal/api/handlers"
	"github.com/alqutdigital/funding-crawler/internal/app"
	"github.com/alqutdigital/funding-crawler/internal/config"
	"github.com/alqutdigital/funding-crawler/internal/crawler"
	"github.com/alqutdigital/funding-crawler/internal/scheduler"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/alqutdigital/funding-crawler/pkg/shutdown"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	log.SetDefault()

	log.Info("starting crawl worker", "version", Version, "build_time", BuildTime)

	shutdownHandler := shutdown.New(log.Logger, cfg.Worker.ShutdownTimeout)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialise crawler: %w", err)
	}
	for _, c := range a.Components() {
		shutdownHandler.RegisterNamed(c.Name, c.Close)
	}

	sched, err := scheduler.New(schedulerConfig(cfg), a.Orchestrator, log)
	if err != nil {
		_ = shutdownHandler.Shutdown()
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	sched.Start()
	shutdownHandler.RegisterNamed("scheduler", sched.Stop)

	routerCfg := api.DefaultRouterConfig()
	routerCfg.Version = Version
	router := api.NewRouter(routerDependencies(a, sched, log), routerCfg)

	serverCfg := api.DefaultServerConfig()
	serverCfg.Port = cfg.Worker.Port
	server := api.NewServer(router, serverCfg, log)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
			cancel()
		}
	}()
	shutdownHandler.RegisterNamed("http_server", server.Shutdown)

	log.Info("worker started",
		"http_addr", server.Addr(),
		"quick", cfg.Schedule.Quick,
		"full", cfg.Schedule.Full,
		"cleanup", cfg.Schedule.Cleanup,
	)

	if err := shutdownHandler.Wait(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("worker stopped")
	return nil
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	sc := scheduler.DefaultConfig()
	sc.Quick = cfg.Schedule.Quick
	sc.Full = cfg.Schedule.Full
	sc.Cleanup = cfg.Schedule.Cleanup
	sc.QuickBudget = cfg.Schedule.QuickBudget
	sc.Retention = cfg.Schedule.SnapshotRetention
	sc.Run = crawler.RunOptions{
		Targets:    cfg.Run.TargetInstitutions,
		Mode:       cfg.Run.DiscoveryMode,
		CycleOnly:  true,
		ShortCycle: cfg.Run.ShortCycle,
		ScrapeOnly: cfg.Run.ScrapeOnly,
		MaxURLs:    cfg.Run.MaxURLs,
	}
	return sc
}

func routerDependencies(a *app.App, sched *scheduler.Scheduler, log *logger.Logger) api.Dependencies {
	deps := api.Dependencies{
		Logger:  log,
		Jobs:    sched,
		Metrics: a.Orchestrator.Metrics(),
		States:  a.States,
		Readiness: map[string]handlers.HealthChecker{
			"archive":    nil,
			"page_cache": nil,
			"events":     nil,
		},
	}
	if a.Archive != nil {
		deps.Readiness["archive"] = a.Archive
	}
	if a.Cache != nil {
		deps.Cache = a.Cache
		deps.Readiness["page_cache"] = handlers.HealthFunc(func(context.Context) error {
			if !a.Cache.IsHealthy() {
				return errors.New("redis unreachable")
			}
			return nil
		})
	}
	if a.NATS != nil {
		deps.Readiness["events"] = handlers.HealthFunc(func(context.Context) error {
			if !a.NATS.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
	}
	return deps
}
