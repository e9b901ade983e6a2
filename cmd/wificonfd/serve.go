package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	"wificonf/internal/policy"
	"wificonf/internal/repository"
	"wificonf/internal/web"
)

func runServe(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	logger.Info("wificonfd starting", "version", version)

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	bus := repository.NewEventBus(logger)
	loop := repository.NewLoop(a.repo, bus, logger)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go loop.Run(loopCtx)
	defer func() {
		stopLoop()
		<-loop.Done()
	}()

	// Subscribers attach before the load so they see store_loaded.
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	if cfg.Web.Metrics {
		webOpts = append(webOpts, web.WithMetrics(a.registry))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webServer := web.NewServer(loop, bus, logger, webOpts...)
	defer webServer.Stop()

	mqtt := initMQTT(bus, loop, cfg, logger)
	defer mqtt.Stop()

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = loop.Do(loadCtx, func(r *repository.Repository) error { return r.Load() })
	cancel()
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	var watcher *policy.Watcher
	if cfg.PolicyFile != "" {
		watcher, err = policy.NewWatcher(cfg.PolicyFile, func(p policy.Policy) {
			applyCtx, cancel := context.WithTimeout(loopCtx, 5*time.Second)
			defer cancel()
			if err := loop.Do(applyCtx, func(r *repository.Repository) error {
				r.SetPolicy(p)
				return nil
			}); err != nil {
				logger.Error("apply policy", "err", err)
			}
		}, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(loopCtx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	sched, err := newScheduler(loopCtx, loop, cfg.Store.FlushInterval, logger)
	if err != nil {
		return err
	}
	sched.Start()

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig)
	case <-ctx.Done():
		logger.Info("shutting down", "err", ctx.Err())
	}
	signal.Stop(sigCh)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sched.Shutdown(); err != nil {
		logger.Error("scheduler shutdown", "err", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	if err := loop.Do(shutdownCtx, func(r *repository.Repository) error { return r.Flush(true) }); err != nil {
		logger.Error("final flush", "err", err)
	}

	logger.Info("goodbye")
	return nil
}

// newScheduler registers the periodic flush and the one-shot reboot
// counter update.
func newScheduler(ctx context.Context, loop *repository.Loop, interval time.Duration, logger *slog.Logger) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	run := func(name string, fn func(*repository.Repository) error) func() {
		return func() {
			jobCtx, cancel := context.WithTimeout(ctx, interval)
			defer cancel()
			if err := loop.Do(jobCtx, fn); err != nil {
				logger.Error("scheduled job failed", "job", name, "err", err)
			}
		}
	}

	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(run("flush", func(r *repository.Repository) error { return r.Flush(false) })),
		gocron.WithName("flush"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("schedule flush: %w", err)
	}
	if _, err := s.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(run("reboot_counts", func(r *repository.Repository) error {
			r.IncrementRebootCounts()
			return nil
		})),
		gocron.WithName("reboot_counts"),
	); err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("schedule reboot counts: %w", err)
	}
	return s, nil
}
