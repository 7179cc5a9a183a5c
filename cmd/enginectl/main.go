// Command enginectl is the composition root for one forgeloop
// container host: it parses a flat config map from flags/env, builds
// one container, brings it up, mounts a Prometheus /metrics endpoint,
// and runs a cron schedule for the abandoned-session sweep until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"forgeloop/internal/core/container"
	"forgeloop/pkg/logger"
	"forgeloop/pkg/metrics"
)

// Exit codes per spec.md §6.
const (
	exitSuccess        = 0
	exitConfigError    = 2
	exitPluginFailure  = 3
	exitRuntimeAborted = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		name         = flag.String("name", envDefault("ENGINECTL_NAME", "default"), "container id")
		maxEntities  = flag.Int("ecs.max-entities", 0, "override the max entity count (0 keeps the default)")
		tickBudgetMs = flag.Int("gameloop.tick-budget-ms", 0, "override the per-tick budget in milliseconds")
		autoStart    = flag.Bool("autostart", true, "start the container immediately")
		playInterval = flag.Duration("play-interval", 100*time.Millisecond, "auto-advance interval once started, 0 disables auto-play")
		sweepCron    = flag.String("session.sweep-cron", envDefault("ENGINECTL_SWEEP_CRON", "@every 1m"), "cron schedule for the abandoned-session sweep")
		metricsAddr  = flag.String("metrics-addr", envDefault("ENGINECTL_METRICS_ADDR", ":9090"), "address to serve /metrics on, empty disables it")
		logLevel     = flag.String("log.level", envDefault("LOG_LEVEL", "info"), "log level (trace|debug|info|warn|error)")
		logFormat    = flag.String("log.format", envDefault("LOG_FORMAT", "text"), "log format (text|json)")
	)
	flag.Parse()

	log := logger.New(logger.Config{Level: *logLevel, Format: *logFormat, Output: "stdout"})
	entry := log.ForContainer(*name)

	kv := map[string]string{"name": *name}
	if *maxEntities > 0 {
		kv["ecs.max-entities"] = fmt.Sprintf("%d", *maxEntities)
	}
	if *tickBudgetMs > 0 {
		kv["gameloop.tick-budget-ms"] = fmt.Sprintf("%d", *tickBudgetMs)
	}

	cfg := container.FromConfigMap(container.DefaultConfig(*name), kv)
	if cfg.Name == "" {
		entry.Error("config error: container name must not be empty")
		return exitConfigError
	}

	mgr := container.NewManager(log)
	c, err := mgr.Create(cfg)
	if err != nil {
		entry.WithError(err).Error("failed to create container")
		return exitPluginFailure
	}

	if *autoStart {
		if err := c.Start(); err != nil {
			entry.WithError(err).Error("failed to start container")
			return exitPluginFailure
		}
		if *playInterval > 0 {
			if err := c.Play(*playInterval); err != nil {
				entry.WithError(err).Error("failed to begin auto-play")
				return exitPluginFailure
			}
		}
	}
	entry.WithField("state", c.State().String()).Info("container started")

	sched := cron.New()
	if _, err := sched.AddFunc(*sweepCron, func() {
		swept := mgr.SweepAbandoned()
		if swept > 0 {
			entry.WithField("swept", swept).Info("abandoned sessions swept")
		}
	}); err != nil {
		entry.WithError(err).Error("invalid sweep cron schedule")
		return exitConfigError
	}
	sched.Start()
	defer sched.Stop()

	var srv *http.Server
	if strings.TrimSpace(*metricsAddr) != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			entry.WithField("addr", *metricsAddr).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				entry.WithError(err).Error("metrics server failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	entry.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}

	if errs := mgr.StopAll(shutdownCtx); len(errs) > 0 {
		for _, e := range errs {
			entry.WithError(e).Error("container failed to stop cleanly")
		}
		return exitRuntimeAborted
	}

	entry.Info("shutdown complete")
	return exitSuccess
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
