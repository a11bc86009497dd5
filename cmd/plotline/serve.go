package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	httpadapter "github.com/bft-labs/plotline/internal/adapters/http"
	"github.com/bft-labs/plotline/internal/adapters/redisstats"
	"github.com/bft-labs/plotline/internal/adapters/sqlitecatalog"
	"github.com/bft-labs/plotline/internal/api"
	"github.com/bft-labs/plotline/internal/app"
	"github.com/bft-labs/plotline/internal/guard"
	"github.com/bft-labs/plotline/internal/metrics"
	"github.com/bft-labs/plotline/internal/recovery"
	"github.com/bft-labs/plotline/pkg/log"
	"github.com/bft-labs/plotline/plugins/hookwatcher"
	"github.com/bft-labs/plotline/plugins/journalcleanup"
)

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Recover jobs, then serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), c)
		},
	}
}

func serve(parent context.Context, c *cli) error {
	cfg := c.cfg
	logger := c.logger

	logger.Info("configuration",
		log.String("jobs_dir", cfg.JobsDir),
		log.String("hooks_file", cfg.HooksFile),
		log.String("listen", cfg.ListenAddr),
		log.String("catalog_db", cfg.CatalogDB),
		log.String("redis_addr", cfg.RedisAddr),
	)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	var deps guard.Dependencies
	if cfg.CatalogDB != "" {
		catalog, err := sqlitecatalog.Open(cfg.CatalogDB)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer catalog.Close()
		deps.Catalog = catalog
		deps.Checklist = catalog
	}
	if cfg.DeviceURL != "" {
		deps.Device = httpadapter.NewDeviceClient(cfg.DeviceURL, httpClient, logger)
	}
	if cfg.CameraURL != "" {
		deps.Camera = httpadapter.NewCameraProbe(cfg.CameraURL, httpClient, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithGuardDependencies(deps),
		app.WithMetrics(reg),
		hookwatcher.WithDefaultHookWatcher(),
		journalcleanup.WithJournalCleanup(journalcleanup.Config{
			Schedule:  cfg.JournalCleanupSchedule,
			Keep:      cfg.JournalKeep,
			Threshold: cfg.JournalThreshold,
		}),
	}
	var apiOpts []api.Option

	if cfg.RedisAddr != "" {
		stats := redisstats.New(redisstats.Options{Addr: cfg.RedisAddr})
		defer stats.Close()
		pingCtx, cancel := context.WithTimeout(parent, cfg.HTTPTimeout)
		if err := stats.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable, statistics writes will fail until it is up", log.Err(err))
		}
		cancel()
		opts = append(opts, app.WithStatistics(stats))
		apiOpts = append(apiOpts, api.WithStats(stats))
	}

	engine, err := app.New(cfg.EngineConfig(), opts...)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	ctx, stop := context.WithCancel(parent)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	rep := engine.RecoveryReport()
	logger.Info("engine started",
		log.Int("recovered", len(rep.Recovered)),
		log.Int("repaired", len(rep.Repaired)),
		log.Int("failed", len(rep.Failed)),
	)
	for id, reason := range rep.Failed {
		logger.Warn("job not recovered", log.String("job_id", id), log.String("error", reason))
	}

	var signaled atomic.Bool
	stopSignals := engine.Coordinator().HandleSignals(ctx, func(sig os.Signal) {
		signaled.Store(true)
		stop()
	})
	defer stopSignals()

	apiOpts = append(apiOpts,
		api.WithLogger(logger),
		api.WithMetrics(metrics.Handler(reg)),
		api.WithWebSocket(http.HandlerFunc(engine.Hub().ServeWS)),
	)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(engine, apiOpts...).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", log.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		logger.Error("http server failed", log.Err(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", log.Err(err))
	}

	reason := recovery.ReasonExit
	if signaled.Load() {
		reason = recovery.ReasonSignal
	}
	if err := engine.Shutdown(reason); err != nil {
		return fmt.Errorf("stop engine: %w", err)
	}
	logger.Info("stopped", log.String("reason", reason))
	return serveErr
}
