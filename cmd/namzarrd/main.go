// Command namzarrd runs the NAM forecast service: a scheduled
// update/retention/check/summary pass plus the admin HTTP endpoints.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	httpadapter "github.com/overcastlabs/nam-zarr-etl/internal/adapter/http"
	"github.com/overcastlabs/nam-zarr-etl/internal/checker"
	"github.com/overcastlabs/nam-zarr-etl/internal/config"
	"github.com/overcastlabs/nam-zarr-etl/internal/domain"
	"github.com/overcastlabs/nam-zarr-etl/internal/nomads"
	"github.com/overcastlabs/nam-zarr-etl/internal/observability"
	"github.com/overcastlabs/nam-zarr-etl/internal/pipeline"
	"github.com/overcastlabs/nam-zarr-etl/internal/retention"
	"github.com/overcastlabs/nam-zarr-etl/internal/summary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ds, err := domain.LookupDataset(cfg.DatasetID)
	if err != nil {
		logger.Error("unknown dataset", "dataset_id", cfg.DatasetID, "error", err)
		os.Exit(1)
	}

	client := nomads.NewClient(cfg.NOMADSBaseURL, cfg.ProbeTimeout, cfg.DownloadTimeout, metrics, logger)
	converter := pipeline.NewConverter(logger, metrics)
	p := pipeline.New(client, client, converter, logger, metrics)

	j := &jobs{
		cfg:        cfg,
		dataset:    ds,
		pipeline:   p,
		retainer:   retention.NewManager(logger, metrics),
		checker:    checker.NewChecker(logger, metrics),
		summarizer: summary.NewGenerator(logger),
		logger:     logger,
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Schedule the recurring pass. SingletonMode keeps a slow run from
	// overlapping the next tick.
	sched := gocron.NewScheduler(time.UTC)
	_, err = sched.Every(cfg.UpdateInterval).SingletonMode().StartImmediately().
		Do(func() { j.run(ctx) })
	if err != nil {
		logger.Error("failed to schedule update job", "error", err)
		os.Exit(1)
	}
	sched.StartAsync()
	logger.Info("service started",
		"dataset", ds.ID,
		"interval", cfg.UpdateInterval,
		"data_dir", cfg.DataDir,
		"http_addr", cfg.HTTPAddr,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// jobs bundles everything one scheduled pass needs.
type jobs struct {
	cfg        *config.Config
	dataset    *domain.Dataset
	pipeline   *pipeline.Pipeline
	retainer   *retention.Manager
	checker    *checker.Checker
	summarizer *summary.Generator
	logger     *slog.Logger
}

// run executes one full pass: update, retention, consistency check, summary.
// The maintenance stages still run when the update fails, so the store stays
// tended while the upstream is unavailable.
func (j *jobs) run(ctx context.Context) {
	if _, err := j.pipeline.Update(ctx, j.dataset, j.cfg.DataDir, false); err != nil {
		j.logger.Error("update failed", "error", err)
	}
	if ctx.Err() != nil {
		return
	}

	policy := retention.Policy{
		MaxAgeHours:    j.cfg.RetentionMaxAgeHours,
		KeepLatestOnly: j.cfg.RetentionKeepLatestOnly,
	}
	if _, err := j.retainer.Apply(ctx, j.cfg.DataDir, policy); err != nil {
		j.logger.Error("retention failed", "error", err)
	}
	if ctx.Err() != nil {
		return
	}

	if _, err := j.checker.CheckAll(ctx, j.cfg.DataDir); err != nil {
		j.logger.Error("consistency check failed", "error", err)
	}
	if ctx.Err() != nil {
		return
	}

	if _, err := j.summarizer.Write(ctx, j.cfg.DataDir, j.cfg.SummaryDir); err != nil {
		j.logger.Error("summary generation failed", "error", err)
	}
}
