package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/fetch"
	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/gridstore"
	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/hrrr"
	httpadapter "github.com/couchcryptid/lake-forcing-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/lake-forcing-etl/internal/adapter/kafka"
	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/mrms"
	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/wgrib2"
	"github.com/couchcryptid/lake-forcing-etl/internal/config"
	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
	"github.com/couchcryptid/lake-forcing-etl/internal/observability"
	"github.com/couchcryptid/lake-forcing-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
)

// readiness is ready when every check passes.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	grids, err := gridstore.Load(cfg.GridsConfig, logger)
	if err != nil {
		logger.Error("failed to load grid registry", "path", cfg.GridsConfig, "error", err)
		os.Exit(1)
	}
	logger.Info("grid registry loaded", "lakes", grids.Lakes())

	client := fetch.NewClient(cfg.DownloadTimeout, metrics, logger)
	toolchain := wgrib2.New(cfg.Wgrib2Path, logger)
	layout := pipeline.Layout{Root: cfg.DataRoot}
	locks := pipeline.NewLockRegistry()

	proc := pipeline.NewProcessor(layout, pipeline.Stages{
		Grids: grids,
		Radar: mrms.NewAcquirer(mrms.Mirrors{
			ArchiveURL: cfg.MRMSArchiveURL,
			CloudURL:   cfg.MRMSCloudURL,
			Cutover:    cfg.MRMSCutover,
		}, client, logger),
		Model:     hrrr.NewAcquirer(cfg.HRRRBaseURL, client, logger),
		Toolchain: toolchain,
		Writer:    netcdf.NewWriter(logger),
	}, domain.Normalizer{ReflectivityFloor: cfg.ReflectivityFloor}, locks, cfg.MaxAttempts, logger, metrics)

	sweeper := pipeline.NewSweeper(layout, locks, clockwork.NewRealClock(), logger, metrics)
	ready := readiness{toolchain}

	var (
		reader *kafkaadapter.Reader
		writer *kafkaadapter.Writer
		worker *pipeline.Worker
	)
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		worker = pipeline.NewWorker(reader, proc, writer, logger, metrics, cfg.BatchSize)
		ready = append(ready, worker)
		logger.Info("request topic intake enabled", "topic", cfg.KafkaRequestTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("request topic intake disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Processor: proc,
		Sweeper:   sweeper,
		History:   httpadapter.NewHistory(cfg.HistorySize),
		Layout:    layout,
		Ready:     ready,
		Retention: cfg.RetentionAge,
	}, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start daily retention.
	if cfg.RetentionEnabled {
		sched := pipeline.NewScheduler(clockwork.NewRealClock(), cfg.RetentionHour, func(context.Context) {
			if _, _, err := srv.Cleanup(cfg.RetentionAge); err != nil {
				logger.Error("scheduled cleanup failed", "error", err)
			}
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Run(ctx); err != nil {
				logger.Error("retention scheduler error", "error", err)
			}
		}()
	}

	// Start request topic worker.
	if worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil {
				logger.Error("request worker error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	wg.Wait()
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
