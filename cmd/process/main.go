// Command process runs a single request to completion and prints the output
// path.
//
// Usage:
//
//	go run ./cmd/process -time 2024-01-10T12:00:00Z -lake m
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/fetch"
	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/gridstore"
	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/hrrr"
	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/mrms"
	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/lake-forcing-etl/internal/adapter/wgrib2"
	"github.com/couchcryptid/lake-forcing-etl/internal/config"
	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
	"github.com/couchcryptid/lake-forcing-etl/internal/observability"
	"github.com/couchcryptid/lake-forcing-etl/internal/pipeline"
)

func main() {
	timestamp := flag.String("time", "", "reference time, RFC 3339 or ISO 8601 (UTC if no zone)")
	lake := flag.String("lake", "", "lake code, e.g. m")
	attempts := flag.Int("attempts", 0, "maximum attempts (default MAX_ATTEMPTS)")
	flag.Parse()

	if *timestamp == "" || *lake == "" {
		flag.Usage()
		os.Exit(2)
	}
	os.Exit(run(*timestamp, *lake, *attempts))
}

func run(timestamp, lake string, attempts int) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	logger := observability.NewLogger(cfg)

	t, err := domain.ParseTimestamp(timestamp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -time: %v\n", err)
		return 2
	}

	grids, err := gridstore.Load(cfg.GridsConfig, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load grid registry: %v\n", err)
		return 1
	}

	metrics := observability.NewMetrics()
	toolchain := wgrib2.New(cfg.Wgrib2Path, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := toolchain.CheckReadiness(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "converter unavailable: %v\n", err)
		return 1
	}

	client := fetch.NewClient(cfg.DownloadTimeout, metrics, logger)
	proc := pipeline.NewProcessor(pipeline.Layout{Root: cfg.DataRoot}, pipeline.Stages{
		Grids: grids,
		Radar: mrms.NewAcquirer(mrms.Mirrors{
			ArchiveURL: cfg.MRMSArchiveURL,
			CloudURL:   cfg.MRMSCloudURL,
			Cutover:    cfg.MRMSCutover,
		}, client, logger),
		Model:     hrrr.NewAcquirer(cfg.HRRRBaseURL, client, logger),
		Toolchain: toolchain,
		Writer:    netcdf.NewWriter(logger),
	}, domain.Normalizer{ReflectivityFloor: cfg.ReflectivityFloor}, pipeline.NewLockRegistry(), cfg.MaxAttempts, logger, metrics)

	res, err := proc.Process(ctx, t, lake, attempts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "process %s: %v\n", lake, err)
		if domain.KindOf(err) == domain.KindConflict {
			return 3
		}
		return 1
	}
	fmt.Printf("%s\t%s\t%d attempt(s)\t%s\n", res.Key, res.Path, res.Attempts, res.Duration.Round(time.Millisecond))
	return 0
}
