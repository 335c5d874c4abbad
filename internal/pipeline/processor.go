package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
	"github.com/couchcryptid/lake-forcing-etl/internal/observability"
)

// DefaultMaxAttempts bounds retries when the caller passes no limit.
const DefaultMaxAttempts = 3

// Acquirer downloads the raw artifacts of one source family into dir.
type Acquirer interface {
	Acquire(ctx context.Context, req domain.Request, dir string) ([]domain.RawArtifact, error)
}

// Toolchain opens a conversion session scoped to one attempt.
type Toolchain interface {
	Open(ctx context.Context, workDir string) (domain.Converter, error)
}

// GridRegistry resolves lake codes to target grids.
type GridRegistry interface {
	Lookup(lake string) (*domain.Grid, error)
}

// DatasetWriter persists the output dataset.
type DatasetWriter interface {
	Write(ctx context.Context, path string, out *domain.OutputDataset) error
}

// Stages are the collaborators of one Processor.
type Stages struct {
	Grids     GridRegistry
	Radar     Acquirer
	Model     Acquirer
	Toolchain Toolchain
	Writer    DatasetWriter
}

// Processor runs requests end to end: acquire radar, acquire model, derive,
// merge and write, retrying the whole sequence on failure.
type Processor struct {
	layout      Layout
	stages      Stages
	normalizer  domain.Normalizer
	locks       *LockRegistry
	maxAttempts int
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewProcessor creates a Processor rooted at layout.Root.
func NewProcessor(layout Layout, stages Stages, normalizer domain.Normalizer, locks *LockRegistry, maxAttempts int, logger *slog.Logger, metrics *observability.Metrics) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Processor{
		layout:      layout,
		stages:      stages,
		normalizer:  normalizer,
		locks:       locks,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     metrics,
	}
}

// Layout exposes the data root layout.
func (p *Processor) Layout() Layout { return p.layout }

// Locks exposes the identity lock registry.
func (p *Processor) Locks() *LockRegistry { return p.locks }

// Process produces the output file for (t, lake). maxAttempts <= 0 uses the
// processor default. A key that is running or already has output fails with
// a Conflict error before any work starts. Any other failure removes every
// file the attempt created and, if retriable, starts over.
func (p *Processor) Process(ctx context.Context, t time.Time, lake string, maxAttempts int) (domain.Result, error) {
	if maxAttempts <= 0 {
		maxAttempts = p.maxAttempts
	}
	req, err := domain.NewRequest(t, lake)
	if err != nil {
		p.metrics.RequestsTotal.WithLabelValues("invalid").Inc()
		return domain.Result{}, err
	}
	key := req.Key()
	logger := p.logger.With("key", key)

	unlock, ok := p.locks.TryLock(key)
	if !ok {
		p.metrics.RequestsTotal.WithLabelValues("conflict").Inc()
		return domain.Result{Key: key}, domain.ConflictError(key)
	}
	defer unlock()

	held, ok, err := acquireLease(p.layout.LeasePath(key))
	if err != nil {
		p.metrics.RequestsTotal.WithLabelValues("failed").Inc()
		return domain.Result{Key: key}, domain.Wrap(domain.KindUnknown, "acquire lease", err)
	}
	if !ok {
		p.metrics.RequestsTotal.WithLabelValues("conflict").Inc()
		return domain.Result{Key: key}, domain.ConflictError(key)
	}
	defer func() {
		if err := held.Release(); err != nil {
			logger.Warn("lease release failed", "error", err)
		}
	}()

	p.metrics.RequestsInFlight.Inc()
	defer p.metrics.RequestsInFlight.Dec()

	if err := p.checkExisting(key, logger); err != nil {
		p.metrics.RequestsTotal.WithLabelValues(outcomeOf(err)).Inc()
		return domain.Result{Key: key}, err
	}

	grid, err := p.stages.Grids.Lookup(req.Lake)
	if err != nil {
		p.metrics.RequestsTotal.WithLabelValues(outcomeOf(err)).Inc()
		return domain.Result{Key: key}, err
	}

	start := time.Now()
	var lastErr error
	attempts := 0
	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			if _, err := os.Stat(p.layout.OutputPath(key)); err == nil {
				lastErr = domain.ConflictError(key)
				break
			}
		}
		attempts = n
		logger.Info("attempt started", "attempt", n, "max_attempts", maxAttempts)
		path, err := p.attempt(ctx, req, grid, logger)
		if err == nil {
			p.metrics.AttemptsTotal.WithLabelValues("success").Inc()
			p.metrics.RequestsTotal.WithLabelValues("done").Inc()
			res := domain.Result{Key: key, Path: path, Attempts: n, Duration: time.Since(start)}
			logger.Info("request completed", "attempt", n, "path", path, "duration", res.Duration)
			return res, nil
		}

		lastErr = err
		p.metrics.AttemptsTotal.WithLabelValues("failure").Inc()
		logger.Warn("attempt failed", "attempt", n, "kind", domain.KindOf(err).String(), "error", err)
		if cerr := p.cleanup(key); cerr != nil {
			logger.Error("cleanup failed", "attempt", n, "error", cerr)
		}
		if !domain.IsRetriable(err) || ctx.Err() != nil {
			break
		}
	}

	p.metrics.RequestsTotal.WithLabelValues(outcomeOf(lastErr)).Inc()
	logger.Error("request permanently failed", "attempts", attempts, "max_attempts", maxAttempts, "error", lastErr)
	return domain.Result{Key: key, Attempts: attempts}, lastErr
}

// checkExisting fails with Conflict when key already has output. Working
// trees left behind by a process that died mid-attempt are removed; while
// the key's lease is held no live attempt in any process can own them.
func (p *Processor) checkExisting(key string, logger *slog.Logger) error {
	if _, err := os.Stat(p.layout.OutputPath(key)); err == nil {
		return domain.ConflictError(key)
	} else if !errors.Is(err, os.ErrNotExist) {
		return domain.Wrap(domain.KindUnknown, "check output", err)
	}
	for _, dir := range []string{p.layout.StagingDir(key), p.layout.OutputDir(key)} {
		if _, err := os.Stat(dir); err == nil {
			logger.Warn("removing stale working tree", "dir", dir)
			if err := os.RemoveAll(dir); err != nil {
				return domain.Wrap(domain.KindUnknown, "remove stale tree", err)
			}
		}
	}
	return nil
}

// cleanup removes the attempt's working tree. The output directory is kept
// when it already holds a finished file, since a failed attempt never
// writes one.
func (p *Processor) cleanup(key string) error {
	err := os.RemoveAll(p.layout.StagingDir(key))
	if _, serr := os.Stat(p.layout.OutputPath(key)); serr == nil {
		return err
	}
	return errors.Join(err, os.RemoveAll(p.layout.OutputDir(key)))
}

func (p *Processor) attempt(ctx context.Context, req domain.Request, grid *domain.Grid, logger *slog.Logger) (path string, err error) {
	key := req.Key()
	staging := p.layout.StagingDir(key)
	radarDir := filepath.Join(staging, "mrms")
	modelDir := filepath.Join(staging, "hrrr")
	for _, dir := range []string{radarDir, modelDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", domain.Wrap(domain.KindAcquisition, "create staging", err)
		}
	}

	conv, err := p.stages.Toolchain.Open(ctx, staging)
	if err != nil {
		return "", domain.Wrap(domain.KindConversion, "open toolchain", err)
	}
	defer func() {
		if cerr := conv.Close(); cerr != nil {
			logger.Warn("toolchain close failed", "error", cerr)
		}
	}()

	var radar, model *domain.Dataset
	err = p.stage("radar", func() error {
		radar, err = p.branch(ctx, p.stages.Radar, conv, req, grid, radarDir)
		return err
	})
	if err != nil {
		return "", err
	}

	err = p.stage("model", func() error {
		model, err = p.branch(ctx, p.stages.Model, conv, req, grid, modelDir)
		return err
	})
	if err != nil {
		return "", err
	}

	err = p.stage("derive", func() error {
		if err := domain.AddStaticLayers(model, grid); err != nil {
			return err
		}
		return domain.DeriveFields(model, grid)
	})
	if err != nil {
		return "", err
	}

	var out *domain.OutputDataset
	err = p.stage("merge", func() error {
		out, err = domain.Merge(model, radar, grid)
		return err
	})
	if err != nil {
		return "", err
	}

	path = p.layout.OutputPath(key)
	err = p.stage("write", func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return domain.Wrap(domain.KindMerge, "create output dir", err)
		}
		return domain.Wrap(domain.KindMerge, "write output", p.stages.Writer.Write(ctx, path, out))
	})
	if err != nil {
		return "", err
	}

	if err := os.RemoveAll(staging); err != nil {
		logger.Warn("staging cleanup failed", "dir", staging, "error", err)
	}
	logger.Debug("output dataset", "dataset", out.String())
	return path, nil
}

// branch acquires one source family and converts, normalizes and unions
// its artifacts in acquisition order.
func (p *Processor) branch(ctx context.Context, acq Acquirer, conv domain.Converter, req domain.Request, grid *domain.Grid, dir string) (*domain.Dataset, error) {
	arts, err := acq.Acquire(ctx, req, dir)
	if err != nil {
		return nil, domain.Wrap(domain.KindAcquisition, "acquire", err)
	}
	if len(arts) == 0 {
		return nil, domain.Errorf(domain.KindAcquisition, "acquire", "no artifacts for %s", req.Key())
	}
	parts := make([]*domain.Dataset, 0, len(arts))
	for _, art := range arts {
		ds, err := conv.Convert(ctx, art, grid)
		if err != nil {
			return nil, domain.Wrap(domain.KindConversion, "convert", err)
		}
		if ds.Rows != grid.Rows() || ds.Cols != grid.Cols() {
			return nil, domain.Errorf(domain.KindConversion, "convert",
				"%s/%s is %dx%d, grid is %dx%d", art.Provider, art.Product, ds.Rows, ds.Cols, grid.Rows(), grid.Cols())
		}
		norm, err := p.normalizer.Normalize(ds, art.Provenance)
		if err != nil {
			return nil, err
		}
		parts = append(parts, norm)
	}
	return domain.AssembleBranch(domain.KindNormalization, parts...)
}

func (p *Processor) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s stage: %w", name, err)
	}
	return nil
}

func outcomeOf(err error) string {
	switch domain.KindOf(err) {
	case domain.KindConflict:
		return "conflict"
	case domain.KindInvalidRequest:
		return "invalid"
	default:
		return "failed"
	}
}
