package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/lake-forcing-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Sweeper removes output directories that have outlived the retention age.
type Sweeper struct {
	layout  Layout
	locks   *LockRegistry
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewSweeper(layout Layout, locks *LockRegistry, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{layout: layout, locks: locks, clock: clock, logger: logger, metrics: metrics}
}

// Sweep deletes every directory under the data root whose modification time
// is more than olderThan ago and returns the removed names. The staging area
// and keys held by an in-flight request in any process are never touched. A
// failure to remove one directory does not stop the sweep.
func (s *Sweeper) Sweep(olderThan time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.layout.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read data root: %w", err)
	}

	cutoff := s.clock.Now().Add(-olderThan)
	var deleted []string
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || name == StagingName || s.locks.Held(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		held, ok, err := acquireLease(s.layout.LeasePath(name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		err = os.RemoveAll(filepath.Join(s.layout.Root, name))
		if rerr := held.Release(); rerr != nil {
			s.logger.Warn("lease release failed", "dir", name, "error", rerr)
		}
		if err != nil {
			s.logger.Error("retention delete failed", "dir", name, "error", err)
			errs = append(errs, err)
			continue
		}
		s.logger.Info("deleted expired output", "dir", name, "age", s.clock.Since(info.ModTime()).Round(time.Minute))
		s.metrics.RetentionDeleted.Inc()
		deleted = append(deleted, name)
	}
	return deleted, errors.Join(errs...)
}

// Scheduler runs a job once a day at a fixed UTC hour.
type Scheduler struct {
	clock  clockwork.Clock
	hour   int
	job    func(ctx context.Context)
	logger *slog.Logger
}

func NewScheduler(clock clockwork.Clock, hour int, job func(ctx context.Context), logger *slog.Logger) *Scheduler {
	return &Scheduler{clock: clock, hour: hour, job: job, logger: logger}
}

// Run blocks until ctx is cancelled, invoking the job at each scheduled time.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.clock.Now()
		next := NextRun(now, s.hour)
		s.logger.Info("retention scheduled", "next_run", next)

		timer := s.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.Chan():
		}
		s.job(ctx)
	}
}

// NextRun returns the first hour:00 UTC strictly after now.
func NextRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
