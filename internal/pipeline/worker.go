package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
	"github.com/couchcryptid/lake-forcing-etl/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw request messages from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// BatchLoader publishes completion events.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// RequestProcessor runs one request to completion.
type RequestProcessor interface {
	Process(ctx context.Context, t time.Time, lake string, maxAttempts int) (domain.Result, error)
}

// Worker consumes request messages, processes them one at a time and
// publishes a completion event for each.
type Worker struct {
	extractor BatchExtractor
	processor RequestProcessor
	loader    BatchLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// NewWorker creates a Worker with the given stages and observability.
func NewWorker(e BatchExtractor, p RequestProcessor, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Worker{
		extractor: e,
		processor: p,
		loader:    l,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil while the worker is running and its last
// exchange with the broker succeeded.
func (w *Worker) CheckReadiness(_ context.Context) error {
	if !w.ready.Load() {
		return errors.New("request worker is not consuming")
	}
	return nil
}

// Run consumes requests until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("request worker started", "batch_size", w.batchSize)
	w.metrics.WorkerRunning.Set(1)
	defer w.metrics.WorkerRunning.Set(0)
	w.ready.Store(true)
	defer w.ready.Store(false)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("request worker stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !w.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch runs one extract-process-publish cycle. Returns false if the
// worker should stop.
func (w *Worker) processBatch(ctx context.Context, backoff *time.Duration) bool {
	rawBatch, err := w.extractor.ExtractBatch(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		w.ready.Store(false)
		w.logger.Error("extract batch failed", "error", err)
		return w.backoffOrStop(ctx, backoff)
	}
	w.ready.Store(true)
	*backoff = initialBackoff

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	outBatch := make([]domain.OutputEvent, 0, len(rawBatch))
	handled := make([]domain.RawEvent, 0, len(rawBatch))
	for _, raw := range rawBatch {
		out, ok := w.handle(ctx, raw)
		if ctx.Err() != nil {
			// Uncommitted messages are redelivered after restart.
			break
		}
		if !ok {
			w.commitOffset(ctx, raw)
			continue
		}
		outBatch = append(outBatch, out)
		handled = append(handled, raw)
	}

	if len(outBatch) > 0 && !w.load(ctx, outBatch, backoff) {
		return false
	}
	for _, raw := range handled {
		w.commitOffset(ctx, raw)
	}
	return ctx.Err() == nil
}

// handle processes one request message. It returns false for messages that
// cannot be parsed; those produce no completion event.
func (w *Worker) handle(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, bool) {
	req, err := domain.ParseRawEvent(raw)
	if err != nil {
		w.logger.Warn("invalid request message, skipping",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		w.metrics.WorkerMessages.WithLabelValues("invalid").Inc()
		return domain.OutputEvent{}, false
	}

	res, perr := w.processor.Process(ctx, req.Time, req.Lake, 0)
	ev := domain.NewCompletionEvent(req, res, perr)
	w.metrics.WorkerMessages.WithLabelValues(string(ev.Status)).Inc()

	out, err := domain.SerializeCompletion(ev)
	if err != nil {
		w.logger.Error("serialize completion failed", "key", req.Key(), "error", err)
		return domain.OutputEvent{}, false
	}
	return out, true
}

// load publishes the completion events, retrying with backoff until it
// succeeds or the context ends.
func (w *Worker) load(ctx context.Context, events []domain.OutputEvent, backoff *time.Duration) bool {
	for {
		err := w.loader.LoadBatch(ctx, events)
		if err == nil {
			*backoff = initialBackoff
			return true
		}
		w.ready.Store(false)
		w.logger.Error("load batch failed", "error", err, "batch_size", len(events))
		if !w.backoffOrStop(ctx, backoff) {
			return false
		}
	}
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the worker should stop.
func (w *Worker) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sharedretry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = sharedretry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (w *Worker) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		w.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
