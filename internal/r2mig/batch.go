package r2mig

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	DefaultBatchSize      = 100
	DefaultMaxConcurrency = 8
)

// BatchConfig tunes a BatchProcessor.
type BatchConfig struct {
	// BatchSize groups items for progress reporting. It does not bound
	// parallelism.
	BatchSize      int
	MaxConcurrency int
	Retry          RetryPolicy
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryPolicy
	}
	return c
}

// BatchProcessor moves items from their legacy key to their per-user key.
// For every item it reads and hashes the source, copies it, re-reads and
// hashes the copy, and deletes the source only when the hashes match.
//
// A processor serves one run. Pause, Resume, Cancel and AdjustConcurrency
// may be called from any goroutine while Process is running.
type BatchProcessor struct {
	store   ObjectStore
	cfg     BatchConfig
	logger  Logger
	metrics Metrics
	clock   Clock

	flow    *flowControl
	limiter *limiter

	running atomic.Bool
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64

	mu       sync.Mutex
	errs     []string
	migrated []Item

	progressMu sync.Mutex
}

// NewBatchProcessor validates cfg and builds a processor. A MaxConcurrency
// below 1 (after defaults) is rejected with a *ConcurrencyError.
func NewBatchProcessor(store ObjectStore, cfg BatchConfig, logger Logger, metrics Metrics, clock Clock) (*BatchProcessor, error) {
	cfg = cfg.withDefaults()
	lim, err := newLimiter(cfg.MaxConcurrency)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &BatchProcessor{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
		flow:    newFlowControl(),
		limiter: lim,
	}, nil
}

// Pause stops dispatching new items. In-flight items finish normally.
func (p *BatchProcessor) Pause() {
	if !p.flow.IsPaused() {
		p.logger.Info("migration paused", "in_flight", p.limiter.InFlight())
	}
	p.flow.Pause()
}

// Resume continues dispatching after Pause.
func (p *BatchProcessor) Resume() {
	if p.flow.IsPaused() {
		p.logger.Info("migration resumed")
	}
	p.flow.Resume()
}

// Cancel stops dispatching for good. In-flight items finish normally; items
// not yet dispatched are never touched.
func (p *BatchProcessor) Cancel() {
	if !p.flow.IsCancelled() {
		p.logger.Info("migration cancelled", "in_flight", p.limiter.InFlight())
	}
	p.flow.Cancel()
}

func (p *BatchProcessor) IsPaused() bool    { return p.flow.IsPaused() }
func (p *BatchProcessor) IsCancelled() bool { return p.flow.IsCancelled() }
func (p *BatchProcessor) IsRunning() bool   { return p.running.Load() }

// AdjustConcurrency changes the parallelism bound of a running or future
// Process call. n must be at least 1.
func (p *BatchProcessor) AdjustConcurrency(n int) error {
	if err := p.limiter.SetLimit(n); err != nil {
		return err
	}
	p.logger.Info("concurrency adjusted", "max_concurrency", n)
	return nil
}

// Concurrency returns the current parallelism bound.
func (p *BatchProcessor) Concurrency() int { return p.limiter.Limit() }

// PeakConcurrency returns the highest number of items observed in flight.
func (p *BatchProcessor) PeakConcurrency() int { return p.limiter.Peak() }

// Snapshot returns the live counters. CurrentStatus and the rate fields are
// left for the caller.
func (p *BatchProcessor) Snapshot() Progress {
	success := p.success.Load()
	failed := p.failed.Load()
	return Progress{
		TotalItems:     p.total.Load(),
		ProcessedItems: success + failed,
		SuccessCount:   success,
		ErrorCount:     failed,
		InFlight:       int64(p.limiter.InFlight()),
	}
}

// Process runs every item through copy, verify and delete with bounded
// parallelism and returns once all dispatched items have finished.
// onProgress, if non-nil, is called (never concurrently) each time a chunk of
// BatchSize items completes and once at the end.
func (p *BatchProcessor) Process(ctx context.Context, items []Item, onProgress func(Progress)) (Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Result{}, &ConcurrencyError{Reason: ReasonAlreadyRunning}
	}
	defer p.running.Store(false)

	start := p.clock.Now()
	p.total.Store(int64(len(items)))

	// In-flight items always run to completion, even if ctx is cancelled.
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	dispatched := 0
	stopped := false

	for offset := 0; offset < len(items) && !stopped; offset += p.cfg.BatchSize {
		end := min(offset+p.cfg.BatchSize, len(items))
		chunk := items[offset:end]
		remaining := new(atomic.Int64)
		remaining.Store(int64(len(chunk)))
		chunkNo := offset/p.cfg.BatchSize + 1

		for _, item := range chunk {
			if err := p.acquire(ctx); err != nil {
				if !errors.Is(err, ErrMigrationCancelled) {
					p.flow.Cancel()
					p.logger.Warn("dispatch interrupted", "error", err)
				}
				stopped = true
				break
			}
			dispatched++
			wg.Add(1)
			go func(item Item) {
				defer wg.Done()
				p.processItem(workCtx, item)
				p.limiter.Release()
				p.metrics.InFlight(p.limiter.InFlight())
				if remaining.Add(-1) == 0 {
					p.logger.Info("batch complete", "batch", chunkNo, "size", len(chunk))
					p.reportProgress(onProgress)
				}
			}(item)
			p.metrics.InFlight(p.limiter.InFlight())
		}
	}

	wg.Wait()
	p.reportProgress(onProgress)

	p.mu.Lock()
	res := Result{
		TotalItems:   len(items),
		SuccessCount: int(p.success.Load()),
		ErrorCount:   int(p.failed.Load()),
		Errors:       append([]string(nil), p.errs...),
		Duration:     p.clock.Now().Sub(start),
		Cancelled:    p.flow.IsCancelled(),
		Migrated:     append([]Item(nil), p.migrated...),
	}
	p.mu.Unlock()

	if res.Cancelled {
		p.logger.Warn("migration stopped before all items were dispatched",
			"dispatched", dispatched, "total", len(items))
	}
	return res, nil
}

// acquire blocks until the run is not paused and a permit is free.
func (p *BatchProcessor) acquire(ctx context.Context) error {
	for {
		if err := p.flow.Wait(ctx); err != nil {
			return err
		}
		if err := p.limiter.Acquire(ctx, p.flow.Cancelled()); err != nil {
			return err
		}
		// Pause or cancel may have arrived while waiting for the permit.
		if p.flow.IsCancelled() {
			p.limiter.Release()
			return ErrMigrationCancelled
		}
		if p.flow.IsPaused() {
			p.limiter.Release()
			continue
		}
		return nil
	}
}

func (p *BatchProcessor) reportProgress(onProgress func(Progress)) {
	if onProgress == nil {
		return
	}
	p.progressMu.Lock()
	defer p.progressMu.Unlock()
	onProgress(p.Snapshot())
}

func (p *BatchProcessor) processItem(ctx context.Context, item Item) {
	start := p.clock.Now()
	if err := p.transfer(ctx, item); err != nil {
		p.failed.Add(1)
		p.mu.Lock()
		p.errs = append(p.errs, err.Error())
		p.mu.Unlock()
		p.metrics.ItemProcessed(OutcomeFailed, item.FileSize, p.clock.Now().Sub(start))
		p.logger.Warn("item failed", "old_path", item.OldPath, "new_path", item.NewPath, "error", err)
		return
	}
	p.success.Add(1)
	p.mu.Lock()
	p.migrated = append(p.migrated, item)
	p.mu.Unlock()
	p.metrics.ItemProcessed(OutcomeSuccess, item.FileSize, p.clock.Now().Sub(start))
	p.logger.Debug("item migrated", "old_path", item.OldPath, "new_path", item.NewPath, "user_id", item.UserID)
}

// transfer performs read, copy, verify, delete for one item.
func (p *BatchProcessor) transfer(ctx context.Context, item Item) error {
	var src []byte
	if err := p.retry(ctx, item.OldPath, StageRead, func(ctx context.Context) error {
		var err error
		src, err = p.store.Get(ctx, item.OldPath)
		return err
	}); err != nil {
		return err
	}
	want := sha256.Sum256(src)

	if err := p.retry(ctx, item.OldPath, StageCopy, func(ctx context.Context) error {
		return p.store.Copy(ctx, item.OldPath, item.NewPath)
	}); err != nil {
		return err
	}

	var copied []byte
	if err := p.retry(ctx, item.NewPath, StageVerify, func(ctx context.Context) error {
		var err error
		copied, err = p.store.Get(ctx, item.NewPath)
		return err
	}); err != nil {
		return err
	}
	got := sha256.Sum256(copied)
	if !bytes.Equal(want[:], got[:]) {
		if err := p.store.Delete(ctx, item.NewPath); err != nil {
			p.logger.Warn("removing unverified copy", "new_path", item.NewPath, "error", err)
		}
		return &TransferError{
			Key:      item.OldPath,
			Stage:    StageVerify,
			Attempts: 1,
			Err:      fmt.Errorf("%w: source %x, copy %x", ErrChecksumMismatch, want[:6], got[:6]),
		}
	}

	return p.retry(ctx, item.OldPath, StageDelete, func(ctx context.Context) error {
		return p.store.Delete(ctx, item.OldPath)
	})
}

func (p *BatchProcessor) retry(ctx context.Context, key, stage string, fn func(ctx context.Context) error) error {
	attempts, err := p.cfg.Retry.Do(ctx, fn, func(attempt int, err error) {
		p.metrics.RetryAttempted(stage)
		p.logger.Debug("retrying store operation", "stage", stage, "key", key, "attempt", attempt, "error", err)
	})
	if err != nil {
		return &TransferError{Key: key, Stage: stage, Attempts: attempts, Err: err}
	}
	return nil
}
