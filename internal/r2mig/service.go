package r2mig

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"r2mig/internal/database/sqlc"
)

// maxErrorDetails caps the errors persisted in migration_log.error_details.
const maxErrorDetails = 50

// Backup snapshots the database before objects are moved.
type Backup interface {
	// Create writes a backup labelled with the run ID and returns its path.
	Create(ctx context.Context, label string) (string, error)
}

// ServiceConfig holds the tunables of MigrationService.
type ServiceConfig struct {
	Batch        BatchConfig
	URLBatchSize int
	Exclude      []string

	// ControlPollInterval is how often a running migration re-reads its
	// migration_log row to pick up pause, resume and stop requests made by
	// other processes. Zero disables polling.
	ControlPollInterval time.Duration

	// CreatedBy is recorded when StartOptions.CreatedBy is empty.
	CreatedBy string
}

// activeRun is the migration running in this process.
type activeRun struct {
	logID   int64
	runID   string
	proc    *BatchProcessor
	started time.Time
}

// MigrationService orchestrates a migration run and exposes the operator
// controls. At most one run is active per service, and Start refuses to
// begin while another unfinished run is recorded in the database.
type MigrationService struct {
	db      Database
	store   ObjectStore
	backup  Backup
	logger  Logger
	clock   Clock
	ids     IDGenerator
	metrics Metrics
	cfg     ServiceConfig

	targets *TargetIdentifier
	updater *DatabaseUpdater

	mu     sync.Mutex
	active *activeRun
}

// NewMigrationService wires a service. backup may be nil, in which case no
// pre-run snapshot is taken.
func NewMigrationService(db Database, store ObjectStore, backup Backup, logger Logger, clock Clock, ids IDGenerator, metrics Metrics, cfg ServiceConfig) *MigrationService {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	cfg.Batch = cfg.Batch.withDefaults()
	if cfg.URLBatchSize <= 0 {
		cfg.URLBatchSize = DefaultURLBatchSize
	}
	if cfg.CreatedBy == "" {
		cfg.CreatedBy = "system"
	}

	return &MigrationService{
		db:      db,
		store:   store,
		backup:  backup,
		logger:  logger,
		clock:   clock,
		ids:     ids,
		metrics: metrics,
		cfg:     cfg,
		targets: NewTargetIdentifier(store, db, NewExcludeMatcher(cfg.Exclude), logger),
		updater: NewDatabaseUpdater(db, store, logger, metrics, clock),
	}
}

// Updater exposes the receipt_url updater for statistics and inspection.
func (s *MigrationService) Updater() *DatabaseUpdater { return s.updater }

// Start runs a migration to completion and returns its outcome. The result
// is never nil. A non-nil error means the run aborted before or instead of
// transferring objects; per-item failures are reported in the result only.
func (s *MigrationService) Start(ctx context.Context, opts StartOptions) (*StartResult, error) {
	start := s.clock.Now()
	res := &StartResult{DryRun: opts.DryRun}
	abort := func(err error, what string) (*StartResult, error) {
		res.Success = false
		res.Message = fmt.Sprintf("%s: %v", what, err)
		res.DurationMS = s.clock.Now().Sub(start).Milliseconds()
		s.logger.Error("migration aborted", "stage", what, "kind", KindOf(err), "error", err)
		return res, err
	}

	if err := s.reserve(); err != nil {
		return abort(err, "migration already running")
	}
	defer s.release()

	if existing, err := s.db.FindUnfinishedMigration(ctx, MigrationType); err != nil {
		return abort(&PreValidationError{Check: "migration_log", Err: err}, "pre-validation failed")
	} else if existing != nil {
		return abort(&ConcurrencyError{Reason: ReasonAlreadyRunning, ActiveLogID: existing.ID}, "migration already running")
	}

	if err := s.preValidate(ctx, opts.DryRun); err != nil {
		return abort(err, "pre-validation failed")
	}

	items, summary, err := s.targets.IdentifyTargets(ctx)
	if err != nil {
		return abort(err, "target identification failed")
	}
	res.TotalItems = len(items)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.Batch.BatchSize
	}
	createdBy := opts.CreatedBy
	if createdBy == "" {
		createdBy = s.cfg.CreatedBy
	}
	runID := s.ids.New()

	entry, err := s.db.CreateMigrationLogEntry(ctx, NewMigrationLog{
		MigrationType: MigrationType,
		TotalItems:    int64(len(items)),
		CreatedBy:     createdBy,
		StartedAt:     start,
		Metadata: map[string]any{
			"run_id":          runID,
			"dry_run":         opts.DryRun,
			"batch_size":      batchSize,
			"max_concurrency": s.cfg.Batch.MaxConcurrency,
			"targets":         summary,
		},
	})
	if err != nil {
		return abort(&DatabaseUpdateError{Op: "create_log", Err: err}, "creating migration log")
	}
	logID := entry.ID
	res.MigrationLogID = logID
	s.setActive(func(r *activeRun) { r.logID, r.runID, r.started = logID, runID, start })
	if opts.Started != nil {
		opts.Started(logID)
	}
	s.logger.Info("migration started", "log_id", logID, "run_id", runID, "items", len(items), "dry_run", opts.DryRun)

	if opts.DryRun {
		return s.finishDryRun(ctx, res, logID, summary, start)
	}

	if s.backup != nil {
		path, err := s.backup.Create(ctx, runID)
		if err != nil {
			err = &DatabaseUpdateError{Op: "backup", Err: err}
			s.markFailed(ctx, logID, err)
			return abort(err, "database backup failed")
		}
		s.logger.Info("database backed up", "log_id", logID, "path", path)
		s.updateLog(ctx, logID, MigrationLogUpdate{Metadata: map[string]any{"backup_path": path}})
	}

	cfg := s.cfg.Batch
	cfg.BatchSize = batchSize
	proc, err := NewBatchProcessor(s.store, cfg, s.logger, s.metrics, s.clock)
	if err != nil {
		s.markFailed(ctx, logID, err)
		return abort(err, "configuring batch processor")
	}
	s.setActive(func(r *activeRun) { r.proc = proc })

	if _, err := s.db.UpdateMigrationLogStatus(ctx, logID, MigrationLogUpdate{Status: StatusInProgress, At: s.clock.Now()}); err != nil {
		if row, gerr := s.db.GetMigrationLog(ctx, logID); gerr == nil && row.Status == StatusCancelled {
			// Stopped while the backup was running.
			proc.Cancel()
		} else {
			err = &DatabaseUpdateError{Op: "update_log", Err: err}
			s.markFailed(ctx, logID, err)
			return abort(err, "marking migration in progress")
		}
	}

	result, err := s.run(ctx, logID, proc, items)
	if err != nil {
		s.markFailed(context.WithoutCancel(ctx), logID, err)
		return abort(err, "running batch")
	}

	return s.finish(context.WithoutCancel(ctx), res, logID, proc, result, start)
}

// run drives the batch processor and, concurrently, the control watcher.
func (s *MigrationService) run(ctx context.Context, logID int64, proc *BatchProcessor, items []Item) (Result, error) {
	var result Result
	done := make(chan struct{})
	progressCtx := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		r, err := proc.Process(gctx, items, func(p Progress) {
			s.updateLog(progressCtx, logID, MigrationLogUpdate{
				Counts: &LogCounts{Processed: p.ProcessedItems, Success: p.SuccessCount, Errors: p.ErrorCount},
			})
		})
		result = r
		return err
	})
	g.Go(func() error {
		s.watchControl(gctx, logID, proc, done)
		return nil
	})
	err := g.Wait()
	return result, err
}

// watchControl applies status changes written to the migration_log row by
// other processes until done is closed.
func (s *MigrationService) watchControl(ctx context.Context, logID int64, proc *BatchProcessor, done <-chan struct{}) {
	if s.cfg.ControlPollInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.ControlPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		row, err := s.db.GetMigrationLog(ctx, logID)
		if err != nil {
			s.logger.Debug("polling migration status", "log_id", logID, "error", err)
			continue
		}
		switch row.Status {
		case StatusPaused:
			proc.Pause()
		case StatusInProgress:
			proc.Resume()
		case StatusCancelled:
			proc.Cancel()
		}
	}
}

func (s *MigrationService) finishDryRun(ctx context.Context, res *StartResult, logID int64, summary *TargetSummary, start time.Time) (*StartResult, error) {
	urlRows, err := s.updater.EstimateURLUpdates(ctx)
	if err != nil {
		s.markFailed(ctx, logID, err)
		res.Message = fmt.Sprintf("dry run failed: %v", err)
		return res, err
	}

	res.Estimate = &Estimate{
		Items:    summary.Targets,
		Bytes:    summary.TotalBytes,
		URLRows:  urlRows,
		Orphaned: summary.Orphaned,
		Excluded: summary.Excluded,
	}
	// A dry run reports no duration; the elapsed time is kept in the log row.
	elapsed := s.clock.Now().Sub(start)
	res.DurationMS = 0

	if _, err := s.db.UpdateMigrationLogStatus(ctx, logID, MigrationLogUpdate{
		Status:   StatusCompleted,
		Counts:   &LogCounts{},
		Metadata: map[string]any{"estimate": res.Estimate, "duration_ms": elapsed.Milliseconds()},
		Finalize: true,
		At:       s.clock.Now(),
	}); err != nil {
		err = &DatabaseUpdateError{Op: "update_log", Err: err}
		res.Message = fmt.Sprintf("dry run failed: %v", err)
		return res, err
	}

	res.Success = true
	res.Message = fmt.Sprintf("dry run: %d objects would be migrated, %d receipt urls rewritten", summary.Targets, urlRows)
	s.metrics.RunFinished(StatusCompleted, elapsed)
	s.logger.Info("dry run complete", "log_id", logID, "items", summary.Targets, "bytes", summary.TotalBytes, "url_rows", urlRows)
	return res, nil
}

// finish reconciles receipt URLs, validates, and writes the final status.
func (s *MigrationService) finish(ctx context.Context, res *StartResult, logID int64, proc *BatchProcessor, result Result, start time.Time) (*StartResult, error) {
	res.SuccessCount = result.SuccessCount
	res.ErrorCount = result.ErrorCount

	var urlRes DatabaseUpdateResult
	plan, err := s.updater.PlanURLUpdates(ctx, result.Migrated)
	if err != nil {
		urlRes.Errors = append(urlRes.Errors, err.Error())
		urlRes.FailedCount = len(result.Migrated)
	} else {
		urlRes = s.updater.UpdateReceiptURLsBatch(ctx, plan, s.cfg.URLBatchSize)
	}
	res.URLUpdate = &urlRes

	metadata := map[string]any{
		"url_update":       urlRes,
		"peak_concurrency": proc.PeakConcurrency(),
	}
	report, err := s.ValidateIntegrity(ctx)
	if err != nil {
		s.logger.Warn("post-migration validation could not run", "log_id", logID, "error", err)
		metadata["integrity_error"] = err.Error()
	} else {
		for _, w := range report.Warnings {
			s.logger.Warn("integrity warning", "log_id", logID, "warning", w)
		}
		for _, e := range report.Errors {
			s.logger.Warn("integrity problem", "log_id", logID, "problem", e)
		}
		metadata["integrity"] = report
	}

	status := StatusCompleted
	switch {
	case result.Cancelled || proc.IsCancelled():
		status = StatusCancelled
	case result.ErrorCount > 0 || urlRes.FailedCount > 0:
		status = StatusFailed
	}

	errs := append(append([]string(nil), result.Errors...), urlRes.Errors...)
	res.Errors = truncate(errs, maxErrorDetails)
	res.DurationMS = s.clock.Now().Sub(start).Milliseconds()
	metadata["duration_ms"] = res.DurationMS

	update := MigrationLogUpdate{
		Status:       status,
		Counts:       &LogCounts{Processed: int64(result.Processed()), Success: int64(result.SuccessCount), Errors: int64(result.ErrorCount)},
		ErrorDetails: res.Errors,
		Metadata:     metadata,
		Finalize:     true,
		At:           s.clock.Now(),
	}
	if _, err := s.db.UpdateMigrationLogStatus(ctx, logID, update); err != nil {
		// An operator may have stopped the run after the last poll.
		row, gerr := s.db.GetMigrationLog(ctx, logID)
		if gerr != nil || row.Status != StatusCancelled || !errors.Is(err, ErrInvalidTransition) {
			s.logger.Error("finalizing migration log", "log_id", logID, "error", err)
			res.Message = fmt.Sprintf("migration finished but its log could not be finalized: %v", err)
			return res, &DatabaseUpdateError{Op: "update_log", Err: err}
		}
		status = StatusCancelled
		update.Status = status
		if _, err := s.db.UpdateMigrationLogStatus(ctx, logID, update); err != nil {
			res.Message = fmt.Sprintf("migration finished but its log could not be finalized: %v", err)
			return res, &DatabaseUpdateError{Op: "update_log", Err: err}
		}
	}

	res.Success = status == StatusCompleted
	switch status {
	case StatusCompleted:
		res.Message = fmt.Sprintf("migrated %d of %d objects", result.SuccessCount, result.TotalItems)
	case StatusCancelled:
		res.Message = fmt.Sprintf("stopped after %d of %d objects (%d failed)", result.Processed(), result.TotalItems, result.ErrorCount)
	default:
		res.Message = fmt.Sprintf("migrated %d of %d objects, %d failed, %d receipt urls not updated",
			result.SuccessCount, result.TotalItems, result.ErrorCount, urlRes.FailedCount)
	}

	elapsed := s.clock.Now().Sub(start)
	s.metrics.RunFinished(status, elapsed)
	s.logger.Info("migration finished", "log_id", logID, "status", status,
		"success", result.SuccessCount, "errors", result.ErrorCount,
		"urls_verified", urlRes.VerifiedCount, "duration", elapsed.Truncate(time.Millisecond))
	return res, nil
}

func (s *MigrationService) preValidate(ctx context.Context, dryRun bool) error {
	if err := s.store.ValidateSetup(ctx); err != nil {
		return &PreValidationError{Check: "object_store", Err: err}
	}
	if err := s.db.Ping(ctx); err != nil {
		return &PreValidationError{Check: "database", Err: err}
	}
	if err := s.db.CheckMigrations(); err != nil {
		return &PreValidationError{Check: "schema", Err: err}
	}
	if dryRun {
		return nil
	}

	probe := ".r2mig-probe/" + s.ids.New()
	if err := s.store.Put(ctx, probe, []byte("ok"), "text/plain"); err != nil {
		return &PreValidationError{Check: "write_permission", Err: err}
	}
	if err := s.store.Delete(ctx, probe); err != nil {
		return &PreValidationError{Check: "delete_permission", Err: err}
	}
	return nil
}

// Pause stops dispatching new items for the run. It works for runs in this
// process directly and for runs in other processes through the log row.
func (s *MigrationService) Pause(ctx context.Context, logID int64) error {
	if err := s.setStatus(ctx, logID, StatusPaused); err != nil {
		return err
	}
	if proc := s.processorFor(logID); proc != nil {
		proc.Pause()
	}
	return nil
}

// Resume continues a paused run.
func (s *MigrationService) Resume(ctx context.Context, logID int64) error {
	if err := s.setStatus(ctx, logID, StatusInProgress); err != nil {
		return err
	}
	if proc := s.processorFor(logID); proc != nil {
		proc.Resume()
	}
	return nil
}

// Stop cancels the run. Items already in flight finish; the rest are never
// touched.
func (s *MigrationService) Stop(ctx context.Context, logID int64) error {
	if err := s.setStatus(ctx, logID, StatusCancelled); err != nil {
		return err
	}
	if proc := s.processorFor(logID); proc != nil {
		proc.Cancel()
	}
	return nil
}

// AdjustConcurrency changes the parallelism of the run active in this
// process.
func (s *MigrationService) AdjustConcurrency(n int) error {
	if err := checkLimit(n); err != nil {
		return err
	}
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil || active.proc == nil {
		return &ConcurrencyError{Reason: ReasonNotRunning}
	}
	return active.proc.AdjustConcurrency(n)
}

// Status reports progress for logID, using live counters when the run is in
// this process and the stored row otherwise.
func (s *MigrationService) Status(ctx context.Context, logID int64) (*StatusReport, error) {
	row, err := s.db.GetMigrationLog(ctx, logID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		CurrentMigrationID: logID,
		IsRunning:          !IsFinalized(row),
		Progress: Progress{
			TotalItems:     row.TotalItems,
			ProcessedItems: row.ProcessedItems,
			SuccessCount:   row.SuccessCount,
			ErrorCount:     row.ErrorCount,
			CurrentStatus:  row.Status,
		},
	}

	started := s.clock.Now()
	if row.StartedAt.Valid {
		if t, err := ParseTimestamp(row.StartedAt.String); err == nil {
			started = t
		}
	}
	end := s.clock.Now()
	if row.CompletedAt.Valid {
		if t, err := ParseTimestamp(row.CompletedAt.String); err == nil {
			end = t
		}
	}

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil && active.logID == logID {
		report.IsRunning = true
		started = active.started
		if active.proc != nil {
			live := active.proc.Snapshot()
			live.CurrentStatus = row.Status
			if live.TotalItems == 0 {
				live.TotalItems = row.TotalItems
			}
			report.Progress = live
		}
	}

	report.Progress = withRates(report.Progress, started, end)
	return report, nil
}

// History lists recent migration runs, newest first.
func (s *MigrationService) History(ctx context.Context, limit int) ([]*sqlc.MigrationLog, error) {
	return s.db.ListMigrationLogs(ctx, limit)
}

func (s *MigrationService) setStatus(ctx context.Context, logID int64, status string) error {
	row, err := s.db.GetMigrationLog(ctx, logID)
	if err != nil {
		return err
	}
	if IsFinalized(row) {
		return fmt.Errorf("migration %d: %w", logID, ErrLogFinalized)
	}
	if _, err := s.db.UpdateMigrationLogStatus(ctx, logID, MigrationLogUpdate{Status: status, At: s.clock.Now()}); err != nil {
		return fmt.Errorf("migration %d: %w", logID, err)
	}
	s.logger.Info("migration status changed", "log_id", logID, "from", row.Status, "to", status)
	return nil
}

func (s *MigrationService) processorFor(logID int64) *BatchProcessor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.logID != logID {
		return nil
	}
	return s.active.proc
}

func (s *MigrationService) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return &ConcurrencyError{Reason: ReasonAlreadyRunning, ActiveLogID: s.active.logID}
	}
	s.active = &activeRun{}
	return nil
}

func (s *MigrationService) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
}

func (s *MigrationService) setActive(fn func(r *activeRun)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		fn(s.active)
	}
}

// updateLog is a best-effort write used for progress and metadata.
func (s *MigrationService) updateLog(ctx context.Context, logID int64, update MigrationLogUpdate) {
	if update.At.IsZero() {
		update.At = s.clock.Now()
	}
	if _, err := s.db.UpdateMigrationLogStatus(ctx, logID, update); err != nil {
		s.logger.Warn("updating migration log", "log_id", logID, "error", err)
	}
}

func (s *MigrationService) markFailed(ctx context.Context, logID int64, cause error) {
	_, err := s.db.UpdateMigrationLogStatus(ctx, logID, MigrationLogUpdate{
		Status:       StatusFailed,
		ErrorDetails: []string{cause.Error()},
		Finalize:     true,
		At:           s.clock.Now(),
	})
	if err != nil {
		s.logger.Error("marking migration failed", "log_id", logID, "error", err)
	}
}

func truncate(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	out := append([]string(nil), s[:n]...)
	return append(out, fmt.Sprintf("... and %d more", len(s)-n))
}
