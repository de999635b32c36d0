package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/runtime"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/telemetry"
)

// errMissingCursor is raised when the sync operation reports unfinished work
// but gives no cursor to resume from.
var errMissingCursor = errors.New("sync operation reported incomplete without a next cursor")

// SyncWorker executes sync job messages against one binding at a time.
// It does the following for each message:
//  1. Validate mode and binding id
//  2. Resolve the binding
//  3. Check eligibility (status and sync state)
//  4. Mark the attempt started
//  5. Dispatch to the historical or incremental flow
//
// Messages that are malformed, point at a missing binding or at an
// ineligible one are dropped without error. Failures of the sync operation
// or of the store during a run mark the binding failed and are returned so
// the transport redelivers.
type SyncWorker struct {
	store    driven.BindingStore
	queue    driven.JobQueue
	services *runtime.Services
	metrics  *telemetry.SyncMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// SyncWorkerConfig holds dependencies for SyncWorker.
type SyncWorkerConfig struct {
	Store    driven.BindingStore
	Queue    driven.JobQueue
	Services *runtime.Services
	Metrics  *telemetry.SyncMetrics // Optional
	Logger   *slog.Logger
	Now      func() time.Time // Defaults to time.Now
}

// NewSyncWorker creates a new sync worker.
func NewSyncWorker(cfg SyncWorkerConfig) *SyncWorker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &SyncWorker{
		store:    cfg.Store,
		queue:    cfg.Queue,
		services: cfg.Services,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      now,
	}
}

// HandleBatch processes every job independently. A failing job never stops
// the rest; failures are returned together as a *domain.BatchError.
func (w *SyncWorker) HandleBatch(ctx context.Context, jobs []*domain.QueuedJob) error {
	var failed []domain.BatchFailure
	for _, job := range jobs {
		if err := w.HandleMessage(ctx, job.Message); err != nil {
			f := domain.BatchFailure{JobID: job.ID, Err: err}
			if job.Message != nil {
				f.RunID = job.Message.RunID
			}
			failed = append(failed, f)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &domain.BatchError{Total: len(jobs), Failed: failed}
}

// HandleMessage processes one sync job message.
func (w *SyncWorker) HandleMessage(ctx context.Context, msg *domain.SyncJobMessage) error {
	if !w.services.SyncEnabled() {
		w.logger.Debug("sync disabled, ignoring message")
		return nil
	}

	if err := msg.Validate(); err != nil {
		w.logger.Warn("dropping invalid sync message", "error", err)
		w.metrics.RecordRun(ctx, "invalid", telemetry.OutcomeDropped, 0, 0)
		return nil
	}

	log := w.logger.With("binding_id", msg.BindingID, "mode", msg.Mode, "run_id", msg.RunID)

	binding, err := w.store.GetBinding(ctx, msg.BindingID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("binding not found, dropping message")
		w.metrics.RecordRun(ctx, string(msg.Mode), telemetry.OutcomeDropped, 0, 0)
		return nil
	}
	if err != nil {
		return domain.NewRetryableSyncError(msg.BindingID, msg.Mode, fmt.Errorf("failed to get binding: %w", err))
	}

	if !binding.Eligible() {
		log.Info("binding not eligible, dropping message",
			"status", binding.Status,
			"sync_state", binding.SyncState,
		)
		w.metrics.RecordRun(ctx, string(msg.Mode), telemetry.OutcomeDropped, 0, 0)
		return nil
	}

	requestID := msg.RequestID
	if requestID == "" {
		requestID = msg.RunID
	}

	if err := w.store.MarkStarted(ctx, binding.ID, msg.Mode, requestID); err != nil {
		return domain.NewRetryableSyncError(binding.ID, msg.Mode, fmt.Errorf("failed to mark started: %w", err))
	}

	run := &syncRun{
		worker:    w,
		msg:       msg,
		binding:   binding,
		requestID: requestID,
		settings:  w.services.Settings(),
		logger:    log,
	}

	if msg.Mode == domain.SyncModeHistorical {
		err = run.historical(ctx)
	} else {
		err = run.incremental(ctx)
	}
	if err != nil {
		if run.failureHandled {
			return err
		}
		return run.fail(ctx, err)
	}
	return nil
}

// syncRun carries the state of one message being dispatched.
type syncRun struct {
	worker    *SyncWorker
	msg       *domain.SyncJobMessage
	binding   *domain.AlertBinding
	requestID string
	settings  domain.SyncSettings
	logger    *slog.Logger

	// failureHandled is set once the run recorded its own failure, so the
	// returned error must not go through fail again.
	failureHandled bool
}

func (r *syncRun) historical(ctx context.Context) error {
	w := r.worker
	startCursor := r.msg.Cursor
	if startCursor == nil {
		startCursor = r.binding.BackfillCursor
	}

	previous := r.binding.BackfillPagesProcessed()
	maxTotal := r.settings.BackfillMaxTotalPages
	if previous >= maxTotal {
		return r.budgetExceeded(ctx, previous, 0)
	}

	outcome, elapsed, err := r.runOperation(ctx, &domain.SyncRequest{
		StartCursor: startCursor,
		MaxPages:    r.settings.BackfillMaxPagesPerInvocation,
	})
	if err != nil {
		return err
	}

	newTotal := previous + outcome.PagesProcessed
	metrics := r.runMetrics(outcome).Merge(map[string]any{
		domain.MetaBackfillPagesTotal: newTotal,
	})

	if outcome.Completed {
		if err := w.store.MarkHistoricalCompleted(ctx, r.binding.ID, metrics, r.requestID); err != nil {
			return fmt.Errorf("failed to mark backfill completed: %w", err)
		}
		r.logger.Info("backfill completed", "pages", outcome.PagesProcessed, "pages_total", newTotal)
		w.metrics.RecordRun(ctx, string(r.msg.Mode), telemetry.OutcomeCompleted, elapsed, outcome.PagesProcessed)
		return nil
	}

	if newTotal >= maxTotal {
		// The counter is persisted before failing so that a re-entry after
		// the reset trips the cap without calling upstream again.
		if err := w.store.MarkHistoricalProgress(ctx, r.binding.ID, outcome.NextCursor, metrics, r.requestID); err != nil {
			return fmt.Errorf("failed to persist backfill progress: %w", err)
		}
		w.metrics.RecordRun(ctx, string(r.msg.Mode), telemetry.OutcomeBudgetExceeded, elapsed, outcome.PagesProcessed)
		return r.budgetExceeded(ctx, newTotal, outcome.PagesProcessed)
	}

	if outcome.NextCursor == nil {
		return &domain.SyncError{BindingID: r.binding.ID, Mode: r.msg.Mode, Err: errMissingCursor}
	}

	if err := w.store.MarkHistoricalProgress(ctx, r.binding.ID, outcome.NextCursor, metrics, r.requestID); err != nil {
		return fmt.Errorf("failed to persist backfill progress: %w", err)
	}
	if err := r.enqueue(ctx, r.msg.HistoricalContinuation(outcome.NextCursor)); err != nil {
		return err
	}

	r.logger.Info("backfill continuing",
		"pages", outcome.PagesProcessed,
		"pages_total", newTotal,
		"next_cursor", *outcome.NextCursor,
	)
	w.metrics.RecordRun(ctx, string(r.msg.Mode), telemetry.OutcomeContinued, elapsed, outcome.PagesProcessed)
	return nil
}

// budgetExceeded marks the binding failed for reaching its lifetime page cap.
// This is terminal for the message: no continuation and no redelivery.
func (r *syncRun) budgetExceeded(ctx context.Context, total, pages int) error {
	reason := domain.BackfillBudgetExceededReason(r.settings.BackfillMaxTotalPages)
	r.logger.Warn("backfill page budget exceeded",
		"pages_total", total,
		"max_total_pages", r.settings.BackfillMaxTotalPages,
	)
	r.failureHandled = true
	if err := r.worker.store.MarkFailed(ctx, r.binding.ID, r.msg.Mode, reason, r.requestID); err != nil {
		return domain.NewRetryableSyncError(r.binding.ID, r.msg.Mode, fmt.Errorf("failed to mark budget exceeded: %w", err))
	}
	if pages == 0 {
		r.worker.metrics.RecordRun(ctx, string(r.msg.Mode), telemetry.OutcomeBudgetExceeded, 0, 0)
	}
	return nil
}

func (r *syncRun) incremental(ctx context.Context) error {
	w := r.worker
	start, end := domain.IncrementalWindow(
		r.msg.WindowStart,
		r.msg.WindowEnd,
		r.binding.LastSyncAt,
		r.settings.IncrementalOverlap,
		w.now().UTC(),
	)

	outcome, elapsed, err := r.runOperation(ctx, &domain.SyncRequest{
		StartCursor: r.msg.Cursor,
		WindowStart: &start,
		WindowEnd:   &end,
		MaxPages:    r.settings.IncrementalMaxPagesPerInvocation,
	})
	if err != nil {
		return err
	}

	if outcome.Completed {
		metrics := r.runMetrics(outcome).Merge(map[string]any{
			"window_start": start.Format(time.RFC3339),
			"window_end":   end.Format(time.RFC3339),
		})
		if err := w.store.MarkIncrementalCompleted(ctx, r.binding.ID, metrics, r.requestID); err != nil {
			return fmt.Errorf("failed to mark incremental completed: %w", err)
		}
		r.logger.Info("incremental sync completed", "pages", outcome.PagesProcessed)
		w.metrics.RecordRun(ctx, string(r.msg.Mode), telemetry.OutcomeCompleted, elapsed, outcome.PagesProcessed)
		return nil
	}

	if outcome.NextCursor == nil {
		return &domain.SyncError{BindingID: r.binding.ID, Mode: r.msg.Mode, Err: errMissingCursor}
	}

	if err := r.enqueue(ctx, r.msg.IncrementalContinuation(start, end, outcome.NextCursor)); err != nil {
		return err
	}
	r.logger.Info("incremental sync continuing",
		"pages", outcome.PagesProcessed,
		"window_start", start,
		"window_end", end,
	)
	w.metrics.RecordRun(ctx, string(r.msg.Mode), telemetry.OutcomeContinued, elapsed, outcome.PagesProcessed)
	return nil
}

// runOperation fills in the common request fields and invokes the sync operation.
func (r *syncRun) runOperation(ctx context.Context, req *domain.SyncRequest) (*domain.SyncOutcome, time.Duration, error) {
	w := r.worker
	op := w.services.SyncOperation()
	if op == nil {
		return nil, 0, fmt.Errorf("%w: no sync operation configured", domain.ErrServiceUnavailable)
	}

	req.Binding = r.binding
	req.Mode = r.msg.Mode
	req.PageItemLimit = r.settings.PageItemLimit
	req.ReviewThreshold = r.settings.ReviewThreshold
	req.ThrowOnError = true

	if w.services.FeedRoutingEnabled() {
		feed, err := w.store.GetLinkedFeedTarget(ctx, r.binding.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to resolve feed target: %w", err)
		}
		req.FeedTarget = feed
	}

	started := time.Now()
	outcome, err := op.Run(ctx, req)
	elapsed := time.Since(started)
	if err != nil {
		return nil, elapsed, fmt.Errorf("sync operation failed: %w", err)
	}
	if outcome == nil {
		outcome = &domain.SyncOutcome{}
	}
	return outcome, elapsed, nil
}

func (r *syncRun) runMetrics(outcome *domain.SyncOutcome) domain.SyncMetrics {
	return outcome.Metrics.Merge(map[string]any{
		"run_id":          r.msg.RunID,
		"mode":            string(r.msg.Mode),
		"pages_processed": outcome.PagesProcessed,
		"completed":       outcome.Completed,
		"finished_at":     r.worker.now().UTC().Format(time.RFC3339),
	})
}

func (r *syncRun) enqueue(ctx context.Context, next *domain.SyncJobMessage) error {
	if err := r.worker.queue.Enqueue(ctx, next); err != nil {
		return fmt.Errorf("failed to enqueue continuation: %w", err)
	}
	r.worker.metrics.RecordEnqueued(ctx, string(next.Mode))
	return nil
}

// fail records err on the binding and returns it for redelivery.
func (r *syncRun) fail(ctx context.Context, err error) error {
	w := r.worker
	r.logger.Error("sync failed", "error", err)
	w.metrics.RecordRun(ctx, string(r.msg.Mode), telemetry.OutcomeFailed, 0, 0)

	if markErr := w.store.MarkFailed(ctx, r.binding.ID, r.msg.Mode, err.Error(), r.requestID); markErr != nil {
		r.logger.Error("failed to record sync failure", "error", markErr)
	}

	var syncErr *domain.SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}
	return domain.NewRetryableSyncError(r.binding.ID, r.msg.Mode, err)
}
