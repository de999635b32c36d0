package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driving"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/runtime"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/telemetry"
)

// Ensure Scheduler implements SyncScheduler
var _ driving.SyncScheduler = (*Scheduler)(nil)

// schedulerLockName is the distributed lock taken for each tick.
const schedulerLockName = "social-sync:scheduler"

// DefaultCandidateLimit caps how many bindings one tick scans.
const DefaultCandidateLimit = 500

// Scheduler scans alert bindings on a timer and enqueues one sync job per
// eligible binding.
//
// For multi-instance deployments, configure a DistributedLock so that only
// one instance scans per tick.
type Scheduler struct {
	store    driven.BindingStore
	queue    driven.JobQueue
	lock     driven.DistributedLock
	services *runtime.Services
	metrics  *telemetry.SyncMetrics
	logger   *slog.Logger

	// Internal state
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration

	candidateLimit int

	// Lock configuration
	lockTTL      time.Duration
	lockRequired bool
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Store          driven.BindingStore
	Queue          driven.JobQueue
	Lock           driven.DistributedLock // Optional: distributed lock for multi-instance coordination
	Services       *runtime.Services
	Metrics        *telemetry.SyncMetrics // Optional
	Logger         *slog.Logger
	Interval       time.Duration // How often to tick (default: 5m)
	CandidateLimit int           // Max bindings scanned per tick (default: 500)
	LockTTL        time.Duration // TTL for the distributed lock (default: 2m)
	LockRequired   bool          // If true, skip the tick when the lock backend errors
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Minute
	}

	limit := cfg.CandidateLimit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}

	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 2 * time.Minute
	}

	return &Scheduler{
		store:          cfg.Store,
		queue:          cfg.Queue,
		lock:           cfg.Lock,
		services:       cfg.Services,
		metrics:        cfg.Metrics,
		logger:         logger,
		interval:       interval,
		candidateLimit: limit,
		lockTTL:        lockTTL,
		lockRequired:   cfg.LockRequired,
	}
}

// Start begins the scheduler loop.
// It runs until Stop is called or context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting", "interval", s.interval, "candidate_limit", s.candidateLimit)

	go s.run(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.tickLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tickLogged(ctx)
		}
	}
}

func (s *Scheduler) tickLogged(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil {
		s.logger.Error("scheduler tick failed", "error", err)
	}
}

// Tick runs one scan. It returns a nil summary without error when the tick
// was skipped because sync is disabled or another instance holds the lock.
func (s *Scheduler) Tick(ctx context.Context) (*domain.TickSummary, error) {
	if !s.services.SyncEnabled() {
		s.logger.Debug("sync disabled, skipping scheduler tick")
		return nil, nil
	}

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, schedulerLockName, s.lockTTL)
		switch {
		case err != nil:
			s.logger.Warn("failed to acquire scheduler lock", "error", err)
			if s.lockRequired {
				return nil, nil
			}
		case !acquired:
			s.logger.Debug("scheduler lock held by another instance, skipping tick")
			return nil, nil
		default:
			defer func() {
				// A cancelled tick must still give the lock back.
				if err := s.lock.Release(context.WithoutCancel(ctx), schedulerLockName); err != nil {
					s.logger.Warn("failed to release scheduler lock", "error", err)
				}
			}()
		}
	}

	candidates, err := s.store.ListSyncCandidates(ctx, s.candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync candidates: %w", err)
	}

	summary := &domain.TickSummary{Scanned: len(candidates)}
	for _, c := range candidates {
		mode, ok := domain.SelectMode(c.Status, c.SyncState)
		if !ok {
			summary.Skipped++
			continue
		}

		if _, err := s.enqueue(ctx, c, mode, ""); err != nil {
			s.logger.Error("failed to schedule binding",
				"binding_id", c.ID,
				"mode", mode,
				"error", err,
			)
			summary.Failed++
			continue
		}

		if mode == domain.SyncModeHistorical {
			summary.HistoricalQueued++
		} else {
			summary.IncrementalQueued++
		}
	}

	s.logger.Info("scheduler tick completed",
		"scanned", summary.Scanned,
		"historical_queued", summary.HistoricalQueued,
		"incremental_queued", summary.IncrementalQueued,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)

	return summary, nil
}

// TriggerBinding immediately enqueues the job the scheduler would enqueue
// for one binding. Returns domain.ErrBindingIneligible when none applies.
func (s *Scheduler) TriggerBinding(ctx context.Context, bindingID, requestID string) (*domain.SyncJobMessage, error) {
	if !s.services.SyncEnabled() {
		return nil, domain.ErrSyncDisabled
	}

	binding, err := s.store.GetBinding(ctx, bindingID)
	if err != nil {
		return nil, err
	}

	c := &domain.SyncCandidate{ID: binding.ID, Status: binding.Status, SyncState: binding.SyncState}
	mode, ok := domain.SelectMode(c.Status, c.SyncState)
	if !ok {
		return nil, domain.ErrBindingIneligible
	}

	if requestID == "" {
		requestID = domain.GenerateID()
	}
	msg, err := s.enqueue(ctx, c, mode, requestID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("manually triggered sync",
		"binding_id", binding.ID,
		"mode", mode,
		"run_id", msg.RunID,
		"request_id", requestID,
	)
	return msg, nil
}

// enqueue resets the backfill when entering historical mode from
// pending_backfill or error, then enqueues a fresh message.
func (s *Scheduler) enqueue(ctx context.Context, c *domain.SyncCandidate, mode domain.SyncMode, requestID string) (*domain.SyncJobMessage, error) {
	msg := domain.NewSyncJobMessage(mode, c.ID, requestID)

	if mode == domain.SyncModeHistorical && domain.NeedsBackfillReset(c.SyncState) {
		resetID := requestID
		if resetID == "" {
			resetID = msg.RunID
		}
		if err := s.store.ResetBackfill(ctx, c.ID, nil, resetID); err != nil {
			return nil, fmt.Errorf("failed to reset backfill: %w", err)
		}
	}

	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue sync job: %w", err)
	}
	s.metrics.RecordEnqueued(ctx, string(mode))
	return msg, nil
}
