package driven

import (
	"context"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
)

// BindingStore persists alert bindings and owns their sync state transitions.
// Every mutating method is atomic at the single-row level; there is no
// multi-binding transaction.
type BindingStore interface {
	// ListSyncCandidates returns up to limit schedulable bindings (active status,
	// non-frozen sync state) reduced to id, status and sync state.
	ListSyncCandidates(ctx context.Context, limit int) ([]*domain.SyncCandidate, error)

	// GetBinding retrieves a binding by ID.
	// Returns domain.ErrNotFound if it does not exist.
	GetBinding(ctx context.Context, id string) (*domain.AlertBinding, error)

	// GetLinkedFeedTarget returns the feed a binding routes into, or nil if none.
	GetLinkedFeedTarget(ctx context.Context, id string) (*domain.FeedTarget, error)

	// MarkStarted records the beginning of a sync attempt. It is not a lock.
	MarkStarted(ctx context.Context, id string, mode domain.SyncMode, requestID string) error

	// MarkHistoricalProgress stores the next backfill cursor and keeps the
	// binding in backfilling.
	MarkHistoricalProgress(ctx context.Context, id string, nextCursor *string, metrics domain.SyncMetrics, requestID string) error

	// MarkHistoricalCompleted clears the cursor and moves the binding to active.
	MarkHistoricalCompleted(ctx context.Context, id string, metrics domain.SyncMetrics, requestID string) error

	// MarkIncrementalCompleted sets last_sync_at and keeps the binding active.
	MarkIncrementalCompleted(ctx context.Context, id string, metrics domain.SyncMetrics, requestID string) error

	// MarkFailed records the error and moves the binding to error.
	MarkFailed(ctx context.Context, id string, mode domain.SyncMode, errMsg string, requestID string) error

	// ResetBackfill sets the cursor and moves the binding to backfilling.
	// The lifetime page counter is left untouched.
	ResetBackfill(ctx context.Context, id string, cursor *string, requestID string) error

	// ResetBackfillBudget zeroes the lifetime page counter and cursor and moves
	// the binding back to pending_backfill. Administrative use only.
	ResetBackfillBudget(ctx context.Context, id string, requestID string) error

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}
