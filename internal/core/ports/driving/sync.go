package driving

import (
	"context"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
)

// SyncScheduler exposes the scheduler to the ops API.
type SyncScheduler interface {
	// Tick runs one scan now. Returns a nil summary if the tick was skipped.
	Tick(ctx context.Context) (*domain.TickSummary, error)

	// TriggerBinding enqueues the job the scheduler would pick for one binding.
	TriggerBinding(ctx context.Context, bindingID, requestID string) (*domain.SyncJobMessage, error)
}

// BindingService reads binding sync status and performs admin resets.
type BindingService interface {
	// GetSyncStatus returns the sync view of a binding
	GetSyncStatus(ctx context.Context, bindingID string) (*domain.BindingSyncStatus, error)

	// ResetBudget clears the lifetime backfill counter so the binding backfills again (admin only)
	ResetBudget(ctx context.Context, bindingID, requestID string) (*domain.BindingSyncStatus, error)
}
