package driving

import (
	"context"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
)

// SyncSettingsView is the current flags and budgets.
type SyncSettingsView struct {
	SyncEnabled        bool                `json:"sync_enabled"`
	FeedRoutingEnabled bool                `json:"feed_routing_enabled"`
	Settings           domain.SyncSettings `json:"settings"`

	// IncrementalOverlapMinutes mirrors Settings.IncrementalOverlap
	IncrementalOverlapMinutes int `json:"incremental_overlap_minutes"`
}

// UpdateSyncSettingsRequest represents a partial update; nil fields are left unchanged.
type UpdateSyncSettingsRequest struct {
	SyncEnabled                      *bool    `json:"sync_enabled,omitempty"`
	FeedRoutingEnabled               *bool    `json:"feed_routing_enabled,omitempty"`
	BackfillMaxPagesPerInvocation    *int     `json:"backfill_max_pages_per_invocation,omitempty"`
	IncrementalMaxPagesPerInvocation *int     `json:"incremental_max_pages_per_invocation,omitempty"`
	BackfillMaxTotalPages            *int     `json:"backfill_max_total_pages,omitempty"`
	IncrementalOverlapMinutes        *int     `json:"incremental_overlap_minutes,omitempty"`
	PageItemLimit                    *int     `json:"page_item_limit,omitempty"`
	ReviewThreshold                  *float64 `json:"review_threshold,omitempty"`
}

// SettingsService manages runtime sync flags and budgets (admin only for updates)
type SettingsService interface {
	// Get returns the current flags and budgets
	Get(ctx context.Context) *SyncSettingsView

	// Update applies a partial update and returns the result
	Update(ctx context.Context, updaterID string, req UpdateSyncSettingsRequest) (*SyncSettingsView, error)
}
