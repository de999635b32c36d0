package domain

import "time"

// BindingStatus is the administrator-controlled status of an alert binding.
// It always takes precedence over SyncState for scheduling.
type BindingStatus string

const (
	BindingStatusActive   BindingStatus = "active"
	BindingStatusPaused   BindingStatus = "paused"
	BindingStatusArchived BindingStatus = "archived"
)

// Valid reports whether s is one of the known statuses.
func (s BindingStatus) Valid() bool {
	switch s {
	case BindingStatusActive, BindingStatusPaused, BindingStatusArchived:
		return true
	}
	return false
}

// SyncState is the engine-owned sync phase of an alert binding.
type SyncState string

const (
	SyncStatePendingBackfill SyncState = "pending_backfill"
	SyncStateBackfilling     SyncState = "backfilling"
	SyncStateActive          SyncState = "active"
	SyncStateError           SyncState = "error"
	SyncStatePaused          SyncState = "paused"
	SyncStateArchived        SyncState = "archived"
)

// Valid reports whether s is one of the known sync states.
func (s SyncState) Valid() bool {
	switch s {
	case SyncStatePendingBackfill, SyncStateBackfilling, SyncStateActive,
		SyncStateError, SyncStatePaused, SyncStateArchived:
		return true
	}
	return false
}

// Frozen reports whether the state is an explicit freeze that the worker never acts on.
func (s SyncState) Frozen() bool {
	return s == SyncStatePaused || s == SyncStateArchived
}

// FeedTarget is the content feed fetched items are routed into.
type FeedTarget struct {
	FeedID string `json:"feed_id"`
}

// AlertBinding links an internal monitoring target to an external alert subscription.
type AlertBinding struct {
	ID              string        `json:"id"`
	ExternalAlertID string        `json:"external_alert_id"`
	ProfileID       string        `json:"profile_id"`
	Status          BindingStatus `json:"status"`
	SyncState       SyncState     `json:"sync_state"`

	// BackfillCursor is only meaningful while SyncState is backfilling.
	BackfillCursor *string `json:"backfill_cursor,omitempty"`

	// LastSyncAt is set only when an incremental cycle completes.
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	Metadata         BindingMetadata `json:"metadata"`
	LinkedFeedTarget *FeedTarget     `json:"linked_feed_target,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Eligible reports whether the worker may run a sync for this binding.
func (b *AlertBinding) Eligible() bool {
	return b.Status == BindingStatusActive && !b.SyncState.Frozen()
}

// BackfillPagesProcessed returns the lifetime backfill page counter.
func (b *AlertBinding) BackfillPagesProcessed() int {
	return b.Metadata.BackfillPagesProcessed()
}

// SyncCandidate is the reduced binding view the scheduler works from.
type SyncCandidate struct {
	ID        string        `json:"id"`
	Status    BindingStatus `json:"status"`
	SyncState SyncState     `json:"sync_state"`
}

// BindingSyncStatus is the read model returned by the ops API.
type BindingSyncStatus struct {
	BindingID              string         `json:"binding_id"`
	Status                 BindingStatus  `json:"status"`
	SyncState              SyncState      `json:"sync_state"`
	NextMode               SyncMode       `json:"next_mode,omitempty"`
	BackfillCursor         *string        `json:"backfill_cursor,omitempty"`
	BackfillPagesProcessed int            `json:"backfill_pages_processed_total"`
	LastSyncAt             *time.Time     `json:"last_sync_at,omitempty"`
	LastError              string         `json:"last_error,omitempty"`
	LastRun                map[string]any `json:"last_run,omitempty"`
}

// NewBindingSyncStatus builds the status view for a binding.
func NewBindingSyncStatus(b *AlertBinding) *BindingSyncStatus {
	status := &BindingSyncStatus{
		BindingID:              b.ID,
		Status:                 b.Status,
		SyncState:              b.SyncState,
		BackfillCursor:         b.BackfillCursor,
		BackfillPagesProcessed: b.BackfillPagesProcessed(),
		LastSyncAt:             b.LastSyncAt,
		LastError:              b.Metadata.String(MetaLastError),
		LastRun:                b.Metadata.Map(MetaLastRun),
	}
	if mode, ok := SelectMode(b.Status, b.SyncState); ok {
		status.NextMode = mode
	}
	return status
}
