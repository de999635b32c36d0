package domain

import (
	"fmt"
	"time"
)

// SyncMode selects which kind of sync a job performs.
type SyncMode string

const (
	// SyncModeHistorical pages backwards through all history using a cursor.
	SyncModeHistorical SyncMode = "historical"
	// SyncModeIncremental fetches new items in an overlapping time window.
	SyncModeIncremental SyncMode = "incremental"
)

// Valid reports whether m is a known mode.
func (m SyncMode) Valid() bool {
	return m == SyncModeHistorical || m == SyncModeIncremental
}

// SelectMode decides which sync, if any, a binding needs.
// The second return value is false when no job should be enqueued.
func SelectMode(status BindingStatus, state SyncState) (SyncMode, bool) {
	if status != BindingStatusActive {
		return "", false
	}
	switch state {
	case SyncStateActive:
		return SyncModeIncremental, true
	case SyncStatePendingBackfill, SyncStateBackfilling, SyncStateError:
		return SyncModeHistorical, true
	case SyncStatePaused, SyncStateArchived:
		return "", false
	}
	return "", false
}

// NeedsBackfillReset reports whether entering historical mode from state must
// clear the stored cursor first. A backfilling binding resumes from its cursor.
func NeedsBackfillReset(state SyncState) bool {
	return state == SyncStatePendingBackfill || state == SyncStateError
}

// BackfillBudgetExceededReason is the failure reason recorded when a binding
// reaches its lifetime backfill page cap.
func BackfillBudgetExceededReason(maxTotalPages int) string {
	return fmt.Sprintf("backfill_max_pages_total_exceeded:%d", maxTotalPages)
}

// MinColdIncrementalLookback bounds the first incremental window of a binding
// that has never completed an incremental cycle.
const MinColdIncrementalLookback = 60 * time.Minute

// IncrementalWindow computes the [start, end] window of an incremental run.
// Explicit message bounds win; otherwise the window starts overlap before the
// last successful sync, or max(overlap, 60m) before end for a cold binding.
func IncrementalWindow(msgStart, msgEnd, lastSyncAt *time.Time, overlap time.Duration, now time.Time) (time.Time, time.Time) {
	end := now
	if msgEnd != nil {
		end = *msgEnd
	}

	switch {
	case msgStart != nil:
		return *msgStart, end
	case lastSyncAt != nil:
		return lastSyncAt.Add(-overlap), end
	default:
		lookback := overlap
		if lookback < MinColdIncrementalLookback {
			lookback = MinColdIncrementalLookback
		}
		return end.Add(-lookback), end
	}
}

// SyncMetrics carries per-run counters reported by the sync operation.
type SyncMetrics map[string]any

// Merge returns a copy of m with extra applied on top.
func (m SyncMetrics) Merge(extra map[string]any) SyncMetrics {
	out := make(SyncMetrics, len(m)+len(extra))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// SyncRequest is the input of one sync operation invocation.
// Historical runs set StartCursor; incremental runs set the window and may
// carry a cursor to continue inside the same window.
type SyncRequest struct {
	Binding     *AlertBinding
	FeedTarget  *FeedTarget
	Mode        SyncMode
	StartCursor *string
	WindowStart *time.Time
	WindowEnd   *time.Time

	MaxPages        int
	PageItemLimit   int
	ReviewThreshold float64
	ThrowOnError    bool
}

// SyncOutcome reports what one sync operation invocation did.
type SyncOutcome struct {
	PagesProcessed int         `json:"pages_processed"`
	Completed      bool        `json:"completed"`
	NextCursor     *string     `json:"next_cursor,omitempty"`
	Metrics        SyncMetrics `json:"metrics,omitempty"`
}

// SyncSettings bounds the work of a single worker invocation and of a
// binding's whole backfill.
type SyncSettings struct {
	BackfillMaxPagesPerInvocation    int           `json:"backfill_max_pages_per_invocation"`
	IncrementalMaxPagesPerInvocation int           `json:"incremental_max_pages_per_invocation"`
	BackfillMaxTotalPages            int           `json:"backfill_max_total_pages"`
	IncrementalOverlap               time.Duration `json:"-"`
	PageItemLimit                    int           `json:"page_item_limit"`
	ReviewThreshold                  float64       `json:"review_threshold"`
}

// DefaultSyncSettings returns the production defaults.
func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		BackfillMaxPagesPerInvocation:    20,
		IncrementalMaxPagesPerInvocation: 10,
		BackfillMaxTotalPages:            500,
		IncrementalOverlap:               15 * time.Minute,
		PageItemLimit:                    100,
		ReviewThreshold:                  0.6,
	}
}

// Validate checks the settings are usable.
func (s SyncSettings) Validate() error {
	if s.BackfillMaxPagesPerInvocation <= 0 || s.IncrementalMaxPagesPerInvocation <= 0 {
		return fmt.Errorf("%w: per-invocation page caps must be positive", ErrInvalidInput)
	}
	if s.BackfillMaxTotalPages <= 0 {
		return fmt.Errorf("%w: backfill total page cap must be positive", ErrInvalidInput)
	}
	if s.IncrementalOverlap < 0 {
		return fmt.Errorf("%w: incremental overlap must not be negative", ErrInvalidInput)
	}
	if s.PageItemLimit <= 0 {
		return fmt.Errorf("%w: page item limit must be positive", ErrInvalidInput)
	}
	if s.ReviewThreshold < 0 || s.ReviewThreshold > 1 {
		return fmt.Errorf("%w: review threshold must be within [0, 1]", ErrInvalidInput)
	}
	return nil
}

// TickSummary aggregates the outcome of one scheduler tick.
type TickSummary struct {
	Scanned           int `json:"scanned"`
	HistoricalQueued  int `json:"historical_queued"`
	IncrementalQueued int `json:"incremental_queued"`
	Skipped           int `json:"skipped"`
	Failed            int `json:"failed"`
}
