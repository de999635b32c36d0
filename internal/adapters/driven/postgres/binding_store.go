package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.BindingStore = (*BindingStore)(nil)

// BindingStore implements driven.BindingStore using PostgreSQL.
// Every transition is a single UPDATE, so it is atomic at the row level.
type BindingStore struct {
	db  *DB
	now func() time.Time
}

// NewBindingStore creates a new BindingStore
func NewBindingStore(db *DB) *BindingStore {
	return &BindingStore{db: db, now: time.Now}
}

const bindingColumns = `id, external_alert_id, profile_id, status, sync_state, backfill_cursor,
	last_sync_at, metadata, linked_feed_id, created_at, updated_at`

// counterExpr keeps the lifetime page counter monotonic: a stale write
// never lowers it. $N is the candidate total, -1 when the run reported none.
const counterExpr = `GREATEST(COALESCE((metadata->>'backfill_pages_processed_total')::numeric, 0)::int, %s)`

// candidateStates are the sync states SelectMode schedules for an active
// binding. Rows outside them never change, so scanning them would let frozen
// bindings fill the LIMIT on every tick.
var candidateStates = []domain.SyncState{
	domain.SyncStatePendingBackfill,
	domain.SyncStateBackfilling,
	domain.SyncStateActive,
	domain.SyncStateError,
}

const listCandidatesQuery = `
	SELECT id, status, sync_state
	FROM alert_bindings
	WHERE status = $1 AND sync_state = ANY($2)
	ORDER BY updated_at ASC
	LIMIT $3
`

// ListSyncCandidates returns schedulable bindings, least recently touched first.
// SelectMode still decides per row.
func (s *BindingStore) ListSyncCandidates(ctx context.Context, limit int) ([]*domain.SyncCandidate, error) {
	states := make([]string, len(candidateStates))
	for i, st := range candidateStates {
		states[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, listCandidatesQuery, domain.BindingStatusActive, pq.Array(states), limit)
	if err != nil {
		return nil, fmt.Errorf("query sync candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*domain.SyncCandidate
	for rows.Next() {
		var c domain.SyncCandidate
		if err := rows.Scan(&c.ID, &c.Status, &c.SyncState); err != nil {
			return nil, fmt.Errorf("scan sync candidate: %w", err)
		}
		candidates = append(candidates, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync candidates: %w", err)
	}
	return candidates, nil
}

// GetBinding loads one binding or returns domain.ErrNotFound.
func (s *BindingStore) GetBinding(ctx context.Context, id string) (*domain.AlertBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM alert_bindings WHERE id = $1`

	var b domain.AlertBinding
	var cursor, feedID sql.NullString
	var lastSyncAt sql.NullTime
	var metadataJSON []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID,
		&b.ExternalAlertID,
		&b.ProfileID,
		&b.Status,
		&b.SyncState,
		&cursor,
		&lastSyncAt,
		&metadataJSON,
		&feedID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query binding: %w", err)
	}

	b.BackfillCursor = stringPtr(cursor)
	b.LastSyncAt = timePtr(lastSyncAt)
	if feedID.Valid && feedID.String != "" {
		b.LinkedFeedTarget = &domain.FeedTarget{FeedID: feedID.String}
	}

	b.Metadata, err = decodeMetadata(metadataJSON)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetLinkedFeedTarget returns the binding's feed target, or nil when it has none.
func (s *BindingStore) GetLinkedFeedTarget(ctx context.Context, id string) (*domain.FeedTarget, error) {
	var feedID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT linked_feed_id FROM alert_bindings WHERE id = $1`, id).Scan(&feedID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query feed target: %w", err)
	}
	if !feedID.Valid || feedID.String == "" {
		return nil, nil
	}
	return &domain.FeedTarget{FeedID: feedID.String}, nil
}

// MarkStarted stamps the attempt without touching the sync state.
func (s *BindingStore) MarkStarted(ctx context.Context, id string, mode domain.SyncMode, requestID string) error {
	patch, err := encodeMetadata(map[string]any{
		domain.MetaLastMode:      string(mode),
		domain.MetaLastRequestID: requestID,
		domain.MetaLastStartedAt: s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_bindings
		SET metadata = metadata || $2::jsonb, updated_at = $3
		WHERE id = $1
	`
	return s.exec(ctx, "mark started", query, id, patch, s.now())
}

// MarkHistoricalProgress stores the next cursor and keeps the binding backfilling.
func (s *BindingStore) MarkHistoricalProgress(ctx context.Context, id string, nextCursor *string, metrics domain.SyncMetrics, requestID string) error {
	patch, total, err := s.runPatch(metrics, requestID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE alert_bindings
		SET sync_state = $2,
			backfill_cursor = $3,
			metadata = (metadata || $4::jsonb) || jsonb_build_object('backfill_pages_processed_total', %s),
			updated_at = $6
		WHERE id = $1
	`, fmt.Sprintf(counterExpr, "$5::int"))

	return s.exec(ctx, "mark historical progress", query,
		id, domain.SyncStateBackfilling, nullString(nextCursor), patch, total, s.now())
}

// MarkHistoricalCompleted clears the cursor and moves the binding to active.
func (s *BindingStore) MarkHistoricalCompleted(ctx context.Context, id string, metrics domain.SyncMetrics, requestID string) error {
	patch, total, err := s.runPatch(metrics, requestID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE alert_bindings
		SET sync_state = $2,
			backfill_cursor = NULL,
			metadata = ((metadata - 'last_error' - 'last_error_at') || $3::jsonb)
				|| jsonb_build_object('backfill_pages_processed_total', %s),
			updated_at = $5
		WHERE id = $1
	`, fmt.Sprintf(counterExpr, "$4::int"))

	return s.exec(ctx, "mark historical completed", query,
		id, domain.SyncStateActive, patch, total, s.now())
}

// MarkIncrementalCompleted moves the binding to active and stamps last_sync_at.
func (s *BindingStore) MarkIncrementalCompleted(ctx context.Context, id string, metrics domain.SyncMetrics, requestID string) error {
	patch, _, err := s.runPatch(metrics, requestID)
	if err != nil {
		return err
	}

	now := s.now()
	query := `
		UPDATE alert_bindings
		SET sync_state = $2,
			last_sync_at = $3,
			metadata = (metadata - 'last_error' - 'last_error_at') || $4::jsonb,
			updated_at = $3
		WHERE id = $1
	`
	return s.exec(ctx, "mark incremental completed", query, id, domain.SyncStateActive, now, patch)
}

// MarkFailed moves the binding to error and records the message.
func (s *BindingStore) MarkFailed(ctx context.Context, id string, mode domain.SyncMode, errMsg string, requestID string) error {
	now := s.now()
	patch, err := encodeMetadata(map[string]any{
		domain.MetaLastMode:      string(mode),
		domain.MetaLastRequestID: requestID,
		domain.MetaLastError:     errMsg,
		domain.MetaLastErrorAt:   now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_bindings
		SET sync_state = $2, metadata = metadata || $3::jsonb, updated_at = $4
		WHERE id = $1
	`
	return s.exec(ctx, "mark failed", query, id, domain.SyncStateError, patch, now)
}

// ResetBackfill re-enters backfilling at cursor (nil restarts from the beginning).
// The lifetime page counter is left alone.
func (s *BindingStore) ResetBackfill(ctx context.Context, id string, cursor *string, requestID string) error {
	patch, err := encodeMetadata(map[string]any{domain.MetaLastRequestID: requestID})
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_bindings
		SET sync_state = $2, backfill_cursor = $3, metadata = metadata || $4::jsonb, updated_at = $5
		WHERE id = $1
	`
	return s.exec(ctx, "reset backfill", query, id, domain.SyncStateBackfilling, nullString(cursor), patch, s.now())
}

// ResetBackfillBudget zeroes the lifetime page counter and clears the cursor
// so the next tick starts a fresh backfill.
func (s *BindingStore) ResetBackfillBudget(ctx context.Context, id string, requestID string) error {
	patch, err := encodeMetadata(map[string]any{
		domain.MetaBackfillPagesTotal: 0,
		domain.MetaLastRequestID:      requestID,
	})
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_bindings
		SET sync_state = $2,
			backfill_cursor = NULL,
			metadata = (metadata - 'last_error' - 'last_error_at') || $3::jsonb,
			updated_at = $4
		WHERE id = $1
	`
	return s.exec(ctx, "reset backfill budget", query, id, domain.SyncStatePendingBackfill, patch, s.now())
}

// Ping checks if the database is reachable
func (s *BindingStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *BindingStore) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: get rows affected: %w", op, err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// runPatch builds the metadata patch written at the end of a run and pulls
// the page counter out so it can be merged monotonically in SQL.
func (s *BindingStore) runPatch(metrics domain.SyncMetrics, requestID string) (string, int, error) {
	total := -1
	if _, ok := metrics[domain.MetaBackfillPagesTotal]; ok {
		total = domain.BindingMetadata(metrics).Int(domain.MetaBackfillPagesTotal)
	}

	patch, err := encodeMetadata(map[string]any{
		domain.MetaLastRun:       map[string]any(metrics),
		domain.MetaLastRequestID: requestID,
	})
	if err != nil {
		return "", 0, err
	}
	return patch, total, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(data []byte) (domain.BindingMetadata, error) {
	md := domain.BindingMetadata{}
	if len(data) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return md, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}
