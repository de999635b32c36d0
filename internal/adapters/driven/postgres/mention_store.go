package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.MentionStore = (*MentionStore)(nil)

// MentionStore implements driven.MentionStore using PostgreSQL.
// Mentions are keyed by (binding_id, external_id), so redelivered pages
// update rows in place instead of duplicating them.
type MentionStore struct {
	db *DB
}

// NewMentionStore creates a new MentionStore
func NewMentionStore(db *DB) *MentionStore {
	return &MentionStore{db: db}
}

// SaveMentions upserts one page of mentions in a single transaction and
// returns how many were new.
func (s *MentionStore) SaveMentions(ctx context.Context, bindingID string, feed *domain.FeedTarget, mentions []*domain.Mention) (int, error) {
	if len(mentions) == 0 {
		return 0, nil
	}

	var feedID sql.NullString
	if feed != nil && feed.FeedID != "" {
		feedID = sql.NullString{String: feed.FeedID, Valid: true}
	}

	// xmax is zero only for rows this statement inserted.
	query := `
		INSERT INTO social_mentions (
			binding_id, external_id, url, author, body, published_at,
			confidence, needs_review, feed_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (binding_id, external_id) DO UPDATE SET
			url = EXCLUDED.url,
			author = EXCLUDED.author,
			body = EXCLUDED.body,
			published_at = EXCLUDED.published_at,
			confidence = EXCLUDED.confidence,
			needs_review = EXCLUDED.needs_review,
			feed_id = COALESCE(EXCLUDED.feed_id, social_mentions.feed_id),
			updated_at = NOW()
		RETURNING (xmax = 0)
	`

	inserted := 0
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, m := range mentions {
			var publishedAt sql.NullTime
			if !m.PublishedAt.IsZero() {
				publishedAt = sql.NullTime{Time: m.PublishedAt, Valid: true}
			}

			var isNew bool
			err := stmt.QueryRowContext(ctx,
				bindingID,
				m.ExternalID,
				m.URL,
				m.Author,
				m.Text,
				publishedAt,
				m.Confidence,
				m.NeedsReview,
				feedID,
			).Scan(&isNew)
			if err != nil {
				return fmt.Errorf("upsert mention %s: %w", m.ExternalID, err)
			}
			if isNew {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
