package driven

import (
	"context"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
)

// SyncOperation fetches and persists one bounded slice of upstream results
// for a binding. Implementations return an error on unrecoverable upstream
// or persistence failures only when req.ThrowOnError is set.
type SyncOperation interface {
	Run(ctx context.Context, req *domain.SyncRequest) (*domain.SyncOutcome, error)
}

// MentionStore persists fetched mentions.
type MentionStore interface {
	// SaveMentions upserts mentions for a binding, keyed by external ID.
	// feed may be nil when routing is disabled. Returns the number of new rows.
	SaveMentions(ctx context.Context, bindingID string, feed *domain.FeedTarget, mentions []*domain.Mention) (int, error)
}
