package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SyncOperation = (*SyncOperation)(nil)

// MentionLister fetches mention pages. *Client implements it.
type MentionLister interface {
	ListMentions(ctx context.Context, q PageQuery) (*MentionPage, error)
}

// SyncOperation pages through an alert's mentions and persists each page.
// It stops after MaxPages pages or when upstream reports no next cursor.
type SyncOperation struct {
	lister   MentionLister
	mentions driven.MentionStore
	pipeline driven.MentionPipeline
	logger   *slog.Logger
}

// NewSyncOperation creates the HTTP-backed sync operation.
func NewSyncOperation(lister MentionLister, mentions driven.MentionStore, logger *slog.Logger) *SyncOperation {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncOperation{lister: lister, mentions: mentions, logger: logger}
}

// WithPipeline runs every fetched page through p before it is flagged and saved.
func (o *SyncOperation) WithPipeline(p driven.MentionPipeline) *SyncOperation {
	o.pipeline = p
	return o
}

// Run fetches up to req.MaxPages pages starting at req.StartCursor.
//
// With ThrowOnError set, the first failing page aborts the run with an error.
// Otherwise the pages done so far are returned as an incomplete outcome
// resuming at the failed page, with the failure under metrics["error"].
func (o *SyncOperation) Run(ctx context.Context, req *domain.SyncRequest) (*domain.SyncOutcome, error) {
	if req == nil || req.Binding == nil {
		return nil, fmt.Errorf("%w: sync request without binding", domain.ErrInvalidInput)
	}

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	logger := o.logger.With("binding_id", req.Binding.ID, "mode", req.Mode)

	var (
		cursor    = req.StartCursor
		pages     int
		fetched   int
		inserted  int
		flagged   int
		completed bool
	)

	metrics := func() domain.SyncMetrics {
		return domain.SyncMetrics{
			"items_fetched":  fetched,
			"items_inserted": inserted,
			"items_flagged":  flagged,
		}
	}

	for pages < maxPages {
		page, err := o.lister.ListMentions(ctx, PageQuery{
			AlertID:   req.Binding.ExternalAlertID,
			ProfileID: req.Binding.ProfileID,
			Limit:     req.PageItemLimit,
			Cursor:    cursor,
			Since:     req.WindowStart,
			Until:     req.WindowEnd,
		})
		if err == nil {
			var n, f int
			n, f, err = o.save(ctx, req, page.Items)
			if err == nil {
				fetched += len(page.Items)
				inserted += n
				flagged += f
			}
		}
		if err != nil {
			if req.ThrowOnError {
				return nil, err
			}
			logger.Warn("mentions page failed, returning partial outcome", "pages", pages, "error", err)
			m := metrics()
			m["error"] = err.Error()
			return &domain.SyncOutcome{PagesProcessed: pages, NextCursor: cursor, Metrics: m}, nil
		}

		pages++
		if page.NextCursor == nil {
			completed = true
			cursor = nil
			break
		}
		cursor = page.NextCursor
	}

	logger.Debug("sync operation finished",
		"pages", pages,
		"items_fetched", fetched,
		"items_inserted", inserted,
		"completed", completed,
	)

	return &domain.SyncOutcome{
		PagesProcessed: pages,
		Completed:      completed,
		NextCursor:     cursor,
		Metrics:        metrics(),
	}, nil
}

// save returns how many mentions were new and how many were flagged.
func (o *SyncOperation) save(ctx context.Context, req *domain.SyncRequest, items []*domain.Mention) (int, int, error) {
	if o.pipeline != nil {
		items = o.pipeline.Process(items)
	}
	if len(items) == 0 {
		return 0, 0, nil
	}
	flagged := domain.FlagForReview(items, req.ReviewThreshold)
	n, err := o.mentions.SaveMentions(ctx, req.Binding.ID, req.FeedTarget, items)
	if err != nil {
		return 0, 0, fmt.Errorf("save mentions: %w", err)
	}
	return n, flagged, nil
}
