package alerts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven/mocks"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/postprocessors"
)

// fakeLister serves pages keyed by cursor ("" is the first page).
type fakeLister struct {
	pages   map[string]*MentionPage
	errs    map[string]error
	queries []PageQuery
}

func (f *fakeLister) ListMentions(ctx context.Context, q PageQuery) (*MentionPage, error) {
	f.queries = append(f.queries, q)
	key := ""
	if q.Cursor != nil {
		key = *q.Cursor
	}
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	page, ok := f.pages[key]
	if !ok {
		return nil, fmt.Errorf("unexpected cursor %q", key)
	}
	// Hand out fresh copies so flagging does not leak between calls.
	items := make([]*domain.Mention, 0, len(page.Items))
	for _, m := range page.Items {
		c := *m
		items = append(items, &c)
	}
	return &MentionPage{Items: items, NextCursor: page.NextCursor}, nil
}

func cursorPtr(s string) *string { return &s }

func threePages() *fakeLister {
	return &fakeLister{pages: map[string]*MentionPage{
		"": {
			Items:      []*domain.Mention{{ExternalID: "m1", Confidence: 0.9}, {ExternalID: "m2", Confidence: 0.3}},
			NextCursor: cursorPtr("p2"),
		},
		"p2": {
			Items:      []*domain.Mention{{ExternalID: "m3", Confidence: 0.7}},
			NextCursor: cursorPtr("p3"),
		},
		"p3": {
			Items: []*domain.Mention{{ExternalID: "m4", Confidence: 0.1}},
		},
	}}
}

func testBinding() *domain.AlertBinding {
	return &domain.AlertBinding{
		ID:              "6f1c1b5e-8a6e-4f0e-9b7a-0d6f0c1e2a3b",
		ExternalAlertID: "alert-1",
		ProfileID:       "profile-1",
		Status:          domain.BindingStatusActive,
		SyncState:       domain.SyncStateBackfilling,
	}
}

func TestSyncOperation_RunsToCompletion(t *testing.T) {
	lister := threePages()
	store := mocks.NewMockMentionStore()
	op := NewSyncOperation(lister, store, nil)

	outcome, err := op.Run(context.Background(), &domain.SyncRequest{
		Binding:         testBinding(),
		Mode:            domain.SyncModeHistorical,
		MaxPages:        10,
		PageItemLimit:   100,
		ReviewThreshold: 0.6,
		ThrowOnError:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.PagesProcessed)
	assert.True(t, outcome.Completed)
	assert.Nil(t, outcome.NextCursor)
	assert.Equal(t, 4, outcome.Metrics["items_fetched"])
	assert.Equal(t, 4, outcome.Metrics["items_inserted"])
	assert.Equal(t, 2, outcome.Metrics["items_flagged"])

	saved := store.Mentions(testBinding().ID)
	require.Len(t, saved, 4)
	assert.True(t, saved["m2"].NeedsReview)
	assert.True(t, saved["m4"].NeedsReview)
	assert.False(t, saved["m1"].NeedsReview)

	require.Len(t, lister.queries, 3)
	assert.Equal(t, "alert-1", lister.queries[0].AlertID)
	assert.Equal(t, "profile-1", lister.queries[0].ProfileID)
	assert.Equal(t, 100, lister.queries[0].Limit)
	assert.Nil(t, lister.queries[0].Cursor)
}

func TestSyncOperation_StopsAtMaxPages(t *testing.T) {
	lister := threePages()
	op := NewSyncOperation(lister, mocks.NewMockMentionStore(), nil)

	outcome, err := op.Run(context.Background(), &domain.SyncRequest{
		Binding:      testBinding(),
		Mode:         domain.SyncModeHistorical,
		MaxPages:     2,
		ThrowOnError: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.PagesProcessed)
	assert.False(t, outcome.Completed)
	require.NotNil(t, outcome.NextCursor)
	assert.Equal(t, "p3", *outcome.NextCursor)
}

func TestSyncOperation_ResumesFromStartCursor(t *testing.T) {
	lister := threePages()
	op := NewSyncOperation(lister, mocks.NewMockMentionStore(), nil)

	outcome, err := op.Run(context.Background(), &domain.SyncRequest{
		Binding:      testBinding(),
		Mode:         domain.SyncModeHistorical,
		StartCursor:  cursorPtr("p3"),
		MaxPages:     5,
		ThrowOnError: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.PagesProcessed)
	assert.True(t, outcome.Completed)
	require.Len(t, lister.queries, 1)
	assert.Equal(t, "p3", *lister.queries[0].Cursor)
}

func TestSyncOperation_PassesWindowAndFeed(t *testing.T) {
	lister := threePages()
	store := mocks.NewMockMentionStore()
	op := NewSyncOperation(lister, store, nil)

	binding := testBinding()
	end := time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)
	start := end.Add(-time.Hour)
	feed := &domain.FeedTarget{FeedID: "feed-7"}

	_, err := op.Run(context.Background(), &domain.SyncRequest{
		Binding:      binding,
		FeedTarget:   feed,
		Mode:         domain.SyncModeIncremental,
		WindowStart:  &start,
		WindowEnd:    &end,
		MaxPages:     1,
		ThrowOnError: true,
	})
	require.NoError(t, err)

	require.Len(t, lister.queries, 1)
	assert.Equal(t, start, *lister.queries[0].Since)
	assert.Equal(t, end, *lister.queries[0].Until)
	assert.Equal(t, feed, store.FeedOf("m1"))
}

func TestSyncOperation_ThrowOnError(t *testing.T) {
	lister := threePages()
	upstream := &APIError{StatusCode: 503, Body: "unavailable"}
	lister.errs = map[string]error{"p2": upstream}
	op := NewSyncOperation(lister, mocks.NewMockMentionStore(), nil)

	outcome, err := op.Run(context.Background(), &domain.SyncRequest{
		Binding:      testBinding(),
		Mode:         domain.SyncModeHistorical,
		MaxPages:     10,
		ThrowOnError: true,
	})
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, upstream)
}

func TestSyncOperation_PartialOutcomeWithoutThrow(t *testing.T) {
	lister := threePages()
	lister.errs = map[string]error{"p2": errors.New("connection reset")}
	op := NewSyncOperation(lister, mocks.NewMockMentionStore(), nil)

	outcome, err := op.Run(context.Background(), &domain.SyncRequest{
		Binding:  testBinding(),
		Mode:     domain.SyncModeHistorical,
		MaxPages: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.PagesProcessed)
	assert.False(t, outcome.Completed)
	require.NotNil(t, outcome.NextCursor)
	assert.Equal(t, "p2", *outcome.NextCursor, "resume at the page that failed")
	assert.Equal(t, "connection reset", outcome.Metrics["error"])
}

func TestSyncOperation_SaveFailure(t *testing.T) {
	store := mocks.NewMockMentionStore()
	store.SaveMentionsFn = func(bindingID string, mentions []*domain.Mention) (int, error) {
		return 0, errors.New("db down")
	}
	op := NewSyncOperation(threePages(), store, nil)

	_, err := op.Run(context.Background(), &domain.SyncRequest{
		Binding:      testBinding(),
		Mode:         domain.SyncModeHistorical,
		MaxPages:     10,
		ThrowOnError: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save mentions")
}

func TestSyncOperation_RequiresBinding(t *testing.T) {
	op := NewSyncOperation(threePages(), mocks.NewMockMentionStore(), nil)

	_, err := op.Run(context.Background(), &domain.SyncRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSyncOperation_AppliesPipeline(t *testing.T) {
	lister := &fakeLister{pages: map[string]*MentionPage{
		"": {Items: []*domain.Mention{
			{ExternalID: "m1", Text: "  spaced   out  ", Confidence: 0.9},
			{ExternalID: "", Text: "unkeyed", Confidence: 0.9},
			{ExternalID: "m1", Text: "edited", Confidence: 0.1},
		}},
	}}
	store := mocks.NewMockMentionStore()
	op := NewSyncOperation(lister, store, nil).WithPipeline(postprocessors.DefaultPipeline())

	outcome, err := op.Run(context.Background(), &domain.SyncRequest{
		Binding:         testBinding(),
		Mode:            domain.SyncModeIncremental,
		MaxPages:        1,
		ReviewThreshold: 0.6,
		ThrowOnError:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.Metrics["items_fetched"])
	assert.Equal(t, 1, outcome.Metrics["items_inserted"])
	assert.Equal(t, 1, outcome.Metrics["items_flagged"])

	saved := store.Mentions(testBinding().ID)
	require.Len(t, saved, 1)
	assert.Equal(t, "edited", saved["m1"].Text)
	assert.True(t, saved["m1"].NeedsReview)
}
