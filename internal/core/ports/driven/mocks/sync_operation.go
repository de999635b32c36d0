package mocks

import (
	"context"
	"sync"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

var _ driven.SyncOperation = (*MockSyncOperation)(nil)
var _ driven.MentionStore = (*MockMentionStore)(nil)

// MockSyncOperation records requests and returns RunFn's result,
// or a completed zero-page outcome.
type MockSyncOperation struct {
	mu       sync.Mutex
	requests []*domain.SyncRequest

	RunFn func(req *domain.SyncRequest) (*domain.SyncOutcome, error)
}

func (m *MockSyncOperation) Run(ctx context.Context, req *domain.SyncRequest) (*domain.SyncOutcome, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.RunFn != nil {
		return m.RunFn(req)
	}
	return &domain.SyncOutcome{Completed: true, Metrics: domain.SyncMetrics{}}, nil
}

// Requests returns the requests seen so far.
func (m *MockSyncOperation) Requests() []*domain.SyncRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.SyncRequest(nil), m.requests...)
}

// MockMentionStore keeps saved mentions keyed by binding and external ID.
type MockMentionStore struct {
	mu       sync.Mutex
	mentions map[string]map[string]*domain.Mention
	feeds    map[string]*domain.FeedTarget

	SaveMentionsFn func(bindingID string, mentions []*domain.Mention) (int, error)
}

// NewMockMentionStore creates a new MockMentionStore
func NewMockMentionStore() *MockMentionStore {
	return &MockMentionStore{
		mentions: make(map[string]map[string]*domain.Mention),
		feeds:    make(map[string]*domain.FeedTarget),
	}
}

func (m *MockMentionStore) SaveMentions(ctx context.Context, bindingID string, feed *domain.FeedTarget, mentions []*domain.Mention) (int, error) {
	if m.SaveMentionsFn != nil {
		return m.SaveMentionsFn(bindingID, mentions)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.mentions[bindingID]
	if !ok {
		byID = make(map[string]*domain.Mention)
		m.mentions[bindingID] = byID
	}
	inserted := 0
	for _, mention := range mentions {
		if _, exists := byID[mention.ExternalID]; !exists {
			inserted++
		}
		byID[mention.ExternalID] = mention
		if feed != nil {
			m.feeds[mention.ExternalID] = feed
		}
	}
	return inserted, nil
}

// Mentions returns the saved mentions of a binding.
func (m *MockMentionStore) Mentions(bindingID string) map[string]*domain.Mention {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*domain.Mention, len(m.mentions[bindingID]))
	for k, v := range m.mentions[bindingID] {
		out[k] = v
	}
	return out
}

// FeedOf returns the feed a mention was routed into, or nil.
func (m *MockMentionStore) FeedOf(externalID string) *domain.FeedTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feeds[externalID]
}
