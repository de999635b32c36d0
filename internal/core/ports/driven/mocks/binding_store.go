package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

var _ driven.BindingStore = (*MockBindingStore)(nil)

// StoreCall records one mutating BindingStore call for assertions.
type StoreCall struct {
	Method    string
	BindingID string
	Mode      domain.SyncMode
	Cursor    *string
	Metrics   domain.SyncMetrics
	ErrMsg    string
	RequestID string
}

// MockBindingStore is an in-memory BindingStore that applies the same state
// transitions as the Postgres store and records every call.
type MockBindingStore struct {
	mu       sync.Mutex
	bindings map[string]*domain.AlertBinding
	feeds    map[string]*domain.FeedTarget
	calls    []StoreCall

	// Optional overrides
	ListSyncCandidatesFn func(limit int) ([]*domain.SyncCandidate, error)
	GetBindingFn         func(id string) (*domain.AlertBinding, error)
	MarkStartedFn        func(id string, mode domain.SyncMode) error
	ResetBackfillFn      func(id string, cursor *string) error
	MarkFailedFn         func(id string, mode domain.SyncMode, errMsg string) error
	PingFn               func() error

	// Now stamps LastSyncAt. Defaults to time.Now.
	Now func() time.Time
}

// NewMockBindingStore creates a new MockBindingStore
func NewMockBindingStore() *MockBindingStore {
	return &MockBindingStore{
		bindings: make(map[string]*domain.AlertBinding),
		feeds:    make(map[string]*domain.FeedTarget),
		Now:      time.Now,
	}
}

// Put stores a copy of b.
func (m *MockBindingStore) Put(b *domain.AlertBinding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	cp.Metadata = b.Metadata.Clone()
	m.bindings[b.ID] = &cp
}

// SetFeedTarget links a binding to a feed.
func (m *MockBindingStore) SetFeedTarget(id string, feed *domain.FeedTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[id] = feed
}

// Binding returns a copy of the stored binding, or nil.
func (m *MockBindingStore) Binding(id string) *domain.AlertBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[id]
	if !ok {
		return nil
	}
	cp := *b
	cp.Metadata = b.Metadata.Clone()
	return &cp
}

// Calls returns the recorded mutating calls in order.
func (m *MockBindingStore) Calls() []StoreCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoreCall(nil), m.calls...)
}

// CallsTo returns the recorded calls of one method.
func (m *MockBindingStore) CallsTo(method string) []StoreCall {
	var out []StoreCall
	for _, c := range m.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockBindingStore) record(c StoreCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

func (m *MockBindingStore) ListSyncCandidates(ctx context.Context, limit int) ([]*domain.SyncCandidate, error) {
	m.record(StoreCall{Method: "ListSyncCandidates"})
	if m.ListSyncCandidatesFn != nil {
		return m.ListSyncCandidatesFn(limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SyncCandidate
	for _, b := range m.bindings {
		if len(out) >= limit {
			break
		}
		out = append(out, &domain.SyncCandidate{ID: b.ID, Status: b.Status, SyncState: b.SyncState})
	}
	return out, nil
}

func (m *MockBindingStore) GetBinding(ctx context.Context, id string) (*domain.AlertBinding, error) {
	m.record(StoreCall{Method: "GetBinding", BindingID: id})
	if m.GetBindingFn != nil {
		return m.GetBindingFn(id)
	}
	if b := m.Binding(id); b != nil {
		return b, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockBindingStore) GetLinkedFeedTarget(ctx context.Context, id string) (*domain.FeedTarget, error) {
	m.record(StoreCall{Method: "GetLinkedFeedTarget", BindingID: id})
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feeds[id], nil
}

func (m *MockBindingStore) MarkStarted(ctx context.Context, id string, mode domain.SyncMode, requestID string) error {
	m.record(StoreCall{Method: "MarkStarted", BindingID: id, Mode: mode, RequestID: requestID})
	if m.MarkStartedFn != nil {
		return m.MarkStartedFn(id, mode)
	}
	return m.update(id, func(b *domain.AlertBinding) {
		b.Metadata[domain.MetaLastMode] = string(mode)
		b.Metadata[domain.MetaLastRequestID] = requestID
	})
}

func (m *MockBindingStore) MarkHistoricalProgress(ctx context.Context, id string, nextCursor *string, metrics domain.SyncMetrics, requestID string) error {
	m.record(StoreCall{Method: "MarkHistoricalProgress", BindingID: id, Cursor: nextCursor, Metrics: metrics, RequestID: requestID})
	return m.update(id, func(b *domain.AlertBinding) {
		b.SyncState = domain.SyncStateBackfilling
		b.BackfillCursor = nextCursor
		applyMetrics(b, metrics)
	})
}

func (m *MockBindingStore) MarkHistoricalCompleted(ctx context.Context, id string, metrics domain.SyncMetrics, requestID string) error {
	m.record(StoreCall{Method: "MarkHistoricalCompleted", BindingID: id, Metrics: metrics, RequestID: requestID})
	return m.update(id, func(b *domain.AlertBinding) {
		b.SyncState = domain.SyncStateActive
		b.BackfillCursor = nil
		applyMetrics(b, metrics)
	})
}

func (m *MockBindingStore) MarkIncrementalCompleted(ctx context.Context, id string, metrics domain.SyncMetrics, requestID string) error {
	m.record(StoreCall{Method: "MarkIncrementalCompleted", BindingID: id, Metrics: metrics, RequestID: requestID})
	now := m.Now()
	return m.update(id, func(b *domain.AlertBinding) {
		b.SyncState = domain.SyncStateActive
		b.LastSyncAt = &now
		applyMetrics(b, metrics)
	})
}

func (m *MockBindingStore) MarkFailed(ctx context.Context, id string, mode domain.SyncMode, errMsg string, requestID string) error {
	m.record(StoreCall{Method: "MarkFailed", BindingID: id, Mode: mode, ErrMsg: errMsg, RequestID: requestID})
	if m.MarkFailedFn != nil {
		return m.MarkFailedFn(id, mode, errMsg)
	}
	return m.update(id, func(b *domain.AlertBinding) {
		b.SyncState = domain.SyncStateError
		b.Metadata[domain.MetaLastError] = errMsg
	})
}

func (m *MockBindingStore) ResetBackfill(ctx context.Context, id string, cursor *string, requestID string) error {
	m.record(StoreCall{Method: "ResetBackfill", BindingID: id, Cursor: cursor, RequestID: requestID})
	if m.ResetBackfillFn != nil {
		return m.ResetBackfillFn(id, cursor)
	}
	return m.update(id, func(b *domain.AlertBinding) {
		b.SyncState = domain.SyncStateBackfilling
		b.BackfillCursor = cursor
	})
}

func (m *MockBindingStore) ResetBackfillBudget(ctx context.Context, id string, requestID string) error {
	m.record(StoreCall{Method: "ResetBackfillBudget", BindingID: id, RequestID: requestID})
	return m.update(id, func(b *domain.AlertBinding) {
		b.SyncState = domain.SyncStatePendingBackfill
		b.BackfillCursor = nil
		b.Metadata[domain.MetaBackfillPagesTotal] = 0
	})
}

func (m *MockBindingStore) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

func (m *MockBindingStore) update(id string, fn func(b *domain.AlertBinding)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[id]
	if !ok {
		return domain.ErrNotFound
	}
	if b.Metadata == nil {
		b.Metadata = domain.BindingMetadata{}
	}
	fn(b)
	return nil
}

func applyMetrics(b *domain.AlertBinding, metrics domain.SyncMetrics) {
	if total, ok := metrics[domain.MetaBackfillPagesTotal]; ok {
		b.Metadata[domain.MetaBackfillPagesTotal] = total
	}
	b.Metadata[domain.MetaLastRun] = map[string]any(metrics)
}
