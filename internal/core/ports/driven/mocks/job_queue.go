package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

var _ driven.JobQueue = (*MockJobQueue)(nil)

// MockJobQueue is an in-memory JobQueue for testing.
type MockJobQueue struct {
	mu       sync.Mutex
	pending  []*domain.QueuedJob
	inflight map[string]*domain.QueuedJob
	enqueued []*domain.SyncJobMessage
	acked    []string
	nacked   []string

	EnqueueFn func(msg *domain.SyncJobMessage) error
	NackFn    func(jobID, reason string) error
	PingFn    func() error
}

// NewMockJobQueue creates a new MockJobQueue
func NewMockJobQueue() *MockJobQueue {
	return &MockJobQueue{inflight: make(map[string]*domain.QueuedJob)}
}

func (m *MockJobQueue) Enqueue(ctx context.Context, msg *domain.SyncJobMessage) error {
	if m.EnqueueFn != nil {
		if err := m.EnqueueFn(msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, msg)
	m.pending = append(m.pending, domain.NewQueuedJob(msg))
	return nil
}

func (m *MockJobQueue) EnqueueBatch(ctx context.Context, msgs []*domain.SyncJobMessage) error {
	for _, msg := range msgs {
		if err := m.Enqueue(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Push adds a ready-made job, bypassing Enqueue bookkeeping.
func (m *MockJobQueue) Push(job *domain.QueuedJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, job)
}

func (m *MockJobQueue) DequeueBatch(ctx context.Context, max int, timeout time.Duration) ([]*domain.QueuedJob, error) {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
			return nil, nil
		}
	}
	defer m.mu.Unlock()
	n := max
	if n > len(m.pending) {
		n = len(m.pending)
	}
	jobs := m.pending[:n]
	m.pending = append([]*domain.QueuedJob(nil), m.pending[n:]...)
	for _, j := range jobs {
		j.MarkProcessing()
		m.inflight[j.ID] = j
	}
	return jobs, nil
}

func (m *MockJobQueue) Ack(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, jobID)
	m.acked = append(m.acked, jobID)
	return nil
}

func (m *MockJobQueue) Nack(ctx context.Context, jobID string, reason string) error {
	if m.NackFn != nil {
		return m.NackFn(jobID, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, jobID)
	m.nacked = append(m.nacked, jobID)
	return nil
}

func (m *MockJobQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &driven.QueueStats{
		PendingCount:    int64(len(m.pending)),
		ProcessingCount: int64(len(m.inflight)),
	}, nil
}

func (m *MockJobQueue) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

func (m *MockJobQueue) Close() error { return nil }

// Enqueued returns every message passed to Enqueue.
func (m *MockJobQueue) Enqueued() []*domain.SyncJobMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.SyncJobMessage(nil), m.enqueued...)
}

// Acked returns the acked job IDs.
func (m *MockJobQueue) Acked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

// Nacked returns the nacked job IDs.
func (m *MockJobQueue) Nacked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.nacked...)
}
