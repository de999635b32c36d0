package driven

import (
	"context"
	"time"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
)

// JobQueue carries sync job messages from the scheduler and from worker
// continuations to the queue consumer. Delivery is at-least-once.
// Implementations can use Redis (preferred) or Postgres (fallback).
type JobQueue interface {
	// Enqueue adds one message for immediate delivery.
	Enqueue(ctx context.Context, msg *domain.SyncJobMessage) error

	// EnqueueBatch adds several messages at once.
	EnqueueBatch(ctx context.Context, msgs []*domain.SyncJobMessage) error

	// DequeueBatch returns up to max ready jobs, waiting up to timeout for the
	// first one. Returns an empty slice, not an error, when nothing arrived.
	// Returned jobs are marked processing and hidden from other consumers.
	DequeueBatch(ctx context.Context, max int, timeout time.Duration) ([]*domain.QueuedJob, error)

	// Ack removes a handled job.
	Ack(ctx context.Context, jobID string) error

	// Nack schedules a failed job for redelivery with backoff.
	// Once the job has used its attempts it is moved to the failed set instead.
	Nack(ctx context.Context, jobID string, reason string) error

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}

// QueueStats contains queue statistics
type QueueStats struct {
	// PendingCount is the number of jobs waiting to be delivered
	PendingCount int64 `json:"pending_count"`

	// ProcessingCount is the number of jobs delivered but not yet acked
	ProcessingCount int64 `json:"processing_count"`

	// ScheduledCount is the number of jobs waiting out a retry delay
	ScheduledCount int64 `json:"scheduled_count"`

	// FailedCount is the number of dead-lettered jobs
	FailedCount int64 `json:"failed_count"`
}
