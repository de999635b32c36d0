package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

// Ensure Queue implements JobQueue
var _ driven.JobQueue = (*Queue)(nil)

// pollInterval is how often an empty queue is re-checked while waiting.
const pollInterval = 500 * time.Millisecond

// Queue implements JobQueue using PostgreSQL with SKIP LOCKED so that
// concurrent consumers never claim the same job.
// This is the fallback queue when Redis is not available.
type Queue struct {
	db          *sql.DB
	maxAttempts int
	logger      *slog.Logger
}

// Config holds configuration for the Postgres queue.
type Config struct {
	MaxAttempts int // Deliveries before a job is dead-lettered (default: 5)
	Logger      *slog.Logger
}

// NewQueue creates a new PostgreSQL-backed job queue.
// Assumes the sync_jobs table exists (see the postgres adapter schema).
func NewQueue(db *sql.DB, cfg Config) *Queue {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, maxAttempts: maxAttempts, logger: logger}
}

const insertJobSQL = `
	INSERT INTO sync_jobs (
		id, run_id, binding_id, mode, payload, status,
		attempts, max_attempts, error, created_at, updated_at, scheduled_for
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// Enqueue adds a message for immediate delivery
func (q *Queue) Enqueue(ctx context.Context, msg *domain.SyncJobMessage) error {
	job := q.newJob(msg)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, insertJobSQL, jobArgs(job, payload)...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// EnqueueBatch adds multiple messages atomically
func (q *Queue) EnqueueBatch(ctx context.Context, msgs []*domain.SyncJobMessage) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, insertJobSQL)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		job := q.newJob(msg)
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message for run %s: %w", msg.RunID, err)
		}
		if _, err := stmt.ExecContext(ctx, jobArgs(job, payload)...); err != nil {
			return fmt.Errorf("insert job for run %s: %w", msg.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (q *Queue) newJob(msg *domain.SyncJobMessage) *domain.QueuedJob {
	job := domain.NewQueuedJob(msg)
	job.MaxAttempts = q.maxAttempts
	return job
}

func jobArgs(job *domain.QueuedJob, payload []byte) []any {
	return []any{
		job.ID,
		job.Message.RunID,
		job.Message.BindingID,
		job.Message.Mode,
		string(payload),
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
		job.ScheduledFor,
	}
}

// DequeueBatch claims up to max ready jobs, polling until timeout when the
// queue is empty.
func (q *Queue) DequeueBatch(ctx context.Context, max int, timeout time.Duration) ([]*domain.QueuedJob, error) {
	deadline := time.Now().Add(timeout)
	for {
		jobs, err := q.claim(ctx, max)
		if err != nil || len(jobs) > 0 {
			return jobs, err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		if wait > pollInterval {
			wait = pollInterval
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// claim selects and marks ready jobs in one statement.
func (q *Queue) claim(ctx context.Context, max int) ([]*domain.QueuedJob, error) {
	query := `
		UPDATE sync_jobs
		SET status = $1, started_at = NOW(), updated_at = NOW(), attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status = $2 AND scheduled_for <= NOW()
			ORDER BY scheduled_for ASC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, payload, status, attempts, max_attempts, error,
			created_at, updated_at, started_at, scheduled_for
	`

	rows, err := q.db.QueryContext(ctx, query, domain.JobStatusProcessing, domain.JobStatusPending, max)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.QueuedJob
	for rows.Next() {
		var job domain.QueuedJob
		var payload []byte
		var startedAt sql.NullTime

		err := rows.Scan(
			&job.ID,
			&payload,
			&job.Status,
			&job.Attempts,
			&job.MaxAttempts,
			&job.Error,
			&job.CreatedAt,
			&job.UpdatedAt,
			&startedAt,
			&job.ScheduledFor,
		)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if startedAt.Valid {
			job.StartedAt = &startedAt.Time
		}

		// An undecodable payload is still delivered, with a nil message, so
		// the consumer drops and acks it.
		msg, err := domain.ParseSyncJobMessage(payload)
		if err != nil {
			q.logger.Warn("undecodable sync job payload", "job_id", job.ID, "error", err)
		}
		job.Message = msg

		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Ack marks a job as completed
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	query := `
		UPDATE sync_jobs
		SET status = $1, completed_at = NOW(), updated_at = NOW(), error = ''
		WHERE id = $2
	`
	result, err := q.db.ExecContext(ctx, query, domain.JobStatusCompleted, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Nack schedules a retry with exponential backoff, or dead-letters the job
// once it has used its attempts.
func (q *Queue) Nack(ctx context.Context, jobID string, reason string) error {
	var attempts, maxAttempts int
	err := q.db.QueryRowContext(ctx,
		`SELECT attempts, max_attempts FROM sync_jobs WHERE id = $1`, jobID,
	).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	job := &domain.QueuedJob{Attempts: attempts, MaxAttempts: maxAttempts}
	now := time.Now()

	if job.CanRetry() {
		_, err = q.db.ExecContext(ctx, `
			UPDATE sync_jobs
			SET status = $1, error = $2, updated_at = $3, scheduled_for = $4
			WHERE id = $5
		`, domain.JobStatusPending, reason, now, now.Add(domain.RetryDelay(attempts)), jobID)
	} else {
		q.logger.Warn("sync job exhausted its attempts", "job_id", jobID, "attempts", attempts, "error", reason)
		_, err = q.db.ExecContext(ctx, `
			UPDATE sync_jobs
			SET status = $1, error = $2, updated_at = $3
			WHERE id = $4
		`, domain.JobStatusFailed, reason, now, jobID)
	}
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// Stats returns queue statistics
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = $1 AND scheduled_for <= NOW()),
			COUNT(*) FILTER (WHERE status = $1 AND scheduled_for > NOW()),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3)
		FROM sync_jobs
	`
	stats := &driven.QueueStats{}
	err := q.db.QueryRowContext(ctx, query,
		domain.JobStatusPending,
		domain.JobStatusProcessing,
		domain.JobStatusFailed,
	).Scan(&stats.PendingCount, &stats.ScheduledCount, &stats.ProcessingCount, &stats.FailedCount)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}

// Ping checks database connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close is a no-op for the Postgres queue (db connection managed externally)
func (q *Queue) Close() error {
	return nil
}
