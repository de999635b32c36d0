package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
)

const (
	// Stream names
	jobStream     = "social:sync_jobs"
	jobGroup      = "social:sync_workers"
	scheduledJobs = "social:sync_jobs:scheduled"
	failedJobs    = "social:sync_jobs:failed"

	// Key prefixes
	jobKeyPrefix = "social:sync_job:"

	// Default consumer name prefix
	consumerPrefix = "worker-"

	// Claim timeout - how long before a delivered job is considered abandoned
	claimTimeout = 5 * time.Minute

	jobTTL       = 24 * time.Hour
	failedJobTTL = 7 * 24 * time.Hour
)

// Verify interface compliance
var _ driven.JobQueue = (*Queue)(nil)

// Queue implements JobQueue using Redis Streams.
// Job records live under their own key; the stream only carries job ids.
// Retries wait in a sorted set scored by due time and are promoted back into
// the stream on the next dequeue. Jobs out of attempts go to the failed set.
type Queue struct {
	client       *redis.Client
	consumerName string
	maxAttempts  int
	logger       *slog.Logger
	now          func() time.Time
}

// Config holds configuration for the Redis queue.
type Config struct {
	// ConsumerName should be unique per worker instance (e.g., hostname + PID).
	ConsumerName string
	MaxAttempts  int // Deliveries before a job is dead-lettered (default: 5)
	Logger       *slog.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(ctx context.Context, client *redis.Client, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}

	consumerName := cfg.ConsumerName
	if consumerName == "" {
		consumerName = fmt.Sprintf("%s%d", consumerPrefix, time.Now().UnixNano())
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		client:       client,
		consumerName: consumerName,
		maxAttempts:  maxAttempts,
		logger:       logger,
		now:          time.Now,
	}

	// Create consumer group if it doesn't exist
	err := q.client.XGroupCreateMkStream(ctx, jobStream, jobGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return q, nil
}

// Enqueue adds a message for immediate delivery.
func (q *Queue) Enqueue(ctx context.Context, msg *domain.SyncJobMessage) error {
	return q.EnqueueBatch(ctx, []*domain.SyncJobMessage{msg})
}

// EnqueueBatch adds multiple messages in one pipeline.
func (q *Queue) EnqueueBatch(ctx context.Context, msgs []*domain.SyncJobMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	for _, msg := range msgs {
		if msg == nil {
			return errors.New("sync job message is required")
		}
		job := domain.NewQueuedJob(msg)
		job.MaxAttempts = q.maxAttempts

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job for run %s: %w", msg.RunID, err)
		}
		pipe.Set(ctx, jobKeyPrefix+job.ID, data, jobTTL)
		pipe.XAdd(ctx, streamArgs(job))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue sync jobs: %w", err)
	}
	return nil
}

func streamArgs(job *domain.QueuedJob) *redis.XAddArgs {
	values := map[string]interface{}{"job_id": job.ID}
	if job.Message != nil {
		values["run_id"] = job.Message.RunID
		values["binding_id"] = job.Message.BindingID
		values["mode"] = string(job.Message.Mode)
	}
	return &redis.XAddArgs{Stream: jobStream, Values: values}
}

// DequeueBatch returns up to max jobs: abandoned deliveries first, then new
// stream entries, blocking up to timeout when there are none.
func (q *Queue) DequeueBatch(ctx context.Context, max int, timeout time.Duration) ([]*domain.QueuedJob, error) {
	if max <= 0 {
		max = 1
	}

	if err := q.promoteScheduledJobs(ctx); err != nil {
		q.logger.Warn("failed to promote scheduled sync jobs", "error", err)
	}

	jobs, err := q.claimAbandonedJobs(ctx, max)
	if err != nil {
		q.logger.Debug("failed to claim abandoned sync jobs", "error", err)
	}
	if len(jobs) >= max {
		return jobs, nil
	}

	block := timeout
	if block <= 0 || len(jobs) > 0 {
		block = -1 // Do not block
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    jobGroup,
		Consumer: q.consumerName,
		Streams:  []string{jobStream, ">"},
		Count:    int64(max - len(jobs)),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return jobs, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return jobs, nil
		}
		return jobs, fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			job, err := q.deliver(ctx, msg)
			if err != nil {
				return jobs, err
			}
			if job != nil {
				jobs = append(jobs, job)
			}
		}
	}
	return jobs, nil
}

// deliver loads the job record behind a stream entry and marks it processing.
// Entries whose record is missing or cannot be decoded are acked and dropped.
func (q *Queue) deliver(ctx context.Context, msg redis.XMessage) (*domain.QueuedJob, error) {
	jobID, ok := msg.Values["job_id"].(string)
	if !ok {
		q.logger.Warn("dropping stream entry without job id", "stream_id", msg.ID)
		q.drop(ctx, msg.ID)
		return nil, nil
	}

	job, err := q.getJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidMessage) {
			q.logger.Warn("dropping undecodable sync job", "job_id", jobID, "error", err)
			q.drop(ctx, msg.ID)
			q.client.Del(ctx, jobKeyPrefix+jobID)
			return nil, nil
		}
		return nil, err
	}
	if job == nil {
		q.logger.Warn("dropping sync job with expired record", "job_id", jobID)
		q.drop(ctx, msg.ID)
		return nil, nil
	}

	job.MarkProcessing()
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, jobKeyPrefix+job.ID, data, jobTTL)
	pipe.Set(ctx, jobKeyPrefix+job.ID+":msg", msg.ID, jobTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark job processing: %w", err)
	}
	return job, nil
}

func (q *Queue) drop(ctx context.Context, streamID string) {
	pipe := q.client.Pipeline()
	pipe.XAck(ctx, jobStream, jobGroup, streamID)
	pipe.XDel(ctx, jobStream, streamID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("failed to drop stream entry", "stream_id", streamID, "error", err)
	}
}

// Ack acknowledges successful handling and removes the job.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	msgID, err := q.client.Get(ctx, jobKeyPrefix+jobID+":msg").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get message ID: %w", err)
	}

	pipe := q.client.Pipeline()
	if msgID != "" {
		pipe.XAck(ctx, jobStream, jobGroup, msgID)
		pipe.XDel(ctx, jobStream, msgID)
	}
	pipe.Del(ctx, jobKeyPrefix+jobID, jobKeyPrefix+jobID+":msg")

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Nack acknowledges the current delivery and schedules a retry, or moves the
// job to the failed set once it has used its attempts.
func (q *Queue) Nack(ctx context.Context, jobID string, reason string) error {
	job, err := q.getJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return domain.ErrNotFound
	}

	msgID, _ := q.client.Get(ctx, jobKeyPrefix+jobID+":msg").Result()

	pipe := q.client.Pipeline()
	if msgID != "" {
		pipe.XAck(ctx, jobStream, jobGroup, msgID)
		pipe.XDel(ctx, jobStream, msgID)
	}

	if job.CanRetry() {
		job.Retry(reason)
		job.ScheduledFor = q.now().Add(domain.RetryDelay(job.Attempts))
		data, _ := json.Marshal(job)
		pipe.Set(ctx, jobKeyPrefix+jobID, data, jobTTL)
		pipe.ZAdd(ctx, scheduledJobs, redis.Z{
			Score:  float64(job.ScheduledFor.Unix()),
			Member: job.ID,
		})
	} else {
		q.logger.Warn("sync job exhausted its attempts", "job_id", jobID, "attempts", job.Attempts, "error", reason)
		job.MarkFailed(reason)
		data, _ := json.Marshal(job)
		pipe.Set(ctx, jobKeyPrefix+jobID, data, failedJobTTL)
		pipe.SAdd(ctx, failedJobs, job.ID)
	}

	pipe.Del(ctx, jobKeyPrefix+jobID+":msg")

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack job: %w", err)
	}
	return nil
}

// getJob loads a job record. Returns nil, nil when the record is gone and
// an ErrInvalidMessage error when it cannot be decoded.
func (q *Queue) getJob(ctx context.Context, jobID string) (*domain.QueuedJob, error) {
	data, err := q.client.Get(ctx, jobKeyPrefix+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job domain.QueuedJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	return &job, nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	length, err := q.client.XLen(ctx, jobStream).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get stream length: %w", err)
	}

	// Delivered entries stay in the stream until acked.
	groups, err := q.client.XInfoGroups(ctx, jobStream).Result()
	if err == nil {
		for _, group := range groups {
			if group.Name == jobGroup {
				stats.ProcessingCount = group.Pending
				break
			}
		}
	}
	stats.PendingCount = length - stats.ProcessingCount
	if stats.PendingCount < 0 {
		stats.PendingCount = 0
	}

	stats.ScheduledCount, err = q.client.ZCard(ctx, scheduledJobs).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get scheduled count: %w", err)
	}

	stats.FailedCount, err = q.client.SCard(ctx, failedJobs).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get failed count: %w", err)
	}

	return stats, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close cleans up resources.
func (q *Queue) Close() error {
	// Redis client is shared, don't close it here
	return nil
}

// promoteScheduledJobs moves due retries back into the stream.
func (q *Queue) promoteScheduledJobs(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, scheduledJobs, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().Unix(), 10),
	}).Result()
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	for _, jobID := range due {
		pipe.ZRem(ctx, scheduledJobs, jobID)

		job, err := q.getJob(ctx, jobID)
		if err != nil || job == nil {
			continue
		}
		pipe.XAdd(ctx, streamArgs(job))
	}

	_, err = pipe.Exec(ctx)
	return err
}

// claimAbandonedJobs takes over deliveries another consumer left unacked for
// longer than claimTimeout.
func (q *Queue) claimAbandonedJobs(ctx context.Context, max int) ([]*domain.QueuedJob, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: jobStream,
		Group:  jobGroup,
		Start:  "-",
		End:    "+",
		Count:  int64(max),
		Idle:   claimTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}

	var jobs []*domain.QueuedJob
	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   jobStream,
			Group:    jobGroup,
			Consumer: q.consumerName,
			MinIdle:  claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}

		job, err := q.deliver(ctx, claimed[0])
		if err != nil {
			return jobs, err
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Helper functions

func isGroupExistsError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}
