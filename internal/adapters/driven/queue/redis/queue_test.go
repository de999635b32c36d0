package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
)

func newTestQueue(t *testing.T, maxAttempts int) (*miniredis.Miniredis, *Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewQueue(context.Background(), client, Config{ConsumerName: "test-worker", MaxAttempts: maxAttempts})
	require.NoError(t, err)
	return mr, q
}

func newMessage() *domain.SyncJobMessage {
	return domain.NewSyncJobMessage(domain.SyncModeHistorical, uuid.NewString(), "req-1")
}

func TestNewQueue_RequiresClient(t *testing.T) {
	_, err := NewQueue(context.Background(), nil, Config{})
	assert.Error(t, err)
}

func TestNewQueue_ExistingGroup(t *testing.T) {
	mr, _ := newTestQueue(t, 0)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewQueue(context.Background(), client, Config{})
	assert.NoError(t, err, "creating the group twice must succeed")
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	_, q := newTestQueue(t, 0)
	ctx := context.Background()

	first := newMessage()
	cursor := "page:7"
	second := first.HistoricalContinuation(&cursor)
	require.NoError(t, q.EnqueueBatch(ctx, []*domain.SyncJobMessage{first, second}))

	jobs, err := q.DequeueBatch(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, first.RunID, jobs[0].Message.RunID)
	assert.Equal(t, first.BindingID, jobs[0].Message.BindingID)
	assert.Equal(t, domain.JobStatusProcessing, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.Equal(t, domain.DefaultMaxAttempts, jobs[0].MaxAttempts)
	require.NotNil(t, jobs[1].Message.Cursor)
	assert.Equal(t, "page:7", *jobs[1].Message.Cursor)
	assert.NotEqual(t, jobs[0].ID, jobs[1].ID, "continuations share a run id but not a job id")

	for _, job := range jobs {
		require.NoError(t, q.Ack(ctx, job.ID))
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingCount)
	assert.Equal(t, int64(0), stats.FailedCount)

	again, err := q.DequeueBatch(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestQueue_DequeueBatch_RespectsMax(t *testing.T) {
	_, q := newTestQueue(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, newMessage()))
	}

	jobs, err := q.DequeueBatch(ctx, 2, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	rest, err := q.DequeueBatch(ctx, 2, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestQueue_NackSchedulesRetry(t *testing.T) {
	_, q := newTestQueue(t, 0)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, newMessage()))

	jobs, err := q.DequeueBatch(ctx, 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, q.Nack(ctx, jobs[0].ID, "upstream 503"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ScheduledCount)

	// Not due yet
	none, err := q.DequeueBatch(ctx, 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, none)

	// Jump past the retry delay
	q.now = func() time.Time { return time.Now().Add(time.Hour) }
	retried, err := q.DequeueBatch(ctx, 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, jobs[0].ID, retried[0].ID)
	assert.Equal(t, 2, retried[0].Attempts)
	assert.Equal(t, "upstream 503", retried[0].Error)
}

func TestQueue_NackDeadLettersAfterMaxAttempts(t *testing.T) {
	_, q := newTestQueue(t, 1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, newMessage()))

	jobs, err := q.DequeueBatch(ctx, 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, q.Nack(ctx, jobs[0].ID, "still failing"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FailedCount)
	assert.Equal(t, int64(0), stats.ScheduledCount)

	job, err := q.getJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

func TestQueue_NackUnknownJob(t *testing.T) {
	_, q := newTestQueue(t, 0)

	err := q.Nack(context.Background(), "missing", "boom")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueue_DropsUndecodableRecords(t *testing.T) {
	mr, q := newTestQueue(t, 0)
	ctx := context.Background()

	require.NoError(t, mr.Set(jobKeyPrefix+"broken", "{not json"))
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: jobStream,
		Values: map[string]interface{}{"job_id": "broken"},
	}).Result()
	require.NoError(t, err)
	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: jobStream,
		Values: map[string]interface{}{"unexpected": "field"},
	}).Result()
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, newMessage()))

	jobs, err := q.DequeueBatch(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "only the valid job is delivered")
	assert.False(t, mr.Exists(jobKeyPrefix+"broken"))

	length, err := q.client.XLen(ctx, jobStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length, "dropped entries are removed from the stream")
}

func TestQueue_Ping(t *testing.T) {
	_, q := newTestQueue(t, 0)
	assert.NoError(t, q.Ping(context.Background()))
	assert.NoError(t, q.Close())
}
