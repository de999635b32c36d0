package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// IsValidID reports whether id is a well-formed identifier.
func IsValidID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// SyncJobMessage is the unit carried on the job queue.
// Scheduler messages carry no cursor or window; continuation messages do.
type SyncJobMessage struct {
	RunID       string     `json:"run_id"`
	Mode        SyncMode   `json:"mode"`
	BindingID   string     `json:"binding_id"`
	RequestID   string     `json:"request_id,omitempty"`
	Cursor      *string    `json:"cursor,omitempty"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
}

// NewSyncJobMessage creates a fresh message with a new run ID.
func NewSyncJobMessage(mode SyncMode, bindingID, requestID string) *SyncJobMessage {
	return &SyncJobMessage{
		RunID:       GenerateID(),
		Mode:        mode,
		BindingID:   bindingID,
		RequestID:   requestID,
		RequestedAt: time.Now().UTC(),
	}
}

// ParseSyncJobMessage decodes a queue payload.
func ParseSyncJobMessage(data []byte) (*SyncJobMessage, error) {
	var msg SyncJobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return &msg, nil
}

// Validate checks the mode and binding id.
func (m *SyncJobMessage) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}
	if !m.Mode.Valid() {
		return fmt.Errorf("%w: unsupported mode %q", ErrInvalidMessage, m.Mode)
	}
	if !IsValidID(m.BindingID) {
		return fmt.Errorf("%w: malformed binding_id %q", ErrInvalidMessage, m.BindingID)
	}
	return nil
}

// HistoricalContinuation builds the follow-up message resuming a backfill at cursor.
func (m *SyncJobMessage) HistoricalContinuation(cursor *string) *SyncJobMessage {
	return &SyncJobMessage{
		RunID:       m.RunID,
		Mode:        SyncModeHistorical,
		BindingID:   m.BindingID,
		RequestID:   m.RequestID,
		Cursor:      copyString(cursor),
		RequestedAt: time.Now().UTC(),
	}
}

// IncrementalContinuation builds the follow-up message for an unfinished
// incremental window. The window bounds never move mid-cycle.
func (m *SyncJobMessage) IncrementalContinuation(start, end time.Time, cursor *string) *SyncJobMessage {
	return &SyncJobMessage{
		RunID:       m.RunID,
		Mode:        SyncModeIncremental,
		BindingID:   m.BindingID,
		RequestID:   m.RequestID,
		Cursor:      copyString(cursor),
		WindowStart: &start,
		WindowEnd:   &end,
		RequestedAt: time.Now().UTC(),
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// JobStatus represents the delivery state of a queued job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultMaxAttempts is how many deliveries a job gets before it is dead-lettered.
const DefaultMaxAttempts = 5

// QueuedJob wraps a SyncJobMessage with its delivery bookkeeping.
type QueuedJob struct {
	// ID is the queue-level identifier, distinct from the message run ID
	ID string `json:"id"`

	Message *SyncJobMessage `json:"message"`

	Status JobStatus `json:"status"`

	// Attempts is how many times this job has been delivered
	Attempts int `json:"attempts"`

	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
}

// NewQueuedJob wraps msg for immediate delivery.
func NewQueuedJob(msg *SyncJobMessage) *QueuedJob {
	now := time.Now()
	return &QueuedJob{
		ID:           GenerateID(),
		Message:      msg,
		Status:       JobStatusPending,
		MaxAttempts:  DefaultMaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// CanRetry returns true if the job can be redelivered
func (j *QueuedJob) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// IsReady returns true if the job is due for delivery
func (j *QueuedJob) IsReady() bool {
	return j.Status == JobStatusPending && !time.Now().Before(j.ScheduledFor)
}

// MarkProcessing records a delivery attempt
func (j *QueuedJob) MarkProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
	j.Attempts++
}

// MarkCompleted records successful handling
func (j *QueuedJob) MarkCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.Error = ""
}

// MarkFailed records a terminal failure
func (j *QueuedJob) MarkFailed(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.UpdatedAt = now
	j.Error = err
}

// Retry returns the job to pending with exponential backoff
func (j *QueuedJob) Retry(err string) {
	now := time.Now()
	j.Status = JobStatusPending
	j.UpdatedAt = now
	j.Error = err
	j.ScheduledFor = now.Add(RetryDelay(j.Attempts))
}

// RetryDelay is the redelivery delay after the given number of attempts:
// 1s, 2s, 4s, ... capped at 5 minutes.
func RetryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 9 {
		return 5 * time.Minute
	}
	backoff := time.Duration(1<<attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}
