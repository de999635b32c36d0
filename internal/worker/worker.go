package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/services"
)

// BatchHandler runs a batch of delivered jobs and reports per-job failures
// as a *domain.BatchError.
type BatchHandler interface {
	HandleBatch(ctx context.Context, jobs []*domain.QueuedJob) error
}

var _ BatchHandler = (*services.SyncWorker)(nil)

// Worker consumes sync jobs from the job queue in batches and settles each
// delivery: successes and terminal failures are acked, retryable failures
// are nacked so the queue redelivers them with backoff.
type Worker struct {
	queue     driven.JobQueue
	handler   BatchHandler
	scheduler *services.Scheduler
	logger    *slog.Logger

	// Configuration
	concurrency    int
	batchSize      int
	dequeueTimeout time.Duration

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	Queue          driven.JobQueue
	Handler        BatchHandler
	Scheduler      *services.Scheduler // Optional: started and stopped with the worker
	Logger         *slog.Logger
	Concurrency    int           // Number of concurrent consumers (default: 2)
	BatchSize      int           // Max jobs per dequeue (default: 10)
	DequeueTimeout time.Duration // How long to wait for jobs before checking again (default: 5s)
}

// NewWorker creates a new queue worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5 * time.Second
	}

	return &Worker{
		queue:          cfg.Queue,
		handler:        cfg.Handler,
		scheduler:      cfg.Scheduler,
		logger:         logger,
		concurrency:    concurrency,
		batchSize:      batchSize,
		dequeueTimeout: dequeueTimeout,
	}
}

// Start begins the consumer loops.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"batch_size", w.batchSize,
		"dequeue_timeout", w.dequeueTimeout,
	)

	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			w.logger.Error("failed to start scheduler", "error", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker. In-flight batches finish first.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done == nil {
		return
	}
	<-done
}

func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Info("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Info("worker stop signal received")
			return
		default:
		}

		jobs, err := w.queue.DequeueBatch(ctx, w.batchSize, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue sync jobs", "error", err)
			select {
			case <-ctx.Done():
			case <-w.stopCh:
			case <-time.After(time.Second):
			}
			continue
		}

		if len(jobs) == 0 {
			continue
		}

		w.processBatch(ctx, jobs, logger)
	}
}

// processBatch hands the jobs to the handler and settles every delivery.
func (w *Worker) processBatch(ctx context.Context, jobs []*domain.QueuedJob, logger *slog.Logger) {
	start := time.Now()
	err := w.handler.HandleBatch(ctx, jobs)

	failed := map[string]error{}
	if err != nil {
		var batchErr *domain.BatchError
		if errors.As(err, &batchErr) {
			failed = batchErr.FailedJobs()
		} else {
			// Not attributable to a single job: redeliver the whole batch.
			for _, job := range jobs {
				failed[job.ID] = err
			}
		}
	}

	logger.Info("sync batch processed",
		"jobs", len(jobs),
		"failed", len(failed),
		"duration", time.Since(start),
	)

	for _, job := range jobs {
		jobErr, ok := failed[job.ID]
		if !ok {
			w.ack(ctx, job, logger)
			continue
		}

		jobLogger := logger.With("job_id", job.ID, "attempts", job.Attempts)
		if job.Message != nil {
			jobLogger = jobLogger.With("run_id", job.Message.RunID, "binding_id", job.Message.BindingID)
		}

		if !domain.IsRetryable(jobErr) {
			jobLogger.Error("sync job failed terminally, dropping", "error", jobErr)
			w.ack(ctx, job, logger)
			continue
		}

		jobLogger.Warn("sync job failed, requeueing", "error", jobErr)
		if nackErr := w.queue.Nack(ctx, job.ID, jobErr.Error()); nackErr != nil {
			jobLogger.Error("failed to nack sync job", "nack_error", nackErr)
		}
	}
}

func (w *Worker) ack(ctx context.Context, job *domain.QueuedJob, logger *slog.Logger) {
	if err := w.queue.Ack(ctx, job.ID); err != nil {
		logger.Error("failed to ack sync job", "job_id", job.ID, "ack_error", err)
	}
}

// Health reports whether the worker is running and its queue reachable.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{Running: running}

	if err := w.queue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
