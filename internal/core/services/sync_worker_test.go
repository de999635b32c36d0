package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/domain"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven/mocks"
)

type workerFixture struct {
	store  *mocks.MockBindingStore
	queue  *mocks.MockJobQueue
	op     *mocks.MockSyncOperation
	worker *SyncWorker
	now    time.Time
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	f := &workerFixture{
		store: mocks.NewMockBindingStore(),
		queue: mocks.NewMockJobQueue(),
		op:    &mocks.MockSyncOperation{},
		now:   time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC),
	}
	f.worker = NewSyncWorker(SyncWorkerConfig{
		Store:    f.store,
		Queue:    f.queue,
		Services: newTestServices(f.op),
		Now:      func() time.Time { return f.now },
	})
	return f
}

func (f *workerFixture) setMaxTotalPages(t *testing.T, n int) {
	t.Helper()
	settings := f.worker.services.Settings()
	settings.BackfillMaxTotalPages = n
	if err := f.worker.services.SetSettings(settings); err != nil {
		t.Fatalf("failed to set settings: %v", err)
	}
}

func TestSyncWorker_HistoricalProgress(t *testing.T) {
	f := newWorkerFixture(t)
	f.setMaxTotalPages(t, 100)

	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateBackfilling)
	b.BackfillCursor = strPtr("page:42")
	b.Metadata[domain.MetaBackfillPagesTotal] = 80
	f.store.Put(b)

	f.op.RunFn = func(req *domain.SyncRequest) (*domain.SyncOutcome, error) {
		return &domain.SyncOutcome{PagesProcessed: 15, NextCursor: strPtr("page:57")}, nil
	}

	msg := domain.NewSyncJobMessage(domain.SyncModeHistorical, b.ID, "")
	if err := f.worker.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := f.op.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 sync run, got %d", len(reqs))
	}
	req := reqs[0]
	if req.StartCursor == nil || *req.StartCursor != "page:42" {
		t.Errorf("expected start cursor page:42, got %v", req.StartCursor)
	}
	if req.MaxPages != 20 || req.PageItemLimit != 100 || req.ReviewThreshold != 0.6 || !req.ThrowOnError {
		t.Errorf("unexpected request bounds: %+v", req)
	}
	if req.WindowStart != nil || req.WindowEnd != nil {
		t.Error("historical requests carry no window")
	}

	progress := f.store.CallsTo("MarkHistoricalProgress")
	if len(progress) != 1 {
		t.Fatalf("expected 1 progress call, got %d", len(progress))
	}
	if *progress[0].Cursor != "page:57" {
		t.Errorf("expected cursor page:57, got %s", *progress[0].Cursor)
	}
	if total := progress[0].Metrics[domain.MetaBackfillPagesTotal]; total != 95 {
		t.Errorf("expected total 95, got %v", total)
	}
	if got := f.store.Binding(b.ID).BackfillPagesProcessed(); got != 95 {
		t.Errorf("expected stored total 95, got %d", got)
	}

	msgs := f.queue.Enqueued()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 continuation, got %d", len(msgs))
	}
	next := msgs[0]
	if next.Mode != domain.SyncModeHistorical || next.BindingID != b.ID || next.Cursor == nil || *next.Cursor != "page:57" {
		t.Errorf("unexpected continuation: %+v", next)
	}
	if next.RunID != msg.RunID {
		t.Error("continuation should keep the run id")
	}
	if len(f.store.CallsTo("MarkFailed")) != 0 {
		t.Error("unexpected MarkFailed")
	}
}

func TestSyncWorker_HistoricalBudgetExceededAfterRun(t *testing.T) {
	f := newWorkerFixture(t)
	f.setMaxTotalPages(t, 100)

	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateBackfilling)
	b.BackfillCursor = strPtr("page:42")
	b.Metadata[domain.MetaBackfillPagesTotal] = 95
	f.store.Put(b)

	f.op.RunFn = func(req *domain.SyncRequest) (*domain.SyncOutcome, error) {
		return &domain.SyncOutcome{PagesProcessed: 10, NextCursor: strPtr("page:52")}, nil
	}

	err := f.worker.HandleMessage(context.Background(), domain.NewSyncJobMessage(domain.SyncModeHistorical, b.ID, ""))
	if err != nil {
		t.Fatalf("budget exhaustion is terminal, expected nil error, got %v", err)
	}

	failed := f.store.CallsTo("MarkFailed")
	if len(failed) != 1 {
		t.Fatalf("expected 1 MarkFailed, got %d", len(failed))
	}
	if failed[0].ErrMsg != "backfill_max_pages_total_exceeded:100" {
		t.Errorf("unexpected reason %q", failed[0].ErrMsg)
	}
	if len(f.queue.Enqueued()) != 0 {
		t.Errorf("expected no continuation, got %d", len(f.queue.Enqueued()))
	}

	stored := f.store.Binding(b.ID)
	if stored.SyncState != domain.SyncStateError {
		t.Errorf("expected error state, got %s", stored.SyncState)
	}
	if stored.BackfillPagesProcessed() != 105 {
		t.Errorf("expected counter 105, got %d", stored.BackfillPagesProcessed())
	}
}

func TestSyncWorker_HistoricalBudgetExceededBeforeRun(t *testing.T) {
	f := newWorkerFixture(t)
	f.setMaxTotalPages(t, 100)

	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateBackfilling)
	b.Metadata[domain.MetaBackfillPagesTotal] = float64(100)
	f.store.Put(b)

	if err := f.worker.HandleMessage(context.Background(), domain.NewSyncJobMessage(domain.SyncModeHistorical, b.ID, "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.op.Requests()) != 0 {
		t.Error("sync operation must not run once the cap is reached")
	}
	failed := f.store.CallsTo("MarkFailed")
	if len(failed) != 1 || !strings.Contains(failed[0].ErrMsg, "100") {
		t.Errorf("expected budget failure, got %+v", failed)
	}
	if len(f.queue.Enqueued()) != 0 {
		t.Error("expected no continuation")
	}
}

func TestSyncWorker_HistoricalBudgetMarkFailedError(t *testing.T) {
	f := newWorkerFixture(t)
	f.setMaxTotalPages(t, 100)

	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateBackfilling)
	b.Metadata[domain.MetaBackfillPagesTotal] = 95
	f.store.Put(b)

	f.op.RunFn = func(req *domain.SyncRequest) (*domain.SyncOutcome, error) {
		return &domain.SyncOutcome{PagesProcessed: 10, NextCursor: strPtr("page:52")}, nil
	}
	f.store.MarkFailedFn = func(id string, mode domain.SyncMode, errMsg string) error {
		return errors.New("db down")
	}

	err := f.worker.HandleMessage(context.Background(), domain.NewSyncJobMessage(domain.SyncModeHistorical, b.ID, ""))
	if err == nil {
		t.Fatal("expected error when the budget failure cannot be recorded")
	}
	if !domain.IsRetryable(err) {
		t.Errorf("expected retryable error, got %v", err)
	}

	failed := f.store.CallsTo("MarkFailed")
	if len(failed) != 1 {
		t.Fatalf("expected a single MarkFailed, got %d", len(failed))
	}
	if failed[0].ErrMsg != "backfill_max_pages_total_exceeded:100" {
		t.Errorf("unexpected reason %q", failed[0].ErrMsg)
	}
}

func TestSyncWorker_HistoricalCursorPrecedence(t *testing.T) {
	f := newWorkerFixture(t)
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateBackfilling)
	b.BackfillCursor = strPtr("stored")
	f.store.Put(b)

	msg := domain.NewSyncJobMessage(domain.SyncModeHistorical, b.ID, "")
	msg.Cursor = strPtr("from-message")
	if err := f.worker.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := f.op.Requests()[0]
	if req.StartCursor == nil || *req.StartCursor != "from-message" {
		t.Errorf("expected message cursor to win, got %v", req.StartCursor)
	}
}

func TestSyncWorker_HistoricalCompleted(t *testing.T) {
	f := newWorkerFixture(t)
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateBackfilling)
	b.Metadata[domain.MetaBackfillPagesTotal] = 10
	f.store.Put(b)

	f.op.RunFn = func(req *domain.SyncRequest) (*domain.SyncOutcome, error) {
		if req.StartCursor != nil {
			t.Errorf("expected nil start cursor, got %q", *req.StartCursor)
		}
		return &domain.SyncOutcome{PagesProcessed: 3, Completed: true, Metrics: domain.SyncMetrics{"items_saved": 120}}, nil
	}

	if err := f.worker.HandleMessage(context.Background(), domain.NewSyncJobMessage(domain.SyncModeHistorical, b.ID, "req-9")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	completed := f.store.CallsTo("MarkHistoricalCompleted")
	if len(completed) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(completed))
	}
	if completed[0].RequestID != "req-9" {
		t.Errorf("expected request id req-9, got %s", completed[0].RequestID)
	}
	if completed[0].Metrics["items_saved"] != 120 || completed[0].Metrics[domain.MetaBackfillPagesTotal] != 13 {
		t.Errorf("unexpected metrics: %+v", completed[0].Metrics)
	}
	if f.store.Binding(b.ID).SyncState != domain.SyncStateActive {
		t.Error("expected binding to become active")
	}
	if len(f.queue.Enqueued()) != 0 {
		t.Error("completion must not enqueue a continuation")
	}
}

func TestSyncWorker_IncrementalOverlapWindow(t *testing.T) {
	f := newWorkerFixture(t)
	last := f.now.Add(-2 * time.Hour)
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateActive)
	b.LastSyncAt = &last
	f.store.Put(b)

	if err := f.worker.HandleMessage(context.Background(), domain.NewSyncJobMessage(domain.SyncModeIncremental, b.ID, "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := f.op.Requests()[0]
	if !req.WindowEnd.Equal(f.now) {
		t.Errorf("expected window end %v, got %v", f.now, *req.WindowEnd)
	}
	if want := last.Add(-15 * time.Minute); !req.WindowStart.Equal(want) {
		t.Errorf("expected window start %v, got %v", want, *req.WindowStart)
	}
	if req.MaxPages != 10 {
		t.Errorf("expected incremental page cap 10, got %d", req.MaxPages)
	}
	if len(f.store.CallsTo("MarkIncrementalCompleted")) != 1 {
		t.Error("expected incremental completion")
	}
}

func TestSyncWorker_IncrementalColdWindow(t *testing.T) {
	f := newWorkerFixture(t)
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateActive)
	f.store.Put(b)

	if err := f.worker.HandleMessage(context.Background(), domain.NewSyncJobMessage(domain.SyncModeIncremental, b.ID, "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := f.op.Requests()[0]
	if want := f.now.Add(-60 * time.Minute); !req.WindowStart.Equal(want) {
		t.Errorf("expected cold window start %v, got %v", want, *req.WindowStart)
	}
}

func TestSyncWorker_IncrementalContinuationKeepsWindow(t *testing.T) {
	f := newWorkerFixture(t)
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateActive)
	f.store.Put(b)

	start := f.now.Add(-3 * time.Hour)
	end := f.now.Add(-time.Hour)
	msg := domain.NewSyncJobMessage(domain.SyncModeIncremental, b.ID, "")
	msg.WindowStart = &start
	msg.WindowEnd = &end
	msg.Cursor = strPtr("c1")

	f.op.RunFn = func(req *domain.SyncRequest) (*domain.SyncOutcome, error) {
		return &domain.SyncOutcome{PagesProcessed: 10, NextCursor: strPtr("c2")}, nil
	}
	if err := f.worker.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := f.op.Requests()[0]
	if !req.WindowStart.Equal(start) || !req.WindowEnd.Equal(end) {
		t.Errorf("message window must be used as-is, got [%v, %v]", *req.WindowStart, *req.WindowEnd)
	}
	if *req.StartCursor != "c1" {
		t.Errorf("expected cursor c1, got %s", *req.StartCursor)
	}

	msgs := f.queue.Enqueued()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 continuation, got %d", len(msgs))
	}
	next := msgs[0]
	if !next.WindowStart.Equal(start) || !next.WindowEnd.Equal(end) {
		t.Errorf("continuation window moved: [%v, %v]", *next.WindowStart, *next.WindowEnd)
	}
	if *next.Cursor != "c2" {
		t.Errorf("expected cursor c2, got %s", *next.Cursor)
	}
	if len(f.store.CallsTo("MarkIncrementalCompleted")) != 0 {
		t.Error("unfinished window must not complete the cycle")
	}
}

func TestSyncWorker_FailurePath(t *testing.T) {
	f := newWorkerFixture(t)
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateActive)
	f.store.Put(b)

	upstream := errors.New("upstream 502")
	f.op.RunFn = func(req *domain.SyncRequest) (*domain.SyncOutcome, error) {
		return nil, upstream
	}

	err := f.worker.HandleMessage(context.Background(), domain.NewSyncJobMessage(domain.SyncModeIncremental, b.ID, ""))
	if err == nil {
		t.Fatal("expected error to be returned for redelivery")
	}
	if !errors.Is(err, upstream) {
		t.Errorf("expected wrapped upstream error, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Error("expected retryable error")
	}

	failed := f.store.CallsTo("MarkFailed")
	if len(failed) != 1 || !strings.Contains(failed[0].ErrMsg, "upstream 502") {
		t.Errorf("expected failure recorded, got %+v", failed)
	}
	if f.store.Binding(b.ID).SyncState != domain.SyncStateError {
		t.Error("expected error state")
	}
}

func TestSyncWorker_MissingCursorIsTerminal(t *testing.T) {
	f := newWorkerFixture(t)
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateBackfilling)
	f.store.Put(b)

	f.op.RunFn = func(req *domain.SyncRequest) (*domain.SyncOutcome, error) {
		return &domain.SyncOutcome{PagesProcessed: 1}, nil
	}

	err := f.worker.HandleMessage(context.Background(), domain.NewSyncJobMessage(domain.SyncModeHistorical, b.ID, ""))
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsRetryable(err) {
		t.Error("missing cursor should not be redelivered")
	}
	if len(f.queue.Enqueued()) != 0 {
		t.Error("expected no continuation")
	}
}

func TestSyncWorker_Drops(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *workerFixture) *domain.SyncJobMessage
	}{
		{
			name: "unknown mode",
			setup: func(f *workerFixture) *domain.SyncJobMessage {
				return &domain.SyncJobMessage{Mode: "weird", BindingID: "00000000-0000-0000-0000-000000000001"}
			},
		},
		{
			name: "malformed binding id",
			setup: func(f *workerFixture) *domain.SyncJobMessage {
				return &domain.SyncJobMessage{Mode: domain.SyncModeHistorical, BindingID: "not-an-id"}
			},
		},
		{
			name: "nil message",
			setup: func(f *workerFixture) *domain.SyncJobMessage {
				return nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWorkerFixture(t)
			if err := f.worker.HandleMessage(context.Background(), tt.setup(f)); err != nil {
				t.Fatalf("expected drop without error, got %v", err)
			}
			if calls := f.store.Calls(); len(calls) != 0 {
				t.Errorf("expected no store calls, got %+v", calls)
			}
		})
	}
}

func TestSyncWorker_BindingNotFound(t *testing.T) {
	f := newWorkerFixture(t)
	msg := domain.NewSyncJobMessage(domain.SyncModeHistorical, "00000000-0000-0000-0000-000000000002", "")

	if err := f.worker.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("expected drop, got %v", err)
	}
	if len(f.store.CallsTo("MarkStarted")) != 0 {
		t.Error("expected no MarkStarted")
	}
}

func TestSyncWorker_IneligibleBinding(t *testing.T) {
	tests := []struct {
		status domain.BindingStatus
		state  domain.SyncState
	}{
		{domain.BindingStatusPaused, domain.SyncStateActive},
		{domain.BindingStatusArchived, domain.SyncStateBackfilling},
		{domain.BindingStatusActive, domain.SyncStatePaused},
		{domain.BindingStatusActive, domain.SyncStateArchived},
	}

	for _, tt := range tests {
		t.Run(string(tt.status)+"/"+string(tt.state), func(t *testing.T) {
			f := newWorkerFixture(t)
			b := newBinding(t, tt.status, tt.state)
			f.store.Put(b)

			if err := f.worker.HandleMessage(context.Background(), domain.NewSyncJobMessage(domain.SyncModeIncremental, b.ID, "")); err != nil {
				t.Fatalf("expected drop, got %v", err)
			}
			if len(f.store.CallsTo("MarkStarted")) != 0 || len(f.op.Requests()) != 0 {
				t.Error("ineligible binding must not be synced")
			}
			if f.store.Binding(b.ID).SyncState != tt.state {
				t.Error("frozen sync state must be preserved")
			}
		})
	}
}

func TestSyncWorker_MarkStartedBeforeWork(t *testing.T) {
	f := newWorkerFixture(t)
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateActive)
	f.store.Put(b)

	msg := domain.NewSyncJobMessage(domain.SyncModeIncremental, b.ID, "req-7")
	if err := f.worker.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var methods []string
	for _, c := range f.store.Calls() {
		methods = append(methods, c.Method)
	}
	want := []string{"GetBinding", "MarkStarted", "MarkIncrementalCompleted"}
	if strings.Join(methods, ",") != strings.Join(want, ",") {
		t.Errorf("expected calls %v, got %v", want, methods)
	}
	started := f.store.CallsTo("MarkStarted")[0]
	if started.Mode != domain.SyncModeIncremental || started.RequestID != "req-7" {
		t.Errorf("unexpected MarkStarted call: %+v", started)
	}
}

func TestSyncWorker_FeedRouting(t *testing.T) {
	f := newWorkerFixture(t)
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateActive)
	f.store.Put(b)
	f.store.SetFeedTarget(b.ID, &domain.FeedTarget{FeedID: "feed-1"})

	msg := domain.NewSyncJobMessage(domain.SyncModeIncremental, b.ID, "")
	if err := f.worker.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.op.Requests()[0].FeedTarget != nil {
		t.Error("feed target must not be resolved while routing is off")
	}
	if len(f.store.CallsTo("GetLinkedFeedTarget")) != 0 {
		t.Error("GetLinkedFeedTarget must not be called while routing is off")
	}

	f.worker.services.Config().SetFeedRoutingEnabled(true)
	if err := f.worker.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	feed := f.op.Requests()[1].FeedTarget
	if feed == nil || feed.FeedID != "feed-1" {
		t.Errorf("expected feed-1, got %+v", feed)
	}
}

func TestSyncWorker_SyncDisabled(t *testing.T) {
	f := newWorkerFixture(t)
	b := newBinding(t, domain.BindingStatusActive, domain.SyncStateActive)
	f.store.Put(b)
	f.worker.services.Config().SetSyncEnabled(false)

	if err := f.worker.HandleMessage(context.Background(), domain.NewSyncJobMessage(domain.SyncModeIncremental, b.ID, "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.store.Calls()) != 0 {
		t.Error("disabled worker must not touch the store")
	}
}

func TestSyncWorker_HandleBatchIsolatesFailures(t *testing.T) {
	f := newWorkerFixture(t)
	ok1 := newBinding(t, domain.BindingStatusActive, domain.SyncStateActive)
	bad := newBinding(t, domain.BindingStatusActive, domain.SyncStateActive)
	ok2 := newBinding(t, domain.BindingStatusActive, domain.SyncStateActive)
	for _, b := range []*domain.AlertBinding{ok1, bad, ok2} {
		f.store.Put(b)
	}

	f.op.RunFn = func(req *domain.SyncRequest) (*domain.SyncOutcome, error) {
		if req.Binding.ID == bad.ID {
			return nil, errors.New("timeout")
		}
		return &domain.SyncOutcome{Completed: true}, nil
	}

	jobs := []*domain.QueuedJob{
		domain.NewQueuedJob(domain.NewSyncJobMessage(domain.SyncModeIncremental, ok1.ID, "")),
		domain.NewQueuedJob(domain.NewSyncJobMessage(domain.SyncModeIncremental, bad.ID, "")),
		domain.NewQueuedJob(domain.NewSyncJobMessage(domain.SyncModeIncremental, ok2.ID, "")),
	}

	err := f.worker.HandleBatch(context.Background(), jobs)
	var batchErr *domain.BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if batchErr.Total != 3 || len(batchErr.Failed) != 1 {
		t.Fatalf("unexpected batch error: %+v", batchErr)
	}
	if _, failed := batchErr.FailedJobs()[jobs[1].ID]; !failed {
		t.Error("expected the failing job to be listed")
	}
	if !strings.Contains(batchErr.Error(), jobs[1].ID) {
		t.Errorf("error should name the failed job: %s", batchErr.Error())
	}
	if len(f.store.CallsTo("MarkIncrementalCompleted")) != 2 {
		t.Error("remaining jobs must still be processed")
	}

	if err := f.worker.HandleBatch(context.Background(), jobs[:1]); err != nil {
		t.Errorf("expected nil error for a clean batch, got %v", err)
	}
}
