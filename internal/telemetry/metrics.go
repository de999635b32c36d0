// Package telemetry provides OpenTelemetry instruments for the sync engine.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync metrics meter
const SyncMetricsMeterName = "github.com/alejandrogutier/claro-data-ai-sub002/sync"

// Run outcomes recorded on social_sync_runs_total.
const (
	OutcomeCompleted      = "completed"
	OutcomeContinued      = "continued"
	OutcomeBudgetExceeded = "budget_exceeded"
	OutcomeFailed         = "failed"
	OutcomeDropped        = "dropped"
)

// SyncMetrics holds the instruments for scheduler and worker activity.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	jobsEnqueued   metric.Int64Counter
	runs           metric.Int64Counter
	runDuration    metric.Float64Histogram
	pagesProcessed metric.Int64Counter
}

// NewSyncMetrics creates the instruments on provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	jobsEnqueued, err := meter.Int64Counter(
		"social_sync_jobs_enqueued_total",
		metric.WithDescription("Sync jobs enqueued by the scheduler and by continuations"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter(
		"social_sync_runs_total",
		metric.WithDescription("Sync job messages handled by the worker, by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"social_sync_run_duration_seconds",
		metric.WithDescription("Duration of one sync operation invocation in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	pagesProcessed, err := meter.Int64Counter(
		"social_sync_pages_processed_total",
		metric.WithDescription("Upstream pages processed by sync operations"),
		metric.WithUnit("{page}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		jobsEnqueued:   jobsEnqueued,
		runs:           runs,
		runDuration:    runDuration,
		pagesProcessed: pagesProcessed,
	}, nil
}

// RecordEnqueued counts one enqueued job of the given mode.
func (m *SyncMetrics) RecordEnqueued(ctx context.Context, mode string) {
	if m == nil || m.jobsEnqueued == nil {
		return
	}
	m.jobsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordRun counts a handled message and, when a sync operation ran,
// its duration and pages.
func (m *SyncMetrics) RecordRun(ctx context.Context, mode, outcome string, duration time.Duration, pages int) {
	if m == nil || m.runs == nil {
		return
	}
	modeAttr := attribute.String("mode", mode)
	m.runs.Add(ctx, 1, metric.WithAttributes(modeAttr, attribute.String("outcome", outcome)))
	if duration > 0 {
		m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(modeAttr))
	}
	if pages > 0 {
		m.pagesProcessed.Add(ctx, int64(pages), metric.WithAttributes(modeAttr))
	}
}
