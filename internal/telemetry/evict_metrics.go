package internaltelemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

// EvictMetrics holds the metric instruments for reclamation passes.
// A nil *EvictMetrics records nothing.
type EvictMetrics struct {
	PassesCounter          metric.Int64Counter
	PagesReconciledCounter metric.Int64Counter
	PagesEvictedCounter    metric.Int64Counter
	PagesDiscardedCounter  metric.Int64Counter
	PagesDeferredCounter   metric.Int64Counter
	BusyCounter            metric.Int64Counter
	PassLatencyHistogram   metric.Int64Histogram
}

// PassOutcome is the per-pass data recorded by RecordPass.
type PassOutcome struct {
	Tree          string
	Mode          string
	Reconciled    int
	Evicted       int
	Discarded     int
	MergeDeferred int
	Busy          bool
	Failed        bool
	Duration      time.Duration
}

// NewEvictMetrics creates and registers all the metrics for reclamation passes.
func NewEvictMetrics(meter metric.Meter) (*EvictMetrics, error) {
	passes, err := meter.Int64Counter(
		"gojodb.evict.passes_total",
		metric.WithDescription("Total number of reclamation passes."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	reconciled, err := meter.Int64Counter(
		"gojodb.evict.pages_reconciled_total",
		metric.WithDescription("Pages reconciled by reclamation passes."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evicted, err := meter.Int64Counter(
		"gojodb.evict.pages_evicted_total",
		metric.WithDescription("Pages evicted by reclamation passes."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	discarded, err := meter.Int64Counter(
		"gojodb.evict.pages_discarded_total",
		metric.WithDescription("Pages discarded by reclamation passes."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	deferred, err := meter.Int64Counter(
		"gojodb.evict.pages_merge_deferred_total",
		metric.WithDescription("Pages left resident for their parent to merge."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	busy, err := meter.Int64Counter(
		"gojodb.evict.busy_total",
		metric.WithDescription("Passes that stopped with a retryable busy error."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Int64Histogram(
		"gojodb.evict.pass.duration",
		metric.WithDescription("The latency of reclamation passes."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &EvictMetrics{
		PassesCounter:          passes,
		PagesReconciledCounter: reconciled,
		PagesEvictedCounter:    evicted,
		PagesDiscardedCounter:  discarded,
		PagesDeferredCounter:   deferred,
		BusyCounter:            busy,
		PassLatencyHistogram:   latency,
	}, nil
}

// RecordPass adds one finished pass to the instruments.
func (m *EvictMetrics) RecordPass(ctx context.Context, o PassOutcome) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case o.Busy:
		outcome = "busy"
	case o.Failed:
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("tree", o.Tree), attribute.String("mode", o.Mode))
	m.PassesCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tree", o.Tree), attribute.String("mode", o.Mode), attribute.String("outcome", outcome)))
	m.PagesReconciledCounter.Add(ctx, int64(o.Reconciled), attrs)
	m.PagesEvictedCounter.Add(ctx, int64(o.Evicted), attrs)
	m.PagesDiscardedCounter.Add(ctx, int64(o.Discarded), attrs)
	m.PagesDeferredCounter.Add(ctx, int64(o.MergeDeferred), attrs)
	if o.Busy {
		m.BusyCounter.Add(ctx, 1, attrs)
	}
	m.PassLatencyHistogram.Record(ctx, o.Duration.Milliseconds(), attrs)
}

// RegisterCacheGauges exposes the cache's memory accounting as observable gauges.
func RegisterCacheGauges(meter metric.Meter, cache *pagemanager.Cache) error {
	_, err := meter.Int64ObservableGauge(
		"gojodb.cache.dirty_bytes",
		metric.WithDescription("Bytes held by dirty pages across all trees."),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(cache.DirtyBytes())
			return nil
		}),
	)
	if err != nil {
		return err
	}
	_, err = meter.Int64ObservableGauge(
		"gojodb.cache.bytes_inuse",
		metric.WithDescription("Bytes held by resident pages across all trees."),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(cache.InMemoryBytes())
			return nil
		}),
	)
	return err
}
