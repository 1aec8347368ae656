package internaltelemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	pagemanager "github.com/sushant-115/gojodb-evict/core/write_engine/page_manager"
)

// collect reads every metric currently held by reader, keyed by name.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", agg)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

// TestRecordPass_CountsPages checks per-pass counters and the busy counter.
func TestRecordPass_CountsPages(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	m, err := NewEvictMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordPass(ctx, PassOutcome{Tree: "a.db", Mode: "close", Reconciled: 3, Evicted: 4, MergeDeferred: 1, Duration: time.Millisecond})
	m.RecordPass(ctx, PassOutcome{Tree: "a.db", Mode: "discard", Discarded: 2, Busy: true, Failed: true})

	got := collect(t, reader)
	require.EqualValues(t, 2, sumOf(t, got["gojodb.evict.passes_total"]))
	require.EqualValues(t, 3, sumOf(t, got["gojodb.evict.pages_reconciled_total"]))
	require.EqualValues(t, 4, sumOf(t, got["gojodb.evict.pages_evicted_total"]))
	require.EqualValues(t, 2, sumOf(t, got["gojodb.evict.pages_discarded_total"]))
	require.EqualValues(t, 1, sumOf(t, got["gojodb.evict.pages_merge_deferred_total"]))
	require.EqualValues(t, 1, sumOf(t, got["gojodb.evict.busy_total"]))

	var nilMetrics *EvictMetrics
	nilMetrics.RecordPass(ctx, PassOutcome{Evicted: 1})
}

// TestRegisterCacheGauges verifies the gauges follow the cache accounting.
func TestRegisterCacheGauges(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	cache := pagemanager.NewCache()
	require.NoError(t, RegisterCacheGauges(meter, cache))

	tree := pagemanager.NewTree("g.db", cache, pagemanager.PageLeaf)
	require.NoError(t, tree.Put(tree.Root(), 1, "k", "v"))

	got := collect(t, reader)
	dirty, ok := got["gojodb.cache.dirty_bytes"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, dirty.DataPoints, 1)
	require.Equal(t, cache.DirtyBytes(), dirty.DataPoints[0].Value)

	inuse, ok := got["gojodb.cache.bytes_inuse"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Equal(t, cache.InMemoryBytes(), inuse.DataPoints[0].Value)
}
