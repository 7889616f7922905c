package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestRegistry(t *testing.T) (*Registry, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	registry, err := NewRegistry("rtb.test")
	require.NoError(t, err)
	return registry, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byName := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			byName[m.Name] = m
		}
	}
	return byName
}

func TestRegistry_RecordAPIRequestInMilliseconds(t *testing.T) {
	registry, reader := newTestRegistry(t)

	registry.RecordAPIRequest(context.Background(), 250*time.Millisecond, "POST", "/api/v1/auctions", 200)

	byName := collect(t, reader)

	duration, ok := byName["rtb.api.request_duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(1), duration.DataPoints[0].Count)
	assert.InDelta(t, 250.0, duration.DataPoints[0].Sum, 0.001)

	total, ok := byName["rtb.api.request_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, total.DataPoints, 1)
	assert.Equal(t, int64(1), total.DataPoints[0].Value)
}

func TestRegistry_ActiveAuctionsGauge(t *testing.T) {
	registry, reader := newTestRegistry(t)

	doneFirst := registry.AuctionStarted()
	doneSecond := registry.AuctionStarted()
	doneFirst()

	byName := collect(t, reader)
	gauge, ok := byName["rtb.auction.active"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(1), gauge.DataPoints[0].Value)

	doneSecond()
	byName = collect(t, reader)
	gauge, ok = byName["rtb.auction.active"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Equal(t, int64(0), gauge.DataPoints[0].Value)
}

func TestRegistry_RecordAuctionOutcomeLabels(t *testing.T) {
	registry, reader := newTestRegistry(t)

	registry.RecordAuction(context.Background(), "won", 120*time.Millisecond, 3, 2)

	byName := collect(t, reader)
	total, ok := byName["rtb.auction.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, total.DataPoints, 1)
	assert.Equal(t, int64(1), total.DataPoints[0].Value)

	duration, ok := byName["rtb.auction.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.InDelta(t, 120.0, duration.DataPoints[0].Sum, 0.001)
}
