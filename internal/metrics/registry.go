package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the auction engine's metrics
type Registry struct {
	meter metric.Meter

	AuctionDuration     metric.Float64Histogram
	AuctionCounter      metric.Int64Counter
	TargetsPinged       metric.Int64Histogram
	SuccessfulResponses metric.Int64Histogram
	PersistenceFailures metric.Int64Counter
	ActiveAuctions      metric.Int64ObservableGauge

	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter

	mu             sync.RWMutex
	activeAuctions int64
}

// NewRegistry builds the registry against the global meter provider
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{meter: otel.Meter(meterName)}

	var err error

	r.AuctionDuration, err = r.meter.Float64Histogram(
		"rtb.auction.duration",
		metric.WithDescription("Wall time of one auction in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(10, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	r.AuctionCounter, err = r.meter.Int64Counter(
		"rtb.auction.total",
		metric.WithDescription("Total auctions run, labeled by outcome"),
	)
	if err != nil {
		return nil, err
	}

	r.TargetsPinged, err = r.meter.Int64Histogram(
		"rtb.auction.targets_pinged",
		metric.WithDescription("Targets dispatched per auction"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 20, 50),
	)
	if err != nil {
		return nil, err
	}

	r.SuccessfulResponses, err = r.meter.Int64Histogram(
		"rtb.auction.successful_responses",
		metric.WithDescription("Successful bid responses per auction"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 20, 50),
	)
	if err != nil {
		return nil, err
	}

	r.PersistenceFailures, err = r.meter.Int64Counter(
		"rtb.auction.persistence_failure_total",
		metric.WithDescription("Auction audit writes that failed"),
	)
	if err != nil {
		return nil, err
	}

	r.ActiveAuctions, err = r.meter.Int64ObservableGauge(
		"rtb.auction.active",
		metric.WithDescription("Auctions currently in flight"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.activeAuctions)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"rtb.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return nil, err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"rtb.api.request_total",
		metric.WithDescription("Total API requests"),
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// RecordAuction records one finished auction
func (r *Registry) RecordAuction(ctx context.Context, outcome string, elapsed time.Duration, pinged, successful int) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	r.AuctionDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
	r.AuctionCounter.Add(ctx, 1, attrs)
	r.TargetsPinged.Record(ctx, int64(pinged), attrs)
	r.SuccessfulResponses.Record(ctx, int64(successful), attrs)
}

// RecordPersistenceFailure counts a failed audit write
func (r *Registry) RecordPersistenceFailure(ctx context.Context) {
	r.PersistenceFailures.Add(ctx, 1)
}

// AuctionStarted bumps the in-flight gauge; the returned func ends it
func (r *Registry) AuctionStarted() func() {
	r.mu.Lock()
	r.activeAuctions++
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		r.activeAuctions--
		r.mu.Unlock()
	}
}

// RecordAPIRequest records one handled API request
func (r *Registry) RecordAPIRequest(ctx context.Context, elapsed time.Duration, method, path string, statusCode int) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	)

	r.APIRequestDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
	r.APIRequestCounter.Add(ctx, 1, attrs)
}
