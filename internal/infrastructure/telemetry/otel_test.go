package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// Metrics must reach the Prometheus registry even when OTLP export is off,
// otherwise /metrics serves nothing but runtime defaults.
func TestSetup_DisabledStillServesMetrics(t *testing.T) {
	provider, err := Setup(context.Background(), Config{
		ServiceName:    "rtb-auction-test",
		ServiceVersion: "test",
		Environment:    "test",
		Enabled:        false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	counter, err := otel.Meter("rtb.bridge.test").Int64Counter("rtb_bridge_checks_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := false
	for _, family := range families {
		if strings.HasPrefix(family.GetName(), "rtb_bridge_checks") {
			found = true
			break
		}
	}
	assert.True(t, found, "bridged counter missing from the prometheus registry")
}

func TestSampler_Bounds(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", sampler(1.5).Description())
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "0.25")
}
