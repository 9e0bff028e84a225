package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestProtocolMetricsRecordVerbAttribute(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	pm := NewProtocolMetrics(mp, tracenoop.NewTracerProvider())

	ctx := context.Background()
	pm.FrameSent(ctx, "SetupEngine")
	pm.FrameSent(ctx, "SetupEngine")
	pm.FrameReceived(ctx, "NotifyEngineSetupOk")
	pm.StaleNotification(ctx, "Disassembled")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	sums := map[string]metricdata.Sum[int64]{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		sum, isSum := m.Data.(metricdata.Sum[int64])
		require.True(t, isSum, "metric %s should be an int64 sum", m.Name)
		sums[m.Name] = sum
	}

	sent := sums["enginerpc.frames.sent"]
	require.Len(t, sent.DataPoints, 1)
	assert.Equal(t, int64(2), sent.DataPoints[0].Value)
	verb, found := sent.DataPoints[0].Attributes.Value(attribute.Key("verb"))
	require.True(t, found)
	assert.Equal(t, "SetupEngine", verb.AsString())

	assert.Equal(t, int64(1), sums["enginerpc.frames.received"].DataPoints[0].Value)
	assert.Equal(t, int64(1), sums["enginerpc.stale_notifications"].DataPoints[0].Value)
}

func TestNoopProtocolMetrics(t *testing.T) {
	t.Parallel()

	pm := NoopProtocolMetrics()
	assert.NotPanics(t, func() {
		pm.FrameSent(context.Background(), "RunEngine")
		pm.FatalShutdown(context.Background(), "bad terminator")
		_ = pm.TraceDispatch(context.Background(), "RunEngine", 1, func(context.Context) error { return nil })
	})
}
