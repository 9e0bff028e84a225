package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/qt-creator/qt-creator-sub115/internal/enginerpc"

func NewInt64Counter(meter metric.Meter, name string, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(
		name,
		metric.WithDescription(description),
		metric.WithUnit("1"), // dimensionless
	)
	if err != nil {
		panic(err)
	}
	return counter
}

// ProtocolMetrics holds the instruments recorded by engine RPC connections and controllers.
type ProtocolMetrics struct {
	tracer             trace.Tracer
	framesSent         metric.Int64Counter
	framesReceived     metric.Int64Counter
	fatalShutdowns     metric.Int64Counter
	staleNotifications metric.Int64Counter
}

func NewProtocolMetrics(mp metric.MeterProvider, tp trace.TracerProvider) *ProtocolMetrics {
	meter := mp.Meter(instrumentationName)

	return &ProtocolMetrics{
		tracer:             tp.Tracer(instrumentationName),
		framesSent:         NewInt64Counter(meter, "enginerpc.frames.sent", "Number of frames written to the transport"),
		framesReceived:     NewInt64Counter(meter, "enginerpc.frames.received", "Number of complete frames decoded from the transport"),
		fatalShutdowns:     NewInt64Counter(meter, "enginerpc.fatal_shutdowns", "Number of sessions killed by a protocol or transport error"),
		staleNotifications: NewInt64Counter(meter, "enginerpc.stale_notifications", "Number of notifications dropped because no request was pending"),
	}
}

// NoopProtocolMetrics returns instruments that record nothing.
func NoopProtocolMetrics() *ProtocolMetrics {
	return NewProtocolMetrics(metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
}

func (pm *ProtocolMetrics) FrameSent(ctx context.Context, verb string) {
	pm.framesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("verb", verb)))
}

func (pm *ProtocolMetrics) FrameReceived(ctx context.Context, verb string) {
	pm.framesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("verb", verb)))
}

func (pm *ProtocolMetrics) FatalShutdown(ctx context.Context, cause string) {
	pm.fatalShutdowns.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

func (pm *ProtocolMetrics) StaleNotification(ctx context.Context, verb string) {
	pm.staleNotifications.Add(ctx, 1, metric.WithAttributes(attribute.String("verb", verb)))
}

// TraceDispatch runs handle inside an "enginerpc.dispatch" span for the frame with the given verb and sequence.
// The span is exported only if handle fails.
func (pm *ProtocolMetrics) TraceDispatch(ctx context.Context, verb string, sequence uint64, handle func(context.Context) error) error {
	spanCtx, span := pm.tracer.Start(ctx, "enginerpc.dispatch", trace.WithAttributes(
		exportOnFailure,
		attribute.String("verb", verb),
		attribute.Int64("sequence", int64(sequence)),
	))
	err := handle(spanCtx)
	recordOutcome(span, err)
	return err
}
