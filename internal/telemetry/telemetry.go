package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const metricExportInterval = 1 * time.Minute

// TelemetrySystem owns the process-wide tracer and meter providers.
type TelemetrySystem struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

var (
	processTelemetry     TelemetrySystem
	processTelemetryOnce sync.Once
)

// GetTelemetrySystem returns the process-wide telemetry system, creating it and registering
// its providers with otel on first use. Trace files are named after the program.
func GetTelemetrySystem(programName string) TelemetrySystem {
	processTelemetryOnce.Do(func() {
		processTelemetry = NewTelemetrySystem(programName)
		otel.SetTracerProvider(processTelemetry.TracerProvider)
		otel.SetMeterProvider(processTelemetry.MeterProvider)
	})
	return processTelemetry
}

// NewTelemetrySystem creates providers that export to the diagnostics folder when
// diagnostics logging is enabled at debug level, and discard everything otherwise.
func NewTelemetrySystem(programName string) TelemetrySystem {
	spanExporter, spanErr := newTraceExporter(programName)
	metricExporter, metricErr := newMetricExporter()
	if err := errors.Join(spanErr, metricErr); err != nil {
		// Telemetry that cannot be written is discarded.
		spanExporter, metricExporter = discardExporter{}, discardExporter{}
	}

	return TelemetrySystem{
		TracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(newFailedSpansOnlyProcessor(sdktrace.NewBatchSpanProcessor(spanExporter))),
		),
		MeterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(metricExportInterval))),
		),
	}
}

// Shutdown flushes pending spans and metrics. The providers shut their exporters down.
func (ts TelemetrySystem) Shutdown(ctx context.Context) error {
	return errors.Join(
		ts.TracerProvider.Shutdown(ctx),
		ts.MeterProvider.Shutdown(ctx),
	)
}
