package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zapcore"

	"github.com/qt-creator/qt-creator-sub115/pkg/logger"
	"github.com/qt-creator/qt-creator-sub115/pkg/osutil"
)

// Telemetry is only written out when diagnostics logging is enabled at debug level.
func diagnosticsEnabled() bool {
	logLevel, err := logger.GetDiagnosticsLogLevel()
	return err == nil && logLevel <= zapcore.DebugLevel
}

func newTraceExporter(logName string) (sdktrace.SpanExporter, error) {
	if !diagnosticsEnabled() {
		return discardExporter{}, nil
	}

	logFolder, err := logger.EnsureDiagnosticsLogsFolder()
	if err != nil {
		return nil, err
	}

	telemetryFileName := fmt.Sprintf("telemetry-%s-%d-%d.json", logName, time.Now().Unix(), os.Getpid())
	telemetryFile, err := os.OpenFile(filepath.Join(logFolder, telemetryFileName), os.O_RDWR|os.O_CREATE|os.O_EXCL|os.O_TRUNC, osutil.PermissionOnlyOwnerReadWrite)
	if err != nil {
		return nil, err
	}

	return stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(telemetryFile))
}

func newMetricExporter() (sdkmetric.Exporter, error) {
	if !diagnosticsEnabled() {
		return discardExporter{}, nil
	}

	// Metrics go to stderr next to the console log, stdout may be carrying protocol frames.
	return stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
}

type discardExporter struct{}

func (discardExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (discardExporter) Temporality(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(kind)
}

func (discardExporter) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(kind)
}

func (discardExporter) Export(context.Context, *metricdata.ResourceMetrics) error {
	return nil
}

func (discardExporter) ForceFlush(context.Context) error {
	return nil
}

func (discardExporter) Shutdown(ctx context.Context) error {
	return nil
}
