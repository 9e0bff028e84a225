package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// exportOnFailure marks spans that are only worth exporting when they end with an error.
// Frame dispatch produces one span per frame.
var exportOnFailure = attribute.Bool("enginerpc.export_on_failure", true)

// failedSpansOnlyProcessor drops ended spans carrying exportOnFailure unless their status is Error.
type failedSpansOnlyProcessor struct {
	sdktrace.SpanProcessor
}

func newFailedSpansOnlyProcessor(next sdktrace.SpanProcessor) sdktrace.SpanProcessor {
	return failedSpansOnlyProcessor{SpanProcessor: next}
}

func (p failedSpansOnlyProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if s.Status().Code == codes.Error || !hasAttribute(s.Attributes(), exportOnFailure) {
		p.SpanProcessor.OnEnd(s)
	}
}

func hasAttribute(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, kv := range attrs {
		if kv.Key == want.Key && kv.Value.Type() == attribute.BOOL && kv.Value.AsBool() == want.Value.AsBool() {
			return true
		}
	}
	return false
}

// recordOutcome ends span, marking it failed if err is not nil.
func recordOutcome(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
