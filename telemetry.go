package jobscheduler

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/jobscheduler"

// Span attribute keys
const (
	attrHandler = "jobscheduler.handler"
	attrJobID   = "jobscheduler.job_id"
	attrKey     = "jobscheduler.key"
	attrReason  = "reason"
)

// Dispatch failure reasons, used as the "reason" metric attribute.
const (
	reasonMalformedKey    = "malformed_key"
	reasonHandlerNotFound = "handler_not_found"
	reasonShadowMissing   = "shadow_missing"
	reasonPayloadCorrupt  = "payload_corrupt"
	reasonHandlerError    = "handler_error"
	reasonStoreError      = "store_error"
)

type telemetry struct {
	tracer trace.Tracer

	scheduled       metric.Int64Counter
	scheduleFailed  metric.Int64Counter
	cancelled       metric.Int64Counter
	dispatched      metric.Int64Counter
	dispatchFailed  metric.Int64Counter
	handlerDuration metric.Float64Histogram
}

// newTelemetry creates instruments once. Instrument errors are ignored:
// the API returns usable no-op instruments alongside them.
func newTelemetry(o *options) *telemetry {
	meter := o.meterProvider.Meter(instrumentationName)

	t := &telemetry{tracer: o.tracerProvider.Tracer(instrumentationName)}
	t.scheduled, _ = meter.Int64Counter("jobscheduler.scheduled",
		metric.WithDescription("Jobs written to the store"))
	t.scheduleFailed, _ = meter.Int64Counter("jobscheduler.schedule.failed",
		metric.WithDescription("Schedule calls that failed after touching the store"))
	t.cancelled, _ = meter.Int64Counter("jobscheduler.cancelled",
		metric.WithDescription("Cancel calls"))
	t.dispatched, _ = meter.Int64Counter("jobscheduler.dispatched",
		metric.WithDescription("Jobs handed to a handler successfully"))
	t.dispatchFailed, _ = meter.Int64Counter("jobscheduler.dispatch.failed",
		metric.WithDescription("Expiry notifications that did not complete a dispatch"))
	t.handlerDuration, _ = meter.Float64Histogram("jobscheduler.handler.duration",
		metric.WithDescription("Handler execution time"),
		metric.WithUnit("ms"))
	return t
}

// failure records a failed dispatch on the metric and the span and returns
// err unchanged.
func (t *telemetry) failure(ctx context.Context, span trace.Span, handler, reason string, err error) error {
	attrs := []attribute.KeyValue{attribute.String(attrReason, reason)}
	if handler != "" {
		attrs = append(attrs, attribute.String(attrHandler, handler))
	}
	t.dispatchFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	return err
}

// failureReason classifies a dispatch error for logging.
func failureReason(err error) string {
	switch {
	case IsHandlerError(err):
		return reasonHandlerError
	case errors.Is(err, ErrMalformedKey):
		return reasonMalformedKey
	case errors.Is(err, ErrHandlerNotFound):
		return reasonHandlerNotFound
	case errors.Is(err, ErrShadowMissing):
		return reasonShadowMissing
	case errors.Is(err, ErrPayloadCorrupt):
		return reasonPayloadCorrupt
	default:
		return reasonStoreError
	}
}
