package workflow

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "complianceflow/workflow"

type engineMetrics struct {
	transitions     metric.Int64Counter
	operationErrors metric.Int64Counter
	publishFailures metric.Int64Counter
	duration        metric.Float64Histogram
}

func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	transitions, err1 := meter.Int64Counter("workflow.instance.transitions",
		metric.WithDescription("Instance status transitions"))
	opErrors, err2 := meter.Int64Counter("workflow.operation.errors",
		metric.WithDescription("Rejected or failed engine operations"))
	publishFailures, err3 := meter.Int64Counter("workflow.event.publish_failures",
		metric.WithDescription("Workflow events that could not be delivered after retries"))
	duration, err4 := meter.Float64Histogram("workflow.operation.duration",
		metric.WithDescription("Engine operation latency"),
		metric.WithUnit("s"))
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return nil, err
	}
	return &engineMetrics{
		transitions:     transitions,
		operationErrors: opErrors,
		publishFailures: publishFailures,
		duration:        duration,
	}, nil
}

func noopMetrics() *engineMetrics {
	m, _ := newEngineMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

func (m *engineMetrics) transition(ctx context.Context, templateID string, t transition) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("template_id", templateID),
		attribute.String("from", string(t.From)),
		attribute.String("to", string(t.To)),
	))
}

func (m *engineMetrics) observe(ctx context.Context, op string, started time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", op))
	m.duration.Record(ctx, time.Since(started).Seconds(), attrs)
	if err != nil {
		m.operationErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("reason", errorReason(err)),
		))
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTemplate):
		return "invalid_template"
	case errors.Is(err, ErrTemplateNotFound):
		return "template_not_found"
	case errors.Is(err, ErrInstanceNotFound):
		return "instance_not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrStepMismatch):
		return "step_mismatch"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrEntityNotFound), errors.Is(err, ErrActorNotFound):
		return "unknown_reference"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	}
	return "internal"
}
