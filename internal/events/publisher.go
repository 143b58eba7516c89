// Package events delivers workflow status transitions to downstream consumers.
package events

import (
	"context"
	"errors"

	"complianceflow/backend/pkg/models"
)

// Publisher delivers a single workflow event.
type Publisher interface {
	Publish(ctx context.Context, event models.WorkflowEvent) error
}

// Logger is the subset of the application logger used by publishers.
type Logger interface {
	Info(msg string, args ...any)
}

// LogPublisher writes each event to the log. It is used when no broker is
// configured.
type LogPublisher struct {
	logger Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event models.WorkflowEvent) error {
	p.logger.Info("workflow event",
		"event_id", event.ID,
		"instance_id", event.InstanceID,
		"template_id", event.TemplateID,
		"from_status", event.FromStatus,
		"to_status", event.ToStatus,
		"timestamp", event.Timestamp,
		"dedupe_key", event.DedupeKey(),
	)
	return nil
}

// Fanout publishes every event to all of its publishers. Each publisher is
// attempted; the joined error reports the ones that failed.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event models.WorkflowEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
