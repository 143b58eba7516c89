package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"complianceflow/backend/internal/repository"
	"complianceflow/backend/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Directory answers whether an externally owned record exists.
type Directory interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// EventPublisher delivers workflow events to audit and notification consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event models.WorkflowEvent) error
}

// Engine runs workflow instances through their templates' steps.
type Engine struct {
	catalog   *Catalog
	store     repository.InstanceStore
	clock     Clock
	entities  Directory
	actors    Directory
	publisher EventPublisher
	logger    Logger
	meter     metric.Meter
	metrics   *engineMetrics
	locks     *keyedMutex
	newID     func() string
	backOff   func() backoff.BackOff
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithEntityDirectory enables entity validation at instantiation.
func WithEntityDirectory(d Directory) Option { return func(e *Engine) { e.entities = d } }

// WithActorDirectory enables assignee validation at assignment.
func WithActorDirectory(d Directory) Option { return func(e *Engine) { e.actors = d } }

// WithPublisher sets where status transition events are sent.
func WithPublisher(p EventPublisher) Option { return func(e *Engine) { e.publisher = p } }

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMeter sets the meter used for engine instruments.
func WithMeter(m metric.Meter) Option { return func(e *Engine) { e.meter = m } }

// WithIDGenerator overrides instance and event id generation.
func WithIDGenerator(f func() string) Option { return func(e *Engine) { e.newID = f } }

// WithPublishBackOff sets the retry policy for event delivery.
func WithPublishBackOff(f func() backoff.BackOff) Option { return func(e *Engine) { e.backOff = f } }

// NewEngine creates an Engine over a template catalog and an instance store.
func NewEngine(catalog *Catalog, store repository.InstanceStore, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		store:   store,
		clock:   SystemClock{},
		logger:  nopLogger{},
		locks:   newKeyedMutex(),
		newID:   uuid.NewString,
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return backoff.WithMaxRetries(b, 5)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.meter == nil {
		e.meter = otel.Meter(meterName)
	}
	m, err := newEngineMetrics(e.meter)
	if err != nil {
		e.logger.Error("failed to create engine instruments", "error", err)
		m = noopMetrics()
	}
	e.metrics = m
	return e
}

// Catalog returns the template catalog the engine reads from.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// InstantiateRequest describes a new workflow instance.
type InstantiateRequest struct {
	TemplateID string
	EntityID   string
	UserID     string
	Priority   models.Priority
	Metadata   map[string]any
	// InitiatedBy is the authenticated caller. When it differs from UserID the
	// instance was started on the user's behalf and the caller is recorded in
	// the metadata under "initiated_by".
	InitiatedBy string
}

// MetadataInitiatedBy is the metadata key holding the caller that started an
// instance on behalf of another user.
const MetadataInitiatedBy = "initiated_by"

// Instantiate starts tracking a new instance of an active template. The
// instance begins pending on step 1 with its due date fixed from the SLA.
func (e *Engine) Instantiate(ctx context.Context, req InstantiateRequest) (inst *models.WorkflowInstance, err error) {
	defer e.track(ctx, "instantiate", time.Now(), &err)

	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, req.Priority)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	tmpl, err := e.catalog.Get(req.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		return nil, fmt.Errorf("template %s is inactive: %w", req.TemplateID, ErrTemplateNotFound)
	}

	if req.EntityID != "" && e.entities != nil {
		ok, err := e.entities.Exists(ctx, req.EntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up entity %s: %w", req.EntityID, err)
		}
		if !ok {
			return nil, fmt.Errorf("entity %s: %w", req.EntityID, ErrEntityNotFound)
		}
	}

	now := e.clock.Now()
	inst = &models.WorkflowInstance{
		ID:           e.newID(),
		TemplateID:   tmpl.ID,
		TemplateName: tmpl.Name,
		Steps:        tmpl.Steps,
		EntityID:     req.EntityID,
		UserID:       req.UserID,
		CurrentStep:  1,
		Status:       models.InstanceStatusPending,
		Priority:     req.Priority,
		StartedAt:    now,
		DueDate:      DueDate(now, tmpl.SLAHours),
		Metadata:     maps.Clone(req.Metadata),
		StepHistory:  []models.StepExecution{},
		UpdatedAt:    now,
	}
	if req.InitiatedBy != "" {
		delete(inst.Metadata, MetadataInitiatedBy)
		if req.InitiatedBy != req.UserID {
			if inst.Metadata == nil {
				inst.Metadata = map[string]any{}
			}
			inst.Metadata[MetadataInitiatedBy] = req.InitiatedBy
		}
	}

	if err := e.save(ctx, inst); err != nil {
		return nil, err
	}
	// The instance carries its own copy of the steps, so a failure here only
	// leaves the template open to re-registration until the next start.
	if err := e.catalog.markInUse(ctx, tmpl.ID); err != nil {
		e.logger.Error("failed to mark template in use", "template_id", tmpl.ID, "error", err)
	}

	e.logger.Info("workflow instantiated",
		"instance_id", inst.ID, "template_id", inst.TemplateID, "user_id", inst.UserID, "due_date", inst.DueDate)
	return inst.Clone(), nil
}

// CompleteStep records the outcome of the instance's current step and
// advances, completes or fails the instance accordingly. Steps must be
// reported strictly in template order.
func (e *Engine) CompleteStep(ctx context.Context, instanceID string, report StepReport) (inst *models.WorkflowInstance, err error) {
	defer e.track(ctx, "complete_step", time.Now(), &err)

	inst, err = e.mutate(ctx, instanceID, func(cur *models.WorkflowInstance, now time.Time) (*models.WorkflowInstance, []transition, error) {
		return applyCompleteStep(cur, report, now)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("workflow step reported",
		"instance_id", inst.ID, "step_id", report.StepID, "outcome", report.Outcome,
		"status", inst.Status, "current_step", inst.CurrentStep)
	return inst, nil
}

// Cancel stops tracking a non-terminal instance. External work already in
// flight is not affected.
func (e *Engine) Cancel(ctx context.Context, instanceID string) (inst *models.WorkflowInstance, err error) {
	defer e.track(ctx, "cancel", time.Now(), &err)

	inst, err = e.mutate(ctx, instanceID, func(cur *models.WorkflowInstance, now time.Time) (*models.WorkflowInstance, []transition, error) {
		return applyCancel(cur, now)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("workflow cancelled", "instance_id", inst.ID, "current_step", inst.CurrentStep)
	return inst, nil
}

// Annotate merges audit metadata into an instance, terminal or not.
func (e *Engine) Annotate(ctx context.Context, instanceID string, metadata map[string]any) (inst *models.WorkflowInstance, err error) {
	defer e.track(ctx, "annotate", time.Now(), &err)

	if len(metadata) == 0 {
		return nil, fmt.Errorf("%w: metadata is empty", ErrInvalidRequest)
	}
	return e.mutate(ctx, instanceID, func(cur *models.WorkflowInstance, now time.Time) (*models.WorkflowInstance, []transition, error) {
		return applyAnnotate(cur, metadata, now), nil, nil
	})
}

// Get loads an instance.
func (e *Engine) Get(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	return e.load(ctx, instanceID)
}

// List returns instances matching the filter.
func (e *Engine) List(ctx context.Context, filter models.InstanceFilter) ([]*models.WorkflowInstance, error) {
	instances, err := e.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return instances, nil
}

// ListOverdue returns the non-terminal instances whose due date is before now.
// Nothing is transitioned; callers decide whether to escalate or cancel.
func (e *Engine) ListOverdue(ctx context.Context, now time.Time) ([]*models.WorkflowInstance, error) {
	active, err := e.List(ctx, models.InstanceFilter{
		Statuses: []models.InstanceStatus{models.InstanceStatusPending, models.InstanceStatusInProgress},
	})
	if err != nil {
		return nil, err
	}
	overdue := active[:0]
	for _, inst := range active {
		if IsOverdue(inst, now) {
			overdue = append(overdue, inst)
		}
	}
	return overdue, nil
}

func (e *Engine) track(ctx context.Context, op string, started time.Time, err *error) {
	e.metrics.observe(ctx, op, started, *err)
}

type mutation func(cur *models.WorkflowInstance, now time.Time) (*models.WorkflowInstance, []transition, error)

// mutate applies fn to the stored instance under the instance's lock and
// persists the result together with an event per status transition. The store's
// version check catches writers in other processes. Events are published after
// the lock is released; whatever is not delivered stays on the instance.
func (e *Engine) mutate(ctx context.Context, instanceID string, fn mutation) (*models.WorkflowInstance, error) {
	next, err := e.commit(ctx, instanceID, fn)
	if err != nil {
		return nil, err
	}
	return e.flush(ctx, next), nil
}

func (e *Engine) commit(ctx context.Context, instanceID string, fn mutation) (*models.WorkflowInstance, error) {
	unlock := e.locks.Lock(instanceID)
	defer unlock()

	cur, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	next, transitions, err := fn(cur, now)
	if err != nil {
		return nil, err
	}
	if e.publisher != nil {
		for _, t := range transitions {
			next.PendingEvents = append(next.PendingEvents, models.WorkflowEvent{
				ID:         e.newID(),
				InstanceID: next.ID,
				TemplateID: next.TemplateID,
				FromStatus: t.From,
				ToStatus:   t.To,
				Timestamp:  now,
			})
		}
	}
	if err := e.save(ctx, next); err != nil {
		return nil, err
	}
	for _, t := range transitions {
		e.metrics.transition(ctx, next.TemplateID, t)
	}
	return next.Clone(), nil
}

func (e *Engine) load(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	inst, err := e.store.Get(ctx, instanceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("instance %s: %w", instanceID, ErrInstanceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}
	return inst, nil
}

func (e *Engine) save(ctx context.Context, inst *models.WorkflowInstance) error {
	err := e.store.Save(ctx, inst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrVersionConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("instance %s: %w", inst.ID, ErrInstanceNotFound)
	}
	return fmt.Errorf("failed to save instance %s: %w", inst.ID, err)
}

// flush publishes the instance's pending events in order and drops the
// delivered ones from the stored instance. Delivery stops at the first event
// that still fails after retries so that later transitions are not published
// ahead of it. Concurrent flushes may publish an event twice; consumers
// deduplicate on WorkflowEvent.DedupeKey.
func (e *Engine) flush(ctx context.Context, inst *models.WorkflowInstance) *models.WorkflowInstance {
	if e.publisher == nil || len(inst.PendingEvents) == 0 {
		return inst
	}
	ctx = context.WithoutCancel(ctx)

	delivered := make(map[string]bool, len(inst.PendingEvents))
	for _, event := range inst.PendingEvents {
		publish := func() error { return e.publisher.Publish(ctx, event) }
		if err := backoff.Retry(publish, backoff.WithContext(e.backOff(), ctx)); err != nil {
			e.metrics.publishFailures.Add(ctx, 1)
			e.logger.Error("failed to publish workflow event, kept for redelivery",
				"instance_id", inst.ID, "event_id", event.ID, "from", event.FromStatus, "to", event.ToStatus, "error", err)
			break
		}
		delivered[event.ID] = true
	}
	if len(delivered) == 0 {
		return inst
	}

	acked, err := e.ack(ctx, inst.ID, delivered)
	if err != nil {
		e.logger.Error("failed to clear delivered workflow events", "instance_id", inst.ID, "error", err)
		return inst
	}
	return acked
}

// ack removes delivered events from the stored instance.
func (e *Engine) ack(ctx context.Context, instanceID string, delivered map[string]bool) (*models.WorkflowInstance, error) {
	unlock := e.locks.Lock(instanceID)
	defer unlock()

	cur, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	before := len(cur.PendingEvents)
	cur.PendingEvents = slices.DeleteFunc(cur.PendingEvents, func(ev models.WorkflowEvent) bool {
		return delivered[ev.ID]
	})
	if len(cur.PendingEvents) == before {
		return cur, nil
	}
	if len(cur.PendingEvents) == 0 {
		cur.PendingEvents = nil
	}
	if err := e.save(ctx, cur); err != nil {
		return nil, err
	}
	return cur.Clone(), nil
}

// RedeliverPending publishes the events that earlier operations committed but
// could not deliver, for example after a broker outage or a restart between
// commit and publish. It returns the number of instances that still hold
// undelivered events.
func (e *Engine) RedeliverPending(ctx context.Context) (int, error) {
	if e.publisher == nil {
		return 0, nil
	}
	instances, err := e.List(ctx, models.InstanceFilter{PendingEvents: true})
	if err != nil {
		return 0, err
	}
	remaining := 0
	for _, inst := range instances {
		if err := ctx.Err(); err != nil {
			return remaining, err
		}
		if left := e.flush(ctx, inst); len(left.PendingEvents) > 0 {
			remaining++
		}
	}
	if remaining > 0 {
		e.logger.Info("workflow events still pending", "instances", remaining)
	}
	return remaining, nil
}
