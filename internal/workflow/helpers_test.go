package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"complianceflow/backend/internal/repository"
	"complianceflow/backend/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu       sync.Mutex
	events   []models.WorkflowEvent
	failures int
}

func (p *recordingPublisher) Publish(_ context.Context, event models.WorkflowEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return fmt.Errorf("broker unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []models.WorkflowEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.WorkflowEvent(nil), p.events...)
}

// blockingPublisher holds its first Publish call until release is closed.
type blockingPublisher struct {
	recordingPublisher
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{started: make(chan struct{}), release: make(chan struct{})}
}

func (p *blockingPublisher) Publish(ctx context.Context, event models.WorkflowEvent) error {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.started)
		<-p.release
	}
	return p.recordingPublisher.Publish(ctx, event)
}

type staticDirectory map[string]bool

func (d staticDirectory) Exists(_ context.Context, id string) (bool, error) {
	return d[id], nil
}

func entityFormationTemplate() *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		ID:          "entity-formation",
		Name:        "Entity Formation",
		Description: "Form a new legal entity",
		Category:    models.CategoryEntityFormation,
		Steps: []models.WorkflowStep{
			{ID: "collect-info", Name: "Collect Information", StepOrder: 1, AssigneeRole: models.AssigneeRoleAgent, ActionType: models.ActionTypeProcess, EstimatedDurationHours: 4},
			{ID: "review-docs", Name: "Review Documents", StepOrder: 2, AssigneeRole: models.AssigneeRoleManager, ActionType: models.ActionTypeReview, EstimatedDurationHours: 8},
			{ID: "file-state", Name: "File with State", StepOrder: 3, AssigneeRole: models.AssigneeRoleAuto, ActionType: models.ActionTypeIntegrate, EstimatedDurationHours: 24},
			{ID: "notify-client", Name: "Notify Client", StepOrder: 4, AssigneeRole: models.AssigneeRoleAuto, ActionType: models.ActionTypeNotify, EstimatedDurationHours: 1},
		},
		ApprovalRequired: true,
		SLAHours:         72,
		IsActive:         true,
	}
}

type testEnv struct {
	engine    *Engine
	catalog   *Catalog
	store     *repository.MemoryInstanceStore
	clock     *fakeClock
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	clock := newFakeClock()
	catalog := NewCatalog(repository.NewMemoryTemplateStore(), clock)
	_, err := catalog.Register(context.Background(), entityFormationTemplate())
	require.NoError(t, err)

	store := repository.NewMemoryInstanceStore()
	publisher := &recordingPublisher{}
	base := []Option{
		WithClock(clock),
		WithPublisher(publisher),
		WithPublishBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
		}),
	}
	engine := NewEngine(catalog, store, append(base, opts...)...)
	return &testEnv{engine: engine, catalog: catalog, store: store, clock: clock, publisher: publisher}
}

func (env *testEnv) start(t *testing.T) *models.WorkflowInstance {
	t.Helper()
	inst, err := env.engine.Instantiate(context.Background(), InstantiateRequest{
		TemplateID: "entity-formation",
		UserID:     "user-1",
	})
	require.NoError(t, err)
	return inst
}

func complete(stepID string) StepReport {
	return StepReport{StepID: stepID, Outcome: models.StepOutcomeCompleted}
}
