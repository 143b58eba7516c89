package workflow

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complianceflow/backend/internal/repository"
	"complianceflow/backend/pkg/models"
)

func TestCatalogRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("valid template is stored with ordered steps", func(t *testing.T) {
		store := repository.NewMemoryTemplateStore()
		catalog := NewCatalog(store, newFakeClock())

		tmpl := entityFormationTemplate()
		tmpl.Steps[0], tmpl.Steps[3] = tmpl.Steps[3], tmpl.Steps[0]

		registered, err := catalog.Register(ctx, tmpl)
		require.NoError(t, err)
		for i, s := range registered.Steps {
			assert.Equal(t, i+1, s.StepOrder)
		}
		assert.False(t, registered.CreatedAt.IsZero())

		persisted, err := store.ListTemplates(ctx)
		require.NoError(t, err)
		require.Len(t, persisted, 1)
		assert.Equal(t, "collect-info", persisted[0].Steps[0].ID)
	})

	cases := []struct {
		name   string
		mutate func(*models.WorkflowTemplate)
		path   string
	}{
		{"gap in step order", func(t *models.WorkflowTemplate) { t.Steps[3].StepOrder = 5 }, "steps[3].step_order"},
		{"duplicate step order", func(t *models.WorkflowTemplate) { t.Steps[2].StepOrder = 2 }, "steps[2].step_order"},
		{"zero-based step order", func(t *models.WorkflowTemplate) {
			for i := range t.Steps {
				t.Steps[i].StepOrder = i
			}
		}, "steps[0].step_order"},
		{"zero sla", func(t *models.WorkflowTemplate) { t.SLAHours = 0 }, "sla_hours"},
		{"negative sla", func(t *models.WorkflowTemplate) { t.SLAHours = -4 }, "sla_hours"},
		{"sla beyond representable due date", func(t *models.WorkflowTemplate) { t.SLAHours = 3_000_000 }, "sla_hours"},
		{"infinite sla", func(t *models.WorkflowTemplate) { t.SLAHours = math.Inf(1) }, "sla_hours"},
		{"nan sla", func(t *models.WorkflowTemplate) { t.SLAHours = math.NaN() }, "sla_hours"},
		{"no steps", func(t *models.WorkflowTemplate) { t.Steps = nil }, "steps"},
		{"unknown category", func(t *models.WorkflowTemplate) { t.Category = "taxes" }, "category"},
		{"unknown role", func(t *models.WorkflowTemplate) { t.Steps[1].AssigneeRole = "intern" }, "steps[1].assignee_role"},
		{"unknown action", func(t *models.WorkflowTemplate) { t.Steps[1].ActionType = "shred" }, "steps[1].action_type"},
		{"duplicate step id", func(t *models.WorkflowTemplate) { t.Steps[1].ID = t.Steps[0].ID }, "steps[1].id"},
		{"missing name", func(t *models.WorkflowTemplate) { t.Name = "" }, "name"},
		{"missing id", func(t *models.WorkflowTemplate) { t.ID = " " }, "id"},
		{"negative estimate", func(t *models.WorkflowTemplate) { t.Steps[0].EstimatedDurationHours = -1 }, "steps[0].estimated_duration_hours"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := repository.NewMemoryTemplateStore()
			catalog := NewCatalog(store, newFakeClock())

			tmpl := entityFormationTemplate()
			tc.mutate(tmpl)
			_, err := catalog.Register(ctx, tmpl)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTemplate)

			verr, ok := AsValidationError(err)
			require.True(t, ok)
			assert.Equal(t, tc.path, verr.Path)

			_, err = catalog.Get(tmpl.ID)
			assert.ErrorIs(t, err, ErrTemplateNotFound)
			persisted, _ := store.ListTemplates(ctx)
			assert.Empty(t, persisted)
		})
	}

	t.Run("longest representable sla is accepted", func(t *testing.T) {
		clock := newFakeClock()
		catalog := NewCatalog(nil, clock)
		tmpl := entityFormationTemplate()
		tmpl.SLAHours = MaxSLAHours
		_, err := catalog.Register(ctx, tmpl)
		require.NoError(t, err)

		engine := NewEngine(catalog, repository.NewMemoryInstanceStore(), WithClock(clock))
		inst, err := engine.Instantiate(ctx, InstantiateRequest{TemplateID: tmpl.ID, UserID: "user-1"})
		require.NoError(t, err)
		assert.True(t, inst.DueDate.After(inst.StartedAt))
		assert.False(t, IsOverdue(inst, clock.Now()))
	})

	t.Run("re-register replaces an unused template", func(t *testing.T) {
		catalog := NewCatalog(nil, newFakeClock())
		_, err := catalog.Register(ctx, entityFormationTemplate())
		require.NoError(t, err)

		updated := entityFormationTemplate()
		updated.SLAHours = 48
		_, err = catalog.Register(ctx, updated)
		require.NoError(t, err)

		got, err := catalog.Get(updated.ID)
		require.NoError(t, err)
		assert.Equal(t, 48.0, got.SLAHours)
	})
}

func TestCatalogReads(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(nil, newFakeClock())

	onboarding := entityFormationTemplate()
	onboarding.ID = "onboarding"
	onboarding.Name = "Account Onboarding"
	onboarding.Category = models.CategoryUserOnboarding

	retired := entityFormationTemplate()
	retired.ID = "retired"
	retired.Name = "Retired Review"
	retired.IsActive = false

	for _, tmpl := range []*models.WorkflowTemplate{entityFormationTemplate(), onboarding, retired} {
		_, err := catalog.Register(ctx, tmpl)
		require.NoError(t, err)
	}

	active := catalog.ListActive()
	require.Len(t, active, 2)
	assert.Equal(t, "onboarding", active[0].ID)
	assert.Equal(t, "entity-formation", active[1].ID)

	got, err := catalog.Get("retired")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	got.Steps[0].Name = "mutated"
	again, _ := catalog.Get("retired")
	assert.Equal(t, "Collect Information", again.Steps[0].Name)

	_, err = catalog.Get("nope")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	_, err = catalog.SetActive(ctx, "retired", true)
	require.NoError(t, err)
	assert.Len(t, catalog.ListActive(), 3)

	_, err = catalog.SetActive(ctx, "nope", true)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestCatalogLoad(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryTemplateStore()

	good := entityFormationTemplate()
	good.InUse = true
	require.NoError(t, store.SaveTemplate(ctx, good))

	broken := entityFormationTemplate()
	broken.ID = "broken"
	broken.SLAHours = 0
	require.NoError(t, store.SaveTemplate(ctx, broken))

	catalog := NewCatalog(store, newFakeClock())
	err := catalog.Load(ctx)
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	got, err := catalog.Get("entity-formation")
	require.NoError(t, err)
	assert.True(t, got.InUse)

	_, err = catalog.Register(ctx, entityFormationTemplate())
	assert.ErrorIs(t, err, ErrTemplateInUse)

	_, err = catalog.Get("broken")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}
