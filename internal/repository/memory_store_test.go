package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"complianceflow/backend/pkg/models"
)

func newTestInstance(id string, started time.Time) *models.WorkflowInstance {
	return &models.WorkflowInstance{
		ID:           id,
		TemplateID:   "entity-formation",
		TemplateName: "Entity Formation",
		Steps: []models.WorkflowStep{
			{ID: "collect", Name: "Collect details", StepOrder: 1, AssigneeRole: models.AssigneeRoleAgent, ActionType: models.ActionTypeProcess},
			{ID: "file", Name: "File articles", StepOrder: 2, AssigneeRole: models.AssigneeRoleAgent, ActionType: models.ActionTypeIntegrate},
		},
		UserID:      "user-1",
		CurrentStep: 1,
		Status:      models.InstanceStatusPending,
		Priority:    models.PriorityMedium,
		StartedAt:   started,
		DueDate:     started.Add(72 * time.Hour),
		Metadata:    map[string]any{"source": "test"},
		StepHistory: []models.StepExecution{},
	}
}

func TestMemoryInstanceStore(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Save and Get", func(t *testing.T) {
		store := NewMemoryInstanceStore()
		inst := newTestInstance("wf-1", start)

		require.NoError(t, store.Save(ctx, inst))
		assert.Equal(t, int64(1), inst.Version)

		got, err := store.Get(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, inst, got)
	})

	t.Run("Get returns isolated copies", func(t *testing.T) {
		store := NewMemoryInstanceStore()
		require.NoError(t, store.Save(ctx, newTestInstance("wf-1", start)))

		got, err := store.Get(ctx, "wf-1")
		require.NoError(t, err)
		got.Metadata["source"] = "mutated"
		got.Steps[0].Name = "mutated"

		again, err := store.Get(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, "test", again.Metadata["source"])
		assert.Equal(t, "Collect details", again.Steps[0].Name)
	})

	t.Run("Get unknown", func(t *testing.T) {
		store := NewMemoryInstanceStore()
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		store := NewMemoryInstanceStore()
		require.NoError(t, store.Save(ctx, newTestInstance("wf-1", start)))

		first, _ := store.Get(ctx, "wf-1")
		second, _ := store.Get(ctx, "wf-1")

		first.AssignedTo = "agent-1"
		require.NoError(t, store.Save(ctx, first))
		assert.Equal(t, int64(2), first.Version)

		second.AssignedTo = "agent-2"
		err := store.Save(ctx, second)
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, _ := store.Get(ctx, "wf-1")
		assert.Equal(t, "agent-1", got.AssignedTo)
	})

	t.Run("duplicate insert is rejected", func(t *testing.T) {
		store := NewMemoryInstanceStore()
		require.NoError(t, store.Save(ctx, newTestInstance("wf-1", start)))
		err := store.Save(ctx, newTestInstance("wf-1", start))
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("List filters and paginates", func(t *testing.T) {
		store := NewMemoryInstanceStore()
		for i, id := range []string{"wf-a", "wf-b", "wf-c"} {
			inst := newTestInstance(id, start.Add(time.Duration(i)*time.Hour))
			if id == "wf-b" {
				inst.Status = models.InstanceStatusCompleted
				inst.AssignedTo = "agent-7"
			}
			require.NoError(t, store.Save(ctx, inst))
		}

		all, err := store.List(ctx, models.InstanceFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "wf-c", all[0].ID)
		assert.Equal(t, "wf-a", all[2].ID)

		pending, err := store.List(ctx, models.InstanceFilter{Statuses: []models.InstanceStatus{models.InstanceStatusPending}})
		require.NoError(t, err)
		assert.Len(t, pending, 2)

		assigned, err := store.List(ctx, models.InstanceFilter{AssignedTo: "agent-7"})
		require.NoError(t, err)
		require.Len(t, assigned, 1)
		assert.Equal(t, "wf-b", assigned[0].ID)

		page, err := store.List(ctx, models.InstanceFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "wf-b", page[0].ID)

		empty, err := store.List(ctx, models.InstanceFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestMemoryTemplateStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTemplateStore()

	tmpl := &models.WorkflowTemplate{ID: "b", Name: "B", Category: models.CategoryCompliance, SLAHours: 24}
	require.NoError(t, store.SaveTemplate(ctx, tmpl))
	require.NoError(t, store.SaveTemplate(ctx, &models.WorkflowTemplate{ID: "a", Name: "A", Category: models.CategoryCompliance, SLAHours: 8}))

	tmpl.Name = "changed after save"

	list, err := store.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "B", list[1].Name)
}
