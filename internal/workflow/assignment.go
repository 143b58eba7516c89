package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"complianceflow/backend/pkg/models"
)

// Assign binds an actor to the instance. Assigning a pending instance starts
// it; on an instance already in progress only the assignee changes.
func (e *Engine) Assign(ctx context.Context, instanceID, assigneeID string) (inst *models.WorkflowInstance, err error) {
	defer e.track(ctx, "assign", time.Now(), &err)

	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return nil, fmt.Errorf("%w: assignee id is required", ErrInvalidRequest)
	}
	if e.actors != nil {
		ok, err := e.actors.Exists(ctx, assigneeID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up actor %s: %w", assigneeID, err)
		}
		if !ok {
			return nil, fmt.Errorf("actor %s: %w", assigneeID, ErrActorNotFound)
		}
	}

	inst, err = e.mutate(ctx, instanceID, func(cur *models.WorkflowInstance, now time.Time) (*models.WorkflowInstance, []transition, error) {
		return applyAssign(cur, assigneeID, now)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("workflow assigned", "instance_id", inst.ID, "assigned_to", inst.AssignedTo, "status", inst.Status)
	return inst, nil
}
