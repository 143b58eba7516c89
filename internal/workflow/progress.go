package workflow

import (
	"time"

	"complianceflow/backend/pkg/models"
)

// Progress returns the completion percentage shown to users. Only fully
// completed or skipped steps count; a failed or cancelled instance reports 0.
func Progress(inst *models.WorkflowInstance) int {
	if inst == nil {
		return 0
	}
	switch inst.Status {
	case models.InstanceStatusCompleted:
		return 100
	case models.InstanceStatusFailed, models.InstanceStatusCancelled:
		return 0
	}
	total := len(inst.Steps)
	if total == 0 || inst.CurrentStep <= 1 {
		return 0
	}
	return (inst.CurrentStep - 1) * 100 / total
}

// InstanceView is an instance together with the values derived from it at
// read time.
type InstanceView struct {
	*models.WorkflowInstance
	Progress           int                  `json:"progress"`
	Overdue            bool                 `json:"overdue"`
	CurrentStepDetails *models.WorkflowStep `json:"current_step_details,omitempty"`
}

// Describe derives the read-time view of inst as of now.
func Describe(inst *models.WorkflowInstance, now time.Time) InstanceView {
	view := InstanceView{
		WorkflowInstance: inst,
		Progress:         Progress(inst),
		Overdue:          IsOverdue(inst, now),
	}
	if !inst.Status.IsTerminal() {
		if step, ok := inst.ExpectedStep(); ok {
			view.CurrentStepDetails = &step
		}
	}
	return view
}
