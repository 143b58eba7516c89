package workflow

import (
	"fmt"
	"maps"
	"time"

	"complianceflow/backend/pkg/models"
)

// transition records one status change applied to an instance.
type transition struct {
	From models.InstanceStatus
	To   models.InstanceStatus
}

// The apply* functions are the instance state machine. Each takes the current
// instance and returns the next one together with the status transitions it
// went through; the input is never modified, and on error nothing is returned
// but the error.

func applyAssign(inst *models.WorkflowInstance, assignee string, now time.Time) (*models.WorkflowInstance, []transition, error) {
	if inst.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("%w: cannot assign instance %s in status %s", ErrInvalidTransition, inst.ID, inst.Status)
	}

	next := inst.Clone()
	next.AssignedTo = assignee
	var transitions []transition
	if next.Status == models.InstanceStatusPending {
		transitions = append(transitions, begin(next, now))
	}
	if step, ok := next.ExpectedStep(); ok {
		if exec := next.Execution(step.ID); exec != nil && exec.CompletedAt == nil {
			exec.AssignedTo = assignee
		}
	}
	next.UpdatedAt = now
	return next, transitions, nil
}

// StepReport is the outcome of a step as reported by whoever performed it.
type StepReport struct {
	StepID  string
	Outcome models.StepOutcome
	Notes   string
	Outputs map[string]any
}

func applyCompleteStep(inst *models.WorkflowInstance, report StepReport, now time.Time) (*models.WorkflowInstance, []transition, error) {
	if inst.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("%w: instance %s is %s", ErrInvalidTransition, inst.ID, inst.Status)
	}
	if !report.Outcome.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidRequest, report.Outcome)
	}
	expected, ok := inst.ExpectedStep()
	if !ok {
		return nil, nil, fmt.Errorf("%w: instance %s has no step %d", ErrInvalidTransition, inst.ID, inst.CurrentStep)
	}
	if report.StepID != expected.ID {
		return nil, nil, fmt.Errorf("%w: instance %s expects step %q, got %q", ErrStepMismatch, inst.ID, expected.ID, report.StepID)
	}

	next := inst.Clone()
	var transitions []transition
	if next.Status == models.InstanceStatusPending {
		transitions = append(transitions, begin(next, now))
	}

	exec := next.Execution(expected.ID)
	if exec == nil {
		next.StepHistory = append(next.StepHistory, newExecution(expected, next.AssignedTo, now))
		exec = &next.StepHistory[len(next.StepHistory)-1]
	}
	completedAt := now
	exec.Status = report.Outcome.StepStatus()
	exec.CompletedAt = &completedAt
	exec.Notes = report.Notes
	exec.Outputs = maps.Clone(report.Outputs)
	if exec.AssignedTo == "" {
		exec.AssignedTo = next.AssignedTo
	}

	switch report.Outcome {
	case models.StepOutcomeFailed:
		transitions = append(transitions, setStatus(next, models.InstanceStatusFailed))
	default:
		if next.CurrentStep < len(next.Steps) {
			next.CurrentStep++
			enterCurrentStep(next, now)
		} else {
			transitions = append(transitions, setStatus(next, models.InstanceStatusCompleted))
			finished := now
			next.CompletedAt = &finished
		}
	}
	next.UpdatedAt = now
	return next, transitions, nil
}

func applyCancel(inst *models.WorkflowInstance, now time.Time) (*models.WorkflowInstance, []transition, error) {
	if inst.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("%w: instance %s is already %s", ErrInvalidTransition, inst.ID, inst.Status)
	}
	next := inst.Clone()
	t := setStatus(next, models.InstanceStatusCancelled)
	next.UpdatedAt = now
	return next, []transition{t}, nil
}

// applyAnnotate merges audit metadata. It is the one change allowed on a
// terminal instance and never touches status or step state.
func applyAnnotate(inst *models.WorkflowInstance, metadata map[string]any, now time.Time) *models.WorkflowInstance {
	next := inst.Clone()
	if next.Metadata == nil {
		next.Metadata = make(map[string]any, len(metadata))
	}
	maps.Copy(next.Metadata, metadata)
	next.UpdatedAt = now
	return next
}

// begin moves a pending instance into in_progress and opens its current step.
func begin(inst *models.WorkflowInstance, now time.Time) transition {
	t := setStatus(inst, models.InstanceStatusInProgress)
	enterCurrentStep(inst, now)
	return t
}

func enterCurrentStep(inst *models.WorkflowInstance, now time.Time) {
	step, ok := inst.ExpectedStep()
	if !ok || inst.Execution(step.ID) != nil {
		return
	}
	inst.StepHistory = append(inst.StepHistory, newExecution(step, inst.AssignedTo, now))
}

func newExecution(step models.WorkflowStep, assignee string, now time.Time) models.StepExecution {
	return models.StepExecution{
		StepID:     step.ID,
		StepName:   step.Name,
		StartedAt:  now,
		Status:     models.StepStatusInProgress,
		AssignedTo: assignee,
	}
}

func setStatus(inst *models.WorkflowInstance, to models.InstanceStatus) transition {
	t := transition{From: inst.Status, To: to}
	inst.Status = to
	return t
}
