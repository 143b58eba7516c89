package models

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// WorkflowStep is one ordered unit of work in a template.
type WorkflowStep struct {
	ID                     string            `json:"id"`
	Name                   string            `json:"name"`
	Description            string            `json:"description,omitempty"`
	StepOrder              int               `json:"step_order"`
	AssigneeRole           AssigneeRole      `json:"assignee_role"`
	ActionType             ActionType        `json:"action_type"`
	Conditions             map[string]string `json:"conditions,omitempty"`
	AutomationRules        map[string]any    `json:"automation_rules,omitempty"`
	EstimatedDurationHours float64           `json:"estimated_duration_hours"`
}

// WorkflowTemplate is the reusable definition of a multi-step process.
type WorkflowTemplate struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Category         Category       `json:"category"`
	Steps            []WorkflowStep `json:"steps"`
	ApprovalRequired bool           `json:"approval_required"`
	AutoAssign       bool           `json:"auto_assign"`
	SLAHours         float64        `json:"sla_hours"`
	IsActive         bool           `json:"is_active"`
	// InUse is maintained by the catalog; once set the step list is frozen.
	InUse     bool      `json:"in_use"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the template.
func (t *WorkflowTemplate) Clone() *WorkflowTemplate {
	if t == nil {
		return nil
	}
	out := *t
	out.Steps = cloneSteps(t.Steps)
	return &out
}

// StepExecution records a step having been run within an instance.
type StepExecution struct {
	StepID      string         `json:"step_id"`
	StepName    string         `json:"step_name"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Status      StepStatus     `json:"status"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
}

// WorkflowInstance is one running execution of a template.
type WorkflowInstance struct {
	ID           string `json:"id"`
	TemplateID   string `json:"template_id"`
	TemplateName string `json:"template_name"`
	// Steps is the template's step list as it was at instantiation.
	Steps       []WorkflowStep  `json:"steps"`
	EntityID    string          `json:"entity_id,omitempty"`
	UserID      string          `json:"user_id"`
	CurrentStep int             `json:"current_step"`
	Status      InstanceStatus  `json:"status"`
	Priority    Priority        `json:"priority"`
	StartedAt   time.Time       `json:"started_at"`
	DueDate     time.Time       `json:"due_date"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	AssignedTo  string          `json:"assigned_to,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	StepHistory []StepExecution `json:"step_history"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int64           `json:"version"`
	// PendingEvents holds transition events that were committed with the
	// instance but not yet acknowledged by the event publisher.
	PendingEvents []WorkflowEvent `json:"pending_events,omitempty"`
}

// Clone returns a copy of the instance that shares no slices or maps with the
// original. Values stored inside Metadata and Outputs are copied shallowly.
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}
	out := *i
	out.Steps = cloneSteps(i.Steps)
	out.Metadata = maps.Clone(i.Metadata)
	out.PendingEvents = slices.Clone(i.PendingEvents)
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		out.CompletedAt = &t
	}
	if i.StepHistory != nil {
		out.StepHistory = make([]StepExecution, len(i.StepHistory))
		for n, exec := range i.StepHistory {
			if exec.CompletedAt != nil {
				t := *exec.CompletedAt
				exec.CompletedAt = &t
			}
			exec.Outputs = maps.Clone(exec.Outputs)
			out.StepHistory[n] = exec
		}
	}
	return &out
}

// ExpectedStep returns the step that must be reported next, or false once the
// current step is out of range.
func (i *WorkflowInstance) ExpectedStep() (WorkflowStep, bool) {
	if i.CurrentStep < 1 || i.CurrentStep > len(i.Steps) {
		return WorkflowStep{}, false
	}
	return i.Steps[i.CurrentStep-1], true
}

// Execution returns the history entry for stepID, if any.
func (i *WorkflowInstance) Execution(stepID string) *StepExecution {
	for n := range i.StepHistory {
		if i.StepHistory[n].StepID == stepID {
			return &i.StepHistory[n]
		}
	}
	return nil
}

// WorkflowEvent is emitted for every instance status transition.
type WorkflowEvent struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	TemplateID string         `json:"template_id"`
	FromStatus InstanceStatus `json:"from_status"`
	ToStatus   InstanceStatus `json:"to_status"`
	Timestamp  time.Time      `json:"timestamp"`
}

// DedupeKey identifies the transition independently of delivery attempts.
func (e WorkflowEvent) DedupeKey() string {
	return strings.Join([]string{e.InstanceID, string(e.ToStatus), e.Timestamp.UTC().Format(time.RFC3339Nano)}, "|")
}

// InstanceFilter narrows instance listings. Zero fields match everything.
type InstanceFilter struct {
	TemplateID string
	UserID     string
	EntityID   string
	AssignedTo string
	Statuses   []InstanceStatus
	// PendingEvents restricts the listing to instances with undelivered events.
	PendingEvents bool
	Limit         int
	Offset        int
}

// Matches reports whether inst satisfies every non-zero field of the filter,
// ignoring pagination.
func (f InstanceFilter) Matches(inst *WorkflowInstance) bool {
	if f.TemplateID != "" && inst.TemplateID != f.TemplateID {
		return false
	}
	if f.UserID != "" && inst.UserID != f.UserID {
		return false
	}
	if f.EntityID != "" && inst.EntityID != f.EntityID {
		return false
	}
	if f.AssignedTo != "" && inst.AssignedTo != f.AssignedTo {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, inst.Status) {
		return false
	}
	if f.PendingEvents && len(inst.PendingEvents) == 0 {
		return false
	}
	return true
}

func cloneSteps(steps []WorkflowStep) []WorkflowStep {
	if steps == nil {
		return nil
	}
	out := make([]WorkflowStep, len(steps))
	for n, s := range steps {
		s.Conditions = maps.Clone(s.Conditions)
		s.AutomationRules = maps.Clone(s.AutomationRules)
		out[n] = s
	}
	return out
}
