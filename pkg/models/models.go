// Package models defines the domain models for the workflow orchestration service
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category groups workflow templates by business process
type Category string

const (
	CategoryEntityFormation   Category = "entity_formation"
	CategoryCompliance        Category = "compliance"
	CategoryDocumentReview    Category = "document_review"
	CategoryPaymentProcessing Category = "payment_processing"
	CategoryUserOnboarding    Category = "user_onboarding"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryEntityFormation, CategoryCompliance, CategoryDocumentReview,
		CategoryPaymentProcessing, CategoryUserOnboarding:
		return true
	}
	return false
}

func (c *Category) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "category", c)
}

// AssigneeRole is the kind of actor expected to perform a step
type AssigneeRole string

const (
	AssigneeRoleAdmin   AssigneeRole = "admin"
	AssigneeRoleManager AssigneeRole = "manager"
	AssigneeRoleAgent   AssigneeRole = "agent"
	AssigneeRoleAuto    AssigneeRole = "auto"
)

// Valid reports whether r is a known assignee role
func (r AssigneeRole) Valid() bool {
	switch r {
	case AssigneeRoleAdmin, AssigneeRoleManager, AssigneeRoleAgent, AssigneeRoleAuto:
		return true
	}
	return false
}

func (r *AssigneeRole) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "assignee_role", r)
}

// ActionType describes what a step does
type ActionType string

const (
	ActionTypeReview    ActionType = "review"
	ActionTypeApprove   ActionType = "approve"
	ActionTypeProcess   ActionType = "process"
	ActionTypeNotify    ActionType = "notify"
	ActionTypeIntegrate ActionType = "integrate"
)

// Valid reports whether a is a known action type
func (a ActionType) Valid() bool {
	switch a {
	case ActionTypeReview, ActionTypeApprove, ActionTypeProcess, ActionTypeNotify, ActionTypeIntegrate:
		return true
	}
	return false
}

func (a *ActionType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "action_type", a)
}

// InstanceStatus is the lifecycle status of a workflow instance
type InstanceStatus string

const (
	InstanceStatusPending    InstanceStatus = "pending"
	InstanceStatusInProgress InstanceStatus = "in_progress"
	InstanceStatusCompleted  InstanceStatus = "completed"
	InstanceStatusFailed     InstanceStatus = "failed"
	InstanceStatusCancelled  InstanceStatus = "cancelled"
)

// Valid reports whether s is a known instance status
func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceStatusPending, InstanceStatusInProgress, InstanceStatusCompleted,
		InstanceStatusFailed, InstanceStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether s is absorbing: completed, failed or cancelled
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

func (s *InstanceStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "status", s)
}

// StepStatus is the status of a single step execution
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusSkipped    StepStatus = "skipped"
	StepStatusFailed     StepStatus = "failed"
)

// Valid reports whether s is a known step status
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusInProgress, StepStatusCompleted, StepStatusSkipped, StepStatusFailed:
		return true
	}
	return false
}

func (s *StepStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "step status", s)
}

// StepOutcome is the result reported for a step by whoever performed it
type StepOutcome string

const (
	StepOutcomeCompleted StepOutcome = "completed"
	StepOutcomeFailed    StepOutcome = "failed"
	StepOutcomeSkipped   StepOutcome = "skipped"
)

// Valid reports whether o is a known outcome
func (o StepOutcome) Valid() bool {
	return o == StepOutcomeCompleted || o == StepOutcomeFailed || o == StepOutcomeSkipped
}

// StepStatus maps the outcome onto the status recorded in step history
func (o StepOutcome) StepStatus() StepStatus {
	switch o {
	case StepOutcomeFailed:
		return StepStatusFailed
	case StepOutcomeSkipped:
		return StepStatusSkipped
	}
	return StepStatusCompleted
}

func (o *StepOutcome) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "outcome", o)
}

// Priority orders instances for the people working on them
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "priority", p)
}

type enum interface {
	~string
	Valid() bool
}

// unmarshalEnum decodes a JSON string into a closed enum, rejecting unknown values.
// An empty string is accepted so that optional fields can fall back to defaults.
func unmarshalEnum[T enum](data []byte, field string, dst *T) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	v := T(raw)
	if raw != "" && !v.Valid() {
		return fmt.Errorf("%s: unknown value %q", field, raw)
	}
	*dst = v
	return nil
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}
