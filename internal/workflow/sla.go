package workflow

import (
	"math"
	"time"

	"complianceflow/backend/pkg/models"
)

// MaxSLAHours is the largest SLA whose due date can be computed exactly, about
// 292 years.
const MaxSLAHours = float64(math.MaxInt64 / int64(time.Hour))

// DueDate returns the deadline for an instance started at start under an SLA
// of slaHours. Fractional hours are honoured. SLAs beyond MaxSLAHours are
// clamped to it.
func DueDate(start time.Time, slaHours float64) time.Time {
	if math.IsNaN(slaHours) || slaHours <= 0 {
		return start
	}
	slaHours = min(slaHours, MaxSLAHours)
	return start.Add(time.Duration(slaHours * float64(time.Hour)))
}

// IsOverdue reports whether a non-terminal instance has passed its due date.
// It never changes the instance; acting on an overdue instance is left to the caller.
func IsOverdue(inst *models.WorkflowInstance, now time.Time) bool {
	if inst == nil || inst.Status.IsTerminal() {
		return false
	}
	return now.After(inst.DueDate)
}
