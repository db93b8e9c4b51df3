package enums

import "slices"

// PlanStatus tracks the lifecycle of a production plan.
type PlanStatus string

const (
	PlanStatusPlanned    PlanStatus = "planned"
	PlanStatusInProgress PlanStatus = "in_progress"
	PlanStatusCompleted  PlanStatus = "completed"
	PlanStatusCancelled  PlanStatus = "cancelled"
)

var validPlanStatuses = []PlanStatus{
	PlanStatusPlanned,
	PlanStatusInProgress,
	PlanStatusCompleted,
	PlanStatusCancelled,
}

// String implements fmt.Stringer.
func (p PlanStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PlanStatus.
func (p PlanStatus) IsValid() bool {
	return slices.Contains(validPlanStatuses, p)
}

// AcceptsProduction reports whether new production events may be logged.
func (p PlanStatus) AcceptsProduction() bool {
	return p == PlanStatusPlanned || p == PlanStatusInProgress
}

// ParsePlanStatus converts raw input into a PlanStatus.
func ParsePlanStatus(value string) (PlanStatus, error) {
	return parse("plan status", validPlanStatuses, value)
}
