package enums

import "slices"

// ProductionEventStatus is the apply state of a production event. Only
// received, linked and failed are persisted; the intermediate states exist while
// the apply transaction runs and are surfaced through logs and metrics.
type ProductionEventStatus string

const (
	ProductionEventReceived   ProductionEventStatus = "received"
	ProductionEventAllocating ProductionEventStatus = "allocating"
	ProductionEventCrediting  ProductionEventStatus = "crediting"
	ProductionEventDebiting   ProductionEventStatus = "debiting"
	ProductionEventLinked     ProductionEventStatus = "linked"
	ProductionEventFailed     ProductionEventStatus = "failed"
)

var validProductionEventStatuses = []ProductionEventStatus{
	ProductionEventReceived,
	ProductionEventAllocating,
	ProductionEventCrediting,
	ProductionEventDebiting,
	ProductionEventLinked,
	ProductionEventFailed,
}

// IsValid reports whether the value is a known ProductionEventStatus.
func (s ProductionEventStatus) IsValid() bool {
	return slices.Contains(validProductionEventStatuses, s)
}

// IsPersisted reports whether the state is stored on the production_events row.
func (s ProductionEventStatus) IsPersisted() bool {
	return s == ProductionEventReceived || s == ProductionEventLinked || s == ProductionEventFailed
}

// ParseProductionEventStatus converts raw input into ProductionEventStatus.
func ParseProductionEventStatus(value string) (ProductionEventStatus, error) {
	return parse("production event status", validProductionEventStatuses, value)
}
