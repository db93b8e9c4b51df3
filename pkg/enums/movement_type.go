package enums

import "slices"

// MovementType maps to the movement_type column of stock_movements.
type MovementType string

const (
	MovementTypeEntry              MovementType = "entry"
	MovementTypeExit               MovementType = "exit"
	MovementTypeProduction         MovementType = "production"
	MovementTypeConsumption        MovementType = "consumption"
	MovementTypeCountAdjustment    MovementType = "count_adjustment"
	MovementTypeTransfer           MovementType = "transfer"
	MovementTypeSale               MovementType = "sale"
	MovementTypeReservationRelease MovementType = "reservation_release"
)

var validMovementTypes = []MovementType{
	MovementTypeEntry,
	MovementTypeExit,
	MovementTypeProduction,
	MovementTypeConsumption,
	MovementTypeCountAdjustment,
	MovementTypeTransfer,
	MovementTypeSale,
	MovementTypeReservationRelease,
}

// manualMovementTypes may be recorded directly by operators. Production and
// consumption rows only come from production events.
var manualMovementTypes = []MovementType{
	MovementTypeEntry,
	MovementTypeExit,
	MovementTypeCountAdjustment,
	MovementTypeTransfer,
	MovementTypeSale,
}

// IsValid reports whether the value matches a known movement type.
func (t MovementType) IsValid() bool {
	return slices.Contains(validMovementTypes, t)
}

// IsManual reports whether operators may record this movement type by hand.
func (t MovementType) IsManual() bool {
	return slices.Contains(manualMovementTypes, t)
}

// ParseMovementType converts raw input into MovementType.
func ParseMovementType(value string) (MovementType, error) {
	return parse("movement type", validMovementTypes, value)
}
