package enums

import "slices"

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusCompleted ReservationStatus = "completed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

var validReservationStatuses = []ReservationStatus{
	ReservationStatusActive,
	ReservationStatusCompleted,
	ReservationStatusCancelled,
}

func (s ReservationStatus) IsValid() bool {
	return slices.Contains(validReservationStatuses, s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationStatusCompleted || s == ReservationStatusCancelled
}

func ParseReservationStatus(value string) (ReservationStatus, error) {
	return parse("reservation status", validReservationStatuses, value)
}
