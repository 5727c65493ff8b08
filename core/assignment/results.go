package assignment

import (
	"time"

	"github.com/kilianp07/freight/core/model"
)

// Assignment is the driver-facing view of a load.
type Assignment struct {
	LoadID               string           `json:"load_id"`
	Pickup               model.Point      `json:"pickup"`
	Dropoff              model.Point      `json:"dropoff"`
	Status               model.LoadStatus `json:"status"`
	NextStop             model.Stop       `json:"next_stop"`
	DriverID             string           `json:"driver_id,omitempty"`
	ReservationExpiresAt *time.Time       `json:"reservation_expires_at,omitempty"`
}

func newAssignment(l *model.Load) *Assignment {
	if l == nil {
		return nil
	}
	a := &Assignment{
		LoadID:   l.ID,
		Pickup:   l.Pickup,
		Dropoff:  l.Dropoff,
		Status:   l.Status,
		NextStop: l.CurrentStop,
		DriverID: l.AssignedDriverID,
	}
	if l.ReservationExpiresAt != nil {
		exp := *l.ReservationExpiresAt
		a.ReservationExpiresAt = &exp
	}
	return a
}

// CompleteResult is returned by CompleteNextStop. Next is the driver's
// assignment after the stop, or nil.
type CompleteResult struct {
	Completed *Assignment `json:"completed"`
	Next      *Assignment `json:"next_assignment,omitempty"`
}

// RejectResult names the outcome of a rejection.
type RejectResult string

const (
	RejectReleasedAndShiftEnded RejectResult = "REJECTED_AND_SHIFT_ENDED"
	RejectNoOpAlreadyReleased   RejectResult = "NO_OP_ALREADY_REJECTED_AND_SHIFT_ENDED"
)

// RejectOutcome reports what RejectReservedLoadAndEndShift did. ShiftID is
// empty on the no-op path.
type RejectOutcome struct {
	DriverID     string       `json:"driver_id"`
	ShiftID      string       `json:"shift_id,omitempty"`
	LoadID       string       `json:"load_id"`
	Result       RejectResult `json:"result"`
	ShiftEndedAt time.Time    `json:"shift_ended_at"`
}

// DriverState bundles a driver with its active shift and open load.
type DriverState struct {
	Driver model.Driver `json:"driver"`
	Shift  *model.Shift `json:"shift,omitempty"`
	Load   *Assignment  `json:"load,omitempty"`
}
