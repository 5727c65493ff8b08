package model

import (
	"fmt"
	"time"
)

// LoadStatus is the lifecycle state of a load.
type LoadStatus string

const (
	StatusAwaitingDriver LoadStatus = "AWAITING_DRIVER"
	StatusReserved       LoadStatus = "RESERVED"
	StatusInProgress     LoadStatus = "IN_PROGRESS"
	StatusCompleted      LoadStatus = "COMPLETED"
)

func (s LoadStatus) String() string { return string(s) }

// ParseLoadStatus converts the textual form into a LoadStatus.
func ParseLoadStatus(s string) (LoadStatus, error) {
	switch LoadStatus(s) {
	case StatusAwaitingDriver, StatusReserved, StatusInProgress, StatusCompleted:
		return LoadStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown load status %q", ErrInvalidArgument, s)
}

// Stop identifies the next stop of a load.
type Stop string

const (
	StopPickup  Stop = "PICKUP"
	StopDropoff Stop = "DROPOFF"
)

func (s Stop) String() string { return string(s) }

// Load is a unit of work moved from Pickup to Dropoff by one driver.
type Load struct {
	ID                   string     `json:"id"`
	Pickup               Point      `json:"pickup"`
	Dropoff              Point      `json:"dropoff"`
	Status               LoadStatus `json:"status"`
	CurrentStop          Stop       `json:"current_stop"`
	AssignedDriverID     string     `json:"assigned_driver_id,omitempty"`
	AssignedShiftID      string     `json:"assigned_shift_id,omitempty"`
	ReservationExpiresAt *time.Time `json:"reservation_expires_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Open reports whether the load is held by a driver.
func (l Load) Open() bool {
	return l.Status == StatusReserved || l.Status == StatusInProgress
}

// Assignable reports whether the optimizer may (re)assign the load.
func (l Load) Assignable() bool {
	return l.Status == StatusAwaitingDriver || l.Status == StatusReserved
}

// ReservationExpired reports whether a RESERVED load is past its hold at now.
func (l Load) ReservationExpired(now time.Time) bool {
	return l.Status == StatusReserved && l.ReservationExpiresAt != nil && !now.Before(*l.ReservationExpiresAt)
}

// Validate checks the status, driver, stop and expiry invariants.
func (l Load) Validate() error {
	hasDriver := l.AssignedDriverID != ""
	switch l.Status {
	case StatusAwaitingDriver:
		if hasDriver || l.CurrentStop != StopPickup || l.ReservationExpiresAt != nil {
			return fmt.Errorf("%w: awaiting load %s must be unassigned at pickup", ErrIntegrity, l.ID)
		}
	case StatusReserved:
		if !hasDriver || l.CurrentStop != StopPickup || l.ReservationExpiresAt == nil {
			return fmt.Errorf("%w: reserved load %s needs driver, pickup stop and expiry", ErrIntegrity, l.ID)
		}
	case StatusInProgress:
		if !hasDriver || l.CurrentStop != StopDropoff || l.ReservationExpiresAt != nil {
			return fmt.Errorf("%w: in-progress load %s needs driver and dropoff stop", ErrIntegrity, l.ID)
		}
	case StatusCompleted:
		if hasDriver || l.CurrentStop != StopDropoff {
			return fmt.Errorf("%w: completed load %s must be unassigned at dropoff", ErrIntegrity, l.ID)
		}
	default:
		return fmt.Errorf("%w: load %s has unknown status %q", ErrIntegrity, l.ID, l.Status)
	}
	return nil
}

// Clone returns a deep copy of the load.
func (l Load) Clone() Load {
	if l.ReservationExpiresAt != nil {
		t := *l.ReservationExpiresAt
		l.ReservationExpiresAt = &t
	}
	return l
}
