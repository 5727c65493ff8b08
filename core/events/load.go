package events

import "time"

// Release reasons carried by LoadReleased.
const (
	ReasonExpired    = "expired"
	ReasonRebalanced = "rebalanced"
	ReasonRejected   = "rejected"
	ReasonShiftEnded = "shift_ended"
)

// LoadReserved is published when a load is reserved to a driver.
type LoadReserved struct {
	LoadID    string
	DriverID  string
	ExpiresAt time.Time
	Time      time.Time
}

// LoadReleased is published when a reservation is reverted.
type LoadReleased struct {
	LoadID   string
	DriverID string
	Reason   string
	Time     time.Time
}

// LoadStarted is published when a driver confirms pickup.
type LoadStarted struct {
	LoadID   string
	DriverID string
	Time     time.Time
}

// LoadCompleted is published when a driver confirms dropoff.
type LoadCompleted struct {
	LoadID   string
	DriverID string
	Time     time.Time
}
