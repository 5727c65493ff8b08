package events

import (
	"time"

	"github.com/kilianp07/freight/core/model"
)

// PassCompleted summarizes one optimization pass.
type PassCompleted struct {
	CorrelationID string
	Trigger       model.Trigger
	EntityID      string
	Status        string
	Drivers       int
	Loads         int
	Deadhead      float64
	Reserved      int
	Released      int
	Expired       int
	Conflicts     int
	Duration      time.Duration
	Time          time.Time
}

// ShiftStarted is published when a driver starts a shift.
type ShiftStarted struct {
	DriverID string
	ShiftID  string
	Time     time.Time
}

// ShiftEnded is published when a driver's shift ends.
type ShiftEnded struct {
	DriverID string
	ShiftID  string
	Time     time.Time
}
