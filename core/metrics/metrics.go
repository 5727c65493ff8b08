package metrics

import (
	"time"

	"github.com/kilianp07/freight/core/model"
)

// PassResult describes one optimization pass to be recorded.
type PassResult struct {
	Trigger   model.Trigger
	Status    string
	Drivers   int
	Loads     int
	Deadhead  float64
	Reserved  int
	Released  int
	Expired   int
	Conflicts int
	Duration  time.Duration
	Time      time.Time
}

// MetricsSink records optimization passes for observability purposes.
type MetricsSink interface {
	RecordPass(res PassResult) error
}

// Reservation actions recorded by ReservationRecorder.
const (
	ActionReserved  = "reserved"
	ActionReleased  = "released"
	ActionStarted   = "started"
	ActionCompleted = "completed"
)

// ReservationEvent captures a change in a load's reservation.
type ReservationEvent struct {
	LoadID   string
	DriverID string
	Action   string
	Reason   string
	Time     time.Time
}

// ReservationRecorder records reservation changes.
type ReservationRecorder interface {
	RecordReservation(ev ReservationEvent) error
}

// LockAttempt records a try-lock made by the run coordinator.
type LockAttempt struct {
	Backend  string
	Acquired bool
	Time     time.Time
}

// LockRecorder records coordinator lock attempts.
type LockRecorder interface {
	RecordLockAttempt(ev LockAttempt) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordPass(PassResult) error              { return nil }
func (NopSink) RecordReservation(ReservationEvent) error { return nil }
func (NopSink) RecordLockAttempt(LockAttempt) error      { return nil }
