package model

import "time"

// Shift is a working period of a driver. A shift is active while EndedAt is nil.
type Shift struct {
	ID            string     `json:"id"`
	DriverID      string     `json:"driver_id"`
	StartedAt     time.Time  `json:"started_at"`
	StartLocation Point      `json:"start_location"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the shift has not ended yet.
func (s Shift) Active() bool { return s.EndedAt == nil }

// Clone returns a deep copy of the shift.
func (s Shift) Clone() Shift {
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}
