package model

import "fmt"

// Trigger names the event that asked for an optimization pass.
type Trigger string

const (
	TriggerDriverShiftStart Trigger = "DRIVER_SHIFT_START"
	TriggerDriverShiftEnd   Trigger = "DRIVER_SHIFT_END"
	TriggerLoadCreated      Trigger = "LOAD_CREATED"
	TriggerDropoffComplete  Trigger = "DROPOFF_COMPLETE"
	TriggerLoadRejected     Trigger = "LOAD_REJECTED"
	TriggerManual           Trigger = "MANUAL"
)

func (t Trigger) String() string { return string(t) }

// ParseTrigger validates s as a Trigger.
func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(s); t {
	case TriggerDriverShiftStart, TriggerDriverShiftEnd, TriggerLoadCreated,
		TriggerDropoffComplete, TriggerLoadRejected, TriggerManual:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown trigger %q", ErrInvalidArgument, s)
}
