package events

// Kind returns the snake_case name of a dispatch event, or "" for values
// that are not events of this package.
func Kind(ev any) string {
	switch ev.(type) {
	case PassCompleted:
		return "pass_completed"
	case LoadReserved:
		return "load_reserved"
	case LoadReleased:
		return "load_released"
	case LoadStarted:
		return "load_started"
	case LoadCompleted:
		return "load_completed"
	case ShiftStarted:
		return "shift_started"
	case ShiftEnded:
		return "shift_ended"
	}
	return ""
}

// DriverOf returns the driver an event concerns. PassCompleted concerns no
// single driver.
func DriverOf(ev any) (string, bool) {
	switch e := ev.(type) {
	case LoadReserved:
		return e.DriverID, true
	case LoadReleased:
		return e.DriverID, true
	case LoadStarted:
		return e.DriverID, true
	case LoadCompleted:
		return e.DriverID, true
	case ShiftStarted:
		return e.DriverID, true
	case ShiftEnded:
		return e.DriverID, true
	}
	return "", false
}
