package model

// Driver is a member of the fleet. Location is nil until the driver reports
// a position, typically when starting a shift.
type Driver struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	OnShift  bool   `json:"on_shift"`
	Location *Point `json:"location,omitempty"`
}

// Clone returns a deep copy of the driver.
func (d Driver) Clone() Driver {
	if d.Location != nil {
		loc := *d.Location
		d.Location = &loc
	}
	return d
}
