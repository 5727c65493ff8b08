package mqtt

import "time"

// Notification kinds pushed to drivers.
const (
	KindReserved = "reserved"
	KindReleased = "released"
)

// Notification tells a driver that a load was reserved to, or taken from, them.
type Notification struct {
	Kind      string     `json:"kind"`
	LoadID    string     `json:"load_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Time      time.Time  `json:"time"`
}

// Notifier pushes assignment notifications to drivers and tracks their
// acknowledgments.
type Notifier interface {
	// Notify publishes n to the driver's assignment topic and returns the
	// message identifier used to track the acknowledgment.
	Notify(driverID string, n Notification) (messageID string, err error)

	// WaitForAck waits for an acknowledgment of the message or until the
	// timeout expires.
	WaitForAck(messageID string, timeout time.Duration) (bool, error)
}
