package mqtt

import (
	"fmt"
	"sync"
	"time"

	coremqtt "github.com/kilianp07/freight/core/mqtt"
)

// Notifier mirrors the core mqtt.Notifier interface.
type Notifier = coremqtt.Notifier

// Sent is a notification recorded by MockNotifier.
type Sent struct {
	DriverID string
	coremqtt.Notification
}

// MockNotifier records notifications instead of publishing them.
type MockNotifier struct {
	FailIDs map[string]bool
	Unacked map[string]bool

	mu   sync.Mutex
	sent []Sent
	acks map[string]bool
}

// NewMockNotifier creates a new MockNotifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{
		FailIDs: make(map[string]bool),
		Unacked: make(map[string]bool),
		acks:    make(map[string]bool),
	}
}

// Notify records the notification or fails for drivers listed in FailIDs.
func (m *MockNotifier) Notify(driverID string, n coremqtt.Notification) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[driverID] {
		return "", fmt.Errorf("publish failed")
	}
	m.sent = append(m.sent, Sent{DriverID: driverID, Notification: n})
	id := fmt.Sprintf("msg-%d", len(m.sent))
	m.acks[id] = !m.Unacked[driverID]
	return id, nil
}

// WaitForAck answers immediately from the recorded result.
func (m *MockNotifier) WaitForAck(messageID string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	ok, exists := m.acks[messageID]
	m.mu.Unlock()
	if !exists {
		return false, fmt.Errorf("unknown message %s", messageID)
	}
	if !ok {
		return false, coremqtt.ErrAckTimeout
	}
	return true, nil
}

// Sent returns a copy of the recorded notifications.
func (m *MockNotifier) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}
