package mqtt

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/freight/core/events"
	corelogger "github.com/kilianp07/freight/core/logger"
	coremqtt "github.com/kilianp07/freight/core/mqtt"
	"github.com/kilianp07/freight/internal/eventbus"
)

// DefaultAckTimeout bounds how long a notification waits for its ack.
const DefaultAckTimeout = 10 * time.Second

// StartBridge forwards reservation events from bus to drivers until ctx is
// canceled or the bus closes. Each notification waits for its ack in the
// background; missing acks are only logged. The returned channel is closed
// when the bridge stopped.
func StartBridge(ctx context.Context, bus eventbus.EventBus, n coremqtt.Notifier, ackTimeout time.Duration, log corelogger.Logger) <-chan struct{} {
	log = corelogger.OrNop(log)
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	done := make(chan struct{})
	if bus == nil || n == nil {
		close(done)
		return done
	}
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				driverID, note, ok := toNotification(ev)
				if !ok {
					continue
				}
				id, err := n.Notify(driverID, note)
				if err != nil {
					log.Errorf("notify driver %s about load %s: %v", driverID, note.LoadID, err)
					continue
				}
				go func() {
					if acked, err := n.WaitForAck(id, ackTimeout); !acked {
						if errors.Is(err, coremqtt.ErrAckTimeout) {
							log.Warnf("driver %s did not acknowledge %s for load %s", driverID, note.Kind, note.LoadID)
						} else if err != nil {
							log.Errorf("wait for ack %s: %v", id, err)
						}
					}
				}()
			}
		}
	}()
	return done
}

func toNotification(ev eventbus.Event) (string, coremqtt.Notification, bool) {
	switch e := ev.(type) {
	case events.LoadReserved:
		exp := e.ExpiresAt
		return e.DriverID, coremqtt.Notification{Kind: coremqtt.KindReserved, LoadID: e.LoadID, ExpiresAt: &exp, Time: e.Time}, true
	case events.LoadReleased:
		// A driver who rejected the load already knows.
		if e.Reason == events.ReasonRejected {
			return "", coremqtt.Notification{}, false
		}
		return e.DriverID, coremqtt.Notification{Kind: coremqtt.KindReleased, LoadID: e.LoadID, Reason: e.Reason, Time: e.Time}, true
	}
	return "", coremqtt.Notification{}, false
}
