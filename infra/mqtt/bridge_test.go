package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/kilianp07/freight/core/events"
	coremqtt "github.com/kilianp07/freight/core/mqtt"
	"github.com/kilianp07/freight/internal/eventbus"
)

func TestBridgeForwardsReservationEvents(t *testing.T) {
	bus := eventbus.New()
	n := NewMockNotifier()
	n.Unacked["D2"] = true
	done := StartBridge(context.Background(), bus, n, time.Millisecond, nil)

	exp := time.Date(2024, 3, 1, 8, 2, 0, 0, time.UTC)
	bus.Publish(events.LoadReserved{LoadID: "L1", DriverID: "D1", ExpiresAt: exp})
	bus.Publish(events.LoadReleased{LoadID: "L2", DriverID: "D2", Reason: events.ReasonExpired})
	bus.Publish(events.LoadReleased{LoadID: "L3", DriverID: "D3", Reason: events.ReasonRejected})
	bus.Publish(events.LoadStarted{LoadID: "L4", DriverID: "D4"})
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("bridge did not stop after bus close")
	}
	sent := n.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 notifications, got %+v", sent)
	}
	if sent[0].DriverID != "D1" || sent[0].Kind != coremqtt.KindReserved || sent[0].ExpiresAt == nil || !sent[0].ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected reserved notification %+v", sent[0])
	}
	if sent[1].DriverID != "D2" || sent[1].Kind != coremqtt.KindReleased || sent[1].Reason != events.ReasonExpired {
		t.Fatalf("unexpected released notification %+v", sent[1])
	}
}

func TestBridgeNotifyFailureContinues(t *testing.T) {
	bus := eventbus.New()
	n := NewMockNotifier()
	n.FailIDs["D1"] = true
	done := StartBridge(context.Background(), bus, n, 0, nil)

	bus.Publish(events.LoadReserved{LoadID: "L1", DriverID: "D1"})
	bus.Publish(events.LoadReserved{LoadID: "L2", DriverID: "D2"})
	bus.Close()
	<-done

	sent := n.Sent()
	if len(sent) != 1 || sent[0].LoadID != "L2" {
		t.Fatalf("unexpected notifications %+v", sent)
	}
}

func TestBridgeStopsOnCancel(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := StartBridge(ctx, bus, NewMockNotifier(), 0, nil)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("bridge did not stop on cancel")
	}
}

func TestBridgeWithoutNotifier(t *testing.T) {
	done := StartBridge(context.Background(), eventbus.New(), nil, 0, nil)
	select {
	case <-done:
	default:
		t.Fatalf("bridge without notifier should be closed")
	}
}
