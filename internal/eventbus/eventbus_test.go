package eventbus

import "testing"

func TestFanOut(t *testing.T) {
	bus := New()
	a, b := bus.Subscribe(), bus.Subscribe()
	bus.Publish("load_reserved")
	for i, ch := range []<-chan Event{a, b} {
		if v := <-ch; v != "load_reserved" {
			t.Fatalf("subscriber %d got %v", i, v)
		}
	}
	bus.Unsubscribe(a)
	if _, ok := <-a; ok {
		t.Fatalf("expected unsubscribed queue closed")
	}
	bus.Publish("load_released")
	if v := <-b; v != "load_released" {
		t.Fatalf("remaining subscriber got %v", v)
	}
}

func TestFullQueueDrops(t *testing.T) {
	bus := New(WithBuffer(2))
	ch := bus.Subscribe()
	for i := 0; i < 5; i++ {
		bus.Publish(i)
	}
	if got := bus.Dropped(); got != 3 {
		t.Fatalf("expected 3 drops got %d", got)
	}
	if v := <-ch; v != 0 {
		t.Fatalf("expected oldest event first, got %v", v)
	}
}

func TestCloseIsFinal(t *testing.T) {
	bus := New()
	ch := bus.Subscribe()
	bus.Close()
	bus.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected queue closed")
	}
	bus.Publish("ignored")
	if _, ok := <-bus.Subscribe(); ok {
		t.Fatalf("expected subscribe after close to return a closed queue")
	}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}
