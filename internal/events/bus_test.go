package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitDelivers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	got := make(chan Event, 1)
	bus.Subscribe(EventConnected, "test", func(_ context.Context, e Event) error {
		got <- e
		return nil
	})

	bus.Emit(context.Background(), New(EventConnected, "survival", ConnectionPayload{Addr: "127.0.0.1:25575"}))

	select {
	case e := <-got:
		if e.Source != "survival" || e.ID == "" || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
		if p, ok := e.Payload.(ConnectionPayload); !ok || p.Addr != "127.0.0.1:25575" {
			t.Fatalf("payload = %#v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()

	var n atomic.Int32
	bus.SubscribeAll("all", func(context.Context, Event) error {
		n.Add(1)
		return nil
	})
	bus.Subscribe(EventPlayerJoined, "joined", func(context.Context, Event) error {
		n.Add(10)
		return nil
	})

	ctx := context.Background()
	bus.Emit(ctx, New(EventPlayerJoined, "s", PlayerPayload{Player: "alex"}))
	bus.Emit(ctx, New(EventPlayerLeft, "s", PlayerPayload{Player: "alex"}))
	bus.Stop()

	if got := n.Load(); got != 12 {
		t.Fatalf("deliveries = %d, want 12", got)
	}
}

func TestPanicIsContained(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	bus.Subscribe(EventShutdown, "boom", func(context.Context, Event) error {
		panic("boom")
	})
	var ok atomic.Bool
	bus.Subscribe(EventShutdown, "fine", func(context.Context, Event) error {
		ok.Store(true)
		return nil
	})

	err := bus.EmitSync(context.Background(), New(EventShutdown, "test", nil))
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
	if !ok.Load() {
		t.Fatal("other handler did not run")
	}
}

func TestEmitSyncReturnsError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	want := errors.New("nope")
	bus.Subscribe(EventConfigChanged, "err", func(context.Context, Event) error { return want })

	if err := bus.EmitSync(context.Background(), New(EventConfigChanged, "api", nil)); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	bus.Subscribe(EventHeartbeat, "a", func(context.Context, Event) error { return nil })
	bus.Subscribe(EventHeartbeat, "b", func(context.Context, Event) error { return nil })
	bus.Unsubscribe(EventHeartbeat, "a")
	if n := bus.HandlerCount(EventHeartbeat); n != 1 {
		t.Fatalf("HandlerCount = %d", n)
	}
	bus.Unsubscribe(EventHeartbeat, "b")
	if n := bus.HandlerCount(EventHeartbeat); n != 0 {
		t.Fatalf("HandlerCount = %d", n)
	}
}

func TestStopWaitsAndDrops(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var done bool
	bus.Subscribe(EventCommandExecuted, "slow", func(context.Context, Event) error {
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		done = true
		mu.Unlock()
		return nil
	})

	bus.Emit(context.Background(), New(EventCommandExecuted, "s", CommandPayload{}))
	bus.Stop()
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if !done {
		t.Fatal("Stop returned before the handler finished")
	}

	select {
	case <-bus.StopCh():
	default:
		t.Fatal("StopCh not closed")
	}

	// Dropped silently.
	bus.Emit(context.Background(), New(EventCommandExecuted, "s", nil))
}
