package feed

import (
	"context"
	"crossswap/apps/crossswap/internal/events"
	"errors"
	"go.uber.org/zap"
	"testing"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a, closeA := hub.Subscribe(4)
	b, closeB := hub.Subscribe(4)
	defer closeB()

	ev := events.SwapEvent{EventType: events.OrderCreated, OrderHash: "0x01"}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	for name, ch := range map[string]<-chan events.SwapEvent{"a": a, "b": b} {
		got := <-ch
		if got.EventType != events.OrderCreated {
			t.Errorf("subscriber %s got %s", name, got.EventType)
		}
	}

	closeA()
	closeA()
	if _, ok := <-a; ok {
		t.Error("closed subscription still delivers")
	}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish after unsubscribe failed: %v", err)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := hub.Publish(context.Background(), events.SwapEvent{EventType: events.OrderBroadcast}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if len(ch) != 1 {
		t.Errorf("buffered %d events, want 1", len(ch))
	}
}

type failing struct{ err error }

func (f failing) Publish(context.Context, events.SwapEvent) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	errBroker := errors.New("broker down")
	hub := NewHub(zap.NewNop())
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	err := Multi{failing{errBroker}, hub}.Publish(context.Background(), events.SwapEvent{EventType: events.OrderExpired})
	if !errors.Is(err, errBroker) {
		t.Errorf("expected broker error, got %v", err)
	}
	if len(ch) != 1 {
		t.Error("healthy publisher skipped after a failure")
	}
}
