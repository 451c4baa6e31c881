// Package feed fans relayer events out to in-process subscribers and
// combines several transports behind one publisher.
package feed

import (
	"context"
	"crossswap/apps/crossswap/internal/events"
	"errors"
	"go.uber.org/zap"
	"sync"
)

type Publisher interface {
	Publish(ctx context.Context, event events.SwapEvent) error
}

// Hub delivers every event to every subscriber. A subscriber that is not
// keeping up misses events rather than stalling the relayer.
type Hub struct {
	mu     sync.RWMutex
	logger *zap.Logger
	subs   map[int]chan events.SwapEvent
	nextID int
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{logger: logger, subs: make(map[int]chan events.SwapEvent)}
}

func (h *Hub) Publish(_ context.Context, event events.SwapEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Warn("Dropping event for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("event_type", string(event.EventType)))
		}
	}
	return nil
}

// Subscribe returns a channel of events and a function that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan events.SwapEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan events.SwapEvent, buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Multi publishes to each publisher in turn and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event events.SwapEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
