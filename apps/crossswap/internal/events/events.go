package events

import (
	"crossswap/apps/crossswap/internal/model"
	"time"
)

type EventType string

const (
	OrderCreated    EventType = "order_created"
	OrderBroadcast  EventType = "order_broadcast"
	OrderCommitted  EventType = "order_committed"
	EscrowDeployed  EventType = "escrow_deployed"
	EscrowsReady    EventType = "escrows_ready"
	FundsLocked     EventType = "funds_locked"
	SecretRevealed  EventType = "secret_revealed"
	EscrowWithdrawn EventType = "escrow_withdrawn"
	EscrowCancelled EventType = "escrow_cancelled"
	OrderCompleted  EventType = "order_completed"
	OrderRescued    EventType = "order_rescued"
	OrderCancelled  EventType = "order_cancelled"
	OrderExpired    EventType = "order_expired"
	RescueAvailable EventType = "rescue_available"
)

// SwapEvent is the single envelope for everything the relayer publishes.
// Fields that do not apply to an event type are left empty.
type SwapEvent struct {
	EventID          string           `json:"event_id"`
	EventType        EventType        `json:"event_type"`
	OrderHash        string           `json:"order_hash,omitempty"`
	Resolver         string           `json:"resolver,omitempty"`
	PreviousResolver string           `json:"previous_resolver,omitempty"`
	Side             model.EscrowSide `json:"side,omitempty"`
	SourceEscrow     string           `json:"source_escrow,omitempty"`
	DestEscrow       string           `json:"dest_escrow,omitempty"`
	Secret           string           `json:"secret,omitempty"`
	Amount           string           `json:"amount,omitempty"`
	Order            *OrderView       `json:"order,omitempty"`
	Feed             *FeedSnapshot    `json:"feed,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// FeedSnapshot is what resolvers poll or receive on every broadcast tick.
type FeedSnapshot struct {
	Active    []OrderView `json:"active"`
	Rescuable []OrderView `json:"rescuable"`
	Timestamp time.Time   `json:"timestamp"`
}
