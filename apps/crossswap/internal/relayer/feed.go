package relayer

import (
	"crossswap/apps/crossswap/internal/auction"
	"crossswap/apps/crossswap/internal/events"
	"crossswap/apps/crossswap/internal/metrics"
	"crossswap/apps/crossswap/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// view decorates an order with its swap progress and current auction price.
func (r *Relayer) view(order model.Order) events.OrderView {
	v := events.NewOrderView(order)
	if state, ok := r.State(order.OrderHash); ok {
		v.SwapState = string(state)
	}
	if c, ok := r.tracker.Active(order.OrderHash); ok {
		commitTime := c.CommitTime
		v.Resolver = c.Resolver
		v.CommitTime = &commitTime
	}
	if order.HasAuction() {
		price, err := auction.CurrentPrice(auction.Params{
			StartPrice: order.AuctionStartPrice,
			EndPrice:   order.AuctionEndPrice,
			StartTime:  order.AuctionStartTime,
			EndTime:    order.AuctionEndTime,
		}, r.clock.Now())
		if err == nil {
			v.CurrentPrice = price.Dec()
		}
	}
	return v
}

// OrderView returns the wire view of an order with its swap progress.
func (r *Relayer) OrderView(hash common.Hash) (events.OrderView, error) {
	order, err := r.ledger.Get(hash)
	if err != nil {
		return events.OrderView{}, err
	}
	return r.view(order), nil
}

// Feed is the snapshot resolvers poll: fillable orders and orders whose
// commitment can be rescued.
func (r *Relayer) Feed() events.FeedSnapshot {
	snapshot := events.FeedSnapshot{
		Active:    []events.OrderView{},
		Rescuable: []events.OrderView{},
		Timestamp: r.clock.Now(),
	}
	for _, order := range r.ledger.Active() {
		snapshot.Active = append(snapshot.Active, r.view(order))
	}
	for _, c := range r.rescues.Rescuable() {
		order, err := r.ledger.Get(c.OrderHash)
		if err != nil {
			continue
		}
		snapshot.Rescuable = append(snapshot.Rescuable, r.view(order))
	}
	return snapshot
}

// Broadcast publishes the current feed snapshot.
func (r *Relayer) Broadcast() {
	feed := r.Feed()
	metrics.Broadcasts.Inc()
	metrics.ActiveOrders.Set(float64(len(feed.Active)))
	if len(feed.Active) == 0 && len(feed.Rescuable) == 0 {
		return
	}
	r.emit(events.OrderBroadcast, common.Hash{}, func(ev *events.SwapEvent) {
		ev.Feed = &feed
	})
}

// CheckTimeouts expires orders past their deadline and announces commitments
// that ran out of execution window.
func (r *Relayer) CheckTimeouts() {
	r.ledger.ExpireStale()
	r.mu.RLock()
	open := make([]common.Hash, 0, len(r.swaps))
	for hash, sw := range r.swaps {
		if !sw.state.IsFinal() {
			open = append(open, hash)
		}
	}
	r.mu.RUnlock()
	for _, hash := range open {
		if order, err := r.ledger.Get(hash); err == nil && order.Status == model.OrderStatusExpired {
			r.expire(order)
		}
	}

	rescuable := r.rescues.Rescuable()
	r.mu.Lock()
	for id := range r.announced {
		if !containsCommitment(rescuable, id) {
			delete(r.announced, id)
		}
	}
	r.mu.Unlock()

	for _, c := range rescuable {
		r.mu.Lock()
		seen := r.announced[c.ID]
		r.announced[c.ID] = true
		r.mu.Unlock()
		if seen {
			continue
		}

		r.logger.Info("Commitment timed out",
			zap.String("order_hash", c.OrderHash.Hex()),
			zap.String("resolver", c.Resolver),
			zap.Time("commit_time", c.CommitTime))
		r.emit(events.RescueAvailable, c.OrderHash, func(ev *events.SwapEvent) {
			ev.Resolver = c.Resolver
		})
	}
}

func containsCommitment(list []model.Commitment, id string) bool {
	for _, c := range list {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (r *Relayer) expire(order model.Order) {
	unlock := r.lockOrder(order.OrderHash)
	defer unlock()

	sw, ok := r.swapFor(order.OrderHash)
	if !ok {
		return
	}
	if state, _ := r.State(order.OrderHash); state.IsFinal() {
		return
	}
	if len(r.escrows.Records(order.OrderHash)) == 0 {
		r.finish(order.OrderHash, sw, model.SwapExpired)
	} else {
		// Deployed escrows still have to be cancelled through their timelocks.
		r.setState(sw, model.SwapExpired)
		metrics.OrdersFinished.WithLabelValues(string(model.SwapExpired)).Inc()
	}
	r.emit(events.OrderExpired, order.OrderHash, nil)
}

type Stats struct {
	TotalOrders int            `json:"total_orders"`
	ByState     map[string]int `json:"by_state"`
	Resolvers   int            `json:"resolvers"`
	Rescues     int            `json:"rescues"`
}

func (r *Relayer) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalOrders: len(r.swaps),
		ByState:     make(map[string]int),
		Resolvers:   len(r.resolvers),
	}
	for _, sw := range r.swaps {
		stats.ByState[string(sw.state)]++
		stats.Rescues += sw.rescues
	}
	return stats
}
