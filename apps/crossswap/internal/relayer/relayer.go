// Package relayer announces orders to resolvers and turns their actions
// into ledger, commitment and escrow transitions. Every action on one order
// is serialized; different orders advance independently.
package relayer

import (
	"context"
	"crossswap/apps/crossswap/internal/allocation"
	"crossswap/apps/crossswap/internal/clock"
	"crossswap/apps/crossswap/internal/commitment"
	"crossswap/apps/crossswap/internal/escrow"
	"crossswap/apps/crossswap/internal/events"
	"crossswap/apps/crossswap/internal/hashlock"
	"crossswap/apps/crossswap/internal/ledger"
	"crossswap/apps/crossswap/internal/metrics"
	"crossswap/apps/crossswap/internal/model"
	"crossswap/apps/crossswap/internal/rescue"
	"crossswap/apps/crossswap/internal/treasury"
	"errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"sync"
	"time"
)

var (
	ErrUnauthorizedResolver = errors.New("resolver not registered")
	ErrOrderNotAvailable    = errors.New("order not available for commitment")
	ErrNotParticipant       = errors.New("resolver does not participate in this order")
	ErrNotReady             = errors.New("swap not ready for settlement")
	ErrSwapFinal            = errors.New("swap already finished")
)

type Config struct {
	ExecutionWindow      time.Duration
	BroadcastInterval    time.Duration
	TimeoutCheckInterval time.Duration
	TimelockBuffer       uint32
	SafetyDepositPerUnit *uint256.Int
	DefaultTimelocks     model.Timelocks // applied to orders that carry none
}

// Broadcaster delivers relayer events to resolvers.
type Broadcaster interface {
	Publish(ctx context.Context, event events.SwapEvent) error
}

// Snapshot is the persisted state of one order after an event.
type Snapshot struct {
	Order      model.Order
	State      model.SwapState
	Commitment *model.Commitment
	Escrows    []model.EscrowRecord
	Payouts    []model.Payout
}

// Store persists relayer state. It is optional.
type Store interface {
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	SaveResolver(ctx context.Context, resolver model.Resolver) error
}

type forfeit struct {
	resolver string
	amount   *uint256.Int
}

type swap struct {
	state    model.SwapState
	secret   *hashlock.Secret
	revealed bool
	ready    map[string]bool
	forfeits []forfeit
	rescues  int
}

type Relayer struct {
	cfg         Config
	clock       clock.Clock
	logger      *zap.Logger
	ledger      *ledger.Ledger
	tracker     *commitment.Tracker
	escrows     *escrow.Coordinator
	rescues     *rescue.Coordinator
	treasury    *treasury.Treasury
	splitter    *allocation.Splitter
	broadcaster Broadcaster
	store       Store

	mu        sync.RWMutex
	resolvers map[string]model.Resolver
	swaps     map[common.Hash]*swap
	locks     map[common.Hash]*orderLock
	announced map[string]bool // timed-out commitments already announced

	queueMu sync.Mutex
	queue   []events.SwapEvent
	wake    chan struct{}
	inbox   chan Notification
}

func NewRelayer(cfg Config, c clock.Clock, broadcaster Broadcaster, store Store, logger *zap.Logger) *Relayer {
	splitter := allocation.NewSplitter(cfg.SafetyDepositPerUnit)
	l := ledger.NewLedger(c, cfg.TimelockBuffer, logger)
	tracker := commitment.NewTracker(c, logger)
	escrows := escrow.NewCoordinator(c, l, tracker, splitter, logger)

	return &Relayer{
		cfg:         cfg,
		clock:       c,
		logger:      logger,
		ledger:      l,
		tracker:     tracker,
		escrows:     escrows,
		rescues:     rescue.NewCoordinator(c, cfg.ExecutionWindow, l, tracker, escrows, logger),
		treasury:    treasury.NewTreasury(logger),
		splitter:    splitter,
		broadcaster: broadcaster,
		store:       store,
		resolvers:   make(map[string]model.Resolver),
		swaps:       make(map[common.Hash]*swap),
		locks:       make(map[common.Hash]*orderLock),
		announced:   make(map[string]bool),
		wake:        make(chan struct{}, 1),
		inbox:       make(chan Notification, 256),
	}
}

// Run drives the broadcast feed, the timeout watchdog and the notification
// inbox until ctx is done.
func (r *Relayer) Run(ctx context.Context) error {
	broadcast := time.NewTicker(r.cfg.BroadcastInterval)
	defer broadcast.Stop()
	timeouts := time.NewTicker(r.cfg.TimeoutCheckInterval)
	defer timeouts.Stop()

	r.logger.Info("Relayer started",
		zap.Duration("execution_window", r.cfg.ExecutionWindow),
		zap.Duration("broadcast_interval", r.cfg.BroadcastInterval))

	for {
		select {
		case <-ctx.Done():
			r.flush(context.Background())
			r.logger.Info("Relayer stopped")
			return nil
		case n := <-r.inbox:
			r.handle(n)
		case <-r.wake:
			r.flush(ctx)
		case <-broadcast.C:
			r.Broadcast()
		case <-timeouts.C:
			r.CheckTimeouts()
		}
	}
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

// lockOrder serializes writers on one order. The entry is dropped once no
// caller holds or waits on it.
func (r *Relayer) lockOrder(hash common.Hash) func() {
	r.mu.Lock()
	l, ok := r.locks[hash]
	if !ok {
		l = &orderLock{}
		r.locks[hash] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, hash)
		}
		r.mu.Unlock()
	}
}

func (r *Relayer) swapFor(hash common.Hash) (*swap, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sw, ok := r.swaps[hash]
	return sw, ok
}

func (r *Relayer) setState(sw *swap, state model.SwapState) {
	r.mu.Lock()
	sw.state = state
	r.mu.Unlock()
}

// State returns the swap progress of an order.
func (r *Relayer) State(hash common.Hash) (model.SwapState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sw, ok := r.swaps[hash]
	if !ok {
		return "", false
	}
	return sw.state, true
}

func (r *Relayer) isRegistered(resolver string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolvers[resolver]
	return ok
}

// emit queues an event for the Run loop. It never blocks.
func (r *Relayer) emit(eventType events.EventType, hash common.Hash, fill func(*events.SwapEvent)) {
	ev := events.SwapEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: r.clock.Now(),
	}
	if hash != (common.Hash{}) {
		ev.OrderHash = hash.Hex()
	}
	if fill != nil {
		fill(&ev)
	}

	r.queueMu.Lock()
	r.queue = append(r.queue, ev)
	r.queueMu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// flush publishes queued events in order and persists the orders they touch.
func (r *Relayer) flush(ctx context.Context) {
	r.queueMu.Lock()
	pending := r.queue
	r.queue = nil
	r.queueMu.Unlock()

	for _, ev := range pending {
		if r.broadcaster != nil {
			if err := r.broadcaster.Publish(ctx, ev); err != nil {
				metrics.EventsFailed.WithLabelValues(string(ev.EventType)).Inc()
				r.logger.Error("Failed to publish event",
					zap.String("event_type", string(ev.EventType)),
					zap.String("order_hash", ev.OrderHash),
					zap.Error(err))
			} else {
				metrics.EventsPublished.WithLabelValues(string(ev.EventType)).Inc()
			}
		}
		if r.store != nil && ev.OrderHash != "" {
			r.persist(ctx, common.HexToHash(ev.OrderHash))
		}
	}
}

func (r *Relayer) persist(ctx context.Context, hash common.Hash) {
	snapshot, err := r.Snapshot(hash)
	if err != nil {
		r.logger.Error("Failed to snapshot order", zap.String("order_hash", hash.Hex()), zap.Error(err))
		return
	}
	if err := r.store.SaveSnapshot(ctx, snapshot); err != nil {
		r.logger.Error("Failed to persist order", zap.String("order_hash", hash.Hex()), zap.Error(err))
	}
}

// Snapshot gathers everything known about an order.
func (r *Relayer) Snapshot(hash common.Hash) (Snapshot, error) {
	order, err := r.ledger.Get(hash)
	if err != nil {
		return Snapshot{}, err
	}
	state, _ := r.State(hash)
	snapshot := Snapshot{
		Order:   order,
		State:   state,
		Escrows: r.escrows.Records(hash),
		Payouts: r.escrows.Payouts(hash),
	}
	if c, ok := r.tracker.Current(hash); ok {
		snapshot.Commitment = &c
	}
	return snapshot, nil
}
