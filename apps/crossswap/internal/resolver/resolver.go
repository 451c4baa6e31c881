// Package resolver is a relayer client that competes for orders: it prices
// broadcast orders against market quotes, commits, funds both escrows,
// co-fills orders other resolvers lead and finishes swaps once the secret
// is public.
package resolver

import (
	"context"
	"crossswap/apps/crossswap/internal/auction"
	"crossswap/apps/crossswap/internal/events"
	"crossswap/apps/crossswap/internal/model"
	"errors"
	"fmt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"math/rand"
	"sync"
	"time"
)

// Relayer is the part of the relayer API a resolver drives.
type Relayer interface {
	Order(ctx context.Context, hash string) (events.OrderView, error)
	Commit(ctx context.Context, hash, resolver, sourceRef, destRef string) (bool, error)
	Rescue(ctx context.Context, hash, resolver, sourceRef, destRef string) (bool, error)
	DeployEscrow(ctx context.Context, hash, resolver string, side model.EscrowSide, amount *uint256.Int, escrowAddress string) error
	Owed(ctx context.Context, hash, resolver string) (*uint256.Int, error)
	EscrowsReady(ctx context.Context, hash, resolver, sourceEscrow, destEscrow string) error
	Complete(ctx context.Context, hash, resolver, secret string) error
}

type role int

const (
	roleNone role = iota
	roleLeader
	roleCoFiller
)

type position struct {
	role      role
	attempted bool
	done      bool
}

// Resolver reacts to the relayer's event feed. HandleEvent never blocks on
// the competition delay; the work runs on its own goroutine.
type Resolver struct {
	address string
	policy  Policy
	maxFill *uint256.Int
	quoter  Quoter
	relayer Relayer
	logger  *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  *rand.Rand

	mu        sync.Mutex
	positions map[string]*position
	wg        sync.WaitGroup
}

func NewResolver(address string, policy Policy, quoter Quoter, relayer Relayer, logger *zap.Logger) (*Resolver, error) {
	maxFill, err := policy.MaxFill()
	if err != nil {
		return nil, err
	}
	return &Resolver{
		address:   address,
		policy:    policy,
		maxFill:   maxFill,
		quoter:    quoter,
		relayer:   relayer,
		logger:    logger.With(zap.String("resolver", address), zap.String("policy", policy.Name)),
		now:       time.Now,
		sleep:     sleepContext,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		positions: make(map[string]*position),
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until every action started by HandleEvent has returned.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) spawn(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// HandleEvent dispatches one feed event.
func (r *Resolver) HandleEvent(ctx context.Context, ev events.SwapEvent) error {
	switch ev.EventType {
	case events.OrderCreated:
		if ev.Order != nil {
			r.consider(ctx, *ev.Order)
		}
	case events.OrderBroadcast:
		if ev.Feed == nil {
			return nil
		}
		for _, view := range ev.Feed.Active {
			if view.SwapState == "" || view.SwapState == string(model.SwapPending) {
				r.consider(ctx, view)
			}
		}
		if r.policy.Rescue {
			for _, view := range ev.Feed.Rescuable {
				if view.Resolver != r.address {
					r.considerRescue(ctx, view.OrderHash)
				}
			}
		}
	case events.EscrowDeployed:
		if ev.Side == model.SideSource && ev.Resolver != r.address {
			r.considerCoFill(ctx, ev.OrderHash)
		}
	case events.RescueAvailable:
		if r.policy.Rescue && ev.Resolver != r.address {
			r.considerRescue(ctx, ev.OrderHash)
		}
	case events.SecretRevealed:
		r.finish(ctx, ev.OrderHash, ev.Secret)
	case events.OrderCompleted, events.OrderCancelled, events.OrderExpired:
		r.mu.Lock()
		delete(r.positions, ev.OrderHash)
		r.mu.Unlock()
	}
	return nil
}

// claim marks hash as attempted and reports whether this call won the claim.
func (r *Resolver) claim(hash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[hash]
	if !ok {
		p = &position{}
		r.positions[hash] = p
	}
	if p.attempted {
		return false
	}
	p.attempted = true
	return true
}

func (r *Resolver) consider(ctx context.Context, view events.OrderView) {
	if view.AllowedTaker != "" && view.AllowedTaker != r.address {
		return
	}
	if !r.worthIt(view) {
		return
	}
	if !r.claim(view.OrderHash) {
		return
	}

	r.spawn(func() {
		if err := r.sleep(ctx, r.delay()); err != nil {
			return
		}
		if err := r.lead(ctx, view.OrderHash); err != nil {
			r.logger.Info("Order not taken", zap.String("order_hash", view.OrderHash), zap.Error(err))
		}
	})
}

func (r *Resolver) considerCoFill(ctx context.Context, hash string) {
	r.mu.Lock()
	p, ok := r.positions[hash]
	busy := ok && p.role != roleNone
	r.mu.Unlock()
	if busy {
		return
	}

	r.spawn(func() {
		view, err := r.relayer.Order(ctx, hash)
		if err != nil {
			r.logger.Warn("Failed to fetch order", zap.String("order_hash", hash), zap.Error(err))
			return
		}
		if view.AllowedTaker != "" && view.AllowedTaker != r.address {
			return
		}
		if remaining := parseAmount(view.RemainingAmount); remaining == nil || remaining.IsZero() {
			return
		}
		if !r.worthIt(view) {
			return
		}

		r.mu.Lock()
		p, ok := r.positions[hash]
		if !ok {
			p = &position{}
			r.positions[hash] = p
		}
		if p.role != roleNone {
			r.mu.Unlock()
			return
		}
		p.role = roleCoFiller
		p.attempted = true
		r.mu.Unlock()

		if err := r.fund(ctx, view); err != nil {
			r.logger.Info("Co-fill failed", zap.String("order_hash", hash), zap.Error(err))
			r.dropRole(hash, roleCoFiller)
		}
	})
}

func (r *Resolver) considerRescue(ctx context.Context, hash string) {
	r.mu.Lock()
	p, ok := r.positions[hash]
	if ok && p.role == roleLeader {
		r.mu.Unlock()
		return
	}
	if !ok {
		p = &position{}
		r.positions[hash] = p
	}
	p.role = roleLeader
	r.mu.Unlock()

	r.spawn(func() {
		source, dest := r.escrowAddresses(hash)
		accepted, err := r.relayer.Rescue(ctx, hash, r.address, source, dest)
		if !accepted {
			r.logger.Info("Rescue not taken", zap.String("order_hash", hash), zap.Error(err))
			r.dropRole(hash, roleLeader)
			return
		}
		r.logger.Info("Rescued order", zap.String("order_hash", hash))

		view, err := r.relayer.Order(ctx, hash)
		if err != nil {
			r.logger.Error("Failed to fetch rescued order", zap.String("order_hash", hash), zap.Error(err))
			return
		}
		if err := r.fund(ctx, view); err != nil {
			r.logger.Error("Failed to fund rescued order", zap.String("order_hash", hash), zap.Error(err))
		}
	})
}

func (r *Resolver) dropRole(hash string, want role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.positions[hash]; ok && p.role == want {
		p.role = roleNone
	}
}

// lead commits to an order and funds it.
func (r *Resolver) lead(ctx context.Context, hash string) error {
	source, dest := r.escrowAddresses(hash)
	accepted, err := r.relayer.Commit(ctx, hash, r.address, source, dest)
	if !accepted {
		if err == nil {
			err = errors.New("commit rejected")
		}
		return err
	}

	r.mu.Lock()
	// A final event may have dropped the position while Commit was in flight.
	p, ok := r.positions[hash]
	if !ok {
		p = &position{attempted: true}
		r.positions[hash] = p
	}
	p.role = roleLeader
	r.mu.Unlock()
	r.logger.Info("Committed to order", zap.String("order_hash", hash))

	view, err := r.relayer.Order(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to fetch order: %w", err)
	}
	return r.fund(ctx, view)
}

// fund deploys this resolver's slice on both sides and reports its escrows
// ready. A rescuer may inherit a source slice the stalled resolver funded;
// its destination side is deployed even when nothing remains to allocate.
func (r *Resolver) fund(ctx context.Context, view events.OrderView) error {
	hash := view.OrderHash
	source, dest := r.escrowAddresses(hash)

	amount := parseAmount(view.RemainingAmount)
	if amount != nil && r.maxFill != nil && amount.Gt(r.maxFill) {
		amount = r.maxFill.Clone()
	}
	deployed := amount != nil && !amount.IsZero()
	if deployed {
		if err := r.relayer.DeployEscrow(ctx, hash, r.address, model.SideSource, amount, source); err != nil {
			return fmt.Errorf("failed to deploy source escrow: %w", err)
		}
	}

	owed, err := r.relayer.Owed(ctx, hash, r.address)
	switch {
	case err == nil:
		if err := r.relayer.DeployEscrow(ctx, hash, r.address, model.SideDestination, owed, dest); err != nil {
			return fmt.Errorf("failed to deploy destination escrow: %w", err)
		}
		fields := []zap.Field{zap.String("order_hash", hash), zap.String("owed", owed.Dec())}
		if deployed {
			fields = append(fields, zap.String("amount", amount.Dec()))
		}
		r.logger.Info("Escrows deployed", fields...)
	case deployed:
		return fmt.Errorf("failed to get owed amount: %w", err)
	}

	return r.relayer.EscrowsReady(ctx, hash, r.address, source, dest)
}

// finish sends the completion notification for orders this resolver leads.
func (r *Resolver) finish(ctx context.Context, hash, secret string) {
	r.mu.Lock()
	p, ok := r.positions[hash]
	lead := ok && p.role == roleLeader && !p.done
	if lead {
		p.done = true
	}
	r.mu.Unlock()
	if !lead || secret == "" {
		return
	}

	r.spawn(func() {
		if err := r.relayer.Complete(ctx, hash, r.address, secret); err != nil {
			r.logger.Error("Failed to complete order", zap.String("order_hash", hash), zap.Error(err))
			return
		}
		r.logger.Info("Order completed", zap.String("order_hash", hash))
	})
}

// worthIt prices the order at the current auction point against the market.
func (r *Resolver) worthIt(view events.OrderView) bool {
	market, ok := r.quoter.Quote(view.MakerAsset, view.TakerAsset)
	if !ok {
		r.logger.Debug("No market price", zap.String("maker_asset", view.MakerAsset), zap.String("taker_asset", view.TakerAsset))
		return false
	}
	price, err := r.price(view)
	if err != nil {
		r.logger.Debug("Cannot price order", zap.String("order_hash", view.OrderHash), zap.Error(err))
		return false
	}
	return Profitable(market, price, r.policy.ProfitMarginBps)
}

func (r *Resolver) price(view events.OrderView) (*uint256.Int, error) {
	if p := parseAmount(view.CurrentPrice); p != nil {
		return p, nil
	}
	if view.AuctionStartPrice != "" {
		return auction.CurrentPrice(auction.Params{
			StartPrice: parseAmount(view.AuctionStartPrice),
			EndPrice:   parseAmount(view.AuctionEndPrice),
			StartTime:  view.AuctionStartTime,
			EndTime:    view.AuctionEndTime,
		}, r.now())
	}
	making, taking := parseAmount(view.MakingAmount), parseAmount(view.TakingAmount)
	if making == nil || taking == nil || making.IsZero() {
		return nil, errors.New("order has no price")
	}
	price, overflow := new(uint256.Int).MulDivOverflow(taking, auction.PricePrecision, making)
	if overflow {
		return nil, auction.ErrOverflow
	}
	return price, nil
}

func (r *Resolver) delay() time.Duration {
	d := r.policy.CompetitionDelay
	if r.policy.DelayJitter > 0 {
		r.mu.Lock()
		d += time.Duration(r.rand.Int63n(int64(r.policy.DelayJitter)))
		r.mu.Unlock()
	}
	return d
}

// escrowAddresses derives stable per-order escrow references for this resolver.
func (r *Resolver) escrowAddresses(hash string) (string, string) {
	seed := common.HexToHash(hash).Bytes()
	source := crypto.Keccak256(seed, []byte(r.address), []byte(model.SideSource))
	dest := crypto.Keccak256(seed, []byte(r.address), []byte(model.SideDestination))
	return common.BytesToAddress(source).Hex(), common.BytesToAddress(dest).Hex()
}

func parseAmount(s string) *uint256.Int {
	if s == "" {
		return nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil
	}
	return v
}
