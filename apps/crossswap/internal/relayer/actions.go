package relayer

import (
	"context"
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
	"fmt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// RegisterResolver authorizes a resolver and credits its bond.
func (r *Relayer) RegisterResolver(ctx context.Context, address, name string, bond *uint256.Int) (treasury.Account, error) {
	if address == "" {
		return treasury.Account{}, fmt.Errorf("%w: empty address", ErrUnauthorizedResolver)
	}
	if bond == nil {
		bond = new(uint256.Int)
	}

	r.mu.Lock()
	resolver, exists := r.resolvers[address]
	if !exists {
		resolver = model.Resolver{Address: address, Name: name, RegisteredAt: r.clock.Now()}
		r.resolvers[address] = resolver
	}
	r.mu.Unlock()

	account, err := r.treasury.Deposit(address, bond)
	if err != nil {
		return treasury.Account{}, err
	}
	if !exists {
		r.logger.Info("Resolver registered", zap.String("resolver", address), zap.String("name", name))
		if r.store != nil {
			if err := r.store.SaveResolver(ctx, resolver); err != nil {
				r.logger.Error("Failed to persist resolver", zap.String("resolver", address), zap.Error(err))
			}
		}
	}
	return account, nil
}

func (r *Relayer) Resolver(address string) (model.Resolver, treasury.Account, error) {
	r.mu.RLock()
	resolver, ok := r.resolvers[address]
	r.mu.RUnlock()
	if !ok {
		return model.Resolver{}, treasury.Account{}, ErrUnauthorizedResolver
	}
	account, err := r.treasury.Balance(address)
	if err != nil {
		return model.Resolver{}, treasury.Account{}, err
	}
	return resolver, account, nil
}

// CreateOrder registers an order. Without a maker hashlock the relayer
// generates the secret and keeps it until the swap's funds are locked.
func (r *Relayer) CreateOrder(params ledger.OrderParams) (model.Order, error) {
	var secret *hashlock.Secret
	if params.Hashlock == (common.Hash{}) {
		s, lock, err := hashlock.New()
		if err != nil {
			return model.Order{}, err
		}
		secret = &s
		params.Hashlock = lock
	}
	if params.Timelocks == (model.Timelocks{}) {
		params.Timelocks = r.cfg.DefaultTimelocks
	}

	order, err := r.ledger.CreateOrder(params)
	if err != nil {
		return model.Order{}, err
	}

	r.mu.Lock()
	r.swaps[order.OrderHash] = &swap{state: model.SwapPending, secret: secret, ready: make(map[string]bool)}
	r.mu.Unlock()

	metrics.OrdersCreated.Inc()
	view := r.view(order)
	r.emit(events.OrderCreated, order.OrderHash, func(ev *events.SwapEvent) {
		ev.Order = &view
		ev.Amount = order.MakingAmount.Dec()
	})
	return order, nil
}

func (r *Relayer) Order(hash common.Hash) (model.Order, error) {
	return r.ledger.Get(hash)
}

// Commit binds resolver to the order if nobody holds it. The bond for the
// unfilled amount is locked for as long as the commitment is active.
func (r *Relayer) Commit(resolver string, hash common.Hash, sourceRef, destRef string) (bool, error) {
	accepted, err := r.commit(resolver, hash, sourceRef, destRef)
	if accepted {
		metrics.Commits.WithLabelValues("accepted").Inc()
	} else {
		metrics.Commits.WithLabelValues("rejected").Inc()
		r.logger.Info("Commit rejected",
			zap.String("order_hash", hash.Hex()),
			zap.String("resolver", resolver),
			zap.Error(err))
	}
	return accepted, err
}

func (r *Relayer) commit(resolver string, hash common.Hash, sourceRef, destRef string) (bool, error) {
	if !r.isRegistered(resolver) {
		return false, ErrUnauthorizedResolver
	}
	unlock := r.lockOrder(hash)
	defer unlock()

	sw, ok := r.swapFor(hash)
	if !ok {
		return false, ledger.ErrOrderNotFound
	}
	order, err := r.ledger.Get(hash)
	if err != nil {
		return false, err
	}
	if !r.ledger.IsValid(hash) {
		return false, fmt.Errorf("%w: %s", ErrOrderNotAvailable, order.Status)
	}
	if order.AllowedTaker != "" && order.AllowedTaker != resolver {
		return false, escrow.ErrTakerNotAllowed
	}

	bond, err := r.splitter.SafetyDeposit(order.Remaining())
	if err != nil {
		return false, err
	}
	if err := r.treasury.Lock(resolver, bond); err != nil {
		return false, err
	}
	c, err := r.tracker.Commit(hash, resolver, sourceRef, destRef, bond)
	if err != nil {
		r.releaseBond(resolver, bond)
		return false, err
	}

	r.setState(sw, model.SwapCommitted)
	r.emit(events.OrderCommitted, hash, func(ev *events.SwapEvent) {
		ev.Resolver = resolver
		ev.SourceEscrow = c.SourceEscrowRef
		ev.DestEscrow = c.DestEscrowRef
		ev.Amount = bond.Dec()
	})
	return true, nil
}

// Rescue hands a timed out commitment to rescuer. The stalled resolver's
// bond is paid to the rescuer once the rescuer completes the swap.
func (r *Relayer) Rescue(rescuer string, hash common.Hash, sourceRef, destRef string) (bool, error) {
	accepted, err := r.rescue(rescuer, hash, sourceRef, destRef)
	if accepted {
		metrics.Rescues.WithLabelValues("accepted").Inc()
	} else {
		metrics.Rescues.WithLabelValues("rejected").Inc()
		r.logger.Info("Rescue rejected",
			zap.String("order_hash", hash.Hex()),
			zap.String("rescuer", rescuer),
			zap.Error(err))
	}
	return accepted, err
}

func (r *Relayer) rescue(rescuer string, hash common.Hash, sourceRef, destRef string) (bool, error) {
	if !r.isRegistered(rescuer) {
		return false, ErrUnauthorizedResolver
	}
	unlock := r.lockOrder(hash)
	defer unlock()

	sw, ok := r.swapFor(hash)
	if !ok {
		return false, ledger.ErrOrderNotFound
	}
	active, ok := r.tracker.Active(hash)
	if !ok {
		return false, fmt.Errorf("%w: no active commitment", rescue.ErrNotRescuable)
	}
	if active.Resolver == rescuer {
		return false, rescue.ErrSelfRescueForbidden
	}
	if !r.rescues.IsRescuable(hash) {
		return false, rescue.ErrNotRescuable
	}

	bond := active.Bond
	if err := r.treasury.Lock(rescuer, bond); err != nil {
		return false, err
	}
	res, err := r.rescues.Rescue(rescue.Request{
		Rescuer:      rescuer,
		OrderHash:    hash,
		SourceEscrow: sourceRef,
		DestEscrow:   destRef,
		Bond:         bond,
	})
	if err != nil {
		r.releaseBond(rescuer, bond)
		return false, err
	}

	r.mu.Lock()
	sw.forfeits = append(sw.forfeits, forfeit{resolver: res.Previous.Resolver, amount: res.Previous.Bond})
	sw.rescues++
	sw.state = model.SwapRescued
	sw.ready = make(map[string]bool)
	r.mu.Unlock()

	r.emit(events.OrderRescued, hash, func(ev *events.SwapEvent) {
		ev.Resolver = rescuer
		ev.PreviousResolver = res.Previous.Resolver
		ev.SourceEscrow = sourceRef
		ev.DestEscrow = destRef
		ev.Amount = res.Previous.Bond.Dec()
	})
	return true, nil
}

// DeployEscrow records a resolver funding one side of an order.
func (r *Relayer) DeployEscrow(req escrow.DeployRequest) (model.EscrowRecord, error) {
	if !r.isRegistered(req.Resolver) {
		return model.EscrowRecord{}, ErrUnauthorizedResolver
	}
	unlock := r.lockOrder(req.OrderHash)
	defer unlock()

	record, err := r.escrows.Deploy(req)
	if err != nil {
		return model.EscrowRecord{}, err
	}
	srcRef, dstRef := req.EscrowAddress, ""
	if req.Side == model.SideDestination {
		srcRef, dstRef = "", req.EscrowAddress
	}
	// Co-fillers hold no commitment of their own.
	if err := r.tracker.UpdateRefs(req.OrderHash, req.Resolver, srcRef, dstRef); err != nil && !errors.Is(err, commitment.ErrNotCommittedResolver) {
		r.logger.Warn("Failed to update commitment escrow refs",
			zap.String("order_hash", req.OrderHash.Hex()),
			zap.String("resolver", req.Resolver),
			zap.Error(err))
	}

	metrics.EscrowDeploys.WithLabelValues(string(req.Side)).Inc()
	r.emit(events.EscrowDeployed, req.OrderHash, func(ev *events.SwapEvent) {
		ev.Resolver = req.Resolver
		ev.Side = req.Side
		ev.Amount = req.PartialAmount.Dec()
		if req.Side == model.SideSource {
			ev.SourceEscrow = req.EscrowAddress
		} else {
			ev.DestEscrow = req.EscrowAddress
		}
	})
	return record, nil
}

// Owed is the destination deposit a resolver must make for its source slice.
func (r *Relayer) Owed(hash common.Hash, resolver string) (*uint256.Int, bool) {
	return r.escrows.Owed(hash, resolver)
}

// EscrowsReady records a participant's escrow-ready notification and locks
// the maker's funds once the order is fully covered on both sides.
func (r *Relayer) EscrowsReady(hash common.Hash, resolver, sourceEscrow, destEscrow string) error {
	unlock := r.lockOrder(hash)
	defer unlock()

	sw, ok := r.swapFor(hash)
	if !ok {
		return ledger.ErrOrderNotFound
	}
	if state, _ := r.State(hash); state.IsFinal() {
		return ErrSwapFinal
	}
	if !r.participates(hash, resolver) {
		return ErrNotParticipant
	}

	r.mu.Lock()
	sw.ready[resolver] = true
	if sw.state == model.SwapCommitted || sw.state == model.SwapRescued {
		sw.state = model.SwapEscrowsDeployed
	}
	r.mu.Unlock()

	r.emit(events.EscrowsReady, hash, func(ev *events.SwapEvent) {
		ev.Resolver = resolver
		ev.SourceEscrow = sourceEscrow
		ev.DestEscrow = destEscrow
	})
	r.tryLock(hash, sw)
	return nil
}

func (r *Relayer) participates(hash common.Hash, resolver string) bool {
	if active, ok := r.tracker.Active(hash); ok && active.Resolver == resolver {
		return true
	}
	for _, contributor := range r.escrows.Contributors(hash) {
		if contributor == resolver {
			return true
		}
	}
	return false
}

// tryLock moves a fully covered swap to FundsLocked. Caller holds the order lock.
func (r *Relayer) tryLock(hash common.Hash, sw *swap) {
	if state, _ := r.State(hash); state != model.SwapEscrowsDeployed {
		return
	}
	if err := r.escrows.Ready(hash); err != nil {
		r.logger.Debug("Escrows not ready", zap.String("order_hash", hash.Hex()), zap.Error(err))
		return
	}
	if err := r.escrows.LockMakerFunds(hash); err != nil && !errors.Is(err, escrow.ErrAlreadyFunded) {
		r.logger.Error("Failed to lock maker funds", zap.String("order_hash", hash.Hex()), zap.Error(err))
		return
	}

	r.setState(sw, model.SwapFundsLocked)
	r.emit(events.FundsLocked, hash, nil)
	r.logger.Info("Maker funds locked", zap.String("order_hash", hash.Hex()))
	r.tryReveal(hash, sw)
}

// tryReveal publishes the secret once funds are locked. Caller holds the order lock.
func (r *Relayer) tryReveal(hash common.Hash, sw *swap) {
	r.mu.Lock()
	if sw.state != model.SwapFundsLocked || sw.secret == nil || sw.revealed {
		r.mu.Unlock()
		return
	}
	sw.revealed = true
	secret := *sw.secret
	r.mu.Unlock()

	r.emit(events.SecretRevealed, hash, func(ev *events.SwapEvent) {
		ev.Secret = secret.Hex()
	})
	r.logger.Info("Secret revealed", zap.String("order_hash", hash.Hex()))
}

// RevealSecret accepts the maker's secret for an order created with a maker
// hashlock. It is published as soon as funds are locked.
func (r *Relayer) RevealSecret(hash common.Hash, secret hashlock.Secret) error {
	unlock := r.lockOrder(hash)
	defer unlock()

	sw, ok := r.swapFor(hash)
	if !ok {
		return ledger.ErrOrderNotFound
	}
	order, err := r.ledger.Get(hash)
	if err != nil {
		return err
	}
	if !hashlock.Verify(secret, order.Hashlock) {
		return escrow.ErrInvalidSecret
	}

	r.mu.Lock()
	if sw.secret == nil {
		sw.secret = &secret
	}
	r.mu.Unlock()

	r.tryReveal(hash, sw)
	return nil
}

// Complete handles a completion notification: it withdraws whatever side is
// still active with the secret and settles the commitment and bonds.
func (r *Relayer) Complete(hash common.Hash, resolver string, secret hashlock.Secret) error {
	unlock := r.lockOrder(hash)
	defer unlock()

	sw, ok := r.swapFor(hash)
	if !ok {
		return ledger.ErrOrderNotFound
	}
	order, err := r.ledger.Get(hash)
	if err != nil {
		return err
	}
	if !hashlock.Verify(secret, order.Hashlock) {
		return escrow.ErrInvalidSecret
	}
	state, _ := r.State(hash)
	if state.IsFinal() {
		return ErrSwapFinal
	}
	if state != model.SwapFundsLocked {
		return fmt.Errorf("%w: %s", ErrNotReady, state)
	}

	for _, side := range []model.EscrowSide{model.SideDestination, model.SideSource} {
		if _, err := r.withdraw(hash, side, secret, resolver); err != nil && !errors.Is(err, escrow.ErrNotActive) {
			return err
		}
	}
	return r.settle(hash, sw)
}

// Withdraw is the permissionless escrow withdrawal.
func (r *Relayer) Withdraw(hash common.Hash, side model.EscrowSide, secret hashlock.Secret, caller string) ([]model.Payout, error) {
	unlock := r.lockOrder(hash)
	defer unlock()

	payouts, err := r.withdraw(hash, side, secret, caller)
	if err != nil {
		return nil, err
	}
	if sw, ok := r.swapFor(hash); ok {
		if err := r.settle(hash, sw); err != nil && !errors.Is(err, ErrNotReady) {
			r.logger.Error("Failed to settle order", zap.String("order_hash", hash.Hex()), zap.Error(err))
		}
	}
	return payouts, nil
}

func (r *Relayer) withdraw(hash common.Hash, side model.EscrowSide, secret hashlock.Secret, caller string) ([]model.Payout, error) {
	payouts, err := r.escrows.Withdraw(hash, side, secret, caller)
	if err != nil {
		return nil, err
	}
	if sw, ok := r.swapFor(hash); ok {
		r.mu.Lock()
		if sw.secret == nil {
			sw.secret = &secret
		}
		sw.revealed = true
		r.mu.Unlock()
	}

	metrics.EscrowSettlements.WithLabelValues(string(side), "withdraw").Inc()
	r.emit(events.EscrowWithdrawn, hash, func(ev *events.SwapEvent) {
		ev.Resolver = caller
		ev.Side = side
		ev.Secret = secret.Hex()
	})
	return payouts, nil
}

// settle completes the swap once both escrows are withdrawn. Caller holds
// the order lock.
func (r *Relayer) settle(hash common.Hash, sw *swap) error {
	records := r.escrows.Records(hash)
	if len(records) != 2 {
		return ErrNotReady
	}
	for _, rec := range records {
		if rec.State != model.EscrowStateWithdrawn {
			return ErrNotReady
		}
	}

	c, err := r.tracker.Complete(hash)
	if err != nil {
		return err
	}
	r.releaseBond(c.Resolver, c.Bond)

	r.mu.Lock()
	forfeits := sw.forfeits
	sw.forfeits = nil
	sw.state = model.SwapCompleted
	r.mu.Unlock()

	for _, f := range forfeits {
		if err := r.treasury.Forfeit(f.resolver, c.Resolver, f.amount); err != nil {
			r.logger.Error("Failed to transfer forfeited bond",
				zap.String("order_hash", hash.Hex()),
				zap.String("from", f.resolver),
				zap.String("to", c.Resolver),
				zap.Error(err))
		}
	}

	metrics.OrdersFinished.WithLabelValues(string(model.SwapCompleted)).Inc()
	r.emit(events.OrderCompleted, hash, func(ev *events.SwapEvent) {
		ev.Resolver = c.Resolver
		ev.PreviousResolver = c.RescuedFrom
	})
	r.logger.Info("Order completed",
		zap.String("order_hash", hash.Hex()),
		zap.String("resolver", c.Resolver),
		zap.Int("forfeits", len(forfeits)))
	return nil
}

// CancelEscrow refunds one side after its cancellation timelock. When every
// deployed escrow is cancelled the swap is over and bonds are released.
func (r *Relayer) CancelEscrow(hash common.Hash, side model.EscrowSide, caller string) ([]model.Payout, error) {
	unlock := r.lockOrder(hash)
	defer unlock()

	payouts, err := r.escrows.Cancel(hash, side, caller)
	if err != nil {
		return nil, err
	}
	metrics.EscrowSettlements.WithLabelValues(string(side), "cancel").Inc()
	r.emit(events.EscrowCancelled, hash, func(ev *events.SwapEvent) {
		ev.Resolver = caller
		ev.Side = side
	})

	for _, rec := range r.escrows.Records(hash) {
		if rec.State == model.EscrowStateActive {
			return payouts, nil
		}
	}
	if sw, ok := r.swapFor(hash); ok {
		r.finish(hash, sw, model.SwapCancelled)
	}
	return payouts, nil
}

// CancelOrder lets the maker withdraw an order that is not fully filled.
func (r *Relayer) CancelOrder(hash common.Hash, caller string) error {
	unlock := r.lockOrder(hash)
	defer unlock()

	if err := r.ledger.CancelOrder(hash, caller); err != nil {
		return err
	}
	if sw, ok := r.swapFor(hash); ok {
		r.finish(hash, sw, model.SwapCancelled)
	}
	r.emit(events.OrderCancelled, hash, func(ev *events.SwapEvent) {
		ev.Resolver = caller
	})
	return nil
}

// finish ends a swap that will not settle, releasing the active commitment
// and every bond it holds. Caller holds the order lock.
func (r *Relayer) finish(hash common.Hash, sw *swap, state model.SwapState) {
	r.mu.Lock()
	if sw.state.IsFinal() {
		r.mu.Unlock()
		return
	}
	sw.state = state
	forfeits := sw.forfeits
	sw.forfeits = nil
	r.mu.Unlock()

	if c, ok := r.tracker.Release(hash); ok {
		r.releaseBond(c.Resolver, c.Bond)
	}
	for _, f := range forfeits {
		r.releaseBond(f.resolver, f.amount)
	}
	metrics.OrdersFinished.WithLabelValues(string(state)).Inc()
}

func (r *Relayer) releaseBond(resolver string, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	if err := r.treasury.Unlock(resolver, amount); err != nil {
		r.logger.Error("Failed to release bond",
			zap.String("resolver", resolver),
			zap.String("amount", amount.Dec()),
			zap.Error(err))
	}
}

func (r *Relayer) Escrows(hash common.Hash) []model.EscrowRecord {
	return r.escrows.Records(hash)
}

func (r *Relayer) Payouts(hash common.Hash) []model.Payout {
	return r.escrows.Payouts(hash)
}
