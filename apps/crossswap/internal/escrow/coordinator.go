// Package escrow keeps the off-chain mirror of each order's source and
// destination escrows: who funded what, when they may be cancelled, and the
// payouts produced when they settle.
package escrow

import (
	"crossswap/apps/crossswap/internal/allocation"
	"crossswap/apps/crossswap/internal/clock"
	"crossswap/apps/crossswap/internal/hashlock"
	"crossswap/apps/crossswap/internal/ledger"
	"crossswap/apps/crossswap/internal/model"
	"errors"
	"fmt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"sync"
	"time"
)

var (
	ErrEscrowNotFound       = errors.New("escrow not found")
	ErrInvalidSide          = errors.New("invalid escrow side")
	ErrNotCommitted         = errors.New("order has no active commitment")
	ErrTakerNotAllowed      = errors.New("resolver is not the allowed taker")
	ErrDuplicateAllocation  = errors.New("resolver already funded this escrow")
	ErrNoSourceAllocation   = errors.New("resolver has no source allocation")
	ErrUnderfunded          = errors.New("destination amount below required taking amount")
	ErrInvalidSecret        = errors.New("invalid secret")
	ErrNotActive            = errors.New("escrow not active")
	ErrMakerNotFunded       = errors.New("maker funds not locked")
	ErrAlreadyFunded        = errors.New("maker funds already locked")
	ErrTimelockNotElapsed   = errors.New("timelock not elapsed")
	ErrUnauthorizedCancel   = errors.New("caller may not cancel before public cancellation")
	ErrIncompleteAllocation = errors.New("escrow allocations incomplete")
)

// Orders is the part of the order ledger the coordinator needs.
type Orders interface {
	Get(hash common.Hash) (model.Order, error)
	AddPartialFill(hash common.Hash, amount *uint256.Int) error
}

// Commitments is the part of the commitment tracker the coordinator needs.
type Commitments interface {
	Active(hash common.Hash) (model.Commitment, bool)
}

type DeployRequest struct {
	OrderHash     common.Hash
	Side          model.EscrowSide
	Resolver      string
	PartialAmount *uint256.Int
	EscrowAddress string
}

type recordKey struct {
	hash common.Hash
	side model.EscrowSide
}

type Coordinator struct {
	mu          sync.Mutex
	clock       clock.Clock
	logger      *zap.Logger
	orders      Orders
	commitments Commitments
	splitter    *allocation.Splitter
	records     map[recordKey]*model.EscrowRecord
	owed        map[common.Hash]map[string]*uint256.Int
	redirects   map[common.Hash]map[string]string
	inherited   map[common.Hash]map[string]bool
	payouts     map[common.Hash][]model.Payout
}

func NewCoordinator(c clock.Clock, orders Orders, commitments Commitments, splitter *allocation.Splitter, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		clock:       c,
		logger:      logger,
		orders:      orders,
		commitments: commitments,
		splitter:    splitter,
		records:     make(map[recordKey]*model.EscrowRecord),
		owed:        make(map[common.Hash]map[string]*uint256.Int),
		redirects:   make(map[common.Hash]map[string]string),
		inherited:   make(map[common.Hash]map[string]bool),
		payouts:     make(map[common.Hash][]model.Payout),
	}
}

// Deploy records a resolver funding one side of an order. The first deploy
// creates the escrow record; later deploys by other resolvers co-fund it.
// A source deploy fills the order in the ledger; a destination deploy must
// cover the taking amount quoted for that resolver's source slice. Only a
// rescuer may deploy twice on a side, to grow and then cover a slice it
// inherited.
func (c *Coordinator) Deploy(req DeployRequest) (model.EscrowRecord, error) {
	if !req.Side.Valid() {
		return model.EscrowRecord{}, ErrInvalidSide
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	order, err := c.orders.Get(req.OrderHash)
	if err != nil {
		return model.EscrowRecord{}, err
	}
	if _, ok := c.commitments.Active(req.OrderHash); !ok {
		return model.EscrowRecord{}, ErrNotCommitted
	}
	if order.AllowedTaker != "" && order.AllowedTaker != req.Resolver {
		return model.EscrowRecord{}, ErrTakerNotAllowed
	}

	key := recordKey{req.OrderHash, req.Side}
	record, exists := c.records[key]
	existing := -1
	if exists {
		if record.State != model.EscrowStateActive {
			return model.EscrowRecord{}, fmt.Errorf("%w: %s", ErrNotActive, record.State)
		}
		existing = record.AllocationIndex(req.Resolver)
	}

	var alloc model.ResolverAllocation
	if req.Side == model.SideSource {
		if existing >= 0 && !c.canTopUpSource(req.OrderHash, req.Resolver) {
			return model.EscrowRecord{}, ErrDuplicateAllocation
		}
		alloc, err = c.splitter.Allocate(req.Resolver, req.PartialAmount)
		if err != nil {
			return model.EscrowRecord{}, err
		}
		owed, err := ledger.TakingAmountFor(order, req.PartialAmount, c.clock.Now())
		if err != nil {
			return model.EscrowRecord{}, fmt.Errorf("failed to quote taking amount: %w", err)
		}
		if err := c.orders.AddPartialFill(req.OrderHash, req.PartialAmount); err != nil {
			return model.EscrowRecord{}, err
		}
		if c.owed[req.OrderHash] == nil {
			c.owed[req.OrderHash] = make(map[string]*uint256.Int)
		}
		if prev, ok := c.owed[req.OrderHash][req.Resolver]; ok {
			owed = new(uint256.Int).Add(prev, owed)
		}
		c.owed[req.OrderHash][req.Resolver] = owed
	} else {
		src, ok := c.records[recordKey{req.OrderHash, model.SideSource}]
		if !ok {
			return model.EscrowRecord{}, ErrNoSourceAllocation
		}
		srcAlloc, ok := src.Allocation(req.Resolver)
		if !ok {
			return model.EscrowRecord{}, ErrNoSourceAllocation
		}
		if req.PartialAmount == nil || req.PartialAmount.IsZero() {
			return model.EscrowRecord{}, allocation.ErrEmptyCommitment
		}
		required, ok := c.owed[req.OrderHash][req.Resolver]
		if !ok {
			return model.EscrowRecord{}, ErrNoSourceAllocation
		}
		deposited := new(uint256.Int)
		deposit := srcAlloc.SafetyDeposit.Clone()
		if existing >= 0 {
			// A destination slice may only be topped up to cover a larger
			// source slice inherited through a rescue.
			prev := record.Allocations[existing]
			if !prev.PartialAmount.Lt(required) {
				return model.EscrowRecord{}, ErrDuplicateAllocation
			}
			deposited = prev.PartialAmount
			deposit = new(uint256.Int)
			if srcAlloc.SafetyDeposit.Gt(prev.SafetyDeposit) {
				deposit.Sub(srcAlloc.SafetyDeposit, prev.SafetyDeposit)
			}
		}
		if new(uint256.Int).Add(deposited, req.PartialAmount).Lt(required) {
			return model.EscrowRecord{}, fmt.Errorf("%w: required %s", ErrUnderfunded, new(uint256.Int).Sub(required, deposited).Dec())
		}
		alloc = model.ResolverAllocation{
			Resolver:      req.Resolver,
			PartialAmount: req.PartialAmount.Clone(),
			SafetyDeposit: deposit,
		}
	}
	alloc.EscrowAddress = req.EscrowAddress

	if !exists {
		record = c.newRecord(order, req.Side)
		c.records[key] = record
	}
	if existing >= 0 {
		merged := record.Allocations[existing]
		merged.PartialAmount = new(uint256.Int).Add(merged.PartialAmount, alloc.PartialAmount)
		merged.SafetyDeposit = new(uint256.Int).Add(merged.SafetyDeposit, alloc.SafetyDeposit)
		if alloc.EscrowAddress != "" {
			merged.EscrowAddress = alloc.EscrowAddress
		}
		record.Allocations[existing] = merged
	} else {
		record.Allocations = append(record.Allocations, alloc)
	}
	record.TotalAmount.Add(record.TotalAmount, alloc.PartialAmount)
	record.SafetyDeposit.Add(record.SafetyDeposit, alloc.SafetyDeposit)

	c.logger.Info("Escrow funded",
		zap.String("order_hash", req.OrderHash.Hex()),
		zap.String("side", string(req.Side)),
		zap.String("resolver", req.Resolver),
		zap.String("amount", alloc.PartialAmount.Dec()),
		zap.String("safety_deposit", alloc.SafetyDeposit.Dec()),
		zap.Int("allocations", len(record.Allocations)))
	return record.Clone(), nil
}

func (c *Coordinator) newRecord(order model.Order, side model.EscrowSide) *model.EscrowRecord {
	record := &model.EscrowRecord{
		OrderHash:     order.OrderHash,
		Side:          side,
		Hashlock:      order.Hashlock,
		Maker:         order.Maker,
		TotalAmount:   new(uint256.Int),
		SafetyDeposit: new(uint256.Int),
		Timelocks:     order.Timelocks,
		DeployedAt:    c.clock.Now(),
		State:         model.EscrowStateActive,
	}
	if side == model.SideSource {
		record.Token = order.MakerAsset
		record.Recipient = order.Maker
	} else {
		record.Token = order.TakerAsset
		record.Recipient = order.Recipient()
	}
	return record
}

// LockMakerFunds marks the maker's principal as deposited into the source escrow.
func (c *Coordinator) LockMakerFunds(hash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.records[recordKey{hash, model.SideSource}]
	if !ok {
		return ErrEscrowNotFound
	}
	if record.State != model.EscrowStateActive {
		return ErrNotActive
	}
	if record.MakerFunded {
		return ErrAlreadyFunded
	}
	record.MakerFunded = true
	c.logger.Info("Maker funds locked",
		zap.String("order_hash", hash.Hex()),
		zap.String("amount", record.TotalAmount.Dec()))
	return nil
}

// Ready reports whether the source escrow covers the whole order and every
// source slice is matched on the destination side.
func (c *Coordinator) Ready(hash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, err := c.orders.Get(hash)
	if err != nil {
		return err
	}
	src, ok := c.records[recordKey{hash, model.SideSource}]
	if !ok {
		return fmt.Errorf("%w: no source escrow", ErrIncompleteAllocation)
	}
	dst, ok := c.records[recordKey{hash, model.SideDestination}]
	if !ok {
		return fmt.Errorf("%w: no destination escrow", ErrIncompleteAllocation)
	}
	if !src.TotalAmount.Eq(order.MakingAmount) {
		return fmt.Errorf("%w: source holds %s of %s", ErrIncompleteAllocation, src.TotalAmount.Dec(), order.MakingAmount.Dec())
	}
	for _, a := range src.Allocations {
		d, ok := dst.Allocation(a.Resolver)
		if !ok {
			return fmt.Errorf("%w: %s has no destination deposit", ErrIncompleteAllocation, a.Resolver)
		}
		if owed, ok := c.owed[hash][a.Resolver]; ok && d.PartialAmount.Lt(owed) {
			return fmt.Errorf("%w: %s deposited %s of %s", ErrIncompleteAllocation, a.Resolver, d.PartialAmount.Dec(), owed.Dec())
		}
	}
	return nil
}

// Withdraw settles one side with the secret. Anyone holding the secret may
// call it once the maker's funds are locked and the side's withdrawal
// timelock has opened. A wrong secret changes nothing.
func (c *Coordinator) Withdraw(hash common.Hash, side model.EscrowSide, secret hashlock.Secret, caller string) ([]model.Payout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.records[recordKey{hash, side}]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if !hashlock.Verify(secret, record.Hashlock) {
		return nil, ErrInvalidSecret
	}
	if record.State != model.EscrowStateActive {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, record.State)
	}
	// Neither side pays out before the maker's principal is in the source escrow.
	if src, ok := c.records[recordKey{hash, model.SideSource}]; !ok || !src.MakerFunded {
		return nil, ErrMakerNotFunded
	}
	now := c.clock.Now()
	stage := model.SrcWithdrawal
	if !record.IsSource() {
		stage = model.DstWithdrawal
	}
	if now.Before(record.Timelocks.At(stage, record.DeployedAt)) {
		return nil, fmt.Errorf("%w: %s", ErrTimelockNotElapsed, stage)
	}

	var payouts []model.Payout
	for _, a := range record.Allocations {
		recipient := a.Resolver
		if !record.IsSource() {
			recipient = record.Recipient
		}
		payouts = append(payouts, c.payout(record, recipient, record.Token, a.PartialAmount, model.PayoutPrincipal, now))

		kind := model.PayoutSafetyDeposit
		depositTo := a.Resolver
		if to, ok := c.redirects[hash][a.Resolver]; ok {
			depositTo = to
			kind = model.PayoutDepositReward
		}
		payouts = append(payouts, c.payout(record, depositTo, model.DepositToken, a.SafetyDeposit, kind, now))
	}

	record.State = model.EscrowStateWithdrawn
	record.RevealedSecret = secret.Hex()
	c.payouts[hash] = append(c.payouts[hash], payouts...)

	c.logger.Info("Escrow withdrawn",
		zap.String("order_hash", hash.Hex()),
		zap.String("side", string(side)),
		zap.String("caller", caller),
		zap.Int("payouts", len(payouts)))
	return clonePayouts(payouts), nil
}

// Cancel refunds one side after its cancellation timelock. Principal goes
// back to whoever put it in; each resolver gets its own deposit back. On the
// source side only contributors or the maker may cancel until the public
// cancellation stage opens.
func (c *Coordinator) Cancel(hash common.Hash, side model.EscrowSide, caller string) ([]model.Payout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.records[recordKey{hash, side}]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	if record.State != model.EscrowStateActive {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, record.State)
	}

	now := c.clock.Now()
	opens := record.Timelocks.At(model.CancellationStage(side), record.DeployedAt)
	if now.Before(opens) {
		return nil, fmt.Errorf("%w: cancellation opens at %s", ErrTimelockNotElapsed, opens.UTC().Format(time.RFC3339))
	}
	if record.IsSource() && now.Before(record.Timelocks.At(model.SrcPublicCancellation, record.DeployedAt)) {
		_, contributor := record.Allocation(caller)
		if !contributor && caller != record.Maker {
			return nil, ErrUnauthorizedCancel
		}
	}

	var payouts []model.Payout
	if record.IsSource() {
		if record.MakerFunded {
			payouts = append(payouts, c.payout(record, record.Maker, record.Token, record.TotalAmount, model.PayoutPrincipal, now))
		}
	} else {
		for _, a := range record.Allocations {
			payouts = append(payouts, c.payout(record, a.Resolver, record.Token, a.PartialAmount, model.PayoutPrincipal, now))
		}
	}
	for _, a := range record.Allocations {
		payouts = append(payouts, c.payout(record, a.Resolver, model.DepositToken, a.SafetyDeposit, model.PayoutSafetyDeposit, now))
	}

	record.State = model.EscrowStateCancelled
	c.payouts[hash] = append(c.payouts[hash], payouts...)

	c.logger.Info("Escrow cancelled",
		zap.String("order_hash", hash.Hex()),
		zap.String("side", string(side)),
		zap.String("caller", caller),
		zap.Int("payouts", len(payouts)))
	return clonePayouts(payouts), nil
}

func (c *Coordinator) payout(record *model.EscrowRecord, recipient, token string, amount *uint256.Int, kind model.PayoutKind, now time.Time) model.Payout {
	return model.Payout{
		OrderHash: record.OrderHash,
		Side:      record.Side,
		Recipient: recipient,
		Token:     token,
		Amount:    amount.Clone(),
		Kind:      kind,
		CreatedAt: now,
	}
}

// TakeOver moves a stalled resolver's stake to a rescuer. A source slice
// from never matched on the destination side becomes to's, together with
// the destination amount it owes, and to may add to it. Deposits of from's
// matched slices are paid to to when the escrows are withdrawn.
func (c *Coordinator) TakeOver(hash common.Hash, from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.redirects[hash] == nil {
		c.redirects[hash] = make(map[string]string)
	}
	for original, current := range c.redirects[hash] {
		if current == from {
			c.redirects[hash][original] = to
		}
	}
	if _, ok := c.redirects[hash][from]; !ok {
		c.redirects[hash][from] = to
	}

	src, ok := c.records[recordKey{hash, model.SideSource}]
	if !ok || src.State != model.EscrowStateActive {
		return
	}
	idx := src.AllocationIndex(from)
	if idx < 0 {
		return
	}
	if dst, ok := c.records[recordKey{hash, model.SideDestination}]; ok && dst.AllocationIndex(from) >= 0 {
		return
	}

	slice := src.Allocations[idx]
	if j := src.AllocationIndex(to); j >= 0 {
		merged := src.Allocations[j]
		merged.PartialAmount = new(uint256.Int).Add(merged.PartialAmount, slice.PartialAmount)
		merged.SafetyDeposit = new(uint256.Int).Add(merged.SafetyDeposit, slice.SafetyDeposit)
		src.Allocations[j] = merged
		src.Allocations = append(src.Allocations[:idx], src.Allocations[idx+1:]...)
	} else {
		slice.Resolver = to
		src.Allocations[idx] = slice
	}

	if owed, ok := c.owed[hash][from]; ok {
		if prev, ok := c.owed[hash][to]; ok {
			owed = new(uint256.Int).Add(prev, owed)
		}
		c.owed[hash][to] = owed
		delete(c.owed[hash], from)
	}
	if c.inherited[hash] == nil {
		c.inherited[hash] = make(map[string]bool)
	}
	c.inherited[hash][to] = true

	c.logger.Info("Source slice taken over",
		zap.String("order_hash", hash.Hex()),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", slice.PartialAmount.Dec()))
}

// canTopUpSource allows a second source deploy only for a slice inherited
// through a rescue whose destination side is still unfunded.
func (c *Coordinator) canTopUpSource(hash common.Hash, resolver string) bool {
	if !c.inherited[hash][resolver] {
		return false
	}
	dst, ok := c.records[recordKey{hash, model.SideDestination}]
	return !ok || dst.AllocationIndex(resolver) < 0
}

func (c *Coordinator) Get(hash common.Hash, side model.EscrowSide) (model.EscrowRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.records[recordKey{hash, side}]
	if !ok {
		return model.EscrowRecord{}, ErrEscrowNotFound
	}
	return record.Clone(), nil
}

// Records returns the existing records of an order, source first.
func (c *Coordinator) Records(hash common.Hash) []model.EscrowRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []model.EscrowRecord
	for _, side := range []model.EscrowSide{model.SideSource, model.SideDestination} {
		if record, ok := c.records[recordKey{hash, side}]; ok {
			out = append(out, record.Clone())
		}
	}
	return out
}

// Contributors lists resolvers that funded the source side, in funding order.
func (c *Coordinator) Contributors(hash common.Hash) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.records[recordKey{hash, model.SideSource}]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(record.Allocations))
	for _, a := range record.Allocations {
		out = append(out, a.Resolver)
	}
	return out
}

// Owed is the destination amount a resolver must deposit for its source slice.
func (c *Coordinator) Owed(hash common.Hash, resolver string) (*uint256.Int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.owed[hash][resolver]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

func (c *Coordinator) Payouts(hash common.Hash) []model.Payout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clonePayouts(c.payouts[hash])
}

func clonePayouts(in []model.Payout) []model.Payout {
	out := make([]model.Payout, len(in))
	for i, p := range in {
		out[i] = p
		out[i].Amount = p.Amount.Clone()
	}
	return out
}
