// Package ledger is the registry of orders, their fill state and the
// per-maker nonces used for replay protection. All mutation goes through
// the Ledger methods, which serialize on one lock.
package ledger

import (
	"crossswap/apps/crossswap/internal/auction"
	"crossswap/apps/crossswap/internal/clock"
	"crossswap/apps/crossswap/internal/model"
	"errors"
	"fmt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"sort"
	"sync"
	"time"
)

var (
	ErrInvalidOrder    = errors.New("invalid order")
	ErrDeadlineInPast  = errors.New("deadline in past")
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderExists     = errors.New("order already exists")
	ErrOrderTerminal   = errors.New("order is terminal")
	ErrOrderExpired    = errors.New("order expired")
	ErrStaleNonce      = errors.New("order nonce is stale")
	ErrOverfill        = errors.New("fill exceeds remaining amount")
	ErrNotMaker        = errors.New("caller is not the maker")
	ErrInvalidFillSize = errors.New("fill amount must be positive")
)

type OrderParams struct {
	Maker             string
	Receiver          string
	AllowedTaker      string
	MakerAsset        string
	TakerAsset        string
	MakingAmount      *uint256.Int
	TakingAmount      *uint256.Int
	AuctionStartPrice *uint256.Int
	AuctionEndPrice   *uint256.Int
	AuctionStartTime  time.Time
	AuctionEndTime    time.Time
	Deadline          time.Time
	SrcChainID        uint64
	DstChainID        uint64
	Hashlock          common.Hash
	Timelocks         model.Timelocks
}

type Ledger struct {
	mu             sync.RWMutex
	clock          clock.Clock
	timelockBuffer uint32
	logger         *zap.Logger
	orders         map[common.Hash]*model.Order
	nonces         map[string]uint64
}

func NewLedger(c clock.Clock, timelockBuffer uint32, logger *zap.Logger) *Ledger {
	return &Ledger{
		clock:          c,
		timelockBuffer: timelockBuffer,
		logger:         logger,
		orders:         make(map[common.Hash]*model.Order),
		nonces:         make(map[string]uint64),
	}
}

func (l *Ledger) validate(p OrderParams, now time.Time) error {
	if p.Maker == "" || p.MakerAsset == "" || p.TakerAsset == "" {
		return fmt.Errorf("%w: maker and assets are required", ErrInvalidOrder)
	}
	if p.MakingAmount == nil || p.MakingAmount.IsZero() {
		return fmt.Errorf("%w: making amount must be positive", ErrInvalidOrder)
	}
	if p.AuctionStartPrice != nil || p.AuctionEndPrice != nil {
		params := auction.Params{
			StartPrice: p.AuctionStartPrice,
			EndPrice:   p.AuctionEndPrice,
			StartTime:  p.AuctionStartTime,
			EndTime:    p.AuctionEndTime,
		}
		if err := params.Validate(); err != nil {
			return err
		}
	} else if p.TakingAmount == nil || p.TakingAmount.IsZero() {
		return fmt.Errorf("%w: taking amount or auction curve required", ErrInvalidOrder)
	}
	if !p.Deadline.After(now) {
		return ErrDeadlineInPast
	}
	if p.Hashlock == (common.Hash{}) {
		return fmt.Errorf("%w: hashlock is required", ErrInvalidOrder)
	}
	return p.Timelocks.Validate(l.timelockBuffer)
}

// CreateOrder registers a new order under the maker's current nonce.
func (l *Ledger) CreateOrder(p OrderParams) (model.Order, error) {
	now := l.clock.Now()
	if err := l.validate(p, now); err != nil {
		return model.Order{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	order := model.Order{
		Maker:             p.Maker,
		Receiver:          p.Receiver,
		AllowedTaker:      p.AllowedTaker,
		MakerAsset:        p.MakerAsset,
		TakerAsset:        p.TakerAsset,
		MakingAmount:      p.MakingAmount.Clone(),
		TakingAmount:      cloneOrNil(p.TakingAmount),
		AuctionStartPrice: cloneOrNil(p.AuctionStartPrice),
		AuctionEndPrice:   cloneOrNil(p.AuctionEndPrice),
		AuctionStartTime:  p.AuctionStartTime,
		AuctionEndTime:    p.AuctionEndTime,
		Deadline:          p.Deadline,
		Nonce:             l.nonces[p.Maker],
		SrcChainID:        p.SrcChainID,
		DstChainID:        p.DstChainID,
		Hashlock:          p.Hashlock,
		Timelocks:         p.Timelocks,
		FilledAmount:      new(uint256.Int),
		Status:            model.OrderStatusOpen,
		CreatedAt:         now,
	}
	hash, err := OrderHash(order)
	if err != nil {
		return model.Order{}, err
	}
	if _, exists := l.orders[hash]; exists {
		return model.Order{}, ErrOrderExists
	}
	order.OrderHash = hash
	l.orders[hash] = &order

	l.logger.Info("Order created",
		zap.String("order_hash", hash.Hex()),
		zap.String("maker", order.Maker),
		zap.String("making_amount", order.MakingAmount.Dec()),
		zap.Uint64("nonce", order.Nonce))
	return order.Clone(), nil
}

// AddPartialFill records amount against the order. A fill that completes
// the order makes it FullyFilled and bumps the maker's nonce.
func (l *Ledger) AddPartialFill(hash common.Hash, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidFillSize
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[hash]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrOrderTerminal, order.Status)
	}
	if !l.clock.Now().Before(order.Deadline) {
		l.expireLocked(order)
		return ErrOrderExpired
	}
	if order.Nonce != l.nonces[order.Maker] {
		return ErrStaleNonce
	}

	filled, overflow := new(uint256.Int).AddOverflow(order.FilledAmount, amount)
	if overflow || filled.Gt(order.MakingAmount) {
		return fmt.Errorf("%w: remaining %s, requested %s", ErrOverfill, order.Remaining().Dec(), amount.Dec())
	}
	order.FilledAmount = filled

	if filled.Eq(order.MakingAmount) {
		order.Status = model.OrderStatusFullyFilled
		l.nonces[order.Maker]++
	} else {
		order.Status = model.OrderStatusPartiallyFilled
	}

	l.logger.Info("Partial fill recorded",
		zap.String("order_hash", hash.Hex()),
		zap.String("amount", amount.Dec()),
		zap.String("filled", filled.Dec()),
		zap.String("status", string(order.Status)))
	return nil
}

// CancelOrder lets the maker invalidate a non-terminal order.
func (l *Ledger) CancelOrder(hash common.Hash, caller string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[hash]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Maker != caller {
		return ErrNotMaker
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrOrderTerminal, order.Status)
	}
	order.Status = model.OrderStatusCancelled
	if order.Nonce == l.nonces[order.Maker] {
		l.nonces[order.Maker]++
	}

	l.logger.Info("Order cancelled", zap.String("order_hash", hash.Hex()), zap.String("maker", caller))
	return nil
}

// IsValid reports whether the order can still take fills.
func (l *Ledger) IsValid(hash common.Hash) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	order, ok := l.orders[hash]
	if !ok {
		return false
	}
	return l.validLocked(order, l.clock.Now())
}

func (l *Ledger) validLocked(order *model.Order, now time.Time) bool {
	return !order.Status.IsTerminal() &&
		now.Before(order.Deadline) &&
		order.Nonce == l.nonces[order.Maker]
}

func (l *Ledger) Get(hash common.Hash) (model.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	order, ok := l.orders[hash]
	if !ok {
		return model.Order{}, ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (l *Ledger) Nonce(maker string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nonces[maker]
}

// Active lists fillable orders, oldest first.
func (l *Ledger) Active() []model.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.clock.Now()
	out := make([]model.Order, 0, len(l.orders))
	for _, order := range l.orders {
		if l.validLocked(order, now) {
			out = append(out, order.Clone())
		}
	}
	sortOrders(out)
	return out
}

func (l *Ledger) All() []model.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Order, 0, len(l.orders))
	for _, order := range l.orders {
		out = append(out, order.Clone())
	}
	sortOrders(out)
	return out
}

// ExpireStale moves every non-terminal order past its deadline to Expired
// and returns them.
func (l *Ledger) ExpireStale() []model.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	var expired []model.Order
	for _, order := range l.orders {
		if !order.Status.IsTerminal() && !now.Before(order.Deadline) {
			l.expireLocked(order)
			expired = append(expired, order.Clone())
		}
	}
	sortOrders(expired)
	return expired
}

func (l *Ledger) expireLocked(order *model.Order) {
	order.Status = model.OrderStatusExpired
	l.logger.Info("Order expired",
		zap.String("order_hash", order.OrderHash.Hex()),
		zap.Time("deadline", order.Deadline))
}

// TakingAmountFor is what a resolver owes on the destination side for a
// making-side fill at now.
func TakingAmountFor(order model.Order, making *uint256.Int, now time.Time) (*uint256.Int, error) {
	if order.HasAuction() {
		price, err := auction.CurrentPrice(auction.Params{
			StartPrice: order.AuctionStartPrice,
			EndPrice:   order.AuctionEndPrice,
			StartTime:  order.AuctionStartTime,
			EndTime:    order.AuctionEndTime,
		}, now)
		if err != nil {
			return nil, err
		}
		return auction.TakingAmount(making, price)
	}
	product, overflow := new(uint256.Int).MulOverflow(making, order.TakingAmount)
	if overflow {
		return nil, auction.ErrOverflow
	}
	return product.Div(product, order.MakingAmount), nil
}

func sortOrders(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].OrderHash.Hex() < orders[j].OrderHash.Hex()
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

func cloneOrNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}
