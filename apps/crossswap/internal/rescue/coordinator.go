// Package rescue lets a different resolver take over a commitment that sat
// unexecuted past the execution window.
package rescue

import (
	"crossswap/apps/crossswap/internal/clock"
	"crossswap/apps/crossswap/internal/commitment"
	"crossswap/apps/crossswap/internal/model"
	"errors"
	"fmt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"time"
)

var (
	ErrSelfRescueForbidden = errors.New("resolver cannot rescue its own commitment")
	ErrNotRescuable        = errors.New("order not rescuable")
)

type Orders interface {
	Get(hash common.Hash) (model.Order, error)
}

type Commitments interface {
	Active(hash common.Hash) (model.Commitment, bool)
	Replace(hash common.Hash, expectedID, rescuer, sourceRef, destRef string, bond *uint256.Int, window time.Duration) (model.Commitment, model.Commitment, error)
	TimedOut(window time.Duration) []model.Commitment
}

type Deposits interface {
	TakeOver(hash common.Hash, from, to string)
}

type Request struct {
	Rescuer      string
	OrderHash    common.Hash
	SourceEscrow string
	DestEscrow   string
	Bond         *uint256.Int
}

type Result struct {
	Previous model.Commitment
	Current  model.Commitment
}

type Coordinator struct {
	clock       clock.Clock
	window      time.Duration
	logger      *zap.Logger
	orders      Orders
	commitments Commitments
	deposits    Deposits
}

func NewCoordinator(c clock.Clock, window time.Duration, orders Orders, commitments Commitments, deposits Deposits, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		clock:       c,
		window:      window,
		logger:      logger,
		orders:      orders,
		commitments: commitments,
		deposits:    deposits,
	}
}

func (c *Coordinator) Window() time.Duration {
	return c.window
}

// IsRescuable is true when the order has an active, uncompleted commitment
// older than the execution window and the order has neither expired nor
// been cancelled.
func (c *Coordinator) IsRescuable(hash common.Hash) bool {
	active, ok := c.commitments.Active(hash)
	if !ok {
		return false
	}
	return c.rescuable(active) == nil
}

func (c *Coordinator) rescuable(active model.Commitment) error {
	if active.IsCompleted {
		return fmt.Errorf("%w: commitment completed", ErrNotRescuable)
	}
	now := c.clock.Now()
	if !now.After(active.ExpiresAt(c.window)) {
		return fmt.Errorf("%w: commitment still inside execution window", ErrNotRescuable)
	}
	order, err := c.orders.Get(active.OrderHash)
	if err != nil {
		return err
	}
	switch order.Status {
	case model.OrderStatusCancelled, model.OrderStatusExpired:
		return fmt.Errorf("%w: order %s", ErrNotRescuable, order.Status)
	}
	if !now.Before(order.Deadline) {
		return fmt.Errorf("%w: order past deadline", ErrNotRescuable)
	}
	return nil
}

// Rescue replaces the stalled commitment with one held by the rescuer and
// hands the stalled resolver's escrow stake to the rescuer. Only the
// first rescue of a given stale commitment succeeds.
func (c *Coordinator) Rescue(req Request) (Result, error) {
	active, ok := c.commitments.Active(req.OrderHash)
	if !ok {
		return Result{}, fmt.Errorf("%w: no active commitment", ErrNotRescuable)
	}
	if active.Resolver == req.Rescuer {
		return Result{}, ErrSelfRescueForbidden
	}
	if err := c.rescuable(active); err != nil {
		return Result{}, err
	}

	previous, current, err := c.commitments.Replace(req.OrderHash, active.ID, req.Rescuer, req.SourceEscrow, req.DestEscrow, req.Bond, c.window)
	if err != nil {
		if errors.Is(err, commitment.ErrSameResolver) {
			return Result{}, ErrSelfRescueForbidden
		}
		return Result{}, fmt.Errorf("%w: %w", ErrNotRescuable, err)
	}
	c.deposits.TakeOver(req.OrderHash, previous.Resolver, req.Rescuer)

	c.logger.Info("Order rescued",
		zap.String("order_hash", req.OrderHash.Hex()),
		zap.String("rescuer", req.Rescuer),
		zap.String("previous_resolver", previous.Resolver))
	return Result{Previous: previous, Current: current}, nil
}

// Rescuable lists the commitments that can be taken over right now.
func (c *Coordinator) Rescuable() []model.Commitment {
	var out []model.Commitment
	for _, stale := range c.commitments.TimedOut(c.window) {
		if c.rescuable(stale) == nil {
			out = append(out, stale)
		}
	}
	return out
}
