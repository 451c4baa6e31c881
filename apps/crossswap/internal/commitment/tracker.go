// Package commitment binds resolvers to orders. At most one commitment per
// order is active; taking over requires the caller to name the commitment
// it saw, so a second rescue against the same stale commitment loses.
package commitment

import (
	"crossswap/apps/crossswap/internal/clock"
	"crossswap/apps/crossswap/internal/model"
	"errors"
	"fmt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"sort"
	"sync"
	"time"
)

var (
	ErrAlreadyCommitted     = errors.New("order already committed")
	ErrAlreadyCompleted     = errors.New("order commitment already completed")
	ErrNoActiveCommitment   = errors.New("no active commitment")
	ErrCommitmentReplaced   = errors.New("commitment already replaced")
	ErrSameResolver         = errors.New("resolver already holds the commitment")
	ErrNotTimedOut          = errors.New("commitment has not timed out")
	ErrNotCommittedResolver = errors.New("caller does not hold the commitment")
)

type Tracker struct {
	mu      sync.Mutex
	clock   clock.Clock
	logger  *zap.Logger
	current map[common.Hash]*model.Commitment
	history map[common.Hash][]model.Commitment
}

func NewTracker(c clock.Clock, logger *zap.Logger) *Tracker {
	return &Tracker{
		clock:   c,
		logger:  logger,
		current: make(map[common.Hash]*model.Commitment),
		history: make(map[common.Hash][]model.Commitment),
	}
}

// Commit atomically checks that the order has no active or completed
// commitment and records a new one for resolver.
func (t *Tracker) Commit(orderHash common.Hash, resolver, sourceRef, destRef string, bond *uint256.Int) (model.Commitment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.current[orderHash]; ok {
		if cur.IsCompleted {
			return model.Commitment{}, ErrAlreadyCompleted
		}
		if cur.IsActive {
			return model.Commitment{}, fmt.Errorf("%w by %s", ErrAlreadyCommitted, cur.Resolver)
		}
	}

	c := t.newCommitment(orderHash, resolver, sourceRef, destRef, bond)
	t.current[orderHash] = c

	t.logger.Info("Order committed",
		zap.String("order_hash", orderHash.Hex()),
		zap.String("resolver", resolver),
		zap.String("commitment_id", c.ID))
	return c.Clone(), nil
}

// Replace hands a timed out commitment to rescuer. expectedID must be the
// ID of the commitment being replaced.
func (t *Tracker) Replace(orderHash common.Hash, expectedID, rescuer, sourceRef, destRef string, bond *uint256.Int, window time.Duration) (previous, replaced model.Commitment, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.current[orderHash]
	if !ok || !cur.IsActive {
		return model.Commitment{}, model.Commitment{}, ErrNoActiveCommitment
	}
	if cur.ID != expectedID {
		return model.Commitment{}, model.Commitment{}, ErrCommitmentReplaced
	}
	if cur.IsCompleted {
		return model.Commitment{}, model.Commitment{}, ErrAlreadyCompleted
	}
	if cur.Resolver == rescuer {
		return model.Commitment{}, model.Commitment{}, ErrSameResolver
	}
	now := t.clock.Now()
	if !now.After(cur.ExpiresAt(window)) {
		return model.Commitment{}, model.Commitment{}, ErrNotTimedOut
	}

	cur.IsActive = false
	previous = cur.Clone()
	t.history[orderHash] = append(t.history[orderHash], previous)

	next := t.newCommitment(orderHash, rescuer, sourceRef, destRef, bond)
	next.RescuedFrom = previous.Resolver
	t.current[orderHash] = next

	t.logger.Info("Commitment replaced",
		zap.String("order_hash", orderHash.Hex()),
		zap.String("previous_resolver", previous.Resolver),
		zap.String("resolver", rescuer),
		zap.Duration("stalled_for", now.Sub(previous.CommitTime)))
	return previous, next.Clone(), nil
}

func (t *Tracker) newCommitment(orderHash common.Hash, resolver, sourceRef, destRef string, bond *uint256.Int) *model.Commitment {
	if bond == nil {
		bond = new(uint256.Int)
	}
	return &model.Commitment{
		ID:              uuid.NewString(),
		OrderHash:       orderHash,
		Resolver:        resolver,
		SourceEscrowRef: sourceRef,
		DestEscrowRef:   destRef,
		CommitTime:      t.clock.Now(),
		IsActive:        true,
		Bond:            bond.Clone(),
	}
}

// UpdateRefs records the escrow addresses reported by the committed resolver.
func (t *Tracker) UpdateRefs(orderHash common.Hash, resolver, sourceRef, destRef string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.current[orderHash]
	if !ok || !cur.IsActive {
		return ErrNoActiveCommitment
	}
	if cur.Resolver != resolver {
		return ErrNotCommittedResolver
	}
	if sourceRef != "" {
		cur.SourceEscrowRef = sourceRef
	}
	if destRef != "" {
		cur.DestEscrowRef = destRef
	}
	return nil
}

// Complete marks the active commitment as executed. It stays the current
// commitment of the order but is no longer active.
func (t *Tracker) Complete(orderHash common.Hash) (model.Commitment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.current[orderHash]
	if !ok || !cur.IsActive {
		return model.Commitment{}, ErrNoActiveCommitment
	}
	cur.IsActive = false
	cur.IsCompleted = true

	t.logger.Info("Commitment completed",
		zap.String("order_hash", orderHash.Hex()),
		zap.String("resolver", cur.Resolver))
	return cur.Clone(), nil
}

// Release deactivates the commitment of an order that can no longer settle.
func (t *Tracker) Release(orderHash common.Hash) (model.Commitment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.current[orderHash]
	if !ok || !cur.IsActive {
		return model.Commitment{}, false
	}
	cur.IsActive = false
	t.logger.Info("Commitment released",
		zap.String("order_hash", orderHash.Hex()),
		zap.String("resolver", cur.Resolver))
	return cur.Clone(), true
}

func (t *Tracker) Active(orderHash common.Hash) (model.Commitment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.current[orderHash]
	if !ok || !cur.IsActive {
		return model.Commitment{}, false
	}
	return cur.Clone(), true
}

// Current returns the latest commitment whether or not it is active.
func (t *Tracker) Current(orderHash common.Hash) (model.Commitment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.current[orderHash]
	if !ok {
		return model.Commitment{}, false
	}
	return cur.Clone(), true
}

// History lists replaced commitments of an order, oldest first.
func (t *Tracker) History(orderHash common.Hash) []model.Commitment {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.Commitment, len(t.history[orderHash]))
	copy(out, t.history[orderHash])
	return out
}

// TimedOut lists active commitments older than window.
func (t *Tracker) TimedOut(window time.Duration) []model.Commitment {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var out []model.Commitment
	for _, c := range t.current {
		if c.IsActive && !c.IsCompleted && now.After(c.ExpiresAt(window)) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommitTime.Before(out[j].CommitTime) })
	return out
}
