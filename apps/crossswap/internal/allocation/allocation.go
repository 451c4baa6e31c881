// Package allocation splits an order between resolvers and derives the
// safety deposit owed for each slice.
package allocation

import (
	"crossswap/apps/crossswap/internal/model"
	"errors"
	"fmt"
	"github.com/holiman/uint256"
)

var (
	ErrAllocationMismatch = errors.New("allocation mismatch")
	ErrEmptyCommitment    = errors.New("commitment amount must be positive")
	ErrOverflow           = errors.New("arithmetic overflow")
)

// Share is one resolver's requested slice.
type Share struct {
	Resolver string
	Amount   *uint256.Int
}

type Splitter struct {
	depositPerUnit *uint256.Int
}

func NewSplitter(depositPerUnit *uint256.Int) *Splitter {
	if depositPerUnit == nil {
		depositPerUnit = new(uint256.Int)
	}
	return &Splitter{depositPerUnit: depositPerUnit.Clone()}
}

func (s *Splitter) DepositPerUnit() *uint256.Int {
	return s.depositPerUnit.Clone()
}

// SafetyDeposit is amount * depositPerUnit. It is never taken from the caller.
func (s *Splitter) SafetyDeposit(amount *uint256.Int) (*uint256.Int, error) {
	deposit, overflow := new(uint256.Int).MulOverflow(amount, s.depositPerUnit)
	if overflow {
		return nil, ErrOverflow
	}
	return deposit, nil
}

// Allocate builds a single allocation for resolver.
func (s *Splitter) Allocate(resolver string, amount *uint256.Int) (model.ResolverAllocation, error) {
	if amount == nil || amount.IsZero() {
		return model.ResolverAllocation{}, ErrEmptyCommitment
	}
	deposit, err := s.SafetyDeposit(amount)
	if err != nil {
		return model.ResolverAllocation{}, err
	}
	return model.ResolverAllocation{
		Resolver:      resolver,
		PartialAmount: amount.Clone(),
		SafetyDeposit: deposit,
	}, nil
}

// Split turns commitments into allocations, preserving their order. The
// commitments must add up to total exactly.
func (s *Splitter) Split(total *uint256.Int, shares []Share) ([]model.ResolverAllocation, error) {
	sum := new(uint256.Int)
	allocations := make([]model.ResolverAllocation, 0, len(shares))
	for _, share := range shares {
		a, err := s.Allocate(share.Resolver, share.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate %s: %w", share.Resolver, err)
		}
		if _, overflow := sum.AddOverflow(sum, share.Amount); overflow {
			return nil, ErrOverflow
		}
		allocations = append(allocations, a)
	}
	if !sum.Eq(total) {
		return nil, fmt.Errorf("%w: commitments sum to %s, order total is %s", ErrAllocationMismatch, sum.Dec(), total.Dec())
	}
	return allocations, nil
}

// SplitByWeight divides total in proportion to weights (e.g. basis points).
// Integer division leaves a residual which goes to the last allocation so
// that the slices always add up to total.
func (s *Splitter) SplitByWeight(total *uint256.Int, resolvers []string, weights []uint64) ([]model.ResolverAllocation, error) {
	if len(resolvers) == 0 || len(resolvers) != len(weights) {
		return nil, fmt.Errorf("%w: %d resolvers for %d weights", ErrAllocationMismatch, len(resolvers), len(weights))
	}
	var weightSum uint64
	for _, w := range weights {
		weightSum += w
	}
	if weightSum == 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrAllocationMismatch)
	}

	shares := make([]Share, len(resolvers))
	assigned := new(uint256.Int)
	for i, resolver := range resolvers {
		if i == len(resolvers)-1 {
			shares[i] = Share{Resolver: resolver, Amount: new(uint256.Int).Sub(total, assigned)}
			break
		}
		part, overflow := new(uint256.Int).MulOverflow(total, uint256.NewInt(weights[i]))
		if overflow {
			return nil, ErrOverflow
		}
		part.Div(part, uint256.NewInt(weightSum))
		assigned.Add(assigned, part)
		shares[i] = Share{Resolver: resolver, Amount: part}
	}
	return s.Split(total, shares)
}
