package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"time"
)

type EscrowSide string

const (
	SideSource      EscrowSide = "source"
	SideDestination EscrowSide = "destination"
)

func (s EscrowSide) Valid() bool {
	return s == SideSource || s == SideDestination
}

type EscrowState string

const (
	EscrowStateActive    EscrowState = "active"
	EscrowStateWithdrawn EscrowState = "withdrawn"
	EscrowStateCancelled EscrowState = "cancelled"
)

// ResolverAllocation is one resolver's slice of an escrow.
type ResolverAllocation struct {
	Resolver      string       `db:"resolver" json:"resolver"`
	PartialAmount *uint256.Int `db:"partial_amount" json:"partial_amount"`
	SafetyDeposit *uint256.Int `db:"safety_deposit" json:"safety_deposit"`
	EscrowAddress string       `db:"escrow_address" json:"escrow_address,omitempty"`
}

func (a ResolverAllocation) Clone() ResolverAllocation {
	out := a
	out.PartialAmount = cloneInt(a.PartialAmount)
	out.SafetyDeposit = cloneInt(a.SafetyDeposit)
	return out
}

// EscrowRecord mirrors one side's ledger lock. Several resolvers may co-fund
// the same record; each contribution is an allocation.
type EscrowRecord struct {
	OrderHash      common.Hash          `db:"order_hash"`
	Side           EscrowSide           `db:"side"`
	Hashlock       common.Hash          `db:"hashlock"`
	Maker          string               `db:"maker"`
	Recipient      string               `db:"recipient"`
	Token          string               `db:"token"`
	TotalAmount    *uint256.Int         `db:"total_amount"`
	SafetyDeposit  *uint256.Int         `db:"safety_deposit"`
	Timelocks      Timelocks            `db:"timelocks"`
	DeployedAt     time.Time            `db:"deployed_at"`
	State          EscrowState          `db:"state"`
	MakerFunded    bool                 `db:"maker_funded"`
	RevealedSecret string               `db:"revealed_secret"`
	Allocations    []ResolverAllocation `db:"-"`
}

func (e EscrowRecord) IsSource() bool {
	return e.Side == SideSource
}

// Allocation returns the contribution of resolver, if any.
func (e EscrowRecord) Allocation(resolver string) (ResolverAllocation, bool) {
	for _, a := range e.Allocations {
		if a.Resolver == resolver {
			return a, true
		}
	}
	return ResolverAllocation{}, false
}

// AllocationIndex is the position of resolver's allocation, or -1.
func (e EscrowRecord) AllocationIndex(resolver string) int {
	for i, a := range e.Allocations {
		if a.Resolver == resolver {
			return i
		}
	}
	return -1
}

func (e EscrowRecord) Clone() EscrowRecord {
	out := e
	out.TotalAmount = cloneInt(e.TotalAmount)
	out.SafetyDeposit = cloneInt(e.SafetyDeposit)
	out.Allocations = make([]ResolverAllocation, len(e.Allocations))
	for i, a := range e.Allocations {
		out.Allocations[i] = a.Clone()
	}
	return out
}

type PayoutKind string

const (
	PayoutPrincipal     PayoutKind = "principal"
	PayoutSafetyDeposit PayoutKind = "safety_deposit"
	PayoutDepositReward PayoutKind = "deposit_reward"
)

// Payout is a settlement journal entry produced by withdraw or cancel.
type Payout struct {
	OrderHash common.Hash  `db:"order_hash"`
	Side      EscrowSide   `db:"side"`
	Recipient string       `db:"recipient"`
	Token     string       `db:"token"`
	Amount    *uint256.Int `db:"amount"`
	Kind      PayoutKind   `db:"kind"`
	CreatedAt time.Time    `db:"created_at"`
}
