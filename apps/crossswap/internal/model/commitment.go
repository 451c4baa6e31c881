package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"time"
)

type Commitment struct {
	ID              string       `db:"id"`
	OrderHash       common.Hash  `db:"order_hash"`
	Resolver        string       `db:"resolver"`
	SourceEscrowRef string       `db:"source_escrow_ref"`
	DestEscrowRef   string       `db:"dest_escrow_ref"`
	CommitTime      time.Time    `db:"commit_time"`
	IsActive        bool         `db:"is_active"`
	IsCompleted     bool         `db:"is_completed"`
	Bond            *uint256.Int `db:"bond"`
	RescuedFrom     string       `db:"rescued_from"` // previous resolver when taken over
}

// ExpiresAt is when the commitment becomes eligible for rescue.
func (c Commitment) ExpiresAt(window time.Duration) time.Time {
	return c.CommitTime.Add(window)
}

func (c Commitment) Clone() Commitment {
	out := c
	out.Bond = cloneInt(c.Bond)
	return out
}
