package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"time"
)

type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFullyFilled     OrderStatus = "fully_filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

// IsTerminal reports whether no further fills are accepted.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFullyFilled, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

type Order struct {
	OrderHash         common.Hash  `db:"order_hash"`
	Maker             string       `db:"maker"`
	Receiver          string       `db:"receiver"`
	AllowedTaker      string       `db:"allowed_taker"` // empty means any resolver
	MakerAsset        string       `db:"maker_asset"`
	TakerAsset        string       `db:"taker_asset"`
	MakingAmount      *uint256.Int `db:"making_amount"`
	TakingAmount      *uint256.Int `db:"taking_amount"`       // used when the order has no auction
	AuctionStartPrice *uint256.Int `db:"auction_start_price"` // nil when not auction priced
	AuctionEndPrice   *uint256.Int `db:"auction_end_price"`
	AuctionStartTime  time.Time    `db:"auction_start_time"`
	AuctionEndTime    time.Time    `db:"auction_end_time"`
	Deadline          time.Time    `db:"deadline"`
	Nonce             uint64       `db:"nonce"`
	SrcChainID        uint64       `db:"src_chain_id"`
	DstChainID        uint64       `db:"dst_chain_id"`
	Hashlock          common.Hash  `db:"hashlock"`
	Timelocks         Timelocks    `db:"timelocks"`
	FilledAmount      *uint256.Int `db:"filled_amount"`
	Status            OrderStatus  `db:"status"`
	CreatedAt         time.Time    `db:"created_at"`
}

func (o Order) HasAuction() bool {
	return o.AuctionStartPrice != nil && o.AuctionEndPrice != nil
}

// Remaining is the unfilled part of the making amount.
func (o Order) Remaining() *uint256.Int {
	if o.FilledAmount == nil {
		return o.MakingAmount.Clone()
	}
	return new(uint256.Int).Sub(o.MakingAmount, o.FilledAmount)
}

// Recipient is the destination-chain payee.
func (o Order) Recipient() string {
	if o.Receiver != "" {
		return o.Receiver
	}
	return o.Maker
}

// Clone returns a copy that shares no amount pointers with o.
func (o Order) Clone() Order {
	c := o
	c.MakingAmount = cloneInt(o.MakingAmount)
	c.TakingAmount = cloneInt(o.TakingAmount)
	c.AuctionStartPrice = cloneInt(o.AuctionStartPrice)
	c.AuctionEndPrice = cloneInt(o.AuctionEndPrice)
	c.FilledAmount = cloneInt(o.FilledAmount)
	return c
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}
