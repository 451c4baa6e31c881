package events

import (
	"crossswap/apps/crossswap/internal/model"
	"fmt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"time"
)

// OrderView is the wire form of an order. Amounts are decimal strings.
type OrderView struct {
	OrderHash         string          `json:"order_hash"`
	Maker             string          `json:"maker"`
	Receiver          string          `json:"receiver,omitempty"`
	AllowedTaker      string          `json:"allowed_taker,omitempty"`
	MakerAsset        string          `json:"maker_asset"`
	TakerAsset        string          `json:"taker_asset"`
	MakingAmount      string          `json:"making_amount"`
	TakingAmount      string          `json:"taking_amount,omitempty"`
	AuctionStartPrice string          `json:"auction_start_price,omitempty"`
	AuctionEndPrice   string          `json:"auction_end_price,omitempty"`
	AuctionStartTime  time.Time       `json:"auction_start_time,omitempty"`
	AuctionEndTime    time.Time       `json:"auction_end_time,omitempty"`
	Deadline          time.Time       `json:"deadline"`
	Nonce             uint64          `json:"nonce"`
	SrcChainID        uint64          `json:"src_chain_id"`
	DstChainID        uint64          `json:"dst_chain_id"`
	Hashlock          string          `json:"hashlock"`
	Timelocks         model.Timelocks `json:"timelocks"`
	FilledAmount      string          `json:"filled_amount"`
	RemainingAmount   string          `json:"remaining_amount"`
	Status            string          `json:"status"`
	SwapState         string          `json:"swap_state,omitempty"`
	Resolver          string          `json:"resolver,omitempty"`
	CommitTime        *time.Time      `json:"commit_time,omitempty"`
	CurrentPrice      string          `json:"current_price,omitempty"`
}

func NewOrderView(o model.Order) OrderView {
	return OrderView{
		OrderHash:         o.OrderHash.Hex(),
		Maker:             o.Maker,
		Receiver:          o.Receiver,
		AllowedTaker:      o.AllowedTaker,
		MakerAsset:        o.MakerAsset,
		TakerAsset:        o.TakerAsset,
		MakingAmount:      dec(o.MakingAmount),
		TakingAmount:      dec(o.TakingAmount),
		AuctionStartPrice: dec(o.AuctionStartPrice),
		AuctionEndPrice:   dec(o.AuctionEndPrice),
		AuctionStartTime:  o.AuctionStartTime,
		AuctionEndTime:    o.AuctionEndTime,
		Deadline:          o.Deadline,
		Nonce:             o.Nonce,
		SrcChainID:        o.SrcChainID,
		DstChainID:        o.DstChainID,
		Hashlock:          o.Hashlock.Hex(),
		Timelocks:         o.Timelocks,
		FilledAmount:      dec(o.FilledAmount),
		RemainingAmount:   dec(o.Remaining()),
		Status:            string(o.Status),
	}
}

// ToOrder parses the view back into an order.
func (v OrderView) ToOrder() (model.Order, error) {
	o := model.Order{
		OrderHash:        common.HexToHash(v.OrderHash),
		Maker:            v.Maker,
		Receiver:         v.Receiver,
		AllowedTaker:     v.AllowedTaker,
		MakerAsset:       v.MakerAsset,
		TakerAsset:       v.TakerAsset,
		AuctionStartTime: v.AuctionStartTime,
		AuctionEndTime:   v.AuctionEndTime,
		Deadline:         v.Deadline,
		Nonce:            v.Nonce,
		SrcChainID:       v.SrcChainID,
		DstChainID:       v.DstChainID,
		Hashlock:         common.HexToHash(v.Hashlock),
		Timelocks:        v.Timelocks,
		Status:           model.OrderStatus(v.Status),
	}
	var err error
	fields := []struct {
		name   string
		value  string
		target **uint256.Int
	}{
		{"making_amount", v.MakingAmount, &o.MakingAmount},
		{"taking_amount", v.TakingAmount, &o.TakingAmount},
		{"auction_start_price", v.AuctionStartPrice, &o.AuctionStartPrice},
		{"auction_end_price", v.AuctionEndPrice, &o.AuctionEndPrice},
		{"filled_amount", v.FilledAmount, &o.FilledAmount},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if *f.target, err = uint256.FromDecimal(f.value); err != nil {
			return model.Order{}, fmt.Errorf("failed to parse %s: %w", f.name, err)
		}
	}
	if o.MakingAmount == nil {
		return model.Order{}, fmt.Errorf("failed to parse order %s: missing making_amount", v.OrderHash)
	}
	if o.FilledAmount == nil {
		o.FilledAmount = new(uint256.Int)
	}
	return o, nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}
