package api

import (
	"time"

	"crossswap/apps/crossswap/internal/model"
	"crossswap/apps/crossswap/internal/treasury"
	"github.com/holiman/uint256"
)

// CreateOrderRequest is the body of POST /api/orders. Amounts and prices are
// decimal integers in base units; prices carry 18 decimals of precision.
type CreateOrderRequest struct {
	Maker             string           `json:"maker"`
	Receiver          string           `json:"receiver,omitempty"`
	AllowedTaker      string           `json:"allowed_taker,omitempty"`
	MakerAsset        string           `json:"maker_asset"`
	TakerAsset        string           `json:"taker_asset"`
	MakingAmount      string           `json:"making_amount"`
	TakingAmount      string           `json:"taking_amount,omitempty"`
	AuctionStartPrice string           `json:"auction_start_price,omitempty"`
	AuctionEndPrice   string           `json:"auction_end_price,omitempty"`
	AuctionStartTime  time.Time        `json:"auction_start_time,omitempty"`
	AuctionEndTime    time.Time        `json:"auction_end_time,omitempty"`
	Deadline          time.Time        `json:"deadline"`
	SrcChainID        uint64           `json:"src_chain_id"`
	DstChainID        uint64           `json:"dst_chain_id"`
	Hashlock          string           `json:"hashlock,omitempty"`
	Timelocks         *model.Timelocks `json:"timelocks,omitempty"`
}

// MakerRequest identifies the maker for cancellation.
type MakerRequest struct {
	Maker string `json:"maker"`
}

type SecretRequest struct {
	Secret string `json:"secret"`
}

type RegisterResolverRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Bond    string `json:"bond"`
}

// CommitRequest is used for both commit and rescue.
type CommitRequest struct {
	Resolver     string `json:"resolver"`
	SourceEscrow string `json:"source_escrow,omitempty"`
	DestEscrow   string `json:"dest_escrow,omitempty"`
}

// CommitResponse carries the boolean answer; Error holds the reason code
// when the commitment was not accepted.
type CommitResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
}

type DeployEscrowRequest struct {
	Resolver      string `json:"resolver"`
	Side          string `json:"side"`
	Amount        string `json:"amount"`
	EscrowAddress string `json:"escrow_address,omitempty"`
}

type EscrowsReadyRequest struct {
	Resolver     string `json:"resolver"`
	SourceEscrow string `json:"source_escrow"`
	DestEscrow   string `json:"dest_escrow"`
}

type CompleteRequest struct {
	Resolver string `json:"resolver"`
	Secret   string `json:"secret"`
}

type WithdrawRequest struct {
	Side   string `json:"side"`
	Secret string `json:"secret"`
	Caller string `json:"caller"`
}

type CancelEscrowRequest struct {
	Side   string `json:"side"`
	Caller string `json:"caller"`
}

type AllocationResponse struct {
	Resolver      string `json:"resolver"`
	PartialAmount string `json:"partial_amount"`
	SafetyDeposit string `json:"safety_deposit"`
	EscrowAddress string `json:"escrow_address,omitempty"`
}

type EscrowResponse struct {
	OrderHash      string               `json:"order_hash"`
	Side           string               `json:"side"`
	Hashlock       string               `json:"hashlock"`
	Condition      string               `json:"condition"`
	Maker          string               `json:"maker"`
	Recipient      string               `json:"recipient"`
	Token          string               `json:"token"`
	TotalAmount    string               `json:"total_amount"`
	DisplayAmount  string               `json:"display_amount"`
	SafetyDeposit  string               `json:"safety_deposit"`
	Timelocks      model.Timelocks      `json:"timelocks"`
	DeployedAt     time.Time            `json:"deployed_at"`
	State          string               `json:"state"`
	MakerFunded    bool                 `json:"maker_funded"`
	RevealedSecret string               `json:"revealed_secret,omitempty"`
	Allocations    []AllocationResponse `json:"allocations"`
}

type PayoutResponse struct {
	Side          string    `json:"side"`
	Recipient     string    `json:"recipient"`
	Token         string    `json:"token"`
	Amount        string    `json:"amount"`
	DisplayAmount string    `json:"display_amount"`
	Kind          string    `json:"kind"`
	CreatedAt     time.Time `json:"created_at"`
}

type OwedResponse struct {
	Resolver string `json:"resolver"`
	Amount   string `json:"amount"`
}

type ResolverResponse struct {
	Address      string    `json:"address"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
	Available    string    `json:"available"`
	Locked       string    `json:"locked"`
	Rewards      string    `json:"rewards"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func newResolverResponse(r model.Resolver, account treasury.Account) ResolverResponse {
	return ResolverResponse{
		Address:      r.Address,
		Name:         r.Name,
		RegisteredAt: r.RegisteredAt,
		Available:    decString(account.Available),
		Locked:       decString(account.Locked),
		Rewards:      decString(account.Rewards),
	}
}
