package ledger

import (
	"crossswap/apps/crossswap/internal/model"
	"fmt"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"math/big"
	"time"
)

var orderHashArgs abi.Arguments

func init() {
	stringT, _ := abi.NewType("string", "", nil)
	uint256T, _ := abi.NewType("uint256", "", nil)
	uint64T, _ := abi.NewType("uint64", "", nil)
	bytes32T, _ := abi.NewType("bytes32", "", nil)

	orderHashArgs = abi.Arguments{
		{Name: "maker", Type: stringT},
		{Name: "receiver", Type: stringT},
		{Name: "allowedTaker", Type: stringT},
		{Name: "makerAsset", Type: stringT},
		{Name: "takerAsset", Type: stringT},
		{Name: "makingAmount", Type: uint256T},
		{Name: "takingAmount", Type: uint256T},
		{Name: "auctionStartPrice", Type: uint256T},
		{Name: "auctionEndPrice", Type: uint256T},
		{Name: "auctionStartTime", Type: uint64T},
		{Name: "auctionEndTime", Type: uint64T},
		{Name: "deadline", Type: uint64T},
		{Name: "nonce", Type: uint64T},
		{Name: "srcChainId", Type: uint64T},
		{Name: "dstChainId", Type: uint64T},
		{Name: "hashlock", Type: bytes32T},
		{Name: "timelocks", Type: uint256T},
	}
}

// OrderHash is keccak256 over the ABI encoding of the order's identity
// fields, so any chain adapter can recompute it from the same inputs.
func OrderHash(o model.Order) (common.Hash, error) {
	packed, err := orderHashArgs.Pack(
		o.Maker,
		o.Receiver,
		o.AllowedTaker,
		o.MakerAsset,
		o.TakerAsset,
		toBig(o.MakingAmount),
		toBig(o.TakingAmount),
		toBig(o.AuctionStartPrice),
		toBig(o.AuctionEndPrice),
		unixOrZero(o.AuctionStartTime),
		unixOrZero(o.AuctionEndTime),
		unixOrZero(o.Deadline),
		o.Nonce,
		o.SrcChainID,
		o.DstChainID,
		[32]byte(o.Hashlock),
		o.Timelocks.Pack().ToBig(),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode order: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func unixOrZero(t time.Time) uint64 {
	u := t.Unix()
	if u < 0 {
		return 0
	}
	return uint64(u)
}
