package chain

import (
	"context"
	"crossswap/apps/crossswap/internal/hashlock"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"math/big"
	"strconv"
	"strings"
)

const DefaultGasLimit = "150000"

var ErrInvalidEscrowAddress = errors.New("invalid escrow address")

// UnsignedCall is an escrow transaction for the caller to sign and send.
type UnsignedCall struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasLimit string `json:"gas_limit"`
	GasPrice string `json:"gas_price,omitempty"`
	ChainID  string `json:"chain_id"`
	Nonce    string `json:"nonce,omitempty"`
}

// GasOracle fills nonce and gas price. *ethclient.Client satisfies it.
type GasOracle interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

type CallBuilder struct {
	escrowABI abi.ABI
	oracle    GasOracle
}

// NewCallBuilder parses the escrow ABI. oracle may be nil, in which case
// nonce and gas price are left for the wallet.
func NewCallBuilder(oracle GasOracle) (*CallBuilder, error) {
	parsed, err := abi.JSON(strings.NewReader(EscrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}
	return &CallBuilder{escrowABI: parsed, oracle: oracle}, nil
}

func (cb *CallBuilder) BuildWithdraw(ctx context.Context, escrowAddress, from string, chainID uint64, orderHash common.Hash, secret hashlock.Secret) (*UnsignedCall, error) {
	data, err := cb.escrowABI.Pack("withdraw", [32]byte(orderHash), [32]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to pack withdraw method: %w", err)
	}
	return cb.build(ctx, escrowAddress, from, chainID, data)
}

func (cb *CallBuilder) BuildCancel(ctx context.Context, escrowAddress, from string, chainID uint64, orderHash common.Hash) (*UnsignedCall, error) {
	data, err := cb.escrowABI.Pack("cancel", [32]byte(orderHash))
	if err != nil {
		return nil, fmt.Errorf("failed to pack cancel method: %w", err)
	}
	return cb.build(ctx, escrowAddress, from, chainID, data)
}

func (cb *CallBuilder) build(ctx context.Context, escrowAddress, from string, chainID uint64, data []byte) (*UnsignedCall, error) {
	if !common.IsHexAddress(escrowAddress) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEscrowAddress, escrowAddress)
	}

	call := &UnsignedCall{
		To:       common.HexToAddress(escrowAddress).Hex(),
		Data:     "0x" + hex.EncodeToString(data),
		Value:    "0x0",
		GasLimit: DefaultGasLimit,
		ChainID:  strconv.FormatUint(chainID, 10),
	}
	if cb.oracle == nil || !common.IsHexAddress(from) {
		return call, nil
	}

	nonce, err := cb.oracle.PendingNonceAt(ctx, common.HexToAddress(from))
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce from blockchain: %w", err)
	}
	gasPrice, err := cb.oracle.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price from blockchain: %w", err)
	}
	call.Nonce = "0x" + strconv.FormatUint(nonce, 16)
	call.GasPrice = "0x" + gasPrice.Text(16)
	return call, nil
}
