package chain

import (
	"context"
	"crossswap/apps/crossswap/internal/hashlock"
	"crossswap/apps/crossswap/internal/relayer"
	"fmt"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"math/big"
	"strings"
	"time"
)

// LogSource is the slice of *ethclient.Client the watcher needs.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type Notifier interface {
	Notify(ctx context.Context, n relayer.Notification) error
}

type WatcherConfig struct {
	FactoryAddress common.Address
	ChunkSize      uint64
	FinalityOffset uint64
	PollInterval   time.Duration
	StartBlock     uint64
}

// SecretWatcher scans escrow Withdrawal logs. A withdrawal on chain makes the
// secret public, so each one is forwarded to the relayer as a completion.
type SecretWatcher struct {
	cfg       WatcherConfig
	client    LogSource
	notifier  Notifier
	escrowABI abi.ABI
	logger    *zap.Logger

	lastProcessedBlock uint64
}

func NewSecretWatcher(cfg WatcherConfig, client LogSource, notifier Notifier, logger *zap.Logger) (*SecretWatcher, error) {
	parsed, err := abi.JSON(strings.NewReader(EscrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 100
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 12 * time.Second // Ethereum block time
	}
	return &SecretWatcher{
		cfg:                cfg,
		client:             client,
		notifier:           notifier,
		escrowABI:          parsed,
		logger:             logger,
		lastProcessedBlock: cfg.StartBlock,
	}, nil
}

func (w *SecretWatcher) Start(ctx context.Context) error {
	w.logger.Info("Starting secret watcher",
		zap.String("factory", w.cfg.FactoryAddress.Hex()),
		zap.Uint64("start_block", w.lastProcessedBlock))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil {
				w.logger.Error("Error scanning for withdrawals", zap.Error(err))
			}
		}
	}
}

// Poll processes every finalized block since the last poll.
func (w *SecretWatcher) Poll(ctx context.Context) error {
	latestBlock, err := w.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest block: %w", err)
	}
	if latestBlock < w.cfg.FinalityOffset {
		return nil
	}
	safeBlock := latestBlock - w.cfg.FinalityOffset
	if safeBlock <= w.lastProcessedBlock {
		return nil
	}
	return w.processBlockRange(ctx, w.lastProcessedBlock+1, safeBlock)
}

func (w *SecretWatcher) processBlockRange(ctx context.Context, fromBlock, toBlock uint64) error {
	// Chunks keep each query under RPC log limits.
	for start := fromBlock; start <= toBlock; start += w.cfg.ChunkSize {
		end := start + w.cfg.ChunkSize - 1
		if end > toBlock {
			end = toBlock
		}

		if err := w.processWithdrawals(ctx, start, end); err != nil {
			return fmt.Errorf("failed to process chunk %d-%d: %w", start, end, err)
		}
		w.lastProcessedBlock = end
	}
	return nil
}

func (w *SecretWatcher) processWithdrawals(ctx context.Context, fromBlock, toBlock uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{w.cfg.FactoryAddress},
		Topics:    [][]common.Hash{{WithdrawalEventSig}},
	}

	logs, err := w.client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to filter logs: %w", err)
	}

	for _, eventLog := range logs {
		if eventLog.Removed {
			continue
		}
		if err := w.processWithdrawal(ctx, eventLog); err != nil {
			w.logger.Error("Error processing withdrawal", zap.String("tx_hash", eventLog.TxHash.Hex()), zap.Error(err))
		}
	}
	return nil
}

func (w *SecretWatcher) processWithdrawal(ctx context.Context, eventLog types.Log) error {
	if len(eventLog.Topics) < 3 {
		return fmt.Errorf("withdrawal log has %d topics", len(eventLog.Topics))
	}

	var eventData struct {
		Secret [32]byte
	}
	if err := w.escrowABI.UnpackIntoInterface(&eventData, "Withdrawal", eventLog.Data); err != nil {
		return fmt.Errorf("failed to unpack withdrawal: %w", err)
	}

	// Topics[1] is orderHash, Topics[2] is caller
	orderHash := eventLog.Topics[1]
	caller := common.BytesToAddress(eventLog.Topics[2].Bytes())

	w.logger.Info("Found withdrawal",
		zap.String("order_hash", orderHash.Hex()),
		zap.String("caller", caller.Hex()),
		zap.String("tx_hash", eventLog.TxHash.Hex()))

	return w.notifier.Notify(ctx, relayer.Notification{
		Kind:      relayer.NotifyCompletion,
		OrderHash: orderHash,
		Resolver:  caller.Hex(),
		Secret:    hashlock.Secret(eventData.Secret),
	})
}
