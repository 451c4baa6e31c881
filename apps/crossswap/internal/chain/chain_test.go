package chain

import (
	"context"
	"crossswap/apps/crossswap/internal/hashlock"
	"crossswap/apps/crossswap/internal/relayer"
	"errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"math/big"
	"strings"
	"testing"
)

type fakeChain struct {
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

type recordingNotifier struct {
	got []relayer.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n relayer.Notification) error {
	r.got = append(r.got, n)
	return nil
}

func withdrawalLog(block uint64, orderHash common.Hash, caller common.Address, secret hashlock.Secret) types.Log {
	return types.Log{
		BlockNumber: block,
		Topics:      []common.Hash{WithdrawalEventSig, orderHash, common.BytesToHash(caller.Bytes())},
		Data:        secret[:],
	}
}

func TestSecretWatcherForwardsWithdrawals(t *testing.T) {
	secret, lock, err := hashlock.New()
	if err != nil {
		t.Fatalf("hashlock.New failed: %v", err)
	}
	caller := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	orderHash := common.HexToHash("0x1234")

	src := &fakeChain{
		head: 120,
		logs: []types.Log{
			withdrawalLog(50, orderHash, caller, secret),
			withdrawalLog(115, common.HexToHash("0x99"), caller, secret), // not final yet
		},
	}
	notifier := &recordingNotifier{}
	w, err := NewSecretWatcher(WatcherConfig{ChunkSize: 30, FinalityOffset: 12, StartBlock: 10}, src, notifier, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSecretWatcher failed: %v", err)
	}

	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if len(notifier.got) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.got))
	}
	n := notifier.got[0]
	if n.Kind != relayer.NotifyCompletion || n.OrderHash != orderHash || n.Resolver != caller.Hex() {
		t.Errorf("unexpected notification %+v", n)
	}
	if !hashlock.Verify(n.Secret, lock) {
		t.Error("forwarded secret does not open the hashlock")
	}
	if w.lastProcessedBlock != 108 {
		t.Errorf("last processed block = %d, want 108", w.lastProcessedBlock)
	}
	// 11..108 in chunks of 30
	if len(src.queries) != 4 {
		t.Errorf("made %d queries, want 4", len(src.queries))
	}

	src.head = 130
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll failed: %v", err)
	}
	if len(notifier.got) != 2 {
		t.Errorf("got %d notifications after second poll, want 2", len(notifier.got))
	}
}

type fakeOracle struct{ err error }

func (f fakeOracle) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, f.err
}

func (f fakeOracle) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(255), f.err
}

func TestCallBuilder(t *testing.T) {
	secret, _, err := hashlock.New()
	if err != nil {
		t.Fatalf("hashlock.New failed: %v", err)
	}
	escrow := "0x00000000000000000000000000000000000000e5"
	hash := common.HexToHash("0x01")

	cb, err := NewCallBuilder(fakeOracle{})
	if err != nil {
		t.Fatalf("NewCallBuilder failed: %v", err)
	}

	call, err := cb.BuildWithdraw(context.Background(), escrow, "0x00000000000000000000000000000000000000b0", 1, hash, secret)
	if err != nil {
		t.Fatalf("BuildWithdraw failed: %v", err)
	}
	// selector + two words
	if len(call.Data) != 2+2*(4+64) {
		t.Errorf("data length = %d", len(call.Data))
	}
	if !strings.HasSuffix(call.Data, secret.Hex()[2:]) {
		t.Error("withdraw calldata does not end with the secret")
	}
	if call.Nonce != "0x7" || call.GasPrice != "0xff" || call.ChainID != "1" {
		t.Errorf("unexpected call %+v", call)
	}

	cancel, err := cb.BuildCancel(context.Background(), escrow, "", 10, hash)
	if err != nil {
		t.Fatalf("BuildCancel failed: %v", err)
	}
	if cancel.Nonce != "" || cancel.Data[:10] == call.Data[:10] {
		t.Errorf("unexpected cancel call %+v", cancel)
	}

	if _, err := cb.BuildCancel(context.Background(), "not-an-address", "", 1, hash); !errors.Is(err, ErrInvalidEscrowAddress) {
		t.Errorf("expected ErrInvalidEscrowAddress, got %v", err)
	}

	failing, _ := NewCallBuilder(fakeOracle{err: errors.New("rpc down")})
	if _, err := failing.BuildCancel(context.Background(), escrow, "0x00000000000000000000000000000000000000b0", 1, hash); err == nil {
		t.Error("expected oracle error")
	}
}
