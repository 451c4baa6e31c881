package escrow

import (
	"crossswap/apps/crossswap/internal/allocation"
	"crossswap/apps/crossswap/internal/clock"
	"crossswap/apps/crossswap/internal/commitment"
	"crossswap/apps/crossswap/internal/hashlock"
	"crossswap/apps/crossswap/internal/ledger"
	"crossswap/apps/crossswap/internal/model"
	"errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"testing"
	"time"
)

var testStart = time.Unix(1_700_000_000, 0)

type fixture struct {
	clock   *clock.Manual
	ledger  *ledger.Ledger
	tracker *commitment.Tracker
	escrows *Coordinator
	order   model.Order
	secret  hashlock.Secret
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := clock.NewManual(testStart.Add(150 * time.Second))
	logger := zap.NewNop()
	l := ledger.NewLedger(c, 60, logger)
	tracker := commitment.NewTracker(c, logger)
	escrows := NewCoordinator(c, l, tracker, allocation.NewSplitter(uint256.NewInt(2)), logger)

	secret, lock, err := hashlock.New()
	if err != nil {
		t.Fatalf("hashlock.New failed: %v", err)
	}
	order, err := l.CreateOrder(ledger.OrderParams{
		Maker:             "maker",
		MakerAsset:        "XRP",
		TakerAsset:        "ETH",
		MakingAmount:      uint256.NewInt(100),
		AuctionStartPrice: uint256.MustFromDecimal("950000000000000000"),
		AuctionEndPrice:   uint256.MustFromDecimal("930000000000000000"),
		AuctionStartTime:  testStart,
		AuctionEndTime:    testStart.Add(300 * time.Second),
		Deadline:          testStart.Add(time.Hour),
		Hashlock:          lock,
		Timelocks: model.Timelocks{
			SrcWithdrawal: 0, SrcPublicWithdrawal: 600, SrcCancellation: 1200, SrcPublicCancellation: 1500,
			DstWithdrawal: 0, DstPublicWithdrawal: 500, DstCancellation: 900,
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	return &fixture{clock: c, ledger: l, tracker: tracker, escrows: escrows, order: order, secret: secret}
}

func (f *fixture) deploy(t *testing.T, side model.EscrowSide, resolver string, amount uint64) {
	t.Helper()
	_, err := f.escrows.Deploy(DeployRequest{
		OrderHash:     f.order.OrderHash,
		Side:          side,
		Resolver:      resolver,
		PartialAmount: uint256.NewInt(amount),
		EscrowAddress: resolver + "-" + string(side),
	})
	if err != nil {
		t.Fatalf("Deploy %s %s %d failed: %v", side, resolver, amount, err)
	}
}

// fund commits A and co-funds 60/40 between A and B on both sides.
func (f *fixture) fund(t *testing.T) {
	t.Helper()
	if _, err := f.tracker.Commit(f.order.OrderHash, "A", "", "", nil); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	f.deploy(t, model.SideSource, "A", 60)
	f.deploy(t, model.SideSource, "B", 40)
	f.deploy(t, model.SideDestination, "A", 56)
	f.deploy(t, model.SideDestination, "B", 38)
}

func TestDeployRequiresCommitment(t *testing.T) {
	f := newFixture(t)
	_, err := f.escrows.Deploy(DeployRequest{OrderHash: f.order.OrderHash, Side: model.SideSource, Resolver: "A", PartialAmount: uint256.NewInt(10)})
	if !errors.Is(err, ErrNotCommitted) {
		t.Fatalf("expected ErrNotCommitted, got %v", err)
	}
	if _, err := f.escrows.Deploy(DeployRequest{OrderHash: common.HexToHash("0xdead"), Side: model.SideSource, Resolver: "A"}); !errors.Is(err, ledger.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestMultiResolverCoFunding(t *testing.T) {
	f := newFixture(t)
	if _, err := f.tracker.Commit(f.order.OrderHash, "A", "", "", nil); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	f.deploy(t, model.SideSource, "A", 60)
	if _, err := f.escrows.Deploy(DeployRequest{OrderHash: f.order.OrderHash, Side: model.SideSource, Resolver: "A", PartialAmount: uint256.NewInt(10)}); !errors.Is(err, ErrDuplicateAllocation) {
		t.Errorf("expected ErrDuplicateAllocation, got %v", err)
	}
	if _, err := f.escrows.Deploy(DeployRequest{OrderHash: f.order.OrderHash, Side: model.SideSource, Resolver: "B", PartialAmount: uint256.NewInt(50)}); !errors.Is(err, ledger.ErrOverfill) {
		t.Errorf("expected ErrOverfill, got %v", err)
	}
	f.deploy(t, model.SideSource, "B", 40)

	src, err := f.escrows.Get(f.order.OrderHash, model.SideSource)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(src.Allocations) != 2 || src.TotalAmount.Uint64() != 100 || src.SafetyDeposit.Uint64() != 200 {
		t.Errorf("source record = %d allocations, total %s, deposit %s", len(src.Allocations), src.TotalAmount.Dec(), src.SafetyDeposit.Dec())
	}
	if src.Allocations[0].Resolver != "A" || src.Allocations[1].Resolver != "B" {
		t.Errorf("allocations out of funding order: %s, %s", src.Allocations[0].Resolver, src.Allocations[1].Resolver)
	}

	if err := f.escrows.Ready(f.order.OrderHash); !errors.Is(err, ErrIncompleteAllocation) {
		t.Errorf("expected ErrIncompleteAllocation before destination deposits, got %v", err)
	}
	if _, err := f.escrows.Deploy(DeployRequest{OrderHash: f.order.OrderHash, Side: model.SideDestination, Resolver: "C", PartialAmount: uint256.NewInt(10)}); !errors.Is(err, ErrNoSourceAllocation) {
		t.Errorf("expected ErrNoSourceAllocation, got %v", err)
	}
	if _, err := f.escrows.Deploy(DeployRequest{OrderHash: f.order.OrderHash, Side: model.SideDestination, Resolver: "A", PartialAmount: uint256.NewInt(55)}); !errors.Is(err, ErrUnderfunded) {
		t.Errorf("expected ErrUnderfunded, got %v", err)
	}
	f.deploy(t, model.SideDestination, "A", 56)
	f.deploy(t, model.SideDestination, "B", 38)

	if err := f.escrows.Ready(f.order.OrderHash); err != nil {
		t.Errorf("Ready failed: %v", err)
	}
	dst, _ := f.escrows.Get(f.order.OrderHash, model.SideDestination)
	if dst.Token != "ETH" || dst.Recipient != "maker" || dst.TotalAmount.Uint64() != 94 {
		t.Errorf("destination record token %s recipient %s total %s", dst.Token, dst.Recipient, dst.TotalAmount.Dec())
	}
	order, _ := f.ledger.Get(f.order.OrderHash)
	if order.Status != model.OrderStatusFullyFilled {
		t.Errorf("order status = %s, want fully_filled", order.Status)
	}
}

func TestWithdrawIsPermissionless(t *testing.T) {
	f := newFixture(t)
	f.fund(t)
	hash := f.order.OrderHash

	if _, err := f.escrows.Withdraw(hash, model.SideSource, f.secret, "anyone"); !errors.Is(err, ErrMakerNotFunded) {
		t.Fatalf("expected ErrMakerNotFunded, got %v", err)
	}
	if err := f.escrows.LockMakerFunds(hash); err != nil {
		t.Fatalf("LockMakerFunds failed: %v", err)
	}

	wrong, err := hashlock.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if _, err := f.escrows.Withdraw(hash, model.SideSource, wrong, "A"); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("expected ErrInvalidSecret, got %v", err)
	}
	src, _ := f.escrows.Get(hash, model.SideSource)
	if src.State != model.EscrowStateActive || len(f.escrows.Payouts(hash)) != 0 {
		t.Fatalf("wrong secret changed state: %s, %d payouts", src.State, len(f.escrows.Payouts(hash)))
	}

	payouts, err := f.escrows.Withdraw(hash, model.SideSource, f.secret, "a-stranger")
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	want := []struct {
		recipient string
		amount    uint64
		kind      model.PayoutKind
	}{
		{"A", 60, model.PayoutPrincipal},
		{"A", 120, model.PayoutSafetyDeposit},
		{"B", 40, model.PayoutPrincipal},
		{"B", 80, model.PayoutSafetyDeposit},
	}
	if len(payouts) != len(want) {
		t.Fatalf("got %d payouts, want %d", len(payouts), len(want))
	}
	for i, w := range want {
		p := payouts[i]
		if p.Recipient != w.recipient || p.Amount.Uint64() != w.amount || p.Kind != w.kind {
			t.Errorf("payout %d = %s %s %s, want %s %d %s", i, p.Recipient, p.Amount.Dec(), p.Kind, w.recipient, w.amount, w.kind)
		}
	}

	if _, err := f.escrows.Withdraw(hash, model.SideSource, f.secret, "A"); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive on second withdraw, got %v", err)
	}

	payouts, err = f.escrows.Withdraw(hash, model.SideDestination, f.secret, "maker")
	if err != nil {
		t.Fatalf("destination Withdraw failed: %v", err)
	}
	if payouts[0].Recipient != "maker" || payouts[0].Amount.Uint64() != 56 || payouts[0].Token != "ETH" {
		t.Errorf("destination principal payout = %+v", payouts[0])
	}
	dst, _ := f.escrows.Get(hash, model.SideDestination)
	if dst.State != model.EscrowStateWithdrawn || dst.RevealedSecret != f.secret.Hex() {
		t.Errorf("destination state %s secret %q", dst.State, dst.RevealedSecret)
	}
}

func TestCancelTimelocks(t *testing.T) {
	f := newFixture(t)
	f.fund(t)
	hash := f.order.OrderHash
	if err := f.escrows.LockMakerFunds(hash); err != nil {
		t.Fatalf("LockMakerFunds failed: %v", err)
	}

	if _, err := f.escrows.Cancel(hash, model.SideDestination, "A"); !errors.Is(err, ErrTimelockNotElapsed) {
		t.Fatalf("expected ErrTimelockNotElapsed, got %v", err)
	}

	f.clock.Advance(900 * time.Second)
	payouts, err := f.escrows.Cancel(hash, model.SideDestination, "anyone")
	if err != nil {
		t.Fatalf("destination Cancel failed: %v", err)
	}
	if payouts[0].Recipient != "A" || payouts[0].Amount.Uint64() != 56 || payouts[0].Kind != model.PayoutPrincipal {
		t.Errorf("destination refund = %+v, want principal back to A", payouts[0])
	}
	if _, err := f.escrows.Cancel(hash, model.SideSource, "A"); !errors.Is(err, ErrTimelockNotElapsed) {
		t.Fatalf("expected ErrTimelockNotElapsed for source, got %v", err)
	}

	f.clock.Advance(300 * time.Second)
	if _, err := f.escrows.Cancel(hash, model.SideSource, "stranger"); !errors.Is(err, ErrUnauthorizedCancel) {
		t.Fatalf("expected ErrUnauthorizedCancel, got %v", err)
	}
	payouts, err = f.escrows.Cancel(hash, model.SideSource, "maker")
	if err != nil {
		t.Fatalf("source Cancel failed: %v", err)
	}
	if payouts[0].Recipient != "maker" || payouts[0].Amount.Uint64() != 100 {
		t.Errorf("source refund = %+v, want 100 back to maker", payouts[0])
	}
	if len(payouts) != 3 {
		t.Errorf("got %d payouts, want principal plus two deposits", len(payouts))
	}
	if _, err := f.escrows.Withdraw(hash, model.SideSource, f.secret, "A"); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive after cancel, got %v", err)
	}
}

func TestPublicCancellation(t *testing.T) {
	f := newFixture(t)
	f.fund(t)

	f.clock.Advance(1500 * time.Second)
	if _, err := f.escrows.Cancel(f.order.OrderHash, model.SideSource, "stranger"); err != nil {
		t.Fatalf("public Cancel failed: %v", err)
	}
	payouts := f.escrows.Payouts(f.order.OrderHash)
	for _, p := range payouts {
		if p.Kind == model.PayoutPrincipal {
			t.Errorf("unfunded source escrow paid principal %+v", p)
		}
	}
}

func TestReassignedDepositsGoToRescuer(t *testing.T) {
	f := newFixture(t)
	f.fund(t)
	hash := f.order.OrderHash
	if err := f.escrows.LockMakerFunds(hash); err != nil {
		t.Fatalf("LockMakerFunds failed: %v", err)
	}

	f.escrows.TakeOver(hash, "A", "R1")
	f.escrows.TakeOver(hash, "R1", "R2")

	payouts, err := f.escrows.Withdraw(hash, model.SideSource, f.secret, "R2")
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if payouts[1].Recipient != "R2" || payouts[1].Kind != model.PayoutDepositReward || payouts[1].Amount.Uint64() != 120 {
		t.Errorf("A's deposit payout = %+v, want reward to R2", payouts[1])
	}
	if payouts[3].Recipient != "B" || payouts[3].Kind != model.PayoutSafetyDeposit {
		t.Errorf("B's deposit payout = %+v, want B's own deposit", payouts[3])
	}
}

func TestWithdrawWaitsForMakerFunds(t *testing.T) {
	f := newFixture(t)
	f.fund(t)
	hash := f.order.OrderHash

	for _, side := range []model.EscrowSide{model.SideDestination, model.SideSource} {
		if _, err := f.escrows.Withdraw(hash, side, f.secret, "maker"); !errors.Is(err, ErrMakerNotFunded) {
			t.Errorf("%s Withdraw before maker funding = %v, want ErrMakerNotFunded", side, err)
		}
	}
	if payouts := f.escrows.Payouts(hash); len(payouts) != 0 {
		t.Fatalf("payouts recorded before maker funding: %+v", payouts)
	}
	dst, _ := f.escrows.Get(hash, model.SideDestination)
	if dst.State != model.EscrowStateActive {
		t.Fatalf("destination state = %s, want active", dst.State)
	}

	if err := f.escrows.LockMakerFunds(hash); err != nil {
		t.Fatalf("LockMakerFunds failed: %v", err)
	}
	if _, err := f.escrows.Withdraw(hash, model.SideDestination, f.secret, "maker"); err != nil {
		t.Fatalf("destination Withdraw after maker funding failed: %v", err)
	}
}

func (f *fixture) owed(t *testing.T, resolver string) *uint256.Int {
	t.Helper()
	owed, ok := f.escrows.Owed(f.order.OrderHash, resolver)
	if !ok {
		t.Fatalf("no owed amount for %s", resolver)
	}
	return owed
}

func (f *fixture) deployAmount(t *testing.T, side model.EscrowSide, resolver string, amount *uint256.Int) error {
	t.Helper()
	_, err := f.escrows.Deploy(DeployRequest{
		OrderHash:     f.order.OrderHash,
		Side:          side,
		Resolver:      resolver,
		PartialAmount: amount,
	})
	return err
}

func TestTakeOverUnmatchedSlice(t *testing.T) {
	t.Run("RescuerInheritsAndCompletes", func(t *testing.T) {
		f := newFixture(t)
		hash := f.order.OrderHash
		if _, err := f.tracker.Commit(hash, "A", "", "", nil); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		f.deploy(t, model.SideSource, "A", 60)
		owedA := f.owed(t, "A")

		f.escrows.TakeOver(hash, "A", "R")

		src, _ := f.escrows.Get(hash, model.SideSource)
		if len(src.Allocations) != 1 || src.Allocations[0].Resolver != "R" || src.Allocations[0].PartialAmount.Uint64() != 60 {
			t.Fatalf("source allocations after takeover = %+v", src.Allocations)
		}
		if _, ok := f.escrows.Owed(hash, "A"); ok {
			t.Error("stalled resolver still owes a destination deposit")
		}
		if !f.owed(t, "R").Eq(owedA) {
			t.Errorf("rescuer owes %s, want %s", f.owed(t, "R").Dec(), owedA.Dec())
		}
		if err := f.deployAmount(t, model.SideDestination, "A", owedA); !errors.Is(err, ErrNoSourceAllocation) {
			t.Errorf("stalled resolver destination deploy = %v, want ErrNoSourceAllocation", err)
		}

		f.deploy(t, model.SideSource, "R", 40)
		src, _ = f.escrows.Get(hash, model.SideSource)
		if len(src.Allocations) != 1 || src.TotalAmount.Uint64() != 100 || src.Allocations[0].SafetyDeposit.Uint64() != 200 {
			t.Fatalf("source after top-up = %d allocations, total %s", len(src.Allocations), src.TotalAmount.Dec())
		}
		owed := f.owed(t, "R")
		if !owed.Gt(owedA) {
			t.Fatalf("owed after top-up = %s, want more than %s", owed.Dec(), owedA.Dec())
		}

		if err := f.escrows.Ready(hash); !errors.Is(err, ErrIncompleteAllocation) {
			t.Errorf("Ready before destination deposit = %v, want ErrIncompleteAllocation", err)
		}
		short := new(uint256.Int).Sub(owed, uint256.NewInt(1))
		if err := f.deployAmount(t, model.SideDestination, "R", short); !errors.Is(err, ErrUnderfunded) {
			t.Errorf("short destination deploy = %v, want ErrUnderfunded", err)
		}
		if err := f.deployAmount(t, model.SideDestination, "R", owed); err != nil {
			t.Fatalf("destination deploy failed: %v", err)
		}
		if err := f.deployAmount(t, model.SideSource, "R", uint256.NewInt(1)); !errors.Is(err, ErrDuplicateAllocation) {
			t.Errorf("source deploy after destination funding = %v, want ErrDuplicateAllocation", err)
		}
		if err := f.escrows.Ready(hash); err != nil {
			t.Fatalf("Ready failed: %v", err)
		}

		if err := f.escrows.LockMakerFunds(hash); err != nil {
			t.Fatalf("LockMakerFunds failed: %v", err)
		}
		payouts, err := f.escrows.Withdraw(hash, model.SideSource, f.secret, "R")
		if err != nil {
			t.Fatalf("Withdraw failed: %v", err)
		}
		if len(payouts) != 2 || payouts[0].Recipient != "R" || payouts[0].Amount.Uint64() != 100 || payouts[1].Amount.Uint64() != 200 {
			t.Errorf("source payouts = %+v", payouts)
		}
	})

	t.Run("MergesIntoRescuerSlice", func(t *testing.T) {
		f := newFixture(t)
		hash := f.order.OrderHash
		if _, err := f.tracker.Commit(hash, "A", "", "", nil); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		f.deploy(t, model.SideSource, "A", 60)
		f.deploy(t, model.SideSource, "B", 40)
		owedB := f.owed(t, "B")
		if err := f.deployAmount(t, model.SideDestination, "B", owedB); err != nil {
			t.Fatalf("destination deploy by B failed: %v", err)
		}
		if err := f.deployAmount(t, model.SideDestination, "B", uint256.NewInt(1)); !errors.Is(err, ErrDuplicateAllocation) {
			t.Errorf("second destination deploy = %v, want ErrDuplicateAllocation", err)
		}

		f.escrows.TakeOver(hash, "A", "B")

		src, _ := f.escrows.Get(hash, model.SideSource)
		if len(src.Allocations) != 1 || src.Allocations[0].Resolver != "B" || src.Allocations[0].PartialAmount.Uint64() != 100 {
			t.Fatalf("source allocations after merge = %+v", src.Allocations)
		}
		if err := f.escrows.Ready(hash); !errors.Is(err, ErrIncompleteAllocation) {
			t.Errorf("Ready with B's destination short = %v, want ErrIncompleteAllocation", err)
		}

		rest := new(uint256.Int).Sub(f.owed(t, "B"), owedB)
		if err := f.deployAmount(t, model.SideDestination, "B", rest); err != nil {
			t.Fatalf("destination top-up failed: %v", err)
		}
		if err := f.escrows.Ready(hash); err != nil {
			t.Fatalf("Ready failed: %v", err)
		}
		dst, _ := f.escrows.Get(hash, model.SideDestination)
		if len(dst.Allocations) != 1 || dst.SafetyDeposit.Uint64() != 200 || !dst.TotalAmount.Eq(f.owed(t, "B")) {
			t.Errorf("destination after top-up = %d allocations, total %s, deposit %s", len(dst.Allocations), dst.TotalAmount.Dec(), dst.SafetyDeposit.Dec())
		}
	})

	t.Run("MatchedSliceKeepsOwner", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t)
		hash := f.order.OrderHash

		f.escrows.TakeOver(hash, "A", "R")

		src, _ := f.escrows.Get(hash, model.SideSource)
		if src.Allocations[0].Resolver != "A" {
			t.Errorf("matched slice moved to %s", src.Allocations[0].Resolver)
		}
		if err := f.escrows.Ready(hash); err != nil {
			t.Errorf("Ready failed: %v", err)
		}
	})
}
