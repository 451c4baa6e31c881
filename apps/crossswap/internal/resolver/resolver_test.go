package resolver

import (
	"context"
	"crossswap/apps/crossswap/internal/api"
	"crossswap/apps/crossswap/internal/clock"
	"crossswap/apps/crossswap/internal/escrow"
	"crossswap/apps/crossswap/internal/events"
	"crossswap/apps/crossswap/internal/hashlock"
	"crossswap/apps/crossswap/internal/ledger"
	"crossswap/apps/crossswap/internal/model"
	"crossswap/apps/crossswap/internal/relayer"
	"crossswap/apps/crossswap/internal/relayerclient"
	"errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"net/http/httptest"
	"testing"
	"time"
)

var testStart = time.Unix(1_700_000_000, 0)

type harness struct {
	t       *testing.T
	clock   *clock.Manual
	relayer *relayer.Relayer
	client  *relayerclient.Client
	quoter  StaticQuoter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c := clock.NewManual(testStart)
	r := relayer.NewRelayer(relayer.Config{
		ExecutionWindow:      5 * time.Minute,
		BroadcastInterval:    5 * time.Second,
		TimeoutCheckInterval: 10 * time.Second,
		TimelockBuffer:       60,
		SafetyDepositPerUnit: uint256.NewInt(1),
	}, c, nil, nil, zap.NewNop())

	server, err := api.NewServer(0, api.Dependencies{Relayer: r}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	client := relayerclient.NewClient(srv.URL)
	for _, name := range []string{"A", "B"} {
		if err := client.RegisterResolver(context.Background(), name, "resolver-"+name, uint256.NewInt(1000)); err != nil {
			t.Fatalf("RegisterResolver failed: %v", err)
		}
	}

	quoter, err := ParseMarketPrices("XRP/ETH=1.0")
	if err != nil {
		t.Fatalf("ParseMarketPrices failed: %v", err)
	}
	return &harness{t: t, clock: c, relayer: r, client: client, quoter: quoter}
}

func (h *harness) resolver(address string, policy Policy) *Resolver {
	h.t.Helper()
	res, err := NewResolver(address, policy, h.quoter, h.client, zap.NewNop())
	if err != nil {
		h.t.Fatalf("NewResolver failed: %v", err)
	}
	res.now = h.clock.Now
	return res
}

// createOrder places a 100 unit order whose secret the test holds.
func (h *harness) createOrder() (common.Hash, hashlock.Secret) {
	h.t.Helper()
	secret, lock, err := hashlock.New()
	if err != nil {
		h.t.Fatalf("hashlock.New failed: %v", err)
	}
	order, err := h.relayer.CreateOrder(ledger.OrderParams{
		Maker:             "maker",
		MakerAsset:        "XRP",
		TakerAsset:        "ETH",
		MakingAmount:      uint256.NewInt(100),
		AuctionStartPrice: uint256.MustFromDecimal("950000000000000000"),
		AuctionEndPrice:   uint256.MustFromDecimal("930000000000000000"),
		AuctionStartTime:  testStart,
		AuctionEndTime:    testStart.Add(300 * time.Second),
		Deadline:          testStart.Add(time.Hour),
		SrcChainID:        1440002,
		DstChainID:        11155111,
		Hashlock:          lock,
		Timelocks: model.Timelocks{
			SrcPublicWithdrawal: 600, SrcCancellation: 1200, SrcPublicCancellation: 1500,
			DstPublicWithdrawal: 500, DstCancellation: 900,
		},
	})
	if err != nil {
		h.t.Fatalf("CreateOrder failed: %v", err)
	}
	return order.OrderHash, secret
}

func (h *harness) created(hash common.Hash) events.SwapEvent {
	h.t.Helper()
	view, err := h.relayer.OrderView(hash)
	if err != nil {
		h.t.Fatalf("OrderView failed: %v", err)
	}
	return events.SwapEvent{EventType: events.OrderCreated, OrderHash: hash.Hex(), Order: &view}
}

func (h *harness) state(hash common.Hash) model.SwapState {
	state, _ := h.relayer.State(hash)
	return state
}

func deliver(t *testing.T, ev events.SwapEvent, resolvers ...*Resolver) {
	t.Helper()
	for _, r := range resolvers {
		if err := r.HandleEvent(context.Background(), ev); err != nil {
			t.Fatalf("HandleEvent failed: %v", err)
		}
		r.Wait()
	}
}

func revealed(hash common.Hash, secret hashlock.Secret) events.SwapEvent {
	return events.SwapEvent{EventType: events.SecretRevealed, OrderHash: hash.Hex(), Secret: secret.Hex()}
}

var fast = Policy{Name: "fast", ProfitMarginBps: 10, Rescue: true}

func TestResolverTakesWholeOrder(t *testing.T) {
	h := newHarness(t)
	hash, secret := h.createOrder()
	a := h.resolver("A", fast)

	deliver(t, h.created(hash), a)
	if got := h.state(hash); got != model.SwapFundsLocked {
		t.Fatalf("state = %s, want funds_locked", got)
	}

	deliver(t, revealed(hash, secret), a)
	if got := h.state(hash); got != model.SwapCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
}

func TestResolverCoFillsCappedOrder(t *testing.T) {
	h := newHarness(t)
	hash, secret := h.createOrder()

	capped := fast
	capped.MaxOrderSize = "60"
	a := h.resolver("A", capped)
	b := h.resolver("B", fast)

	deliver(t, h.created(hash), a)
	if got := h.state(hash); got != model.SwapEscrowsDeployed {
		t.Fatalf("state after capped fill = %s, want escrows_deployed", got)
	}

	deliver(t, events.SwapEvent{
		EventType: events.EscrowDeployed,
		OrderHash: hash.Hex(),
		Resolver:  "A",
		Side:      model.SideSource,
	}, b)
	if got := h.state(hash); got != model.SwapFundsLocked {
		t.Fatalf("state after co-fill = %s, want funds_locked", got)
	}

	filled := map[string]uint64{}
	for _, rec := range h.relayer.Escrows(hash) {
		if rec.Side != model.SideSource {
			continue
		}
		for _, alloc := range rec.Allocations {
			filled[alloc.Resolver] = alloc.PartialAmount.Uint64()
		}
	}
	if filled["A"] != 60 || filled["B"] != 40 {
		t.Errorf("source allocations = %v, want A:60 B:40", filled)
	}

	deliver(t, revealed(hash, secret), b, a)
	if got := h.state(hash); got != model.SwapCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
}

func TestResolverSkipsUnprofitableOrder(t *testing.T) {
	h := newHarness(t)
	hash, _ := h.createOrder()

	h.quoter["XRP/ETH"] = uint256.MustFromDecimal("900000000000000000")
	a := h.resolver("A", fast)

	deliver(t, h.created(hash), a)
	if got := h.state(hash); got != model.SwapPending {
		t.Fatalf("state = %s, want pending", got)
	}
}

func TestResolverIgnoresOrderForOtherTaker(t *testing.T) {
	h := newHarness(t)
	hash, _ := h.createOrder()
	a := h.resolver("A", fast)

	ev := h.created(hash)
	ev.Order.AllowedTaker = "B"
	deliver(t, ev, a)
	if got := h.state(hash); got != model.SwapPending {
		t.Fatalf("state = %s, want pending", got)
	}
}

func TestResolverRescuesStalledOrder(t *testing.T) {
	h := newHarness(t)
	hash, secret := h.createOrder()

	if ok, err := h.relayer.Commit("A", hash, "", ""); !ok {
		t.Fatalf("Commit by A failed: %v", err)
	}
	h.clock.Advance(6 * time.Minute)
	h.relayer.CheckTimeouts()

	patient := Policy{Name: "patient", ProfitMarginBps: 10, Rescue: false}
	idle := h.resolver("A", patient)
	b := h.resolver("B", fast)

	stalled := events.SwapEvent{EventType: events.RescueAvailable, OrderHash: hash.Hex(), Resolver: "A"}
	deliver(t, stalled, idle, b)
	if got := h.state(hash); got != model.SwapFundsLocked {
		t.Fatalf("state after rescue = %s, want funds_locked", got)
	}

	deliver(t, revealed(hash, secret), b)
	if got := h.state(hash); got != model.SwapCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
	_, account, err := h.relayer.Resolver("B")
	if err != nil {
		t.Fatalf("Resolver failed: %v", err)
	}
	if account.Rewards == nil || account.Rewards.Uint64() != 100 {
		t.Errorf("B rewards = %v, want the forfeited bond of 100", account.Rewards)
	}
}

func TestResolverRescuesSourceOnlySlice(t *testing.T) {
	h := newHarness(t)
	hash, secret := h.createOrder()

	if ok, err := h.relayer.Commit("A", hash, "", ""); !ok {
		t.Fatalf("Commit by A failed: %v", err)
	}
	if _, err := h.relayer.DeployEscrow(escrow.DeployRequest{
		OrderHash: hash, Side: model.SideSource, Resolver: "A",
		PartialAmount: uint256.NewInt(100), EscrowAddress: "src-A",
	}); err != nil {
		t.Fatalf("source deploy by A failed: %v", err)
	}
	h.clock.Advance(6 * time.Minute)
	h.relayer.CheckTimeouts()

	b := h.resolver("B", fast)
	deliver(t, events.SwapEvent{EventType: events.RescueAvailable, OrderHash: hash.Hex(), Resolver: "A"}, b)
	if got := h.state(hash); got != model.SwapFundsLocked {
		t.Fatalf("state after rescue = %s, want funds_locked", got)
	}

	deliver(t, revealed(hash, secret), b)
	if got := h.state(hash); got != model.SwapCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
}

type cancellingRelayer struct {
	Relayer
	res *Resolver
}

func (c *cancellingRelayer) Commit(ctx context.Context, hash, _, _, _ string) (bool, error) {
	err := c.res.HandleEvent(ctx, events.SwapEvent{EventType: events.OrderCancelled, OrderHash: hash})
	return err == nil, err
}

func (c *cancellingRelayer) Order(context.Context, string) (events.OrderView, error) {
	return events.OrderView{}, errors.New("order cancelled")
}

func TestLeadAfterPositionDropped(t *testing.T) {
	stub := &cancellingRelayer{}
	res, err := NewResolver("A", fast, StaticQuoter{}, stub, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	stub.res = res
	hash := common.HexToHash("0x02").Hex()

	if !res.claim(hash) {
		t.Fatal("claim failed")
	}
	if err := res.lead(context.Background(), hash); err == nil {
		t.Fatal("lead succeeded on a cancelled order")
	}
	res.mu.Lock()
	p, ok := res.positions[hash]
	res.mu.Unlock()
	if !ok || p.role != roleLeader {
		t.Errorf("position = %+v, %v; want leader", p, ok)
	}
}

func TestEscrowAddressesAreStable(t *testing.T) {
	h := newHarness(t)
	a := h.resolver("A", fast)
	b := h.resolver("B", fast)
	hash := common.HexToHash("0x01").Hex()

	src1, dst1 := a.escrowAddresses(hash)
	src2, dst2 := a.escrowAddresses(hash)
	if src1 != src2 || dst1 != dst2 {
		t.Error("escrow addresses differ between calls")
	}
	if src1 == dst1 {
		t.Error("source and destination escrows share an address")
	}
	if other, _ := b.escrowAddresses(hash); other == src1 {
		t.Error("two resolvers derived the same escrow address")
	}
	if !common.IsHexAddress(src1) {
		t.Errorf("%s is not an address", src1)
	}
}
