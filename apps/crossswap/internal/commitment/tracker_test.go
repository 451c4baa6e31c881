package commitment

import (
	"crossswap/apps/crossswap/internal/clock"
	"errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const window = 5 * time.Minute

var orderHash = common.HexToHash("0x01")

func newTestTracker() (*Tracker, *clock.Manual) {
	c := clock.NewManual(time.Unix(1_700_000_000, 0))
	return NewTracker(c, zap.NewNop()), c
}

func TestCommitIsSingleWriter(t *testing.T) {
	tracker, _ := newTestTracker()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resolver := common.BigToAddress(uint256.NewInt(uint64(i + 1)).ToBig()).Hex()
			if _, err := tracker.Commit(orderHash, resolver, "src", "dst", nil); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrAlreadyCommitted) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("%d resolvers committed, want exactly 1", wins.Load())
	}
}

func TestReplaceRequiresTimeout(t *testing.T) {
	tracker, c := newTestTracker()
	first, err := tracker.Commit(orderHash, "A", "srcA", "dstA", uint256.NewInt(5))
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, _, err := tracker.Replace(orderHash, first.ID, "B", "srcB", "dstB", nil, window); !errors.Is(err, ErrNotTimedOut) {
		t.Fatalf("expected ErrNotTimedOut, got %v", err)
	}
	c.Advance(window)
	if _, _, err := tracker.Replace(orderHash, first.ID, "B", "srcB", "dstB", nil, window); !errors.Is(err, ErrNotTimedOut) {
		t.Fatalf("expected ErrNotTimedOut exactly at the window, got %v", err)
	}

	c.Advance(time.Minute)
	if _, _, err := tracker.Replace(orderHash, first.ID, "A", "srcA", "dstA", nil, window); !errors.Is(err, ErrSameResolver) {
		t.Fatalf("expected ErrSameResolver, got %v", err)
	}

	previous, current, err := tracker.Replace(orderHash, first.ID, "B", "srcB", "dstB", uint256.NewInt(7), window)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if previous.Resolver != "A" || previous.IsActive {
		t.Errorf("previous = %+v, want inactive commitment of A", previous)
	}
	if current.Resolver != "B" || current.RescuedFrom != "A" || !current.CommitTime.Equal(c.Now()) {
		t.Errorf("current = %+v, want B rescued from A at %s", current, c.Now())
	}

	if _, _, err := tracker.Replace(orderHash, first.ID, "C", "srcC", "dstC", nil, window); !errors.Is(err, ErrCommitmentReplaced) {
		t.Errorf("expected ErrCommitmentReplaced for second rescue, got %v", err)
	}
	if h := tracker.History(orderHash); len(h) != 1 || h[0].ID != first.ID {
		t.Errorf("history = %+v, want the replaced commitment", h)
	}
}

func TestCompleteAndRelease(t *testing.T) {
	tracker, c := newTestTracker()
	if _, err := tracker.Commit(orderHash, "A", "", "", nil); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := tracker.UpdateRefs(orderHash, "B", "x", "y"); !errors.Is(err, ErrNotCommittedResolver) {
		t.Errorf("expected ErrNotCommittedResolver, got %v", err)
	}
	if err := tracker.UpdateRefs(orderHash, "A", "srcA", "dstA"); err != nil {
		t.Fatalf("UpdateRefs failed: %v", err)
	}

	done, err := tracker.Complete(orderHash)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !done.IsCompleted || done.IsActive || done.SourceEscrowRef != "srcA" {
		t.Errorf("completed commitment = %+v", done)
	}
	if _, err := tracker.Commit(orderHash, "B", "", "", nil); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}

	c.Advance(time.Hour)
	if len(tracker.TimedOut(window)) != 0 {
		t.Error("completed commitment reported as timed out")
	}

	other := common.HexToHash("0x02")
	if _, err := tracker.Commit(other, "A", "", "", nil); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if _, ok := tracker.Release(other); !ok {
		t.Fatal("Release returned false for active commitment")
	}
	if _, ok := tracker.Active(other); ok {
		t.Error("released commitment still active")
	}
	if _, err := tracker.Commit(other, "B", "", "", nil); err != nil {
		t.Errorf("Commit after release failed: %v", err)
	}
}

func TestTimedOut(t *testing.T) {
	tracker, c := newTestTracker()
	if _, err := tracker.Commit(orderHash, "A", "", "", nil); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	c.Advance(time.Minute)
	if _, err := tracker.Commit(common.HexToHash("0x02"), "B", "", "", nil); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	c.Advance(window)
	stale := tracker.TimedOut(window)
	if len(stale) != 1 || stale[0].Resolver != "A" {
		t.Fatalf("TimedOut = %+v, want only A", stale)
	}
	c.Advance(time.Minute)
	if len(tracker.TimedOut(window)) != 2 {
		t.Errorf("expected both commitments timed out")
	}
}
