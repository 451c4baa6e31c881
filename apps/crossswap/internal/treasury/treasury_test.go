package treasury

import (
	"errors"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"testing"
)

func TestLockUnlockForfeit(t *testing.T) {
	tr := NewTreasury(zap.NewNop())

	if err := tr.Lock("A", uint256.NewInt(1)); !errors.Is(err, ErrUnknownResolver) {
		t.Fatalf("expected ErrUnknownResolver, got %v", err)
	}
	if _, err := tr.Deposit("A", uint256.NewInt(100)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := tr.Deposit("B", uint256.NewInt(50)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	if err := tr.Lock("A", uint256.NewInt(101)); !errors.Is(err, ErrInsufficientBond) {
		t.Fatalf("expected ErrInsufficientBond, got %v", err)
	}
	if err := tr.Lock("A", uint256.NewInt(60)); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := tr.Unlock("A", uint256.NewInt(10)); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if err := tr.Forfeit("A", "B", uint256.NewInt(51)); !errors.Is(err, ErrInsufficientLock) {
		t.Fatalf("expected ErrInsufficientLock, got %v", err)
	}
	if err := tr.Forfeit("A", "B", uint256.NewInt(50)); err != nil {
		t.Fatalf("Forfeit failed: %v", err)
	}

	tests := []struct {
		resolver                   string
		available, locked, rewards uint64
	}{
		{"A", 50, 0, 0},
		{"B", 50, 0, 50},
	}
	for _, tt := range tests {
		acc, err := tr.Balance(tt.resolver)
		if err != nil {
			t.Fatalf("Balance(%s) failed: %v", tt.resolver, err)
		}
		if acc.Available.Uint64() != tt.available || acc.Locked.Uint64() != tt.locked || acc.Rewards.Uint64() != tt.rewards {
			t.Errorf("%s balance = %s/%s/%s, want %d/%d/%d", tt.resolver,
				acc.Available.Dec(), acc.Locked.Dec(), acc.Rewards.Dec(), tt.available, tt.locked, tt.rewards)
		}
	}
}
