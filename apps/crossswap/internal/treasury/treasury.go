// Package treasury tracks resolver bonds. A commit locks part of a
// resolver's bond; completion unlocks it, and a rescued resolver's locked
// bond is paid to the rescuer.
package treasury

import (
	"errors"
	"fmt"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"sync"
)

var (
	ErrUnknownResolver  = errors.New("resolver has no bond account")
	ErrInsufficientBond = errors.New("insufficient available bond")
	ErrInsufficientLock = errors.New("insufficient locked bond")
	ErrInvalidAmount    = errors.New("amount must be positive")
)

type Account struct {
	Available *uint256.Int
	Locked    *uint256.Int
	Rewards   *uint256.Int
}

func newAccount() *Account {
	return &Account{Available: new(uint256.Int), Locked: new(uint256.Int), Rewards: new(uint256.Int)}
}

func (a *Account) clone() Account {
	return Account{Available: a.Available.Clone(), Locked: a.Locked.Clone(), Rewards: a.Rewards.Clone()}
}

type Treasury struct {
	mu       sync.Mutex
	logger   *zap.Logger
	accounts map[string]*Account
}

func NewTreasury(logger *zap.Logger) *Treasury {
	return &Treasury{logger: logger, accounts: make(map[string]*Account)}
}

// Deposit adds to the resolver's available bond, opening the account if needed.
func (t *Treasury) Deposit(resolver string, amount *uint256.Int) (Account, error) {
	if amount == nil {
		return Account{}, ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	acc, ok := t.accounts[resolver]
	if !ok {
		acc = newAccount()
		t.accounts[resolver] = acc
	}
	if _, overflow := acc.Available.AddOverflow(acc.Available, amount); overflow {
		return Account{}, fmt.Errorf("failed to deposit bond: overflow")
	}
	t.logger.Info("Bond deposited", zap.String("resolver", resolver), zap.String("amount", amount.Dec()))
	return acc.clone(), nil
}

func (t *Treasury) Lock(resolver string, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	acc, ok := t.accounts[resolver]
	if !ok {
		return ErrUnknownResolver
	}
	if acc.Available.Lt(amount) {
		return fmt.Errorf("%w: available %s, required %s", ErrInsufficientBond, acc.Available.Dec(), amount.Dec())
	}
	acc.Available.Sub(acc.Available, amount)
	acc.Locked.Add(acc.Locked, amount)
	return nil
}

func (t *Treasury) Unlock(resolver string, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	acc, ok := t.accounts[resolver]
	if !ok {
		return ErrUnknownResolver
	}
	if acc.Locked.Lt(amount) {
		return ErrInsufficientLock
	}
	acc.Locked.Sub(acc.Locked, amount)
	acc.Available.Add(acc.Available, amount)
	return nil
}

// Forfeit moves amount of from's locked bond to to's rewards.
func (t *Treasury) Forfeit(from, to string, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, ok := t.accounts[from]
	if !ok {
		return ErrUnknownResolver
	}
	dst, ok := t.accounts[to]
	if !ok {
		return ErrUnknownResolver
	}
	if src.Locked.Lt(amount) {
		return ErrInsufficientLock
	}
	src.Locked.Sub(src.Locked, amount)
	dst.Rewards.Add(dst.Rewards, amount)

	t.logger.Info("Bond forfeited",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", amount.Dec()))
	return nil
}

func (t *Treasury) Balance(resolver string) (Account, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	acc, ok := t.accounts[resolver]
	if !ok {
		return Account{}, ErrUnknownResolver
	}
	return acc.clone(), nil
}
