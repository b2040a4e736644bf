package wager

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"dice-wager-bot/internal/pkg/lock"
)

// Ledger is the durable balance store. Every method is atomic with respect to
// one user's balance and reserved pair; calls for the same user serialize.
// ref identifies the session the movement belongs to and is journaled.
type Ledger interface {
	// Reserve moves amount from balance to reserved, or fails with ErrInsufficientFunds.
	Reserve(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error
	// Release moves amount from reserved back to balance.
	Release(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error
	// Capture consumes amount from reserved into a pot.
	Capture(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error
	// Credit adds amount to balance.
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error
}

// Account is a user's balance pair as held by MemoryLedger.
type Account struct {
	Balance  decimal.Decimal
	Reserved decimal.Decimal
}

// MemoryLedger is an in-process Ledger for tests and local runs.
type MemoryLedger struct {
	userLock *lock.UserLock

	mu       sync.RWMutex
	accounts map[int64]*Account
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		userLock: lock.NewUserLock(),
		accounts: make(map[int64]*Account),
	}
}

func (l *MemoryLedger) account(userID int64) *Account {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[userID]
	if !ok {
		acc = &Account{}
		l.accounts[userID] = acc
	}
	return acc
}

// Deposit seeds a user's balance.
func (l *MemoryLedger) Deposit(userID int64, amount decimal.Decimal) {
	_ = l.userLock.WithLock(userID, func() error {
		acc := l.account(userID)
		acc.Balance = acc.Balance.Add(amount)
		return nil
	})
}

// Account returns a copy of the user's balance pair.
func (l *MemoryLedger) Account(userID int64) Account {
	l.userLock.Lock(userID)
	defer l.userLock.Unlock(userID)
	return *l.account(userID)
}

// Total returns the sum of balances and reservations over all users.
func (l *MemoryLedger) Total() decimal.Decimal {
	l.mu.RLock()
	ids := make([]int64, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	total := decimal.Zero
	for _, id := range ids {
		acc := l.Account(id)
		total = total.Add(acc.Balance).Add(acc.Reserved)
	}
	return total
}

func (l *MemoryLedger) Reserve(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error {
	return l.userLock.WithLock(userID, func() error {
		acc := l.account(userID)
		if acc.Balance.LessThan(amount) {
			return fmt.Errorf("reserve %s for user %d: %w", amount, userID, ErrInsufficientFunds)
		}
		acc.Balance = acc.Balance.Sub(amount)
		acc.Reserved = acc.Reserved.Add(amount)
		return nil
	})
}

func (l *MemoryLedger) Release(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error {
	return l.userLock.WithLock(userID, func() error {
		acc := l.account(userID)
		if acc.Reserved.LessThan(amount) {
			return fmt.Errorf("release %s for user %d: %w", amount, userID, ErrStakeNotHeld)
		}
		acc.Reserved = acc.Reserved.Sub(amount)
		acc.Balance = acc.Balance.Add(amount)
		return nil
	})
}

func (l *MemoryLedger) Capture(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error {
	return l.userLock.WithLock(userID, func() error {
		acc := l.account(userID)
		if acc.Reserved.LessThan(amount) {
			return fmt.Errorf("capture %s for user %d: %w", amount, userID, ErrStakeNotHeld)
		}
		acc.Reserved = acc.Reserved.Sub(amount)
		return nil
	})
}

func (l *MemoryLedger) Credit(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error {
	return l.userLock.WithLock(userID, func() error {
		acc := l.account(userID)
		acc.Balance = acc.Balance.Add(amount)
		return nil
	})
}
