package custody

import (
	"context"
	"errors"
	"sync"
)

// Vault errors.
var (
	// ErrInsufficientBalance is returned when a transfer exceeds the
	// source balance. The whole enclosing operation aborts.
	ErrInsufficientBalance = errors.New("insufficient custody balance")

	// ErrInvalidAmount is returned for non-positive transfer amounts.
	ErrInvalidAmount = errors.New("transfer amount must be positive")
)

// TokenVault is an in-memory asset ledger: external account balances
// plus a pooled custody balance with no per-lock segregation. It
// stands in for the token contract the engine escrows.
type TokenVault struct {
	mu       sync.Mutex
	balances map[string]int64
	held     int64 // pooled custody balance
}

// NewTokenVault creates an empty vault.
func NewTokenVault() *TokenVault {
	return &TokenVault{balances: make(map[string]int64)}
}

// Credit adds freely transferable balance to an account (test and
// bootstrap helper; a real deployment funds accounts externally).
func (v *TokenVault) Credit(account string, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[account] += amount
}

// BalanceOf returns an account's free balance.
func (v *TokenVault) BalanceOf(account string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[account]
}

// Held returns the pooled custody balance.
func (v *TokenVault) Held() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held
}

// TransferIn moves amount from an account into custody.
func (v *TokenVault) TransferIn(_ context.Context, from string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.balances[from] < amount {
		return ErrInsufficientBalance
	}
	v.balances[from] -= amount
	v.held += amount
	return nil
}

// TransferOut releases amount from custody to an account.
func (v *TokenVault) TransferOut(_ context.Context, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.held < amount {
		return ErrInsufficientBalance
	}
	v.held -= amount
	v.balances[to] += amount
	return nil
}
