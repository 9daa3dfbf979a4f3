package custody

import (
	"context"
	"errors"
	"testing"
)

func TestTokenVault_TransferInAndOut(t *testing.T) {
	v := NewTokenVault()
	ctx := context.Background()
	v.Credit("alice", 100)

	if err := v.TransferIn(ctx, "alice", 60); err != nil {
		t.Fatalf("TransferIn failed: %v", err)
	}
	if got := v.BalanceOf("alice"); got != 40 {
		t.Errorf("alice balance = %d, want 40", got)
	}
	if got := v.Held(); got != 60 {
		t.Errorf("held = %d, want 60", got)
	}

	if err := v.TransferOut(ctx, "bob", 60); err != nil {
		t.Fatalf("TransferOut failed: %v", err)
	}
	if got := v.BalanceOf("bob"); got != 60 {
		t.Errorf("bob balance = %d, want 60", got)
	}
	if got := v.Held(); got != 0 {
		t.Errorf("held = %d, want 0", got)
	}
}

func TestTokenVault_InsufficientBalance(t *testing.T) {
	v := NewTokenVault()
	ctx := context.Background()
	v.Credit("alice", 10)

	if err := v.TransferIn(ctx, "alice", 11); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := v.TransferOut(ctx, "alice", 1); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance for empty custody, got %v", err)
	}
	// Failed transfers leave balances untouched.
	if v.BalanceOf("alice") != 10 || v.Held() != 0 {
		t.Error("failed transfer mutated balances")
	}
}

func TestTokenVault_InvalidAmount(t *testing.T) {
	v := NewTokenVault()
	ctx := context.Background()

	if err := v.TransferIn(ctx, "alice", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if err := v.TransferOut(ctx, "alice", -5); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}
