package vault

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestTransferNative(t *testing.T) {
	ctx := context.Background()
	v := NewMemory()
	alice := common.HexToHash("0xa1")
	bob := common.HexToHash("0xb0")

	if err := v.CreditNative(alice, 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := v.TransferNative(ctx, alice, bob, 40); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := v.NativeBalance(alice); got != 60 {
		t.Fatalf("alice balance = %d, want 60", got)
	}
	if got := v.NativeBalance(bob); got != 40 {
		t.Fatalf("bob balance = %d, want 40", got)
	}

	err := v.TransferNative(ctx, alice, bob, 61)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if v.NativeBalance(alice) != 60 || v.NativeBalance(bob) != 40 {
		t.Fatalf("failed transfer moved funds")
	}
}

func TestTransferNativeOverflowLeavesBalances(t *testing.T) {
	ctx := context.Background()
	v := NewMemory()
	alice := common.HexToHash("0xa1")
	bob := common.HexToHash("0xb0")
	_ = v.CreditNative(alice, 10)
	_ = v.CreditNative(bob, math.MaxUint64)

	if err := v.TransferNative(ctx, alice, bob, 1); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if v.NativeBalance(alice) != 10 {
		t.Fatalf("sender debited on failed transfer")
	}
}

func TestAssetLedger(t *testing.T) {
	ctx := context.Background()
	v := NewMemory()
	mint := common.HexToHash("0x4d")
	owner := common.HexToHash("0x01")
	holding := common.HexToHash("0x02")

	if err := v.CreditAsset(mint, owner, 5); !errors.Is(err, ErrUnknownMint) {
		t.Fatalf("expected unknown mint, got %v", err)
	}
	v.RegisterMint(mint, 6)
	if d, err := v.Decimals(ctx, mint); err != nil || d != 6 {
		t.Fatalf("decimals = %d, %v", d, err)
	}
	if err := v.CreditAsset(mint, owner, 5_000_000); err != nil {
		t.Fatalf("credit asset: %v", err)
	}
	if err := v.TransferAsset(ctx, mint, owner, holding, 2_000_000); err != nil {
		t.Fatalf("transfer asset: %v", err)
	}
	got, err := v.AssetBalance(ctx, mint, holding)
	if err != nil || got != 2_000_000 {
		t.Fatalf("holding balance = %d, %v", got, err)
	}
}
