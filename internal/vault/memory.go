// Package vault provides an in-process implementation of the value-transfer
// capability the escrow ledger depends on.
package vault

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
	ErrUnknownMint         = errors.New("vault: unknown mint")
	ErrBalanceOverflow     = errors.New("vault: balance overflow")
)

// Memory holds native and asset balances in maps. Every transfer is applied
// under one mutex, so a failed transfer never leaves a half-moved amount.
type Memory struct {
	mu       sync.Mutex
	native   map[common.Hash]uint64
	assets   map[common.Hash]map[common.Hash]uint64
	decimals map[common.Hash]uint8
}

func NewMemory() *Memory {
	return &Memory{
		native:   make(map[common.Hash]uint64),
		assets:   make(map[common.Hash]map[common.Hash]uint64),
		decimals: make(map[common.Hash]uint8),
	}
}

// RegisterMint declares a fungible asset and its decimal precision.
func (m *Memory) RegisterMint(mint common.Hash, decimals uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decimals[mint] = decimals
	if _, ok := m.assets[mint]; !ok {
		m.assets[mint] = make(map[common.Hash]uint64)
	}
}

// CreditNative mints native currency to holder. Used for genesis allocations.
func (m *Memory) CreditNative(holder common.Hash, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, carry := bits.Add64(m.native[holder], amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	m.native[holder] = next
	return nil
}

// CreditAsset mints base units of mint to holder.
func (m *Memory) CreditAsset(mint, holder common.Hash, units uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger, ok := m.assets[mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMint, mint.Hex())
	}
	next, carry := bits.Add64(ledger[holder], units, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	ledger[holder] = next
	return nil
}

func (m *Memory) NativeBalance(holder common.Hash) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.native[holder]
}

func (m *Memory) TransferNative(_ context.Context, from, to common.Hash, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return move(m.native, from, to, amount)
}

func (m *Memory) TransferAsset(_ context.Context, mint, from, to common.Hash, units uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger, ok := m.assets[mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMint, mint.Hex())
	}
	return move(ledger, from, to, units)
}

func (m *Memory) Decimals(_ context.Context, mint common.Hash) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decimals[mint]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMint, mint.Hex())
	}
	return d, nil
}

func (m *Memory) AssetBalance(_ context.Context, mint, holder common.Hash) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger, ok := m.assets[mint]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMint, mint.Hex())
	}
	return ledger[holder], nil
}

func move(ledger map[common.Hash]uint64, from, to common.Hash, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if ledger[from] < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, ledger[from], amount)
	}
	if from == to {
		return nil
	}
	credited, carry := bits.Add64(ledger[to], amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	ledger[from] -= amount
	ledger[to] = credited
	return nil
}
