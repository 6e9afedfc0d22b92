package escrow

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type memEntry struct {
	payload []byte
	domain  Domain
}

// MemoryStore keeps encoded records in a map. Records go through the same
// fixed-width codec as the persistent stores.
type MemoryStore struct {
	locks *keyedMutex
	mu    sync.RWMutex
	data  map[common.Hash]memEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: newKeyedMutex(),
		data:  make(map[common.Hash]memEntry),
	}
}

func (m *MemoryStore) Create(ctx context.Context, rec Record, onCreate func(context.Context) error) error {
	payload, err := rec.Account.MarshalBinary()
	if err != nil {
		return err
	}
	unlock := m.locks.Lock(rec.Address)
	defer unlock()

	m.mu.RLock()
	_, exists := m.data[rec.Address]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("create %s: %w", rec.Address.Hex(), ErrAlreadyExists)
	}
	if onCreate != nil {
		if err := onCreate(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.data[rec.Address] = memEntry{payload: payload, domain: rec.Domain}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, addr common.Hash) (Record, error) {
	m.mu.RLock()
	entry, ok := m.data[addr]
	m.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("get %s: %w", addr.Hex(), ErrNotFound)
	}
	return entry.record(addr)
}

func (m *MemoryStore) Update(ctx context.Context, addr common.Hash, fn func(context.Context, *Record) error) error {
	unlock := m.locks.Lock(addr)
	defer unlock()

	m.mu.RLock()
	entry, ok := m.data[addr]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("update %s: %w", addr.Hex(), ErrNotFound)
	}
	current, err := entry.record(addr)
	if err != nil {
		return err
	}
	next, changed, err := applyUpdate(ctx, current, fn)
	if err != nil || !changed {
		return err
	}
	payload, err := next.Account.MarshalBinary()
	if err != nil {
		return err
	}
	if len(payload) != len(entry.payload) {
		return fmt.Errorf("update %s: record size changed", addr.Hex())
	}

	m.mu.Lock()
	m.data[addr] = memEntry{payload: payload, domain: next.Domain}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListActive(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0)
	for addr, entry := range m.data {
		rec, err := entry.record(addr)
		if err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		if rec.Account.LimitOrder.IsActive {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (e memEntry) record(addr common.Hash) (Record, error) {
	var acc Account
	if err := acc.UnmarshalBinary(e.payload); err != nil {
		return Record{}, fmt.Errorf("record %s: %w", addr.Hex(), err)
	}
	return Record{Address: addr, Account: acc, Domain: e.domain}, nil
}

// applyUpdate runs fn on a copy of current and reports whether anything
// changed. Identity fields are not allowed to move.
func applyUpdate(ctx context.Context, current Record, fn func(context.Context, *Record) error) (Record, bool, error) {
	next := current
	if err := fn(ctx, &next); err != nil {
		return Record{}, false, err
	}
	if next.Address != current.Address || next.Account.Owner != current.Account.Owner || next.Account.OrderID != current.Account.OrderID {
		return Record{}, false, fmt.Errorf("update %s: identity fields are immutable", current.Address.Hex())
	}
	if next.Account.Balance < current.Account.Balance {
		return Record{}, false, fmt.Errorf("update %s: balance cannot decrease", current.Address.Hex())
	}
	if !next.Domain.Valid() {
		return Record{}, false, fmt.Errorf("update %s: %w: domain %d", current.Address.Hex(), ErrInvalidArgument, next.Domain)
	}
	return next, next != current, nil
}
