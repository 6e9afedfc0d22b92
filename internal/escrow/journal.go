package escrow

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryJournal keeps events in process memory. Mostly for tests and the
// memory storage driver.
type MemoryJournal struct {
	mu     sync.RWMutex
	events map[common.Hash][]Event
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{events: make(map[common.Hash][]Event)}
}

func (j *MemoryJournal) Append(_ context.Context, evt Event) (Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	evt.Sequence = uint64(len(j.events[evt.Address])) + 1
	evt.Attributes = cloneAttributes(evt.Attributes)
	j.events[evt.Address] = append(j.events[evt.Address], evt)
	return evt, nil
}

func (j *MemoryJournal) List(_ context.Context, addr common.Hash) ([]Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	src := j.events[addr]
	out := make([]Event, len(src))
	for i, evt := range src {
		evt.Attributes = cloneAttributes(evt.Attributes)
		out[i] = evt
	}
	return out, nil
}

func cloneAttributes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
