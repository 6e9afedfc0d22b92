package escrow

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// keyedMutex hands out one mutex per address and forgets it once nobody holds
// or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[common.Hash]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[common.Hash]*refLock)}
}

// Lock blocks until addr is exclusively held and returns the release func.
func (k *keyedMutex) Lock(addr common.Hash) func() {
	k.mu.Lock()
	l, ok := k.locks[addr]
	if !ok {
		l = &refLock{}
		k.locks[addr] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, addr)
		}
		k.mu.Unlock()
	}
}
