package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
)

var (
	ErrReplayedRequest = errors.New("request was already accepted")
	ErrReplayCacheFull = errors.New("too many recent requests, retry shortly")
)

const defaultReplayCapacity = 1 << 16

// ReplayGuard remembers accepted requests until their timestamp could no
// longer pass the skew check. Entries expire in insertion order, so expired
// ones are always at the old end of the cache.
type ReplayGuard struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	seen     lru.BasicLRU[common.Hash, time.Time]
}

// NewReplayGuard remembers each key for ttl. A capacity below one uses the
// default. When the cache is full of live entries new requests are refused
// rather than letting an unexpired entry fall out.
func NewReplayGuard(ttl time.Duration, capacity int) *ReplayGuard {
	if capacity < 1 {
		capacity = defaultReplayCapacity
	}
	return &ReplayGuard{
		ttl:      ttl,
		capacity: capacity,
		seen:     lru.NewBasicLRU[common.Hash, time.Time](capacity),
	}
}

// Observe records key as seen at now. It fails if key is still remembered.
func (g *ReplayGuard) Observe(key common.Hash, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		_, expires, ok := g.seen.GetOldest()
		if !ok || now.Before(expires) {
			break
		}
		g.seen.RemoveOldest()
	}
	if expires, ok := g.seen.Peek(key); ok && now.Before(expires) {
		return ErrReplayedRequest
	}
	if g.seen.Len() >= g.capacity {
		return ErrReplayCacheFull
	}
	g.seen.Add(key, now.Add(g.ttl))
	return nil
}

// replayWindow is how long a request stays replayable: its timestamp may sit
// maxSkew in the future and is accepted until maxSkew in the past, inclusive
// of the whole second it names.
func replayWindow(maxSkew time.Duration) time.Duration {
	return 2*maxSkew + time.Second
}
