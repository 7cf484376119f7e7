package pqcrypto

import (
	"sync"
	"time"
)

// NonceTTL is how long an accepted nonce stays blocked. Combined with the
// five minute timestamp window this makes every envelope single-use.
const NonceTTL = 10 * time.Minute

// NonceCache remembers recently accepted nonces. Entries expire after the
// TTL; expired entries are swept opportunistically on insert.
type NonceCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration

	nextSweep time.Time
	now       func() time.Time
}

// NewNonceCache builds a cache with the given TTL (NonceTTL in production).
func NewNonceCache(ttl time.Duration) *NonceCache {
	return &NonceCache{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether a nonce is currently blocked. Callers still must use
// Insert as the authoritative gate; Seen exists for the cheap early reject.
func (nc *NonceCache) Seen(nonce string) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	exp, ok := nc.seen[nonce]
	return ok && nc.now().Before(exp)
}

// Insert atomically records a nonce, returning false when it was already
// present and unexpired. Only a true return authorizes the request.
func (nc *NonceCache) Insert(nonce string) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	now := nc.now()
	if !now.Before(nc.nextSweep) {
		for n, exp := range nc.seen {
			if !now.Before(exp) {
				delete(nc.seen, n)
			}
		}
		nc.nextSweep = now.Add(nc.ttl)
	}

	if exp, ok := nc.seen[nonce]; ok && now.Before(exp) {
		return false
	}
	nc.seen[nonce] = now.Add(nc.ttl)
	return true
}

// Purge drops every expired entry immediately. The hourly maintenance loop
// calls this so a quiet gateway does not hold stale nonces for hours.
func (nc *NonceCache) Purge() int {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	now := nc.now()
	removed := 0
	for n, exp := range nc.seen {
		if !now.Before(exp) {
			delete(nc.seen, n)
			removed++
		}
	}
	return removed
}

// Len reports how many nonces are tracked, expired or not.
func (nc *NonceCache) Len() int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return len(nc.seen)
}
