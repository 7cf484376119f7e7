// Package ingest implements the two-phase CAR upload pipeline: init issues
// a short-lived token, the CAR POST spools the body to disk and enqueues a
// job, and a single background worker imports spools into the CAS daemon
// on a decorrelated delay.
package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// TokenTTL is how long an issued upload token stays redeemable.
const TokenTTL = 10 * time.Minute

// Token carries what /ingest/init learned for the later unauthenticated
// CAR POST.
type Token struct {
	Wallet      string
	PlanID      string
	EstBytes    int64
	DisplayName string
	CreatedAt   time.Time
}

// TokenStore is the process-wide upload-token map. Consume is atomic
// delete-on-get, so a token authorizes exactly one upload.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]Token
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenStore builds a store with the production TTL.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]Token),
		ttl:    TokenTTL,
		now:    time.Now,
	}
}

// Issue mints a 32-byte hex token bound to the wallet's pending upload.
func (ts *TokenStore) Issue(tok Token) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("token generation failed: %w", err)
	}
	id := hex.EncodeToString(raw)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.sweepLocked()
	tok.CreatedAt = ts.now()
	ts.tokens[id] = tok
	return id, nil
}

// Consume redeems a token, removing it atomically. Expired or unknown
// tokens return false.
func (ts *TokenStore) Consume(id string) (Token, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	tok, ok := ts.tokens[id]
	if !ok {
		return Token{}, false
	}
	delete(ts.tokens, id)
	if ts.now().Sub(tok.CreatedAt) > ts.ttl {
		return Token{}, false
	}
	return tok, true
}

// Peek reads a token without redeeming it, so a pre-flight check (plan
// re-validation) that fails does not burn the token. Expired or unknown
// tokens return false.
func (ts *TokenStore) Peek(id string) (Token, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	tok, ok := ts.tokens[id]
	if !ok || ts.now().Sub(tok.CreatedAt) > ts.ttl {
		return Token{}, false
	}
	return tok, true
}

// Purge drops expired tokens; the hourly maintenance loop calls this.
func (ts *TokenStore) Purge() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.sweepLocked()
}

func (ts *TokenStore) sweepLocked() int {
	now := ts.now()
	removed := 0
	for id, tok := range ts.tokens {
		if now.Sub(tok.CreatedAt) > ts.ttl {
			delete(ts.tokens, id)
			removed++
		}
	}
	return removed
}

// Len reports how many tokens are outstanding.
func (ts *TokenStore) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tokens)
}
