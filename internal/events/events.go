// Package events carries the gateway's activity fan-out: typed events,
// in-memory per-wallet counters, a best-effort webhook poster, and a
// websocket hub for live subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the control plane.
const (
	TypePin    = "pin"
	TypeUnpin  = "unpin"
	TypeIngest = "ingest"
)

// Event is one gateway activity record.
type Event struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Wallet        string   `json:"wallet,omitempty"`
	CID           string   `json:"cid,omitempty"`
	Roots         []string `json:"roots,omitempty"`
	PlanID        string   `json:"plan_id,omitempty"`
	UploadedBytes int64    `json:"uploaded_bytes,omitempty"`
	At            int64    `json:"at"` // ms epoch
}

// NewEvent stamps a fresh event with id and time.
func NewEvent(eventType string) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: eventType,
		At:   time.Now().UnixMilli(),
	}
}

// WalletActivity is the in-memory rollup for one wallet.
type WalletActivity struct {
	Ingests     int64 `json:"ingests"`
	IngestBytes int64 `json:"ingest_bytes"`
	Pins        int64 `json:"pins"`
	Unpins      int64 `json:"unpins"`
	LastEventAt int64 `json:"last_event_at,omitempty"`
}

// Registry keeps process-lifetime activity counters per wallet. Counters
// reset on restart; durable state lives in the wallet store.
type Registry struct {
	mu       sync.Mutex
	activity map[string]*WalletActivity
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{activity: make(map[string]*WalletActivity)}
}

func (r *Registry) get(wallet string) *WalletActivity {
	a, ok := r.activity[wallet]
	if !ok {
		a = &WalletActivity{}
		r.activity[wallet] = a
	}
	return a
}

// RecordIngest counts one completed CAR import.
func (r *Registry) RecordIngest(wallet string, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.get(wallet)
	a.Ingests++
	a.IngestBytes += bytes
	a.LastEventAt = time.Now().UnixMilli()
}

// RecordPin counts one explicit pin.
func (r *Registry) RecordPin(wallet string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.get(wallet)
	a.Pins++
	a.LastEventAt = time.Now().UnixMilli()
}

// RecordUnpin counts one unpin (logical or physical).
func (r *Registry) RecordUnpin(wallet string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.get(wallet)
	a.Unpins++
	a.LastEventAt = time.Now().UnixMilli()
}

// Snapshot returns a copy of one wallet's counters.
func (r *Registry) Snapshot(wallet string) WalletActivity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.activity[wallet]; ok {
		return *a
	}
	return WalletActivity{}
}
