package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistry_CountsPerWallet(t *testing.T) {
	r := NewRegistry()
	r.RecordIngest("lmn1alice", 1000)
	r.RecordIngest("lmn1alice", 500)
	r.RecordPin("lmn1alice")
	r.RecordUnpin("lmn1bob")

	alice := r.Snapshot("lmn1alice")
	if alice.Ingests != 2 || alice.IngestBytes != 1500 || alice.Pins != 1 {
		t.Errorf("Unexpected alice rollup: %+v", alice)
	}
	if alice.LastEventAt == 0 {
		t.Errorf("Expected last event timestamp to be set")
	}

	bob := r.Snapshot("lmn1bob")
	if bob.Unpins != 1 || bob.Ingests != 0 {
		t.Errorf("Unexpected bob rollup: %+v", bob)
	}

	if got := r.Snapshot("lmn1nobody"); got != (WalletActivity{}) {
		t.Errorf("Expected zero activity for unknown wallet. Got: %+v", got)
	}
}

func TestWebhook_PostsEventJSON(t *testing.T) {
	var got atomic.Value
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		got.Store(ev)
		close(done)
	}))
	defer srv.Close()

	e := NewEmitter(NewRegistry(), nil, NewWebhook(srv.URL))
	e.EmitIngest("lmn1alice", "pro", 4096, []string{"bafyroot"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("webhook was never called")
	}

	ev := got.Load().(Event)
	if ev.Type != TypeIngest || ev.Wallet != "lmn1alice" || ev.UploadedBytes != 4096 {
		t.Errorf("Unexpected event: %+v", ev)
	}
	if ev.ID == "" || ev.At == 0 {
		t.Errorf("Expected id and timestamp to be stamped. Got: %+v", ev)
	}
	if len(ev.Roots) != 1 || ev.Roots[0] != "bafyroot" {
		t.Errorf("Expected roots to ride along. Got: %v", ev.Roots)
	}
}

func TestWebhook_DisabledURLIsSilent(t *testing.T) {
	e := NewEmitter(NewRegistry(), nil, NewWebhook(""))
	// Must not panic or block.
	e.EmitPin("lmn1alice", "bafy1")

	if snap := e.Registry.Snapshot("lmn1alice"); snap.Pins != 1 {
		t.Errorf("Expected the registry to still count. Got: %+v", snap)
	}
}

func TestHub_PublishDropsWhenFull(t *testing.T) {
	h := NewHub() // Run never started, buffer fills up
	for i := 0; i < sendBuffer+10; i++ {
		h.Publish(NewEvent(TypePin))
	}
	// Reaching here without blocking is the assertion.
}
