package ingest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
	"github.com/lumen-network/lumen-gateway/internal/events"
	"github.com/lumen-network/lumen-gateway/internal/kubo"
	"github.com/lumen-network/lumen-gateway/internal/walletdb"
)

func TestTokenStore_ConsumeIsSingleUse(t *testing.T) {
	ts := NewTokenStore()

	id, err := ts.Issue(Token{Wallet: "lmn1abc", PlanID: "basic", EstBytes: 42, DisplayName: "backups"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if len(id) != 64 {
		t.Errorf("Expected a 64-hex token id. Got: %q", id)
	}

	// Peek reads without burning.
	for i := 0; i < 2; i++ {
		tok, ok := ts.Peek(id)
		if !ok {
			t.Fatalf("peek %d failed", i)
		}
		if tok.Wallet != "lmn1abc" || tok.PlanID != "basic" {
			t.Errorf("Unexpected token: %+v", tok)
		}
	}

	tok, ok := ts.Consume(id)
	if !ok || tok.DisplayName != "backups" || tok.EstBytes != 42 {
		t.Fatalf("consume failed: ok=%v tok=%+v", ok, tok)
	}
	if _, ok := ts.Consume(id); ok {
		t.Error("Expected second consume to fail")
	}
	if _, ok := ts.Peek(id); ok {
		t.Error("Expected peek after consume to fail")
	}
}

func TestTokenStore_Expiry(t *testing.T) {
	ts := NewTokenStore()

	id, err := ts.Issue(Token{Wallet: "lmn1abc"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	ts.now = func() time.Time { return time.Now().Add(TokenTTL + time.Minute) }

	if _, ok := ts.Peek(id); ok {
		t.Error("Expected expired token to fail peek")
	}
	if _, ok := ts.Consume(id); ok {
		t.Error("Expected expired token to fail consume")
	}
	// Consume already removed it; a fresh one exercises Purge.
	ts.now = time.Now
	id2, _ := ts.Issue(Token{Wallet: "lmn1def"})
	ts.now = func() time.Time { return time.Now().Add(TokenTTL + time.Minute) }
	if n := ts.Purge(); n != 1 {
		t.Errorf("Expected purge to remove 1 token. Got: %d", n)
	}
	if _, ok := ts.Peek(id2); ok {
		t.Error("Expected purged token to be gone")
	}
	if ts.Len() != 0 {
		t.Errorf("Expected empty store. Got: %d", ts.Len())
	}
}

func TestSpooler_Write(t *testing.T) {
	dir := t.TempDir()
	spool, err := NewSpooler(dir, 1024)
	if err != nil {
		t.Fatalf("new spooler: %v", err)
	}

	path, n, err := spool.Write(bytes.NewReader([]byte("car body")))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != 8 {
		t.Errorf("Expected 8 bytes. Got: %d", n)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "car body" {
		t.Errorf("Unexpected spool content: %q err=%v", got, err)
	}
	if err := spool.Remove(path); err != nil {
		t.Errorf("remove failed: %v", err)
	}
	if err := spool.Remove(path); err != nil {
		t.Errorf("Expected double remove to be tolerated. Got: %v", err)
	}
}

func TestSpooler_WriteOverCapDrainsAndDeletes(t *testing.T) {
	dir := t.TempDir()
	spool, err := NewSpooler(dir, 16)
	if err != nil {
		t.Fatalf("new spooler: %v", err)
	}

	body := bytes.NewReader(bytes.Repeat([]byte{1}, 100))
	_, _, err = spool.Write(body)
	if kind := apperr.KindOf(err); kind != apperr.KindCARTooLarge {
		t.Fatalf("Expected car_too_large. Got: %v (%v)", kind, err)
	}
	if body.Len() != 0 {
		t.Errorf("Expected the body to be drained. %d bytes left", body.Len())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected no spool file to survive. Got %d entries", len(entries))
	}
}

func TestSpooler_Sweep(t *testing.T) {
	dir := t.TempDir()
	spool, err := NewSpooler(dir, 1024)
	if err != nil {
		t.Fatalf("new spooler: %v", err)
	}

	stale := filepath.Join(dir, "upload-1-dead.car")
	if err := os.WriteFile(stale, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	fresh, _, err := spool.Write(bytes.NewReader([]byte("live")))
	if err != nil {
		t.Fatal(err)
	}
	unrelated := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(unrelated, []byte("keep"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(unrelated, old, old); err != nil {
		t.Fatal(err)
	}

	if n := spool.Sweep(time.Hour); n != 1 {
		t.Errorf("Expected sweep to remove 1 file. Got: %d", n)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Expected the stale spool file to be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("Expected the live spool file to survive: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Errorf("Expected non-spool files to be untouched: %v", err)
	}
}

func TestPipeline_ImportsSpooledJob(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/dag/import" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		// Two framings of the same root plus stats noise; the parser
		// dedupes to one.
		io.WriteString(w, `{"Root":{"Cid":{"/":"bafyroot"}}}`+"\n")
		io.WriteString(w, `{"Root":{"/":"bafyroot"}}`+"\n")
		io.WriteString(w, `{"Stats":{"BlockCount":3}}`+"\n")
	}))
	defer daemon.Close()

	store, err := walletdb.Open(filepath.Join(t.TempDir(), "wallet.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	spool, err := NewSpooler(t.TempDir(), 1024)
	if err != nil {
		t.Fatal(err)
	}
	registry := events.NewRegistry()
	emitter := events.NewEmitter(registry, nil, events.NewWebhook(""))

	p := NewPipeline(kubo.New(daemon.URL, 2*time.Second, 10*time.Second), store, emitter, spool)
	p.delay = func() time.Duration { return time.Millisecond }

	spoolPath, n, err := spool.Write(bytes.NewReader([]byte("CARCARCAR")))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	jobID, err := p.Enqueue(Job{
		Wallet:        "lmn1abc",
		PlanID:        "basic",
		DisplayName:   "backups",
		SpoolPath:     spoolPath,
		UploadedBytes: n,
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if jobID == "" {
		t.Fatal("Expected a job id")
	}

	deadline := time.Now().Add(5 * time.Second)
	ok := false
	for time.Now().Before(deadline) {
		has, err := store.HasWalletRoot(context.Background(), "lmn1abc", "bafyroot")
		if err != nil {
			t.Fatalf("root lookup: %v", err)
		}
		if has {
			ok = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	p.Wait()

	if !ok {
		t.Fatal("Expected the root to be registered after import")
	}
	if name, err := store.DisplayName(context.Background(), "lmn1abc", "bafyroot"); err != nil || name != "backups" {
		t.Errorf("Expected display name to carry over. Got: %q err=%v", name, err)
	}
	if _, err := os.Stat(spoolPath); !os.IsNotExist(err) {
		t.Error("Expected the spool file to be removed after import")
	}
	act := registry.Snapshot("lmn1abc")
	if act.Ingests != 1 || act.IngestBytes != 9 {
		t.Errorf("Unexpected activity rollup: %+v", act)
	}
}

func TestPipeline_FullQueueFailsFast(t *testing.T) {
	spool, err := NewSpooler(t.TempDir(), 1024)
	if err != nil {
		t.Fatal(err)
	}
	p := NewPipeline(nil, nil, nil, spool)

	// Fill the queue without a worker running.
	for i := 0; i < queueDepth; i++ {
		if _, err := p.Enqueue(Job{Wallet: "lmn1abc"}); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	path, _, err := spool.Write(bytes.NewReader([]byte("overflow")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Enqueue(Job{Wallet: "lmn1abc", SpoolPath: path}); err == nil {
		t.Fatal("Expected enqueue on a full queue to fail")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected the rejected job's spool file to be removed")
	}
}
