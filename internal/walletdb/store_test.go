package walletdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

// The empty-directory CID in both spellings; ownership checks must treat
// them as the same object.
const (
	emptyDirV0 = "QmUNLLsPACCz1vLxQVkXqqLX5R1X345qqfHbsf67hvA3Nn"
	emptyDirV1 = "bafybeiczsscdsbs7ffqz55asqdf3smv6klcw3gofszvwlyarci47bgf354"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "wallet.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddOrUpdateWalletRoots_SplitsBytesAcrossRoots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	roots := []string{"cid-a", "cid-b", "cid-c"}
	if err := s.AddOrUpdateWalletRoots(ctx, "lmn1alice", roots, 300); err != nil {
		t.Fatalf("add roots: %v", err)
	}

	sum, err := s.RootsSummary(ctx, "lmn1alice")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Total != 3 || sum.Active != 3 {
		t.Errorf("Expected 3 total / 3 active roots. Got: %d / %d", sum.Total, sum.Active)
	}
	if sum.BytesEstimated != 300 {
		t.Errorf("Expected 300 estimated bytes. Got: %d", sum.BytesEstimated)
	}

	// Re-import with a different size refreshes the estimate.
	if err := s.AddOrUpdateWalletRoots(ctx, "lmn1alice", []string{"cid-a"}, 50); err != nil {
		t.Fatalf("re-add root: %v", err)
	}
	sum, _ = s.RootsSummary(ctx, "lmn1alice")
	if sum.BytesEstimated != 250 {
		t.Errorf("Expected 250 bytes after refresh (100+100+50). Got: %d", sum.BytesEstimated)
	}
}

func TestWalletsForRootCID_VariantBlind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// alice imported under the v0 spelling, bob pinned the v1 spelling.
	if err := s.AddOrUpdateWalletRoots(ctx, "lmn1alice", []string{emptyDirV0}, 100); err != nil {
		t.Fatalf("add root: %v", err)
	}
	if err := s.AddPin(ctx, "lmn1bob", emptyDirV1); err != nil {
		t.Fatalf("add pin: %v", err)
	}

	for _, spelling := range []string{emptyDirV0, emptyDirV1} {
		owners, err := s.WalletsForRootCID(ctx, spelling)
		if err != nil {
			t.Fatalf("owners(%s): %v", spelling, err)
		}
		if len(owners) != 2 {
			t.Errorf("Expected 2 owners under spelling %s. Got: %v", spelling, owners)
		}
	}

	if ok, _ := s.HasWalletRoot(ctx, "lmn1alice", emptyDirV1); !ok {
		t.Errorf("Expected alice's v0 root to match a v1 query")
	}
	if ok, _ := s.HasWalletPin(ctx, "lmn1bob", emptyDirV0); !ok {
		t.Errorf("Expected bob's v1 pin to match a v0 query")
	}
	if n, _ := s.CountPinsForCID(ctx, emptyDirV0); n != 1 {
		t.Errorf("Expected 1 pinning wallet. Got: %d", n)
	}
}

func TestRemoveWalletRefs_RemovesEverySpelling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddOrUpdateWalletRoots(ctx, "lmn1alice", []string{emptyDirV0}, 10); err != nil {
		t.Fatalf("add root: %v", err)
	}
	if err := s.AddPin(ctx, "lmn1alice", emptyDirV1); err != nil {
		t.Fatalf("add pin: %v", err)
	}
	if err := s.SetDisplayName(ctx, "lmn1alice", emptyDirV0, "backups"); err != nil {
		t.Fatalf("set name: %v", err)
	}

	if err := s.RemoveWalletRefs(ctx, "lmn1alice", emptyDirV1); err != nil {
		t.Fatalf("remove refs: %v", err)
	}

	if ok, _ := s.HasWalletRoot(ctx, "lmn1alice", emptyDirV0); ok {
		t.Errorf("Expected root row to be gone")
	}
	if ok, _ := s.HasWalletPin(ctx, "lmn1alice", emptyDirV0); ok {
		t.Errorf("Expected pin row to be gone")
	}
	if name, _ := s.DisplayName(ctx, "lmn1alice", emptyDirV0); name != "" {
		t.Errorf("Expected display name to be gone. Got: %q", name)
	}
}

func TestListWalletCIDs_Pagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		if err := s.AddPin(ctx, "lmn1alice", fmt.Sprintf("pin-%03d", i)); err != nil {
			t.Fatalf("add pin %d: %v", i, err)
		}
	}

	page0, total, err := s.ListWalletCIDs(ctx, "lmn1alice", 0)
	if err != nil {
		t.Fatalf("list page 0: %v", err)
	}
	if total != 250 {
		t.Errorf("Expected total 250. Got: %d", total)
	}
	if len(page0) != ListPageSize {
		t.Errorf("Expected a full page of %d. Got: %d", ListPageSize, len(page0))
	}

	page1, _, err := s.ListWalletCIDs(ctx, "lmn1alice", 1)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(page1) != 50 {
		t.Errorf("Expected 50 rows on page 1. Got: %d", len(page1))
	}

	page2, _, err := s.ListWalletCIDs(ctx, "lmn1alice", 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2) != 0 {
		t.Errorf("Expected empty page 2. Got: %d", len(page2))
	}
}

func TestListWalletCIDs_MergesRootAndPinOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddOrUpdateWalletRoots(ctx, "lmn1alice", []string{"cid-x"}, 42); err != nil {
		t.Fatalf("add root: %v", err)
	}
	if err := s.AddPin(ctx, "lmn1alice", "cid-x"); err != nil {
		t.Fatalf("add pin: %v", err)
	}
	if err := s.SetDisplayName(ctx, "lmn1alice", "cid-x", "site"); err != nil {
		t.Fatalf("set name: %v", err)
	}

	rows, total, err := s.ListWalletCIDs(ctx, "lmn1alice", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("Expected the CID once. Got total=%d rows=%d", total, len(rows))
	}
	if rows[0].Source != "root" {
		t.Errorf("Expected root rank to win. Got: %s", rows[0].Source)
	}
	if rows[0].DisplayName != "site" {
		t.Errorf("Expected display name to ride along. Got: %q", rows[0].DisplayName)
	}
}

func TestUpdatePlan_CreatesAndReads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpdatePlan(ctx, "lmn1carol", "plan-7", 1900000000000, 1700000000000); err != nil {
		t.Fatalf("update plan: %v", err)
	}
	rec, err := s.Wallet(ctx, "lmn1carol")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if rec == nil {
		t.Fatalf("Expected wallet row to exist")
	}
	if rec.PlanID != "plan-7" || rec.PlanExpiresAt != 1900000000000 {
		t.Errorf("Expected plan-7 / 1900000000000. Got: %s / %d", rec.PlanID, rec.PlanExpiresAt)
	}

	unknown, err := s.Wallet(ctx, "lmn1nobody")
	if err != nil {
		t.Fatalf("wallet lookup: %v", err)
	}
	if unknown != nil {
		t.Errorf("Expected nil for unknown wallet. Got: %+v", unknown)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.AddPin(ctx, "lmn1alice", "cid-tx"); err != nil {
			return err
		}
		// Nested scope must see the uncommitted row.
		return s.WithTx(ctx, func(ctx context.Context) error {
			ok, err := s.HasWalletPin(ctx, "lmn1alice", "cid-tx")
			if err != nil {
				return err
			}
			if !ok {
				t.Errorf("Expected nested scope to observe the pending insert")
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the inner error to surface. Got: %v", err)
	}

	if ok, _ := s.HasWalletPin(ctx, "lmn1alice", "cid-tx"); ok {
		t.Errorf("Expected rollback to discard the pin")
	}
}

func TestCountWalletsReplicating_Window(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddPin(ctx, "lmn1alice", "cid-r"); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if err := s.AddOrUpdateWalletRoots(ctx, "lmn1bob", []string{"cid-r"}, 1); err != nil {
		t.Fatalf("root: %v", err)
	}

	n, err := s.CountWalletsReplicating(ctx, []string{"cid-r"}, 0)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 replicating wallets. Got: %d", n)
	}

	future := time.Now().Add(time.Hour).UnixMilli()
	n, err = s.CountWalletsReplicating(ctx, []string{"cid-r"}, future)
	if err != nil {
		t.Fatalf("count with window: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 wallets inside a future window. Got: %d", n)
	}
}

func TestUsageStore_RecordCountPurge(t *testing.T) {
	u, err := OpenUsage(filepath.Join(t.TempDir(), "usage.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open usage store: %v", err)
	}
	defer u.Close()
	ctx := context.Background()

	now := time.Now().UnixMilli()
	old := now - 100*24*time.Hour.Milliseconds()

	if err := u.RecordView(ctx, "cid-u", "lmn1alice", 200, true, now); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := u.RecordView(ctx, "cid-u", "lmn1bob", 200, true, now); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := u.RecordView(ctx, "cid-u", "lmn1carol", 502, false, now); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := u.RecordView(ctx, "cid-u", "lmn1dave", 200, true, old); err != nil {
		t.Fatalf("record: %v", err)
	}

	weekAgo := now - 7*24*time.Hour.Milliseconds()
	n, err := u.CountOkWallets(ctx, []string{"cid-u"}, weekAgo)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 ok wallets in the window (carol failed, dave stale). Got: %d", n)
	}

	cutoff := now - UsageRetention.Milliseconds()
	removed, err := u.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected to purge dave's stale row. Got: %d", removed)
	}
}
