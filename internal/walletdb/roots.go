package walletdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lumen-network/lumen-gateway/internal/cidutil"
)

// RootStatusActive / RootStatusRemoved are the only wallet_roots states.
const (
	RootStatusActive  = "active"
	RootStatusRemoved = "removed"
)

// RootsSummary aggregates a wallet's root rows for the usage rollup.
type RootsSummary struct {
	Total          int   `json:"total"`
	Active         int   `json:"active"`
	BytesEstimated int64 `json:"bytes_estimated"`
}

// AddOrUpdateWalletRoots records the distinct roots of one CAR import.
// The upload's byte count is split evenly across roots; re-importing a root
// refreshes its estimate and reactivates it. The whole write is one
// transaction.
func (s *Store) AddOrUpdateWalletRoots(ctx context.Context, wallet string, roots []string, totalBytes int64) error {
	if len(roots) == 0 {
		return nil
	}
	perRoot := totalBytes / int64(len(roots))

	return s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.UpsertWallet(ctx, wallet); err != nil {
			return err
		}
		now := nowMs()
		for _, root := range roots {
			_, err := s.write(ctx).ExecContext(ctx,
				`INSERT INTO wallet_roots (wallet, root_cid, created_at, bytes_estimated, status)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (wallet, root_cid) DO UPDATE SET
				   bytes_estimated = excluded.bytes_estimated,
				   status = excluded.status`,
				wallet, root, now, perRoot, RootStatusActive)
			if err != nil {
				return fmt.Errorf("failed to upsert wallet root %s: %w", root, err)
			}
		}
		return nil
	})
}

// RootsSummary reports total/active root counts and the summed byte
// estimate of active roots.
func (s *Store) RootsSummary(ctx context.Context, wallet string) (RootsSummary, error) {
	var (
		sum   RootsSummary
		bytes sql.NullInt64
	)
	err := s.read(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = ? THEN bytes_estimated ELSE 0 END), 0)
		 FROM wallet_roots WHERE wallet = ?`,
		RootStatusActive, RootStatusActive, wallet).
		Scan(&sum.Total, &sum.Active, &bytes)
	if err != nil {
		return RootsSummary{}, fmt.Errorf("failed to summarize roots: %w", err)
	}
	sum.BytesEstimated = bytes.Int64
	return sum, nil
}

// WalletsForRootCID returns every wallet holding the CID as an active root
// or an explicit pin, matching any spelling of the CID.
func (s *Store) WalletsForRootCID(ctx context.Context, cid string) ([]string, error) {
	variants := cidutil.ExpandVariants(cid)
	if len(variants) == 0 {
		return nil, nil
	}
	ph := placeholders(len(variants))
	args := anyArgs(variants)

	query := `SELECT DISTINCT wallet FROM (
	            SELECT wallet FROM wallet_roots WHERE status = '` + RootStatusActive + `' AND root_cid IN (` + ph + `)
	            UNION
	            SELECT wallet FROM wallet_pins WHERE cid IN (` + ph + `)
	          ) ORDER BY wallet`
	rows, err := s.read(ctx).QueryContext(ctx, query, append(args, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query root owners: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// HasWalletRoot reports whether the wallet holds an active root row for any
// spelling of the CID.
func (s *Store) HasWalletRoot(ctx context.Context, wallet, cid string) (bool, error) {
	variants := cidutil.ExpandVariants(cid)
	if len(variants) == 0 {
		return false, nil
	}
	args := append([]any{wallet, RootStatusActive}, anyArgs(variants)...)
	var n int
	err := s.read(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wallet_roots
		 WHERE wallet = ? AND status = ? AND root_cid IN (`+placeholders(len(variants))+`)`,
		args...).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check wallet root: %w", err)
	}
	return n > 0, nil
}

// CountWalletsReplicating counts distinct wallets holding any of the given
// CIDs (roots or pins, variant-blind). sinceMs > 0 restricts to rows
// created in the window; 0 means no window.
func (s *Store) CountWalletsReplicating(ctx context.Context, cids []string, sinceMs int64) (int, error) {
	if len(cids) == 0 {
		return 0, nil
	}
	var variants []string
	for _, c := range cids {
		variants = append(variants, cidutil.ExpandVariants(c)...)
	}
	ph := placeholders(len(variants))
	args := anyArgs(variants)

	query := `SELECT COUNT(DISTINCT wallet) FROM (
	            SELECT wallet, created_at FROM wallet_roots WHERE status = '` + RootStatusActive + `' AND root_cid IN (` + ph + `)
	            UNION ALL
	            SELECT wallet, created_at FROM wallet_pins WHERE cid IN (` + ph + `)
	          ) WHERE created_at >= ?`
	var n int
	all := append(append(args, args...), sinceMs)
	if err := s.read(ctx).QueryRowContext(ctx, query, all...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count replicating wallets: %w", err)
	}
	return n, nil
}
