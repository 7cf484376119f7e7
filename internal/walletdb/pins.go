package walletdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lumen-network/lumen-gateway/internal/cidutil"
)

// ListPageSize is the fixed page size of ListWalletCIDs.
const ListPageSize = 200

// WalletCID is one row of the paginated wallet listing.
type WalletCID struct {
	CID            string `json:"cid"`
	Source         string `json:"source"` // "root" or "pin"
	DisplayName    string `json:"display_name,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	BytesEstimated int64  `json:"bytes_estimated,omitempty"`
}

// AddPin records an explicit pin, creating the wallet row when needed.
// Re-pinning is a no-op.
func (s *Store) AddPin(ctx context.Context, wallet, cid string) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.UpsertWallet(ctx, wallet); err != nil {
			return err
		}
		_, err := s.write(ctx).ExecContext(ctx,
			`INSERT INTO wallet_pins (wallet, cid, created_at) VALUES (?, ?, ?)
			 ON CONFLICT (wallet, cid) DO NOTHING`,
			wallet, cid, nowMs())
		if err != nil {
			return fmt.Errorf("failed to add pin: %w", err)
		}
		return nil
	})
}

// HasWalletPin reports whether the wallet pinned any spelling of the CID.
func (s *Store) HasWalletPin(ctx context.Context, wallet, cid string) (bool, error) {
	variants := cidutil.ExpandVariants(cid)
	if len(variants) == 0 {
		return false, nil
	}
	args := append([]any{wallet}, anyArgs(variants)...)
	var n int
	err := s.read(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wallet_pins
		 WHERE wallet = ? AND cid IN (`+placeholders(len(variants))+`)`,
		args...).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check wallet pin: %w", err)
	}
	return n > 0, nil
}

// CountPinsForCID counts distinct wallets pinning any spelling of the CID.
func (s *Store) CountPinsForCID(ctx context.Context, cid string) (int, error) {
	variants := cidutil.ExpandVariants(cid)
	if len(variants) == 0 {
		return 0, nil
	}
	var n int
	err := s.read(ctx).QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT wallet) FROM wallet_pins WHERE cid IN (`+placeholders(len(variants))+`)`,
		anyArgs(variants)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pins: %w", err)
	}
	return n, nil
}

// RemoveWalletRefs deletes the wallet's pin rows, root rows, and display
// name for every spelling of the CID, atomically.
func (s *Store) RemoveWalletRefs(ctx context.Context, wallet, cid string) error {
	variants := cidutil.ExpandVariants(cid)
	if len(variants) == 0 {
		return nil
	}
	ph := placeholders(len(variants))
	args := append([]any{wallet}, anyArgs(variants)...)

	return s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.write(ctx).ExecContext(ctx,
			`DELETE FROM wallet_pins WHERE wallet = ? AND cid IN (`+ph+`)`, args...); err != nil {
			return fmt.Errorf("failed to delete pins: %w", err)
		}
		if _, err := s.write(ctx).ExecContext(ctx,
			`DELETE FROM wallet_roots WHERE wallet = ? AND root_cid IN (`+ph+`)`, args...); err != nil {
			return fmt.Errorf("failed to delete roots: %w", err)
		}
		if _, err := s.write(ctx).ExecContext(ctx,
			`DELETE FROM wallet_cid_metadata WHERE wallet = ? AND cid IN (`+ph+`)`, args...); err != nil {
			return fmt.Errorf("failed to delete metadata: %w", err)
		}
		return nil
	})
}

// ListWalletCIDs returns one page (ListPageSize rows) of the wallet's
// holdings, roots and pins merged, newest first, plus the total row count.
// page is zero-based.
func (s *Store) ListWalletCIDs(ctx context.Context, wallet string, page int) ([]WalletCID, int, error) {
	if page < 0 {
		page = 0
	}

	const base = `
		SELECT r.root_cid AS cid, 'root' AS source, r.created_at AS created_at, COALESCE(r.bytes_estimated, 0) AS bytes,
		       COALESCE(m.display_name, '') AS display_name
		FROM wallet_roots r
		LEFT JOIN wallet_cid_metadata m ON m.wallet = r.wallet AND m.cid = r.root_cid
		WHERE r.wallet = ? AND r.status = 'active'
		UNION ALL
		SELECT p.cid AS cid, 'pin' AS source, p.created_at, 0 AS bytes,
		       COALESCE(m.display_name, '') AS display_name
		FROM wallet_pins p
		LEFT JOIN wallet_cid_metadata m ON m.wallet = p.wallet AND m.cid = p.cid
		WHERE p.wallet = ?
		  AND NOT EXISTS (
		    SELECT 1 FROM wallet_roots r2
		    WHERE r2.wallet = p.wallet AND r2.root_cid = p.cid AND r2.status = 'active'
		  )`

	var total int
	if err := s.read(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (`+base+`)`, wallet, wallet).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count wallet cids: %w", err)
	}

	rows, err := s.read(ctx).QueryContext(ctx,
		base+` ORDER BY created_at DESC, cid ASC LIMIT ? OFFSET ?`,
		wallet, wallet, ListPageSize, page*ListPageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list wallet cids: %w", err)
	}
	defer rows.Close()

	var out []WalletCID
	for rows.Next() {
		var (
			rec  WalletCID
			name sql.NullString
		)
		if err := rows.Scan(&rec.CID, &rec.Source, &rec.CreatedAt, &rec.BytesEstimated, &name); err != nil {
			return nil, 0, err
		}
		rec.DisplayName = name.String
		out = append(out, rec)
	}
	return out, total, rows.Err()
}
