package walletdb

import (
	"context"
	"fmt"

	"github.com/lumen-network/lumen-gateway/internal/cidutil"
)

// SetDisplayName upserts the display name a wallet assigned to a CID.
func (s *Store) SetDisplayName(ctx context.Context, wallet, cid, name string) error {
	now := nowMs()
	_, err := s.write(ctx).ExecContext(ctx,
		`INSERT INTO wallet_cid_metadata (wallet, cid, display_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (wallet, cid) DO UPDATE SET
		   display_name = excluded.display_name,
		   updated_at = excluded.updated_at`,
		wallet, cid, name, now, now)
	if err != nil {
		return fmt.Errorf("failed to set display name: %w", err)
	}
	return nil
}

// ClearDisplayName removes the name under every spelling of the CID.
func (s *Store) ClearDisplayName(ctx context.Context, wallet, cid string) error {
	variants := cidutil.ExpandVariants(cid)
	if len(variants) == 0 {
		return nil
	}
	args := append([]any{wallet}, anyArgs(variants)...)
	_, err := s.write(ctx).ExecContext(ctx,
		`DELETE FROM wallet_cid_metadata WHERE wallet = ? AND cid IN (`+placeholders(len(variants))+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to clear display name: %w", err)
	}
	return nil
}

// DisplayName fetches the name for any spelling of the CID; empty when none.
func (s *Store) DisplayName(ctx context.Context, wallet, cid string) (string, error) {
	variants := cidutil.ExpandVariants(cid)
	if len(variants) == 0 {
		return "", nil
	}
	args := append([]any{wallet}, anyArgs(variants)...)
	rows, err := s.read(ctx).QueryContext(ctx,
		`SELECT COALESCE(display_name, '') FROM wallet_cid_metadata
		 WHERE wallet = ? AND cid IN (`+placeholders(len(variants))+`)
		 ORDER BY updated_at DESC LIMIT 1`,
		args...)
	if err != nil {
		return "", fmt.Errorf("failed to load display name: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		return name, nil
	}
	return "", rows.Err()
}
