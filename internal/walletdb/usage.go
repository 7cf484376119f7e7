package walletdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/lumen-network/lumen-gateway/internal/cidutil"
)

//go:embed usage_schema.sql
var usageSchemaSQL string

// UsageRetention is how long view rows are kept before the purge loop
// drops them.
const UsageRetention = 90 * 24 * time.Hour

// UsageStore tracks authenticated content views per (cid, wallet). It backs
// the popularity signal and the balance-gated view bookkeeping.
type UsageStore struct {
	writer *sql.DB
	reader *sql.DB
}

// OpenUsage opens (creating if needed) the usage database at path.
func OpenUsage(path string, busyTimeout time.Duration) (*UsageStore, error) {
	writer, reader, err := openPair(path, busyTimeout)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Exec(usageSchemaSQL); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("failed to initialize usage schema: %w", err)
	}
	log.Infow("usage store opened", "path", path)
	return &UsageStore{writer: writer, reader: reader}, nil
}

// Close closes both connection pools.
func (u *UsageStore) Close() error {
	rerr := u.reader.Close()
	if err := u.writer.Close(); err != nil {
		return err
	}
	return rerr
}

// RecordView upserts the latest access of a CID by a wallet.
func (u *UsageStore) RecordView(ctx context.Context, cid, wallet string, status int, ok bool, atMs int64) error {
	okInt := 0
	if ok {
		okInt = 1
	}
	_, err := u.writer.ExecContext(ctx,
		`INSERT INTO cid_wallet_usage (cid, wallet, last_access_at, last_status, last_ok)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (cid, wallet) DO UPDATE SET
		   last_access_at = excluded.last_access_at,
		   last_status = excluded.last_status,
		   last_ok = excluded.last_ok`,
		cid, wallet, atMs, status, okInt)
	if err != nil {
		return fmt.Errorf("failed to record view: %w", err)
	}
	return nil
}

// CountOkWallets counts distinct wallets that successfully viewed any of
// the CIDs since sinceMs (variant-blind).
func (u *UsageStore) CountOkWallets(ctx context.Context, cids []string, sinceMs int64) (int, error) {
	if len(cids) == 0 {
		return 0, nil
	}
	var variants []string
	for _, c := range cids {
		variants = append(variants, cidutil.ExpandVariants(c)...)
	}
	args := append(anyArgs(variants), sinceMs)

	var n int
	err := u.reader.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT wallet) FROM cid_wallet_usage
		 WHERE cid IN (`+placeholders(len(variants))+`) AND last_ok = 1 AND last_access_at >= ?`,
		args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count ok wallets: %w", err)
	}
	return n, nil
}

// PurgeOlderThan deletes rows last touched before cutoffMs and returns how
// many went away.
func (u *UsageStore) PurgeOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	res, err := u.writer.ExecContext(ctx,
		`DELETE FROM cid_wallet_usage WHERE last_access_at < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("failed to purge usage rows: %w", err)
	}
	return res.RowsAffected()
}
