package walletdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WalletRecord mirrors one row of the wallets table. PlanID is empty and
// PlanExpiresAt zero until the plan validator has resolved a contract.
type WalletRecord struct {
	Wallet           string `json:"wallet"`
	PlanID           string `json:"plan_id,omitempty"`
	PlanExpiresAt    int64  `json:"plan_expires_at,omitempty"`
	LastChainCheckAt int64  `json:"last_chain_check_at"`
	CreatedAt        int64  `json:"created_at"`
}

// UpsertWallet creates the wallet row if it does not exist yet. Wallets are
// created lazily on first authenticated action and never deleted here.
func (s *Store) UpsertWallet(ctx context.Context, wallet string) error {
	_, err := s.write(ctx).ExecContext(ctx,
		`INSERT INTO wallets (wallet, created_at) VALUES (?, ?)
		 ON CONFLICT (wallet) DO NOTHING`,
		wallet, nowMs())
	if err != nil {
		return fmt.Errorf("failed to upsert wallet: %w", err)
	}
	return nil
}

// TouchChainCheck stamps the time the plan validator last confirmed this
// wallet against the chain.
func (s *Store) TouchChainCheck(ctx context.Context, wallet string, atMs int64) error {
	_, err := s.write(ctx).ExecContext(ctx,
		`UPDATE wallets SET last_chain_check_at = ? WHERE wallet = ?`,
		atMs, wallet)
	if err != nil {
		return fmt.Errorf("failed to touch chain check: %w", err)
	}
	return nil
}

// UpdatePlan records the validator's resolved plan tuple, creating the
// wallet row when needed.
func (s *Store) UpdatePlan(ctx context.Context, wallet, planID string, expiresAtMs, checkedAtMs int64) error {
	_, err := s.write(ctx).ExecContext(ctx,
		`INSERT INTO wallets (wallet, plan_id, plan_expires_at, last_chain_check_at, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (wallet) DO UPDATE SET
		   plan_id = excluded.plan_id,
		   plan_expires_at = excluded.plan_expires_at,
		   last_chain_check_at = excluded.last_chain_check_at`,
		wallet, planID, expiresAtMs, checkedAtMs, nowMs())
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	return nil
}

// Wallet fetches one wallet record; (nil, nil) when the wallet is unknown.
func (s *Store) Wallet(ctx context.Context, wallet string) (*WalletRecord, error) {
	var (
		rec     WalletRecord
		planID  sql.NullString
		expires sql.NullInt64
	)
	err := s.read(ctx).QueryRowContext(ctx,
		`SELECT wallet, plan_id, plan_expires_at, last_chain_check_at, created_at
		 FROM wallets WHERE wallet = ?`, wallet).
		Scan(&rec.Wallet, &planID, &expires, &rec.LastChainCheckAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	rec.PlanID = planID.String
	rec.PlanExpiresAt = expires.Int64
	return &rec, nil
}
