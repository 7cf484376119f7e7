package chain

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
	"github.com/lumen-network/lumen-gateway/internal/walletdb"
)

var log = logging.Logger("gateway/chain")

const (
	// planCacheTTL bounds how stale a successful plan validation may be
	// before a mutating operation forces a re-check.
	planCacheTTL = 5 * time.Minute

	// livenessTTL caches a successful chain probe for the /pin gate.
	livenessTTL = 60 * time.Second

	// paramsCacheTTL: month_seconds changes by governance, not per block.
	paramsCacheTTL = 10 * time.Minute

	bytesPerGB = int64(1) << 30
)

// PlanInfo is the resolved plan tuple for a wallet.
type PlanInfo struct {
	Wallet      string `json:"wallet"`
	PlanID      string `json:"plan_id"`
	QuotaBytes  int64  `json:"quota_bytes"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
	CheckedAtMs int64  `json:"checked_at_ms"`
}

// Validator resolves and caches wallet plans against the chain and keeps
// the wallets table in sync.
type Validator struct {
	chain *Client
	store *walletdb.Store

	mu         sync.Mutex
	plans      map[string]*PlanInfo
	params     *Params
	paramsAt   time.Time
	livenessAt time.Time

	now func() time.Time
}

// NewValidator wires the chain client and the wallet store.
func NewValidator(chain *Client, store *walletdb.Store) *Validator {
	return &Validator{
		chain: chain,
		store: store,
		plans: make(map[string]*PlanInfo),
		now:   time.Now,
	}
}

// EnsureWalletPlanOk returns the wallet's current plan, re-validating
// against the chain when the cached result is older than the TTL. Chain
// fetch failures surface as chain_unreachable; a wallet without a usable
// contract fails plan validation.
func (v *Validator) EnsureWalletPlanOk(ctx context.Context, wallet string) (*PlanInfo, error) {
	now := v.now()

	v.mu.Lock()
	if p, ok := v.plans[wallet]; ok && now.UnixMilli()-p.CheckedAtMs < planCacheTTL.Milliseconds() {
		v.mu.Unlock()
		return p, nil
	}
	v.mu.Unlock()

	contracts, err := v.chain.ContractsByClient(ctx, wallet)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindChainUnreachable, "contract lookup failed", err)
	}
	contract := pickContract(contracts)
	if contract == nil {
		return nil, apperr.New(apperr.KindPlanValidationFailed, "wallet has no storage contract")
	}

	params, err := v.cachedParams(ctx, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindChainUnreachable, "params lookup failed", err)
	}

	start, _ := contract.StartSeconds.Int64()
	months, _ := contract.MonthsTotal.Int64()
	gb, _ := contract.StorageGBPerMonth.Float64()

	plan := &PlanInfo{
		Wallet:      wallet,
		PlanID:      planID(contract),
		QuotaBytes:  int64(gb * float64(bytesPerGB)),
		ExpiresAtMs: (start + months*params.MonthSeconds) * 1000,
		CheckedAtMs: now.UnixMilli(),
	}

	if err := v.store.UpdatePlan(ctx, wallet, plan.PlanID, plan.ExpiresAtMs, plan.CheckedAtMs); err != nil {
		// The resolved plan is still authoritative; the row catches up on
		// the next check.
		log.Warnw("plan persist failed", "wallet", wallet, "err", err)
	}

	v.mu.Lock()
	v.plans[wallet] = plan
	// A successful contract fetch is also proof of chain liveness.
	v.livenessAt = now
	v.mu.Unlock()
	return plan, nil
}

// EnsureChainOnline is the cheap liveness gate for /pin: any successful
// chain call within the TTL passes; otherwise one params probe decides.
func (v *Validator) EnsureChainOnline(ctx context.Context) error {
	now := v.now()

	v.mu.Lock()
	fresh := now.Sub(v.livenessAt) < livenessTTL
	v.mu.Unlock()
	if fresh {
		return nil
	}

	if _, err := v.cachedParams(ctx, now); err != nil {
		return apperr.Wrap(apperr.KindChainUnreachable, "chain liveness probe failed", err)
	}
	v.mu.Lock()
	v.livenessAt = now
	v.mu.Unlock()
	return nil
}

// Invalidate drops a wallet's cached plan (used by tests and by forced
// re-validation paths).
func (v *Validator) Invalidate(wallet string) {
	v.mu.Lock()
	delete(v.plans, wallet)
	v.mu.Unlock()
}

func (v *Validator) cachedParams(ctx context.Context, now time.Time) (*Params, error) {
	v.mu.Lock()
	if v.params != nil && now.Sub(v.paramsAt) < paramsCacheTTL {
		p := v.params
		v.mu.Unlock()
		return p, nil
	}
	v.mu.Unlock()

	params, err := v.chain.Params(ctx)
	if err != nil {
		return nil, err
	}
	if params.MonthSeconds <= 0 {
		// A chain that answers with no month length cannot price plans;
		// fall back to 30 days rather than zeroing every expiry.
		params.MonthSeconds = 30 * 24 * 3600
	}

	v.mu.Lock()
	v.params = params
	v.paramsAt = now
	v.livenessAt = now
	v.mu.Unlock()
	return params, nil
}

// pickContract filters to contracts whose status contains ACTIVE (falling
// back to the full list when none do) and picks the largest numeric id.
func pickContract(contracts []Contract) *Contract {
	if len(contracts) == 0 {
		return nil
	}

	active := make([]Contract, 0, len(contracts))
	for _, c := range contracts {
		if strings.Contains(strings.ToUpper(c.Status), "ACTIVE") {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		active = contracts
	}

	best := 0
	bestID := numericID(active[0])
	for i := 1; i < len(active); i++ {
		if id := numericID(active[i]); id > bestID {
			best, bestID = i, id
		}
	}
	return &active[best]
}

func numericID(c Contract) int64 {
	if id, err := c.ID.Int64(); err == nil {
		return id
	}
	if f, err := c.ID.Float64(); err == nil {
		return int64(f)
	}
	return -1
}

func planID(c *Contract) string {
	if c.PlanID != "" {
		return c.PlanID
	}
	if id, err := c.ID.Int64(); err == nil {
		return strconv.FormatInt(id, 10)
	}
	return c.ID.String()
}
