// Package pins implements the pin/unpin control plane: chain-gated pinning
// into the CAS daemon, logical-pin refcounting across wallet_roots and
// wallet_pins, and last-owner teardown.
package pins

import (
	"context"

	logging "github.com/ipfs/go-log/v2"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
	"github.com/lumen-network/lumen-gateway/internal/chain"
	"github.com/lumen-network/lumen-gateway/internal/events"
	"github.com/lumen-network/lumen-gateway/internal/kubo"
	"github.com/lumen-network/lumen-gateway/internal/walletdb"
)

var log = logging.Logger("gateway/pins")

// Controller coordinates CAS-daemon pin state with the wallet store's
// logical ownership rows.
type Controller struct {
	kubo      *kubo.Client
	store     *walletdb.Store
	validator *chain.Validator
	emitter   *events.Emitter
}

// NewController wires the controller's collaborators.
func NewController(kc *kubo.Client, store *walletdb.Store, validator *chain.Validator, emitter *events.Emitter) *Controller {
	return &Controller{kubo: kc, store: store, validator: validator, emitter: emitter}
}

// Pin pins a CID for a wallet: chain liveness gate, CAS-daemon pin/add,
// then the wallet_pins row. Re-pinning an already-pinned CID is a no-op at
// the store level but still refreshes the daemon pin.
func (c *Controller) Pin(ctx context.Context, wallet, cid string) error {
	if err := c.validator.EnsureChainOnline(ctx); err != nil {
		return err
	}
	if err := c.kubo.PinAdd(ctx, cid); err != nil {
		return apperr.Wrap(apperr.KindIPFSPinFailed, "daemon pin failed", err)
	}
	if err := c.store.AddPin(ctx, wallet, cid); err != nil {
		return apperr.Wrap(apperr.KindInternal, "pin bookkeeping failed", err)
	}
	c.emitter.EmitPin(wallet, cid)
	return nil
}

// UnpinResult reports what an unpin changed.
type UnpinResult struct {
	// Changed is false when the wallet held no reference to begin with.
	Changed bool
	// Physical is true when the CAS daemon pin itself was removed (the
	// wallet was the last logical owner).
	Physical bool
}

// Unpin releases a wallet's claim on a CID. The daemon pin is only removed
// when the wallet is the last logical owner across wallet_roots and
// wallet_pins, counted under CID-variant expansion. Row removal and
// display-name cleanup happen in one transaction.
func (c *Controller) Unpin(ctx context.Context, wallet, cid string) (UnpinResult, error) {
	hasPin, err := c.store.HasWalletPin(ctx, wallet, cid)
	if err != nil {
		return UnpinResult{}, apperr.Wrap(apperr.KindInternal, "pin lookup failed", err)
	}
	hasRoot, err := c.store.HasWalletRoot(ctx, wallet, cid)
	if err != nil {
		return UnpinResult{}, apperr.Wrap(apperr.KindInternal, "root lookup failed", err)
	}

	if !hasPin && !hasRoot {
		// Idempotent: nothing to release. A lingering display name from an
		// earlier ownership still goes away.
		if err := c.store.ClearDisplayName(ctx, wallet, cid); err != nil {
			log.Warnw("display name cleanup failed", "wallet", wallet, "cid", cid, "err", err)
		}
		return UnpinResult{Changed: false}, nil
	}

	owners, err := c.store.WalletsForRootCID(ctx, cid)
	if err != nil {
		return UnpinResult{}, apperr.Wrap(apperr.KindInternal, "owner lookup failed", err)
	}

	if lastOwner(owners, wallet) {
		// The daemon pin goes first: if pin/rm fails the DB stays intact
		// and the client can retry.
		if err := c.kubo.PinRm(ctx, cid); err != nil {
			return UnpinResult{}, apperr.Wrap(apperr.KindIPFSUnpinFailed, "daemon unpin failed", err)
		}
		if err := c.store.RemoveWalletRefs(ctx, wallet, cid); err != nil {
			return UnpinResult{}, apperr.Wrap(apperr.KindInternal, "unpin bookkeeping failed", err)
		}
		c.emitter.EmitUnpin(wallet, cid)
		return UnpinResult{Changed: true, Physical: true}, nil
	}

	// Other wallets still hold the content: only this wallet's rows go.
	if err := c.store.RemoveWalletRefs(ctx, wallet, cid); err != nil {
		return UnpinResult{}, apperr.Wrap(apperr.KindInternal, "unpin bookkeeping failed", err)
	}
	c.emitter.EmitUnpin(wallet, cid)
	return UnpinResult{Changed: true}, nil
}

// IsPinned reports the wallet-scoped pin view: the daemon must hold a
// recursive pin AND the wallet must own a root or pin row. The AND keeps
// one tenant from observing another tenant's pins.
func (c *Controller) IsPinned(ctx context.Context, wallet, cid string) (bool, error) {
	hasRoot, err := c.store.HasWalletRoot(ctx, wallet, cid)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "root lookup failed", err)
	}
	hasPin := false
	if !hasRoot {
		hasPin, err = c.store.HasWalletPin(ctx, wallet, cid)
		if err != nil {
			return false, apperr.Wrap(apperr.KindInternal, "pin lookup failed", err)
		}
	}
	if !hasRoot && !hasPin {
		return false, nil
	}

	global, err := c.kubo.IsPinnedRecursive(ctx, cid)
	if err != nil {
		return false, apperr.Wrap(apperr.KindIPFSUnavailable, "daemon pin listing failed", err)
	}
	return global, nil
}

// lastOwner reports whether wallet is the only logical owner in the set.
// An empty set (rows raced away) also counts as last owner: the daemon pin
// has nobody left claiming it.
func lastOwner(owners []string, wallet string) bool {
	for _, o := range owners {
		if o != wallet {
			return false
		}
	}
	return true
}
