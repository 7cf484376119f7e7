package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
	"github.com/lumen-network/lumen-gateway/internal/kubo"
	"github.com/lumen-network/lumen-gateway/internal/pqcrypto"
)

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleStatus reports gateway identity plus a cached CAS-daemon liveness
// probe.
func (h *Handler) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": h.cfg.Version,
		"region":  h.cfg.Region,
		"public":  h.cfg.PublicEndpoint,
		"ipfs":    gin.H{"online": h.daemonLive(c)},
		"time":    h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) daemonLive(c *gin.Context) bool {
	h.probeMu.Lock()
	fresh := h.now().Sub(h.daemonProbedAt) < daemonProbeTTL
	online := h.daemonOnline
	h.probeMu.Unlock()
	if fresh {
		return online
	}

	_, err := h.kubo.Version(c.Request.Context())
	online = err == nil

	h.probeMu.Lock()
	h.daemonOnline = online
	h.daemonProbedAt = h.now()
	h.probeMu.Unlock()
	return online
}

func (h *Handler) handlePQPub(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"alg":         pqcrypto.AlgKyber768,
		"key_id":      h.pqctx.KeyID(),
		"pub":         h.pqctx.PublicKeyBase64(),
		"pubkey_hash": h.pqctx.PublicKeyHashBase64(),
	})
}

// planCatalog is the static pricing table the gateway ships with. Quotas
// and prices are per month; the chain's month length is attached when
// reachable.
var planCatalog = []gin.H{
	{"id": "basic", "name": "Basic", "storage_gb_per_month": 10, "price_ulmn_per_month": "5000000"},
	{"id": "plus", "name": "Plus", "storage_gb_per_month": 100, "price_ulmn_per_month": "40000000"},
	{"id": "pro", "name": "Pro", "storage_gb_per_month": 1000, "price_ulmn_per_month": "300000000"},
}

func (h *Handler) handlePricing(c *gin.Context) {
	plans := make([]gin.H, 0, len(planCatalog))
	monthSeconds := h.cachedMonthSeconds(c)
	for _, p := range planCatalog {
		plan := gin.H{}
		for k, v := range p {
			plan[k] = v
		}
		if monthSeconds > 0 {
			plan["month_seconds"] = monthSeconds
		}
		plans = append(plans, plan)
	}
	c.JSON(http.StatusOK, plans)
}

func (h *Handler) cachedMonthSeconds(c *gin.Context) int64 {
	h.probeMu.Lock()
	fresh := h.now().Sub(h.paramsProbedAt) < paramsProbeTTL
	cached := h.monthSeconds
	h.probeMu.Unlock()
	if fresh {
		return cached
	}

	var monthSeconds int64
	if params, err := h.chain.Params(c.Request.Context()); err == nil {
		monthSeconds = params.MonthSeconds
	}

	h.probeMu.Lock()
	h.monthSeconds = monthSeconds
	h.paramsProbedAt = h.now()
	h.probeMu.Unlock()
	return monthSeconds
}

// handleIPFSSeed publishes the daemon's peer identity with only the
// multiaddrs an external peer could actually dial.
func (h *Handler) handleIPFSSeed(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := h.kubo.ID(ctx)
	if err != nil {
		e := apperr.Wrap(apperr.KindIPFSUnavailable, "CAS daemon identity unavailable", err)
		c.JSON(apperr.HTTPStatus(e), apperr.Payload(e))
		return
	}

	addrs := id.Addresses
	if listen, err := h.kubo.SwarmListenAddrs(ctx); err == nil {
		addrs = append(addrs, listen...)
	}

	usable := kubo.FilterPublicAddrs(addrs, id.ID)
	if len(usable) == 0 {
		e := apperr.New(apperr.KindNoUsableMultiaddrs, "no publicly dialable multiaddrs")
		c.JSON(apperr.HTTPStatus(e), apperr.Payload(e))
		return
	}

	c.JSON(http.StatusOK, gin.H{"peerId": id.ID, "multiaddrs": usable})
}
