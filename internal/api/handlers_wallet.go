package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
	"github.com/lumen-network/lumen-gateway/internal/cidutil"
	"github.com/lumen-network/lumen-gateway/internal/kubo"
	"github.com/lumen-network/lumen-gateway/internal/search"
	"github.com/lumen-network/lumen-gateway/internal/walletdb"
)

const balanceDenom = "ulmn"

// bindPayload decodes the envelope payload into v. A missing payload binds
// the zero value.
func bindPayload(c *gin.Context, v any) error {
	sess := session(c)
	if sess == nil || len(sess.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(sess.Payload, v); err != nil {
		return apperr.Wrap(apperr.KindPQBadEnvelope, "payload is not valid JSON", err)
	}
	return nil
}

func (h *Handler) handleSearch(c *gin.Context) {
	var req search.Request
	if err := bindPayload(c, &req); err != nil {
		h.sealError(c, err)
		return
	}

	resp, err := h.engine.Run(c.Request.Context(), req)
	if err != nil {
		log.Warnw("search failed", "q", req.Q, "err", err)
		h.sealError(c, apperr.Wrap(apperr.KindInternal, "search failed", err))
		return
	}
	h.sealJSON(c, http.StatusOK, resp)
}

type viewPayload struct {
	CID   string `json:"cid"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	Query string `json:"query"`
}

func (h *Handler) handleViewIPFS(c *gin.Context) {
	var req viewPayload
	if err := bindPayload(c, &req); err != nil {
		h.sealError(c, err)
		return
	}
	if req.CID == "" {
		h.sealError(c, apperr.New(apperr.KindCIDRequired, "cid is required"))
		return
	}
	if !cidutil.IsValid(req.CID) {
		h.sealError(c, apperr.New(apperr.KindCIDInvalid, "cid does not parse"))
		return
	}
	if err := h.checkViewBalance(c); err != nil {
		h.sealError(c, err)
		return
	}

	content, err := h.gateway.FetchIPFS(c.Request.Context(), req.CID, req.Path, req.Query)
	h.recordView(c, req.CID, content, err)
	h.respondView(c, content, err)
}

func (h *Handler) handleViewIPNS(c *gin.Context) {
	var req viewPayload
	if err := bindPayload(c, &req); err != nil {
		h.sealError(c, err)
		return
	}
	if req.Name == "" {
		h.sealError(c, apperr.New(apperr.KindNameRequired, "name is required"))
		return
	}
	if err := h.checkViewBalance(c); err != nil {
		h.sealError(c, err)
		return
	}

	ctx := c.Request.Context()
	content, err := h.gateway.FetchIPNS(ctx, req.Name, req.Path, req.Query)

	// Usage rows are keyed by CID; resolve the name best-effort.
	if path, rerr := h.kubo.NameResolve(ctx, req.Name); rerr == nil {
		cid := strings.TrimPrefix(path, "/ipfs/")
		if i := strings.IndexByte(cid, '/'); i >= 0 {
			cid = cid[:i]
		}
		h.recordView(c, cid, content, err)
	}
	h.respondView(c, content, err)
}

// checkViewBalance enforces the minimum ulmn balance for proxied views
// when one is configured.
func (h *Handler) checkViewBalance(c *gin.Context) error {
	floor := h.cfg.ViewMinBalanceULMN
	if floor == nil || floor.Sign() <= 0 {
		return nil
	}
	balance, err := h.chain.BalanceByDenom(c.Request.Context(), session(c).Wallet, balanceDenom)
	if err != nil {
		return apperr.Wrap(apperr.KindChainUnreachable, "balance lookup failed", err)
	}
	if balance.Cmp(floor) < 0 {
		return apperr.Newf(apperr.KindBalanceTooLow, "minimum balance is %s %s", floor.String(), balanceDenom)
	}
	return nil
}

func (h *Handler) recordView(c *gin.Context, cid string, content *kubo.Content, fetchErr error) {
	if h.usage == nil || cid == "" {
		return
	}
	status := 0
	ok := false
	if fetchErr == nil && content != nil {
		status = content.Status
		ok = status >= 200 && status < 300
	}
	if err := h.usage.RecordView(c.Request.Context(), cid, session(c).Wallet, status, ok, h.now().UnixMilli()); err != nil {
		log.Warnw("usage record failed", "cid", cid, "err", err)
	}
}

func (h *Handler) respondView(c *gin.Context, content *kubo.Content, err error) {
	if err != nil {
		h.sealError(c, apperr.Wrap(apperr.KindIPFSGatewayError, "gateway fetch failed", err))
		return
	}
	h.sealJSON(c, http.StatusOK, gin.H{
		"status":       content.Status,
		"content_type": content.ContentType,
		"body":         base64.StdEncoding.EncodeToString(content.Body),
	})
}

// handleWalletUsage returns the plan plus the ownership and activity
// rollup. The plan refresh is best-effort: a dark chain degrades to the
// last persisted plan rather than failing a read.
func (h *Handler) handleWalletUsage(c *gin.Context) {
	ctx := c.Request.Context()
	wallet := session(c).Wallet

	out := gin.H{"ok": true, "wallet": wallet}

	if plan, err := h.validator.EnsureWalletPlanOk(ctx, wallet); err == nil {
		out["plan"] = plan
	} else {
		log.Debugw("plan refresh failed, serving stored plan", "wallet", wallet, "err", err)
		out["chain"] = "unreachable"
		if rec, derr := h.store.Wallet(ctx, wallet); derr == nil && rec != nil {
			out["plan"] = gin.H{
				"wallet":        rec.Wallet,
				"plan_id":       rec.PlanID,
				"expires_at_ms": rec.PlanExpiresAt,
				"checked_at_ms": rec.LastChainCheckAt,
			}
		}
	}

	roots, err := h.store.RootsSummary(ctx, wallet)
	if err != nil {
		h.sealError(c, apperr.Wrap(apperr.KindInternal, "roots summary failed", err))
		return
	}
	out["roots"] = roots

	if h.registry != nil {
		out["activity"] = h.registry.Snapshot(wallet)
	}
	h.sealJSON(c, http.StatusOK, out)
}

func (h *Handler) handleWalletCIDs(c *gin.Context) {
	var req struct {
		Page int `json:"page"`
	}
	if err := bindPayload(c, &req); err != nil {
		h.sealError(c, err)
		return
	}

	rows, total, err := h.store.ListWalletCIDs(c.Request.Context(), session(c).Wallet, req.Page)
	if err != nil {
		h.sealError(c, apperr.Wrap(apperr.KindInternal, "cid listing failed", err))
		return
	}
	h.sealJSON(c, http.StatusOK, gin.H{
		"ok":        true,
		"page":      req.Page,
		"page_size": walletdb.ListPageSize,
		"total":     total,
		"cids":      rows,
	})
}

func (h *Handler) handleWalletCIDRename(c *gin.Context) {
	var req struct {
		CID         string `json:"cid"`
		DisplayName string `json:"displayName"`
	}
	if err := bindPayload(c, &req); err != nil {
		h.sealError(c, err)
		return
	}
	if req.CID == "" {
		h.sealError(c, apperr.New(apperr.KindCIDRequired, "cid is required"))
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		h.sealError(c, apperr.New(apperr.KindNameRequired, "displayName is required"))
		return
	}

	if err := h.store.SetDisplayName(c.Request.Context(), session(c).Wallet, req.CID, req.DisplayName); err != nil {
		h.sealError(c, apperr.Wrap(apperr.KindInternal, "rename failed", err))
		return
	}
	h.sealJSON(c, http.StatusOK, gin.H{"ok": true, "display_name": req.DisplayName})
}
