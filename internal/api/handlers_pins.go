package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
)

type cidPayload struct {
	CID string `json:"cid"`
}

func (h *Handler) bindCID(c *gin.Context) (string, bool) {
	var req cidPayload
	if err := bindPayload(c, &req); err != nil {
		h.sealError(c, err)
		return "", false
	}
	if req.CID == "" {
		h.sealError(c, apperr.New(apperr.KindCIDRequired, "cid is required"))
		return "", false
	}
	return req.CID, true
}

func (h *Handler) handlePin(c *gin.Context) {
	cid, ok := h.bindCID(c)
	if !ok {
		return
	}
	wallet := session(c).Wallet

	if err := h.pins.Pin(c.Request.Context(), wallet, cid); err != nil {
		h.sealError(c, err)
		return
	}
	h.metrics.pins.Inc()
	h.sealJSON(c, http.StatusOK, gin.H{"ok": true, "cid": cid, "wallet": wallet})
}

func (h *Handler) handleUnpin(c *gin.Context) {
	cid, ok := h.bindCID(c)
	if !ok {
		return
	}
	wallet := session(c).Wallet

	res, err := h.pins.Unpin(c.Request.Context(), wallet, cid)
	if err != nil {
		h.sealError(c, err)
		return
	}
	if res.Changed {
		h.metrics.unpins.Inc()
	}
	h.sealJSON(c, http.StatusOK, gin.H{"ok": true, "cid": cid, "wallet": wallet, "changed": res.Changed})
}

func (h *Handler) handleIsPinned(c *gin.Context) {
	cid, ok := h.bindCID(c)
	if !ok {
		return
	}
	wallet := session(c).Wallet

	pinned, err := h.pins.IsPinned(c.Request.Context(), wallet, cid)
	if err != nil {
		h.sealError(c, err)
		return
	}
	h.sealJSON(c, http.StatusOK, gin.H{"wallet": wallet, "cid": cid, "pinned": pinned})
}
