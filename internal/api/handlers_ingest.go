package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
	"github.com/lumen-network/lumen-gateway/internal/ingest"
)

func (h *Handler) handleIngestReady(c *gin.Context) {
	wallet := session(c).Wallet
	if _, err := h.validator.EnsureWalletPlanOk(c.Request.Context(), wallet); err != nil {
		h.sealError(c, err)
		return
	}
	h.sealJSON(c, http.StatusOK, gin.H{"ok": true, "wallet": wallet, "status": "ready"})
}

// handleIngestInit validates the wallet's plan and issues the single-use
// upload token for the later CAR POST.
func (h *Handler) handleIngestInit(c *gin.Context) {
	var req struct {
		PlanID      string `json:"planId"`
		EstBytes    int64  `json:"estBytes"`
		DisplayName string `json:"displayName"`
	}
	if err := bindPayload(c, &req); err != nil {
		h.sealError(c, err)
		return
	}

	wallet := session(c).Wallet
	plan, err := h.validator.EnsureWalletPlanOk(c.Request.Context(), wallet)
	if err != nil {
		h.sealError(c, err)
		return
	}

	planID := req.PlanID
	if planID == "" {
		planID = plan.PlanID
	}

	token, err := h.pipeline.Tokens.Issue(ingest.Token{
		Wallet:      wallet,
		PlanID:      planID,
		EstBytes:    req.EstBytes,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.sealError(c, apperr.Wrap(apperr.KindInternal, "token issue failed", err))
		return
	}

	log.Infow("upload token issued", "wallet", wallet, "plan", planID)
	h.sealJSON(c, http.StatusOK, gin.H{
		"ok":           true,
		"upload_token": token,
		"planId":       planID,
		"wallet":       wallet,
	})
}

// handleIngestCar is the public second phase: the token authorizes the
// upload, the body is spooled raw, and the import runs out-of-band. A plan
// re-check failure leaves the token redeemable; only a spooled body
// consumes it.
func (h *Handler) handleIngestCar(c *gin.Context) {
	id := c.Query("token")
	if id == "" {
		e := apperr.New(apperr.KindUploadTokenRequired, "token query parameter is required")
		c.JSON(apperr.HTTPStatus(e), apperr.Payload(e))
		return
	}

	tok, ok := h.pipeline.Tokens.Peek(id)
	if !ok {
		e := apperr.New(apperr.KindUploadTokenInvalid, "token is unknown, used, or expired")
		c.JSON(apperr.HTTPStatus(e), apperr.Payload(e))
		return
	}

	if _, err := h.validator.EnsureWalletPlanOk(c.Request.Context(), tok.Wallet); err != nil {
		c.JSON(apperr.HTTPStatus(err), apperr.Payload(err))
		return
	}

	if _, ok := h.pipeline.Tokens.Consume(id); !ok {
		// lost the race with a concurrent upload of the same token
		e := apperr.New(apperr.KindUploadTokenInvalid, "token is unknown, used, or expired")
		c.JSON(apperr.HTTPStatus(e), apperr.Payload(e))
		return
	}

	spoolPath, n, err := h.pipeline.Spool.Write(c.Request.Body)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindCARTooLarge {
			payload := apperr.Payload(err)
			payload["max_bytes"] = h.cfg.IngestMaxBytes
			c.JSON(apperr.HTTPStatus(err), payload)
			return
		}
		e := apperr.Wrap(apperr.KindInternal, "spool write failed", err)
		c.JSON(apperr.HTTPStatus(e), apperr.Payload(e))
		return
	}

	planID := c.Query("planId")
	if planID == "" {
		planID = tok.PlanID
	}

	jobID, err := h.pipeline.Enqueue(ingest.Job{
		Wallet:        tok.Wallet,
		PlanID:        planID,
		DisplayName:   tok.DisplayName,
		SpoolPath:     spoolPath,
		UploadedBytes: n,
		ContentType:   c.ContentType(),
	})
	if err != nil {
		if rmErr := h.pipeline.Spool.Remove(spoolPath); rmErr != nil {
			log.Warnw("spool cleanup failed", "path", spoolPath, "err", rmErr)
		}
		e := apperr.Wrap(apperr.KindInternal, "enqueue failed", err)
		c.JSON(apperr.HTTPStatus(e), apperr.Payload(e))
		return
	}

	h.metrics.ingestJobs.Inc()
	h.metrics.ingestBytes.Add(float64(n))
	log.Infow("car accepted", "wallet", tok.Wallet, "bytes", n, "job", jobID)

	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"roots": []string{},
		"meta": gin.H{
			"jobId":         jobID,
			"wallet":        tok.Wallet,
			"planId":        planID,
			"uploadedBytes": n,
		},
	})
}
