package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
	"github.com/lumen-network/lumen-gateway/internal/pqcrypto"
)

// pqAuth opens the PQ envelope and attaches the authenticated session.
// Failures here respond in clear: before the envelope opens there is no
// session key to seal with.
func (h *Handler) pqAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.codec.CheckHeaders(
			c.GetHeader(pqcrypto.HeaderPQ),
			c.GetHeader(pqcrypto.HeaderKEM),
			c.GetHeader(pqcrypto.HeaderKeyID),
		)
		if err != nil {
			h.failPQ(c, err)
			return
		}

		sess, err := h.codec.Open(c.Request.Method, c.Request.URL.Path, requestBody(c))
		if err != nil {
			h.failPQ(c, err)
			return
		}

		// Wallet rows exist lazily from the first authenticated action.
		if err := h.store.UpsertWallet(c.Request.Context(), sess.Wallet); err != nil {
			log.Warnw("wallet upsert failed", "wallet", sess.Wallet, "err", err)
		}

		c.Set(ctxSession, sess)
		c.Next()
	}
}

func (h *Handler) failPQ(c *gin.Context, err error) {
	h.metrics.pqFailures.WithLabelValues(string(apperr.KindOf(err))).Inc()
	log.Debugw("pq envelope rejected", "path", c.Request.URL.Path, "kind", apperr.KindOf(err))
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), apperr.Payload(err))
}

func session(c *gin.Context) *pqcrypto.Session {
	if v, ok := c.Get(ctxSession); ok {
		if s, ok := v.(*pqcrypto.Session); ok {
			return s
		}
	}
	return nil
}

// sealJSON seals a response body with the request's session key. A seal
// failure is the one case that must answer in clear.
func (h *Handler) sealJSON(c *gin.Context, status int, v any) {
	sess := session(c)
	if sess == nil {
		c.JSON(http.StatusInternalServerError, apperr.Payload(apperr.New(apperr.KindInternal, "no session on an authenticated route")))
		return
	}
	sealed, err := h.codec.Seal(sess.Key, v)
	if err != nil {
		h.metrics.pqFailures.WithLabelValues(string(apperr.KindPQEncryptFailed)).Inc()
		c.JSON(http.StatusInternalServerError, apperr.Payload(apperr.Wrap(apperr.KindPQEncryptFailed, "response sealing failed", err)))
		return
	}
	c.JSON(status, sealed)
}

// sealError maps a domain error to its HTTP status and seals the error
// envelope, since the caller already authenticated.
func (h *Handler) sealError(c *gin.Context, err error) {
	h.sealJSON(c, apperr.HTTPStatus(err), apperr.Payload(err))
}
