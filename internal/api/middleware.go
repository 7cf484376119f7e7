package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	ctxBody     = "pq_body"
	ctxBodyHash = "pq_body_hash"
	ctxSession  = "pq_session"
)

// corsMiddleware mirrors the configured origin list. Empty or "*" allows
// everything; otherwise the request origin must match one entry exactly.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Accept, Origin, Cache-Control, X-Requested-With, X-Lumen-PQ, X-Lumen-KEM, X-Lumen-KeyId")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// bodyCapture buffers the request body and records its sha256 for access
// logs and metrics exemplars. The buffered bytes feed the envelope opener
// and the body is restored for anything downstream that re-reads it.
func (h *Handler) bodyCapture() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "pq_bad_body", "message": "request body unreadable"})
			return
		}
		sum := sha256.Sum256(body)
		c.Set(ctxBody, body)
		c.Set(ctxBodyHash, hex.EncodeToString(sum[:]))
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

func requestBody(c *gin.Context) []byte {
	if v, ok := c.Get(ctxBody); ok {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
}

// httpMetrics observes every request. The route label uses the registered
// pattern, not the raw path, to keep cardinality bounded.
func (h *Handler) httpMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.metrics.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		h.metrics.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// privateOnly gates a route to loopback and RFC1918 peers, judged by the
// socket address rather than spoofable headers.
func privateOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !(ip.IsLoopback() || ip.IsPrivate()) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
