package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// bucketIdleMax is how long an IP's bucket may sit untouched before the
// sweeper drops it.
const bucketIdleMax = 10 * time.Minute

// RateLimiter is a per-IP token bucket guarding the public CAR endpoint.
// Authenticated routes are paced by the envelope cost instead and carry no
// limiter.
type RateLimiter struct {
	perSecond float64
	burst     float64

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	refilled time.Time
}

// NewRateLimiter allows ratePerMin requests per minute per IP with the
// given burst headroom, and starts the idle-bucket sweeper.
func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	rl := &RateLimiter{
		perSecond: float64(ratePerMin) / 60.0,
		burst:     float64(burst),
		buckets:   make(map[string]*bucket),
	}
	go rl.sweep()
	return rl
}

// take spends one token for ip. When the bucket is dry it reports how long
// until the next token accrues.
func (rl *RateLimiter) take(ip string) (bool, time.Duration) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{tokens: rl.burst, refilled: now}
		rl.buckets[ip] = b
	}

	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.refilled).Seconds()*rl.perSecond)
	b.refilled = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rl.perSecond * float64(time.Second))
	return false, wait
}

// Middleware rejects over-limit requests with 429 and a Retry-After header
// in whole seconds.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := rl.take(c.ClientIP())
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate_limited",
				"retryAfter": seconds,
			})
			return
		}
		c.Next()
	}
}

// sweep drops buckets idle past bucketIdleMax so one-shot IPs do not grow
// the map forever.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(bucketIdleMax)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-bucketIdleMax)
		rl.mu.Lock()
		for ip, b := range rl.buckets {
			if b.refilled.Before(cutoff) {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}
