package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter enforces per-client request throttling keyed by client IP.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	idleFor  time.Duration
	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter for the provided requests-per-minute
// budget. A non-positive budget disables throttling.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
		idleFor:  5 * time.Minute,
		visitors: make(map[string]*visitor),
	}
}

// Handler returns the gin middleware enforcing the limit.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		if !r.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limited",
				"error_description": "Too many requests. Please slow down.",
			})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) allow(key string) bool {
	now := time.Now()
	r.mu.Lock()
	entry, ok := r.visitors[key]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[key] = entry
		for k, v := range r.visitors {
			if now.Sub(v.lastSeen) > r.idleFor {
				delete(r.visitors, k)
			}
		}
	}
	entry.lastSeen = now
	r.mu.Unlock()
	return entry.limiter.Allow()
}
