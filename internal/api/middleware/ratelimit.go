package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/rohanbalixz/clad-pv/internal/api/models"
)

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu      sync.Mutex
	clients map[string]*clientLimiter
	sweep   time.Time
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		ttl:     10 * time.Minute,
		clients: map[string]*clientLimiter{},
	}
}

// Allow reports whether client may make a request now.
func (r *RateLimiter) Allow(client string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.sweep) > r.ttl {
		for k, v := range r.clients {
			if now.Sub(v.seen) > r.ttl {
				delete(r.clients, k)
			}
		}
		r.sweep = now
	}
	cl, ok := r.clients[client]
	if !ok {
		cl = &clientLimiter{lim: rate.NewLimiter(r.limit, r.burst)}
		r.clients[client] = cl
	}
	cl.seen = now
	return cl.lim.AllowN(now, 1)
}

// Middleware rejects over-limit requests with 429.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				models.NewError(models.CodeRateLimited, "too many requests"))
			return
		}
		c.Next()
	}
}
