package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ──────────────────────────────────────────────────────────────────────────────
// Per-IP rate limiting
// ──────────────────────────────────────────────────────────────────────────────

// visitor pairs one IP's token bucket with its last activity for eviction.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter hands out one rate.Limiter per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
}

// newIPLimiter creates a limiter with the given requests-per-second
// allowance. Burst capacity is max(10, rps) so short spikes are absorbed.
func newIPLimiter(rps int) *ipLimiter {
	burst := rps
	if burst < 10 {
		burst = 10
	}
	return &ipLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// evict drops buckets idle for longer than 10 minutes so the map stays
// bounded by the active client population.
func (l *ipLimiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
		}
	}
}

// RateLimit enforces a per-IP request budget of rps requests per second.
// Clients exceeding the limit receive 429 Too Many Requests.
func RateLimit(rps int) gin.HandlerFunc {
	l := newIPLimiter(rps)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			l.evict()
		}
	}()

	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
			})
			return
		}
		c.Next()
	}
}
