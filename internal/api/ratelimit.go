package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const clientIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters keeps one token bucket per client IP and forgets clients
// idle for longer than clientIdleTTL.
type clientLimiters struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	rps       rate.Limit
	burst     int
	clock     clockwork.Clock
	lastSweep time.Time
}

func newClientLimiters(rps float64, burst int, clock clockwork.Clock) *clientLimiters {
	return &clientLimiters{
		clients:   make(map[string]*clientLimiter),
		rps:       rate.Limit(rps),
		burst:     burst,
		clock:     clock,
		lastSweep: clock.Now(),
	}
}

func (l *clientLimiters) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Sub(l.lastSweep) > clientIdleTTL {
		for ip, cl := range l.clients {
			if now.Sub(cl.lastSeen) > clientIdleTTL {
				delete(l.clients, ip)
			}
		}
		l.lastSweep = now
	}

	cl, ok := l.clients[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[client] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

func (l *clientLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	return rateLimit(newClientLimiters(rps, burst, clockwork.NewRealClock()))
}

func rateLimit(limiters *clientLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiters.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
