package echoapi

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const limiterTTL = 10 * time.Minute

type (
	visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	// ipRateLimiter limits requests per client IP.
	ipRateLimiter struct {
		mu        sync.Mutex
		visitors  map[string]*visitor
		limit     rate.Limit
		burst     int
		lastPurge time.Time
	}
)

func newIPRateLimiter(perSecond float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(perSecond),
		burst:     burst,
		lastPurge: time.Now(),
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastPurge) > limiterTTL {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > limiterTTL {
				delete(l.visitors, k)
			}
		}
		l.lastPurge = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *ipRateLimiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if !l.allow(ctx.RealIP()) {
			return errTooManyRequests
		}
		return next(ctx)
	}
}
