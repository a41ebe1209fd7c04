package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit is a per-client token bucket. A zero RequestsPerMinute disables
// limiting.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

const visitorIdle = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	cfg      RateLimit
	mu       sync.Mutex
	visitors map[string]*visitor
	lastGC   time.Time
	clockNow func() time.Time
}

func NewRateLimiter(cfg RateLimit) *RateLimiter {
	return &RateLimiter{cfg: cfg, visitors: make(map[string]*visitor), clockNow: time.Now}
}

func (l *RateLimiter) Allow(client string) bool {
	if l == nil || l.cfg.RequestsPerMinute <= 0 {
		return true
	}
	now := l.clockNow()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastGC) > visitorIdle {
		for id, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(l.visitors, id)
			}
		}
		l.lastGC = now
	}
	v, ok := l.visitors[client]
	if !ok {
		burst := l.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerMinute/60.0), burst)}
		l.visitors[client] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}
