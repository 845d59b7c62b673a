package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter hands out one token bucket per client address. Idle buckets are
// dropped on the next sweep.
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	limiters map[string]*ipBucket
	lastGC   time.Time
}

type ipBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// newIPLimiter returns nil when perSecond <= 0, which disables limiting.
func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		limiters: make(map[string]*ipBucket),
	}
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	if l == nil || ip == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > l.idle {
		for k, b := range l.limiters {
			if now.Sub(b.seen) > l.idle {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}

	b, ok := l.limiters[ip]
	if !ok {
		b = &ipBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}
