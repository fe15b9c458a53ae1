package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedIPs bounds the limiter map; idle entries are pruned past it.
const maxTrackedIPs = 4096

// ipLimiter applies a token bucket per client IP to new connections.
type ipLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newIPLimiter(perSec float64, burst int) *ipLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(perSec),
		burst:   burst,
	}
}

// Allow reports whether ip may open another connection now. A limiter with
// a non-positive rate allows everything.
func (l *ipLimiter) Allow(ip string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[ip]
	if !ok {
		if len(l.buckets) >= maxTrackedIPs {
			l.prune()
		}
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[ip] = b
	}
	return b.Allow()
}

// prune drops buckets that have refilled completely.
func (l *ipLimiter) prune() {
	for ip, b := range l.buckets {
		if b.Tokens() >= float64(l.burst) {
			delete(l.buckets, ip)
		}
	}
}
