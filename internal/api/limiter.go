package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// playerLimiter hands out one token bucket per player. Buckets idle for
// longer than ttl are dropped.
type playerLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastPrune time.Time
	now       func() time.Time
}

func newPlayerLimiter(perSecond float64, burst int, ttl time.Duration) *playerLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &playerLimiter{
		limit:    limit,
		burst:    burst,
		ttl:      ttl,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow reports whether playerID may act now.
func (l *playerLimiter) Allow(playerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.ttl > 0 && now.Sub(l.lastPrune) > l.ttl {
		for id, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.ttl {
				delete(l.visitors, id)
			}
		}
		l.lastPrune = now
	}

	v, ok := l.visitors[playerID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[playerID] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *playerLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
