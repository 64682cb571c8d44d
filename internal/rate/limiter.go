package rate

import (
	"fmt"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

type Limiter interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration)
}

// MemoryLimiter keeps one token bucket per key. A bucket refills limit
// tokens per window and holds at most limit tokens.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	idleTTL time.Duration
}

type bucket struct {
	limiter  *xrate.Limiter
	lastSeen time.Time
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*bucket), idleTTL: 10 * time.Minute}
}

func (m *MemoryLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return true, 0
	}
	now := time.Now()

	m.mu.Lock()
	id := fmt.Sprintf("%s|%d|%s", key, limit, window)
	b, ok := m.buckets[id]
	if !ok {
		b = &bucket{limiter: xrate.NewLimiter(xrate.Every(window/time.Duration(limit)), limit)}
		m.buckets[id] = b
	}
	b.lastSeen = now
	m.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, window
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Sweep drops buckets unused for longer than the idle TTL.
func (m *MemoryLimiter) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, b := range m.buckets {
		if now.Sub(b.lastSeen) > m.idleTTL {
			delete(m.buckets, id)
			removed++
		}
	}
	return removed
}
