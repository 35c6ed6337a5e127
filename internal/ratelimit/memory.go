package ratelimit

import (
	"context"
	"sync"
	"time"
)

// entry tracks the token balance for one rate-limit key.
type entry struct {
	tokens float64
	seen   time.Time
}

// take refills the balance for the time elapsed since the last call,
// then tries to spend one token.
func (e *entry) take(now time.Time, rate, burst float64) bool {
	e.tokens += now.Sub(e.seen).Seconds() * rate
	if e.tokens > burst {
		e.tokens = burst
	}
	e.seen = now
	if e.tokens < 1 {
		return false
	}
	e.tokens--
	return true
}

// MemoryLimiter is a per-key token bucket held in process memory.
// Suitable for single-instance deployments; a shared store is needed
// for per-project limits to hold across replicas.
type MemoryLimiter struct {
	rate  float64
	burst float64

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter allowing rate sustained requests
// per second per key, with bursts up to burst. A sweeper goroutine
// drops keys idle for ten minutes; call Close to stop it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow spends one token from key's bucket. A key's first request
// starts from a full bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	e, ok := m.entries[key]
	if !ok {
		m.entries[key] = &entry{tokens: m.burst - 1, seen: now}
		return true, nil
	}
	return e.take(now, m.rate, m.burst), nil
}

// Close stops the sweeper. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const idleEviction = 10 * time.Minute

func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idleEviction)
			m.mu.Lock()
			for key, e := range m.entries {
				if e.seen.Before(cutoff) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
