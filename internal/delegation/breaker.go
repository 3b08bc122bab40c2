package delegation

import (
	"sync"
	"time"
)

// breaker is a single consecutive-failure counter with an open-until time,
// shared by every call on a client.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

// BreakerSnapshot reports the breaker state.
type BreakerSnapshot struct {
	Failures  int       `json:"failures"`
	Open      bool      `json:"open"`
	OpenUntil time.Time `json:"open_until,omitzero"`
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

func (b *breaker) isOpen(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Before(b.openUntil)
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

// failure records a failed attempt and reports whether the breaker is now
// open. The counter is not cleared when the breaker opens, so after the
// cooldown a single further failure opens it again.
func (b *breaker) failure(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = now.Add(b.cooldown)
		return true
	}
	return false
}

func (b *breaker) snapshot(now time.Time) BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BreakerSnapshot{Failures: b.failures, Open: now.Before(b.openUntil)}
	if s.Open {
		s.OpenUntil = b.openUntil
	}
	return s
}
