// Package ratelimit provides a sliding-window attempt limiter used to guard
// unlock and key-derivation attempts against brute force. Limiters are
// injected component instances with an explicit lifetime, never package
// globals.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter counts attempts per key (typically a username) inside a sliding
// window. Safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	attempts    map[string][]time.Time
	now         func() time.Time
}

// New returns a Limiter allowing maxAttempts per window for each key.
func New(maxAttempts int, window time.Duration) *Limiter {
	return &Limiter{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// RecordAttempt registers a failed attempt for key.
func (l *Limiter) RecordAttempt(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[key] = append(l.prune(key), l.now())
}

// IsBlocked reports whether key has exhausted its attempts inside the
// current window. Callers must consult this before doing any KDF work so a
// blocked key never reaches the slow path.
func (l *Limiter) IsBlocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	live := l.prune(key)
	l.attempts[key] = live
	return len(live) >= l.maxAttempts
}

// RemainingLockout returns how long until the oldest in-window attempt
// expires, i.e. when the key becomes eligible again. Zero if not blocked.
func (l *Limiter) RemainingLockout(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	live := l.prune(key)
	l.attempts[key] = live
	if len(live) < l.maxAttempts {
		return 0
	}
	d := l.window - l.now().Sub(live[0])
	if d < 0 {
		return 0
	}
	return d
}

// Reset clears the attempt history for key, e.g. after a successful unlock.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

// prune drops attempts that fell out of the window. Caller holds l.mu.
func (l *Limiter) prune(key string) []time.Time {
	cutoff := l.now().Add(-l.window)
	live := l.attempts[key][:0]
	for _, ts := range l.attempts[key] {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	return live
}
