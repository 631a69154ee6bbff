package internal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitPerSecond is the steady-state cap on messages per connection.
const rateLimitPerSecond = 20

// sustainedBreachFactor is how far over the limit a connection must go,
// within the same one-second window, before it is forcibly closed rather
// than merely warned.
const sustainedBreachFactor = 3

const sustainedBreachThreshold = rateLimitPerSecond * sustainedBreachFactor

// connLimiter gates inbound messages for one connection.
//
// The steady-state gate is a token-bucket (rate.Limiter) refilling at
// rateLimitPerSecond with a burst of the same size: a full bucket lets N
// messages through at once and then refills at N per second, so up to
// about 2N can pass within a single second; it is not an exact "at most N
// per rolling second" window. Sustained abuse
// detection needs an exact count within the current second regardless of
// what the bucket allowed, so a small manual window counter runs alongside
// it (the same shape as a single-bucket sliding-window limiter, just
// counting attempts instead of gating them).
type connLimiter struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	windowStart time.Time
	windowCount int
}

func newConnLimiter() *connLimiter {
	return &connLimiter{
		limiter: rate.NewLimiter(rate.Limit(rateLimitPerSecond), rateLimitPerSecond),
	}
}

// Allow reports whether a just-received message should be processed (ok),
// whether this call is itself a breach that should be surfaced to the
// client (breach), and whether the connection has sustained breaches badly
// enough to be force-closed (forceClose). forceClose implies breach.
func (l *connLimiter) Allow() (ok, breach, forceClose bool) {
	l.mu.Lock()
	now := time.Now()
	if now.Sub(l.windowStart) >= time.Second {
		l.windowStart = now
		l.windowCount = 0
	}
	l.windowCount++
	count := l.windowCount
	l.mu.Unlock()

	if count > sustainedBreachThreshold {
		return false, true, true
	}

	if !l.limiter.Allow() {
		return false, true, false
	}

	return true, false, false
}
