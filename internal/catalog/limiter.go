package catalog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// recoveryNumerator/recoveryDenominator shrink the delay by 10% per success.
const (
	recoveryNumerator   = 9
	recoveryDenominator = 10
)

// adaptiveLimiter enforces a minimum delay between calls. A rate-limit
// response doubles the delay up to maxDelay; successes walk it back to the
// base delay.
type adaptiveLimiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	base     time.Duration
	maxDelay time.Duration
	current  time.Duration
}

func newAdaptiveLimiter(base, maxDelay time.Duration) *adaptiveLimiter {
	if maxDelay < base {
		maxDelay = base
	}
	return &adaptiveLimiter{
		limiter:  rate.NewLimiter(limitFor(base), 1),
		base:     base,
		maxDelay: maxDelay,
		current:  base,
	}
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

// Wait blocks until the next call is allowed or ctx is done.
func (l *adaptiveLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Slow doubles the delay after a rate-limit response.
func (l *adaptiveLimiter) Slow() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.current * 2
	if next <= 0 {
		next = l.maxDelay
	}
	if next > l.maxDelay {
		next = l.maxDelay
	}
	l.current = next
	l.limiter.SetLimit(limitFor(next))
	return next
}

// Recover eases the delay back toward the base after a success.
func (l *adaptiveLimiter) Recover() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current <= l.base {
		return
	}
	next := l.current * recoveryNumerator / recoveryDenominator
	if next < l.base {
		next = l.base
	}
	l.current = next
	l.limiter.SetLimit(limitFor(next))
}

// Delay returns the current minimum delay.
func (l *adaptiveLimiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
