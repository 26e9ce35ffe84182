package gateway

import (
	"context"
	"math"
	"time"
)

// ReconnectPolicy controls how the manager retries after a connection is
// lost. MaxAttempts counts consecutive connections that never reached Open;
// zero means retry forever. A zero InitialDelay retries immediately.
type ReconnectPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultReconnectPolicy never gives up and never waits.
func DefaultReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{Multiplier: 1}
}

// ShouldRetry reports whether another attempt may follow the given number of
// consecutive failures (1-indexed).
func (p *ReconnectPolicy) ShouldRetry(attempt int) bool {
	if p == nil || p.MaxAttempts <= 0 {
		return true
	}
	return attempt < p.MaxAttempts
}

// NextDelay returns the wait before the retry that follows the given attempt.
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay when
// MaxDelay is set.
func (p *ReconnectPolicy) NextDelay(attempt int) time.Duration {
	if p == nil || p.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Wait sleeps for NextDelay(attempt) or until ctx is done.
func (p *ReconnectPolicy) Wait(ctx context.Context, attempt int) error {
	d := p.NextDelay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
