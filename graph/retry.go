package graph

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy controls re-execution of a failed node attempt with bounded
// exponential backoff. Attempts are counted inclusive of the first try:
// MaxAttempts=3 means one initial try plus up to two retries. A zero policy
// means a single attempt, no retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// BackoffFactor is the multiplier between consecutive delays; values
	// below 1 are treated as 2.0.
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryPolicy returns a basic policy: the given number of attempts,
// 100ms base delay doubling up to 2s, no jitter.
func DefaultRetryPolicy(attempts int) RetryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{
		MaxAttempts:   attempts,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// attempts normalizes MaxAttempts so a zero policy still runs once.
func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// NextDelay returns the backoff delay after the given failed attempt.
// attempt starts at 1 for the first try.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 2.0
	}
	delay := float64(p.BaseDelay)
	if attempt > 1 {
		delay *= math.Pow(factor, float64(attempt-1))
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = p.BaseDelay
	}
	if maxDelay > 0 {
		delay = math.Min(delay, float64(maxDelay))
	}
	d := time.Duration(delay)
	if p.Jitter && d > 0 {
		// Additive jitter in [0, d). crypto/rand keeps gosec quiet.
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(d))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}
