package listener

import (
	"math"
	"math/rand/v2"
	"time"
)

// Reconnect delay bounds.
const (
	defaultBackoffInitial = time.Second
	defaultBackoffMax     = 2 * time.Minute
	backoffMultiplier     = 2.0
	maxBackoffExponent    = 30
)

// backoff computes the wait before a reconnect attempt.
type backoff struct {
	initial time.Duration
	max     time.Duration
}

// delay returns the wait before attempt n (1-based), scaled by a random factor
// in [0.5, 1.5) and capped at max.
func (b backoff) delay(n int) time.Duration {
	if b.initial <= 0 {
		return 0
	}
	n = min(max(n, 1), maxBackoffExponent)
	d := float64(b.initial) * math.Pow(backoffMultiplier, float64(n-1))
	d *= 0.5 + rand.Float64()
	if b.max > 0 && d > float64(b.max) {
		d = float64(b.max)
	}
	return time.Duration(d)
}
