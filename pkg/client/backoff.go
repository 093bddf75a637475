package client

import (
	"math"
	"math/rand"
	"time"
)

// Backoff controls redial delays in ReconnectResocket mode.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultBackoff returns the default redial schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: DefaultReconnectDelay,
		MaxDelay:     time.Minute,
		Multiplier:   2,
		Jitter:       true,
	}
}

// Delay returns the delay before redial attempt n (1-based).
func (b Backoff) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return b.InitialDelay
	}
	if b.InitialDelay <= 0 {
		return 0
	}
	if b.Multiplier < 1.0 {
		b.Multiplier = 1.0
	}
	delay := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
