package rpc

import (
	"math/rand"
	"time"
)

// Backoff computes exponential reconnect delays with jitter, grounded
// on the teacher's internal/ws/backoff.go (doubling with a cap) but
// adding the jitter spec §4.3 calls for ("suggest base 200 ms, cap
// 30 s, jitter ±20%").
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

// NewBackoff returns a Backoff with the spec's suggested defaults.
func NewBackoff() *Backoff {
	return &Backoff{Base: 200 * time.Millisecond, Max: 30 * time.Second}
}

// Next returns the delay before the next reconnect attempt and advances
// the attempt counter.
func (b *Backoff) Next() time.Duration {
	d := b.Base << b.attempt
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	b.attempt++

	jitter := float64(d) * 0.2
	delta := (rand.Float64()*2 - 1) * jitter // +/-20%
	result := time.Duration(float64(d) + delta)
	if result < 0 {
		result = 0
	}
	return result
}

// Reset returns the attempt counter to zero after a successful connect.
func (b *Backoff) Reset() { b.attempt = 0 }
