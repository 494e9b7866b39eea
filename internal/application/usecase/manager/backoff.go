package manager

import "time"

// Backoff is the fixed reconnect schedule. Attempts past the end stay at the
// cap; the attempt counter resets only on a successful connect.
type Backoff struct {
	steps []time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{steps: []time.Duration{
		1 * time.Second,
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		30 * time.Second,
	}}
}

func NewBackoff(steps ...time.Duration) Backoff {
	return Backoff{steps: steps}
}

func (b Backoff) Delay(attempt int) time.Duration {
	if len(b.steps) == 0 {
		return time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(b.steps) {
		attempt = len(b.steps) - 1
	}
	return b.steps[attempt]
}
