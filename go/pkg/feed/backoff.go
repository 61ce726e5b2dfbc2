package feed

import "time"

// Backoff doubles the retry delay on every failure, capped at Ceiling. After
// N consecutive failures Next returns min(Floor*2^N, Ceiling).
type Backoff struct {
	Floor   time.Duration
	Ceiling time.Duration
	cur     time.Duration
}

func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = DefaultRetryFloor
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{Floor: floor, Ceiling: ceiling, cur: floor}
}

// Reset returns the delay to the floor after a successful open.
func (b *Backoff) Reset() { b.cur = b.Floor }

// Next records a failure and returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.cur < b.Floor {
		b.cur = b.Floor
	}
	b.cur *= 2
	if b.cur > b.Ceiling {
		b.cur = b.Ceiling
	}
	return b.cur
}

// Current is the delay the next failure doubles from.
func (b *Backoff) Current() time.Duration { return b.cur }
