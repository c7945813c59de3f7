package callback

import (
	"math/rand"
	"time"
)

// BackoffPolicy schedules retry delays: base * 2^(attempt-1), jittered down
// into [d/2, d) so a burst of failures does not retry in lockstep, capped at
// Max. After MaxAttempts failed attempts the envelope is permanently failed.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:        5 * time.Second,
		Max:         10 * time.Minute,
		MaxAttempts: 8,
	}
}

// NextDelay returns the wait before the attempt following `attempt` failed
// attempts (attempt >= 1).
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max || d <= 0 { // overflow guard
			d = p.Max
			break
		}
	}
	if d > p.Max {
		d = p.Max
	}

	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
