package callback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayStaysWithinJitterWindow(t *testing.T) {
	p := BackoffPolicy{Base: 4 * time.Second, Max: 10 * time.Minute, MaxAttempts: 8}

	for attempt := 1; attempt <= 6; attempt++ {
		full := p.Base << (attempt - 1)
		for i := 0; i < 100; i++ {
			d := p.NextDelay(attempt)
			assert.GreaterOrEqual(t, d, full/2, "attempt %d", attempt)
			assert.Less(t, d, full, "attempt %d", attempt)
		}
	}
}

func TestNextDelayCappedAtMax(t *testing.T) {
	p := BackoffPolicy{Base: 5 * time.Second, Max: time.Minute, MaxAttempts: 8}

	for i := 0; i < 100; i++ {
		d := p.NextDelay(30)
		assert.GreaterOrEqual(t, d, p.Max/2)
		assert.Less(t, d, p.Max)
	}
}

func TestNextDelaySurvivesHugeAttemptCounts(t *testing.T) {
	p := DefaultBackoffPolicy()

	// Doubling past 2^63 must not wrap into a negative delay.
	d := p.NextDelay(500)
	assert.Greater(t, d, time.Duration(0))
	assert.Less(t, d, p.Max)
}

func TestNextDelayGrowsAcrossAttempts(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Max: time.Hour, MaxAttempts: 8}

	// Jitter windows for consecutive attempts don't overlap: [d/2, d) vs [d, 2d).
	for attempt := 1; attempt < 6; attempt++ {
		assert.Less(t, p.NextDelay(attempt), p.NextDelay(attempt+1))
	}
}
