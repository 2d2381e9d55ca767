package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialJitterStaysWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	max := 2 * time.Second

	for attempt := 0; attempt <= 10; attempt++ {
		d := ExponentialJitter(base, max, attempt)
		assert.Greater(t, d, time.Duration(0), "attempt %d", attempt)
		assert.LessOrEqual(t, d, max+max/5, "attempt %d", attempt)
	}
}

func TestExponentialJitterGrows(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Minute

	// Jitter is ±20%, so attempt 5's floor clears attempt 1's ceiling.
	early := ExponentialJitter(base, max, 1)
	late := ExponentialJitter(base, max, 5)
	assert.Greater(t, late, early)
}
