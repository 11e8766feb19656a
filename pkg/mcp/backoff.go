package mcp

import (
	"math/rand/v2"
	"time"
)

// backoffDelay computes the reconnect delay for the given attempt:
// base × 2^attempt with ±25% jitter, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}

	delay := base
	for i := 0; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}

	jitter := time.Duration(rand.Int64N(int64(delay) / 2))
	delay = delay*3/4 + jitter
	if delay > max {
		delay = max
	}
	return delay
}
