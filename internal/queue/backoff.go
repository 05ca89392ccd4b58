package queue

import (
	"math/rand"
	"time"

	"github.com/sendrotor/sendrotor/internal/plan"
)

// maxBackoffShift bounds the exponent so the doubling never overflows a
// Duration before the cap applies.
const maxBackoffShift = 20

// backoffDelay computes the wait before the next retry: base doubled per
// completed attempt, capped, with a symmetric random jitter so synchronized
// retries spread out. Ignoring jitter, the delay is non-decreasing in the
// attempt count.
func backoffDelay(limits plan.Limits, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	shift := uint(attempt)
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	delay := limits.BackoffBase << shift
	if delay <= 0 || delay > limits.BackoffMax {
		delay = limits.BackoffMax
	}

	if limits.JitterFraction > 0 {
		jitter := time.Duration(float64(delay) * limits.JitterFraction)
		delay += time.Duration(rng.Int63n(2*int64(jitter)+1)) - jitter
	}

	if delay < 0 {
		delay = 0
	}
	return delay
}
