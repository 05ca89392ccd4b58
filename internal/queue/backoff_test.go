package queue

import (
	"math/rand"
	"testing"
	"time"

	"github.com/sendrotor/sendrotor/internal/plan"
)

func TestBackoffDelayMonotoneWithoutJitter(t *testing.T) {
	limits := plan.Limits{
		BackoffBase:    30 * time.Second,
		BackoffMax:     time.Hour,
		JitterFraction: 0,
	}
	rng := rand.New(rand.NewSource(1))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 30; attempt++ {
		delay := backoffDelay(limits, attempt, rng)
		if delay < prev {
			t.Errorf("Attempt %d: delay %s decreased below %s", attempt, delay, prev)
		}
		if delay > limits.BackoffMax {
			t.Errorf("Attempt %d: delay %s exceeds cap %s", attempt, delay, limits.BackoffMax)
		}
		prev = delay
	}
}

func TestBackoffDelayReachesCap(t *testing.T) {
	limits := plan.Limits{
		BackoffBase:    time.Minute,
		BackoffMax:     10 * time.Minute,
		JitterFraction: 0,
	}
	rng := rand.New(rand.NewSource(1))

	if got := backoffDelay(limits, 12, rng); got != limits.BackoffMax {
		t.Errorf("Expected capped delay %s, got %s", limits.BackoffMax, got)
	}
}

func TestBackoffDelayJitterStaysInBounds(t *testing.T) {
	limits := plan.Limits{
		BackoffBase:    30 * time.Second,
		BackoffMax:     time.Hour,
		JitterFraction: 0.2,
	}
	rng := rand.New(rand.NewSource(42))

	base := 30 * time.Second << 2
	lo := base - time.Duration(float64(base)*limits.JitterFraction)
	hi := base + time.Duration(float64(base)*limits.JitterFraction)

	for i := 0; i < 1000; i++ {
		delay := backoffDelay(limits, 2, rng)
		if delay < lo || delay > hi {
			t.Fatalf("Delay %s outside jitter bounds [%s, %s]", delay, lo, hi)
		}
	}
}

func TestBackoffDelayNeverNegative(t *testing.T) {
	limits := plan.Limits{
		BackoffBase:    time.Nanosecond,
		BackoffMax:     2 * time.Nanosecond,
		JitterFraction: 0.5,
	}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		if delay := backoffDelay(limits, 1, rng); delay < 0 {
			t.Fatalf("Got negative delay %s", delay)
		}
	}
}
