// Package retry runs operations with exponential backoff and jitter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jbacus/auxin/internal/config"
	auxerrors "github.com/jbacus/auxin/internal/errors"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction of each delay added at random, in [0, 1].
	Jitter float64
}

// DefaultPolicy matches the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.25,
	}
}

// FromConfig builds a Policy from the retry section.
func FromConfig(cfg config.RetryConfig) Policy {
	p := DefaultPolicy()
	p.Initial = cfg.BackoffInitial()
	p.Max = cfg.BackoffMax()
	return p
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Initial) * math.Pow(mult, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

// Do calls fn up to attempts times. Only retryable errors are retried; the
// last error is returned when attempts run out. A canceled ctx stops the
// wait and returns the most recent error.
func (p Policy) Do(ctx context.Context, attempts int, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if !auxerrors.IsRetryable(err) || attempt == attempts {
			return err
		}
		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
