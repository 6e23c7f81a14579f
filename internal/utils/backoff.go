package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// MaxBackOff caps the delay between two attempts.
	MaxBackOff = 30 * time.Second
	// RetryForever makes NewBackOff retry until its context ends.
	RetryForever = -1
)

// NewBackOff returns a doubling backoff starting at initial and capped at
// MaxBackOff, without jitter.  retries bounds the number of retries after
// the first attempt; RetryForever lifts the bound.
func NewBackOff(ctx context.Context, initial time.Duration, retries int) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = MaxBackOff
	eb.MaxElapsedTime = 0
	eb.Reset()

	var b backoff.BackOff = eb
	if retries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(retries))
	}
	return backoff.WithContext(b, ctx)
}
