package ros

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default backoff parameters from spec §4.C.
const (
	defaultBackoffCap       = 10 * time.Second
	defaultBackoffJitterMax = 1 * time.Second
)

// Backoff computes a truncated-exponential-with-jitter delay (see Delay),
// and drives retry_forever with cancellation. It wraps
// github.com/cenkalti/backoff/v4's ExponentialBackOff, the same shape the
// go-ethereum lineage in this corpus tests under NewExponential(min, max,
// jitter)/NextDuration().
type Backoff struct {
	cap       time.Duration
	jitterMax time.Duration
}

// NewBackoff constructs a Backoff with the spec's defaults (cap 10s, jitter
// up to 1s).
func NewBackoff() *Backoff {
	return &Backoff{cap: defaultBackoffCap, jitterMax: defaultBackoffJitterMax}
}

// NewBackoffWithLimits constructs a Backoff with custom cap/jitter bounds.
func NewBackoffWithLimits(cap, jitterMax time.Duration) *Backoff {
	return &Backoff{cap: cap, jitterMax: jitterMax}
}

// Delay returns the wait before the retries-th retry (retries starts at 1).
// The base is 2^(retries-1) seconds (1s, 2s, 4s, ...), randomized by up to
// ±(jitterMax/cap) of itself and truncated at cap. The jitter is
// proportional to the base, not an additive rand*jitterMax offset, and
// Delay(0) returns 0.
func (b *Backoff) Delay(retries int) time.Duration {
	eb := b.newExponential()
	// cenkalti/backoff computes 2^(n-1) * initial on the n-th call to
	// NextBackOff starting from n=1, so InitialInterval=1s and Multiplier=2
	// give 2^(retries-1) seconds on the retries-th call.
	var d time.Duration
	for i := 0; i < retries; i++ {
		d = eb.NextBackOff()
	}
	if d == backoff.Stop || d > b.cap {
		return b.cap
	}
	return d
}

func (b *Backoff) newExponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.Multiplier = 2
	eb.MaxInterval = b.cap
	eb.MaxElapsedTime = 0 // never stop saturating at MaxInterval
	if b.jitterMax > 0 {
		eb.RandomizationFactor = float64(b.jitterMax) / float64(b.cap)
	} else {
		eb.RandomizationFactor = 0
	}
	eb.Reset()
	return eb
}

// RetryForever invokes op until it returns a nil error, sleeping Delay(n)
// between attempts (n starting at 1). It returns early, without invoking op
// again, if ctx is cancelled — this is the cancellable retry_forever
// primitive required by spec §4.C and used by Node.Subscribe's
// registerSubscriber loop.
func RetryForever(ctx context.Context, op func() error) error {
	eb := backoff.WithContext(newRetryForeverBackoff(), ctx)
	return backoff.Retry(op, eb)
}

// newRetryForeverBackoff builds the underlying exponential backoff used by
// RetryForever: it never gives up (MaxElapsedTime=0) and saturates at the
// spec's default cap.
func newRetryForeverBackoff() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.Multiplier = 2
	eb.MaxInterval = defaultBackoffCap
	eb.RandomizationFactor = float64(defaultBackoffJitterMax) / float64(defaultBackoffCap)
	eb.MaxElapsedTime = 0
	return eb
}
