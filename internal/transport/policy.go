package transport

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the attempts of one request and spaces them out.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int
	Base        time.Duration
	Factor      time.Duration
	Jitter      time.Duration

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultRetryPolicy waits 1s + n*2s + up to 1s of jitter, five attempts in total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Base:        time.Second,
		Factor:      2 * time.Second,
		Jitter:      time.Second,
	}
}

// Wait returns the delay that follows failed attempt n (1-based).
func (p RetryPolicy) Wait(n int) time.Duration {
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	return p.Base + time.Duration(n)*p.Factor + time.Duration(rnd()*float64(p.Jitter))
}

// NewBackOff returns a backoff.BackOff that yields Wait(1), Wait(2), ... and
// stops once MaxAttempts attempts have been made.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(&linearBackOff{policy: p}, uint64(retries))
}

type linearBackOff struct {
	policy  RetryPolicy
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.policy.Wait(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }
