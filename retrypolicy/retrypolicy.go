// Package retrypolicy implements the bounded exponential backoff described by
// spec §4.D, plus a Retrier helper (built on sethvargo/go-retry, mirroring the
// teacher's retry.go) for storage/backend adapters' own transient I/O retries —
// a distinct concern from the mutation-retry formula this package also provides.
package retrypolicy

import (
	"context"
	"errors"
	"io/fs"
	"math/rand"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sharedcode/mutbox"
)

const (
	baseDelay = 1000 * time.Millisecond
	capDelay  = 60 * time.Second
)

// jitterRNG is the source used to jitter calculated delays. Package-scoped so
// tests can make delay calculation deterministic via SetJitterRNG.
var jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))

// SetJitterRNG overrides the jitter RNG. Intended for deterministic tests.
func SetJitterRNG(r *rand.Rand) {
	if r != nil {
		jitterRNG = r
	}
}

// Policy implements spec §4.D's retry decision and delay calculation.
type Policy struct {
	// MaxRetries bounds retryCount before a transaction is given up on. Default 10.
	MaxRetries int
	// Jitter enables randomizing the computed delay within [0.5, 1.5]. Default true.
	Jitter bool
}

// New returns a Policy with the spec's defaults (MaxRetries 10, Jitter on).
func New() *Policy {
	return &Policy{MaxRetries: 10, Jitter: true}
}

// ShouldRetry reports whether a transaction that failed with err at retryCount
// attempts should be retried: false when err is NonRetriable or retryCount has
// reached MaxRetries, true otherwise.
func (p *Policy) ShouldRetry(err error, retryCount int) bool {
	if mutbox.IsNonRetriable(err) {
		return false
	}
	max := p.MaxRetries
	if max <= 0 {
		max = 10
	}
	return retryCount < max
}

// CalculateDelay computes the next-attempt delay for a transaction that has
// failed retryCount times: min(60s, 1000ms * 2^retryCount), optionally jittered
// by a uniform factor in [0.5, 1.5], rounded to the millisecond.
func (p *Policy) CalculateDelay(retryCount int) time.Duration {
	d := baseDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= capDelay {
			d = capDelay
			break
		}
	}
	if d > capDelay {
		d = capDelay
	}
	if p.Jitter {
		factor := 0.5 + jitterRNG.Float64()
		d = time.Duration(float64(d) * factor)
	}
	return d.Round(time.Millisecond)
}

// Retrier wraps sethvargo/go-retry's fibonacci backoff for a storage or
// transport adapter's own transient I/O errors (connection resets, timeouts) —
// unrelated to the mutation-retry formula above, which governs transaction
// attempts, not adapter plumbing.
type Retrier struct {
	base    time.Duration
	maxTries uint64
}

// NewRetrier returns a Retrier with the given base backoff unit and maximum
// attempt count, mirroring the teacher's Retry helper.
func NewRetrier(base time.Duration, maxTries uint64) *Retrier {
	if base <= 0 {
		base = time.Second
	}
	if maxTries == 0 {
		maxTries = 5
	}
	return &Retrier{base: base, maxTries: maxTries}
}

// Do runs task under a fibonacci backoff, retrying while task returns a
// retryable error (retry.RetryableError-wrapped) up to the configured attempts.
func (r *Retrier) Do(ctx context.Context, task func(ctx context.Context) error) error {
	b := retry.NewFibonacci(r.base)
	b = retry.WithMaxRetries(r.maxTries, b)
	return retry.Do(ctx, b, func(ctx context.Context) error {
		return task(ctx)
	})
}

// ShouldRetryIOError reports whether err looks like a transient I/O condition
// worth retrying, as opposed to a permanent one (disk full, permission denied).
// Mirrors the teacher's ShouldRetry classification in sleep.go/retry.go.
func ShouldRetryIOError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, fs.ErrPermission) {
		return false
	}
	return true
}
