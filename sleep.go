package mutbox

import (
	"context"
	"math/rand"
	"time"
)

// jitterRNG is a package-level random source, seeded once at init time. The retry
// policy's delay jitter does not read it; package retrypolicy keeps its own RNG,
// overridden through retrypolicy.SetJitterRNG.
var jitterRNG = rand.New(rand.NewSource(time.Now().UnixNano()))

// SetJitterRNG overrides this package's jitterRNG.
func SetJitterRNG(r *rand.Rand) {
	if r != nil {
		jitterRNG = r
	}
}

// Sleep blocks for the specified duration or until the context is done, whichever happens first.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Now returns the current wall-clock time. Factored out so tests can observe exact deltas.
func Now() time.Time {
	return time.Now()
}
