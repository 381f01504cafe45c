package retrypolicy

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/sharedcode/mutbox"
)

func TestShouldRetryStopsOnNonRetriable(t *testing.T) {
	p := New()
	if p.ShouldRetry(mutbox.NewNonRetriableError(fmt.Errorf("bad input")), 0) {
		t.Errorf("expected NonRetriable errors to never retry")
	}
}

func TestShouldRetryStopsAtMaxRetries(t *testing.T) {
	p := &Policy{MaxRetries: 3, Jitter: false}
	if p.ShouldRetry(fmt.Errorf("timeout"), 3) {
		t.Errorf("expected retryCount == maxRetries to stop retrying")
	}
	if !p.ShouldRetry(fmt.Errorf("timeout"), 2) {
		t.Errorf("expected retryCount < maxRetries to keep retrying")
	}
}

func TestCalculateDelayExponentialNoJitter(t *testing.T) {
	p := &Policy{MaxRetries: 10, Jitter: false}
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{2, 4000 * time.Millisecond},
		{6, 60000 * time.Millisecond}, // capped
		{20, 60000 * time.Millisecond},
	}
	for _, c := range cases {
		got := p.CalculateDelay(c.retryCount)
		if got != c.want {
			t.Errorf("CalculateDelay(%d) = %v, want %v", c.retryCount, got, c.want)
		}
	}
}

func TestCalculateDelayJitterStaysInRange(t *testing.T) {
	SetJitterRNG(rand.New(rand.NewSource(1)))
	p := &Policy{MaxRetries: 10, Jitter: true}
	for i := 0; i < 50; i++ {
		d := p.CalculateDelay(2)
		if d < 2000*time.Millisecond || d > 6000*time.Millisecond {
			t.Fatalf("expected jittered delay within [0.5,1.5) of 4000ms, got %v", d)
		}
	}
}
