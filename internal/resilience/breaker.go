// Package resilience provides the retry policy for FoodData Central calls and
// the store breaker that stops a reconcile batch.
package resilience

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
)

// DefaultFailureThreshold is the breaker threshold when none is configured.
const DefaultFailureThreshold = 5

// ErrCircuitOpen is returned for every call made after the breaker trips.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker counts consecutive store failures. Once the count reaches the
// threshold it rejects every further call; a batch that trips it is over, so
// there is no half-open recovery. A success resets the count.
type Breaker struct {
	threshold int

	mu       sync.Mutex
	failures int
	open     bool
}

// NewBreaker returns a closed breaker. threshold <= 0 uses
// DefaultFailureThreshold.
func NewBreaker(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Breaker{threshold: threshold}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Guard(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Guard is Execute for calls that return a value.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if b.Open() {
		return zero, ErrCircuitOpen
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// Open reports whether the breaker has tripped.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Failures returns the current run of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return
	}
	// Cancellation says nothing about store health.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.open = true
	}
}
