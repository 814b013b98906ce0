// Package broker implements the broker façade: a thin registry of
// TopicLog instances over a storage.Backend, plus the pollguard helper
// that gives an external subscribe-stream transport the exponential
// backoff and circuit breaker it needs without making that transport
// reimplement it.
package broker

import (
	"time"

	"github.com/sony/gobreaker"
)

const (
	pollBackoffInitial = 200 * time.Millisecond
	pollBackoffCap     = 5 * time.Second
	pollFailureLimit   = 5
)

// PollGuard wraps a gobreaker.CircuitBreaker configured to trip after
// pollFailureLimit consecutive failures, aborting a stream that keeps
// failing rather than retrying it forever. Backoff() reports the delay
// a caller should sleep before retrying after the Nth consecutive
// failure.
type PollGuard struct {
	cb *gobreaker.CircuitBreaker
}

// NewPollGuard constructs a guard named for logging/metrics
// correlation in whatever external transport embeds it.
func NewPollGuard(name string) *PollGuard {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0, // never auto-reset the closed-state failure counter on a timer
		Timeout:     pollBackoffCap,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= pollFailureLimit
		},
	}
	return &PollGuard{cb: gobreaker.NewCircuitBreaker(st)}
}

// Allow reports whether the guard currently permits a poll attempt; it
// returns false once the breaker has tripped open after five
// consecutive failures, signaling the caller to abort the stream.
func (g *PollGuard) Allow() bool {
	return g.cb.State() != gobreaker.StateOpen
}

// Execute runs fn through the circuit breaker, recording success or
// failure for trip accounting. The returned error is fn's error, or
// gobreaker.ErrOpenState if the breaker had already tripped.
func (g *PollGuard) Execute(fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Backoff returns the exponential backoff delay for the given 1-based
// consecutive-failure count, starting at 200ms and capping at 5s.
func Backoff(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	d := pollBackoffInitial
	for i := 1; i < consecutiveFailures; i++ {
		d *= 2
		if d >= pollBackoffCap {
			return pollBackoffCap
		}
	}
	return d
}

// Tripped reports whether the underlying breaker is currently open.
func (g *PollGuard) Tripped() bool { return g.cb.State() == gobreaker.StateOpen }
