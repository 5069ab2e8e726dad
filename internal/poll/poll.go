// Package poll provides the bounded fixed-interval polling loop shared by
// the orchestrator's completion wait, the background watcher, and the CLI
// correlator. The interval is fixed, not exponential: the absolute budget
// is short and each probe is cheap relative to agent latency.
package poll

import (
	"context"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Outcome is the terminal state of a polling loop.
type Outcome int

const (
	// Completed means a probe succeeded before the deadline.
	Completed Outcome = iota
	// TimedOut means the deadline passed (or the context was cancelled)
	// with no successful probe.
	TimedOut
)

// Probe runs one poll tick and reports whether the awaited condition
// holds. Probes must be cheap and must never panic; transient failures
// are a plain false.
type Probe func(ctx context.Context) bool

// Until sleeps interval between probes and returns Completed on the first
// true probe, or TimedOut once the deadline passes. The deadline is
// strict: a probe never runs at or after it. The loop always sleeps
// before the first probe, since a freshly dispatched task cannot be done yet.
func Until(ctx context.Context, clk Clock, deadline time.Time, interval time.Duration, probe Probe) Outcome {
	for {
		select {
		case <-ctx.Done():
			return TimedOut
		case <-clk.After(interval):
		}

		if !clk.Now().Before(deadline) {
			return TimedOut
		}
		if probe(ctx) {
			return Completed
		}
	}
}
