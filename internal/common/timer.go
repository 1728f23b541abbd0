// Package common provides small shared helpers: stage timing and runtime
// statistics.
package common

import (
	"fmt"
	"time"
)

// Timer measures one span. Stop fixes the measurement; later calls return it
// unchanged.
type Timer struct {
	name     string
	start    time.Time
	duration time.Duration
	stopped  bool
}

// NewTimer starts an unnamed timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// NewNamedTimer starts a timer labelled name.
func NewNamedTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop ends the span and returns its length.
func (t *Timer) Stop() time.Duration {
	if !t.stopped {
		t.duration = time.Since(t.start)
		t.stopped = true
	}
	return t.duration
}

// Elapsed returns the time so far, or the final duration once stopped.
func (t *Timer) Elapsed() time.Duration {
	if t.stopped {
		return t.duration
	}
	return time.Since(t.start)
}

// Duration returns the recorded duration; zero until Stop.
func (t *Timer) Duration() time.Duration { return t.duration }

// Name returns the label, empty for unnamed timers.
func (t *Timer) Name() string { return t.name }

// String formats the elapsed time in milliseconds.
func (t *Timer) String() string {
	ms := float64(t.Elapsed().Microseconds()) / 1000
	if t.name != "" {
		return fmt.Sprintf("%s: %.1fms", t.name, ms)
	}
	return fmt.Sprintf("%.1fms", ms)
}
