// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter (or carries one in a struct
// field) instead of calling time.Now, time.After, or time.AfterFunc
// directly. Production wiring injects System(); tests inject Fake(),
// which advances only when the test calls Advance, so retry backoff and
// supervision deadlines are tested without real waiting.
//
// When a goroutine registers a timer on a FakeClock, use WaitForTimers
// to block until the registration lands before calling Advance. That
// removes the race between timer registration and time advancement.
package clock

import "time"

// Clock is the time surface used by the push retry engine, the worker
// supervisor, and the resync scheduler.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0, the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine (system clock) or synchronously during Advance
	// (fake clock). The returned Timer cancels the pending call
	// with Stop.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a scheduled AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop prevents the timer from firing. Returns true if the call stops
// the timer, false if it already fired or was already stopped.
func (t *Timer) Stop() bool { return t.stop() }

// System returns a Clock backed by the standard time package.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (systemClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stop: timer.Stop}
}
