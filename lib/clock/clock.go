// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source for the sync retry
// pause and the fixture watcher's debounce.
//
// Components take a Clock instead of calling time.Now, time.After, or
// time.AfterFunc. Production wiring passes Real(). Tests pass a
// FakeClock, block on WaitForTimers until the code under test has
// armed its timer, and then Advance past the deadline:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go feeder.Run(ctx, since)
//	fake.WaitForTimers(1)
//	fake.Advance(retryPause)
package clock

import "time"

// Clock abstracts the time operations used by this module.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed and returns a Timer that
	// can cancel or reschedule the call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the call. Returns false if it already ran or was
// stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Reset reschedules the call to run d from now, whether or not it has
// already run. Returns true if the timer was pending.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stop: timer.Stop, reset: timer.Reset}
}
