// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time moves only when Advance is
// called. FakeClock is safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. A callback must not call Advance.
type FakeClock struct {
	mutex   sync.Mutex
	changed *sync.Cond
	current time.Time
	pending []*waiter
}

// waiter is one armed After channel or AfterFunc callback.
type waiter struct {
	deadline time.Time
	channel  chan time.Time
	callback func()
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mutex)
	return clock
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.current
}

// After returns a channel that fires once the clock has been advanced
// by d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.armLocked(&waiter{deadline: c.current.Add(d), channel: channel})
	return channel
}

// AfterFunc arms f to run inside the Advance call that reaches
// now + d. With d <= 0, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	w := &waiter{callback: f}
	timer := &Timer{
		stop: func() bool {
			c.mutex.Lock()
			defer c.mutex.Unlock()
			return c.disarmLocked(w)
		},
		reset: func(d time.Duration) bool {
			c.mutex.Lock()
			wasPending := c.disarmLocked(w)
			if d <= 0 {
				c.mutex.Unlock()
				f()
				return wasPending
			}
			w.deadline = c.current.Add(d)
			c.armLocked(w)
			c.mutex.Unlock()
			return wasPending
		},
	}

	if d <= 0 {
		f()
		return timer
	}
	c.mutex.Lock()
	w.deadline = c.current.Add(d)
	c.armLocked(w)
	c.mutex.Unlock()
	return timer
}

func (c *FakeClock) armLocked(w *waiter) {
	c.pending = append(c.pending, w)
	c.changed.Broadcast()
}

func (c *FakeClock) disarmLocked(w *waiter) bool {
	index := slices.Index(c.pending, w)
	if index < 0 {
		return false
	}
	c.pending = slices.Delete(c.pending, index, index+1)
	return true
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline has been reached, earliest first. Before each waiter fires
// the clock reads its deadline, so callbacks that arm new timers
// within the window are fired in the same call.
func (c *FakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	target := c.current.Add(d)
	c.mutex.Unlock()

	for {
		c.mutex.Lock()
		var due *waiter
		for _, w := range c.pending {
			if !w.deadline.After(target) && (due == nil || w.deadline.Before(due.deadline)) {
				due = w
			}
		}
		if due == nil {
			c.current = target
			c.mutex.Unlock()
			return
		}
		c.disarmLocked(due)
		if due.deadline.After(c.current) {
			c.current = due.deadline
		}
		now := c.current
		c.mutex.Unlock()

		if due.callback != nil {
			due.callback()
		} else {
			due.channel <- now
		}
	}
}

// WaitForTimers blocks until at least n waiters are armed. Use it to
// wait for a goroutine under test to reach its timer before calling
// Advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed waiters.
func (c *FakeClock) PendingCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.pending)
}
