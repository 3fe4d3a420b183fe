package ferro

import (
	"sort"
	"sync"
	"time"

	"github.com/anillo-os/ferrocore/internal/sched"
)

// FakeClock is a deterministic sched.Clock for tests that exercise
// futex_wait/monitor_poll timeouts without racing real wall-clock
// sleeps: Advance fires every timer whose deadline has passed, in
// deadline order, the same way the teacher's MockBackend let tests
// drive device state without a real block device underneath.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	fired := t.fired
	t.stopped = true
	return !fired
}

// NewFakeClock creates a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the clock's current simulated time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run when the clock is later Advanced past
// d. f runs synchronously inside Advance, on the caller's goroutine.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) sched.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d and fires every pending timer
// whose deadline now falls at or before the new time, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now

	var due []*fakeTimer
	var remaining []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(now) {
			due = append(due, t)
		} else if !t.stopped && !t.fired {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fired = true
		t.f()
	}
}

// NewTestKernel builds a Kernel for unit tests: numCPUs simulated CPUs
// (at least 1) and, if clock is non-nil, that clock in place of
// sched.RealClock so timeout-driven tests are deterministic.
func NewTestKernel(numCPUs int, clock sched.Clock) *Kernel {
	if numCPUs < 1 {
		numCPUs = 1
	}
	cfg := DefaultKernelConfig()
	cfg.NumCPUs = numCPUs
	return newKernel(cfg, clock)
}
