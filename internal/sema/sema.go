// Package sema provides the counting semaphore used by channels to gate
// ring insertion/removal (spec.md §4.E) and by other subsystems that need
// a blocking/non-blocking/interruptible "down" primitive. It is built
// directly on top of internal/waitq rather than Go channels, so that the
// FIFO fairness and re-entrant-callback guarantees of the waitqueue carry
// through to every semaphore built on it.
package sema

import (
	"sync"
	"time"

	"github.com/anillo-os/ferrocore/internal/status"
	"github.com/anillo-os/ferrocore/internal/waitq"
)

// Semaphore is a classic counting semaphore: Up increments and wakes one
// waiter if any are parked; Down blocks until the count is positive, then
// decrements it.
type Semaphore struct {
	mu    sync.Mutex
	count int
	q     waitq.Queue
}

// New creates a semaphore with the given initial count.
func New(initial int) *Semaphore {
	return &Semaphore{count: initial}
}

// Up increments the count and wakes one waiter.
func (s *Semaphore) Up() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.q.WakeMany(1)
}

// Down variants, selected by the mode bits a syscall was issued with.

// DownNonBlocking attempts to acquire without waiting. Returns
// status.WouldBlock if the count is currently zero.
func (s *Semaphore) DownNonBlocking() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return status.New("down", status.WouldBlock)
	}
	s.count--
	return nil
}

// DownBlocking blocks until the count is positive, uninterruptibly.
func (s *Semaphore) DownBlocking() error {
	return s.down(nil, 0)
}

// DownInterruptible blocks until the count is positive or interrupt
// fires, in which case it returns status.Signaled.
func (s *Semaphore) DownInterruptible(interrupt <-chan struct{}) error {
	return s.down(interrupt, 0)
}

// DownTimeout blocks until the count is positive or the timeout elapses,
// in which case it returns status.TimedOut. A timed wait that races with
// a concurrent Up resolves to the Up, never the timeout (spec.md §5).
func (s *Semaphore) DownTimeout(timeout time.Duration, interrupt <-chan struct{}) error {
	return s.down(interrupt, timeout)
}

func (s *Semaphore) down(interrupt <-chan struct{}, timeout time.Duration) error {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return nil
	}

	woken := make(chan struct{}, 1)
	w := waitq.NewWaiter(func(any) { woken <- struct{}{} }, nil)
	s.q.Wait(w)
	s.mu.Unlock()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutC = t.C
	}

	select {
	case <-woken:
		s.mu.Lock()
		s.count--
		s.mu.Unlock()
		return nil
	case <-interrupt:
		if !s.q.Unwait(w) {
			// Lost the race: a wakeup already fired concurrently, drain it
			// and honor the acquisition rather than the interruption.
			<-woken
			s.mu.Lock()
			s.count--
			s.mu.Unlock()
			return nil
		}
		return status.New("down", status.Signaled)
	case <-timeoutC:
		if !s.q.Unwait(w) {
			<-woken
			s.mu.Lock()
			s.count--
			s.mu.Unlock()
			return nil
		}
		return status.New("down", status.TimedOut)
	}
}

// Count returns the current count, for tests and diagnostics.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
