// Package sched implements the thread and per-CPU scheduling substrate
// (spec.md §4.B): thread lifecycle (thread_new/sched_manage/resume/
// suspend/kill/interrupt), CPU affinity assignment, and the generic
// "block on a waitqueue as this thread" primitive every other subsystem
// (futex, channel, monitor) is built on.
package sched

import (
	"sync"
	"time"

	"github.com/cloudwego/gopkg/concurrency/gopool"
	"github.com/cloudwego/gopkg/container/ring"

	"github.com/anillo-os/ferrocore/internal/status"
)

// Scheduler owns the set of CPUs and the threads currently managed by
// them. It assigns newly managed threads to CPUs round robin, using a
// fixed-size ring over the CPU slice rather than a load-balancing
// search: hot CPU add/remove and load balancing are explicit non-goals
// (spec.md Non-goals), so a stable traversal order is all that's needed.
type Scheduler struct {
	clock Clock

	mu        sync.Mutex
	nextID    uint64
	threads   map[uint64]*Thread
	cpus      *ring.Ring[*CPU]
	cpuCursor int

	workers *gopool.GoPool
}

// New creates a Scheduler with the given number of simulated CPUs. clock
// may be nil to use RealClock.
func New(numCPUs int, clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock
	}
	if numCPUs < 1 {
		numCPUs = 1
	}
	cpus := make([]*CPU, numCPUs)
	for i := range cpus {
		cpus[i] = &CPU{id: i, threads: make(map[uint64]*Thread)}
	}
	s := &Scheduler{
		clock:   clock,
		threads: make(map[uint64]*Thread),
		cpus:    ring.NewFromSlice(cpus),
		workers: gopool.NewGoPool("ferro-kernel-workers", nil),
	}
	for _, c := range cpus {
		c.sched = s
	}
	return s
}

// NumCPUs returns the number of simulated CPUs.
func (s *Scheduler) NumCPUs() int { return s.cpus.Len() }

// CPUByID returns the CPU with the given index.
func (s *Scheduler) CPUByID(id int) *CPU {
	item, ok := s.cpus.Get(id)
	if !ok {
		return nil
	}
	return item.Value()
}

// ThreadNew creates a new thread in the suspended state; entry starts on
// the thread's own goroutine at its first Resume (spec.md §4.B:
// thread_new leaves the thread dormant until the caller opts it in to
// scheduling). SchedManage only assigns a CPU; Resume does not wait for
// it.
func (s *Scheduler) ThreadNew(entry func(t *Thread)) *Thread {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	t := newThread(id, entry)
	t.sched = s

	s.mu.Lock()
	s.threads[id] = t
	s.mu.Unlock()
	return t
}

// SchedManage assigns t to a CPU round-robin, making it eligible to run.
// It does not itself start the thread: callers still call Resume. Calling
// SchedManage twice on the same thread returns status.AlreadyInProgress.
func (s *Scheduler) SchedManage(t *Thread) error {
	if t.CPU() != nil {
		return status.New("sched_manage", status.AlreadyInProgress)
	}

	s.mu.Lock()
	item, ok := s.cpus.Get(s.cpuCursor)
	if !ok {
		s.mu.Unlock()
		return status.New("sched_manage", status.Unknown)
	}
	s.cpuCursor = (s.cpuCursor + 1) % s.cpus.Len()
	s.mu.Unlock()

	cpu := item.Value()
	t.mu.Lock()
	if t.cpu != nil {
		t.mu.Unlock()
		return status.New("sched_manage", status.AlreadyInProgress)
	}
	t.cpu = cpu
	t.mu.Unlock()

	cpu.addThread(t)
	return nil
}

// ThreadByID looks up a still-tracked thread (dead threads are removed
// at exit).
func (s *Scheduler) ThreadByID(id uint64) (*Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	return t, ok
}

func (s *Scheduler) onThreadDead(t *Thread) {
	s.mu.Lock()
	delete(s.threads, t.id)
	s.mu.Unlock()

	if cpu := t.CPU(); cpu != nil {
		cpu.removeThread(t)
	}
}

// Submit runs f on the background kernel worker pool, off any thread's
// own goroutine. No code in this module submits work to it: channel
// close and monitor hooks do their work inline.
func (s *Scheduler) Submit(f func()) {
	s.workers.Go(f)
}

// Now returns the scheduler's clock's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}
