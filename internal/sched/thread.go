package sched

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anillo-os/ferrocore/internal/status"
	"github.com/anillo-os/ferrocore/internal/waitq"
)

// State is a thread's position in the state machine spec.md §4.B defines:
// suspended -> running -> blocked -> running -> ... -> dead.
type State int32

const (
	StateSuspended State = iota
	StateRunning
	StateBlocked
	StateDead
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Thread is a schedulable unit. Unlike a real kernel, the core does not
// implement its own context switch: a Thread's "execution" is a real Go
// goroutine running Entry, and Go's own runtime preempts and multiplexes
// it onto OS threads. What Thread adds on top is the bookkeeping the
// spec requires to be observable: a state machine, CPU assignment,
// cooperative suspend/kill checkpoints, thread-scoped interruption, and a
// death waitqueue for futex association (spec.md §8 scenario 6).
type Thread struct {
	id    uint64
	sched *Scheduler

	entry func(t *Thread)

	mu      sync.Mutex
	state   State
	started bool
	cpu     *CPU

	parkCh chan struct{}

	suspendRequested atomic.Bool
	killRequested    atomic.Bool

	interruptOnce sync.Once
	interruptCh   chan struct{}

	exited chan struct{}

	deathMu sync.Mutex
	death   *waitq.Queue
}

func newThread(id uint64, entry func(t *Thread)) *Thread {
	return &Thread{
		id:          id,
		entry:       entry,
		state:       StateSuspended,
		parkCh:      make(chan struct{}, 1),
		interruptCh: make(chan struct{}),
		exited:      make(chan struct{}),
	}
}

// ID returns the thread's kernel-assigned identifier.
func (t *Thread) ID() uint64 { return t.id }

// State returns the thread's current state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// CPU returns the CPU this thread is assigned to, or nil if SchedManage
// has not yet been called for it.
func (t *Thread) CPU() *CPU {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cpu
}

func (t *Thread) run() {
	defer t.finish()
	t.entry(t)
}

func (t *Thread) finish() {
	t.mu.Lock()
	t.state = StateDead
	t.mu.Unlock()

	if t.sched != nil {
		t.sched.onThreadDead(t)
	}

	close(t.exited)

	t.deathMu.Lock()
	dq := t.death
	t.deathMu.Unlock()
	if dq != nil {
		dq.WakeMany(math.MaxInt32)
	}
}

// DeathQueue lazily creates and returns the waitqueue woken (wake-all,
// per spec.md §8 scenario 6) when this thread dies. internal/futex uses
// this to implement death-associated futex wakeups.
func (t *Thread) DeathQueue() *waitq.Queue {
	t.deathMu.Lock()
	defer t.deathMu.Unlock()
	if t.death == nil {
		t.death = &waitq.Queue{}
	}
	return t.death
}

// Exited reports whether the thread's entry function has returned.
func (t *Thread) Exited() <-chan struct{} { return t.exited }

// Resume starts a never-started thread, or unparks one that suspended
// itself (or was suspended). Returns status.AlreadyInProgress if the
// thread is already running, status.NoSuchResource if it is dead.
func (t *Thread) Resume() error {
	t.mu.Lock()
	switch {
	case t.state == StateDead:
		t.mu.Unlock()
		return status.New("thread_resume", status.NoSuchResource)
	case !t.started:
		t.started = true
		t.state = StateRunning
		t.mu.Unlock()
		go t.run()
		return nil
	case t.state == StateSuspended:
		t.state = StateRunning
		t.mu.Unlock()
		select {
		case t.parkCh <- struct{}{}:
		default:
		}
		return nil
	default:
		t.mu.Unlock()
		return status.New("thread_resume", status.AlreadyInProgress)
	}
}

// Suspend requests that the thread stop running. If caller == t, it
// parks the calling goroutine immediately. Otherwise it only raises the
// cooperative suspend flag: the target thread must call CheckSuspend at
// a safe point (mirroring how a real kernel only suspends at well-defined
// preemption points) for the suspension to actually take effect.
func (t *Thread) Suspend(caller *Thread, interruptible bool) error {
	t.mu.Lock()
	switch t.state {
	case StateDead:
		t.mu.Unlock()
		return status.New("thread_suspend", status.NoSuchResource)
	case StateSuspended:
		t.mu.Unlock()
		return status.New("thread_suspend", status.AlreadyInProgress)
	}
	t.suspendRequested.Store(true)
	self := caller == t
	t.mu.Unlock()

	if !self {
		return nil
	}
	return t.parkSelf(interruptible)
}

func (t *Thread) parkSelf(interruptible bool) error {
	t.mu.Lock()
	t.state = StateSuspended
	t.mu.Unlock()

	if interruptible {
		select {
		case <-t.parkCh:
		case <-t.interruptCh:
			t.mu.Lock()
			t.state = StateRunning
			t.suspendRequested.Store(false)
			t.mu.Unlock()
			return status.New("thread_suspend", status.Signaled)
		}
	} else {
		<-t.parkCh
	}

	t.mu.Lock()
	t.state = StateRunning
	t.suspendRequested.Store(false)
	t.mu.Unlock()
	return nil
}

// CheckSuspend is the cooperative checkpoint a thread's own entry
// function calls at safe points. If another thread has called Suspend
// on it, this parks the caller until resumed.
func (t *Thread) CheckSuspend(interruptible bool) error {
	if !t.suspendRequested.Load() {
		return nil
	}
	return t.parkSelf(interruptible)
}

// CheckKill is the cooperative checkpoint for asynchronous Kill of
// another thread: the target's entry function should check this at safe
// points and return promptly if it reports true.
func (t *Thread) CheckKill() bool {
	return t.killRequested.Load()
}

// Kill requests termination of the thread: it raises the cooperative
// kill flag and wakes any in-progress AwaitWake or interruptible Suspend
// wait so CheckKill is
// observed promptly. The target's own entry function is responsible for
// checking CheckKill and returning; there is no way to force an arbitrary
// running goroutine to stop, same as a real kernel only honoring kill at
// a defined safe point. caller is accepted for symmetry with Suspend but
// does not change behavior: self-kill and other-kill both go through the
// same cooperative path.
func (t *Thread) Kill(caller *Thread) error {
	t.mu.Lock()
	if t.state == StateDead {
		t.mu.Unlock()
		return status.New("thread_kill", status.NoSuchResource)
	}
	t.mu.Unlock()

	t.killRequested.Store(true)
	t.Interrupt()
	return nil
}

// InterruptChan returns the channel that closes when Interrupt (or Kill)
// is called on this thread. Subsystems that block a thread on their own
// semaphore/waitqueue primitive (internal/channel, internal/monitor)
// select on it alongside their own wake/timeout channels.
func (t *Thread) InterruptChan() <-chan struct{} { return t.interruptCh }

// Interrupt wakes any AwaitWake or interruptible Suspend call in progress
// on this thread with status.Signaled. Idempotent.
func (t *Thread) Interrupt() {
	t.interruptOnce.Do(func() { close(t.interruptCh) })
}

// NewWaiter allocates a waitq.Waiter together with the channel its
// wakeup callback signals. Callers (futex/channel/monitor code acting
// "as" some thread) enqueue w on whichever waitq.Queue they are blocking
// on while holding that queue's lock, then call AwaitWake on the
// relevant thread.
func NewWaiter() (*waitq.Waiter, <-chan struct{}) {
	woken := make(chan struct{}, 1)
	w := waitq.NewWaiter(func(any) {
		select {
		case woken <- struct{}{}:
		default:
		}
	}, nil)
	return w, woken
}

// AwaitWake blocks the calling goroutine until w is woken, the optional
// timeout elapses, or the thread is interrupted (either via the caller
// supplied interrupt channel or a pending Interrupt()/Kill()). A timed or
// interrupted wait that races with a concurrent wake always resolves to
// the wake (spec.md §5): AwaitWake only reports TimedOut/Signaled after
// successfully unregistering w from q.
func (t *Thread) AwaitWake(q *waitq.Queue, w *waitq.Waiter, woken <-chan struct{}, timeout time.Duration, interrupt <-chan struct{}) error {
	t.mu.Lock()
	t.state = StateBlocked
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.state = StateRunning
		t.mu.Unlock()
	}()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timeoutC = tm.C
	}

	select {
	case <-woken:
		return nil
	case <-interrupt:
		return t.loseRace(q, w, woken, status.Signaled)
	case <-t.interruptCh:
		return t.loseRace(q, w, woken, status.Signaled)
	case <-timeoutC:
		return t.loseRace(q, w, woken, status.TimedOut)
	}
}

func (t *Thread) loseRace(q *waitq.Queue, w *waitq.Waiter, woken <-chan struct{}, code status.Code) error {
	if !q.Unwait(w) {
		<-woken
		return nil
	}
	return status.New("wait", code)
}
