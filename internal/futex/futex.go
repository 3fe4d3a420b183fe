// Package futex implements the per-address-space futex table (spec.md
// §4.C): a kernel-side wait set keyed by (physical address, channel),
// shared by every virtual mapping of the same physical page regardless
// of which address space maps it.
//
// It does not import internal/vm: the caller supplies a Resolver that
// turns a user virtual address into the physical address backing it.
// This keeps vm -> futex a one-way dependency (an AddressSpace owns a
// *Table and resolves through its own Translate), rather than a cycle.
package futex

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/anillo-os/ferrocore/internal/sched"
	"github.com/anillo-os/ferrocore/internal/status"
	"github.com/anillo-os/ferrocore/internal/waitq"
)

// Resolver resolves a user virtual address to the physical address
// backing it. ok is false if the address is unmapped, yielding
// status.BadAddress.
type Resolver func(userVA uintptr) (phys uintptr, ok bool)

type key struct {
	phys    uintptr
	channel uint64
}

// entry is a single futex's wait set. Its refcount is managed with a
// lock-free CAS loop; only the destroy path (refcount 1 -> 0) takes the
// table mutex, and it retries from scratch if it loses the race to a
// concurrent lookupOrCreate (spec.md §4.C: "the table mutex is dropped
// and the caller retries").
type entry struct {
	refcount atomic.Int32
	q        waitq.Queue
}

func (e *entry) tryAcquire() bool {
	for {
		old := e.refcount.Load()
		if old == 0 {
			return false
		}
		if e.refcount.CompareAndSwap(old, old+1) {
			return true
		}
	}
}

// Table is one address space's futex table.
type Table struct {
	mu      sync.Mutex
	entries map[key]*entry
}

// NewTable creates an empty futex table.
func NewTable() *Table {
	return &Table{entries: make(map[key]*entry)}
}

func (t *Table) lookupOrCreate(k key) *entry {
	for {
		t.mu.Lock()
		e, ok := t.entries[k]
		if !ok {
			e = &entry{}
			e.refcount.Store(1)
			t.entries[k] = e
			t.mu.Unlock()
			return e
		}
		t.mu.Unlock()

		if e.tryAcquire() {
			return e
		}
		// Lost the race: e was destroyed between the map lookup and the
		// refcount bump. Retry the whole lookup.
	}
}

func (t *Table) release(k key, e *entry) {
	for {
		old := e.refcount.Load()
		if old > 1 {
			if e.refcount.CompareAndSwap(old, old-1) {
				return
			}
			continue
		}

		t.mu.Lock()
		if e.refcount.CompareAndSwap(1, 0) {
			delete(t.entries, k)
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		// Someone re-acquired between our Load and the CAS; retry.
	}
}

func loadWord(phys uintptr) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(phys))) //nolint:govet
}

func storeWord(phys uintptr, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(phys)), v) //nolint:govet
}

// Wait implements spec.md §4.C's wait protocol. The futex word at
// userVA is loaded under the entry's waitqueue lock; a mismatch against
// expected fails should_restart without ever blocking. Otherwise th is
// parked on the entry's waitqueue until woken, timed out, or
// interrupted.
func (t *Table) Wait(resolve Resolver, th *sched.Thread, userVA uintptr, channel uint64, expected uint64, timeout time.Duration, interrupt <-chan struct{}) error {
	phys, ok := resolve(userVA)
	if !ok {
		return status.New("futex_wait", status.BadAddress)
	}
	k := key{phys, channel}
	e := t.lookupOrCreate(k)

	e.q.Lock()
	if loadWord(phys) != expected {
		e.q.Unlock()
		t.release(k, e)
		return status.New("futex_wait", status.ShouldRestart)
	}
	w, woken := sched.NewWaiter()
	e.q.WaitLocked(w)
	e.q.Unlock()

	err := th.AwaitWake(&e.q, w, woken, timeout, interrupt)
	t.release(k, e)
	return err
}

// Wake implements the lookup-only fast path: if no entry currently
// exists for (resolve(userVA), channel), it is a no-op.
func (t *Table) Wake(resolve Resolver, userVA uintptr, channel uint64, count int) (int, error) {
	phys, ok := resolve(userVA)
	if !ok {
		return 0, status.New("futex_wake", status.BadAddress)
	}
	k := key{phys, channel}

	t.mu.Lock()
	e, ok := t.entries[k]
	t.mu.Unlock()
	if !ok {
		return 0, nil
	}
	return e.q.WakeMany(count), nil
}

// Hook installs a standing, non-blocking subscription on the futex
// identified by (resolve(userVA), channel): f is invoked (from inside
// the entry waitqueue's wakeup path, so it must not block) every time
// the entry is woken via Wake or an Associate death-write, until the
// returned cancel func is called. Unlike Wait, it never checks the
// word's value and never parks the calling goroutine; it is the
// primitive the monitor's hook fabric uses to turn futex wakeups into
// item signals.
func (t *Table) Hook(resolve Resolver, userVA uintptr, channel uint64, f func()) (cancel func(), err error) {
	phys, ok := resolve(userVA)
	if !ok {
		return nil, status.New("futex_hook", status.BadAddress)
	}
	k := key{phys, channel}
	e := t.lookupOrCreate(k)

	var w *waitq.Waiter
	w = waitq.NewWaiter(func(any) {
		f()
		e.q.Wait(w) // re-arm: a hook watches for every wake, not just the first
	}, nil)
	e.q.Wait(w)

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			e.q.Unwait(w)
			t.release(k, e)
		})
	}
	return cancel, nil
}

// Associate ties a futex entry to th's death (spec.md §8 scenario 6):
// when th dies, the kernel writes value to the address and wakes every
// waiter on that futex. The entry is kept alive (refcounted) until then.
func (t *Table) Associate(resolve Resolver, th *sched.Thread, userVA uintptr, channel uint64, value uint64) error {
	phys, ok := resolve(userVA)
	if !ok {
		return status.New("futex_associate", status.BadAddress)
	}
	k := key{phys, channel}
	e := t.lookupOrCreate(k)

	dq := th.DeathQueue()
	w := waitq.NewWaiter(func(any) {
		storeWord(phys, value)
		e.q.WakeMany(math.MaxInt32)
		t.release(k, e)
	}, nil)
	dq.Wait(w)
	return nil
}
