package monitor

import (
	"sync"
	"time"

	"github.com/anillo-os/ferrocore/internal/sched"
	"github.com/anillo-os/ferrocore/internal/sema"
	"github.com/anillo-os/ferrocore/internal/status"
)

// Monitor is an item set plus a triggered-items semaphore (spec.md §3).
// A monitor belongs to at most one polling thread at a time but items
// may be added/removed concurrently; both are serialized through mu.
type Monitor struct {
	mu           sync.Mutex
	items        map[uint64]*Item
	order        []uint64
	nextID       uint64
	triggeredSem *sema.Semaphore
}

// New creates an empty monitor.
func New() *Monitor {
	return &Monitor{
		items:        make(map[uint64]*Item),
		triggeredSem: sema.New(0),
	}
}

func (m *Monitor) noteTriggered() {
	m.triggeredSem.Up()
}

func (m *Monitor) insert(kind TargetKind, mask EventMask, opts ItemOptions) *Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	it := newItem(m, id, kind, mask, opts)
	m.items[id] = it
	m.order = append(m.order, id)
	return it
}

// RemoveItem unlinks item and tears down its hooks. Safe to call
// concurrently with Poll; Poll re-validates the item is still present
// before touching it.
func (m *Monitor) RemoveItem(item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeItemLocked(item)
}

func (m *Monitor) removeItemLocked(item *Item) error {
	if _, ok := m.items[item.id]; !ok {
		return status.New("monitor_remove_item", status.NoSuchResource)
	}
	delete(m.items, item.id)
	for i, id := range m.order {
		if id == item.id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	item.teardown()
	return nil
}

// Poll implements spec.md §4.F's poll protocol. timeout < 0 blocks
// indefinitely, timeout == 0 polls without blocking, timeout > 0 is a
// timed wait. interruptible selects whether the wait surfaces
// status.Signaled on thread interruption.
//
// It downs the triggered-items semaphore once, then scans every item
// under the monitor mutex draining triggered bits into out. The
// semaphore only signals "something may be ready", not a precise
// per-item count, so a single down can yield (or find nothing new for)
// more than one ready entry; that is intentional and matches spec.md's
// "remaining stay triggered" contract for an undersized buffer.
//
// If an enabled level-triggered item's condition still holds, Poll takes
// any pending semaphore credit without blocking and goes straight to the
// scan, so such an item is reported again on every poll until its
// condition clears.
func (m *Monitor) Poll(th *sched.Thread, timeout time.Duration, interruptible bool, out []Ready) (int, error) {
	var interrupt <-chan struct{}
	if interruptible {
		interrupt = th.InterruptChan()
	}

	levelHeld := false
	m.mu.Lock()
	for _, it := range m.items {
		it.mu.Lock()
		levelHeld = levelHeld || (it.levelTriggered && it.enabled && it.recheckAllLocked() != 0)
		it.mu.Unlock()
	}
	m.mu.Unlock()

	var err error
	switch {
	case levelHeld:
		_ = m.triggeredSem.DownNonBlocking()
	case timeout == 0:
		err = m.triggeredSem.DownNonBlocking()
	case timeout < 0:
		if interruptible {
			err = m.triggeredSem.DownInterruptible(interrupt)
		} else {
			err = m.triggeredSem.DownBlocking()
		}
	default:
		err = m.triggeredSem.DownTimeout(timeout, interrupt)
	}
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, id := range append([]uint64(nil), m.order...) {
		if n >= len(out) {
			break
		}
		it, ok := m.items[id]
		if !ok {
			continue
		}

		it.mu.Lock()
		if it.triggered == 0 {
			it.mu.Unlock()
			continue
		}

		out[n] = Ready{ItemID: it.id, Events: it.triggered, Ctx: it.ctx}
		n++

		if it.levelTriggered {
			it.triggered = it.recheckAllLocked()
		} else {
			it.triggered = 0
		}
		disable := it.disableOnTrigger
		deleteIt := it.deleteOnTrigger
		if disable {
			it.enabled = false
		}
		it.mu.Unlock()

		if deleteIt {
			_ = m.removeItemLocked(it)
		}
	}
	return n, nil
}
