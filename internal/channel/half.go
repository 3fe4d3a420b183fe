package channel

import (
	"math"
	"sync"

	"github.com/anillo-os/ferrocore/internal/sema"
	"github.com/anillo-os/ferrocore/internal/waitq"
)

// half is the receive side of one Channel: the ring its peer's Send
// enqueues into, the semaphores gating it, and the five waitqueues
// spec.md §3 lists (messageArrival, queueEmpty, queueFull, queueRemoval,
// close).
type half struct {
	mu   sync.Mutex
	ring []*Message // fixed-capacity circular buffer
	head int
	count int

	insertSem *sema.Semaphore // counts free slots; Down before enqueue
	removeSem *sema.Semaphore // counts queued messages; Down before dequeue

	closedReceive bool // either half has closed: no further sends accepted into this ring
	closedSelf    bool // this half has been closed

	messageArrival waitq.Queue
	queueEmpty     waitq.Queue
	queueFull      waitq.Queue
	queueRemoval   waitq.Queue
	closeQ         waitq.Queue
}

func newHalf(capacity int) *half {
	if capacity < 1 {
		capacity = 1
	}
	return &half{
		ring:      make([]*Message, capacity),
		insertSem: sema.New(capacity),
		removeSem: sema.New(0),
	}
}

func (h *half) capacity() int { return len(h.ring) }

// enqueueLocked appends msg to the ring. Caller holds h.mu and has
// already confirmed capacity via insertSem.
func (h *half) enqueueLocked(msg *Message) {
	idx := (h.head + h.count) % len(h.ring)
	h.ring[idx] = msg
	h.count++
}

// dequeueLocked removes and returns the head message. Caller holds h.mu
// and has already confirmed availability via removeSem.
func (h *half) dequeueLocked() *Message {
	msg := h.ring[h.head]
	h.ring[h.head] = nil
	h.head = (h.head + 1) % len(h.ring)
	h.count--
	return msg
}

// peekLocked returns the head message without removing it.
func (h *half) peekLocked() (*Message, bool) {
	if h.count == 0 {
		return nil, false
	}
	return h.ring[h.head], true
}

// drainAndRelease empties the ring, releasing every still-queued
// message. Called when both sides of a channel have closed.
func (h *half) drainAndRelease() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.count > 0 {
		msg := h.dequeueLocked()
		msg.Release()
	}
}

func (h *half) wakeClose() {
	h.closeQ.WakeMany(math.MaxInt32)
}
