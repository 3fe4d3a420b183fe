package channel

import (
	"sync/atomic"

	"github.com/anillo-os/ferrocore/internal/sched"
	"github.com/anillo-os/ferrocore/internal/status"
	"github.com/anillo-os/ferrocore/internal/waitq"
)

// BlockMode selects how Send/Receive/Server.Accept behave when their
// gating semaphore isn't immediately satisfiable (spec.md §4.E step 1).
type BlockMode int

const (
	NonBlocking BlockMode = iota
	Blocking
	Interruptible
)

// pairState is shared by both halves of a pair: only the closure
// refcount needs to be shared (spec.md §3: "a shared closure refcount
// counts live halves, initially 2").
type pairState struct {
	liveHalves atomic.Int32
}

// Channel is one half of a channel pair. Sends on a Channel enqueue into
// its peer's ring; receives drain its own ring (filled by the peer's
// sends). own and peer are set up by NewPair and never change after.
type Channel struct {
	own  *half
	peer *Channel

	shared *pairState

	nextConvID atomic.Uint64
	nextMsgID  atomic.Uint64
}

// NewPair creates a connected channel pair, each side's ring holding up
// to capacity messages.
func NewPair(capacity int) (a, b *Channel) {
	shared := &pairState{}
	shared.liveHalves.Store(2)

	a = &Channel{own: newHalf(capacity), shared: shared}
	b = &Channel{own: newHalf(capacity), shared: shared}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *Channel) downInsert(th *sched.Thread, mode BlockMode) error {
	sem := c.peer.own.insertSem
	switch mode {
	case NonBlocking:
		return sem.DownNonBlocking()
	case Interruptible:
		return sem.DownInterruptible(th.InterruptChan())
	default:
		return sem.DownBlocking()
	}
}

func (c *Channel) downRemove(th *sched.Thread, mode BlockMode) error {
	sem := c.own.removeSem
	switch mode {
	case NonBlocking:
		return sem.DownNonBlocking()
	case Interruptible:
		return sem.DownInterruptible(th.InterruptChan())
	default:
		return sem.DownBlocking()
	}
}

// Send implements spec.md §4.E's send protocol. msg's conversation id is
// overwritten with a freshly allocated one when startConversation is
// true; otherwise msg.ConversationID (presumably copied from a message
// being replied to) is preserved.
func (c *Channel) Send(th *sched.Thread, msg *Message, mode BlockMode, startConversation bool) error {
	if err := c.downInsert(th, mode); err != nil {
		return err
	}

	peerHalf := c.peer.own
	peerHalf.mu.Lock()
	if peerHalf.closedReceive {
		peerHalf.mu.Unlock()
		c.peer.own.insertSem.Up() // return the reserved slot; send never happened
		return status.New("channel_send", status.Closed)
	}

	if startConversation {
		msg.ConversationID = c.nextConvID.Add(1)
	}
	msg.MessageID = c.nextMsgID.Add(1)

	wasEmpty := peerHalf.count == 0
	peerHalf.enqueueLocked(msg)
	full := peerHalf.count == len(peerHalf.ring)
	peerHalf.mu.Unlock()

	peerHalf.removeSem.Up()
	peerHalf.messageArrival.WakeMany(1)
	if wasEmpty {
		peerHalf.queueEmpty.WakeMany(1)
	}
	if full {
		peerHalf.queueFull.WakeMany(1)
	}
	return nil
}

// Receive implements spec.md §4.E's receive protocol: it blocks (per
// mode) until a message is available in this half's own ring, then
// dequeues and returns it. The caller owns the returned message's
// attachments and must call Release once done with them.
func (c *Channel) Receive(th *sched.Thread, mode BlockMode) (*Message, error) {
	if err := c.downRemove(th, mode); err != nil {
		return nil, err
	}

	c.own.mu.Lock()
	msg := c.own.dequeueLocked()
	nowEmpty := c.own.count == 0
	c.own.mu.Unlock()

	c.own.insertSem.Up()
	c.own.queueRemoval.WakeMany(1)
	if nowEmpty {
		c.own.queueEmpty.WakeMany(1)
	}
	return msg, nil
}

// Peek returns the head of this half's own ring without dequeuing it
// (the supplemental feature from channels.private.h's peek argument,
// used by the monitor's level-triggered re-poll to check whether a
// condition still holds without consuming the message that proves it).
func (c *Channel) Peek() (*Message, bool) {
	c.own.mu.Lock()
	defer c.own.mu.Unlock()
	return c.own.peekLocked()
}

// Close closes this half: it marks both halves' rings closed_receive (so
// the peer's later sends into this half, and this half's sends into the
// peer, fail with status.Closed), wakes close watchers on both halves,
// and drops the pair's shared live-half count. Full closure (both sides
// closed) additionally drains and releases both halves' queued
// messages, since nothing will ever receive them now.
func (c *Channel) Close() error {
	c.own.mu.Lock()
	if c.own.closedSelf {
		c.own.mu.Unlock()
		return status.New("channel_close", status.AlreadyInProgress)
	}
	c.own.closedSelf = true
	c.own.closedReceive = true
	c.own.mu.Unlock()

	c.peer.own.mu.Lock()
	c.peer.own.closedReceive = true
	c.peer.own.mu.Unlock()

	c.own.wakeClose()
	c.peer.own.wakeClose()

	if c.shared.liveHalves.Add(-1) == 0 {
		c.own.drainAndRelease()
		c.peer.own.drainAndRelease()
	}
	return nil
}

// Closed reports whether this half has been closed.
func (c *Channel) Closed() bool {
	c.own.mu.Lock()
	defer c.own.mu.Unlock()
	return c.own.closedSelf
}

// Peer returns the other half of this channel's pair, for hook fabric
// callers that need to register a recheck predicate against the peer's
// own state (e.g. EventPeerMessageArrival's level condition).
func (c *Channel) Peer() *Channel { return c.peer }

// Waitqueues exposed for the monitor hook fabric (spec.md §4.F): the
// monitor installs a waiter on exactly the queue matching the event it
// subscribed to.
func (c *Channel) MessageArrivalQueue() *waitq.Queue { return &c.own.messageArrival }
func (c *Channel) QueueEmptyQueue() *waitq.Queue     { return &c.own.queueEmpty }
func (c *Channel) QueueFullQueue() *waitq.Queue       { return &c.own.queueFull }
func (c *Channel) QueueRemovalQueue() *waitq.Queue   { return &c.own.queueRemoval }
func (c *Channel) CloseQueue() *waitq.Queue          { return &c.own.closeQ }
func (c *Channel) PeerMessageArrivalQueue() *waitq.Queue { return &c.peer.own.messageArrival }
func (c *Channel) PeerQueueEmptyQueue() *waitq.Queue     { return &c.peer.own.queueEmpty }
func (c *Channel) PeerQueueRemovalQueue() *waitq.Queue   { return &c.peer.own.queueRemoval }
func (c *Channel) PeerQueueFullQueue() *waitq.Queue       { return &c.peer.own.queueFull }
func (c *Channel) PeerCloseQueue() *waitq.Queue          { return &c.peer.own.closeQ }
