package monitor

import (
	"github.com/anillo-os/ferrocore/internal/channel"
	"github.com/anillo-os/ferrocore/internal/status"
	"github.com/anillo-os/ferrocore/internal/waitq"
)

// registerWaitqHook installs a standing waiter on q: every time q wakes
// it, the waiter signals bit on it and re-registers itself, so one hook
// keeps observing the condition for the item's whole lifetime rather
// than firing only once. This relies on the re-entrancy invariant
// documented on waitq.Queue.WakeMany: the queue is unlocked around each
// waiter's callback, so re-adding w from inside its own callback is
// safe even when the callback runs on the same queue that woke it.
func registerWaitqHook(it *Item, q *waitq.Queue, bit EventMask) {
	var w *waitq.Waiter
	w = waitq.NewWaiter(func(any) {
		it.signal(bit)
		q.Wait(w)
	}, nil)
	q.Wait(w)
	it.addHook(func() { q.Unwait(w) })
}

const validChannelEvents = EventMessageArrival | EventQueueEmpty |
	EventPeerMessageArrival | EventPeerQueueEmpty | EventPeerQueueRemoval |
	EventPeerQueueFull | EventPeerClose | EventClose

// AddChannelItem subscribes a monitor item to one half of a channel
// pair (spec.md §4.F). mask selects which of the channel-shaped events
// to watch; any bit outside validChannelEvents fails InvalidArgument.
//
// EventMessageArrival and EventQueueEmpty (own side) and
// EventPeerMessageArrival (peer's side) register a recheck predicate
// backed by Peek, so a LevelTriggered item for them stays asserted
// across Poll calls as long as the underlying ring state matches. The
// remaining bits are edge-only: they always clear once drained,
// LevelTriggered or not, since there is no persistent condition to
// recheck (a removal or a close is a momentary event, not a state).
func (m *Monitor) AddChannelItem(ch *channel.Channel, mask EventMask, opts ItemOptions) (*Item, error) {
	if mask&^validChannelEvents != 0 {
		return nil, status.New("monitor_add_channel_item", status.InvalidArgument)
	}

	it := m.insert(TargetChannel, mask, opts)

	if mask&EventMessageArrival != 0 {
		registerWaitqHook(it, ch.MessageArrivalQueue(), EventMessageArrival)
		it.registerRecheck(EventMessageArrival, func() bool {
			_, ok := ch.Peek()
			return ok
		})
	}
	if mask&EventQueueEmpty != 0 {
		registerWaitqHook(it, ch.QueueEmptyQueue(), EventQueueEmpty)
		it.registerRecheck(EventQueueEmpty, func() bool {
			_, ok := ch.Peek()
			return !ok
		})
	}
	if mask&EventPeerMessageArrival != 0 {
		registerWaitqHook(it, ch.PeerMessageArrivalQueue(), EventPeerMessageArrival)
		peer := ch.Peer()
		it.registerRecheck(EventPeerMessageArrival, func() bool {
			_, ok := peer.Peek()
			return ok
		})
	}
	if mask&EventPeerQueueEmpty != 0 {
		registerWaitqHook(it, ch.PeerQueueEmptyQueue(), EventPeerQueueEmpty)
	}
	if mask&EventPeerQueueRemoval != 0 {
		registerWaitqHook(it, ch.PeerQueueRemovalQueue(), EventPeerQueueRemoval)
	}
	if mask&EventPeerQueueFull != 0 {
		registerWaitqHook(it, ch.PeerQueueFullQueue(), EventPeerQueueFull)
	}
	if mask&EventPeerClose != 0 {
		registerWaitqHook(it, ch.PeerCloseQueue(), EventPeerClose)
	}
	if mask&EventClose != 0 {
		registerWaitqHook(it, ch.CloseQueue(), EventClose)
	}
	return it, nil
}

const validServerEvents = EventClientArrival | EventQueueEmpty

// AddServerItem subscribes a monitor item to a server's backlog
// (spec.md §4.F): EventClientArrival fires when a connection lands in
// the backlog, EventQueueEmpty when the backlog is drained to nothing.
func (m *Monitor) AddServerItem(srv *channel.Server, mask EventMask, opts ItemOptions) (*Item, error) {
	if mask&^validServerEvents != 0 {
		return nil, status.New("monitor_add_server_item", status.InvalidArgument)
	}

	it := m.insert(TargetServer, mask, opts)

	if mask&EventClientArrival != 0 {
		registerWaitqHook(it, srv.ClientArrivalQueue(), EventClientArrival)
		it.registerRecheck(EventClientArrival, srv.HasPending)
	}
	if mask&EventQueueEmpty != 0 {
		registerWaitqHook(it, srv.QueueEmptyQueue(), EventQueueEmpty)
		it.registerRecheck(EventQueueEmpty, func() bool { return !srv.HasPending() })
	}
	return it, nil
}

// AddCounterItem subscribes a monitor item to a Counter's updates.
// There is no persistent level condition for "was updated", so the
// event is edge-only regardless of opts.LevelTriggered.
func (m *Monitor) AddCounterItem(counter *Counter, opts ItemOptions) *Item {
	it := m.insert(TargetCounter, EventCounterUpdated, opts)
	registerWaitqHook(it, counter.updatedQueue(), EventCounterUpdated)
	return it
}
