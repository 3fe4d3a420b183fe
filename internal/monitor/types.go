// Package monitor implements the edge/level-triggered event aggregator
// (spec.md §4.F): items subscribe a bitmask of interesting events on a
// channel, server, counter, futex address, or timeout target; poll
// drains whatever has triggered into the caller's buffer.
package monitor

// TargetKind identifies what an Item's hooks were installed against.
type TargetKind int

const (
	TargetChannel TargetKind = iota
	TargetServer
	TargetCounter
	TargetFutex
	TargetTimeout
)

// EventMask is a bitmask of the hook-fabric events spec.md §4.F lists.
// Not every bit is meaningful for every TargetKind; AddXItem validates
// that only applicable bits were requested.
type EventMask uint32

const (
	EventMessageArrival EventMask = 1 << iota
	EventQueueEmpty
	EventPeerMessageArrival
	EventPeerQueueEmpty
	EventPeerQueueRemoval
	EventPeerQueueFull
	EventPeerClose
	EventClose
	EventClientArrival
	EventCounterUpdated
	EventFutexWake
	EventTimeout
)

// ItemOptions configures the trigger/lifecycle flags spec.md §3's
// "Monitor item" describes.
type ItemOptions struct {
	// LevelTriggered, if true, means the item stays asserted while its
	// underlying condition holds rather than firing once and clearing.
	LevelTriggered bool
	// ActiveLow inverts a level-triggered item's polarity: "condition
	// false" is what counts as triggered. Only meaningful alongside
	// LevelTriggered and a Recheck predicate.
	ActiveLow bool
	// DisableOnTrigger clears the item's enabled bit the first time it
	// is drained by Poll.
	DisableOnTrigger bool
	// DeleteOnTrigger unlinks and releases the item the first time it
	// is drained by Poll. OneshotFutex/OneshotTimeout set this.
	DeleteOnTrigger bool
	// Ctx is returned verbatim in Ready.Ctx.
	Ctx any
}

// Ready is one entry of a Poll result: which item fired, which of its
// subscribed events were set, and the context pointer it was created
// with.
type Ready struct {
	ItemID uint64
	Events EventMask
	Ctx    any
}
