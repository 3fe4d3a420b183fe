package monitor

import (
	"time"

	"github.com/anillo-os/ferrocore/internal/futex"
)

// OneshotFutex creates an item that fires EventFutexWake the next time
// the futex at (resolve(userVA), channel) is woken (via futex.Table.Wake
// or an Associate death-write), then auto-disables and auto-deletes
// itself (spec.md §4.F: "oneshot_futex... requires no item handle to be
// retained"). The returned item's id is still useful to the caller for
// cancelling it early via Monitor.RemoveItem before it fires.
//
// Unlike AddChannelItem's hooks, a futex target has no standing
// waitqueue a caller can safely peek without consuming a wait, so this
// does not register a recheck predicate: the event is inherently
// edge-only, matching futex_wait's own one-shot-per-call semantics.
func (m *Monitor) OneshotFutex(tbl *futex.Table, resolve futex.Resolver, userVA uintptr, channel uint64, ctx any) (*Item, error) {
	it := m.insert(TargetFutex, EventFutexWake, ItemOptions{
		DisableOnTrigger: true,
		DeleteOnTrigger:  true,
		Ctx:              ctx,
	})

	cancel, err := tbl.Hook(resolve, userVA, channel, func() {
		it.signal(EventFutexWake)
	})
	if err != nil {
		_ = m.RemoveItem(it)
		return nil, err
	}
	it.addHook(cancel)
	return it, nil
}

// OneshotTimeout creates an item that fires EventTimeout once, after
// timeout elapses, then auto-disables and auto-deletes itself (spec.md
// §4.F). Cancelling it early via Monitor.RemoveItem also stops the
// underlying timer.
func (m *Monitor) OneshotTimeout(timeout time.Duration, ctx any) *Item {
	it := m.insert(TargetTimeout, EventTimeout, ItemOptions{
		DisableOnTrigger: true,
		DeleteOnTrigger:  true,
		Ctx:              ctx,
	})

	timer := time.AfterFunc(timeout, func() {
		it.signal(EventTimeout)
	})
	it.addHook(func() { timer.Stop() })
	return it
}
