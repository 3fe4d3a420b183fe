package monitor

import (
	"sync"

	"github.com/anillo-os/ferrocore/internal/waitq"
)

// Counter is the minimal "value updated" target spec.md §4.F's hook
// fabric lists. It is not its own top-level subsystem in spec.md (only
// mentioned as a monitor target kind), so it lives here rather than in
// its own package: a value plus a waitqueue fired on every update.
type Counter struct {
	mu       sync.Mutex
	value    int64
	updated  waitq.Queue
}

// NewCounter creates a counter with the given initial value.
func NewCounter(initial int64) *Counter {
	c := &Counter{value: initial}
	return c
}

// Add adjusts the counter's value by delta and wakes every watcher.
func (c *Counter) Add(delta int64) int64 {
	c.mu.Lock()
	c.value += delta
	v := c.value
	c.mu.Unlock()
	c.updated.WakeMany(1 << 30)
	return v
}

// Value returns the counter's current value.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *Counter) updatedQueue() *waitq.Queue { return &c.updated }
