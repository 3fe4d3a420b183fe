// Package vm implements the virtual-memory object model backing message
// attachments (spec.md §4.D): per-process address spaces, mappings
// (anonymous / shared-memory-bound / indirect / on-demand), and the
// physical frame pool those mappings resolve onto.
//
// Go cannot hand out literal physical memory, so Arena stands in for it
// with one real anonymous golang.org/x/sys/unix.Mmap region per address
// space: page contents are genuine addressable memory (not a simulated
// byte slice), which is what lets internal/futex treat a resolved
// address as something atomic.LoadUint64 can read directly.
package vm

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/anillo-os/ferrocore/internal/status"
)

// PageSize is the page granularity the whole module allocates and
// translates in. Real microkernels juggle multiple page sizes; this one
// doesn't need to.
const PageSize = 4096

// FrameAllocator hands out and reclaims physical page frames. Arena is
// the shipped implementation; it is an interface so tests can swap in a
// tiny fake instead of mmapping real memory per test.
type FrameAllocator interface {
	Allocate() (uintptr, error)
	Free(phys uintptr) error
	Contains(phys uintptr) bool
}

// Arena is a bitmap-tracked frame pool over one mmap'd region. The
// allocation metadata (the bitmap, next-fit cursor) is adapted from
// unsafex/malloc's BitmapAllocator idiom: a next-fit scan over a bitmap
// rather than a free list, which keeps the allocator allocation-free on
// its own hot path.
//
// backend/mem.go's sharded-RWMutex design sharded locks across
// independent byte ranges so parallel random I/O on disjoint regions
// didn't contend. That doesn't transfer directly here: a next-fit bitmap
// scan needs a global view of free frames, so Arena uses a single mutex
// over the bitmap rather than one lock per shard. Contention here is
// expected to be low — frame allocation is rare compared to the message
// and futex traffic that dominates the rest of the core.
type Arena struct {
	mu        sync.Mutex
	region    []byte
	base      uintptr
	bitmap    []uint64
	numFrames int
	nextIdx   int
}

// NewArena mmaps an anonymous region of at least sizeBytes, rounded up
// to a whole number of frames.
func NewArena(sizeBytes int) (*Arena, error) {
	if sizeBytes <= 0 {
		sizeBytes = PageSize
	}
	numFrames := (sizeBytes + PageSize - 1) / PageSize
	region, err := unix.Mmap(-1, 0, numFrames*PageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return &Arena{
		region:    region,
		base:      uintptr(unsafe.Pointer(&region[0])),
		bitmap:    make([]uint64, (numFrames+63)/64),
		numFrames: numFrames,
	}, nil
}

// Base returns the arena's backing region start address.
func (a *Arena) Base() uintptr { return a.base }

// Allocate reserves one free frame and returns its physical (here:
// process-virtual, standing in for physical) address.
func (a *Arena) Allocate() (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.numFrames; i++ {
		idx := (a.nextIdx + i) % a.numFrames
		word, bit := idx/64, uint(idx%64)
		if a.bitmap[word]&(1<<bit) == 0 {
			a.bitmap[word] |= 1 << bit
			a.nextIdx = (idx + 1) % a.numFrames
			return a.base + uintptr(idx*PageSize), nil
		}
	}
	return 0, status.New("page_allocate", status.TemporaryOutage)
}

// Free releases a previously allocated frame. Double-free and
// out-of-range addresses both report status.InvalidArgument.
func (a *Arena) Free(phys uintptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.indexLocked(phys)
	if !ok {
		return status.New("page_free", status.InvalidArgument)
	}
	word, bit := idx/64, uint(idx%64)
	if a.bitmap[word]&(1<<bit) == 0 {
		return status.New("page_free", status.InvalidArgument)
	}
	a.bitmap[word] &^= 1 << bit
	return nil
}

// Contains reports whether phys is an address inside this arena's
// backing region (not necessarily currently allocated).
func (a *Arena) Contains(phys uintptr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.indexLocked(phys)
	return ok
}

func (a *Arena) indexLocked(phys uintptr) (int, bool) {
	if phys < a.base {
		return 0, false
	}
	off := phys - a.base
	if off%PageSize != 0 {
		return 0, false
	}
	idx := int(off / PageSize)
	if idx >= a.numFrames {
		return 0, false
	}
	return idx, true
}

// Close unmaps the backing region. Callers must ensure no address space
// still holds mappings into it.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.region == nil {
		return nil
	}
	err := unix.Munmap(a.region)
	a.region = nil
	return err
}
