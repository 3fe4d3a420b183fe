package vm

import (
	"sync"

	"github.com/anillo-os/ferrocore/internal/futex"
	"github.com/anillo-os/ferrocore/internal/status"
)

// userBase is where the bump virtual-address allocator starts handing
// out regions. It exists purely to keep user-half addresses obviously
// distinct from the arena's own backing addresses in traces; the
// simulated kernel has no real page tables to separate kernel/user
// halves with.
const userBase = 0x1_0000_0000

// AddressSpace is a process's virtual memory namespace (spec.md §4.D):
// a mapping list, a free-region allocator, a frame pool, and a futex
// table scoped to this process. The kernel half invariants (shared
// across spaces) and "destroyed when refcount hits zero" lifecycle are
// left to the root kernel package, which owns process refcounting.
type AddressSpace struct {
	mu       sync.Mutex
	alloc    FrameAllocator
	inv      Invalidator
	mappings []*Mapping
	nextVA   uintptr
	free     []freeRegion

	Futexes *futex.Table
}

// freeRegion is a released VA range FreeVirtual has made available for
// reuse, kept sorted by va and coalesced with its neighbors so repeated
// allocate/free cycles don't fragment the space into ever-smaller
// pieces.
type freeRegion struct {
	va   uintptr
	size uintptr
}

// NewAddressSpace creates an address space backed by alloc. inv may be
// nil, defaulting to NoopInvalidator.
func NewAddressSpace(alloc FrameAllocator, inv Invalidator) *AddressSpace {
	if inv == nil {
		inv = NoopInvalidator{}
	}
	return &AddressSpace{
		alloc:   alloc,
		inv:     inv,
		nextVA:  userBase,
		Futexes: futex.NewTable(),
	}
}

// AllocateVirtual reserves a free VA region of the given size (rounded
// up to whole pages) without installing a mapping for it yet. A region
// FreeVirtual has returned is reused (first-fit) before the bump
// allocator hands out fresh address space, so a create/destroy churn of
// same-sized mappings doesn't walk nextVA upward forever.
func (s *AddressSpace) AllocateVirtual(size uintptr) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages := pageCount(size)
	need := uintptr(pages) * PageSize

	for i, r := range s.free {
		if r.size < need {
			continue
		}
		va := r.va
		if r.size == need {
			s.free = append(s.free[:i], s.free[i+1:]...)
		} else {
			s.free[i] = freeRegion{va: r.va + need, size: r.size - need}
		}
		return va
	}

	va := s.nextVA
	s.nextVA += need
	return va
}

// FreeVirtual releases a VA region previously returned by
// AllocateVirtual (spec.md §4.D's free_virtual), making it available
// for a later AllocateVirtual call. The caller must have already
// removed any mapping covering the region (RemoveMapping) — FreeVirtual
// only governs address-space bookkeeping, not frames or mappings.
func (s *AddressSpace) FreeVirtual(va uintptr, size uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pages := pageCount(size)
	freedSize := uintptr(pages) * PageSize
	for _, m := range s.mappings {
		if m.overlaps(va, freedSize) {
			return status.New("free_virtual", status.InvalidArgument)
		}
	}

	idx := 0
	for idx < len(s.free) && s.free[idx].va < va {
		idx++
	}
	s.free = append(s.free, freeRegion{})
	copy(s.free[idx+1:], s.free[idx:])
	s.free[idx] = freeRegion{va: va, size: freedSize}

	s.coalesceLocked(idx)
	return nil
}

// coalesceLocked merges the region at idx with its immediate neighbors
// in s.free if they are contiguous, called with mu held.
func (s *AddressSpace) coalesceLocked(idx int) {
	if idx+1 < len(s.free) {
		cur := s.free[idx]
		next := s.free[idx+1]
		if cur.va+cur.size == next.va {
			s.free[idx].size += next.size
			s.free = append(s.free[:idx+1], s.free[idx+2:]...)
		}
	}
	if idx > 0 {
		prev := s.free[idx-1]
		cur := s.free[idx]
		if prev.va+prev.size == cur.va {
			s.free[idx-1].size += cur.size
			s.free = append(s.free[:idx], s.free[idx+1:]...)
		}
	}
}

// InsertMapping adds m to the space, failing with status.InvalidArgument
// if it overlaps an existing mapping.
func (s *AddressSpace) InsertMapping(m *Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mappings {
		if existing.overlaps(m.va, m.size) {
			return status.New("insert_mapping", status.InvalidArgument)
		}
	}
	s.mappings = append(s.mappings, m)
	return nil
}

// RemoveMapping unlinks m from the space and issues the TLB invalidation
// sequence for its range.
func (s *AddressSpace) RemoveMapping(m *Mapping) error {
	s.mu.Lock()
	idx := -1
	for i, existing := range s.mappings {
		if existing == m {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return status.New("remove_mapping", status.NoSuchResource)
	}
	s.mappings = append(s.mappings[:idx], s.mappings[idx+1:]...)
	s.mu.Unlock()

	s.inv.InvalidateForRange(m.va, m.size)
	return nil
}

// MapFrameFixed installs a specific physical frame at a specific page of
// an already-inserted anonymous mapping, bypassing on-demand fault
// resolution (used by the root package's Process.AllocatePages to back
// every page eagerly).
func (s *AddressSpace) MapFrameFixed(m *Mapping, va uintptr, frame uintptr) error {
	if err := m.resolveFault(va, frame); err != nil {
		return err
	}
	s.inv.InvalidateForAddress(va)
	return nil
}

// MoveIntoMapping relocates the frame backing srcVA (in src) to become
// the frame backing dstVA (in dst) without copying; src's page returns
// to the on-demand sentinel. Only an anonymous src is supported.
func (s *AddressSpace) MoveIntoMapping(src *Mapping, srcVA uintptr, dst *Mapping, dstVA uintptr) error {
	phys, ok := src.Translate(srcVA)
	if !ok {
		return status.New("move_into_mapping", status.BadAddress)
	}

	src.mu.Lock()
	if src.kind != KindAnonymous {
		src.mu.Unlock()
		return status.New("move_into_mapping", status.Unsupported)
	}
	page := int((srcVA - src.va) / PageSize)
	src.frames[page] = onDemand
	src.mu.Unlock()

	if err := dst.resolveFault(dstVA, phys); err != nil {
		return err
	}
	s.inv.InvalidateForAddress(srcVA)
	s.inv.InvalidateForAddress(dstVA)
	return nil
}

// Translate finds the mapping owning va and resolves it. This is the
// function an AddressSpace-scoped futex.Resolver closes over.
func (s *AddressSpace) Translate(va uintptr) (uintptr, bool) {
	s.mu.Lock()
	var owner *Mapping
	for _, m := range s.mappings {
		if m.contains(va) {
			owner = m
			break
		}
	}
	s.mu.Unlock()
	if owner == nil {
		return 0, false
	}
	return owner.Translate(va)
}

// Resolver returns a futex.Resolver bound to this address space.
func (s *AddressSpace) Resolver() futex.Resolver {
	return s.Translate
}

// HandleFault resolves an on-demand page fault at va. It allocates a
// fresh frame from the space's allocator and installs it. A fault at an
// address not covered by any mapping reports status.BadAddress — the
// caller (the root kernel package) is expected to signal the owning
// thread rather than treat this as a kernel bug, since the simulated
// kernel has no separate kernel half to distinguish a "real" double
// fault from.
func (s *AddressSpace) HandleFault(va uintptr) error {
	s.mu.Lock()
	var owner *Mapping
	for _, m := range s.mappings {
		if m.contains(va) {
			owner = m
			break
		}
	}
	s.mu.Unlock()
	if owner == nil {
		return status.New("page_fault", status.BadAddress)
	}

	owner.mu.Lock()
	kind := owner.kind
	owner.mu.Unlock()

	switch kind {
	case KindAnonymous:
		frame, err := s.alloc.Allocate()
		if err != nil {
			return err
		}
		if err := owner.resolveFault(va, frame); err != nil {
			if status.Is(err, status.AlreadyInProgress) {
				return nil // lost the race to a concurrent fault; already resolved
			}
			_ = s.alloc.Free(frame)
			return err
		}
		s.inv.InvalidateForAddress(va)
		return nil
	case KindSharedBound:
		owner.mu.Lock()
		page := int((va-owner.va)/PageSize) + owner.sharedBase
		shared := owner.shared
		owner.mu.Unlock()
		if err := shared.resolveFault(page); err != nil {
			if status.Is(err, status.AlreadyInProgress) {
				return nil
			}
			return err
		}
		s.inv.InvalidateForAddress(va)
		return nil
	default:
		return status.New("page_fault", status.InvalidArgument)
	}
}
