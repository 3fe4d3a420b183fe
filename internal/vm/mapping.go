package vm

import (
	"sync"

	"github.com/anillo-os/ferrocore/internal/status"
)

// Kind discriminates the tagged union of mapping flavors spec.md §4.D
// describes.
type Kind int

const (
	// KindAnonymous backs every page with a frame from the owning
	// address space's own allocator, allocated on demand.
	KindAnonymous Kind = iota
	// KindSharedBound delegates translation to a SharedMemoryObject's
	// frame list, so two mappings (possibly in different address
	// spaces) of the same object observe the same physical pages.
	KindSharedBound
	// KindIndirect delegates translation to another Mapping, offset by
	// a fixed page count. Used to let one mapping alias a sub-range of
	// another without its own frame list.
	KindIndirect
)

// onDemand is the sentinel frame value meaning "not yet resolved";
// HandleFault replaces it with a real frame address the first time the
// page is touched.
const onDemand = 0

// Mapping is one contiguous VA range inserted into an AddressSpace.
type Mapping struct {
	mu   sync.Mutex
	kind Kind
	va   uintptr
	size uintptr

	frames []uintptr // KindAnonymous only, one entry per page

	shared     *SharedMemoryObject // KindSharedBound only
	sharedBase int                 // index of this mapping's first page within shared's frame list

	indirectTarget   *Mapping // KindIndirect only
	indirectPageBase int      // page offset into indirectTarget
}

// NewAnonymousMapping creates a mapping whose pages are allocated
// on-demand from the owning address space (spec.md's on-demand sentinel).
func NewAnonymousMapping(va, size uintptr) *Mapping {
	pages := pageCount(size)
	return &Mapping{kind: KindAnonymous, va: va, size: uintptr(pages) * PageSize, frames: make([]uintptr, pages)}
}

// NewSharedBoundMapping creates a mapping whose pages are the shared
// object's frames starting at basePage pages in.
func NewSharedBoundMapping(va uintptr, shared *SharedMemoryObject, basePage int, pages int) *Mapping {
	return &Mapping{kind: KindSharedBound, va: va, size: uintptr(pages) * PageSize, shared: shared, sharedBase: basePage}
}

// BindIndirect makes m an alias of target starting at targetPageBase
// pages into target, for m's own page count, so m presents a view onto
// frames that target owns.
func (m *Mapping) BindIndirect(target *Mapping, targetPageBase int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kind = KindIndirect
	m.indirectTarget = target
	m.indirectPageBase = targetPageBase
}

func pageCount(size uintptr) int {
	return int((size + PageSize - 1) / PageSize)
}

// VA returns the mapping's base virtual address.
func (m *Mapping) VA() uintptr { return m.va }

// Size returns the mapping's size in bytes, rounded up to whole pages.
func (m *Mapping) Size() uintptr { return m.size }

// Translate resolves va (which must fall within this mapping) to a
// physical address. ok is false for an anonymous mapping's unresolved
// on-demand page — the caller is expected to route that through
// AddressSpace.HandleFault rather than treat it as bad_address.
func (m *Mapping) Translate(va uintptr) (phys uintptr, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if va < m.va || va >= m.va+m.size {
		return 0, false
	}
	page := int((va - m.va) / PageSize)

	switch m.kind {
	case KindAnonymous:
		f := m.frames[page]
		if f == onDemand {
			return 0, false
		}
		return f, true
	case KindSharedBound:
		return m.shared.frameAt(m.sharedBase + page)
	case KindIndirect:
		targetVA := m.indirectTarget.va + uintptr(m.indirectPageBase+page)*PageSize
		return m.indirectTarget.Translate(targetVA)
	default:
		return 0, false
	}
}

// resolveFault installs frame at page for an anonymous mapping that
// faulted on an unresolved on-demand page. Returns status.AlreadyInProgress
// if another fault beat this one to it (the caller should just retry the
// translate).
func (m *Mapping) resolveFault(va uintptr, frame uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kind != KindAnonymous {
		return status.New("page_fault", status.InvalidArgument)
	}
	page := int((va - m.va) / PageSize)
	if m.frames[page] != onDemand {
		return status.New("page_fault", status.AlreadyInProgress)
	}
	m.frames[page] = frame
	return nil
}

// contains reports whether va falls in [va, va+size).
func (m *Mapping) contains(va uintptr) bool {
	return va >= m.va && va < m.va+m.size
}

// overlaps reports whether [va, va+size) overlaps this mapping's range.
func (m *Mapping) overlaps(va, size uintptr) bool {
	return va < m.va+m.size && m.va < va+size
}
