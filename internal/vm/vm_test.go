package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anillo-os/ferrocore/internal/status"
)

func newTestSpace(t *testing.T) (*AddressSpace, *Arena) {
	t.Helper()
	arena, err := NewArena(16 * PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = arena.Close() })
	return NewAddressSpace(arena, nil), arena
}

func TestAnonymousMappingFaultsOnDemand(t *testing.T) {
	space, _ := newTestSpace(t)
	va := space.AllocateVirtual(PageSize)
	m := NewAnonymousMapping(va, PageSize)
	require.NoError(t, space.InsertMapping(m))

	_, ok := m.Translate(va)
	require.False(t, ok)

	require.NoError(t, space.HandleFault(va))
	phys, ok := m.Translate(va)
	require.True(t, ok)
	require.NotZero(t, phys)
}

func TestHandleFaultOutsideAnyMappingIsBadAddress(t *testing.T) {
	space, _ := newTestSpace(t)
	err := space.HandleFault(0xdead0000)
	require.True(t, status.Is(err, status.BadAddress))
}

func TestInsertOverlappingMappingFails(t *testing.T) {
	space, _ := newTestSpace(t)
	va := space.AllocateVirtual(2 * PageSize)
	m1 := NewAnonymousMapping(va, 2*PageSize)
	require.NoError(t, space.InsertMapping(m1))

	m2 := NewAnonymousMapping(va+PageSize, PageSize)
	err := space.InsertMapping(m2)
	require.True(t, status.Is(err, status.InvalidArgument))
}

func TestRemoveMapping(t *testing.T) {
	space, _ := newTestSpace(t)
	va := space.AllocateVirtual(PageSize)
	m := NewAnonymousMapping(va, PageSize)
	require.NoError(t, space.InsertMapping(m))
	require.NoError(t, space.RemoveMapping(m))

	err := space.RemoveMapping(m)
	require.True(t, status.Is(err, status.NoSuchResource))
}

func TestFreeVirtualReusesReleasedRegion(t *testing.T) {
	space, _ := newTestSpace(t)
	va := space.AllocateVirtual(PageSize)
	m := NewAnonymousMapping(va, PageSize)
	require.NoError(t, space.InsertMapping(m))
	require.NoError(t, space.RemoveMapping(m))
	require.NoError(t, space.FreeVirtual(va, PageSize))

	// A same-sized allocation after the free should reuse va rather
	// than bumping the space ever upward.
	reused := space.AllocateVirtual(PageSize)
	require.Equal(t, va, reused)
}

func TestFreeVirtualCoalescesAdjacentRegions(t *testing.T) {
	space, _ := newTestSpace(t)
	va := space.AllocateVirtual(3 * PageSize)
	m := NewAnonymousMapping(va, 3*PageSize)
	require.NoError(t, space.InsertMapping(m))
	require.NoError(t, space.RemoveMapping(m))

	// Free the three pages out of order; they should coalesce back
	// into one contiguous region regardless of free order.
	require.NoError(t, space.FreeVirtual(va+2*PageSize, PageSize))
	require.NoError(t, space.FreeVirtual(va, PageSize))
	require.NoError(t, space.FreeVirtual(va+PageSize, PageSize))

	require.Len(t, space.free, 1)
	require.Equal(t, va, space.free[0].va)
	require.Equal(t, 3*PageSize, int(space.free[0].size))

	reused := space.AllocateVirtual(3 * PageSize)
	require.Equal(t, va, reused)
}

func TestFreeVirtualRejectsStillMappedRegion(t *testing.T) {
	space, _ := newTestSpace(t)
	va := space.AllocateVirtual(PageSize)
	m := NewAnonymousMapping(va, PageSize)
	require.NoError(t, space.InsertMapping(m))

	err := space.FreeVirtual(va, PageSize)
	require.True(t, status.Is(err, status.InvalidArgument))
}

func TestSharedMemoryObjectBoundByTwoSpaces(t *testing.T) {
	spaceA, arena := newTestSpace(t)
	spaceB := NewAddressSpace(arena, nil)

	shared := NewSharedMemoryObject(arena, PageSize)

	vaA := spaceA.AllocateVirtual(PageSize)
	mA := NewSharedBoundMapping(vaA, shared, 0, 1)
	require.NoError(t, spaceA.InsertMapping(mA))

	vaB := spaceB.AllocateVirtual(PageSize)
	mB := NewSharedBoundMapping(vaB, shared, 0, 1)
	require.NoError(t, spaceB.InsertMapping(mB))
	shared.Retain()

	require.NoError(t, spaceA.HandleFault(vaA))
	physA, ok := mA.Translate(vaA)
	require.True(t, ok)

	// spaceB's mapping resolves to the same frame without its own fault,
	// since the underlying SharedMemoryObject already has it.
	physB, ok := mB.Translate(vaB)
	require.True(t, ok)
	require.Equal(t, physA, physB)
}

func TestArenaDoubleFreeFails(t *testing.T) {
	arena, err := NewArena(PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	phys, err := arena.Allocate()
	require.NoError(t, err)
	require.NoError(t, arena.Free(phys))

	err = arena.Free(phys)
	require.True(t, status.Is(err, status.InvalidArgument))
}

func TestArenaExhaustion(t *testing.T) {
	arena, err := NewArena(2 * PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	_, err = arena.Allocate()
	require.NoError(t, err)
	_, err = arena.Allocate()
	require.NoError(t, err)

	_, err = arena.Allocate()
	require.True(t, status.Is(err, status.TemporaryOutage))
}
