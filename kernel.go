// Package ferro is the composition root of the simulated kernel: it
// wires the scheduler, virtual memory, futex, channel, and monitor
// subsystems together behind a single handle-table API, the way the
// teacher's root package wired a controller and queue runners behind a
// Device.
package ferro

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anillo-os/ferrocore/internal/channel"
	"github.com/anillo-os/ferrocore/internal/logging"
	"github.com/anillo-os/ferrocore/internal/monitor"
	"github.com/anillo-os/ferrocore/internal/sched"
	"github.com/anillo-os/ferrocore/internal/status"
	"github.com/anillo-os/ferrocore/internal/vm"
)

// Options contains additional options for kernel creation.
type Options struct {
	// Context for cancellation (if nil, uses context.Background())
	Context context.Context

	// Logger for debug/info messages (if nil, uses logging.Default())
	Logger *logging.Logger

	// Observer for metrics collection (if nil, uses a MetricsObserver
	// wrapping the kernel's own *Metrics)
	Observer Observer
}

// Process is a thread's scheduling and address-space container: every
// Thread created through Kernel.ThreadCreate belongs to exactly one
// Process, and every Process owns exactly one AddressSpace (spec.md
// §4.B/§4.D: multiple address spaces per process and hot CPU
// repartitioning are explicit Non-goals, so this stays a flat 1:1).
type Process struct {
	id      uint64
	space   *vm.AddressSpace
	arena   *vm.Arena
	threads map[uint64]*sched.Thread

	mu sync.Mutex
	// pageMappings tracks the mapping backing each page_allocate'd VA so
	// page_free can unmap and release the frame without the caller
	// having to remember the *vm.Mapping itself.
	pageMappings map[uintptr]*vm.Mapping

	// entryPoints stands in for the syscall ABI's raw instruction-pointer
	// argument: this is a userspace simulation with no real code to jump
	// to, so a thread's "entry" register instead names a slot a process
	// registered ahead of time via RegisterEntryPoint.
	entryPoints   map[uint64]func(*sched.Thread)
	nextEntryID   uint64
	bootstrapSet  bool
	bootstrapHandle uint64
}

// ID returns the process's kernel-assigned id.
func (p *Process) ID() uint64 { return p.id }

// Space returns the process's address space.
func (p *Process) Space() *vm.AddressSpace { return p.space }

// RegisterEntryPoint records fn under a fresh entry id and returns it,
// for a caller that will pass that id as thread_create's entry argument.
func (p *Process) RegisterEntryPoint(fn func(*sched.Thread)) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextEntryID++
	id := p.nextEntryID
	p.entryPoints[id] = fn
	return id
}

// EntryPoint looks up a previously registered entry point by id.
func (p *Process) EntryPoint(id uint64) (func(*sched.Thread), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn, ok := p.entryPoints[id]
	return fn, ok
}

// SetBootstrapHandle records the one handle (e.g. a channel to the
// process's creator) handed to a freshly created process, for a single
// later retrieval via DetachBootstrapHandle.
func (p *Process) SetBootstrapHandle(h uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bootstrapHandle = h
	p.bootstrapSet = true
}

// DetachBootstrapHandle returns the process's bootstrap handle and
// clears it, so it can only be retrieved once (spec.md §6.2's
// proc_init_context_detach_object).
func (p *Process) DetachBootstrapHandle() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.bootstrapSet {
		return 0, false
	}
	p.bootstrapSet = false
	h := p.bootstrapHandle
	p.bootstrapHandle = 0
	return h, true
}

// AllocatePages reserves a fresh VA region of size bytes (rounded up to
// whole pages), backs every page with a freshly allocated frame from
// the process's arena, and maps it in. There is no real MMU behind this
// simulation to fault pages in lazily on first touch from outside the
// kernel, so page_allocate resolves every page eagerly rather than
// leaving them on-demand.
func (p *Process) AllocatePages(size uintptr) (uintptr, error) {
	if size == 0 {
		size = vm.PageSize
	}
	va := p.space.AllocateVirtual(size)
	mapping := vm.NewAnonymousMapping(va, size)
	if err := p.space.InsertMapping(mapping); err != nil {
		return 0, err
	}

	pages := int(mapping.Size() / vm.PageSize)
	for i := 0; i < pages; i++ {
		frame, err := p.arena.Allocate()
		if err != nil {
			_ = p.space.RemoveMapping(mapping)
			_ = p.space.FreeVirtual(va, mapping.Size())
			return 0, err
		}
		pageVA := va + uintptr(i)*vm.PageSize
		if err := p.space.MapFrameFixed(mapping, pageVA, frame); err != nil {
			_ = p.arena.Free(frame)
			_ = p.space.RemoveMapping(mapping)
			_ = p.space.FreeVirtual(va, mapping.Size())
			return 0, err
		}
	}

	p.TrackPageMapping(va, mapping)
	return va, nil
}

// FreePages releases the allocation AllocatePages returned va for,
// freeing every frame backing it back to the process's arena and
// returning the VA range itself to the address space's free list so a
// later AllocatePages call can reuse it instead of growing the space
// forever.
func (p *Process) FreePages(va uintptr) error {
	mapping, found := p.UntrackPageMapping(va)
	if !found {
		return status.New("page_free", status.NoSuchResource)
	}

	pages := int(mapping.Size() / vm.PageSize)
	for i := 0; i < pages; i++ {
		pageVA := va + uintptr(i)*vm.PageSize
		if phys, ok := mapping.Translate(pageVA); ok {
			_ = p.arena.Free(phys)
		}
	}
	if err := p.space.RemoveMapping(mapping); err != nil {
		return err
	}
	return p.space.FreeVirtual(va, mapping.Size())
}

// TrackPageMapping records which mapping backs a page_allocate'd VA.
func (p *Process) TrackPageMapping(va uintptr, m *vm.Mapping) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageMappings[va] = m
}

// UntrackPageMapping removes and returns the mapping backing va, if any.
func (p *Process) UntrackPageMapping(va uintptr) (*vm.Mapping, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.pageMappings[va]
	if ok {
		delete(p.pageMappings, va)
	}
	return m, ok
}

// KernelState represents the current lifecycle state of a Kernel.
type KernelState string

const (
	KernelStateCreated KernelState = "created"
	KernelStateRunning KernelState = "running"
	KernelStateStopped KernelState = "stopped"
)

// Kernel is a running instance of the simulated kernel: a Scheduler plus
// the handle tables (processes, channels, servers, monitors) that
// spec.md's syscalls operate on by handle rather than by Go reference.
type Kernel struct {
	cfg KernelConfig

	sched *sched.Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	started       bool
	nextHandle    uint64
	processes     map[uint64]*Process
	channels      map[uint64]*channel.Channel
	servers       map[uint64]*channel.Server
	monitors      map[uint64]*monitor.Monitor
	sharedObjects map[uint64]*vm.SharedMemoryObject

	logger   *logging.Logger
	metrics  *Metrics
	observer Observer
}

// New creates a Kernel with the given configuration, starting its
// scheduler's simulated CPUs and handle tables. This is the main entry
// point for embedding the core.
//
// Example:
//
//	k, err := ferro.New(ferro.DefaultKernelConfig(), nil)
func New(cfg KernelConfig, options *Options) (*Kernel, error) {
	if options == nil {
		options = &Options{}
	}
	k := newKernel(cfg, nil)

	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	k.ctx, k.cancel = context.WithCancel(ctx)

	if options.Logger != nil {
		k.logger = options.Logger
	}
	if options.Observer != nil {
		k.observer = options.Observer
	} else {
		k.observer = NewMetricsObserver(k.metrics)
	}

	k.started = true
	k.logger.Info("kernel initialization complete", "cpus", k.sched.NumCPUs())
	return k, nil
}

// newKernel builds the Kernel's internal state without starting
// lifecycle bookkeeping (ctx/cancel/started), so tests can construct
// one around a FakeClock via NewTestKernel without going through New's
// context plumbing.
func newKernel(cfg KernelConfig, clock sched.Clock) *Kernel {
	cfg = cfg.withDefaults()
	return &Kernel{
		cfg:           cfg,
		sched:         sched.New(cfg.NumCPUs, clock),
		processes:     make(map[uint64]*Process),
		channels:      make(map[uint64]*channel.Channel),
		servers:       make(map[uint64]*channel.Server),
		monitors:      make(map[uint64]*monitor.Monitor),
		sharedObjects: make(map[uint64]*vm.SharedMemoryObject),
		logger:        logging.Default(),
		metrics:       NewMetrics(),
		observer:      NoOpObserver{},
	}
}

// Scheduler returns the kernel's underlying scheduler, for callers that
// need CPU-level access (e.g. a syscall dispatcher resolving the CPU a
// thread is pinned to).
func (k *Kernel) Scheduler() *sched.Scheduler { return k.sched }

func (k *Kernel) allocHandle() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextHandle++
	return k.nextHandle
}

// ProcessCreate creates a new Process with a fresh address space backed
// by a freshly mmap'd Arena of KernelConfig.ArenaBytes, and returns it.
func (k *Kernel) ProcessCreate() (*Process, error) {
	arena, err := vm.NewArena(k.cfg.ArenaBytes)
	if err != nil {
		return nil, WrapError("process_create", err)
	}

	id := k.allocHandle()
	p := &Process{
		id:           id,
		space:        vm.NewAddressSpace(arena, nil),
		arena:        arena,
		threads:      make(map[uint64]*sched.Thread),
		pageMappings: make(map[uintptr]*vm.Mapping),
		entryPoints:  make(map[uint64]func(*sched.Thread)),
	}

	k.mu.Lock()
	k.processes[id] = p
	k.mu.Unlock()
	return p, nil
}

// ProcessByID looks up a still-live process by handle.
func (k *Kernel) ProcessByID(id uint64) (*Process, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.processes[id]
	if !ok {
		return nil, NewError("process_current", status.NoSuchResource, "no such process")
	}
	return p, nil
}

// ThreadCreate creates a new thread inside process, scheduled onto a
// CPU but left suspended (spec.md §4.B: thread_create leaves the thread
// dormant until resumed).
func (k *Kernel) ThreadCreate(p *Process, entry func(t *sched.Thread)) (*sched.Thread, error) {
	th := k.sched.ThreadNew(entry)
	if err := k.sched.SchedManage(th); err != nil {
		return nil, WrapError("thread_create", err)
	}

	k.mu.Lock()
	p.threads[th.ID()] = th
	k.mu.Unlock()
	return th, nil
}

// ChannelCreatePair creates a connected channel pair and registers both
// halves in the handle table, returning their handles.
func (k *Kernel) ChannelCreatePair(capacity int) (aHandle, bHandle uint64, a, b *channel.Channel) {
	if capacity <= 0 {
		capacity = k.cfg.ChannelRingCapacity
	}
	a, b = channel.NewPair(capacity)

	aHandle = k.allocHandle()
	bHandle = k.allocHandle()
	k.mu.Lock()
	k.channels[aHandle] = a
	k.channels[bHandle] = b
	k.mu.Unlock()
	return aHandle, bHandle, a, b
}

// RegisterChannel registers an already-created channel half (e.g. one
// returned by a Server's Accept) in the handle table and returns its
// handle.
func (k *Kernel) RegisterChannel(c *channel.Channel) uint64 {
	h := k.allocHandle()
	k.mu.Lock()
	k.channels[h] = c
	k.mu.Unlock()
	return h
}

// ChannelByHandle looks up a channel by handle.
func (k *Kernel) ChannelByHandle(h uint64) (*channel.Channel, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, ok := k.channels[h]
	if !ok {
		return nil, NewError("channel_lookup", status.NoSuchResource, "no such channel")
	}
	return c, nil
}

// ServerCreate creates a server and registers it in the handle table.
func (k *Kernel) ServerCreate(backlog int) (uint64, *channel.Server) {
	if backlog <= 0 {
		backlog = k.cfg.ServerBacklog
	}
	srv := channel.NewServer(backlog, k.cfg.ChannelRingCapacity)
	h := k.allocHandle()
	k.mu.Lock()
	k.servers[h] = srv
	k.mu.Unlock()
	return h, srv
}

// ServerByHandle looks up a server by handle.
func (k *Kernel) ServerByHandle(h uint64) (*channel.Server, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.servers[h]
	if !ok {
		return nil, NewError("server_lookup", status.NoSuchResource, "no such server")
	}
	return s, nil
}

// MonitorCreate creates a Monitor and registers it in the handle table.
func (k *Kernel) MonitorCreate() (uint64, *monitor.Monitor) {
	m := monitor.New()
	h := k.allocHandle()
	k.mu.Lock()
	k.monitors[h] = m
	k.mu.Unlock()
	return h, m
}

// MonitorByHandle looks up a monitor by handle.
func (k *Kernel) MonitorByHandle(h uint64) (*monitor.Monitor, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.monitors[h]
	if !ok {
		return nil, NewError("monitor_lookup", status.NoSuchResource, "no such monitor")
	}
	return m, nil
}

// SharedAllocate creates a shared memory object of the given size
// (rounded up to whole pages) backed by process p's arena, and
// registers it in the handle table.
func (k *Kernel) SharedAllocate(p *Process, sizeBytes uintptr) (uint64, *vm.SharedMemoryObject) {
	obj := vm.NewSharedMemoryObject(p.arena, sizeBytes)
	h := k.allocHandle()
	k.mu.Lock()
	k.sharedObjects[h] = obj
	k.mu.Unlock()
	return h, obj
}

// SharedByHandle looks up a shared memory object by handle.
func (k *Kernel) SharedByHandle(h uint64) (*vm.SharedMemoryObject, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	obj, ok := k.sharedObjects[h]
	if !ok {
		return nil, NewError("shared_lookup", status.NoSuchResource, "no such shared object")
	}
	return obj, nil
}

// SharedRelease drops one reference to the shared object behind handle
// h, removing it from the handle table once its refcount reaches zero.
func (k *Kernel) SharedRelease(h uint64) error {
	k.mu.Lock()
	obj, ok := k.sharedObjects[h]
	if !ok {
		k.mu.Unlock()
		return NewError("shared_release", status.NoSuchResource, "no such shared object")
	}
	last := obj.Release()
	if last {
		delete(k.sharedObjects, h)
	}
	k.mu.Unlock()
	return nil
}

// State returns the current lifecycle state of the kernel.
func (k *Kernel) State() KernelState {
	if k == nil || !k.started {
		return KernelStateStopped
	}
	if k.ctx != nil {
		select {
		case <-k.ctx.Done():
			return KernelStateStopped
		default:
			return KernelStateRunning
		}
	}
	return KernelStateRunning
}

// IsRunning reports whether the kernel is currently running.
func (k *Kernel) IsRunning() bool {
	return k.State() == KernelStateRunning
}

// NumCPUs returns the number of simulated CPUs this kernel scheduled onto.
func (k *Kernel) NumCPUs() int {
	return k.sched.NumCPUs()
}

// KernelInfo contains comprehensive information about a running Kernel.
type KernelInfo struct {
	State       KernelState `json:"state"`
	NumCPUs     int         `json:"num_cpus"`
	NumProcess  int         `json:"num_processes"`
	NumChannels int         `json:"num_channels"`
	NumServers  int         `json:"num_servers"`
	NumMonitors int         `json:"num_monitors"`
	Running     bool        `json:"running"`
}

// Info returns comprehensive information about the kernel.
func (k *Kernel) Info() KernelInfo {
	if k == nil {
		return KernelInfo{}
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	state := k.State()
	return KernelInfo{
		State:       state,
		NumCPUs:     k.sched.NumCPUs(),
		NumProcess:  len(k.processes),
		NumChannels: len(k.channels),
		NumServers:  len(k.servers),
		NumMonitors: len(k.monitors),
		Running:     state == KernelStateRunning,
	}
}

// Metrics returns the kernel's metrics instance.
func (k *Kernel) Metrics() *Metrics {
	if k == nil {
		return nil
	}
	return k.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of kernel metrics.
func (k *Kernel) MetricsSnapshot() MetricsSnapshot {
	if k == nil || k.metrics == nil {
		return MetricsSnapshot{}
	}
	return k.metrics.Snapshot()
}

// Shutdown stops the kernel: it cancels the kernel's context, marks
// metrics stopped, and releases every process's Arena.
func (k *Kernel) Shutdown() error {
	if k == nil {
		return NewError("kernel_shutdown", status.InvalidArgument, "nil kernel")
	}

	if k.cancel != nil {
		k.cancel()
	}
	if k.metrics != nil {
		k.metrics.Stop()
	}

	time.Sleep(1 * time.Millisecond)

	k.mu.Lock()
	defer k.mu.Unlock()
	for id, p := range k.processes {
		if err := p.arena.Close(); err != nil {
			return fmt.Errorf("failed to release process %d arena: %w", id, err)
		}
	}
	k.started = false
	return nil
}
