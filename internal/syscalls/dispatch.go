// Package syscalls implements the kernel side of the syscall ABI
// (spec.md §6.1/§6.2): one method per syscall number, each decoding its
// register arguments and dispatching into the root package's handle
// tables and subsystem packages, the way the teacher's ctrl.Controller
// had one method per UBLK_CMD_* decoding a control command into an
// io_uring submission.
//
// A real architecture's syscall trap handler copies arguments out of
// user registers and memory before calling into portable kernel code;
// that boundary-crossing step is arch-specific and not modeled here; by
// the time Dispatch runs, args are already plain uint64 registers and
// any VA arguments are resolved through the calling process's
// AddressSpace.
package syscalls

import (
	"errors"
	"runtime"
	"time"
	"unsafe"

	ferro "github.com/anillo-os/ferrocore"
	"github.com/anillo-os/ferrocore/internal/channel"
	"github.com/anillo-os/ferrocore/internal/logging"
	"github.com/anillo-os/ferrocore/internal/monitor"
	"github.com/anillo-os/ferrocore/internal/sched"
	"github.com/anillo-os/ferrocore/internal/status"
	"github.com/anillo-os/ferrocore/internal/uapi"
	"github.com/anillo-os/ferrocore/internal/vm"
)

// Args is the register file a syscall is invoked with (spec.md §6.1:
// at most uapi.MaxSyscallArgs, no floating-point registers).
type Args [uapi.MaxSyscallArgs]uint64

// Result is what a syscall hands back to its caller. Value carries the
// single-register result (a handle, a count, a thread id); Data and
// Ready carry the out-of-band results channel_receive and monitor_poll
// produce, which a real ABI would instead write into a caller-supplied
// buffer via the VA arguments.
type Result struct {
	Value uint64
	// Value2 carries a second register result, used only by
	// channel_create_pair to return its peer handle alongside Value.
	Value2 uint64
	Data   []byte
	Ready  []monitor.Ready
	Code   status.Code
}

func ok(value uint64) Result    { return Result{Value: value, Code: status.OK} }
func fail(code status.Code) Result { return Result{Code: code} }
func failFrom(err error) Result { return Result{Code: codeFromError(err)} }

func codeFromError(err error) status.Code {
	if err == nil {
		return status.OK
	}
	var fe *ferro.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	var se *status.Error
	if errors.As(err, &se) {
		return se.Code
	}
	return status.Unknown
}

// Dispatcher routes syscall numbers to handlers operating on a single
// Kernel's handle tables.
type Dispatcher struct {
	kernel *ferro.Kernel
	logger *logging.Logger
}

// NewDispatcher creates a Dispatcher over kernel. If logger is nil,
// logging.Default() is used.
func NewDispatcher(kernel *ferro.Kernel, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{kernel: kernel, logger: logger}
}

// Dispatch decodes and runs one syscall on behalf of th, a thread
// belonging to proc.
func (d *Dispatcher) Dispatch(th *sched.Thread, proc *ferro.Process, num uint32, args Args) Result {
	name, known := uapi.SyscallNames[num]
	if !known {
		d.logger.WithThread(th.ID()).Warn("unknown syscall", "number", num)
		return fail(status.InvalidArgument)
	}
	d.logger.WithOp(th.ID(), name).Debug("syscall enter")

	var res Result
	switch num {
	case uapi.SysThreadCreate:
		res = d.threadCreate(proc, args)
	case uapi.SysThreadSuspend:
		res = d.threadSuspend(th, args)
	case uapi.SysThreadYield:
		res = d.threadYield(th)
	case uapi.SysThreadKill:
		res = d.threadKill(th, args)
	case uapi.SysProcessCurrent:
		res = ok(proc.ID())
	case uapi.SysProcessID:
		res = ok(proc.ID())
	case uapi.SysProcInitContextDetachObject:
		res = d.procInitContextDetachObject(proc)
	case uapi.SysPageAllocate:
		res = d.pageAllocate(proc, args)
	case uapi.SysPageFree:
		res = d.pageFree(proc, args)
	case uapi.SysPageAllocateShared:
		res = d.pageAllocateShared(proc, args)
	case uapi.SysPageMapShared:
		res = d.pageMapShared(proc, args)
	case uapi.SysPageBindShared:
		res = d.pageBindShared(args)
	case uapi.SysPageCloseShared:
		res = d.pageCloseShared(args)
	case uapi.SysFutexWait:
		res = d.futexWait(proc, th, args)
	case uapi.SysFutexWake:
		res = d.futexWake(proc, args)
	case uapi.SysFutexAssociate:
		res = d.futexAssociate(proc, th, args)
	case uapi.SysChannelCreatePair:
		res = d.channelCreatePair(args)
	case uapi.SysChannelSend:
		res = d.channelSend(proc, th, args)
	case uapi.SysChannelReceive:
		res = d.channelReceive(proc, th, args)
	case uapi.SysChannelClose:
		res = d.channelClose(args)
	case uapi.SysServerCreate:
		res = d.serverCreate(args)
	case uapi.SysServerAccept:
		res = d.serverAccept(th, args)
	case uapi.SysMonitorCreate:
		res = ok(d.monitorCreate())
	case uapi.SysMonitorItemCreate:
		res = d.monitorItemCreate(args)
	case uapi.SysMonitorPoll:
		res = d.monitorPoll(th, args)
	default:
		res = fail(status.Unsupported)
	}

	if res.Code != status.OK {
		d.logger.WithOp(th.ID(), name).Debug("syscall failed", "code", res.Code.String())
	}
	return res
}

func (d *Dispatcher) threadCreate(proc *ferro.Process, args Args) Result {
	entryID := args[0]
	entry, found := proc.EntryPoint(entryID)
	if !found {
		return fail(status.InvalidArgument)
	}
	th, err := d.kernel.ThreadCreate(proc, entry)
	if err != nil {
		return failFrom(err)
	}
	return ok(th.ID())
}

func (d *Dispatcher) threadSuspend(caller *sched.Thread, args Args) Result {
	targetID := args[0]
	interruptible := args[1] != 0

	target := caller
	if targetID != 0 && targetID != caller.ID() {
		t, found := d.kernel.Scheduler().ThreadByID(targetID)
		if !found {
			return fail(status.NoSuchResource)
		}
		target = t
	}
	if err := target.Suspend(caller, interruptible); err != nil {
		return failFrom(err)
	}
	return ok(0)
}

// threadYield hints the Go runtime to run another goroutine via
// runtime.Gosched. Thread goroutines are also time-sliced by the Go
// runtime itself, so yielding is not the only way another thread runs.
func (d *Dispatcher) threadYield(caller *sched.Thread) Result {
	runtime.Gosched()
	return ok(0)
}

func (d *Dispatcher) threadKill(caller *sched.Thread, args Args) Result {
	targetID := args[0]
	target := caller
	if targetID != 0 && targetID != caller.ID() {
		t, found := d.kernel.Scheduler().ThreadByID(targetID)
		if !found {
			return fail(status.NoSuchResource)
		}
		target = t
	}
	if err := target.Kill(caller); err != nil {
		return failFrom(err)
	}
	return ok(0)
}

func (d *Dispatcher) procInitContextDetachObject(proc *ferro.Process) Result {
	h, found := proc.DetachBootstrapHandle()
	if !found {
		return fail(status.NoSuchResource)
	}
	return ok(h)
}

func (d *Dispatcher) pageAllocate(proc *ferro.Process, args Args) Result {
	va, err := proc.AllocatePages(uintptr(args[0]))
	if err != nil {
		return failFrom(err)
	}
	return ok(uint64(va))
}

func (d *Dispatcher) pageFree(proc *ferro.Process, args Args) Result {
	if err := proc.FreePages(uintptr(args[0])); err != nil {
		return failFrom(err)
	}
	return ok(0)
}

func (d *Dispatcher) pageAllocateShared(proc *ferro.Process, args Args) Result {
	size := uintptr(args[0])
	if size == 0 {
		return fail(status.InvalidArgument)
	}
	h, _ := d.kernel.SharedAllocate(proc, size)
	return ok(h)
}

func (d *Dispatcher) pageMapShared(proc *ferro.Process, args Args) Result {
	handle := args[0]
	basePage := int(args[1])
	pages := int(args[2])

	obj, err := d.kernel.SharedByHandle(handle)
	if err != nil {
		return failFrom(err)
	}
	size := uintptr(pages) * vm.PageSize
	space := proc.Space()
	va := space.AllocateVirtual(size)
	mapping := vm.NewSharedBoundMapping(va, obj, basePage, pages)
	if err := space.InsertMapping(mapping); err != nil {
		return failFrom(err)
	}
	return ok(uint64(va))
}

func (d *Dispatcher) pageBindShared(args Args) Result {
	handle := args[0]
	obj, err := d.kernel.SharedByHandle(handle)
	if err != nil {
		return failFrom(err)
	}
	obj.Retain()
	return ok(0)
}

func (d *Dispatcher) pageCloseShared(args Args) Result {
	handle := args[0]
	if err := d.kernel.SharedRelease(handle); err != nil {
		return failFrom(err)
	}
	return ok(0)
}

func (d *Dispatcher) futexWait(proc *ferro.Process, th *sched.Thread, args Args) Result {
	va := uintptr(args[0])
	ch := args[1]
	expected := args[2]
	timeout := time.Duration(args[3])

	resolve := proc.Space().Resolver()
	err := proc.Space().Futexes.Wait(resolve, th, va, ch, expected, timeout, th.InterruptChan())
	if err != nil {
		return failFrom(err)
	}
	return ok(0)
}

func (d *Dispatcher) futexWake(proc *ferro.Process, args Args) Result {
	va := uintptr(args[0])
	ch := args[1]
	count := int(args[2])

	resolve := proc.Space().Resolver()
	woken, err := proc.Space().Futexes.Wake(resolve, va, ch, count)
	if err != nil {
		return failFrom(err)
	}
	return ok(uint64(woken))
}

func (d *Dispatcher) futexAssociate(proc *ferro.Process, th *sched.Thread, args Args) Result {
	va := uintptr(args[0])
	ch := args[1]
	value := args[2]

	resolve := proc.Space().Resolver()
	if err := proc.Space().Futexes.Associate(resolve, th, va, ch, value); err != nil {
		return failFrom(err)
	}
	return ok(0)
}

func (d *Dispatcher) channelCreatePair(args Args) Result {
	capacity := int(args[0])
	aHandle, bHandle, _, _ := d.kernel.ChannelCreatePair(capacity)
	return Result{Value: aHandle, Value2: bHandle, Code: status.OK}
}

// channelSend copies BodyLen bytes starting at BodyVA (resolved through
// proc's address space) into a new message and sends it. Attachment
// marshaling from raw registers is outside this dispatcher's scope: a
// userspace IPC library would build the uapi.AttachmentHeader array and
// pass attachments through a richer binding than six registers allow.
func (d *Dispatcher) channelSend(proc *ferro.Process, th *sched.Thread, args Args) Result {
	handle := args[0]
	bodyVA := uintptr(args[1])
	bodyLen := int(args[2])
	blocking := args[3] != 0
	startConversation := args[4] != 0

	ch, err := d.kernel.ChannelByHandle(handle)
	if err != nil {
		return failFrom(err)
	}

	phys, found := proc.Space().Translate(bodyVA)
	if !found {
		return fail(status.BadAddress)
	}
	body := make([]byte, bodyLen)
	copy(body, unsafeView(phys, bodyLen))

	mode := channel.NonBlocking
	if blocking {
		mode = channel.Blocking
	}
	msg := channel.NewMessageFromPool(body)
	if err := ch.Send(th, msg, mode, startConversation); err != nil {
		return failFrom(err)
	}
	return ok(uint64(bodyLen))
}

func (d *Dispatcher) channelReceive(proc *ferro.Process, th *sched.Thread, args Args) Result {
	handle := args[0]
	blocking := args[1] != 0

	ch, err := d.kernel.ChannelByHandle(handle)
	if err != nil {
		return failFrom(err)
	}

	mode := channel.NonBlocking
	if blocking {
		mode = channel.Blocking
	}
	msg, err := ch.Receive(th, mode)
	if err != nil {
		return failFrom(err)
	}
	data := append([]byte(nil), msg.Body...)
	msg.Release()
	return Result{Value: uint64(len(data)), Data: data, Code: status.OK}
}

func (d *Dispatcher) channelClose(args Args) Result {
	handle := args[0]
	ch, err := d.kernel.ChannelByHandle(handle)
	if err != nil {
		return failFrom(err)
	}
	if err := ch.Close(); err != nil {
		return failFrom(err)
	}
	return ok(0)
}

func (d *Dispatcher) serverCreate(args Args) Result {
	backlog := int(args[0])
	h, _ := d.kernel.ServerCreate(backlog)
	return ok(h)
}

func (d *Dispatcher) serverAccept(th *sched.Thread, args Args) Result {
	handle := args[0]
	blocking := args[1] != 0

	srv, err := d.kernel.ServerByHandle(handle)
	if err != nil {
		return failFrom(err)
	}
	mode := channel.NonBlocking
	if blocking {
		mode = channel.Blocking
	}
	conn, err := srv.Accept(th, mode)
	if err != nil {
		return failFrom(err)
	}
	return ok(d.kernel.RegisterChannel(conn))
}

func (d *Dispatcher) monitorCreate() uint64 {
	h, _ := d.kernel.MonitorCreate()
	return h
}

// monitorItemCreate registers a channel subscription. args:
// [0]=monitor handle, [1]=channel handle, [2]=event mask,
// [3]=level-triggered, [4]=disable-on-trigger.
func (d *Dispatcher) monitorItemCreate(args Args) Result {
	monHandle := args[0]
	chanHandle := args[1]
	mask := monitor.EventMask(args[2])
	opts := monitor.ItemOptions{
		LevelTriggered:   args[3] != 0,
		DisableOnTrigger: args[4] != 0,
	}

	m, err := d.kernel.MonitorByHandle(monHandle)
	if err != nil {
		return failFrom(err)
	}
	ch, err := d.kernel.ChannelByHandle(chanHandle)
	if err != nil {
		return failFrom(err)
	}
	item, err := m.AddChannelItem(ch, mask, opts)
	if err != nil {
		return failFrom(err)
	}
	return ok(item.ID())
}

func (d *Dispatcher) monitorPoll(th *sched.Thread, args Args) Result {
	handle := args[0]
	timeout := time.Duration(args[1])
	interruptible := args[2] != 0
	capacity := int(args[3])
	if capacity <= 0 {
		capacity = 16
	}

	m, err := d.kernel.MonitorByHandle(handle)
	if err != nil {
		return failFrom(err)
	}
	out := make([]monitor.Ready, capacity)
	n, err := m.Poll(th, timeout, interruptible, out)
	if err != nil {
		return failFrom(err)
	}
	return Result{Value: uint64(n), Ready: out[:n], Code: status.OK}
}

// unsafeView returns a byte slice over n bytes starting at the given
// arena-backed address, the same direct-pointer technique
// internal/futex uses to load/store a futex word.
func unsafeView(addr uintptr, n int) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}
