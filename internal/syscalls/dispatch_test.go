package syscalls

import (
	"testing"
	"time"

	ferro "github.com/anillo-os/ferrocore"
	"github.com/anillo-os/ferrocore/internal/monitor"
	"github.com/anillo-os/ferrocore/internal/sched"
	"github.com/anillo-os/ferrocore/internal/status"
	"github.com/anillo-os/ferrocore/internal/uapi"
)

func newTestKernelAndProcess(t *testing.T) (*ferro.Kernel, *ferro.Process, *sched.Thread) {
	t.Helper()
	k, err := ferro.New(ferro.DefaultKernelConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = k.Shutdown() })

	p, err := k.ProcessCreate()
	if err != nil {
		t.Fatalf("ProcessCreate: %v", err)
	}

	ran := make(chan struct{})
	th, err := k.ThreadCreate(p, func(t *sched.Thread) { <-ran })
	if err != nil {
		t.Fatalf("ThreadCreate: %v", err)
	}
	if err := th.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	t.Cleanup(func() { close(ran) })

	return k, p, th
}

func TestDispatchUnknownSyscall(t *testing.T) {
	k, p, th := newTestKernelAndProcess(t)
	d := NewDispatcher(k, nil)

	res := d.Dispatch(th, p, 9999, Args{})
	if res.Code != status.InvalidArgument {
		t.Errorf("Code = %v, want InvalidArgument", res.Code)
	}
}

func TestDispatchProcessCurrent(t *testing.T) {
	k, p, th := newTestKernelAndProcess(t)
	d := NewDispatcher(k, nil)

	res := d.Dispatch(th, p, uapi.SysProcessCurrent, Args{})
	if res.Code != status.OK {
		t.Fatalf("unexpected code: %v", res.Code)
	}
	if res.Value != p.ID() {
		t.Errorf("Value = %d, want %d", res.Value, p.ID())
	}
}

func TestDispatchPageAllocateAndFree(t *testing.T) {
	k, p, th := newTestKernelAndProcess(t)
	d := NewDispatcher(k, nil)

	alloc := d.Dispatch(th, p, uapi.SysPageAllocate, Args{4096})
	if alloc.Code != status.OK {
		t.Fatalf("page_allocate failed: %v", alloc.Code)
	}
	if alloc.Value == 0 {
		t.Error("page_allocate returned a zero VA")
	}

	free := d.Dispatch(th, p, uapi.SysPageFree, Args{alloc.Value})
	if free.Code != status.OK {
		t.Fatalf("page_free failed: %v", free.Code)
	}

	// freeing the same VA twice must fail: it's no longer tracked
	free2 := d.Dispatch(th, p, uapi.SysPageFree, Args{alloc.Value})
	if free2.Code != status.NoSuchResource {
		t.Errorf("second page_free Code = %v, want NoSuchResource", free2.Code)
	}
}

func TestDispatchChannelCreatePairAndClose(t *testing.T) {
	k, p, th := newTestKernelAndProcess(t)
	d := NewDispatcher(k, nil)

	res := d.Dispatch(th, p, uapi.SysChannelCreatePair, Args{32})
	if res.Code != status.OK {
		t.Fatalf("channel_create_pair failed: %v", res.Code)
	}
	if res.Value == 0 || res.Value2 == 0 || res.Value == res.Value2 {
		t.Fatalf("expected two distinct handles, got %d, %d", res.Value, res.Value2)
	}

	closeRes := d.Dispatch(th, p, uapi.SysChannelClose, Args{res.Value})
	if closeRes.Code != status.OK {
		t.Errorf("channel_close failed: %v", closeRes.Code)
	}
}

func TestDispatchChannelSendReceive(t *testing.T) {
	k, p, th := newTestKernelAndProcess(t)
	d := NewDispatcher(k, nil)

	pairRes := d.Dispatch(th, p, uapi.SysChannelCreatePair, Args{32})
	if pairRes.Code != status.OK {
		t.Fatalf("channel_create_pair failed: %v", pairRes.Code)
	}

	pageRes := d.Dispatch(th, p, uapi.SysPageAllocate, Args{4096})
	if pageRes.Code != status.OK {
		t.Fatalf("page_allocate failed: %v", pageRes.Code)
	}
	va := uintptr(pageRes.Value)

	msg := []byte("hello from userspace")
	copy(unsafeView(translatePhys(t, p, va), len(msg)), msg)

	sendRes := d.Dispatch(th, p, uapi.SysChannelSend, Args{
		pairRes.Value, uint64(va), uint64(len(msg)), boolArg(true), boolArg(true),
	})
	if sendRes.Code != status.OK {
		t.Fatalf("channel_send failed: %v", sendRes.Code)
	}

	recvRes := d.Dispatch(th, p, uapi.SysChannelReceive, Args{pairRes.Value2, boolArg(true)})
	if recvRes.Code != status.OK {
		t.Fatalf("channel_receive failed: %v", recvRes.Code)
	}
	if string(recvRes.Data) != string(msg) {
		t.Errorf("received %q, want %q", recvRes.Data, msg)
	}
}

func TestDispatchMonitorItemCreateAndPoll(t *testing.T) {
	k, p, th := newTestKernelAndProcess(t)
	d := NewDispatcher(k, nil)

	pairRes := d.Dispatch(th, p, uapi.SysChannelCreatePair, Args{32})
	monRes := d.Dispatch(th, p, uapi.SysMonitorCreate, Args{})
	if monRes.Code != status.OK {
		t.Fatalf("monitor_create failed: %v", monRes.Code)
	}

	itemRes := d.Dispatch(th, p, uapi.SysMonitorItemCreate, Args{
		monRes.Value, pairRes.Value2, uint64(monitor.EventMessageArrival),
	})
	if itemRes.Code != status.OK {
		t.Fatalf("monitor_item_create failed: %v", itemRes.Code)
	}

	pageRes := d.Dispatch(th, p, uapi.SysPageAllocate, Args{4096})
	msg := []byte("hi")
	copy(unsafeView(translatePhys(t, p, uintptr(pageRes.Value)), len(msg)), msg)
	sendRes := d.Dispatch(th, p, uapi.SysChannelSend, Args{
		pairRes.Value, pageRes.Value, uint64(len(msg)), boolArg(true), boolArg(true),
	})
	if sendRes.Code != status.OK {
		t.Fatalf("channel_send failed: %v", sendRes.Code)
	}

	pollRes := d.Dispatch(th, p, uapi.SysMonitorPoll, Args{
		monRes.Value, uint64(time.Second), boolArg(false), 4,
	})
	if pollRes.Code != status.OK {
		t.Fatalf("monitor_poll failed: %v", pollRes.Code)
	}
	if len(pollRes.Ready) != 1 {
		t.Fatalf("expected 1 ready entry, got %d", len(pollRes.Ready))
	}
	if pollRes.Ready[0].ItemID != itemRes.Value {
		t.Errorf("Ready.ItemID = %d, want %d", pollRes.Ready[0].ItemID, itemRes.Value)
	}
}

func TestDispatchThreadYield(t *testing.T) {
	k, p, th := newTestKernelAndProcess(t)
	d := NewDispatcher(k, nil)

	res := d.Dispatch(th, p, uapi.SysThreadYield, Args{})
	if res.Code != status.OK {
		t.Errorf("thread_yield Code = %v, want OK", res.Code)
	}
}

func TestProcInitContextDetachObjectOnlyOnce(t *testing.T) {
	k, p, th := newTestKernelAndProcess(t)
	d := NewDispatcher(k, nil)

	p.SetBootstrapHandle(42)

	first := d.Dispatch(th, p, uapi.SysProcInitContextDetachObject, Args{})
	if first.Code != status.OK || first.Value != 42 {
		t.Fatalf("first detach = (%d, %v), want (42, OK)", first.Value, first.Code)
	}

	second := d.Dispatch(th, p, uapi.SysProcInitContextDetachObject, Args{})
	if second.Code != status.NoSuchResource {
		t.Errorf("second detach Code = %v, want NoSuchResource", second.Code)
	}
}

func boolArg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func translatePhys(t *testing.T, p *ferro.Process, va uintptr) uintptr {
	t.Helper()
	phys, ok := p.Space().Translate(va)
	if !ok {
		t.Fatalf("Translate(%x) failed", va)
	}
	return phys
}
