// Command ferrodemo exercises a kernel end to end purely through the
// syscall dispatch layer: allocate a page, write a message into it,
// send it down a channel, and have a monitor notice the arrival before
// a separate thread drains it. It plays the role the teacher's
// cmd/ublk-mem does for a memory-backed block device, but drives
// internal/syscalls instead of a real block device.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"
	"unsafe"

	ferro "github.com/anillo-os/ferrocore"
	"github.com/anillo-os/ferrocore/internal/logging"
	"github.com/anillo-os/ferrocore/internal/monitor"
	"github.com/anillo-os/ferrocore/internal/sched"
	"github.com/anillo-os/ferrocore/internal/status"
	"github.com/anillo-os/ferrocore/internal/syscalls"
	"github.com/anillo-os/ferrocore/internal/uapi"
)

func main() {
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	k, err := ferro.New(ferro.DefaultKernelConfig(), nil)
	if err != nil {
		log.Fatalf("failed to start kernel: %v", err)
	}
	defer k.Shutdown()
	logger.Info("kernel started", "cpus", k.NumCPUs())

	proc, err := k.ProcessCreate()
	if err != nil {
		log.Fatalf("failed to create process: %v", err)
	}
	d := syscalls.NewDispatcher(k, logger)

	done := make(chan struct{})

	// A boot thread plays the role of the process's first thread: it
	// sets up the channel pair and monitor subscription, registers the
	// producer/consumer entry points, then spawns both via the
	// thread_create syscall, exactly the sequence a userspace runtime
	// would follow after proc_init_context_detach_object hands it its
	// bootstrap channel.
	bootEntry := func(boot *sched.Thread) {
		pairRes := d.Dispatch(boot, proc, uapi.SysChannelCreatePair, syscalls.Args{32})
		if pairRes.Code != status.OK {
			log.Fatalf("channel_create_pair failed: %v", pairRes.Code)
		}

		monRes := d.Dispatch(boot, proc, uapi.SysMonitorCreate, syscalls.Args{})
		itemRes := d.Dispatch(boot, proc, uapi.SysMonitorItemCreate, syscalls.Args{
			monRes.Value, pairRes.Value2, uint64(monitor.EventMessageArrival),
		})
		if itemRes.Code != status.OK {
			log.Fatalf("monitor_item_create failed: %v", itemRes.Code)
		}

		consumerEntryID := proc.RegisterEntryPoint(func(t *sched.Thread) {
			recv := d.Dispatch(t, proc, uapi.SysChannelReceive, syscalls.Args{pairRes.Value2, 1})
			if recv.Code != status.OK {
				logger.Error("consumer receive failed", "code", recv.Code.String())
			} else {
				fmt.Printf("consumer received: %s\n", recv.Data)
			}
			close(done)
		})

		producerEntryID := proc.RegisterEntryPoint(func(t *sched.Thread) {
			pageRes := d.Dispatch(t, proc, uapi.SysPageAllocate, syscalls.Args{4096})
			if pageRes.Code != status.OK {
				logger.Error("producer page_allocate failed", "code", pageRes.Code.String())
				return
			}
			phys, ok := proc.Space().Translate(uintptr(pageRes.Value))
			if !ok {
				logger.Error("producer: translate failed right after page_allocate")
				return
			}
			msg := []byte("hello from ferrodemo")
			copy(unsafe.Slice((*byte)(unsafe.Pointer(phys)), len(msg)), msg)

			sendRes := d.Dispatch(t, proc, uapi.SysChannelSend, syscalls.Args{
				pairRes.Value, uint64(pageRes.Value), uint64(len(msg)), 1, 1,
			})
			if sendRes.Code != status.OK {
				logger.Error("producer channel_send failed", "code", sendRes.Code.String())
			}
			if freeRes := d.Dispatch(t, proc, uapi.SysPageFree, syscalls.Args{pageRes.Value}); freeRes.Code != status.OK {
				logger.Error("producer page_free failed", "code", freeRes.Code.String())
			}
		})

		spawn := func(entryID uint64) {
			res := d.Dispatch(boot, proc, uapi.SysThreadCreate, syscalls.Args{entryID})
			if res.Code != status.OK {
				log.Fatalf("thread_create failed: %v", res.Code)
			}
			th, found := k.Scheduler().ThreadByID(res.Value)
			if !found {
				log.Fatalf("thread_create returned unknown thread id %d", res.Value)
			}
			if err := th.Resume(); err != nil {
				log.Fatalf("failed to resume thread %d: %v", res.Value, err)
			}
		}
		spawn(consumerEntryID)
		spawn(producerEntryID)

		// Meanwhile, poll the monitor for the arrival this producer
		// will eventually cause, the way a supervising thread would
		// watch for work without touching the channel directly.
		pollRes := d.Dispatch(boot, proc, uapi.SysMonitorPoll, syscalls.Args{
			monRes.Value, uint64(2 * time.Second), 1, 4,
		})
		if pollRes.Code != status.OK {
			logger.Warn("monitor_poll did not observe the arrival", "code", pollRes.Code.String())
		} else {
			for _, r := range pollRes.Ready {
				logger.Info("monitor observed event", "item", r.ItemID, "events", r.Events)
			}
		}
	}

	bootTh, err := k.ThreadCreate(proc, bootEntry)
	if err != nil {
		log.Fatalf("failed to create boot thread: %v", err)
	}
	if err := bootTh.Resume(); err != nil {
		log.Fatalf("failed to resume boot thread: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Fatal("timed out waiting for consumer")
	}
}
