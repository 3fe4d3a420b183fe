// Package uapi defines the wire-level structures crossing the
// user/kernel boundary (spec.md §6): the syscall ABI's entry numbers,
// the channel message wire format, the boot memory-region handoff
// table, and the ramdisk image format.
package uapi

// Syscall numbers (spec.md §6.1/§6.2). Entry 0 is reserved: dispatching
// on it always reports a lookup error rather than calling into any
// handler, so a zeroed or corrupt syscall-number register can never be
// mistaken for a valid call.
const (
	SysInvalid uint32 = iota

	// Process/thread
	SysThreadCreate
	SysThreadSuspend
	SysThreadYield
	SysThreadKill
	SysProcessCurrent
	SysProcessID
	SysProcInitContextDetachObject

	// Memory
	SysPageAllocate
	SysPageFree
	SysPageAllocateShared
	SysPageMapShared
	SysPageBindShared
	SysPageCloseShared

	// Futex
	SysFutexWait
	SysFutexWake
	SysFutexAssociate

	// Channel / monitor
	SysChannelCreatePair
	SysChannelSend
	SysChannelReceive
	SysChannelClose
	SysServerCreate
	SysServerAccept
	SysMonitorCreate
	SysMonitorItemCreate
	SysMonitorPoll
)

// SyscallNames maps a syscall number to its spec.md name, for logging
// and the dispatch-miss error path.
var SyscallNames = map[uint32]string{
	SysThreadCreate:                "thread_create",
	SysThreadSuspend:               "thread_suspend",
	SysThreadYield:                 "thread_yield",
	SysThreadKill:                  "thread_kill",
	SysProcessCurrent:              "process_current",
	SysProcessID:                   "process_id",
	SysProcInitContextDetachObject: "proc_init_context_detach_object",
	SysPageAllocate:                "page_allocate",
	SysPageFree:                    "page_free",
	SysPageAllocateShared:          "page_allocate_shared",
	SysPageMapShared:               "page_map_shared",
	SysPageBindShared:              "page_bind_shared",
	SysPageCloseShared:             "page_close_shared",
	SysFutexWait:                   "futex_wait",
	SysFutexWake:                   "futex_wake",
	SysFutexAssociate:              "futex_associate",
	SysChannelCreatePair:           "channel_create_pair",
	SysChannelSend:                 "channel_send",
	SysChannelReceive:              "channel_receive",
	SysChannelClose:                "channel_close",
	SysServerCreate:                "server_create",
	SysServerAccept:                "server_accept",
	SysMonitorCreate:               "monitor_create",
	SysMonitorItemCreate:           "monitor_item_create",
	SysMonitorPoll:                 "monitor_poll",
}

// MaxSyscallArgs is the number of register-passed arguments the ABI
// gives every syscall (spec.md §6.1: no floating-point args).
const MaxSyscallArgs = 6

// Attachment types a message's packed attachment-header array can carry
// (spec.md §6.3).
const (
	AttachmentInvalid uint8 = iota
	AttachmentNull
	AttachmentChannel
	AttachmentMapping
	AttachmentData
)

// Boot memory-region kinds (spec.md §6.4).
const (
	RegionGeneral uint32 = iota
	RegionNVRAM
	RegionHardwareReserved
	RegionACPIReclaim
	RegionPALCode
	RegionKernelReserved
	RegionKernelStack
)

// BootPageSize is the page granularity the boot region table counts in.
const BootPageSize = 4096

// RootDirectoryIndex is the ramdisk directory entry index that always
// names the root directory (spec.md §6.5).
const RootDirectoryIndex = 0

// NoParent is the sentinel ParentIndex/NameOffset value the root
// directory entry (index 0) carries, since it has no parent and no
// name of its own.
const NoParent = ^uint64(0)
