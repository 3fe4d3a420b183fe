package ferro

// Tunables governing the simulated kernel's default sizing, mirroring
// the role DeviceParams' defaults played for the teacher: every one of
// these can be overridden per-Kernel via KernelConfig, but a caller that
// just wants a usable kernel can take the zero-config default.
const (
	// DefaultNumCPUs is the number of simulated CPUs a Kernel starts
	// with when KernelConfig.NumCPUs is left at zero.
	DefaultNumCPUs = 4

	// DefaultQuantum is kept at 0: the scheduler runs no quantum timer
	// and no code reads this value; time-slicing of thread goroutines is
	// left to the Go runtime.
	DefaultQuantum = 0 // 0: cooperative only, no forced quantum

	// DefaultChannelRingCapacity is the message ring size a channel pair
	// gets when the caller doesn't specify one.
	DefaultChannelRingCapacity = 64

	// DefaultServerBacklog is the pending-connection backlog depth a
	// server gets by default.
	DefaultServerBacklog = 16

	// DefaultArenaBytes is the size of the physical frame pool an
	// address space's Arena mmaps by default.
	DefaultArenaBytes = 64 << 20 // 64MiB

	// AutoAssignHandle is the sentinel handle value meaning "kernel
	// picks the next free id", mirroring ublk's AutoAssignDeviceID.
	AutoAssignHandle = ^uint64(0)
)

// KernelConfig configures a new Kernel. Fields left at zero (or below)
// take their package-level defaults when the Kernel is built, so the
// zero value is usable; DefaultKernelConfig returns those defaults
// filled in.
type KernelConfig struct {
	NumCPUs             int
	ChannelRingCapacity int
	ServerBacklog       int
	ArenaBytes          int
}

// DefaultKernelConfig returns a KernelConfig with every field set to its
// package-level default.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		NumCPUs:             DefaultNumCPUs,
		ChannelRingCapacity: DefaultChannelRingCapacity,
		ServerBacklog:       DefaultServerBacklog,
		ArenaBytes:          DefaultArenaBytes,
	}
}

func (c KernelConfig) withDefaults() KernelConfig {
	if c.NumCPUs <= 0 {
		c.NumCPUs = DefaultNumCPUs
	}
	if c.ChannelRingCapacity <= 0 {
		c.ChannelRingCapacity = DefaultChannelRingCapacity
	}
	if c.ServerBacklog <= 0 {
		c.ServerBacklog = DefaultServerBacklog
	}
	if c.ArenaBytes <= 0 {
		c.ArenaBytes = DefaultArenaBytes
	}
	return c
}
