package uapi

import "unsafe"

// MessageHeader is the fixed part of a channel message's wire
// encoding (spec.md §6.3): a body of BodyLength bytes, immediately
// followed by AttachmentCount packed AttachmentHeader entries.
type MessageHeader struct {
	BodyLength      uint64
	AttachmentCount uint32
	Reserved        uint32
}

// Compile-time size check: must stay 16 bytes, 8-byte aligned.
var _ [16]byte = [unsafe.Sizeof(MessageHeader{})]byte{}

// AttachmentHeader describes one entry in a message's packed
// attachment-header array (spec.md §6.3). NextOffset lets a reader walk
// the array without trusting AttachmentCount alone; Length is the
// attachment's payload size and Type selects how to interpret it.
type AttachmentHeader struct {
	NextOffset uint64
	Length     uint64
	Type       uint8
	_          [7]byte // padding to 24 bytes
}

// Compile-time size check.
var _ [24]byte = [unsafe.Sizeof(AttachmentHeader{})]byte{}

// IsChannel reports whether this attachment carries a channel handle.
func (h *AttachmentHeader) IsChannel() bool { return h.Type == AttachmentChannel }

// IsMapping reports whether this attachment carries a memory mapping.
func (h *AttachmentHeader) IsMapping() bool { return h.Type == AttachmentMapping }

// IsData reports whether this attachment carries raw data.
func (h *AttachmentHeader) IsData() bool { return h.Type == AttachmentData }

// BootRegionEntry describes one physically contiguous region of memory
// handed off to the kernel at boot (spec.md §6.4): its kind, where it
// sits physically, where (if anywhere) it is mapped virtually, and how
// many BootPageSize pages it spans.
type BootRegionEntry struct {
	Kind          uint32
	Reserved      uint32
	PhysicalStart uint64
	VirtualStart  uint64
	PageCount     uint64
}

// Compile-time size check.
var _ [32]byte = [unsafe.Sizeof(BootRegionEntry{})]byte{}

// SizeBytes returns the region's size in bytes.
func (e *BootRegionEntry) SizeBytes() uint64 {
	return e.PageCount * BootPageSize
}

// BootRegionTable is the in-memory form of the handoff table: an
// ordered list of regions, one per BootRegionEntry, covering every
// byte of physical memory the bootloader knew about.
type BootRegionTable struct {
	Entries []BootRegionEntry
}

// RegionsOfKind returns every entry matching kind, in table order.
func (t *BootRegionTable) RegionsOfKind(kind uint32) []BootRegionEntry {
	var out []BootRegionEntry
	for _, e := range t.Entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// RamdiskHeader is the fixed part of a ramdisk image (spec.md §6.5): the
// image's total size followed by SectionCount RamdiskSectionHeader
// entries locating each section within it.
type RamdiskHeader struct {
	RamdiskSize  uint64
	SectionCount uint64
}

// Compile-time size check.
var _ [16]byte = [unsafe.Sizeof(RamdiskHeader{})]byte{}

// RamdiskSectionHeader locates one section (e.g. the directory table,
// or a file-contents blob) within the ramdisk image by byte offset.
type RamdiskSectionHeader struct {
	Offset uint64
	Size   uint64
}

// Compile-time size check.
var _ [16]byte = [unsafe.Sizeof(RamdiskSectionHeader{})]byte{}

// RamdiskDirectoryEntry is one row of a ramdisk's flat directory table
// (spec.md §6.5). Entry RootDirectoryIndex is always the root
// directory and carries ParentIndex == NameOffset == NoParent, since
// it has no parent and no name of its own.
type RamdiskDirectoryEntry struct {
	ParentIndex    uint64
	NameOffset     uint64
	ContentsOffset uint64
	Size           uint64
	Flags          uint32
	Reserved       uint32
}

// Compile-time size check.
var _ [40]byte = [unsafe.Sizeof(RamdiskDirectoryEntry{})]byte{}

// IsRoot reports whether this entry is the ramdisk's root directory.
func (e *RamdiskDirectoryEntry) IsRoot() bool {
	return e.ParentIndex == NoParent && e.NameOffset == NoParent
}

const (
	// RamdiskFlagDirectory marks an entry as a directory rather than a
	// plain file; its ContentsOffset then indexes further directory
	// entries rather than file bytes.
	RamdiskFlagDirectory uint32 = 1 << 0
)

// IsDirectory reports whether this entry names a directory.
func (e *RamdiskDirectoryEntry) IsDirectory() bool {
	return e.Flags&RamdiskFlagDirectory != 0
}
