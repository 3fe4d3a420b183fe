package uapi

import (
	"testing"
	"unsafe"
)

func TestStructSizes(t *testing.T) {
	tests := []struct {
		name     string
		size     uintptr
		expected int
	}{
		{"MessageHeader", unsafe.Sizeof(MessageHeader{}), 16},
		{"AttachmentHeader", unsafe.Sizeof(AttachmentHeader{}), 24},
		{"BootRegionEntry", unsafe.Sizeof(BootRegionEntry{}), 32},
		{"RamdiskHeader", unsafe.Sizeof(RamdiskHeader{}), 16},
		{"RamdiskSectionHeader", unsafe.Sizeof(RamdiskSectionHeader{}), 16},
		{"RamdiskDirectoryEntry", unsafe.Sizeof(RamdiskDirectoryEntry{}), 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int(tt.size) != tt.expected {
				t.Errorf("%s size = %d, want %d", tt.name, tt.size, tt.expected)
			}
		})
	}
}

func TestAttachmentHeaderHelpers(t *testing.T) {
	h := &AttachmentHeader{Type: AttachmentChannel}
	if !h.IsChannel() {
		t.Error("IsChannel() should be true")
	}
	if h.IsMapping() || h.IsData() {
		t.Error("only IsChannel() should be true")
	}

	h.Type = AttachmentData
	if !h.IsData() {
		t.Error("IsData() should be true after setting Type = AttachmentData")
	}
}

func TestBootRegionEntryHelpers(t *testing.T) {
	e := BootRegionEntry{Kind: RegionKernelStack, PageCount: 4}
	if e.SizeBytes() != 4*BootPageSize {
		t.Errorf("SizeBytes() = %d, want %d", e.SizeBytes(), 4*BootPageSize)
	}

	table := &BootRegionTable{Entries: []BootRegionEntry{
		{Kind: RegionGeneral, PageCount: 100},
		{Kind: RegionKernelReserved, PageCount: 10},
		{Kind: RegionGeneral, PageCount: 50},
	}}

	general := table.RegionsOfKind(RegionGeneral)
	if len(general) != 2 {
		t.Errorf("RegionsOfKind(General) returned %d entries, want 2", len(general))
	}
}

func TestRamdiskDirectoryEntryHelpers(t *testing.T) {
	root := RamdiskDirectoryEntry{ParentIndex: NoParent, NameOffset: NoParent, Flags: RamdiskFlagDirectory}
	if !root.IsRoot() {
		t.Error("root entry should report IsRoot() true")
	}
	if !root.IsDirectory() {
		t.Error("root entry should report IsDirectory() true")
	}

	file := RamdiskDirectoryEntry{ParentIndex: RootDirectoryIndex, NameOffset: 8, Size: 1024}
	if file.IsRoot() {
		t.Error("non-root entry should report IsRoot() false")
	}
	if file.IsDirectory() {
		t.Error("plain file entry should report IsDirectory() false")
	}
}

func TestMarshalUnmarshalMessageHeader(t *testing.T) {
	original := &MessageHeader{BodyLength: 256, AttachmentCount: 3}

	data := Marshal(original)
	if len(data) != 16 {
		t.Errorf("Marshal length = %d, want 16", len(data))
	}

	var got MessageHeader
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got != *original {
		t.Errorf("got %+v, want %+v", got, *original)
	}
}

func TestMarshalUnmarshalAttachmentHeader(t *testing.T) {
	original := &AttachmentHeader{NextOffset: 48, Length: 24, Type: AttachmentMapping}

	data := Marshal(original)
	if len(data) != 24 {
		t.Errorf("Marshal length = %d, want 24", len(data))
	}

	var got AttachmentHeader
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.NextOffset != original.NextOffset || got.Length != original.Length || got.Type != original.Type {
		t.Errorf("got %+v, want %+v", got, *original)
	}
}

func TestMarshalUnmarshalBootRegionEntry(t *testing.T) {
	original := &BootRegionEntry{
		Kind:          RegionACPIReclaim,
		PhysicalStart: 0x100000,
		VirtualStart:  0xffff800000100000,
		PageCount:     16,
	}

	data := Marshal(original)
	var got BootRegionEntry
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got != *original {
		t.Errorf("got %+v, want %+v", got, *original)
	}
}

func TestMarshalUnmarshalRamdiskHeader(t *testing.T) {
	original := &RamdiskHeader{RamdiskSize: 1 << 20, SectionCount: 2}

	data := Marshal(original)
	var got RamdiskHeader
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got != *original {
		t.Errorf("got %+v, want %+v", got, *original)
	}
}

func TestMarshalUnmarshalRamdiskDirectoryEntry(t *testing.T) {
	original := &RamdiskDirectoryEntry{
		ParentIndex:    RootDirectoryIndex,
		NameOffset:     8,
		ContentsOffset: 4096,
		Size:           512,
		Flags:          0,
	}

	data := Marshal(original)
	if len(data) != 40 {
		t.Errorf("Marshal length = %d, want 40", len(data))
	}

	var got RamdiskDirectoryEntry
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got != *original {
		t.Errorf("got %+v, want %+v", got, *original)
	}
}

func TestUnmarshalInsufficientData(t *testing.T) {
	var h MessageHeader
	if err := Unmarshal([]byte{1, 2, 3}, &h); err != ErrInsufficientData {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestSyscallNamesCoverAllNumbers(t *testing.T) {
	for num, name := range SyscallNames {
		if num == SysInvalid {
			t.Error("SysInvalid must not appear in SyscallNames")
		}
		if name == "" {
			t.Errorf("syscall %d has an empty name", num)
		}
	}
}

func BenchmarkMarshalMessageHeader(b *testing.B) {
	h := &MessageHeader{BodyLength: 256, AttachmentCount: 2}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Marshal(h)
	}
}

func BenchmarkUnmarshalMessageHeader(b *testing.B) {
	h := &MessageHeader{BodyLength: 256, AttachmentCount: 2}
	data := Marshal(h)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var got MessageHeader
		_ = Unmarshal(data, &got)
	}
}
