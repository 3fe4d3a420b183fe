package uapi

import "encoding/binary"

// Marshal converts a wire struct to its little-endian byte encoding.
func Marshal(v interface{}) []byte {
	switch val := v.(type) {
	case *MessageHeader:
		return marshalMessageHeader(val)
	case *AttachmentHeader:
		return marshalAttachmentHeader(val)
	case *BootRegionEntry:
		return marshalBootRegionEntry(val)
	case *RamdiskHeader:
		return marshalRamdiskHeader(val)
	case *RamdiskSectionHeader:
		return marshalRamdiskSectionHeader(val)
	case *RamdiskDirectoryEntry:
		return marshalRamdiskDirectoryEntry(val)
	default:
		panic("uapi: Marshal called on unknown type")
	}
}

// Unmarshal decodes a wire struct from its little-endian byte encoding.
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *MessageHeader:
		return unmarshalMessageHeader(data, val)
	case *AttachmentHeader:
		return unmarshalAttachmentHeader(data, val)
	case *BootRegionEntry:
		return unmarshalBootRegionEntry(data, val)
	case *RamdiskHeader:
		return unmarshalRamdiskHeader(data, val)
	case *RamdiskSectionHeader:
		return unmarshalRamdiskSectionHeader(data, val)
	case *RamdiskDirectoryEntry:
		return unmarshalRamdiskDirectoryEntry(data, val)
	default:
		return ErrInvalidType
	}
}

func marshalMessageHeader(h *MessageHeader) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], h.BodyLength)
	binary.LittleEndian.PutUint32(buf[8:12], h.AttachmentCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.Reserved)
	return buf
}

func unmarshalMessageHeader(data []byte, h *MessageHeader) error {
	if len(data) < 16 {
		return ErrInsufficientData
	}
	h.BodyLength = binary.LittleEndian.Uint64(data[0:8])
	h.AttachmentCount = binary.LittleEndian.Uint32(data[8:12])
	h.Reserved = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

func marshalAttachmentHeader(h *AttachmentHeader) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], h.NextOffset)
	binary.LittleEndian.PutUint64(buf[8:16], h.Length)
	buf[16] = h.Type
	return buf
}

func unmarshalAttachmentHeader(data []byte, h *AttachmentHeader) error {
	if len(data) < 24 {
		return ErrInsufficientData
	}
	h.NextOffset = binary.LittleEndian.Uint64(data[0:8])
	h.Length = binary.LittleEndian.Uint64(data[8:16])
	h.Type = data[16]
	return nil
}

func marshalBootRegionEntry(e *BootRegionEntry) []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint32(buf[0:4], e.Kind)
	binary.LittleEndian.PutUint32(buf[4:8], e.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], e.PhysicalStart)
	binary.LittleEndian.PutUint64(buf[16:24], e.VirtualStart)
	binary.LittleEndian.PutUint64(buf[24:32], e.PageCount)
	return buf
}

func unmarshalBootRegionEntry(data []byte, e *BootRegionEntry) error {
	if len(data) < 32 {
		return ErrInsufficientData
	}
	e.Kind = binary.LittleEndian.Uint32(data[0:4])
	e.Reserved = binary.LittleEndian.Uint32(data[4:8])
	e.PhysicalStart = binary.LittleEndian.Uint64(data[8:16])
	e.VirtualStart = binary.LittleEndian.Uint64(data[16:24])
	e.PageCount = binary.LittleEndian.Uint64(data[24:32])
	return nil
}

func marshalRamdiskHeader(h *RamdiskHeader) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], h.RamdiskSize)
	binary.LittleEndian.PutUint64(buf[8:16], h.SectionCount)
	return buf
}

func unmarshalRamdiskHeader(data []byte, h *RamdiskHeader) error {
	if len(data) < 16 {
		return ErrInsufficientData
	}
	h.RamdiskSize = binary.LittleEndian.Uint64(data[0:8])
	h.SectionCount = binary.LittleEndian.Uint64(data[8:16])
	return nil
}

func marshalRamdiskSectionHeader(h *RamdiskSectionHeader) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], h.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], h.Size)
	return buf
}

func unmarshalRamdiskSectionHeader(data []byte, h *RamdiskSectionHeader) error {
	if len(data) < 16 {
		return ErrInsufficientData
	}
	h.Offset = binary.LittleEndian.Uint64(data[0:8])
	h.Size = binary.LittleEndian.Uint64(data[8:16])
	return nil
}

func marshalRamdiskDirectoryEntry(e *RamdiskDirectoryEntry) []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint64(buf[0:8], e.ParentIndex)
	binary.LittleEndian.PutUint64(buf[8:16], e.NameOffset)
	binary.LittleEndian.PutUint64(buf[16:24], e.ContentsOffset)
	binary.LittleEndian.PutUint64(buf[24:32], e.Size)
	binary.LittleEndian.PutUint32(buf[32:36], e.Flags)
	binary.LittleEndian.PutUint32(buf[36:40], e.Reserved)
	return buf
}

func unmarshalRamdiskDirectoryEntry(data []byte, e *RamdiskDirectoryEntry) error {
	if len(data) < 40 {
		return ErrInsufficientData
	}
	e.ParentIndex = binary.LittleEndian.Uint64(data[0:8])
	e.NameOffset = binary.LittleEndian.Uint64(data[8:16])
	e.ContentsOffset = binary.LittleEndian.Uint64(data[16:24])
	e.Size = binary.LittleEndian.Uint64(data[24:32])
	e.Flags = binary.LittleEndian.Uint32(data[32:36])
	e.Reserved = binary.LittleEndian.Uint32(data[36:40])
	return nil
}

// MarshalError is the error type returned by Unmarshal on malformed
// input.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrInvalidType      MarshalError = "invalid type for marshaling"
)
