// Package pit implements the Partition Information Table binary codec
// and the partition-matching rules used to map firmware filenames to
// PIT entries.
package pit

import (
	"fmt"

	"github.com/JoshuaDoes/crunchio"
)

// Magic is the little-endian u32 at offset 0 of a PIT image.
const Magic = 0x12349876

const (
	headerSize = 28
	entrySize  = 132

	nameFieldSize = 32
)

// Entry is a single partition record (132 bytes on the wire).
type Entry struct {
	BinaryType    uint32
	DeviceType    uint32
	PartitionID   uint32
	PartitionType uint32
	Filesystem    uint32
	StartBlock    uint32
	NumBlocks     uint32
	FileOffset    uint32
	FileSize      uint32

	PartitionName string
	FlashFilename string
	FotaFilename  string
}

// Table is a parsed PIT image.
type Table struct {
	Entries []Entry
}

// Parse decodes a raw PIT image. Any length or magic mismatch is an
// *InvalidError.
func Parse(data []byte) (*Table, error) {
	if len(data) < headerSize {
		return nil, &InvalidError{Reason: fmt.Sprintf("image too short: %d bytes", len(data))}
	}

	buf := crunchio.NewBuffer("pit", data)

	magic := buf.Buffer().ReadU32LENext(1)[0]
	if magic != Magic {
		return nil, &InvalidError{Reason: fmt.Sprintf("bad magic: 0x%X", magic)}
	}
	count := buf.Buffer().ReadU32LENext(1)[0]

	want := headerSize + int(count)*entrySize
	if len(data) < want {
		return nil, &InvalidError{Reason: fmt.Sprintf("truncated image: have %d bytes, want %d for %d entries", len(data), want, count)}
	}

	buf.Buffer().ReadBytesNext(headerSize - 8) // reserved header bytes

	t := &Table{Entries: make([]Entry, 0, count)}
	for i := uint32(0); i < count; i++ {
		fields := buf.Buffer().ReadU32LENext(9)
		e := Entry{
			BinaryType:    fields[0],
			DeviceType:    fields[1],
			PartitionID:   fields[2],
			PartitionType: fields[3],
			Filesystem:    fields[4],
			StartBlock:    fields[5],
			NumBlocks:     fields[6],
			FileOffset:    fields[7],
			FileSize:      fields[8],
		}
		e.PartitionName = trimNull(buf.Buffer().ReadBytesNext(nameFieldSize))
		e.FlashFilename = trimNull(buf.Buffer().ReadBytesNext(nameFieldSize))
		e.FotaFilename = trimNull(buf.Buffer().ReadBytesNext(nameFieldSize))
		t.Entries = append(t.Entries, e)
	}
	return t, nil
}

func trimNull(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Serialize encodes a Table back into its binary wire form. Strings are
// truncated to 31 bytes then null-terminated inside their 32-byte field.
func Serialize(t *Table) []byte {
	size := headerSize + len(t.Entries)*entrySize
	out := make([]byte, size)

	buf := crunchio.NewBuffer("pit", out)
	buf.Buffer().WriteU32LENext([]uint32{Magic, uint32(len(t.Entries))})
	buf.Buffer().WriteBytesNext(make([]byte, headerSize-8))

	for _, e := range t.Entries {
		buf.Buffer().WriteU32LENext([]uint32{
			e.BinaryType, e.DeviceType, e.PartitionID, e.PartitionType,
			e.Filesystem, e.StartBlock, e.NumBlocks, e.FileOffset, e.FileSize,
		})
		buf.Buffer().WriteBytesNext(padName(e.PartitionName))
		buf.Buffer().WriteBytesNext(padName(e.FlashFilename))
		buf.Buffer().WriteBytesNext(padName(e.FotaFilename))
	}
	return out
}

func padName(s string) []byte {
	if len(s) > nameFieldSize-1 {
		s = s[:nameFieldSize-1]
	}
	out := make([]byte, nameFieldSize)
	copy(out, s)
	return out
}

// InvalidError indicates a malformed PIT image.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("pit: invalid table: %s", e.Reason)
}
