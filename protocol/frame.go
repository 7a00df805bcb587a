package protocol

import (
	"fmt"

	"github.com/JoshuaDoes/crunchio"
)

// CommandFrame is a builder for the fixed 1024-byte little-endian command
// packets sent to the device: cmd:u32, sub:u32, followed by a
// context-specific payload, zero-padded to CommandFrameSize.
type CommandFrame struct {
	buf *crunchio.Buffer
}

// NewCommandFrame starts a frame with the given command and sub-command
// written at offsets 0 and 4.
func NewCommandFrame(cmd, sub uint32) *CommandFrame {
	f := &CommandFrame{
		buf: crunchio.NewBuffer("command", make([]byte, CommandFrameSize)),
	}
	f.buf.Buffer().WriteU32LENext([]uint32{cmd, sub})
	return f
}

// PutU32 appends a little-endian u32 to the payload immediately following
// cmd/sub (or the previously written field).
func (f *CommandFrame) PutU32(v uint32) *CommandFrame {
	f.buf.Buffer().WriteU32LENext([]uint32{v})
	return f
}

// PutU64 appends a little-endian u64 to the payload.
func (f *CommandFrame) PutU64(v uint64) *CommandFrame {
	f.buf.Buffer().WriteU64LENext([]uint64{v})
	return f
}

// PutBytes appends raw bytes to the payload.
func (f *CommandFrame) PutBytes(p []byte) *CommandFrame {
	f.buf.Buffer().WriteBytesNext(p)
	return f
}

// Bytes returns the complete zero-padded 1024-byte frame.
func (f *CommandFrame) Bytes() []byte {
	return f.buf.Bytes()
}

// BuildSimple builds a (cmd, sub) frame with no further payload.
func BuildSimple(cmd, sub uint32) []byte {
	return NewCommandFrame(cmd, sub).Bytes()
}

// BuildWithU32 builds a (cmd, sub, value:u32) frame.
func BuildWithU32(cmd, sub, value uint32) []byte {
	return NewCommandFrame(cmd, sub).PutU32(value).Bytes()
}

// BuildWithU64 builds a (cmd, sub, value:u64) frame.
func BuildWithU64(cmd, sub uint32, value uint64) []byte {
	return NewCommandFrame(cmd, sub).PutU64(value).Bytes()
}

// Finalizer lists the eight u32 fields (32 bytes, at the start of the
// 1024-byte frame) that commit a transfer chunk to flash: §4.7/§6.
type Finalizer struct {
	Cmd           uint32
	Sub           uint32
	Destination   uint32 // always 0: destination phone
	ActualBytes   uint32
	Zero          uint32
	DeviceType    uint32
	PartitionID   uint32
	Completion    uint32 // 1 iff final chunk of the member
}

// BuildFinalizer builds the transfer finalizer frame (102, 3, ...).
func BuildFinalizer(actualBytes, deviceType, partitionID, completion uint32) []byte {
	f := NewCommandFrame(CmdTransfer, SubTransferFinalize)
	f.PutU32(0) // destination: phone
	f.PutU32(actualBytes)
	f.PutU32(0) // reserved
	f.PutU32(deviceType)
	f.PutU32(partitionID)
	f.PutU32(completion)
	return f.Bytes()
}

// Reply is a parsed 8-byte reply frame.
type Reply struct {
	CmdEcho uint32
	Data    uint32
}

// Refused reports whether this reply is a device-side refusal.
func (r Reply) Refused() bool {
	return r.CmdEcho == RefusalEcho
}

// ParseReply parses an 8-byte reply frame. Any read shorter than
// ReplyFrameSize is a framing error.
func ParseReply(b []byte) (Reply, error) {
	if len(b) < ReplyFrameSize {
		return Reply{}, fmt.Errorf("protocol: short reply frame: got %d bytes, want %d", len(b), ReplyFrameSize)
	}
	buf := crunchio.NewBuffer("reply", b[:ReplyFrameSize])
	vals := buf.Buffer().ReadU32LENext(2)
	return Reply{CmdEcho: vals[0], Data: vals[1]}, nil
}
