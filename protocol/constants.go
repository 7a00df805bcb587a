// Package protocol implements the Odin/Loke command-frame codec: packing
// and parsing of the fixed 1024-byte command frames and 8-byte reply
// frames exchanged with a device in Download Mode.
package protocol

import "time"

// Frame sizes, fixed by the protocol.
const (
	// CommandFrameSize is the size of every command packet sent to the device.
	CommandFrameSize = 1024

	// ReplyFrameSize is the size of every reply read from the device.
	ReplyFrameSize = 8
)

// RefusalEcho is the cmd_echo value a device sends back to signal a refusal,
// with the refusal's error code carried in the reply's data field.
const RefusalEcho = 0xFFFFFFFF

// Top-level command codes (offset 0 of a command frame).
const (
	CmdSession  = 100 // handshake/version/negotiation/open
	CmdPit      = 101 // PIT retrieval/upload
	CmdTransfer = 102 // per-file transfer (activate/chunk/finalize)
	CmdEnd      = 103 // end session / reboot
)

// Sub-commands for CmdSession.
const (
	SubVersion        = 0
	SubSessionOpen    = 2
	SubPartSizeSet    = 5
)

// Sub-commands for CmdPit.
const (
	SubPitRequest = 1
	SubPitRead    = 2
	SubPitEnd     = 3
)

// Sub-commands for CmdTransfer.
const (
	SubTransferActivate = 0
	SubTransferChunk    = 2
	SubTransferFinalize = 3
)

// Sub-commands for CmdEnd.
const (
	SubEndSession = 0
	SubReboot     = 1
)

// Handshake literals.
var (
	HandshakeRequest = []byte("ODIN")
	HandshakeReply   = []byte("LOKE")
)

// Size, chunking, and timing constants shared by the session and
// transfer layers.
const (
	FileBlockSize  = 128 * 1024      // 128 KiB
	MaxChunkSize   = 30 * 1024 * 1024 // 30 MiB
	SendBufferSize = 30 * 1024 * 1024 // 30 MiB accumulation buffer
	MaxPitSize     = 0x100000         // 1 MiB
	PitReadChunk   = 500              // bytes per (101,2) read iteration
	PitUploadChunk = 1024 * 1024      // 1 MiB per PIT upload chunk

	InterPhaseWait = 100 * time.Millisecond

	CommandTimeout  = 60 * time.Second
	FinalizeTimeout = 120 * time.Second
)
