package transfer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/JoshuaDoes/logger"
	"github.com/JoshuaDoes/odin-flash/protocol"
	"github.com/JoshuaDoes/odin-flash/session"
)

// scriptedTransport always replies with an (cmdEcho, 0) success frame
// for the cmd of the last command frame it saw written, tracking every
// write. Data blocks are not command frames and leave cmdEcho unchanged.
type scriptedTransport struct {
	writes  [][]byte
	lastCmd uint32
}

func (s *scriptedTransport) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	s.writes = append(s.writes, cp)
	if len(p) == protocol.CommandFrameSize {
		s.lastCmd = le32(p[0:4])
	}
	return len(p), nil
}

func (s *scriptedTransport) Read(p []byte, timeout time.Duration) (int, error) {
	b := make([]byte, 8)
	putLE32(b[0:4], s.lastCmd)
	putLE32(b[4:8], 0)
	return copy(p, b), nil
}

func (s *scriptedTransport) ZeroLengthWrite() error {
	s.writes = append(s.writes, nil)
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func newTestSession(st *scriptedTransport) *session.Session {
	return session.New(st, logger.NewLogger("test", 0))
}

func TestSendSingleSmallChunk(t *testing.T) {
	st := &scriptedTransport{}
	p := New(newTestSession(st), logger.NewLogger("test", 0))

	payload := strings.Repeat("x", 1000)
	ctx := &Context{PartitionID: 3, DeviceType: 2}

	committed, err := p.Send(bytes.NewReader([]byte(payload)), ctx, uint64(len(payload)), nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if committed != uint64(len(payload)) {
		t.Errorf("committed = %d, want %d", committed, len(payload))
	}
}

func TestSendReportsProgress(t *testing.T) {
	st := &scriptedTransport{}
	p := New(newTestSession(st), logger.NewLogger("test", 0))

	payload := bytes.Repeat([]byte{0x42}, protocol.FileBlockSize*3)
	ctx := &Context{PartitionID: 10, DeviceType: 2}

	var lastSent uint64
	calls := 0
	_, err := p.Send(bytes.NewReader(payload), ctx, uint64(len(payload)), func(sent, total uint64) {
		calls++
		lastSent = sent
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls == 0 {
		t.Fatal("expected at least one progress callback")
	}
	if lastSent != uint64(len(payload)) {
		t.Errorf("final progress = %d, want %d", lastSent, len(payload))
	}
}

func TestSendMultipleChunksAboveMaxChunk(t *testing.T) {
	st := &scriptedTransport{}
	p := New(newTestSession(st), logger.NewLogger("test", 0))

	total := protocol.MaxChunkSize + protocol.FileBlockSize
	payload := bytes.Repeat([]byte{0x7}, total)
	ctx := &Context{PartitionID: 3, DeviceType: 2}

	committed, err := p.Send(bytes.NewReader(payload), ctx, uint64(total), nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if committed != uint64(total) {
		t.Errorf("committed = %d, want %d", committed, total)
	}
}
