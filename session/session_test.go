package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/JoshuaDoes/logger"
	"github.com/JoshuaDoes/odin-flash/protocol"
)

// fakeTransport is a scripted Transport for exercising Session logic
// without real hardware.
type fakeTransport struct {
	writes   [][]byte
	replies  [][]byte
	nextRead int
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *fakeTransport) Read(p []byte, timeout time.Duration) (int, error) {
	if f.nextRead >= len(f.replies) {
		return 0, errNoMoreReplies
	}
	reply := f.replies[f.nextRead]
	f.nextRead++
	n := copy(p, reply)
	return n, nil
}

func (f *fakeTransport) ZeroLengthWrite() error {
	f.writes = append(f.writes, nil)
	return nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const errNoMoreReplies = simpleErr("fakeTransport: no more scripted replies")

func replyBytes(cmdEcho, data uint32) []byte {
	b := make([]byte, 8)
	putU32LE(b[0:4], cmdEcho)
	putU32LE(b[4:8], data)
	return b
}

func putU32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func TestHandshakeSuccess(t *testing.T) {
	ft := &fakeTransport{replies: [][]byte{append([]byte("LOKE"), 0, 0, 0, 0)}}
	s := New(ft, logger.NewLogger("test", 0))

	if err := s.Handshake(); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if s.Phase() != Handshaking {
		t.Errorf("phase = %s, want handshaking", s.Phase())
	}
	if !bytes.Equal(ft.writes[0], protocol.HandshakeRequest) {
		t.Errorf("wrote %q, want ODIN", ft.writes[0])
	}
}

func TestHandshakeFailure(t *testing.T) {
	ft := &fakeTransport{replies: [][]byte{[]byte("NOPE0000")}}
	s := New(ft, logger.NewLogger("test", 0))

	err := s.Handshake()
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if _, ok := err.(*HandshakeFailedError); !ok {
		t.Fatalf("err = %T, want *HandshakeFailedError", err)
	}
	if s.Phase() != Failed {
		t.Errorf("phase = %s, want failed", s.Phase())
	}
}

func TestQueryVersionRecordsFields(t *testing.T) {
	ft := &fakeTransport{
		replies: [][]byte{append([]byte("LOKE"), 0, 0, 0, 0)},
	}
	s := New(ft, logger.NewLogger("test", 0))
	if err := s.Handshake(); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	data := uint32(4)<<16 | uint32(0x1000)
	ft.replies = append(ft.replies, replyBytes(protocol.CmdSession, data))
	if err := s.QueryVersion(); err != nil {
		t.Fatalf("QueryVersion: %v", err)
	}
	if s.ProtocolVersion != 4 {
		t.Errorf("ProtocolVersion = %d, want 4", s.ProtocolVersion)
	}
	if s.PreferredPacket != 0x1000 {
		t.Errorf("PreferredPacket = 0x%X, want 0x1000", s.PreferredPacket)
	}
	if s.Phase() != Negotiated {
		t.Errorf("phase = %s, want negotiated", s.Phase())
	}
}

func TestQueryVersionRefused(t *testing.T) {
	ft := &fakeTransport{
		replies: [][]byte{
			append([]byte("LOKE"), 0, 0, 0, 0),
			replyBytes(protocol.RefusalEcho, 7),
		},
	}
	s := New(ft, logger.NewLogger("test", 0))
	if err := s.Handshake(); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	err := s.QueryVersion()
	if err == nil {
		t.Fatal("expected refusal error")
	}
	if _, ok := err.(*protocol.RefusedError); !ok {
		t.Fatalf("err = %T, want *protocol.RefusedError", err)
	}
	if s.Phase() != Failed {
		t.Errorf("phase = %s, want failed", s.Phase())
	}
}

func TestIllegalTransition(t *testing.T) {
	ft := &fakeTransport{}
	s := New(ft, logger.NewLogger("test", 0))
	err := s.BeginTransfer()
	if err == nil {
		t.Fatal("expected illegal transition error")
	}
	if _, ok := err.(*IllegalTransitionError); !ok {
		t.Fatalf("err = %T, want *IllegalTransitionError", err)
	}
}
