// Package session drives the Odin/Loke phase conversation: handshake,
// version negotiation, session open, optional PIT exchange, and
// end-session/reboot. It enforces the legal phase transition graph and
// translates device replies into typed errors.
package session

import (
	"bytes"
	"fmt"
	"time"

	"github.com/JoshuaDoes/logger"
	"github.com/JoshuaDoes/odin-flash/protocol"
)

// Transport is the bulk read/write/zero-length-write surface a Session
// drives. It is satisfied by *usb.Device; kept as an interface here so
// session logic can be exercised without real hardware.
type Transport interface {
	Write(p []byte) (int, error)
	Read(p []byte, timeout time.Duration) (int, error)
	ZeroLengthWrite() error
}

// Session is the single-tenant conversation with one device.
type Session struct {
	transport Transport
	log       *logger.Logger
	timeout   time.Duration

	phase Phase

	ProtocolVersion uint16
	PreferredPacket uint16
}

// New wraps transport in a fresh Session, starting in Disconnected. A
// nil log falls back to a quiet default so call sites never need to
// nil-check before logging. The command reply timeout defaults to
// protocol.CommandTimeout; override it with SetTimeout.
func New(transport Transport, log *logger.Logger) *Session {
	if log == nil {
		log = logger.NewLogger("session", 0)
	}
	return &Session{transport: transport, log: log, phase: Disconnected, timeout: protocol.CommandTimeout}
}

// SetTimeout overrides the command reply timeout applied to every
// round trip.
func (s *Session) SetTimeout(timeout time.Duration) {
	s.timeout = timeout
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	return s.phase
}

func (s *Session) setPhase(next Phase) error {
	if !legalFrom(s.phase, next) {
		return &IllegalTransitionError{From: s.phase, To: next}
	}
	s.phase = next
	return nil
}

func (s *Session) fail(err error) error {
	s.setPhase(Failed)
	return err
}

// Handshake writes "ODIN" and expects a reply beginning with "LOKE".
func (s *Session) Handshake() error {
	if err := s.setPhase(Handshaking); err != nil {
		return err
	}
	if _, err := s.transport.Write(protocol.HandshakeRequest); err != nil {
		return s.fail(fmt.Errorf("session: handshake write: %w", err))
	}

	reply := make([]byte, 64)
	n, err := s.transport.Read(reply, s.timeout)
	if err != nil {
		return s.fail(fmt.Errorf("session: handshake read: %w", err))
	}
	if n < 4 || !bytes.Equal(reply[:4], protocol.HandshakeReply) {
		return s.fail(&HandshakeFailedError{Got: reply[:n]})
	}
	s.log.Infoln("Handshake succeeded")
	return nil
}

// QueryVersion sends (100, 0, 4) and records the protocol version and
// device-preferred packet size from the reply.
func (s *Session) QueryVersion() error {
	frame := protocol.BuildWithU32(protocol.CmdSession, protocol.SubVersion, 4)
	reply, err := s.roundTrip(frame, s.timeout)
	if err != nil {
		return s.fail(err)
	}
	if err := protocol.Expect(reply, protocol.CmdSession); err != nil {
		return s.fail(err)
	}
	s.ProtocolVersion = uint16(reply.Data >> 16)
	s.PreferredPacket = uint16(reply.Data & 0xFFFF)
	if err := s.setPhase(Negotiated); err != nil {
		return s.fail(err)
	}
	s.log.Debugf("Protocol version %d, preferred packet size %d", s.ProtocolVersion, s.PreferredPacket)
	return nil
}

// NegotiatePartSize sends (100, 5, 0x100000) if the device expressed a
// non-zero preferred packet size.
func (s *Session) NegotiatePartSize() error {
	if s.PreferredPacket == 0 {
		return nil
	}
	frame := protocol.BuildWithU32(protocol.CmdSession, protocol.SubPartSizeSet, 0x100000)
	reply, err := s.roundTrip(frame, s.timeout)
	if err != nil {
		return s.fail(err)
	}
	return protocol.Expect(reply, protocol.CmdSession)
}

// Open sends (100, 2) followed by totalBytes and transitions to Setup.
func (s *Session) Open(totalBytes uint64) error {
	frame := protocol.NewCommandFrame(protocol.CmdSession, protocol.SubSessionOpen).PutU64(totalBytes).Bytes()
	reply, err := s.roundTrip(frame, s.timeout)
	if err != nil {
		return s.fail(err)
	}
	if err := protocol.Expect(reply, protocol.CmdSession); err != nil {
		return s.fail(err)
	}
	if err := s.setPhase(Setup); err != nil {
		return s.fail(err)
	}
	return nil
}

// ReceivePit retrieves the device's current PIT image. It is a no-op
// when protocolVersion <= 3.
func (s *Session) ReceivePit() ([]byte, error) {
	if s.ProtocolVersion <= 3 {
		return nil, nil
	}

	reqFrame := protocol.BuildWithU32(protocol.CmdPit, protocol.SubPitRequest, 0)
	reply, err := s.roundTrip(reqFrame, s.timeout)
	if err != nil {
		return nil, s.fail(err)
	}
	if reply.Refused() {
		return nil, s.fail(&protocol.RefusedError{ErrorCode: reply.Data})
	}
	pitSize := reply.Data
	if pitSize == 0 || pitSize > protocol.MaxPitSize {
		return nil, s.fail(&InvalidPitSizeError{Size: pitSize})
	}

	accum := make([]byte, 0, pitSize)
	for counter := uint32(0); uint32(len(accum)) < pitSize; counter++ {
		readFrame := protocol.BuildWithU32(protocol.CmdPit, protocol.SubPitRead, counter)
		if _, err := s.transport.Write(readFrame); err != nil {
			return nil, s.fail(fmt.Errorf("session: pit read write: %w", err))
		}
		chunk := make([]byte, protocol.PitReadChunk)
		n, err := s.transport.Read(chunk, s.timeout)
		if err != nil {
			return nil, s.fail(fmt.Errorf("session: pit read: %w", err))
		}
		remaining := int(pitSize) - len(accum)
		if n > remaining {
			n = remaining
		}
		accum = append(accum, chunk[:n]...)
	}

	endFrame := protocol.BuildWithU32(protocol.CmdPit, protocol.SubPitEnd, 0)
	if _, err := s.roundTrip(endFrame, s.timeout); err != nil {
		return nil, s.fail(err)
	}
	return accum, nil
}

// SendPit uploads a PIT image in 1 MiB chunks.
func (s *Session) SendPit(data []byte) error {
	for offset := 0; offset < len(data); offset += protocol.PitUploadChunk {
		end := offset + protocol.PitUploadChunk
		if end > len(data) {
			end = len(data)
		}
		if _, err := s.transport.Write(data[offset:end]); err != nil {
			return s.fail(fmt.Errorf("session: pit upload write: %w", err))
		}
	}
	reply, err := s.readReply(s.timeout)
	if err != nil {
		return s.fail(err)
	}
	return protocol.Expect(reply, protocol.CmdPit)
}

// BeginTransfer transitions the session from Ready into Transferring.
// Calling it again while already Transferring is a no-op; from any
// other phase it fails the session.
func (s *Session) BeginTransfer() error {
	if s.phase == Ready {
		return s.setPhase(Transferring)
	}
	if s.phase == Transferring {
		return nil
	}
	return s.fail(&IllegalTransitionError{From: s.phase, To: Transferring})
}

// MarkReady transitions Setup -> Ready once handshake/negotiation/PIT
// exchange are complete.
func (s *Session) MarkReady() error {
	return s.setPhase(Ready)
}

// End sends (103, 0, 0) and transitions to Closing.
func (s *Session) End() error {
	frame := protocol.BuildWithU32(protocol.CmdEnd, protocol.SubEndSession, 0)
	reply, err := s.roundTrip(frame, s.timeout)
	if err != nil {
		return s.fail(err)
	}
	if err := protocol.Expect(reply, protocol.CmdEnd); err != nil {
		return s.fail(err)
	}
	return s.setPhase(Closing)
}

// Reboot sends (103, 1, 0). A reply timeout or link drop here is
// expected, not an error: the device is rebooting mid-reply.
func (s *Session) Reboot() error {
	if err := s.setPhase(Rebooting); err != nil {
		return err
	}
	frame := protocol.BuildWithU32(protocol.CmdEnd, protocol.SubReboot, 0)
	if _, err := s.transport.Write(frame); err != nil {
		return s.fail(fmt.Errorf("session: reboot write: %w", err))
	}
	_, _ = s.readReply(s.timeout) // drop/timeout tolerated
	return s.setPhase(Disconnected)
}

// Transport returns the underlying transport, used by the transfer
// pipeline which borrows the session for the duration of a flash.
func (s *Session) Transport() Transport {
	return s.transport
}

func (s *Session) roundTrip(frame []byte, timeout time.Duration) (protocol.Reply, error) {
	if _, err := s.transport.Write(frame); err != nil {
		return protocol.Reply{}, fmt.Errorf("session: write: %w", err)
	}
	return s.readReply(timeout)
}

func (s *Session) readReply(timeout time.Duration) (protocol.Reply, error) {
	buf := make([]byte, protocol.ReplyFrameSize)
	n, err := s.transport.Read(buf, timeout)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("session: read: %w", err)
	}
	return protocol.ParseReply(buf[:n])
}
