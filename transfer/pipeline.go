// Package transfer implements the per-member chunk/block transfer
// pipeline: activation, chunking into sequences of at most MAX_CHUNK,
// blocking into file_block_size blocks with zero-length-write
// synchronization, and finalizer commit frames.
package transfer

import (
	"fmt"
	"io"
	"time"

	"github.com/JoshuaDoes/logger"
	"github.com/JoshuaDoes/odin-flash/protocol"
	"github.com/JoshuaDoes/odin-flash/session"
)

// Context is per-member scratch state.
type Context struct {
	PartitionID uint32
	DeviceType  uint32

	BytesSent            uint64
	CurrentSequenceBytes uint32
	CurrentBlockIndex    int
}

// Pipeline drives one member's upload across a Session.
type Pipeline struct {
	sess    *session.Session
	log     *logger.Logger
	timeout time.Duration
}

// New returns a Pipeline borrowing sess for the duration of a flash. A
// nil log falls back to a quiet default. The command reply timeout
// defaults to protocol.CommandTimeout; override it with SetTimeout.
func New(sess *session.Session, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewLogger("transfer", 0)
	}
	return &Pipeline{sess: sess, log: log, timeout: protocol.CommandTimeout}
}

// SetTimeout overrides the command reply timeout applied to activate
// and chunk/block round trips. The finalizer round trip keeps its own,
// longer protocol.FinalizeTimeout regardless.
func (p *Pipeline) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// Source is anything the pipeline can pull a member's decompressed
// bytes from sequentially.
type Source interface {
	io.Reader
}

// ProgressFunc reports bytes transferred for one member so far.
type ProgressFunc func(bytesSent, totalBytes uint64)

// Send uploads all of src's bytes (totalBytes long) for a member
// identified by ctx.PartitionID/DeviceType, returning the actual number
// of bytes committed via finalizers for byte accounting.
func (p *Pipeline) Send(src Source, ctx *Context, totalBytes uint64, onProgress ProgressFunc) (uint64, error) {
	transport := p.sess.Transport()

	activate := protocol.BuildSimple(protocol.CmdTransfer, protocol.SubTransferActivate)
	if _, err := transport.Write(activate); err != nil {
		return 0, fmt.Errorf("transfer: activate write: %w", err)
	}
	if err := p.expectReply(protocol.CmdTransfer, p.timeout); err != nil {
		return 0, err
	}

	var committed uint64
	buf := make([]byte, protocol.MaxChunkSize)

	for committed < totalBytes {
		chunkCap := uint64(protocol.MaxChunkSize)
		remaining := totalBytes - committed
		if chunkCap > remaining {
			chunkCap = remaining
		}

		n, err := io.ReadFull(src, buf[:chunkCap])
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return committed, fmt.Errorf("transfer: read member: %w", err)
		}
		chunk := buf[:n]
		isFinal := committed+uint64(n) >= totalBytes

		if err := p.sendChunk(transport, chunk, ctx, isFinal); err != nil {
			return committed, err
		}

		committed += uint64(n)
		ctx.BytesSent = committed
		if onProgress != nil {
			onProgress(committed, totalBytes)
		}
		if n == 0 {
			break
		}
	}

	if committed != totalBytes {
		return committed, &ByteAccountingError{Declared: totalBytes, Actual: committed}
	}
	return committed, nil
}

func (p *Pipeline) sendChunk(transport session.Transport, chunk []byte, ctx *Context, isFinal bool) error {
	sizeFrame := protocol.BuildWithU32(protocol.CmdTransfer, protocol.SubTransferChunk, uint32(len(chunk)))
	if _, err := transport.Write(sizeFrame); err != nil {
		return fmt.Errorf("transfer: chunk-size write: %w", err)
	}
	if err := p.expectReply(protocol.CmdTransfer, p.timeout); err != nil {
		return err
	}

	time.Sleep(protocol.InterPhaseWait)

	numBlocks := (len(chunk) + protocol.FileBlockSize - 1) / protocol.FileBlockSize
	for i := 0; i < numBlocks; i++ {
		if i > 0 {
			if err := transport.ZeroLengthWrite(); err != nil {
				return fmt.Errorf("transfer: block sync write: %w", err)
			}
		}

		start := i * protocol.FileBlockSize
		end := start + protocol.FileBlockSize
		if end > len(chunk) {
			end = len(chunk)
		}
		block := padBlock(chunk[start:end])

		if _, err := transport.Write(block); err != nil {
			return fmt.Errorf("transfer: block write: %w", err)
		}
		if err := p.expectReply(protocol.CmdTransfer, p.timeout); err != nil {
			return err
		}
		ctx.CurrentBlockIndex = i
	}
	ctx.CurrentSequenceBytes = uint32(len(chunk))

	completion := uint32(0)
	if isFinal {
		completion = 1
	}

	if err := transport.ZeroLengthWrite(); err != nil {
		return fmt.Errorf("transfer: pre-finalizer sync write: %w", err)
	}
	finalizer := protocol.BuildFinalizer(uint32(len(chunk)), ctx.DeviceType, ctx.PartitionID, completion)
	if _, err := transport.Write(finalizer); err != nil {
		return fmt.Errorf("transfer: finalizer write: %w", err)
	}
	if err := transport.ZeroLengthWrite(); err != nil {
		return fmt.Errorf("transfer: post-finalizer sync write: %w", err)
	}

	reply, err := p.readReply(transport, protocol.FinalizeTimeout)
	if err != nil {
		if isFinal {
			// a missing reply on the final chunk is tolerated.
			p.log.Debugln("transfer: no finalizer reply on final chunk, tolerated:", err)
			return nil
		}
		return fmt.Errorf("transfer: finalizer read: %w", err)
	}
	if reply.Refused() {
		return &TransferRejectedError{ErrorCode: reply.Data, PartitionID: ctx.PartitionID}
	}
	return nil
}

func padBlock(b []byte) []byte {
	if len(b) == protocol.FileBlockSize {
		return b
	}
	padded := make([]byte, protocol.FileBlockSize)
	copy(padded, b)
	return padded
}

func (p *Pipeline) expectReply(wantCmd uint32, timeout time.Duration) error {
	transport := p.sess.Transport()
	reply, err := p.readReply(transport, timeout)
	if err != nil {
		return err
	}
	return protocol.Expect(reply, wantCmd)
}

func (p *Pipeline) readReply(transport session.Transport, timeout time.Duration) (protocol.Reply, error) {
	buf := make([]byte, protocol.ReplyFrameSize)
	n, err := transport.Read(buf, timeout)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("transfer: read reply: %w", err)
	}
	return protocol.ParseReply(buf[:n])
}
