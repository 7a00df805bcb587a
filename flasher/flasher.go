// Package flasher composes the transport, session, archive, PIT, and
// transfer layers behind the top-level operations a caller drives a
// flash with: enumerate, connect, load_firmware, flash, dump_pit, and
// disconnect
package flasher

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/JoshuaDoes/odin-flash/archive"
	"github.com/JoshuaDoes/odin-flash/pit"
	"github.com/JoshuaDoes/odin-flash/session"
	"github.com/JoshuaDoes/odin-flash/transfer"
	"github.com/JoshuaDoes/odin-flash/usb"
)

// Flasher is the top-level orchestrator. One Flasher drives one device
// connection at a time.
type Flasher struct {
	cfg Config

	dev  *usb.Device
	sess *session.Session
}

// New constructs a Flasher with the given options applied over the
// defaults.
func New(opts ...Option) *Flasher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Flasher{cfg: cfg}
}

// Enumerate lists attached Download Mode devices without claiming any.
func Enumerate() ([]usb.Info, error) {
	return usb.Enumerate()
}

// Connect claims a device, performs the handshake, version query, and
// part-size negotiation, and returns its identity.
func (f *Flasher) Connect() (usb.Info, error) {
	dev, err := usb.Open()
	if err != nil {
		return usb.Info{}, err
	}

	sess := session.New(dev, f.cfg.Logger)
	sess.SetTimeout(f.cfg.Timeout)
	if err := sess.Handshake(); err != nil {
		dev.Close()
		return usb.Info{}, err
	}
	if err := sess.QueryVersion(); err != nil {
		dev.Close()
		return usb.Info{}, err
	}
	if err := sess.NegotiatePartSize(); err != nil {
		dev.Close()
		return usb.Info{}, err
	}

	f.dev = dev
	f.sess = sess
	return dev.Info(), nil
}

// LoadFirmware runs the archive reader over src and surfaces its
// member list, embedded PIT, and embedded outer MD5.
func (f *Flasher) LoadFirmware(src archive.ReaderAt, total int64) (*Firmware, error) {
	return LoadFirmware(src, total)
}

// DumpPit retrieves the device's current PIT without running a
// transfer, writing the raw bytes to w and also returning them so
// callers can parse or print the table without a second round trip.
func (f *Flasher) DumpPit(w io.Writer) ([]byte, error) {
	if f.sess == nil {
		return nil, fmt.Errorf("flasher: not connected")
	}
	if err := f.sess.Open(0); err != nil {
		return nil, err
	}
	data, err := f.sess.ReceivePit()
	if err != nil {
		return nil, err
	}
	if err := f.sess.MarkReady(); err != nil {
		return nil, err
	}
	if err := f.sess.End(); err != nil {
		return nil, err
	}
	if w != nil {
		if _, err := w.Write(data); err != nil {
			return data, fmt.Errorf("flasher: write pit: %w", err)
		}
	}
	return data, nil
}

// Flash runs the setup byte-count pass, PIT exchange, and transfer
// pipeline for every flashable member of fw. ctx cancellation is checked
// between members only; a member whose transfer has started is sent to
// completion.
func (f *Flasher) Flash(ctx context.Context, fw *Firmware, pitOverride *pit.Table, reboot bool) error {
	if f.sess == nil {
		return fmt.Errorf("flasher: not connected")
	}

	var total uint64
	flashables := make([]archive.Member, 0, len(fw.Members))
	sizes := make(map[string]uint64, len(fw.Members))
	for _, m := range fw.Members {
		if !Flashable(m) {
			continue
		}
		size, err := measureDecompressedSize(fw.source, m)
		if err != nil {
			return err
		}
		flashables = append(flashables, m)
		sizes[m.Name] = size
		total += size
	}

	if err := f.sess.Open(total); err != nil {
		return err
	}

	table := pitOverride
	if table == nil {
		raw, err := f.sess.ReceivePit()
		if err != nil {
			return err
		}
		if raw != nil {
			parsed, err := pit.Parse(raw)
			if err != nil {
				return err
			}
			table = parsed
		}
	} else {
		if err := f.sess.SendPit(pit.Serialize(pitOverride)); err != nil {
			return err
		}
	}

	if err := f.sess.MarkReady(); err != nil {
		return err
	}

	pipeline := transfer.New(f.sess, f.cfg.Logger)
	pipeline.SetTimeout(f.cfg.Timeout)

	lastReport := time.Time{}
	for _, m := range flashables {
		select {
		case <-ctx.Done():
			f.sess.End()
			return ctx.Err()
		default:
		}

		if err := f.sess.BeginTransfer(); err != nil {
			return err
		}

		partitionID, deviceType := pit.Resolve(table, m.Name)
		tctx := &transfer.Context{PartitionID: partitionID, DeviceType: deviceType}

		reader := archive.Body(fw.source, m)
		compressed := CompressionOf(m)
		src := transfer.DecompressedSource(reader, compressed)
		memberTotal := sizes[m.Name]

		_, err := pipeline.Send(src, tctx, memberTotal, func(sent, totalBytes uint64) {
			now := time.Now()
			if f.cfg.OnProgress == nil {
				return
			}
			if now.Sub(lastReport) < progressInterval && sent != totalBytes {
				return
			}
			lastReport = now
			pct := float64(0)
			if totalBytes > 0 {
				pct = float64(sent) / float64(totalBytes) * 100
			}
			f.cfg.OnProgress(Progress{
				CurrentMember: m.Name,
				BytesSent:     sent,
				BytesTotal:    totalBytes,
				Percentage:    pct,
			})
		})
		if err != nil {
			f.sess.End()
			return fmt.Errorf("flasher: flashing %q: %w", m.Name, err)
		}
	}

	if err := f.sess.End(); err != nil {
		return err
	}
	if reboot && !f.cfg.WithoutReboot {
		return f.sess.Reboot()
	}
	return nil
}

// Disconnect releases the transport.
func (f *Flasher) Disconnect() error {
	if f.dev == nil {
		return nil
	}
	err := f.dev.Close()
	f.dev = nil
	f.sess = nil
	return err
}
