// Package usb provides the USB bulk-transport façade used to talk to a
// device in Samsung Download Mode: enumeration, claiming, and timed
// bulk read/write over a discovered endpoint pair. It carries no Odin
// protocol semantics of its own.
package usb

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

// Samsung Download Mode vendor/product identifiers.
const (
	VendorID = 0x04E8

	ProductOdin1 = 0x685D
	ProductOdin2 = 0x68C3
)

// maxWriteChunk is the largest single bulk write issued to the endpoint;
// larger writes are transparently split.
const maxWriteChunk = 65536

// Info describes an enumerated or connected device.
type Info struct {
	VendorID, ProductID uint16
	Manufacturer        string
	Product             string
	Serial              string
}

// Device is a claimed USB bulk endpoint pair to a Download Mode device.
type Device struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	out *gousb.OutEndpoint
	in  *gousb.InEndpoint

	info   Info
	closed bool
}

var (
	mutexKnown sync.Mutex
	knownInfos []Info
)

// Enumerate lists attached devices matching the Download Mode VID and
// either known PID, without claiming them, and refreshes the cached
// device list returned by Known.
func Enumerate() ([]Info, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return matchesOdin(desc)
	})
	if err != nil {
		return nil, fmt.Errorf("usb: enumerate: %w", err)
	}
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()

	infos := make([]Info, 0, len(devs))
	for _, d := range devs {
		infos = append(infos, describeDevice(d))
	}

	mutexKnown.Lock()
	knownInfos = infos
	mutexKnown.Unlock()

	return infos, nil
}

// Known returns the device list from the most recent Enumerate call
// without touching the bus again. It is empty until Enumerate has run
// at least once.
func Known() []Info {
	mutexKnown.Lock()
	defer mutexKnown.Unlock()
	out := make([]Info, len(knownInfos))
	copy(out, knownInfos)
	return out
}

func matchesOdin(desc *gousb.DeviceDesc) bool {
	if desc.Vendor != gousb.ID(VendorID) {
		return false
	}
	return desc.Product == gousb.ID(ProductOdin1) || desc.Product == gousb.ID(ProductOdin2)
}

func describeDevice(d *gousb.Device) Info {
	info := Info{
		VendorID:  uint16(d.Desc.Vendor),
		ProductID: uint16(d.Desc.Product),
	}
	if m, err := d.Manufacturer(); err == nil {
		info.Manufacturer = m
	}
	if p, err := d.Product(); err == nil {
		info.Product = p
	}
	if s, err := d.SerialNumber(); err == nil {
		info.Serial = s
	}
	return info
}

// Open claims the first matching Download Mode device, discovering its
// bulk IN/OUT endpoints across the interfaces of its active
// configuration.
func Open() (*Device, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(matchesOdin)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usb: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, ErrNoDevice
	}
	dev := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	success := false
	defer func() {
		if !success {
			dev.Close()
			ctx.Close()
		}
	}()

	cfgNum, err := dev.ActiveConfigNum()
	if err != nil {
		cfgNum = 1
	}
	cfg, err := dev.Config(cfgNum)
	if err != nil {
		return nil, fmt.Errorf("usb: set config %d: %w", cfgNum, ErrOpen(err))
	}

	var intf *gousb.Interface
	var outEp *gousb.OutEndpoint
	var inEp *gousb.InEndpoint

	for _, ifDesc := range cfg.Desc.Interfaces {
		for _, alt := range ifDesc.AltSettings {
			candidate, err := cfg.Interface(ifDesc.Number, alt.Number)
			if err != nil {
				continue
			}
			out, in := findBulkEndpoints(candidate, alt)
			if out != nil && in != nil {
				intf = candidate
				outEp = out
				inEp = in
				break
			}
			candidate.Close()
		}
		if intf != nil {
			break
		}
	}
	if intf == nil {
		cfg.Close()
		return nil, fmt.Errorf("usb: %w", ErrOpen(fmt.Errorf("no bulk endpoint pair found")))
	}

	d := &Device{
		ctx:  ctx,
		dev:  dev,
		cfg:  cfg,
		intf: intf,
		out:  outEp,
		in:   inEp,
		info: describeDevice(dev),
	}
	success = true
	return d, nil
}

func findBulkEndpoints(intf *gousb.Interface, alt gousb.InterfaceSetting) (*gousb.OutEndpoint, *gousb.InEndpoint) {
	var out *gousb.OutEndpoint
	var in *gousb.InEndpoint
	for _, ep := range alt.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionOut && out == nil {
			if o, err := intf.OutEndpoint(ep.Number); err == nil {
				out = o
			}
		}
		if ep.Direction == gousb.EndpointDirectionIn && in == nil {
			if i, err := intf.InEndpoint(ep.Number); err == nil {
				in = i
			}
		}
	}
	return out, in
}

// Info returns the identity of the claimed device.
func (d *Device) Info() Info {
	return d.info
}

// Write sends bytes over the bulk OUT endpoint, transparently chunking
// writes larger than maxWriteChunk.
func (d *Device) Write(p []byte) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	total := 0
	for total < len(p) {
		end := total + maxWriteChunk
		if end > len(p) {
			end = len(p)
		}
		want := end - total
		n, err := d.out.Write(p[total:end])
		total += n
		if err != nil {
			return total, fmt.Errorf("usb: write: %w", err)
		}
		if n < want {
			// short write inside a chunk: stop rather than loop forever.
			break
		}
	}
	return total, nil
}

// ZeroLengthWrite issues a zero-byte bulk OUT transfer, used as a
// synchronization marker around data blocks and finalizers.
func (d *Device) ZeroLengthWrite() error {
	if d.closed {
		return ErrClosed
	}
	_, err := d.out.Write([]byte{})
	if err != nil {
		return fmt.Errorf("usb: zero-length write: %w", err)
	}
	return nil
}

// Read reads up to len(p) bytes from the bulk IN endpoint, honoring the
// supplied timeout. Short reads are allowed; exceeding the timeout
// yields a *TimeoutError distinguishable from a protocol error.
func (d *Device) Read(p []byte, timeout time.Duration) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	d.in.ReadTimeout = timeout
	n, err := d.in.Read(p)
	if err != nil {
		if isTimeout(err) {
			return n, &TimeoutError{Op: "read", Timeout: timeout}
		}
		return n, fmt.Errorf("usb: read: %w", err)
	}
	return n, nil
}

// Close releases the interface, config, device, and context.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.intf != nil {
		d.intf.Close()
	}
	if d.cfg != nil {
		d.cfg.Close()
	}
	if d.dev != nil {
		d.dev.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
