// Package bytelink is the thin transport underneath the SIGMA/SIGMA2 core:
// a byte-addressable register pipe carried over an FTDI USB bridge.
//
// The bridge has two operating modes. In byte-pipe mode, writes and reads
// move opaque bytes that regcodec interprets as register commands and
// responses. In bitbang mode, each written byte drives the FPGA's
// configuration pins directly; fpgaloader uses this to bitbang the
// Spartan-3 slave-serial bitstream.
package bytelink

import (
	"errors"
	"io"

	"periph.io/x/conn/v3/physic"
)

// ErrShortWrite is returned when the underlying bridge accepts fewer bytes
// than were given to Write. A partial write leaves the command stream
// desynchronized, so it is always an error, never a partial success.
var ErrShortWrite = errors.New("bytelink: short write")

// BitMask selects which FTDI GPIO pins drive the Spartan-3 configuration
// lines while the bridge is in bitbang mode.
type BitMask byte

// Link is the core's view of the FTDI bridge. Implementations wrap a real
// USB handle (for example a periph.io FTDI Dev, or a D2XX handle); device
// enumeration and open/close are the outer driver's responsibility and are
// out of scope here (spec.md §1).
type Link interface {
	// Write sends bytes to the bridge. A short write is reported as
	// ErrShortWrite rather than silently returning a smaller count.
	Write(p []byte) (int, error)
	// Read fills buf from the bridge, blocking until at least one byte is
	// available or an error occurs.
	Read(buf []byte) (int, error)
	// Purge discards any bytes the bridge is currently buffering for read,
	// so a subsequent Read reflects only freshly produced data.
	Purge() error
	// SetBitbangMode switches the bridge into bitbang mode, driving the
	// pins named by mask from each written byte.
	SetBitbangMode(mask BitMask) error
	// SetBaud reconfigures the bridge's bit clock. In bitbang mode this is
	// the pin-toggle rate; in byte-pipe mode it has no meaning the core
	// relies on.
	SetBaud(rate physic.Frequency) error
	// ResetMode returns the bridge to byte-pipe mode.
	ResetMode() error
}

// FTDILink adapts an io.ReadWriter representing an already-opened FTDI
// handle (e.g. a periph.io/x/conn/v3/driver-backed device, or any other
// byte-pipe transport with the same semantics) to Link. Mode-switching
// operations that the plain io.ReadWriter can't express are delegated to an
// optional BitbangSetter; if none is supplied, SetBitbangMode/SetBaud/
// ResetMode return ErrNoModeControl.
type FTDILink struct {
	RW     io.ReadWriter
	Modes  BitbangSetter
}

// ErrNoModeControl is returned by FTDILink's mode-switching methods when no
// BitbangSetter was configured.
var ErrNoModeControl = errors.New("bytelink: link has no bitbang mode control")

// BitbangSetter is the subset of FTDI mode control the core needs. A real
// FTDI D2XX or periph.io handle implements this directly or through a small
// adapter; see internal/hostusb for a concrete wiring example.
type BitbangSetter interface {
	SetBitMode(mask byte, enable bool) error
	SetBaudRate(rate physic.Frequency) error
	Purge() error
}

// Write implements Link.
func (f *FTDILink) Write(p []byte) (int, error) {
	n, err := f.RW.Write(p)
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, ErrShortWrite
	}
	return n, nil
}

// Read implements Link.
func (f *FTDILink) Read(buf []byte) (int, error) {
	return f.RW.Read(buf)
}

// Purge implements Link.
func (f *FTDILink) Purge() error {
	if f.Modes == nil {
		return ErrNoModeControl
	}
	return f.Modes.Purge()
}

// SetBitbangMode implements Link.
func (f *FTDILink) SetBitbangMode(mask BitMask) error {
	if f.Modes == nil {
		return ErrNoModeControl
	}
	return f.Modes.SetBitMode(byte(mask), true)
}

// SetBaud implements Link.
func (f *FTDILink) SetBaud(rate physic.Frequency) error {
	if f.Modes == nil {
		return ErrNoModeControl
	}
	return f.Modes.SetBaudRate(rate)
}

// ResetMode implements Link.
func (f *FTDILink) ResetMode() error {
	if f.Modes == nil {
		return ErrNoModeControl
	}
	return f.Modes.SetBitMode(0, false)
}
