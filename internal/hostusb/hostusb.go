// Package hostusb is the thin, intentionally uninteresting glue the
// bring-up command-line tools share: finding an FTDI device on the USB bus
// and locating firmware files on disk. None of the core packages
// (bytelink, regcodec, fpgaloader, trigger, dram, acq) import this package;
// they operate purely on bytelink.Link and byte slices supplied by the
// caller.
package hostusb

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"unsafe"

	"github.com/jbrzusto/sigma/bytelink"
	"github.com/jbrzusto/sigma/sigmacfg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3/ftdi"

	"golang.org/x/sys/unix"
)

// dbusAdapter drives an FT232-family device's 8-bit D-bus one byte at a
// time, which is exactly the access pattern fpgaloader.BitbangStream
// produces: one GPIO sample per output byte.
type dbusAdapter struct {
	dev *ftdi.FT232H
}

func (a *dbusAdapter) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := a.dev.DBus(0xFF, b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

func (a *dbusAdapter) Read(p []byte) (int, error) {
	for i := range p {
		b, err := a.dev.DBusRead()
		if err != nil {
			return i, err
		}
		p[i] = b
	}
	return len(p), nil
}

// bitbangModes adapts dbusAdapter to bytelink.BitbangSetter. The FT232H's
// D-bus is already bit-addressable GPIO, so SetBitMode and Purge are
// no-ops here; SetBaudRate sets the device's speed via SetSpeed.
type bitbangModes struct {
	dev *ftdi.FT232H
}

func (m *bitbangModes) SetBitMode(mask byte, enabled bool) error { return nil }
func (m *bitbangModes) SetBaudRate(f physic.Frequency) error     { return m.dev.SetSpeed(f) }
func (m *bitbangModes) Purge() error                             { return nil }

// OpenFirstDevice enumerates attached FTDI devices and wraps the first
// FT232H found in a bytelink.Link. If periph has no FTDI backend registered
// for this platform, it falls back to a raw /dev/ttyUSB0 serial line
// (the device already FPGA-loaded and left in nibble-protocol mode by a
// prior sigma-probe/sigma-capture run).
func OpenFirstDevice() (bytelink.Link, error) {
	for _, d := range ftdi.All() {
		if h, ok := d.(*ftdi.FT232H); ok {
			adapter := &dbusAdapter{dev: h}
			return &bytelink.FTDILink{RW: adapter, Modes: &bitbangModes{dev: h}}, nil
		}
	}
	f, err := openRawSerial("/dev/ttyUSB0")
	if err != nil {
		return nil, fmt.Errorf("hostusb: no FT232H device found and raw fallback failed: %w", err)
	}
	return &bytelink.FTDILink{RW: f, Modes: &rawSerialModes{}}, nil
}

// rawSerialModes backs bytelink.BitbangSetter for the raw-serial fallback.
// A line in this mode has already been bitbang-programmed by a prior
// session (the FPGA retains its configuration until power-cycled), so
// SetBitMode/Purge are no-ops; SetBaudRate is unsupported since the
// termios speed was fixed when the line was opened.
type rawSerialModes struct{}

func (rawSerialModes) SetBitMode(mask byte, enabled bool) error { return nil }
func (rawSerialModes) SetBaudRate(f physic.Frequency) error {
	return fmt.Errorf("hostusb: raw serial fallback does not support runtime baud changes")
}
func (rawSerialModes) Purge() error { return nil }

// openRawSerial opens path in raw, 8N1 mode via termios ioctls, the same
// pattern used to bring up a debug console line without a higher-level
// serial library.
func openRawSerial(path string) (s *os.File, err error) {
	s, err = os.OpenFile(path, unix.O_RDWR|unix.O_NOCTTY, 0666)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && s != nil {
			s.Close()
		}
	}()
	c, err := s.SyscallConn()
	if err != nil {
		return nil, err
	}
	var errno syscall.Errno
	err = c.Control(func(fd uintptr) {
		t := unix.Termios{
			Iflag: unix.IGNPAR,
			Cflag: unix.CREAD | unix.CLOCAL | unix.CS8,
		}
		t.Cc[unix.VMIN] = 1
		t.Cc[unix.VTIME] = 0
		if _, _, e := unix.Syscall6(unix.SYS_IOCTL, fd, uintptr(unix.TCSETS), uintptr(unsafe.Pointer(&t)), 0, 0, 0); e != 0 {
			errno = e
		}
	})
	if err != nil {
		return nil, err
	}
	if errno != 0 {
		return nil, errno
	}
	return s, nil
}

// ReadFirmwareFile loads the raw, still-scrambled firmware image for idx
// from profile's firmware directory.
func ReadFirmwareFile(profile sigmacfg.Profile, idx int) ([]byte, error) {
	name, ok := profile.FirmwareFiles[idx]
	if !ok {
		return nil, fmt.Errorf("hostusb: no firmware file configured for index %d", idx)
	}
	return os.ReadFile(filepath.Join(profile.FirmwareDir, name))
}
