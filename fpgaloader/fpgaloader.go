// Package fpgaloader unscrambles the vendor's obfuscated netlist, bitbangs
// it into the Spartan-3 FPGA over the FTDI bridge's configuration pins, and
// verifies the load before handing control back to the caller.
package fpgaloader

import (
	"fmt"
	"time"

	"github.com/jbrzusto/sigma/bytelink"
	"github.com/jbrzusto/sigma/regcodec"
	"github.com/jbrzusto/sigma/sigmaerr"
)

// scrambleSeed is the PRNG's initial state (spec.md §4.3).
const scrambleSeed uint32 = 0x3F6DF2AB

// scrambleAdd and scrambleMul are the PRNG's additive and multiplicative
// constants.
const (
	scrambleAdd uint32 = 0x00A53753
	scrambleMul uint32 = 0x08034052
	scrambleMod uint32 = 177
)

// scrambleStream produces n bytes of the XOR keystream starting from
// scrambleSeed. Both scramble and unscramble are this stream XORed against
// the firmware bytes, so one function serves both directions.
func scrambleStream(n int) []byte {
	imm := scrambleSeed
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		imm = ((imm+scrambleAdd)%scrambleMod + imm*scrambleMul)
		out[i] = byte(imm)
	}
	return out
}

// Unscramble reverses the vendor's XOR obfuscation of a firmware file's
// bytes. Scramble and Unscramble are the same operation: XOR with a
// deterministic keystream is its own inverse (Invariant 3, spec.md §8).
func Unscramble(raw []byte) []byte {
	stream := scrambleStream(len(raw))
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b ^ stream[i]
	}
	return out
}

// Scramble is the inverse of Unscramble, provided for symmetry and testing;
// the core only ever unscrambles files read from disk.
func Scramble(plain []byte) []byte {
	return Unscramble(plain)
}

// Bitbang pin assignments on the FTDI bridge's GPIO byte. CCLK is inverted
// by the cable's level-shifter: setting the bit here drives the FPGA's
// CCLK pin low, clearing it produces the rising edge the FPGA latches DIN
// on.
const (
	bitDIN  bytelink.BitMask = 1 << 0
	bitCCLK bytelink.BitMask = 1 << 1
	bitD2   bytelink.BitMask = 1 << 2
	bitD3   bytelink.BitMask = 1 << 3
	bitPROG bytelink.BitMask = 1 << 4
	bitINIT bytelink.BitMask = 1 << 5
	bitD7   bytelink.BitMask = 1 << 7
)

// BitbangStream converts unscrambled firmware bytes into the pin-toggle
// stream the bridge plays back in bitbang mode. Each bit, MSB-first,
// becomes two samples: first with CCLK held (driving the FPGA pin low),
// then with CCLK released (the rising edge that latches DIN). Output is
// 16*len(fw) bytes (Invariant 4, spec.md §8).
func BitbangStream(fw []byte) []byte {
	out := make([]byte, 0, 16*len(fw))
	for _, b := range fw {
		for bit := 7; bit >= 0; bit-- {
			var din bytelink.BitMask
			if (b>>uint(bit))&1 == 1 {
				din = bitDIN
			}
			out = append(out, byte(din|bitCCLK))
			out = append(out, byte(din))
		}
	}
	return out
}

// suicideSequence is four copies of an 8-byte pattern (D7 held high,
// toggling D2/D3) that terminates any FPGA program currently running
// before a new one is uploaded.
func suicideSequence() []byte {
	pattern := make([]byte, 8)
	for i := range pattern {
		b := bitD7
		if i%2 == 0 {
			b |= bitD2
		} else {
			b |= bitD3
		}
		pattern[i] = byte(b)
	}
	out := make([]byte, 0, 4*len(pattern))
	for i := 0; i < 4; i++ {
		out = append(out, pattern...)
	}
	return out
}

// progPulsePattern is the 10-byte PROG pulse: CCLK held high at idle, PROG
// pulsed low in the middle of the sequence.
func progPulsePattern() []byte {
	out := make([]byte, 10)
	idle := byte(bitCCLK | bitPROG)
	for i := range out {
		out[i] = idle
	}
	for i := 3; i <= 6; i++ {
		out[i] = byte(bitCCLK) // PROG bit cleared: the pulse
	}
	return out
}

// progPollAttempts and progPollInterval bound the wait for the FPGA to
// assert BIT_INIT after the PROG pulse (spec.md §4.3, §7 Timeout).
const (
	progPollAttempts = 10
	progPollInterval = 10 * time.Millisecond
)

// Loader drives the configuration pipeline end to end.
type Loader struct {
	Link  bytelink.Link
	Codec *regcodec.Codec

	current *int // currently loaded firmware index, nil if none
}

// firmwareNames maps firmware index to its descriptive name (spec.md §4.3).
var firmwareNames = map[int]string{
	0: "50 MHz and below, 16 channels",
	1: "100 MHz fixed, 8 channels",
	2: "200 MHz fixed, 4 channels",
	3: "external sync clock",
	4: "frequency-counter/phasor",
}

// FirmwareName returns the descriptive name for a firmware index, and
// whether idx is a known index at all.
func FirmwareName(idx int) (string, bool) {
	name, ok := firmwareNames[idx]
	return name, ok
}

// maxFirmwareBytes is the size limit the resource loader is held to
// (spec.md §6): 256 KiB.
const maxFirmwareBytes = 256 * 1024

// Current returns the currently loaded firmware index, or (-1, false) if
// none has been loaded yet.
func (l *Loader) Current() (int, bool) {
	if l.current == nil {
		return -1, false
	}
	return *l.current, true
}

// Upload unscrambles raw, drives the PROG/INIT handshake, bitbangs the
// result into the FPGA, and runs the post-upload sanity check. It is a
// no-op if idx is already the loaded firmware.
func (l *Loader) Upload(idx int, raw []byte) error {
	if l.current != nil && *l.current == idx {
		return nil
	}
	if len(raw) > maxFirmwareBytes {
		return fmt.Errorf("%w: firmware is %d bytes, limit is %d", sigmaerr.ErrResourceMissing, len(raw), maxFirmwareBytes)
	}

	// Every pin but INIT is driven from the written bytes.
	if err := l.Link.SetBitbangMode(^bitINIT); err != nil {
		return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
	}
	if err := l.writeAll(suicideSequence()); err != nil {
		return err
	}
	if err := l.writeAll(progPulsePattern()); err != nil {
		return err
	}
	if err := l.Link.Purge(); err != nil {
		return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
	}
	if err := l.waitForInit(); err != nil {
		return err
	}

	unscrambled := Unscramble(raw)
	if err := l.writeAll(BitbangStream(unscrambled)); err != nil {
		return err
	}

	if err := l.Link.ResetMode(); err != nil {
		return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
	}
	if err := l.Link.Purge(); err != nil {
		return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
	}

	if err := l.sanityCheck(); err != nil {
		return err
	}

	if err := l.Codec.SetRegister(regcodec.RegWriteMode, byte(regcodec.WMRSDRAMInit)); err != nil {
		return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
	}

	current := idx
	l.current = &current
	return nil
}

func (l *Loader) writeAll(p []byte) error {
	n, err := l.Link.Write(p)
	if err != nil {
		return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
	}
	if n != len(p) {
		return fmt.Errorf("%w: short write (%d of %d bytes)", sigmaerr.ErrIoFail, n, len(p))
	}
	return nil
}

func (l *Loader) waitForInit() error {
	buf := make([]byte, 1)
	for attempt := 0; attempt < progPollAttempts; attempt++ {
		n, err := l.Link.Read(buf)
		if err == nil && n > 0 && bytelink.BitMask(buf[0])&bitINIT != 0 {
			return nil
		}
		time.Sleep(progPollInterval)
	}
	return sigmaerr.ErrTimeout
}

func (l *Loader) sanityCheck() error {
	var id [1]byte
	if err := l.Codec.ReadRegister(regcodec.RegReadID, id[:]); err != nil {
		return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
	}
	if id[0] != regcodec.ExpectedID {
		return fmt.Errorf("%w: id register read 0x%02X, want 0x%02X", sigmaerr.ErrFpgaInitFailed, id[0], regcodec.ExpectedID)
	}

	for _, pattern := range []byte{0x55, 0xAA} {
		if err := l.Codec.SetRegister(regcodec.RegScratch, pattern); err != nil {
			return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
		}
		var got [1]byte
		if err := l.Codec.ReadRegister(regcodec.RegScratch, got[:]); err != nil {
			return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
		}
		if got[0] != pattern {
			return fmt.Errorf("%w: scratch register read 0x%02X, wrote 0x%02X", sigmaerr.ErrFpgaInitFailed, got[0], pattern)
		}
	}
	return nil
}
