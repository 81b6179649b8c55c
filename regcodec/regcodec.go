// Package regcodec implements the SIGMA/SIGMA2 register protocol: a
// nibble-framed command language carried over a bytelink.Link.
//
// Every outbound byte carries a 4-bit opcode in its high nibble and 4 bits
// of payload (an address or data nibble) in its low nibble. Register
// addresses and data bytes are therefore loaded two nibbles at a time, low
// nibble first.
package regcodec

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/jbrzusto/sigma/bytelink"
	"github.com/jbrzusto/sigma/sigmaerr"
)

// Opcodes, packed into the high nibble of each outbound byte.
const (
	opAddrLow       byte = 0x0 << 4
	opAddrHigh      byte = 0x1 << 4
	opDataLow       byte = 0x2 << 4
	opDataHighWrite byte = 0x3 << 4
	opReadAddr      byte = 0x4 << 4

	// addrInc, ORed into opReadAddr's low nibble, requests post-increment
	// of the addressed register after the read.
	addrInc byte = 0x08
)

// frameCapBytes is the largest encoded write_register frame the codec will
// build: 2*len(data)+2 <= frameCapBytes. Exceeding it is a caller
// programming error, not an I/O failure.
const frameCapBytes = 80

// Register is a device register address. Addresses are loaded into the
// FPGA's address latch one nibble at a time via opAddrLow/opAddrHigh.
type Register uint8

// Register addresses. These are device constants; their numeric values are
// not part of the protocol's externally observable behavior (spec.md §6
// treats them as opaque device constants), only their roles are.
const (
	RegReadTriggerPosLow Register = 0x01 // base of the 6-register stop/trigger position block
	RegWriteMode         Register = 0x02
	RegReadMode          Register = 0x03
	RegWriteMemRow       Register = 0x04
	RegReadID            Register = 0x05
	RegScratch           Register = 0x06
	RegSelectBuffer      Register = 0x07
	RegTriggerLut        Register = 0x08
)

// Write-mode register bits (WRITE_MODE).
const (
	WMRForceStop     uint32 = 1 << 0
	WMRSDRAMWriteEn  uint32 = 1 << 1
	WMRSDRAMReadEn   uint32 = 1 << 2
	WMRSDRAMInit     uint32 = 1 << 3
)

// Read-mode register bits (READ_MODE).
const (
	RMRPostTriggered uint32 = 1 << 0
	RMRTriggered     uint32 = 1 << 1
	RMRRound         uint32 = 1 << 2
)

// ExpectedID is the value the device reports from RegReadID after a
// successful FPGA load.
const ExpectedID byte = 0xA6

// ErrBufferTooSmall is returned when an encoded command frame would exceed
// the codec's internal 80-byte scratch frame. It signals a programming
// error (too much data in one write_register call), never an I/O failure.
var ErrBufferTooSmall = sigmaerr.ErrBufferTooSmall

// Codec encodes/decodes register commands over a bytelink.Link.
type Codec struct {
	Link bytelink.Link
}

func lowNibble(b byte) byte  { return b & 0x0F }
func highNibble(b byte) byte { return (b >> 4) & 0x0F }

// addrPreamble appends the two address-load bytes for reg to dst[off:] and
// returns the new offset.
func addrPreamble(dst []byte, off int, reg Register) int {
	dst[off] = opAddrLow | lowNibble(byte(reg))
	dst[off+1] = opAddrHigh | highNibble(byte(reg))
	return off + 2
}

// WriteRegister writes one address preamble followed by one (low, high)
// nibble pair per byte of data. The encoded frame is exactly 2*len(data)+2
// bytes (Invariant 1, spec.md §8).
func (c *Codec) WriteRegister(reg Register, data []byte) error {
	n := 2*len(data) + 2
	if n > frameCapBytes {
		return ErrBufferTooSmall
	}
	var frame [frameCapBytes]byte
	off := addrPreamble(frame[:], 0, reg)
	for _, d := range data {
		frame[off] = opDataLow | lowNibble(d)
		frame[off+1] = opDataHighWrite | highNibble(d)
		off += 2
	}
	_, err := c.Link.Write(frame[:off])
	return err
}

// SetRegister is a convenience wrapper over WriteRegister for a single data
// byte.
func (c *Codec) SetRegister(reg Register, value byte) error {
	return c.WriteRegister(reg, []byte{value})
}

// ReadRegister emits one ADDR_LOW/ADDR_HIGH/READ_ADDR triple, then reads
// len(buf) bytes from the link. Only one READ_ADDR command is sent, so the
// device answers with a single byte; multi-byte reads need one
// READ_ADDR|ADDR_INC command per byte, as ReadPosition issues.
func (c *Codec) ReadRegister(reg Register, buf []byte) error {
	var frame [3]byte
	off := addrPreamble(frame[:], 0, reg)
	frame[off] = opReadAddr
	if _, err := c.Link.Write(frame[:off+1]); err != nil {
		return err
	}
	return readFull(c.Link, buf)
}

// readFull reads exactly len(buf) bytes from l, treating a zero-length read
// with no error as a protocol violation (the link should block until data
// is available or report an error).
func readFull(l bytelink.Link, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := l.Read(buf[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrNoProgress
		}
		total += n
	}
	return nil
}

// correctEventPosition applies the end-of-event correction described in
// spec.md §4.2: positions point past the event, and the last 64 entries of
// each 512-u16 row are metadata, so decrementing into that region must skip
// back over it.
func correctEventPosition(p uint32) uint32 {
	p--
	if p&0x1FF == 0x1FF {
		p -= 64
	}
	return p
}

// ReadPosition issues ADDR_LOW|READ_TRIGGER_POS_LOW then six
// READ_ADDR|ADDR_INC commands, reads the resulting 6 bytes, assembles two
// little-endian 24-bit counters (trigger position first, then stop
// position), and applies the end-of-event correction to each.
func (c *Codec) ReadPosition() (stopPos, triggerPos uint32, err error) {
	var pre [2]byte
	addrPreamble(pre[:], 0, RegReadTriggerPosLow)
	if _, err = c.Link.Write(pre[:]); err != nil {
		return
	}
	var cmds [6]byte
	for i := range cmds {
		cmds[i] = opReadAddr | addrInc
	}
	if _, err = c.Link.Write(cmds[:]); err != nil {
		return
	}
	var raw [6]byte
	if err = readFull(c.Link, raw[:]); err != nil {
		return
	}
	triggerRaw := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16
	stopRaw := uint32(raw[3]) | uint32(raw[4])<<8 | uint32(raw[5])<<16
	triggerPos = correctEventPosition(triggerRaw)
	stopPos = correctEventPosition(stopRaw)
	return
}

// ReadDram programs WRITE_MEMROW with the 16-bit start row (high byte
// first; each byte is still sent low nibble first), then
// pulls rowCount rows of 1024 bytes each, toggling a ping-pong buffer
// selector between rows so the FPGA fetches row n+1 from DRAM while the
// link drains row n. out must have room for rowCount*1024 bytes.
func (c *Codec) ReadDram(startRow uint16, rowCount int, out []byte) error {
	need := rowCount * 1024
	if len(out) < need {
		return errors.New("regcodec: output buffer too small for requested row count")
	}
	var rowBytes [2]byte
	binary.BigEndian.PutUint16(rowBytes[:], startRow)
	if err := c.WriteRegister(RegWriteMemRow, rowBytes[:]); err != nil {
		return err
	}
	sel := false
	for i := 0; i < rowCount; i++ {
		selByte := byte(0)
		if !sel {
			selByte = 1
		}
		if err := c.SetRegister(RegSelectBuffer, selByte); err != nil {
			return err
		}
		if err := c.waitDramAck(); err != nil {
			return err
		}
		if err := readFull(c.Link, out[i*1024:(i+1)*1024]); err != nil {
			return err
		}
		sel = !sel
	}
	return nil
}

// opDramWaitAck gates each DRAM row transfer: the FPGA must assert that the
// row is ready before the host starts draining it.
const opDramWaitAck byte = 0xF0

func (c *Codec) waitDramAck() error {
	_, err := c.Link.Write([]byte{opDramWaitAck})
	return err
}
