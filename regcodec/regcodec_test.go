package regcodec

import (
	"bytes"
	"testing"

	"github.com/jbrzusto/sigma/bytelink"
	"periph.io/x/conn/v3/physic"
)

// fakeLink is an in-memory bytelink.Link for protocol tests: Write appends
// to an outbound log, Read drains a preloaded inbound queue.
type fakeLink struct {
	out bytes.Buffer
	in  bytes.Buffer
}

func (f *fakeLink) Write(p []byte) (int, error)                    { return f.out.Write(p) }
func (f *fakeLink) Read(buf []byte) (int, error)                   { return f.in.Read(buf) }
func (f *fakeLink) Purge() error                                   { f.in.Reset(); return nil }
func (f *fakeLink) SetBitbangMode(mask bytelink.BitMask) error     { return nil }
func (f *fakeLink) SetBaud(rate physic.Frequency) error            { return nil }
func (f *fakeLink) ResetMode() error                               { return nil }

var _ bytelink.Link = (*fakeLink)(nil)

func TestWriteRegisterFrameLength(t *testing.T) {
	for _, n := range []int{0, 1, 4, 10, 39} {
		link := &fakeLink{}
		c := &Codec{Link: link}
		data := make([]byte, n)
		if err := c.WriteRegister(RegWriteMode, data); err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		want := 2*n + 2
		if link.out.Len() != want {
			t.Fatalf("n=%d: got %d encoded bytes, want %d", n, link.out.Len(), want)
		}
	}
}

func TestWriteRegisterBufferTooSmall(t *testing.T) {
	c := &Codec{Link: &fakeLink{}}
	// 2*40+2 = 82 > frameCapBytes(80)
	err := c.WriteRegister(RegWriteMode, make([]byte, 40))
	if err != ErrBufferTooSmall {
		t.Fatalf("got %v, want ErrBufferTooSmall", err)
	}
}

func TestReadPositionCorrection(t *testing.T) {
	link := &fakeLink{}
	link.in.Write([]byte{0x00, 0x02, 0x00, 0xFF, 0x01, 0x00})
	c := &Codec{Link: link}
	stopPos, triggerPos, err := c.ReadPosition()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if triggerPos != 0x1BF {
		t.Fatalf("triggerPos = 0x%X, want 0x1BF", triggerPos)
	}
	if stopPos != 0x1FE {
		t.Fatalf("stopPos = 0x%X, want 0x1FE", stopPos)
	}
}

func TestReadPositionNeverLandsOnMetadataBoundary(t *testing.T) {
	// Invariant 2: neither returned position has p & 0x1FF == 0x1FF.
	for raw := uint32(0); raw < 0x1000; raw++ {
		p := correctEventPosition(raw)
		if p&0x1FF == 0x1FF {
			t.Fatalf("raw=0x%X corrected to 0x%X, which lands on 0x1FF boundary", raw, p)
		}
	}
}

func TestReadDramRowCount(t *testing.T) {
	link := &fakeLink{}
	rows := 3
	link.in.Write(make([]byte, rows*1024))
	c := &Codec{Link: link}
	out := make([]byte, rows*1024)
	if err := c.ReadDram(5, rows, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReadDramOutputTooSmall(t *testing.T) {
	c := &Codec{Link: &fakeLink{}}
	err := c.ReadDram(0, 2, make([]byte, 1024))
	if err == nil {
		t.Fatalf("expected error for undersized output buffer")
	}
}
