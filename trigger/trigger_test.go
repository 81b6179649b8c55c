package trigger

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/jbrzusto/sigma/sigmaerr"
)

func TestCompileLutDefaultAllZero(t *testing.T) {
	// Invariant 5: for all-zero masks, m3 == 0xFFFF and m4 == 0xA000.
	lut := CompileLut(Trigger{})
	if lut.M3 != 0xFFFF {
		t.Fatalf("m3 = 0x%04X, want 0xFFFF", lut.M3)
	}
	if lut.M4 != 0xA000 {
		t.Fatalf("m4 = 0x%04X, want 0xA000", lut.M4)
	}
}

func TestScenarioS3ValueMaskOnly(t *testing.T) {
	tr := Trigger{SimpleValue: 0x0005, SimpleMask: 0x000F}
	lut := CompileLut(tr)
	if lut.M2D[0] != 0x0020 {
		t.Fatalf("m2d[0] = 0x%04X, want 0x0020", lut.M2D[0])
	}
	for i := 1; i < 4; i++ {
		if lut.M2D[i] != 0xFFFF {
			t.Fatalf("m2d[%d] = 0x%04X, want 0xFFFF", i, lut.M2D[i])
		}
	}
	if lut.M3 != 0xFFFF {
		t.Fatalf("m3 = 0x%04X, want 0xFFFF", lut.M3)
	}
	if lut.M4 != 0xA000 {
		t.Fatalf("m4 = 0x%04X, want 0xA000", lut.M4)
	}
}

func TestScenarioS4HighRateRejection(t *testing.T) {
	twoRising := Spec{Stages: []Stage{{Matches: []ChannelMatch{
		{Channel: 0, Kind: MatchRising},
		{Channel: 1, Kind: MatchRising},
	}}}}
	if _, err := Compile(twoRising, 200_000_000); !errors.Is(err, sigmaerr.ErrUnsupportedTrigger) {
		t.Fatalf("two rising matches at 200MHz: got %v, want ErrUnsupportedTrigger", err)
	}

	oneHigh := Spec{Stages: []Stage{{Matches: []ChannelMatch{
		{Channel: 0, Kind: MatchHigh},
	}}}}
	if _, err := Compile(oneHigh, 200_000_000); !errors.Is(err, sigmaerr.ErrUnsupportedTrigger) {
		t.Fatalf("one High match at 200MHz: got %v, want ErrUnsupportedTrigger", err)
	}
}

func TestCompileHighRateAllowsSingleEdge(t *testing.T) {
	oneRising := Spec{Stages: []Stage{{Matches: []ChannelMatch{
		{Channel: 3, Kind: MatchRising},
	}}}}
	tr, err := Compile(oneRising, 100_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.RisingMask != 1<<3 {
		t.Fatalf("RisingMask = 0x%04X, want 0x%04X", tr.RisingMask, uint16(1<<3))
	}
	if tr.SimpleMask != 0 {
		t.Fatalf("SimpleMask = 0x%04X, want 0", tr.SimpleMask)
	}
}

func TestCompileLowRateAllowsTwoEdges(t *testing.T) {
	spec := Spec{Stages: []Stage{{Matches: []ChannelMatch{
		{Channel: 0, Kind: MatchRising},
		{Channel: 1, Kind: MatchFalling},
		{Channel: 2, Kind: MatchHigh},
	}}}}
	tr, err := Compile(spec, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.RisingMask != 1<<0 || tr.FallingMask != 1<<1 {
		t.Fatalf("unexpected edge masks: rising=0x%04X falling=0x%04X", tr.RisingMask, tr.FallingMask)
	}
	if tr.SimpleMask&(1<<2) == 0 || tr.SimpleValue&(1<<2) == 0 {
		t.Fatalf("High match on channel 2 not reflected in simple value/mask")
	}
}

func TestCompileLowRateRejectsThreeEdges(t *testing.T) {
	spec := Spec{Stages: []Stage{{Matches: []ChannelMatch{
		{Channel: 0, Kind: MatchRising},
		{Channel: 1, Kind: MatchFalling},
		{Channel: 2, Kind: MatchRising},
	}}}}
	if _, err := Compile(spec, 1_000_000); !errors.Is(err, sigmaerr.ErrUnsupportedTrigger) {
		t.Fatalf("three edges at low rate: got %v, want ErrUnsupportedTrigger", err)
	}
}

func TestSimpleValueNeverOutsideMask(t *testing.T) {
	tr, err := Compile(Spec{Stages: []Stage{{Matches: []ChannelMatch{
		{Channel: 5, Kind: MatchHigh},
	}}}}, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.SimpleValue&^tr.SimpleMask != 0 {
		t.Fatalf("simple_value has bits outside simple_mask: value=0x%04X mask=0x%04X", tr.SimpleValue, tr.SimpleMask)
	}
}

func TestLutEncodeFieldOrderAndLength(t *testing.T) {
	lut := CompileLut(Trigger{SimpleValue: 0x0005, SimpleMask: 0x000F})
	buf := lut.Encode()
	if len(buf) != 2*lutFieldCount {
		t.Fatalf("encoded length = %d, want %d", len(buf), 2*lutFieldCount)
	}
	if got := binary.LittleEndian.Uint16(buf[0:2]); got != lut.M2D[0] {
		t.Fatalf("first word = 0x%04X, want m2d[0] = 0x%04X", got, lut.M2D[0])
	}
	m4Off := 2 * (4 + 2) // m2d(4) + m3 + m3s
	if got := binary.LittleEndian.Uint16(buf[m4Off : m4Off+2]); got != lut.M4 {
		t.Fatalf("m4 word = 0x%04X, want 0x%04X", got, lut.M4)
	}
}

func TestLutStringContainsAllFields(t *testing.T) {
	lut := CompileLut(Trigger{SimpleValue: 0x0005, SimpleMask: 0x000F})
	s := lut.String()
	for _, field := range []string{"m2d", "m3", "m3s", "m4", "m0d", "m1d", "sel_res"} {
		if !strings.Contains(s, field) {
			t.Fatalf("String() missing field %q:\n%s", field, s)
		}
	}
	if !strings.Contains(s, "A000") {
		t.Fatalf("String() missing m4 value A000:\n%s", s)
	}
}
