// Package trigger turns a symbolic mask/value/edge match specification into
// the transposed lookup table the FPGA's match units consume (spec.md §4.4).
package trigger

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/jbrzusto/sigma/sigmaerr"
)

// MatchKind is the per-channel match condition a trigger stage can request.
type MatchKind int

// Match kinds. MatchNone marks a disabled channel, which is ignored.
const (
	MatchNone MatchKind = iota
	MatchHigh
	MatchLow
	MatchRising
	MatchFalling
)

// ChannelMatch requests a match condition on one channel.
type ChannelMatch struct {
	Channel int
	Kind    MatchKind
}

// Stage is one stage of a symbolic trigger spec. Only stage 0 is honored
// (spec.md §4.4).
type Stage struct {
	Matches []ChannelMatch
}

// Spec is the caller-supplied symbolic trigger: an ordered list of stages.
type Spec struct {
	Stages []Stage
}

// highRateThresholdHz is the samplerate at and above which the device
// restricts triggers to at most one edge match and no level matches.
const highRateThresholdHz = 100_000_000

// Trigger is the compiled trigger condition: the FPGA evaluates
// (value & simple_mask) == simple_value AND any configured edge.
type Trigger struct {
	SimpleValue uint16
	SimpleMask  uint16
	RisingMask  uint16
	FallingMask uint16
}

// Compile validates and compiles a symbolic spec into a Trigger at the
// given samplerate. At >=100 MHz, only a single Rising or Falling match is
// allowed and no level matches. At <=50 MHz, any number of High/Low matches
// accumulate into SimpleValue/SimpleMask, and at most two edge matches
// (rising+falling combined) are allowed.
func Compile(spec Spec, samplerateHz uint64) (Trigger, error) {
	var t Trigger
	if len(spec.Stages) == 0 {
		return t, nil
	}
	highRate := samplerateHz >= highRateThresholdHz
	edgeCount := 0
	for _, m := range spec.Stages[0].Matches {
		if m.Kind == MatchNone {
			continue
		}
		bit := uint16(1) << uint(m.Channel)
		switch m.Kind {
		case MatchHigh:
			if highRate {
				return Trigger{}, sigmaerr.ErrUnsupportedTrigger
			}
			t.SimpleMask |= bit
			t.SimpleValue |= bit
		case MatchLow:
			if highRate {
				return Trigger{}, sigmaerr.ErrUnsupportedTrigger
			}
			t.SimpleMask |= bit
		case MatchRising:
			t.RisingMask |= bit
			edgeCount++
		case MatchFalling:
			t.FallingMask |= bit
			edgeCount++
		}
	}
	if highRate {
		if edgeCount > 1 || t.SimpleMask != 0 {
			return Trigger{}, sigmaerr.ErrUnsupportedTrigger
		}
	} else if edgeCount > 2 {
		return Trigger{}, sigmaerr.ErrUnsupportedTrigger
	}
	// Invariant: simple_value & !simple_mask == 0 — never set a value bit
	// outside the mask.
	t.SimpleValue &= t.SimpleMask
	return t, nil
}

// Params is the opaque 16-bit register block programmed alongside the LUT
// entries.
type Params struct {
	SelRes uint16 // selects "event" trigger type; 3 for this compiler
}

// Lut is the compiled, transposed lookup table programmed into the FPGA's
// 16-entry match units (spec.md §3 TriggerLut).
type Lut struct {
	M2D    [4]uint16
	M3     uint16
	M3S    uint16
	M4     uint16
	M0D    [4]uint16
	M1D    [4]uint16
	Params Params
}

// eventTypeConstant is the fixed m4 value for event (as opposed to
// external/counter) triggering.
const eventTypeConstant uint16 = 0xA000

// buildLutEntry fills out[i], i in 0..4, one per 4-bit channel quad: bit j
// of out[i] is set iff, for every masked channel in that quad, the pattern
// j agrees with the channel's expected value bit.
func buildLutEntry(value, mask uint16, out *[4]uint16) {
	for i := 0; i < 4; i++ {
		entry := uint16(0xFFFF)
		for j := 0; j < 16; j++ {
			agree := true
			for k := 0; k < 4; k++ {
				ch := i*4 + k
				chMask := uint16(1) << uint(ch)
				if mask&chMask == 0 {
					continue
				}
				patBit := (j >> uint(k)) & 1
				expBit := 0
				if value&chMask != 0 {
					expBit = 1
				}
				if patBit != expBit {
					agree = false
					break
				}
			}
			if !agree {
				entry &^= 1 << uint(j)
			}
		}
		out[i] = entry
	}
}

// edgeOp is the edge operator add_trigger_function composes into a 16-entry
// combining mask.
type edgeOp int

const (
	opRise edgeOp = iota
	opFall
	opLevel
	opRiseFall
)

// truthTable returns the 2x2 table x[prev][curr] for op.
func truthTable(op edgeOp) (x [2][2]bool) {
	switch op {
	case opRise:
		x[0][1] = true
	case opFall:
		x[1][0] = true
	case opLevel:
		x[0][1] = true
		x[1][1] = true
	case opRiseFall:
		x[0][1] = true
		x[1][0] = true
	}
	return x
}

// combineFunc is how add_trigger_function folds the edge truth table into
// the existing mask bits.
type combineFunc int

const (
	funcAND combineFunc = iota
	funcOR
	funcXOR
	funcNAND
	funcNOR
	funcNXOR
)

// addTriggerFunction composes the edge operator op for the channel at the
// given LUT slot (index 0 or 1) into mask, using fn to combine with the
// mask's existing bits. If neg, the truth table is transposed diagonally
// before use.
func addTriggerFunction(op edgeOp, fn combineFunc, index int, neg bool, mask *uint16) {
	x := truthTable(op)
	if neg {
		x[0][1], x[1][0] = x[1][0], x[0][1]
	}
	for i := 0; i < 16; i++ {
		a := (i >> uint(2*index)) & 1
		b := (i >> uint(2*index+1)) & 1
		xv := x[b][a]
		maskBit := (*mask>>uint(i))&1 == 1
		var combined bool
		switch fn {
		case funcAND, funcNAND:
			combined = maskBit && xv
		case funcOR, funcNOR:
			combined = maskBit || xv
		case funcXOR, funcNXOR:
			combined = maskBit != xv
		}
		switch fn {
		case funcNAND, funcNOR, funcNXOR:
			combined = !combined
		}
		if combined {
			*mask |= 1 << uint(i)
		} else {
			*mask &^= 1 << uint(i)
		}
	}
}

// CompileLut derives a Lut from a compiled Trigger, per spec.md §4.4:
//
//  1. m4 is the fixed event-type constant.
//  2. m2d encodes the simple value/mask match.
//  3. Up to two edge channels are collected and compiled into m0d/m1d.
//  4. m3 composes the configured edges with FUNC_OR, or passes everything
//     through (0xFFFF) if there are none.
//  5. params.SelRes selects event triggering.
func CompileLut(t Trigger) Lut {
	var lut Lut
	lut.M4 = eventTypeConstant
	buildLutEntry(t.SimpleValue, t.SimpleMask, &lut.M2D)

	var masks [2]uint16
	var ops [2]edgeOp
	nEdges := 0
	for ch := 0; ch < 16 && nEdges < 2; ch++ {
		bit := uint16(1) << uint(ch)
		switch {
		case t.RisingMask&bit != 0:
			masks[nEdges], ops[nEdges] = bit, opRise
			nEdges++
		case t.FallingMask&bit != 0:
			masks[nEdges], ops[nEdges] = bit, opFall
			nEdges++
		}
	}
	buildLutEntry(masks[0], masks[0], &lut.M0D)
	buildLutEntry(masks[1], masks[1], &lut.M1D)

	if nEdges == 0 {
		lut.M3 = 0xFFFF
	} else {
		lut.M3 = 0
		for slot := 0; slot < nEdges; slot++ {
			addTriggerFunction(ops[slot], funcOR, slot, false, &lut.M3)
		}
	}
	lut.M3S = lut.M3
	lut.Params.SelRes = 3
	return lut
}

// lutFieldCount is the number of 16-bit words Encode packs: 4 m2d + m3 +
// m3s + m4 + 4 m0d + 4 m1d + params.
const lutFieldCount = 4 + 1 + 1 + 1 + 4 + 4 + 1

// Encode serializes the LUT as a flat sequence of little-endian 16-bit
// words, in the field order declared on Lut, for transfer as a single
// write_register data block.
func (l Lut) Encode() []byte {
	words := make([]uint16, 0, lutFieldCount)
	words = append(words, l.M2D[:]...)
	words = append(words, l.M3, l.M3S, l.M4)
	words = append(words, l.M0D[:]...)
	words = append(words, l.M1D[:]...)
	words = append(words, l.Params.SelRes)

	buf := make([]byte, 2*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint16(buf[2*i:], w)
	}
	return buf
}

// String dumps the LUT's fields as a hex register table, one per line, for
// bench debugging without a connected device.
func (l Lut) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %04X %04X %04X %04X\n", "m2d", l.M2D[0], l.M2D[1], l.M2D[2], l.M2D[3])
	fmt.Fprintf(&b, "%-8s %04X\n", "m3", l.M3)
	fmt.Fprintf(&b, "%-8s %04X\n", "m3s", l.M3S)
	fmt.Fprintf(&b, "%-8s %04X\n", "m4", l.M4)
	fmt.Fprintf(&b, "%-8s %04X %04X %04X %04X\n", "m0d", l.M0D[0], l.M0D[1], l.M0D[2], l.M0D[3])
	fmt.Fprintf(&b, "%-8s %04X %04X %04X %04X\n", "m1d", l.M1D[0], l.M1D[1], l.M1D[2], l.M1D[3])
	fmt.Fprintf(&b, "%-8s %04X\n", "sel_res", l.Params.SelRes)
	return b.String()
}
