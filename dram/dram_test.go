package dram

import (
	"encoding/binary"
	"testing"
)

type recordedPacket struct {
	kind PacketKind
	data []byte
}

type recordingSink struct {
	packets []recordedPacket
}

func (s *recordingSink) Emit(kind PacketKind, unitSize int, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.packets = append(s.packets, recordedPacket{kind, cp})
	return nil
}

func (s *recordingSink) logicSamples() []uint16 {
	var out []uint16
	for _, p := range s.packets {
		if p.kind != Logic {
			continue
		}
		for i := 0; i+1 < len(p.data); i += 2 {
			out = append(out, binary.LittleEndian.Uint16(p.data[i:]))
		}
	}
	return out
}

func buildCluster(ts uint16, values []uint16) []byte {
	buf := make([]byte, clusterBytes)
	binary.LittleEndian.PutUint16(buf[0:2], ts)
	for i, v := range values {
		// Sample16{lo, hi} is stored byte-swapped (dram.go decodeCluster).
		buf[2+2*i] = byte(v >> 8)
		buf[2+2*i+1] = byte(v)
	}
	return buf
}

// TestRLEGapFillsWithLastSample covers Invariant 7 (spec.md §8): the gap
// before a cluster is filled with copies of last_sample, and its length is
// exactly the delta between the cluster's timestamp and the end of the
// previous cluster (its timestamp plus EventsPerCluster).
func TestRLEGapFillsWithLastSample(t *testing.T) {
	sink := &recordingSink{}
	d := &Decoder{SamplesPerEvent: 1, Sink: sink}

	var row []byte
	row = append(row, buildCluster(10, []uint16{0x00FF, 0x00FF, 0x00FF, 0x00FF, 0x00FF, 0x00FF, 0x00FF})...)
	row = append(row, buildCluster(25, []uint16{0x00FF, 0x00FF, 0x00FF, 0x00FF, 0x00FF, 0x00FF, 0x00FF})...)

	if err := d.DecodeRow(row, 2*EventsPerCluster, NoTrigger); err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}

	samples := sink.logicSamples()
	// First cluster is seeded (last_timestamp := 10), so its own gap is
	// zero; the second cluster's gap is ts2 - (ts1+EventsPerCluster) =
	// 25 - 17 = 8.
	const gap2 = 8
	wantLen := EventsPerCluster + gap2 + EventsPerCluster
	if len(samples) != wantLen {
		t.Fatalf("emitted %d samples, want %d", len(samples), wantLen)
	}
	for i := 0; i < EventsPerCluster; i++ {
		if samples[i] != 0x00FF {
			t.Fatalf("sample %d (burst 1) = 0x%04X, want 0x00FF", i, samples[i])
		}
	}
	for i := EventsPerCluster; i < EventsPerCluster+gap2; i++ {
		if samples[i] != 0x00FF {
			t.Fatalf("sample %d (gap, last_sample) = 0x%04X, want 0x00FF", i, samples[i])
		}
	}
	for i := EventsPerCluster + gap2; i < wantLen; i++ {
		if samples[i] != 0x00FF {
			t.Fatalf("sample %d (burst 2) = 0x%04X, want 0x00FF", i, samples[i])
		}
	}
}

// TestSinkGatingNeverExceedsLimit covers Invariant 8: sent_samples never
// exceeds a nonzero limit_samples, even mid-cluster.
func TestSinkGatingNeverExceedsLimit(t *testing.T) {
	sink := &recordingSink{}
	const limit = 10
	d := &Decoder{SamplesPerEvent: 1, Sink: sink, LimitSamples: limit}

	row := make([]byte, 0, RowLengthBytes)
	for c := 0; c < 5; c++ {
		row = append(row, buildCluster(uint16(c*7), []uint16{1, 2, 3, 4, 5, 6, 7})...)
	}
	for len(row) < RowLengthBytes {
		row = append(row, 0)
	}

	if err := d.DecodeRow(row, 5*EventsPerCluster, NoTrigger); err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if d.SentSamples > limit {
		t.Fatalf("SentSamples = %d, exceeds limit %d", d.SentSamples, limit)
	}
	if got := len(sink.logicSamples()); uint64(got) != d.SentSamples {
		t.Fatalf("sink received %d samples, SentSamples reports %d", got, d.SentSamples)
	}
	if d.SentSamples != limit {
		t.Fatalf("SentSamples = %d, want exactly %d (limit reached mid-stream)", d.SentSamples, limit)
	}
}

// TestTriggerSpliceEmitsMarkAtMatch checks that a configured match condition
// splits cluster emission around a TriggerMark at the matching event.
func TestTriggerSpliceEmitsMarkAtMatch(t *testing.T) {
	sink := &recordingSink{}
	d := &Decoder{
		SamplesPerEvent: 1,
		Sink:            sink,
		SimpleMask:      0x0001,
		SimpleValue:     0x0001,
		UseTriggers:     true,
	}

	row := buildCluster(0, []uint16{0, 0, 1, 1, 0, 0, 0})
	for len(row) < RowLengthBytes {
		row = append(row, 0)
	}

	if err := d.DecodeRow(row, EventsPerCluster, 2); err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}

	var sawMark bool
	var markIdx int
	for i, p := range sink.packets {
		if p.kind == TriggerMark {
			sawMark = true
			markIdx = i
		}
	}
	if !sawMark {
		t.Fatalf("no TriggerMark packet emitted")
	}
	samples := sink.logicSamples()
	if len(samples) != EventsPerCluster {
		t.Fatalf("emitted %d samples, want %d", len(samples), EventsPerCluster)
	}
	// The mark must land after the pre-trigger samples and before the
	// post-trigger ones in packet order.
	if markIdx == 0 || markIdx == len(sink.packets)-1 {
		t.Fatalf("TriggerMark at unexpected position %d among %d packets", markIdx, len(sink.packets))
	}
}

// TestPassthroughAt50MHzIdentity checks that at SamplesPerEvent=1 (<=50MHz),
// deinterleaving is the identity.
func TestPassthroughAt50MHzIdentity(t *testing.T) {
	sink := &recordingSink{}
	d := &Decoder{SamplesPerEvent: 1, Sink: sink}
	row := buildCluster(0, []uint16{0x1234, 0xABCD, 0x0001})
	for len(row) < RowLengthBytes {
		row = append(row, 0)
	}
	if err := d.DecodeRow(row, 3, NoTrigger); err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	got := sink.logicSamples()
	want := []uint16{0x1234, 0xABCD, 0x0001}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = 0x%04X, want 0x%04X", i, got[i], want[i])
		}
	}
}

// TestDeinterleave200RecoversSubsamples checks that the 200 MHz deinterleave
// is a bijection on the 4-bit sub-sample lanes: setting lane k to a known
// 4-bit pattern across all four groups recovers that pattern in out[k].
func TestDeinterleave200RecoversSubsamples(t *testing.T) {
	for k := 0; k < 4; k++ {
		var item uint16
		pattern := uint16(0b1011) // arbitrary nonzero 4-bit pattern
		for g := 0; g < 4; g++ {
			bit := (pattern >> uint(g)) & 1
			item |= bit << uint(g*4+k)
		}
		out := deinterleave200(item)
		if out[k] != pattern {
			t.Fatalf("lane %d: got 0x%X, want 0x%X", k, out[k], pattern)
		}
		for sub := 0; sub < 4; sub++ {
			if sub == k {
				continue
			}
			if out[sub] != 0 {
				t.Fatalf("lane %d leaked into lane %d: 0x%X", k, sub, out[sub])
			}
		}
	}
}
