// Package dram decodes the SIGMA/SIGMA2's circular DRAM sample memory: a
// ring of fixed-size rows, each holding timestamped clusters of samples,
// into a stream of logical samples for the sample sink (spec.md §4.6).
package dram

import "encoding/binary"

// Row/cluster geometry (spec.md §3).
const (
	EventsPerCluster = 7
	RowLengthBytes   = 1024
	EventsPerRow     = 64 * EventsPerCluster // 448
	clusterBytes     = 16
)

// RowCount is the number of rows in the device's DRAM ring, a power of two,
// so RowMask wraps a row index. AcqController derives the same kind of
// mask from its own RowCount setting.
const RowCount = 8192
const RowMask = RowCount - 1

// PacketKind distinguishes what a Sink.Emit call carries.
type PacketKind int

const (
	Logic PacketKind = iota
	TriggerMark
	EndOfFeed
)

// Sink is the external collaborator that consumes decoded samples
// (spec.md §6). unitSize is 2 for Logic packets; TriggerMark and EndOfFeed
// carry no payload.
type Sink interface {
	Emit(kind PacketKind, unitSize int, data []byte) error
}

// noTrigger is the sentinel passed to DecodeRow when the row being decoded
// does not contain the capture's trigger point.
const noTrigger = -1

// NoTrigger is the sentinel trigger-event index meaning "this row has no
// trigger point" (spec.md §4.5 step 6: "otherwise sentinel ~0").
const NoTrigger = noTrigger

// Decoder walks DRAM rows and clusters, expands RLE gaps, deinterleaves
// 100/200 MHz sample formats, splices the post-hoc trigger point, and
// emits samples to a Sink. One Decoder is used per download; call Reset at
// the start of each (spec.md §3 Lifecycle).
type Decoder struct {
	// SamplesPerEvent is 16/Channels: 1 at <=50 MHz, 2 at 100 MHz, 4 at
	// 200 MHz.
	SamplesPerEvent int

	// Trigger match condition, compiled by the trigger package.
	SimpleValue uint16
	SimpleMask  uint16
	RisingMask  uint16
	FallingMask uint16
	UseTriggers bool

	Sink Sink

	LastTimestamp uint16
	LastSample    uint16

	// LimitSamples is the sink-gating ceiling; 0 means unlimited.
	LimitSamples uint64
	SentSamples  uint64

	// ShortReads counts DRAM rows whose read failed mid-download and
	// were skipped. Spec.md §7/§9 documents the historical behavior of
	// continuing rather than aborting. The Decoder never sets it itself:
	// the code driving the DRAM reads adds to it. acq's download keeps
	// its Decoder local and does not pass this count on to its caller.
	ShortReads int

	seeded bool
}

// Reset clears per-download state. LastTimestamp is not preset here: it is
// seeded from the first row's cluster-0 timestamp on the first call to
// DecodeRow (spec.md §4.5 step 6).
func (d *Decoder) Reset() {
	d.LastSample = 0
	d.SentSamples = 0
	d.ShortReads = 0
	d.seeded = false
}

// DecodeRow decodes one DRAM row. eventsInRow is 448 for all but the final
// row of a download, which may be partial. triggerEvent is the event index
// (0..447) within this row at which the capture's trigger point falls, or
// NoTrigger if the trigger is not in this row.
func (d *Decoder) DecodeRow(row []byte, eventsInRow int, triggerEvent int) error {
	if !d.seeded {
		d.LastTimestamp = binary.LittleEndian.Uint16(row[0:2])
		d.seeded = true
	}

	clustersInRow := (eventsInRow + EventsPerCluster - 1) / EventsPerCluster

	triggerCluster := -1
	if triggerEvent >= 0 && triggerEvent < EventsPerRow {
		te := triggerEvent
		if d.SamplesPerEvent == 1 {
			// The trigger position reports the event *after* the match;
			// back off within the cluster at <=50 MHz (spec.md §9).
			back := te
			if back > 6 {
				back = 6
			}
			te -= back
		}
		triggerCluster = te / EventsPerCluster
	}

	for i := 0; i < clustersInRow; i++ {
		off := i * clusterBytes
		eventsInCluster := EventsPerCluster
		if i == clustersInRow-1 {
			if rem := eventsInRow % EventsPerCluster; rem != 0 {
				eventsInCluster = rem
			}
		}
		if err := d.decodeCluster(row[off:off+clusterBytes], eventsInCluster, i == triggerCluster); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) decodeCluster(cluster []byte, eventsInCluster int, triggered bool) error {
	ts := binary.LittleEndian.Uint16(cluster[0:2])
	tsdiff := ts - d.LastTimestamp // uint16 wraparound subtraction

	if err := d.emitRepeated(d.LastSample, uint32(tsdiff)); err != nil {
		return err
	}
	d.LastTimestamp = ts + EventsPerCluster

	items := make([]uint16, eventsInCluster)
	for e := 0; e < eventsInCluster; e++ {
		lo := cluster[2+2*e]
		hi := cluster[2+2*e+1]
		// Sample16{lo, hi} is byte-swapped relative to normal
		// little-endian assembly (spec.md §3, §4.6 step 2).
		items[e] = uint16(hi) | uint16(lo)<<8
	}

	expanded := make([]uint16, 0, eventsInCluster*d.SamplesPerEvent)
	for _, item := range items {
		expanded = append(expanded, deinterleave(item, d.SamplesPerEvent)...)
	}

	if triggered {
		offsetEvents := d.triggerOffsetEvents(items)
		splitIdx := offsetEvents * d.SamplesPerEvent
		if splitIdx > len(expanded) {
			splitIdx = len(expanded)
		}
		if splitIdx > 0 {
			if err := d.emitSlice(expanded[:splitIdx]); err != nil {
				return err
			}
		}
		if d.UseTriggers {
			if err := d.Sink.Emit(TriggerMark, 2, nil); err != nil {
				return err
			}
		}
		expanded = expanded[splitIdx:]
	}

	if err := d.emitSlice(expanded); err != nil {
		return err
	}
	switch {
	case len(expanded) > 0:
		d.LastSample = expanded[len(expanded)-1]
	case len(items) > 0:
		d.LastSample = items[len(items)-1]
	}
	return nil
}

// triggerOffsetEvents scans up to 8 successive events (this cluster's raw,
// pre-deinterleave 16-bit items, with d.LastSample standing in for the
// event immediately before the cluster) for the first one matching the
// configured trigger condition. It returns the matching index mod 8, or 0
// if none matched (spec.md §4.6 step 3a).
func (d *Decoder) triggerOffsetEvents(items []uint16) int {
	prev := d.LastSample
	for idx := 0; idx < len(items) && idx < 8; idx++ {
		cur := items[idx]
		if d.matches(prev, cur) {
			return idx % 8
		}
		prev = cur
	}
	return 0
}

func (d *Decoder) matches(prev, cur uint16) bool {
	if cur&d.SimpleMask != d.SimpleValue {
		return false
	}
	if d.RisingMask != 0 && !(prev&d.RisingMask == 0 && cur&d.RisingMask == d.RisingMask) {
		return false
	}
	if d.FallingMask != 0 && !(prev&d.FallingMask == d.FallingMask && cur&d.FallingMask == 0) {
		return false
	}
	return true
}

// deinterleave200 extracts the four 4-bit sub-samples packed into a 200 MHz
// event: bit position g*4+sub holds bit g of sub-sample sub.
func deinterleave200(item uint16) [4]uint16 {
	var out [4]uint16
	for sub := 0; sub < 4; sub++ {
		var v uint16
		for g := 0; g < 4; g++ {
			bit := (item >> uint(g*4+sub)) & 1
			v |= bit << uint(g)
		}
		out[sub] = v
	}
	return out
}

// deinterleave100 extracts the two 8-bit sub-samples packed into a 100 MHz
// event: bit position g*2+sub holds bit g of sub-sample sub.
func deinterleave100(item uint16) [2]uint16 {
	var out [2]uint16
	for sub := 0; sub < 2; sub++ {
		var v uint16
		for g := 0; g < 8; g++ {
			bit := (item >> uint(g*2+sub)) & 1
			v |= bit << uint(g)
		}
		out[sub] = v
	}
	return out
}

func deinterleave(item uint16, samplesPerEvent int) []uint16 {
	switch samplesPerEvent {
	case 4:
		d := deinterleave200(item)
		return d[:]
	case 2:
		d := deinterleave100(item)
		return d[:]
	default:
		return []uint16{item}
	}
}

// emitChunk bounds how many samples go into one Sink.Emit call during RLE
// gap expansion.
const emitChunk = 1024

// emitRepeated emits tsdiff*SamplesPerEvent copies of value, the RLE gap
// expansion of spec.md §4.6 step 1, in chunks of up to emitChunk samples.
func (d *Decoder) emitRepeated(value uint16, tsdiff uint32) error {
	total := uint64(tsdiff) * uint64(d.SamplesPerEvent)
	if total == 0 {
		return nil
	}
	buf := make([]uint16, emitChunk)
	for remaining := total; remaining > 0; {
		n := remaining
		if n > emitChunk {
			n = emitChunk
		}
		for i := uint64(0); i < n; i++ {
			buf[i] = value
		}
		if err := d.emitSlice(buf[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// emitSlice packs samples into a Logic packet and hands it to the sink,
// truncating or skipping per the LimitSamples gate (spec.md §4.6 "Sink
// gating", Invariant 8).
func (d *Decoder) emitSlice(samples []uint16) error {
	if len(samples) == 0 {
		return nil
	}
	if d.LimitSamples != 0 {
		if d.SentSamples >= d.LimitSamples {
			return nil
		}
		remaining := d.LimitSamples - d.SentSamples
		if uint64(len(samples)) > remaining {
			samples = samples[:remaining]
		}
	}
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], s)
	}
	if err := d.Sink.Emit(Logic, 2, buf); err != nil {
		return err
	}
	d.SentSamples += uint64(len(samples))
	return nil
}
