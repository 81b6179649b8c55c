package main

import (
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/jbrzusto/sigma/dram"
)

// packetRecord is one top-level CBOR value per Sink.Emit call: the packet
// kind, the logical sample width, and the raw payload (nil for
// TriggerMark/EndOfFeed).
type packetRecord struct {
	Kind     int    `cbor:"kind"`
	UnitSize int    `cbor:"unit_size"`
	Data     []byte `cbor:"data,omitempty"`
}

// cborSink streams decoded packets to w as a sequence of CBOR-encoded
// packetRecord values, one per Emit call.
type cborSink struct {
	enc *cbor.Encoder
}

func newCBORSink(w io.Writer) (*cborSink, error) {
	return &cborSink{enc: cbor.NewEncoder(w)}, nil
}

func (s *cborSink) Emit(kind dram.PacketKind, unitSize int, data []byte) error {
	return s.enc.Encode(packetRecord{Kind: int(kind), UnitSize: unitSize, Data: data})
}

var _ dram.Sink = (*cborSink)(nil)
