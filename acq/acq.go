// Package acq drives the acquisition lifecycle: samplerate/channel
// selection, firmware swaps, the wall-clock-deadline capture state
// machine, and the DRAM download procedure (spec.md §3, §4.5).
package acq

import (
	"fmt"
	"time"

	"github.com/jbrzusto/sigma/bytelink"
	"github.com/jbrzusto/sigma/dram"
	"github.com/jbrzusto/sigma/fpgaloader"
	"github.com/jbrzusto/sigma/regcodec"
	"github.com/jbrzusto/sigma/sigmaerr"
	"github.com/jbrzusto/sigma/trigger"
)

// State is the capture state machine's current phase (spec.md §3
// DecoderState).
type State int

const (
	Idle State = iota
	ArmedCapture
	Stopping
	Downloading
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ArmedCapture:
		return "armed"
	case Stopping:
		return "stopping"
	case Downloading:
		return "downloading"
	default:
		return "unknown"
	}
}

// DecoderState holds the capture state machine's phase (spec.md §3). The
// DRAM decoder's last timestamp and last sample live on dram.Decoder.
type DecoderState struct {
	State State
}

// FirmwareSource loads the raw, still-scrambled firmware image for a
// firmware index (spec.md §6 load_firmware). The caller usually backs
// this with an embedded resource table or a filesystem profile
// (see sigmacfg).
type FirmwareSource func(idx int) ([]byte, error)

// canonicalSamplerates are the only samplerates the device accepts
// (spec.md §4.2).
var canonicalSamplerates = []uint64{
	200_000, 250_000, 500_000, 1_000_000, 5_000_000,
	10_000_000, 25_000_000, 50_000_000, 100_000_000, 200_000_000,
}

func isCanonicalSamplerate(hz uint64) bool {
	for _, r := range canonicalSamplerates {
		if r == hz {
			return true
		}
	}
	return false
}

// samplerateFirmware maps a samplerate to its firmware index and channel
// count (spec.md §4.2: <=50MHz uses the 16-channel image, 100MHz the
// 8-channel image, 200MHz the 4-channel image).
func samplerateFirmware(hz uint64) (idx, channels int) {
	switch {
	case hz == 200_000_000:
		return 2, 4
	case hz == 100_000_000:
		return 1, 8
	default:
		return 0, 16
	}
}

// DeviceContext holds everything needed to drive one SIGMA/SIGMA2 unit
// through a full acquisition lifecycle (spec.md §3 DeviceContext).
type DeviceContext struct {
	Link           bytelink.Link
	FirmwareSource FirmwareSource

	SamplerateHz    uint64
	Channels        int
	SamplesPerEvent int

	TriggerSpec     trigger.Spec
	UseTriggers     bool
	CompiledTrigger trigger.Trigger

	LimitSamples uint64
	LimitMsec    uint64

	StartTimeUs uint64
	SentSamples uint64

	Decoder DecoderState

	Sink dram.Sink

	// RowCount is the DRAM ring's row capacity, used to bound the
	// download walk. Defaults to dram.RowCount; tests may shrink it.
	RowCount int

	codec  *regcodec.Codec
	loader *fpgaloader.Loader
}

// New builds a DeviceContext over link, ready for SetSamplerate.
func New(link bytelink.Link, fw FirmwareSource, sink dram.Sink) *DeviceContext {
	codec := &regcodec.Codec{Link: link}
	return &DeviceContext{
		Link:           link,
		FirmwareSource: fw,
		Sink:           sink,
		RowCount:       dram.RowCount,
		codec:          codec,
		loader:         &fpgaloader.Loader{Link: link, Codec: codec},
	}
}

// SetSamplerate validates hz, swaps in the firmware image it requires (if
// not already loaded), and records the resulting channel count and
// samples-per-event ratio (spec.md §4.2).
func (d *DeviceContext) SetSamplerate(hz uint64) error {
	if !isCanonicalSamplerate(hz) {
		return fmt.Errorf("%w: %d Hz", sigmaerr.ErrUnsupportedSamplerate, hz)
	}
	idx, channels := samplerateFirmware(hz)
	if d.FirmwareSource != nil {
		raw, err := d.FirmwareSource(idx)
		if err != nil {
			return fmt.Errorf("%w: %v", sigmaerr.ErrResourceMissing, err)
		}
		if err := d.loader.Upload(idx, raw); err != nil {
			return err
		}
	}
	d.SamplerateHz = hz
	d.Channels = channels
	d.SamplesPerEvent = 16 / channels
	d.Decoder.State = Idle
	d.recomputeLimitMsec()
	return nil
}

// SetLimitSamples sets the sample ceiling for the next capture and
// recomputes the wall-clock deadline derived from it.
func (d *DeviceContext) SetLimitSamples(n uint64) {
	d.LimitSamples = n
	d.recomputeLimitMsec()
}

// recomputeLimitMsec derives the acquisition deadline from the sample
// limit and the current samplerate (spec.md §4.5, Scenario S6):
//
//	limit_msec = limit_samples*1000/samplerate + 2*65536*1000/samplerate
//
// Each term is floored independently, matching the worked example in S6
// (1000/200000 floors to 0; 2*65536*1000/200000 floors to 655).
func (d *DeviceContext) recomputeLimitMsec() {
	if d.SamplerateHz == 0 {
		d.LimitMsec = 0
		return
	}
	term1 := d.LimitSamples * 1000 / d.SamplerateHz
	term2 := 2 * 65536 * 1000 / d.SamplerateHz
	d.LimitMsec = term1 + term2
}

// SetTriggers records the symbolic trigger spec used on the next
// StartAcquisition call. The compiled trigger is rebuilt fresh on every
// start (spec.md §3 Lifecycle).
func (d *DeviceContext) SetTriggers(spec trigger.Spec) {
	d.TriggerSpec = spec
}

// SetUseTriggers enables or disables TriggerMark emission during download.
func (d *DeviceContext) SetUseTriggers(use bool) {
	d.UseTriggers = use
}

// StartAcquisition compiles and uploads the trigger LUT, arms the FPGA's
// SDRAM write path, and transitions the state machine to ArmedCapture
// (spec.md §4.5 steps 1-3).
func (d *DeviceContext) StartAcquisition(nowUs uint64) error {
	compiled, err := trigger.Compile(d.TriggerSpec, d.SamplerateHz)
	if err != nil {
		return err
	}
	d.CompiledTrigger = compiled
	lut := trigger.CompileLut(compiled)
	if err := d.uploadLut(lut); err != nil {
		return err
	}
	if err := d.codec.SetRegister(regcodec.RegWriteMode, byte(regcodec.WMRSDRAMInit|regcodec.WMRSDRAMWriteEn)); err != nil {
		return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
	}

	d.StartTimeUs = nowUs
	d.SentSamples = 0
	d.Decoder = DecoderState{State: ArmedCapture}
	return nil
}

// uploadLut serializes the compiled LUT and writes it as one register frame.
// The exact register address is a core implementation detail not named by
// the device's public acquisition API; RegWriteMemRow's sibling, a
// dedicated trigger-LUT register, is used here analogously to how
// RegWriteMemRow addresses the row-select register in regcodec.
func (d *DeviceContext) uploadLut(lut trigger.Lut) error {
	return d.codec.WriteRegister(regcodec.RegTriggerLut, lut.Encode())
}

// StopAcquisition requests an early stop. It has no effect unless a
// capture is currently armed.
func (d *DeviceContext) StopAcquisition() {
	if d.Decoder.State == ArmedCapture {
		d.Decoder.State = Stopping
	}
}

// Tick advances the capture state machine by one polling step (spec.md §5).
// It returns false on the tick that runs a download (after a stop request or
// at the deadline), and true otherwise, including while Idle.
func (d *DeviceContext) Tick(nowUs uint64) (bool, error) {
	switch d.Decoder.State {
	case Idle:
		return true, nil
	case Stopping:
		if err := d.download(); err != nil {
			return false, err
		}
		return false, nil
	case ArmedCapture:
		elapsedMs := (nowUs - d.StartTimeUs) / 1000
		if elapsedMs >= d.LimitMsec {
			if err := d.download(); err != nil {
				return false, err
			}
			return false, nil
		}
		return true, nil
	default:
		return true, nil
	}
}

// postTriggeredPollAttempts and postTriggeredPollInterval bound the wait
// for READ_MODE to assert RMR_POSTTRIGGERED after WRITE_MODE is forced to
// stop (spec.md §4.5 step 2).
const (
	postTriggeredPollAttempts = 50
	postTriggeredPollInterval = 1 * time.Millisecond
)

// Position accounting (stop_pos/trigger_pos) operates in a 512-u16-word
// per-row address space, distinct from dram.EventsPerRow's 448 actual
// sample events per row: each row carries 64 extra words of metadata
// (spec.md §3, §4.5 step 5).
const (
	rowAddrShift = 9
	rowAddrMask  = 0x1FF
)

// dramBatchRows is the largest number of rows fetched per RegCodec
// read_dram call during download, exploiting the ping-pong double-buffered
// overlap regcodec.ReadDram provides (spec.md §4.5 step 6).
const dramBatchRows = 32

// download runs the DRAM readout procedure (spec.md §4.5 steps 1-7): force
// a stop, wait for POSTTRIGGERED, enable SDRAM reads, read stop/trigger
// positions, walk the ring from the oldest valid row to the stop position
// decoding each in batches, and notify the sink that the feed has ended.
func (d *DeviceContext) download() error {
	d.Decoder.State = Downloading
	defer func() { d.Decoder.State = Idle }()

	if err := d.codec.SetRegister(regcodec.RegWriteMode, byte(regcodec.WMRForceStop|regcodec.WMRSDRAMWriteEn)); err != nil {
		return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
	}
	if err := d.waitPostTriggered(); err != nil {
		return err
	}
	if err := d.codec.SetRegister(regcodec.RegWriteMode, byte(regcodec.WMRSDRAMReadEn)); err != nil {
		return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
	}

	stopPos, triggerPos, err := d.codec.ReadPosition()
	if err != nil {
		return err
	}

	var readMode [1]byte
	if err := d.codec.ReadRegister(regcodec.RegReadMode, readMode[:]); err != nil {
		return fmt.Errorf("%w: %v", sigmaerr.ErrIoFail, err)
	}
	mode := uint32(readMode[0])

	dec := &dram.Decoder{
		SamplesPerEvent: d.SamplesPerEvent,
		SimpleValue:     d.CompiledTrigger.SimpleValue,
		SimpleMask:      d.CompiledTrigger.SimpleMask,
		RisingMask:      d.CompiledTrigger.RisingMask,
		FallingMask:     d.CompiledTrigger.FallingMask,
		UseTriggers:     d.UseTriggers,
		LimitSamples:    d.LimitSamples,
		Sink:            d.Sink,
	}
	dec.Reset()

	stopRow := uint16(stopPos >> rowAddrShift)

	haveTrigger := mode&regcodec.RMRTriggered != 0
	var triggerRow uint16
	var triggerEvent int
	if haveTrigger {
		triggerRow = uint16(triggerPos >> rowAddrShift)
		triggerEvent = int(triggerPos & rowAddrMask)
	}

	rowCount := d.RowCount
	if rowCount <= 0 {
		rowCount = dram.RowCount
	}
	rowMask := uint16(rowCount - 1)

	var oldestRow uint16
	var total int
	if mode&regcodec.RMRRound != 0 {
		oldestRow = (stopRow + 2) & rowMask // skip the row being written concurrently
		total = rowCount - 2
	} else {
		oldestRow = 0
		total = int(stopPos>>rowAddrShift) + 1
	}

	row := oldestRow
	for processed := 0; processed < total; {
		batch := dramBatchRows
		if remaining := total - processed; batch > remaining {
			batch = remaining
		}
		if uint32(row)+uint32(batch) > uint32(rowCount) {
			batch = rowCount - int(row)
		}

		buf := make([]byte, batch*dram.RowLengthBytes)
		if err := d.codec.ReadDram(row, batch, buf); err != nil {
			dec.ShortReads += batch
			row = (row + uint16(batch)) & rowMask
			processed += batch
			continue
		}

		for i := 0; i < batch; i++ {
			r := (row + uint16(i)) & rowMask
			eventsInRow := dram.EventsPerRow
			if r == stopRow {
				eventsInRow = int(stopPos & rowAddrMask)
			}
			trigEvent := dram.NoTrigger
			if haveTrigger && r == triggerRow {
				trigEvent = triggerEvent
			}
			rowBuf := buf[i*dram.RowLengthBytes : (i+1)*dram.RowLengthBytes]
			if err := dec.DecodeRow(rowBuf, eventsInRow, trigEvent); err != nil {
				return err
			}
		}

		row = (row + uint16(batch)) & rowMask
		processed += batch
	}

	d.SentSamples = dec.SentSamples
	if d.Sink != nil {
		if err := d.Sink.Emit(dram.EndOfFeed, 0, nil); err != nil {
			return err
		}
	}
	return nil
}

// waitPostTriggered polls READ_MODE until RMR_POSTTRIGGERED is observed,
// mirroring fpgaloader.Loader.waitForInit's bounded-attempts poll idiom.
func (d *DeviceContext) waitPostTriggered() error {
	var buf [1]byte
	for attempt := 0; attempt < postTriggeredPollAttempts; attempt++ {
		if err := d.codec.ReadRegister(regcodec.RegReadMode, buf[:]); err == nil {
			if uint32(buf[0])&regcodec.RMRPostTriggered != 0 {
				return nil
			}
		}
		time.Sleep(postTriggeredPollInterval)
	}
	return sigmaerr.ErrTimeout
}
