// Command sigma-capture runs one acquisition to completion and writes the
// decoded sample stream to a CBOR-encoded dump file.
//
// Usage:
//
//	sigma-capture -rate 10000000 -limit 1000000 -out capture.cbor
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jbrzusto/sigma/acq"
	"github.com/jbrzusto/sigma/internal/hostusb"
	"github.com/jbrzusto/sigma/sigmacfg"
)

func main() {
	rate := flag.Uint64("rate", 1_000_000, "samplerate in Hz")
	limit := flag.Uint64("limit", 0, "sample limit (0 = unlimited, bounded by host memory)")
	out := flag.String("out", "capture.cbor", "output file path")
	flag.Parse()

	profile, _ := sigmacfg.Load()

	link, err := hostusb.OpenFirstDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigma-capture: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigma-capture: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	sink, err := newCBORSink(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigma-capture: %v\n", err)
		os.Exit(1)
	}

	fw := func(idx int) ([]byte, error) { return hostusb.ReadFirmwareFile(profile, idx) }
	dev := acq.New(link, fw, sink)

	if err := dev.SetSamplerate(*rate); err != nil {
		fmt.Fprintf(os.Stderr, "sigma-capture: %v\n", err)
		os.Exit(1)
	}
	dev.SetLimitSamples(*limit)

	start := time.Now()
	if err := dev.StartAcquisition(0); err != nil {
		fmt.Fprintf(os.Stderr, "sigma-capture: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("armed, deadline %dms\n", dev.LimitMsec)

	for {
		elapsedUs := uint64(time.Since(start).Microseconds())
		cont, err := dev.Tick(elapsedUs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sigma-capture: %v\n", err)
			os.Exit(1)
		}
		if !cont {
			break
		}
		time.Sleep(time.Millisecond)
	}
	fmt.Printf("done: %d samples written to %s\n", dev.SentSamples, *out)
}
