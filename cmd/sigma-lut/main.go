// Command sigma-lut compiles a simple value/mask trigger condition and
// prints the resulting FPGA lookup table, for bench-testing trigger
// compilation without a connected device.
//
// Usage:
//
//	sigma-lut VALUE MASK [RATE_HZ]
//
// VALUE and MASK use Go integer syntax (0x prefix for hex, e.g. 0x0005),
// RATE_HZ defaults to 1000000.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jbrzusto/sigma/trigger"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: sigma-lut VALUE MASK [RATE_HZ]")
		os.Exit(1)
	}
	value, err := strconv.ParseUint(os.Args[1], 0, 16)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigma-lut: bad VALUE: %v\n", err)
		os.Exit(1)
	}
	mask, err := strconv.ParseUint(os.Args[2], 0, 16)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigma-lut: bad MASK: %v\n", err)
		os.Exit(1)
	}
	rate := uint64(1_000_000)
	if len(os.Args) > 3 {
		rate, err = strconv.ParseUint(os.Args[3], 0, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sigma-lut: bad RATE_HZ: %v\n", err)
			os.Exit(1)
		}
	}

	spec := trigger.Spec{Stages: []trigger.Stage{{}}}
	for ch := 0; ch < 16; ch++ {
		bit := uint16(1) << uint(ch)
		if uint16(mask)&bit == 0 {
			continue
		}
		kind := trigger.MatchLow
		if uint16(value)&bit != 0 {
			kind = trigger.MatchHigh
		}
		spec.Stages[0].Matches = append(spec.Stages[0].Matches, trigger.ChannelMatch{Channel: ch, Kind: kind})
	}

	compiled, err := trigger.Compile(spec, rate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigma-lut: %v\n", err)
		os.Exit(1)
	}
	lut := trigger.CompileLut(compiled)
	fmt.Print(lut.String())
}
