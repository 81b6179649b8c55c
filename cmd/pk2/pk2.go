// Command pk2 pokes a byte into the scratch register and reads it back, a
// minimal bring-up check that the FPGA is loaded and responding.
package main

import (
	"fmt"
	"os"

	"github.com/jbrzusto/sigma/internal/hostusb"
	"github.com/jbrzusto/sigma/regcodec"
)

func main() {
	link, err := hostusb.OpenFirstDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pk2: %v\n", err)
		os.Exit(1)
	}
	codec := &regcodec.Codec{Link: link}

	const pattern = 0x5A
	if err := codec.SetRegister(regcodec.RegScratch, pattern); err != nil {
		fmt.Fprintf(os.Stderr, "pk2: poke: %v\n", err)
		os.Exit(1)
	}
	var got [1]byte
	if err := codec.ReadRegister(regcodec.RegScratch, got[:]); err != nil {
		fmt.Fprintf(os.Stderr, "pk2: peek: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote 0x%02X, read back 0x%02X\n", pattern, got[0])
}
