// Command sigma-probe opens the first SIGMA/SIGMA2 unit found on the USB
// bus, uploads the default (50MHz/16-channel) firmware image, and prints
// the device's ID and scratch-register sanity check result.
//
// Usage:
//
//	sigma-probe
package main

import (
	"fmt"
	"os"

	"github.com/jbrzusto/sigma/fpgaloader"
	"github.com/jbrzusto/sigma/internal/hostusb"
	"github.com/jbrzusto/sigma/regcodec"
	"github.com/jbrzusto/sigma/sigmacfg"
	"periph.io/x/host/v3"
)

func main() {
	if _, err := host.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "sigma-probe: host init: %v\n", err)
		os.Exit(1)
	}

	profile, found := sigmacfg.Load()
	if found {
		fmt.Printf("using sigma.toml profile (firmware dir %q)\n", profile.FirmwareDir)
	} else {
		fmt.Println("no sigma.toml found, using compiled-in defaults")
	}

	link, err := hostusb.OpenFirstDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigma-probe: %v\n", err)
		os.Exit(1)
	}

	codec := &regcodec.Codec{Link: link}
	loader := &fpgaloader.Loader{Link: link, Codec: codec}

	raw, err := hostusb.ReadFirmwareFile(profile, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigma-probe: %v\n", err)
		os.Exit(1)
	}
	if err := loader.Upload(0, raw); err != nil {
		fmt.Fprintf(os.Stderr, "sigma-probe: firmware upload failed: %v\n", err)
		os.Exit(1)
	}

	var id [1]byte
	if err := codec.ReadRegister(regcodec.RegReadID, id[:]); err != nil {
		fmt.Fprintf(os.Stderr, "sigma-probe: id read failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("id register: 0x%02X (want 0x%02X)\n", id[0], regcodec.ExpectedID)
}
