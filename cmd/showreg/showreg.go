// Command showreg polls the stop/trigger position registers at repeated
// intervals.
//
// Usage:
//
//	showreg N M
//
// where
//   - N is the number of milliseconds to wait between reads
//   - M is the number of reads to perform
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jbrzusto/sigma/internal/hostusb"
	"github.com/jbrzusto/sigma/regcodec"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: showreg N M")
		os.Exit(1)
	}
	n, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "showreg: bad N: %v\n", err)
		os.Exit(1)
	}
	m, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "showreg: bad M: %v\n", err)
		os.Exit(1)
	}

	link, err := hostusb.OpenFirstDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "showreg: %v\n", err)
		os.Exit(1)
	}
	codec := &regcodec.Codec{Link: link}

	for i := 0; i < m; i++ {
		stopPos, triggerPos, err := codec.ReadPosition()
		if err != nil {
			fmt.Fprintf(os.Stderr, "showreg: read %d: %v\n", i, err)
			os.Exit(1)
		}
		fmt.Printf("%4d  stop_pos=0x%06X  trigger_pos=0x%06X\n", i, stopPos, triggerPos)
		if i+1 < m {
			time.Sleep(time.Duration(n) * time.Millisecond)
		}
	}
}
