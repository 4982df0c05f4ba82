// destmaptool validates a destination-map CSV file by loading it and
// writing it back out as a round-trip check.
package main

import (
	"io"
	"log"
	"os"

	"github.com/m-lab/go/rtx"

	"github.com/mami-project/vpp-plus/internal/destmap"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func main() {
	args := os.Args[1:]

	var source io.ReadCloser
	var err error
	source = os.Stdin
	if len(args) == 1 {
		source, err = os.Open(args[0])
		rtx.Must(err, "Could not open file %q", args[0])
	} else if len(args) > 1 {
		log.Fatal("Too many command-line arguments.")
	}
	defer source.Close()

	m, err := destmap.Load(source)
	rtx.Must(err, "Could not load destination map")
	rtx.Must(destmap.Dump(os.Stdout, m), "Could not write destination map")
}
