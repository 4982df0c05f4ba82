// tracetail is a minimal reference client for the trace socket: it connects
// to the Unix domain socket served by trace.Server and prints every JSONL
// record it receives.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"
)

var filename = flag.String("trace.filename", "", "Unix socket path to connect to (required).")

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	if *filename == "" {
		log.Fatal("-trace.filename is required")
	}

	conn, err := net.Dial("unix", *filename)
	rtx.Must(err, "Could not connect to trace socket %q", *filename)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Println("trace socket read error:", err)
	}
}
