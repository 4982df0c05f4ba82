//go:build linux

// capture exercises the pipeline end to end over a live interface using the
// AF_PACKET harness in internal/afpacket, standing in for the host
// packet-processing framework. It is deliberately
// minimal: no Prometheus export, no trace socket, just enough wiring to
// confirm the pipeline inspects and rewrites real traffic.
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"os"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/mami-project/vpp-plus/internal/afpacket"
	"github.com/mami-project/vpp-plus/internal/destmap"
	"github.com/mami-project/vpp-plus/internal/pipeline"
	"github.com/mami-project/vpp-plus/internal/pktbuf"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	iface    = flag.String("iface", "", "Interface to capture on and re-inject into (required).")
	destFile = flag.String("destmap", "", "CSV file of port,backend_ip rows (required).")
	quicPort = flag.Uint("quic-port", 443, "UDP port recognized as QUIC traffic.")
	capacity = flag.Int("sessions", 1<<16, "Session table capacity.")
	wheelSz  = flag.Int("wheel-size", 600, "Timer wheel slot count.")
)

const maxFrame = 65536

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")

	if *iface == "" || *destFile == "" {
		log.Fatal("-iface and -destmap are required")
	}

	f, err := os.Open(*destFile)
	rtx.Must(err, "Could not open destination map %q", *destFile)
	dest, err := destmap.Load(f)
	rtx.Must(err, "Could not load destination map %q", *destFile)
	f.Close()

	sock, err := afpacket.Open(*iface)
	rtx.Must(err, "Could not open AF_PACKET socket on %q", *iface)
	defer sock.Close()

	p := pipeline.New(pipeline.Config{
		Dest:            dest,
		QUICPort:        uint16(*quicPort),
		SessionCapacity: *capacity,
		WheelSize:       *wheelSz,
	}, nil)

	log.Printf("capturing on %s", *iface)
	frame := make([]byte, maxFrame)
	var seen, rewritten uint64
	for {
		n, ok, err := sock.ReadFrame(frame)
		if err != nil {
			log.Println("read error:", err)
			continue
		}
		if !ok {
			continue
		}
		seen++

		datagram := frame[afpacket.EthHeaderLen:n]
		before := binary.BigEndian.Uint32(datagram[16:20])
		buf := pktbuf.New(datagram)
		p.Process(buf, pipeline.RealNow(), false)
		after := binary.BigEndian.Uint32(datagram[16:20])
		if after != before {
			rewritten++
		}

		if err := sock.WriteFrame(frame[:n]); err != nil {
			log.Println("write error:", err)
		}

		if seen%10000 == 0 {
			log.Printf("%d frames seen, %d rewritten, %d sessions active", seen, rewritten, p.SessionTable().Len())
		}
	}
}
