//go:build linux

// vpp-plus runs the passive RTT-measurement and destination-rewrite core
// against packets read through the AF_PACKET harness in internal/afpacket,
// exposing Prometheus metrics and an optional trace socket.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/m-lab/go/anonymize"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	_ "net/http/pprof" // Support profiling

	"github.com/mami-project/vpp-plus/internal/afpacket"
	"github.com/mami-project/vpp-plus/internal/destmap"
	"github.com/mami-project/vpp-plus/internal/pipeline"
	"github.com/mami-project/vpp-plus/internal/pktbuf"
	"github.com/mami-project/vpp-plus/internal/trace"
)

const maxFrame = 65536

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	promPort = flag.String("prom", ":9090", "Prometheus metrics export address and port.")
	destFile = flag.String("destmap", "", "CSV file of port,backend_ip rows (required).")
	quicPort = flag.Uint("quic-port", 443, "UDP port recognized as QUIC traffic.")
	capacity = flag.Int("sessions", 1<<20, "Session table capacity per shard.")
	wheelSz  = flag.Int("wheel-size", 600, "Timer wheel slot count; should exceed the expiry timeout in ticks.")
	traceSoc = flag.String("trace.filename", "", "Unix socket path to serve trace records on. Empty disables tracing.")
	anon     = flag.Bool("anonymize", false, "Anonymize IPs in emitted trace records.")
	iface    = flag.String("iface", "", "Interface to capture on and re-inject into (required).")

	ctx, cancel = context.WithCancel(context.Background())
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment variables")
	defer cancel()

	if *destFile == "" || *iface == "" {
		log.Fatal("-destmap and -iface are required")
	}

	f, err := os.Open(*destFile)
	rtx.Must(err, "Could not open destination map %q", *destFile)
	dest, err := destmap.Load(f)
	rtx.Must(err, "Could not load destination map %q", *destFile)
	f.Close()

	// Expose prometheus and pprof metrics on a separate port.
	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)

	var sink trace.Sink = trace.NullSink()
	if *traceSoc != "" {
		method := anonymize.None
		if *anon {
			method = anonymize.Netblock
		}
		srv := trace.New(*traceSoc, anonymize.New(method))
		rtx.Must(srv.Listen(), "Could not listen on trace socket %q", *traceSoc)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.Println("trace socket serve exited:", err)
			}
		}()
		sink = srv
	}

	p := pipeline.New(pipeline.Config{
		Dest:            dest,
		QUICPort:        uint16(*quicPort),
		SessionCapacity: *capacity,
		WheelSize:       *wheelSz,
	}, sink)

	sock, err := afpacket.Open(*iface)
	rtx.Must(err, "Could not open AF_PACKET socket on %q", *iface)
	defer sock.Close()

	runCapture(ctx, sock, p)
}

// runCapture reads frames off sock, forwarding each one's IPv4 datagram
// through the pipeline and re-injecting the result, until ctx is canceled.
func runCapture(ctx context.Context, sock *afpacket.Socket, p *pipeline.Pipeline) {
	frame := make([]byte, maxFrame)
	for ctx.Err() == nil {
		n, ok, err := sock.ReadFrame(frame)
		if err != nil {
			log.Println("read error:", err)
			continue
		}
		if !ok {
			continue
		}

		datagram := frame[afpacket.EthHeaderLen:n]
		buf := pktbuf.New(datagram)
		p.Process(buf, pipeline.RealNow(), *traceSoc != "")

		if err := sock.WriteFrame(frame[:n]); err != nil {
			log.Println("write error:", err)
		}
	}
}
