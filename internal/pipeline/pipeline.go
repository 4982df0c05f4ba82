// Package pipeline implements the per-packet inspection pipeline: header
// parsing, flow-key construction, session
// lookup/creation, estimator dispatch, destination-IP rewrite, checksum
// recomputation, and trace emission: advance state, parse what arrived, hand
// results downstream, run as a per-packet pass over a batch of buffer
// handles.
package pipeline

import (
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mami-project/vpp-plus/internal/destmap"
	"github.com/mami-project/vpp-plus/internal/estplus"
	"github.com/mami-project/vpp-plus/internal/estquic"
	"github.com/mami-project/vpp-plus/internal/esttcp"
	"github.com/mami-project/vpp-plus/internal/flowkey"
	"github.com/mami-project/vpp-plus/internal/ipv4"
	"github.com/mami-project/vpp-plus/internal/pktbuf"
	"github.com/mami-project/vpp-plus/internal/session"
	"github.com/mami-project/vpp-plus/internal/timerwheel"
	"github.com/mami-project/vpp-plus/internal/trace"
	"github.com/mami-project/vpp-plus/metrics"
)

// Config is the immutable, boot-time configuration the pipeline reads.
type Config struct {
	Dest            *destmap.Map
	QUICPort        uint16
	SessionCapacity int
	WheelSize       int // in slots; should exceed timerwheel.Timeout
}

// Pipeline is one shard: its own session table, timer wheel, and
// configuration. A Pipeline is single-threaded and
// run-to-completion; it is never shared across goroutines. Multiple
// Pipelines may run on separate cores, each owning a disjoint shard, with
// the host responsible for steering both directions of a flow to the same
// shard.
type Pipeline struct {
	cfg   Config
	table *session.Table
	wheel *timerwheel.Wheel
	sink  trace.Sink
}

// New creates a Pipeline shard from cfg. sink may be nil if tracing is
// never armed.
func New(cfg Config, sink trace.Sink) *Pipeline {
	if sink == nil {
		sink = trace.NullSink()
	}
	return &Pipeline{
		cfg:   cfg,
		table: session.NewTable(cfg.SessionCapacity),
		wheel: timerwheel.New(cfg.WheelSize, cfg.SessionCapacity),
		sink:  sink,
	}
}

// RealNow returns the current time as fractional seconds since the Unix
// epoch, the concrete implementation of the external wall-clock/monotonic
// time source this system depends on. The pipeline
// itself never calls time.Now directly — Process takes now as a parameter
// — so it has no hidden time dependency and is deterministic under test.
func RealNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ProcessBatch runs Process over every buffer in bufs, in order. armed, if
// non-nil, reports per-index whether tracing is requested for that buffer.
func (p *Pipeline) ProcessBatch(bufs []*pktbuf.Buffer, now float64, armed func(i int) bool) {
	for i, b := range bufs {
		traced := armed != nil && armed(i)
		p.Process(b, now, traced)
	}
}

// SessionTable exposes the pipeline's session table for diagnostics/tests.
func (p *Pipeline) SessionTable() *session.Table { return p.table }

// Process runs the full pipeline over one buffer. It
// never returns an error and never drops the packet: every failure mode
// forwards the buffer unchanged with its cursor restored, which is why Process's only "output" is the buffer's own mutated
// bytes plus, optionally, a trace record.
func (p *Pipeline) Process(b *pktbuf.Buffer, now float64, traced bool) {
	defer b.Reset()

	// Step 1: advance the timer wheel.
	p.wheel.Expire(now, func(index int) {
		s := p.table.ByIndex(index)
		p.table.Remove(s)
		metrics.SessionsExpiredTotal.Inc()
		metrics.SessionsActive.Set(float64(p.table.Len()))
	})

	buf := b.Bytes()

	// Steps 2-3: parse IPv4.
	ip, err := ipv4.Parse(buf)
	if err != nil {
		metrics.ErrorCount.With(prometheus.Labels{"kind": "short-header"}).Inc()
		return
	}
	if ip.Version() != 4 {
		metrics.ErrorCount.With(prometheus.Labels{"kind": "ipv6-or-unsupported"}).Inc()
		return
	}

	transport := ip.Payload(buf)
	if len(transport) < 1 {
		return
	}

	switch ip.Protocol() {
	case ipv4.ProtoUDP:
		p.processUDP(ip, transport, now, traced)
	case ipv4.ProtoTCP:
		p.processTCP(ip, transport, now, traced)
	default:
		// Not a transport this system inspects; nothing to key or rewrite,
		// fall through uninspected.
	}
}

const udpHeaderLen = 8

func (p *Pipeline) processUDP(ip ipv4.Header, udp []byte, now float64, traced bool) {
	if len(udp) < udpHeaderLen {
		metrics.ErrorCount.With(prometheus.Labels{"kind": "short-header"}).Inc()
		return
	}
	srcPort := beUint16(udp[0:2])
	dstPort := beUint16(udp[2:4])

	if estquic.IsQUICPort(srcPort, dstPort, p.cfg.QUICPort) {
		p.dispatchQUIC(ip, udp, srcPort, dstPort, now, traced)
		return
	}

	plusHdr, isPLUS, err := estplus.Parse(udp[udpHeaderLen:])
	if err != nil {
		metrics.ErrorCount.With(prometheus.Labels{"kind": "short-header"}).Inc()
		return
	}
	if isPLUS {
		p.dispatchPLUS(ip, udp, plusHdr, srcPort, dstPort, now, traced)
		return
	}

	// Falls through uninspected — not a QUIC or PLUS flow.
}

func (p *Pipeline) processTCP(ip ipv4.Header, tcp []byte, now float64, traced bool) {
	hdr, err := esttcp.Parse(tcp)
	if err != nil {
		metrics.ErrorCount.With(prometheus.Labels{"kind": "short-header"}).Inc()
		return
	}
	srcPort := hdr.SrcPort()
	dstPort := hdr.DstPort()

	fwdKey := flowkey.ForwardCandidate(ip.SrcIP(), ip.DstIP(), srcPort, dstPort, flowkey.ProtoTCP)
	s, found := p.table.Lookup(fwdKey)
	if !found {
		revKey := flowkey.ReverseCandidate(ip.SrcIP(), ip.DstIP(), srcPort, dstPort, flowkey.ProtoTCP)
		s, found = p.table.Lookup(revKey)
	}

	s, ok := p.ensureSession(s, found, ip, srcPort, dstPort, flowkey.ProtoTCP, 0, session.VariantTCP, now)
	if !ok {
		return
	}

	forward := esttcp.Direction(srcPort, s.InitSrcPort)
	esttcp.Observe(&s.TCP, now, hdr, forward)
	if s.TCP.HaveRTT {
		metrics.RTTHistogram.With(prometheus.Labels{"variant": "tcp"}).Observe(s.TCP.LastRTT)
		s.TCP.HaveRTT = false
	}

	p.finish(s, ip, tcp, srcPort, dstPort, now, traced, forward)
}

func (p *Pipeline) dispatchQUIC(ip ipv4.Header, udp []byte, srcPort, dstPort uint16, now float64, traced bool) {
	payload := udp[udpHeaderLen:]
	hdr, err := estquic.Parse(payload)
	if err != nil {
		metrics.ErrorCount.With(prometheus.Labels{"kind": "short-header"}).Inc()
		return
	}

	fwdKey := flowkey.ForwardCandidate(ip.SrcIP(), ip.DstIP(), srcPort, dstPort, flowkey.ProtoUDP)
	s, found := p.table.Lookup(fwdKey)
	if !found {
		revKey := flowkey.ReverseCandidate(ip.SrcIP(), ip.DstIP(), srcPort, dstPort, flowkey.ProtoUDP)
		s, found = p.table.Lookup(revKey)
	}

	s, ok := p.ensureSession(s, found, ip, srcPort, dstPort, flowkey.ProtoUDP, 0, session.VariantQUIC, now)
	if !ok {
		return
	}

	forward := estquic.Direction(srcPort, s.InitSrcPort)
	estquic.Observe(&s.QUIC, now, hdr, forward)
	if s.QUIC.HaveRTT {
		metrics.RTTHistogram.With(prometheus.Labels{"variant": "quic"}).Observe(s.QUIC.LastRTT)
		s.QUIC.HaveRTT = false
	}

	p.finish(s, ip, udp, srcPort, dstPort, now, traced, forward)
}

func (p *Pipeline) dispatchPLUS(ip ipv4.Header, udp []byte, hdr estplus.Header, srcPort, dstPort uint16, now float64, traced bool) {
	cat := hdr.CAT()

	fwdKey := flowkey.ForwardCandidatePLUS(ip.SrcIP(), ip.DstIP(), srcPort, dstPort, cat)
	s, found := p.table.Lookup(fwdKey)
	if !found {
		revKey := flowkey.ReverseCandidatePLUS(ip.SrcIP(), ip.DstIP(), srcPort, dstPort, cat)
		s, found = p.table.Lookup(revKey)
	}

	s, ok := p.ensureSession(s, found, ip, srcPort, dstPort, flowkey.ProtoUDP, cat, session.VariantPLUS, now)
	if !ok {
		return
	}

	forward := estplus.Direction(srcPort, s.InitSrcPort)
	estplus.Observe(&s.PLUS, now, hdr, forward)
	if s.PLUS.HaveRTT {
		metrics.RTTHistogram.With(prometheus.Labels{"variant": "plus"}).Observe(s.PLUS.LastRTT)
		s.PLUS.HaveRTT = false
	}

	// Extension hop-count mutation must happen before checksum
	// recomputation so the UDP checksum covers the updated byte
	// — finish() recomputes the checksum after this.
	plusPayload := udp[udpHeaderLen:]
	if estplus.IncrementHopCount(plusPayload) {
		metrics.HopCountIncrementedTotal.Inc()
	}

	p.finish(s, ip, udp, srcPort, dstPort, now, traced, forward)
}

// ensureSession resolves step 6-7 of the pipeline: if s/found describe an
// existing session, it is returned as-is. Otherwise a new session is
// created if the destination port maps to a backend; if it does not, ok is false and the caller should return
// without further state changes.
func (p *Pipeline) ensureSession(s *session.Session, found bool, ip ipv4.Header, srcPort, dstPort uint16, proto flowkey.Protocol, cat uint64, variant session.Variant, now float64) (*session.Session, bool) {
	if found {
		return s, true
	}

	backend, ok := p.cfg.Dest.Get(dstPort)
	if !ok {
		metrics.ErrorCount.With(prometheus.Labels{"kind": "unknown-destination"}).Inc()
		return nil, false
	}

	var fwdKey, revKey flowkey.Key
	if variant == session.VariantPLUS {
		fwdKey = flowkey.ForwardCandidatePLUS(ip.SrcIP(), ip.DstIP(), srcPort, dstPort, cat)
		revKey = flowkey.ReverseAtCreationPLUS(backend, srcPort, dstPort, cat)
	} else {
		fwdKey = flowkey.ForwardCandidate(ip.SrcIP(), ip.DstIP(), srcPort, dstPort, proto)
		revKey = flowkey.ReverseAtCreation(backend, srcPort, dstPort, proto)
	}

	s, err := p.table.Insert(fwdKey, variant, now)
	if err != nil {
		metrics.ErrorCount.With(prometheus.Labels{"kind": "pool-exhausted"}).Inc()
		metrics.PoolExhaustedTotal.Inc()
		return nil, false
	}
	s.InitSrcIP = ip.SrcIP()
	s.InitSrcPort = srcPort
	s.NewDstIP = backend
	s.OrigDstIP = ip.DstIP()
	if variant == session.VariantPLUS {
		s.PLUS.CAT = cat
	}

	p.table.Alias(revKey, s)
	p.wheel.Start(s.Index, now, timerwheel.Timeout)

	metrics.SessionsCreatedTotal.With(prometheus.Labels{"variant": variant.String()}).Inc()
	metrics.SessionsActive.Set(float64(p.table.Len()))

	return s, true
}

// finish performs steps 9-13: increment pkt_count, rewrite the IP
// addresses, recompute checksums, re-arm the timer, and emit a trace
// record if armed. Step 14, restoring the cursor, is Process's deferred
// Reset. srcPort/dstPort are the ports as observed on the wire,
// used only for the trace record.
func (p *Pipeline) finish(s *session.Session, ip ipv4.Header, transport []byte, srcPort, dstPort uint16, now float64, traced bool, forward bool) {
	s.PktCount++

	if !p.rewrite(s, ip, forward) {
		metrics.ErrorCount.With(prometheus.Labels{"kind": "rewrite-mismatch"}).Inc()
		return
	}

	s.LastSeenAt = now

	switch s.Variant {
	case session.VariantTCP:
		ipv4.SetTCPChecksum(ip.SrcIP(), ip.DstIP(), transport)
	default:
		ipv4.SetUDPChecksum(ip.SrcIP(), ip.DstIP(), transport)
	}
	ip.SetHeaderChecksum()

	if s.State == session.StateActive {
		p.wheel.Update(s.Index, now, timerwheel.Timeout)
	}

	if traced {
		p.sink.Emit(trace.Record{
			Timestamp:    time.Unix(0, int64(now*1e9)),
			SrcPort:      srcPort,
			DstPort:      dstPort,
			SrcIP:        ipString(ip.SrcIP()),
			DstIP:        ipString(ip.DstIP()),
			Variant:      s.Variant.String(),
			PktCount:     s.PktCount,
			SessionIndex: s.Index,
			Generation:   s.Generation,
		})
	}

	metrics.PacketsTotal.With(prometheus.Labels{"variant": s.Variant.String()}).Inc()
}

// rewrite performs the NAT-like IP rewrite:
// forward packets get their destination rewritten to the backend; reverse
// packets get their source restored to the address the initiator
// addressed, and their destination rewritten to the initiator's real
// address. It reports false for a spurious packet matching neither
// direction under the session's frozen init addresses.
func (p *Pipeline) rewrite(s *session.Session, ip ipv4.Header, forward bool) bool {
	if forward {
		if ip.SrcIP() != s.InitSrcIP {
			return false
		}
		ip.SetDstIP(s.NewDstIP)
		return true
	}

	// Reverse: the backend's reply carries its own address as src_ip; that
	// gets restored to the virtual address the initiator originally
	// addressed (OrigDstIP, frozen at creation), and
	// dst_ip is rewritten to the initiator's real address.
	if ip.SrcIP() != s.NewDstIP {
		return false
	}
	ip.SetSrcIP(s.OrigDstIP)
	ip.SetDstIP(s.InitSrcIP)
	return true
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func ipString(ip uint32) string {
	return net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip)).String()
}
