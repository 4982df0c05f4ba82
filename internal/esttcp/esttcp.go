// Package esttcp implements the TCP VEC-spin and timestamp-option RTT
// estimator. It reads the reserved bits of the TCP
// data-offset-and-reserved byte and the TCP timestamp option via direct
// byte indexing with explicit bounds checks, no reflection.
package esttcp

import (
	"encoding/binary"
	"errors"

	"github.com/mami-project/vpp-plus/internal/session"
)

// HeaderLen is the fixed TCP header length this system supports (no
// reassembly of options beyond a defensive scan for the timestamp option).
const HeaderLen = 20

// ErrShort is returned when fewer than HeaderLen bytes are available.
var ErrShort = errors.New("short tcp header")

// ErrBadOptions is returned when option parsing finds an ill-formed length
// or would overrun the buffer. The caller
// must still forward the packet through rewrite; only estimation is
// skipped.
var ErrBadOptions = errors.New("malformed tcp options")

const (
	flagSYN = 0x02
	flagACK = 0x10

	optEndOfList = 0
	optNop       = 1
	optTimestamp = 8
	optTSLen     = 10

	// vecMask/vecShift extract the 3-bit VEC field from the reserved area
	// of the data-offset-and-reserved byte (bits 1..3).
	vecMask  = 0x0E
	vecShift = 1
)

// Header is a thin view over an in-place TCP header.
type Header struct {
	b []byte
}

// Parse validates that b holds at least a 20-byte TCP header.
func Parse(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShort
	}
	dataOffset := int(b[12]>>4) * 4
	if dataOffset < HeaderLen || dataOffset > len(b) {
		return Header{}, ErrShort
	}
	return Header{b: b[:dataOffset]}, nil
}

// SrcPort returns the TCP source port.
func (h Header) SrcPort() uint16 { return binary.BigEndian.Uint16(h.b[0:2]) }

// DstPort returns the TCP destination port.
func (h Header) DstPort() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }

// Flags returns the TCP control-bits byte.
func (h Header) Flags() uint8 { return h.b[13] }

// VEC extracts the 3-bit VEC field from the reserved area of the
// data-offset-and-reserved byte (mask 0x0E, shift right 1).
func (h Header) VEC() uint8 {
	return (h.b[12] & vecMask) >> vecShift
}

// options returns the variable-length option bytes following the fixed
// 20-byte header.
func (h Header) options() []byte {
	return h.b[HeaderLen:]
}

// Timestamps scans the option list defensively for the timestamp option and
// returns (tsval, tsecr, true) if present. A malformed option list (bad
// length, overrun) returns ErrBadOptions.
func (h Header) Timestamps() (tsval, tsecr uint32, ok bool, err error) {
	opts := h.options()
	i := 0
	for i < len(opts) {
		kind := opts[i]
		switch kind {
		case optEndOfList:
			return 0, 0, false, nil
		case optNop:
			i++
			continue
		}
		if i+1 >= len(opts) {
			return 0, 0, false, ErrBadOptions
		}
		length := int(opts[i+1])
		if length < 2 || i+length > len(opts) {
			return 0, 0, false, ErrBadOptions
		}
		if kind == optTimestamp {
			if length != optTSLen {
				return 0, 0, false, ErrBadOptions
			}
			tsval = binary.BigEndian.Uint32(opts[i+2 : i+6])
			tsecr = binary.BigEndian.Uint32(opts[i+6 : i+10])
			return tsval, tsecr, true, nil
		}
		i += length
	}
	return 0, 0, false, nil
}

// Direction reports whether srcPort identifies the packet as the flow's
// forward (initiator) direction.
func Direction(srcPort, initSrcPort uint16) (forward bool) {
	return srcPort == initSrcPort
}

// Observe runs the VEC and timestamp-echo estimators for one packet against
// a session's TCP estimator state, updating LastRTT when a matching
// transition is found. t is the current time in fractional seconds.
//
// SYN+ACK packets are skipped for VEC sampling (but the caller still routes
// the packet through rewrite) since the VEC signal is only meaningful once
// the connection is established in both directions. A malformed option list
// skips both estimators for the packet.
func Observe(s *session.TCPEstimatorState, t float64, h Header, forward bool) {
	tsval, tsecr, ok, err := h.Timestamps()
	if err != nil {
		return
	}

	flags := h.Flags()
	isSynAck := flags&flagSYN != 0 && flags&flagACK != 0

	if !isSynAck {
		observeVEC(s, t, h.VEC(), forward)
	}

	if ok {
		observeTS(s, t, tsval, tsecr, forward)
	}
}

// vecValidBit/vecEdgeBit/vecSpinBit are the three bits the VEC field
// packs: a spin value, an edge marker for when the spin flips, and a
// validity marker for whether the sender is actively spinning.
const (
	vecSpinBit  = 0x1
	vecEdgeBit  = 0x2
	vecValidBit = 0x4
)

func observeVEC(s *session.TCPEstimatorState, t float64, vec uint8, forward bool) {
	valid := vec&vecValidBit != 0
	if !valid {
		return
	}
	edge := vec&vecEdgeBit != 0
	spin := vec & vecSpinBit

	if forward {
		if edge || !s.HaveLastVEC || spin != s.LastVEC&vecSpinBit {
			s.VECEdgeTime = t
			s.HaveVECEdge = true
		}
		s.LastVEC = vec
		s.HaveLastVEC = true
		return
	}

	// Reverse: a reflected edge completes the round trip.
	if s.HaveVECEdge && (edge || spin != s.LastVEC&vecSpinBit) {
		s.LastRTT = t - s.VECEdgeTime
		s.HaveRTT = true
		s.HaveVECEdge = false
	}
	s.LastVEC = vec
	s.HaveLastVEC = true
}

func observeTS(s *session.TCPEstimatorState, t float64, tsval, tsecr uint32, forward bool) {
	if forward {
		s.LastTSVal = tsval
		s.LastTSValTime = t
		s.HaveTSVal = true
		return
	}
	if s.HaveTSVal && tsecr == s.LastTSVal {
		s.LastRTT = t - s.LastTSValTime
		s.HaveRTT = true
	}
}
