// Package estquic implements the QUIC spin-bit RTT estimator against an
// early IETF draft header layout, deliberately not a later draft's layout.
// Parsing is defensive and cursor-based: every field access is
// bounds-checked before it happens, and a short buffer skips the packet
// rather than panicking.
package estquic

import (
	"encoding/binary"
	"errors"

	"github.com/mami-project/vpp-plus/internal/session"
)

// ErrShort is returned whenever a header field would read past the end of
// the buffer.
var ErrShort = errors.New("short quic header")

const (
	longHeaderBit = 0x80
	hasIDBit      = 0x40
	pnLenMask     = 0x1F

	connIDLen = 8
	versionLen = 4
)

// Header is a parsed view of one QUIC packet's inspected fields. It does
// not retain the original buffer beyond parse time.
type Header struct {
	Long          bool
	ConnID        uint64
	HaveConnID    bool
	PacketNumber  uint32
	Spin          uint8
	HeaderLen     int
}

// Parse reads a QUIC long- or short-header packet per the early draft
// layout:
//
//	Long:  1B type(high bit set) | 8B conn id | 4B packet number | 4B version | 1B spin/measurement
//	Short: 1B type | optional 8B conn id (HAS_ID=0x40) | 1/2/4B packet number (type bits 0x1F = 0x01/0x02/0x03) | 1B spin/measurement
func Parse(b []byte) (Header, error) {
	if len(b) < 1 {
		return Header{}, ErrShort
	}
	typ := b[0]
	if typ&longHeaderBit != 0 {
		return parseLong(b)
	}
	return parseShort(b, typ)
}

func parseLong(b []byte) (Header, error) {
	const fixed = 1 + connIDLen + 4 + versionLen + 1
	if len(b) < fixed {
		return Header{}, ErrShort
	}
	connID := binary.BigEndian.Uint64(b[1 : 1+connIDLen])
	pn := binary.BigEndian.Uint32(b[1+connIDLen : 1+connIDLen+4])
	measurement := b[fixed-1]
	return Header{
		Long:         true,
		ConnID:       connID,
		HaveConnID:   true,
		PacketNumber: pn,
		Spin:         measurement & 0x1,
		HeaderLen:    fixed,
	}, nil
}

func parseShort(b []byte, typ byte) (Header, error) {
	off := 1
	h := Header{}

	if typ&hasIDBit != 0 {
		if len(b) < off+connIDLen {
			return Header{}, ErrShort
		}
		h.ConnID = binary.BigEndian.Uint64(b[off : off+connIDLen])
		h.HaveConnID = true
		off += connIDLen
	}

	var pnLen int
	switch typ & pnLenMask {
	case 0x01:
		pnLen = 1
	case 0x02:
		pnLen = 2
	case 0x03:
		pnLen = 4
	default:
		return Header{}, ErrShort
	}
	if len(b) < off+pnLen+1 {
		return Header{}, ErrShort
	}
	var pn uint32
	for i := 0; i < pnLen; i++ {
		pn = pn<<8 | uint32(b[off+i])
	}
	off += pnLen

	measurement := b[off]
	off++

	h.PacketNumber = pn
	h.Spin = measurement & 0x1
	h.HeaderLen = off
	return h, nil
}

// IsQUICPort reports whether either endpoint's UDP port equals the
// configured fixed QUIC port — the sole recognition rule for this
// transport.
func IsQUICPort(srcPort, dstPort, quicPort uint16) bool {
	return srcPort == quicPort || dstPort == quicPort
}

// Direction reports whether srcPort identifies the packet as the flow's
// forward (initiator) direction.
func Direction(srcPort, initSrcPort uint16) (forward bool) {
	return srcPort == initSrcPort
}

// Observe runs the spin-bit estimator for one packet against a session's
// QUIC estimator state. t is the current time in fractional seconds.
//
// The estimator maintains the last spin value seen in each direction and
// the timestamp of the last forward spin edge (value transition); when the
// reverse direction reflects the new spin value, RTT is the time between
// that edge and this observation.
func Observe(s *session.QUICEstimatorState, t float64, h Header, forward bool) {
	if forward {
		if !s.HaveForwardSpin || h.Spin != s.ForwardSpin {
			s.SpinEdgeTime = t
			s.HaveSpinEdge = true
		}
		s.ForwardSpin = h.Spin
		s.HaveForwardSpin = true
		s.ForwardPN = h.PacketNumber
		return
	}

	if s.HaveSpinEdge && (!s.HaveReverseSpin || h.Spin != s.ReverseSpin) && h.Spin == s.ForwardSpin {
		s.LastRTT = t - s.SpinEdgeTime
		s.HaveRTT = true
		s.HaveSpinEdge = false
	}
	s.ReverseSpin = h.Spin
	s.HaveReverseSpin = true
}
