// Package estplus implements the PLUS (Path Layer UDP Substrate) PSN/PSE
// RTT estimator and extension-header hop-count mutation. The 20-byte fixed
// header and optional 3-byte extension are parsed with direct,
// bounds-checked byte indexing against the fixed layout.
package estplus

import (
	"encoding/binary"
	"errors"

	"github.com/mami-project/vpp-plus/internal/session"
)

// HeaderLen is the fixed PLUS header length.
const HeaderLen = 20

// ExtensionLen is the length of the extension header this system
// understands, present only when the EXTENDED flag is set and at least this
// many bytes follow the fixed header.
const ExtensionLen = 3

// ErrShort is returned when fewer than HeaderLen bytes are available.
var ErrShort = errors.New("short plus header")

const (
	// MagicMask selects the magic bits of the magic+flags byte; Magic is
	// the value they must carry for a packet to be accepted as PLUS.
	MagicMask = 0xFC
	Magic     = 0xD8 // high 6 bits of the magic+flags byte of a PLUS packet

	extendedFlag = 0x02

	pcfTypeHopCount = 1
	iiMask          = 0x03
)

// Header is a thin view over an in-place PLUS header.
type Header struct {
	b []byte
}

// Parse validates that b holds at least a 20-byte PLUS header and that its
// magic bits match. A magic mismatch is not an error — §4.5 says "accept
// only packets whose magic_and_flags & MAGIC_MASK == MAGIC" — so the
// pipeline should fall through uninspected rather than treat this as a
// parse failure.
func Parse(b []byte) (Header, bool, error) {
	if len(b) < HeaderLen {
		return Header{}, false, ErrShort
	}
	h := Header{b: b[:HeaderLen]}
	if b[0]&MagicMask != Magic {
		return Header{}, false, nil
	}
	return h, true, nil
}

// Extended reports whether the EXTENDED flag is set in the magic+flags
// byte.
func (h Header) Extended() bool { return h.b[0]&extendedFlag != 0 }

// PSN returns the packet serial number.
func (h Header) PSN() uint32 { return binary.BigEndian.Uint32(h.b[1:5]) }

// PSE returns the packet serial echo.
func (h Header) PSE() uint32 { return binary.BigEndian.Uint32(h.b[5:9]) }

// CAT returns the connection and association token.
func (h Header) CAT() uint64 { return binary.BigEndian.Uint64(h.b[9:17]) }

// ParseExtension inspects the 3 bytes following the fixed header, if
// present and EXTENDED is set: PCF_type, PCF_len_and_II, and the PCF value
// byte. It returns the PCF type, the II bits out of PCF_len_and_II, and the
// byte offset of the value byte relative to the start of the full PLUS
// header. ok is false if no extension is present or there are fewer than
// ExtensionLen bytes available — in either case this is not an error, just
// nothing to do.
func (h Header) ParseExtension(full []byte) (pcfType uint8, ii uint8, hopCountOffset int, ok bool) {
	if !h.Extended() {
		return 0, 0, 0, false
	}
	if len(full) < HeaderLen+ExtensionLen {
		return 0, 0, 0, false
	}
	ext := full[HeaderLen : HeaderLen+ExtensionLen]
	pcfType = ext[0]
	ii = ext[1] & iiMask
	return pcfType, ii, HeaderLen + 2, true
}

// IncrementHopCount increments the hop-count byte in place when the
// extension carries PCF_type==1 (hop count) and II==0. This is the only
// in-place payload mutation the core performs, and it must happen before
// checksum recomputation so the UDP checksum covers the updated byte.
func IncrementHopCount(full []byte) bool {
	h := Header{b: full[:HeaderLen]}
	pcfType, ii, off, ok := h.ParseExtension(full)
	if !ok || pcfType != pcfTypeHopCount || ii != 0 {
		return false
	}
	full[off]++
	return true
}

// Direction reports whether srcPort identifies the packet as the flow's
// forward (initiator) direction.
func Direction(srcPort, initSrcPort uint16) (forward bool) {
	return srcPort == initSrcPort
}

// Observe runs the PSN/PSE estimator for one packet against a session's
// PLUS estimator state. t is the current time in fractional seconds.
//
// PSN is a per-sender monotonic sequence; PSE echoes the last-seen peer
// PSN. On forward, (PSN, t) is recorded; on reverse, when PSE matches a
// recorded PSN, RTT is the elapsed time since it was recorded.
func Observe(s *session.PLUSEstimatorState, t float64, h Header, forward bool) {
	if forward {
		s.LastForwardPSN = h.PSN()
		s.LastSendTime = t
		s.HaveForwardPSN = true
		return
	}
	if s.HaveForwardPSN && h.PSE() == s.LastForwardPSN {
		s.LastRTT = t - s.LastSendTime
		s.HaveRTT = true
	}
}
