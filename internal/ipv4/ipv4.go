// Package ipv4 parses the fixed 20-byte IPv4 header this system supports
// (no options, no IPv6) and recomputes the
// IPv4, TCP, and UDP checksums after the core's NAT-like rewrite.
//
// Checksum recomputation has no standard library equivalent in Go, so it's
// implemented directly here: bounds-checked byte-slice arithmetic via
// encoding/binary, rather than reaching for a generic packet-decoding
// library whose layered TCP/IP structs would need to be unwound again to
// get at the exact in-place mutation semantics this pipeline requires (see
// DESIGN.md).
package ipv4

import "encoding/binary"

// HeaderLen is the fixed IPv4 header length this system supports (no
// options).
const HeaderLen = 20

// Protocol numbers.
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// Header is a thin view over an in-place 20-byte IPv4 header.
type Header struct {
	b []byte
}

// ErrShort is returned when fewer than HeaderLen bytes are available.
type ErrShort struct{}

func (ErrShort) Error() string { return "short ipv4 header" }

// Parse validates that b holds at least a 20-byte IPv4 header, returning a
// Header view over it. It does not check the version or IHL fields; callers
// check Version themselves.
func Parse(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShort{}
	}
	return Header{b: b[:HeaderLen]}, nil
}

// Version returns the IP version nibble.
func (h Header) Version() int { return int(h.b[0] >> 4) }

// IHL returns the header length in 32-bit words.
func (h Header) IHL() int { return int(h.b[0] & 0x0F) }

// Protocol returns the IP protocol number.
func (h Header) Protocol() uint8 { return h.b[9] }

// SrcIP returns the source address as a big-endian uint32.
func (h Header) SrcIP() uint32 { return binary.BigEndian.Uint32(h.b[12:16]) }

// DstIP returns the destination address as a big-endian uint32.
func (h Header) DstIP() uint32 { return binary.BigEndian.Uint32(h.b[16:20]) }

// SetSrcIP rewrites the source address in place.
func (h Header) SetSrcIP(ip uint32) { binary.BigEndian.PutUint32(h.b[12:16], ip) }

// SetDstIP rewrites the destination address in place.
func (h Header) SetDstIP(ip uint32) { binary.BigEndian.PutUint32(h.b[16:20], ip) }

// TotalLen returns the IPv4 total length field.
func (h Header) TotalLen() int { return int(binary.BigEndian.Uint16(h.b[2:4])) }

// Payload returns the bytes following the 20-byte header, from b, truncated
// to TotalLen if b is longer (e.g. due to link-layer padding).
func (h Header) Payload(b []byte) []byte {
	rest := b[HeaderLen:]
	total := h.TotalLen() - HeaderLen
	if total >= 0 && total <= len(rest) {
		return rest[:total]
	}
	return rest
}

func onesComplementSum(b []byte, initial uint32) uint32 {
	sum := initial
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return sum
}

func fold(sum uint32) uint16 {
	return ^uint16(sum)
}

// SetHeaderChecksum recomputes and writes the IPv4 header checksum in
// place.
func (h Header) SetHeaderChecksum() {
	h.b[10], h.b[11] = 0, 0
	sum := onesComplementSum(h.b, 0)
	binary.BigEndian.PutUint16(h.b[10:12], fold(sum))
}

// pseudoHeaderSum computes the IPv4 pseudo-header checksum contribution for
// TCP/UDP: src_ip + dst_ip + zero + protocol + transport length.
func pseudoHeaderSum(srcIP, dstIP uint32, proto uint8, transportLen int) uint32 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], srcIP)
	binary.BigEndian.PutUint32(buf[4:8], dstIP)
	buf[8] = 0
	buf[9] = proto
	binary.BigEndian.PutUint16(buf[10:12], uint16(transportLen))
	return onesComplementSum(buf[:], 0)
}

// SetUDPChecksum recomputes the UDP checksum over udp (the 8-byte UDP
// header followed by its payload, length udp[4:6]) given the current IPv4
// addresses, and writes it into udp[6:8].
func SetUDPChecksum(srcIP, dstIP uint32, udp []byte) {
	udp[6], udp[7] = 0, 0
	sum := pseudoHeaderSum(srcIP, dstIP, ProtoUDP, len(udp))
	sum = onesComplementSum(udp, sum)
	result := fold(sum)
	if result == 0 {
		// RFC 768: a computed checksum of 0 is transmitted as all ones;
		// zero is reserved to mean "no checksum".
		result = 0xFFFF
	}
	binary.BigEndian.PutUint16(udp[6:8], result)
}

// SetTCPChecksum recomputes the TCP checksum over tcp (the TCP header and
// its payload) given the current IPv4 addresses, and writes it into
// tcp[16:18].
func SetTCPChecksum(srcIP, dstIP uint32, tcp []byte) {
	tcp[16], tcp[17] = 0, 0
	sum := pseudoHeaderSum(srcIP, dstIP, ProtoTCP, len(tcp))
	sum = onesComplementSum(tcp, sum)
	binary.BigEndian.PutUint16(tcp[16:18], fold(sum))
}
