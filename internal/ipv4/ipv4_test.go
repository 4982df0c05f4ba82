package ipv4

import (
	"encoding/binary"
	"testing"
)

func buildIPv4Header(totalLen int, protocol uint8, srcIP, dstIP uint32) []byte {
	b := make([]byte, HeaderLen)
	b[0] = 0x45 // version 4, IHL 5 (no options)
	binary.BigEndian.PutUint16(b[2:4], uint16(totalLen))
	b[9] = protocol
	binary.BigEndian.PutUint32(b[12:16], srcIP)
	binary.BigEndian.PutUint32(b[16:20], dstIP)
	return b
}

func TestParseFieldsAndAddresses(t *testing.T) {
	b := buildIPv4Header(40, ProtoTCP, 0x0A000001, 0xC0A80001)
	h, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.Version() != 4 {
		t.Fatalf("Version() = %d, want 4", h.Version())
	}
	if h.IHL() != 5 {
		t.Fatalf("IHL() = %d, want 5", h.IHL())
	}
	if h.Protocol() != ProtoTCP {
		t.Fatalf("Protocol() = %d, want %d", h.Protocol(), ProtoTCP)
	}
	if h.SrcIP() != 0x0A000001 || h.DstIP() != 0xC0A80001 {
		t.Fatalf("SrcIP/DstIP = %#x/%#x, want 0xa000001/0xc0a80001", h.SrcIP(), h.DstIP())
	}
}

func TestParseShort(t *testing.T) {
	if _, err := Parse(make([]byte, 10)); err == nil {
		t.Fatal("Parse on a short buffer should fail")
	}
}

func TestSetSrcDstIP(t *testing.T) {
	b := buildIPv4Header(20, ProtoUDP, 1, 2)
	h, _ := Parse(b)
	h.SetSrcIP(100)
	h.SetDstIP(200)
	if h.SrcIP() != 100 || h.DstIP() != 200 {
		t.Fatalf("SrcIP/DstIP after Set = %d/%d, want 100/200", h.SrcIP(), h.DstIP())
	}
}

func TestPayloadTruncatesToTotalLen(t *testing.T) {
	full := make([]byte, HeaderLen+100)
	copy(full, buildIPv4Header(HeaderLen+10, ProtoTCP, 0, 0))
	h, err := Parse(full)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	payload := h.Payload(full)
	if len(payload) != 10 {
		t.Fatalf("Payload length = %d, want 10 (link-layer padding trimmed)", len(payload))
	}
}

// verifyChecksum re-sums a finished checksum field along with the rest of
// the buffer and confirms it folds to the all-ones value, the standard
// Internet checksum self-verification identity.
func verifyChecksum(b []byte) bool {
	sum := onesComplementSum(b, 0)
	return fold(sum) == 0 || fold(sum) == 0xFFFF
}

func TestSetHeaderChecksumVerifies(t *testing.T) {
	b := buildIPv4Header(20, ProtoTCP, 0x0A000001, 0xC0A80001)
	h, _ := Parse(b)
	h.SetHeaderChecksum()
	if !verifyChecksum(b) {
		t.Fatal("IPv4 header checksum does not self-verify")
	}
}

func TestSetTCPChecksumVerifies(t *testing.T) {
	tcp := make([]byte, 20+5)
	binary.BigEndian.PutUint16(tcp[0:2], 1234)
	binary.BigEndian.PutUint16(tcp[2:4], 80)
	copy(tcp[20:], []byte("hello"))
	srcIP, dstIP := uint32(0x0A000001), uint32(0xC0A80001)

	SetTCPChecksum(srcIP, dstIP, tcp)

	pseudo := pseudoHeaderSum(srcIP, dstIP, ProtoTCP, len(tcp))
	if fold(onesComplementSum(tcp, pseudo)) != 0 {
		t.Fatal("TCP checksum does not self-verify")
	}
}

func TestSetUDPChecksumVerifies(t *testing.T) {
	udp := make([]byte, 8+4)
	binary.BigEndian.PutUint16(udp[0:2], 1234)
	binary.BigEndian.PutUint16(udp[2:4], 53)
	binary.BigEndian.PutUint16(udp[4:6], uint16(len(udp)))
	copy(udp[8:], []byte("abcd"))
	srcIP, dstIP := uint32(0x0A000001), uint32(0xC0A80001)

	SetUDPChecksum(srcIP, dstIP, udp)

	pseudo := pseudoHeaderSum(srcIP, dstIP, ProtoUDP, len(udp))
	if fold(onesComplementSum(udp, pseudo)) != 0 {
		t.Fatal("UDP checksum does not self-verify")
	}
}

func TestSetUDPChecksumZeroBecomesAllOnes(t *testing.T) {
	// Crafted purely so the computed sum folds to exactly 0xffff, which
	// RFC 768 says must be transmitted as all-ones rather than the
	// reserved "no checksum" value of zero.
	udp := make([]byte, 8)
	binary.BigEndian.PutUint16(udp[4:6], 0xFFE6)

	SetUDPChecksum(0, 0, udp)

	if got := binary.BigEndian.Uint16(udp[6:8]); got != 0xFFFF {
		t.Fatalf("checksum = %#x, want 0xffff", got)
	}
}
