// Package flowkey builds the canonical 64-bit keys used to find or create a
// session for a packet. Two packets that belong to the same flow — in
// either direction — must hash to the same session, even though
// destination-IP rewrite means the raw 5-tuple differs between the forward
// and reverse observations of the same conversation.
package flowkey

import "encoding/binary"

// Key is a 64-bit canonical flow identifier.
type Key uint64

// Protocol identifies the IP protocol number carried in the key.
type Protocol uint8

// Protocol numbers this system inspects.
const (
	ProtoTCP Protocol = 6
	ProtoUDP Protocol = 17
)

// fnvOffset and fnvPrime implement FNV-1a, used here instead of a
// cryptographic hash because the key only needs to distribute well across a
// hash table, not resist adversarial collisions.
const (
	fnvOffset = 14695981039346656037
	fnvPrime  = 1099511628211
)

func fnv(b []byte) uint64 {
	h := uint64(fnvOffset)
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime
	}
	return h
}

// build is the single canonical hash over an (ipA, ipB, portA, portB, proto)
// tuple. Every key in this package — forward, reverse, and the two lookup
// candidates below — goes through this one function so that equal tuples
// always produce equal keys.
func build(ipA, ipB uint32, portA, portB uint16, proto Protocol) Key {
	var buf [13]byte
	binary.BigEndian.PutUint32(buf[0:4], ipA)
	binary.BigEndian.PutUint32(buf[4:8], ipB)
	binary.BigEndian.PutUint16(buf[8:10], portA)
	binary.BigEndian.PutUint16(buf[10:12], portB)
	buf[12] = byte(proto)
	return Key(fnv(buf[:]))
}

func buildPLUS(ipA, ipB uint32, portA, portB uint16, cat uint64) Key {
	var buf [21]byte
	binary.BigEndian.PutUint32(buf[0:4], ipA)
	binary.BigEndian.PutUint32(buf[4:8], ipB)
	binary.BigEndian.PutUint16(buf[8:10], portA)
	binary.BigEndian.PutUint16(buf[10:12], portB)
	buf[12] = byte(ProtoUDP)
	binary.BigEndian.PutUint64(buf[13:21], cat)
	return Key(fnv(buf[:]))
}

// Forward builds the key stored as a session's `key` field at creation, and
// reproduced by every subsequent packet the initiator sends: it uses the
// initiator's real src_ip and the (possibly virtual, pre-rewrite) dst_ip
// exactly as observed on the wire.
func Forward(srcIP, dstIP uint32, srcPort, dstPort uint16, proto Protocol) Key {
	return build(srcIP, dstIP, srcPort, dstPort, proto)
}

// ForwardPLUS is the PLUS analogue of Forward, folding in the CAT.
func ForwardPLUS(srcIP, dstIP uint32, srcPort, dstPort uint16, cat uint64) Key {
	return buildPLUS(srcIP, dstIP, srcPort, dstPort, cat)
}

// ReverseAtCreation builds the key_reverse installed as a session's alias at
// creation time: src_ip=0, dst_ip=new_dst_ip (the
// backend), with the port pair taken from the forward packet that created
// the session (initSrcPort, dstPort) so it lines up with ReverseCandidate
// computed from an actual reverse packet below.
func ReverseAtCreation(newDstIP uint32, initSrcPort, dstPort uint16, proto Protocol) Key {
	return build(0, newDstIP, initSrcPort, dstPort, proto)
}

// ReverseAtCreationPLUS is the PLUS analogue of ReverseAtCreation.
func ReverseAtCreationPLUS(newDstIP uint32, initSrcPort, dstPort uint16, cat uint64) Key {
	return buildPLUS(0, newDstIP, initSrcPort, dstPort, cat)
}

// ForwardCandidate builds the lookup key to try first for any arriving
// packet, treating it as if it were a forward packet: the literal observed
// 5-tuple. It matches a session's `key` for true forward packets.
func ForwardCandidate(srcIP, dstIP uint32, srcPort, dstPort uint16, proto Protocol) Key {
	return build(srcIP, dstIP, srcPort, dstPort, proto)
}

// ForwardCandidatePLUS is the PLUS analogue of ForwardCandidate.
func ForwardCandidatePLUS(srcIP, dstIP uint32, srcPort, dstPort uint16, cat uint64) Key {
	return buildPLUS(srcIP, dstIP, srcPort, dstPort, cat)
}

// ReverseCandidate builds the second lookup key to try when ForwardCandidate
// misses: the packet's own src_ip is treated as the backend address (the
// role new_dst_ip plays in ReverseAtCreation) and src_ip=0 stands in for the
// identity a real reverse packet's rewritten source would otherwise carry.
// Ports are swapped because the reverse packet's src_port is the backend's
// port and its dst_port is the initiator's port. It matches a session's
// `key_reverse` for true reverse packets.
func ReverseCandidate(srcIP, dstIP uint32, srcPort, dstPort uint16, proto Protocol) Key {
	return build(0, srcIP, dstPort, srcPort, proto)
}

// ReverseCandidatePLUS is the PLUS analogue of ReverseCandidate.
func ReverseCandidatePLUS(srcIP, dstIP uint32, srcPort, dstPort uint16, cat uint64) Key {
	return buildPLUS(0, srcIP, dstPort, srcPort, cat)
}
