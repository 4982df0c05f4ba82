//go:build linux

// Package afpacket implements a host packet-processing framework stand-in:
// a minimal AF_PACKET raw-socket harness that
// reads Ethernet frames off an interface, hands the embedded IPv4 datagram
// to the pipeline, and writes the (possibly rewritten) frame back out the
// same interface. It is not the production packet-processing framework —
// that lives on the host this system is embedded in — only a concrete
// implementation of the same buffer-handle boundary (internal/pktbuf) good
// enough to exercise the pipeline end to end outside of unit tests.
//
// Socket setup uses direct syscalls via golang.org/x/sys/unix rather than a
// higher-level packet-capture library, the same way a raw AF_PACKET byte
// counter opens and reads one.
package afpacket

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

const ethHeaderLen = 14

// Socket is a bound AF_PACKET raw socket on one interface.
type Socket struct {
	fd      int
	ifindex int
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.LittleEndian.Uint16(b[:])
}

// Open binds a raw socket to the named interface, receiving every Ethernet
// frame that crosses it.
func Open(iface string) (*Socket, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("afpacket: %w", err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("afpacket: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, 4*1024*1024); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("afpacket: setsockopt SO_RCVBUF: %w", err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifi.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("afpacket: bind: %w", err)
	}

	return &Socket{fd: fd, ifindex: ifi.Index}, nil
}

// Close releases the underlying file descriptor.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// ReadFrame blocks until one Ethernet frame arrives, reading it whole into
// buf (Ethernet header included). ok reports whether the frame carries an
// IPv4 datagram; ARP, IPv6, VLAN-tagged, and other frame types are reported
// with ok=false so the caller can skip them without treating it as an
// error.
func (s *Socket) ReadFrame(buf []byte) (n int, ok bool, err error) {
	n, _, err = unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, false, err
	}
	if n < ethHeaderLen+1 {
		return n, false, nil
	}
	etherType := binary.BigEndian.Uint16(buf[12:14])
	return n, etherType == unix.ETH_P_IP, nil
}

// EthHeaderLen is the fixed Ethernet II header length ReadFrame/WriteFrame
// expect: 6-byte dst MAC, 6-byte src MAC, 2-byte ethertype.
const EthHeaderLen = ethHeaderLen

// WriteFrame transmits a whole Ethernet frame (as read by ReadFrame, with
// its IPv4 payload possibly rewritten in place by the pipeline) back out
// the bound interface.
func (s *Socket) WriteFrame(frame []byte) error {
	if len(frame) < ethHeaderLen+6 {
		return fmt.Errorf("afpacket: frame too short to re-inject: %d bytes", len(frame))
	}
	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IP),
		Ifindex:  s.ifindex,
		Halen:    6,
	}
	copy(addr.Addr[:6], frame[0:6])
	return unix.Sendto(s.fd, frame, 0, &addr)
}
