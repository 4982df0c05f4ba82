// Package destmap implements the destination-port-to-backend-IP lookup
// table: an external collaborator the core only ever reads from.
// Configuration loading uses github.com/gocarina/gocsv to marshal and
// unmarshal simple (port, backend_ip) rows read once at boot.
package destmap

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/gocarina/gocsv"
)

// entry is one row of the destination-map CSV file.
type entry struct {
	Port      uint16 `csv:"port"`
	BackendIP string `csv:"backend_ip"`
}

// Map is a flat per-port array of backend addresses. Writes happen only at
// configuration time, before packets flow; Get is the only operation the
// pipeline's hot path calls.
type Map struct {
	backends [65536]uint32
	present  [65536]bool
}

// New returns an empty Map.
func New() *Map {
	return &Map{}
}

// Set installs or overwrites the backend for a destination port. It is only
// ever called during configuration loading, never from the packet path.
func (m *Map) Set(port uint16, backendIP uint32) {
	m.backends[port] = backendIP
	m.present[port] = true
}

// Get returns the backend IP bound to a destination port, or ok=false if
// that port is not tracked.
func (m *Map) Get(port uint16) (ip uint32, ok bool) {
	return m.backends[port], m.present[port]
}

func ipToUint32(ip net.IP) (uint32, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("destmap: %v is not an IPv4 address", ip)
	}
	return binary.BigEndian.Uint32(v4), nil
}

// Load reads a CSV stream of "port,backend_ip" rows (header:
// "port,backend_ip") into a new Map.
func Load(r io.Reader) (*Map, error) {
	var entries []entry
	if err := gocsv.Unmarshal(r, &entries); err != nil {
		return nil, fmt.Errorf("destmap: %w", err)
	}
	m := New()
	for _, e := range entries {
		ip := net.ParseIP(e.BackendIP)
		if ip == nil {
			return nil, fmt.Errorf("destmap: invalid backend_ip %q for port %d", e.BackendIP, e.Port)
		}
		v4, err := ipToUint32(ip)
		if err != nil {
			return nil, err
		}
		m.Set(e.Port, v4)
	}
	return m, nil
}

// Dump writes the Map's configured entries back out as CSV, in port order.
// Used by cmd/destmaptool to validate a config file round-trips.
func Dump(w io.Writer, m *Map) error {
	entries := make([]entry, 0, 16)
	for port := 0; port < len(m.present); port++ {
		if !m.present[port] {
			continue
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], m.backends[port])
		entries = append(entries, entry{
			Port:      uint16(port),
			BackendIP: net.IP(buf[:]).String(),
		})
	}
	return gocsv.Marshal(entries, w)
}
