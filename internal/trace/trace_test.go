package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-lab/go/anonymize"
)

func TestNullSinkDiscards(t *testing.T) {
	// Must not panic or block; there is nothing else to observe.
	NullSink().Emit(Record{SrcPort: 1})
}

func TestEmitDoesNotBlockWhenChannelFull(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "trace.sock"), nil)
	for i := 0; i < cap(s.recordC)+10; i++ {
		s.Emit(Record{SrcPort: uint16(i)})
	}
	// If Emit blocked on a full channel this test would hang rather than
	// reach this point.
}

func TestAnonymizeNoneLeavesIPsUnchanged(t *testing.T) {
	s := &Server{anonymizer: anonymize.New(anonymize.None)}
	r := Record{SrcIP: "192.168.1.10", DstIP: "10.0.0.5"}
	s.anonymize(&r)
	if r.SrcIP != "192.168.1.10" || r.DstIP != "10.0.0.5" {
		t.Fatalf("anonymize.None changed addresses: %+v", r)
	}
}

func TestAnonymizeNetblockProducesValidAddresses(t *testing.T) {
	s := &Server{anonymizer: anonymize.New(anonymize.Netblock)}
	r := Record{SrcIP: "192.168.1.10", DstIP: "10.0.0.5"}
	s.anonymize(&r)
	if net.ParseIP(r.SrcIP) == nil {
		t.Fatalf("anonymized SrcIP %q is not a valid address", r.SrcIP)
	}
	if net.ParseIP(r.DstIP) == nil {
		t.Fatalf("anonymized DstIP %q is not a valid address", r.DstIP)
	}
}

func TestAnonymizeNilSkipsRewrite(t *testing.T) {
	s := &Server{}
	r := Record{SrcIP: "192.168.1.10", DstIP: "10.0.0.5"}
	s.anonymize(&r)
	if r.SrcIP != "192.168.1.10" || r.DstIP != "10.0.0.5" {
		t.Fatalf("a nil anonymizer should leave addresses untouched: %+v", r)
	}
}

func TestServeBroadcastsRecordsToClients(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "trace.sock")
	s := New(sockPath, nil)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx)

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Give Serve's Accept loop a moment to register the new client before
	// we emit, since addClient happens asynchronously relative to Dial
	// returning.
	time.Sleep(50 * time.Millisecond)

	want := Record{SrcPort: 1234, DstPort: 80, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Variant: "TCP", PktCount: 1}
	s.Emit(want)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("did not receive a broadcast line: %v", scanner.Err())
	}

	var got Record
	if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
		t.Fatalf("could not unmarshal broadcast record: %v", err)
	}
	if got.SrcPort != want.SrcPort || got.DstPort != want.DstPort || got.Variant != want.Variant {
		t.Fatalf("got record %+v, want %+v", got, want)
	}
}
