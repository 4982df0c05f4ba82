// Package trace implements the per-packet trace record and sink: a record
// emitted whenever tracing is armed for a buffer, broadcast over a
// Unix-domain socket as a JSONL event stream to any number of connected
// readers.
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/m-lab/go/anonymize"
)

// Record is the trace record emitted when tracing is armed for a buffer.
type Record struct {
	Timestamp    time.Time
	SrcPort      uint16
	DstPort      uint16
	SrcIP        string
	DstIP        string
	Variant      string
	PktCount     uint32
	SessionIndex int    `json:",omitempty"`
	Generation   uint64 `json:",omitempty"`
}

// Sink is the interface the pipeline depends on to emit trace records. The
// pipeline only ever calls Emit; Listen/Serve are for the process wiring
// the sink up to a transport.
type Sink interface {
	Emit(r Record)
}

// Server is a Unix-domain-socket trace sink: every connected reader
// receives every emitted record as a JSON line, broadcast to all clients.
type Server struct {
	recordC      chan Record
	filename     string
	clients      map[net.Conn]struct{}
	unixListener net.Listener
	mutex        sync.Mutex
	servingWG    sync.WaitGroup
	anonymizer   anonymize.IPAnonymizer
}

// New creates a Server that will serve clients on the given Unix domain
// socket path once Listen and Serve are called. If anon is non-nil, trace
// records have their IPs anonymized before being broadcast.
func New(filename string, anon anonymize.IPAnonymizer) *Server {
	return &Server{
		recordC:    make(chan Record, 256),
		filename:   filename,
		clients:    make(map[net.Conn]struct{}),
		anonymizer: anon,
	}
}

func (s *Server) addClient(c net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c net.Conn) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
}

func (s *Server) sendToAllListeners(data string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for c := range s.clients {
		if _, err := fmt.Fprintln(c, data); err != nil {
			log.Println("Write to trace client", c, "failed:", err, "- removing the client.")
			go s.removeClient(c)
			go c.Close()
		}
	}
}

func (s *Server) anonymize(r *Record) {
	if s.anonymizer == nil {
		return
	}
	if ip := net.ParseIP(r.SrcIP); ip != nil {
		s.anonymizer.IP(ip)
		r.SrcIP = ip.String()
	}
	if ip := net.ParseIP(r.DstIP); ip != nil {
		s.anonymizer.IP(ip)
		r.DstIP = ip.String()
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	for ctx.Err() == nil {
		r, ok := <-s.recordC
		if !ok {
			return
		}
		s.anonymize(&r)
		b, err := json.Marshal(r)
		if err != nil {
			log.Println("WARNING: could not marshal trace record:", err)
			continue
		}
		s.sendToAllListeners(string(b))
	}
}

// Listen opens the Unix domain socket. Serve must be called afterward for
// connections to actually be accepted.
func (s *Server) Listen() error {
	s.servingWG.Add(1)
	os.Remove(s.filename)
	var err error
	s.unixListener, err = net.Listen("unix", s.filename)
	return err
}

// Serve accepts clients until ctx is canceled. It should be run in a
// goroutine after Listen.
func (s *Server) Serve(ctx context.Context) error {
	defer s.servingWG.Done()
	derivedCtx, derivedCancel := context.WithCancel(ctx)
	defer derivedCancel()

	go s.broadcastLoop(derivedCtx)

	s.servingWG.Add(1)
	go func() {
		<-derivedCtx.Done()
		s.unixListener.Close()
		close(s.recordC)
		s.servingWG.Done()
	}()

	var err error
	for derivedCtx.Err() == nil {
		var conn net.Conn
		conn, err = s.unixListener.Accept()
		if err != nil {
			log.Printf("Could not Accept on trace socket %q: %s\n", s.filename, err)
			continue
		}
		s.addClient(conn)
	}
	return err
}

// Emit implements Sink. It never blocks the packet path on I/O: it only
// enqueues onto a buffered channel drained by broadcastLoop.
func (s *Server) Emit(r Record) {
	select {
	case s.recordC <- r:
	default:
		// Drop rather than block the hot path if no one is draining fast
		// enough; trace emission is a best-effort diagnostic, never a
		// correctness dependency.
	}
}

type nullSink struct{}

func (nullSink) Emit(Record) {}

// NullSink returns a Sink that discards every record, for pipelines run
// with tracing disarmed.
func NullSink() Sink { return nullSink{} }
