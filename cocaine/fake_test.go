package cocaine

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

type peer struct {
	conn net.Conn
	mu   sync.Mutex
	bw   *bufio.Writer
	enc  *msgpack.Encoder
}

func (p *peer) send(channel, typ uint64, args any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enc.Encode(&frame{channel: channel, typ: typ, args: args})
	p.bw.Flush()
}

func (p *peer) value(channel uint64, args ...any) { p.send(channel, typeValue, args) }
func (p *peer) write(channel uint64, args ...any) { p.send(channel, typeWrite, args) }
func (p *peer) close(channel uint64)              { p.send(channel, typeClose, nil) }

func (p *peer) error(channel uint64, category, code int, message string) {
	p.send(channel, typeError, []any{[]any{category, code}, message})
}

// fakeServer speaks the wire protocol and calls handle for every frame it
// receives.
type fakeServer struct {
	ln     net.Listener
	handle func(p *peer, f frame)
	mu     sync.Mutex
	peers  []*peer
}

func newFakeServer(t *testing.T, handle func(p *peer, f frame)) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := &fakeServer{ln: ln, handle: handle}
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		bw := bufio.NewWriter(conn)
		p := &peer{conn: conn, bw: bw, enc: msgpack.NewEncoder(bw)}
		s.mu.Lock()
		s.peers = append(s.peers, p)
		s.mu.Unlock()

		go func() {
			dec := msgpack.NewDecoder(bufio.NewReader(conn))
			for {
				var f frame
				if err := dec.Decode(&f); err != nil {
					conn.Close()
					return
				}

				s.handle(p, f)
			}
		}()
	}
}

func (s *fakeServer) endpoint() Endpoint {
	addr := s.ln.Addr().(*net.TCPAddr)
	return Endpoint{Host: addr.IP.String(), Port: addr.Port}
}

// dropConnections closes the accepted connections.
func (s *fakeServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		p.conn.Close()
	}

	s.peers = nil
}

func (s *fakeServer) close() {
	s.ln.Close()
	s.dropConnections()
}

// staticResolver resolves every name to the same endpoints.
type staticResolver []Endpoint

func (r staticResolver) Resolve(_ context.Context, name string) (*ResolveInfo, error) {
	return &ResolveInfo{Endpoints: r, Version: 1}, nil
}

// openChannels returns the number of channels registered on the current
// connection of a service.
func openChannels(svc *Service) int {
	svc.mu.Lock()
	s := svc.session
	svc.mu.Unlock()
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

func mustUnmarshal(t *testing.T, raw msgpack.RawMessage, v any) {
	t.Helper()
	if err := msgpack.Unmarshal(raw, v); err != nil {
		t.Fatal(err)
	}
}
