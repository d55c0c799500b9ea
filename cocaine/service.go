package cocaine

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// service protocol
const typeEnqueue = 0

const defaultDialTimeout = 5 * time.Second

var lastServiceID atomic.Uint64

// Endpoint is a TCP address as reported by the locator.
type Endpoint struct {
	_msgpack struct{} `msgpack:",as_array"`
	Host     string
	Port     int
}

// ParseEndpoint parses host:port. IPv6 hosts need to be in brackets.
func ParseEndpoint(s string) (Endpoint, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, err
	}

	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 0xffff {
		return Endpoint{}, fmt.Errorf("invalid port: %s", s)
	}

	return Endpoint{Host: host, Port: p}, nil
}

func (e Endpoint) Network() string { return "tcp" }
func (e Endpoint) Address() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }
func (e Endpoint) String() string  { return e.Address() }

// ServiceResolver resolves service names to endpoints. It is implemented by
// the Locator.
type ServiceResolver interface {
	Resolve(ctx context.Context, name string) (*ResolveInfo, error)
}

// Service is a lazily connected handle to a named service, typically an
// application. A Service reconnects on demand after it was disconnected.
type Service struct {
	id       uint64
	name     string
	resolver ServiceResolver
	dialer   *net.Dialer

	mu       sync.Mutex
	session  *session
	endpoint Endpoint
}

// NewService creates a disconnected service handle.
func NewService(name string, r ServiceResolver) *Service {
	return &Service{
		id:       lastServiceID.Add(1),
		name:     name,
		resolver: r,
		dialer:   &net.Dialer{Timeout: defaultDialTimeout},
	}
}

// ID is unique among the service handles of the process.
func (s *Service) ID() uint64 { return s.id }

func (s *Service) Name() string { return s.name }

// Address returns the endpoint of the current connection, or an empty string
// when not connected.
func (s *Service) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || !s.session.alive() {
		return ""
	}

	return s.endpoint.String()
}

// Connected tells whether the service holds a live connection.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil && s.session.alive()
}

// Connect resolves the service and connects to the first reachable endpoint.
// It is a noop when a live connection already exists. The trace id is used
// only for logging.
func (s *Service) Connect(ctx context.Context, traceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.connect(ctx, traceID)
	return err
}

func (s *Service) connect(ctx context.Context, traceID string) (*session, error) {
	if s.session != nil && s.session.alive() {
		return s.session, nil
	}

	s.session = nil
	info, err := s.resolver.Resolve(ctx, s.name)
	if err != nil {
		return nil, err
	}

	session, ep, err := dial(ctx, s.dialer, info.Endpoints)
	if err != nil {
		return nil, err
	}

	log.WithField("trace_id", traceID).Debugf("%d: connected to %s at %s", s.id, s.name, ep)
	s.session = session
	s.endpoint = ep
	return session, nil
}

// Disconnect closes the connection, failing every open channel with
// ErrDisconnected. The next Connect or Enqueue connects again.
func (s *Service) Disconnect() {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.mu.Unlock()

	if session != nil {
		session.close()
	}
}

// Enqueue opens a channel to the event handler of the application,
// connecting first when necessary. Failing to connect is reported as
// ErrDisconnected.
func (s *Service) Enqueue(ctx context.Context, event string, t *Trace) (*Channel, error) {
	s.mu.Lock()
	session, err := s.connect(ctx, "")
	s.mu.Unlock()
	if err != nil {
		return nil, disconnected(err)
	}

	id, rx, err := session.open(typeEnqueue, []any{event}, t)
	if err != nil {
		return nil, err
	}

	return &Channel{session: session, id: id, rx: rx}, nil
}
