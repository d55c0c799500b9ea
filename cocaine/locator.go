package cocaine

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// locator protocol
const (
	typeResolve = 0
	typeCluster = 3
	typeRouting = 5
)

// DefaultLocatorPort is the port of the locator when only a host is known.
const DefaultLocatorPort = 10053

// ResolveInfo is the answer of the locator to a resolve request.
type ResolveInfo struct {
	_msgpack  struct{} `msgpack:",as_array"`
	Endpoints []Endpoint
	Version   int
	API       msgpack.RawMessage
}

// RingPoint is an element of a routing group's continuum. Versions own the
// range of seeds up to their boundary.
type RingPoint struct {
	_msgpack struct{} `msgpack:",as_array"`
	Boundary uint64
	Version  string
}

// RoutingUpdate maps routing group names to their continuum.
type RoutingUpdate map[string][]RingPoint

// Locator is a client of the cocaine locator service. It keeps a single
// connection, dialing the configured endpoints in order on demand.
type Locator struct {
	endpoints []Endpoint
	dialer    *net.Dialer

	mu      sync.Mutex
	session *session
}

// NewLocator creates a locator client. Nothing is dialed until the first
// request.
func NewLocator(endpoints []Endpoint) *Locator {
	return &Locator{
		endpoints: endpoints,
		dialer:    &net.Dialer{Timeout: defaultDialTimeout},
	}
}

// Endpoints returns the configured locator endpoints.
func (l *Locator) Endpoints() []Endpoint {
	return l.endpoints
}

func (l *Locator) connect(ctx context.Context) (*session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != nil && l.session.alive() {
		return l.session, nil
	}

	s, _, err := dial(ctx, l.dialer, l.endpoints)
	if err != nil {
		return nil, err
	}

	l.session = s
	return s, nil
}

func (l *Locator) call(ctx context.Context, typ uint64, args any) (*session, uint64, *stream, error) {
	s, err := l.connect(ctx)
	if err != nil {
		return nil, 0, nil, err
	}

	id, st, err := s.open(typ, args, nil)
	if err != nil {
		return nil, 0, nil, err
	}

	return s, id, st, nil
}

// value reads the single reply of a primitive method into v.
func (l *Locator) value(ctx context.Context, typ uint64, args, v any) error {
	s, id, st, err := l.call(ctx, typ, args)
	if err != nil {
		return err
	}

	defer s.release(id)

	f, err := st.pop(ctx)
	if err != nil {
		return err
	}

	switch f.typ {
	case typeValue:
		return decodeArgs(f.raw, v)
	case typeError:
		return decodeError(f.raw)
	default:
		return fmt.Errorf("%w: unexpected message type %d", errProtocol, f.typ)
	}
}

// Resolve returns the endpoints of a service.
func (l *Locator) Resolve(ctx context.Context, name string) (*ResolveInfo, error) {
	var info ResolveInfo
	if err := l.value(ctx, typeResolve, []any{name}, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

type clusterArgs struct {
	_msgpack struct{} `msgpack:",as_array"`
	Nodes    map[string]Endpoint
}

// Cluster returns the nodes known to the locator by their uuid.
func (l *Locator) Cluster(ctx context.Context) (map[string]Endpoint, error) {
	var a clusterArgs
	if err := l.value(ctx, typeCluster, nil, &a); err != nil {
		return nil, err
	}

	return a.Nodes, nil
}

// Close closes the connection to the locator, failing the open calls and
// routing subscriptions.
func (l *Locator) Close() {
	l.mu.Lock()
	s := l.session
	l.session = nil
	l.mu.Unlock()

	if s != nil {
		s.close()
	}
}

// RoutingStream delivers the updates of the routing groups.
type RoutingStream struct {
	session *session
	id      uint64
	rx      *stream
}

type routingArgs struct {
	_msgpack struct{} `msgpack:",as_array"`
	Groups   RoutingUpdate
}

// Routing subscribes to the updates of the routing groups. The uid
// identifies the subscriber.
func (l *Locator) Routing(ctx context.Context, uid string, active bool) (*RoutingStream, error) {
	s, id, st, err := l.call(ctx, typeRouting, []any{uid, active})
	if err != nil {
		return nil, err
	}

	return &RoutingStream{session: s, id: id, rx: st}, nil
}

// Next blocks until the next update arrives. It returns ErrEndOfStream when
// the locator closed the subscription.
func (r *RoutingStream) Next(ctx context.Context) (RoutingUpdate, error) {
	f, err := r.rx.pop(ctx)
	if err != nil {
		return nil, err
	}

	switch f.typ {
	case typeWrite:
		var a routingArgs
		if err := decodeArgs(f.raw, &a); err != nil {
			return nil, err
		}

		return a.Groups, nil
	case typeError:
		err := decodeError(f.raw)
		r.Close()
		return nil, err
	case typeClose:
		r.Close()
		return nil, ErrEndOfStream
	default:
		return nil, fmt.Errorf("%w: unexpected message type %d", errProtocol, f.typ)
	}
}

// Close stops receiving updates on the subscription.
func (r *RoutingStream) Close() {
	r.rx.fail(ErrEndOfStream)
	r.session.release(r.id)
}
