package servicecache

import (
	"context"

	"github.com/cocaine/rpcproxy/cocaine"
)

// Exchange is the channel of a single request to an application.
type Exchange interface {
	Write(chunk []byte, t *cocaine.Trace) error
	CloseSend(t *cocaine.Trace) error
	Get(ctx context.Context) ([]byte, error)

	// Close releases the channel, whether the reply was read or not.
	Close()
}

// Conn is a connection to an application instance. It is implemented by the
// cocaine services, see ServiceConn.
type Conn interface {
	ID() uint64
	Name() string
	Address() string
	Connect(ctx context.Context, traceID string) error
	Disconnect()
	Enqueue(ctx context.Context, event string, t *cocaine.Trace) (Exchange, error)
}

type serviceConn struct {
	*cocaine.Service
}

// ServiceConn wraps a cocaine service as a Conn.
func ServiceConn(s *cocaine.Service) Conn {
	return serviceConn{Service: s}
}

func (c serviceConn) Enqueue(ctx context.Context, event string, t *cocaine.Trace) (Exchange, error) {
	ch, err := c.Service.Enqueue(ctx, event, t)
	if err != nil {
		return nil, err
	}

	return ch, nil
}

// Dialer returns a Conn factory creating cocaine services resolved by the
// locator.
func Dialer(r cocaine.ServiceResolver) func(name string) Conn {
	return func(name string) Conn {
		return ServiceConn(cocaine.NewService(name, r))
	}
}
