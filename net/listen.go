package net

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"syscall"

	log "github.com/sirupsen/logrus"
)

const unixSocketMode = 0o666

// ListenOptions configure the listeners of the proxy.
type ListenOptions struct {

	// ReusePort sets SO_REUSEPORT on the tcp listeners, so that more
	// processes can share a port.
	ReusePort bool

	// ProxyProtocol, when set, enables the PROXY protocol on the tcp
	// listeners.
	ProxyProtocol *ProxyProtocolOptions
}

func listenConfig(o ListenOptions) *net.ListenConfig {
	lc := &net.ListenConfig{}
	if !o.ReusePort {
		return lc
	}

	if !reusePortSupported {
		log.Warn("SO_REUSEPORT is not supported on this system")
		return lc
	}

	lc.Control = func(network, address string, c syscall.RawConn) error {
		var serr error
		if err := c.Control(func(fd uintptr) { serr = setReusePort(fd) }); err != nil {
			return err
		}

		return serr
	}

	return lc
}

// Listen opens a listener on an endpoint. Stale unix sockets are removed
// before listening, and the new ones are made accessible to every user.
// The socket file is removed when the listener is closed.
func Listen(ctx context.Context, e Endpoint, o ListenOptions) (net.Listener, error) {
	switch e.Network {
	case "unix":
		if err := os.Remove(e.Address); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale socket %s: %w", e.Address, err)
		}

		l, err := (&net.ListenConfig{}).Listen(ctx, "unix", e.Address)
		if err != nil {
			return nil, err
		}

		if err := os.Chmod(e.Address, unixSocketMode); err != nil {
			l.Close()
			return nil, err
		}

		return l, nil
	case "tcp":
		l, err := listenConfig(o).Listen(ctx, "tcp", e.Address)
		if err != nil {
			return nil, err
		}

		if o.ProxyProtocol == nil {
			return l, nil
		}

		pl, err := NewProxyProtocolListener(l, *o.ProxyProtocol)
		if err != nil {
			l.Close()
			return nil, err
		}

		return pl, nil
	default:
		return nil, fmt.Errorf("unsupported network: %s", e.Network)
	}
}
