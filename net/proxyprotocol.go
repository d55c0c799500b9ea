package net

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/pires/go-proxyproto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultReadHeaderTimeout = time.Second
	defaultReadBufferSize    = 256
)

// ProxyProtocolOptions configure the PROXY protocol support of the
// listeners, used when the proxy runs behind a TCP load balancer.
type ProxyProtocolOptions struct {
	ReadHeaderTimeout time.Duration
	ReadBufferSize    int

	// AllowListCIDRs are the addresses of the load balancers allowed to
	// send the PROXY header. When empty, the header is accepted from
	// every client.
	AllowListCIDRs []string
}

// NewProxyProtocolListener wraps a listener, and takes the client address
// of the accepted connections from the PROXY protocol header.
func NewProxyProtocolListener(l net.Listener, o ProxyProtocolOptions) (net.Listener, error) {
	if o.ReadHeaderTimeout == 0 {
		o.ReadHeaderTimeout = defaultReadHeaderTimeout
	}

	if o.ReadBufferSize == 0 {
		o.ReadBufferSize = defaultReadBufferSize
	}

	allowSet, err := ParseIPCIDRs(o.AllowListCIDRs)
	if err != nil {
		return nil, fmt.Errorf("failed to parse allow list: %w", err)
	}

	allowAll := len(o.AllowListCIDRs) == 0
	policy := func(cpo proxyproto.ConnPolicyOptions) (proxyproto.Policy, error) {
		if allowAll {
			return proxyproto.USE, nil
		}

		host, _, err := net.SplitHostPort(cpo.Upstream.String())
		if err != nil {
			return proxyproto.REJECT, err
		}

		addr, err := netip.ParseAddr(host)
		if err != nil {
			return proxyproto.REJECT, err
		}

		if allowSet.Contains(addr.Unmap()) {
			return proxyproto.USE, nil
		}

		log.Debugf("PROXY header from %s is not allowed", addr)
		return proxyproto.REJECT, nil
	}

	return &proxyproto.Listener{
		Listener:          l,
		ReadHeaderTimeout: o.ReadHeaderTimeout,
		ReadBufferSize:    o.ReadBufferSize,
		ConnPolicy:        policy,
		ValidateHeader: func(h *proxyproto.Header) error {
			if h == nil {
				return fmt.Errorf("proxy protocol: header is nil")
			}

			if h.TransportProtocol != proxyproto.TCPv4 && h.TransportProtocol != proxyproto.TCPv6 {
				return fmt.Errorf("proxy protocol: unsupported protocol %v", h.TransportProtocol)
			}

			return nil
		},
	}, nil
}
