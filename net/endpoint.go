package net

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	unixPrefix = "unix://"
	tcpPrefix  = "tcp://"
)

// Endpoint is an address that the proxy listens on.
type Endpoint struct {

	// Network is either "tcp" or "unix".
	Network string

	// Address is host:port for tcp, and the path of the socket for unix.
	Address string
}

func (e Endpoint) String() string {
	return e.Network + "://" + e.Address
}

// ParseEndpoint parses endpoints in the form of unix:///path/to/socket or
// tcp://host:port. IPv6 hosts need to be in brackets.
func ParseEndpoint(s string) (Endpoint, error) {
	switch {
	case strings.HasPrefix(s, unixPrefix):
		path := strings.TrimPrefix(s, unixPrefix)
		if path == "" {
			return Endpoint{}, fmt.Errorf("endpoint has no socket path: %s", s)
		}

		return Endpoint{Network: "unix", Address: path}, nil
	case strings.HasPrefix(s, tcpPrefix):
		raw := strings.TrimPrefix(s, tcpPrefix)
		if !strings.Contains(raw, ":") {
			return Endpoint{}, fmt.Errorf("endpoint has to contain host:port: %s", s)
		}

		if strings.Count(raw, ":") > 1 && !strings.HasPrefix(raw, "[") {
			return Endpoint{}, fmt.Errorf("invalid IPv6 address: %s", s)
		}

		host, port, err := net.SplitHostPort(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("invalid endpoint %s: %w", s, err)
		}

		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return Endpoint{}, fmt.Errorf("invalid port in endpoint %s", s)
		}

		return Endpoint{Network: "tcp", Address: net.JoinHostPort(host, port)}, nil
	default:
		return Endpoint{}, fmt.Errorf("endpoint has to begin either unix:// or tcp://: %s", s)
	}
}

// ParseEndpoints parses a list of endpoints.
func ParseEndpoints(s []string) ([]Endpoint, error) {
	var endpoints []Endpoint
	for _, si := range s {
		e, err := ParseEndpoint(si)
		if err != nil {
			return nil, err
		}

		endpoints = append(endpoints, e)
	}

	return endpoints, nil
}
