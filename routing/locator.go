package routing

import (
	"context"

	"github.com/cocaine/rpcproxy/cocaine"
)

// LocatorSource subscribes to the routing updates of the cocaine locator.
type LocatorSource struct {
	Locator *cocaine.Locator
}

type locatorStream struct {
	stream *cocaine.RoutingStream
}

func (s LocatorSource) Subscribe(ctx context.Context, uid string) (Stream, error) {
	rs, err := s.Locator.Routing(ctx, uid, true)
	if err != nil {
		return nil, err
	}

	return locatorStream{stream: rs}, nil
}

// TableFromUpdate converts the continuums received from the locator.
func TableFromUpdate(u cocaine.RoutingUpdate) Table {
	t := make(Table, len(u))
	for name, points := range u {
		r := make(Ring, 0, len(points))
		for _, p := range points {
			r = append(r, Point{Boundary: p.Boundary, Version: p.Version})
		}

		t[name] = r.sorted()
	}

	return t
}

func (s locatorStream) Next(ctx context.Context) (Table, error) {
	u, err := s.stream.Next(ctx)
	if err != nil {
		return nil, err
	}

	return TableFromUpdate(u), nil
}

func (s locatorStream) Close() {
	s.stream.Close()
}
