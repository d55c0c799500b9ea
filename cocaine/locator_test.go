package cocaine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestLocatorResolve(t *testing.T) {
	app := Endpoint{Host: "::1", Port: 42000}
	s := newFakeServer(t, func(p *peer, f frame) {
		if f.typ != typeResolve {
			return
		}

		var args []string
		msgpack.Unmarshal(f.raw, &args)
		if args[0] != "app" {
			p.error(f.channel, CategoryLocator, EServiceNotAvailable, "service is not available")
			return
		}

		p.value(f.channel, []Endpoint{app}, 3, map[int]any{0: []any{"enqueue", map[int]any{}, map[int]any{}}})
	})

	l := NewLocator([]Endpoint{{Host: "127.0.0.1", Port: 1}, s.endpoint()})
	defer l.Close()

	info, err := l.Resolve(testContext(t), "app")
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{app}, info.Endpoints)
	assert.Equal(t, 3, info.Version)

	_, err = l.Resolve(testContext(t), "missing")
	var serr *ServiceError
	require.ErrorAs(t, err, &serr)
	assert.True(t, serr.NotAvailable())
}

func TestLocatorCluster(t *testing.T) {
	s := newFakeServer(t, func(p *peer, f frame) {
		if f.typ == typeCluster {
			p.value(f.channel, map[string]Endpoint{"node": {Host: "10.0.0.1", Port: 10053}})
		}
	})

	l := NewLocator([]Endpoint{s.endpoint()})
	defer l.Close()

	nodes, err := l.Cluster(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, map[string]Endpoint{"node": {Host: "10.0.0.1", Port: 10053}}, nodes)
}

func TestLocatorReconnects(t *testing.T) {
	s := newFakeServer(t, func(p *peer, f frame) {
		p.value(f.channel, map[string]Endpoint{})
	})

	l := NewLocator([]Endpoint{s.endpoint()})
	defer l.Close()

	_, err := l.Cluster(testContext(t))
	require.NoError(t, err)

	s.dropConnections()
	assert.Eventually(t, func() bool {
		_, err := l.Cluster(testContext(t))
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestLocatorRouting(t *testing.T) {
	subscribed := make(chan []any, 1)
	s := newFakeServer(t, func(p *peer, f frame) {
		if f.typ != typeRouting {
			return
		}

		var args []any
		msgpack.Unmarshal(f.raw, &args)
		subscribed <- args

		p.write(f.channel, RoutingUpdate{"group": {{Boundary: 1 << 31, Version: "v1"}, {Boundary: 1 << 32, Version: "v2"}}})
		p.write(f.channel, RoutingUpdate{})
		p.close(f.channel)
	})

	l := NewLocator([]Endpoint{s.endpoint()})
	defer l.Close()

	ctx := testContext(t)
	rs, err := l.Routing(ctx, "proxy:uid", true)
	require.NoError(t, err)
	assert.Equal(t, []any{"proxy:uid", true}, <-subscribed)

	u, err := rs.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoutingUpdate{"group": {{Boundary: 1 << 31, Version: "v1"}, {Boundary: 1 << 32, Version: "v2"}}}, u)

	u, err = rs.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, u)

	_, err = rs.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestParseEndpoint(t *testing.T) {
	for _, test := range []struct {
		input    string
		expected Endpoint
		fail     bool
	}{
		{input: "localhost:10053", expected: Endpoint{Host: "localhost", Port: 10053}},
		{input: "[::1]:10053", expected: Endpoint{Host: "::1", Port: 10053}},
		{input: "localhost", fail: true},
		{input: "localhost:0", fail: true},
		{input: "localhost:http", fail: true},
	} {
		t.Run(test.input, func(t *testing.T) {
			ep, err := ParseEndpoint(test.input)
			if test.fail {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expected, ep)
			assert.Equal(t, test.input, ep.String())
		})
	}
}

func TestParseTrace(t *testing.T) {
	tr, err := ParseTrace("00000000000000ff")
	require.NoError(t, err)
	assert.Equal(t, &Trace{TraceID: 255, SpanID: 255}, tr)

	_, err = ParseTrace("not-hex")
	assert.Error(t, err)

	assert.Equal(t, tr, traceFromHeaders(tr.headers()))
	assert.Nil(t, traceFromHeaders(nil))
}
