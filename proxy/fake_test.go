package proxy

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cocaine/rpcproxy/cocaine"
	"github.com/cocaine/rpcproxy/servicecache"
)

var lastConnID atomic.Uint64

type step struct {
	chunk []byte
	err   error
	block bool
}

type enqueued struct {
	conn     uint64
	name     string
	event    string
	envelope envelope
	trace    *cocaine.Trace
}

// fakeApp plays the application instances behind the connections of the
// cache. The replies are scripted by the number of the enqueued events.
type fakeApp struct {
	connectErr error
	replies    func(n int, e enqueued) []step

	mu          sync.Mutex
	dialed      []string
	enqueued    []enqueued
	connects    int
	disconnects int
	exchanges   int
	closed      int
}

func (a *fakeApp) dial(name string) servicecache.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dialed = append(a.dialed, name)
	return &fakeConn{id: lastConnID.Add(1), name: name, app: a}
}

func (a *fakeApp) calls() []enqueued {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]enqueued(nil), a.enqueued...)
}

// unclosed returns the number of exchanges that were not closed.
func (a *fakeApp) unclosed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exchanges - a.closed
}

func (a *fakeApp) counts() (dialed, connects, disconnects int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.dialed), a.connects, a.disconnects
}

type fakeConn struct {
	id   uint64
	name string
	app  *fakeApp
}

func (c *fakeConn) ID() uint64      { return c.id }
func (c *fakeConn) Name() string    { return c.name }
func (c *fakeConn) Address() string { return "127.0.0.1:10054" }

func (c *fakeConn) Connect(ctx context.Context, traceID string) error {
	c.app.mu.Lock()
	defer c.app.mu.Unlock()
	c.app.connects++
	return c.app.connectErr
}

func (c *fakeConn) Disconnect() {
	c.app.mu.Lock()
	defer c.app.mu.Unlock()
	c.app.disconnects++
}

func (c *fakeConn) Enqueue(ctx context.Context, event string, t *cocaine.Trace) (servicecache.Exchange, error) {
	c.app.mu.Lock()
	defer c.app.mu.Unlock()
	c.app.exchanges++
	return &fakeExchange{conn: c, event: event, trace: t}, nil
}

type fakeExchange struct {
	conn     *fakeConn
	event    string
	trace    *cocaine.Trace
	envelope []byte
	steps    []step
	closed   bool
}

func (x *fakeExchange) Close() {
	if x.closed {
		return
	}

	x.closed = true
	x.conn.app.mu.Lock()
	x.conn.app.closed++
	x.conn.app.mu.Unlock()
}

func (x *fakeExchange) Write(chunk []byte, t *cocaine.Trace) error {
	x.envelope = append(x.envelope, chunk...)
	return nil
}

func (x *fakeExchange) CloseSend(t *cocaine.Trace) error {
	var env envelope
	if err := msgpack.Unmarshal(x.envelope, &env); err != nil {
		return err
	}

	e := enqueued{conn: x.conn.id, name: x.conn.name, event: x.event, envelope: env, trace: x.trace}
	a := x.conn.app
	a.mu.Lock()
	n := len(a.enqueued)
	a.enqueued = append(a.enqueued, e)
	a.mu.Unlock()

	if a.replies != nil {
		x.steps = a.replies(n, e)
	}

	return nil
}

func (x *fakeExchange) Get(ctx context.Context) ([]byte, error) {
	if len(x.steps) == 0 {
		return nil, cocaine.ErrEndOfStream
	}

	s := x.steps[0]
	x.steps = x.steps[1:]
	switch {
	case s.block:
		<-ctx.Done()
		return nil, ctx.Err()
	case s.err != nil:
		return nil, s.err
	default:
		return s.chunk, nil
	}
}

type fakeRouter struct {
	timeout  time.Duration
	versions map[string]string

	mu      sync.Mutex
	seeds   []uint64
	lookups []string
}

func (r *fakeRouter) Timeout(name, event string) time.Duration {
	r.mu.Lock()
	r.lookups = append(r.lookups, name+"/"+event)
	r.mu.Unlock()
	if r.timeout > 0 {
		return r.timeout
	}

	return time.Second
}

func (r *fakeRouter) ResolveGroupToVersion(name string, seed uint64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seeds = append(r.seeds, seed)
	if v, ok := r.versions[name]; ok {
		return v
	}

	return name
}

type fakeHealth bool

func (h fakeHealth) Healthy() bool { return bool(h) }

func replyHeadChunk(code int, headers ...string) step {
	var pairs [][]string
	for i := 0; i+1 < len(headers); i += 2 {
		pairs = append(pairs, []string{headers[i], headers[i+1]})
	}

	b, err := msgpack.Marshal(&replyHead{Code: code, Headers: pairs})
	if err != nil {
		panic(err)
	}

	return step{chunk: b}
}

func chunks(s ...string) []step {
	var steps []step
	for _, si := range s {
		steps = append(steps, step{chunk: []byte(si)})
	}

	return steps
}

// buffered is a successful reply with a Content-Length.
func buffered(code int, body string) []step {
	return append([]step{replyHeadChunk(code, "Content-Length", strconv.Itoa(len(body)))}, chunks(body)...)
}

func failWith(err error) []step {
	return []step{{err: err}}
}

var (
	errLost       = fmt.Errorf("%w: connection reset by peer", cocaine.ErrDisconnected)
	errRestarted  = &cocaine.ServiceError{Category: cocaine.CategorySystem, Code: cocaine.EPIPE, Message: "broken pipe"}
	errOverloaded = &cocaine.ServiceError{Category: cocaine.CategoryOverseer, Code: cocaine.EQueueIsFull, Message: "queue is full"}
	errApp        = &cocaine.ServiceError{Category: 42, Code: 7, Message: "division by zero"}
)

func newTestCache(t *testing.T, app *fakeApp, cacheCount int) *servicecache.Cache {
	c := servicecache.New(servicecache.Options{
		CacheCount: cacheCount,
		Dial:       app.dial,
		Clock:      clockwork.NewFakeClock(),
	})

	t.Cleanup(c.Close)
	return c
}

func newTestProxy(t *testing.T, app *fakeApp, p Params) *Proxy {
	if p.Cache == nil {
		p.Cache = newTestCache(t, app, 1)
	}

	if p.Router == nil {
		p.Router = &fakeRouter{}
	}

	return New(p)
}
