package servicecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocaine/rpcproxy/circuit"
	"github.com/cocaine/rpcproxy/cocaine"
	"github.com/cocaine/rpcproxy/metrics/metricstest"
)

var lastConnID atomic.Uint64

type fakeConn struct {
	id     uint64
	name   string
	dialer *fakeDialer

	mu          sync.Mutex
	connected   bool
	disconnects int
}

func (c *fakeConn) ID() uint64      { return c.id }
func (c *fakeConn) Name() string    { return c.name }
func (c *fakeConn) Address() string { return "127.0.0.1:4242" }

func (c *fakeConn) Connect(ctx context.Context, traceID string) error {
	if c.dialer.block != nil {
		select {
		case <-c.dialer.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if c.dialer.fail.Load() {
		return errors.New("connection refused")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
}

func (c *fakeConn) Enqueue(context.Context, string, *cocaine.Trace) (Exchange, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects > 0
}

type fakeDialer struct {
	fail  atomic.Bool
	block chan struct{}

	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) dial(name string) Conn {
	c := &fakeConn{id: lastConnID.Add(1), name: name, dialer: d}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, c)
	return c
}

func (d *fakeDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

const (
	testRefresh = time.Hour
	testTimeout = time.Second
)

func newTestCache(cacheCount int) (*Cache, *fakeDialer, *clockwork.FakeClock) {
	d := &fakeDialer{}
	clock := clockwork.NewFakeClock()
	c := New(Options{
		CacheCount:    cacheCount,
		RefreshPeriod: testRefresh,
		Timeout:       func(string) time.Duration { return testTimeout },
		Dial:          d.dial,
		Clock:         clock,
	})

	return c, d, clock
}

func get(t *testing.T, c *Cache, name string) *Entry {
	t.Helper()
	e, err := c.GetOrCreate(context.Background(), name, "")
	require.NoError(t, err)
	return e
}

func TestSpoolSize(t *testing.T) {
	for cacheCount, expected := range map[int]int{1: 1, 2: 3, 5: 7, 10: 15} {
		assert.Equal(t, expected, SpoolSize(cacheCount))
	}
}

func TestGetOrCreateFillsPool(t *testing.T) {
	c, d, _ := newTestCache(2)
	defer c.Close()

	seen := make(map[*Entry]bool)
	for i := 0; i < 20; i++ {
		e := get(t, c, "app")
		assert.Equal(t, "app", e.Name())
		assert.Equal(t, StateActive, e.state)
		seen[e] = true
	}

	assert.Equal(t, 3, d.dialed())
	assert.Len(t, seen, 3)
	assert.Equal(t, map[string]int{"app": 3}, c.Sizes())

	get(t, c, "other")
	assert.Equal(t, map[string]int{"app": 3, "other": 1}, c.Sizes())
}

func TestGetOrCreateBoundsConcurrentCreation(t *testing.T) {
	c, d, _ := newTestCache(2)
	defer c.Close()
	d.block = make(chan struct{})

	var wg sync.WaitGroup
	entries := make(chan *Entry, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := c.GetOrCreate(context.Background(), "app", "")
			assert.NoError(t, err)
			entries <- e
		}()
	}

	assert.Eventually(t, func() bool { return d.dialed() == 3 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 3, d.dialed())

	close(d.block)
	wg.Wait()
	close(entries)
	for e := range entries {
		assert.NotNil(t, e)
	}

	assert.Equal(t, 3, d.dialed())
	assert.Equal(t, 3, c.Sizes()["app"])
}

func TestGetOrCreateWaitCanceled(t *testing.T) {
	c, d, _ := newTestCache(1)
	defer c.Close()
	d.block = make(chan struct{})
	defer close(d.block)

	go c.GetOrCreate(context.Background(), "app", "")
	assert.Eventually(t, func() bool { return d.dialed() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.GetOrCreate(ctx, "app", "")
	assert.ErrorIs(t, err, ErrNoInstance)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectFailureIsNotCached(t *testing.T) {
	c, d, _ := newTestCache(1)
	defer c.Close()

	d.fail.Store(true)
	_, err := c.GetOrCreate(context.Background(), "app", "")
	assert.ErrorIs(t, err, ErrNoInstance)
	assert.Empty(t, c.Sizes())
	assert.True(t, d.conn(0).disconnected())

	d.fail.Store(false)
	get(t, c, "app")
	assert.Equal(t, 2, d.dialed())
	assert.Equal(t, 1, c.Sizes()["app"])
}

func TestCircuitBreakerStopsConnecting(t *testing.T) {
	d := &fakeDialer{}
	c := New(Options{
		CacheCount: 1,
		Dial:       d.dial,
		Clock:      clockwork.NewFakeClock(),
		Breakers:   circuit.NewRegistry(circuit.BreakerSettings{Failures: 2, Timeout: time.Hour}),
	})
	defer c.Close()

	d.fail.Store(true)
	for i := 0; i < 4; i++ {
		_, err := c.GetOrCreate(context.Background(), "app", "")
		assert.ErrorIs(t, err, ErrNoInstance)
	}

	assert.Equal(t, 2, d.dialed())
}

func TestRefreshReplacesEntryWhenPoolIsFull(t *testing.T) {
	m := &metricstest.MockMetrics{}
	d := &fakeDialer{}
	clock := clockwork.NewFakeClock()
	c := New(Options{
		CacheCount:    1,
		RefreshPeriod: testRefresh,
		Timeout:       func(string) time.Duration { return testTimeout },
		Dial:          d.dial,
		Clock:         clock,
		Metrics:       m,
	})
	defer c.Close()

	old := get(t, c, "app")
	tasks := c.tasks.pending()
	require.Len(t, tasks, 1)
	assert.Equal(t, taskRefresh, tasks[0].kind)
	assert.Equal(t, old.ID(), tasks[0].entryID)
	assert.False(t, tasks[0].fireAt.Before(clock.Now().Add(testRefresh)))
	assert.False(t, tasks[0].fireAt.After(clock.Now().Add(2*testRefresh)))

	clock.Advance(2 * testRefresh)
	assert.Eventually(t, func() bool { return d.dialed() == 2 && c.Draining() == 1 }, time.Second, time.Millisecond)

	current := get(t, c, "app")
	assert.NotSame(t, old, current)
	assert.Equal(t, 1, c.Sizes()["app"])
	assert.False(t, old.Conn().(*fakeConn).disconnected())

	clock.Advance(drainTimeouts * testTimeout)
	assert.Eventually(t, old.Conn().(*fakeConn).disconnected, time.Second, time.Millisecond)
	assert.Zero(t, c.Draining())
	assert.False(t, current.Conn().(*fakeConn).disconnected())

	size, _ := m.Gauge("pool.app")
	assert.Equal(t, float64(1), size)
}

func TestRefreshKeepsEntryWhenPoolIsNotFull(t *testing.T) {
	c, d, clock := newTestCache(2)
	defer c.Close()

	old := get(t, c, "app")
	rescheduled := func() bool {
		tasks := c.tasks.pending()
		return len(tasks) == 1 &&
			tasks[0].kind == taskRefresh &&
			tasks[0].entryID == old.ID() &&
			tasks[0].fireAt.After(clock.Now()) &&
			!tasks[0].fireAt.After(clock.Now().Add(testTimeout))
	}

	clock.Advance(2 * testRefresh)
	assert.Eventually(t, rescheduled, time.Second, time.Millisecond)
	assert.Equal(t, 1, d.dialed())
	assert.Equal(t, map[string]int{"app": 1}, c.Sizes())
	assert.Zero(t, c.Draining())

	clock.Advance(testTimeout)
	assert.Eventually(t, rescheduled, time.Second, time.Millisecond)
	assert.Equal(t, 1, d.dialed())
	assert.Equal(t, StateActive, old.state)
	assert.False(t, old.Conn().(*fakeConn).disconnected())
}

func TestRefreshKeepsEntryWhenReplacementFails(t *testing.T) {
	c, d, clock := newTestCache(1)
	defer c.Close()

	old := get(t, c, "app")
	d.fail.Store(true)
	clock.Advance(2 * testRefresh)
	assert.Eventually(t, func() bool {
		tasks := c.tasks.pending()
		return d.dialed() == 2 && len(tasks) == 1 && tasks[0].kind == taskRefresh
	}, time.Second, time.Millisecond)

	assert.Zero(t, c.Draining())
	assert.Same(t, old, get(t, c, "app"))
	assert.False(t, old.Conn().(*fakeConn).disconnected())

	d.fail.Store(false)
	clock.Advance(2 * testRefresh)
	assert.Eventually(t, func() bool { return c.Draining() == 1 }, time.Second, time.Millisecond)
	assert.NotSame(t, old, get(t, c, "app"))
}

func TestInvalidate(t *testing.T) {
	c, _, clock := newTestCache(1)
	defer c.Close()

	a := get(t, c, "a")
	b := get(t, c, "b")

	c.Invalidate("a", "missing")
	assert.Equal(t, map[string]int{"b": 1}, c.Sizes())
	assert.Equal(t, 1, c.Draining())
	assert.Equal(t, StateDraining, a.state)

	// the refresh timer of a drained entry is canceled
	for _, task := range c.tasks.pending() {
		assert.False(t, task.kind == taskRefresh && task.entryID == a.ID())
	}

	clock.Advance(drainTimeouts * testTimeout)
	assert.Eventually(t, a.Conn().(*fakeConn).disconnected, time.Second, time.Millisecond)
	assert.False(t, b.Conn().(*fakeConn).disconnected())
	assert.NotSame(t, a, get(t, c, "a"))
}

func TestReselect(t *testing.T) {
	c, _, _ := newTestCache(2)
	defer c.Close()

	for i := 0; i < 3; i++ {
		get(t, c, "app")
	}

	current := get(t, c, "app")
	for i := 0; i < 50; i++ {
		e, err := c.Reselect(context.Background(), "app", "", current)
		require.NoError(t, err)
		assert.NotSame(t, current, e)
	}
}

func TestReselectSingle(t *testing.T) {
	c, d, _ := newTestCache(1)
	defer c.Close()

	current := get(t, c, "app")
	e, err := c.Reselect(context.Background(), "app", "", current)
	require.NoError(t, err)
	assert.Same(t, current, e)
	assert.Equal(t, 1, d.dialed())
}

func TestReselectCreatesBelowTarget(t *testing.T) {
	c, d, _ := newTestCache(2)
	defer c.Close()

	current := get(t, c, "app")
	e, err := c.Reselect(context.Background(), "app", "", current)
	require.NoError(t, err)
	assert.NotSame(t, current, e)
	assert.Equal(t, 2, d.dialed())
}

func TestClose(t *testing.T) {
	c, d, _ := newTestCache(1)

	a := get(t, c, "a")
	b := get(t, c, "b")
	c.Invalidate("b")

	c.Close()
	assert.True(t, a.Conn().(*fakeConn).disconnected())
	assert.True(t, b.Conn().(*fakeConn).disconnected())
	assert.Empty(t, c.tasks.pending())
	assert.Equal(t, 2, d.dialed())

	_, err := c.GetOrCreate(context.Background(), "a", "")
	assert.ErrorIs(t, err, ErrClosed)
	c.Close()
}
