package servicecache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/cocaine/rpcproxy/circuit"
	"github.com/cocaine/rpcproxy/metrics"
)

const (
	DefaultCacheCount    = 5
	DefaultRefreshPeriod = 120 * time.Second
	DefaultTimeout       = 30 * time.Second

	// retired connections are disconnected after this many timeouts
	drainTimeouts = 3
)

var (
	// ErrNoInstance is returned when no connection to the application
	// could be obtained.
	ErrNoInstance = errors.New("no application instance available")

	// ErrClosed is returned after the cache was closed.
	ErrClosed = errors.New("service cache closed")
)

// State of a cache entry.
type State int

const (
	StateActive State = iota
	StateDraining
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	default:
		return "disposed"
	}
}

// Entry is a connection held by the cache.
type Entry struct {
	id      uint64
	name    string
	conn    Conn
	created time.Time

	// guarded by the cache
	state   State
	refresh *task
}

func (e *Entry) ID() uint64         { return e.id }
func (e *Entry) Name() string       { return e.name }
func (e *Entry) Conn() Conn         { return e.conn }
func (e *Entry) Created() time.Time { return e.created }

// Options of the cache.
type Options struct {

	// CacheCount sets the size of the pools to int(1.5 * CacheCount).
	// Defaults to DefaultCacheCount.
	CacheCount int

	// RefreshPeriod is the minimum age of the connections before they
	// are refreshed. Defaults to DefaultRefreshPeriod.
	RefreshPeriod time.Duration

	// Timeout returns the timeout of an application, used for connecting
	// replacements and for the draining period. Defaults to
	// DefaultTimeout for every application.
	Timeout func(name string) time.Duration

	// Dial creates a disconnected Conn for an application. Required.
	Dial func(name string) Conn

	// Clock used for the refresh and disposal timers. Defaults to the
	// real clock.
	Clock clockwork.Clock

	// Breakers, when set, stop connecting to applications that failed
	// repeatedly.
	Breakers *circuit.Registry

	// Metrics receives the pool sizes. Defaults to metrics.Void.
	Metrics metrics.Metrics
}

// Cache holds the connection pools of the applications. It is safe for
// concurrent use.
type Cache struct {
	options   Options
	spoolSize int
	tasks     *taskQueue

	mu       sync.Mutex
	active   map[string][]*Entry
	draining map[uint64]*Entry
	pending  map[string]int
	waiters  map[string]chan struct{}
	closed   bool
}

// SpoolSize returns the pool size for a cache count.
func SpoolSize(cacheCount int) int {
	return cacheCount * 3 / 2
}

// New creates a cache.
func New(o Options) *Cache {
	if o.CacheCount <= 0 {
		o.CacheCount = DefaultCacheCount
	}

	if o.RefreshPeriod <= 0 {
		o.RefreshPeriod = DefaultRefreshPeriod
	}

	if o.Timeout == nil {
		o.Timeout = func(string) time.Duration { return DefaultTimeout }
	}

	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Void
	}

	c := &Cache{
		options:   o,
		spoolSize: max(SpoolSize(o.CacheCount), 1),
		active:    make(map[string][]*Entry),
		draining:  make(map[uint64]*Entry),
		pending:   make(map[string]int),
		waiters:   make(map[string]chan struct{}),
	}

	c.tasks = newTaskQueue(o.Clock, c.run)
	return c
}

func (c *Cache) refreshDelay() time.Duration {
	return time.Duration((1 + rand.Float64()) * float64(c.options.RefreshPeriod))
}

func (c *Cache) connect(ctx context.Context, name, traceID string) (*Entry, error) {
	done, ok := c.options.Breakers.Allow(name)
	if !ok {
		return nil, fmt.Errorf("%w: circuit breaker open for %s", ErrNoInstance, name)
	}

	conn := c.options.Dial(name)
	rlog := log.WithField("trace_id", traceID)
	rlog.Infof("%d: creating an instance of %s", conn.ID(), name)
	if err := conn.Connect(ctx, traceID); err != nil {
		done(false)
		conn.Disconnect()
		rlog.Errorf("%d: failed to connect to %s: %v", conn.ID(), name, err)
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", ErrNoInstance, name, err)
	}

	done(true)
	rlog.Infof("%d: connected to %s at %s", conn.ID(), name, conn.Address())
	return &Entry{
		id:      conn.ID(),
		name:    name,
		conn:    conn,
		created: c.options.Clock.Now(),
	}, nil
}

func (c *Cache) addActiveLocked(e *Entry) {
	e.state = StateActive
	c.active[e.name] = append(c.active[e.name], e)
	e.refresh = c.tasks.schedule(taskRefresh, e, c.refreshDelay())
	c.options.Metrics.UpdatePoolSize(e.name, len(c.active[e.name]))
}

func (c *Cache) removeActiveLocked(e *Entry) {
	pool := c.active[e.name]
	i := slices.Index(pool, e)
	if i < 0 {
		return
	}

	pool = slices.Delete(pool, i, i+1)
	if len(pool) == 0 {
		delete(c.active, e.name)
	} else {
		c.active[e.name] = pool
	}

	c.options.Metrics.UpdatePoolSize(e.name, len(pool))
}

// drainLocked retires an active entry and schedules its disposal.
func (c *Cache) drainLocked(e *Entry) {
	if e.state != StateActive {
		return
	}

	c.removeActiveLocked(e)
	c.tasks.cancel(e.refresh)
	e.refresh = nil
	e.state = StateDraining
	c.draining[e.id] = e

	delay := drainTimeouts * c.options.Timeout(e.name)
	c.tasks.schedule(taskDispose, e, delay)
	log.Infof("%d: instance of %s is draining, disconnecting in %v", e.id, e.name, delay)
}

func (c *Cache) notifyLocked(name string) {
	if ch, ok := c.waiters[name]; ok {
		close(ch)
		delete(c.waiters, name)
	}
}

func (c *Cache) waitLocked(name string) <-chan struct{} {
	ch, ok := c.waiters[name]
	if !ok {
		ch = make(chan struct{})
		c.waiters[name] = ch
	}

	return ch
}

// GetOrCreate returns a connection to an application. While the pool of the
// application is not full, it connects a new one. Otherwise it returns a
// random connection from the pool. When the pool is full only because of
// connections being created, it waits for one of them.
func (c *Cache) GetOrCreate(ctx context.Context, name, traceID string) (*Entry, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}

		pool := c.active[name]
		if len(pool)+c.pending[name] < c.spoolSize {
			c.pending[name]++
			c.mu.Unlock()
			return c.create(ctx, name, traceID)
		}

		if len(pool) > 0 {
			e := pool[rand.IntN(len(pool))]
			c.mu.Unlock()
			return e, nil
		}

		wait := c.waitLocked(name)
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNoInstance, ctx.Err())
		}
	}
}

func (c *Cache) create(ctx context.Context, name, traceID string) (*Entry, error) {
	e, err := c.connect(ctx, name, traceID)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[name]--
	if c.pending[name] <= 0 {
		delete(c.pending, name)
	}

	c.notifyLocked(name)
	if err != nil {
		return nil, err
	}

	if c.closed {
		e.conn.Disconnect()
		return nil, ErrClosed
	}

	c.addActiveLocked(e)
	return e, nil
}

// Reselect returns a connection other than the current one, used when the
// current one is overloaded. While the pool is not full, it connects a new
// one. With a single connection in the pool, that one is returned.
func (c *Cache) Reselect(ctx context.Context, name, traceID string, current *Entry) (*Entry, error) {
	c.mu.Lock()
	pool := c.active[name]
	if len(pool) == 0 || len(pool)+c.pending[name] < c.spoolSize {
		c.mu.Unlock()
		return c.GetOrCreate(ctx, name, traceID)
	}

	defer c.mu.Unlock()
	if len(pool) == 1 {
		return pool[0], nil
	}

	i := slices.Index(pool, current)
	if i < 0 {
		return pool[rand.IntN(len(pool))], nil
	}

	j := rand.IntN(len(pool) - 1)
	if j >= i {
		j++
	}

	return pool[j], nil
}

// Invalidate retires every active connection of the applications. The
// connections are disconnected after draining.
func (c *Cache) Invalidate(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		pool := slices.Clone(c.active[name])
		for _, e := range pool {
			c.drainLocked(e)
		}

		if len(pool) > 0 {
			log.Infof("%d instances of %s invalidated", len(pool), name)
		}
	}
}

func (c *Cache) run(t *task) {
	switch t.kind {
	case taskRefresh:
		c.refresh(t)
	case taskDispose:
		c.dispose(t)
	}
}

func (c *Cache) refresh(t *task) {
	c.mu.Lock()
	i := slices.IndexFunc(c.active[t.name], func(e *Entry) bool { return e.id == t.entryID })
	if i < 0 {
		c.mu.Unlock()
		return
	}

	e := c.active[t.name][i]
	if e.refresh != t {
		c.mu.Unlock()
		return
	}

	e.refresh = nil
	if len(c.active[t.name]) < c.spoolSize {
		// the pool is still filling up, keep the instance and check again
		e.refresh = c.tasks.schedule(taskRefresh, e, c.options.Timeout(t.name))
		c.mu.Unlock()
		return
	}

	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.options.Timeout(t.name))
	replacement, err := c.connect(ctx, t.name, "")
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		if replacement != nil {
			replacement.conn.Disconnect()
		}

		return
	}

	if err != nil {
		if e.state == StateActive {
			log.Errorf("%d: failed to replace instance of %s, keeping it: %v", e.id, e.name, err)
			e.refresh = c.tasks.schedule(taskRefresh, e, c.refreshDelay())
		}

		return
	}

	if e.state != StateActive && len(c.active[t.name])+c.pending[t.name] >= c.spoolSize {
		// invalidated and refilled in the meantime
		replacement.conn.Disconnect()
		return
	}

	c.drainLocked(e)
	c.addActiveLocked(replacement)
	log.Infof("%d: instance of %s replaced by %d", e.id, e.name, replacement.id)
}

func (c *Cache) dispose(t *task) {
	c.mu.Lock()
	e, ok := c.draining[t.entryID]
	if ok {
		delete(c.draining, t.entryID)
		e.state = StateDisposed
	}

	c.mu.Unlock()

	if ok {
		log.Infof("%d: disconnecting instance of %s", e.id, e.name)
		e.conn.Disconnect()
	}
}

// Sizes returns the number of active connections per application.
func (c *Cache) Sizes() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := make(map[string]int, len(c.active))
	for name, pool := range c.active {
		s[name] = len(pool)
	}

	return s
}

// Draining returns the number of retired connections not yet disconnected.
func (c *Cache) Draining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.draining)
}

// Close stops the timers and disconnects every connection.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.closed = true
	c.tasks.stop()

	var entries []*Entry
	for _, pool := range c.active {
		entries = append(entries, pool...)
	}

	for _, e := range c.draining {
		entries = append(entries, e)
	}

	for _, e := range entries {
		e.state = StateDisposed
	}

	for name := range c.waiters {
		c.notifyLocked(name)
	}

	c.active = make(map[string][]*Entry)
	c.draining = make(map[uint64]*Entry)
	c.mu.Unlock()

	for _, e := range entries {
		e.conn.Disconnect()
	}
}
