package routing

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 32 * time.Second
)

// Stream delivers the full routing table on every change.
type Stream interface {
	Next(context.Context) (Table, error)
	Close()
}

// Source opens routing subscriptions.
type Source interface {
	Subscribe(ctx context.Context, uid string) (Stream, error)
}

// Invalidator is notified about the names whose routing changed.
type Invalidator interface {
	Invalidate(names ...string)
}

// State of the subscription.
type State int32

const (
	StateSubscribing State = iota
	StateStreaming
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Options of the Resolver.
type Options struct {

	// Source of the routing updates. Without a source, the table stays
	// empty and Run only waits for the context.
	Source Source

	// Invalidator gets notified about the changed groups.
	Invalidator Invalidator

	// UID identifies the subscriber. Defaults to SubscriberID().
	UID string

	// Timeouts are the initial application timeouts.
	Timeouts Timeouts

	// DefaultTimeout applies when no timeout is configured for an
	// application. Defaults to DefaultTimeout.
	DefaultTimeout time.Duration

	// InitialBackoff and MaxBackoff bound the delay between
	// resubscriptions.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Resolver maps application names to versions according to the routing
// groups, and applications and events to timeouts. It is safe for
// concurrent use.
type Resolver struct {
	options  Options
	table    atomic.Pointer[Table]
	timeouts atomic.Pointer[Timeouts]
	state    atomic.Int32
}

// SubscriberID returns a process unique subscriber id:
// proxy:<hostname>_<pid>_<uuid>.
func SubscriberID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("proxy:%s_%d_%s", host, os.Getpid(), uuid.NewString())
}

// New creates a resolver. Call Run to receive the routing updates.
func New(o Options) *Resolver {
	if o.UID == "" {
		o.UID = SubscriberID()
	}

	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}

	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}

	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}

	r := &Resolver{options: o}
	r.SetTable(Table{})
	r.SetTimeouts(o.Timeouts)
	return r
}

// Table returns the current routing table. It must not be modified.
func (r *Resolver) Table() Table {
	return *r.table.Load()
}

// SetTable replaces the routing table.
func (r *Resolver) SetTable(t Table) {
	r.table.Store(&t)
}

// SetTimeouts replaces the application timeouts.
func (r *Resolver) SetTimeouts(t Timeouts) {
	if t == nil {
		t = Timeouts{}
	}

	r.timeouts.Store(&t)
}

// State returns the state of the subscription.
func (r *Resolver) State() State {
	return State(r.state.Load())
}

// Timeout returns the timeout of an event: the event specific value, the
// application default or the global default, in this order.
func (r *Resolver) Timeout(name, event string) time.Duration {
	if d, ok := r.timeouts.Load().Lookup(name, event); ok {
		return d
	}

	return r.options.DefaultTimeout
}

// ResolveGroupToVersion selects the version of a routing group for the
// seed. Names that are not routing groups are returned unchanged.
func (r *Resolver) ResolveGroupToVersion(name string, seed uint64) string {
	ring, ok := r.Table()[name]
	if !ok {
		return name
	}

	version, ok := ring.Select(seed)
	if !ok {
		log.Errorf("routing group %s is empty", name)
		return name
	}

	return version
}

// apply stores the next table and returns the names changed compared to the
// current one.
func (r *Resolver) apply(current, next Table) []string {
	updated := ScanForUpdates(current, next)
	r.SetTable(next)
	if len(updated) > 0 && r.options.Invalidator != nil {
		r.options.Invalidator.Invalidate(updated...)
	}

	return updated
}

// Run receives the routing updates until the context is done. Failed
// subscriptions are retried with an exponential backoff, which is reset
// after every successful subscription.
func (r *Resolver) Run(ctx context.Context) {
	if r.options.Source == nil {
		<-ctx.Done()
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.options.InitialBackoff
	b.MaxInterval = r.options.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0

	for {
		err := r.subscribe(ctx, b)
		if ctx.Err() != nil {
			return
		}

		r.state.Store(int32(StateBackoff))
		delay := b.NextBackOff()
		log.Errorf("failed to receive routing updates: %v, resubscribing in %v", err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (r *Resolver) subscribe(ctx context.Context, b *backoff.ExponentialBackOff) error {
	r.state.Store(int32(StateSubscribing))
	s, err := r.options.Source.Subscribe(ctx, r.options.UID)
	if err != nil {
		return err
	}

	defer s.Close()

	log.Infof("subscribed to routing updates as %s", r.options.UID)
	r.state.Store(int32(StateStreaming))
	b.Reset()

	// every subscription starts from an empty table, so the groups changed
	// while not subscribed are invalidated by the first update
	current := Table{}
	for {
		next, err := s.Next(ctx)
		if err != nil {
			return err
		}

		if updated := r.apply(current, next); len(updated) > 0 {
			log.Infof("routing groups updated: %v", updated)
		}

		current = next
	}
}
