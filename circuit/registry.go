package circuit

import (
	"sync"
	"time"
)

// Registry objects hold the active circuit breakers of the applications,
// ensure synchronized access to them and recycle the idle breakers.
type Registry struct {
	settings BreakerSettings
	lookup   map[string]*Breaker
	mx       sync.Mutex
	now      func() time.Time
}

// NewRegistry initializes a registry. It returns nil when circuit breaking is
// disabled by the settings. The methods of a nil registry are safe to call.
func NewRegistry(s BreakerSettings) *Registry {
	if s.Failures <= 0 {
		return nil
	}

	return &Registry{
		settings: s.withDefaults(),
		lookup:   make(map[string]*Breaker),
		now:      time.Now,
	}
}

func (r *Registry) dropIdle(now time.Time) {
	for name, b := range r.lookup {
		if b.idle(now, r.settings.IdleTTL) {
			delete(r.lookup, name)
		}
	}
}

// Get returns the circuit breaker of an application, creating it if
// necessary. It returns nil for a nil registry.
func (r *Registry) Get(name string) *Breaker {
	if r == nil {
		return nil
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	now := r.now()
	b, ok := r.lookup[name]
	if !ok || b.idle(now, r.settings.IdleTTL) {
		// check if there is any other to evict, evict if yes
		r.dropIdle(now)

		// create a new one
		b = newBreaker(name, r.settings)
		r.lookup[name] = b
	}

	// set the access timestamp
	b.ts = now

	return b
}

// Allow is a shortcut for checking the breaker of an application. When the
// registry is nil, every attempt is allowed.
func (r *Registry) Allow(name string) (func(bool), bool) {
	b := r.Get(name)
	if b == nil {
		return func(bool) {}, true
	}

	return b.Allow()
}

// Len returns the number of tracked breakers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.lookup)
}
