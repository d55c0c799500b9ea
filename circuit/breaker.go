package circuit

import (
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout          = 10 * time.Second
	DefaultHalfOpenRequests = 1
	DefaultIdleTTL          = time.Hour
)

// BreakerSettings contains the settings of the breakers of a Registry.
type BreakerSettings struct {

	// Failures is the number of consecutive failed connection attempts
	// that open the breaker. Zero disables circuit breaking.
	Failures int `yaml:"failures"`

	// Timeout is how long the breaker stays open.
	Timeout time.Duration `yaml:"timeout"`

	// HalfOpenRequests is the number of attempts allowed in the half-open
	// state.
	HalfOpenRequests int `yaml:"half-open-requests"`

	// IdleTTL is how long unused breakers are kept.
	IdleTTL time.Duration `yaml:"idle-ttl"`
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}

	if s.HalfOpenRequests <= 0 {
		s.HalfOpenRequests = DefaultHalfOpenRequests
	}

	if s.IdleTTL <= 0 {
		s.IdleTTL = DefaultIdleTTL
	}

	return s
}

// String returns the string representation of a particular set of settings.
func (s BreakerSettings) String() string {
	if s.Failures <= 0 {
		return "disabled"
	}

	ss := []string{"failures=" + strconv.Itoa(s.Failures)}
	if s.Timeout > 0 {
		ss = append(ss, "timeout="+s.Timeout.String())
	}

	if s.HalfOpenRequests > 0 {
		ss = append(ss, "half-open-requests="+strconv.Itoa(s.HalfOpenRequests))
	}

	if s.IdleTTL > 0 {
		ss = append(ss, "idle-ttl="+s.IdleTTL.String())
	}

	return strings.Join(ss, ",")
}

// Breaker is the circuit breaker of a single application.
//
// Use the Get() method of the Registry to request fully initialized breakers.
type Breaker struct {
	name string
	ts   time.Time
	impl gobreakerWrap
}

func newBreaker(name string, s BreakerSettings) *Breaker {
	return &Breaker{
		name: name,
		impl: newGobreaker(name, s),
	}
}

// Allow returns true if the breaker lets the attempt through, and a callback
// function for reporting its outcome. The callback expects true when the
// attempt succeeded. No callback is returned when the breaker is open.
func (b *Breaker) Allow() (func(bool), bool) {
	return b.impl.Allow()
}

// Closed tells whether the breaker is in the closed state.
func (b *Breaker) Closed() bool {
	return b.impl.Closed()
}

func (b *Breaker) idle(now time.Time, ttl time.Duration) bool {
	return now.Sub(b.ts) > ttl
}
