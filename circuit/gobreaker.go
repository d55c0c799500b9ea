package circuit

import "github.com/sony/gobreaker"

// wrapper for changing interface:
type gobreakerWrap struct {
	gb *gobreaker.TwoStepCircuitBreaker
}

func newGobreaker(name string, s BreakerSettings) gobreakerWrap {
	return gobreakerWrap{gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(s.HalfOpenRequests),
		Timeout:     s.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return int(c.ConsecutiveFailures) >= s.Failures
		},
	})}
}

func (w gobreakerWrap) Allow() (func(bool), bool) {
	done, err := w.gb.Allow()

	// the breaker is open, or half-open with too many attempts
	if err != nil {
		return nil, false
	}

	return done, true
}

func (w gobreakerWrap) Closed() bool {
	return w.gb.State() == gobreaker.StateClosed
}
