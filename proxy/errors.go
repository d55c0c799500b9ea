package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/cocaine/rpcproxy/cocaine"
	"github.com/cocaine/rpcproxy/scheduler"
)

type errorKind int

const (
	kindUnknown errorKind = iota
	kindTimeout
	kindDisconnected
	kindRestarted
	kindOverloaded
	kindApplication
	kindCanceled
)

func (k errorKind) String() string {
	switch k {
	case kindTimeout:
		return "timeout"
	case kindDisconnected:
		return "disconnected"
	case kindRestarted:
		return "restarted"
	case kindOverloaded:
		return "overloaded"
	case kindApplication:
		return "application"
	case kindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// classify tells how the dispatcher reacts to an error of an exchange.
func classify(err error) errorKind {
	var se *cocaine.ServiceError
	switch {
	case errors.As(err, &se):
		switch {
		case se.Restarted():
			return kindRestarted
		case se.QueueFull():
			return kindOverloaded
		default:
			return kindApplication
		}
	case errors.Is(err, cocaine.ErrDisconnected):
		return kindDisconnected
	case errors.Is(err, context.DeadlineExceeded):
		return kindTimeout
	case errors.Is(err, context.Canceled):
		return kindCanceled
	default:
		return kindUnknown
	}
}

type proxyError struct {
	code    int
	message string
}

func (e proxyError) Error() string { return e.message }

var (
	errQueueFull    = proxyError{code: 503, message: "Proxy queue is full"}
	errQueueTimeout = proxyError{code: 502, message: "Proxy queue timeout"}
)

func limiterError(err error) proxyError {
	switch {
	case errors.Is(err, scheduler.ErrQueueFull):
		return errQueueFull
	case errors.Is(err, scheduler.ErrQueueTimeout):
		return errQueueTimeout
	default:
		return proxyError{code: 500, message: err.Error()}
	}
}

// PluginNoSuchApplication is returned by plugins when the requested
// application does not exist. It is answered with 503.
var PluginNoSuchApplication = errors.New("no such application")

// PluginApplicationError is returned by plugins when the application
// reported an error. It is answered with 500.
type PluginApplicationError struct {
	Category int
	Code     int
	Message  string
}

func (e *PluginApplicationError) Error() string {
	return fmt.Sprintf("[%d %d] %s", e.Category, e.Code, e.Message)
}
