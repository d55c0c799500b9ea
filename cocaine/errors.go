package cocaine

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected is returned by every pending and subsequent operation
	// of a session after the underlying connection was lost or closed.
	ErrDisconnected = errors.New("disconnected")

	// ErrEndOfStream is returned by Get once the peer closed the channel.
	ErrEndOfStream = errors.New("end of stream")

	// ErrNoEndpoints is returned when no endpoint could be dialed.
	ErrNoEndpoints = errors.New("no endpoints available")

	errProtocol = errors.New("protocol error")
)

// Error categories and codes used by the proxy.
const (
	CategorySystem = 0xff

	// EPIPE is sent with CategorySystem when the application was restarted
	// by the runtime while a request was in progress.
	EPIPE = 32

	// EAppStopped is sent with CategorySystem by newer runtimes when the
	// application was stopped while a request was in progress.
	EAppStopped = 1

	CategoryLocator       = 0x52ff
	CategoryLocatorLegacy = 0x2ff

	// EServiceNotAvailable is sent by the locator when the name cannot be
	// resolved.
	EServiceNotAvailable = 1

	CategoryOverseer       = 0x52fe
	CategoryOverseerLegacy = 0x2fe

	// EQueueIsFull is sent by the runtime when the queue of the application
	// instance is full.
	EQueueIsFull = 2
)

// ServiceError is an error reported by the remote side of a channel.
type ServiceError struct {
	Category int
	Code     int
	Message  string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%d, %d]: %s", e.Category, e.Code, e.Message)
}

// Restarted tells whether the error means that the application instance
// went away during the request and a fresh connection may succeed.
func (e *ServiceError) Restarted() bool {
	return e.Category == CategorySystem && (e.Code == EPIPE || e.Code == EAppStopped)
}

// QueueFull tells whether the application instance rejected the event
// because its queue was full.
func (e *ServiceError) QueueFull() bool {
	return (e.Category == CategoryOverseer || e.Category == CategoryOverseerLegacy) && e.Code == EQueueIsFull
}

// NotAvailable tells whether the locator failed to resolve the service.
func (e *ServiceError) NotAvailable() bool {
	return (e.Category == CategoryLocator || e.Category == CategoryLocatorLegacy) && e.Code == EServiceNotAvailable
}

func disconnected(err error) error {
	if err == nil || errors.Is(err, ErrDisconnected) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrDisconnected, err)
}
