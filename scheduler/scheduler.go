// Package scheduler limits the number of requests dispatched concurrently by
// the proxy. Requests over the limit wait in a LIFO stack of bounded size,
// and they are rejected when the stack is full or when they waited too long.
package scheduler

import (
	"context"
	"time"

	"github.com/aryszka/jobqueue"
	"github.com/cocaine/rpcproxy/metrics"
)

const (
	activeRequestsMetricsKey = "inflight.active"
	queuedRequestsMetricsKey = "inflight.queued"
)

var (
	// ErrQueueFull is returned by Wait when the stack of the waiting
	// requests is full.
	ErrQueueFull = jobqueue.ErrStackFull

	// ErrQueueTimeout is returned by Wait when a request waited longer than
	// the configured timeout.
	ErrQueueTimeout = jobqueue.ErrTimeout
)

// Config can be used to provide configuration of the queue.
type Config struct {

	// MaxConcurrency defines how many requests are allowed to be
	// dispatched concurrently. Zero means no limit, and Queue returns a
	// nil queue.
	MaxConcurrency int

	// MaxQueueSize defines how many requests may be waiting in the stack.
	// Defaults to infinite.
	MaxQueueSize int

	// Timeout defines how long a request can be waiting in the stack.
	// Defaults to infinite.
	Timeout time.Duration
}

// QueueStatus reports the current status of a queue. It can be used for metrics.
type QueueStatus struct {

	// ActiveRequests represents the number of the requests currently being handled.
	ActiveRequests int `json:"active"`

	// QueuedRequests represents the number of requests waiting to be handled.
	QueuedRequests int `json:"queued"`
}

// Queue objects implement a LIFO queue for handling requests, with a maximum allowed
// concurrency and queue size.
type Queue struct {
	queue  *jobqueue.Stack
	config Config
}

// New creates a queue. It returns nil when MaxConcurrency is not set. The
// methods of a nil queue let every request through.
func New(c Config) *Queue {
	if c.MaxConcurrency <= 0 {
		return nil
	}

	return &Queue{
		config: c,
		// renaming Stack -> Queue in the jobqueue project will follow
		queue: jobqueue.With(jobqueue.Options{
			MaxConcurrency: c.MaxConcurrency,
			MaxStackSize:   c.MaxQueueSize,
			Timeout:        c.Timeout,
		}),
	}
}

// Wait blocks until a request can be processed or needs to be rejected.
// When it can be processed, calling done indicates that it has finished.
// It is mandatory to call done() the request was processed. When the
// request needs to be rejected, an error will be returned.
func (q *Queue) Wait() (done func(), err error) {
	if q == nil {
		return func() {}, nil
	}

	return q.queue.Wait()
}

// Status returns the current status of a queue.
func (q *Queue) Status() QueueStatus {
	if q == nil {
		return QueueStatus{}
	}

	st := q.queue.Status()
	return QueueStatus{
		ActiveRequests: st.ActiveJobs,
		QueuedRequests: st.QueuedJobs,
	}
}

// Config returns the configuration that the queue was created with.
func (q *Queue) Config() Config {
	if q == nil {
		return Config{}
	}

	return q.config
}

// Measure updates the queue gauges periodically until the context is done.
func (q *Queue) Measure(ctx context.Context, m metrics.Metrics, interval time.Duration) {
	if q == nil {
		return
	}

	if interval <= 0 {
		interval = time.Second
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			st := q.Status()
			m.UpdateGauge(activeRequestsMetricsKey, float64(st.ActiveRequests))
			m.UpdateGauge(queuedRequestsMetricsKey, float64(st.QueuedRequests))
		case <-ctx.Done():
			return
		}
	}
}

// Close rejects the waiting requests.
func (q *Queue) Close() {
	if q != nil {
		q.queue.Close()
	}
}
