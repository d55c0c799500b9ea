/*
Package metrics implements collection of the performance metrics of the
proxy, exposed in the Prometheus format.

The collected metrics include the duration and the status code of the
dispatched requests per application, the number of connection losses, the
size of the connection pools, and custom counters, gauges and timers
identified by a key, e.g. the number of requests in flight.

When the utility server is enabled, the current values can be downloaded
from its /metrics endpoint.
*/
package metrics

import (
	"net/http"
	"time"
)

// Keys of the custom metrics recorded by the proxy.
const (
	KeyRequestsTotal      = "requests.total"
	KeyRequestsInProgress = "requests.inprogress"
	KeyServe              = "serve"
	KeyRoutingUpdates     = "routing.updates"
	KeyPluginRequests     = "plugin.%s"
)

// Metrics is the generic interface that all the required backends
// should implement.
type Metrics interface {
	MeasureSince(key string, start time.Time)
	IncCounter(key string)
	IncCounterBy(key string, value int64)
	UpdateGauge(key string, value float64)
	MeasureDispatch(app string, code int, start time.Time)
	IncDisconnections(app string)
	UpdatePoolSize(app string, size int)
	RegisterHandler(path string, handler *http.ServeMux)
}

// Options for initializing metrics collection.
type Options struct {

	// Prefix of the metric names. Defaults to cocaine_proxy.
	Prefix string

	// If set, the Go runtime and process metrics are collected too.
	EnableRuntimeMetrics bool

	// HistogramBuckets are the buckets of the histograms. Defaults to the
	// default buckets of the Prometheus client.
	HistogramBuckets []float64

	// Version is recorded as a label of every metric.
	Version string
}

type void struct{}

// Void is a noop implementation of Metrics.
var Void Metrics = void{}

func (void) MeasureSince(string, time.Time)         {}
func (void) IncCounter(string)                      {}
func (void) IncCounterBy(string, int64)             {}
func (void) UpdateGauge(string, float64)            {}
func (void) MeasureDispatch(string, int, time.Time) {}
func (void) IncDisconnections(string)               {}
func (void) UpdatePoolSize(string, int)             {}
func (void) RegisterHandler(string, *http.ServeMux) {}
