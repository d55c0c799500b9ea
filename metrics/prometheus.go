package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace         = "cocaine_proxy"
	promDispatchSubsystem = "dispatch"
	promPoolSubsystem     = "pool"
	promCustomSubsystem   = "custom"
)

// Prometheus implements the prometheus metrics backend.
type Prometheus struct {
	dispatchM        *prometheus.HistogramVec
	dispatchCountM   *prometheus.CounterVec
	disconnectionsM  *prometheus.CounterVec
	poolSizeM        *prometheus.GaugeVec
	customHistogramM *prometheus.HistogramVec
	customCounterM   *prometheus.CounterVec
	customGaugeM     *prometheus.GaugeVec

	opts     Options
	registry *prometheus.Registry
	handler  http.Handler
}

// NewPrometheus returns a new Prometheus metric backend.
func NewPrometheus(opts Options) *Prometheus {
	namespace := promNamespace
	if opts.Prefix != "" {
		namespace = strings.TrimSuffix(opts.Prefix, ".")
	}

	dispatch := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promDispatchSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of dispatching a request to an application.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"app", "code", "version"})

	dispatchCount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promDispatchSubsystem,
		Name:      "total",
		Help:      "Total number of requests dispatched to an application.",
	}, []string{"app", "code", "version"})

	disconnections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promDispatchSubsystem,
		Name:      "disconnections_total",
		Help:      "Total number of connections to an application lost during a request.",
	}, []string{"app", "version"})

	poolSize := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: promPoolSubsystem,
		Name:      "size",
		Help:      "Number of active connections to an application.",
	}, []string{"app", "version"})

	customCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promCustomSubsystem,
		Name:      "total",
		Help:      "Total number of custom metrics.",
	}, []string{"key", "version"})

	customGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: promCustomSubsystem,
		Name:      "gauges",
		Help:      "Gauges number of custom metrics.",
	}, []string{"key", "version"})

	customHistogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promCustomSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of custom metrics.",
		Buckets:   opts.HistogramBuckets,
	}, []string{"key", "version"})

	p := &Prometheus{
		dispatchM:        dispatch,
		dispatchCountM:   dispatchCount,
		disconnectionsM:  disconnections,
		poolSizeM:        poolSize,
		customCounterM:   customCounter,
		customGaugeM:     customGauge,
		customHistogramM: customHistogram,

		registry: prometheus.NewRegistry(),
		opts:     opts,
	}

	// Register all metrics.
	p.registerMetrics()
	return p
}

// sinceS returns the seconds passed since the start time until now.
func (p *Prometheus) sinceS(start time.Time) float64 {
	return time.Since(start).Seconds()
}

func (p *Prometheus) registerMetrics() {
	p.registry.MustRegister(p.dispatchM)
	p.registry.MustRegister(p.dispatchCountM)
	p.registry.MustRegister(p.disconnectionsM)
	p.registry.MustRegister(p.poolSizeM)
	p.registry.MustRegister(p.customCounterM)
	p.registry.MustRegister(p.customHistogramM)
	p.registry.MustRegister(p.customGaugeM)

	// Register prometheus runtime collectors if required.
	if p.opts.EnableRuntimeMetrics {
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		p.registry.MustRegister(collectors.NewGoCollector())
	}
}

func (p *Prometheus) CreateHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) getHandler() http.Handler {
	if p.handler != nil {
		return p.handler
	}

	p.handler = p.CreateHandler()
	return p.handler
}

// RegisterHandler satisfies Metrics interface.
func (p *Prometheus) RegisterHandler(path string, mux *http.ServeMux) {
	mux.Handle(path, p.getHandler())
}

// MeasureSince satisfies Metrics interface.
func (p *Prometheus) MeasureSince(key string, start time.Time) {
	p.customHistogramM.WithLabelValues(key, p.opts.Version).Observe(p.sinceS(start))
}

// IncCounter satisfies Metrics interface.
func (p *Prometheus) IncCounter(key string) {
	p.customCounterM.WithLabelValues(key, p.opts.Version).Inc()
}

// IncCounterBy satisfies Metrics interface.
func (p *Prometheus) IncCounterBy(key string, value int64) {
	p.customCounterM.WithLabelValues(key, p.opts.Version).Add(float64(value))
}

// UpdateGauge satisfies Metrics interface.
func (p *Prometheus) UpdateGauge(key string, v float64) {
	p.customGaugeM.WithLabelValues(key, p.opts.Version).Set(v)
}

// MeasureDispatch satisfies Metrics interface.
func (p *Prometheus) MeasureDispatch(app string, code int, start time.Time) {
	c := strconv.Itoa(code)
	p.dispatchM.WithLabelValues(app, c, p.opts.Version).Observe(p.sinceS(start))
	p.dispatchCountM.WithLabelValues(app, c, p.opts.Version).Inc()
}

// IncDisconnections satisfies Metrics interface.
func (p *Prometheus) IncDisconnections(app string) {
	p.disconnectionsM.WithLabelValues(app, p.opts.Version).Inc()
}

// UpdatePoolSize satisfies Metrics interface.
func (p *Prometheus) UpdatePoolSize(app string, size int) {
	p.poolSizeM.WithLabelValues(app, p.opts.Version).Set(float64(size))
}

// Registry returns the registry of the collected metrics.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}
