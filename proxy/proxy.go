package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	ot "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	log "github.com/sirupsen/logrus"

	"github.com/cocaine/rpcproxy/cocaine"
	"github.com/cocaine/rpcproxy/logging"
	"github.com/cocaine/rpcproxy/metrics"
	"github.com/cocaine/rpcproxy/routing"
	"github.com/cocaine/rpcproxy/scheduler"
	"github.com/cocaine/rpcproxy/servicecache"
)

const (
	ServiceHeader = "X-Cocaine-Service"
	EventHeader   = "X-Cocaine-Event"

	DefaultStickyHeader    = "X-Cocaine-Sticky"
	DefaultRequestIDHeader = "X-Request-Id"
	DefaultAttempts        = 2

	// StatusClientClosedRequest is logged when the client went away
	// before the response was sent.
	StatusClientClosedRequest = 499

	requestIDLength = 16
)

var (
	pathRx   = regexp.MustCompile(`^/([^/]*)/([^/?]*)(.*)$`)
	hostname string
)

// Router selects the versions of the routing groups and the timeouts of
// the events. It is implemented by *routing.Resolver.
type Router interface {
	Timeout(name, event string) time.Duration
	ResolveGroupToVersion(name string, seed uint64) string
}

// HealthChecker reports the state of the locator. It is implemented by
// *routing.HealthCheck.
type HealthChecker interface {
	Healthy() bool
}

type staticRouter struct{}

func (staticRouter) Timeout(string, string) time.Duration               { return routing.DefaultTimeout }
func (staticRouter) ResolveGroupToVersion(name string, _ uint64) string { return name }

// Params are the configuration of the proxy.
type Params struct {

	// Cache provides the connections to the applications. Required.
	Cache *servicecache.Cache

	// Router resolves the routing groups and the timeouts. Defaults to
	// no routing groups and routing.DefaultTimeout.
	Router Router

	// Health reports the state of the locator on /ping. Without it /ping
	// always succeeds.
	Health HealthChecker

	// Limiter, when set, limits the number of requests dispatched
	// concurrently.
	Limiter *scheduler.Queue

	// Plugins take over the requests that they match, in order.
	Plugins []Plugin

	// Metrics receives the request metrics. Defaults to metrics.Void.
	Metrics metrics.Metrics

	// OpenTracing configures the request spans.
	OpenTracing *OpenTracingParams

	// StickyHeader holds the seed of the version selection. Defaults to
	// DefaultStickyHeader.
	StickyHeader string

	// RequestIDHeader holds the request id. Defaults to
	// DefaultRequestIDHeader.
	RequestIDHeader string

	// ForceRequestID generates a request id when the request has none.
	ForceRequestID bool

	// Attempts of dispatching a request when the connection is lost or
	// the application was restarted. Defaults to DefaultAttempts.
	Attempts int

	// AccessLogDisabled disables the access log of the requests.
	AccessLogDisabled bool
}

// Proxy is the HTTP handler dispatching the requests to the applications.
type Proxy struct {
	params  Params
	router  Router
	metrics metrics.Metrics
	tracing *proxyTracing

	inProgress     atomic.Int64
	total          atomic.Int64
	disconnections atomic.Int64
}

func init() {
	hostname, _ = os.Hostname()
}

// New creates a proxy.
func New(p Params) *Proxy {
	if p.StickyHeader == "" {
		p.StickyHeader = DefaultStickyHeader
	}

	if p.RequestIDHeader == "" {
		p.RequestIDHeader = DefaultRequestIDHeader
	}

	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}

	router := p.Router
	if router == nil {
		router = staticRouter{}
	}

	m := p.Metrics
	if m == nil {
		m = metrics.Void
	}

	return &Proxy{
		params:  p,
		router:  router,
		metrics: m,
		tracing: newProxyTracing(p.OpenTracing),
	}
}

var caughtPanic atomic.Bool

// tryCatch executes function `p` and `onErr` if `p` panics
// onErr will receive a stack trace string of the first panic
// further panics are ignored for efficiency reasons
func tryCatch(p func(), onErr func(err any, stack string)) {
	defer func() {
		if err := recover(); err != nil {
			s := ""
			if caughtPanic.CompareAndSwap(false, true) {
				buf := make([]byte, 1024)
				l := runtime.Stack(buf, false)
				s = string(buf[:l])
			}

			onErr(err, s)
		}
	}()

	p()
}

// newRequestID generates a request id of 16 hexadecimal digits.
func newRequestID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:8])
}

// stickySeed maps the value of the sticky header into the weight extent of
// the routing rings.
func stickySeed(value string) uint64 {
	return xxhash.Sum64String(value) & (routing.WeightExtent - 1)
}

func requestURI(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}

	return r.URL.RequestURI()
}

// Timeout returns the timeout of an event of an application.
func (p *Proxy) Timeout(name, event string) time.Duration {
	return p.router.Timeout(name, event)
}

// ResolveGroupToVersion returns the version of a routing group selected by
// the seed.
func (p *Proxy) ResolveGroupToVersion(name string, seed uint64) string {
	return p.router.ResolveGroupToVersion(name, seed)
}

// setTraceID takes the request id from the request, or generates one when
// forced. It responds with 500 when the request id is invalid.
func (p *Proxy) setTraceID(r *Request) bool {
	id := r.HTTP.Header.Get(p.params.RequestIDHeader)
	if id == "" && p.params.ForceRequestID {
		id = newRequestID()
	}

	if id == "" {
		return true
	}

	if len(id) > requestIDLength {
		id = id[:requestIDLength]
	}

	r.TraceID = id
	r.Log = logging.ForRequest(id)
	p.tracing.setTag(r.Span, RequestIDTag, id)

	trace, err := cocaine.ParseTrace(id)
	if err != nil {
		r.respondError(http.StatusInternalServerError, fmt.Sprintf("Request-Id `%s` is not a hexdigest", id))
		return false
	}

	r.Trace = trace
	return true
}

func (p *Proxy) handlePlugin(pl Plugin, r *Request) {
	r.Log.Debugf("request is handled by plugin %s", pl.Name())
	p.metrics.IncCounter(fmt.Sprintf(metrics.KeyPluginRequests, pl.Name()))
	p.tracing.setTag(r.Span, PluginTag, pl.Name())

	err := pl.Handle(p, r)
	if err == nil {
		return
	}

	r.Log.Errorf("plugin %s failed: %v", pl.Name(), err)
	p.tracing.setTag(r.Span, ErrorTag, true)

	var appErr *PluginApplicationError
	switch {
	case errors.Is(err, PluginNoSuchApplication):
		r.respondError(http.StatusServiceUnavailable, fmt.Sprintf("UID %s: %v", r.TraceID, err))
	case errors.As(err, &appErr):
		r.respondError(http.StatusInternalServerError, fmt.Sprintf("UID %s: application error: %v", r.TraceID, appErr))
	default:
		r.respondError(http.StatusInternalServerError, fmt.Sprintf("UID %s: %v", r.TraceID, err))
	}
}

func (p *Proxy) ping(r *Request) {
	if p.params.Health == nil || p.params.Health.Healthy() {
		r.respond(http.StatusOK, "OK", false)
		return
	}

	r.respondError(http.StatusServiceUnavailable, "Failed")
}

// target returns the application, the event and the uri seen by the
// application. When no target is found, it responds to the request.
func (p *Proxy) target(r *Request) (name, event, uri string, ok bool) {
	h := r.HTTP.Header
	if _, hasName := h[ServiceHeader]; hasName {
		if _, hasEvent := h[EventHeader]; hasEvent {
			r.Log.Debug("dispatch by headers")
			return h.Get(ServiceHeader), h.Get(EventHeader), requestURI(r.HTTP), true
		}
	}

	r.Log.Debug("dispatch by uri")
	m := pathRx.FindStringSubmatch(requestURI(r.HTTP))
	if m == nil {
		if r.HTTP.URL.Path == "/ping" {
			p.ping(r)
		} else {
			r.respondError(http.StatusNotFound, "Invalid url")
		}

		return "", "", "", false
	}

	name, event, uri = m[1], m[2], m[3]
	if name == "" || event == "" {
		r.respondError(http.StatusBadRequest, "Proxy invalid request")
		return "", "", "", false
	}

	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}

	return name, event, uri, true
}

func (p *Proxy) serve(r *Request) {
	if !p.setTraceID(r) {
		return
	}

	r.Log.Infof("start request: %s %s %s", r.HTTP.Host, r.HTTP.RemoteAddr, requestURI(r.HTTP))

	done, err := p.params.Limiter.Wait()
	if err != nil {
		perr := limiterError(err)
		r.Log.Errorf("request rejected: %v", perr)
		r.respondError(perr.code, perr.message)
		return
	}

	defer done()

	for _, pl := range p.params.Plugins {
		if pl.Match(r.HTTP) {
			p.handlePlugin(pl, r)
			return
		}
	}

	name, event, uri, ok := p.target(r)
	if !ok {
		return
	}

	r.app, r.event = name, event
	r.Log = r.Log.WithFields(log.Fields{"app": name, "event": event})
	p.tracing.
		setTag(r.Span, ApplicationTag, name).
		setTag(r.Span, EventTag, event)

	body, err := io.ReadAll(r.HTTP.Body)
	if err != nil {
		r.Log.Errorf("failed to read the request body: %v", err)
		r.respondError(http.StatusBadRequest, fmt.Sprintf("UID %s: failed to read the request body", r.TraceID))
		return
	}

	version := name
	if seed := r.HTTP.Header.Get(p.params.StickyHeader); seed != "" {
		r.Log.Infof("sticky header has been found: %s", seed)
		version = p.router.ResolveGroupToVersion(name, stickySeed(seed))
	}

	entry, err := p.GetService(r, name, version)
	if err != nil {
		r.Log.Errorf("unable to get an instance of %s: %v", version, err)
		r.respondError(http.StatusServiceUnavailable, fmt.Sprintf("current application %s is unavailable", name))
		return
	}

	envelope, err := PackRequest(r.HTTP, uri, body)
	if err != nil {
		r.respondError(http.StatusInternalServerError, fmt.Sprintf("UID %s: %v", r.TraceID, err))
		return
	}

	r.Log.Debugf("%d: processing request app: `%s`, event `%s`", entry.ID(), entry.Name(), event)
	p.Process(r, name, entry, event, envelope)
	p.metrics.MeasureDispatch(name, r.w.GetCode(), r.start)
	r.Log.Info("exit from process")
}

func (p *Proxy) startSpan(r *http.Request) ot.Span {
	t := p.tracing.tracer
	var span ot.Span
	wireContext, err := t.Extract(ot.HTTPHeaders, ot.HTTPHeadersCarrier(r.Header))
	if err == nil {
		span = t.StartSpan(p.tracing.initialOperationName, ext.RPCServerOption(wireContext))
	} else {
		span = t.StartSpan(p.tracing.initialOperationName)
	}

	p.tracing.
		setTag(span, SpanKindTag, SpanKindServer).
		setTag(span, ComponentTag, "rpcproxy").
		setTag(span, HTTPUrlTag, r.URL.String()).
		setTag(span, HTTPMethodTag, r.Method).
		setTag(span, HostnameTag, hostname).
		setTag(span, HTTPRemoteAddrTag, r.RemoteAddr)

	return span
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lw := logging.NewLoggingWriter(w)
	req := &Request{
		w:     lw,
		start: time.Now(),
		Log:   log.NewEntry(log.StandardLogger()),
	}

	p.total.Add(1)
	p.metrics.IncCounter(metrics.KeyRequestsTotal)
	p.metrics.UpdateGauge(metrics.KeyRequestsInProgress, float64(p.inProgress.Add(1)))
	defer func() {
		p.metrics.UpdateGauge(metrics.KeyRequestsInProgress, float64(p.inProgress.Add(-1)))
	}()

	span := p.startSpan(r)
	req.Span = span
	req.HTTP = r.WithContext(ot.ContextWithSpan(r.Context(), span))
	defer span.Finish()

	defer func() {
		code := lw.GetCode()
		p.tracing.setTag(span, HTTPStatusCodeTag, code)
		p.metrics.MeasureSince(metrics.KeyServe, req.start)
		if !p.params.AccessLogDisabled {
			logging.LogAccess(&logging.AccessEntry{
				Request:      r,
				StatusCode:   code,
				ResponseSize: lw.GetBytes(),
				RequestTime:  req.start,
				Duration:     time.Since(req.start),
				TraceID:      req.TraceID,
				App:          req.app,
				Event:        req.event,
			})
		}

		logging.Purge(req.TraceID)
	}()

	tryCatch(func() { p.serve(req) }, func(err any, stack string) {
		if err == http.ErrAbortHandler {
			panic(err)
		}

		req.Log.Errorf("error while serving the request: %v %s", err, stack)
		p.tracing.setTag(span, ErrorTag, true)
		req.respondError(http.StatusInternalServerError, fmt.Sprintf("UID %s: %v", req.TraceID, err))
	})
}

// Info is the state of the proxy.
type Info struct {
	Services struct {
		Cache    map[string]int `json:"cache"`
		Draining int            `json:"draining"`
	} `json:"services"`

	Requests struct {
		InProgress int64 `json:"inprogress"`
		Total      int64 `json:"total"`
	} `json:"requests"`

	Errors struct {
		Disconnections int64 `json:"disconnections"`
	} `json:"errors"`

	Queue *scheduler.QueueStatus `json:"queue,omitempty"`
}

// Info returns the pool sizes and the request counters.
func (p *Proxy) Info() Info {
	var i Info
	i.Services.Cache = p.params.Cache.Sizes()
	i.Services.Draining = p.params.Cache.Draining()
	i.Requests.InProgress = p.inProgress.Load()
	i.Requests.Total = p.total.Load()
	i.Errors.Disconnections = p.disconnections.Load()
	if p.params.Limiter != nil {
		s := p.params.Limiter.Status()
		i.Queue = &s
	}

	return i
}
