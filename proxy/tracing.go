package proxy

import (
	ot "github.com/opentracing/opentracing-go"
)

const (
	ComponentTag      = "component"
	ErrorTag          = "error"
	HostnameTag       = "hostname"
	HTTPMethodTag     = "http.method"
	HTTPRemoteAddrTag = "http.remote_addr"
	HTTPUrlTag        = "http.url"
	HTTPStatusCodeTag = "http.status_code"
	SpanKindTag       = "span.kind"
	RequestIDTag      = "request_id"
	ApplicationTag    = "cocaine.app"
	EventTag          = "cocaine.event"
	InstanceTag       = "cocaine.instance"
	PluginTag         = "cocaine.plugin"

	SpanKindServer = "server"

	AttemptEvent   = "attempt"
	ReconnectEvent = "reconnect"
	ReselectEvent  = "reselect"
	FirstChunk     = "first_chunk"
)

// OpenTracingParams configures the spans created for the requests.
type OpenTracingParams struct {

	// Tracer holds the tracer enabled for this proxy instance.
	Tracer ot.Tracer

	// InitialSpan can override the default initial, pre-dispatch span
	// name ("ingress").
	InitialSpan string

	// ExcludeTags controls what tags are disabled. Any tag that is listed
	// here will be ignored.
	ExcludeTags []string
}

type proxyTracing struct {
	tracer               ot.Tracer
	initialOperationName string
	excludeTags          map[string]bool
}

func newProxyTracing(p *OpenTracingParams) *proxyTracing {
	if p == nil {
		p = &OpenTracingParams{}
	}

	initial := p.InitialSpan
	if initial == "" {
		initial = "ingress"
	}

	tracer := p.Tracer
	if tracer == nil {
		tracer = &ot.NoopTracer{}
	}

	excludedTags := map[string]bool{}
	for _, t := range p.ExcludeTags {
		excludedTags[t] = true
	}

	return &proxyTracing{
		tracer:               tracer,
		initialOperationName: initial,
		excludeTags:          excludedTags,
	}
}

func (t *proxyTracing) logEvent(span ot.Span, eventName string, eventValue any) {
	if span == nil {
		return
	}

	span.LogKV(eventName, eventValue)
}

func (t *proxyTracing) setTag(span ot.Span, key string, value any) *proxyTracing {
	if span == nil {
		return t
	}

	if !t.excludeTags[key] {
		span.SetTag(key, value)
	}

	return t
}
