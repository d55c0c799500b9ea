package proxy

import (
	"context"
	"net/http"
	"time"

	ot "github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"

	"github.com/cocaine/rpcproxy/cocaine"
	"github.com/cocaine/rpcproxy/logging"
)

// Request holds the state of an incoming request while it is served.
type Request struct {

	// HTTP is the incoming request.
	HTTP *http.Request

	// TraceID is the request id, the first 16 hexadecimal digits of the
	// request id header, or empty.
	TraceID string

	// Trace is the tracing context sent to the applications, nil when
	// there is no request id.
	Trace *cocaine.Trace

	// Log is the logger of the request.
	Log *logrus.Entry

	// Span is the span of the request.
	Span ot.Span

	w     *logging.LoggingWriter
	start time.Time
	app   string
	event string
}

func (r *Request) Context() context.Context {
	return r.HTTP.Context()
}

// ResponseWriter returns the writer of the response.
func (r *Request) ResponseWriter() http.ResponseWriter {
	return r.w
}

// Committed tells whether the response header was already sent.
func (r *Request) Committed() bool {
	return r.w.Written()
}

// Elapsed returns the time since the request was received.
func (r *Request) Elapsed() time.Duration {
	return time.Since(r.start)
}
