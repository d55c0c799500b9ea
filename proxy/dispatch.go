package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cocaine/rpcproxy/cocaine"
	"github.com/cocaine/rpcproxy/servicecache"
)

// GetService returns a connection to a version of the application. The
// connection is created within the default timeout of the application.
func (p *Proxy) GetService(r *Request, name, version string) (*servicecache.Entry, error) {
	ctx, cancel := context.WithTimeout(r.Context(), p.router.Timeout(name, ""))
	defer cancel()
	return p.params.Cache.GetOrCreate(ctx, version, r.TraceID)
}

func get(ctx context.Context, x servicecache.Exchange, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return x.Get(ctx)
}

// exchange makes a single attempt of sending a request to an application
// and forwarding the reply. It returns nil when the reply was sent to the
// client.
func (p *Proxy) exchange(r *Request, e *servicecache.Entry, event string, envelope []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	x, err := e.Conn().Enqueue(ctx, event, r.Trace)
	cancel()
	if err != nil {
		return err
	}

	defer x.Close()
	if err := x.Write(envelope, r.Trace); err != nil {
		return err
	}

	if err := x.CloseSend(r.Trace); err != nil {
		return err
	}

	r.Log.Debugf("%d: waiting for a code and headers", e.ID())
	head, err := get(r.Context(), x, timeout)
	if err != nil {
		return err
	}

	code, header, err := unpackReplyHead(head)
	if err != nil {
		return err
	}

	p.tracing.logEvent(r.Span, FirstChunk, code)

	// the newer dialect terminates the body with an empty chunk as well
	emptyTerminates := header.Get(protoVersionHeader) == "1.1"
	body := newBodyProcessor(r, code, header)
	for {
		chunk, err := get(r.Context(), x, timeout)
		if errors.Is(err, cocaine.ErrEndOfStream) {
			break
		}

		if err != nil {
			return err
		}

		if emptyTerminates && len(chunk) == 0 {
			break
		}

		r.Log.Debugf("%d: received %d bytes as a body chunk", e.ID(), len(chunk))
		if err := body.write(chunk); err != nil {
			return err
		}
	}

	r.Log.Infof("%d: body finished", e.ID())
	return body.finish()
}

// reconnect connects the instance again within the time left of the timeout.
func (p *Proxy) reconnect(r *Request, e *servicecache.Entry, timeout time.Duration) {
	left := timeout - r.Elapsed()
	r.Log.Infof("%d: connecting with timeout %.fms", e.ID(), float64(left.Milliseconds()))
	p.tracing.logEvent(r.Span, ReconnectEvent, e.ID())
	if left <= 0 {
		r.Log.Errorf("%d: unable to reconnect: no time left", e.ID())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), left)
	defer cancel()

	start := time.Now()
	if err := e.Conn().Connect(ctx, r.TraceID); err != nil {
		r.Log.Errorf("%d: unable to reconnect: %v", e.ID(), err)
		return
	}

	r.Log.Infof("%d: connecting took %.3fms", e.ID(), float64(time.Since(start).Microseconds())/1000)
}

// Process sends a request to an application and forwards the reply to the
// client. Lost connections and restarted applications are retried while
// attempts are left, overloaded instances are replaced by another instance
// from the pool.
func (p *Proxy) Process(r *Request, name string, e *servicecache.Entry, event string, envelope []byte) {
	r.Log.Infof("start processing request after %.3fms", float64(r.Elapsed().Microseconds())/1000)
	timeout := p.router.Timeout(name, event)

	var lastErr error
	for attempts := p.params.Attempts; attempts > 0; {
		attempts--
		r.Log.Debugf("%d: enqueue event (attempts left %d)", e.ID(), attempts)
		p.tracing.logEvent(r.Span, AttemptEvent, e.ID())
		p.tracing.setTag(r.Span, InstanceTag, e.ID())

		err := p.exchange(r, e, event, envelope, timeout)
		if err == nil {
			return
		}

		lastErr = err
		if r.Committed() {
			// the status and a part of the body were sent already
			r.Log.Errorf("%d: reply to the client aborted: %v", e.ID(), err)
			p.tracing.setTag(r.Span, ErrorTag, true)
			panic(http.ErrAbortHandler)
		}

		kind := classify(err)
		if kind != kindRestarted && kind != kindOverloaded && kind != kindDisconnected {
			p.tracing.setTag(r.Span, ErrorTag, true)
		}

		switch kind {
		case kindTimeout:
			r.Log.Errorf("%d %s: %v", e.ID(), name, err)
			r.respondError(http.StatusGatewayTimeout, fmt.Sprintf("UID %s: application `%s` error: TimeoutError", r.TraceID, name))
			return
		case kindDisconnected:
			p.disconnections.Add(1)
			p.metrics.IncDisconnections(name)
			r.Log.Errorf("%d: %v", e.ID(), err)
			if attempts <= 0 {
				r.Log.Errorf("%d: no more attempts", e.ID())
				p.tracing.setTag(r.Span, ErrorTag, true)
				r.respondError(http.StatusInternalServerError, fmt.Sprintf("UID %s: Connection problem", r.TraceID))
				return
			}

			p.reconnect(r, e, timeout)
			continue
		case kindRestarted:
			r.Log.Errorf("%d: the application has been restarted", e.ID())
			e.Conn().Disconnect()
			continue
		case kindOverloaded:
			r.Log.Errorf("%d: the application is overloaded: %v", e.ID(), err)
			next, rerr := p.params.Cache.Reselect(r.Context(), e.Name(), r.TraceID, e)
			if rerr != nil {
				p.tracing.setTag(r.Span, ErrorTag, true)
				r.respondError(http.StatusInternalServerError, fmt.Sprintf("UID %s: application `%s` error: %v", r.TraceID, name, rerr))
				return
			}

			p.tracing.logEvent(r.Span, ReselectEvent, next.ID())
			e = next
			continue
		case kindApplication:
			r.Log.Errorf("%d: %v", e.ID(), err)
			r.respondError(http.StatusInternalServerError, fmt.Sprintf("UID %s: application `%s` error: %v", r.TraceID, name, err))
		case kindCanceled:
			r.Log.Infof("%d: request canceled by the client: %v", e.ID(), err)
			r.respondError(StatusClientClosedRequest, fmt.Sprintf("UID %s: request canceled", r.TraceID))
		default:
			r.Log.Errorf("%d: %v", e.ID(), err)
			r.respondError(http.StatusInternalServerError, fmt.Sprintf("UID %s: unknown `%s` error: %v", r.TraceID, name, err))
		}

		return
	}

	r.Log.Errorf("%d: no more attempts: %v", e.ID(), lastErr)
	p.tracing.setTag(r.Span, ErrorTag, true)
	r.respondError(http.StatusInternalServerError, fmt.Sprintf("UID %s: application `%s` error: %v", r.TraceID, name, lastErr))
}
