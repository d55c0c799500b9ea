package proxy

import (
	"bytes"
	"net/http"
	"strconv"
)

func copyHeader(to, from http.Header) {
	for k, v := range from {
		to[http.CanonicalHeaderKey(k)] = v
	}
}

func addBranding(h http.Header, traceID string) {
	h.Set("X-Powered-By", "Cocaine")
	h.Set("X-XSS-Protection", "1; mode=block")
	if traceID != "" {
		h.Set("X-Request-Id", traceID)
	}
}

// respond sends a response generated by the proxy.
func (r *Request) respond(code int, message string, isError bool) {
	if r.Committed() {
		r.Log.Errorf("response already sent, dropping %d: %s", code, message)
		return
	}

	h := r.w.Header()
	h.Set("Content-Length", strconv.Itoa(len(message)))
	addBranding(h, r.TraceID)
	if isError {
		h.Set("X-Error-Generated-By", "Cocaine-Proxy")
	}

	r.w.WriteHeader(code)
	if r.HTTP.Method != http.MethodHead {
		if _, err := r.w.Write([]byte(message)); err != nil {
			r.Log.Debugf("failed to write response: %v", err)
		}
	}

	r.Log.Infof("finish request: %d %s %.2fms", code, http.StatusText(code), float64(r.Elapsed().Microseconds())/1000)
}

func (r *Request) respondError(code int, message string) {
	r.respond(code, message, true)
}

// bodyProcessor forwards the body chunks of a reply to the client.
type bodyProcessor interface {
	write(chunk []byte) error
	finish() error
}

func newBodyProcessor(r *Request, code int, h http.Header) bodyProcessor {
	h.Del(protoVersionHeader)
	addBranding(h, r.TraceID)
	if h.Get("Content-Length") != "" {
		return &bufferedBody{request: r, code: code, header: h}
	}

	return &chunkedBody{request: r, code: code, header: h}
}

// bufferedBody collects the whole body and sends the response at once.
type bufferedBody struct {
	request *Request
	code    int
	header  http.Header
	body    bytes.Buffer
}

func (b *bufferedBody) write(chunk []byte) error {
	b.body.Write(chunk)
	return nil
}

func (b *bufferedBody) finish() error {
	w := b.request.w
	h := w.Header()
	copyHeader(h, b.header)
	h.Set("Content-Length", strconv.Itoa(b.body.Len()))
	w.WriteHeader(b.code)
	if b.request.HTTP.Method == http.MethodHead {
		return nil
	}

	_, err := w.Write(b.body.Bytes())
	return err
}

// chunkedBody sends the response header with the first chunk, and flushes
// every chunk to the client.
type chunkedBody struct {
	request   *Request
	code      int
	header    http.Header
	committed bool
}

func (c *chunkedBody) commit() {
	w := c.request.w
	copyHeader(w.Header(), c.header)
	w.WriteHeader(c.code)
	c.committed = true
}

func (c *chunkedBody) write(chunk []byte) error {
	if !c.committed {
		c.commit()
	}

	if c.request.HTTP.Method == http.MethodHead {
		return nil
	}

	if _, err := c.request.w.Write(chunk); err != nil {
		return err
	}

	c.request.w.Flush()
	return nil
}

func (c *chunkedBody) finish() error {
	if !c.committed {
		c.commit()
	}

	return nil
}
