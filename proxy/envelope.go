package proxy

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// protoVersionHeader in the reply of an application selects the framing of
// the body. With version 1.1 an empty chunk also terminates the body.
const protoVersionHeader = "X-Proto-Version"

// envelope is the request as it is sent to the applications.
type envelope struct {
	_msgpack struct{} `msgpack:",as_array"`

	Method  string
	URI     string
	Version string
	Headers [][2]string
	Body    []byte
}

// replyHead is the first chunk of the reply.
type replyHead struct {
	_msgpack struct{} `msgpack:",as_array"`

	Code    int
	Headers [][]string
}

func headerList(h http.Header) [][2]string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}

	sort.Strings(names)

	var l [][2]string
	for _, name := range names {
		for _, value := range h[name] {
			l = append(l, [2]string{name, value})
		}
	}

	return l
}

// PackRequest creates the envelope of a request. The uri is the one seen by
// the application, without the application and event segments when the
// target was taken from the path. Every cookie is listed as a name and value
// pair ahead of the headers.
func PackRequest(r *http.Request, uri string, body []byte) ([]byte, error) {
	h := r.Header.Clone()
	if r.Host != "" && h.Get("Host") == "" {
		h.Set("Host", r.Host)
	}

	var headers [][2]string
	for _, c := range r.Cookies() {
		headers = append(headers, [2]string{c.Name, c.Value})
	}

	return msgpack.Marshal(&envelope{
		Method:  r.Method,
		URI:     uri,
		Version: fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		Headers: append(headers, headerList(h)...),
		Body:    body,
	})
}

func unpackReplyHead(b []byte) (int, http.Header, error) {
	var head replyHead
	if err := msgpack.Unmarshal(b, &head); err != nil {
		return 0, nil, fmt.Errorf("invalid reply head: %w", err)
	}

	if head.Code < 100 || head.Code > 999 {
		return 0, nil, fmt.Errorf("invalid reply status code: %d", head.Code)
	}

	h := make(http.Header)
	for _, pair := range head.Headers {
		if len(pair) != 2 {
			return 0, nil, fmt.Errorf("invalid reply header: %v", pair)
		}

		h.Add(pair[0], pair[1])
	}

	return head.Code, h, nil
}
