package cocaine

import (
	"encoding/binary"
	"strconv"
)

const (
	traceIDHeader  = "trace_id"
	spanIDHeader   = "span_id"
	parentIDHeader = "parent_id"
)

// Trace is the tracing context attached to the messages of a request.
type Trace struct {
	TraceID  uint64
	SpanID   uint64
	ParentID uint64
}

// ParseTrace creates a trace context from a hexadecimal request id. The
// request id becomes both the trace and the span id.
func ParseTrace(hexID string) (*Trace, error) {
	id, err := strconv.ParseUint(hexID, 16, 64)
	if err != nil {
		return nil, err
	}

	return &Trace{TraceID: id, SpanID: id}, nil
}

func (t *Trace) headers() map[string][]byte {
	if t == nil {
		return nil
	}

	return map[string][]byte{
		traceIDHeader:  packID(t.TraceID),
		spanIDHeader:   packID(t.SpanID),
		parentIDHeader: packID(t.ParentID),
	}
}

func traceFromHeaders(h map[string][]byte) *Trace {
	id, ok := unpackID(h[traceIDHeader])
	if !ok {
		return nil
	}

	t := &Trace{TraceID: id}
	t.SpanID, _ = unpackID(h[spanIDHeader])
	t.ParentID, _ = unpackID(h[parentIDHeader])
	return t
}

func packID(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func unpackID(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}

	return binary.BigEndian.Uint64(b), true
}
