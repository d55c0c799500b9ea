package logging

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// TraceIDField is the field of the request log holding the request id.
const TraceIDField = "trace_id"

type requestBuffer struct {
	triggered bool
	entries   [][]byte
}

// fingersCrossed is a logrus hook that holds back the entries of each
// request until one of them reaches the threshold level.
type fingersCrossed struct {
	mu        sync.Mutex
	out       io.Writer
	formatter logrus.Formatter
	threshold logrus.Level
	buffers   map[string]*requestBuffer
}

var (
	requestLogger atomic.Pointer[logrus.Logger]
	requestHook   atomic.Pointer[fingersCrossed]
)

func newFingersCrossed(out io.Writer, f logrus.Formatter) *fingersCrossed {
	return &fingersCrossed{
		out:       out,
		formatter: f,
		threshold: logrus.ErrorLevel,
		buffers:   make(map[string]*requestBuffer),
	}
}

func (h *fingersCrossed) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fingersCrossed) Fire(e *logrus.Entry) error {
	id, _ := e.Data[TraceIDField].(string)
	if id == "" {
		return nil
	}

	line, err := h.formatter.Format(e)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.buffers[id]
	if !ok {
		b = &requestBuffer{}
		h.buffers[id] = b
	}

	if b.triggered {
		_, err := h.out.Write(line)
		return err
	}

	b.entries = append(b.entries, line)
	if e.Level > h.threshold {
		return nil
	}

	b.triggered = true
	for _, l := range b.entries {
		if _, err := h.out.Write(l); err != nil {
			return err
		}
	}

	b.entries = nil
	return nil
}

func (h *fingersCrossed) purge(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.buffers, id)
}

func (h *fingersCrossed) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buffers)
}

func initRequestLog(fingersCrossed bool) {
	if !fingersCrossed {
		requestLogger.Store(nil)
		requestHook.Store(nil)
		return
	}

	std := logrus.StandardLogger()
	h := newFingersCrossed(std.Out, std.Formatter)

	l := logrus.New()
	l.Out = io.Discard
	l.Formatter = std.Formatter
	l.Level = std.GetLevel()
	l.AddHook(h)

	requestHook.Store(h)
	requestLogger.Store(l)
}

func requestLog() *logrus.Logger {
	if l := requestLogger.Load(); l != nil {
		return l
	}

	return logrus.StandardLogger()
}

// ForRequest returns the logger of a request.
func ForRequest(traceID string) *logrus.Entry {
	return requestLog().WithField(TraceIDField, traceID)
}

// Purge drops the messages held back for a request. It needs to be called
// when the request is complete.
func Purge(traceID string) {
	if h := requestHook.Load(); h != nil {
		h.purge(traceID)
	}
}
