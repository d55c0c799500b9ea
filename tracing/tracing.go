/*
Package tracing creates the OpenTracing tracer of the proxy from the value
of the -opentracing flag: the name of the implementation followed by its
options, separated by spaces.

	noop
	basic sample-modulo=10 max-logs-per-span=20 drop-all-logs

The basic tracer records the finished spans in the application log at
debug level.
*/
package tracing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	basic "github.com/opentracing/basictracer-go"
	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrUnsupportedTracer is returned when an unsupported opentracing
	// implementation was requested as tracer
	ErrUnsupportedTracer = errors.New("invalid argument, not a supported tracer")

	// ErrMissingArguments is returned when an empty list is passed to
	// InitTracer
	ErrMissingArguments = errors.New("no arguments passed")
)

// InitTracer creates a tracer. The first element of opts is the name of
// the implementation.
func InitTracer(opts []string) (ot.Tracer, error) {
	if len(opts) == 0 {
		return nil, ErrMissingArguments
	}

	impl, opts := opts[0], opts[1:]
	switch impl {
	case "noop":
		return &ot.NoopTracer{}, nil
	case "basic":
		return initBasic(opts, logRecorder{log.StandardLogger()})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTracer, impl)
	}
}

func missingArg(opt string) error {
	return fmt.Errorf("missing argument for %s option", opt)
}

func invalidArg(opt string, err error) error {
	return fmt.Errorf("invalid argument for %s option: %w", opt, err)
}

func initBasic(opts []string, recorder basic.SpanRecorder) (ot.Tracer, error) {
	var (
		dropAllLogs    bool
		sampleModulo   uint64 = 1
		maxLogsPerSpan int
		err            error
	)

	for _, o := range opts {
		k, v, _ := strings.Cut(o, "=")
		switch k {
		case "drop-all-logs":
			dropAllLogs = true
		case "sample-modulo":
			if v == "" {
				return nil, missingArg(k)
			}

			sampleModulo, err = strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, invalidArg(k, err)
			}

			if sampleModulo == 0 {
				return nil, invalidArg(k, errors.New("zero"))
			}
		case "max-logs-per-span":
			if v == "" {
				return nil, missingArg(k)
			}

			maxLogsPerSpan, err = strconv.Atoi(v)
			if err != nil {
				return nil, invalidArg(k, err)
			}
		default:
			return nil, fmt.Errorf("unknown option of the basic tracer: %s", k)
		}
	}

	return basic.NewWithOptions(basic.Options{
		DropAllLogs:    dropAllLogs,
		ShouldSample:   func(traceID uint64) bool { return traceID%sampleModulo == 0 },
		MaxLogsPerSpan: maxLogsPerSpan,
		Recorder:       recorder,
	}), nil
}

type logRecorder struct {
	logger *log.Logger
}

func (r logRecorder) RecordSpan(s basic.RawSpan) {
	if !s.Context.Sampled {
		return
	}

	f := log.Fields{
		"trace_id": fmt.Sprintf("%016x", s.Context.TraceID),
		"span_id":  fmt.Sprintf("%016x", s.Context.SpanID),
	}

	if s.ParentSpanID != 0 {
		f["parent_id"] = fmt.Sprintf("%016x", s.ParentSpanID)
	}

	for k, v := range s.Tags {
		f[k] = v
	}

	r.logger.WithFields(f).Debugf("span %s finished in %s with %d logs", s.Operation, s.Duration, len(s.Logs))
}
