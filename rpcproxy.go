package rpcproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cocaine/rpcproxy/circuit"
	"github.com/cocaine/rpcproxy/cocaine"
	"github.com/cocaine/rpcproxy/logging"
	"github.com/cocaine/rpcproxy/metrics"
	rnet "github.com/cocaine/rpcproxy/net"
	"github.com/cocaine/rpcproxy/proxy"
	"github.com/cocaine/rpcproxy/routing"
	"github.com/cocaine/rpcproxy/scheduler"
	"github.com/cocaine/rpcproxy/servicecache"
	"github.com/cocaine/rpcproxy/tracing"
	"github.com/cocaine/rpcproxy/utilserver"
)

const (
	DefaultLocator         = "localhost:10053"
	DefaultEndpoint        = "tcp://localhost:8080"
	DefaultUtilAddress     = "127.0.0.1:8081"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultQueueMeasure    = 5 * time.Second
)

// Options to start the proxy.
type Options struct {

	// Locators are the host:port addresses of the cocaine locator,
	// tried in order. Defaults to DefaultLocator.
	Locators []string

	// CacheCount sets the number of connections per application to
	// int(1.5 * CacheCount).
	CacheCount int

	// RefreshPeriod is the minimum age of the connections before they
	// are replaced.
	RefreshPeriod time.Duration

	// Timeouts are the per application and event timeouts. They override
	// the timeouts loaded from TimeoutsFile.
	Timeouts routing.Timeouts

	// TimeoutsFile, when set, is loaded on startup and reloaded when it
	// changes.
	TimeoutsFile string

	// DefaultTimeout applies to the applications without a configured
	// timeout.
	DefaultTimeout time.Duration

	// StickyHeader holds the seed of the version selection.
	StickyHeader string

	// RequestIDHeader holds the request id.
	RequestIDHeader string

	// ForceRequestID generates request ids for the requests without one.
	ForceRequestID bool

	// Count sets GOMAXPROCS when positive.
	Count int

	// Endpoints the proxy listens on, tcp://host:port or
	// unix:///path. Defaults to DefaultEndpoint.
	Endpoints []string

	// ReusePort sets SO_REUSEPORT on the tcp listeners.
	ReusePort bool

	// ProxyProtocol enables the PROXY protocol on the tcp listeners.
	ProxyProtocol bool

	// ProxyProtocolAllowListCIDRs restricts the clients that may send a
	// PROXY protocol header. Empty allows every client.
	ProxyProtocolAllowListCIDRs []string

	// Attempts of dispatching a request after the connection was lost.
	Attempts int

	// EnableUtil starts the util listener on UtilAddress.
	EnableUtil  bool
	UtilAddress string

	// Logging:
	ApplicationLogLevel       log.Level
	ApplicationLogOutput      string
	ApplicationLogPrefix      string
	ApplicationLogJSONEnabled bool
	AccessLogOutput           string
	AccessLogDisabled         bool
	AccessLogJSONEnabled      bool
	FingersCrossed            bool

	// MaxInflight limits the requests dispatched concurrently. Zero
	// means no limit. MaxQueue and QueueTimeout bound the waiting
	// requests.
	MaxInflight  int
	MaxQueue     int
	QueueTimeout time.Duration

	// Breaker configures the circuit breakers around connecting to the
	// applications. Disabled when Failures is zero.
	Breaker circuit.BreakerSettings

	// ShutdownTimeout bounds the graceful shutdown of the listeners.
	ShutdownTimeout time.Duration

	// Metrics:
	MetricsPrefix        string
	EnableRuntimeMetrics bool

	// OpenTracing selects the tracer implementation and its options,
	// see the tracing package. Defaults to noop.
	OpenTracing []string

	// OpenTracer, when set, is used instead of the tracer created from
	// OpenTracing.
	OpenTracer ot.Tracer

	// Plugins take over the requests they match.
	Plugins []proxy.Plugin

	// Version of the binary, recorded in the metrics.
	Version string
}

func (o *Options) defaults() {
	if len(o.Locators) == 0 {
		o.Locators = []string{DefaultLocator}
	}

	if len(o.Endpoints) == 0 {
		o.Endpoints = []string{DefaultEndpoint}
	}

	if o.UtilAddress == "" {
		o.UtilAddress = DefaultUtilAddress
	}

	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}

	if len(o.OpenTracing) == 0 {
		o.OpenTracing = []string{"noop"}
	}
}

func openLog(path string) (io.Writer, error) {
	switch path {
	case "":
		return nil, nil
	case "-", "/dev/stderr":
		return os.Stderr, nil
	case "/dev/stdout":
		return os.Stdout, nil
	}

	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func initLog(o Options) error {
	appOut, err := openLog(o.ApplicationLogOutput)
	if err != nil {
		return fmt.Errorf("failed to open application log: %w", err)
	}

	accessOut, err := openLog(o.AccessLogOutput)
	if err != nil {
		return fmt.Errorf("failed to open access log: %w", err)
	}

	logging.Init(logging.Options{
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogOutput:      appOut,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		AccessLogOutput:           accessOut,
		AccessLogDisabled:         o.AccessLogDisabled,
		AccessLogJSONEnabled:      o.AccessLogJSONEnabled,
		FingersCrossed:            o.FingersCrossed,
	})

	return nil
}

func parseLocators(addrs []string) ([]cocaine.Endpoint, error) {
	var endpoints []cocaine.Endpoint
	for _, a := range addrs {
		e, err := cocaine.ParseEndpoint(a)
		if err != nil {
			return nil, fmt.Errorf("invalid locator %s: %w", a, err)
		}

		endpoints = append(endpoints, e)
	}

	return endpoints, nil
}

func loadTimeouts(o Options) (routing.Timeouts, error) {
	if o.TimeoutsFile == "" {
		return o.Timeouts, nil
	}

	t, err := routing.LoadTimeoutsFile(o.TimeoutsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeouts: %w", err)
	}

	return t.Merge(o.Timeouts), nil
}

func newServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:  h,
		ErrorLog: stdlog.New(log.StandardLogger().WriterLevel(log.DebugLevel), "", 0),
	}
}

type listener struct {
	net.Listener
	server   *http.Server
	endpoint string
}

func listen(ctx context.Context, o Options, px http.Handler, util http.Handler) ([]listener, error) {
	endpoints, err := rnet.ParseEndpoints(o.Endpoints)
	if err != nil {
		return nil, err
	}

	lo := rnet.ListenOptions{ReusePort: o.ReusePort}
	if o.ProxyProtocol {
		lo.ProxyProtocol = &rnet.ProxyProtocolOptions{AllowListCIDRs: o.ProxyProtocolAllowListCIDRs}
	}

	if o.EnableUtil {
		endpoints = append(endpoints, rnet.Endpoint{Network: "tcp", Address: o.UtilAddress})
	}

	var listeners []listener
	for i, e := range endpoints {
		h, eo := px, lo
		if o.EnableUtil && i == len(endpoints)-1 {
			h, eo = util, rnet.ListenOptions{}
		}

		l, err := rnet.Listen(ctx, e, eo)
		if err != nil {
			for _, li := range listeners {
				li.Close()
			}

			return nil, fmt.Errorf("failed to listen on %s: %w", e, err)
		}

		listeners = append(listeners, listener{
			Listener: l,
			server:   newServer(h),
			endpoint: e.String(),
		})
	}

	return listeners, nil
}

// Run starts the proxy and blocks until SIGINT or SIGTERM is received,
// or until a listener fails.
func Run(o Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, o)
}

func run(ctx context.Context, o Options) error {
	o.defaults()
	if err := initLog(o); err != nil {
		return err
	}

	if o.Count > 0 {
		runtime.GOMAXPROCS(o.Count)
	}

	locators, err := parseLocators(o.Locators)
	if err != nil {
		return err
	}

	timeouts, err := loadTimeouts(o)
	if err != nil {
		return err
	}

	tracer := o.OpenTracer
	if tracer == nil {
		tracer, err = tracing.InitTracer(o.OpenTracing)
		if err != nil {
			return fmt.Errorf("failed to initialize the tracer: %w", err)
		}
	}

	mtr := metrics.NewPrometheus(metrics.Options{
		Prefix:               o.MetricsPrefix,
		EnableRuntimeMetrics: o.EnableRuntimeMetrics,
		Version:              o.Version,
	})

	locator := cocaine.NewLocator(locators)
	defer locator.Close()

	var resolver *routing.Resolver
	cache := servicecache.New(servicecache.Options{
		CacheCount:    o.CacheCount,
		RefreshPeriod: o.RefreshPeriod,
		Timeout:       func(name string) time.Duration { return resolver.Timeout(name, "") },
		Dial:          servicecache.Dialer(locator),
		Breakers:      circuit.NewRegistry(o.Breaker),
		Metrics:       mtr,
	})

	defer cache.Close()

	resolver = routing.New(routing.Options{
		Source:         routing.LocatorSource{Locator: locator},
		Invalidator:    cache,
		Timeouts:       timeouts,
		DefaultTimeout: o.DefaultTimeout,
	})

	health := &routing.HealthCheck{Checker: locator}
	limiter := scheduler.New(scheduler.Config{
		MaxConcurrency: o.MaxInflight,
		MaxQueueSize:   o.MaxQueue,
		Timeout:        o.QueueTimeout,
	})

	defer limiter.Close()

	px := proxy.New(proxy.Params{
		Cache:             cache,
		Router:            resolver,
		Health:            health,
		Limiter:           limiter,
		Plugins:           o.Plugins,
		Metrics:           mtr,
		OpenTracing:       &proxy.OpenTracingParams{Tracer: tracer},
		StickyHeader:      o.StickyHeader,
		RequestIDHeader:   o.RequestIDHeader,
		ForceRequestID:    o.ForceRequestID,
		Attempts:          o.Attempts,
		AccessLogDisabled: o.AccessLogDisabled,
	})

	util := utilserver.New(utilserver.Options{Info: px, Health: health, Metrics: mtr})
	listeners, err := listen(ctx, o, px, util)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { resolver.Run(gctx); return nil })
	g.Go(func() error { health.Run(gctx); return nil })
	g.Go(func() error { limiter.Measure(gctx, mtr, DefaultQueueMeasure); return nil })
	if o.TimeoutsFile != "" {
		g.Go(func() error {
			err := routing.WatchTimeoutsFile(gctx, o.TimeoutsFile, func(t routing.Timeouts) {
				resolver.SetTimeouts(t.Merge(o.Timeouts))
			})
			if err != nil {
				log.Errorf("timeouts file is not watched: %v", err)
			}

			return nil
		})
	}

	for _, l := range listeners {
		g.Go(func() error {
			log.Infof("listening on %s", l.endpoint)
			if err := l.server.Serve(l); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listener %s failed: %w", l.endpoint, err)
			}

			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Infof("shutting down the listeners in at most %s...", o.ShutdownTimeout)
		sctx, cancel := context.WithTimeout(context.Background(), o.ShutdownTimeout)
		defer cancel()
		for _, l := range listeners {
			if err := l.server.Shutdown(sctx); err != nil {
				log.Errorf("unable to shut down %s: %v", l.endpoint, err)
			}
		}

		return nil
	})

	err = g.Wait()
	log.Info("proxy shut down")
	return err
}
