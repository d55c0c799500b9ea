package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/cocaine/rpcproxy"
	"github.com/cocaine/rpcproxy/circuit"
	"github.com/cocaine/rpcproxy/cocaine"
	rnet "github.com/cocaine/rpcproxy/net"
	"github.com/cocaine/rpcproxy/proxy"
	"github.com/cocaine/rpcproxy/routing"
	"github.com/cocaine/rpcproxy/servicecache"
	"github.com/cocaine/rpcproxy/tracing"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	PrintVersion    bool          `yaml:"version"`
	Count           int           `yaml:"count"`
	Endpoints       multiFlag     `yaml:"endpoints"`
	ReusePort       bool          `yaml:"so-reuseport"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`

	// proxy protocol:
	ProxyProtocol          bool      `yaml:"proxy-protocol"`
	ProxyProtocolAllowList *listFlag `yaml:"proxy-protocol-allow-list"`

	// cocaine:
	Locators       *listFlag        `yaml:"locators"`
	CacheCount     int              `yaml:"cache"`
	RefreshPeriod  time.Duration    `yaml:"refresh-period"`
	TimeoutsMap    mapFlags         `yaml:"timeouts"`
	Timeouts       routing.Timeouts `yaml:"-"`
	TimeoutsFile   string           `yaml:"timeouts-file"`
	DefaultTimeout time.Duration    `yaml:"default-timeout"`

	// dispatching:
	StickyHeader          string                   `yaml:"sticky-header"`
	RequestHeader         string                   `yaml:"request-header"`
	ForcegenRequestHeader bool                     `yaml:"forcegen-request-header"`
	Attempts              int                      `yaml:"attempts"`
	MaxInflight           int                      `yaml:"max-inflight"`
	MaxQueue              int                      `yaml:"max-queue"`
	QueueTimeout          time.Duration            `yaml:"queue-timeout"`
	Breaker               *circuit.BreakerSettings `yaml:"breaker"`

	// util listener:
	EnableUtil  bool   `yaml:"enableutil"`
	UtilAddress string `yaml:"utiladdress"`
	UtilPort    int    `yaml:"utilport"`

	// logging, metrics:
	ApplicationLog            string    `yaml:"application-log"`
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool      `yaml:"application-log-json-enabled"`
	AccessLog                 string    `yaml:"access-log"`
	AccessLogDisabled         bool      `yaml:"access-log-disabled"`
	AccessLogJSONEnabled      bool      `yaml:"access-log-json-enabled"`
	FingersCrossed            bool      `yaml:"fingerscrossed"`
	MetricsPrefix             string    `yaml:"metrics-prefix"`
	RuntimeMetrics            bool      `yaml:"runtime-metrics"`
	OpenTracing               string    `yaml:"opentracing"`
}

const (
	defaultUtilAddress = "127.0.0.1"
	defaultUtilPort    = 8081

	timeoutsUsage = "timeouts of the applications as comma separated name=timeout or name/event=timeout pairs, timeouts in seconds or as durations, e.g. app1=5,app1/upload=2m"
	breakerUsage  = "circuit breaker around connecting to the applications in YAML flow style, e.g. {failures: 5, timeout: 10s}; disabled without failures"
)

func NewConfig() *Config {
	cfg := new(Config)
	cfg.Locators = commaListFlag()
	cfg.Locators.Set(rpcproxy.DefaultLocator)
	cfg.ProxyProtocolAllowList = commaListFlag()

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.BoolVar(&cfg.PrintVersion, "version", false, "print the version of the proxy")
	flag.IntVar(&cfg.Count, "count", 0, "number of OS threads executing the proxy simultaneously, 0 leaves the Go default")
	flag.Var(&cfg.Endpoints, "endpoints", "endpoint to listen on, tcp://host:port or unix:///path, can be repeated; default: "+rpcproxy.DefaultEndpoint)
	flag.BoolVar(&cfg.ReusePort, "so-reuseport", true, "set SO_REUSEPORT on the tcp listeners")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", rpcproxy.DefaultShutdownTimeout, "time to wait for the requests in progress on shutdown")

	// proxy protocol:
	flag.BoolVar(&cfg.ProxyProtocol, "proxy-protocol", false, "accept the PROXY protocol header on the tcp listeners")
	flag.Var(cfg.ProxyProtocolAllowList, "proxy-protocol-allow-list", "comma separated CIDRs or IPs allowed to send a PROXY protocol header, empty allows every client")

	// cocaine:
	flag.Var(cfg.Locators, "locators", "comma separated host:port addresses of the cocaine locator")
	flag.IntVar(&cfg.CacheCount, "cache", servicecache.DefaultCacheCount, "connections per application are 1.5 times this value")
	flag.DurationVar(&cfg.RefreshPeriod, "refresh-period", servicecache.DefaultRefreshPeriod, "minimum age of the connections before they are replaced")
	flag.Var(&cfg.TimeoutsMap, "timeouts", timeoutsUsage)
	flag.StringVar(&cfg.TimeoutsFile, "timeouts-file", "", "YAML file of the application timeouts, reloaded when it changes; the -timeouts flag overrides it")
	flag.DurationVar(&cfg.DefaultTimeout, "default-timeout", routing.DefaultTimeout, "timeout of the applications without a configured timeout")

	// dispatching:
	flag.StringVar(&cfg.StickyHeader, "sticky-header", proxy.DefaultStickyHeader, "header holding the seed of the version selection in the routing groups")
	flag.StringVar(&cfg.RequestHeader, "request-header", proxy.DefaultRequestIDHeader, "header holding the request id")
	flag.BoolVar(&cfg.ForcegenRequestHeader, "forcegen-request-header", false, "generate a request id for the requests without one")
	flag.IntVar(&cfg.Attempts, "attempts", proxy.DefaultAttempts, "attempts of dispatching a request when the connection to the application is lost")
	flag.IntVar(&cfg.MaxInflight, "max-inflight", 0, "maximum number of requests dispatched concurrently, 0 disables the limit")
	flag.IntVar(&cfg.MaxQueue, "max-queue", 0, "maximum number of requests waiting when max-inflight is reached, 0 means no limit")
	flag.DurationVar(&cfg.QueueTimeout, "queue-timeout", 0, "maximum time a request waits when max-inflight is reached, 0 means no limit")
	flag.Var(newYamlFlag(&cfg.Breaker), "breaker", breakerUsage)

	// util listener:
	flag.BoolVar(&cfg.EnableUtil, "enableutil", false, "enable the util listener serving /ping, /info, /logger and /metrics")
	flag.StringVar(&cfg.UtilAddress, "utiladdress", defaultUtilAddress, "address of the util listener")
	flag.IntVar(&cfg.UtilPort, "utilport", defaultUtilPort, "port of the util listener")

	// logging, metrics:
	flag.StringVar(&cfg.ApplicationLog, "application-log", "", "output file for the application log; when not set, /dev/stderr is used")
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", "[APP]", "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.StringVar(&cfg.AccessLog, "access-log", "", "output file for the access log; when not set, /dev/stderr is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.BoolVar(&cfg.FingersCrossed, "fingerscrossed", true, "hold back the log of a request until it logs an error")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", "", "prefix of the metric names, default: cocaine_proxy")
	flag.BoolVar(&cfg.RuntimeMetrics, "runtime-metrics", true, "enables reporting the Go runtime and process metrics")
	flag.StringVar(&cfg.OpenTracing, "opentracing", "noop", "list of arguments for opentracing (space separated), first argument is the tracer implementation: noop or basic")

	cfg.Flags = flag
	return cfg
}

// parseTimeout accepts seconds or durations.
func parseTimeout(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	return time.ParseDuration(s)
}

func parseTimeouts(m map[string]string) (routing.Timeouts, error) {
	t := make(routing.Timeouts)
	for k, v := range m {
		name, event, _ := strings.Cut(k, "/")
		if name == "" {
			return nil, fmt.Errorf("invalid timeout key: %s", k)
		}

		d, err := parseTimeout(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid timeout of %s: %s", k, v)
		}

		t.Set(name, event, d)
	}

	return t, nil
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	if len(c.Locators.values) == 0 {
		return fmt.Errorf("no locators")
	}

	for _, l := range c.Locators.values {
		if _, err := cocaine.ParseEndpoint(l); err != nil {
			return fmt.Errorf("invalid locator %s: %w", l, err)
		}
	}

	if _, err := rnet.ParseEndpoints(c.Endpoints); err != nil {
		return err
	}

	if _, err := rnet.ParseIPCIDRs(c.ProxyProtocolAllowList.values); err != nil {
		return fmt.Errorf("invalid proxy-protocol-allow-list: %w", err)
	}

	if c.CacheCount <= 0 {
		return fmt.Errorf("invalid cache: %d", c.CacheCount)
	}

	if c.Attempts <= 0 {
		return fmt.Errorf("invalid attempts: %d", c.Attempts)
	}

	if c.UtilPort <= 0 || c.UtilPort > 0xffff {
		return fmt.Errorf("invalid utilport: %d", c.UtilPort)
	}

	if _, err := tracing.InitTracer(strings.Fields(c.OpenTracing)); err != nil {
		return err
	}

	_, err = parseTimeouts(c.TimeoutsMap.values)
	return err
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	if len(c.Endpoints) == 0 {
		c.Endpoints = multiFlag{rpcproxy.DefaultEndpoint}
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.Timeouts, _ = parseTimeouts(c.TimeoutsMap.values)
	return nil
}

func (c *Config) ToOptions() rpcproxy.Options {
	var breaker circuit.BreakerSettings
	if c.Breaker != nil {
		breaker = *c.Breaker
	}

	return rpcproxy.Options{
		// cocaine:
		Locators:       c.Locators.values,
		CacheCount:     c.CacheCount,
		RefreshPeriod:  c.RefreshPeriod,
		Timeouts:       c.Timeouts,
		TimeoutsFile:   c.TimeoutsFile,
		DefaultTimeout: c.DefaultTimeout,

		// dispatching:
		StickyHeader:    c.StickyHeader,
		RequestIDHeader: c.RequestHeader,
		ForceRequestID:  c.ForcegenRequestHeader,
		Attempts:        c.Attempts,
		MaxInflight:     c.MaxInflight,
		MaxQueue:        c.MaxQueue,
		QueueTimeout:    c.QueueTimeout,
		Breaker:         breaker,

		// listeners:
		Count:                       c.Count,
		Endpoints:                   c.Endpoints,
		ReusePort:                   c.ReusePort,
		ProxyProtocol:               c.ProxyProtocol,
		ProxyProtocolAllowListCIDRs: c.ProxyProtocolAllowList.values,
		EnableUtil:                  c.EnableUtil,
		UtilAddress:                 net.JoinHostPort(c.UtilAddress, strconv.Itoa(c.UtilPort)),
		ShutdownTimeout:             c.ShutdownTimeout,

		// logging, metrics:
		ApplicationLogLevel:       c.ApplicationLogLevel,
		ApplicationLogOutput:      c.ApplicationLog,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		AccessLogOutput:           c.AccessLog,
		AccessLogDisabled:         c.AccessLogDisabled,
		AccessLogJSONEnabled:      c.AccessLogJSONEnabled,
		FingersCrossed:            c.FingersCrossed,
		MetricsPrefix:             c.MetricsPrefix,
		EnableRuntimeMetrics:      c.RuntimeMetrics,
		OpenTracing:               strings.Fields(c.OpenTracing),
	}
}
