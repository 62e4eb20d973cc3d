// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	"github.com/DataDog/dd-trace-otel-bridge/internal"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
	"github.com/DataDog/dd-trace-otel-bridge/internal/stableconfig"
	"github.com/DataDog/dd-trace-otel-bridge/internal/telemetry"
)

const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 10 * time.Second
	defaultDogstatsdPort    = "8125"
)

// config holds the tracer configuration.
type config struct {
	// debug, when true, writes details to logs.
	debug bool

	// serviceName specifies the name of this application.
	serviceName string

	// env contains the environment that this application will run under.
	env string

	// version specifies the version of this application.
	version string

	// sampler specifies the sampler that will be used for sampling traces.
	sampler *Sampler

	// agentURL is the base URL of the trace agent.
	agentURL *url.URL

	// httpClient specifies the HTTP client to be used by the agent's transport.
	httpClient *http.Client

	// transport overrides the HTTP transport; used in tests.
	transport transport

	// globalTags holds a set of tags that will be automatically applied to
	// all spans.
	globalTags map[string]interface{}

	// propagator propagates span contexts to and from carriers.
	propagator Propagator

	// flushInterval is the interval at which finished traces are sent.
	flushInterval time.Duration

	// stopTimeout bounds the final flush performed by Stop.
	stopTimeout time.Duration

	// breakerThreshold is the number of consecutive failed deliveries after
	// which the circuit breaker opens for breakerCooldown.
	breakerThreshold int
	breakerCooldown  time.Duration

	// statsd is used for tracking health metrics.
	statsd internal.StatsdClient

	// dogstatsdAddr is the address used by the default statsd client.
	dogstatsdAddr string

	// logStartup, when true, causes the tracer to print a startup log.
	logStartup bool

	// traceID128 enables the generation of 128-bit trace ids.
	traceID128 bool

	// logger specifies the logger to use when printing errors. If not specified, the "log" package
	// will be used.
	logger log.Logger

	// telemetryEnabled enables the instrumentation telemetry reporter.
	telemetryEnabled bool

	// telemetryHeartbeat overrides the telemetry heartbeat interval.
	telemetryHeartbeat time.Duration

	// telemetryConfig records the effective configuration and its origin,
	// reported in the app-started event.
	telemetryConfig map[string]telemetry.Configuration
}

// StartOption represents a function that can be provided as a parameter to Start.
type StartOption func(*config)

// newConfig renders the tracer configuration based on defaults, the
// environment, the declarative configuration file and the supplied
// options, in increasing order of precedence.
func newConfig(opts ...StartOption) *config {
	c := &config{telemetryConfig: make(map[string]telemetry.Configuration)}

	var origin telemetry.Origin
	c.serviceName, origin = stableconfig.String("DD_SERVICE", filepath.Base(os.Args[0]))
	c.recordString("service", c.serviceName, origin)
	c.env, origin = stableconfig.String("DD_ENV", "")
	c.recordString("env", c.env, origin)
	c.version, origin = stableconfig.String("DD_VERSION", "")
	c.recordString("version", c.version, origin)

	c.agentURL = resolveAgentURL()
	c.dogstatsdAddr = resolveDogstatsdAddr()

	var err error
	c.debug, origin, err = stableconfig.Bool("DD_TRACE_DEBUG", false)
	c.warn(err)
	c.recordBool("trace_debug_enabled", c.debug, origin)
	c.flushInterval, origin, err = stableconfig.Duration("DD_TRACE_FLUSH_INTERVAL", defaultFlushInterval)
	c.warn(err)
	c.recordString("trace_flush_interval", c.flushInterval.String(), origin)
	c.breakerThreshold, origin, err = stableconfig.Int("DD_TRACE_BREAKER_THRESHOLD", defaultBreakerThreshold)
	c.warn(err)
	c.recordInt("trace_breaker_threshold", c.breakerThreshold, origin)
	c.breakerCooldown, origin, err = stableconfig.Duration("DD_TRACE_BREAKER_COOLDOWN", defaultBreakerCooldown)
	c.warn(err)
	c.recordString("trace_breaker_cooldown", c.breakerCooldown.String(), origin)
	c.logStartup, origin, err = stableconfig.Bool("DD_TRACE_STARTUP_LOGS", true)
	c.warn(err)
	c.recordBool("trace_startup_logs_enabled", c.logStartup, origin)
	c.traceID128, origin, err = stableconfig.Bool("DD_TRACE_128_BIT_TRACEID_GENERATION_ENABLED", true)
	c.warn(err)
	c.recordBool("trace_128_bit_traceid_generation_enabled", c.traceID128, origin)
	c.telemetryEnabled = !telemetry.Disabled()
	c.sampler = defaultSampler(c)
	c.stopTimeout = defaultStopTimeout

	for _, fn := range opts {
		fn(c)
	}
	if c.httpClient == nil {
		c.httpClient = defaultHTTPClient(0)
	}
	if c.breakerThreshold < 1 {
		log.Warn("ignoring breaker threshold %d, using default of %d", c.breakerThreshold, defaultBreakerThreshold)
		c.breakerThreshold = defaultBreakerThreshold
	}
	if c.propagator == nil {
		c.propagator = &propagatorW3c{}
	}
	if c.logger != nil {
		log.UseLogger(c.logger)
	}
	if c.debug {
		log.SetLevel(log.LevelDebug)
	}
	if c.statsd == nil {
		client, err := internal.NewStatsdClient(c.dogstatsdAddr, statsTags(c))
		if err != nil {
			log.Warn("runtime and health metrics disabled: %v", err)
		}
		c.statsd = client
	}
	return c
}

// defaultSampler builds the root sampler from DD_TRACE_SAMPLE_RATE and
// DD_TRACE_RATE_LIMIT. Without either, every root is kept.
func defaultSampler(c *config) *Sampler {
	rate, origin, err := stableconfig.Float("DD_TRACE_SAMPLE_RATE", -1)
	c.warn(err)
	if rate >= 0 {
		c.recordFloat("trace_sample_rate", rate, origin)
		return ParentBased(TraceIDRatio(rate))
	}
	limit, origin, err := stableconfig.Float("DD_TRACE_RATE_LIMIT", -1)
	c.warn(err)
	if limit >= 0 {
		c.recordFloat("trace_rate_limit", limit, origin)
		return ParentBased(RateLimited(limit))
	}
	return ParentBased(AlwaysOn())
}

func (c *config) warn(err error) {
	if err != nil {
		log.Warn("%v", err)
	}
}

func (c *config) recordString(key, val string, origin telemetry.Origin) {
	c.telemetryConfig[key] = telemetry.StringConfig(key, val, origin)
}

func (c *config) recordBool(key string, val bool, origin telemetry.Origin) {
	c.telemetryConfig[key] = telemetry.BoolConfig(key, val, origin)
}

func (c *config) recordInt(key string, val int, origin telemetry.Origin) {
	c.telemetryConfig[key] = telemetry.IntConfig(key, val, origin)
}

func (c *config) recordFloat(key string, val float64, origin telemetry.Origin) {
	c.telemetryConfig[key] = telemetry.FloatConfig(key, val, origin)
}

// resolveAgentURL resolves the agent URL from DD_TRACE_AGENT_URL, or from
// DD_AGENT_HOST and DD_TRACE_AGENT_PORT, filling in any missing part with
// the defaults.
func resolveAgentURL() *url.URL {
	if agentURL := os.Getenv("DD_TRACE_AGENT_URL"); agentURL != "" {
		u, err := url.Parse(agentURL)
		switch {
		case err != nil:
			log.Warn("Failed to parse DD_TRACE_AGENT_URL: %v", err)
		case u.Scheme != "http" && u.Scheme != "https":
			log.Warn("Unsupported protocol %q in Agent URL %q. Must be http or https.", u.Scheme, agentURL)
		default:
			return u
		}
	}
	host, port := defaultHostname, defaultPort
	if v := os.Getenv("DD_AGENT_HOST"); v != "" {
		host = v
	}
	if v := os.Getenv("DD_TRACE_AGENT_PORT"); v != "" {
		port = v
	}
	return &url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}
}

func resolveDogstatsdAddr() string {
	host, port := defaultHostname, defaultDogstatsdPort
	if v := os.Getenv("DD_AGENT_HOST"); v != "" {
		host = v
	}
	if v := os.Getenv("DD_DOGSTATSD_PORT"); v != "" {
		port = v
	}
	return net.JoinHostPort(host, port)
}

// statsTags returns the tags attached to every health metric.
func statsTags(c *config) []string {
	tags := []string{
		"lang:go",
		"lang_version:" + runtimeVersion(),
	}
	if c.serviceName != "" {
		tags = append(tags, "service:"+c.serviceName)
	}
	if c.env != "" {
		tags = append(tags, "env:"+c.env)
	}
	return tags
}

// WithDebugMode enables debug mode on the tracer, making logging more verbose.
func WithDebugMode(enabled bool) StartOption {
	return func(c *config) {
		c.debug = enabled
		c.recordBool("trace_debug_enabled", enabled, telemetry.OriginCode)
	}
}

// WithService sets the default service name for the program.
func WithService(name string) StartOption {
	return func(c *config) {
		c.serviceName = name
		c.recordString("service", name, telemetry.OriginCode)
	}
}

// WithEnv sets the environment to which all traces started by the tracer
// will be submitted.
func WithEnv(env string) StartOption {
	return func(c *config) {
		c.env = env
		c.recordString("env", env, telemetry.OriginCode)
	}
}

// WithServiceVersion specifies the version of the service that is running.
// It is added to spans of the default service.
func WithServiceVersion(version string) StartOption {
	return func(c *config) {
		c.version = version
		c.recordString("version", version, telemetry.OriginCode)
	}
}

// WithAgentAddr sets the address where the agent is located. The default is
// localhost:8126.
func WithAgentAddr(addr string) StartOption {
	return func(c *config) {
		c.agentURL = &url.URL{Scheme: "http", Host: addr}
	}
}

// WithAgentURL sets the full trace agent URL.
func WithAgentURL(agentURL string) StartOption {
	return func(c *config) {
		u, err := url.Parse(agentURL)
		if err != nil {
			log.Warn("Failed to parse agent URL %q: %v", agentURL, err)
			return
		}
		c.agentURL = u
	}
}

// WithHTTPClient specifies the HTTP client to use when emitting spans to the agent.
func WithHTTPClient(client *http.Client) StartOption {
	return func(c *config) {
		c.httpClient = client
	}
}

// WithSampler sets the given sampler to be used with the tracer. By default
// every root span is kept and remote parents' decisions are honoured.
func WithSampler(s *Sampler) StartOption {
	return func(c *config) {
		c.sampler = s
	}
}

// WithPropagator sets the propagator used by Inject and Extract.
func WithPropagator(p Propagator) StartOption {
	return func(c *config) {
		c.propagator = p
	}
}

// WithFlushInterval sets the interval at which finished traces are sent to
// the agent.
func WithFlushInterval(d time.Duration) StartOption {
	return func(c *config) {
		c.flushInterval = d
		c.recordString("trace_flush_interval", d.String(), telemetry.OriginCode)
	}
}

// WithBreaker configures the circuit breaker guarding deliveries to the
// agent: after threshold consecutive failures, deliveries are skipped for
// cooldown.
func WithBreaker(threshold int, cooldown time.Duration) StartOption {
	return func(c *config) {
		c.breakerThreshold = threshold
		c.breakerCooldown = cooldown
		c.recordInt("trace_breaker_threshold", threshold, telemetry.OriginCode)
		c.recordString("trace_breaker_cooldown", cooldown.String(), telemetry.OriginCode)
	}
}

// WithGlobalTag sets a key/value pair which will be set as a tag on all spans
// created by tracer.
func WithGlobalTag(k string, v interface{}) StartOption {
	return func(c *config) {
		if c.globalTags == nil {
			c.globalTags = make(map[string]interface{})
		}
		c.globalTags[k] = v
	}
}

// WithStatsdClient sets the client used to report the tracer's health metrics.
func WithStatsdClient(client internal.StatsdClient) StartOption {
	return func(c *config) {
		c.statsd = client
	}
}

// WithDogstatsdAddr specifies the address to connect to for sending metrics
// to the Datadog Agent. The default is localhost:8125.
func WithDogstatsdAddr(addr string) StartOption {
	return func(c *config) {
		c.dogstatsdAddr = addr
	}
}

// WithLogStartup allows enabling or disabling the startup log.
func WithLogStartup(enabled bool) StartOption {
	return func(c *config) {
		c.logStartup = enabled
	}
}

// With128BitTraceIDs enables or disables the generation of 128-bit trace ids.
func With128BitTraceIDs(enabled bool) StartOption {
	return func(c *config) {
		c.traceID128 = enabled
	}
}

// WithLogger sets logger as the tracer's error printer.
func WithLogger(logger log.Logger) StartOption {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTelemetry enables or disables the instrumentation telemetry reporter.
func WithTelemetry(enabled bool) StartOption {
	return func(c *config) {
		c.telemetryEnabled = enabled
	}
}

// WithTelemetryHeartbeat sets the interval between telemetry heartbeats.
func WithTelemetryHeartbeat(d time.Duration) StartOption {
	return func(c *config) {
		c.telemetryHeartbeat = d
	}
}

// withTransport overrides the transport used to reach the agent.
func withTransport(t transport) StartOption {
	return func(c *config) {
		c.transport = t
	}
}

// withStopTimeout bounds the final flush performed by Stop.
func withStopTimeout(d time.Duration) StartOption {
	return func(c *config) {
		c.stopTimeout = d
	}
}

// StartSpanConfig holds the configuration for starting a new span.
type StartSpanConfig struct {
	// Parent holds the SpanContext that should be used as a parent for the
	// new span. If nil, implementations should return a root span.
	Parent *SpanContext

	// StartTime holds the time that should be used as the start time of the span.
	// Implementations should use the current time when StartTime.IsZero().
	StartTime time.Time

	// Tags holds a set of key/value pairs that should be set as metadata on the
	// new span.
	Tags map[string]interface{}

	// SpanID will be the SpanID of the Span, overriding the random number that
	// would be generated. If no Parent SpanContext is present, then this will
	// also set the TraceID to the same value.
	SpanID uint64

	// SpanLinks represents a causal relationship between two spans.
	SpanLinks []SpanLink
}

// StartSpanOption is a configuration option for StartSpan.
type StartSpanOption func(cfg *StartSpanConfig)

// Tag sets the given key/value pair as a tag on the started Span.
func Tag(k string, v interface{}) StartSpanOption {
	return func(cfg *StartSpanConfig) {
		if cfg.Tags == nil {
			cfg.Tags = map[string]interface{}{}
		}
		cfg.Tags[k] = v
	}
}

// ServiceName sets the given service name on the started span.
func ServiceName(name string) StartSpanOption {
	return Tag(ext.ServiceName, name)
}

// ResourceName sets the given resource name on the started span.
func ResourceName(name string) StartSpanOption {
	return Tag(ext.ResourceName, name)
}

// SpanType sets the given span type on the started span.
func SpanType(name string) StartSpanOption {
	return Tag(ext.SpanType, name)
}

// ChildOf tells StartSpan to use the given context as a parent for the
// created span.
func ChildOf(ctx *SpanContext) StartSpanOption {
	return func(cfg *StartSpanConfig) {
		cfg.Parent = ctx
	}
}

// StartTime sets a custom time as the start time for the created span. By
// default a span is started using the current time.
func StartTime(t time.Time) StartSpanOption {
	return func(cfg *StartSpanConfig) {
		cfg.StartTime = t
	}
}

// WithSpanID sets the SpanID on the started span, instead of using a random number.
func WithSpanID(id uint64) StartSpanOption {
	return func(cfg *StartSpanConfig) {
		cfg.SpanID = id
	}
}

// WithSpanLinks sets span links on the started span.
func WithSpanLinks(links []SpanLink) StartSpanOption {
	return func(cfg *StartSpanConfig) {
		cfg.SpanLinks = append(cfg.SpanLinks, links...)
	}
}

// FinishConfig holds the configuration for finishing a span.
type FinishConfig struct {
	// FinishTime represents the time that should be set as finishing time for the
	// span. Implementations should use the current time when FinishTime.IsZero().
	FinishTime time.Time

	// Error holds an optional error that should be set on the span before
	// finishing.
	Error error
}

// FinishOption is a configuration option for FinishSpan.
type FinishOption func(cfg *FinishConfig)

// FinishTime sets the given time as the finishing time for the span.
func FinishTime(t time.Time) FinishOption {
	return func(cfg *FinishConfig) {
		cfg.FinishTime = t
	}
}

// WithError adds the given error to the span before marking it as finished.
func WithError(err error) FinishOption {
	return func(cfg *FinishConfig) {
		cfg.Error = err
	}
}

// agentString describes the agent endpoint for the startup log.
func (c *config) agentString() string {
	if c.agentURL == nil {
		return defaultURL
	}
	return fmt.Sprintf("%s://%s", c.agentURL.Scheme, c.agentURL.Host)
}
