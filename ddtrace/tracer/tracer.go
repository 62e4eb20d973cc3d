// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	"github.com/DataDog/dd-trace-otel-bridge/internal/circuitbreaker"
	"github.com/DataDog/dd-trace-otel-bridge/internal/globalconfig"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
	"github.com/DataDog/dd-trace-otel-bridge/internal/telemetry"
)

// tracer creates, buffers and submits Spans which are used to time blocks of
// computation. Finished traces are handed to a traceWriter which streams them
// into a payload, flushed to the agent whenever its size exceeds a specific
// threshold or when a certain interval of time has passed, whichever happens
// first.
type tracer struct {
	config *config

	// traceWriter is responsible for sending finished traces to the agent.
	traceWriter traceWriter

	// transport delivers traces and telemetry, both guarded by breaker.
	transport transport
	breaker   *circuitbreaker.Breaker

	// telemetry reports the tracer configuration and integrations; nil when
	// disabled.
	telemetry *telemetry.Client

	// stop causes the tracer to shut down when closed.
	stop chan struct{}

	// stopOnce ensures the tracer is stopped exactly once.
	stopOnce sync.Once

	// wg waits for all goroutines to exit when stopping.
	wg sync.WaitGroup

	// These integers track metrics about spans and traces as they are started,
	// finished, and dropped
	spansStarted, spansFinished, tracesDropped atomic.Int64
}

// statsInterval is the interval at which health metrics will be sent with the
// statsd client; replaced in tests.
var statsInterval = 10 * time.Second

// Start starts the tracer with the given set of options. It will stop and replace
// any running tracer, meaning that calling it several times will result in a restart
// of the tracer by replacing the current instance with a new one.
func Start(opts ...StartOption) {
	t := newTracer(opts...)
	setGlobalTracer(t)
	if t.config.logStartup {
		logStartup(t)
	}
}

// Stop stops the started tracer. Subsequent calls are valid but become no-op.
func Stop() {
	setGlobalTracer(nil)
	log.Flush()
}

// StartSpan starts a new span with the given operation name and set of options.
// If the tracer is not started, calling this function is a no-op and the
// returned span is nil.
func StartSpan(operationName string, opts ...StartSpanOption) *Span {
	return getGlobalTracer().StartSpan(operationName, opts...)
}

// Extract extracts a SpanContext from the carrier. The carrier is expected
// to implement TextMapReader, otherwise an error is returned.
// If the tracer is not started, ErrSpanContextNotFound is returned.
func Extract(carrier interface{}) (*SpanContext, error) {
	return getGlobalTracer().Extract(carrier)
}

// Inject injects the given SpanContext into the carrier. The carrier is
// expected to implement TextMapWriter, otherwise an error is returned.
// If the tracer is not started, calling this function is a no-op.
func Inject(ctx *SpanContext, carrier interface{}) error {
	return getGlobalTracer().Inject(ctx, carrier)
}

// Flush flushes any buffered traces and waits for the delivery attempt to
// complete. Flush is in effect only if a tracer is started. Users do not
// have to call Flush in order to ensure that traces reach Datadog.
func Flush() {
	if t := getGlobalTracer(); t != nil {
		t.flushSync()
	}
}

func newUnstartedTracer(opts ...StartOption) *tracer {
	c := newConfig(opts...)
	if c.sampler == nil {
		c.sampler = ParentBased(AlwaysOn())
	}
	breaker := circuitbreaker.New(uint32(c.breakerThreshold), c.breakerCooldown)
	tr := c.transport
	if tr == nil {
		tr = newHTTPTransport(c.agentURL.String(), c.httpClient, breaker, c.statsd)
	}
	globalconfig.SetServiceName(c.serviceName)
	return &tracer{
		config:    c,
		transport: tr,
		breaker:   breaker,
		stop:      make(chan struct{}),
	}
}

func newTracer(opts ...StartOption) *tracer {
	t := newUnstartedTracer(opts...)
	c := t.config
	c.statsd.Incr("datadog.tracer.started", nil, 1)
	t.traceWriter = newAgentTraceWriter(t.transport, c.statsd, c.flushInterval, c.stopTimeout)
	if c.telemetryEnabled {
		t.startTelemetry()
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.reportHealthMetrics(statsInterval)
	}()
	return t
}

// startTelemetry starts the telemetry client with the effective
// configuration; it shares the tracer's transport.
func (t *tracer) startTelemetry() {
	c := t.config
	opts := []telemetry.Option{telemetry.WithApplication(c.serviceName, c.env, c.version)}
	if c.telemetryHeartbeat > 0 {
		opts = append(opts, telemetry.WithHeartbeatInterval(c.telemetryHeartbeat))
	}
	if c.debug {
		opts = append(opts, telemetry.WithDebug(true))
	}
	keys := make([]string, 0, len(c.telemetryConfig))
	for k := range c.telemetryConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cfg := make([]telemetry.Configuration, 0, len(keys))
	for _, k := range keys {
		cfg = append(cfg, c.telemetryConfig[k])
	}
	t.telemetry = telemetry.NewClient(t.transport, opts...)
	t.telemetry.Start(cfg)
	telemetry.SetGlobalClient(t.telemetry)
}

// reportHealthMetrics periodically reports span and trace counters through
// statsd until the tracer stops.
func (t *tracer) reportHealthMetrics(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.config.statsd.Count("datadog.tracer.spans_started", t.spansStarted.Swap(0), nil, 1)
			t.config.statsd.Count("datadog.tracer.spans_finished", t.spansFinished.Swap(0), nil, 1)
			t.config.statsd.Count("datadog.tracer.traces_dropped", t.tracesDropped.Swap(0), []string{"reason:sampling"}, 1)
			if t.telemetry != nil {
				t.telemetry.Gauge("tracer.breaker.failures", float64(t.breaker.Failures()), nil, true)
			}
		case <-t.stop:
			return
		}
	}
}

// flushSync triggers a flush and waits for it to complete.
func (t *tracer) flushSync() {
	if t == nil {
		return
	}
	t.traceWriter.flush()
}

// submit hands a finished trace to the writer.
func (t *tracer) submit(spans []*Span) {
	t.spansFinished.Add(int64(len(spans)))
	t.traceWriter.add(spans)
}

// recordDroppedTrace accounts for a finished trace which the sampler
// dropped. It is never sent.
func (t *tracer) recordDroppedTrace(spans []*Span) {
	t.spansFinished.Add(int64(len(spans)))
	t.tracesDropped.Add(1)
	if t.telemetry != nil {
		t.telemetry.Count("tracer.traces_dropped", 1, []string{"reason:sampling"}, true)
	}
}

// StartSpan creates, starts, and returns a new Span with the given `operationName`.
func (t *tracer) StartSpan(operationName string, options ...StartSpanOption) *Span {
	if t == nil {
		return nil
	}
	var opts StartSpanConfig
	for _, fn := range options {
		fn(&opts)
	}
	var startTime int64
	if opts.StartTime.IsZero() {
		startTime = now()
	} else {
		startTime = opts.StartTime.UnixNano()
	}
	context := opts.Parent
	if !context.IsValid() || context.trace == nil {
		context = nil
	}
	id := opts.SpanID
	if id == 0 {
		id = generateSpanID()
	}
	// span defaults
	span := &Span{
		name:     operationName,
		service:  t.config.serviceName,
		resource: operationName,
		spanID:   id,
		start:    startTime,
		tracer:   t,
		links:    opts.SpanLinks,
	}
	if context != nil {
		// this is a child span
		span.parentID = context.spanID
		if context.reparentID != "" {
			span.setMetaAssumesHoldingLock(keyParentID, context.reparentID)
		}
	}
	span.context = newSpanContext(span, context, t.config.traceID128)
	if context == nil && opts.SpanID != 0 {
		span.context.traceID.SetLower(opts.SpanID)
	}
	span.traceID = span.context.traceID.Lower()
	span.context.trace.push(span)

	if context == nil || context.isRemote {
		// trace roots and spans continuing a remote trace are sampled; local
		// children inherit the decision of their trace
		res := t.config.sampler.sample(context, span.context.traceID)
		if res.Decision != DecisionInherit {
			span.context.trace.applySamplingResult(res)
		}
		if res.Rate > 0 && res.Rate < 1 {
			span.setMetricAssumesHoldingLock(keyRulesSamplerAppliedRate, res.Rate)
		}
	}
	// add tags from options
	for k, v := range opts.Tags {
		span.SetTag(k, v)
	}
	// add global tags
	for k, v := range t.config.globalTags {
		span.SetTag(k, v)
	}
	span.mu.Lock()
	if t.config.version != "" && span.service == t.config.serviceName {
		span.setMetaAssumesHoldingLock(ext.Version, t.config.version)
	}
	if t.config.env != "" {
		span.setMetaAssumesHoldingLock(ext.Environment, t.config.env)
	}
	if span.service != t.config.serviceName {
		span.setMetaAssumesHoldingLock(keyBaseService, t.config.serviceName)
	}
	span.mu.Unlock()
	t.spansStarted.Add(1)
	if log.DebugEnabled() {
		log.Debug("Started Span: %v, Operation: %s, Resource: %s", span.spanID, span.name, span.resource)
	}
	return span
}

// Stop stops the tracer, flushing any buffered traces within the configured
// timeout.
func (t *tracer) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() {
		close(t.stop)
		t.config.statsd.Incr("datadog.tracer.stopped", nil, 1)
		t.wg.Wait()
		t.traceWriter.stop()
		if t.telemetry != nil {
			telemetry.UnsetGlobalClient(t.telemetry)
			t.telemetry.Stop()
		}
		t.config.statsd.Close()
	})
}

// Inject uses the configured or default TextMap Propagator.
func (t *tracer) Inject(ctx *SpanContext, carrier interface{}) error {
	if t == nil {
		return nil
	}
	return t.config.propagator.Inject(ctx, carrier)
}

// Extract uses the configured or default TextMap Propagator.
func (t *tracer) Extract(carrier interface{}) (*SpanContext, error) {
	if t == nil {
		return nil, ErrSpanContextNotFound
	}
	return t.config.propagator.Extract(carrier)
}
