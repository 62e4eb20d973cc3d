// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2022 Datadog, Inc.

// Package telemetry implements a client for sending telemetry information to
// Datadog regarding usage of the tracing library.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/DataDog/dd-trace-otel-bridge/internal"
	"github.com/DataDog/dd-trace-otel-bridge/internal/globalconfig"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
	"github.com/DataDog/dd-trace-otel-bridge/internal/version"
)

const (
	// LogPrefix specifies the prefix for all telemetry logging
	LogPrefix = "instrumentation telemetry: "

	apiVersion = "v2"

	defaultHeartbeatInterval = 60 // seconds
)

var hostname string

func init() {
	h, err := os.Hostname()
	if err == nil {
		hostname = h
	}
}

// Transport delivers an encoded telemetry body. The tracer's agent transport
// implements it so that telemetry shares the trace exporter's circuit breaker.
type Transport interface {
	SendTelemetry(requestType RequestType, body []byte) error
}

// Disabled returns whether instrumentation telemetry is disabled
// according to the DD_INSTRUMENTATION_TELEMETRY_ENABLED env var
func Disabled() bool {
	return !internal.BoolEnv("DD_INSTRUMENTATION_TELEMETRY_ENABLED", true)
}

// Client buffers and sends telemetry messages to Datadog through the agent.
// Client.Start should be called before any other methods.
//
// Client is safe to use from multiple goroutines concurrently. Events are
// delivered by a background worker so that telemetry never blocks the
// application. Metrics are aggregated by the Client between flushes.
type Client struct {
	transport Transport

	namespace           Namespace
	app                 Application
	host                Host
	heartbeatInterval   time.Duration
	collectDependencies bool
	debug               bool

	seqID atomic.Int64

	// metrics holds un-sent metrics that will be aggregated the next time
	// metrics are sent
	metrics *xsync.MapOf[string, *metric]

	// mu guards all of the following fields
	mu sync.Mutex
	// started is true in between when Start() returns and the next call to
	// Stop()
	started bool
	// pending holds all messages waiting for the next flush
	pending []Message
	stop    chan struct{}
	// ready is closed once the start events have been delivered
	ready chan struct{}
	wg    sync.WaitGroup

	// sendMu serializes deliveries so that seq_id order matches send order
	sendMu sync.Mutex
}

// NewClient returns a telemetry client delivering through t.
func NewClient(t Transport, opts ...Option) *Client {
	c := &Client{
		transport:           t,
		namespace:           NamespaceTracers,
		collectDependencies: internal.BoolEnv("DD_TELEMETRY_DEPENDENCY_COLLECTION_ENABLED", true),
		debug:               internal.BoolEnv("DD_INSTRUMENTATION_TELEMETRY_DEBUG", false),
		metrics:             xsync.NewMapOf[string, *metric](),
		app: Application{
			ServiceName:     globalconfig.ServiceName(),
			TracerVersion:   version.Tag,
			LanguageName:    "go",
			LanguageVersion: runtime.Version(),
		},
		host: Host{
			Hostname:     hostname,
			OS:           runtime.GOOS,
			Architecture: runtime.GOARCH,
		},
	}
	heartbeat := internal.IntEnv("DD_TELEMETRY_HEARTBEAT_INTERVAL", defaultHeartbeatInterval)
	if heartbeat < 1 || heartbeat > 3600 {
		log.Warn(LogPrefix+"DD_TELEMETRY_HEARTBEAT_INTERVAL=%d not in [1,3600] range, setting to default of %d", heartbeat, defaultHeartbeatInterval)
		heartbeat = defaultHeartbeatInterval
	}
	c.heartbeatInterval = time.Duration(heartbeat) * time.Second
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// Start registers that the app has begun running with the given
// configuration. The app-started event is always delivered on its own,
// before any other event.
func (c *Client) Start(configuration []Configuration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if Disabled() {
		return
	}
	if c.started {
		log.Debug(LogPrefix + "attempted to start telemetry client when client has already started - ignoring attempt")
		return
	}
	c.started = true
	c.stop = make(chan struct{})
	c.ready = make(chan struct{})

	appStarted := Message{
		RequestType: RequestTypeAppStarted,
		Payload:     &AppStarted{Configuration: append([]Configuration{}, configuration...)},
	}
	var first []Message
	if c.collectDependencies {
		first = append(first, Message{RequestType: RequestTypeDependenciesLoaded, Payload: dependencies()})
	}
	c.wg.Add(1)
	go c.worker(appStarted, first)
}

func dependencies() Dependencies {
	deps := Dependencies{Dependencies: []Dependency{}}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			deps.Dependencies = append(deps.Dependencies, Dependency{
				Name:    dep.Path,
				Version: strings.TrimPrefix(dep.Version, "v"),
			})
		}
	}
	return deps
}

// worker sends the start events and then flushes every heartbeat interval
// until Stop is called.
func (c *Client) worker(appStarted Message, first []Message) {
	defer c.wg.Done()
	c.send([]Message{appStarted})
	c.mu.Lock()
	c.pending = append(first, c.pending...)
	c.mu.Unlock()
	c.Flush()
	close(c.ready)

	tick := time.NewTicker(c.heartbeatInterval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			c.enqueue(Message{RequestType: RequestTypeAppHeartbeat})
			c.Flush()
		case <-c.stop:
			return
		}
	}
}

// Stop notifies the telemetry endpoint that the app is closing. All outstanding
// messages will also be sent. No further messages will be sent until the client
// is started again.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
	c.mu.Lock()
	c.pending = append(c.pending, Message{RequestType: RequestTypeAppClosing})
	c.mu.Unlock()
	c.Flush()
}

// IntegrationChange records that the integration name was enabled or
// disabled.
func (c *Client) IntegrationChange(name string, enabled bool, version string) {
	c.enqueue(Message{
		RequestType: RequestTypeAppIntegrationsChange,
		Payload: &IntegrationsChange{Integrations: []Integration{{
			Name:    name,
			Enabled: enabled,
			Version: version,
		}}},
	})
}

func (c *Client) enqueue(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.pending = append(c.pending, m)
}

type metricKind string

var (
	metricKindGauge metricKind = "gauge"
	metricKindCount metricKind = "count"
)

type metric struct {
	mu    sync.Mutex
	name  string
	kind  metricKind
	value float64
	// Unix timestamp
	ts     float64
	tags   []string
	common bool
	dirty  bool
}

func metricKey(name string, tags []string) string {
	return name + strings.Join(tags, "-")
}

// Gauge sets the value for a gauge with the given name and tags. If the metric
// is not language-specific, common should be set to true
func (c *Client) Gauge(name string, value float64, tags []string, common bool) {
	c.record(metricKindGauge, name, value, tags, common)
}

// Count adds the value to a count with the given name and tags. If the metric
// is not language-specific, common should be set to true
func (c *Client) Count(name string, value float64, tags []string, common bool) {
	c.record(metricKindCount, name, value, tags, common)
}

func (c *Client) record(kind metricKind, name string, value float64, tags []string, common bool) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	m, _ := c.metrics.LoadOrCompute(string(kind)+":"+metricKey(name, tags), func() *metric {
		return &metric{
			name:   name,
			kind:   kind,
			tags:   append([]string{}, tags...),
			common: common,
		}
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == metricKindCount {
		m.value += value
	} else {
		m.value = value
	}
	m.ts = float64(time.Now().Unix())
	m.dirty = true
}

// collectMetrics returns the series recorded since the previous call.
// Counts are reset once collected.
func (c *Client) collectMetrics() *Metrics {
	var series []Series
	c.metrics.Range(func(_ string, m *metric) bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.dirty {
			return true
		}
		series = append(series, Series{
			Metric: m.name,
			Type:   string(m.kind),
			Tags:   m.tags,
			Common: m.common,
			Points: [][2]float64{{m.ts, m.value}},
		})
		m.dirty = false
		if m.kind == metricKindCount {
			m.value = 0
		}
		return true
	})
	if len(series) == 0 {
		return nil
	}
	return &Metrics{Namespace: c.namespace, Series: series}
}

// Flush sends any outstanding telemetry messages and aggregated metrics.
// More than one message is wrapped into a message-batch.
func (c *Client) Flush() {
	c.mu.Lock()
	msgs := c.pending
	c.pending = nil
	c.mu.Unlock()
	if m := c.collectMetrics(); m != nil {
		msgs = append(msgs, Message{RequestType: RequestTypeGenerateMetrics, Payload: m})
	}
	if len(msgs) == 0 {
		return
	}
	c.send(msgs)
}

func (c *Client) newBody(msgs []Message) *Body {
	b := &Body{
		APIVersion:  apiVersion,
		TracerTime:  time.Now().Unix(),
		RuntimeID:   globalconfig.RuntimeID(),
		SeqID:       c.seqID.Add(1),
		Debug:       c.debug,
		Application: c.app,
		Host:        c.host,
	}
	if len(msgs) == 1 {
		b.RequestType = msgs[0].RequestType
		b.Payload = msgs[0].Payload
		return b
	}
	b.RequestType = RequestTypeMessageBatch
	b.Payload = msgs
	return b
}

func (c *Client) send(msgs []Message) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	body := c.newBody(msgs)
	buf, err := json.Marshal(body)
	if err != nil {
		log.Debug(LogPrefix+"failed to encode %s: %v", body.RequestType, err)
		return
	}
	if err := c.transport.SendTelemetry(body.RequestType, buf); err != nil {
		log.Debug(LogPrefix+"%v", fmt.Errorf("sending %s: %w", body.RequestType, err))
	}
}
