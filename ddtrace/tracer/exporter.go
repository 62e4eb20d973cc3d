// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/dd-trace-otel-bridge/internal"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
)

// payloadLimit specifies the maximum payload size that the Datadog
// agent will accept. Request bodies larger than this will be rejected.
const payloadLimit = int(1e7) // 10MB

var (
	// inChannelSize specifies the size of the buffered channel which
	// takes finished traces and adds them to the payload.
	inChannelSize = 1000

	// flushThreshold specifies the payload's size threshold in bytes. If it
	// is exceeded, a flush will be triggered.
	flushThreshold = payloadLimit / 2

	// defaultFlushInterval specifies the interval at which the payload will
	// automatically be flushed.
	defaultFlushInterval = 2 * time.Second

	// defaultStopTimeout bounds the final flush performed on stop.
	defaultStopTimeout = 5 * time.Second
)

// traceWriter is responsible for sending finished traces to their
// destination.
type traceWriter interface {
	// add adds a finished trace to the writer. It never blocks.
	add([]*Span)

	// flush sends all buffered traces and waits for the delivery attempt
	// to complete.
	flush()

	// stop performs a final flush and shuts the writer down.
	stop()
}

// agentTraceWriter encodes traces into a msgp payload on its own goroutine
// and delivers them to the agent through a transport.
type agentTraceWriter struct {
	transport transport
	statsd    internal.StatsdClient
	payload   *payload

	flushInterval time.Duration
	stopTimeout   time.Duration

	in       chan []*Span
	flushReq chan chan struct{}
	exit     chan struct{} // closed to request the worker to stop
	done     chan struct{} // closed by the worker once it returned
	stopOnce sync.Once

	// health counters, also reported through statsd
	enqueued    atomic.Uint64 // spans accepted
	dropped     atomic.Uint64 // spans rejected because the queue was full
	flushErrors atomic.Uint64 // failed deliveries
	breakerOpen atomic.Uint64 // deliveries skipped by the breaker
}

var _ traceWriter = (*agentTraceWriter)(nil)

func newAgentTraceWriter(t transport, statsd internal.StatsdClient, flushInterval, stopTimeout time.Duration) *agentTraceWriter {
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	w := &agentTraceWriter{
		transport:     t,
		statsd:        statsd,
		payload:       newPayload(),
		flushInterval: flushInterval,
		stopTimeout:   stopTimeout,
		in:            make(chan []*Span, inChannelSize),
		flushReq:      make(chan chan struct{}),
		exit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *agentTraceWriter) add(trace []*Span) {
	select {
	case <-w.exit:
		w.drop(trace)
		return
	default:
	}
	select {
	case w.in <- trace:
		w.enqueued.Add(uint64(len(trace)))
		w.statsd.Count("datadog.tracer.spans_enqueued", int64(len(trace)), nil, 1)
	default:
		w.drop(trace)
		log.Error("queue-full", "trace queue full, dropping %d spans", len(trace))
	}
}

func (w *agentTraceWriter) drop(trace []*Span) {
	w.dropped.Add(uint64(len(trace)))
	w.statsd.Count("datadog.tracer.spans_dropped", int64(len(trace)), []string{"reason:queue_full"}, 1)
}

func (w *agentTraceWriter) flush() {
	done := make(chan struct{})
	select {
	case w.flushReq <- done:
		<-done
	case <-w.done:
	}
}

func (w *agentTraceWriter) stop() {
	w.stopOnce.Do(func() {
		close(w.exit)
	})
	select {
	case <-w.done:
	case <-time.After(w.stopTimeout):
		log.Warn("exporter did not stop within %s, pending traces may be lost", w.stopTimeout)
	}
}

func (w *agentTraceWriter) loop() {
	defer close(w.done)
	tick := time.NewTicker(w.flushInterval)
	defer tick.Stop()

	for {
		select {
		case trace := <-w.in:
			w.encode(trace)
			if w.payload.size() > flushThreshold {
				w.send()
			}

		case <-tick.C:
			w.statsd.Gauge("datadog.tracer.queue.size", float64(len(w.in)), nil, 1)
			w.send()

		case done := <-w.flushReq:
			w.drain()
			w.send()
			close(done)

		case <-w.exit:
			w.drain()
			w.send()
			w.statsd.Flush()
			return
		}
	}
}

// drain moves every queued trace into the payload.
func (w *agentTraceWriter) drain() {
	for {
		select {
		case trace := <-w.in:
			w.encode(trace)
		default:
			return
		}
	}
}

func (w *agentTraceWriter) encode(trace []*Span) {
	if err := w.payload.push(trace); err != nil {
		log.Error("encoding", "error encoding msgpack: %v", err)
	}
}

// send delivers the payload and resets it, whatever the outcome.
func (w *agentTraceWriter) send() {
	if w.payload.itemCount() == 0 {
		return
	}
	count, spans := w.payload.itemCount(), w.payload.spans
	err := w.transport.sendTraces(w.payload)
	w.payload.reset()
	switch {
	case err == nil:
		log.Debug("sent %d traces (%d spans) to %s", count, spans, w.transport.endpoint())
	case errors.Is(err, errBreakerOpen):
		w.breakerOpen.Add(1)
		w.dropped.Add(uint64(spans))
		w.statsd.Count("datadog.tracer.spans_dropped", int64(spans), []string{"reason:breaker_open"}, 1)
		log.Debug("circuit breaker open, dropping %d traces", count)
	default:
		w.flushErrors.Add(1)
		w.dropped.Add(uint64(spans))
		w.statsd.Incr("datadog.tracer.flush_errors", nil, 1)
		log.Error("send-traces", "lost %d traces: %v", count, err)
	}
}
