// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/DataDog/dd-trace-otel-bridge/internal/statsdtest"
)

// blockingTransport holds every delivery until release is closed.
type blockingTransport struct {
	*dummyTransport
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{
		dummyTransport: newDummyTransport(),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (t *blockingTransport) sendTraces(p *payload) error {
	t.once.Do(func() { close(t.entered) })
	<-t.release
	return t.dummyTransport.sendTraces(p)
}

func TestAgentTraceWriterFlush(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	transport := newDummyTransport()
	statsd := &statsdtest.TestStatsdClient{}
	w := newAgentTraceWriter(transport, statsd, time.Hour, time.Second)

	for _, trace := range getTestTrace(3, 2) {
		w.add(trace)
	}
	w.flush()
	traces := transport.Traces()
	require.Len(t, traces, 3)
	assert.Len(t, traces[0], 2)
	assert.EqualValues(t, 6, w.enqueued.Load())
	assert.EqualValues(t, 6, statsd.Counts()["datadog.tracer.spans_enqueued"])

	// nothing buffered, nothing sent
	w.flush()
	assert.Equal(t, 1, transport.Calls())

	w.stop()
	assert.True(t, statsd.Flushed() > 0)
}

func TestAgentTraceWriterPeriodicFlush(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	transport := newDummyTransport()
	statsd := &statsdtest.TestStatsdClient{}
	w := newAgentTraceWriter(transport, statsd, 10*time.Millisecond, time.Second)
	defer w.stop()

	w.add(getTestTrace(1, 1)[0])
	assert.Eventually(t, func() bool {
		return len(transport.Traces()) == 1
	}, time.Second, 5*time.Millisecond)

	var sawQueueGauge bool
	for _, c := range statsd.GaugeCalls() {
		if c.Name() == "datadog.tracer.queue.size" {
			sawQueueGauge = true
		}
	}
	assert.True(t, sawQueueGauge)
}

func TestAgentTraceWriterFlushThreshold(t *testing.T) {
	defer func(old int) { flushThreshold = old }(flushThreshold)
	flushThreshold = 1

	transport := newDummyTransport()
	w := newAgentTraceWriter(transport, &statsdtest.TestStatsdClient{}, time.Hour, time.Second)
	defer w.stop()

	w.add(getTestTrace(1, 1)[0])
	assert.Eventually(t, func() bool {
		return len(transport.Traces()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAgentTraceWriterQueueFull(t *testing.T) {
	defer func(old int) { inChannelSize = old }(inChannelSize)
	inChannelSize = 2

	transport := newBlockingTransport()
	statsd := &statsdtest.TestStatsdClient{}
	w := newAgentTraceWriter(transport, statsd, time.Hour, time.Second)

	// park the worker inside a delivery so that the queue fills up
	w.add(getTestTrace(1, 1)[0])
	go w.flush()
	<-transport.entered

	start := time.Now()
	for i := 0; i < 5; i++ {
		w.add(getTestTrace(1, 1)[0])
	}
	// add never blocks
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.EqualValues(t, 3, w.dropped.Load())
	assert.EqualValues(t, 3, statsd.Counts()["datadog.tracer.spans_dropped"])

	close(transport.release)
	w.stop()
	traces := transport.Traces()
	assert.Len(t, traces, 3)
}

func TestAgentTraceWriterTransportError(t *testing.T) {
	transport := newDummyTransport()
	transport.setError(fmt.Errorf("agent unreachable"))
	statsd := &statsdtest.TestStatsdClient{}
	w := newAgentTraceWriter(transport, statsd, time.Hour, time.Second)
	defer w.stop()

	w.add(getTestTrace(1, 2)[0])
	w.flush()
	assert.EqualValues(t, 1, w.flushErrors.Load())
	assert.EqualValues(t, 2, w.dropped.Load())
	assert.EqualValues(t, 1, statsd.Counts()["datadog.tracer.flush_errors"])

	// the payload is reset whatever the outcome
	transport.setError(nil)
	w.flush()
	assert.Equal(t, 1, transport.Calls())
	assert.Empty(t, transport.Traces())
}

func TestAgentTraceWriterBreakerOpen(t *testing.T) {
	transport := newDummyTransport()
	transport.setError(fmt.Errorf("send: %w", errBreakerOpen))
	statsd := &statsdtest.TestStatsdClient{}
	w := newAgentTraceWriter(transport, statsd, time.Hour, time.Second)
	defer w.stop()

	w.add(getTestTrace(1, 3)[0])
	w.flush()
	assert.EqualValues(t, 1, w.breakerOpen.Load())
	assert.EqualValues(t, 0, w.flushErrors.Load())
	assert.EqualValues(t, 3, w.dropped.Load())
	assert.EqualValues(t, 3, statsd.Counts()["datadog.tracer.spans_dropped"])
}

func TestAgentTraceWriterStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	transport := newDummyTransport()
	w := newAgentTraceWriter(transport, &statsdtest.TestStatsdClient{}, time.Hour, time.Second)
	w.add(getTestTrace(1, 1)[0])
	w.stop()
	assert.Len(t, transport.Traces(), 1)

	// after stop, adds are dropped and flush and stop return immediately
	w.add(getTestTrace(1, 1)[0])
	assert.EqualValues(t, 1, w.dropped.Load())
	w.flush()
	w.stop()
	assert.Len(t, transport.Traces(), 1)
}

func TestAgentTraceWriterStopTimeout(t *testing.T) {
	transport := newBlockingTransport()
	w := newAgentTraceWriter(transport, &statsdtest.TestStatsdClient{}, time.Hour, 20*time.Millisecond)
	w.add(getTestTrace(1, 1)[0])

	start := time.Now()
	w.stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, transport.Traces())

	// let the worker finish
	close(transport.release)
	<-w.done
}

func TestAgentTraceWriterConcurrentAdd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	transport := newDummyTransport()
	w := newAgentTraceWriter(transport, &statsdtest.TestStatsdClient{}, 5*time.Millisecond, time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				w.add(getTestTrace(1, 1)[0])
			}
		}()
	}
	wg.Wait()
	w.stop()
	assert.EqualValues(t, 200, uint64(len(transport.Traces()))+w.dropped.Load())
}
