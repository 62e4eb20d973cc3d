// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package statsdtest provides a recording statsd client for tests.
package statsdtest

import (
	"sync"

	"github.com/DataDog/dd-trace-otel-bridge/internal"
)

var _ internal.StatsdClient = &TestStatsdClient{}

// TestStatsdClient records every metric it receives.
type TestStatsdClient struct {
	mu         sync.RWMutex
	gaugeCalls []TestStatsdCall
	counts     map[string]int64
	closed     bool
	flushed    int
}

// TestStatsdCall is a recorded gauge.
type TestStatsdCall struct {
	name     string
	floatVal float64
	tags     []string
}

func (t TestStatsdCall) Name() string { return t.name }

func (t TestStatsdCall) Value() float64 { return t.floatVal }

func (t TestStatsdCall) Tags() []string { return t.tags }

func (tg *TestStatsdClient) addCount(name string, value int64) error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.counts == nil {
		tg.counts = make(map[string]int64)
	}
	tg.counts[name] += value
	return nil
}

func (tg *TestStatsdClient) Gauge(name string, value float64, tags []string, _ float64) error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	c := TestStatsdCall{name: name, floatVal: value, tags: make([]string, len(tags))}
	copy(c.tags, tags)
	tg.gaugeCalls = append(tg.gaugeCalls, c)
	return nil
}

func (tg *TestStatsdClient) Incr(name string, _ []string, _ float64) error {
	return tg.addCount(name, 1)
}

func (tg *TestStatsdClient) Count(name string, value int64, _ []string, _ float64) error {
	return tg.addCount(name, value)
}

func (tg *TestStatsdClient) Flush() error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	tg.flushed++
	return nil
}

func (tg *TestStatsdClient) Close() error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	tg.closed = true
	return nil
}

// Counts returns a copy of the accumulated counters, keyed by metric name.
func (tg *TestStatsdClient) Counts() map[string]int64 {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	c := make(map[string]int64, len(tg.counts))
	for k, v := range tg.counts {
		c[k] = v
	}
	return c
}

func (tg *TestStatsdClient) GaugeCalls() []TestStatsdCall {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	c := make([]TestStatsdCall, len(tg.gaugeCalls))
	copy(c, tg.gaugeCalls)
	return c
}

func (tg *TestStatsdClient) Closed() bool {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return tg.closed
}

func (tg *TestStatsdClient) Flushed() int {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return tg.flushed
}
