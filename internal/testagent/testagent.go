// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2023 Datadog, Inc.

// Package testagent runs an in-process trace agent for integration tests.
// It starts the global tracer pointed at the agent and decodes the payloads
// it receives.
package testagent

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
	"github.com/DataDog/dd-trace-otel-bridge/internal/statsdtest"
)

// Span is a decoded span, keyed by its wire field names.
type Span map[string]interface{}

// Name returns the operation name.
func (s Span) Name() string { v, _ := s["name"].(string); return v }

// Resource returns the resource name.
func (s Span) Resource() string { v, _ := s["resource"].(string); return v }

// Meta returns the string tags of the span.
func (s Span) Meta() map[string]string {
	m := map[string]string{}
	if raw, ok := s["meta"].(map[string]interface{}); ok {
		for k, v := range raw {
			m[k], _ = v.(string)
		}
	}
	return m
}

// Metrics returns the numeric tags of the span.
func (s Span) Metrics() map[string]float64 {
	m := map[string]float64{}
	if raw, ok := s["metrics"].(map[string]interface{}); ok {
		for k, v := range raw {
			m[k], _ = v.(float64)
		}
	}
	return m
}

// Agent receives traces sent by the global tracer.
type Agent struct {
	srv      *httptest.Server
	payloads chan [][]Span
}

// Start starts an agent and the global tracer sending to it. Both are
// stopped when the test ends.
func Start(t testing.TB, opts ...tracer.StartOption) *Agent {
	a := &Agent{payloads: make(chan [][]Span, 64)}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0.4/traces" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		buf, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("testagent: reading payload: %v", err)
			return
		}
		var js bytes.Buffer
		if _, err := msgp.UnmarshalAsJSON(&js, buf); err != nil {
			t.Errorf("testagent: decoding payload: %v", err)
			return
		}
		var traces [][]Span
		if err := json.Unmarshal(js.Bytes(), &traces); err != nil {
			t.Errorf("testagent: decoding payload: %v", err)
			return
		}
		a.payloads <- traces
	}))
	tracer.Start(append([]tracer.StartOption{
		tracer.WithAgentURL(a.srv.URL),
		tracer.WithHTTPClient(a.srv.Client()),
		tracer.WithStatsdClient(&statsdtest.TestStatsdClient{}),
		tracer.WithTelemetry(false),
		tracer.WithLogStartup(false),
		tracer.WithFlushInterval(time.Hour),
	}, opts...)...)
	t.Cleanup(func() {
		tracer.Stop()
		a.srv.Close()
	})
	return a
}

// Flush flushes the tracer and returns every trace received since the
// last call.
func (a *Agent) Flush(t testing.TB) [][]Span {
	t.Helper()
	tracer.Flush()
	var traces [][]Span
	for {
		select {
		case p := <-a.payloads:
			traces = append(traces, p...)
		default:
			return traces
		}
	}
}

// FinishedSpans flushes the tracer and returns the spans received, in
// payload order.
func (a *Agent) FinishedSpans(t testing.TB) []Span {
	t.Helper()
	var spans []Span
	for _, trace := range a.Flush(t) {
		spans = append(spans, trace...)
	}
	return spans
}
