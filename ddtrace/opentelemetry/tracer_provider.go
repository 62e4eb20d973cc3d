// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2023 Datadog, Inc.

// Package opentelemetry provides a wrapper on top of the Datadog tracer that can be used with OpenTelemetry.
// This feature is currently in beta.
// It also provides a wrapper around TracerProvider to propagate a list of tracer.StartOption
// that are specific to Datadog's APM product.
//
//	import (
//		"go.opentelemetry.io/otel"
//		ddotel "github.com/DataDog/dd-trace-otel-bridge/ddtrace/opentelemetry"
//	)
//
//	func main() {
//		provider := ddotel.NewTracerProvider(tracer.WithService("checkout"))
//		defer provider.Shutdown()
//		otel.SetTracerProvider(provider)
//		otel.SetTextMapPropagator(ddotel.NewPropagator())
//		...
//	}
package opentelemetry

import (
	"sync/atomic"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
	"github.com/DataDog/dd-trace-otel-bridge/internal/telemetry"
)

var _ oteltrace.TracerProvider = (*TracerProvider)(nil)

// TracerProvider provides implementation of OpenTelemetry TracerProvider interface.
// TracerProvider provides Tracers that are used by instrumentation code to
// trace computational workflows.
// WithInstrumentationVersion and WithSchemaURL TracerOption's are not supported.
type TracerProvider struct {
	embedded.TracerProvider

	tracer  *oteltracer
	stopped atomic.Bool
}

// NewTracerProvider returns an instance of OpenTelemetry TracerProvider,
// and initializes Datadog Tracer with the provided set of options.
// TracerProvider implements oteltrace.TracerProvider interface and is used
// as a wrapper around the global Datadog tracer.
func NewTracerProvider(opts ...tracer.StartOption) *TracerProvider {
	tracer.Start(opts...)
	telemetry.LoadIntegration("otel", "")
	p := &TracerProvider{}
	p.tracer = &oteltracer{provider: p}
	return p
}

const defaultName = "otel_datadog"

// Tracer returns the bridged tracer. All names share the same instance. Once
// the provider is shut down a no-op tracer is returned instead.
func (p *TracerProvider) Tracer(name string, options ...oteltrace.TracerOption) oteltrace.Tracer {
	if p.stopped.Load() {
		return noop.NewTracerProvider().Tracer(name, options...)
	}
	if len(name) == 0 {
		log.Warn("provided tracer name is invalid: `%s`, using default value: %s", name, defaultName)
	}
	return p.tracer
}

// Shutdown stops the started tracer. Subsequent calls are valid but become no-op.
func (p *TracerProvider) Shutdown() error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	tracer.Stop()
	return nil
}

// ForceFlush flushes any buffered traces. Flush is in effect only if a tracer
// is started. The callback reports whether the flush completed within timeout.
func (p *TracerProvider) ForceFlush(timeout time.Duration, callback func(ok bool)) {
	if p.stopped.Load() {
		return
	}
	done := make(chan struct{})
	go func() {
		tracer.Flush()
		close(done)
	}()
	select {
	case <-time.After(timeout):
		callback(false)
	case <-done:
		callback(true)
	}
}
