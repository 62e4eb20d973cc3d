// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2023 Datadog, Inc.

package opentelemetry

import (
	"context"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
)

type contextOptionsKey struct{}

var startOptsKey = contextOptionsKey{}

// ContextWithStartOptions returns a copy of the given context which includes the span s.
// This can be used to pass a context with Datadog start options to the Start function on the OTel tracer to propagate the options.
// Options passed this way take precedence over attributes given to Start
// and are not inherited by children of the started span.
func ContextWithStartOptions(ctx context.Context, opts ...tracer.StartSpanOption) context.Context {
	if len(opts) == 0 {
		return ctx
	}
	return context.WithValue(ctx, startOptsKey, opts)
}

// spanOptionsFromContext returns the span start options from the context.
func spanOptionsFromContext(ctx context.Context) ([]tracer.StartSpanOption, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(startOptsKey).([]tracer.StartSpanOption)
	return v, ok && len(v) > 0
}

// EndOptions sets tracer.FinishOption on a given span to be executed when span is finished.
// Each call replaces the options of the previous one. They take precedence
// over the options given to End.
func EndOptions(sp oteltrace.Span, options ...tracer.FinishOption) {
	s, ok := sp.(*span)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finishOpts = options
}
