// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2023 Datadog, Inc.

package opentelemetry

import (
	"context"
	"encoding/binary"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
	"github.com/DataDog/dd-trace-otel-bridge/internal/telemetry"
)

var _ oteltrace.Tracer = (*oteltracer)(nil)

var telemetryTags = []string{"integration_name:otel"}

type oteltracer struct {
	embedded.Tracer

	provider *TracerProvider
}

func (t *oteltracer) Start(ctx context.Context, spanName string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	var ssConfig = oteltrace.NewSpanStartConfig(opts...)
	var ddopts []tracer.StartSpanOption
	if !ssConfig.NewRoot() {
		if s, ok := tracer.SpanFromContext(ctx); ok {
			ddopts = append(ddopts, tracer.ChildOf(s.Context()))
		} else if sctx := oteltrace.SpanContextFromContext(ctx); sctx.IsValid() {
			// the parent was started by another tracer, possibly in another process
			if parent, err := toDDSpanContext(sctx); err == nil {
				ddopts = append(ddopts, tracer.ChildOf(parent))
			} else {
				log.Debug("opentelemetry: ignoring parent span context: %v", err)
			}
		}
	}
	if t := ssConfig.Timestamp(); !t.IsZero() {
		ddopts = append(ddopts, tracer.StartTime(t))
	}
	if links := ssConfig.Links(); len(links) > 0 {
		spanLinks := make([]tracer.SpanLink, 0, len(links))
		for _, l := range links {
			spanLinks = append(spanLinks, toSpanLink(l))
		}
		ddopts = append(ddopts, tracer.WithSpanLinks(spanLinks))
	}
	ddopts = append(ddopts, tracer.ResourceName(spanName))

	// options carried by the context are applied last so that they win over
	// attributes, and the reserved keys they set are pinned for End.
	pinned := map[string]struct{}{}
	if ctxOpts, ok := spanOptionsFromContext(ctx); ok {
		var cfg tracer.StartSpanConfig
		for _, fn := range ctxOpts {
			fn(&cfg)
		}
		for k := range cfg.Tags {
			pinned[k] = struct{}{}
		}
		ddopts = append(ddopts, ctxOpts...)
	}

	attrs := make(map[string]interface{}, len(ssConfig.Attributes())+1)
	for _, kv := range ssConfig.Attributes() {
		k, v := toSpecialAttributes(string(kv.Key), kv.Value)
		attrs[k] = v
	}
	kind := ssConfig.SpanKind()
	if kind != oteltrace.SpanKindUnspecified {
		attrs[ext.SpanKind] = kind.String()
	}

	s := tracer.StartSpan(spanName, ddopts...)
	os := &span{
		DD:         s,
		attributes: attrs,
		spanKind:   kind,
		pinned:     pinned,
		oteltracer: t,
	}
	for k, v := range attrs {
		os.propagateAssumesHoldingLock(k, v)
	}
	if c := telemetry.GlobalClient(); c != nil {
		c.Count("spans_created", 1, telemetryTags, true)
	}
	// the start options must not reach the children of this span
	ctx = context.WithValue(ctx, startOptsKey, nil)
	ctx = oteltrace.ContextWithSpan(tracer.ContextWithSpan(ctx, s), os)
	return ctx, os
}

// toDDSpanContext converts an OpenTelemetry span context into a Datadog
// remote parent, keeping its trace flags and tracestate.
func toDDSpanContext(sctx oteltrace.SpanContext) (*tracer.SpanContext, error) {
	return tracer.NewRemoteSpanContext(
		sctx.TraceID().String(),
		sctx.SpanID().String(),
		byte(sctx.TraceFlags()),
		sctx.TraceState().String(),
	)
}

// toOtelSpanContext converts a Datadog span context into its OpenTelemetry
// form. The tracestate carries the dd list-member of the trace.
func toOtelSpanContext(ctx *tracer.SpanContext, remote bool) oteltrace.SpanContext {
	if ctx == nil {
		return oteltrace.SpanContext{}
	}
	var spanID oteltrace.SpanID
	binary.BigEndian.PutUint64(spanID[:], ctx.SpanID())
	cfg := oteltrace.SpanContextConfig{
		TraceID:    oteltrace.TraceID(ctx.TraceIDBytes()),
		SpanID:     spanID,
		TraceFlags: oteltrace.TraceFlags(ctx.TraceFlags()),
		Remote:     remote,
	}
	cfg.TraceState = toOtelTraceState(ctx.TraceState())
	return oteltrace.NewSpanContext(cfg)
}

// toOtelTraceState converts a tracestate header. Members OpenTelemetry
// rejects (such as upper-case vendor keys) are dropped one by one so the
// rest of the header, dd included, survives.
func toOtelTraceState(header string) oteltrace.TraceState {
	if ts, err := oteltrace.ParseTraceState(header); err == nil {
		return ts
	}
	parsed := tracer.ParseTraceState(header)
	keys := parsed.Keys()
	var ts oteltrace.TraceState
	// Insert prepends, so walk the members from the right
	for i := len(keys) - 1; i >= 0; i-- {
		v, _ := parsed.Get(keys[i])
		next, err := ts.Insert(keys[i], v)
		if err != nil {
			log.Debug("opentelemetry: dropping tracestate member %q: %v", keys[i], err)
			continue
		}
		ts = next
	}
	return ts
}

// toSpanLink converts an OpenTelemetry link. The flags always carry the high
// bit, since OpenTelemetry span contexts always know their sampled flag.
func toSpanLink(l oteltrace.Link) tracer.SpanLink {
	traceID := l.SpanContext.TraceID()
	spanID := l.SpanContext.SpanID()
	var attrs map[string]string
	if len(l.Attributes) > 0 {
		attrs = make(map[string]string, len(l.Attributes))
		for _, kv := range l.Attributes {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
	}
	return tracer.SpanLink{
		TraceID:     binary.BigEndian.Uint64(traceID[8:]),
		TraceIDHigh: binary.BigEndian.Uint64(traceID[:8]),
		SpanID:      binary.BigEndian.Uint64(spanID[:]),
		Attributes:  attrs,
		Tracestate:  l.SpanContext.TraceState().String(),
		Flags:       uint32(l.SpanContext.TraceFlags()) | 1<<31,
	}
}

// toEventAttributes flattens OpenTelemetry attributes for span events. The
// last value given for a key wins.
func toEventAttributes(kvs []attribute.KeyValue) map[string]interface{} {
	if len(kvs) == 0 {
		return nil
	}
	attrs := make(map[string]interface{}, len(kvs))
	for _, kv := range kvs {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	return attrs
}
