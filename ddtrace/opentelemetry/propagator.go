// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2023 Datadog, Inc.

package opentelemetry

import (
	"context"
	"sort"
	"strings"

	otelbaggage "go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
)

var _ propagation.TextMapPropagator = (*propagator)(nil)

type propagator struct {
	w3c tracer.Propagator
}

// NewPropagator returns a TextMapPropagator reading and writing the W3C
// traceparent, tracestate and baggage headers the way the Datadog tracer
// does. The dd tracestate member is kept across services.
func NewPropagator() propagation.TextMapPropagator {
	return &propagator{w3c: tracer.NewPropagator()}
}

// textMapCarrier adapts an OpenTelemetry carrier to tracer.TextMapReader.
type textMapCarrier struct {
	propagation.TextMapCarrier
}

func (c textMapCarrier) ForeachKey(handler func(key, val string) error) error {
	for _, k := range c.Keys() {
		if err := handler(k, c.Get(k)); err != nil {
			return err
		}
	}
	return nil
}

// Inject writes the span context and baggage of ctx into carrier.
// OpenTelemetry baggage is authoritative: members deleted or changed through
// the OpenTelemetry API are injected as such. Datadog baggage members unknown
// to it are kept.
func (p *propagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	var sctx *tracer.SpanContext
	if s, ok := tracer.SpanFromContext(ctx); ok {
		sctx = s.Context()
	} else if osc := oteltrace.SpanContextFromContext(ctx); osc.IsValid() {
		var err error
		if sctx, err = toDDSpanContext(osc); err != nil {
			log.Debug("opentelemetry: not injecting span context: %v", err)
		}
	}
	if sctx != nil {
		if err := p.w3c.Inject(sctx, carrier); err != nil {
			log.Debug("opentelemetry: failed to inject span context: %v", err)
		}
	}

	b := mergeBaggage(otelbaggage.FromContext(ctx), tracer.BaggageFromContext(ctx), extractedBaggage(ctx))
	if err := tracer.InjectBaggage(b, carrier); err != nil {
		log.Debug("opentelemetry: failed to inject baggage: %v", err)
	}
}

// mergeBaggage combines the OpenTelemetry and Datadog baggage of a context.
// Members keep the Datadog order, which is the order of the extracted header.
// A member present in extracted but missing from ob was removed through the
// OpenTelemetry API and is left out. Members only known to ob come last,
// sorted by key.
func mergeBaggage(ob otelbaggage.Baggage, db, extracted tracer.Baggage) tracer.Baggage {
	var out tracer.Baggage
	db.ForEach(func(key, value, metadata string) bool {
		if m := ob.Member(key); m.Key() != "" {
			out = out.Set(key, m.Value(), memberMetadata(m))
		} else if _, ok := extracted.Get(key); !ok {
			out = out.Set(key, value, metadata)
		}
		return true
	})
	members := ob.Members()
	sort.Slice(members, func(i, j int) bool { return members[i].Key() < members[j].Key() })
	for _, m := range members {
		if _, ok := out.Get(m.Key()); !ok {
			out = out.Set(m.Key(), m.Value(), memberMetadata(m))
		}
	}
	return out
}

func memberMetadata(m otelbaggage.Member) string {
	props := m.Properties()
	if len(props) == 0 {
		return ""
	}
	meta := make([]string, len(props))
	for i, p := range props {
		meta[i] = p.String()
	}
	return strings.Join(meta, ";")
}

type extractedBaggageKey struct{}

// extractedBaggage returns the baggage read by Extract, if any.
func extractedBaggage(ctx context.Context) tracer.Baggage {
	b, _ := ctx.Value(extractedBaggageKey{}).(tracer.Baggage)
	return b
}

// Extract returns a copy of ctx carrying the remote span context and the
// baggage found in carrier. Baggage is stored both as Datadog and as
// OpenTelemetry baggage, member properties included.
func (p *propagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	reader := textMapCarrier{carrier}
	if sctx, err := p.w3c.Extract(reader); err == nil {
		ctx = oteltrace.ContextWithRemoteSpanContext(ctx, toOtelSpanContext(sctx, true))
	} else if err != tracer.ErrSpanContextNotFound {
		log.Debug("opentelemetry: failed to extract span context: %v", err)
	}

	b, err := tracer.ExtractBaggage(reader)
	if err != nil || b.Len() == 0 {
		return ctx
	}
	ctx = tracer.ContextWithBaggage(ctx, b)
	ctx = context.WithValue(ctx, extractedBaggageKey{}, b)
	var members []otelbaggage.Member
	b.ForEach(func(key, value, metadata string) bool {
		// a single member header parses back with its properties
		one, err := otelbaggage.Parse(tracer.Baggage{}.Set(key, value, metadata).String())
		if err != nil || one.Len() != 1 {
			log.Debug("opentelemetry: dropping baggage member %q: %v", key, err)
			return true
		}
		members = append(members, one.Member(key))
		return true
	})
	if ob, err := otelbaggage.New(members...); err == nil {
		ctx = otelbaggage.ContextWithBaggage(ctx, ob)
	}
	return ctx
}

// Fields returns the headers written by Inject.
func (p *propagator) Fields() []string {
	return []string{"traceparent", "tracestate", "baggage"}
}
