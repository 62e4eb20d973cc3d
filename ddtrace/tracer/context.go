// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"context"

	"github.com/DataDog/dd-trace-otel-bridge/internal"
)

// ContextWithSpan returns a copy of the given context which includes the span s.
// It masks any ScopeStack attached to ctx before.
func ContextWithSpan(ctx context.Context, s *Span) context.Context {
	return context.WithValue(ctx, internal.ActiveSpanKey, s)
}

// stackedContext is stored under the active span key by ContextWithScopeStack.
// outer is the span that was current in the context when the stack was
// attached; it is returned while the stack is empty.
type stackedContext struct {
	stack *ScopeStack
	outer *Span
}

// SpanFromContext returns the span contained in the given context. A second return
// value indicates if a span was found in the context. If no span is found, a nil
// span is returned.
//
// The innermost of ContextWithSpan and ContextWithScopeStack wins: a stack
// attached after a span yields its active span, and a span stored after a
// stack hides the stack.
func SpanFromContext(ctx context.Context) (*Span, bool) {
	if ctx == nil {
		return nil, false
	}
	switch v := ctx.Value(internal.ActiveSpanKey).(type) {
	case *Span:
		// We may have a nil *Span wrapped in an interface, in which case we
		// act as if there was nothing.
		return v, v != nil
	case stackedContext:
		if s := v.stack.Active(); s != nil {
			return s, true
		}
		return v.outer, v.outer != nil
	}
	return nil, false
}

// ContextWithScopeStack returns a copy of ctx carrying st. Until a span is
// stored with ContextWithSpan, SpanFromContext on the returned context (and
// on the contexts derived from it) returns the span active on st at the time
// of the call, so StartSpanFromContext and the OpenTelemetry bridge parent
// new spans on it. Code that activates spans on st explicitly must also
// detach them:
//
//	ctx = tracer.ContextWithScopeStack(ctx, st)
//	span, _ := tracer.StartSpanFromContext(ctx, "work")
//	scope := st.Activate(span)
//	defer scope.Detach()
func ContextWithScopeStack(ctx context.Context, st *ScopeStack) context.Context {
	outer, _ := SpanFromContext(ctx)
	ctx = context.WithValue(ctx, internal.ActiveSpanKey, stackedContext{stack: st, outer: outer})
	return context.WithValue(ctx, internal.ScopeStackKey, st)
}

// ScopeStackFromContext returns the ScopeStack carried by ctx, if any.
func ScopeStackFromContext(ctx context.Context) (*ScopeStack, bool) {
	if ctx == nil {
		return nil, false
	}
	st, ok := ctx.Value(internal.ScopeStackKey).(*ScopeStack)
	return st, ok && st != nil
}

// StartSpanFromContext returns a new span with the given operation name and options. If a span
// is found in the context, it will be used as the parent of the resulting span. If the ChildOf
// option is passed, it will only be used as the parent if there is no span found in `ctx`.
func StartSpanFromContext(ctx context.Context, operationName string, opts ...StartSpanOption) (*Span, context.Context) {
	// copy opts in case the caller reuses the slice in parallel
	optsLocal := make([]StartSpanOption, len(opts), len(opts)+1)
	copy(optsLocal, opts)
	if ctx == nil {
		// default to context.Background() to avoid panics on Go >= 1.15
		ctx = context.Background()
	} else if s, ok := SpanFromContext(ctx); ok {
		optsLocal = append(optsLocal, ChildOf(s.Context()))
	}
	s := StartSpan(operationName, optsLocal...)
	return s, ContextWithSpan(ctx, s)
}
