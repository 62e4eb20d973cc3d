// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2023 Datadog, Inc.

package opentelemetry

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
)

var _ oteltrace.Span = (*span)(nil)

type span struct {
	embedded.Span

	mu         sync.RWMutex // all fields are protected by this RWMutex
	DD         *tracer.Span
	finished   bool
	attributes map[string]interface{}
	spanKind   oteltrace.SpanKind
	finishOpts []tracer.FinishOption
	// reserved keys set through ContextWithStartOptions; attributes can't
	// override them.
	pinned map[string]struct{}
	*oteltracer
}

func (s *span) TracerProvider() oteltrace.TracerProvider { return s.oteltracer.provider }

// SetName sets the operation name of the span. It overrides the name
// derived from the span kind and attributes.
func (s *span) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.attributes[ext.SpanName] = strings.ToLower(name)
}

// End completes the span. The operation name, when not given explicitly, is
// derived here from the span kind and the final set of attributes.
func (s *span) End(options ...oteltrace.SpanEndOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true

	for k, v := range s.attributes {
		if k == ext.SpanName {
			continue
		}
		if _, ok := s.pinned[k]; ok {
			continue
		}
		s.DD.SetTag(k, v)
	}
	if _, ok := s.pinned[ext.SpanName]; !ok {
		name, _ := s.attributes[ext.SpanName].(string)
		if name == "" {
			name = strings.ToLower(remapOperationName(s.spanKind, s.attributes))
		}
		s.DD.SetTag(ext.SpanName, name)
	}

	var opts []tracer.FinishOption
	cfg := oteltrace.NewSpanEndConfig(options...)
	if t := cfg.Timestamp(); !t.IsZero() {
		opts = append(opts, tracer.FinishTime(t))
	}
	// options set with EndOptions come last and take precedence
	opts = append(opts, s.finishOpts...)
	s.DD.Finish(opts...)
}

// remapOperationName returns the operation name for a span of the given
// kind, following the OpenTelemetry semantic conventions found among attrs.
func remapOperationName(kind oteltrace.SpanKind, attrs map[string]interface{}) string {
	str := func(key string) string {
		v, _ := attrs[key].(string)
		return v
	}
	isClient := kind == oteltrace.SpanKindClient
	isServer := kind == oteltrace.SpanKindServer

	// http
	if str(ext.HTTPRequestMethod) != "" {
		if isServer {
			return "http.server.request"
		}
		if isClient {
			return "http.client.request"
		}
	}
	// database
	if v := str(ext.DBSystem); v != "" && isClient {
		return v + ".query"
	}
	// messaging
	system, op := str(ext.MessagingSystem), str(ext.MessagingOperation)
	if system != "" && op != "" {
		switch kind {
		case oteltrace.SpanKindClient, oteltrace.SpanKindServer, oteltrace.SpanKindConsumer, oteltrace.SpanKindProducer:
			return system + "." + op
		}
	}
	// rpc and aws
	rpc := str(ext.RPCSystem)
	if rpc == "aws-api" && isClient {
		if service := str(ext.RPCService); service != "" {
			return "aws." + service + ".request"
		}
		return "aws.client.request"
	}
	if rpc != "" && isClient {
		return rpc + ".client.request"
	}
	if rpc != "" && isServer {
		return rpc + ".server.request"
	}
	// faas
	provider, invoked := str(ext.FaaSInvokedProvider), str(ext.FaaSInvokedName)
	if provider != "" && invoked != "" && isClient {
		return provider + "." + invoked + ".invoke"
	}
	if trigger := str(ext.FaaSTrigger); trigger != "" && isServer {
		return trigger + ".invoke"
	}
	// graphql
	if str(ext.GraphqlOperation) != "" {
		return "graphql.server.request"
	}
	// generic server and client spans
	protocol := str(ext.NetworkProtocolName)
	if isServer {
		if protocol != "" {
			return protocol + ".server.request"
		}
		return "server.request"
	}
	if isClient {
		if protocol != "" {
			return protocol + ".client.request"
		}
		return "client.request"
	}
	if kind != oteltrace.SpanKindUnspecified {
		return kind.String()
	}
	return ext.SpanKindInternal
}

// SpanContext returns implementation of the oteltrace.SpanContext.
func (s *span) SpanContext() oteltrace.SpanContext {
	return toOtelSpanContext(s.DD.Context(), false)
}

func (s *span) IsRecording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.finished
}

// SetStatus saves state of code and description which will be used to set
// the error status of the span. Unset never overrides a status and Ok is final.
func (s *span) SetStatus(code codes.Code, description string) {
	if !s.IsRecording() {
		return
	}
	switch code {
	case codes.Error:
		s.DD.SetStatus(tracer.StatusError, description)
	case codes.Ok:
		s.DD.SetStatus(tracer.StatusOK, "")
	}
}

// SetAttributes sets the key-value pairs as tags on the span.
// Every value is propagated as an interface.
// Some attribute keys are reserved and will be remapped to Datadog reserved tags.
// The reserved tags list is as follows:
//   - "operation.name" (remapped to "span.name")
//   - "analytics.event" (remapped to "_dd1.sr.eausr")
//   - "service.name"
//   - "resource.name"
//   - "span.type"
//   - "http.response.status_code" (remapped to "http.status_code")
//
// The last value set for a key wins. Attributes are applied to the underlying
// span at End, except the trace-level "_dd.p." ones which must reach the
// propagated tracestate right away.
func (s *span) SetAttributes(kv ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	for _, kv := range kv {
		k, v := toSpecialAttributes(string(kv.Key), kv.Value)
		s.attributes[k] = v
		s.propagateAssumesHoldingLock(k, v)
	}
}

// propagateAssumesHoldingLock sets trace-level tags on the trace as soon as
// they are known, so that every span of the trace encodes them.
func (s *span) propagateAssumesHoldingLock(k string, v interface{}) {
	if !strings.HasPrefix(k, "_dd.p.") {
		return
	}
	if _, ok := s.pinned[k]; ok {
		return
	}
	s.DD.SetTag(k, v)
}

// toSpecialAttributes normalizes the attributes that have a special meaning
// for Datadog.
func toSpecialAttributes(k string, v attribute.Value) (string, interface{}) {
	switch k {
	case ext.SpanName:
		if v.Type() != attribute.STRING {
			return k, nil
		}
		return k, strings.ToLower(v.AsString())
	case "http.response.status_code":
		if v.Type() == attribute.INT64 {
			return "http.status_code", strconv.FormatInt(v.AsInt64(), 10)
		}
		return "http.status_code", v.Emit()
	}
	return k, v.AsInterface()
}

// AddEvent adds a span event onto this span with the provided name and EventOptions.
func (s *span) AddEvent(name string, opts ...oteltrace.EventOption) {
	if !s.IsRecording() {
		return
	}
	cfg := oteltrace.NewEventConfig(opts...)
	s.DD.AddEvent(name, cfg.Timestamp(), toEventAttributes(cfg.Attributes()))
}

// AddLink links this span with the span of the given link.
func (s *span) AddLink(link oteltrace.Link) {
	if !s.IsRecording() {
		return
	}
	s.DD.AddLink(toSpanLink(link))
}

// RecordError records the error as an exception span event, holding its
// type and message. The stack trace is added when WithStackTrace is given.
func (s *span) RecordError(err error, options ...oteltrace.EventOption) {
	if err == nil || !s.IsRecording() {
		return
	}
	options = append(options, oteltrace.WithAttributes(
		attribute.String(ext.ExceptionType, fmt.Sprintf("%T", err)),
		attribute.String(ext.ExceptionMessage, err.Error()),
	))
	cfg := oteltrace.NewEventConfig(options...)
	attrs := toEventAttributes(cfg.Attributes())
	if cfg.StackTrace() {
		attrs[ext.ExceptionStacktrace] = string(debug.Stack())
	}
	s.DD.AddEvent(ext.ExceptionEvent, cfg.Timestamp(), attrs)
}
