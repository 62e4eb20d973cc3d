// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package messaging provides tracing hooks for message broker clients. A
// client library adapts its message type to Message and calls
// StartPublishSpan before sending and StartConsumeSpan after receiving.
//
// The publishing side injects its span context and baggage into the message
// headers. The consuming side records the publisher as a span link, so that
// fan-in and fan-out flows keep separate traces, unless WithContinueTrace is
// set.
package messaging

import (
	"context"
	"math"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
	"github.com/DataDog/dd-trace-otel-bridge/internal/telemetry"
)

// Message is the broker-agnostic view of a message that the hooks need.
type Message interface {
	// ForeachHeader calls handler for every header of the message.
	ForeachHeader(handler func(key, val string) error) error
	// SetHeader sets a header, replacing any header with the same key.
	SetHeader(key, val string)
	// Destination is the exchange, topic or queue the message is sent to.
	Destination() string
	// RoutingKey is the key used by the broker to route the message, if any.
	RoutingKey() string
	// BodySize is the size of the message payload in bytes.
	BodySize() int
}

// carrier adapts a Message to the tracer's text map interfaces.
type carrier struct {
	msg Message
}

var _ interface {
	tracer.TextMapReader
	tracer.TextMapWriter
} = (*carrier)(nil)

func (c carrier) ForeachKey(handler func(key, val string) error) error {
	return c.msg.ForeachHeader(handler)
}

func (c carrier) Set(key, val string) {
	c.msg.SetHeader(key, val)
}

// Tracer starts publish and consume spans for one messaging system.
type Tracer struct {
	cfg *config
}

// NewTracer returns a Tracer for the messaging system named system, e.g.
// "rabbitmq" or "kafka". The name is used as messaging.system and as the
// prefix of the operation names.
func NewTracer(system string, opts ...Option) *Tracer {
	cfg := newConfig(system, opts...)
	telemetry.LoadIntegration(cfg.component, "")
	return &Tracer{cfg: cfg}
}

func (tr *Tracer) commonOptions(msg Message, operation string) []tracer.StartSpanOption {
	opts := []tracer.StartSpanOption{
		tracer.Tag(ext.Component, tr.cfg.component),
		tracer.Tag(ext.MessagingSystem, tr.cfg.system),
		tracer.Tag(ext.MessagingOperation, operation),
		tracer.Tag(ext.MessagingMessageBodySize, msg.BodySize()),
	}
	if d := msg.Destination(); d != "" {
		opts = append(opts, tracer.Tag(ext.MessagingDestinationName, d))
	}
	if k := msg.RoutingKey(); k != "" {
		opts = append(opts, tracer.Tag(ext.MessagingRoutingKey, k))
	}
	if !math.IsNaN(tr.cfg.analyticsRate) {
		opts = append(opts, tracer.Tag(ext.EventSampleRate, tr.cfg.analyticsRate))
	}
	return opts
}

// StartPublishSpan starts a producer span for msg as a child of the span in
// ctx, and injects its context and the baggage of ctx into the message
// headers.
func (tr *Tracer) StartPublishSpan(ctx context.Context, msg Message, spanOpts ...tracer.StartSpanOption) (*tracer.Span, context.Context) {
	opts := append(tr.commonOptions(msg, "publish"),
		tracer.ServiceName(tr.cfg.producerServiceName),
		tracer.ResourceName("Publish "+msg.Destination()),
		tracer.SpanType(ext.SpanTypeMessageProducer),
		tracer.Tag(ext.SpanKind, ext.SpanKindProducer),
	)
	opts = append(opts, spanOpts...)
	span, ctx := tracer.StartSpanFromContext(ctx, tr.cfg.system+".publish", opts...)
	c := carrier{msg}
	if err := tracer.Inject(span.Context(), c); err != nil {
		log.Debug("contrib/messaging: failed to inject span context into message: %v", err)
	}
	if err := tracer.InjectBaggage(tracer.BaggageFromContext(ctx), c); err != nil {
		log.Debug("contrib/messaging: failed to inject baggage into message: %v", err)
	}
	return span, ctx
}

// StartConsumeSpan starts a consumer span for a received msg. The span
// context found in the headers becomes a span link, or the parent when the
// tracer was created WithContinueTrace. The returned context carries the
// span and the baggage of the message.
func (tr *Tracer) StartConsumeSpan(ctx context.Context, msg Message, spanOpts ...tracer.StartSpanOption) (*tracer.Span, context.Context) {
	opts := append(tr.commonOptions(msg, "receive"),
		tracer.ServiceName(tr.cfg.consumerServiceName),
		tracer.ResourceName("Consume "+msg.Destination()),
		tracer.SpanType(ext.SpanTypeMessageConsumer),
		tracer.Tag(ext.SpanKind, ext.SpanKindConsumer),
	)
	c := carrier{msg}
	var parent *tracer.SpanContext
	if producer, err := tracer.Extract(c); err == nil {
		if tr.cfg.continueTrace {
			parent = producer
		} else {
			opts = append(opts, tracer.WithSpanLinks([]tracer.SpanLink{
				tracer.LinkTo(producer, map[string]string{"link.kind": "producer"}),
			}))
		}
	} else if err != tracer.ErrSpanContextNotFound {
		log.Debug("contrib/messaging: failed to extract span context from message: %v", err)
	}
	if b, err := tracer.ExtractBaggage(c); err == nil && b.Len() > 0 {
		ctx = tracer.ContextWithBaggage(ctx, b)
	}
	opts = append(opts, spanOpts...)
	name := tr.cfg.system + ".consume"
	if parent != nil {
		// the producer wins over any span active in ctx
		span := tracer.StartSpan(name, append(opts, tracer.ChildOf(parent))...)
		return span, tracer.ContextWithSpan(ctx, span)
	}
	return tracer.StartSpanFromContext(ctx, name, opts...)
}

// FinishSpan finishes a publish or consume span, recording err if not nil.
func FinishSpan(span *tracer.Span, err error) {
	span.Finish(tracer.WithError(err))
}
