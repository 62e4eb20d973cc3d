// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
	"github.com/DataDog/dd-trace-otel-bridge/internal/testagent"
)

// amqpMessage mimics an AMQP delivery: an exchange, a routing key and
// string headers.
type amqpMessage struct {
	exchange   string
	routingKey string
	headers    map[string]string
	body       []byte
}

func (m *amqpMessage) ForeachHeader(handler func(key, val string) error) error {
	for k, v := range m.headers {
		if err := handler(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *amqpMessage) SetHeader(key, val string) {
	if m.headers == nil {
		m.headers = map[string]string{}
	}
	m.headers[key] = val
}

func (m *amqpMessage) Destination() string { return m.exchange }
func (m *amqpMessage) RoutingKey() string  { return m.routingKey }
func (m *amqpMessage) BodySize() int       { return len(m.body) }

func newMessage() *amqpMessage {
	return &amqpMessage{exchange: "orders", routingKey: "orders.created", body: []byte(`{"id":1}`)}
}

func spanByName(spans []testagent.Span, name string) testagent.Span {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func TestPublishConsume(t *testing.T) {
	agent := testagent.Start(t)
	tr := NewTracer("rabbitmq", WithServiceName("broker"))
	msg := newMessage()

	ctx := tracer.SetBaggage(context.Background(), "tenant", "acme")
	pub, _ := tr.StartPublishSpan(ctx, msg)
	FinishSpan(pub, nil)
	assert.Contains(t, msg.headers, "traceparent")
	assert.Contains(t, msg.headers, "tracestate")
	assert.Equal(t, "tenant=acme", msg.headers["baggage"])

	con, cctx := tr.StartConsumeSpan(context.Background(), msg)
	got, ok := tracer.SpanFromContext(cctx)
	assert.True(t, ok)
	assert.Equal(t, con, got)
	v, _ := tracer.BaggageFromContext(cctx).Get("tenant")
	assert.Equal(t, "acme", v)
	// consume spans start a new trace by default
	assert.NotEqual(t, pub.Context().TraceID(), con.Context().TraceID())
	FinishSpan(con, errors.New("nack"))

	spans := agent.FinishedSpans(t)
	require.Len(t, spans, 2)

	p := spanByName(spans, "rabbitmq.publish")
	require.NotNil(t, p)
	assert.Equal(t, "Publish orders", p.Resource())
	assert.Equal(t, "broker", p["service"])
	assert.Equal(t, ext.SpanTypeMessageProducer, p["type"])
	meta := p.Meta()
	assert.Equal(t, ext.SpanKindProducer, meta[ext.SpanKind])
	assert.Equal(t, "rabbitmq", meta[ext.MessagingSystem])
	assert.Equal(t, "publish", meta[ext.MessagingOperation])
	assert.Equal(t, "orders", meta[ext.MessagingDestinationName])
	assert.Equal(t, "orders.created", meta[ext.MessagingRoutingKey])
	assert.Equal(t, "messaging", meta[ext.Component])
	assert.Equal(t, 8.0, p.Metrics()[ext.MessagingMessageBodySize])

	c := spanByName(spans, "rabbitmq.consume")
	require.NotNil(t, c)
	assert.Equal(t, "Consume orders", c.Resource())
	assert.Equal(t, 1.0, c["error"])
	assert.Equal(t, "nack", c.Meta()[ext.ErrorMsg])
	assert.Equal(t, "receive", c.Meta()[ext.MessagingOperation])

	var links []tracer.SpanLink
	require.NoError(t, json.Unmarshal([]byte(c.Meta()["_dd.span_links"]), &links))
	require.Len(t, links, 1)
	assert.Equal(t, pub.Context().SpanID(), links[0].SpanID)
	assert.Equal(t, pub.Context().TraceIDLower(), links[0].TraceID)
	assert.Equal(t, "producer", links[0].Attributes["link.kind"])
}

func TestConsumeContinueTrace(t *testing.T) {
	agent := testagent.Start(t)
	tr := NewTracer("rabbitmq", WithContinueTrace(true))
	msg := newMessage()

	pub, _ := tr.StartPublishSpan(context.Background(), msg)
	FinishSpan(pub, nil)

	// a span active in the consumer's context does not become the parent
	local, ctx := tracer.StartSpanFromContext(context.Background(), "poll")
	con, _ := tr.StartConsumeSpan(ctx, msg)
	assert.Equal(t, pub.Context().TraceID(), con.Context().TraceID())
	FinishSpan(con, nil)
	local.Finish()

	c := spanByName(agent.FinishedSpans(t), "rabbitmq.consume")
	require.NotNil(t, c)
	assert.Equal(t, float64(pub.Context().SpanID()), c["parent_id"])
	assert.NotContains(t, c.Meta(), "_dd.span_links")
}

func TestConsumeWithoutHeaders(t *testing.T) {
	agent := testagent.Start(t)
	tr := NewTracer("rabbitmq")

	parent, ctx := tracer.StartSpanFromContext(context.Background(), "worker")
	con, _ := tr.StartConsumeSpan(ctx, &amqpMessage{exchange: "orders"})
	assert.Equal(t, parent.Context().TraceID(), con.Context().TraceID())
	FinishSpan(con, nil)
	parent.Finish()

	c := spanByName(agent.FinishedSpans(t), "rabbitmq.consume")
	require.NotNil(t, c)
	assert.NotContains(t, c.Meta(), "_dd.span_links")
	assert.NotContains(t, c.Meta(), ext.MessagingRoutingKey)
	assert.Equal(t, 0.0, c.Metrics()[ext.MessagingMessageBodySize])
}

func TestAnalyticsSettings(t *testing.T) {
	assertRate := func(t *testing.T, agent *testagent.Agent, rate interface{}, opts ...Option) {
		tr := NewTracer("rabbitmq", opts...)
		pub, _ := tr.StartPublishSpan(context.Background(), newMessage())
		FinishSpan(pub, nil)
		spans := agent.FinishedSpans(t)
		require.Len(t, spans, 1)
		v, ok := spans[0].Metrics()[ext.EventSampleRate]
		if rate == nil {
			assert.False(t, ok)
			return
		}
		assert.Equal(t, rate, v)
	}

	t.Run("defaults", func(t *testing.T) {
		assertRate(t, testagent.Start(t), nil)
	})
	t.Run("enabled", func(t *testing.T) {
		assertRate(t, testagent.Start(t), 1.0, WithAnalytics(true))
	})
	t.Run("disabled", func(t *testing.T) {
		assertRate(t, testagent.Start(t), nil, WithAnalytics(false))
	})
	t.Run("rate", func(t *testing.T) {
		assertRate(t, testagent.Start(t), 0.5, WithAnalyticsRate(0.5))
	})
	t.Run("env", func(t *testing.T) {
		t.Setenv("DD_TRACE_MESSAGING_ANALYTICS_ENABLED", "true")
		assertRate(t, testagent.Start(t), 1.0)
	})
}

func TestConfig(t *testing.T) {
	cfg := newConfig("kafka")
	assert.Equal(t, "kafka", cfg.producerServiceName)
	assert.Equal(t, "messaging", cfg.component)
	assert.False(t, cfg.continueTrace)
	assert.True(t, math.IsNaN(cfg.analyticsRate))

	t.Setenv("DD_TRACE_MESSAGING_CONTINUE_TRACE", "true")
	cfg = newConfig("kafka", WithComponent("segmentio/kafka-go"), WithAnalyticsRate(2))
	assert.True(t, cfg.continueTrace)
	assert.Equal(t, "segmentio/kafka-go", cfg.component)
	assert.True(t, math.IsNaN(cfg.analyticsRate))
}

func TestNoTracer(t *testing.T) {
	tr := NewTracer("rabbitmq")
	msg := newMessage()
	assert.NotPanics(t, func() {
		pub, _ := tr.StartPublishSpan(context.Background(), msg)
		FinishSpan(pub, nil)
		con, _ := tr.StartConsumeSpan(context.Background(), msg)
		FinishSpan(con, nil)
	})
	assert.NotContains(t, msg.headers, "traceparent")
}
