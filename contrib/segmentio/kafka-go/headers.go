// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package kafka

import (
	"github.com/segmentio/kafka-go"

	"github.com/DataDog/dd-trace-otel-bridge/contrib/messaging"
	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
)

// message adapts a kafka.Message to messaging.Message. The topic is the
// destination and the message key the routing key.
type message struct {
	msg *kafka.Message
}

var _ messaging.Message = (*message)(nil)

// WrapMessage returns msg as a messaging.Message. Headers set through it
// are written to msg.
func WrapMessage(msg *kafka.Message) messaging.Message {
	return &message{msg}
}

// ForeachHeader iterates over every header.
func (m *message) ForeachHeader(handler func(key, val string) error) error {
	for _, h := range m.msg.Headers {
		if err := handler(h.Key, string(h.Value)); err != nil {
			return err
		}
	}
	return nil
}

// SetHeader sets a header, removing any previous header with the same key.
func (m *message) SetHeader(key, val string) {
	// ensure uniqueness of keys
	for i := 0; i < len(m.msg.Headers); i++ {
		if m.msg.Headers[i].Key == key {
			m.msg.Headers = append(m.msg.Headers[:i], m.msg.Headers[i+1:]...)
			i--
		}
	}
	m.msg.Headers = append(m.msg.Headers, kafka.Header{
		Key:   key,
		Value: []byte(val),
	})
}

func (m *message) Destination() string { return m.msg.Topic }

func (m *message) RoutingKey() string { return string(m.msg.Key) }

func (m *message) BodySize() int { return len(m.msg.Value) }

// headerCarrier reads the trace headers of a kafka.Message.
type headerCarrier struct {
	*message
}

func (c headerCarrier) ForeachKey(handler func(key, val string) error) error {
	return c.ForeachHeader(handler)
}

// ExtractSpanContext retrieves the SpanContext from a kafka.Message.
func ExtractSpanContext(msg kafka.Message) (*tracer.SpanContext, error) {
	return tracer.Extract(headerCarrier{&message{&msg}})
}
