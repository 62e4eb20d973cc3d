// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package kafka traces github.com/segmentio/kafka-go readers and writers
// with the messaging hooks.
package kafka

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/DataDog/dd-trace-otel-bridge/contrib/messaging"
	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
)

const componentName = "segmentio/kafka-go"

// NewTracer returns the messaging hooks for Kafka.
func NewTracer(opts ...messaging.Option) *messaging.Tracer {
	return messaging.NewTracer("kafka", append([]messaging.Option{messaging.WithComponent(componentName)}, opts...)...)
}

// StartConsumeSpan starts a consume span for a message read from the given
// brokers. Partition and offset are recorded.
func StartConsumeSpan(ctx context.Context, tr *messaging.Tracer, msg *kafka.Message, brokers ...string) (*tracer.Span, context.Context) {
	opts := []tracer.StartSpanOption{
		tracer.Tag(ext.MessagingKafkaPartition, msg.Partition),
		tracer.Tag(ext.MessagingKafkaOffset, msg.Offset),
	}
	if len(brokers) > 0 {
		opts = append(opts, tracer.Tag(ext.KafkaBootstrapServers, strings.Join(brokers, ",")))
	}
	return tr.StartConsumeSpan(ctx, WrapMessage(msg), opts...)
}

// StartProduceSpan starts a publish span for msg and injects its context
// into the message headers. topic is the writer's topic, if set.
func StartProduceSpan(ctx context.Context, tr *messaging.Tracer, topic string, msg *kafka.Message) (*tracer.Span, context.Context) {
	m := WrapMessage(msg)
	opts := []tracer.StartSpanOption{}
	if topic != "" && msg.Topic == "" {
		opts = append(opts,
			tracer.ResourceName("Publish "+topic),
			tracer.Tag(ext.MessagingDestinationName, topic),
		)
	}
	if len(msg.Key) > 0 {
		opts = append(opts, tracer.Tag(ext.MessagingKafkaKey, string(msg.Key)))
	}
	return tr.StartPublishSpan(ctx, m, opts...)
}

// A Reader wraps a kafka.Reader. The span of a message is finished when the
// next message is read or the reader is closed.
type Reader struct {
	*kafka.Reader
	tracer  *messaging.Tracer
	brokers []string
	prev    *tracer.Span
}

// WrapReader wraps a kafka.Reader so that any consumed events are traced.
func WrapReader(r *kafka.Reader, opts ...messaging.Option) *Reader {
	log.Debug("contrib/segmentio/kafka-go: Wrapping Reader")
	return &Reader{
		Reader:  r,
		tracer:  NewTracer(opts...),
		brokers: r.Config().Brokers,
	}
}

// Close calls the underlying Reader.Close and finishes the span of the last
// message read.
func (r *Reader) Close() error {
	err := r.Reader.Close()
	if r.prev != nil {
		r.prev.Finish()
		r.prev = nil
	}
	return err
}

// ReadMessage reads and commits the next message, tracing it.
func (r *Reader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return r.read(ctx, r.Reader.ReadMessage)
}

// FetchMessage reads the next message without committing it, tracing it.
func (r *Reader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	return r.read(ctx, r.Reader.FetchMessage)
}

func (r *Reader) read(ctx context.Context, next func(context.Context) (kafka.Message, error)) (kafka.Message, error) {
	if r.prev != nil {
		r.prev.Finish()
		r.prev = nil
	}
	msg, err := next(ctx)
	if err != nil {
		return msg, err
	}
	r.prev, _ = StartConsumeSpan(ctx, r.tracer, &msg, r.brokers...)
	return msg, nil
}

// Writer wraps a kafka.Writer with tracing config data
type Writer struct {
	*kafka.Writer
	tracer *messaging.Tracer
}

// NewWriter calls kafka.NewWriter and wraps the resulting Producer.
func NewWriter(conf kafka.WriterConfig, opts ...messaging.Option) *Writer {
	return WrapWriter(kafka.NewWriter(conf), opts...)
}

// WrapWriter wraps a kafka.Writer so requests are traced.
func WrapWriter(w *kafka.Writer, opts ...messaging.Option) *Writer {
	log.Debug("contrib/segmentio/kafka-go: Wrapping Writer")
	return &Writer{Writer: w, tracer: NewTracer(opts...)}
}

// WriteMessages calls kafka.Writer.WriteMessages and traces the requests.
func (w *Writer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	// one call is made to the writer but every message gets its own span
	spans := make([]*tracer.Span, len(msgs))
	for i := range msgs {
		spans[i], _ = StartProduceSpan(ctx, w.tracer, w.Topic, &msgs[i])
	}
	err := w.Writer.WriteMessages(ctx, msgs...)
	for i, span := range spans {
		if err == nil {
			span.SetTag(ext.MessagingKafkaPartition, msgs[i].Partition)
			span.SetTag(ext.MessagingKafkaOffset, msgs[i].Offset)
		}
		messaging.FinishSpan(span, err)
	}
	return err
}
