// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2023 Datadog, Inc.

package opentelemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
	"github.com/DataDog/dd-trace-otel-bridge/internal/statsdtest"
)

type traces [][]map[string]interface{}

func mockTracerProvider(t *testing.T, opts ...tracer.StartOption) (tp *TracerProvider, payloads chan traces, cleanup func()) {
	payloads = make(chan traces, 16)
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0.4/traces" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		buf, err := io.ReadAll(r.Body)
		if err != nil || len(buf) == 0 {
			t.Errorf("Test agent: Error receiving traces: %v", err)
			return
		}
		var payload bytes.Buffer
		if _, err := msgp.UnmarshalAsJSON(&payload, buf); err != nil {
			t.Errorf("Failed to unmarshal payload bytes as JSON: %v", err)
			return
		}
		var tr traces
		if err := json.Unmarshal(payload.Bytes(), &tr); err != nil || len(tr) == 0 {
			t.Errorf("Failed to unmarshal payload bytes as trace: %v", err)
			return
		}
		payloads <- tr
		w.WriteHeader(http.StatusOK)
	}))
	opts = append([]tracer.StartOption{
		tracer.WithAgentURL(s.URL),
		tracer.WithHTTPClient(s.Client()),
		tracer.WithStatsdClient(&statsdtest.TestStatsdClient{}),
		tracer.WithTelemetry(false),
		tracer.WithLogStartup(false),
		tracer.WithFlushInterval(time.Hour),
	}, opts...)
	tp = NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, payloads, func() {
		if err := tp.Shutdown(); err != nil {
			t.Fatalf("Tracer Provider shutdown failure: %v", err)
		}
		s.Close()
	}
}

func waitForPayload(payloads chan traces) (traces, error) {
	select {
	case p := <-payloads:
		return p, nil
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("Timed out waiting for traces")
	}
}

// flushOne flushes the tracer and returns the first span of the first trace.
func flushOne(t *testing.T, payloads chan traces) map[string]interface{} {
	t.Helper()
	tracer.Flush()
	p, err := waitForPayload(payloads)
	require.NoError(t, err)
	require.NotEmpty(t, p)
	require.NotEmpty(t, p[0])
	return p[0][0]
}

func meta(s map[string]interface{}) map[string]interface{} {
	m, _ := s["meta"].(map[string]interface{})
	return m
}

func metrics(s map[string]interface{}) map[string]interface{} {
	m, _ := s["metrics"].(map[string]interface{})
	return m
}

func TestSpanResourceNameDefault(t *testing.T) {
	assert := assert.New(t)
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	_, sp := tr.Start(context.Background(), "OperationName")
	sp.End()

	s := flushOne(t, payloads)
	assert.Equal("internal", s["name"])
	assert.Equal("OperationName", s["resource"])
}

func TestSpanSetName(t *testing.T) {
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	_, sp := tr.Start(context.Background(), "OldName")
	sp.SetName("NewName")
	sp.End()

	s := flushOne(t, payloads)
	assert.Equal(t, strings.ToLower("NewName"), s["name"])
	assert.Equal(t, "OldName", s["resource"])
}

func TestSpanLink(t *testing.T) {
	assert := assert.New(t)
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	traceID, _ := oteltrace.TraceIDFromHex("00000000000001c8000000000000007b")
	spanID, _ := oteltrace.SpanIDFromHex("000000000000000f")
	traceState, _ := oteltrace.ParseTraceState("dd_origin=ci")
	remote := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: oteltrace.FlagsSampled,
		TraceState: traceState,
		Remote:     true,
	})

	_, sp := tr.Start(context.Background(), "span_with_link",
		oteltrace.WithLinks(oteltrace.Link{
			SpanContext: remote,
			Attributes:  []attribute.KeyValue{attribute.String("link.name", "alpha_transaction")},
		}))
	// links added after start are kept as well
	sp.AddLink(oteltrace.Link{SpanContext: remote})
	sp.End()

	s := flushOne(t, payloads)
	var links []tracer.SpanLink
	require.NoError(t, json.Unmarshal([]byte(meta(s)["_dd.span_links"].(string)), &links))
	require.Len(t, links, 2)
	assert.Equal(uint64(123), links[0].TraceID)
	assert.Equal(uint64(456), links[0].TraceIDHigh)
	assert.Equal(uint64(15), links[0].SpanID)
	assert.Equal(map[string]string{"link.name": "alpha_transaction"}, links[0].Attributes)
	assert.Equal("dd_origin=ci", links[0].Tracestate)
	assert.Equal(uint32(0x80000001), links[0].Flags) // sampled and set
	assert.Nil(links[1].Attributes)
}

func TestSpanEnd(t *testing.T) {
	assert := assert.New(t)
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	name, ignoredName := "trueName", "invalidName"
	msg, ignoredMsg := "error_desc", "ok_desc"

	_, sp := tr.Start(context.Background(), name)
	sp.SetStatus(codes.Error, msg)
	sp.SetAttributes(attribute.String("trueKey", "trueVal"))
	assert.True(sp.IsRecording())
	now := time.Now()
	sp.AddEvent("evt1", oteltrace.WithTimestamp(now))
	sp.AddEvent("evt2", oteltrace.WithTimestamp(now), oteltrace.WithAttributes(attribute.String("key1", "value"), attribute.Int("key2", 1234)))

	sp.End()
	assert.False(sp.IsRecording())

	// the span is frozen once ended
	sp.SetName(ignoredName)
	sp.SetStatus(codes.Ok, ignoredMsg)
	sp.SetAttributes(attribute.String("trueKey", "fakeVal"), attribute.String("invalidKey", "invalidVal"))
	sp.AddEvent("evt3")
	sp.RecordError(errors.New("late"))
	sp.End()

	s := flushOne(t, payloads)
	assert.Equal(name, s["resource"])
	assert.Equal(ext.SpanKindInternal, s["name"])
	assert.Equal(1.0, s["error"])
	m := meta(s)
	assert.Equal(msg, m[ext.ErrorMsg])
	assert.Equal("trueVal", m["trueKey"])
	assert.NotContains(m, "invalidKey")
	want := fmt.Sprintf(
		`[{"name":"evt1","time_unix_nano":%v},{"name":"evt2","time_unix_nano":%v,"attributes":{"key1":"value","key2":1234}}]`,
		now.UnixNano(), now.UnixNano(),
	)
	assert.Equal(want, m["events"])
}

// Setting the status follows the OpenTelemetry API: Unset is ignored, the
// description is only kept with Error, and Ok is final.
func TestSpanSetStatus(t *testing.T) {
	testData := []struct {
		code        codes.Code
		msg         string
		ignoredCode codes.Code
		ignoredMsg  string
		wantError   float64
	}{
		{
			code:        codes.Ok,
			msg:         "ok_description",
			ignoredCode: codes.Error,
			ignoredMsg:  "error_description",
			wantError:   0,
		},
		{
			code:        codes.Error,
			msg:         "error_description",
			ignoredCode: codes.Unset,
			ignoredMsg:  "unset_description",
			wantError:   1,
		},
	}
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	for _, test := range testData {
		t.Run(fmt.Sprintf("code=%s", test.code), func(t *testing.T) {
			_, sp := tr.Start(context.Background(), "test")
			sp.SetStatus(test.code, test.msg)
			sp.SetStatus(test.ignoredCode, test.ignoredMsg)
			sp.End()

			s := flushOne(t, payloads)
			assert.Equal(t, test.wantError, s["error"])
			m := fmt.Sprint(meta(s))
			if test.code == codes.Error {
				assert.Contains(t, m, test.msg)
			} else {
				assert.NotContains(t, m, test.msg)
			}
			assert.NotContains(t, m, test.ignoredMsg)
		})
	}
}

func TestSpanAddEvent(t *testing.T) {
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	type event struct {
		Name         string                 `json:"name"`
		TimeUnixNano int64                  `json:"time_unix_nano"`
		Attributes   map[string]interface{} `json:"attributes"`
	}
	events := func(t *testing.T) []event {
		var evs []event
		s := flushOne(t, payloads)
		require.NoError(t, json.Unmarshal([]byte(meta(s)["events"].(string)), &evs))
		return evs
	}

	t.Run("event with attributes", func(t *testing.T) {
		_, sp := tr.Start(context.Background(), "span_event")
		start := time.Now().UnixNano()
		sp.AddEvent("My event!", oteltrace.WithAttributes(
			attribute.Int("pid", 4328),
			attribute.String("signal", "SIGHUP"),
			// two attributes with same key, last-set attribute takes precedence
			attribute.Bool("condition", true),
			attribute.Bool("condition", false),
		))
		end := time.Now().UnixNano()
		sp.End()

		evs := events(t)
		require.Len(t, evs, 1)
		e := evs[0]
		assert.Equal(t, "My event!", e.Name)
		assert.True(t, e.TimeUnixNano >= start && e.TimeUnixNano <= end)
		assert.Equal(t, map[string]interface{}{"pid": 4328.0, "signal": "SIGHUP", "condition": false}, e.Attributes)
	})
	t.Run("event with timestamp", func(t *testing.T) {
		_, sp := tr.Start(context.Background(), "span_event")
		micro := time.Now().UnixMicro()
		sp.AddEvent("My event!", oteltrace.WithTimestamp(time.UnixMicro(micro)))
		sp.End()

		evs := events(t)
		require.Len(t, evs, 1)
		assert.Equal(t, micro*1000, evs[0].TimeUnixNano)
	})
	t.Run("multiple events", func(t *testing.T) {
		_, sp := tr.Start(context.Background(), "sp")
		now := time.Now()
		sp.AddEvent("evt1", oteltrace.WithTimestamp(now))
		sp.AddEvent("evt2", oteltrace.WithTimestamp(now))
		sp.End()
		assert.Len(t, events(t), 2)
	})
}

func TestSpanRecordError(t *testing.T) {
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	_, sp := tr.Start(context.Background(), "op")
	sp.RecordError(nil)
	sp.RecordError(errors.New("no such file"), oteltrace.WithStackTrace(true))
	sp.End()

	s := flushOne(t, payloads)
	// recording an error does not set the error status
	assert.Equal(t, 0.0, s["error"])
	var evs []struct {
		Name       string            `json:"name"`
		Attributes map[string]string `json:"attributes"`
	}
	require.NoError(t, json.Unmarshal([]byte(meta(s)["events"].(string)), &evs))
	require.Len(t, evs, 1)
	assert.Equal(t, ext.ExceptionEvent, evs[0].Name)
	assert.Equal(t, "no such file", evs[0].Attributes[ext.ExceptionMessage])
	assert.Equal(t, "*errors.errorString", evs[0].Attributes[ext.ExceptionType])
	assert.Contains(t, evs[0].Attributes[ext.ExceptionStacktrace], "goroutine")
}

func TestSpanContextWithStartOptions(t *testing.T) {
	assert := assert.New(t)
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	startTime := time.Now()
	duration := time.Second * 5
	spanID := uint64(1234567890)
	ctx, sp := tr.Start(
		ContextWithStartOptions(context.Background(),
			tracer.ResourceName("persisted_ctx_rsc"),
			tracer.ServiceName("persisted_srv"),
			tracer.StartTime(startTime),
			tracer.WithSpanID(spanID),
		), "op_name",
		oteltrace.WithAttributes(
			attribute.String(ext.ResourceName, ""),
			attribute.String(ext.ServiceName, "discarded")),
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer),
	)

	_, child := tr.Start(ctx, "child")
	// options passed to the parent are not passed down to the child
	assert.NotEqual(spanID, child.(*span).DD.Context().SpanID())
	child.End()

	EndOptions(sp, tracer.FinishTime(startTime.Add(duration)))
	sp.End()

	tracer.Flush()
	p, err := waitForPayload(payloads)
	require.NoError(t, err)
	require.Len(t, p, 1)
	require.Len(t, p[0], 2)
	var parent, other map[string]interface{}
	for _, s := range p[0] {
		if s["span_id"] == 1234567890.0 {
			parent = s
		} else {
			other = s
		}
	}
	require.NotNil(t, parent)
	require.NotNil(t, other)
	assert.Equal("persisted_srv", parent["service"])
	assert.Equal("persisted_ctx_rsc", parent["resource"])
	assert.Equal("producer", parent["name"])
	assert.Equal("producer", meta(parent)[ext.SpanKind])
	assert.Equal(float64(startTime.UnixNano()), parent["start"])
	assert.Equal(float64(duration.Nanoseconds()), parent["duration"])
	assert.Equal("child", other["resource"])
}

func TestSpanEndOptionsPriorityOrder(t *testing.T) {
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	startTime := time.Now()
	_, sp := tr.Start(ContextWithStartOptions(context.Background(), tracer.StartTime(startTime)), "op_name")

	EndOptions(sp, tracer.FinishTime(startTime.Add(time.Second)))
	// a later call replaces the previous options
	EndOptions(sp, tracer.FinishTime(startTime.Add(time.Second*5)))
	// EndOptions win over the End timestamp
	sp.End(oteltrace.WithTimestamp(startTime.Add(time.Second * 3)))
	// no effect once the span has ended
	EndOptions(sp, tracer.FinishTime(startTime.Add(time.Second*7)))
	sp.End()

	s := flushOne(t, payloads)
	assert.Equal(t, float64((5 * time.Second).Nanoseconds()), s["duration"])
}

func TestSpanEndOptions(t *testing.T) {
	assert := assert.New(t)
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	startTime := time.Now()
	_, sp := tr.Start(ContextWithStartOptions(context.Background(), tracer.StartTime(startTime)), "op_name")
	EndOptions(sp, tracer.FinishTime(startTime.Add(time.Second)), tracer.WithError(errors.New("persisted_option")))
	sp.End(oteltrace.WithTimestamp(startTime.Add(time.Hour)))

	s := flushOne(t, payloads)
	assert.Equal(float64(time.Second.Nanoseconds()), s["duration"])
	assert.Equal("persisted_option", meta(s)[ext.ErrorMsg])
	assert.Equal(1.0, s["error"])
}

func TestSpanEndTimestamp(t *testing.T) {
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	start := time.Now()
	_, sp := tr.Start(context.Background(), "op", oteltrace.WithTimestamp(start))
	sp.End(oteltrace.WithTimestamp(start.Add(3 * time.Second)))

	s := flushOne(t, payloads)
	assert.Equal(t, float64(start.UnixNano()), s["start"])
	assert.Equal(t, float64((3 * time.Second).Nanoseconds()), s["duration"])
}

func TestSpanSetAttributes(t *testing.T) {
	assert := assert.New(t)
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	_, sp := tr.Start(context.Background(), "test")
	sp.SetAttributes(attribute.String("k1", "v1_old"))
	sp.SetAttributes(
		attribute.String("k2", "v2"),
		attribute.String("k1", "v1_new"),
		attribute.String("operation.name", "Ops"),
		attribute.String("service.name", "srv"),
		attribute.String("resource.name", "rsr"),
		attribute.String("span.type", "db"),
		attribute.StringSlice("hosts", []string{"a", "b"}),
		attribute.Int64("retries", 3),
		attribute.Bool("cached", true),
		attribute.Int("analytics.event", 1),
	)
	sp.End()

	s := flushOne(t, payloads)
	m := meta(s)
	assert.Equal("v1_new", m["k1"])
	assert.Equal("v2", m["k2"])
	assert.Equal("a", m["hosts.0"])
	assert.Equal("b", m["hosts.1"])
	assert.Equal("true", m["cached"])
	assert.Equal(3.0, metrics(s)["retries"])
	assert.Equal(1.0, metrics(s)[ext.EventSampleRate])

	// reserved attributes set the span fields and are not tags
	assert.Equal("ops", s["name"])
	assert.Equal("srv", s["service"])
	assert.Equal("rsr", s["resource"])
	assert.Equal("db", s["type"])
	for _, k := range []string{"operation.name", "service.name", "resource.name", "span.type"} {
		assert.NotContains(m, k)
	}
}

func TestSpanPropagatingAttributes(t *testing.T) {
	assert := assert.New(t)
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	ctx, parent := tr.Start(context.Background(), "parent",
		oteltrace.WithAttributes(attribute.String("_dd.p.team", "core")))
	_, child := tr.Start(ctx, "child")
	assert.Contains(child.SpanContext().TraceState().Get("dd"), ";t.team:core")

	// set on the parent once the child already exists
	parent.SetAttributes(attribute.String("_dd.p.usr.id", "alice"))
	for _, sp := range []oteltrace.Span{parent, child} {
		dd := sp.SpanContext().TraceState().Get("dd")
		assert.Contains(dd, ";t.usr.id:alice")
		assert.Contains(dd, ";t.team:core")
	}

	child.End()
	parent.End()
	tracer.Flush()
	p, err := waitForPayload(payloads)
	require.NoError(t, err)
	require.Len(t, p, 1)
	m := meta(p[0][0])
	assert.Equal("alice", m["_dd.p.usr.id"])
	assert.Equal("core", m["_dd.p.team"])
}

func TestTracerStartOptions(t *testing.T) {
	_, payloads, cleanup := mockTracerProvider(t, tracer.WithEnv("test_env"), tracer.WithService("test_serv"))
	tr := otel.Tracer("")
	defer cleanup()

	_, sp := tr.Start(context.Background(), "test")
	sp.End()

	s := flushOne(t, payloads)
	assert.Equal(t, "test_serv", s["service"])
	assert.Equal(t, "test_env", meta(s)[ext.Environment])
}

func TestOperationNameRemapping(t *testing.T) {
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	_, sp := tr.Start(context.Background(), "operation", oteltrace.WithAttributes(attribute.String("graphql.operation.type", "subscription")))
	sp.End()

	s := flushOne(t, payloads)
	assert.Equal(t, "graphql.server.request", s["name"])
}

// The name only depends on the attributes present at End, whatever the
// order in which they were set.
func TestRemapWithMultipleSetAttributes(t *testing.T) {
	assert := assert.New(t)
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	_, sp := tr.Start(context.Background(), "publish", oteltrace.WithSpanKind(oteltrace.SpanKindProducer))
	sp.SetAttributes(attribute.String(ext.MessagingSystem, "rabbitmq"))
	// a partial attribute set must not freeze the name
	sp.SetAttributes(attribute.String(ext.MessagingOperation, "publish"))
	sp.SetAttributes(attribute.Int("http.response.status_code", 200))
	sp.End()

	s := flushOne(t, payloads)
	assert.Equal("rabbitmq.publish", s["name"])
	assert.Equal("publish", s["resource"])
	assert.Equal("200", meta(s)["http.status_code"])

	_, sp = tr.Start(context.Background(), "otel_span_name", oteltrace.WithSpanKind(oteltrace.SpanKindServer))
	sp.SetAttributes(attribute.String("http.request.method", "GET"))
	sp.SetAttributes(attribute.String("operation.name", "Overriden.name"))
	sp.End()
	s = flushOne(t, payloads)
	assert.Equal("overriden.name", s["name"])
}

func TestRemapName(t *testing.T) {
	testCases := []struct {
		spanKind oteltrace.SpanKind
		in       []attribute.KeyValue
		out      string
	}{
		{
			in:  []attribute.KeyValue{},
			out: "internal",
		},
		{
			in:       []attribute.KeyValue{},
			spanKind: oteltrace.SpanKindProducer,
			out:      "producer",
		},
		{
			in:       []attribute.KeyValue{attribute.String("http.request.method", "POST")},
			spanKind: oteltrace.SpanKindClient,
			out:      "http.client.request",
		},
		{
			in:       []attribute.KeyValue{attribute.String("http.request.method", "POST")},
			spanKind: oteltrace.SpanKindServer,
			out:      "http.server.request",
		},
		{
			in:       []attribute.KeyValue{attribute.String("db.system", "Redis")},
			spanKind: oteltrace.SpanKindClient,
			out:      "redis.query",
		},
		{
			in:       []attribute.KeyValue{attribute.String("messaging.system", "kafka"), attribute.String("messaging.operation", "receive")},
			spanKind: oteltrace.SpanKindProducer,
			out:      "kafka.receive",
		},
		{
			in:       []attribute.KeyValue{attribute.String("messaging.system", "kafka"), attribute.String("messaging.operation", "receive")},
			spanKind: oteltrace.SpanKindConsumer,
			out:      "kafka.receive",
		},
		{
			in:       []attribute.KeyValue{attribute.String("messaging.system", "kafka"), attribute.String("messaging.operation", "receive")},
			spanKind: oteltrace.SpanKindServer,
			out:      "kafka.receive",
		},
		{
			in:       []attribute.KeyValue{attribute.String("messaging.system", "kafka")},
			spanKind: oteltrace.SpanKindConsumer,
			out:      "consumer",
		},
		{
			in:       []attribute.KeyValue{attribute.String("rpc.system", "aws-api"), attribute.String("rpc.service", "Example_Method")},
			spanKind: oteltrace.SpanKindClient,
			out:      "aws.example_method.request",
		},
		{
			in:       []attribute.KeyValue{attribute.String("rpc.system", "aws-api"), attribute.String("rpc.service", "")},
			spanKind: oteltrace.SpanKindClient,
			out:      "aws.client.request",
		},
		{
			in:       []attribute.KeyValue{attribute.String("rpc.system", "myservice.EchoService")},
			spanKind: oteltrace.SpanKindClient,
			out:      "myservice.echoservice.client.request",
		},
		{
			in:       []attribute.KeyValue{attribute.String("rpc.system", "myservice.EchoService")},
			spanKind: oteltrace.SpanKindServer,
			out:      "myservice.echoservice.server.request",
		},
		{
			in:       []attribute.KeyValue{attribute.String("faas.invoked_provider", "some_provIDER"), attribute.String("faas.invoked_name", "some_NAME")},
			spanKind: oteltrace.SpanKindClient,
			out:      "some_provider.some_name.invoke",
		},
		{
			in:       []attribute.KeyValue{attribute.String("faas.trigger", "some_NAME")},
			spanKind: oteltrace.SpanKindServer,
			out:      "some_name.invoke",
		},
		{
			in:  []attribute.KeyValue{attribute.String("graphql.operation.type", "subscription")},
			out: "graphql.server.request",
		},
		{
			in:       []attribute.KeyValue{attribute.String("network.protocol.name", "amqp")},
			spanKind: oteltrace.SpanKindServer,
			out:      "amqp.server.request",
		},
		{
			in:       []attribute.KeyValue{attribute.String("network.protocol.name", "")},
			spanKind: oteltrace.SpanKindServer,
			out:      "server.request",
		},
		{
			in:       []attribute.KeyValue{attribute.String("network.protocol.name", "amqp")},
			spanKind: oteltrace.SpanKindClient,
			out:      "amqp.client.request",
		},
		{
			in:       []attribute.KeyValue{attribute.String("network.protocol.name", "")},
			spanKind: oteltrace.SpanKindClient,
			out:      "client.request",
		},
		{
			in:  []attribute.KeyValue{attribute.Int("db.system", 2)},
			out: "internal",
		},
	}
	for _, test := range testCases {
		t.Run(test.out, func(t *testing.T) {
			attrs := map[string]interface{}{}
			for _, kv := range test.in {
				k, v := toSpecialAttributes(string(kv.Key), kv.Value)
				attrs[k] = v
			}
			assert.Equal(t, test.out, strings.ToLower(remapOperationName(test.spanKind, attrs)))
		})
	}
}

func TestRemapNameNonStringOperationName(t *testing.T) {
	_, payloads, cleanup := mockTracerProvider(t)
	tr := otel.Tracer("")
	defer cleanup()

	_, sp := tr.Start(context.Background(), "some_name", oteltrace.WithAttributes(attribute.Int("operation.name", 2)))
	sp.End()

	s := flushOne(t, payloads)
	assert.Equal(t, "internal", s["name"])
}
