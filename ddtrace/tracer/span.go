// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
	"github.com/DataDog/dd-trace-otel-bridge/internal/samplernames"
)

// StatusCode is the status of a span, as understood by OpenTelemetry.
type StatusCode int

const (
	// StatusUnset is the default status.
	StatusUnset StatusCode = iota
	// StatusError marks the span as failed.
	StatusError
	// StatusOK marks the span as successful. It is final.
	StatusOK
)

// SpanLink represents a reference to a span that exists outside of the trace.
type SpanLink struct {
	TraceID     uint64            `json:"trace_id"`
	TraceIDHigh uint64            `json:"trace_id_high,omitempty"`
	SpanID      uint64            `json:"span_id"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Tracestate  string            `json:"tracestate,omitempty"`
	Flags       uint32            `json:"flags,omitempty"`
}

// LinkTo returns a SpanLink pointing at ctx. The sampled flag of the linked
// context is recorded with the high bit set, marking the flags as known.
func LinkTo(ctx *SpanContext, attributes map[string]string) SpanLink {
	l := SpanLink{
		TraceID:     ctx.TraceIDLower(),
		TraceIDHigh: ctx.TraceIDUpper(),
		SpanID:      ctx.SpanID(),
		Attributes:  attributes,
		Tracestate:  ctx.TraceState(),
	}
	if _, ok := ctx.SamplingPriority(); ok {
		l.Flags = uint32(ctx.TraceFlags()) | 1<<31
	}
	return l
}

// spanEvent is a timestamped annotation on a span.
type spanEvent struct {
	Name         string                 `json:"name"`
	TimeUnixNano int64                  `json:"time_unix_nano"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
}

// Span represents a computation. Callers must call Finish when a span is
// complete to ensure it's submitted.
//
//	span := tracer.StartSpan("web.request", tracer.ResourceName("/user/{id}"))
//	defer span.Finish()
//
// All methods are safe to call on a nil *Span.
type Span struct {
	mu sync.RWMutex

	name     string             // operation name
	service  string             // service name (i.e. "grpc.server", "http.request")
	resource string             // resource name (i.e. "/user?id=123", "SELECT * FROM users")
	spanType string             // protocol associated with the span (i.e. "web", "db", "cache")
	start    int64              // span start time expressed in nanoseconds since epoch
	duration int64              // duration of the span expressed in nanoseconds
	meta     map[string]string  // arbitrary map of metadata
	metrics  map[string]float64 // arbitrary map of numeric metrics
	spanID   uint64             // identifier of this span
	traceID  uint64             // lower 64 bits of the trace identifier
	parentID uint64             // identifier of the span's direct parent
	error    int32              // error status of the span; 0 means no errors

	status   StatusCode
	finished bool // true once the span has been finished
	links    []SpanLink
	events   []spanEvent

	context *SpanContext // span propagation context
	tracer  *tracer      // the tracer that generated this span
}

// Context yields the SpanContext for this Span. Note that the return
// value of Context() is still valid after a call to Finish().
func (s *Span) Context() *SpanContext {
	if s == nil {
		return nil
	}
	return s.context
}

// SetTag adds a set of key/value metadata to the span. Calls made after the
// span is finished are ignored.
func (s *Span) SetTag(key string, value interface{}) {
	if s == nil {
		return
	}
	// trace level tags are stored on the trace, outside of the span lock
	switch {
	case strings.HasPrefix(key, "_dd.p."):
		if !s.isFinished() {
			s.context.trace.setPropagatingTag(key, fmt.Sprint(value))
		}
		return
	case key == ext.ManualKeep, key == ext.ManualDrop, key == ext.SamplingPriority:
		if !s.isFinished() {
			s.setSamplingPriorityTag(key, value)
		}
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.setTagAssumesHoldingLock(key, value)
}

func (s *Span) isFinished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished
}

func (s *Span) setSamplingPriorityTag(key string, value interface{}) {
	t := s.context.trace
	switch key {
	case ext.ManualKeep:
		if v, ok := value.(bool); !ok || v {
			t.setSamplingPriority(ext.PriorityUserKeep, samplernames.Manual)
		}
	case ext.ManualDrop:
		if v, ok := value.(bool); !ok || v {
			t.setSamplingPriority(ext.PriorityUserReject, samplernames.Manual)
		}
	case ext.SamplingPriority:
		// ext.SamplingPriority is deprecated in favor of ext.ManualKeep and ext.ManualDrop.
		// We have it here for backward compatibility.
		if v, ok := toFloat64(value); ok {
			t.setSamplingPriority(int(v), samplernames.Manual)
		}
	}
}

func (s *Span) setTagAssumesHoldingLock(key string, value interface{}) {
	switch key {
	case ext.Error:
		s.setTagErrorAssumesHoldingLock(value, 0)
		return
	case ext.AnalyticsEvent:
		s.setAnalyticsEventAssumesHoldingLock(value)
		return
	}
	switch v := value.(type) {
	case bool:
		if v {
			s.setMetaAssumesHoldingLock(key, "true")
		} else {
			s.setMetaAssumesHoldingLock(key, "false")
		}
		return
	case string:
		s.setMetaAssumesHoldingLock(key, v)
		return
	case nil:
		return
	}
	if v, ok := toFloat64(value); ok {
		s.setMetricAssumesHoldingLock(key, v)
		return
	}
	if v, ok := value.(fmt.Stringer); ok {
		s.setMetaAssumesHoldingLock(key, v.String())
		return
	}
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		s.setArrayAssumesHoldingLock(key, rv)
		return
	}
	s.setMetaAssumesHoldingLock(key, fmt.Sprint(value))
}

type arrayKind int

const (
	arrayEmpty arrayKind = iota
	arrayString
	arrayBool
	arrayNumeric
	arrayMixed
)

func elementKind(v interface{}) arrayKind {
	switch v.(type) {
	case string:
		return arrayString
	case bool:
		return arrayBool
	}
	if _, ok := toFloat64(v); ok {
		return arrayNumeric
	}
	return arrayMixed
}

// setArrayAssumesHoldingLock flattens a homogeneous array of strings, bools
// or numbers into indexed keys: {"arr.0": "foo", "arr.1": "bar"}. An empty
// array is stored as an empty string and any other array is dropped.
func (s *Span) setArrayAssumesHoldingLock(key string, rv reflect.Value) {
	if rv.Len() == 0 {
		s.setMetaAssumesHoldingLock(key, "")
		return
	}
	kind := arrayEmpty
	for i := 0; i < rv.Len(); i++ {
		k := elementKind(rv.Index(i).Interface())
		if k == arrayMixed || (kind != arrayEmpty && k != kind) {
			log.Debug("dropping attribute %q: arrays must hold values of a single primitive type", key)
			return
		}
		kind = k
	}
	for i := 0; i < rv.Len(); i++ {
		k := key + "." + strconv.Itoa(i)
		switch v := rv.Index(i).Interface().(type) {
		case string:
			s.setMetaAssumesHoldingLock(k, v)
		case bool:
			s.setMetaAssumesHoldingLock(k, strconv.FormatBool(v))
		default:
			f, _ := toFloat64(v)
			s.setMetricAssumesHoldingLock(k, f)
		}
	}
}

// setAnalyticsEventAssumesHoldingLock maps the analytics.event attribute to
// the event sample rate metric. Values which are not a recognised boolean
// token are dropped.
func (s *Span) setAnalyticsEventAssumesHoldingLock(value interface{}) {
	var token string
	switch v := value.(type) {
	case bool:
		token = strconv.FormatBool(v)
	case string:
		token = v
	default:
		if f, ok := toFloat64(value); ok {
			token = strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	switch strings.ToLower(token) {
	case "true", "t", "1":
		s.setMetricAssumesHoldingLock(ext.EventSampleRate, 1.0)
	case "false", "f", "0":
		s.setMetricAssumesHoldingLock(ext.EventSampleRate, 0.0)
	default:
		log.Debug("dropping analytics.event attribute with unrecognised value %v", value)
	}
}

// setTagErrorAssumesHoldingLock sets the error tag. It accounts for various
// valid scenarios.
func (s *Span) setTagErrorAssumesHoldingLock(value interface{}, skip uint) {
	switch v := value.(type) {
	case bool:
		// bool value as per Opentracing spec.
		if v {
			s.error = 1
		} else {
			s.error = 0
		}
	case error:
		// if anyone sets an error value as the tag, be nice here
		// and provide all the benefits.
		s.error = 1
		s.setMetaAssumesHoldingLock(ext.ErrorMsg, v.Error())
		s.setMetaAssumesHoldingLock(ext.ErrorType, reflect.TypeOf(v).String())
		s.setMetaAssumesHoldingLock(ext.ErrorStack, takeStacktrace(0, 2+skip))
	case nil:
		// no error
		s.error = 0
	default:
		// in all other cases, let's assume that setting this tag
		// is the result of an error.
		s.error = 1
	}
}

// defaultStackLength specifies the default maximum size of a stack trace.
const defaultStackLength = 32

// takeStacktrace takes a stack trace of maximum n entries, skipping the first skip entries.
// If n is 0, up to defaultStackLength entries are retrieved.
func takeStacktrace(n, skip uint) string {
	if n == 0 {
		n = defaultStackLength
	}
	var builder strings.Builder
	pcs := make([]uintptr, n)

	// +2 to exclude runtime.Callers and takeStacktrace
	numFrames := runtime.Callers(2+int(skip), pcs)
	if numFrames == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:numFrames])
	for i := 0; ; i++ {
		frame, more := frames.Next()
		if i != 0 {
			builder.WriteByte('\n')
		}
		builder.WriteString(frame.Function)
		builder.WriteByte('\n')
		builder.WriteByte('\t')
		builder.WriteString(frame.File)
		builder.WriteByte(':')
		builder.WriteString(strconv.Itoa(frame.Line))
		if !more {
			break
		}
	}
	return builder.String()
}

// setMetaAssumesHoldingLock sets a string tag. Reserved keys set the
// corresponding span fields.
func (s *Span) setMetaAssumesHoldingLock(key, v string) {
	if s.meta == nil {
		s.meta = make(map[string]string, 1)
	}
	delete(s.metrics, key)
	switch key {
	case ext.SpanName:
		s.name = v
	case ext.ServiceName:
		s.service = v
	case ext.ResourceName:
		s.resource = v
	case ext.SpanType:
		s.spanType = v
	default:
		s.meta[key] = v
	}
}

// setMetricAssumesHoldingLock sets a numeric tag, in our case called a
// metric.
func (s *Span) setMetricAssumesHoldingLock(key string, v float64) {
	if s.metrics == nil {
		s.metrics = make(map[string]float64, 1)
	}
	delete(s.meta, key)
	s.metrics[key] = v
}

// SetOperationName sets or changes the operation name.
func (s *Span) SetOperationName(operationName string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.name = operationName
}

// SetStatus sets the status of the span. Setting StatusUnset is ignored,
// StatusOK clears any error and is final, and StatusError marks the span as
// failed with the given description.
func (s *Span) SetStatus(code StatusCode, description string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.status == StatusOK {
		return
	}
	switch code {
	case StatusOK:
		s.status = StatusOK
		s.error = 0
		delete(s.meta, ext.ErrorMsg)
	case StatusError:
		s.status = StatusError
		s.error = 1
		if description != "" {
			s.setMetaAssumesHoldingLock(ext.ErrorMsg, description)
		}
	}
}

// AddLink adds a link to a span outside of the trace.
func (s *Span) AddLink(link SpanLink) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.links = append(s.links, link)
}

// AddEvent attaches a named, timestamped event to the span. A zero
// timestamp means now.
func (s *Span) AddEvent(name string, timestamp time.Time, attributes map[string]interface{}) {
	if s == nil {
		return
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.events = append(s.events, spanEvent{
		Name:         name,
		TimeUnixNano: timestamp.UnixNano(),
		Attributes:   attributes,
	})
}

// Finish closes this Span (but not its children) providing the duration
// of its part of the tracing session. It is idempotent: once a span has
// been finished, methods that modify it become no-ops.
func (s *Span) Finish(opts ...FinishOption) {
	if s == nil {
		return
	}
	var cfg FinishConfig
	for _, fn := range opts {
		fn(&cfg)
	}
	t := now()
	if !cfg.FinishTime.IsZero() {
		t = cfg.FinishTime.UnixNano()
	}
	if cfg.Error != nil {
		s.mu.Lock()
		if !s.finished {
			s.setTagErrorAssumesHoldingLock(cfg.Error, 0)
		}
		s.mu.Unlock()
	}
	s.finish(t)
}

func (s *Span) finish(finishTime int64) {
	s.mu.Lock()
	if s.finished {
		// already finished
		s.mu.Unlock()
		return
	}
	if s.duration == 0 {
		s.duration = finishTime - s.start
	}
	if s.duration < 0 {
		s.duration = 0
	}
	s.serializeAssumesHoldingLock()
	s.finished = true
	if log.DebugEnabled() {
		// avoid allocating the ...interface{} argument if debug logging is disabled
		log.Debug("Finished Span: %v, Operation: %s, Resource: %s, Tags: %v, %v",
			s.spanID, s.name, s.resource, s.meta, s.metrics)
	}
	s.mu.Unlock()
	if s.context != nil && s.context.trace != nil {
		s.context.trace.finishedOne(s)
	}
}

// serializeAssumesHoldingLock stores links and events as JSON tags.
func (s *Span) serializeAssumesHoldingLock() {
	if len(s.links) > 0 {
		if b, err := json.Marshal(s.links); err == nil {
			s.setMetaAssumesHoldingLock("_dd.span_links", string(b))
		} else {
			log.Debug("cannot serialize span links: %v", err)
		}
	}
	if len(s.events) > 0 {
		if b, err := json.Marshal(s.events); err == nil {
			s.setMetaAssumesHoldingLock("events", string(b))
		} else {
			log.Debug("cannot serialize span events: %v", err)
		}
	}
}

// CapturePanic records a panic on s and re-panics. It must be deferred
// directly:
//
//	span := tracer.StartSpan("job")
//	defer tracer.CapturePanic(span)
//
// The panic is recorded as an exception event along with the error tags,
// then s is finished and the tracer flushed before the panic resumes.
func CapturePanic(s *Span) {
	r := recover()
	if r == nil {
		return
	}
	if s != nil {
		var typ string
		if err, ok := r.(error); ok {
			typ = reflect.TypeOf(err).String()
		} else {
			typ = reflect.TypeOf(r).String()
		}
		msg := fmt.Sprint(r)
		stack := takeStacktrace(0, 1)
		s.AddEvent("exception", time.Time{}, map[string]interface{}{
			ext.ExceptionMessage:    msg,
			ext.ExceptionType:       typ,
			ext.ExceptionStacktrace: stack,
		})
		s.mu.Lock()
		if !s.finished {
			s.error = 1
			s.setMetaAssumesHoldingLock(ext.ErrorMsg, msg)
			s.setMetaAssumesHoldingLock(ext.ErrorType, typ)
			s.setMetaAssumesHoldingLock(ext.ErrorStack, stack)
		}
		s.mu.Unlock()
		s.Finish()
		if s.tracer != nil {
			s.tracer.flushSync()
		}
	}
	panic(r)
}

// String returns a human readable representation of the span. Not for
// production, just debugging.
func (s *Span) String() string {
	if s == nil {
		return "<nil>"
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	lines := []string{
		fmt.Sprintf("Name: %s", s.name),
		fmt.Sprintf("Service: %s", s.service),
		fmt.Sprintf("Resource: %s", s.resource),
		fmt.Sprintf("TraceID: %d", s.traceID),
		fmt.Sprintf("SpanID: %d", s.spanID),
		fmt.Sprintf("ParentID: %d", s.parentID),
		fmt.Sprintf("Start: %s", time.Unix(0, s.start)),
		fmt.Sprintf("Duration: %s", time.Duration(s.duration)),
		fmt.Sprintf("Error: %d", s.error),
		fmt.Sprintf("Type: %s", s.spanType),
		"Tags:",
	}
	for key, val := range s.meta {
		lines = append(lines, fmt.Sprintf("\t%s:%s", key, val))
	}
	for key, val := range s.metrics {
		lines = append(lines, fmt.Sprintf("\t%s:%f", key, val))
	}
	return strings.Join(lines, "\n")
}

// toFloat64 attempts to convert value into a float64. If the value is an
// integer greater or equal to 2^53 or less than or equal to -2^53, it will
// not be converted into a float64 to avoid losing precision. If it succeeds
// in converting, toFloat64 returns the value and true, otherwise 0 and false.
func toFloat64(value interface{}) (f float64, ok bool) {
	const maxFloat = (int64(1) << 53) - 1
	const minFloat = -maxFloat
	switch i := value.(type) {
	case byte:
		return float64(i), true
	case float32:
		return float64(i), true
	case float64:
		return i, true
	case int:
		return float64(i), true
	case int8:
		return float64(i), true
	case int16:
		return float64(i), true
	case int32:
		return float64(i), true
	case int64:
		if i > maxFloat || i < minFloat {
			return 0, false
		}
		return float64(i), true
	case uint:
		return float64(i), true
	case uint16:
		return float64(i), true
	case uint32:
		return float64(i), true
	case uint64:
		if i > uint64(maxFloat) {
			return 0, false
		}
		return float64(i), true
	default:
		return 0, false
	}
}

func now() int64 {
	return time.Now().UnixNano()
}

const (
	keySamplingPriority        = "_sampling_priority_v1"
	keyDecisionMaker           = "_dd.p.dm"
	keyRulesSamplerAppliedRate = "_dd.rule_psr"
	keyParentID                = "_dd.parent_id"
	// keyTraceID128 is the lowercase, hex encoded upper 64 bits of a 128-bit trace id, if present.
	keyTraceID128 = "_dd.p.tid"
	// keyBaseService contains the globally configured tracer service name. It is only set for spans that override it.
	keyBaseService = "_dd.base_service"
)
