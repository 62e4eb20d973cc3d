// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
	"github.com/DataDog/dd-trace-otel-bridge/internal/samplernames"
)

type traceID [16]byte // traceID in big endian, i.e. <upper><lower>

var emptyTraceID traceID

func (t *traceID) HexEncoded() string {
	return hex.EncodeToString(t[:])
}

func (t *traceID) Lower() uint64 {
	return binary.BigEndian.Uint64(t[8:])
}

func (t *traceID) Upper() uint64 {
	return binary.BigEndian.Uint64(t[:8])
}

func (t *traceID) SetLower(i uint64) {
	binary.BigEndian.PutUint64(t[8:], i)
}

func (t *traceID) SetUpper(i uint64) {
	binary.BigEndian.PutUint64(t[:8], i)
}

func (t *traceID) SetUpperFromHex(s string) error {
	u, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return fmt.Errorf("malformed %q: %w", s, err)
	}
	t.SetUpper(u)
	return nil
}

func (t *traceID) Empty() bool {
	return *t == emptyTraceID
}

func (t *traceID) HasUpper() bool {
	return t.Upper() != 0
}

func (t *traceID) UpperHex() string {
	return hex.EncodeToString(t[:8])
}

// SpanContext represents a span state that can propagate to descendant spans
// and across process boundaries. It contains all the information needed to
// spawn a direct descendant of the span that it belongs to.
//
// A SpanContext is immutable once created. State which is shared by every
// span of a trace (sampling priority, decision maker, propagating tags and
// foreign tracestate members) lives in the trace it references.
type SpanContext struct {
	trace *trace // reference to the trace that this span belongs too

	traceID  traceID
	spanID   uint64
	isRemote bool

	// The 16-character hex string of the last seen Datadog span ID, taken
	// from the p sub-key of an incoming tracestate. Spans created from this
	// context carry it as _dd.parent_id.
	reparentID string
}

// newSpanContext creates a new SpanContext for span. If parent is non-nil,
// the trace id and the trace state are inherited from it.
func newSpanContext(span *Span, parent *SpanContext, gen128 bool) *SpanContext {
	ctx := &SpanContext{spanID: span.spanID}
	if parent != nil && parent.trace != nil {
		ctx.traceID = parent.traceID
		ctx.trace = parent.trace
	} else {
		ctx.traceID = generateTraceID(span.start, gen128)
		ctx.trace = newTrace()
	}
	if ctx.trace.root == nil && (parent == nil || parent.isRemote) {
		ctx.trace.root = span
	}
	return ctx
}

// SpanID returns the span ID that this context is carrying.
func (c *SpanContext) SpanID() uint64 {
	if c == nil {
		return 0
	}
	return c.spanID
}

// TraceID returns the 32-character hex encoded trace ID.
func (c *SpanContext) TraceID() string {
	if c == nil {
		return "00000000000000000000000000000000"
	}
	return c.traceID.HexEncoded()
}

// TraceIDBytes returns the trace ID encoded as a 16-byte big endian array.
func (c *SpanContext) TraceIDBytes() [16]byte {
	if c == nil {
		return emptyTraceID
	}
	return c.traceID
}

// TraceIDLower returns the lower part of the trace ID. This is the id
// stored in the wire payload.
func (c *SpanContext) TraceIDLower() uint64 {
	if c == nil {
		return 0
	}
	return c.traceID.Lower()
}

// TraceIDUpper returns the upper part of the trace ID.
func (c *SpanContext) TraceIDUpper() uint64 {
	if c == nil {
		return 0
	}
	return c.traceID.Upper()
}

// DecimalTraceID returns the lower 64 bits of the trace ID rendered in base 10.
func (c *SpanContext) DecimalTraceID() string {
	return strconv.FormatUint(c.TraceIDLower(), 10)
}

// IsRemote reports whether the context was extracted from a carrier.
func (c *SpanContext) IsRemote() bool {
	return c != nil && c.isRemote
}

// IsValid reports whether both the trace and span ids are set.
func (c *SpanContext) IsValid() bool {
	return c != nil && !c.traceID.Empty() && c.spanID != 0
}

// SamplingPriority returns the sampling priority of the trace and true if
// one was set.
func (c *SpanContext) SamplingPriority() (p int, ok bool) {
	if c == nil || c.trace == nil {
		return 0, false
	}
	return c.trace.samplingPriority()
}

// IsSampled reports whether the trace is kept.
func (c *SpanContext) IsSampled() bool {
	p, ok := c.SamplingPriority()
	return ok && p > 0
}

// TraceFlags returns the W3C trace flags of the context.
func (c *SpanContext) TraceFlags() byte {
	if c.IsSampled() {
		return 0x01
	}
	return 0x00
}

// Origin returns the origin of the trace, e.g. "synthetics".
func (c *SpanContext) Origin() string {
	if c == nil || c.trace == nil {
		return ""
	}
	c.trace.mu.RLock()
	defer c.trace.mu.RUnlock()
	return c.trace.origin
}

// DecisionMaker returns the _dd.p.dm value of the trace, if any.
func (c *SpanContext) DecisionMaker() string {
	if c == nil || c.trace == nil {
		return ""
	}
	c.trace.mu.RLock()
	defer c.trace.mu.RUnlock()
	return c.trace.propagatingTags[keyDecisionMaker]
}

// TraceState returns the W3C tracestate header value for this context. The
// dd list-member is always composed from the current trace state, so tags
// propagated after this context was created are included.
func (c *SpanContext) TraceState() string {
	if c == nil || c.trace == nil {
		return ""
	}
	t := c.trace
	t.mu.RLock()
	defer t.mu.RUnlock()
	dd := composeDD(c.spanID, t.userPriority(), t.origin, t.propagatingTags, t.ddExtra)
	return t.state.withMember(ddKey, dd).String()
}

// PropagatingTags returns a copy of the _dd.p.* tags shared by the trace.
func (c *SpanContext) PropagatingTags() map[string]string {
	if c == nil || c.trace == nil {
		return nil
	}
	c.trace.mu.RLock()
	defer c.trace.mu.RUnlock()
	tags := make(map[string]string, len(c.trace.propagatingTags))
	for k, v := range c.trace.propagatingTags {
		tags[k] = v
	}
	return tags
}

// NewRemoteSpanContext builds the context of a parent living in another
// process from its W3C representation: a 32 hex character trace id, a 16 hex
// character span id, the trace flags and an optional tracestate header.
// The upper 64 bits of the trace id are propagated as the _dd.p.tid tag.
func NewRemoteSpanContext(traceIDHex, spanIDHex string, flags byte, traceState string) (*SpanContext, error) {
	if len(traceIDHex) != 32 || len(spanIDHex) != 16 {
		return nil, ErrInvalidSpanContext
	}
	ctx := &SpanContext{isRemote: true, trace: newTrace()}
	if _, err := hex.Decode(ctx.traceID[:], []byte(traceIDHex)); err != nil {
		return nil, fmt.Errorf("%w: trace id: %v", ErrInvalidSpanContext, err)
	}
	id, err := strconv.ParseUint(spanIDHex, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: span id: %v", ErrInvalidSpanContext, err)
	}
	ctx.spanID = id
	if !ctx.IsValid() {
		return nil, ErrInvalidSpanContext
	}
	if ctx.traceID.HasUpper() {
		ctx.trace.setPropagatingTag(keyTraceID128, ctx.traceID.UpperHex())
	}
	ctx.trace.applyRemote(flags, ParseTraceState(traceState))
	if dd, ok := ctx.trace.state.Get(ddKey); ok {
		for _, f := range parseDD(dd) {
			if f.key == "p" {
				ctx.reparentID = f.value
			}
		}
	}
	return ctx, nil
}

type samplingDecision uint32

const (
	// decisionNone is the default state of a trace.
	decisionNone samplingDecision = iota
	// decisionDrop prevents the trace from being sent to the agent.
	decisionDrop
	// decisionKeep ensures the trace will be sent to the agent.
	decisionKeep
)

// trace contains shared context information about a trace, such as sampling
// priority, the root reference and a buffer of the spans which are part of the
// trace, if these exist. Every span of a trace holds the same *trace.
type trace struct {
	// root specifies the root of the trace, if known; it is nil when a span
	// context is extracted from a carrier, at which point there are no spans in
	// the trace yet.
	root *Span

	mu sync.RWMutex // guards below fields

	tracer          *tracer           // receives the finished chunk
	spans           []*Span           // all the spans that are part of this trace
	finished        int               // the number of finished spans
	full            bool              // signifies that the span buffer is full
	priority        *float64          // sampling priority
	locked          bool              // specifies if the sampling priority can be altered
	origin          string            // e.g. "synthetics"
	propagatingTags map[string]string // _dd.p.* tags propagated across service boundaries
	state           TraceState        // incoming and sampler-provided tracestate members
	ddExtra         []listMember      // unknown dd sub-keys, kept verbatim

	samplingDecision samplingDecision // accessed atomically
}

var (
	// traceStartSize is the initial size of our trace buffer,
	// by default we allocate for a handful of spans within the trace,
	// reasonable as span is actually way bigger, and avoids re-allocating
	// over and over.
	traceStartSize = 10
	// traceMaxSize is the maximum number of spans we keep in memory for a
	// single trace. This is to avoid memory leaks. If more spans than this
	// are added to a trace, then the trace is dropped and the spans are
	// discarded.
	traceMaxSize = int(1e5)
)

func newTrace() *trace {
	return &trace{spans: make([]*Span, 0, traceStartSize)}
}

func (t *trace) samplingPriority() (p int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.samplingPriorityAssumesHoldingLock()
}

func (t *trace) samplingPriorityAssumesHoldingLock() (p int, ok bool) {
	if t.priority == nil {
		return 0, false
	}
	return int(*t.priority), true
}

// userPriority returns the sampling priority as written in the s sub-key of
// the dd member. Auto priorities are carried by the traceparent sampled flag
// and return "". The caller holds t.mu.
func (t *trace) userPriority() string {
	if t.priority == nil {
		return ""
	}
	switch p := int(*t.priority); p {
	case ext.PriorityAutoKeep, ext.PriorityAutoReject:
		return ""
	default:
		return strconv.Itoa(p)
	}
}

// setSamplingPriority sets the sampling priority and the decision maker
// and returns true if it was modified.
func (t *trace) setSamplingPriority(p int, sampler samplernames.SamplerName) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setSamplingPriorityAssumesHoldingLock(p, sampler.DecisionMaker())
}

func (t *trace) setSamplingPriorityAssumesHoldingLock(p int, dm string) bool {
	if t.locked {
		return false
	}
	updated := t.priority == nil || *t.priority != float64(p)
	if t.priority == nil {
		t.priority = new(float64)
	}
	*t.priority = float64(p)
	if p > 0 {
		atomic.StoreUint32((*uint32)(&t.samplingDecision), uint32(decisionKeep))
	} else {
		atomic.StoreUint32((*uint32)(&t.samplingDecision), uint32(decisionDrop))
	}
	cur, existed := t.propagatingTags[keyDecisionMaker]
	if p > 0 && dm != "" && dm != samplernames.Unknown.DecisionMaker() {
		// Send nothing when the sampler is Unknown.
		if !existed || cur != dm {
			t.setPropagatingTagAssumesHoldingLock(keyDecisionMaker, dm)
			return true
		}
	}
	if p <= 0 && existed {
		delete(t.propagatingTags, keyDecisionMaker)
	}
	return updated
}

// applySamplingResult records the verdict of the sampler chain and merges
// its tracestate fragment after the dd member.
func (t *trace) applySamplingResult(res SamplingResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setSamplingPriorityAssumesHoldingLock(res.Priority, res.DecisionMaker)
	if res.TraceState != "" {
		t.state = t.state.merge(ParseTraceState(res.TraceState))
	}
}

// applyRemote initializes the trace from the flags and tracestate of a
// remote parent.
func (t *trace) applyRemote(flags byte, ts TraceState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sampled := flags&0x01 == 0x01
	priority := ext.PriorityAutoReject
	if sampled {
		priority = ext.PriorityAutoKeep
	}
	dm := samplernames.Default.DecisionMaker()
	var ddExtra []listMember
	if dd, ok := ts.Get(ddKey); ok {
		for _, f := range parseDD(dd) {
			switch {
			case f.key == "p":
				// read by the caller
			case f.key == "o":
				t.origin = f.value
			case f.key == "s":
				p, err := strconv.Atoi(f.value)
				if err != nil {
					// if the tracestate priority is absent, relying on traceparent value
					continue
				}
				if (sampled && p > 0) || (!sampled && p <= 0) {
					priority = p
				}
			case f.key == "t.dm":
				dm = f.value
			case f.key == "t.tid":
				// the trace id upper bits come from the trace id itself
			case len(f.key) > 2 && f.key[:2] == "t.":
				t.setPropagatingTagAssumesHoldingLock("_dd.p."+f.key[2:], decodeTagValue(f.value))
			default:
				ddExtra = append(ddExtra, f)
			}
		}
	}
	t.ddExtra = ddExtra
	t.state = ts
	t.setSamplingPriorityAssumesHoldingLock(priority, dm)
}

func (t *trace) setPropagatingTag(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setPropagatingTagAssumesHoldingLock(key, value)
}

func (t *trace) setPropagatingTagAssumesHoldingLock(key, value string) {
	if t.propagatingTags == nil {
		t.propagatingTags = make(map[string]string, 1)
	}
	t.propagatingTags[key] = value
}

func (t *trace) setOrigin(origin string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.origin = origin
}

// push pushes a new span into the trace. When the buffer is full the trace
// is dropped.
func (t *trace) push(sp *Span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracer == nil {
		t.tracer = sp.tracer
	}
	if t.full {
		return
	}
	if len(t.spans) >= traceMaxSize {
		// capacity is reached, we will not be able to complete this trace.
		t.full = true
		t.spans = nil // allow our spans to be collected by GC.
		log.Error("trace-buffer-full", "trace buffer full (%d spans), dropping trace", traceMaxSize)
		return
	}
	t.spans = append(t.spans, sp)
}

// finishedOne acknowledges that another span in the trace has finished, and
// hands the chunk to the tracer once every span of the trace is finished.
// The span must not be locked by the caller.
func (t *trace) finishedOne(s *Span) {
	t.mu.Lock()
	if t.full {
		// capacity has been reached, the buffer is no longer tracking
		// all the spans in the trace.
		t.mu.Unlock()
		return
	}
	t.finished++
	if s == t.root && t.priority != nil {
		// after the root has finished we lock down the priority
		t.locked = true
	}
	if len(t.spans) != t.finished {
		t.mu.Unlock()
		return
	}
	spans := t.spans
	t.spans = nil
	t.finished = 0
	tr := t.tracer
	var priority *float64
	if t.priority != nil {
		p := *t.priority
		priority = &p
	}
	origin := t.origin
	tags := make(map[string]string, len(t.propagatingTags))
	for k, v := range t.propagatingTags {
		tags[k] = v
	}
	t.mu.Unlock()

	if len(spans) == 0 || tr == nil {
		return
	}
	// the first span in the chunk carries the trace level tags
	first := spans[0]
	first.mu.Lock()
	for k, v := range tags {
		first.setMetaAssumesHoldingLock(k, v)
	}
	if origin != "" {
		first.setMetaAssumesHoldingLock(ext.Origin, origin)
	}
	if first.context != nil && first.context.traceID.HasUpper() {
		first.setMetaAssumesHoldingLock(keyTraceID128, first.context.traceID.UpperHex())
	}
	if priority != nil {
		first.setMetricAssumesHoldingLock(keySamplingPriority, *priority)
	}
	first.mu.Unlock()
	if decisionDrop == samplingDecision(atomic.LoadUint32((*uint32)(&t.samplingDecision))) {
		tr.recordDroppedTrace(spans)
		return
	}
	tr.submit(spans)
}

// spanIDHexEncoded returns the hex encoding of u, left-padded with zeros to
// padding characters.
func spanIDHexEncoded(u uint64, padding int) string {
	if padding == 16 {
		return fmt.Sprintf("%016x", u)
	}
	return strconv.FormatUint(u, 16)
}
