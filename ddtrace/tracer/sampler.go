// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"math"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	"github.com/DataDog/dd-trace-otel-bridge/internal/samplernames"
)

// Decision is the verdict of a Sampler.
type Decision int

const (
	// DecisionDrop drops the trace.
	DecisionDrop Decision = iota
	// DecisionKeep keeps the trace.
	DecisionKeep
	// DecisionInherit leaves the decision already held by the trace untouched.
	DecisionInherit
)

func (d Decision) String() string {
	switch d {
	case DecisionDrop:
		return "drop"
	case DecisionKeep:
		return "keep"
	case DecisionInherit:
		return "inherit"
	}
	return "unknown"
}

// SamplingResult holds the outcome of a sampling evaluation. TraceState is an
// optional tracestate fragment (e.g. "rojo=00f067aa0ba902b7") which is added
// after the dd list-member of the trace.
type SamplingResult struct {
	Decision      Decision
	Priority      int
	DecisionMaker string
	TraceState    string

	// Rate is the sample rate applied by a ratio sampler, zero otherwise.
	Rate float64
}

type samplerKind uint8

const (
	kindAlwaysOn samplerKind = iota
	kindAlwaysOff
	kindTraceIDRatio
	kindRateLimited
	kindParentBased
)

// parentState classifies the parent of a span being sampled.
type parentState uint8

const (
	stateNoParent parentState = iota
	stateRemoteParentSampled
	stateRemoteParentNotSampled
	stateLocalParent
)

func (s parentState) String() string {
	switch s {
	case stateNoParent:
		return "NoParent"
	case stateRemoteParentSampled:
		return "RemoteParentSampled"
	case stateRemoteParentNotSampled:
		return "RemoteParentNotSampled"
	case stateLocalParent:
		return "LocalParent"
	}
	return "Unknown"
}

// parentStateOf returns the sampling state selected by parent.
func parentStateOf(parent *SpanContext) parentState {
	switch {
	case !parent.IsValid():
		return stateNoParent
	case !parent.isRemote:
		return stateLocalParent
	case parent.IsSampled():
		return stateRemoteParentSampled
	default:
		return stateRemoteParentNotSampled
	}
}

// Sampler decides whether a trace is kept. The set of samplers is closed:
// use AlwaysOn, AlwaysOff, TraceIDRatio, RateLimited and ParentBased to build
// one. A Sampler is safe for concurrent use.
type Sampler struct {
	kind       samplerKind
	rate       float64
	limiter    *rate.Limiter
	traceState string

	root             *Sampler
	remoteSampled    *Sampler
	remoteNotSampled *Sampler

	// evaluations counts the decisions taken by this sampler.
	evaluations atomic.Uint64
}

// AlwaysOn keeps every trace.
func AlwaysOn() *Sampler { return &Sampler{kind: kindAlwaysOn} }

// AlwaysOff drops every trace.
func AlwaysOff() *Sampler { return &Sampler{kind: kindAlwaysOff} }

// TraceIDRatio keeps the given ratio of traces, based on their trace id, so
// that every tracer configured with the same rate takes the same decision.
func TraceIDRatio(r float64) *Sampler {
	switch {
	case math.IsNaN(r) || r < 0:
		r = 0
	case r > 1:
		r = 1
	}
	return &Sampler{kind: kindTraceIDRatio, rate: r}
}

// RateLimited keeps at most perSecond traces per second.
func RateLimited(perSecond float64) *Sampler {
	if perSecond < 0 {
		perSecond = 0
	}
	return &Sampler{
		kind:    kindRateLimited,
		rate:    perSecond,
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(math.Ceil(perSecond))),
	}
}

// ParentBasedOption configures a ParentBased sampler.
type ParentBasedOption func(*Sampler)

// WithRemoteParentSampled sets the sampler used when the parent is remote
// and sampled. Defaults to AlwaysOn.
func WithRemoteParentSampled(s *Sampler) ParentBasedOption {
	return func(p *Sampler) { p.remoteSampled = s }
}

// WithRemoteParentNotSampled sets the sampler used when the parent is remote
// and not sampled. Defaults to AlwaysOff.
func WithRemoteParentNotSampled(s *Sampler) ParentBasedOption {
	return func(p *Sampler) { p.remoteNotSampled = s }
}

// ParentBased returns a sampler which delegates to root for trace roots and
// to the configured samplers for spans with a remote parent. Spans with a
// local parent always inherit the decision of their trace.
func ParentBased(root *Sampler, opts ...ParentBasedOption) *Sampler {
	if root == nil {
		root = AlwaysOn()
	}
	s := &Sampler{
		kind:             kindParentBased,
		root:             root,
		remoteSampled:    AlwaysOn(),
		remoteNotSampled: AlwaysOff(),
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// WithTraceState attaches a tracestate fragment to every result of s and
// returns s. It must be called before the sampler is in use.
func (s *Sampler) WithTraceState(fragment string) *Sampler {
	s.traceState = fragment
	return s
}

// Evaluations returns the number of decisions taken by s and its delegates.
func (s *Sampler) Evaluations() uint64 {
	if s == nil {
		return 0
	}
	n := s.evaluations.Load()
	if s.kind == kindParentBased {
		n += s.root.Evaluations() + s.remoteSampled.Evaluations() + s.remoteNotSampled.Evaluations()
	}
	return n
}

// constants used for the Knuth hashing, same as agent.
const knuthFactor = uint64(1111111111111111111)

// sampledByRate verifies if the number n should be sampled at the specified
// rate.
func sampledByRate(n uint64, rate float64) bool {
	if rate < 1 {
		return n*knuthFactor < uint64(rate*math.MaxUint64)
	}
	return true
}

// sample runs the sampler for a span with the given parent and trace id.
func (s *Sampler) sample(parent *SpanContext, id traceID) SamplingResult {
	if s.kind != kindParentBased {
		res := s.decide(id)
		res.TraceState = s.traceState
		return res
	}
	var (
		res      SamplingResult
		delegate *Sampler
	)
	switch parentStateOf(parent) {
	case stateNoParent:
		delegate = s.root
	case stateRemoteParentSampled:
		delegate = s.remoteSampled
	case stateRemoteParentNotSampled:
		delegate = s.remoteNotSampled
	case stateLocalParent:
		p, _ := parent.SamplingPriority()
		return SamplingResult{Decision: DecisionInherit, Priority: p, DecisionMaker: parent.DecisionMaker()}
	}
	res = delegate.sample(parent, id)
	if parent.IsRemote() && (res.Decision == DecisionKeep) == parent.IsSampled() {
		// the delegate agrees with the upstream decision, which is kept as is
		if p, ok := parent.SamplingPriority(); ok {
			res.Priority = p
		}
		if dm := parent.DecisionMaker(); dm != "" {
			res.DecisionMaker = dm
		}
	}
	if res.TraceState == "" {
		res.TraceState = s.traceState
	}
	return res
}

// decide evaluates a leaf sampler.
func (s *Sampler) decide(id traceID) SamplingResult {
	s.evaluations.Add(1)
	switch s.kind {
	case kindAlwaysOn:
		return SamplingResult{
			Decision:      DecisionKeep,
			Priority:      ext.PriorityAutoKeep,
			DecisionMaker: samplernames.Default.DecisionMaker(),
		}
	case kindTraceIDRatio:
		res := SamplingResult{
			Decision:      DecisionDrop,
			Priority:      ext.PriorityUserReject,
			DecisionMaker: samplernames.RuleRate.DecisionMaker(),
			Rate:          s.rate,
		}
		if sampledByRate(id.Lower(), s.rate) {
			res.Decision = DecisionKeep
			res.Priority = ext.PriorityUserKeep
		}
		return res
	case kindRateLimited:
		res := SamplingResult{
			Decision:      DecisionDrop,
			Priority:      ext.PriorityUserReject,
			DecisionMaker: samplernames.RuleRate.DecisionMaker(),
		}
		if s.limiter.Allow() {
			res.Decision = DecisionKeep
			res.Priority = ext.PriorityUserKeep
		}
		return res
	}
	return SamplingResult{
		Decision:      DecisionDrop,
		Priority:      ext.PriorityAutoReject,
		DecisionMaker: samplernames.Default.DecisionMaker(),
	}
}
