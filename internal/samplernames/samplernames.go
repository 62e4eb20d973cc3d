// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package samplernames defines the identifiers of the components able to
// take a sampling decision. They are propagated as the _dd.p.dm tag and as
// t.dm in the tracestate header.
package samplernames

import "strconv"

// SamplerName specifies the name of a sampler which was
// responsible for a certain sampling decision.
type SamplerName int8

const (
	// Unknown specifies that the span was sampled
	// but, the tracer was unable to identify the sampler.
	Unknown SamplerName = -1
	// Default specifies that the span was sampled without any sampler.
	Default SamplerName = 0
	// AgentRate specifies that the span was sampled
	// with a rate calculated by the trace agent.
	AgentRate SamplerName = 1
	// RemoteRate specifies that the span was sampled
	// with a dynamically calculated remote rate.
	RemoteRate SamplerName = 2
	// RuleRate specifies that the span was sampled by a rate or ratio rule.
	RuleRate SamplerName = 3
	// Manual specifies that the span was sampled manually by user.
	Manual SamplerName = 4
	// AppSec specifies that the span was sampled by AppSec.
	AppSec SamplerName = 5
	// RemoteUserRate specifies that the span was sampled
	// with an user specified remote rate.
	RemoteUserRate SamplerName = 6
	// SingleSpan specifies that the span was sampled by single
	// span sampling rules.
	SingleSpan SamplerName = 8
	// RemoteUserRule specifies that the span was sampled by a rule the user configured remotely.
	RemoteUserRule SamplerName = 11
	// RemoteDynamicRule specifies that the span was sampled by a rule configured remotely.
	RemoteDynamicRule SamplerName = 12
)

// DecisionMaker returns the wire representation of s, e.g. "-3".
func (s SamplerName) DecisionMaker() string {
	if s < Unknown {
		s = Unknown
	}
	return "-" + strconv.Itoa(int(s))
}

// Parse returns the SamplerName encoded in the decision maker string dm.
// Invalid input yields Unknown.
func Parse(dm string) SamplerName {
	if len(dm) < 2 || dm[0] != '-' {
		return Unknown
	}
	v, err := strconv.Atoi(dm[1:])
	if err != nil || v < int(Unknown) || v > 127 {
		return Unknown
	}
	return SamplerName(v)
}
