// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package samplernames

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSamplerDecisionMaker(t *testing.T) {
	testCases := []struct {
		name     string
		sampler  SamplerName
		expected string
	}{
		{name: "Unknown", sampler: Unknown, expected: "--1"},
		{name: "Default", sampler: Default, expected: "-0"},
		{name: "AgentRate", sampler: AgentRate, expected: "-1"},
		{name: "RemoteRate", sampler: RemoteRate, expected: "-2"},
		{name: "RuleRate", sampler: RuleRate, expected: "-3"},
		{name: "Manual", sampler: Manual, expected: "-4"},
		{name: "AppSec", sampler: AppSec, expected: "-5"},
		{name: "RemoteUserRate", sampler: RemoteUserRate, expected: "-6"},
		{name: "SingleSpan", sampler: SingleSpan, expected: "-8"},
		{name: "RemoteUserRule", sampler: RemoteUserRule, expected: "-11"},
		{name: "RemoteDynamicRule", sampler: RemoteDynamicRule, expected: "-12"},
		{name: "invalid", sampler: SamplerName(-5), expected: "--1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.sampler.DecisionMaker())
		})
	}
}

func TestParse(t *testing.T) {
	for dm, want := range map[string]SamplerName{
		"-0":   Default,
		"-3":   RuleRate,
		"--1":  Unknown,
		"-12":  RemoteDynamicRule,
		"":     Unknown,
		"3":    Unknown,
		"-x":   Unknown,
		"-999": Unknown,
	} {
		assert.Equal(t, want, Parse(dm), dm)
	}
}
