// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package messaging

import (
	"math"

	"github.com/DataDog/dd-trace-otel-bridge/internal"
)

type config struct {
	system              string
	component           string
	consumerServiceName string
	producerServiceName string
	continueTrace       bool
	analyticsRate       float64
}

// An Option customizes the config.
type Option func(cfg *config)

func newConfig(system string, opts ...Option) *config {
	cfg := &config{
		system:              system,
		component:           "messaging",
		consumerServiceName: system,
		producerServiceName: system,
		analyticsRate:       math.NaN(),
	}
	if internal.BoolEnv("DD_TRACE_MESSAGING_ANALYTICS_ENABLED", false) {
		cfg.analyticsRate = 1.0
	}
	cfg.continueTrace = internal.BoolEnv("DD_TRACE_MESSAGING_CONTINUE_TRACE", false)
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithServiceName sets the service name of both publish and consume spans.
func WithServiceName(serviceName string) Option {
	return func(cfg *config) {
		cfg.consumerServiceName = serviceName
		cfg.producerServiceName = serviceName
	}
}

// WithComponent sets the component tag of the spans, naming the client
// library the hooks are installed in.
func WithComponent(name string) Option {
	return func(cfg *config) {
		cfg.component = name
	}
}

// WithContinueTrace makes consume spans children of the publish span found in
// the message headers. By default they start from the caller's context and
// only link to the publish span.
func WithContinueTrace(on bool) Option {
	return func(cfg *config) {
		cfg.continueTrace = on
	}
}

// WithAnalytics enables Trace Analytics for all started spans.
func WithAnalytics(on bool) Option {
	return func(cfg *config) {
		if on {
			cfg.analyticsRate = 1.0
		} else {
			cfg.analyticsRate = math.NaN()
		}
	}
}

// WithAnalyticsRate sets the sampling rate for Trace Analytics events
// correlated to started spans.
func WithAnalyticsRate(rate float64) Option {
	return func(cfg *config) {
		if rate >= 0.0 && rate <= 1.0 {
			cfg.analyticsRate = rate
		} else {
			cfg.analyticsRate = math.NaN()
		}
	}
}
