// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package internal

import (
	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
)

// StatsdClient is the subset of the DogStatsD client used by the tracer to
// report its own health.
type StatsdClient interface {
	Incr(name string, tags []string, rate float64) error
	Count(name string, value int64, tags []string, rate float64) error
	Gauge(name string, value float64, tags []string, rate float64) error
	Flush() error
	Close() error
}

var (
	_ StatsdClient = (*statsd.Client)(nil)
	_ StatsdClient = (*statsd.NoOpClient)(nil)
)

// NewStatsdClient returns a DogStatsD client sending to addr with the given
// global tags. When the client cannot be created a no-op client is returned
// along with the error.
func NewStatsdClient(addr string, globalTags []string) (StatsdClient, error) {
	client, err := statsd.New(addr, statsd.WithMaxMessagesPerPayload(40), statsd.WithTags(globalTags))
	if err != nil {
		log.Warn("cannot create statsd client for %s: %v", addr, err)
		return &statsd.NoOpClient{}, err
	}
	return client, nil
}
