// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2022 Datadog, Inc.

package telemetry

import "time"

// An Option is used to configure the telemetry client's settings
type Option func(*Client)

// WithApplication sets the application descriptor attached to every request.
func WithApplication(service, env, version string) Option {
	return func(c *Client) {
		c.app.ServiceName = service
		c.app.Env = env
		c.app.ServiceVersion = version
	}
}

// WithNamespace sets the namespace reported with generated metrics.
func WithNamespace(name Namespace) Option {
	return func(c *Client) {
		c.namespace = name
	}
}

// WithHeartbeatInterval overrides DD_TELEMETRY_HEARTBEAT_INTERVAL.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.heartbeatInterval = d
		}
	}
}

// WithDependencyCollection enables or disables the app-dependencies-loaded event.
func WithDependencyCollection(enabled bool) Option {
	return func(c *Client) {
		c.collectDependencies = enabled
	}
}

// WithDebug sets the debug flag of every request body.
func WithDebug(enabled bool) Option {
	return func(c *Client) {
		c.debug = enabled
	}
}
