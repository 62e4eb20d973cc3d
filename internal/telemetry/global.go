// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2022 Datadog, Inc.

package telemetry

import "sync/atomic"

var global atomic.Pointer[Client]

// SetGlobalClient sets the client used by package level helpers such as
// LoadIntegration.
func SetGlobalClient(c *Client) {
	global.Store(c)
}

// GlobalClient returns the client set by the running tracer, or nil.
func GlobalClient() *Client {
	return global.Load()
}

// LoadIntegration reports that the integration name was enabled through the
// global client. It is a no-op while no tracer is running.
func LoadIntegration(name, version string) {
	if c := global.Load(); c != nil {
		c.IntegrationChange(name, true, version)
	}
}

// UnsetGlobalClient unsets the global client if it is still c.
func UnsetGlobalClient(c *Client) {
	global.CompareAndSwap(c, nil)
}
