// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import "sync/atomic"

// globalTracer stores the running tracer. A nil value means no tracer is
// started, in which case the package level functions are no-ops.
var globalTracer atomic.Pointer[tracer]

// setGlobalTracer sets the global tracer to t and stops the previous one.
func setGlobalTracer(t *tracer) {
	if old := globalTracer.Swap(t); old != nil && old != t {
		old.Stop()
	}
}

// getGlobalTracer returns the currently active tracer, or nil.
func getGlobalTracer() *tracer {
	return globalTracer.Load()
}
