// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package internal

type contextKey string

const (
	// ActiveSpanKey is used to set the active span on a context.Context.
	ActiveSpanKey = contextKey("dd.active_span")

	// ScopeStackKey is used to set the goroutine's scope stack on a
	// context.Context.
	ScopeStackKey = contextKey("dd.scope_stack")
)
