// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package contrib holds integrations built on top of the tracer. The messaging
// package provides broker-agnostic publish and consume hooks; the packages
// below it adapt those hooks to a specific client library.
package contrib
