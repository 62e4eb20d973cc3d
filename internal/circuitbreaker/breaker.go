// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package circuitbreaker provides the failure gate shared by every delivery
// path to the agent.
package circuitbreaker

import (
	"sync/atomic"
	"time"
)

// State represents the current state of a Breaker.
type State int

const (
	// Closed is the normal operating state: deliveries are attempted.
	Closed State = iota
	// Open is the tripped state: deliveries are skipped until the cooldown ends.
	Open
	// HalfOpen means the cooldown ended and a single trial request may go through.
	HalfOpen
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker counts consecutive delivery failures. Once threshold failures
// accumulate, Allow reports false until cooldown has elapsed, after which a
// single trial request is let through. Any success closes the breaker again.
//
// All methods are safe for concurrent use.
type Breaker struct {
	threshold uint32
	cooldown  time.Duration
	now       func() time.Time

	failures  atomic.Uint32
	openUntil atomic.Int64 // unix nanoseconds
	probing   atomic.Bool
}

// New returns a closed Breaker. A threshold of 0 is treated as 1.
func New(threshold uint32, cooldown time.Duration) *Breaker {
	if threshold == 0 {
		threshold = 1
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a delivery should be attempted now.
func (b *Breaker) Allow() bool {
	if b.failures.Load() < b.threshold {
		return true
	}
	if b.now().UnixNano() < b.openUntil.Load() {
		return false
	}
	return b.probing.CompareAndSwap(false, true)
}

// Success resets the breaker to Closed with no recorded failures.
func (b *Breaker) Success() {
	b.failures.Store(0)
	b.openUntil.Store(0)
	b.probing.Store(false)
}

// Failure records a failed delivery. Reaching the threshold, or failing a
// trial request, opens the breaker for another cooldown.
func (b *Breaker) Failure() {
	if n := b.failures.Add(1); n >= b.threshold {
		b.openUntil.Store(b.now().Add(b.cooldown).UnixNano())
		b.probing.Store(false)
	}
}

// Failures returns the number of consecutive failures.
func (b *Breaker) Failures() uint32 {
	return b.failures.Load()
}

// State returns the current state of the breaker.
func (b *Breaker) State() State {
	if b.failures.Load() < b.threshold {
		return Closed
	}
	if b.now().UnixNano() < b.openUntil.Load() || b.probing.Load() {
		return Open
	}
	return HalfOpen
}
