// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

// ScopeStack tracks the active spans of one goroutine. Scopes may be
// detached in any order; the active span is always the most recently
// activated scope which is still attached.
//
// A ScopeStack is owned by a single goroutine and is not safe for
// concurrent use.
//
//	stack := tracer.NewScopeStack()
//	scope := stack.Activate(span)
//	defer scope.Detach()
type ScopeStack struct {
	top *Scope
	len int
}

// Scope is the token returned by ScopeStack.Activate.
type Scope struct {
	span  *Span
	stack *ScopeStack

	// prev points towards the bottom of the stack, next towards the top.
	prev, next *Scope
	detached   bool
}

// NewScopeStack returns an empty stack.
func NewScopeStack() *ScopeStack {
	return &ScopeStack{}
}

// Activate makes s the active span until the returned scope is detached.
func (st *ScopeStack) Activate(s *Span) *Scope {
	sc := &Scope{span: s, stack: st, prev: st.top}
	if st.top != nil {
		st.top.next = sc
	}
	st.top = sc
	st.len++
	return sc
}

// Active returns the active span, or nil when no scope is attached.
func (st *ScopeStack) Active() *Span {
	if st == nil || st.top == nil {
		return nil
	}
	return st.top.span
}

// Len returns the number of attached scopes.
func (st *ScopeStack) Len() int {
	if st == nil {
		return 0
	}
	return st.len
}

// Span returns the span activated by sc.
func (sc *Scope) Span() *Span {
	if sc == nil {
		return nil
	}
	return sc.span
}

// Detach removes sc from its stack. When sc is the top of the stack, the
// previously activated span still attached becomes active again. Detaching
// a scope twice is a no-op.
func (sc *Scope) Detach() {
	if sc == nil || sc.detached {
		return
	}
	st := sc.stack
	if sc.prev != nil {
		sc.prev.next = sc.next
	}
	if sc.next != nil {
		sc.next.prev = sc.prev
	}
	if st.top == sc {
		st.top = sc.prev
	}
	st.len--
	sc.prev, sc.next = nil, nil
	sc.detached = true
}

// DetachFrom detaches sc only when it belongs to st.
func (st *ScopeStack) DetachFrom(sc *Scope) bool {
	if sc == nil || sc.stack != st || sc.detached {
		return false
	}
	sc.Detach()
	return true
}
