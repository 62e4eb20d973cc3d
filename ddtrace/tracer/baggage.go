// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/baggage"

	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
)

const (
	// maxBaggageMembers is the maximum number of members injected in the
	// baggage header.
	maxBaggageMembers = 64

	// maxBaggageBytes is the maximum size of the injected baggage header.
	maxBaggageBytes = 8192
)

type baggageMember struct {
	key, value, metadata string
}

// Baggage is an ordered set of key/value pairs propagated alongside the trace
// context. Each value may carry an opaque metadata (property) string.
// Baggage values are never modified in place: every mutation returns a copy,
// so a Baggage stored in a context.Context is safe to share.
type Baggage struct {
	members []baggageMember
}

// ParseBaggage decodes a W3C baggage header. Values are percent-decoded.
// Malformed members are dropped; parsing never fails.
func ParseBaggage(header string) Baggage {
	var b Baggage
	for _, raw := range strings.Split(header, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		m, err := baggage.Parse(raw)
		if err != nil || m.Len() != 1 {
			log.Debug("dropping malformed baggage member %q: %v", raw, err)
			continue
		}
		for _, mem := range m.Members() {
			props := mem.Properties()
			meta := make([]string, len(props))
			for i, p := range props {
				meta[i] = p.String()
			}
			b = b.Set(mem.Key(), mem.Value(), strings.Join(meta, ";"))
		}
	}
	return b
}

// String encodes b as a baggage header value. Members that cannot be encoded
// or that would exceed the header limits are left out. An empty Baggage
// encodes to the empty string.
func (b Baggage) String() string {
	var (
		sb strings.Builder
		n  int
	)
	for _, m := range b.members {
		mem, err := baggage.NewMemberRaw(m.key, m.value)
		if err != nil {
			log.Debug("cannot encode baggage member %q: %v", m.key, err)
			continue
		}
		enc := mem.String()
		if m.metadata != "" {
			enc += ";" + m.metadata
		}
		size := len(enc)
		if sb.Len() > 0 {
			size++
		}
		if n == maxBaggageMembers || sb.Len()+size > maxBaggageBytes {
			log.Warn("baggage header limits reached, dropping member %q", m.key)
			break
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(enc)
		n++
	}
	return sb.String()
}

// Len returns the number of members.
func (b Baggage) Len() int { return len(b.members) }

func (b Baggage) index(key string) int {
	return slices.IndexFunc(b.members, func(m baggageMember) bool { return m.key == key })
}

// Get returns the value associated with key.
func (b Baggage) Get(key string) (string, bool) {
	if i := b.index(key); i >= 0 {
		return b.members[i].value, true
	}
	return "", false
}

// Metadata returns the property string attached to key, if any.
func (b Baggage) Metadata(key string) string {
	if i := b.index(key); i >= 0 {
		return b.members[i].metadata
	}
	return ""
}

// Set returns a copy of b where key holds value and the optional metadata.
// An existing key keeps its position, a new one is appended.
func (b Baggage) Set(key, value string, metadata ...string) Baggage {
	m := baggageMember{key: key, value: value, metadata: strings.Join(metadata, ";")}
	if i := b.index(key); i >= 0 {
		members := slices.Clone(b.members)
		members[i] = m
		return Baggage{members: members}
	}
	// the full slice expression forces a copy on append
	return Baggage{members: append(b.members[:len(b.members):len(b.members)], m)}
}

// Remove returns a copy of b without key.
func (b Baggage) Remove(key string) Baggage {
	i := b.index(key)
	if i < 0 {
		return b
	}
	return Baggage{members: slices.Delete(slices.Clone(b.members), i, i+1)}
}

// Keys returns the member keys in insertion order.
func (b Baggage) Keys() []string {
	keys := make([]string, len(b.members))
	for i, m := range b.members {
		keys[i] = m.key
	}
	return keys
}

// ForEach calls fn for each member in order until it returns false.
func (b Baggage) ForEach(fn func(key, value, metadata string) bool) {
	for _, m := range b.members {
		if !fn(m.key, m.value, m.metadata) {
			return
		}
	}
}

// baggageKey is an unexported type used as a context key. It is used to store baggage in the context.
// We use a struct{} so it won't conflict with keys from other packages.
type baggageKey struct{}

// ContextWithBaggage returns a new context carrying b.
func ContextWithBaggage(ctx context.Context, b Baggage) context.Context {
	return context.WithValue(ctx, baggageKey{}, b)
}

// BaggageFromContext returns the baggage carried by ctx. It is empty when
// none was set.
func BaggageFromContext(ctx context.Context) Baggage {
	b, _ := ctx.Value(baggageKey{}).(Baggage)
	return b
}

// SetBaggage sets or updates a single baggage key/value pair in the context.
func SetBaggage(ctx context.Context, key, value string) context.Context {
	return ContextWithBaggage(ctx, BaggageFromContext(ctx).Set(key, value))
}

// RemoveBaggage removes the specified key from the baggage (if present).
func RemoveBaggage(ctx context.Context, key string) context.Context {
	b := BaggageFromContext(ctx)
	if b.index(key) < 0 {
		// nothing to remove
		return ctx
	}
	return ContextWithBaggage(ctx, b.Remove(key))
}
