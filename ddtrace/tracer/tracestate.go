// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
)

const (
	// ddKey is the key of the Datadog list-member of the tracestate header.
	ddKey = "dd"

	// maxTraceStateMembers is the maximum number of list-members allowed by
	// the W3C Trace Context specification.
	maxTraceStateMembers = 32

	// maxDDMemberLength caps the size of the dd list-member, key included.
	maxDDMemberLength = 256

	// maxMemberValueLength is the W3C limit for a list-member value.
	maxMemberValueLength = 256
)

var (
	// keyRgx is used to sanitize the keys of the datadog propagating tags.
	// Disallowed characters are comma (reserved as a list-member separator),
	// equals (reserved for list-member key-value separator),
	// space and characters outside the ASCII range 0x20 to 0x7E.
	// Disallowed characters must be replaced with the underscore.
	keyRgx = regexp.MustCompile(",|=|[^\\x20-\\x7E]+")

	// valueRgx is used to sanitize the values of the datadog propagating tags.
	// Disallowed characters are comma (reserved as a list-member separator),
	// semi-colon (reserved for separator between entries in the dd list-member),
	// tilde (reserved, will represent 0x3D (equals) in the encoded tag value,
	// and characters outside the ASCII range 0x20 to 0x7E.
	// Equals character must be encoded with a tilde.
	// Other disallowed characters must be replaced with the underscore.
	valueRgx = regexp.MustCompile(",|;|~|[^\\x20-\\x7E]+")

	// originRgx is used to sanitize the value of the datadog origin tag.
	// Disallowed characters are comma (reserved as a list-member separator),
	// semi-colon (reserved for separator between entries in the dd list-member),
	// equals (reserved for list-member key-value separator),
	// and characters outside the ASCII range 0x21 to 0x7E.
	// Disallowed characters must be replaced with the underscore.
	originRgx = regexp.MustCompile(",|=|;|[^\\x21-\\x7E]+")
)

type listMember struct {
	key, value string
}

// TraceState is an ordered list of W3C tracestate list-members. The zero
// value is an empty list. TraceState values are never modified in place.
type TraceState struct {
	members []listMember
}

// ParseTraceState decodes a tracestate header. Malformed list-members are
// dropped; parsing never fails. Keys are kept as they are received and only
// the first occurrence of a duplicated key is retained.
func ParseTraceState(header string) TraceState {
	var ts TraceState
	for _, m := range strings.Split(header, ",") {
		m = strings.Trim(m, " \t")
		if m == "" {
			continue
		}
		k, v, ok := strings.Cut(m, "=")
		if !ok || !validMemberKey(k) || !validMemberValue(v) {
			log.Debug("dropping malformed tracestate list-member %q", m)
			continue
		}
		if ts.index(k) >= 0 {
			continue
		}
		ts.members = append(ts.members, listMember{key: k, value: v})
	}
	return ts
}

func validMemberKey(k string) bool {
	if k == "" || len(k) > 256 {
		return false
	}
	for i := 0; i < len(k); i++ {
		if c := k[i]; c <= 0x20 || c > 0x7E || c == '=' || c == ',' {
			return false
		}
	}
	return true
}

func validMemberValue(v string) bool {
	if v == "" || len(v) > maxMemberValueLength || v[len(v)-1] == ' ' {
		return false
	}
	for i := 0; i < len(v); i++ {
		if c := v[i]; c < 0x20 || c > 0x7E || c == '=' || c == ',' {
			return false
		}
	}
	return true
}

// Len returns the number of list-members.
func (ts TraceState) Len() int {
	return len(ts.members)
}

// Get returns the value of the list-member with the given key.
func (ts TraceState) Get(key string) (string, bool) {
	if i := ts.index(key); i >= 0 {
		return ts.members[i].value, true
	}
	return "", false
}

// Keys returns the list-member keys in order.
func (ts TraceState) Keys() []string {
	keys := make([]string, len(ts.members))
	for i, m := range ts.members {
		keys[i] = m.key
	}
	return keys
}

func (ts TraceState) index(key string) int {
	for i, m := range ts.members {
		if m.key == key {
			return i
		}
	}
	return -1
}

// withMember returns a copy of ts where key holds value. An existing member
// keeps its position; a new one is placed first.
func (ts TraceState) withMember(key, value string) TraceState {
	members := make([]listMember, 0, len(ts.members)+1)
	if i := ts.index(key); i >= 0 {
		members = append(members, ts.members...)
		members[i].value = value
		return TraceState{members: members}
	}
	members = append(members, listMember{key: key, value: value})
	members = append(members, ts.members...)
	return TraceState{members: members}
}

// merge returns a copy of ts with the members of fragment inserted right
// after the dd member, or first when there is none. Members of ts sharing a
// key with the fragment are replaced. A dd member in fragment is ignored.
func (ts TraceState) merge(fragment TraceState) TraceState {
	var add []listMember
	for _, m := range fragment.members {
		if m.key != ddKey {
			add = append(add, m)
		}
	}
	if len(add) == 0 {
		return ts
	}
	members := make([]listMember, 0, len(ts.members)+len(add))
	inserted := false
	if ts.index(ddKey) < 0 {
		members = append(members, add...)
		inserted = true
	}
	for _, m := range ts.members {
		if fragment.index(m.key) >= 0 && m.key != ddKey {
			continue
		}
		members = append(members, m)
		if m.key == ddKey && !inserted {
			members = append(members, add...)
			inserted = true
		}
	}
	return TraceState{members: members}
}

// String encodes ts as a tracestate header value. When there are more than
// 32 list-members the rightmost foreign members are removed; the dd member
// is always kept.
func (ts TraceState) String() string {
	members := ts.members
	if len(members) > maxTraceStateMembers {
		keep := make([]listMember, 0, maxTraceStateMembers)
		hasDD := ts.index(ddKey) >= 0
		budget := maxTraceStateMembers
		if hasDD {
			budget--
		}
		for _, m := range members {
			if m.key == ddKey {
				keep = append(keep, m)
				continue
			}
			if budget == 0 {
				continue
			}
			budget--
			keep = append(keep, m)
		}
		members = keep
	}
	var b strings.Builder
	for i, m := range members {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(m.key)
		b.WriteByte('=')
		b.WriteString(m.value)
	}
	return b.String()
}

// parseDD splits the value of the dd list-member into its sub-keys.
// Entries without a ':' delimiter are dropped.
func parseDD(value string) []listMember {
	var fields []listMember
	for _, f := range strings.Split(value, ";") {
		k, v, ok := strings.Cut(f, ":")
		if !ok || k == "" {
			continue
		}
		fields = append(fields, listMember{key: k, value: v})
	}
	return fields
}

// composeDD creates the value of the dd list-member. It holds the id of the
// span whose context is encoded (p), the sampling priority (s) when the
// traceparent flags cannot express it, the origin (o), the sampling decision
// maker (t.dm) and the propagated tags prefixed with t. (e.g. _dd.p.usr.id:x
// becomes t.usr.id:x), followed by unknown sub-keys received from upstream.
// Optional entries which would push the member past 256 characters are
// omitted.
func composeDD(spanID uint64, priority, origin string, propagatingTags map[string]string, extra []listMember) string {
	var b strings.Builder
	b.WriteString("p:")
	b.WriteString(spanIDHexEncoded(spanID, 16))
	if priority != "" {
		b.WriteString(";s:")
		b.WriteString(priority)
	}

	var dm string
	if v, ok := propagatingTags[keyDecisionMaker]; ok {
		dm = "t.dm:" + strings.ReplaceAll(valueRgx.ReplaceAllString(v, "_"), "=", "~")
	}
	// reserved for the mandatory t.dm entry
	reserved := 0
	if dm != "" {
		reserved = len(dm) + 1
	}
	fits := func(entry string) bool {
		return len(ddKey)+1+b.Len()+1+len(entry)+reserved <= maxDDMemberLength
	}
	if origin != "" {
		if o := "o:" + originRgx.ReplaceAllString(origin, "_"); fits(o) {
			b.WriteString(";")
			b.WriteString(o)
		}
	}
	if dm != "" {
		b.WriteString(";")
		b.WriteString(dm)
		reserved = 0
	}

	keys := make([]string, 0, len(propagatingTags))
	for k := range propagatingTags {
		if k == keyDecisionMaker || k == keyTraceID128 || !strings.HasPrefix(k, "_dd.p.") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// Tag value must have all `=` signs replaced with a tilde (`~`).
		tag := "t." + keyRgx.ReplaceAllString(k[len("_dd.p."):], "_") + ":" +
			strings.ReplaceAll(valueRgx.ReplaceAllString(propagatingTags[k], "_"), "=", "~")
		if !fits(tag) {
			log.Debug("tracestate dd member is full, dropping tag %s", k)
			continue
		}
		b.WriteString(";")
		b.WriteString(tag)
	}
	for _, f := range extra {
		entry := f.key + ":" + f.value
		if !fits(entry) {
			continue
		}
		b.WriteString(";")
		b.WriteString(entry)
	}
	return b.String()
}

// decodeTagValue reverses the `=` to `~` encoding of propagated tag values.
func decodeTagValue(v string) string {
	return strings.ReplaceAll(v, "~", "=")
}
