// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"github.com/tinylib/msgp/msgp"
)

// spanFields is the number of entries in the encoded span map.
const spanFields = 12

// spanList implements msgp.Encodable on top of a slice of spans.
type spanList []*Span

var (
	_ msgp.Encodable = (*Span)(nil)
	_ msgp.Encodable = (spanList)(nil)
	_ msgp.Sizer     = (*Span)(nil)
)

// EncodeMsg implements msgp.Encodable. The span is read under its lock.
func (z *Span) EncodeMsg(en *msgp.Writer) (err error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	if err = en.WriteMapHeader(spanFields); err != nil {
		return
	}
	for _, f := range [...]struct {
		key string
		val string
	}{
		{"service", z.service},
		{"name", z.name},
		{"resource", z.resource},
		{"type", z.spanType},
	} {
		if err = en.WriteString(f.key); err != nil {
			return
		}
		if err = en.WriteString(f.val); err != nil {
			return
		}
	}
	for _, f := range [...]struct {
		key string
		val uint64
	}{
		{"trace_id", z.traceID},
		{"span_id", z.spanID},
		{"parent_id", z.parentID},
	} {
		if err = en.WriteString(f.key); err != nil {
			return
		}
		if err = en.WriteUint64(f.val); err != nil {
			return
		}
	}
	if err = en.WriteString("start"); err != nil {
		return
	}
	if err = en.WriteInt64(z.start); err != nil {
		return
	}
	if err = en.WriteString("duration"); err != nil {
		return
	}
	if err = en.WriteInt64(z.duration); err != nil {
		return
	}
	if err = en.WriteString("error"); err != nil {
		return
	}
	if err = en.WriteInt32(z.error); err != nil {
		return
	}
	if err = en.WriteString("meta"); err != nil {
		return
	}
	if err = en.WriteMapHeader(uint32(len(z.meta))); err != nil {
		return
	}
	for k, v := range z.meta {
		if err = en.WriteString(k); err != nil {
			return
		}
		if err = en.WriteString(v); err != nil {
			return
		}
	}
	if err = en.WriteString("metrics"); err != nil {
		return
	}
	if err = en.WriteMapHeader(uint32(len(z.metrics))); err != nil {
		return
	}
	for k, v := range z.metrics {
		if err = en.WriteString(k); err != nil {
			return
		}
		if err = en.WriteFloat64(v); err != nil {
			return
		}
	}
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *Span) Msgsize() (s int) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	s = msgp.MapHeaderSize +
		8 + msgp.StringPrefixSize + len(z.service) +
		5 + msgp.StringPrefixSize + len(z.name) +
		9 + msgp.StringPrefixSize + len(z.resource) +
		5 + msgp.StringPrefixSize + len(z.spanType) +
		9 + msgp.Uint64Size + 8 + msgp.Uint64Size + 10 + msgp.Uint64Size +
		6 + msgp.Int64Size + 9 + msgp.Int64Size + 6 + msgp.Int32Size +
		5 + msgp.MapHeaderSize + 8 + msgp.MapHeaderSize
	for k, v := range z.meta {
		s += msgp.StringPrefixSize + len(k) + msgp.StringPrefixSize + len(v)
	}
	for k := range z.metrics {
		s += msgp.StringPrefixSize + len(k) + msgp.Float64Size
	}
	return
}

// EncodeMsg implements msgp.Encodable
func (z spanList) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteArrayHeader(uint32(len(z))); err != nil {
		return
	}
	for _, s := range z {
		if s == nil {
			if err = en.WriteNil(); err != nil {
				return
			}
			continue
		}
		if err = s.EncodeMsg(en); err != nil {
			return
		}
	}
	return
}
