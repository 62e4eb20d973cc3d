// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadog.com/).
// Copyright 2018 Datadog, Inc.

package tracer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// maxLength indicates the maximum number of items supported in a msgpack-encoded array.
// See: https://github.com/msgpack/msgpack/blob/master/spec.md#array-format-family
const maxLength = 1<<32 - 1

// errOverflow is returned when maxLength is exceeded.
var errOverflow = fmt.Errorf("maximum msgpack array length (%d) exceeded", maxLength)

// payload is a msgpack encoded list of traces, each trace being a list of
// spans. Traces are encoded as they are added; the array header holding the
// trace count is only written when the payload is read.
type payload struct {
	count uint64       // number of traces in the payload
	spans int          // number of spans in the payload
	buf   bytes.Buffer // msgpack encoded traces (without header)
	w     *msgp.Writer
}

func newPayload() *payload {
	p := &payload{}
	p.w = msgp.NewWriter(&p.buf)
	return p
}

// push encodes the given trace into the payload.
func (p *payload) push(trace spanList) error {
	if p.count >= maxLength {
		return errOverflow
	}
	if err := trace.EncodeMsg(p.w); err != nil {
		return err
	}
	if err := p.w.Flush(); err != nil {
		return err
	}
	p.count++
	p.spans += len(trace)
	return nil
}

// itemCount returns the number of traces in the payload.
func (p *payload) itemCount() int {
	return int(p.count)
}

// size returns the number of bytes that would be returned by a call to buffer().
func (p *payload) size() int {
	return p.buf.Len() + arrayHeaderSize(p.count)
}

// reset resets the payload.
func (p *payload) reset() {
	p.count = 0
	p.spans = 0
	p.buf.Reset()
	p.w.Reset(&p.buf)
}

// buffer returns the msgpack encoded set of bytes that represents the entire list.
func (p *payload) buffer() *bytes.Buffer {
	var header [8]byte
	off := arrayHeader(&header, p.count)
	var buf bytes.Buffer
	buf.Grow(p.size())
	buf.Write(header[off:])
	buf.Write(p.buf.Bytes())
	return &buf
}

// arrayHeader writes the msgpack array header for a slice of length n into out.
// It returns the offset at which to begin reading from out. For more information,
// see the msgpack spec:
// https://github.com/msgpack/msgpack/blob/master/spec.md#array-format-family
func arrayHeader(out *[8]byte, n uint64) (off int) {
	const (
		msgpackArrayFix byte = 144  // up to 15 items
		msgpackArray16       = 0xdc // up to 2^16-1 items, followed by size in 2 bytes
		msgpackArray32       = 0xdd // up to 2^32-1 items, followed by size in 4 bytes
	)
	off = 8 - arrayHeaderSize(n)
	switch {
	case n <= 15:
		out[off] = msgpackArrayFix + byte(n)
	case n <= 1<<16-1:
		binary.BigEndian.PutUint64(out[:], n) // writes 2 bytes
		out[off] = msgpackArray16
	default:
		binary.BigEndian.PutUint64(out[:], n) // writes 4 bytes
		out[off] = msgpackArray32
	}
	return off
}

// arrayHeaderSize returns the size in bytes of a header for a msgpack array of length n.
func arrayHeaderSize(n uint64) int {
	switch {
	case n <= 15:
		return 1
	case n <= 1<<16-1:
		return 3
	default:
		return 5
	}
}
