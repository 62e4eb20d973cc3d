// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// TextMapWriter allows setting key/value pairs of strings on the underlying
// data structure. Carriers implementing TextMapWriter are compatible to be
// used with the tracer's propagator.
type TextMapWriter interface {
	// Set sets the given key/value pair.
	Set(key, val string)
}

// TextMapReader allows iterating over sets of key/value pairs. Carriers implementing
// TextMapReader are compatible to be used with the tracer's propagator.
type TextMapReader interface {
	// ForeachKey iterates over all keys that exist in the underlying
	// carrier. It takes a callback function which will be called
	// using all key/value pairs as arguments. ForeachKey will return
	// the first error returned by the handler.
	ForeachKey(handler func(key, val string) error) error
}

var (
	// ErrInvalidCarrier is returned when the carrier provided to the propagator
	// does not implement the correct interfaces.
	ErrInvalidCarrier = errors.New("invalid carrier")

	// ErrInvalidSpanContext is returned when the span context found in the
	// carrier is not of the expected type.
	ErrInvalidSpanContext = errors.New("invalid span context")

	// ErrSpanContextCorrupted is returned when there was a problem parsing
	// the information found in the carrier.
	ErrSpanContextCorrupted = errors.New("span context corrupted")

	// ErrSpanContextNotFound represents missing information in the given carrier.
	ErrSpanContextNotFound = errors.New("span context not found")
)

// HTTPHeadersCarrier wraps an http.Header as a TextMapWriter and TextMapReader, allowing
// it to be used using the provided Propagator implementation.
type HTTPHeadersCarrier http.Header

var _ TextMapWriter = (*HTTPHeadersCarrier)(nil)
var _ TextMapReader = (*HTTPHeadersCarrier)(nil)

// Set implements TextMapWriter.
func (c HTTPHeadersCarrier) Set(key, val string) {
	http.Header(c).Set(key, val)
}

// ForeachKey implements TextMapReader.
func (c HTTPHeadersCarrier) ForeachKey(handler func(key, val string) error) error {
	for k, vals := range c {
		for _, v := range vals {
			if err := handler(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// TextMapCarrier allows the use of a regular map[string]string as both TextMapWriter
// and TextMapReader, making it compatible with the provided Propagator.
type TextMapCarrier map[string]string

var _ TextMapWriter = (*TextMapCarrier)(nil)
var _ TextMapReader = (*TextMapCarrier)(nil)

// Set implements TextMapWriter.
func (c TextMapCarrier) Set(key, val string) {
	c[key] = val
}

// ForeachKey conforms to the TextMapReader interface.
func (c TextMapCarrier) ForeachKey(handler func(key, val string) error) error {
	for k, v := range c {
		if err := handler(k, v); err != nil {
			return err
		}
	}
	return nil
}

const (
	traceparentHeader = "traceparent"
	tracestateHeader  = "tracestate"
	baggageHeader     = "baggage"
)

// Propagator implementations should be able to inject and extract
// SpanContexts into an implementation specific carrier.
type Propagator interface {
	// Inject takes the SpanContext and injects it into the carrier.
	Inject(context *SpanContext, carrier interface{}) error

	// Extract returns the SpanContext from the given carrier.
	Extract(carrier interface{}) (*SpanContext, error)
}

// propagatorW3c implements the W3C trace context format: the traceparent
// and tracestate headers.
type propagatorW3c struct{}

var _ Propagator = (*propagatorW3c)(nil)

// NewPropagator returns the W3C trace context propagator. It works without
// a started tracer.
func NewPropagator() Propagator {
	return &propagatorW3c{}
}

func (p *propagatorW3c) Inject(ctx *SpanContext, carrier interface{}) error {
	switch c := carrier.(type) {
	case TextMapWriter:
		return p.injectTextMap(ctx, c)
	default:
		return ErrInvalidCarrier
	}
}

// injectTextMap propagates span context attributes into the writer,
// in the format of the traceparentHeader and tracestateHeader.
// traceparentHeader encodes W3C Trace Propagation version, 128-bit traceID,
// spanID, and a flags field, which supports 8 unique flags.
// The current specification only supports a single flag called sampled,
// which is equal to 00000001 when no other flag is present.
// tracestateHeader is a comma-separated list of list-members with a <key>=<value> format,
// where each list-member is managed by a vendor or instrumentation library.
func (*propagatorW3c) injectTextMap(ctx *SpanContext, writer TextMapWriter) error {
	if !ctx.IsValid() {
		return ErrInvalidSpanContext
	}
	writer.Set(traceparentHeader, fmt.Sprintf("00-%s-%016x-%02x", ctx.TraceID(), ctx.spanID, ctx.TraceFlags()))
	writer.Set(tracestateHeader, ctx.TraceState())
	return nil
}

func (p *propagatorW3c) Extract(carrier interface{}) (*SpanContext, error) {
	switch c := carrier.(type) {
	case TextMapReader:
		return p.extractTextMap(c)
	default:
		return nil, ErrInvalidCarrier
	}
}

func (*propagatorW3c) extractTextMap(reader TextMapReader) (*SpanContext, error) {
	var parentHeader string
	var stateHeaders []string
	// to avoid parsing tracestate header(s) if traceparent is invalid
	if err := reader.ForeachKey(func(k, v string) error {
		key := strings.ToLower(k)
		switch key {
		case traceparentHeader:
			if parentHeader != "" {
				return ErrSpanContextCorrupted
			}
			parentHeader = v
		case tracestateHeader:
			stateHeaders = append(stateHeaders, v)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	traceIDHex, spanIDHex, flags, err := parseTraceparent(parentHeader)
	if err != nil {
		return nil, err
	}
	ctx, err := NewRemoteSpanContext(traceIDHex, spanIDHex, flags, strings.Join(stateHeaders, ","))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpanContextCorrupted, err)
	}
	return ctx, nil
}

// parseTraceparent attempts to parse traceparentHeader which describes the position
// of the incoming request in its trace graph in a portable, fixed-length format.
// The format of the traceparentHeader is `-` separated string with in the
// following format: `version-traceId-spanID-flags`,
// where:
// - version - represents the version of the W3C Tracecontext Propagation format in hex format.
// - traceId - represents the propagated traceID in the format of 32 hex-encoded digits.
// - spanID - represents the propagated spanID (parentID) in the format of 16 hex-encoded digits.
// - flags - represents the propagated flags in the format of 2 hex-encoded digits, and supports 8 unique flags.
// Example value of HTTP `traceparent` header: `00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01`,
func parseTraceparent(header string) (traceID, spanID string, flags byte, err error) {
	header = strings.ToLower(strings.Trim(header, "\t -"))
	if len(header) == 0 {
		return "", "", 0, ErrSpanContextNotFound
	}
	// future versions may append fields, version 00 is exactly 55 characters
	if len(header) < 55 {
		return "", "", 0, ErrSpanContextCorrupted
	}
	parts := strings.Split(header, "-")
	if len(parts) < 4 {
		return "", "", 0, ErrSpanContextCorrupted
	}
	version := parts[0]
	if len(version) != 2 || !isHex(version) || version == "ff" {
		return "", "", 0, ErrSpanContextCorrupted
	}
	if version == "00" && len(parts) != 4 {
		return "", "", 0, ErrSpanContextCorrupted
	}
	traceID, spanID = parts[1], parts[2]
	if len(traceID) != 32 || !isHex(traceID) || len(spanID) != 16 || !isHex(spanID) {
		return "", "", 0, ErrSpanContextCorrupted
	}
	if strings.Trim(traceID, "0") == "" || strings.Trim(spanID, "0") == "" {
		return "", "", 0, ErrSpanContextNotFound
	}
	if len(parts[3]) != 2 {
		return "", "", 0, ErrSpanContextCorrupted
	}
	f, err := strconv.ParseUint(parts[3], 16, 8)
	if err != nil {
		return "", "", 0, ErrSpanContextCorrupted
	}
	return traceID, spanID, byte(f), nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// InjectBaggage writes b to the carrier as a baggage header. Nothing is
// written when the baggage is empty.
func InjectBaggage(b Baggage, carrier interface{}) error {
	w, ok := carrier.(TextMapWriter)
	if !ok {
		return ErrInvalidCarrier
	}
	if v := b.String(); v != "" {
		w.Set(baggageHeader, v)
	}
	return nil
}

// ExtractBaggage reads the baggage header(s) from the carrier. Multiple
// headers are combined in the order they are read.
func ExtractBaggage(carrier interface{}) (Baggage, error) {
	r, ok := carrier.(TextMapReader)
	if !ok {
		return Baggage{}, ErrInvalidCarrier
	}
	var headers []string
	err := r.ForeachKey(func(k, v string) error {
		if strings.EqualFold(k, baggageHeader) {
			headers = append(headers, v)
		}
		return nil
	})
	if err != nil {
		return Baggage{}, err
	}
	return ParseBaggage(strings.Join(headers, ",")), nil
}
