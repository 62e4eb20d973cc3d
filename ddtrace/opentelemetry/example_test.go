// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2023 Datadog, Inc.

package opentelemetry_test

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/DataDog/dd-trace-otel-bridge/ddtrace/ext"
	ddotel "github.com/DataDog/dd-trace-otel-bridge/ddtrace/opentelemetry"
	ddtracer "github.com/DataDog/dd-trace-otel-bridge/ddtrace/tracer"
)

func Example() {
	provider := ddotel.NewTracerProvider(ddtracer.WithService("checkout"))
	defer provider.Shutdown()
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(ddotel.NewPropagator())

	t := otel.Tracer("checkout")

	// Datadog-specific options travel on the context and apply to the next
	// span started from it.
	ctx := ddotel.ContextWithStartOptions(context.Background(), ddtracer.SpanType(ext.SpanTypeWeb))
	ctx, client := t.Start(ctx, "GET /cart", oteltrace.WithSpanKind(oteltrace.SpanKindClient))
	client.SetAttributes(attribute.String("http.request.method", "GET"))

	// Outgoing requests carry traceparent, tracestate and baggage headers.
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://cart.internal/cart", nil)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	// The receiving side continues the trace from those headers.
	remote := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(req.Header))
	_, server := t.Start(remote, "cart.lookup", oteltrace.WithSpanKind(oteltrace.SpanKindServer))
	server.End()

	// Finish options are applied when End is called.
	ddotel.EndOptions(client, ddtracer.WithError(errors.New("cart unavailable")))
	client.End()
}
