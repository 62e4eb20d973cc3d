// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/DataDog/dd-trace-otel-bridge/internal"
	"github.com/DataDog/dd-trace-otel-bridge/internal/circuitbreaker"
	"github.com/DataDog/dd-trace-otel-bridge/internal/telemetry"
	"github.com/DataDog/dd-trace-otel-bridge/internal/version"
)

var defaultDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           defaultDialer.DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: timeout,
	}
}

const (
	defaultHostname    = "localhost"
	defaultPort        = "8126"
	defaultAddress     = defaultHostname + ":" + defaultPort
	defaultURL         = "http://" + defaultAddress
	defaultHTTPTimeout = 10 * time.Second        // defines the current timeout before giving up with the send process
	traceCountHeader   = "X-Datadog-Trace-Count" // header containing the number of traces in the payload
	telemetryPath      = "/telemetry/proxy/api/v2/apmtelemetry"
)

// errBreakerOpen is returned when a delivery is skipped because the circuit
// breaker is open.
var errBreakerOpen = errors.New("circuit breaker open: delivery skipped")

// transport is an interface for communicating data to the agent.
type transport interface {
	telemetry.Transport

	// sendTraces sends the payload p to the agent using the transport set up.
	sendTraces(p *payload) error
	// endpoint returns the URL to which the transport will send traces.
	endpoint() string
}

// httpTransport delivers traces and telemetry to the agent over HTTP. Both
// kinds of deliveries go through the same circuit breaker: while it is open
// no request is made.
type httpTransport struct {
	traceURL     string            // the delivery URL for traces
	telemetryURL string            // the delivery URL for telemetry
	client       *http.Client      // the HTTP client used in the POST
	headers      map[string]string // the Transport headers
	breaker      *circuitbreaker.Breaker
	statsd       internal.StatsdClient
}

var _ transport = (*httpTransport)(nil)

// newHTTPTransport returns a new transport that sends traces to a trace agent
// at the given url, using a given *http.Client.
func newHTTPTransport(url string, client *http.Client, breaker *circuitbreaker.Breaker, statsd internal.StatsdClient) *httpTransport {
	defaultHeaders := map[string]string{
		"Datadog-Meta-Lang":             "go",
		"Datadog-Meta-Lang-Version":     strings.TrimPrefix(runtime.Version(), "go"),
		"Datadog-Meta-Lang-Interpreter": runtime.Compiler + "-" + runtime.GOARCH + "-" + runtime.GOOS,
		"Datadog-Meta-Tracer-Version":   version.Tag,
	}
	url = strings.TrimSuffix(url, "/")
	return &httpTransport{
		traceURL:     url + "/v0.4/traces",
		telemetryURL: url + telemetryPath,
		client:       client,
		headers:      defaultHeaders,
		breaker:      breaker,
		statsd:       statsd,
	}
}

func (t *httpTransport) sendTraces(p *payload) error {
	headers := map[string]string{
		"Content-Type":   "application/msgpack",
		traceCountHeader: strconv.Itoa(p.itemCount()),
	}
	return t.post(t.traceURL, p.buffer(), headers)
}

// SendTelemetry implements telemetry.Transport.
func (t *httpTransport) SendTelemetry(requestType telemetry.RequestType, body []byte) error {
	headers := map[string]string{
		"Content-Type":               "application/json",
		"DD-Telemetry-API-Version":   "v2",
		"DD-Telemetry-Request-Type":  string(requestType),
		"DD-Client-Library-Language": "go",
		"DD-Client-Library-Version":  version.Tag,
	}
	return t.post(t.telemetryURL, bytes.NewReader(body), headers)
}

// post sends body to url. It consults the breaker first and records the
// outcome: network errors and status codes >= 400 count as failures.
func (t *httpTransport) post(url string, body io.Reader, extra map[string]string) error {
	if !t.breaker.Allow() {
		t.statsd.Incr("datadog.tracer.breaker_open", nil, 1)
		return errBreakerOpen
	}
	req, err := http.NewRequest("POST", url, body)
	if err != nil {
		return fmt.Errorf("cannot create http request: %w", err)
	}
	for header, value := range t.headers {
		req.Header.Set(header, value)
	}
	for header, value := range extra {
		req.Header.Set(header, value)
	}
	response, err := t.client.Do(req)
	if err != nil {
		t.breaker.Failure()
		t.statsd.Incr("datadog.tracer.api.errors", []string{"reason:network_failure"}, 1)
		return err
	}
	defer response.Body.Close()
	if code := response.StatusCode; code >= 400 {
		t.breaker.Failure()
		t.statsd.Incr("datadog.tracer.api.errors", []string{fmt.Sprintf("reason:server_response_%d", code)}, 1)
		// error, check the body for context information and
		// return a nice error.
		msg := make([]byte, 1000)
		n, _ := response.Body.Read(msg)
		txt := http.StatusText(code)
		if n > 0 {
			return fmt.Errorf("%s (Status: %s)", msg[:n], txt)
		}
		return fmt.Errorf("%s", txt)
	}
	io.Copy(io.Discard, response.Body)
	t.breaker.Success()
	return nil
}

func (t *httpTransport) endpoint() string {
	return t.traceURL
}
