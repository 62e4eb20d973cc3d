// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2022 Datadog, Inc.

package telemetry

// RequestType determines how the Payload of a request should be handled
type RequestType string

const (
	// RequestTypeAppStarted is the first message sent by a tracer. It carries
	// the effective configuration.
	RequestTypeAppStarted RequestType = "app-started"
	// RequestTypeDependenciesLoaded is sent if DD_TELEMETRY_DEPENDENCY_COLLECTION_ENABLED
	// is enabled. Sent when Start is called for the telemetry client.
	RequestTypeDependenciesLoaded RequestType = "app-dependencies-loaded"
	// RequestTypeAppIntegrationsChange is sent whenever an integration is
	// enabled or disabled.
	RequestTypeAppIntegrationsChange RequestType = "app-integrations-change"
	// RequestTypeGenerateMetrics is sent when count or gauge metrics were
	// recorded since the previous flush.
	RequestTypeGenerateMetrics RequestType = "generate-metrics"
	// RequestTypeAppHeartbeat is sent periodically by the client to indicate
	// that the app is still running.
	RequestTypeAppHeartbeat RequestType = "app-heartbeat"
	// RequestTypeAppClosing is sent when Stop is called.
	RequestTypeAppClosing RequestType = "app-closing"
	// RequestTypeMessageBatch wraps several of the above in a single request.
	RequestTypeMessageBatch RequestType = "message-batch"
)

// Namespace describes an APM product to distinguish telemetry coming from
// different products used by the same application
type Namespace string

const (
	// NamespaceGeneral is for general use
	NamespaceGeneral Namespace = "general"
	// NamespaceTracers is for distributed tracing
	NamespaceTracers Namespace = "tracers"
)

// Origin describes the source of a configuration value.
type Origin string

const (
	OriginDefault           Origin = "default"
	OriginCode              Origin = "code"
	OriginEnvVar            Origin = "env_var"
	OriginLocalStableConfig Origin = "local_stable_config"
)

// Body is the common high-level structure encapsulating a telemetry request body
type Body struct {
	APIVersion  string      `json:"api_version"`
	RequestType RequestType `json:"request_type"`
	TracerTime  int64       `json:"tracer_time"`
	RuntimeID   string      `json:"runtime_id"`
	SeqID       int64       `json:"seq_id"`
	Debug       bool        `json:"debug"`
	Payload     interface{} `json:"payload"`
	Application Application `json:"application"`
	Host        Host        `json:"host"`
}

// Application is identifying information about the app itself
type Application struct {
	ServiceName     string `json:"service_name"`
	Env             string `json:"env"`
	ServiceVersion  string `json:"service_version"`
	TracerVersion   string `json:"tracer_version"`
	LanguageName    string `json:"language_name"`
	LanguageVersion string `json:"language_version"`
}

// Host is identifying information about the host on which the app
// is running
type Host struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
}

// AppStarted corresponds to the "app-started" request type
type AppStarted struct {
	Configuration []Configuration `json:"configuration,omitempty"`
}

// Configuration is a library-specific configuration value
// that should be initialized through StringConfig, IntConfig, FloatConfig, or BoolConfig
type Configuration struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
	// Origin is the source of the config: default, code, env_var or
	// local_stable_config.
	Origin Origin `json:"origin"`
	SeqID  int64  `json:"seq_id"`
}

// Dependencies stores a list of dependencies
type Dependencies struct {
	Dependencies []Dependency `json:"dependencies"`
}

// Dependency is a Go module on which the application depends. This information
// can be accesed at run-time through the runtime/debug.ReadBuildInfo API.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// IntegrationsChange corresponds to the app-integrations-change requesty type
type IntegrationsChange struct {
	Integrations []Integration `json:"integrations"`
}

// Integration is an integration that is configured to be traced automatically.
type Integration struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Version string `json:"version,omitempty"`
}

// Metrics corresponds to the "generate-metrics" request type
type Metrics struct {
	Namespace Namespace `json:"namespace"`
	Series    []Series  `json:"series"`
}

// Series is a sequence of observations for a single named metric
type Series struct {
	Metric string       `json:"metric"`
	Points [][2]float64 `json:"points"`
	Type   string       `json:"type"`
	Tags   []string     `json:"tags"`
	// Common distinguishes metrics which are cross-language vs.
	// language-specific.
	Common bool `json:"common"`
}

// Message is one event of a message-batch payload.
type Message struct {
	RequestType RequestType `json:"request_type"`
	Payload     interface{} `json:"payload,omitempty"`
}

// StringConfig returns a Configuration struct with a string value
func StringConfig(key string, val string, origin Origin) Configuration {
	return Configuration{Name: key, Value: val, Origin: origin}
}

// IntConfig returns a Configuration struct with a int value
func IntConfig(key string, val int, origin Origin) Configuration {
	return Configuration{Name: key, Value: val, Origin: origin}
}

// FloatConfig returns a Configuration struct with a float value
func FloatConfig(key string, val float64, origin Origin) Configuration {
	return Configuration{Name: key, Value: val, Origin: origin}
}

// BoolConfig returns a Configuration struct with a bool value
func BoolConfig(key string, val bool, origin Origin) Configuration {
	return Configuration{Name: key, Value: val, Origin: origin}
}
