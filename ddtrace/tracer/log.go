// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-2020 Datadog, Inc.

package tracer

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/DataDog/dd-trace-otel-bridge/internal/globalconfig"
	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
	"github.com/DataDog/dd-trace-otel-bridge/internal/version"
)

type startupInfo struct {
	Date                 string            `json:"date"`                   // ISO 8601 date and time of start
	OSName               string            `json:"os_name"`                // Windows, Darwin, Debian, etc.
	Version              string            `json:"version"`                // Tracer version
	Lang                 string            `json:"lang"`                   // "Go"
	LangVersion          string            `json:"lang_version"`           // Go version, e.g. go1.13
	Env                  string            `json:"env"`                    // Tracer env
	Service              string            `json:"service"`                // Tracer Service
	AgentURL             string            `json:"agent_url"`              // The address of the agent
	Debug                bool              `json:"debug"`                  // Whether debug mode is enabled
	Sampler              string            `json:"sampler"`                // The root sampler
	FlushInterval        string            `json:"flush_interval"`         // Interval between flushes
	BreakerThreshold     int               `json:"breaker_threshold"`      // Consecutive failures opening the breaker
	BreakerCooldown      string            `json:"breaker_cooldown"`       // How long the breaker stays open
	Tags                 map[string]string `json:"tags"`                   // Global tags
	TelemetryEnabled     bool              `json:"telemetry_enabled"`      // Whether instrumentation telemetry is enabled
	TraceID128           bool              `json:"trace_id_128bit"`        // Whether 128-bit trace ids are generated
	ApplicationVersion   string            `json:"dd_version"`             // Version of the user's application
	Architecture         string            `json:"architecture"`           // Architecture of host machine
	GlobalService        string            `json:"global_service"`         // Global service string
	RuntimeID            string            `json:"runtime_id"`             // Runtime id of the process
	HealthMetricsEnabled bool              `json:"health_metrics_enabled"` // Whether or not health metrics are enabled
}

// logStartup generates a startupInfo for a tracer and writes it to the log in
// JSON format.
func logStartup(t *tracer) {
	tags := make(map[string]string)
	for k, v := range t.config.globalTags {
		tags[k] = fmt.Sprintf("%v", v)
	}
	info := startupInfo{
		Date:                 time.Now().Format(time.RFC3339),
		OSName:               runtime.GOOS,
		Version:              version.Tag,
		Lang:                 "Go",
		LangVersion:          runtime.Version(),
		Env:                  t.config.env,
		Service:              t.config.serviceName,
		AgentURL:             t.transport.endpoint(),
		Debug:                t.config.debug,
		Sampler:              describeSampler(t.config.sampler),
		FlushInterval:        t.config.flushInterval.String(),
		BreakerThreshold:     t.config.breakerThreshold,
		BreakerCooldown:      t.config.breakerCooldown.String(),
		Tags:                 tags,
		TelemetryEnabled:     t.telemetry != nil,
		TraceID128:           t.config.traceID128,
		ApplicationVersion:   t.config.version,
		Architecture:         runtime.GOARCH,
		GlobalService:        globalconfig.ServiceName(),
		RuntimeID:            globalconfig.RuntimeID(),
		HealthMetricsEnabled: true,
	}
	bs, err := json.Marshal(info)
	if err != nil {
		log.Warn("Failed to serialize json for startup log: (%v) %#v\n", err, info)
		return
	}
	log.Info("Startup: %s\n", string(bs))
}

// describeSampler renders the sampler tree, e.g. "ParentBased{root:TraceIDRatio(0.5)}".
func describeSampler(s *Sampler) string {
	if s == nil {
		return "<nil>"
	}
	switch s.kind {
	case kindAlwaysOn:
		return "AlwaysOn"
	case kindAlwaysOff:
		return "AlwaysOff"
	case kindTraceIDRatio:
		return fmt.Sprintf("TraceIDRatio(%g)", s.rate)
	case kindRateLimited:
		return fmt.Sprintf("RateLimited(%g)", s.rate)
	}
	var b strings.Builder
	b.WriteString("ParentBased{root:")
	b.WriteString(describeSampler(s.root))
	b.WriteString(",remoteParentSampled:")
	b.WriteString(describeSampler(s.remoteSampled))
	b.WriteString(",remoteParentNotSampled:")
	b.WriteString(describeSampler(s.remoteNotSampled))
	b.WriteString("}")
	return b.String()
}

func runtimeVersion() string {
	return strings.TrimPrefix(runtime.Version(), "go")
}
