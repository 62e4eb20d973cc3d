// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package stableconfig provides utilities to load and manage tracer
// configuration declared in a YAML file.
package stableconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
	"github.com/DataDog/dd-trace-otel-bridge/internal/telemetry"
)

const defaultFilePath = "/etc/datadog-agent/application_monitoring.yaml"

type stableConfig struct {
	Config map[string]string `yaml:"apm_configuration_default,omitempty"`
	ID     int               `yaml:"config_id,omitempty"`
}

var (
	mu          sync.RWMutex
	localConfig = emptyStableConfig()
)

func init() {
	Reload()
}

// Reload reads the file at DD_TRACE_CONFIG_FILE, or the default location,
// and replaces the in-memory declarative configuration.
func Reload() {
	path := defaultFilePath
	if v := os.Getenv("DD_TRACE_CONFIG_FILE"); v != "" {
		path = v
	}
	cfg := parseFile(path)
	mu.Lock()
	defer mu.Unlock()
	localConfig = cfg
}

func parseFile(path string) *stableConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Reading declarative config file %s failed: %v", path, err)
		}
		return emptyStableConfig()
	}
	return fileContentsToConfig(data, path)
}

func fileContentsToConfig(data []byte, path string) *stableConfig {
	scfg := new(stableConfig)
	if err := yaml.Unmarshal(data, scfg); err != nil {
		log.Warn("Parsing declarative config file %s failed due to error: %v", path, err)
		return emptyStableConfig()
	}
	if scfg.Config == nil {
		scfg.Config = make(map[string]string)
	}
	if scfg.ID == 0 {
		scfg.ID = -1
	}
	return scfg
}

func emptyStableConfig() *stableConfig {
	return &stableConfig{
		Config: make(map[string]string),
		ID:     -1,
	}
}

func fileValue(key string) string {
	mu.RLock()
	defer mu.RUnlock()
	return localConfig.Config[key]
}

// ConfigID returns the config_id of the loaded file, or -1.
func ConfigID() int {
	mu.RLock()
	defer mu.RUnlock()
	return localConfig.ID
}

// String returns a string config value from the environment variable or the
// declarative file, in that order, along with its origin. If none are set,
// it returns def.
func String(env string, def string) (string, telemetry.Origin) {
	if v, ok := os.LookupEnv(env); ok {
		return v, telemetry.OriginEnvVar
	}
	if v := fileValue(env); v != "" {
		return v, telemetry.OriginLocalStableConfig
	}
	return def, telemetry.OriginDefault
}

// Bool is like String for boolean values. Unparsable values are skipped and
// reported through err.
func Bool(env string, def bool) (value bool, origin telemetry.Origin, err error) {
	return parse(env, def, strconv.ParseBool)
}

// Int is like Bool for integer values.
func Int(env string, def int) (int, telemetry.Origin, error) {
	return parse(env, def, strconv.Atoi)
}

// Float is like Bool for float values.
func Float(env string, def float64) (float64, telemetry.Origin, error) {
	return parse(env, def, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// Duration is like Bool for durations. Plain integers are read as seconds.
func Duration(env string, def time.Duration) (time.Duration, telemetry.Origin, error) {
	return parse(env, def, func(s string) (time.Duration, error) {
		if sec, err := strconv.Atoi(s); err == nil {
			return time.Duration(sec) * time.Second, nil
		}
		return time.ParseDuration(s)
	})
}

func parse[T any](env string, def T, fn func(string) (T, error)) (value T, origin telemetry.Origin, err error) {
	if v, ok := os.LookupEnv(env); ok {
		if vv, parseErr := fn(v); parseErr == nil {
			return vv, telemetry.OriginEnvVar, nil
		}
		err = fmt.Errorf("could not parse %s value %q", env, v)
	}
	if v := fileValue(env); v != "" {
		if vv, parseErr := fn(v); parseErr == nil {
			return vv, telemetry.OriginLocalStableConfig, nil
		}
		err = fmt.Errorf("invalid value for %s: %q in declarative configuration file, dropping", env, v)
	}
	return def, telemetry.OriginDefault, err
}
