// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package stableconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/dd-trace-otel-bridge/internal/telemetry"
)

func withFile(t *testing.T, contents string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "application_monitoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	t.Setenv("DD_TRACE_CONFIG_FILE", path)
	Reload()
	t.Cleanup(func() {
		os.Unsetenv("DD_TRACE_CONFIG_FILE")
		Reload()
	})
}

func TestPrecedence(t *testing.T) {
	tests := []struct {
		name           string
		yaml           string
		env            string
		expectedValue  string
		expectedOrigin telemetry.Origin
	}{
		{
			name:           "default value",
			expectedValue:  "def",
			expectedOrigin: telemetry.OriginDefault,
		},
		{
			name:           "file only",
			yaml:           "apm_configuration_default:\n    DD_SERVICE: from-file",
			expectedValue:  "from-file",
			expectedOrigin: telemetry.OriginLocalStableConfig,
		},
		{
			name:           "env overrides file",
			yaml:           "apm_configuration_default:\n    DD_SERVICE: from-file",
			env:            "from-env",
			expectedValue:  "from-env",
			expectedOrigin: telemetry.OriginEnvVar,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withFile(t, tt.yaml)
			if tt.env != "" {
				t.Setenv("DD_SERVICE", tt.env)
			}
			v, origin := String("DD_SERVICE", "def")
			assert.Equal(t, tt.expectedValue, v)
			assert.Equal(t, tt.expectedOrigin, origin)
		})
	}
}

func TestTypedValues(t *testing.T) {
	withFile(t, `config_id: 67
apm_configuration_default:
    DD_TRACE_DEBUG: true
    DD_TRACE_RATE_LIMIT: 50
    DD_TRACE_SAMPLE_RATE: 0.5
    DD_TRACE_FLUSH_INTERVAL: 500ms
    DD_TRACE_BREAKER_THRESHOLD: lots
`)
	assert.Equal(t, 67, ConfigID())

	b, origin, err := Bool("DD_TRACE_DEBUG", false)
	assert.NoError(t, err)
	assert.True(t, b)
	assert.Equal(t, telemetry.OriginLocalStableConfig, origin)

	i, _, err := Int("DD_TRACE_RATE_LIMIT", 100)
	assert.NoError(t, err)
	assert.Equal(t, 50, i)

	f, _, err := Float("DD_TRACE_SAMPLE_RATE", 1)
	assert.NoError(t, err)
	assert.Equal(t, 0.5, f)

	d, _, err := Duration("DD_TRACE_FLUSH_INTERVAL", time.Second)
	assert.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)

	i, origin, err = Int("DD_TRACE_BREAKER_THRESHOLD", 5)
	assert.Error(t, err)
	assert.Equal(t, 5, i)
	assert.Equal(t, telemetry.OriginDefault, origin)
}

func TestInvalidEnvFallsBackToFile(t *testing.T) {
	withFile(t, "apm_configuration_default:\n    DD_TRACE_DEBUG: true")
	t.Setenv("DD_TRACE_DEBUG", "maybe")
	v, origin, err := Bool("DD_TRACE_DEBUG", false)
	assert.NoError(t, err)
	assert.True(t, v)
	assert.Equal(t, telemetry.OriginLocalStableConfig, origin)
}

func TestMalformedFile(t *testing.T) {
	withFile(t, "apm_configuration_default: [unclosed")
	assert.Equal(t, -1, ConfigID())
	v, origin := String("DD_ENV", "none")
	assert.Equal(t, "none", v)
	assert.Equal(t, telemetry.OriginDefault, origin)
}
