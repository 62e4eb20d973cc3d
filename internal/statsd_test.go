// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsdClient(t *testing.T) {
	c, err := NewStatsdClient("127.0.0.1:8125", []string{"env:test"})
	require.NoError(t, err)
	defer c.Close()
	assert.NoError(t, c.Incr("datadog.tracer.test", nil, 1))
	assert.NoError(t, c.Flush())
}
