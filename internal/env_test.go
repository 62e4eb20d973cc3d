// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoolEnv(t *testing.T) {
	t.Run("unset", func(t *testing.T) {
		assert.True(t, BoolEnv("DD_TEST_BOOL_UNSET", true))
	})
	t.Run("valid", func(t *testing.T) {
		t.Setenv("DD_TEST_BOOL", "false")
		assert.False(t, BoolEnv("DD_TEST_BOOL", true))
	})
	t.Run("invalid", func(t *testing.T) {
		t.Setenv("DD_TEST_BOOL", "nope")
		assert.True(t, BoolEnv("DD_TEST_BOOL", true))
	})
}

func TestIntEnv(t *testing.T) {
	t.Setenv("DD_TEST_INT", "42")
	assert.Equal(t, 42, IntEnv("DD_TEST_INT", 1))
	t.Setenv("DD_TEST_INT", "4.2")
	assert.Equal(t, 1, IntEnv("DD_TEST_INT", 1))
}
