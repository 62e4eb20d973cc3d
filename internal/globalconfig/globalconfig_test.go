// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package globalconfig

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRuntimeID(t *testing.T) {
	id := RuntimeID()
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, id, RuntimeID())
}

func TestServiceName(t *testing.T) {
	defer SetServiceName(ServiceName())
	SetServiceName("shop-api")
	assert.Equal(t, "shop-api", ServiceName())
}
