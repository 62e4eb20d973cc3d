// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagFormat(t *testing.T) {
	assert.Regexp(t, `^v\d+\.\d+\.\d+(-[0-9A-Za-z.]+)?$`, Tag)
}
