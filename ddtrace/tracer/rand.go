// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package tracer

import (
	cryptorand "crypto/rand"
	"math"
	"math/big"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/dd-trace-otel-bridge/internal/log"
)

var (
	warnOnce sync.Once
	seedSeq  int64
	randPool = sync.Pool{
		New: func() interface{} {
			var seed int64
			n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(math.MaxInt64))
			if err == nil {
				seed = n.Int64()
			} else {
				warnOnce.Do(func() {
					log.Warn("cannot generate random seed: %v; using current time", err)
				})
				seed = time.Now().UnixNano()
			}
			// seedSeq makes sure we don't create two generators with the same seed
			// by accident.
			return rand.New(rand.NewSource(seed + atomic.AddInt64(&seedSeq, 1)))
		},
	}
)

// generateSpanID returns a random, non-zero 63-bit identifier. It's
// optimized for concurrent access.
func generateSpanID() uint64 {
	r := randPool.Get().(*rand.Rand)
	defer randPool.Put(r)
	for {
		if v := uint64(r.Int63()); v != 0 {
			return v
		}
	}
}

// generateTraceID returns a 128-bit trace id. When gen128 is set, the upper
// 64 bits hold the unix seconds of startTime followed by 32 zero bits.
func generateTraceID(startTime int64, gen128 bool) traceID {
	var id traceID
	id.SetLower(generateSpanID())
	if gen128 {
		id.SetUpper(uint64(uint32(startTime/int64(time.Second))) << 32)
	}
	return id
}
