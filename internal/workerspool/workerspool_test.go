// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Limit(t *testing.T) {
	const maxParallelism = 3
	pool := New().SetMaxParallelism(maxParallelism)
	var running, maxRunning, count atomic.Int32
	for range 12 {
		pool.Go(func() error {
			current := running.Add(1)
			for {
				seen := maxRunning.Load()
				if current <= seen || maxRunning.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
			count.Add(1)
			return nil
		})
	}
	require.NoError(t, pool.Wait())
	assert.Equal(t, int32(12), count.Load())
	assert.LessOrEqual(t, maxRunning.Load(), int32(maxParallelism))
}

func TestPool_Errors(t *testing.T) {
	for _, parallelism := range []int{0, 1, 4, -1} {
		pool := New().SetMaxParallelism(parallelism)
		assert.Equal(t, parallelism, pool.MaxParallelism())
		failure := errors.New("shard failed")
		pool.Go(func() error { return nil })
		pool.Go(func() error { return failure })
		for pool.Err() == nil {
			time.Sleep(time.Millisecond)
		}
		var skipped atomic.Bool
		pool.Go(func() error {
			skipped.Store(true)
			return nil
		})
		assert.ErrorIs(t, pool.Wait(), failure, "parallelism=%d", parallelism)
		assert.False(t, skipped.Load(), "tasks started after a failure should be skipped (parallelism=%d)", parallelism)
	}
}
