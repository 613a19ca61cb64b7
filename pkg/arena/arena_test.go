// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arena

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeAndName(t *testing.T) {
	scope, name := ScopeAndName("decoder/output_projection/kernel")
	assert.Equal(t, "/decoder/output_projection", scope)
	assert.Equal(t, "kernel", name)
	assert.Equal(t, "decoder/output_projection/kernel", Key(scope, name))

	scope, name = ScopeAndName("global_step")
	assert.Equal(t, "/", scope)
	assert.Equal(t, "global_step", name)
	assert.Equal(t, "global_step", Key(scope, name))
}

func TestArena(t *testing.T) {
	kernel := tensors.FromValue([][]float32{{1, 2}, {3, 4}})
	bias := tensors.FromValue([]float32{0.5, -0.5})
	a, err := New(map[string]*tensors.Tensor{
		"encoder/mu/kernel": kernel,
		"encoder/mu/bias":   bias,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"encoder/mu/bias", "encoder/mu/kernel"}, a.Keys())
	assert.True(t, a.Has("encoder/mu/kernel"))
	assert.False(t, a.Has("encoder/sigma/kernel"))
	assert.Equal(t, 6, a.NumParameters())

	k, b := a.Pair("encoder/mu/")
	require.NotNil(t, k)
	require.NotNil(t, b)
	assert.Equal(t, []int{2, 2}, k.Shape().Dimensions)
	assert.Equal(t, []int{2}, b.Shape().Dimensions)

	a.Dispose()
	assert.True(t, a.IsDisposed())
	assert.False(t, kernel.Ok())
	assert.False(t, bias.Ok())
	assert.False(t, a.Has("encoder/mu/kernel"))
	assert.Zero(t, a.NumParameters())
	a.Dispose() // Second call is a no-op.
}

func TestArenaNilTensor(t *testing.T) {
	_, err := New(map[string]*tensors.Tensor{"a/b": nil})
	require.Error(t, err)
}

func TestArenaFailureFinalizes(t *testing.T) {
	// Keys are taken in sorted order: "a/kernel" is moved into the arena before "b/kernel" fails,
	// and "c/kernel" is never reached.
	moved := tensors.FromValue([]float32{1})
	pending := tensors.FromValue([]float32{2})
	_, err := New(map[string]*tensors.Tensor{
		"a/kernel": moved,
		"b/kernel": nil,
		"c/kernel": pending,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no value")
	assert.False(t, moved.Ok())
	assert.False(t, pending.Ok())

	pending = tensors.FromValue([]float32{3})
	_, err = New(map[string]*tensors.Tensor{"/": tensors.FromValue([]float32{4}), "b/kernel": pending})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid checkpoint variable name")
	assert.False(t, pending.Ok())
}

func TestDiscoverLayers(t *testing.T) {
	keys := map[string]bool{
		"decoder/multi_rnn_cell/cell_0/lstm_cell/kernel": true,
		"decoder/multi_rnn_cell/cell_1/lstm_cell/kernel": true,
		"decoder/multi_rnn_cell/cell_3/lstm_cell/kernel": true,
	}
	has := func(key string) bool { return keys[key] }
	template := "decoder/multi_rnn_cell/cell_%d/lstm_cell/"
	assert.Equal(t, 2, DiscoverLayers(template, has))
	assert.Equal(t, 0, DiscoverLayers("encoder/cell_%d/", has))
	assert.Equal(t,
		[]string{"decoder/multi_rnn_cell/cell_0/lstm_cell/", "decoder/multi_rnn_cell/cell_1/lstm_cell/"},
		LayerPrefixes(template, 2))
}
