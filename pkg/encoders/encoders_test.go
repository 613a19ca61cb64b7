// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package encoders

import (
	"testing"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/izambard/magenta-js/internal/vaetest"
	"github.com/izambard/magenta-js/pkg/arena"
	"github.com/izambard/magenta-js/pkg/layers"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLayer(t *testing.T, a *arena.Arena, prefix string) *layers.LayerVars {
	l, err := layers.NewLayerVars(a.Pair(prefix))
	require.NoError(t, err)
	return l
}

// reverseSteps reverses the time axis of a [batchSize, numSteps, depth] value.
func reverseSteps(x [][][]float32) [][][]float32 {
	reversed := make([][][]float32, len(x))
	for ii, seq := range x {
		for step := len(seq) - 1; step >= 0; step-- {
			reversed[ii] = append(reversed[ii], seq[step])
		}
	}
	return reversed
}

func TestBidirectionalLSTM(t *testing.T) {
	backend := vaetest.BuildTestBackend()
	const depth, hidden, zDims = 3, 4, 2
	a := vaetest.NewCheckpoint(42).
		LSTM("p/", depth, hidden).
		LSTM("q/", depth, hidden).
		LSTM("wide/", depth+1, hidden).
		Dense("mu/", 2*hidden, zDims).
		Set("zero/kernel", tensors.FromFlatDataAndDimensions(make([]float32, (depth+hidden)*4*hidden), depth+hidden, 4*hidden)).
		Set("zero/bias", tensors.FromFlatDataAndDimensions(make([]float32, 4*hidden), 4*hidden)).
		Arena(t)
	p, q, mu := mustLayer(t, a, "p/"), mustLayer(t, a, "q/"), mustLayer(t, a, "mu/")
	x := [][][]float32{
		{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 0}},
		{{0, 0, 1}, {0, 0, 1}, {1, 0, 0}, {0, 1, 1}},
	}

	t.Run("Validation", func(t *testing.T) {
		_, err := NewBidirectionalLSTM(p, nil, nil)
		assert.ErrorIs(t, err, ErrConfig)
		_, err = NewBidirectionalLSTM(p, mustLayer(t, a, "wide/"), nil)
		assert.ErrorIs(t, err, ErrConfig)
		_, err = NewBidirectionalLSTM(p, q, p)
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("Directions", func(t *testing.T) {
		pq, err := NewBidirectionalLSTM(p, q, nil)
		require.NoError(t, err)
		qp, err := NewBidirectionalLSTM(q, p, nil)
		require.NoError(t, err)
		_, ok := pq.ZDims()
		assert.False(t, ok)
		assert.Equal(t, 2*hidden, pq.OutputDims())
		assert.Equal(t, depth, pq.InputDims())

		// Swapping the parameters and reversing the sequence must swap the two halves of the output.
		exec := context.MustNewExec(backend, a.Context(), func(ctx *context.Context, x, reversed *Node) (*Node, *Node) {
			return pq.Encode(x), qp.Encode(reversed)
		})
		out, outReversed := exec.MustExec2(x, reverseSteps(x))
		require.Equal(t, []int{2, 2 * hidden}, out.Shape().Dimensions)
		got := out.Value().([][]float32)
		gotReversed := outReversed.Value().([][]float32)
		for ii := range got {
			assert.InDeltaSlice(t, got[ii][:hidden], gotReversed[ii][hidden:], 1e-5)
			assert.InDeltaSlice(t, got[ii][hidden:], gotReversed[ii][:hidden], 1e-5)
		}
	})

	t.Run("ZeroWeights", func(t *testing.T) {
		// With zero LSTM weights the states stay at zero, and the output is the projection bias.
		zero := mustLayer(t, a, "zero/")
		encoder, err := NewBidirectionalLSTM(zero, zero, mu)
		require.NoError(t, err)
		zDimsGot, ok := encoder.ZDims()
		require.True(t, ok)
		assert.Equal(t, zDims, zDimsGot)
		exec := context.MustNewExec(backend, a.Context(), func(ctx *context.Context, x *Node) *Node {
			return encoder.Encode(x)
		})
		out := exec.MustExec1(x)
		bias := tensors.MustCopyFlatData[float32](must.M1(a.Variable("mu/bias").Value()))
		for _, row := range out.Value().([][]float32) {
			assert.InDeltaSlice(t, bias, row, 1e-6)
		}
	})

	t.Run("WrongDepth", func(t *testing.T) {
		encoder, err := NewBidirectionalLSTM(p, q, mu)
		require.NoError(t, err)
		exec := context.MustNewExec(backend, a.Context(), func(ctx *context.Context, x *Node) *Node {
			return encoder.Encode(x)
		})
		err = exceptions.TryCatch[error](func() { exec.MustExec1([][][]float32{{{1, 2}}}) })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "depth 3")
	})
}

func TestHierarchical(t *testing.T) {
	backend := vaetest.BuildTestBackend()
	const depth, levelHidden, hidden, zDims = 3, 2, 4, 5
	a := vaetest.NewCheckpoint(7).
		LSTM("l0/fw/", depth, levelHidden).
		LSTM("l0/bw/", depth, levelHidden).
		LSTM("l1/fw/", 2*levelHidden, hidden).
		LSTM("l1/bw/", 2*levelHidden, hidden).
		Dense("mu/", 2*hidden, zDims).
		Arena(t)
	level0, err := NewBidirectionalLSTM(mustLayer(t, a, "l0/fw/"), mustLayer(t, a, "l0/bw/"), nil)
	require.NoError(t, err)
	level1, err := NewBidirectionalLSTM(mustLayer(t, a, "l1/fw/"), mustLayer(t, a, "l1/bw/"), nil)
	require.NoError(t, err)
	mu := mustLayer(t, a, "mu/")

	_, err = NewHierarchical([]Encoder{level0, level1}, []int{2, 2}, mu)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewHierarchical([]Encoder{level0, level1}, []int{2}, mu)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewHierarchical([]Encoder{level1, level0}, []int{2, 1}, mu)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewHierarchical([]Encoder{level0, level1}, []int{2, 1}, nil)
	assert.ErrorIs(t, err, ErrConfig)

	encoder, err := NewHierarchical([]Encoder{level0, level1}, []int{2, 1}, mu)
	require.NoError(t, err)
	assert.Equal(t, KindHierarchical, encoder.Kind())
	assert.Equal(t, depth, encoder.InputDims())
	zDimsGot, ok := encoder.ZDims()
	require.True(t, ok)
	assert.Equal(t, zDims, zDimsGot)

	exec := context.MustNewExec(backend, a.Context(), func(ctx *context.Context, x *Node) *Node {
		return encoder.Encode(x)
	})
	x := [][][]float32{{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 0}}}
	out := exec.MustExec1(x)
	assert.Equal(t, []int{1, zDims}, out.Shape().Dimensions)

	// Encoding is deterministic.
	again := exec.MustExec1(x)
	assert.Equal(t, out.Value(), again.Value())

	t.Run("NotDivisible", func(t *testing.T) {
		err := exceptions.TryCatch[error](func() { exec.MustExec1([][][]float32{{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}) })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not divisible")
	})
}
