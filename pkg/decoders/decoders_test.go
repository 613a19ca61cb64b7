// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package decoders

import (
	"fmt"
	"testing"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/izambard/magenta-js/internal/vaetest"
	"github.com/izambard/magenta-js/pkg/arena"
	"github.com/izambard/magenta-js/pkg/layers"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildBase(t *testing.T, a *arena.Arena, prefix string, numLayers int, withNade bool) *Base {
	var cells []*layers.LayerVars
	for ii := range numLayers {
		cell, err := layers.NewLayerVars(a.Pair(fmt.Sprintf("%sdecoder/multi_rnn_cell/cell_%d/lstm_cell/", prefix, ii)))
		require.NoError(t, err)
		cells = append(cells, cell)
	}
	zToInit, err := layers.NewLayerVars(a.Pair(prefix + "decoder/z_to_initial_state/"))
	require.NoError(t, err)
	outProj, err := layers.NewLayerVars(a.Pair(prefix + "decoder/output_projection/"))
	require.NoError(t, err)
	var nade *layers.Nade
	if withNade {
		nade, err = layers.NewNade(a.Variable(prefix+"decoder/nade/w_enc"), a.Variable(prefix+"decoder/nade/w_dec_t"))
		require.NoError(t, err)
	}
	base, err := NewBase(cells, zToInit, outProj, nade)
	require.NoError(t, err)
	return base
}

// requireOneHot checks that each step of each sequence has exactly one label set.
func requireOneHot(t *testing.T, sequences [][][]bool) {
	for _, seq := range sequences {
		for _, step := range seq {
			count := 0
			for _, bit := range step {
				if bit {
					count++
				}
			}
			require.Equal(t, 1, count, "step %v is not one-hot", step)
		}
	}
}

func latent(batchSize, zDims int) [][]float32 {
	z := make([][]float32, batchSize)
	for ii := range z {
		z[ii] = make([]float32, zDims)
		for jj := range z[ii] {
			z[ii][jj] = float32((ii+1)*(jj+1)%5)/5 - 0.4
		}
	}
	return z
}

func TestBase(t *testing.T) {
	backend := vaetest.BuildTestBackend()
	sizes := vaetest.Sizes{ZDims: 4, DecHidden: 6, DecLayers: 2, OutputDims: 5}
	a := vaetest.NewCheckpoint(3).FlatModel(vaetest.Sizes{
		InputDepth: 5, EncHidden: 3, ZDims: sizes.ZDims, DecHidden: sizes.DecHidden,
		DecLayers: sizes.DecLayers, OutputDims: sizes.OutputDims}).Arena(t)
	base := buildBase(t, a, "", sizes.DecLayers, false)
	assert.Equal(t, KindBase, base.Kind())
	assert.Equal(t, sizes.ZDims, base.ZDims())
	assert.Equal(t, sizes.OutputDims, base.OutputDims())
	const length = 7

	t.Run("Greedy", func(t *testing.T) {
		exec := context.MustNewExec(backend, a.Context(), func(ctx *context.Context, z *Node) *Node {
			return base.Decode(z, length, nil, Greedy())
		})
		for _, batchSize := range []int{1, 3} {
			z := latent(batchSize, sizes.ZDims)
			first := exec.MustExec1(z)
			second := exec.MustExec1(z)
			assert.Equal(t, []int{batchSize, length, sizes.OutputDims}, first.Shape().Dimensions)
			assert.Equal(t, first.Value(), second.Value())
			requireOneHot(t, first.Value().([][][]bool))
		}
	})

	t.Run("Temperature", func(t *testing.T) {
		assert.True(t, Greedy().IsGreedy())
		assert.True(t, (*Sampler)(nil).IsGreedy())
		exec := context.MustNewExec(backend, a.Context(), func(ctx *context.Context, z, rngState, temperature *Node) (*Node, *Node) {
			sampler := NewSampler(rngState, temperature)
			output := base.Decode(z, length, nil, sampler)
			return output, sampler.RNGState
		})
		rngState := must.M1(RNGStateFromSeed(42))
		z := latent(4, sizes.ZDims)
		output, newState := exec.MustExec2(z, rngState, float32(0.5))
		assert.Equal(t, []int{4, length, sizes.OutputDims}, output.Shape().Dimensions)
		requireOneHot(t, output.Value().([][][]bool))
		assert.NotEqual(t, rngState.Value(), newState.Value())

		// Same RNG state, same samples.
		again, _ := exec.MustExec2(z, rngState, float32(0.5))
		assert.Equal(t, output.Value(), again.Value())
	})

	t.Run("InvalidLatent", func(t *testing.T) {
		exec := context.MustNewExec(backend, a.Context(), func(ctx *context.Context, z *Node) *Node {
			return base.Decode(z, length, nil, nil)
		})
		err := exceptions.TryCatch[error](func() { exec.MustExec1(latent(2, sizes.ZDims+1)) })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "latent vectors")
	})
}

func TestBaseValidation(t *testing.T) {
	a := vaetest.NewCheckpoint(4).FlatModel(vaetest.Sizes{
		InputDepth: 5, EncHidden: 3, ZDims: 4, DecHidden: 6, DecLayers: 2, OutputDims: 5}).Arena(t)
	cell0, err := layers.NewLayerVars(a.Pair("decoder/multi_rnn_cell/cell_0/lstm_cell/"))
	require.NoError(t, err)
	cell1, err := layers.NewLayerVars(a.Pair("decoder/multi_rnn_cell/cell_1/lstm_cell/"))
	require.NoError(t, err)
	zToInit, err := layers.NewLayerVars(a.Pair("decoder/z_to_initial_state/"))
	require.NoError(t, err)
	outProj, err := layers.NewLayerVars(a.Pair("decoder/output_projection/"))
	require.NoError(t, err)

	// The initial state projection has 2 chunks per layer for 2 layers: one layer is not enough.
	_, err = NewBase([]*layers.LayerVars{cell0}, zToInit, outProj, nil)
	assert.ErrorIs(t, err, ErrConfig)
	// Layers in the wrong order.
	_, err = NewBase([]*layers.LayerVars{cell1, cell0}, zToInit, outProj, nil)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewBase([]*layers.LayerVars{cell0, cell1}, zToInit, nil, nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestBaseNade(t *testing.T) {
	backend := vaetest.BuildTestBackend()
	sizes := vaetest.Sizes{InputDepth: 9, EncHidden: 3, ZDims: 4, DecHidden: 5, DecLayers: 1, OutputDims: 9, NadeHidden: 6}
	a := vaetest.NewCheckpoint(5).FlatModel(sizes).Arena(t)
	base := buildBase(t, a, "", sizes.DecLayers, true)
	assert.Equal(t, sizes.OutputDims, base.OutputDims())

	exec := context.MustNewExec(backend, a.Context(), func(ctx *context.Context, z *Node) *Node {
		return base.Decode(z, 3, nil, nil)
	})
	z := latent(2, sizes.ZDims)
	first := exec.MustExec1(z)
	second := exec.MustExec1(z)
	assert.Equal(t, []int{2, 3, sizes.OutputDims}, first.Shape().Dimensions)
	assert.Equal(t, first.Value(), second.Value())
}

func TestConductor(t *testing.T) {
	backend := vaetest.BuildTestBackend()
	sizes := vaetest.Sizes{
		InputDepth: 4, EncHidden: 3, LevelHidden: 2, ZDims: 5,
		DecHidden: 4, DecLayers: 2, OutputDims: 3, NumSplits: 2, CondHidden: 6,
	}
	a := vaetest.NewCheckpoint(6).HierarchicalModel(sizes).Arena(t)
	cores := []Decoder{
		buildBase(t, a, "core_decoder/core_decoder_0/", sizes.DecLayers, false),
		buildBase(t, a, "core_decoder/core_decoder_1/", sizes.DecLayers, false),
	}
	condCell, err := layers.NewLayerVars(a.Pair("decoder/hierarchical_level_0/cell_0/lstm_cell/"))
	require.NoError(t, err)
	condInit, err := layers.NewLayerVars(a.Pair("decoder/hierarchical_level_0/initial_state/"))
	require.NoError(t, err)

	_, err = NewConductor(cores, []*layers.LayerVars{condCell}, condInit, 0)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewConductor(nil, []*layers.LayerVars{condCell}, condInit, 2)
	assert.ErrorIs(t, err, ErrConfig)

	const numSegments, length = 2, 6
	conductor, err := NewConductor(cores, []*layers.LayerVars{condCell}, condInit, numSegments)
	require.NoError(t, err)
	assert.Equal(t, KindConductor, conductor.Kind())
	assert.Equal(t, sizes.ZDims, conductor.ZDims())
	assert.Equal(t, 2*sizes.OutputDims, conductor.OutputDims())

	exec := context.MustNewExec(backend, a.Context(), func(ctx *context.Context, z *Node) *Node {
		return conductor.Decode(z, length, nil, Greedy())
	})
	z := latent(3, sizes.ZDims)
	output := exec.MustExec1(z)
	require.Equal(t, []int{3, length, 2 * sizes.OutputDims}, output.Shape().Dimensions)
	// Each core decoder stream is one-hot on its own slice of the features.
	for _, seq := range output.Value().([][][]bool) {
		for _, step := range seq {
			requireOneHot(t, [][][]bool{{step[:sizes.OutputDims]}, {step[sizes.OutputDims:]}})
		}
	}
	assert.Equal(t, output.Value(), exec.MustExec1(z).Value())

	t.Run("NotDivisible", func(t *testing.T) {
		exec := context.MustNewExec(backend, a.Context(), func(ctx *context.Context, z *Node) *Node {
			return conductor.Decode(z, length+1, nil, nil)
		})
		err := exceptions.TryCatch[error](func() { exec.MustExec1(z) })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not divisible")
	})
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Base", KindBase.String())
	assert.Equal(t, "Conductor", KindConductor.String())
	assert.Equal(t, "Kind(7)", Kind(7).String())
}
