// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vaetest holds test utilities: a shared pure Go backend and synthetic checkpoints.
package vaetest

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/izambard/magenta-js/pkg/arena"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

// BackendName is the backend used in tests: the pure Go one, so tests don't depend on XLA being installed.
const BackendName = "go"

var (
	backendOnce   sync.Once
	cachedBackend backends.Backend
)

// BuildTestBackend returns a backend shared by all tests of the package.
func BuildTestBackend() backends.Backend {
	backendOnce.Do(func() {
		var err error
		cachedBackend, err = backends.NewWithConfig(BackendName)
		if err != nil {
			klog.Fatalf("Failed to create backend %q: %+v", BackendName, err)
		}
	})
	return cachedBackend
}

// Checkpoint builds synthetic MusicVAE checkpoints with random weights.
type Checkpoint struct {
	rng     *rand.Rand
	Weights map[string]*tensors.Tensor
}

// NewCheckpoint creates an empty Checkpoint whose random weights are drawn from a generator seeded with seed.
func NewCheckpoint(seed uint64) *Checkpoint {
	return &Checkpoint{
		rng:     rand.New(rand.NewPCG(seed, seed+1)),
		Weights: make(map[string]*tensors.Tensor),
	}
}

func (c *Checkpoint) random(n int, scale float32) []float32 {
	values := make([]float32, n)
	for ii := range values {
		values[ii] = (2*c.rng.Float32() - 1) * scale
	}
	return values
}

// Set stores an arbitrary tensor under key.
func (c *Checkpoint) Set(key string, t *tensors.Tensor) *Checkpoint {
	c.Weights[key] = t
	return c
}

// Dense adds prefix+"kernel" shaped [inputDims, outputDims] and prefix+"bias" shaped [outputDims].
func (c *Checkpoint) Dense(prefix string, inputDims, outputDims int) *Checkpoint {
	c.Weights[prefix+"kernel"] = tensors.FromFlatDataAndDimensions(c.random(inputDims*outputDims, 0.5), inputDims, outputDims)
	c.Weights[prefix+"bias"] = tensors.FromFlatDataAndDimensions(c.random(outputDims, 0.1), outputDims)
	return c
}

// LSTM adds the weights of an LSTM cell with the given input and hidden widths.
func (c *Checkpoint) LSTM(prefix string, inputDims, hiddenDims int) *Checkpoint {
	return c.Dense(prefix, inputDims+hiddenDims, 4*hiddenDims)
}

// Nade adds NADE weights under prefix, laid out as in the released checkpoints:
// w_enc shaped [numDims, 1, numHidden] and w_dec_t shaped [numDims, numHidden, 1].
func (c *Checkpoint) Nade(prefix string, numDims, numHidden int) *Checkpoint {
	c.Weights[prefix+"w_enc"] = tensors.FromFlatDataAndDimensions(c.random(numDims*numHidden, 0.5), numDims, 1, numHidden)
	c.Weights[prefix+"w_dec_t"] = tensors.FromFlatDataAndDimensions(c.random(numDims*numHidden, 0.5), numDims, numHidden, 1)
	return c
}

// Arena creates an arena.Arena holding the weights, and registers its disposal at the end of the test.
func (c *Checkpoint) Arena(t testing.TB) *arena.Arena {
	a, err := arena.New(c.Weights)
	require.NoError(t, err)
	t.Cleanup(a.Dispose)
	return a
}

// Sizes of the synthetic models built by FlatModel and HierarchicalModel.
type Sizes struct {
	InputDepth  int // Width of the encoder inputs.
	EncHidden   int
	ZDims       int
	DecHidden   int
	DecLayers   int
	OutputDims  int // Width of the decoder outputs, for each stream.
	NadeHidden  int // If > 0, decoders use a NADE, and OutputDims is the number of NADE dimensions.
	NumSplits   int // Number of decoder streams, 0 for a single unsplit stream.
	CondHidden  int // Conductor hidden width (hierarchical only).
	LevelHidden int // Hidden width of the first level of the hierarchical encoder.
}

// FlatModel adds the weights of a model with a single-layer bidirectional encoder and a single base decoder.
func (c *Checkpoint) FlatModel(s Sizes) *Checkpoint {
	for _, dir := range []string{"fw", "bw"} {
		c.LSTM("encoder/cell_0/bidirectional_rnn/"+dir+"/multi_rnn_cell/cell_0/lstm_cell/", s.InputDepth, s.EncHidden)
	}
	c.Dense("encoder/mu/", 2*s.EncHidden, s.ZDims)
	c.baseDecoder("", s)
	return c
}

// HierarchicalModel adds the weights of a model with a 2 level hierarchical encoder and a conductor decoder
// with max(NumSplits, 1) base decoder streams.
func (c *Checkpoint) HierarchicalModel(s Sizes) *Checkpoint {
	levelInputs := []int{s.InputDepth, 2 * s.LevelHidden}
	levelHidden := []int{s.LevelHidden, s.EncHidden}
	for level := range 2 {
		for _, dir := range []string{"fw", "bw"} {
			c.LSTM(hierarchicalEncoderPrefix(level, dir), levelInputs[level], levelHidden[level])
		}
	}
	c.Dense("encoder/mu/", 2*s.EncHidden, s.ZDims)

	c.LSTM("decoder/hierarchical_level_0/cell_0/lstm_cell/", 1, s.CondHidden)
	c.Dense("decoder/hierarchical_level_0/initial_state/", s.ZDims, 2*s.CondHidden)
	if s.NumSplits == 0 {
		c.baseDecoder("core_decoder/", s)
	} else {
		for ii := range s.NumSplits {
			c.baseDecoder(fmt.Sprintf("core_decoder/core_decoder_%d/", ii), s)
		}
	}
	return c
}

func hierarchicalEncoderPrefix(level int, dir string) string {
	return fmt.Sprintf("encoder/hierarchical_level_%d/cell_0/bidirectional_rnn/%s/multi_rnn_cell/cell_0/lstm_cell/", level, dir)
}

// baseDecoder adds a base decoder. Its z input is ZDims wide for flat models; for hierarchical models it is fed
// with the conductor embedding, so its width is CondHidden.
func (c *Checkpoint) baseDecoder(prefix string, s Sizes) {
	zDims := s.ZDims
	if s.CondHidden > 0 {
		zDims = s.CondHidden
	}
	numOutputs := s.OutputDims
	if s.NadeHidden > 0 {
		numOutputs = s.NadeHidden + s.OutputDims
		c.Nade(prefix+"decoder/nade/", s.OutputDims, s.NadeHidden)
	}
	inputDims := s.OutputDims + zDims
	for layer := range s.DecLayers {
		c.LSTM(fmt.Sprintf("%sdecoder/multi_rnn_cell/cell_%d/lstm_cell/", prefix, layer), inputDims, s.DecHidden)
		inputDims = s.DecHidden
	}
	c.Dense(prefix+"decoder/z_to_initial_state/", zDims, 2*s.DecLayers*s.DecHidden)
	c.Dense(prefix+"decoder/output_projection/", s.DecHidden, numOutputs)
}
