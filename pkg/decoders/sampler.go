// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package decoders

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Sampler selects the label of each decoder step from its logits.
//
// A nil Sampler, or one without Temperature, selects the most likely label (greedy).
// Otherwise it draws one label per example from softmax(logits/Temperature), using the
// Gumbel-max trick with the random number generator state RNGState, which is updated at each draw.
type Sampler struct {
	// Temperature is a scalar node. If nil, sampling is greedy.
	Temperature *Node

	// RNGState is the current random number generator state, see graph.RNGStateFromSeed.
	// It is required if Temperature is set, and after the graph is built it holds the final state,
	// which should be returned by the graph and fed to the next execution.
	RNGState *Node
}

// Greedy returns a Sampler that always selects the most likely label.
func Greedy() *Sampler { return &Sampler{} }

// NewSampler returns a Sampler that draws labels with the given temperature.
func NewSampler(rngState, temperature *Node) *Sampler {
	return &Sampler{RNGState: rngState, Temperature: temperature}
}

// IsGreedy returns whether the sampler selects the most likely label.
func (s *Sampler) IsGreedy() bool {
	return s == nil || s.Temperature == nil
}

// Labels returns the selected labels, shaped [batchSize], for logits shaped [batchSize, numClasses].
func (s *Sampler) Labels(logits *Node) *Node {
	if s.IsGreedy() {
		return ArgMax(logits, -1, dtypes.Int32)
	}
	temperature := ConvertDType(s.Temperature, logits.DType())
	logits = Div(logits, temperature)
	var uniform *Node
	s.RNGState, uniform = RandomUniform(s.RNGState, logits.Shape())
	uniform = Max(uniform, ConstAs(uniform, 1e-10))
	gumbel := Neg(Log(Neg(Log(uniform))))
	return ArgMax(Add(logits, gumbel), -1, dtypes.Int32)
}
