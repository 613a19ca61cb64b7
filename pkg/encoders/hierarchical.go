// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package encoders

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/izambard/magenta-js/internal/vaeerr"
	"github.com/izambard/magenta-js/pkg/layers"
	"github.com/pkg/errors"
)

// Hierarchical encodes the sequence level by level: at each level the sequence is split into NumSteps[level]
// segments, each segment is encoded by Levels[level], and the encodings become the (shorter) sequence given
// to the next level. The last level sees the whole remaining sequence (NumSteps of 1), and its output is
// projected to the latent vector by Mu.
type Hierarchical struct {
	Levels   []Encoder
	NumSteps []int
	Mu       *layers.LayerVars
}

var _ Encoder = (*Hierarchical)(nil)

// NewHierarchical validates the configuration and returns the encoder.
func NewHierarchical(levels []Encoder, numSteps []int, mu *layers.LayerVars) (*Hierarchical, error) {
	if len(levels) == 0 {
		return nil, errors.Wrapf(ErrConfig, "hierarchical encoder requires at least one level")
	}
	if len(levels) != len(numSteps) {
		return nil, errors.Wrapf(ErrConfig, "hierarchical encoder has %d levels but %d step counts", len(levels), len(numSteps))
	}
	if numSteps[len(numSteps)-1] != 1 {
		return nil, errors.Wrapf(ErrConfig, "the last level of a hierarchical encoder must have 1 step, got %v", numSteps)
	}
	for level, n := range numSteps {
		if n <= 0 {
			return nil, errors.Wrapf(ErrConfig, "level %d of the hierarchical encoder has invalid number of steps %d", level, n)
		}
		if level > 0 && levels[level].InputDims() != levels[level-1].OutputDims() {
			return nil, errors.Wrapf(ErrConfig, "level %d of the hierarchical encoder takes depth %d, but level %d outputs %d",
				level, levels[level].InputDims(), level-1, levels[level-1].OutputDims())
		}
	}
	if mu == nil {
		return nil, errors.Wrapf(ErrConfig, "hierarchical encoder requires a latent projection")
	}
	if last := levels[len(levels)-1]; mu.InputDims() != last.OutputDims() {
		return nil, errors.Wrapf(ErrConfig, "latent projection takes %d inputs, but the last level outputs %d",
			mu.InputDims(), last.OutputDims())
	}
	return &Hierarchical{Levels: levels, NumSteps: numSteps, Mu: mu}, nil
}

func (e *Hierarchical) isEncoder() {}

// Kind implements Encoder.
func (e *Hierarchical) Kind() Kind { return KindHierarchical }

// ZDims implements Encoder.
func (e *Hierarchical) ZDims() (int, bool) { return e.Mu.OutputDims(), true }

// InputDims implements Encoder.
func (e *Hierarchical) InputDims() int { return e.Levels[0].InputDims() }

// OutputDims implements Encoder.
func (e *Hierarchical) OutputDims() int { return e.Mu.OutputDims() }

// Encode implements Encoder.
//
// The number of steps of x must be divisible by NumSteps at each level, otherwise it panics with
// an error wrapping ErrArgument.
func (e *Hierarchical) Encode(x *Node) *Node {
	checkInput(e, x)
	inputs := x
	for level, encoder := range e.Levels {
		numSegments := e.NumSteps[level]
		length := inputs.Shape().Dim(1)
		if length%numSegments != 0 {
			vaeerr.Panicf(ErrArgument, "hierarchical encoder level %d: sequence length %d is not divisible in %d segments",
				level, length, numSegments)
		}
		segmentLength := length / numSegments
		embeddings := make([]*Node, numSegments)
		for segment := range numSegments {
			start := segment * segmentLength
			embeddings[segment] = encoder.Encode(SliceAxis(inputs, 1, AxisRange(start, start+segmentLength)))
		}
		inputs = Stack(embeddings, 1) // [batchSize, numSegments, outputDims]
	}
	return e.Mu.Apply(Squeeze(inputs, 1))
}
