// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package decoders

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/izambard/magenta-js/internal/vaeerr"
	"github.com/izambard/magenta-js/pkg/layers"
	"github.com/pkg/errors"
)

// Conductor is a hierarchical decoder: a conductor LSTM, initialized from z, produces one embedding per segment,
// and each of the CoreDecoders decodes its stream for the segment from that embedding.
//
// The outputs of the core decoders are concatenated along the features axis, and the segments along time.
type Conductor struct {
	CoreDecoders []Decoder
	Cells        []*layers.LayerVars
	ZToInitState *layers.LayerVars
	NumSteps     int
}

var _ Decoder = (*Conductor)(nil)

// NewConductor validates the configuration and returns the decoder.
func NewConductor(coreDecoders []Decoder, cells []*layers.LayerVars, zToInitState *layers.LayerVars, numSteps int) (*Conductor, error) {
	if len(coreDecoders) == 0 {
		return nil, errors.Wrapf(ErrConfig, "conductor requires at least one core decoder")
	}
	if numSteps <= 0 {
		return nil, errors.Wrapf(ErrConfig, "conductor requires a positive number of steps, got %d", numSteps)
	}
	if zToInitState == nil {
		return nil, errors.Wrapf(ErrConfig, "conductor requires the initial state projection")
	}
	if err := layers.ValidateCellBank(cells, zToInitState, -1); err != nil {
		return nil, err
	}
	inputDims := 1
	for _, cell := range cells {
		if err := layers.ValidateLSTM(cell, inputDims); err != nil {
			return nil, errors.WithMessagef(err, "conductor")
		}
		inputDims = layers.HiddenDims(cell)
	}
	for ii, core := range coreDecoders {
		if core.ZDims() != inputDims {
			return nil, errors.Wrapf(ErrConfig, "core decoder #%d takes embeddings of width %d, but the conductor outputs %d",
				ii, core.ZDims(), inputDims)
		}
	}
	return &Conductor{CoreDecoders: coreDecoders, Cells: cells, ZToInitState: zToInitState, NumSteps: numSteps}, nil
}

func (d *Conductor) Kind() Kind { return KindConductor }

// ZDims implements Decoder: it's the input width of the conductor initial state projection.
func (d *Conductor) ZDims() int { return d.ZToInitState.InputDims() }

// OutputDims implements Decoder: the sum of the output widths of the core decoders.
func (d *Conductor) OutputDims() int {
	total := 0
	for _, core := range d.CoreDecoders {
		total += core.OutputDims()
	}
	return total
}

// Decode implements Decoder. initialInput is not used by the conductor.
//
// length must be divisible by NumSteps, otherwise it panics with an error wrapping ErrArgument.
func (d *Conductor) Decode(z *Node, length int, initialInput *Node, sampler *Sampler) *Node {
	return toBool(d.decodeSamples(z, length, initialInput, sampler))
}

func (d *Conductor) decodeSamples(z *Node, length int, _ *Node, sampler *Sampler) *Node {
	checkLatent(d, z)
	if length%d.NumSteps != 0 {
		vaeerr.Panicf(ErrArgument, "conductor decoder length %d is not divisible by its %d steps", length, d.NumSteps)
	}
	g := z.Graph()
	dtype := z.DType()
	batchSize := z.Shape().Dim(0)
	stepLength := length / d.NumSteps

	bank := layers.InitCellBank(z, d.Cells, d.ZToInitState)
	dummyInput := Zeros(g, shapes.Make(dtype, batchSize, 1))
	lastSteps := make([]*Node, len(d.CoreDecoders))
	segments := make([]*Node, d.NumSteps)
	for step := range d.NumSteps {
		embedding := bank.Step(dummyInput)
		outputs := make([]*Node, len(d.CoreDecoders))
		for ii, core := range d.CoreDecoders {
			outputs[ii] = core.decodeSamples(embedding, stepLength, lastSteps[ii], sampler)
			lastSteps[ii] = Squeeze(SliceAxis(outputs[ii], 1, AxisElem(stepLength-1)), 1)
		}
		segments[step] = Concatenate(outputs, -1)
	}
	return Concatenate(segments, 1)
}
