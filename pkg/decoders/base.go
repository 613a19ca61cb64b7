// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package decoders

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/izambard/magenta-js/pkg/layers"
	"github.com/pkg/errors"
)

// Base is an autoregressive decoder: a stack of LSTM cells whose states are initialized from z, and that
// at each step takes as input the previous output concatenated with z.
//
// The outputs are either one-hot vectors (labels selected by a Sampler from the output projection) or,
// if Nade is set, the bits sampled by the NADE from the output projection split into its biases.
type Base struct {
	Cells            []*layers.LayerVars
	ZToInitState     *layers.LayerVars
	OutputProjection *layers.LayerVars
	Nade             *layers.Nade // Optional.
}

var _ Decoder = (*Base)(nil)

// NewBase validates the parameters and returns the decoder. nade can be nil.
func NewBase(cells []*layers.LayerVars, zToInitState, outputProjection *layers.LayerVars, nade *layers.Nade) (*Base, error) {
	if zToInitState == nil || outputProjection == nil {
		return nil, errors.Wrapf(ErrConfig, "base decoder requires the initial state and the output projections")
	}
	if err := layers.ValidateCellBank(cells, zToInitState, -1); err != nil {
		return nil, err
	}
	d := &Base{Cells: cells, ZToInitState: zToInitState, OutputProjection: outputProjection, Nade: nade}
	inputDims := d.OutputDims() + d.ZDims()
	for _, cell := range cells {
		if err := layers.ValidateLSTM(cell, inputDims); err != nil {
			return nil, err
		}
		inputDims = layers.HiddenDims(cell)
	}
	if outputProjection.InputDims() != inputDims {
		return nil, errors.Wrapf(ErrConfig, "output projection takes %d inputs, but the last LSTM layer outputs %d",
			outputProjection.InputDims(), inputDims)
	}
	if nade != nil && outputProjection.OutputDims() != nade.NumHidden+nade.NumDims {
		return nil, errors.Wrapf(ErrConfig, "output projection outputs %d values, but the NADE biases require %d+%d",
			outputProjection.OutputDims(), nade.NumHidden, nade.NumDims)
	}
	return d, nil
}

func (d *Base) Kind() Kind { return KindBase }

// ZDims implements Decoder: it's the input width of the initial state projection.
func (d *Base) ZDims() int { return d.ZToInitState.InputDims() }

// OutputDims implements Decoder.
func (d *Base) OutputDims() int {
	if d.Nade != nil {
		return d.Nade.NumDims
	}
	return d.OutputProjection.OutputDims()
}

// Decode implements Decoder.
func (d *Base) Decode(z *Node, length int, initialInput *Node, sampler *Sampler) *Node {
	return toBool(d.decodeSamples(z, length, initialInput, sampler))
}

func (d *Base) decodeSamples(z *Node, length int, initialInput *Node, sampler *Sampler) *Node {
	checkLatent(d, z)
	g := z.Graph()
	dtype := z.DType()
	batchSize := z.Shape().Dim(0)
	outputDims := d.OutputDims()

	bank := layers.InitCellBank(z, d.Cells, d.ZToInitState)
	nextInput := initialInput
	if nextInput == nil {
		nextInput = Zeros(g, shapes.Make(dtype, batchSize, outputDims))
	}
	samples := make([]*Node, length)
	for step := range length {
		output := bank.Step(Concatenate([]*Node{nextInput, z}, -1))
		logits := d.OutputProjection.Apply(output)
		var sample *Node
		if d.Nade != nil {
			numHidden := d.Nade.NumHidden
			encBias := SliceAxis(logits, -1, AxisRange(0, numHidden))
			decBias := SliceAxis(logits, -1, AxisRange(numHidden, numHidden+d.Nade.NumDims))
			sample = d.Nade.Sample(encBias, decBias)
		} else {
			sample = OneHot(sampler.Labels(logits), outputDims, dtype)
		}
		samples[step] = sample
		nextInput = sample
	}
	return Stack(samples, 1)
}
