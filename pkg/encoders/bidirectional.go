// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package encoders

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/izambard/magenta-js/pkg/layers"
	"github.com/pkg/errors"
)

// BidirectionalLSTM runs one LSTM forward and another backward over the sequence, and concatenates
// their final hidden states. If Mu is set, the concatenation is projected to the latent vector.
type BidirectionalLSTM struct {
	Forward, Backward *layers.LayerVars
	Mu                *layers.LayerVars // Optional.
}

var _ Encoder = (*BidirectionalLSTM)(nil)

// NewBidirectionalLSTM validates the parameters and returns the encoder. mu can be nil.
func NewBidirectionalLSTM(forward, backward, mu *layers.LayerVars) (*BidirectionalLSTM, error) {
	if forward == nil || backward == nil {
		return nil, errors.Wrapf(ErrConfig, "bidirectional encoder requires both forward and backward LSTM parameters")
	}
	for _, params := range []*layers.LayerVars{forward, backward} {
		if err := layers.ValidateLSTM(params, -1); err != nil {
			return nil, err
		}
	}
	e := &BidirectionalLSTM{Forward: forward, Backward: backward, Mu: mu}
	if e.inputDims(backward) != e.inputDims(forward) {
		return nil, errors.Wrapf(ErrConfig, "forward and backward LSTMs take inputs of different depths: %d and %d",
			e.inputDims(forward), e.inputDims(backward))
	}
	stateDims := layers.HiddenDims(forward) + layers.HiddenDims(backward)
	if mu != nil && mu.InputDims() != stateDims {
		return nil, errors.Wrapf(ErrConfig, "latent projection takes %d inputs, but the encoder state has %d",
			mu.InputDims(), stateDims)
	}
	return e, nil
}

func (e *BidirectionalLSTM) inputDims(params *layers.LayerVars) int {
	return params.InputDims() - layers.HiddenDims(params)
}

func (e *BidirectionalLSTM) isEncoder() {}

// Kind implements Encoder.
func (e *BidirectionalLSTM) Kind() Kind { return KindBidirectionalLSTM }

// ZDims implements Encoder.
func (e *BidirectionalLSTM) ZDims() (int, bool) {
	if e.Mu == nil {
		return 0, false
	}
	return e.Mu.OutputDims(), true
}

// InputDims implements Encoder.
func (e *BidirectionalLSTM) InputDims() int { return e.inputDims(e.Forward) }

// OutputDims implements Encoder.
func (e *BidirectionalLSTM) OutputDims() int {
	if zDims, ok := e.ZDims(); ok {
		return zDims
	}
	return layers.HiddenDims(e.Forward) + layers.HiddenDims(e.Backward)
}

// Encode implements Encoder. Both directions start from zero states.
func (e *BidirectionalLSTM) Encode(x *Node) *Node {
	checkInput(e, x)
	g := x.Graph()
	batchSize, numSteps := x.Shape().Dim(0), x.Shape().Dim(1)
	forward := layers.ZeroCellBank(g, batchSize, []*layers.LayerVars{e.Forward})
	backward := layers.ZeroCellBank(g, batchSize, []*layers.LayerVars{e.Backward})
	for step := range numSteps {
		forward.Step(timeStep(x, step))
		backward.Step(timeStep(x, numSteps-1-step))
	}
	output := Concatenate([]*Node{forward.Last(), backward.Last()}, -1)
	if e.Mu != nil {
		output = e.Mu.Apply(output)
	}
	return output
}

// timeStep returns x[:, step, :].
func timeStep(x *Node, step int) *Node {
	return Squeeze(SliceAxis(x, 1, AxisElem(step)), 1)
}
