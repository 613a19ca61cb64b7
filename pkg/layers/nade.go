// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Nade is a Neural Autoregressive Distribution Estimator output layer.
//
// It generates numDims bits one at a time, each conditioned on the previous ones through
// a hidden state of width numHidden.
type Nade struct {
	// EncWeights is shaped [numDims, numHidden], or [numDims, 1, numHidden] as stored in checkpoints.
	EncWeights *context.Variable

	// DecWeightsT is shaped [numDims, numHidden], or [numDims, numHidden, 1] as stored in checkpoints.
	DecWeightsT *context.Variable

	NumDims, NumHidden int
}

// NewNade validates the NADE weights and returns the layer.
func NewNade(encWeights, decWeightsT *context.Variable) (*Nade, error) {
	if encWeights == nil || decWeightsT == nil {
		return nil, errors.Wrapf(ErrConfig, "NADE requires both encoder and decoder weights (encoder present=%v, decoder present=%v)",
			encWeights != nil, decWeightsT != nil)
	}
	encDims, err := nadeDims(encWeights)
	if err != nil {
		return nil, err
	}
	decDims, err := nadeDims(decWeightsT)
	if err != nil {
		return nil, err
	}
	if encDims != decDims {
		return nil, errors.Wrapf(ErrConfig, "NADE encoder weights %s and decoder weights %s are incompatible",
			encWeights.Shape(), decWeightsT.Shape())
	}
	return &Nade{
		EncWeights:  encWeights,
		DecWeightsT: decWeightsT,
		NumDims:     encDims[0],
		NumHidden:   encDims[1],
	}, nil
}

// nadeDims returns the [numDims, numHidden] of the weights v. Rank 3 weights must have numDims
// as their first axis, and a singleton axis either second or third.
func nadeDims(v *context.Variable) ([2]int, error) {
	shape := v.Shape()
	switch {
	case shape.Rank() == 2:
		return [2]int{shape.Dim(0), shape.Dim(1)}, nil
	case shape.Rank() == 3 && (shape.Dim(1) == 1 || shape.Dim(2) == 1):
		return [2]int{shape.Dim(0), shape.Dim(1) * shape.Dim(2)}, nil
	}
	return [2]int{}, errors.Wrapf(ErrConfig, "NADE weights %q must be shaped [numDims, numHidden] "+
		"(optionally with a singleton second or third axis), got %s", v.Name(), shape)
}

func (n *Nade) weightsGraph(g *Graph, v *context.Variable) *Node {
	return Reshape(v.ValueGraph(g), n.NumDims, n.NumHidden)
}

// Sample returns the maximum a-posteriori bits, shaped [batchSize, numDims], given the
// encoder bias (shaped [batchSize, numHidden]) and the decoder bias (shaped [batchSize, numDims]).
//
// Bits are drawn in order: each one is set if its conditional probability is >= 0.5, and it then
// updates the hidden pre-activation used for the following bits. The output is deterministic.
func (n *Nade) Sample(encBias, decBias *Node) *Node {
	g := encBias.Graph()
	encWeights := n.weightsGraph(g, n.EncWeights)
	decWeightsT := n.weightsGraph(g, n.DecWeightsT)

	a := encBias
	bits := make([]*Node, n.NumDims)
	for ii := range n.NumDims {
		h := Sigmoid(a)
		encRow := SliceAxis(encWeights, 0, AxisElem(ii)) // [1, numHidden]
		decRow := SliceAxis(decWeightsT, 0, AxisElem(ii))
		logit := Add(
			SliceAxis(decBias, -1, AxisElem(ii)),
			Einsum("bh,oh->bo", h, decRow)) // [batchSize, 1]
		bit := ConvertDType(GreaterOrEqual(Sigmoid(logit), ConstAs(logit, 0.5)), logit.DType())
		bits[ii] = bit
		if ii < n.NumDims-1 {
			a = Add(a, MatMul(bit, encRow)) // Outer product: [batchSize, numHidden].
		}
	}
	return Concatenate(bits, -1)
}
