// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers implements the building blocks of MusicVAE inference graphs: the affine transform
// (LayerVars), the LSTM recurrence, stacks of LSTM cells (CellBank) and the NADE output layer.
//
// Layers don't own weights: they hold *context.Variable views into an arena.Arena, and the graph
// functions read them with Variable.ValueGraph. So graphs using them must be executed with an
// executor created on the same context (see arena.Arena.Context).
package layers

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/izambard/magenta-js/internal/vaeerr"
	"github.com/pkg/errors"
)

// LayerVars holds the parameters of an affine layer: kernel shaped [inputDims, outputDims] and bias shaped [outputDims].
type LayerVars struct {
	Kernel, Bias *context.Variable
}

// NewLayerVars validates and returns the affine layer parameters.
//
// It returns an error wrapping ErrConfig if any of the variables is missing or if their shapes are not compatible.
func NewLayerVars(kernel, bias *context.Variable) (*LayerVars, error) {
	if kernel == nil || bias == nil {
		return nil, errors.Wrapf(ErrConfig, "both kernel and bias must be defined (kernel present=%v, bias present=%v)",
			kernel != nil, bias != nil)
	}
	kShape, bShape := kernel.Shape(), bias.Shape()
	if kShape.Rank() != 2 || bShape.Rank() != 1 {
		return nil, errors.Wrapf(ErrConfig, "kernel must be 2D and bias 1D, got kernel %s and bias %s (scope %q)",
			kShape, bShape, kernel.Scope())
	}
	if !kShape.DType.IsFloat() || kShape.DType != bShape.DType {
		return nil, errors.Wrapf(ErrConfig, "kernel and bias must have the same float dtype, got %s and %s",
			kShape.DType, bShape.DType)
	}
	if kShape.Dim(1) != bShape.Dim(0) {
		return nil, errors.Wrapf(ErrConfig, "kernel %s and bias %s are incompatible (scope %q)",
			kShape, bShape, kernel.Scope())
	}
	return &LayerVars{Kernel: kernel, Bias: bias}, nil
}

// InputDims is the expected width of the input.
func (l *LayerVars) InputDims() int { return l.Kernel.Shape().Dim(0) }

// OutputDims is the width of the output, the same as the bias width.
func (l *LayerVars) OutputDims() int { return l.Bias.Shape().Dim(0) }

// Apply returns x·kernel + bias. x is shaped [batchSize, inputDims] and the output [batchSize, outputDims].
func (l *LayerVars) Apply(x *Node) *Node {
	if x.Rank() != 2 || x.Shape().Dim(1) != l.InputDims() {
		vaeerr.Panicf(ErrConfig, "affine layer %q expects input shaped [batch, %d], got %s",
			l.Kernel.Scope(), l.InputDims(), x.Shape())
	}
	g := x.Graph()
	y := MatMul(x, l.Kernel.ValueGraph(g))
	return Add(y, ExpandLeftToRank(l.Bias.ValueGraph(g), y.Rank()))
}
