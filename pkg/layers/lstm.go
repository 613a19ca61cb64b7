// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/izambard/magenta-js/internal/vaeerr"
	"github.com/pkg/errors"
)

// ForgetBias is added to the forget gate pre-activation, as in the TensorFlow BasicLSTMCell used to train the models.
const ForgetBias = 1.0

// HiddenDims returns the hidden state width of an LSTM cell parametrized by params: the bias holds
// the 4 gates, so it is a quarter of its width.
func HiddenDims(params *LayerVars) int {
	return params.OutputDims() / 4
}

// ValidateLSTM checks that params can be used as the weights of an LSTM cell taking inputs of width inputDims.
// Pass inputDims < 0 to skip the input width check.
func ValidateLSTM(params *LayerVars, inputDims int) error {
	if params.OutputDims()%4 != 0 || params.OutputDims() == 0 {
		return errors.Wrapf(ErrConfig, "LSTM bias width must be a positive multiple of 4, got %d (scope %q)",
			params.OutputDims(), params.Kernel.Scope())
	}
	hidden := HiddenDims(params)
	if inputDims >= 0 && params.InputDims() != inputDims+hidden {
		return errors.Wrapf(ErrConfig, "LSTM kernel in scope %q expects %d inputs, but got input width %d + hidden width %d",
			params.Kernel.Scope(), params.InputDims(), inputDims, hidden)
	}
	return nil
}

// LSTMCell runs one step of the LSTM recurrence.
//
// x is shaped [batchSize, inputDims], c and h are shaped [batchSize, hiddenDims].
// The gates are packed in the kernel in the order (i, j, f, o): input, new cell value, forget and output.
func LSTMCell(params *LayerVars, x, c, h *Node) (newC, newH *Node) {
	gates := params.Apply(Concatenate([]*Node{x, h}, -1))
	parts := Split(gates, -1, 4)
	i, j, f, o := parts[0], parts[1], parts[2], parts[3]
	newC = Add(
		Mul(c, Sigmoid(AddScalar(f, ForgetBias))),
		Mul(Sigmoid(i), Tanh(j)))
	newH = Mul(Tanh(newC), Sigmoid(o))
	return
}

// CellBank holds the states of a stack of LSTM cells while a graph is being built.
//
// Each call to Step advances all layers once, feeding each layer's new hidden state as the input of the next.
type CellBank struct {
	Cells []*LayerVars
	C, H  []*Node
}

// ValidateCellBank checks that projection can initialize the states of cells: it must take the latent vector
// (zDims wide, or skip the check with zDims < 0) and output a (cell, hidden) chunk pair for each layer.
func ValidateCellBank(cells []*LayerVars, projection *LayerVars, zDims int) error {
	if len(cells) == 0 {
		return errors.Wrapf(ErrConfig, "no LSTM cells given to initialize")
	}
	total := 0
	for _, cell := range cells {
		if err := ValidateLSTM(cell, -1); err != nil {
			return err
		}
		total += 2 * HiddenDims(cell)
	}
	if projection.OutputDims() != total {
		return errors.Wrapf(ErrConfig, "initial state projection in scope %q outputs %d values, but %d LSTM layers need %d (2 chunks per layer)",
			projection.Kernel.Scope(), projection.OutputDims(), len(cells), total)
	}
	if zDims >= 0 && projection.InputDims() != zDims {
		return errors.Wrapf(ErrConfig, "initial state projection in scope %q takes %d inputs, but the latent width is %d",
			projection.Kernel.Scope(), projection.InputDims(), zDims)
	}
	return nil
}

// InitCellBank creates a CellBank with its states initialized from z: tanh(projection(z)) is split into consecutive
// (cell, hidden) chunks, one pair per layer.
func InitCellBank(z *Node, cells []*LayerVars, projection *LayerVars) *CellBank {
	states := Tanh(projection.Apply(z))
	bank := &CellBank{
		Cells: cells,
		C:     make([]*Node, len(cells)),
		H:     make([]*Node, len(cells)),
	}
	start := 0
	for ii, cell := range cells {
		hidden := HiddenDims(cell)
		bank.C[ii] = SliceAxis(states, -1, AxisRange(start, start+hidden))
		start += hidden
		bank.H[ii] = SliceAxis(states, -1, AxisRange(start, start+hidden))
		start += hidden
	}
	if start != states.Shape().Dim(-1) {
		vaeerr.Panicf(ErrConfig, "initial state projection outputs %d values, %d LSTM layers need %d",
			states.Shape().Dim(-1), len(cells), start)
	}
	return bank
}

// ZeroCellBank creates a CellBank for a batch of batchSize with all states set to zero.
func ZeroCellBank(g *Graph, batchSize int, cells []*LayerVars) *CellBank {
	bank := &CellBank{
		Cells: cells,
		C:     make([]*Node, len(cells)),
		H:     make([]*Node, len(cells)),
	}
	for ii, cell := range cells {
		zeros := Zeros(g, shapes.Make(cell.Bias.DType(), batchSize, HiddenDims(cell)))
		bank.C[ii] = zeros
		bank.H[ii] = zeros
	}
	return bank
}

// Step advances all layers of the bank with input x, and returns the hidden state of the last layer.
func (b *CellBank) Step(x *Node) *Node {
	input := x
	for ii, cell := range b.Cells {
		b.C[ii], b.H[ii] = LSTMCell(cell, input, b.C[ii], b.H[ii])
		input = b.H[ii]
	}
	return input
}

// Last returns the hidden state of the last layer.
func (b *CellBank) Last() *Node {
	return b.H[len(b.H)-1]
}
