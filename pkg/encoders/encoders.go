// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package encoders implements the MusicVAE encoders: a bidirectional LSTM over the whole
// sequence, and a hierarchical encoder that composes them over segments of the sequence.
//
// The set of encoders is closed: Encoder can't be implemented outside this package.
package encoders

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/izambard/magenta-js/internal/vaeerr"
)

// Kind of Encoder.
type Kind int

const (
	KindBidirectionalLSTM Kind = iota
	KindHierarchical
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindBidirectionalLSTM:
		return "BidirectionalLSTM"
	case KindHierarchical:
		return "Hierarchical"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Encoder maps a batch of sequences shaped [batchSize, numSteps, depth] to vectors shaped [batchSize, OutputDims()].
type Encoder interface {
	Kind() Kind

	// ZDims returns the width of the latent vector. It returns false if the encoder has no
	// latent projection and outputs its raw final state instead.
	ZDims() (int, bool)

	// InputDims is the expected depth of the input sequences.
	InputDims() int

	// OutputDims is the width of the encoder output: ZDims if there is a latent projection.
	OutputDims() int

	// Encode builds the graph that encodes x. It panics with an error wrapping ErrArgument if
	// the shape of x is not supported.
	Encode(x *Node) *Node

	isEncoder()
}

var (
	// ErrConfig is returned when the encoder parameters are missing or incompatible.
	ErrConfig = vaeerr.ErrConfig

	// ErrArgument is raised when encoding inputs with an invalid shape.
	ErrArgument = vaeerr.ErrArgument
)

func checkInput(e Encoder, x *Node) {
	if x.Rank() != 3 {
		vaeerr.Panicf(ErrArgument, "%s encoder expects inputs shaped [batchSize, numSteps, %d], got %s",
			e.Kind(), e.InputDims(), x.Shape())
	}
	if x.Shape().Dim(-1) != e.InputDims() {
		vaeerr.Panicf(ErrArgument, "%s encoder expects inputs with depth %d, got shape %s",
			e.Kind(), e.InputDims(), x.Shape())
	}
}
