// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package decoders implements the MusicVAE decoders: the autoregressive Base decoder, and the
// hierarchical Conductor that drives a set of Base decoders one segment at a time.
//
// The set of decoders is closed: Decoder can't be implemented outside this package.
package decoders

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/izambard/magenta-js/internal/vaeerr"
)

// Kind of Decoder.
type Kind int

const (
	KindBase Kind = iota
	KindConductor
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindBase:
		return "Base"
	case KindConductor:
		return "Conductor"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	// ErrConfig is returned when the decoder parameters are missing or incompatible.
	ErrConfig = vaeerr.ErrConfig

	// ErrArgument is raised when decoding with invalid arguments, e.g.: a length that doesn't divide evenly.
	ErrArgument = vaeerr.ErrArgument
)

// Decoder expands latent vectors shaped [batchSize, ZDims()] into sequences shaped [batchSize, length, OutputDims()].
type Decoder interface {
	Kind() Kind

	// ZDims is the expected width of the latent vectors.
	ZDims() int

	// OutputDims is the width of each output step.
	OutputDims() int

	// Decode builds the graph that decodes z into length steps. initialInput, shaped [batchSize, OutputDims()],
	// is fed as the input of the first step; if nil, zeros are used.
	//
	// The output is a Bool tensor shaped [batchSize, length, OutputDims()].
	Decode(z *Node, length int, initialInput *Node, sampler *Sampler) *Node

	// decodeSamples is like Decode, but returns the samples with the dtype of z, holding 0s and 1s.
	decodeSamples(z *Node, length int, initialInput *Node, sampler *Sampler) *Node
}

// toBool converts samples holding 0s and 1s to booleans.
func toBool(samples *Node) *Node {
	return GreaterOrEqual(samples, ConstAs(samples, 0.5))
}

func checkLatent(d Decoder, z *Node) {
	if z.Rank() != 2 || z.Shape().Dim(1) != d.ZDims() {
		vaeerr.Panicf(ErrArgument, "%s decoder expects latent vectors shaped [batchSize, %d], got %s",
			d.Kind(), d.ZDims(), z.Shape())
	}
}
