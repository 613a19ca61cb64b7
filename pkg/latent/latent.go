// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package latent implements operations on MusicVAE latent vectors: linear and bilinear interpolation,
// and mixing with random noise.
//
// Interpolations are computed as a product of a constant weights matrix and the stacked endpoints,
// so the endpoints are reproduced exactly (their weights are exactly 1 and 0).
package latent

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/izambard/magenta-js/internal/vaeerr"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// ErrArgument is returned for an unsupported batch size, number of interpolations or similarity.
var ErrArgument = vaeerr.ErrArgument

// Spaced returns n values evenly spaced from 0 to 1, both included. For n == 1 it returns [0].
func Spaced[T constraints.Float](n int) []T {
	values := make([]T, n)
	if n == 1 {
		return values
	}
	for ii := range values {
		values[ii] = T(ii) / T(n-1)
	}
	values[n-1] = 1
	return values
}

// LinearWeights returns the [numInterps, 2] weights (1-t, t) for each interpolation t.
func LinearWeights[T constraints.Float](numInterps int) [][]T {
	weights := make([][]T, numInterps)
	for ii, t := range Spaced[T](numInterps) {
		weights[ii] = []T{1 - t, t}
	}
	return weights
}

// BilinearWeights returns the [numInterps*numInterps, 4] weights of the 4 corners (A, B, C, D) for each point
// of the grid, in row-major order: the row index selects t and the column index selects u, and the weights
// are ((1-t)(1-u), t(1-u), (1-t)u, tu).
func BilinearWeights[T constraints.Float](numInterps int) [][]T {
	spaced := Spaced[T](numInterps)
	weights := make([][]T, 0, numInterps*numInterps)
	for _, t := range spaced {
		for _, u := range spaced {
			weights = append(weights, []T{(1 - t) * (1 - u), t * (1 - u), (1 - t) * u, t * u})
		}
	}
	return weights
}

// Validate checks that a batch of batchSize latent vectors can be interpolated with numInterps.
func Validate(batchSize, numInterps int) error {
	if batchSize != 2 && batchSize != 4 {
		return errors.Wrapf(ErrArgument, "interpolation requires 2 or 4 sequences, got %d", batchSize)
	}
	if numInterps < 1 {
		return errors.Wrapf(ErrArgument, "number of interpolations must be at least 1, got %d", numInterps)
	}
	return nil
}

// NumOutputs returns the number of vectors Interpolations generates.
func NumOutputs(batchSize, numInterps int) int {
	if batchSize == 4 {
		return numInterps * numInterps
	}
	return numInterps
}

// Interpolations of the latent vectors z, shaped [batchSize, zDims]:
//
//   - batchSize == 2: linear interpolation between z[0] and z[1], returning [numInterps, zDims];
//   - batchSize == 4: bilinear interpolation of the corners z[0..3], returning [numInterps*numInterps, zDims].
//
// It panics with an error wrapping ErrArgument for other batch sizes.
func Interpolations(z *Node, numInterps int) *Node {
	if z.Rank() != 2 {
		vaeerr.Panicf(ErrArgument, "interpolation requires latent vectors shaped [batchSize, zDims], got %s", z.Shape())
	}
	if err := Validate(z.Shape().Dim(0), numInterps); err != nil {
		panic(err)
	}
	g := z.Graph()
	var weights *Node
	if z.Shape().Dim(0) == 2 {
		weights = Const(g, LinearWeights[float64](numInterps))
	} else {
		weights = Const(g, BilinearWeights[float64](numInterps))
	}
	return MatMul(ConvertDType(weights, z.DType()), z)
}

// Similar mixes z, shaped [1, zDims] or [batchSize, zDims], with noise shaped [batchSize, zDims]:
// similarity*z + (1-similarity)*noise.
func Similar(z, noise *Node, similarity float64) *Node {
	if similarity < 0 || similarity > 1 {
		vaeerr.Panicf(ErrArgument, "similarity must be between 0 and 1, got %g", similarity)
	}
	return Mix(z, noise, Scalar(z.Graph(), z.DType(), similarity))
}

// Mix is like Similar, but takes the similarity as a scalar node, so it can be fed at execution time.
// The similarity is not validated.
func Mix(z, noise, similarity *Node) *Node {
	similarity = ConvertDType(similarity, z.DType())
	if !z.Shape().Equal(noise.Shape()) {
		z = BroadcastToDims(z, noise.Shape().Dimensions...)
	}
	return Add(Mul(z, similarity), Mul(noise, OneMinus(similarity)))
}
