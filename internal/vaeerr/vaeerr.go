// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vaeerr holds the error kinds shared by the MusicVAE packages.
//
// Public packages re-export them, so callers can use errors.Is against any of the exported names.
package vaeerr

import "github.com/pkg/errors"

var (
	// ErrConfig is returned when layer parameters are missing or have incompatible shapes.
	ErrConfig = errors.New("invalid configuration")

	// ErrTopology is returned when the checkpoint describes an unsupported number of layers, levels or streams.
	ErrTopology = errors.New("unsupported topology")

	// ErrArgument is returned for invalid call arguments: wrong batch sizes, lengths that don't divide evenly, etc.
	ErrArgument = errors.New("invalid argument")
)

// Panicf panics with an error wrapping kind, to be recovered with exceptions.TryCatch at the API boundary.
func Panicf(kind error, format string, args ...any) {
	panic(errors.Wrapf(kind, format, args...))
}
