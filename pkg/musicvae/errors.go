// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package musicvae

import (
	"github.com/izambard/magenta-js/internal/vaeerr"
	"github.com/pkg/errors"
)

var (
	// ErrConfig is returned when the checkpoint parameters are missing or have incompatible shapes,
	// or when the converter doesn't match the checkpoint.
	ErrConfig = vaeerr.ErrConfig

	// ErrTopology is returned when the checkpoint describes an unsupported number of encoder levels,
	// layers or decoder streams.
	ErrTopology = vaeerr.ErrTopology

	// ErrArgument is returned for invalid call arguments: interpolation batch sizes, similarity range, empty inputs.
	ErrArgument = vaeerr.ErrArgument

	// ErrNotInitialized is returned by inference calls before Initialize or after Dispose.
	ErrNotInitialized = errors.New("MusicVAE is not initialized")
)
