// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints loads MusicVAE weights as a flat mapping from checkpoint keys
// (e.g. "decoder/output_projection/kernel") to tensors.
//
// Supported sources:
//
//   - Manifest: TensorFlow.js "weights_manifest.json" plus binary shards, from a local directory or an
//     HTTP(S) URL. Remote files are cached locally.
//   - Dir: a GoMLX checkpoint directory, e.g. one created with SaveDir.
//   - Map: weights already in memory.
//
// Use Open to pick the loader from a location.
package checkpoints

import (
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ManifestFileName is the name of the TensorFlow.js weights manifest.
const ManifestFileName = "weights_manifest.json"

// ConfigFileName is the name of the optional sidecar configuration of a checkpoint.
const ConfigFileName = "config.json"

// ErrFormat is returned when a checkpoint is malformed.
var ErrFormat = errors.New("invalid checkpoint format")

// Loader loads all the weights of a checkpoint.
type Loader interface {
	// Load returns the weights. The caller owns the returned tensors.
	Load() (map[string]*tensors.Tensor, error)
}

// Fetcher is implemented by loaders that can read auxiliary files stored along the weights, like ConfigFileName.
type Fetcher interface {
	// Fetch returns the contents of the named file. It returns an error wrapping os.ErrNotExist if it's missing.
	Fetch(name string) ([]byte, error)
}

// Map is a Loader of weights already in memory.
type Map map[string]*tensors.Tensor

var _ Loader = Map(nil)

// Load implements Loader. It returns a shallow copy of the map: the tensors themselves are not copied,
// and ownership is transferred to the caller.
func (m Map) Load() (map[string]*tensors.Tensor, error) {
	return maps.Clone(m), nil
}

// IsRemote returns whether location is an HTTP(S) URL.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Open returns the loader for location: a Manifest for URLs and for directories holding a ManifestFileName,
// and a Dir otherwise.
func Open(location string) (Loader, error) {
	if IsRemote(location) {
		return FromManifest(location), nil
	}
	info, err := os.Stat(location)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint location %q", location)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(ErrFormat, "checkpoint location %q is not a directory", location)
	}
	if _, err = os.Stat(filepath.Join(location, ManifestFileName)); err == nil {
		return FromManifest(location), nil
	}
	return FromDir(location), nil
}
