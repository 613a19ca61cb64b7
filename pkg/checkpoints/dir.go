// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/izambard/magenta-js/pkg/arena"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Dir loads the weights from a GoMLX checkpoint directory.
type Dir struct {
	path string
}

var (
	_ Loader  = (*Dir)(nil)
	_ Fetcher = (*Dir)(nil)
)

// FromDir creates a loader for the GoMLX checkpoint directory path.
func FromDir(path string) *Dir {
	return &Dir{path: path}
}

// Path of the checkpoint directory.
func (d *Dir) Path() string { return d.path }

// Load implements Loader: the variables of the latest checkpoint are converted back to checkpoint keys.
func (d *Dir) Load() (map[string]*tensors.Tensor, error) {
	if _, err := os.Stat(d.path); err != nil {
		return nil, errors.Wrapf(err, "checkpoint directory %q", d.path)
	}
	ctx := context.New()
	if _, err := checkpoints.Build(ctx).Dir(d.path).Immediate().Done(); err != nil {
		return nil, errors.WithMessagef(err, "loading checkpoint directory %q", d.path)
	}
	weights := make(map[string]*tensors.Tensor)
	for v := range ctx.IterVariables() {
		if isBookkeeping(v) {
			continue
		}
		value, err := v.Value()
		if err != nil {
			finalizeAll(weights)
			return nil, errors.WithMessagef(err, "reading variable %q", v.ScopeAndName())
		}
		weights[arena.Key(v.Scope(), v.Name())] = value
	}
	if len(weights) == 0 {
		return nil, errors.Wrapf(ErrFormat, "no variables found in checkpoint directory %q", d.path)
	}
	klog.V(1).Infof("checkpoints: loaded %d weights from %q", len(weights), d.path)
	return weights, nil
}

// isBookkeeping returns whether v is a training variable added by GoMLX, and not a model weight.
func isBookkeeping(v *context.Variable) bool {
	return v.Scope() == context.RootScope && v.Name() == optimizers.GlobalStepVariableName
}

// Fetch implements Fetcher, reading the named file from the checkpoint directory.
func (d *Dir) Fetch(name string) ([]byte, error) {
	if err := checkFileName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.path, filepath.FromSlash(name)))
	return data, errors.Wrapf(err, "reading checkpoint file %q", name)
}

// SaveDir saves weights as a GoMLX checkpoint in the directory path, and writes config (if not nil)
// as its ConfigFileName. The directory must not hold a previous checkpoint.
//
// Weights are not finalized: the caller keeps their ownership.
func SaveDir(path string, weights map[string]*tensors.Tensor, config []byte) error {
	if entries, err := os.ReadDir(path); err == nil && len(entries) > 0 {
		return errors.Errorf("checkpoint directory %q is not empty", path)
	}
	ctx := context.New()
	for key, t := range weights {
		scope, name := arena.ScopeAndName(key)
		ctx.InAbsPath(scope).VariableWithValue(name, t).SetTrainable(false)
	}
	handler, err := checkpoints.Build(ctx).Dir(path).Keep(-1).Done()
	if err != nil {
		return errors.WithMessagef(err, "creating checkpoint directory %q", path)
	}
	if err = handler.Save(); err != nil {
		return errors.WithMessagef(err, "saving checkpoint to %q", path)
	}
	if config != nil {
		if err = os.WriteFile(filepath.Join(path, ConfigFileName), config, 0o644); err != nil {
			return errors.Wrapf(err, "writing %s to %q", ConfigFileName, path)
		}
	}
	klog.V(1).Infof("checkpoints: saved %d weights to %q", len(weights), path)
	return nil
}
