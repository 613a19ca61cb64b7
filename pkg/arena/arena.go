// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package arena owns the weights of a loaded MusicVAE checkpoint.
//
// Checkpoint tensors are stored as variables of a GoMLX context.Context, using the checkpoint
// key as the variable path: "decoder/output_projection/kernel" is stored as variable "kernel"
// in scope "/decoder/output_projection".
//
// Layers hold *context.Variable views into the Arena. The Arena exclusively owns the tensors:
// Dispose finalizes all of them at once, and afterward all views become invalid.
package arena

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Arena holds the loaded checkpoint variables in a context.Context.
type Arena struct {
	ctx      *context.Context
	keys     []string
	disposed bool
}

// New creates an Arena taking ownership of the given name→tensor mapping.
//
// Tensors are not copied: after New the caller should no longer use (or finalize) them.
// Ownership is taken even if New fails: all the tensors are then finalized.
func New(weights map[string]*tensors.Tensor) (*Arena, error) {
	a := &Arena{ctx: context.New()}
	keys := slices.Sorted(maps.Keys(weights))
	for ii, key := range keys {
		t := weights[key]
		var err error
		scope, name := ScopeAndName(key)
		switch {
		case t == nil:
			err = errors.Errorf("checkpoint variable %q has no value", key)
		case name == "":
			err = errors.Errorf("invalid checkpoint variable name %q", key)
		}
		if err != nil {
			a.Dispose()
			for _, pending := range keys[ii:] {
				if t := weights[pending]; t != nil {
					_ = t.FinalizeAll()
				}
			}
			return nil, err
		}
		a.ctx.InAbsPath(scope).VariableWithValue(name, t).SetTrainable(false)
		a.keys = append(a.keys, key)
	}
	klog.V(1).Infof("arena: loaded %d variables", len(a.keys))
	return a, nil
}

// ScopeAndName converts a checkpoint key to the context scope and variable name that store it.
func ScopeAndName(key string) (scope, name string) {
	key = strings.Trim(key, context.ScopeSeparator)
	idx := strings.LastIndex(key, context.ScopeSeparator)
	if idx == -1 {
		return context.RootScope, key
	}
	return context.ScopeSeparator + key[:idx], key[idx+1:]
}

// Key is the inverse of ScopeAndName: it converts a variable scope and name back to a checkpoint key.
func Key(scope, name string) string {
	scope = strings.Trim(scope, context.ScopeSeparator)
	if scope == "" {
		return name
	}
	return scope + context.ScopeSeparator + name
}

// Context returns the context holding the variables. It should be used to build the executors
// of the graphs that reference the Arena's variables.
func (a *Arena) Context() *context.Context { return a.ctx }

// Keys returns the sorted checkpoint keys held by the Arena.
func (a *Arena) Keys() []string { return a.keys }

// Has returns whether the checkpoint key is present.
func (a *Arena) Has(key string) bool {
	return a.Variable(key) != nil
}

// Variable returns a view to the variable stored under key, or nil if it is not present.
func (a *Arena) Variable(key string) *context.Variable {
	if a.disposed {
		return nil
	}
	scope, name := ScopeAndName(key)
	return a.ctx.GetVariableByScopeAndName(scope, name)
}

// Pair returns the "kernel" and "bias" variables under prefix. Any of them may be nil if absent.
func (a *Arena) Pair(prefix string) (kernel, bias *context.Variable) {
	return a.Variable(prefix + "kernel"), a.Variable(prefix + "bias")
}

// NumParameters returns the total number of scalar values held.
func (a *Arena) NumParameters() int {
	if a.disposed {
		return 0
	}
	return a.ctx.NumParameters()
}

// Memory returns the number of bytes used by the variables.
func (a *Arena) Memory() uintptr {
	if a.disposed {
		return 0
	}
	return a.ctx.Memory()
}

// IsDisposed returns whether Dispose was called.
func (a *Arena) IsDisposed() bool { return a.disposed }

// Dispose finalizes every tensor owned by the Arena. It is safe to call more than once.
func (a *Arena) Dispose() {
	if a.disposed {
		return
	}
	a.disposed = true
	a.ctx.Finalize()
	a.keys = nil
}

// String implements fmt.Stringer.
func (a *Arena) String() string {
	if a.disposed {
		return "Arena(disposed)"
	}
	return fmt.Sprintf("Arena(%d variables, %d parameters)", len(a.keys), a.ctx.NumParameters())
}
