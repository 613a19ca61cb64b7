// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import "github.com/izambard/magenta-js/internal/vaeerr"

// ErrConfig is returned (or raised while building a graph) when parameters are missing or incompatible.
var ErrConfig = vaeerr.ErrConfig
