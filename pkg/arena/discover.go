// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arena

import "fmt"

// DiscoverLayers counts the layers described by template, a key prefix with one "%d" for the layer index.
//
// It probes indices 0, 1, 2, ... and stops at the first index whose "<prefix>kernel" key is not present
// according to has. It is a pure function of has, so it can be used with Arena.Has or any other key set.
func DiscoverLayers(template string, has func(key string) bool) int {
	n := 0
	for has(fmt.Sprintf(template, n) + "kernel") {
		n++
	}
	return n
}

// LayerPrefixes returns the prefixes for the n layers described by template.
func LayerPrefixes(template string, n int) []string {
	prefixes := make([]string, n)
	for ii := range n {
		prefixes[ii] = fmt.Sprintf(template, ii)
	}
	return prefixes
}
