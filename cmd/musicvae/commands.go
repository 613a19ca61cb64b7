// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/izambard/magenta-js/pkg/checkpoints"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// inspect prints the topology assembled from the checkpoint and its variables.
// Variables not used by the model are highlighted.
func inspect() error {
	m, err := newModel()
	if err != nil {
		return err
	}
	defer m.Dispose()
	topology, a, converter := m.Topology(), m.Arena(), m.Converter()

	summary := newReport("Summary")
	zDims, _ := topology.Encoder.ZDims()
	summary.field("checkpoint", "%s", m.Location())
	summary.field("converter", "%T", converter)
	summary.field("steps", "%d (segments=%d, splits=%d)",
		converter.NumSteps(), converter.NumSegments(), converter.NumSplits())
	summary.field("depth", "input=%d, output=%d", converter.Depth(), converter.OutputDepth())
	summary.field("encoder", "%s", topology.Encoder.Kind())
	summary.field("decoder", "%s", topology.Decoder.Kind())
	summary.field("latent", "%d", zDims)
	summary.field("# variables", "%s", humanize.Comma(int64(len(a.Keys()))))
	summary.field("# parameters", "%s", humanize.Comma(int64(a.NumParameters())))
	summary.field("# bytes", "%s", humanize.Bytes(uint64(a.Memory())))
	summary.add(len(topology.Unused) > 0, "# unused", humanize.Comma(int64(len(topology.Unused))))
	fmt.Println(summary.Render())

	unused := make(map[string]bool, len(topology.Unused))
	for _, key := range topology.Unused {
		unused[key] = true
	}
	variables := newReport("Variables", "Key", "Shape", "Size", "Bytes")
	for _, key := range a.Keys() {
		shape := a.Variable(key).Shape()
		variables.add(unused[key], key, shape.String(),
			humanize.Comma(int64(shape.Size())), humanize.Bytes(uint64(shape.Memory())))
	}
	fmt.Println(variables.Render())
	return nil
}

// convert downloads the checkpoint and saves it in the GoMLX checkpoint format, along with its
// configuration, so it can be loaded without network access.
func convert(args []string) error {
	if len(args) != 1 {
		return errors.Errorf("convert takes the output directory, got %d arguments", len(args))
	}
	loader, err := checkpoints.Open(*flagCheckpoint)
	if err != nil {
		return err
	}
	if manifest, ok := loader.(*checkpoints.Manifest); ok {
		manifest.WithProgressBar(*flagProgress)
	}
	weights, err := loader.Load()
	if err != nil {
		return err
	}
	defer func() {
		for _, t := range weights {
			must.M(t.FinalizeAll())
		}
	}()
	var config []byte
	if fetcher, ok := loader.(checkpoints.Fetcher); ok {
		config, err = fetcher.Fetch(checkpoints.ConfigFileName)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if config == nil {
		klog.Warningf("checkpoint %q has no %s, the converter will have to be set explicitly",
			*flagCheckpoint, checkpoints.ConfigFileName)
	}
	if err = checkpoints.SaveDir(args[0], weights, config); err != nil {
		return err
	}
	fmt.Printf("Converted %d variables from %q to %q\n", len(weights), *flagCheckpoint, args[0])
	return nil
}
