// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package musicvae

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/izambard/magenta-js/pkg/arena"
	"github.com/izambard/magenta-js/pkg/converters"
	"github.com/izambard/magenta-js/pkg/decoders"
	"github.com/izambard/magenta-js/pkg/encoders"
	"github.com/izambard/magenta-js/pkg/layers"
	"github.com/pkg/errors"
)

// Checkpoint key templates: "%d" is the layer (or level) index, and the bidirectional directions are "fw" and "bw".
const (
	encoderMuPrefix           = "encoder/mu/"
	flatEncoderTemplate       = "encoder/cell_%%d/bidirectional_rnn/%s/multi_rnn_cell/cell_0/lstm_cell/"
	hierarchicalLevelTemplate = "encoder/hierarchical_level_%%d/cell_0/bidirectional_rnn/%s/multi_rnn_cell/cell_0/lstm_cell/"

	// Hierarchical models nest their base decoders under coreDecoderPrefix, and split ones under coreDecoderTemplate.
	coreDecoderPrefix     = "core_decoder/"
	coreDecoderTemplate   = "core_decoder_%d/"
	decoderLayersTemplate = "decoder/multi_rnn_cell/cell_%d/lstm_cell/"
	decoderZToInitState   = "decoder/z_to_initial_state/"
	decoderOutputProj     = "decoder/output_projection/"
	decoderNadeEnc        = "decoder/nade/w_enc"
	decoderNadeDecT       = "decoder/nade/w_dec_t"

	conductorLayersTemplate = "decoder/hierarchical_level_0/cell_%d/lstm_cell/"
	conductorInitState      = "decoder/hierarchical_level_0/initial_state/"

	// numHierarchicalLevels is the only supported depth of hierarchical encoders.
	numHierarchicalLevels = 2
)

// Topology is the encoder and decoder trees assembled from a checkpoint.
type Topology struct {
	Encoder encoders.Encoder
	Decoder decoders.Decoder

	// Unused lists the checkpoint keys not referenced by the topology.
	Unused []string
}

// topologyBuilder assembles layers from the Arena variables, and keeps track of the keys used.
type topologyBuilder struct {
	arena *arena.Arena
	used  sets.Set[string]
}

// BuildTopology assembles the encoder and decoder described by the checkpoint held in a, for the given converter.
//
// Converters with more than one segment require a hierarchical encoder with 2 levels and a conductor
// decoder; otherwise a single layer bidirectional encoder and exactly one base decoder are required.
// Converters with splits require one base decoder stream per split.
func BuildTopology(a *arena.Arena, converter converters.Converter) (*Topology, error) {
	b := &topologyBuilder{arena: a, used: sets.Make[string]()}
	hierarchical := converter.NumSegments() > 1
	var (
		topology Topology
		err      error
	)
	if hierarchical {
		topology.Encoder, err = b.hierarchicalEncoder(converter.NumSegments())
	} else {
		topology.Encoder, err = b.flatEncoder()
	}
	if err != nil {
		return nil, err
	}

	numStreams := max(converter.NumSplits(), 1)
	if !hierarchical && numStreams != 1 {
		return nil, errors.Wrapf(ErrTopology, "unexpected number of base decoders without conductor: %d", numStreams)
	}
	streams := make([]decoders.Decoder, numStreams)
	for ii := range streams {
		if streams[ii], err = b.baseDecoder(baseDecoderPrefix(hierarchical, converter.NumSplits() > 0, ii)); err != nil {
			return nil, err
		}
	}
	if hierarchical {
		topology.Decoder, err = b.conductor(streams, converter.NumSegments())
		if err != nil {
			return nil, err
		}
	} else {
		topology.Decoder = streams[0]
	}

	for _, key := range a.Keys() {
		if !b.used.Has(key) {
			topology.Unused = append(topology.Unused, key)
		}
	}
	return &topology, nil
}

// baseDecoderPrefix returns the checkpoint prefix of the base decoder stream ii: "core_decoder/" for hierarchical
// models, followed by "core_decoder_<ii>/" for split ones.
func baseDecoderPrefix(hierarchical, split bool, ii int) string {
	var prefix string
	if hierarchical {
		prefix = coreDecoderPrefix
	}
	if split {
		prefix += fmt.Sprintf(coreDecoderTemplate, ii)
	}
	return prefix
}

// layer returns the dense layer under prefix.
func (b *topologyBuilder) layer(prefix string) (*layers.LayerVars, error) {
	b.used.Insert(prefix+"kernel", prefix+"bias")
	lv, err := layers.NewLayerVars(b.arena.Pair(prefix))
	if err != nil {
		return nil, errors.WithMessagef(err, "layer %q", prefix)
	}
	return lv, nil
}

// stack returns the layers discovered with template.
func (b *topologyBuilder) stack(template string) ([]*layers.LayerVars, error) {
	n := arena.DiscoverLayers(template, b.arena.Has)
	result := make([]*layers.LayerVars, n)
	for ii, prefix := range arena.LayerPrefixes(template, n) {
		var err error
		if result[ii], err = b.layer(prefix); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// bidirectional returns the forward and backward layers of each level or layer discovered with template,
// which has a "%s" for the direction.
func (b *topologyBuilder) bidirectional(template string) (fw, bw []*layers.LayerVars, err error) {
	if fw, err = b.stack(fmt.Sprintf(template, "fw")); err != nil {
		return
	}
	bw, err = b.stack(fmt.Sprintf(template, "bw"))
	return
}

func (b *topologyBuilder) flatEncoder() (encoders.Encoder, error) {
	fw, bw, err := b.bidirectional(flatEncoderTemplate)
	if err != nil {
		return nil, err
	}
	if len(fw) != 1 || len(bw) != 1 {
		return nil, errors.Wrapf(ErrTopology, "expected 1 bidirectional encoder layer, found %d forward and %d backward",
			len(fw), len(bw))
	}
	mu, err := b.layer(encoderMuPrefix)
	if err != nil {
		return nil, err
	}
	return encoders.NewBidirectionalLSTM(fw[0], bw[0], mu)
}

func (b *topologyBuilder) hierarchicalEncoder(numSegments int) (encoders.Encoder, error) {
	fw, bw, err := b.bidirectional(hierarchicalLevelTemplate)
	if err != nil {
		return nil, err
	}
	if len(fw) != numHierarchicalLevels || len(bw) != numHierarchicalLevels {
		return nil, errors.Wrapf(ErrTopology, "hierarchical encoder requires %d levels, found %d forward and %d backward",
			numHierarchicalLevels, len(fw), len(bw))
	}
	levels := make([]encoders.Encoder, numHierarchicalLevels)
	for ii := range levels {
		if levels[ii], err = encoders.NewBidirectionalLSTM(fw[ii], bw[ii], nil); err != nil {
			return nil, errors.WithMessagef(err, "hierarchical encoder level %d", ii)
		}
	}
	mu, err := b.layer(encoderMuPrefix)
	if err != nil {
		return nil, err
	}
	return encoders.NewHierarchical(levels, []int{numSegments, 1}, mu)
}

func (b *topologyBuilder) baseDecoder(prefix string) (*decoders.Base, error) {
	cells, err := b.stack(prefix + decoderLayersTemplate)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, errors.Wrapf(ErrTopology, "no LSTM layers found for decoder %q", prefix+"decoder/")
	}
	zToInitState, err := b.layer(prefix + decoderZToInitState)
	if err != nil {
		return nil, err
	}
	outputProjection, err := b.layer(prefix + decoderOutputProj)
	if err != nil {
		return nil, err
	}
	var nade *layers.Nade
	if b.arena.Has(prefix + decoderNadeEnc) {
		b.used.Insert(prefix+decoderNadeEnc, prefix+decoderNadeDecT)
		nade, err = layers.NewNade(b.arena.Variable(prefix+decoderNadeEnc), b.arena.Variable(prefix+decoderNadeDecT))
		if err != nil {
			return nil, errors.WithMessagef(err, "decoder %q", prefix+"decoder/")
		}
	}
	base, err := decoders.NewBase(cells, zToInitState, outputProjection, nade)
	if err != nil {
		return nil, errors.WithMessagef(err, "decoder %q", prefix+"decoder/")
	}
	return base, nil
}

func (b *topologyBuilder) conductor(streams []decoders.Decoder, numSegments int) (decoders.Decoder, error) {
	cells, err := b.stack(conductorLayersTemplate)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, errors.Wrapf(ErrTopology, "no conductor LSTM layers found")
	}
	initState, err := b.layer(conductorInitState)
	if err != nil {
		return nil, err
	}
	return decoders.NewConductor(streams, cells, initState, numSegments)
}
