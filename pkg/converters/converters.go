// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package converters translates between quantized notes.NoteSequence and the tensors the MusicVAE
// encoders consume and the decoders produce.
//
// Each Converter defines the sequence length (NumSteps), how it's split in segments (NumSegments, used by
// hierarchical models) and in parallel streams (NumSplits, e.g. the trio tracks), and the depth of
// each step.
package converters

import (
	"encoding/json"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/izambard/magenta-js/pkg/notes"
	"github.com/pkg/errors"
)

var (
	// ErrConfig is returned for an unknown converter type or invalid converter arguments.
	ErrConfig = errors.New("invalid converter configuration")

	// ErrSequence is returned when a NoteSequence cannot be represented by the converter.
	ErrSequence = errors.New("unsupported note sequence")
)

// Converter translates between NoteSequence and tensors.
type Converter interface {
	// NumSteps is the length of the sequences, in quantized steps.
	NumSteps() int

	// NumSegments is the number of segments used by hierarchical models, or 0.
	NumSegments() int

	// NumSplits is the number of parallel streams (core decoders) the output is split into, or 0.
	NumSplits() int

	// Depth is the width of each step of the input tensors.
	Depth() int

	// OutputDepth is the width of each step of the tensors produced by the decoder.
	OutputDepth() int

	// ToTensor converts a quantized sequence to a float32 tensor shaped [NumSteps, Depth].
	ToTensor(seq *notes.NoteSequence) (*tensors.Tensor, error)

	// ToNoteSequence converts a decoder output shaped [NumSteps, OutputDepth] (Bool or float) to a quantized
	// NoteSequence. If stepsPerQuarter or qpm are 0, notes.DefaultStepsPerQuarter and notes.DefaultQPM are used.
	ToNoteSequence(t *tensors.Tensor, stepsPerQuarter int, qpm float64) (*notes.NoteSequence, error)
}

// Spec is the "dataConverter" section of a checkpoint config.json.
type Spec struct {
	Type string `json:"type"`
	Args Args   `json:"args"`
}

// Args holds the arguments of all converter types. Fields not used by a converter type are ignored.
type Args struct {
	NumSteps        int     `json:"numSteps"`
	NumSegments     int     `json:"numSegments,omitempty"`
	MinPitch        int     `json:"minPitch,omitempty"`
	MaxPitch        int     `json:"maxPitch,omitempty"`
	IgnorePolyphony *bool   `json:"ignorePolyphony,omitempty"`
	PitchClasses    [][]int `json:"pitchClasses,omitempty"`

	// Trio sub-converters arguments.
	MelArgs   *Args `json:"melArgs,omitempty"`
	BassArgs  *Args `json:"bassArgs,omitempty"`
	DrumsArgs *Args `json:"drumsArgs,omitempty"`
}

// ParseSpec parses a converter spec from JSON.
func ParseSpec(data []byte) (Spec, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, errors.Wrapf(ErrConfig, "failed to parse converter spec: %v", err)
	}
	return spec, nil
}

// FromSpec creates the Converter described by spec.
func FromSpec(spec Spec) (Converter, error) {
	args := spec.Args
	if args.NumSteps <= 0 {
		return nil, errors.Wrapf(ErrConfig, "converter %q requires a positive numSteps, got %d", spec.Type, args.NumSteps)
	}
	if args.NumSegments < 0 || (args.NumSegments > 0 && args.NumSteps%args.NumSegments != 0) {
		return nil, errors.Wrapf(ErrConfig, "converter %q numSteps=%d is not divisible in %d segments",
			spec.Type, args.NumSteps, args.NumSegments)
	}
	switch spec.Type {
	case "MelodyConverter":
		return NewMelody(args)
	case "DrumsConverter":
		return NewDrums(args)
	case "DrumRollConverter":
		return NewDrumRoll(args)
	case "TrioConverter":
		return NewTrio(args)
	}
	return nil, errors.Wrapf(ErrConfig, "unknown converter type %q", spec.Type)
}

// checkQuantized returns an error if seq is not quantized.
func checkQuantized(seq *notes.NoteSequence) error {
	if seq == nil || !seq.IsQuantized() {
		return errors.Wrap(ErrSequence, "converters require a quantized NoteSequence")
	}
	return nil
}

// oneHot returns a float32 tensor shaped [len(labels), depth].
func oneHot(labels []int, depth int) *tensors.Tensor {
	flat := make([]float32, len(labels)*depth)
	for step, label := range labels {
		flat[step*depth+label] = 1
	}
	return tensors.FromFlatDataAndDimensions(flat, len(labels), depth)
}

// readSteps returns the rows of a decoder output tensor shaped [numSteps, depth], as booleans.
// Float tensors are thresholded at 0.5.
func readSteps(t *tensors.Tensor, numSteps, depth int) ([][]bool, error) {
	if t == nil {
		return nil, errors.Wrap(ErrSequence, "nil tensor")
	}
	if t.Rank() != 2 || t.Shape().Dim(0) != numSteps || t.Shape().Dim(1) != depth {
		return nil, errors.Wrapf(ErrSequence, "expected tensor shaped [%d, %d], got %s", numSteps, depth, t.Shape())
	}
	var flat []bool
	switch t.DType() {
	case dtypes.Bool:
		flat = tensors.MustCopyFlatData[bool](t)
	case dtypes.Float32:
		for _, v := range tensors.MustCopyFlatData[float32](t) {
			flat = append(flat, v >= 0.5)
		}
	case dtypes.Float64:
		for _, v := range tensors.MustCopyFlatData[float64](t) {
			flat = append(flat, v >= 0.5)
		}
	default:
		return nil, errors.Wrapf(ErrSequence, "unsupported tensor dtype %s", t.DType())
	}
	rows := make([][]bool, numSteps)
	for step := range rows {
		rows[step] = flat[step*depth : (step+1)*depth]
	}
	return rows, nil
}

// argMax returns the index of the first true value of row, or -1.
func argMax(row []bool) int {
	for ii, v := range row {
		if v {
			return ii
		}
	}
	return -1
}

// newSequence returns an empty quantized sequence of numSteps.
func newSequence(numSteps, stepsPerQuarter int, qpm float64) *notes.NoteSequence {
	if stepsPerQuarter <= 0 {
		stepsPerQuarter = notes.DefaultStepsPerQuarter
	}
	if qpm <= 0 {
		qpm = notes.DefaultQPM
	}
	return &notes.NoteSequence{
		QuantizationInfo:    &notes.QuantizationInfo{StepsPerQuarter: stepsPerQuarter},
		Tempos:              []notes.Tempo{{QPM: qpm}},
		TotalQuantizedSteps: numSteps,
	}
}

// base holds the common configuration of the converters.
type base struct {
	numSteps, numSegments int
}

func (b base) NumSteps() int    { return b.numSteps }
func (b base) NumSegments() int { return b.numSegments }
func (b base) NumSplits() int   { return 0 }
