// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package converters

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/izambard/magenta-js/pkg/notes"
	"github.com/pkg/errors"
)

// DefaultDrumPitchClasses maps MIDI drum pitches to 9 classes. The first pitch of each class is used
// when generating notes.
var DefaultDrumPitchClasses = [][]int{
	// Bass drum.
	{36, 35},
	// Snare drum.
	{38, 27, 28, 31, 32, 33, 34, 37, 39, 40, 56, 65, 66, 75, 85},
	// Closed hi-hat.
	{42, 44, 54, 68, 69, 70, 71, 73, 78, 80},
	// Open hi-hat.
	{46, 67, 72, 74, 79, 81},
	// Low tom.
	{45, 29, 41, 61, 64, 84},
	// Mid tom.
	{48, 47, 60, 63, 77, 86, 87},
	// High tom.
	{50, 30, 43, 62, 76, 83},
	// Crash cymbal.
	{49, 55, 57, 58},
	// Ride cymbal.
	{51, 52, 53, 59, 82},
}

// drumClasses maps drum pitches to their class.
type drumClasses struct {
	classes    [][]int
	pitchClass map[int]int
}

func newDrumClasses(pitchClasses [][]int) (drumClasses, error) {
	if len(pitchClasses) == 0 {
		pitchClasses = DefaultDrumPitchClasses
	}
	d := drumClasses{classes: pitchClasses, pitchClass: make(map[int]int)}
	for class, pitches := range pitchClasses {
		if len(pitches) == 0 {
			return d, errors.Wrapf(ErrConfig, "drum pitch class #%d is empty", class)
		}
		for _, pitch := range pitches {
			if _, found := d.pitchClass[pitch]; found {
				return d, errors.Wrapf(ErrConfig, "drum pitch %d belongs to more than one class", pitch)
			}
			d.pitchClass[pitch] = class
		}
	}
	return d, nil
}

// hits returns, for each of the numSteps steps, the set of classes hit at that step.
func (d drumClasses) hits(seq *notes.NoteSequence, numSteps int) ([][]bool, error) {
	if err := checkQuantized(seq); err != nil {
		return nil, err
	}
	hits := make([][]bool, numSteps)
	for step := range hits {
		hits[step] = make([]bool, len(d.classes))
	}
	for _, note := range seq.Notes {
		if !note.IsDrum || note.QuantizedStartStep >= numSteps {
			continue
		}
		class, found := d.pitchClass[note.Pitch]
		if !found {
			continue
		}
		hits[note.QuantizedStartStep][class] = true
	}
	return hits, nil
}

// toNotes converts hits per step to one step long drum notes.
func (d drumClasses) toNotes(hits [][]bool, instrument int) []notes.Note {
	var result []notes.Note
	for step, classes := range hits {
		for class, hit := range classes {
			if hit {
				result = append(result, notes.Note{
					Pitch:              d.classes[class][0],
					Velocity:           notes.DefaultVelocity,
					Instrument:         instrument,
					IsDrum:             true,
					QuantizedStartStep: step,
					QuantizedEndStep:   step + 1,
				})
			}
		}
	}
	return result
}

// Drums converts drum tracks to one-hot labels: the label of each step is the bitmask of the classes hit.
type Drums struct {
	base
	drumClasses
}

var _ Converter = (*Drums)(nil)

// NewDrums creates a one-hot drums converter. args.PitchClasses defaults to DefaultDrumPitchClasses.
func NewDrums(args Args) (*Drums, error) {
	classes, err := newDrumClasses(args.PitchClasses)
	if err != nil {
		return nil, err
	}
	return &Drums{base: base{numSteps: args.NumSteps, numSegments: args.NumSegments}, drumClasses: classes}, nil
}

func (c *Drums) Depth() int       { return 1 << len(c.classes) }
func (c *Drums) OutputDepth() int { return c.Depth() }

// Labels returns the drum labels of each step of seq.
func (c *Drums) Labels(seq *notes.NoteSequence) ([]int, error) {
	hits, err := c.hits(seq, c.numSteps)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(hits))
	for step, classes := range hits {
		for class, hit := range classes {
			if hit {
				labels[step] |= 1 << class
			}
		}
	}
	return labels, nil
}

// ToTensor implements Converter.
func (c *Drums) ToTensor(seq *notes.NoteSequence) (*tensors.Tensor, error) {
	labels, err := c.Labels(seq)
	if err != nil {
		return nil, err
	}
	return oneHot(labels, c.Depth()), nil
}

// ToNoteSequence implements Converter.
func (c *Drums) ToNoteSequence(t *tensors.Tensor, stepsPerQuarter int, qpm float64) (*notes.NoteSequence, error) {
	rows, err := readSteps(t, c.numSteps, c.Depth())
	if err != nil {
		return nil, err
	}
	seq := newSequence(c.numSteps, stepsPerQuarter, qpm)
	seq.Notes = c.toNotes(c.labelsToHits(rows), 0)
	seq.SetTimesFromSteps()
	return seq, nil
}

// labelsToHits decodes one-hot label rows into the classes hit per step.
func (c *Drums) labelsToHits(rows [][]bool) [][]bool {
	hits := make([][]bool, len(rows))
	for step, row := range rows {
		hits[step] = make([]bool, len(c.classes))
		label := max(argMax(row), 0)
		for class := range c.classes {
			hits[step][class] = label&(1<<class) != 0
		}
	}
	return hits
}

// DrumRoll converts drum tracks to multi-hot vectors, one bit per class. Input tensors have an extra
// final bit set on the steps with no hits, and decoder outputs (usually from a NADE) have one bit per class.
type DrumRoll struct {
	base
	drumClasses
}

var _ Converter = (*DrumRoll)(nil)

// NewDrumRoll creates a drum roll converter. args.PitchClasses defaults to DefaultDrumPitchClasses.
func NewDrumRoll(args Args) (*DrumRoll, error) {
	classes, err := newDrumClasses(args.PitchClasses)
	if err != nil {
		return nil, err
	}
	return &DrumRoll{base: base{numSteps: args.NumSteps, numSegments: args.NumSegments}, drumClasses: classes}, nil
}

func (c *DrumRoll) Depth() int       { return len(c.classes) + 1 }
func (c *DrumRoll) OutputDepth() int { return len(c.classes) }

// ToTensor implements Converter.
func (c *DrumRoll) ToTensor(seq *notes.NoteSequence) (*tensors.Tensor, error) {
	hits, err := c.hits(seq, c.numSteps)
	if err != nil {
		return nil, err
	}
	depth := c.Depth()
	flat := make([]float32, c.numSteps*depth)
	for step, classes := range hits {
		silent := true
		for class, hit := range classes {
			if hit {
				flat[step*depth+class] = 1
				silent = false
			}
		}
		if silent {
			flat[step*depth+depth-1] = 1
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, c.numSteps, depth), nil
}

// ToNoteSequence implements Converter.
func (c *DrumRoll) ToNoteSequence(t *tensors.Tensor, stepsPerQuarter int, qpm float64) (*notes.NoteSequence, error) {
	rows, err := readSteps(t, c.numSteps, c.OutputDepth())
	if err != nil {
		return nil, err
	}
	seq := newSequence(c.numSteps, stepsPerQuarter, qpm)
	seq.Notes = c.toNotes(rows, 0)
	seq.SetTimesFromSteps()
	return seq, nil
}
