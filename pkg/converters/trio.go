// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package converters

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/izambard/magenta-js/pkg/notes"
	"github.com/pkg/errors"
)

// Programs and instruments used for the trio tracks.
const (
	MelodyProgram = 0
	BassProgram   = 33

	minBassProgram = 32
	maxBassProgram = 39
)

// Trio converts sequences with a melody, a bass and a drums track. Each step is the concatenation of the
// one-hot melody, bass and drums encodings, in this order, and the decoder outputs are split in 3 streams.
//
// Drum notes go to the drums track, notes with a bass program (32 to 39) to the bass track, and the
// remaining ones to the melody track.
type Trio struct {
	base
	Melody, Bass *Melody
	Drums        *Drums
}

var _ Converter = (*Trio)(nil)

// NewTrio creates a trio converter. The sub-converters take their arguments from args.MelArgs,
// args.BassArgs and args.DrumsArgs, and inherit NumSteps.
func NewTrio(args Args) (*Trio, error) {
	subArgs := func(sub *Args) Args {
		var subArgs Args
		if sub != nil {
			subArgs = *sub
		}
		subArgs.NumSteps = args.NumSteps
		return subArgs
	}
	c := &Trio{base: base{numSteps: args.NumSteps, numSegments: args.NumSegments}}
	var err error
	if c.Melody, err = NewMelody(subArgs(args.MelArgs)); err != nil {
		return nil, errors.WithMessage(err, "trio melody")
	}
	if c.Bass, err = NewMelody(subArgs(args.BassArgs)); err != nil {
		return nil, errors.WithMessage(err, "trio bass")
	}
	if c.Drums, err = NewDrums(subArgs(args.DrumsArgs)); err != nil {
		return nil, errors.WithMessage(err, "trio drums")
	}
	return c, nil
}

func (c *Trio) NumSplits() int   { return 3 }
func (c *Trio) Depth() int       { return c.Melody.Depth() + c.Bass.Depth() + c.Drums.Depth() }
func (c *Trio) OutputDepth() int { return c.Depth() }

// split separates the notes of seq in the melody, bass and drums tracks.
func (c *Trio) split(seq *notes.NoteSequence) (melody, bass, drums *notes.NoteSequence) {
	melody, bass, drums = seq.Clone(), seq.Clone(), seq.Clone()
	melody.Notes, bass.Notes, drums.Notes = nil, nil, nil
	for _, note := range seq.Notes {
		switch {
		case note.IsDrum:
			drums.Notes = append(drums.Notes, note)
		case note.Program >= minBassProgram && note.Program <= maxBassProgram:
			bass.Notes = append(bass.Notes, note)
		default:
			melody.Notes = append(melody.Notes, note)
		}
	}
	return
}

// ToTensor implements Converter.
func (c *Trio) ToTensor(seq *notes.NoteSequence) (*tensors.Tensor, error) {
	if err := checkQuantized(seq); err != nil {
		return nil, err
	}
	melodySeq, bassSeq, drumsSeq := c.split(seq)
	melody, err := c.Melody.Events(melodySeq)
	if err != nil {
		return nil, errors.WithMessage(err, "trio melody")
	}
	bass, err := c.Bass.Events(bassSeq)
	if err != nil {
		return nil, errors.WithMessage(err, "trio bass")
	}
	drums, err := c.Drums.Labels(drumsSeq)
	if err != nil {
		return nil, errors.WithMessage(err, "trio drums")
	}
	depth := c.Depth()
	bassOffset := c.Melody.Depth()
	drumsOffset := bassOffset + c.Bass.Depth()
	flat := make([]float32, c.numSteps*depth)
	for step := range c.numSteps {
		row := flat[step*depth : (step+1)*depth]
		row[melody[step]] = 1
		row[bassOffset+bass[step]] = 1
		row[drumsOffset+drums[step]] = 1
	}
	return tensors.FromFlatDataAndDimensions(flat, c.numSteps, depth), nil
}

// ToNoteSequence implements Converter.
func (c *Trio) ToNoteSequence(t *tensors.Tensor, stepsPerQuarter int, qpm float64) (*notes.NoteSequence, error) {
	rows, err := readSteps(t, c.numSteps, c.Depth())
	if err != nil {
		return nil, err
	}
	bassOffset := c.Melody.Depth()
	drumsOffset := bassOffset + c.Bass.Depth()
	melody := make([]int, c.numSteps)
	bass := make([]int, c.numSteps)
	drumRows := make([][]bool, c.numSteps)
	for step, row := range rows {
		melody[step] = max(argMax(row[:bassOffset]), MelodyNoEvent)
		bass[step] = max(argMax(row[bassOffset:drumsOffset]), MelodyNoEvent)
		drumRows[step] = row[drumsOffset:]
	}
	seq := newSequence(c.numSteps, stepsPerQuarter, qpm)
	seq.Notes = append(seq.Notes, c.Melody.eventsToNotes(melody, MelodyProgram, 0)...)
	seq.Notes = append(seq.Notes, c.Bass.eventsToNotes(bass, BassProgram, 1)...)
	seq.Notes = append(seq.Notes, c.Drums.toNotes(c.Drums.labelsToHits(drumRows), 2)...)
	seq.SetTimesFromSteps()
	return seq, nil
}
