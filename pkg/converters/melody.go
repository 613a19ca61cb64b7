// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package converters

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/izambard/magenta-js/pkg/notes"
	"github.com/pkg/errors"
)

// Melody events: each step holds one event.
const (
	MelodyNoEvent    = 0
	MelodyNoteOff    = 1
	MelodyFirstPitch = 2

	DefaultMinPitch = 21
	DefaultMaxPitch = 108
)

// Melody converts monophonic sequences to one-hot melody events: NoEvent (the previous note continues),
// NoteOff or a note-on for each pitch in [MinPitch, MaxPitch].
type Melody struct {
	base
	MinPitch, MaxPitch int

	// IgnorePolyphony drops notes starting while another note is sounding, instead of failing.
	IgnorePolyphony bool
}

var _ Converter = (*Melody)(nil)

// NewMelody creates a melody converter. Zero pitches default to DefaultMinPitch and DefaultMaxPitch,
// and polyphony is ignored unless args.IgnorePolyphony is set to false.
func NewMelody(args Args) (*Melody, error) {
	c := &Melody{
		base:            base{numSteps: args.NumSteps, numSegments: args.NumSegments},
		MinPitch:        DefaultMinPitch,
		MaxPitch:        DefaultMaxPitch,
		IgnorePolyphony: true,
	}
	if args.MinPitch != 0 || args.MaxPitch != 0 {
		c.MinPitch, c.MaxPitch = args.MinPitch, args.MaxPitch
	}
	if args.IgnorePolyphony != nil {
		c.IgnorePolyphony = *args.IgnorePolyphony
	}
	if c.MinPitch < 0 || c.MaxPitch > 127 || c.MinPitch > c.MaxPitch {
		return nil, errors.Wrapf(ErrConfig, "invalid melody pitch range [%d, %d]", c.MinPitch, c.MaxPitch)
	}
	return c, nil
}

func (c *Melody) Depth() int       { return c.MaxPitch - c.MinPitch + 1 + MelodyFirstPitch }
func (c *Melody) OutputDepth() int { return c.Depth() }

// Events returns the melody events of the first NumSteps steps of seq.
func (c *Melody) Events(seq *notes.NoteSequence) ([]int, error) {
	if err := checkQuantized(seq); err != nil {
		return nil, err
	}
	sorted := seq.Clone()
	sorted.SortNotes()
	events := make([]int, c.numSteps)
	lastStop := -1
	for _, note := range sorted.Notes {
		if note.IsDrum || note.QuantizedStartStep >= c.numSteps {
			continue
		}
		if note.Pitch < c.MinPitch || note.Pitch > c.MaxPitch {
			return nil, errors.Wrapf(ErrSequence, "pitch %d out of the melody range [%d, %d]", note.Pitch, c.MinPitch, c.MaxPitch)
		}
		if note.QuantizedStartStep < lastStop {
			if c.IgnorePolyphony {
				continue
			}
			return nil, errors.Wrapf(ErrSequence, "sequence is not monophonic at step %d", note.QuantizedStartStep)
		}
		events[note.QuantizedStartStep] = note.Pitch - c.MinPitch + MelodyFirstPitch
		if note.QuantizedEndStep < c.numSteps {
			events[note.QuantizedEndStep] = MelodyNoteOff
		}
		lastStop = note.QuantizedEndStep
	}
	return events, nil
}

// ToTensor implements Converter.
func (c *Melody) ToTensor(seq *notes.NoteSequence) (*tensors.Tensor, error) {
	events, err := c.Events(seq)
	if err != nil {
		return nil, err
	}
	return oneHot(events, c.Depth()), nil
}

// ToNoteSequence implements Converter.
func (c *Melody) ToNoteSequence(t *tensors.Tensor, stepsPerQuarter int, qpm float64) (*notes.NoteSequence, error) {
	rows, err := readSteps(t, c.numSteps, c.Depth())
	if err != nil {
		return nil, err
	}
	events := make([]int, len(rows))
	for step, row := range rows {
		events[step] = max(argMax(row), MelodyNoEvent)
	}
	seq := newSequence(c.numSteps, stepsPerQuarter, qpm)
	seq.Notes = c.eventsToNotes(events, 0, 0)
	seq.SetTimesFromSteps()
	return seq, nil
}

// eventsToNotes converts melody events to notes with the given program and instrument.
func (c *Melody) eventsToNotes(events []int, program, instrument int) []notes.Note {
	var result []notes.Note
	current := -1
	closeNote := func(step int) {
		if current >= 0 {
			result[current].QuantizedEndStep = step
			current = -1
		}
	}
	for step, event := range events {
		switch {
		case event == MelodyNoteOff:
			closeNote(step)
		case event >= MelodyFirstPitch:
			closeNote(step)
			result = append(result, notes.Note{
				Pitch:              event - MelodyFirstPitch + c.MinPitch,
				Velocity:           notes.DefaultVelocity,
				Program:            program,
				Instrument:         instrument,
				QuantizedStartStep: step,
			})
			current = len(result) - 1
		}
	}
	closeNote(len(events))
	return result
}
