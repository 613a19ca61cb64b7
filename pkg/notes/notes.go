// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package notes defines NoteSequence, the symbolic music representation consumed and produced by MusicVAE,
// and its JSON serialization.
//
// The JSON field names follow the protobuf JSON mapping of the Magenta NoteSequence (camelCase), so files
// written by other Magenta tools can be read directly.
package notes

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"slices"

	"github.com/pkg/errors"
)

const (
	// DefaultStepsPerQuarter is the quantization used when none is given.
	DefaultStepsPerQuarter = 4

	// DefaultQPM is the tempo, in quarter notes per minute, used when none is given.
	DefaultQPM = 120.0

	// DefaultVelocity is used for the notes generated from tensors.
	DefaultVelocity = 100
)

// Note is a single note event.
type Note struct {
	Pitch      int     `json:"pitch"`
	Velocity   int     `json:"velocity,omitempty"`
	Program    int     `json:"program,omitempty"`
	Instrument int     `json:"instrument,omitempty"`
	IsDrum     bool    `json:"isDrum,omitempty"`
	StartTime  float64 `json:"startTime,omitempty"`
	EndTime    float64 `json:"endTime,omitempty"`

	QuantizedStartStep int `json:"quantizedStartStep,omitempty"`
	QuantizedEndStep   int `json:"quantizedEndStep,omitempty"`
}

// Tempo change at a given time.
type Tempo struct {
	Time float64 `json:"time,omitempty"`
	QPM  float64 `json:"qpm"`
}

// QuantizationInfo describes the grid of a quantized sequence.
type QuantizationInfo struct {
	StepsPerQuarter int `json:"stepsPerQuarter"`
}

// NoteSequence is a sequence of notes, either quantized (notes have quantized steps) or not.
type NoteSequence struct {
	Notes               []Note            `json:"notes,omitempty"`
	Tempos              []Tempo           `json:"tempos,omitempty"`
	QuantizationInfo    *QuantizationInfo `json:"quantizationInfo,omitempty"`
	TotalQuantizedSteps int               `json:"totalQuantizedSteps,omitempty"`
	TotalTime           float64           `json:"totalTime,omitempty"`
}

// IsQuantized returns whether the sequence has quantization information.
func (s *NoteSequence) IsQuantized() bool {
	return s.QuantizationInfo != nil && s.QuantizationInfo.StepsPerQuarter > 0
}

// QPM returns the tempo of the first tempo change, or DefaultQPM.
func (s *NoteSequence) QPM() float64 {
	if len(s.Tempos) > 0 && s.Tempos[0].QPM > 0 {
		return s.Tempos[0].QPM
	}
	return DefaultQPM
}

// Clone returns a deep copy of the sequence.
func (s *NoteSequence) Clone() *NoteSequence {
	clone := *s
	clone.Notes = slices.Clone(s.Notes)
	clone.Tempos = slices.Clone(s.Tempos)
	if s.QuantizationInfo != nil {
		info := *s.QuantizationInfo
		clone.QuantizationInfo = &info
	}
	return &clone
}

// SortNotes sorts the notes by quantized start step (or start time), then by pitch.
func (s *NoteSequence) SortNotes() {
	slices.SortStableFunc(s.Notes, func(a, b Note) int {
		if a.QuantizedStartStep != b.QuantizedStartStep {
			return a.QuantizedStartStep - b.QuantizedStartStep
		}
		if a.StartTime != b.StartTime {
			if a.StartTime < b.StartTime {
				return -1
			}
			return 1
		}
		return a.Pitch - b.Pitch
	})
}

// Quantize returns a quantized copy of an unquantized sequence, using its first tempo.
// It returns an error if the sequence is already quantized.
func Quantize(s *NoteSequence, stepsPerQuarter int) (*NoteSequence, error) {
	if s.IsQuantized() {
		return nil, errors.New("sequence is already quantized")
	}
	if stepsPerQuarter <= 0 {
		return nil, errors.Errorf("invalid stepsPerQuarter %d", stepsPerQuarter)
	}
	stepsPerSecond := float64(stepsPerQuarter) * s.QPM() / 60
	q := s.Clone()
	q.QuantizationInfo = &QuantizationInfo{StepsPerQuarter: stepsPerQuarter}
	for ii := range q.Notes {
		note := &q.Notes[ii]
		note.QuantizedStartStep = int(math.Round(note.StartTime * stepsPerSecond))
		note.QuantizedEndStep = int(math.Round(note.EndTime * stepsPerSecond))
		if note.QuantizedEndStep <= note.QuantizedStartStep {
			note.QuantizedEndStep = note.QuantizedStartStep + 1
		}
		q.TotalQuantizedSteps = max(q.TotalQuantizedSteps, note.QuantizedEndStep)
	}
	return q, nil
}

// SetTimesFromSteps fills the notes times and the total time from their quantized steps, using the
// quantization info and the first tempo of the sequence.
func (s *NoteSequence) SetTimesFromSteps() {
	if !s.IsQuantized() {
		return
	}
	secondsPerStep := 60 / (s.QPM() * float64(s.QuantizationInfo.StepsPerQuarter))
	for ii := range s.Notes {
		note := &s.Notes[ii]
		note.StartTime = float64(note.QuantizedStartStep) * secondsPerStep
		note.EndTime = float64(note.QuantizedEndStep) * secondsPerStep
	}
	s.TotalTime = float64(s.TotalQuantizedSteps) * secondsPerStep
}

// ReadJSON decodes one NoteSequence from r.
func ReadJSON(r io.Reader) (*NoteSequence, error) {
	var s NoteSequence
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "failed to decode NoteSequence")
	}
	return &s, nil
}

// WriteJSON encodes s into w.
func WriteJSON(w io.Writer, s *NoteSequence) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(s), "failed to encode NoteSequence")
}

// Load reads a NoteSequence from a JSON file.
func Load(path string) (*NoteSequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open NoteSequence file %q", path)
	}
	defer func() { _ = f.Close() }()
	s, err := ReadJSON(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", path)
	}
	return s, nil
}

// Save writes s to a JSON file.
func Save(path string, s *NoteSequence) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create NoteSequence file %q", path)
	}
	if err = WriteJSON(f, s); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "writing %q", path)
	}
	return errors.Wrapf(f.Close(), "closing %q", path)
}
