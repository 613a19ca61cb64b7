// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package notes

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "notes": [
    {"pitch": 60, "velocity": 80, "startTime": 0, "endTime": 0.5},
    {"pitch": 62, "velocity": 80, "startTime": 0.5, "endTime": 1.0},
    {"pitch": 36, "isDrum": true, "startTime": 0.25, "endTime": 0.375}
  ],
  "tempos": [{"qpm": 120}],
  "totalTime": 1.0
}`

func TestReadJSON(t *testing.T) {
	s, err := ReadJSON(strings.NewReader(sampleJSON))
	require.NoError(t, err)
	require.Len(t, s.Notes, 3)
	assert.False(t, s.IsQuantized())
	assert.Equal(t, 120.0, s.QPM())
	assert.True(t, s.Notes[2].IsDrum)

	_, err = ReadJSON(strings.NewReader("{not json"))
	require.Error(t, err)
}

func TestQuantize(t *testing.T) {
	s, err := ReadJSON(strings.NewReader(sampleJSON))
	require.NoError(t, err)
	q, err := Quantize(s, 4)
	require.NoError(t, err)
	assert.True(t, q.IsQuantized())
	assert.False(t, s.IsQuantized(), "Quantize must not change its input")

	// 120 qpm at 4 steps per quarter: 8 steps per second.
	assert.Equal(t, 0, q.Notes[0].QuantizedStartStep)
	assert.Equal(t, 4, q.Notes[0].QuantizedEndStep)
	assert.Equal(t, 4, q.Notes[1].QuantizedStartStep)
	assert.Equal(t, 8, q.Notes[1].QuantizedEndStep)
	assert.Equal(t, 2, q.Notes[2].QuantizedStartStep)
	assert.Equal(t, 3, q.Notes[2].QuantizedEndStep)
	assert.Equal(t, 8, q.TotalQuantizedSteps)

	_, err = Quantize(q, 4)
	require.Error(t, err)
	_, err = Quantize(s, 0)
	require.Error(t, err)

	q.SortNotes()
	assert.Equal(t, []int{60, 36, 62}, []int{q.Notes[0].Pitch, q.Notes[1].Pitch, q.Notes[2].Pitch})
}

func TestSetTimesFromSteps(t *testing.T) {
	s := &NoteSequence{
		Notes:               []Note{{Pitch: 60, QuantizedStartStep: 2, QuantizedEndStep: 6}},
		QuantizationInfo:    &QuantizationInfo{StepsPerQuarter: 4},
		Tempos:              []Tempo{{QPM: 60}},
		TotalQuantizedSteps: 8,
	}
	s.SetTimesFromSteps()
	assert.InDelta(t, 0.5, s.Notes[0].StartTime, 1e-9)
	assert.InDelta(t, 1.5, s.Notes[0].EndTime, 1e-9)
	assert.InDelta(t, 2.0, s.TotalTime, 1e-9)
}

func TestClone(t *testing.T) {
	s := &NoteSequence{
		Notes:            []Note{{Pitch: 60}},
		QuantizationInfo: &QuantizationInfo{StepsPerQuarter: 4},
	}
	c := s.Clone()
	c.Notes[0].Pitch = 61
	c.QuantizationInfo.StepsPerQuarter = 2
	assert.Equal(t, 60, s.Notes[0].Pitch)
	assert.Equal(t, 4, s.QuantizationInfo.StepsPerQuarter)
}

func TestSaveLoad(t *testing.T) {
	s := &NoteSequence{
		Notes:               []Note{{Pitch: 64, Velocity: 100, QuantizedStartStep: 1, QuantizedEndStep: 3}},
		QuantizationInfo:    &QuantizationInfo{StepsPerQuarter: 4},
		TotalQuantizedSteps: 4,
	}
	path := filepath.Join(t.TempDir(), "seq.json")
	require.NoError(t, Save(path, s))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, s))
	assert.Contains(t, buf.String(), `"quantizedStartStep": 1`)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
