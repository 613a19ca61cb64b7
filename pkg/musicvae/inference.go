// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package musicvae

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/izambard/magenta-js/pkg/latent"
	"github.com/izambard/magenta-js/pkg/notes"
	"github.com/pkg/errors"
)

// DefaultSampleTemperature is the temperature used by Sample if none is given.
const DefaultSampleTemperature = 0.5

// Option configures a Decode, Interpolate, Sample or Similar call.
type Option func(o *callOptions)

type callOptions struct {
	temperature     float64
	stepsPerQuarter int
	qpm             float64
}

func newCallOptions(temperature float64, opts []Option) *callOptions {
	o := &callOptions{temperature: temperature}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithTemperature sets the sampling temperature. A temperature <= 0 selects the most likely output at each
// step (greedy decoding). It is ignored by decoders with a NADE, which always take the most likely outputs.
func WithTemperature(temperature float64) Option {
	return func(o *callOptions) { o.temperature = temperature }
}

// WithStepsPerQuarter sets the quantization of the generated sequences. Default is notes.DefaultStepsPerQuarter.
func WithStepsPerQuarter(stepsPerQuarter int) Option {
	return func(o *callOptions) { o.stepsPerQuarter = stepsPerQuarter }
}

// WithQPM sets the tempo, in quarters per minute, of the generated sequences. Default is notes.DefaultQPM.
func WithQPM(qpm float64) Option {
	return func(o *callOptions) { o.qpm = qpm }
}

// Encode converts the quantized sequences to tensors and encodes them into latent vectors,
// returned as a float32 tensor shaped [len(seqs), zDims]. The caller owns the returned tensor.
func (m *MusicVAE) Encode(seqs []*notes.NoteSequence) (*tensors.Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lockedIsInitialized() {
		return nil, ErrNotInitialized
	}
	return m.lockedEncode(seqs)
}

func (m *MusicVAE) lockedEncode(seqs []*notes.NoteSequence) (*tensors.Tensor, error) {
	if len(seqs) == 0 {
		return nil, errors.Wrap(ErrArgument, "no sequences to encode")
	}
	numSteps, depth := m.converter.NumSteps(), m.converter.Depth()
	flat := make([]float32, 0, len(seqs)*numSteps*depth)
	for ii, seq := range seqs {
		t, err := m.converter.ToTensor(seq)
		if err != nil {
			return nil, errors.WithMessagef(err, "converting sequence #%d", ii)
		}
		flat = append(flat, tensors.MustCopyFlatData[float32](t)...)
		_ = t.FinalizeAll()
	}
	inputs := tensors.FromFlatDataAndDimensions(flat, len(seqs), numSteps, depth)
	defer func() { _ = inputs.FinalizeAll() }()
	z, err := m.encode.Exec1(inputs)
	if err != nil {
		return nil, errors.WithMessage(err, "encoding sequences")
	}
	return z, nil
}

// zDims is the width of the latent vectors.
func (m *MusicVAE) zDims() int {
	return m.topology.Decoder.ZDims()
}

// Decode decodes the latent vectors z, shaped [batchSize, zDims], into batchSize quantized sequences.
// Decoding is greedy unless WithTemperature is given. z is not modified, and remains owned by the caller.
func (m *MusicVAE) Decode(z *tensors.Tensor, opts ...Option) ([]*notes.NoteSequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lockedIsInitialized() {
		return nil, ErrNotInitialized
	}
	if z == nil {
		return nil, errors.Wrap(ErrArgument, "no latent vectors to decode")
	}
	shape := z.Shape()
	if shape.Rank() != 2 || shape.Dim(0) < 1 || shape.Dim(1) != m.zDims() || shape.DType != dtypes.Float32 {
		return nil, errors.Wrapf(ErrArgument, "latent vectors must be float32 shaped [batchSize, %d], got %s",
			m.zDims(), shape)
	}
	return m.lockedDecode(z, newCallOptions(0, opts))
}

func (m *MusicVAE) lockedDecode(z *tensors.Tensor, o *callOptions) ([]*notes.NoteSequence, error) {
	var (
		output *tensors.Tensor
		err    error
	)
	if o.temperature <= 0 {
		output, err = m.decode.Exec1(z)
	} else {
		var rngState *tensors.Tensor
		output, rngState, err = m.sample.Exec2(z, m.rngState, float32(o.temperature))
		if err == nil {
			_ = m.rngState.FinalizeAll()
			m.rngState = rngState
		}
	}
	if err != nil {
		return nil, errors.WithMessage(err, "decoding latent vectors")
	}
	defer func() { _ = output.FinalizeAll() }()

	batchSize := output.Shape().Dim(0)
	numSteps, depth := output.Shape().Dim(1), output.Shape().Dim(2)
	flat := tensors.MustCopyFlatData[bool](output)
	stride := numSteps * depth
	seqs := make([]*notes.NoteSequence, batchSize)
	for ii := range seqs {
		t := tensors.FromFlatDataAndDimensions(flat[ii*stride:(ii+1)*stride], numSteps, depth)
		seqs[ii], err = m.converter.ToNoteSequence(t, o.stepsPerQuarter, o.qpm)
		_ = t.FinalizeAll()
		if err != nil {
			return nil, errors.WithMessagef(err, "converting decoded sequence #%d", ii)
		}
	}
	return seqs, nil
}

// Interpolate encodes 2 or 4 sequences and decodes the interpolations of their latent vectors:
// numInterps sequences linearly interpolated for 2 inputs, or a numInterps x numInterps grid
// (row-major) of bilinear interpolations for 4 inputs. The first and last outputs reconstruct the inputs.
// Decoding is greedy unless WithTemperature is given.
func (m *MusicVAE) Interpolate(seqs []*notes.NoteSequence, numInterps int, opts ...Option) ([]*notes.NoteSequence, error) {
	if err := latent.Validate(len(seqs), numInterps); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lockedIsInitialized() {
		return nil, ErrNotInitialized
	}
	z, err := m.lockedEncode(seqs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = z.FinalizeAll() }()
	interpolated, err := m.interpolateExec(numInterps).Exec1(z)
	if err != nil {
		return nil, errors.WithMessage(err, "interpolating latent vectors")
	}
	defer func() { _ = interpolated.FinalizeAll() }()
	return m.lockedDecode(interpolated, newCallOptions(0, opts))
}

// Sample decodes numSamples latent vectors drawn from a standard normal distribution.
// The temperature defaults to DefaultSampleTemperature.
func (m *MusicVAE) Sample(numSamples int, opts ...Option) ([]*notes.NoteSequence, error) {
	if numSamples < 1 {
		return nil, errors.Wrapf(ErrArgument, "number of samples must be at least 1, got %d", numSamples)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lockedIsInitialized() {
		return nil, ErrNotInitialized
	}
	z, err := m.lockedNoise(numSamples)
	if err != nil {
		return nil, err
	}
	defer func() { _ = z.FinalizeAll() }()
	return m.lockedDecode(z, newCallOptions(DefaultSampleTemperature, opts))
}

// lockedNoise draws numSamples latent vectors from a standard normal distribution, and advances the random
// number generator state.
func (m *MusicVAE) lockedNoise(numSamples int) (*tensors.Tensor, error) {
	like := tensors.FromShape(shapes.Make(dtypes.Float32, numSamples, m.zDims()))
	defer func() { _ = like.FinalizeAll() }()
	noise, rngState, err := m.noise.Exec2(m.rngState, like)
	if err != nil {
		return nil, errors.WithMessage(err, "sampling latent vectors")
	}
	_ = m.rngState.FinalizeAll()
	m.rngState = rngState
	return noise, nil
}

// Similar generates numSamples variations of seq: its latent vector is mixed with random normal noise,
// similarity*z + (1-similarity)*noise, and decoded. A similarity of 1 reconstructs seq (for every sample),
// and 0 is the same as Sample. Decoding is greedy unless WithTemperature is given.
func (m *MusicVAE) Similar(seq *notes.NoteSequence, numSamples int, similarity float64, opts ...Option) (
	[]*notes.NoteSequence, error) {
	if numSamples < 1 {
		return nil, errors.Wrapf(ErrArgument, "number of samples must be at least 1, got %d", numSamples)
	}
	if similarity < 0 || similarity > 1 {
		return nil, errors.Wrapf(ErrArgument, "similarity must be between 0 and 1, got %g", similarity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lockedIsInitialized() {
		return nil, ErrNotInitialized
	}
	z, err := m.lockedEncode([]*notes.NoteSequence{seq})
	if err != nil {
		return nil, err
	}
	defer func() { _ = z.FinalizeAll() }()
	noise, err := m.lockedNoise(numSamples)
	if err != nil {
		return nil, err
	}
	defer func() { _ = noise.FinalizeAll() }()
	mixed, err := m.mix.Exec1(z, noise, float32(similarity))
	if err != nil {
		return nil, errors.WithMessage(err, "mixing latent vectors")
	}
	defer func() { _ = mixed.FinalizeAll() }()
	return m.lockedDecode(mixed, newCallOptions(0, opts))
}
