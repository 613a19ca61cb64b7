// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package musicvae implements inference for pre-trained MusicVAE models: encoding note sequences into
// latent vectors, decoding latent vectors into note sequences, interpolating between sequences and sampling
// new ones.
//
// Example:
//
//	model := musicvae.New("https://storage.googleapis.com/magentadata/js/checkpoints/music_vae/mel_2bar_small")
//	if err := model.Initialize(); err != nil { ... }
//	defer model.Dispose()
//	samples, err := model.Sample(4)
//
// The topology of the model (flat or hierarchical encoder, number of layers, decoder streams, NADE outputs)
// is discovered from the checkpoint variable names, and the data converter is read from the checkpoint
// sidecar configuration if not given with WithConverter.
//
// All methods are safe for concurrent use: calls are serialized.
package musicvae

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/izambard/magenta-js/pkg/arena"
	"github.com/izambard/magenta-js/pkg/checkpoints"
	"github.com/izambard/magenta-js/pkg/converters"
	"github.com/izambard/magenta-js/pkg/decoders"
	"github.com/izambard/magenta-js/pkg/latent"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MusicVAE is a MusicVAE model. Create it with New, configure it with the With* methods,
// and call Initialize before using it.
type MusicVAE struct {
	location    string
	converter   converters.Converter
	backend     backends.Backend
	ownsBackend bool
	loader      checkpoints.Loader
	httpClient  *http.Client
	progressBar bool
	seed        *int64

	// mu serializes all calls. The fields below are only set while initialized.
	mu             sync.Mutex
	arena          *arena.Arena
	topology       *Topology
	rngState       *tensors.Tensor
	execs          []*context.Exec
	encode         *context.Exec
	decode         *context.Exec
	sample         *context.Exec
	noise          *context.Exec
	mix            *context.Exec
	interpolations map[int]*context.Exec
}

// New creates a MusicVAE for the checkpoint at location: a URL or a local directory, see checkpoints.Open.
func New(location string) *MusicVAE {
	return &MusicVAE{location: location}
}

// WithConverter sets the data converter. If not set, it is created from the checkpoint sidecar configuration.
func (m *MusicVAE) WithConverter(converter converters.Converter) *MusicVAE {
	m.converter = converter
	return m
}

// WithBackend sets the backend used to execute the model. If not set, backends.New() is used,
// and the backend is finalized with Dispose.
func (m *MusicVAE) WithBackend(backend backends.Backend) *MusicVAE {
	m.backend = backend
	return m
}

// WithLoader sets the checkpoint loader, instead of the one selected by checkpoints.Open for the location.
func (m *MusicVAE) WithLoader(loader checkpoints.Loader) *MusicVAE {
	m.loader = loader
	return m
}

// WithHTTPClient sets the HTTP client used for remote checkpoints.
func (m *MusicVAE) WithHTTPClient(client *http.Client) *MusicVAE {
	m.httpClient = client
	return m
}

// WithProgressBar displays a progress bar while fetching remote checkpoints.
func (m *MusicVAE) WithProgressBar(enabled bool) *MusicVAE {
	m.progressBar = enabled
	return m
}

// WithSeed makes sampling reproducible: the random number generator is reset to seed on each Initialize.
func (m *MusicVAE) WithSeed(seed int64) *MusicVAE {
	m.seed = &seed
	return m
}

// Location of the checkpoint.
func (m *MusicVAE) Location() string { return m.location }

// Converter returns the data converter, or nil if not set and not initialized yet.
func (m *MusicVAE) Converter() converters.Converter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.converter
}

// Topology returns the encoder and decoder trees, or nil if not initialized.
func (m *MusicVAE) Topology() *Topology {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topology
}

// Arena returns the weights of the model, or nil if not initialized.
func (m *MusicVAE) Arena() *arena.Arena {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena
}

// IsInitialized returns whether both the encoder and the decoder are assembled.
func (m *MusicVAE) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockedIsInitialized()
}

func (m *MusicVAE) lockedIsInitialized() bool {
	return m.topology != nil && m.topology.Encoder != nil && m.topology.Decoder != nil
}

// openLoader returns the configured loader, or the one for the location.
func (m *MusicVAE) openLoader() (checkpoints.Loader, error) {
	if m.loader != nil {
		return m.loader, nil
	}
	loader, err := checkpoints.Open(m.location)
	if err != nil {
		return nil, err
	}
	if manifest, ok := loader.(*checkpoints.Manifest); ok {
		if m.httpClient != nil {
			manifest.WithHTTPClient(m.httpClient)
		}
		manifest.WithProgressBar(m.progressBar)
	}
	return loader, nil
}

// Initialize loads the checkpoint and assembles the model. Any previous state is disposed first.
func (m *MusicVAE) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockedDispose()

	loader, err := m.openLoader()
	if err != nil {
		return err
	}
	if m.converter == nil {
		if m.converter, err = fetchConverter(loader); err != nil {
			return errors.WithMessagef(err, "MusicVAE %q has no data converter", m.location)
		}
	}
	if m.backend == nil {
		if m.backend, err = backends.New(); err != nil {
			return errors.WithMessage(err, "failed to create a backend")
		}
		m.ownsBackend = true
	}

	weights, err := loader.Load()
	if err != nil {
		return errors.WithMessagef(err, "loading MusicVAE checkpoint %q", m.location)
	}
	// arena.New takes ownership of the weights even on failure.
	if m.arena, err = arena.New(weights); err != nil {
		m.lockedDispose()
		return errors.WithMessagef(err, "loading MusicVAE checkpoint %q", m.location)
	}
	if err = m.lockedAssemble(); err != nil {
		m.lockedDispose()
		return err
	}
	if klog.V(1).Enabled() {
		klog.Infof("musicvae: initialized %q: encoder %s, decoder %s, %s parameters, %s",
			m.location, m.topology.Encoder.Kind(), m.topology.Decoder.Kind(),
			humanize.Comma(int64(m.arena.NumParameters())), humanize.Bytes(uint64(m.arena.Memory())))
	}
	if len(m.topology.Unused) > 0 {
		klog.Warningf("musicvae: %d checkpoint variables not used by the model, e.g. %q",
			len(m.topology.Unused), m.topology.Unused[0])
	}
	return nil
}

// fetchConverter reads the converter from the sidecar configuration of the checkpoint.
func fetchConverter(loader checkpoints.Loader) (converters.Converter, error) {
	fetcher, ok := loader.(checkpoints.Fetcher)
	if !ok {
		return nil, errors.Wrapf(ErrConfig, "checkpoint loader %T can't read %s, set the converter explicitly", loader,
			checkpoints.ConfigFileName)
	}
	data, err := fetcher.Fetch(checkpoints.ConfigFileName)
	if err != nil {
		return nil, err
	}
	config, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return converters.FromSpec(config.DataConverter)
}

// lockedAssemble builds the topology and the executors.
func (m *MusicVAE) lockedAssemble() error {
	topology, err := BuildTopology(m.arena, m.converter)
	if err != nil {
		return err
	}
	if depth := topology.Encoder.InputDims(); depth != m.converter.Depth() {
		return errors.Wrapf(ErrConfig, "encoder takes inputs of depth %d, but the converter produces depth %d",
			depth, m.converter.Depth())
	}
	if depth := topology.Decoder.OutputDims(); depth != m.converter.OutputDepth() {
		return errors.Wrapf(ErrConfig, "decoder outputs depth %d, but the converter expects depth %d",
			depth, m.converter.OutputDepth())
	}
	zDims, _ := topology.Encoder.ZDims()
	if zDims != topology.Decoder.ZDims() {
		return errors.Wrapf(ErrConfig, "encoder outputs latent vectors of width %d, but the decoder takes %d",
			zDims, topology.Decoder.ZDims())
	}

	if m.seed != nil {
		m.rngState, err = RNGStateFromSeed(*m.seed)
	} else {
		m.rngState, err = RNGState()
	}
	if err != nil {
		return errors.WithMessage(err, "failed to create the random number generator state")
	}

	encoder, decoder := topology.Encoder, topology.Decoder
	numSteps := m.converter.NumSteps()
	err = exceptions.TryCatch[error](func() {
		m.encode = m.newExec(func(_ *context.Context, x *Node) *Node {
			return encoder.Encode(x)
		})
		m.decode = m.newExec(func(_ *context.Context, z *Node) *Node {
			return decoder.Decode(z, numSteps, nil, decoders.Greedy())
		})
		m.sample = m.newExec(func(_ *context.Context, z, rngState, temperature *Node) (*Node, *Node) {
			sampler := decoders.NewSampler(rngState, temperature)
			output := decoder.Decode(z, numSteps, nil, sampler)
			return output, sampler.RNGState
		})
		m.noise = m.newExec(func(_ *context.Context, rngState, like *Node) (*Node, *Node) {
			newState, noise := RandomNormal(rngState, like.Shape())
			return noise, newState
		})
		m.mix = m.newExec(func(_ *context.Context, z, noise, similarity *Node) *Node {
			return latent.Mix(z, noise, similarity)
		})
	})
	if err != nil {
		return errors.WithMessage(err, "failed to create the model executors")
	}
	m.interpolations = make(map[int]*context.Exec)
	m.topology = topology
	return nil
}

// newExec creates an executor of fn over the arena variables and registers it for Dispose. It panics on errors.
func (m *MusicVAE) newExec(fn any) *context.Exec {
	e, err := context.NewExecAny(m.backend, m.arena.Context(), fn)
	if err != nil {
		panic(err)
	}
	m.execs = append(m.execs, e)
	return e
}

// interpolateExec returns the executor for numInterps interpolations.
func (m *MusicVAE) interpolateExec(numInterps int) *context.Exec {
	if e, found := m.interpolations[numInterps]; found {
		return e
	}
	e := m.newExec(func(_ *context.Context, z *Node) *Node {
		return latent.Interpolations(z, numInterps)
	})
	m.interpolations[numInterps] = e
	return e
}

// Dispose releases all the tensors held by the model: weights, executors and random state.
// The model reports uninitialized afterward, and can be initialized again.
func (m *MusicVAE) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockedDispose()
}

func (m *MusicVAE) lockedDispose() {
	for _, e := range m.execs {
		e.Finalize()
	}
	m.execs = nil
	m.encode, m.decode, m.sample, m.noise, m.mix, m.interpolations = nil, nil, nil, nil, nil, nil
	if m.rngState != nil {
		_ = m.rngState.FinalizeAll()
		m.rngState = nil
	}
	if m.arena != nil {
		m.arena.Dispose()
		m.arena = nil
	}
	m.topology = nil
	if m.ownsBackend && m.backend != nil {
		m.backend.Finalize()
		m.backend, m.ownsBackend = nil, false
	}
}

// String implements fmt.Stringer.
func (m *MusicVAE) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lockedIsInitialized() {
		return fmt.Sprintf("MusicVAE(%q, not initialized)", m.location)
	}
	return fmt.Sprintf("MusicVAE(%q, %s encoder, %s decoder, %s)", m.location,
		m.topology.Encoder.Kind(), m.topology.Decoder.Kind(), m.arena)
}
