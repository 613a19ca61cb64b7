// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/izambard/magenta-js/internal/workerspool"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// ManifestGroup is one group of weights stored contiguously in the concatenation of its shards (Paths).
type ManifestGroup struct {
	Paths   []string         `json:"paths"`
	Weights []ManifestWeight `json:"weights"`
}

// ManifestWeight describes one weight of a group.
type ManifestWeight struct {
	Name         string        `json:"name"`
	Shape        []int         `json:"shape"`
	DType        string        `json:"dtype"`
	Quantization *Quantization `json:"quantization,omitempty"`
}

// Quantization of a float32 weight: either "uint8"/"uint16" (value = q*Scale + Min) or "float16".
type Quantization struct {
	DType string  `json:"dtype"`
	Scale float64 `json:"scale,omitempty"`
	Min   float64 `json:"min,omitempty"`
}

// Manifest loads TensorFlow.js checkpoints, from a local directory or an HTTP(S) URL.
//
// Create it with FromManifest and configure it with the With* methods before calling Load.
type Manifest struct {
	location    string
	client      *http.Client
	cacheDir    string
	progressBar bool
	parallelism int
}

var (
	_ Loader  = (*Manifest)(nil)
	_ Fetcher = (*Manifest)(nil)
)

// DefaultCacheDir returns the directory where remote checkpoints are cached: $MUSICVAE_CACHE if set,
// otherwise "musicvae" under the user cache directory.
func DefaultCacheDir() string {
	if dir := os.Getenv("MUSICVAE_CACHE"); dir != "" {
		return dir
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "musicvae")
}

// FromManifest creates a Manifest loader for location, a directory or a URL holding ManifestFileName.
func FromManifest(location string) *Manifest {
	return &Manifest{
		location:    strings.TrimSuffix(location, "/"),
		client:      http.DefaultClient,
		cacheDir:    DefaultCacheDir(),
		parallelism: 4,
	}
}

// WithHTTPClient sets the client used to fetch remote files.
func (m *Manifest) WithHTTPClient(client *http.Client) *Manifest {
	m.client = client
	return m
}

// WithCacheDir sets the cache directory of remote files. If empty, caching is disabled.
func (m *Manifest) WithCacheDir(dir string) *Manifest {
	m.cacheDir = dir
	return m
}

// WithProgressBar enables a progress bar on the fetching of the shards.
func (m *Manifest) WithProgressBar(enabled bool) *Manifest {
	m.progressBar = enabled
	return m
}

// WithParallelism sets the number of shards fetched in parallel.
func (m *Manifest) WithParallelism(parallelism int) *Manifest {
	m.parallelism = parallelism
	return m
}

// Location returns the directory or URL of the checkpoint.
func (m *Manifest) Location() string { return m.location }

// CachePath returns the path where the remote file name is cached, or "" if not cached.
// Names that would escape the cache directory are never cached.
func (m *Manifest) CachePath(name string) string {
	if m.cacheDir == "" || !IsRemote(m.location) || checkFileName(name) != nil {
		return ""
	}
	return filepath.Join(m.cacheDir, fmt.Sprintf("%016x", xxhash.Sum64String(m.location)), filepath.FromSlash(name))
}

// Fetch implements Fetcher. name must be a local slash-separated path, relative to the checkpoint location.
func (m *Manifest) Fetch(name string) ([]byte, error) {
	if err := checkFileName(name); err != nil {
		return nil, err
	}
	if !IsRemote(m.location) {
		data, err := os.ReadFile(filepath.Join(m.location, filepath.FromSlash(name)))
		return data, errors.Wrapf(err, "reading checkpoint file %q", name)
	}
	cachePath := m.CachePath(name)
	if cachePath != "" {
		if data, err := os.ReadFile(cachePath); err == nil {
			klog.V(2).Infof("checkpoints: %q read from cache %q", name, cachePath)
			return data, nil
		}
	}
	url := m.location + "/" + path.Clean(name)
	resp, err := m.client.Get(url)
	if err != nil {
		return nil, errors.Wrapf(err, "failed downloading %q", url)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrapf(os.ErrNotExist, "downloading %q: %s", url, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("failed downloading %q: %s", url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "downloading %q", url)
	}
	klog.V(2).Infof("checkpoints: downloaded %q (%d bytes)", url, len(data))
	if cachePath != "" {
		if err := writeAtomically(cachePath, data); err != nil {
			klog.Warningf("checkpoints: failed to cache %q: %+v", url, err)
		}
	}
	return data, nil
}

// writeAtomically writes data to a temporary file and renames it to filePath, so readers never see partial files.
func writeAtomically(filePath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create the directory for %q", filePath)
	}
	tmp, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed creating temporary file for %q", filePath)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "writing %q", tmp.Name())
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrapf(err, "closing %q", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), filePath), "renaming %q", tmp.Name())
}

// ReadManifest fetches and parses ManifestFileName.
func (m *Manifest) ReadManifest() ([]ManifestGroup, error) {
	data, err := m.Fetch(ManifestFileName)
	if err != nil {
		return nil, err
	}
	var groups []ManifestGroup
	if err = json.Unmarshal(data, &groups); err != nil {
		return nil, errors.Wrapf(ErrFormat, "parsing %s of %q: %v", ManifestFileName, m.location, err)
	}
	return groups, nil
}

// Load implements Loader: it fetches the manifest and all shards, and decodes the weights.
func (m *Manifest) Load() (map[string]*tensors.Tensor, error) {
	groups, err := m.ReadManifest()
	if err != nil {
		return nil, err
	}
	shards := make([][][]byte, len(groups))
	numShards := 0
	for ii, group := range groups {
		shards[ii] = make([][]byte, len(group.Paths))
		numShards += len(group.Paths)
	}

	var bar *progressbar.ProgressBar
	if m.progressBar {
		bar = progressbar.NewOptions(numShards,
			progressbar.OptionSetDescription(fmt.Sprintf("fetching %s", m.location)),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
			progressbar.OptionShowCount(),
		)
	}
	pool := workerspool.New().SetMaxParallelism(m.parallelism)
	for groupIdx, group := range groups {
		for pathIdx, shardPath := range group.Paths {
			pool.Go(func() error {
				data, err := m.Fetch(shardPath)
				if err != nil {
					return err
				}
				shards[groupIdx][pathIdx] = data
				if bar != nil {
					_ = bar.Add(1)
				}
				return nil
			})
		}
	}
	err = pool.Wait()
	if bar != nil {
		_ = bar.Close()
		fmt.Println()
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "loading checkpoint %q", m.location)
	}

	weights := make(map[string]*tensors.Tensor)
	for groupIdx, group := range groups {
		data := bytes.Join(shards[groupIdx], nil)
		for _, w := range group.Weights {
			if _, found := weights[w.Name]; found {
				finalizeAll(weights)
				return nil, errors.Wrapf(ErrFormat, "weight %q defined more than once", w.Name)
			}
			t, size, err := DecodeWeight(w, data)
			if err != nil {
				finalizeAll(weights)
				return nil, errors.WithMessagef(err, "checkpoint %q", m.location)
			}
			weights[w.Name] = t
			data = data[size:]
		}
	}
	klog.V(1).Infof("checkpoints: loaded %d weights from %q", len(weights), m.location)
	return weights, nil
}

func finalizeAll(weights map[string]*tensors.Tensor) {
	for _, t := range weights {
		if t != nil {
			_ = t.FinalizeAll()
		}
	}
}

// checkFileName rejects checkpoint file names (e.g. manifest shard paths) that are absolute or escape
// the checkpoint location with "..".
func checkFileName(name string) error {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return errors.Wrapf(ErrFormat, "invalid checkpoint file name %q", name)
	}
	return nil
}

// numElements returns the number of elements of a tensor with the given shape.
func numElements(shape []int) (int, error) {
	size := 1
	for _, dim := range shape {
		if dim < 0 {
			return 0, errors.Wrapf(ErrFormat, "invalid shape %v", shape)
		}
		size *= dim
	}
	return size, nil
}

// DecodeWeight decodes the weight w from the start of data. It returns the tensor and the number of bytes consumed.
func DecodeWeight(w ManifestWeight, data []byte) (t *tensors.Tensor, size int, err error) {
	n, err := numElements(w.Shape)
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "weight %q", w.Name)
	}
	storedDType := w.DType
	if w.Quantization != nil {
		if w.DType != "float32" {
			return nil, 0, errors.Wrapf(ErrFormat, "weight %q: quantization of %s is not supported", w.Name, w.DType)
		}
		storedDType = w.Quantization.DType
	}
	var bytesPerElement int
	switch storedDType {
	case "float32", "int32":
		bytesPerElement = 4
	case "uint16", "float16":
		bytesPerElement = 2
	case "uint8", "bool":
		bytesPerElement = 1
	default:
		return nil, 0, errors.Wrapf(ErrFormat, "weight %q has unsupported dtype %q", w.Name, storedDType)
	}
	size = n * bytesPerElement
	if len(data) < size {
		return nil, 0, errors.Wrapf(ErrFormat, "weight %q needs %d bytes, only %d left in its group", w.Name, size, len(data))
	}
	data = data[:size]

	switch w.DType {
	case "int32":
		values := make([]int32, n)
		for ii := range values {
			values[ii] = int32(binary.LittleEndian.Uint32(data[4*ii:]))
		}
		return tensors.FromFlatDataAndDimensions(values, w.Shape...), size, nil
	case "bool":
		values := make([]bool, n)
		for ii := range values {
			values[ii] = data[ii] != 0
		}
		return tensors.FromFlatDataAndDimensions(values, w.Shape...), size, nil
	}

	if w.DType != "float32" {
		return nil, 0, errors.Wrapf(ErrFormat, "weight %q has unsupported dtype %q", w.Name, w.DType)
	}
	values := make([]float32, n)
	switch storedDType {
	case "float32":
		for ii := range values {
			values[ii] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*ii:]))
		}
	case "float16":
		for ii := range values {
			values[ii] = float16.Frombits(binary.LittleEndian.Uint16(data[2*ii:])).Float32()
		}
	case "uint16":
		scale, minValue := w.Quantization.Scale, w.Quantization.Min
		for ii := range values {
			values[ii] = float32(float64(binary.LittleEndian.Uint16(data[2*ii:]))*scale + minValue)
		}
	case "uint8":
		scale, minValue := w.Quantization.Scale, w.Quantization.Min
		for ii := range values {
			values[ii] = float32(float64(data[ii])*scale + minValue)
		}
	default:
		return nil, 0, errors.Wrapf(ErrFormat, "weight %q of dtype %q can't be stored as %q", w.Name, w.DType, storedDType)
	}
	return tensors.FromFlatDataAndDimensions(values, w.Shape...), size, nil
}
