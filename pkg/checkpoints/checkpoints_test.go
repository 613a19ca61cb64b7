// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// writeManifest writes a TensorFlow.js checkpoint into dir with:
//
//   - group 0, split in 2 shards: "dense/kernel" float32 [2, 3] and "dense/bias" uint8 quantized [3];
//   - group 1: "nade/w_dec_t" float16 [2, 2] and "step" int32 [].
func writeManifest(t *testing.T, dir string) {
	var group0 []byte
	for _, v := range []float32{1, 2, 3, 4, 5, 6} {
		group0 = binary.LittleEndian.AppendUint32(group0, math.Float32bits(v))
	}
	group0 = append(group0, 0, 2, 4)
	var group1 []byte
	for _, v := range []float32{0.5, -1, 2, 0.25} {
		group1 = binary.LittleEndian.AppendUint16(group1, float16.Fromfloat32(v).Bits())
	}
	group1 = binary.LittleEndian.AppendUint32(group1, 7)

	manifest := []ManifestGroup{
		{
			Paths: []string{"group1-shard1of2", "group1-shard2of2"},
			Weights: []ManifestWeight{
				{Name: "dense/kernel", Shape: []int{2, 3}, DType: "float32"},
				{Name: "dense/bias", Shape: []int{3}, DType: "float32",
					Quantization: &Quantization{DType: "uint8", Scale: 0.5, Min: -1}},
			},
		},
		{
			Paths: []string{"group2-shard1of1"},
			Weights: []ManifestWeight{
				{Name: "nade/w_dec_t", Shape: []int{2, 2}, DType: "float32", Quantization: &Quantization{DType: "float16"}},
				{Name: "step", Shape: []int{}, DType: "int32"},
			},
		},
	}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "group1-shard1of2"), group0[:10], 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "group1-shard2of2"), group0[10:], 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "group2-shard1of1"), group1, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`{"type": "MusicVAE"}`), 0o644))
}

func checkWeights(t *testing.T, weights map[string]*tensors.Tensor) {
	require.Len(t, weights, 4)
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, weights["dense/kernel"].Value())
	assert.Equal(t, []float32{-1, 0, 1}, weights["dense/bias"].Value())
	assert.Equal(t, [][]float32{{0.5, -1}, {2, 0.25}}, weights["nade/w_dec_t"].Value())
	assert.Equal(t, int32(7), weights["step"].Value())
}

func TestManifestLocal(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir)
	loader, err := Open(dir)
	require.NoError(t, err)
	require.IsType(t, &Manifest{}, loader)
	weights, err := loader.Load()
	require.NoError(t, err)
	checkWeights(t, weights)

	config, err := loader.(Fetcher).Fetch(ConfigFileName)
	require.NoError(t, err)
	assert.Contains(t, string(config), "MusicVAE")
	_, err = loader.(Fetcher).Fetch("missing.json")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestManifestRemote(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir)
	var numRequests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		numRequests.Add(1)
		http.FileServer(http.Dir(dir)).ServeHTTP(w, r)
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	newLoader := func() *Manifest {
		return FromManifest(server.URL + "/").WithHTTPClient(server.Client()).WithCacheDir(cacheDir).WithParallelism(2)
	}
	loader, err := Open(server.URL)
	require.NoError(t, err)
	require.IsType(t, &Manifest{}, loader)

	weights, err := newLoader().Load()
	require.NoError(t, err)
	checkWeights(t, weights)
	assert.Equal(t, int32(4), numRequests.Load(), "manifest plus 3 shards")
	assert.FileExists(t, newLoader().CachePath("group2-shard1of1"))

	// Second load is served from the cache.
	weights, err = newLoader().Load()
	require.NoError(t, err)
	checkWeights(t, weights)
	assert.Equal(t, int32(4), numRequests.Load())

	// Without cache, everything is fetched again.
	weights, err = newLoader().WithCacheDir("").Load()
	require.NoError(t, err)
	checkWeights(t, weights)
	assert.Equal(t, int32(8), numRequests.Load())

	_, err = newLoader().Fetch("missing.json")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestManifestFileNames(t *testing.T) {
	dir := t.TempDir()
	location := filepath.Join(dir, "checkpoint")
	require.NoError(t, os.Mkdir(location, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "outside"), []byte("secret"), 0o644))
	manifest, err := json.Marshal([]ManifestGroup{{
		Paths:   []string{"../outside"},
		Weights: []ManifestWeight{{Name: "w", Shape: []int{1}, DType: "float32"}},
	}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(location, ManifestFileName), manifest, 0o644))

	_, err = FromManifest(location).Load()
	require.ErrorIs(t, err, ErrFormat)
	for _, name := range []string{"../outside", "/etc/passwd", "a/../../outside", ""} {
		_, err = FromManifest(location).Fetch(name)
		assert.ErrorIs(t, err, ErrFormat, "name %q", name)
		_, err = FromDir(location).Fetch(name)
		assert.ErrorIs(t, err, ErrFormat, "name %q", name)
	}

	remote := FromManifest("https://example.com/checkpoint").WithCacheDir(t.TempDir())
	assert.Empty(t, remote.CachePath("../../outside"))
	assert.NotEmpty(t, remote.CachePath("group1-shard1of1"))
}

func TestDecodeWeight(t *testing.T) {
	data := binary.LittleEndian.AppendUint16(nil, 2)
	data = binary.LittleEndian.AppendUint16(data, 4)
	w := ManifestWeight{Name: "w", Shape: []int{2}, DType: "float32", Quantization: &Quantization{DType: "uint16", Scale: 0.25, Min: 1}}
	tensor, size, err := DecodeWeight(w, data)
	require.NoError(t, err)
	assert.Equal(t, 4, size)
	assert.Equal(t, []float32{1.5, 2}, tensor.Value())

	_, _, err = DecodeWeight(ManifestWeight{Name: "w", Shape: []int{3}, DType: "float32"}, data)
	assert.ErrorIs(t, err, ErrFormat)
	_, _, err = DecodeWeight(ManifestWeight{Name: "w", Shape: []int{1}, DType: "complex64"}, data)
	assert.ErrorIs(t, err, ErrFormat)
	_, _, err = DecodeWeight(ManifestWeight{Name: "w", Shape: []int{1}, DType: "uint8"}, data)
	assert.ErrorIs(t, err, ErrFormat)
	_, _, err = DecodeWeight(ManifestWeight{Name: "w", Shape: []int{-1}, DType: "float32"}, data)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDir(t *testing.T) {
	source := t.TempDir()
	writeManifest(t, source)
	weights, err := FromManifest(source).Load()
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "converted")
	require.NoError(t, SaveDir(dir, weights, []byte(`{"type": "MusicVAE"}`)))
	require.Error(t, SaveDir(dir, weights, nil), "directory is not empty")

	loader, err := Open(dir)
	require.NoError(t, err)
	require.IsType(t, &Dir{}, loader)
	loaded, err := loader.Load()
	require.NoError(t, err)
	checkWeights(t, loaded)
	assert.NotContains(t, loaded, "global_step", "GoMLX bookkeeping variables are not weights")
	config, err := loader.(Fetcher).Fetch(ConfigFileName)
	require.NoError(t, err)
	assert.Contains(t, string(config), "MusicVAE")

	_, err = FromDir(filepath.Join(t.TempDir(), "missing")).Load()
	require.Error(t, err)
	_, err = Open(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestMap(t *testing.T) {
	m := Map{"a/kernel": tensors.FromValue([][]float32{{1}})}
	weights, err := m.Load()
	require.NoError(t, err)
	assert.Len(t, weights, 1)
	delete(weights, "a/kernel")
	assert.Len(t, m, 1)
}
