// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/emotions/pkg/config"
	"github.com/gomlx/emotions/pkg/model"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

var testClasses = []string{"happy", "sad"}

// newTestModel returns a context with a small model built.
func newTestModel(t *testing.T) *context.Context {
	cfg := config.Default()
	cfg.ImageSize = 24
	cfg.NumClasses = len(testClasses)
	ctx := model.CreateDefaultContext(cfg)
	ctx.SetParam(model.ParamConvChannels, []int{2, 4, 4})
	ctx.SetParam(model.ParamDenseUnits, 4)
	model.SetClasses(ctx, testClasses)
	require.NoError(t, model.BuildArchitecture(ctx, graphtest.BuildTestBackend()))
	return ctx
}

func variableValues(t *testing.T, ctx *context.Context) map[string][]float32 {
	values := make(map[string][]float32)
	for v := range ctx.IterVariables() {
		if !v.DType().IsFloat() {
			continue
		}
		value, err := v.Value()
		require.NoError(t, err)
		values[v.ScopeAndName()] = tensors.MustCopyFlatData[float32](value)
	}
	return values
}

func listDir(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSaveAndOpen(t *testing.T) {
	ctx := newTestModel(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "model.gomlx")
	require.NoError(t, Save(ctx, path, Manifest{}))
	// Only the model file is left behind.
	assert.Equal(t, []string{"model.gomlx"}, listDir(t, dir))

	b, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, Format, b.Manifest.Format)
	assert.Equal(t, CurrentVersion, b.Manifest.FormatVersion)
	assert.Equal(t, testClasses, b.Manifest.Classes)
	assert.Equal(t, 24, b.Manifest.ImageSize)
	assert.Equal(t, 2, b.Manifest.NumClasses)
	assert.NotEmpty(t, b.Manifest.RunID)
	assert.False(t, b.Manifest.Created.IsZero())
	assert.Greater(t, b.Size, int64(0))

	loaded := context.New()
	require.NoError(t, b.LoadInto(loaded))
	assert.Equal(t, variableValues(t, ctx), variableValues(t, loaded))
	assert.Equal(t, 24, context.GetParamOr(loaded, model.ParamImageSize, 0))
	assert.Equal(t, []int{2, 4, 4}, context.GetParamOr[[]int](loaded, model.ParamConvChannels, nil))
	assert.Equal(t, testClasses, model.Classes(loaded))

	// Weights only: hyperparameters are not touched.
	weightsOnly := context.New()
	require.NoError(t, b.LoadWeightsInto(weightsOnly))
	assert.Equal(t, variableValues(t, ctx), variableValues(t, weightsOnly))
	_, found := weightsOnly.GetParam(model.ParamImageSize)
	assert.False(t, found)
}

func TestLegacyVersion(t *testing.T) {
	ctx := newTestModel(t)
	path := filepath.Join(t.TempDir(), "legacy.gomlx")
	require.NoError(t, Save(ctx, path, Manifest{}, WithVersion(LegacyVersion)))

	b, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, LegacyVersion, b.Manifest.FormatVersion)
	assert.Empty(t, b.Manifest.Classes)

	loaded := context.New()
	require.NoError(t, b.LoadInto(loaded))
	assert.Equal(t, variableValues(t, ctx), variableValues(t, loaded))

	require.ErrorIs(t, Save(ctx, path, Manifest{}, WithVersion(7)), ErrUnsupportedVersion)
}

func TestWriterOverwrites(t *testing.T) {
	ctx := newTestModel(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "model.gomlx")
	w := NewWriter(path, Manifest{Producer: "test"})
	require.NoError(t, w.Save(ctx))
	first, err := Open(path)
	require.NoError(t, err)

	// Change one variable and save again.
	for v := range ctx.IterVariables() {
		if v.DType().IsFloat() {
			value := tensors.MustCopyFlatData[float32](v.MustValue())
			for ii := range value {
				value[ii] = 7
			}
			require.NoError(t, v.SetValue(tensors.FromFlatDataAndDimensions(value, v.Shape().Dimensions...)))
			break
		}
	}
	require.NoError(t, w.Save(ctx))
	require.NoError(t, w.Close())
	assert.Equal(t, []string{"model.gomlx"}, listDir(t, dir))

	second, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, first.Manifest.RunID, second.Manifest.RunID)
	assert.Equal(t, "test", second.Manifest.Producer)
	loaded := context.New()
	require.NoError(t, second.LoadInto(loaded))
	assert.Equal(t, variableValues(t, ctx), variableValues(t, loaded))
}

// writeZip writes a zip with the given entries, bypassing the manifest generation.
func writeZip(t *testing.T, path string, entries map[string][]byte) {
	var list []zipEntry
	for name, data := range entries {
		list = append(list, zipEntry{name: name, data: data, method: zip.Deflate})
	}
	require.NoError(t, writeAtomic(path, list))
}

func TestOpenErrors(t *testing.T) {
	ctx := newTestModel(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.gomlx")
	require.NoError(t, Save(ctx, good, Manifest{}))
	jsonData, binData, err := ReadCheckpointEntries(good)
	require.NoError(t, err)

	t.Run("not a zip", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.gomlx")
		require.NoError(t, os.WriteFile(path, []byte("not a model"), 0o644))
		_, err := Open(path)
		require.Error(t, err)
		_, _, err = ReadCheckpointEntries(path)
		require.Error(t, err)
	})

	t.Run("missing manifest", func(t *testing.T) {
		path := filepath.Join(dir, "no_manifest.gomlx")
		writeZip(t, path, map[string][]byte{CheckpointJSONEntry: jsonData, CheckpointBinEntry: binData})
		_, err := Open(path)
		require.ErrorIs(t, err, ErrMissingEntry)
		// The raw checkpoint can still be read.
		gotJSON, gotBin, err := ReadCheckpointEntries(path)
		require.NoError(t, err)
		assert.Equal(t, jsonData, gotJSON)
		assert.Equal(t, binData, gotBin)
	})

	t.Run("missing variables", func(t *testing.T) {
		path := filepath.Join(dir, "no_bin.gomlx")
		writeZip(t, path, map[string][]byte{CheckpointJSONEntry: jsonData})
		_, _, err := ReadCheckpointEntries(path)
		require.ErrorIs(t, err, ErrMissingEntry)
	})

	t.Run("unsupported version", func(t *testing.T) {
		m := Manifest{Format: Format, FormatVersion: CurrentVersion + 1}
		manifestData, err := m.marshal()
		require.NoError(t, err)
		path := filepath.Join(dir, "future.gomlx")
		writeZip(t, path, map[string][]byte{
			ManifestEntry: manifestData, CheckpointJSONEntry: jsonData, CheckpointBinEntry: binData})
		_, err = Open(path)
		require.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("wrong format", func(t *testing.T) {
		m := Manifest{Format: "something-else", FormatVersion: CurrentVersion}
		manifestData, err := m.marshal()
		require.NoError(t, err)
		path := filepath.Join(dir, "other.gomlx")
		writeZip(t, path, map[string][]byte{
			ManifestEntry: manifestData, CheckpointJSONEntry: jsonData, CheckpointBinEntry: binData})
		_, err = Open(path)
		require.Error(t, err)
	})

	t.Run("corrupt variables", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.gomlx")
		writeZip(t, path, map[string][]byte{CheckpointJSONEntry: jsonData, CheckpointBinEntry: binData[:len(binData)/2]})
		gotJSON, gotBin, err := ReadCheckpointEntries(path)
		require.NoError(t, err)
		require.Error(t, LoadCheckpoint(context.New(), gotJSON, gotBin, true))
	})
}

func TestFailedSaveKeepsPreviousFile(t *testing.T) {
	ctx := newTestModel(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "model.gomlx")
	require.NoError(t, Save(ctx, path, Manifest{}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	if os.Geteuid() == 0 {
		t.Skip("running as root, permissions are not enforced")
	}
	// The destination directory becomes read-only: the temporary file can't be created.
	require.NoError(t, os.Chmod(dir, 0o555))
	defer func() { _ = os.Chmod(dir, 0o755) }()
	require.Error(t, Save(ctx, path, Manifest{}))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInspect(t *testing.T) {
	ctx := newTestModel(t)
	path := filepath.Join(t.TempDir(), "model.gomlx")
	require.NoError(t, Save(ctx, path, Manifest{}))
	info, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, testClasses, info.Manifest.Classes)
	assert.NotEmpty(t, info.Variables)
	assert.Greater(t, info.TotalSize, 0)
	assert.Greater(t, info.TotalBytes, int64(info.TotalSize))
	value, found := info.Param(model.ParamNumClasses)
	require.True(t, found)
	assert.Equal(t, 2, value)
	assert.Contains(t, info.String(), "version 2")
}
