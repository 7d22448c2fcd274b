// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bundle reads and writes model files: a single zip file holding a GoMLX checkpoint (the
// "checkpoint.json" metadata with the hyperparameters, and the "checkpoint.bin" variables) plus a
// "manifest.yaml" describing the file.
//
// Files are versioned (see Manifest.FormatVersion). Version 1 (LegacyVersion) stores variables
// uncompressed and no class names; version 2 (CurrentVersion) gzips the variables and lists the classes.
// Readers accept both.
//
// Writes are atomic: the zip is written to a temporary file in the destination directory and renamed
// over the destination, so a failed save never leaves a partial model file behind.
package bundle

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/emotions/pkg/model"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SaveOption configures Save and NewWriter.
type SaveOption func(w *Writer)

// WithVersion selects the format version to write. Only LegacyVersion and CurrentVersion are valid.
func WithVersion(version int) SaveOption {
	return func(w *Writer) { w.version = version }
}

// Writer saves the model of a context.Context to a model file, overwriting it at every Save.
// It implements trainer.Saver.
//
// It keeps a checkpoints.Handler attached to the context, writing to a temporary directory that is removed
// by Close.
type Writer struct {
	// Path of the model file.
	Path string

	// Manifest template: Format, FormatVersion and Created are set at each Save. Empty RunID, Classes,
	// ImageSize and NumClasses are filled from the context.
	Manifest Manifest

	version int
	handler *checkpoints.Handler
}

// NewWriter creates a Writer for the model file at path.
func NewWriter(path string, manifest Manifest, options ...SaveOption) *Writer {
	w := &Writer{Path: path, Manifest: manifest, version: CurrentVersion}
	for _, option := range options {
		option(w)
	}
	if w.Manifest.RunID == "" {
		w.Manifest.RunID = uuid.NewString()
	}
	return w
}

// Save the variables and hyperparameters of ctx into the model file.
func (w *Writer) Save(ctx *context.Context) error {
	if !SupportedVersion(w.version) {
		return errors.Wrapf(ErrUnsupportedVersion, "cannot write version %d", w.version)
	}
	dir := filepath.Dir(w.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for model file %q", w.Path)
	}
	if w.handler == nil {
		binFormat := checkpoints.BinGZIP
		if w.version == LegacyVersion {
			binFormat = checkpoints.BinUncompressed
		}
		var err error
		w.handler, err = checkpoints.Build(ctx).
			TempDir("", "emotions_checkpoint_").
			Keep(1).
			WithCompression(binFormat).
			Done()
		if err != nil {
			return errors.WithMessagef(err, "creating checkpoint for %q", w.Path)
		}
	}
	err := exceptions.TryCatch[error](func() {
		if err := w.handler.Save(); err != nil {
			panic(err)
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "saving checkpoint for %q", w.Path)
	}
	jsonData, binData, err := readLatestCheckpoint(w.handler)
	if err != nil {
		return err
	}

	manifest := w.manifestFor(ctx)
	manifestData, err := manifest.marshal()
	if err != nil {
		return err
	}
	err = writeAtomic(w.Path, []zipEntry{
		{name: ManifestEntry, data: manifestData, method: zip.Deflate},
		{name: CheckpointJSONEntry, data: jsonData, method: zip.Deflate},
		{name: CheckpointBinEntry, data: binData, method: binMethod(w.version)},
	})
	if err != nil {
		return err
	}
	klog.V(1).Infof("saved model file %q (version %d, %s)", w.Path, w.version,
		humanize.Bytes(uint64(len(binData)+len(jsonData)+len(manifestData))))
	return nil
}

// Close removes the temporary checkpoint directory. The model file is kept.
func (w *Writer) Close() error {
	if w.handler == nil {
		return nil
	}
	dir := w.handler.Dir()
	w.handler = nil
	return errors.Wrapf(os.RemoveAll(dir), "removing temporary checkpoint directory %q", dir)
}

func (w *Writer) manifestFor(ctx *context.Context) Manifest {
	m := w.Manifest
	m.Format = Format
	m.FormatVersion = w.version
	m.Created = time.Now().UTC().Truncate(time.Second)
	if m.Producer == "" {
		m.Producer = DefaultProducer
	}
	if m.ImageSize == 0 {
		m.ImageSize = context.GetParamOr(ctx, model.ParamImageSize, 0)
	}
	if m.NumClasses == 0 {
		m.NumClasses = context.GetParamOr(ctx, model.ParamNumClasses, 0)
	}
	if len(m.Classes) == 0 {
		m.Classes = model.Classes(ctx)
	}
	if w.version == LegacyVersion {
		m.Classes = nil
	}
	return m
}

// binMethod: the gzip variables of the current version are stored as is.
func binMethod(version int) uint16 {
	if version == LegacyVersion {
		return zip.Deflate
	}
	return zip.Store
}

// Save writes the model in ctx to path. It's a shortcut to NewWriter, Writer.Save and Writer.Close.
func Save(ctx *context.Context, path string, manifest Manifest, options ...SaveOption) error {
	w := NewWriter(path, manifest, options...)
	err := w.Save(ctx)
	closeErr := w.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// readLatestCheckpoint reads the json and bin files of the most recent checkpoint of handler.
func readLatestCheckpoint(handler *checkpoints.Handler) (jsonData, binData []byte, err error) {
	names, err := handler.ListCheckpoints()
	if err != nil {
		return nil, nil, err
	}
	if len(names) == 0 {
		return nil, nil, errors.Errorf("no checkpoint written in %q", handler.Dir())
	}
	base := filepath.Join(handler.Dir(), names[len(names)-1])
	jsonData, err = os.ReadFile(base + checkpoints.JsonNameSuffix)
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading checkpoint metadata")
	}
	binData, err = os.ReadFile(base + checkpoints.BinDataSuffix)
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading checkpoint variables")
	}
	return
}

type zipEntry struct {
	name   string
	data   []byte
	method uint16
}

// writeAtomic writes the zip entries to a temporary file next to path, and renames it to path.
func writeAtomic(path string, entries []zipEntry) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "creating temporary file for %q", path)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, entry := range entries {
		header := &zip.FileHeader{Name: entry.name, Method: entry.method, Modified: time.Now()}
		var fw io.Writer
		fw, err = zw.CreateHeader(header)
		if err != nil {
			return errors.Wrapf(err, "adding %q to %q", entry.name, path)
		}
		if _, err = fw.Write(entry.data); err != nil {
			return errors.Wrapf(err, "writing %q to %q", entry.name, path)
		}
	}
	if err = zw.Close(); err != nil {
		return errors.Wrapf(err, "finishing zip file %q", tmpPath)
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrapf(err, "syncing %q", tmpPath)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %q", tmpPath)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "renaming %q to %q", tmpPath, path)
	}
	return nil
}

// readEntries reads the named entries of the zip file. Missing entries are returned as nil.
func readEntries(path string, names ...string) (map[string][]byte, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "reading model file %q", path)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, errors.Wrapf(err, "model file %q is not a valid zip file", path)
	}
	entries := make(map[string][]byte, len(names))
	for _, f := range zr.File {
		for _, name := range names {
			if f.Name != name {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, 0, errors.Wrapf(err, "opening %q in %q", name, path)
			}
			entries[name], err = io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return nil, 0, errors.Wrapf(err, "reading %q in %q", name, path)
			}
		}
	}
	return entries, int64(len(data)), nil
}

// ReadCheckpointEntries returns the raw checkpoint metadata (json) and variables (bin) of a model file,
// without reading or validating the manifest.
func ReadCheckpointEntries(path string) (jsonData, binData []byte, err error) {
	entries, _, err := readEntries(path, CheckpointJSONEntry, CheckpointBinEntry)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range []string{CheckpointJSONEntry, CheckpointBinEntry} {
		if entries[name] == nil {
			return nil, nil, errors.Wrapf(ErrMissingEntry, "%q has no %q", path, name)
		}
	}
	return entries[CheckpointJSONEntry], entries[CheckpointBinEntry], nil
}

// Bundle is a model file read into memory.
type Bundle struct {
	Path     string
	Manifest Manifest

	// Size of the file in bytes.
	Size int64

	checkpointJSON, checkpointBin []byte
}

// Open reads the model file at path and validates its manifest. It returns an error wrapping
// ErrUnsupportedVersion if the format version is not supported, or ErrMissingEntry if an entry is missing.
func Open(path string) (*Bundle, error) {
	entries, size, err := readEntries(path, ManifestEntry, CheckpointJSONEntry, CheckpointBinEntry)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{ManifestEntry, CheckpointJSONEntry, CheckpointBinEntry} {
		if entries[name] == nil {
			return nil, errors.Wrapf(ErrMissingEntry, "%q has no %q", path, name)
		}
	}
	manifest, err := unmarshalManifest(entries[ManifestEntry])
	if err != nil {
		return nil, errors.WithMessagef(err, "model file %q", path)
	}
	return &Bundle{
		Path:           path,
		Manifest:       manifest,
		Size:           size,
		checkpointJSON: entries[CheckpointJSONEntry],
		checkpointBin:  entries[CheckpointBinEntry],
	}, nil
}

// LoadInto loads the hyperparameters and the variables of the model file into ctx. Variables already in ctx
// are overwritten.
func (b *Bundle) LoadInto(ctx *context.Context) error {
	return LoadCheckpoint(ctx, b.checkpointJSON, b.checkpointBin, true)
}

// LoadWeightsInto loads only the variables of the model file into ctx, leaving its hyperparameters untouched.
func (b *Bundle) LoadWeightsInto(ctx *context.Context) error {
	return LoadCheckpoint(ctx, b.checkpointJSON, b.checkpointBin, false)
}

// LoadCheckpoint loads the checkpoint json (metadata) and bin (variables) into ctx. If withParams is false, the
// hyperparameters stored in the checkpoint are ignored.
func LoadCheckpoint(ctx *context.Context, jsonData, binData []byte, withParams bool) error {
	return exceptions.TryCatch[error](func() {
		config := checkpoints.Build(ctx).FromEmbed(string(jsonData), binData).Immediate()
		if !withParams {
			config = config.ExcludeAllParams()
		}
		_, err := config.Done()
		if err != nil {
			panic(err)
		}
	})
}
