// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// Format is the value of Manifest.Format for model files written by this package.
	Format = "gomlx-emotions"

	// LegacyVersion files store the variables uncompressed, and don't record the class names.
	LegacyVersion = 1

	// CurrentVersion files store the variables gzip compressed, and record the class names.
	CurrentVersion = 2

	// DefaultProducer is written in Manifest.Producer if none is given.
	DefaultProducer = "github.com/gomlx/emotions"
)

// Entry names inside the model file.
const (
	ManifestEntry       = "manifest.yaml"
	CheckpointJSONEntry = "checkpoint.json"
	CheckpointBinEntry  = "checkpoint.bin"
)

var (
	// ErrUnsupportedVersion is returned when opening a model file with a format version this package can't read.
	ErrUnsupportedVersion = errors.New("unsupported model file version")

	// ErrMissingEntry is returned when a model file lacks one of its entries.
	ErrMissingEntry = errors.New("model file entry missing")
)

// Manifest describes a model file.
type Manifest struct {
	Format        string    `yaml:"format"`
	FormatVersion int       `yaml:"format_version"`
	RunID         string    `yaml:"run_id"`
	Created       time.Time `yaml:"created"`
	Producer      string    `yaml:"producer,omitempty"`
	Classes       []string  `yaml:"classes,omitempty"`
	ImageSize     int       `yaml:"image_size"`
	NumClasses    int       `yaml:"num_classes"`
}

// SupportedVersion returns whether the version can be read.
func SupportedVersion(version int) bool {
	return version >= LegacyVersion && version <= CurrentVersion
}

func (m *Manifest) marshal() ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encoding model manifest")
	}
	return data, nil
}

func unmarshalManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, errors.Wrap(err, "decoding model manifest")
	}
	if m.Format != Format {
		return m, errors.Errorf("model manifest has format %q, expected %q", m.Format, Format)
	}
	if !SupportedVersion(m.FormatVersion) {
		return m, errors.Wrapf(ErrUnsupportedVersion, "format version %d, this program reads versions %d to %d",
			m.FormatVersion, LegacyVersion, CurrentVersion)
	}
	return m, nil
}
