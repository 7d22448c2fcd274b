// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"flag"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 48, cfg.ImageSize)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 50, cfg.Epochs)
	assert.Equal(t, 7, cfg.NumClasses)
	assert.Equal(t, 8, cfg.Patience)
	assert.InDelta(t, 0.2, cfg.ValidationSplit, 1e-9)
	assert.True(t, cfg.Augment.Enabled())
	assert.False(t, NoAugmentation().Enabled())
	assert.Equal(t, filepath.Join("FER2013", "train"), cfg.TrainPath())
	assert.Equal(t, filepath.Join("FER2013", "test"), cfg.TestPath())
}

func TestOutputPath(t *testing.T) {
	cfg := Default()
	cfg.OutputDir = "/tmp/out"
	assert.Equal(t, "/tmp/out/matriz_confusion.png", cfg.OutputPath(cfg.ConfusionMatrixFile))
	assert.Equal(t, "/abs/model.gomlx", cfg.OutputPath("/abs/model.gomlx"))
	assert.Equal(t, "", cfg.OutputPath(""))
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(c *Config){
		"image size":   func(c *Config) { c.ImageSize = 0 },
		"batch size":   func(c *Config) { c.BatchSize = -1 },
		"epochs":       func(c *Config) { c.Epochs = 0 },
		"classes":      func(c *Config) { c.NumClasses = 1 },
		"split zero":   func(c *Config) { c.ValidationSplit = 0 },
		"split one":    func(c *Config) { c.ValidationSplit = 1 },
		"patience":     func(c *Config) { c.Patience = 0 },
		"model file":   func(c *Config) { c.ModelFile = "" },
		"zoom":         func(c *Config) { c.Augment.ZoomRange = 1.5 },
		"data dir":     func(c *Config) { c.DataDir = "" },
		"eval batch":   func(c *Config) { c.EvalBatchSize = -3 },
		"min delta":    func(c *Config) { c.MinDelta = -0.1 },
		"width shift":  func(c *Config) { c.Augment.WidthShiftRange = -0.1 },
		"height shift": func(c *Config) { c.Augment.HeightShiftRange = 1 },
		"class names":  func(c *Config) { c.Classes = []string{"happy", "sad"} },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	// Explicit train/test directories make DataDir optional.
	cfg := Default()
	cfg.DataDir = ""
	cfg.TrainDir, cfg.TestDir = "/data/train", "/data/test"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/data/train", cfg.TrainPath())

	cfg.NumClasses, cfg.Classes = 2, []string{"happy", "sad"}
	require.NoError(t, cfg.Validate())
}

func TestEvalBatch(t *testing.T) {
	cfg := Default()
	cfg.EvalBatchSize = 0
	assert.Equal(t, cfg.BatchSize, cfg.EvalBatch())
	cfg.EvalBatchSize = 200
	assert.Equal(t, 200, cfg.EvalBatch())
}

func TestRegisterFlags(t *testing.T) {
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs, &cfg)
	require.NoError(t, fs.Parse([]string{"-data=/tmp/fer", "-epochs=3", "-horizontal_flip=false", "-report="}))
	assert.Equal(t, "/tmp/fer", cfg.DataDir)
	assert.Equal(t, 3, cfg.Epochs)
	assert.False(t, cfg.Augment.HorizontalFlip)
	assert.Equal(t, "", cfg.ReportFile)
	// Untouched flags keep the defaults.
	assert.Equal(t, 48, cfg.ImageSize)
	assert.Equal(t, DefaultModelFile, cfg.ModelFile)
	assert.NoError(t, cfg.Validate())
}
