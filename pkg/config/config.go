// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the configuration of an emotion-classifier training run.
//
// A Config is an explicit value handed to the pipeline entry points: there is no package level state, so
// several runs (e.g. in tests) can happen in the same process with different configurations.
package config

import (
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Augmentation configures the random transformations applied to training images.
//
// Ranges follow the usual image-generator conventions: RotationRange is in degrees, ZoomRange is a fraction
// (0.2 means a zoom factor sampled from [0.8, 1.2]) and the shift ranges are fractions of the image size.
type Augmentation struct {
	RotationRange    float64 `yaml:"rotation_range"`
	ZoomRange        float64 `yaml:"zoom_range"`
	WidthShiftRange  float64 `yaml:"width_shift_range"`
	HeightShiftRange float64 `yaml:"height_shift_range"`
	HorizontalFlip   bool    `yaml:"horizontal_flip"`
}

// NoAugmentation returns an Augmentation that leaves images untouched.
func NoAugmentation() Augmentation { return Augmentation{} }

// Enabled returns whether any transformation is configured.
func (a Augmentation) Enabled() bool {
	return a.RotationRange > 0 || a.ZoomRange > 0 || a.WidthShiftRange > 0 || a.HeightShiftRange > 0 ||
		a.HorizontalFlip
}

// Config of a training run.
type Config struct {
	// DataDir is the dataset root. TrainDir and TestDir default to "train" and "test" under it.
	DataDir  string `yaml:"data_dir"`
	TrainDir string `yaml:"train_dir,omitempty"`
	TestDir  string `yaml:"test_dir,omitempty"`

	// OutputDir where the model file, plots and reports are written. Relative output file names are
	// joined to it.
	OutputDir string `yaml:"output_dir"`

	ImageSize     int `yaml:"image_size"`
	BatchSize     int `yaml:"batch_size"`
	EvalBatchSize int `yaml:"eval_batch_size"`
	Epochs        int `yaml:"epochs"`
	NumClasses    int `yaml:"num_classes"`

	// ValidationSplit is the fraction of each training class held out for validation.
	ValidationSplit float64 `yaml:"validation_split"`

	// Patience and MinDelta configure early stopping on the validation loss.
	Patience int     `yaml:"patience"`
	MinDelta float64 `yaml:"min_delta"`

	// Seed for shuffling and augmentation.
	Seed int64 `yaml:"seed"`

	Augment Augmentation `yaml:"augmentation"`

	// Classes names the classes of models whose files don't list them. Training discovers them from the
	// dataset directories instead.
	Classes []string `yaml:"classes,omitempty"`

	ModelFile           string `yaml:"model_file"`
	ConfusionMatrixFile string `yaml:"confusion_matrix_file"`
	CurvesFile          string `yaml:"curves_file"`
	CurvesHTMLFile      string `yaml:"curves_html_file"`
	ReportFile          string `yaml:"report_file"`
	HistoryCSVFile      string `yaml:"history_csv_file"`
	SummaryFile         string `yaml:"summary_file"`
	PredictionsFile     string `yaml:"predictions_file"`
}

// Default output file names.
const (
	DefaultModelFile           = "modelo_emociones_fer2013.gomlx"
	DefaultConfusionMatrixFile = "matriz_confusion.png"
	DefaultCurvesFile          = "entrenamiento_curvas.png"
	DefaultCurvesHTMLFile      = "entrenamiento_curvas.html"
	DefaultReportFile          = "informe_entrenamiento.txt"
	DefaultHistoryCSVFile      = "historial_entrenamiento.csv"
	DefaultSummaryFile         = "resumen_entrenamiento.yaml"
	DefaultPredictionsFile     = "predicciones_test.npz"
)

// Default returns the configuration used to train the FER2013 model: 48x48 images, batches of 64,
// at most 50 epochs and 7 emotion classes.
func Default() Config {
	return Config{
		DataDir:         "FER2013",
		OutputDir:       ".",
		ImageSize:       48,
		BatchSize:       64,
		EvalBatchSize:   64,
		Epochs:          50,
		NumClasses:      7,
		ValidationSplit: 0.2,
		Patience:        8,
		Seed:            42,
		Augment: Augmentation{
			RotationRange:    20,
			ZoomRange:        0.2,
			WidthShiftRange:  0.1,
			HeightShiftRange: 0.1,
			HorizontalFlip:   true,
		},
		ModelFile:           DefaultModelFile,
		ConfusionMatrixFile: DefaultConfusionMatrixFile,
		CurvesFile:          DefaultCurvesFile,
		CurvesHTMLFile:      DefaultCurvesHTMLFile,
		ReportFile:          DefaultReportFile,
		HistoryCSVFile:      DefaultHistoryCSVFile,
		SummaryFile:         DefaultSummaryFile,
		PredictionsFile:     DefaultPredictionsFile,
	}
}

// TrainPath returns the directory holding the training (and validation) images.
func (c Config) TrainPath() string {
	if c.TrainDir != "" {
		return fsutil.MustReplaceTildeInDir(c.TrainDir)
	}
	return filepath.Join(fsutil.MustReplaceTildeInDir(c.DataDir), "train")
}

// TestPath returns the directory holding the test images.
func (c Config) TestPath() string {
	if c.TestDir != "" {
		return fsutil.MustReplaceTildeInDir(c.TestDir)
	}
	return filepath.Join(fsutil.MustReplaceTildeInDir(c.DataDir), "test")
}

// OutputPath joins name to OutputDir, unless name is absolute. It returns "" for an empty name, which
// disables the corresponding artifact.
func (c Config) OutputPath(name string) string {
	if name == "" {
		return ""
	}
	name = fsutil.MustReplaceTildeInDir(name)
	if filepath.IsAbs(name) || c.OutputDir == "" {
		return name
	}
	return filepath.Join(fsutil.MustReplaceTildeInDir(c.OutputDir), name)
}

// EvalBatch returns the batch size used for evaluation: EvalBatchSize if set, otherwise BatchSize.
func (c Config) EvalBatch() int {
	if c.EvalBatchSize > 0 {
		return c.EvalBatchSize
	}
	return c.BatchSize
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.DataDir == "" && (c.TrainDir == "" || c.TestDir == "") {
		return errors.New("config: data directory not set")
	}
	if c.ImageSize <= 0 {
		return errors.Errorf("config: image size must be > 0, got %d", c.ImageSize)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("config: batch size must be > 0, got %d", c.BatchSize)
	}
	if c.EvalBatchSize < 0 {
		return errors.Errorf("config: eval batch size must be >= 0, got %d", c.EvalBatchSize)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("config: number of epochs must be > 0, got %d", c.Epochs)
	}
	if c.NumClasses < 2 {
		return errors.Errorf("config: number of classes must be >= 2, got %d", c.NumClasses)
	}
	if c.ValidationSplit <= 0 || c.ValidationSplit >= 1 {
		return errors.Errorf("config: validation split must be in (0, 1), got %g", c.ValidationSplit)
	}
	if c.Patience <= 0 {
		return errors.Errorf("config: early stopping patience must be > 0, got %d", c.Patience)
	}
	if c.MinDelta < 0 {
		return errors.Errorf("config: early stopping min delta must be >= 0, got %g", c.MinDelta)
	}
	if len(c.Classes) > 0 && len(c.Classes) != c.NumClasses {
		return errors.Errorf("config: %d class names given for %d classes", len(c.Classes), c.NumClasses)
	}
	if c.ModelFile == "" {
		return errors.New("config: model file not set")
	}
	a := c.Augment
	if a.RotationRange < 0 || a.ZoomRange < 0 || a.ZoomRange >= 1 || a.WidthShiftRange < 0 ||
		a.WidthShiftRange >= 1 || a.HeightShiftRange < 0 || a.HeightShiftRange >= 1 {
		return errors.Errorf("config: invalid augmentation ranges %+v", a)
	}
	return nil
}
