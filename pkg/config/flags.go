// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import "flag"

// RegisterFlags defines command line flags on fs for the fields of cfg, using its current values as defaults.
// The values are written into cfg when fs is parsed.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Dataset root directory, with \"train\" and \"test\" subdirectories.")
	fs.StringVar(&cfg.TrainDir, "train_dir", cfg.TrainDir, "Training images directory. Overrides <data>/train.")
	fs.StringVar(&cfg.TestDir, "test_dir", cfg.TestDir, "Test images directory. Overrides <data>/test.")
	fs.StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "Directory where the model and reports are written.")
	fs.IntVar(&cfg.ImageSize, "image_size", cfg.ImageSize, "Images are resized to image_size x image_size.")
	fs.IntVar(&cfg.BatchSize, "batch_size", cfg.BatchSize, "Training batch size.")
	fs.IntVar(&cfg.EvalBatchSize, "eval_batch_size", cfg.EvalBatchSize, "Evaluation batch size. If 0, batch_size is used.")
	fs.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "Maximum number of training epochs.")
	fs.IntVar(&cfg.NumClasses, "num_classes", cfg.NumClasses, "Expected number of classes (emotions).")
	fs.Float64Var(&cfg.ValidationSplit, "validation_split", cfg.ValidationSplit,
		"Fraction of each training class held out for validation.")
	fs.IntVar(&cfg.Patience, "patience", cfg.Patience,
		"Number of epochs without improvement of the validation loss before stopping.")
	fs.Float64Var(&cfg.MinDelta, "min_delta", cfg.MinDelta, "Minimum decrease of the validation loss to count as an improvement.")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Seed for shuffling, augmentation and initialization.")

	fs.Float64Var(&cfg.Augment.RotationRange, "rotation_range", cfg.Augment.RotationRange, "Random rotation range, in degrees.")
	fs.Float64Var(&cfg.Augment.ZoomRange, "zoom_range", cfg.Augment.ZoomRange, "Random zoom range, as a fraction.")
	fs.Float64Var(&cfg.Augment.WidthShiftRange, "width_shift_range", cfg.Augment.WidthShiftRange,
		"Random horizontal shift, as a fraction of the width.")
	fs.Float64Var(&cfg.Augment.HeightShiftRange, "height_shift_range", cfg.Augment.HeightShiftRange,
		"Random vertical shift, as a fraction of the height.")
	fs.BoolVar(&cfg.Augment.HorizontalFlip, "horizontal_flip", cfg.Augment.HorizontalFlip, "Randomly flip images horizontally.")

	fs.StringVar(&cfg.ModelFile, "model", cfg.ModelFile, "Model file name.")
	fs.StringVar(&cfg.ConfusionMatrixFile, "confusion_matrix", cfg.ConfusionMatrixFile,
		"Confusion matrix image file name. Empty to skip it.")
	fs.StringVar(&cfg.CurvesFile, "curves", cfg.CurvesFile, "Training curves image file name. Empty to skip it.")
	fs.StringVar(&cfg.CurvesHTMLFile, "curves_html", cfg.CurvesHTMLFile, "Interactive training curves file name. Empty to skip it.")
	fs.StringVar(&cfg.ReportFile, "report", cfg.ReportFile, "Text report file name. Empty to skip it.")
	fs.StringVar(&cfg.HistoryCSVFile, "history_csv", cfg.HistoryCSVFile, "Training history CSV file name. Empty to skip it.")
	fs.StringVar(&cfg.SummaryFile, "summary", cfg.SummaryFile, "YAML summary file name. Empty to skip it.")
	fs.StringVar(&cfg.PredictionsFile, "predictions", cfg.PredictionsFile,
		"Test predictions (NumPy .npz) file name. Empty to skip it.")
}
