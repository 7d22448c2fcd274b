// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"fmt"
	"slices"

	"github.com/gomlx/emotions/pkg/config"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// Splits holds the three datasets used by a training run.
type Splits struct {
	// Train is shuffled at every epoch and augmented.
	Train *Dataset

	// Validation is a fixed fraction of the training directory, only rescaled.
	Validation *Dataset

	// Test covers the test directory, only rescaled, and is never shuffled: its Labels() are aligned
	// with the order of the predictions.
	Test *Dataset

	// Classes discovered in the training directory, indexed by label.
	Classes []string

	// TestClasses discovered in the test directory.
	TestClasses []string
}

// LoadOption configures Load.
type LoadOption func(o *loadOptions)

type loadOptions struct {
	verify       bool
	showProgress bool
	skipValidate bool
}

// WithVerification decodes every image once before training, so unreadable files are reported upfront
// instead of in the middle of an epoch. If showProgress is set, a progress bar is displayed.
func WithVerification(showProgress bool) LoadOption {
	return func(o *loadOptions) {
		o.verify = true
		o.showProgress = showProgress
	}
}

// SkipClassValidation makes Load return the splits even if the classes don't match, leaving it to the caller
// to call Splits.Validate.
func SkipClassValidation() LoadOption {
	return func(o *loadOptions) { o.skipValidate = true }
}

// Load scans the training and test directories configured in cfg and returns the three datasets.
//
// It fails if a directory is missing or holds no images, and, unless SkipClassValidation is given, if
// the classes don't match (see Splits.Validate).
func Load(cfg config.Config, options ...LoadOption) (*Splits, error) {
	var opts loadOptions
	for _, option := range options {
		option(&opts)
	}
	trainDir, testDir := cfg.TrainPath(), cfg.TestPath()
	for _, dir := range []string{trainDir, testDir} {
		exists, err := fsutil.FileExists(dir)
		if err != nil {
			return nil, errors.WithMessagef(err, "checking dataset directory %q", dir)
		}
		if !exists {
			return nil, errors.Errorf("dataset directory %q does not exist", dir)
		}
	}

	classes, err := DiscoverClasses(trainDir)
	if err != nil {
		return nil, err
	}
	testClasses, err := DiscoverClasses(testDir)
	if err != nil {
		return nil, err
	}
	splits := &Splits{Classes: classes, TestClasses: testClasses}
	if !opts.skipValidate {
		if err := splits.Validate(cfg.NumClasses); err != nil {
			return nil, err
		}
	}

	allTrain, err := ScanDir(trainDir, classes)
	if err != nil {
		return nil, err
	}
	trainSet, validationSet := SplitValidation(allTrain, len(classes), cfg.ValidationSplit)
	if len(trainSet) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "no training images left in %q after the validation split", trainDir)
	}
	if len(validationSet) == 0 {
		return nil, errors.Wrapf(ErrNoImages,
			"validation split %g of %d images in %q is empty", cfg.ValidationSplit, len(allTrain), trainDir)
	}
	// Test labels use the training class indices, so predictions and true labels share the same space.
	testSet, err := ScanDir(testDir, classes)
	if err != nil {
		return nil, err
	}

	if opts.verify {
		if err := Verify(slices.Concat(trainSet, validationSet, testSet), opts.showProgress); err != nil {
			return nil, err
		}
	}

	evalBatch := cfg.EvalBatch()
	splits.Train = New("Train", trainSet, classes, cfg.ImageSize, cfg.BatchSize).
		Shuffle(cfg.Seed).
		WithAugmentation(cfg.Augment, cfg.Seed+1)
	splits.Validation = New("Validation", validationSet, classes, cfg.ImageSize, evalBatch)
	splits.Test = New("Test", testSet, classes, cfg.ImageSize, evalBatch)
	return splits, nil
}

// Validate checks that the training and test directories hold the same set of classes, and that it matches
// numClasses. A mismatch returns an error wrapping ErrClassMismatch.
func (s *Splits) Validate(numClasses int) error {
	if !slices.Equal(s.Classes, s.TestClasses) {
		return errors.Wrapf(ErrClassMismatch, "training classes %v differ from test classes %v",
			s.Classes, s.TestClasses)
	}
	if numClasses != len(s.Classes) {
		return errors.Wrapf(ErrClassMismatch, "configured number of classes is %d, but found %d classes %v",
			numClasses, len(s.Classes), s.Classes)
	}
	return nil
}

// Verify decodes each example's image, returning the first error found.
func Verify(examples []Example, showProgress bool) error {
	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.Default(int64(len(examples)), "verifying images")
		defer func() { _ = bar.Finish() }()
	}
	for _, ex := range examples {
		if _, err := LoadImage(ex.Path, 1); err != nil {
			return err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	return nil
}

// String returns a summary of the splits.
func (s *Splits) String() string {
	return fmt.Sprintf("%d classes %v: train=%d, validation=%d, test=%d examples",
		len(s.Classes), s.Classes, s.Train.NumExamples(), s.Validation.NumExamples(), s.Test.NumExamples())
}
