// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrNoImages is returned when a directory holds no recognized image files.
	ErrNoImages = errors.New("no images found")

	// ErrClassMismatch is returned when the classes discovered in the dataset directories don't match each other,
	// or don't match the configured number of classes.
	ErrClassMismatch = errors.New("class mismatch")
)

// ImageExtensions recognized when scanning the class directories. Matching is case-insensitive.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif"}

// Example is one image file and its class index.
type Example struct {
	Path  string
	Label int
}

// IsImageFile returns whether the file name has one of the ImageExtensions.
func IsImageFile(name string) bool {
	return slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(name)))
}

// DiscoverClasses returns the names of the subdirectories of dir, sorted. The position of a name in the
// returned slice is its class index.
func DiscoverClasses(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset directory %q", dir)
	}
	var classes []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			classes = append(classes, entry.Name())
		}
	}
	if len(classes) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "no class subdirectories in %q", dir)
	}
	slices.Sort(classes)
	return classes, nil
}

// ScanDir lists the image files of each class under dir (dir/<class>/*.jpg), in class order and sorted by file
// name within a class.
//
// A class directory that is missing or holds no images is skipped with a warning, but if no image at all is found
// it returns ErrNoImages.
func ScanDir(dir string, classes []string) ([]Example, error) {
	var examples []Example
	for label, class := range classes {
		classDir := filepath.Join(dir, class)
		entries, err := os.ReadDir(classDir)
		if err != nil {
			if os.IsNotExist(err) {
				klog.Warningf("class directory %q not found, skipping", classDir)
				continue
			}
			return nil, errors.Wrapf(err, "failed to read class directory %q", classDir)
		}
		count := 0
		for _, entry := range entries {
			if entry.IsDir() || !IsImageFile(entry.Name()) {
				continue
			}
			examples = append(examples, Example{Path: filepath.Join(classDir, entry.Name()), Label: label})
			count++
		}
		if count == 0 {
			klog.Warningf("class directory %q has no images", classDir)
		}
		klog.V(1).Infof("%s: %d images", classDir, count)
	}
	if len(examples) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "directory %q", dir)
	}
	// os.ReadDir already returns entries sorted by file name.
	return examples, nil
}

// SplitValidation splits examples (as returned by ScanDir) into training and validation, per class:
// the first int(fraction*n) files of each class go to validation and the remaining to training.
//
// The split is deterministic, so the same directory always yields the same validation set.
func SplitValidation(examples []Example, numClasses int, fraction float64) (trainSet, validationSet []Example) {
	perClass := make([][]Example, numClasses)
	for _, ex := range examples {
		perClass[ex.Label] = append(perClass[ex.Label], ex)
	}
	for _, classExamples := range perClass {
		split := int(fraction * float64(len(classExamples)))
		validationSet = append(validationSet, classExamples[:split]...)
		trainSet = append(trainSet, classExamples[split:]...)
	}
	return
}

// CountPerClass returns the number of examples of each class.
func CountPerClass(examples []Example, numClasses int) []int {
	counts := make([]int, numClasses)
	for _, ex := range examples {
		counts[ex.Label]++
	}
	return counts
}
