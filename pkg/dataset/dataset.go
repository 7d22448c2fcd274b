// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset reads labeled facial-expression images from a directory tree (<root>/<class>/*.jpg)
// and yields batches of images and one-hot labels, implementing train.Dataset.
package dataset

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/rand"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/emotions/pkg/config"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// DType of the yielded images and labels.
var DType = dtypes.Float32

// Dataset implements train.Dataset over a list of image files.
//
// Each call to Yield returns:
//
//   - spec: nil.
//   - inputs: one tensor with the images batch, shaped [batch_size, image_size, image_size, 3], with values
//     rescaled to [0, 1].
//   - labels: one tensor with the one-hot encoded labels, shaped [batch_size, num_classes].
//
// The last batch of an epoch may be smaller than the batch size. After the last batch it returns io.EOF,
// and Reset must be called to start a new epoch.
//
// A Dataset is meant to be consumed by one train.Loop (or one evaluation) at a time.
type Dataset struct {
	name       string
	examples   []Example
	classes    []string
	imageSize  int
	batchSize  int
	toTensor   *timage.ToTensorConfig
	augmenter  *Augmenter
	shuffle    *rand.Rand
	muPosition sync.Mutex
	order      []int
	next       int
}

var (
	assertDatasetIsTrainDataset *Dataset
	_                           train.Dataset = assertDatasetIsTrainDataset
)

// New creates a Dataset over examples, whose labels index classes.
//
// By default, it yields examples in the given order, with no augmentation. See Shuffle and WithAugmentation.
func New(name string, examples []Example, classes []string, imageSize, batchSize int) *Dataset {
	ds := &Dataset{
		name:      name,
		examples:  examples,
		classes:   classes,
		imageSize: imageSize,
		batchSize: batchSize,
		toTensor:  timage.ToTensor(DType),
	}
	ds.Reset()
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Shuffle configures the Dataset to yield examples in a new random order at every epoch (at every Reset).
//
// It returns itself, to allow cascading configuration calls.
func (ds *Dataset) Shuffle(seed int64) *Dataset {
	ds.shuffle = rand.New(rand.NewSource(seed))
	ds.Reset()
	return ds
}

// WithAugmentation configures random transformations of the images. Augmentation is disabled if aug has no
// transformation enabled.
//
// It returns itself, to allow cascading configuration calls.
func (ds *Dataset) WithAugmentation(aug config.Augmentation, seed int64) *Dataset {
	if !aug.Enabled() {
		ds.augmenter = nil
		return ds
	}
	ds.augmenter = NewAugmenter(aug, seed)
	return ds
}

// WithBatchSize changes the batch size.
//
// It returns itself, to allow cascading configuration calls.
func (ds *Dataset) WithBatchSize(batchSize int) *Dataset {
	ds.batchSize = batchSize
	return ds
}

// Classes returns the class names, indexed by label.
func (ds *Dataset) Classes() []string { return ds.classes }

// NumExamples in one epoch.
func (ds *Dataset) NumExamples() int { return len(ds.examples) }

// BatchSize configured.
func (ds *Dataset) BatchSize() int { return ds.batchSize }

// Examples returns the examples in the order of the current epoch.
func (ds *Dataset) Examples() []Example {
	ds.muPosition.Lock()
	defer ds.muPosition.Unlock()
	examples := make([]Example, len(ds.order))
	for ii, idx := range ds.order {
		examples[ii] = ds.examples[idx]
	}
	return examples
}

// Labels returns the true labels in the order they are yielded in the current epoch.
// For a Dataset that is not shuffled, this is always the same.
func (ds *Dataset) Labels() []int {
	examples := ds.Examples()
	labels := make([]int, len(examples))
	for ii, ex := range examples {
		labels[ii] = ex.Label
	}
	return labels
}

// Reset implements train.Dataset. It restarts the Dataset from the beginning, re-shuffling it if so configured.
func (ds *Dataset) Reset() {
	ds.muPosition.Lock()
	defer ds.muPosition.Unlock()
	ds.next = 0
	if len(ds.order) != len(ds.examples) {
		ds.order = make([]int, len(ds.examples))
		for ii := range ds.order {
			ds.order[ii] = ii
		}
	}
	if ds.shuffle != nil {
		ds.shuffle.Shuffle(len(ds.order), func(i, j int) {
			ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
		})
	}
}

// nextBatch returns the examples for the next batch, or io.EOF at the end of the epoch.
func (ds *Dataset) nextBatch() ([]Example, error) {
	ds.muPosition.Lock()
	defer ds.muPosition.Unlock()
	if ds.next >= len(ds.order) {
		return nil, io.EOF
	}
	end := min(ds.next+ds.batchSize, len(ds.order))
	batch := make([]Example, 0, end-ds.next)
	for _, idx := range ds.order[ds.next:end] {
		batch = append(batch, ds.examples[idx])
	}
	ds.next = end
	return batch, nil
}

// YieldImages returns the next batch of (resized and possibly augmented) images and their labels.
// See Yield to get tensors instead.
func (ds *Dataset) YieldImages() (images []image.Image, labels []int, err error) {
	batch, err := ds.nextBatch()
	if err != nil {
		return nil, nil, err
	}
	images = make([]image.Image, len(batch))
	labels = make([]int, len(batch))
	for ii, ex := range batch {
		var img image.Image
		img, err = LoadImage(ex.Path, ds.imageSize)
		if err != nil {
			return nil, nil, err
		}
		if ds.augmenter != nil {
			img = ds.augmenter.Apply(img)
		}
		images[ii] = img
		labels[ii] = ex.Label
	}
	return
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	var images []image.Image
	var labelsIdx []int
	images, labelsIdx, err = ds.YieldImages()
	if err != nil {
		return
	}
	inputs = []*tensors.Tensor{ds.toTensor.Batch(images)}
	labels = []*tensors.Tensor{OneHot(labelsIdx, len(ds.classes))}
	return
}

// OneHot encodes labels as a float tensor shaped [len(labels), numClasses].
func OneHot(labels []int, numClasses int) *tensors.Tensor {
	oneHot := make([][]float32, len(labels))
	for ii, label := range labels {
		oneHot[ii] = make([]float32, numClasses)
		oneHot[ii][label] = 1
	}
	return tensors.FromValue(oneHot)
}

// LoadImage reads an image file and resizes it to size x size pixels.
// Grayscale images are converted to RGB, as expected by the model.
func LoadImage(imagePath string, size int) (image.Image, error) {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %q", imagePath)
	}
	return Resize(img, size), nil
}

// Resize an image to size x size pixels. It doesn't preserve the aspect ratio, so non-square images are
// stretched.
func Resize(img image.Image, size int) image.Image {
	bounds := img.Bounds().Size()
	if bounds.X == size && bounds.Y == size {
		// Still convert it to NRGBA, so all images share the same color model.
		return imaging.Clone(img)
	}
	return imaging.Resize(img, size, size, imaging.Linear)
}
