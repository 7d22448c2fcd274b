// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classifier classifies facial expressions with a trained model.
//
// To use it, create a Classifier with New (from a model file) or FromContext (from a model in memory),
// and call Classify with any image: it is resized to the model's input size first.
package classifier

import (
	"image"
	"io"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/emotions/pkg/bundle"
	"github.com/gomlx/emotions/pkg/dataset"
	"github.com/gomlx/emotions/pkg/model"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Classifier holds the model compiled for inference.
type Classifier struct {
	backend   backends.Backend
	ctx       *context.Context
	classes   []string
	imageSize int
	toTensor  *timage.ToTensorConfig

	// muExec serializes the executions of exec.
	muExec sync.Mutex
	exec   *context.Exec

	// Manifest of the model file, if created with New.
	Manifest bundle.Manifest
}

// New loads the model file at path and creates a Classifier with it.
//
// The hyperparameters stored in the file are used to rebuild the model, and the class names are
// taken from its manifest (or its parameters, for legacy files).
func New(path string, backend backends.Backend) (*Classifier, error) {
	b, err := bundle.Open(path)
	if err != nil {
		return nil, err
	}
	ctx := context.New()
	if err := b.LoadInto(ctx); err != nil {
		return nil, errors.WithMessagef(err, "failed while loading model from %q", path)
	}
	classes := b.Manifest.Classes
	if len(classes) == 0 {
		classes = model.Classes(ctx)
	}
	c, err := FromContext(ctx, classes, context.GetParamOr(ctx, model.ParamImageSize, 0), backend)
	if err != nil {
		return nil, errors.WithMessagef(err, "model file %q", path)
	}
	c.Manifest = b.Manifest
	return c, nil
}

// FromContext creates a Classifier for the model in ctx, whose variables must already exist.
//
// classes are the class names indexed by label. If empty, the names stored in ctx are used.
func FromContext(ctx *context.Context, classes []string, imageSize int, backend backends.Backend) (*Classifier, error) {
	if len(classes) == 0 {
		classes = model.Classes(ctx)
	}
	numClasses := context.GetParamOr(ctx, model.ParamNumClasses, 0)
	if len(classes) == 0 {
		return nil, errors.New("model has no class names")
	}
	if numClasses != len(classes) {
		return nil, errors.Errorf("model outputs %d classes, but %d class names were given", numClasses, len(classes))
	}
	if imageSize <= 0 {
		return nil, errors.Errorf("invalid model image size %d", imageSize)
	}
	c := &Classifier{
		backend:   backend,
		ctx:       ctx.Reuse(), // It is an error to create new variables: they all must come from the model.
		classes:   classes,
		imageSize: imageSize,
		toTensor:  timage.ToTensor(dataset.DType),
	}
	var err error
	c.exec, err = context.NewExec(backend, c.ctx.In(model.ModelScope),
		func(ctx *context.Context, images *Node) (predictions, probabilities *Node) {
			return model.PredictGraph(ctx, images)
		})
	if err != nil {
		return nil, errors.WithMessage(err, "creating model executor")
	}
	return c, nil
}

// Classes returns the class names, indexed by label.
func (c *Classifier) Classes() []string { return c.classes }

// ImageSize of the model input.
func (c *Classifier) ImageSize() int { return c.imageSize }

// Predict the class and the probabilities of each image in the batch, shaped
// [batch_size, image_size, image_size, 3] with values in [0, 1].
func (c *Classifier) Predict(images *tensors.Tensor) (predictions []int, probabilities [][]float32, err error) {
	var predTensor, probTensor *tensors.Tensor
	c.muExec.Lock()
	err = exceptions.TryCatch[error](func() {
		predTensor, probTensor = c.exec.MustExec2(images)
	})
	c.muExec.Unlock()
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to run model")
	}
	defer predTensor.MustFinalizeAll()
	defer probTensor.MustFinalizeAll()

	flatPred := tensors.MustCopyFlatData[int32](predTensor)
	flatProb := tensors.MustCopyFlatData[float32](probTensor)
	numClasses := len(c.classes)
	predictions = make([]int, len(flatPred))
	probabilities = make([][]float32, len(flatPred))
	for ii, p := range flatPred {
		predictions[ii] = int(p)
		probabilities[ii] = flatProb[ii*numClasses : (ii+1)*numClasses]
	}
	return
}

// PredictDataset predicts every remaining example of ds, in the order they are yielded. It consumes ds:
// call ds.Reset before and after, as needed.
//
// It implements report.Predictor.
func (c *Classifier) PredictDataset(ds *dataset.Dataset) (predictions []int, probabilities [][]float32, err error) {
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "reading %q", ds.Name())
		}
		for _, t := range labels {
			t.MustFinalizeAll()
		}
		batchPred, batchProb, err := c.Predict(inputs[0])
		inputs[0].MustFinalizeAll()
		if err != nil {
			return nil, nil, err
		}
		predictions = append(predictions, batchPred...)
		probabilities = append(probabilities, batchProb...)
	}
	return
}

// Prediction for one image.
type Prediction struct {
	Label         int
	Class         string
	Confidence    float32
	Probabilities map[string]float32
}

// Percentages returns the probability of each class as a rounded integer percentage.
func (p Prediction) Percentages() map[string]int {
	percentages := make(map[string]int, len(p.Probabilities))
	for class, prob := range p.Probabilities {
		percentages[class] = int(math.Round(100 * float64(prob)))
	}
	return percentages
}

// Classify an image of any size.
func (c *Classifier) Classify(img image.Image) (Prediction, error) {
	img = dataset.Resize(img, c.imageSize)
	input := c.toTensor.Batch([]image.Image{img})
	defer input.MustFinalizeAll()
	predictions, probabilities, err := c.Predict(input)
	if err != nil {
		return Prediction{}, err
	}
	label := predictions[0]
	p := Prediction{
		Label:         label,
		Class:         c.classes[label],
		Confidence:    probabilities[0][label],
		Probabilities: make(map[string]float32, len(c.classes)),
	}
	for ii, class := range c.classes {
		p.Probabilities[class] = probabilities[0][ii]
	}
	return p, nil
}

// ClassifyReader decodes an image (JPEG, PNG, GIF or BMP) from r and classifies it.
func (c *Classifier) ClassifyReader(r io.Reader) (Prediction, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return Prediction{}, errors.Wrap(err, "failed to decode image")
	}
	return c.Classify(img)
}

// ClassifyFile reads an image file and classifies it.
func (c *Classifier) ClassifyFile(path string) (Prediction, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return Prediction{}, errors.Wrapf(err, "failed to read image %q", path)
	}
	return c.Classify(img)
}
