// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model defines the convolutional emotion classifier: its graph, its hyperparameters (stored as
// context parameters) and the trainer used to fit it.
//
// The network is three convolution blocks (convolution, ReLU, batch normalization, max-pooling and dropout)
// followed by a dense hidden layer and a softmax output. It takes images shaped
// [batch_size, image_size, image_size, 3] with values in [0, 1], and returns the probabilities of each class.
package model

import (
	"slices"

	"github.com/gomlx/emotions/pkg/config"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ModelScope is the context scope under which all the model variables are created.
const ModelScope = "model"

// Context parameters describing the model. They are saved along with the model variables, so a model file
// describes its own architecture.
const (
	ParamImageSize        = "image_size"
	ParamNumClasses       = "num_classes"
	ParamClasses          = "classes"
	ParamConvChannels     = "conv_channels"
	ParamConvDropoutRate  = "conv_dropout_rate"
	ParamDenseUnits       = "dense_units"
	ParamDenseDropoutRate = "dense_dropout_rate"
	ParamBatchSize        = "batch_size"
	ParamEpochs           = "epochs"
)

// Default hyperparameters.
var (
	DefaultConvChannels           = []int{64, 128, 256}
	DefaultConvDropoutRate        = 0.25
	DefaultDenseUnits             = 256
	DefaultDenseDropoutRate       = 0.5
	DefaultLearningRate           = 1e-3
	DefaultAdamEpsilon            = 1e-7
	DType                         = dtypes.Float32
	convKernelSize, poolingWindow = 3, 2
)

// CreateDefaultContext returns a context.Context with the model hyperparameters set from cfg, and the
// default optimizer (Adam with learning rate 1e-3).
//
// Individual hyperparameters can be changed afterward with ctx.SetParam, or from the command line
// with commandline.ParseContextSettings.
func CreateDefaultContext(cfg config.Config) *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamConvChannels:     slices.Clone(DefaultConvChannels),
		ParamConvDropoutRate:  DefaultConvDropoutRate,
		ParamDenseUnits:       DefaultDenseUnits,
		ParamDenseDropoutRate: DefaultDenseDropoutRate,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: DefaultLearningRate,
		optimizers.ParamAdamEpsilon:  DefaultAdamEpsilon,
	})
	ApplyConfig(ctx, cfg)
	return ctx
}

// ApplyConfig sets the context parameters that mirror cfg: image size, number of classes, batch size and
// number of epochs. Other parameters are left untouched.
func ApplyConfig(ctx *context.Context, cfg config.Config) {
	ctx.InAbsPath(context.RootScope).SetParams(map[string]any{
		ParamImageSize:  cfg.ImageSize,
		ParamNumClasses: cfg.NumClasses,
		ParamBatchSize:  cfg.BatchSize,
		ParamEpochs:     cfg.Epochs,
	})
}

// SetClasses records the class names (indexed by label) in the context, so they are saved with the model.
func SetClasses(ctx *context.Context, classes []string) {
	ctx.InAbsPath(context.RootScope).SetParam(ParamClasses, slices.Clone(classes))
}

// Classes returns the class names stored in the context, or nil if they were not set.
func Classes(ctx *context.Context) []string {
	return context.GetParamOr[[]string](ctx, ParamClasses, nil)
}

// MinImageSize is the smallest image size for which the convolution blocks leave a non-empty feature map.
func MinImageSize(numBlocks int) int {
	size := 1
	for range numBlocks {
		// Undo one pooling, then one valid convolution.
		size = size*poolingWindow + convKernelSize - 1
	}
	return size
}

// ModelGraph implements train.ModelFn. It returns the logits of each class, shaped
// [batch_size, num_classes]. Use PredictGraph for the probabilities.
//
// The ctx passed should be the one in the ModelScope.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec // Not used.
	images := inputs[0]
	g := images.Graph()
	dtype := images.DType()
	batchSize := images.Shape().Dimensions[0]

	imageSize := context.GetParamOr(ctx, ParamImageSize, 0)
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 0)
	convChannels := context.GetParamOr(ctx, ParamConvChannels, DefaultConvChannels)
	convDropoutRate := context.GetParamOr(ctx, ParamConvDropoutRate, DefaultConvDropoutRate)
	denseUnits := context.GetParamOr(ctx, ParamDenseUnits, DefaultDenseUnits)
	denseDropoutRate := context.GetParamOr(ctx, ParamDenseDropoutRate, DefaultDenseDropoutRate)
	if numClasses < 2 {
		exceptions.Panicf("model requires %q >= 2, got %d", ParamNumClasses, numClasses)
	}
	if minSize := MinImageSize(len(convChannels)); imageSize < minSize {
		exceptions.Panicf("model requires %q >= %d for %d convolution blocks, got %d",
			ParamImageSize, minSize, len(convChannels), imageSize)
	}
	images.AssertDims(batchSize, imageSize, imageSize, 3)

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		newCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return newCtx
	}

	x := images
	size := imageSize
	for _, channels := range convChannels {
		x = layers.Convolution(nextCtx("conv"), x).Channels(channels).KernelSize(convKernelSize).NoPadding().Done()
		size -= convKernelSize - 1
		x = activations.Relu(x)
		x = batchnorm.New(nextCtx("batchnorm"), x, -1).Done()
		x = MaxPool(x).Window(poolingWindow).Done()
		size /= poolingWindow
		x = layers.DropoutNormalize(nextCtx("dropout"), x, Scalar(g, dtype, convDropoutRate), true)
		x.AssertDims(batchSize, size, size, channels)
	}

	x = Reshape(x, batchSize, -1)
	x = layers.Dense(nextCtx("dense"), x, true, denseUnits)
	x = activations.Relu(x)
	x = layers.DropoutNormalize(nextCtx("dropout"), x, Scalar(g, dtype, denseDropoutRate), true)
	logits := layers.Dense(nextCtx("dense"), x, true, numClasses)
	logits.AssertDims(batchSize, numClasses)
	return []*Node{logits}
}

// PredictGraph returns the predicted class (as int32) and the probabilities for a batch of images.
func PredictGraph(ctx *context.Context, images *Node) (predictions, probabilities *Node) {
	probabilities = Softmax(ModelGraph(ctx, nil, []*Node{images})[0])
	predictions = ArgMax(probabilities, -1, dtypes.Int32)
	return
}

// Architecture creates every variable of a model in ctx, with its initial (random) values.
//
// It is used when loading only the weights of a model file: with a reuse-only context, any variable
// missing from the file, or with a different shape, makes the architecture fail.
type Architecture func(ctx *context.Context, backend backends.Backend) error

var _ Architecture = BuildArchitecture

// BuildArchitecture implements Architecture for ModelGraph. It builds and runs the model once, in inference
// mode, on a single blank image of the size given by the ParamImageSize parameter.
func BuildArchitecture(ctx *context.Context, backend backends.Backend) error {
	imageSize := context.GetParamOr(ctx, ParamImageSize, 0)
	if imageSize <= 0 {
		return errors.Errorf("model parameter %q not set", ParamImageSize)
	}
	return exceptions.TryCatch[error](func() {
		dummy := tensors.FromShape(shapes.Make(DType, 1, imageSize, imageSize, 3))
		exec := context.MustNewExec(backend, ctx.In(ModelScope), func(ctx *context.Context, images *Node) *Node {
			return ModelGraph(ctx, nil, []*Node{images})[0]
		})
		result := exec.MustExec(dummy)
		for _, t := range result {
			t.MustFinalizeAll()
		}
	})
}
