// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"math"
	"testing"

	"github.com/gomlx/emotions/pkg/config"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

const testImageSize = 24

func testContext(numClasses int) *context.Context {
	cfg := config.Default()
	cfg.ImageSize = testImageSize
	cfg.NumClasses = numClasses
	ctx := CreateDefaultContext(cfg)
	// Keep the test model small.
	ctx.SetParam(ParamConvChannels, []int{4, 8, 8})
	ctx.SetParam(ParamDenseUnits, 16)
	must.M(ctx.SetRNGStateFromSeed(42))
	return ctx
}

func TestMinImageSize(t *testing.T) {
	// 22 -> conv 20 -> pool 10 -> conv 8 -> pool 4 -> conv 2 -> pool 1.
	assert.Equal(t, 22, MinImageSize(3))
	assert.Equal(t, 4, MinImageSize(1))
	// 48x48 images end with 4x4x256 features, as the Keras model.
	size := 48
	for range 3 {
		size = (size - 2) / 2
	}
	assert.Equal(t, 4, size)
}

func TestCreateDefaultContext(t *testing.T) {
	ctx := CreateDefaultContext(config.Default())
	assert.Equal(t, 48, context.GetParamOr(ctx, ParamImageSize, 0))
	assert.Equal(t, 7, context.GetParamOr(ctx, ParamNumClasses, 0))
	assert.Equal(t, []int{64, 128, 256}, context.GetParamOr[[]int](ctx, ParamConvChannels, nil))
	assert.Equal(t, "adam", context.GetParamOr(ctx, optimizers.ParamOptimizer, ""))
	assert.Equal(t, 1e-3, context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0))

	assert.Nil(t, Classes(ctx))
	SetClasses(ctx.In(ModelScope), []string{"happy", "sad"})
	assert.Equal(t, []string{"happy", "sad"}, Classes(ctx))

	// Overriding the configuration keeps the other parameters.
	ctx.SetParam(ParamDenseUnits, 16)
	cfg := config.Default()
	cfg.ImageSize, cfg.Epochs = 32, 3
	ApplyConfig(ctx.In(ModelScope), cfg)
	assert.Equal(t, 32, context.GetParamOr(ctx, ParamImageSize, 0))
	assert.Equal(t, 3, context.GetParamOr(ctx, ParamEpochs, 0))
	assert.Equal(t, 16, context.GetParamOr(ctx, ParamDenseUnits, 0))
}

func TestModelGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := testContext(3)
	images := tensors.FromShape(shapes.Make(DType, 5, testImageSize, testImageSize, 3))
	logits := context.MustExecOnce(backend, ctx.In(ModelScope), func(ctx *context.Context, images *Node) *Node {
		return ModelGraph(ctx, nil, []*Node{images})[0]
	}, images)
	require.Equal(t, []int{5, 3}, logits.Shape().Dimensions)

	// PredictGraph normalizes the logits into probabilities.
	probs := context.MustExecOnce(backend, ctx.In(ModelScope).Reuse(), func(ctx *context.Context, images *Node) *Node {
		_, probabilities := PredictGraph(ctx, images)
		return probabilities
	}, images)
	require.Equal(t, []int{5, 3}, probs.Shape().Dimensions)
	for _, row := range probs.Value().([][]float32) {
		sum := float32(0)
		for _, p := range row {
			assert.GreaterOrEqual(t, p, float32(0))
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-4)
	}

	// Images too small for the three convolution blocks.
	ctx = testContext(3)
	ctx.SetParam(ParamImageSize, 16)
	require.Error(t, BuildArchitecture(ctx, backend))
}

func TestBuildArchitecture(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := testContext(2)
	require.NoError(t, BuildArchitecture(ctx, backend))
	numModelVars := 0
	ctx.In(ModelScope).EnumerateVariablesInScope(func(v *context.Variable) { numModelVars++ })
	// 3 conv blocks with kernel+bias and 4 batch-norm variables, plus 2 dense layers with weights+bias.
	assert.GreaterOrEqual(t, numModelVars, 3*2+3*4+2*2)

	// Building it again in a reuse context succeeds, since all variables exist.
	require.NoError(t, BuildArchitecture(ctx.Reuse(), backend))

	// A reuse context with no variables fails.
	require.Error(t, BuildArchitecture(testContext(2).Reuse(), backend))
}

func TestCategoricalAccuracyGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	labels := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {0, 1, 0}}
	predictions := [][]float32{{0.8, 0.1, 0.1}, {0.2, 0.7, 0.1}, {0.5, 0.3, 0.2}, {0.3, 0.3, 0.4}}
	accuracy := must.M1(ExecOnce(backend, func(labels, predictions *Node) *Node {
		return CategoricalAccuracyGraph(nil, []*Node{labels}, []*Node{predictions})
	}, labels, predictions))
	assert.InDelta(t, 0.5, tensors.ToScalar[float32](accuracy), 1e-6)
}

func TestLossGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	labels := [][]float32{{1, 0}, {0, 1}}
	logits := [][]float32{{20, 0}, {0, 0}}
	loss := must.M1(ExecOnce(backend, func(labels, logits *Node) *Node {
		return LossGraph([]*Node{labels}, []*Node{logits})
	}, labels, logits))
	// Mean of -log(~1) and -log(0.5).
	assert.InDelta(t, 0.34657, tensors.ToScalar[float32](loss), 1e-3)

	// The loss must be differentiable, or no train step can be built: the gradient with respect to the
	// logits is (softmax(logits) - labels) / batch_size.
	grad := must.M1(ExecOnce(backend, func(labels, logits *Node) *Node {
		return Gradient(LossGraph([]*Node{labels}, []*Node{logits}), logits)[0]
	}, labels, [][]float32{{0, 0}, {0, 0}}))
	want := [][]float32{{-0.25, 0.25}, {0.25, -0.25}}
	for ii, row := range grad.Value().([][]float32) {
		assert.InDeltaSlice(t, want[ii], row, 1e-5)
	}
}

func TestTrainStep(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	trainer := NewTrainer(backend, testContext(2))
	images := tensors.FromShape(shapes.Make(DType, 2, testImageSize, testImageSize, 3))
	labels := tensors.FromValue([][]float32{{1, 0}, {0, 1}})
	// Building the train step computes the gradient of the loss through the whole model.
	metrics, err := trainer.TrainStep(nil, []*tensors.Tensor{images}, []*tensors.Tensor{labels})
	require.NoError(t, err)
	require.NotEmpty(t, metrics)
	assert.False(t, math.IsNaN(shapes.ConvertTo[float64](metrics[0].Value())))
}

func TestNewTrainer(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	trainer := NewTrainer(backend, testContext(2))
	idx, err := MetricIndex(trainer.EvalMetrics(), AccuracyMetricName)
	require.NoError(t, err)
	assert.Greater(t, idx, 0)
	_, err = MetricIndex(trainer.TrainMetrics(), BatchAccuracyMetricName)
	require.NoError(t, err)
	_, err = MetricIndex(trainer.TrainMetrics(), "unknown")
	require.Error(t, err)
}
