// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Names of the accuracy metrics, used to find their values among the trainer's metrics.
const (
	AccuracyMetricName      = "Mean Accuracy"
	BatchAccuracyMetricName = "Batch Accuracy"
)

// CategoricalAccuracyGraph returns the fraction of examples whose most probable class matches the one-hot
// encoded label. labels[0] and predictions[0] must have the same shape, [batch_size, num_classes].
//
// It works equally for logits or probabilities.
func CategoricalAccuracyGraph(_ *context.Context, labels, predictions []*Node) *Node {
	labels0, predictions0 := labels[0], predictions[0]
	if !labels0.Shape().Equal(predictions0.Shape()) {
		exceptions.Panicf("one-hot labels (%s) and predictions (%s) must have the same shape",
			labels0.Shape(), predictions0.Shape())
	}
	dtype := predictions0.DType()
	g := predictions0.Graph()
	correct := ConvertDType(Equal(ArgMax(predictions0, -1), ArgMax(labels0, -1)), dtype)
	count := Scalar(g, dtype, float64(correct.Shape().Size()))
	return Div(ReduceAllSum(correct), count)
}

func accuracyPrettyPrint(value *tensors.Tensor) string {
	return fmt.Sprintf("%.2f%%", 100*shapes.ConvertTo[float64](value.Value()))
}

// NewMeanAccuracy returns an accuracy metric averaged over a whole dataset, used for evaluation.
func NewMeanAccuracy() *metrics.MeanMetric {
	return metrics.NewMeanMetric(AccuracyMetricName, "#acc", metrics.AccuracyMetricType,
		CategoricalAccuracyGraph, accuracyPrettyPrint)
}

// NewBatchAccuracy returns the accuracy of the current batch, used as a training metric.
func NewBatchAccuracy() metrics.Interface {
	return metrics.NewBaseMetric(BatchAccuracyMetricName, "acc", metrics.AccuracyMetricType,
		CategoricalAccuracyGraph, accuracyPrettyPrint)
}

// LossGraph is the mean categorical cross-entropy of the logits returned by ModelGraph, for one-hot labels.
func LossGraph(labels, logits []*Node) *Node {
	return ReduceAllMean(losses.CategoricalCrossEntropyLogits(labels, logits))
}

// NewTrainer creates the trainer of the model, with the optimizer configured in ctx.
//
// Training metrics are the batch loss and the batch accuracy; evaluation metrics are the mean loss and the
// mean accuracy (see AccuracyMetricName).
//
// The model variables are created under ModelScope.
func NewTrainer(backend backends.Backend, ctx *context.Context) *train.Trainer {
	ctx = ctx.In(ModelScope)
	return train.NewTrainer(backend, ctx, ModelGraph,
		LossGraph,
		optimizers.FromContext(ctx),
		[]metrics.Interface{NewBatchAccuracy()}, // trainMetrics
		[]metrics.Interface{NewMeanAccuracy()})  // evalMetrics
}

// MetricIndex returns the position of the metric with the given name, or an error if it is not there.
func MetricIndex(metricsList []metrics.Interface, name string) (int, error) {
	for ii, m := range metricsList {
		if m.Name() == name {
			return ii, nil
		}
	}
	return -1, errors.Errorf("metric %q not found", name)
}

// LossAndAccuracy extracts the loss (always the first metric) and the accuracy from the values returned by
// Trainer.Eval.
func LossAndAccuracy(trainer *train.Trainer, values []*tensors.Tensor) (loss, accuracy float64, err error) {
	accIdx, err := MetricIndex(trainer.EvalMetrics(), AccuracyMetricName)
	if err != nil {
		return 0, 0, err
	}
	if len(values) <= accIdx {
		return 0, 0, errors.Errorf("evaluation returned %d metrics, expected at least %d", len(values), accIdx+1)
	}
	loss = shapes.ConvertTo[float64](values[0].Value())
	accuracy = shapes.ConvertTo[float64](values[accIdx].Value())
	return
}
