// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package trainer runs the epoch loop of the emotion classifier: it trains one epoch at a time, evaluates on
// the validation dataset, and lets a Policy (usually EarlyStopping) decide when to checkpoint or stop.
//
// The best weights are kept in memory and restored at the end of training, so the model left in the
// context (and in the saved file) is the one with the lowest validation loss.
package trainer

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/emotions/pkg/model"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Saver persists the model in ctx. It is called every time the model improves.
type Saver interface {
	Save(ctx *context.Context) error
}

// SaverFn adapts a function to a Saver.
type SaverFn func(ctx *context.Context) error

// Save implements Saver.
func (fn SaverFn) Save(ctx *context.Context) error { return fn(ctx) }

// Result of Fit.
type Result struct {
	History *History

	// BestEpoch (0-based) and BestValLoss of the weights left in the context. BestEpoch is -1 if no epoch
	// improved.
	BestEpoch   int
	BestValLoss float64

	// StoppedEarly is true if the policy stopped the training, in which case StoppedEpoch (0-based) is the
	// last epoch run. Otherwise, StoppedEpoch is -1.
	StoppedEarly bool
	StoppedEpoch int
}

// Fit trains for at most epochs passes over trainDS.
//
// After each epoch it evaluates valDS and asks the policy what to do:
//
//   - Checkpoint: the model variables are copied in memory and saver.Save is called (if saver is not nil).
//   - Stop: training stops.
//   - Continue: nothing is written.
//
// At the end, if the last epoch run is not the best one, the best weights are restored into the context.
// Optimizer state is not restored.
//
// The loop must have been created for trainer. Fit attaches an OnStep hook to it to collect the training
// loss and accuracy, averaged over the epoch and weighted by the batch sizes.
func Fit(trainer *train.Trainer, loop *train.Loop, trainDS, valDS train.Dataset, epochs int,
	policy Policy, saver Saver) (*Result, error) {
	if epochs <= 0 {
		return nil, errors.Errorf("number of epochs must be > 0, got %d", epochs)
	}
	if policy == nil {
		return nil, errors.New("trainer.Fit requires a Policy")
	}
	accIdx, err := model.MetricIndex(trainer.TrainMetrics(), model.BatchAccuracyMetricName)
	if err != nil {
		return nil, errors.WithMessage(err, "training metrics")
	}

	counted := &countingDataset{Dataset: trainDS}
	var epochStats runningMean
	loop.OnStep("emotions: epoch metrics", 0, func(_ *train.Loop, values []*tensors.Tensor) error {
		if len(values) <= accIdx {
			return errors.Errorf("training step returned %d metrics, expected at least %d", len(values), accIdx+1)
		}
		epochStats.add(counted.lastBatchSize,
			shapes.ConvertTo[float64](values[0].Value()),
			shapes.ConvertTo[float64](values[accIdx].Value()))
		return nil
	})

	ctx := trainer.Context()
	best := newSnapshot()
	defer best.finalize()
	result := &Result{
		History:      NewHistory(),
		BestEpoch:    -1,
		BestValLoss:  math.Inf(1),
		StoppedEpoch: -1,
	}

	for epoch := range epochs {
		epochStats = runningMean{}
		if _, err := loop.RunEpochs(counted, 1); err != nil {
			return nil, errors.WithMessagef(err, "training epoch %d", epoch+1)
		}
		valDS.Reset()
		values, err := trainer.Eval(valDS)
		valDS.Reset()
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluating epoch %d on %q", epoch+1, valDS.Name())
		}
		valLoss, valAccuracy, err := model.LossAndAccuracy(trainer, values)
		if err != nil {
			return nil, err
		}
		loss, accuracy := epochStats.means()
		result.History.Append(EpochMetrics{Loss: loss, Accuracy: accuracy, ValLoss: valLoss, ValAccuracy: valAccuracy})
		fmt.Printf("Epoch %d/%d - loss: %.4f - accuracy: %.4f - val_loss: %.4f - val_accuracy: %.4f\n",
			epoch+1, epochs, loss, accuracy, valLoss, valAccuracy)

		decision := policy.Observe(epoch, valLoss)
		klog.V(1).Infof("epoch %d: policy decision %s", epoch+1, decision)
		switch decision {
		case Checkpoint:
			if err := best.take(ctx); err != nil {
				return nil, err
			}
			result.BestEpoch, result.BestValLoss = epoch, valLoss
			if saver != nil {
				if err := saver.Save(ctx); err != nil {
					return nil, errors.WithMessagef(err, "saving model improved at epoch %d", epoch+1)
				}
			}
		case Stop:
			result.StoppedEarly = true
			result.StoppedEpoch = epoch
		}
		if result.StoppedEarly {
			fmt.Printf("Early stopping at epoch %d: best val_loss %.4f at epoch %d\n",
				epoch+1, result.BestValLoss, result.BestEpoch+1)
			break
		}
	}

	lastEpoch := result.History.Len() - 1
	if result.BestEpoch >= 0 && result.BestEpoch != lastEpoch {
		if err := best.restore(ctx); err != nil {
			return nil, err
		}
		klog.V(1).Infof("restored weights of epoch %d", result.BestEpoch+1)
	}
	result.History.StoppedEarly = result.StoppedEarly
	result.History.BestEpoch = result.BestEpoch
	return result, nil
}

// countingDataset records the size of the last batch yielded.
type countingDataset struct {
	train.Dataset
	lastBatchSize int
}

// Yield implements train.Dataset.
func (ds *countingDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = ds.Dataset.Yield()
	if err == nil && len(inputs) > 0 {
		ds.lastBatchSize = inputs[0].Shape().Dimensions[0]
	}
	return
}

// runningMean of loss and accuracy, weighted by batch size.
type runningMean struct {
	count                int
	sumLoss, sumAccuracy float64
}

func (m *runningMean) add(batchSize int, loss, accuracy float64) {
	weight := float64(max(batchSize, 1))
	m.count += max(batchSize, 1)
	m.sumLoss += weight * loss
	m.sumAccuracy += weight * accuracy
}

func (m *runningMean) means() (loss, accuracy float64) {
	if m.count == 0 {
		return math.NaN(), math.NaN()
	}
	return m.sumLoss / float64(m.count), m.sumAccuracy / float64(m.count)
}

// snapshot holds a host copy of the variables under the model scope.
type snapshot struct {
	values map[string]*tensors.Tensor
}

func newSnapshot() *snapshot {
	return &snapshot{values: make(map[string]*tensors.Tensor)}
}

// enumerateModelVariables calls fn for the weights of the model layers, including the batch normalization
// averages. The global step, optimizer state (learning rate and moments) and metric accumulators are left
// out.
func enumerateModelVariables(ctx *context.Context, fn func(v *context.Variable)) {
	layersPrefix := context.RootScope + model.ModelScope + context.ScopeSeparator
	for v := range ctx.IterVariables() {
		if !strings.HasPrefix(v.Scope(), layersPrefix) || v.Name() == optimizers.GlobalStepVariableName ||
			isTrainingState(strings.TrimPrefix(v.Scope(), layersPrefix)) {
			continue
		}
		fn(v)
	}
}

// isTrainingState returns whether the scope, relative to the model scope, holds optimizer or metric variables.
func isTrainingState(relScope string) bool {
	for _, part := range strings.Split(relScope, context.ScopeSeparator) {
		switch part {
		case optimizers.Scope, optimizers.AdamDefaultScope, metrics.Scope:
			return true
		}
	}
	return false
}

func (s *snapshot) take(ctx *context.Context) (err error) {
	s.finalize()
	enumerateModelVariables(ctx, func(v *context.Variable) {
		if err != nil {
			return
		}
		var value, clone *tensors.Tensor
		value, err = v.Value()
		if err != nil {
			err = errors.WithMessagef(err, "reading variable %s", v.ScopeAndName())
			return
		}
		clone, err = value.LocalClone()
		if err != nil {
			err = errors.WithMessagef(err, "copying variable %s", v.ScopeAndName())
			return
		}
		s.values[v.ScopeAndName()] = clone
	})
	return
}

func (s *snapshot) restore(ctx *context.Context) (err error) {
	enumerateModelVariables(ctx, func(v *context.Variable) {
		if err != nil {
			return
		}
		saved, found := s.values[v.ScopeAndName()]
		if !found {
			return
		}
		var clone *tensors.Tensor
		clone, err = saved.LocalClone()
		if err != nil {
			return
		}
		err = v.SetValue(clone)
		if err != nil {
			err = errors.WithMessagef(err, "restoring variable %s", v.ScopeAndName())
		}
	})
	return
}

func (s *snapshot) finalize() {
	for key, t := range s.values {
		t.MustFinalizeAll()
		delete(s.values, key)
	}
}
