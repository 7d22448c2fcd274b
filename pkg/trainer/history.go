// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

// EpochMetrics are the metrics collected at the end of one epoch.
type EpochMetrics struct {
	Loss        float64 `yaml:"loss"`
	Accuracy    float64 `yaml:"accuracy"`
	ValLoss     float64 `yaml:"val_loss"`
	ValAccuracy float64 `yaml:"val_accuracy"`
}

// History of a training run, one entry per epoch run.
type History struct {
	Loss        []float64 `yaml:"loss"`
	Accuracy    []float64 `yaml:"accuracy"`
	ValLoss     []float64 `yaml:"val_loss"`
	ValAccuracy []float64 `yaml:"val_accuracy"`

	// StoppedEarly is set if the policy stopped training before the maximum number of epochs.
	StoppedEarly bool `yaml:"stopped_early"`

	// BestEpoch (0-based) whose weights were kept, or -1 if no epoch improved.
	BestEpoch int `yaml:"best_epoch"`
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{BestEpoch: -1}
}

// Len returns the number of epochs recorded.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Loss)
}

// Append the metrics of one more epoch.
func (h *History) Append(m EpochMetrics) {
	h.Loss = append(h.Loss, m.Loss)
	h.Accuracy = append(h.Accuracy, m.Accuracy)
	h.ValLoss = append(h.ValLoss, m.ValLoss)
	h.ValAccuracy = append(h.ValAccuracy, m.ValAccuracy)
}

// At returns the metrics of the given epoch.
func (h *History) At(epoch int) EpochMetrics {
	return EpochMetrics{
		Loss:        h.Loss[epoch],
		Accuracy:    h.Accuracy[epoch],
		ValLoss:     h.ValLoss[epoch],
		ValAccuracy: h.ValAccuracy[epoch],
	}
}

// Epochs returns the 1-based epoch numbers, usually used as the x-axis of plots.
func (h *History) Epochs() []int {
	epochs := make([]int, h.Len())
	for ii := range epochs {
		epochs[ii] = ii + 1
	}
	return epochs
}
