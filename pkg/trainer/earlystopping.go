// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"fmt"
	"math"
)

// Decision taken by a Policy at the end of an epoch.
type Decision int

const (
	// Continue training, nothing to save.
	Continue Decision = iota

	// Checkpoint means the model improved: save it and continue.
	Checkpoint

	// Stop training, restoring the best model seen so far.
	Stop
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	switch d {
	case Continue:
		return "Continue"
	case Checkpoint:
		return "Checkpoint"
	case Stop:
		return "Stop"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Policy decides, once per epoch, what to do given the validation loss.
type Policy interface {
	Observe(epoch int, valLoss float64) Decision
}

// EarlyStopping is a Policy that monitors the validation loss: it asks for a checkpoint whenever the loss
// improves by more than minDelta, and stops after patience consecutive epochs without improvement.
//
// A NaN loss never counts as an improvement.
type EarlyStopping struct {
	patience  int
	minDelta  float64
	best      float64
	bestEpoch int
	wait      int
}

var _ Policy = (*EarlyStopping)(nil)

// NewEarlyStopping creates an EarlyStopping policy. A patience <= 0 stops at the first epoch without improvement.
func NewEarlyStopping(patience int, minDelta float64) *EarlyStopping {
	return &EarlyStopping{
		patience:  max(patience, 1),
		minDelta:  math.Abs(minDelta),
		best:      math.Inf(1),
		bestEpoch: -1,
	}
}

// Observe implements Policy.
func (es *EarlyStopping) Observe(epoch int, valLoss float64) Decision {
	if !math.IsNaN(valLoss) && valLoss < es.best-es.minDelta {
		es.best = valLoss
		es.bestEpoch = epoch
		es.wait = 0
		return Checkpoint
	}
	es.wait++
	if es.wait >= es.patience {
		return Stop
	}
	return Continue
}

// BestEpoch returns the epoch with the lowest validation loss, or -1 if none improved yet.
func (es *EarlyStopping) BestEpoch() int { return es.bestEpoch }

// BestLoss returns the lowest validation loss observed, or +Inf if none.
func (es *EarlyStopping) BestLoss() float64 { return es.best }

// Wait returns the number of consecutive epochs without improvement.
func (es *EarlyStopping) Wait() int { return es.wait }
