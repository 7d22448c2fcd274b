// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEarlyStopping(t *testing.T) {
	testCases := []struct {
		name      string
		patience  int
		minDelta  float64
		losses    []float64
		want      []Decision
		bestEpoch int
	}{
		{
			name:      "improving",
			patience:  2,
			losses:    []float64{1.0, 0.9, 0.8},
			want:      []Decision{Checkpoint, Checkpoint, Checkpoint},
			bestEpoch: 2,
		},
		{
			name:      "stops after patience",
			patience:  2,
			losses:    []float64{1.0, 0.5, 0.6, 0.7},
			want:      []Decision{Checkpoint, Checkpoint, Continue, Stop},
			bestEpoch: 1,
		},
		{
			name:      "wait resets on improvement",
			patience:  2,
			losses:    []float64{1.0, 1.1, 0.9, 1.0, 1.0},
			want:      []Decision{Checkpoint, Continue, Checkpoint, Continue, Stop},
			bestEpoch: 2,
		},
		{
			name:      "equal loss is not an improvement",
			patience:  3,
			losses:    []float64{1.0, 1.0, 1.0, 1.0},
			want:      []Decision{Checkpoint, Continue, Continue, Stop},
			bestEpoch: 0,
		},
		{
			name:      "min delta",
			patience:  2,
			minDelta:  0.1,
			losses:    []float64{1.0, 0.95, 0.85},
			want:      []Decision{Checkpoint, Continue, Checkpoint},
			bestEpoch: 2,
		},
		{
			name:      "NaN never improves",
			patience:  2,
			losses:    []float64{math.NaN(), 1.0, math.NaN(), math.NaN()},
			want:      []Decision{Continue, Checkpoint, Continue, Stop},
			bestEpoch: 1,
		},
		{
			name:      "zero patience stops at first non-improvement",
			patience:  0,
			losses:    []float64{1.0, 2.0},
			want:      []Decision{Checkpoint, Stop},
			bestEpoch: 0,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			es := NewEarlyStopping(tc.patience, tc.minDelta)
			assert.Equal(t, -1, es.BestEpoch())
			assert.True(t, math.IsInf(es.BestLoss(), 1))
			var got []Decision
			for epoch, loss := range tc.losses {
				got = append(got, es.Observe(epoch, loss))
			}
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.bestEpoch, es.BestEpoch())
			assert.Equal(t, tc.losses[tc.bestEpoch], es.BestLoss())
		})
	}
}

// TestEarlyStoppingBestIsMinimum checks that the best loss kept is never larger than the losses observed
// after it.
func TestEarlyStoppingBestIsMinimum(t *testing.T) {
	losses := []float64{0.9, 0.7, 0.75, 0.72, 0.69, 0.8, 0.85, 0.9, 0.95}
	es := NewEarlyStopping(3, 0)
	var lastEpoch int
	for epoch, loss := range losses {
		lastEpoch = epoch
		if es.Observe(epoch, loss) == Stop {
			break
		}
	}
	assert.Equal(t, 7, lastEpoch)
	assert.Equal(t, 4, es.BestEpoch())
	for _, loss := range losses[es.BestEpoch() : lastEpoch+1] {
		assert.LessOrEqual(t, es.BestLoss(), loss)
	}
	assert.Equal(t, 3, es.Wait())
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "Checkpoint", Checkpoint.String())
	assert.Equal(t, "Decision(7)", Decision(7).String())
}

func TestHistory(t *testing.T) {
	var nilHistory *History
	assert.Equal(t, 0, nilHistory.Len())

	h := NewHistory()
	assert.Equal(t, -1, h.BestEpoch)
	h.Append(EpochMetrics{Loss: 1, Accuracy: 0.5, ValLoss: 1.2, ValAccuracy: 0.4})
	h.Append(EpochMetrics{Loss: 0.8, Accuracy: 0.6, ValLoss: 1.1, ValAccuracy: 0.45})
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, []int{1, 2}, h.Epochs())
	assert.Equal(t, EpochMetrics{Loss: 0.8, Accuracy: 0.6, ValLoss: 1.1, ValAccuracy: 0.45}, h.At(1))
	assert.Equal(t, []float64{1.2, 1.1}, h.ValLoss)
}
