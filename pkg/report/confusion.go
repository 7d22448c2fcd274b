// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ConfusionMatrix counts predictions per (true class, predicted class): Counts[trueLabel][predictedLabel].
type ConfusionMatrix struct {
	NumClasses int
	Counts     [][]int
}

// NewConfusionMatrix builds the confusion matrix of the predictions. trueLabels and predLabels must have
// the same length, and all labels must be in [0, numClasses).
func NewConfusionMatrix(trueLabels, predLabels []int, numClasses int) (*ConfusionMatrix, error) {
	if len(trueLabels) != len(predLabels) {
		return nil, errors.Errorf("got %d true labels but %d predictions", len(trueLabels), len(predLabels))
	}
	if numClasses <= 0 {
		return nil, errors.Errorf("invalid number of classes %d", numClasses)
	}
	cm := &ConfusionMatrix{NumClasses: numClasses, Counts: make([][]int, numClasses)}
	for ii := range cm.Counts {
		cm.Counts[ii] = make([]int, numClasses)
	}
	for ii, trueLabel := range trueLabels {
		pred := predLabels[ii]
		if trueLabel < 0 || trueLabel >= numClasses || pred < 0 || pred >= numClasses {
			return nil, errors.Errorf("example #%d has label %d and prediction %d, out of range for %d classes",
				ii, trueLabel, pred, numClasses)
		}
		cm.Counts[trueLabel][pred]++
	}
	return cm, nil
}

// Total number of examples.
func (cm *ConfusionMatrix) Total() int {
	total := 0
	for _, row := range cm.Counts {
		for _, c := range row {
			total += c
		}
	}
	return total
}

// Accuracy is the fraction of correct predictions, 0 for an empty matrix.
func (cm *ConfusionMatrix) Accuracy() float64 {
	correct := 0
	for ii := range cm.NumClasses {
		correct += cm.Counts[ii][ii]
	}
	return safeDiv(float64(correct), float64(cm.Total()))
}

// Support is the number of examples whose true class is class.
func (cm *ConfusionMatrix) Support(class int) int {
	support := 0
	for _, c := range cm.Counts[class] {
		support += c
	}
	return support
}

// predicted returns the number of examples predicted as class.
func (cm *ConfusionMatrix) predicted(class int) int {
	count := 0
	for _, row := range cm.Counts {
		count += row[class]
	}
	return count
}

// Precision of class: true positives over predicted positives. 0 if the class was never predicted.
func (cm *ConfusionMatrix) Precision(class int) float64 {
	return safeDiv(float64(cm.Counts[class][class]), float64(cm.predicted(class)))
}

// Recall of class: true positives over its support. 0 if the class has no examples.
func (cm *ConfusionMatrix) Recall(class int) float64 {
	return safeDiv(float64(cm.Counts[class][class]), float64(cm.Support(class)))
}

// F1 score of class, the harmonic mean of its precision and recall.
func (cm *ConfusionMatrix) F1(class int) float64 {
	p, r := cm.Precision(class), cm.Recall(class)
	return safeDiv(2*p*r, p+r)
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// Averages of the per-class metrics.
type Averages struct {
	Precision, Recall, F1 float64
}

// MacroAverage is the unweighted mean over the classes.
func (cm *ConfusionMatrix) MacroAverage() Averages {
	var avg Averages
	for c := range cm.NumClasses {
		avg.Precision += cm.Precision(c)
		avg.Recall += cm.Recall(c)
		avg.F1 += cm.F1(c)
	}
	n := float64(cm.NumClasses)
	return Averages{avg.Precision / n, avg.Recall / n, avg.F1 / n}
}

// WeightedAverage is the mean over the classes weighted by their support.
func (cm *ConfusionMatrix) WeightedAverage() Averages {
	var avg Averages
	for c := range cm.NumClasses {
		w := float64(cm.Support(c))
		avg.Precision += w * cm.Precision(c)
		avg.Recall += w * cm.Recall(c)
		avg.F1 += w * cm.F1(c)
	}
	total := float64(cm.Total())
	return Averages{safeDiv(avg.Precision, total), safeDiv(avg.Recall, total), safeDiv(avg.F1, total)}
}

// ClassificationReport formats the per-class precision, recall, F1 and support, followed by the accuracy
// and the macro and weighted averages, in the same layout as scikit-learn's classification_report.
func ClassificationReport(cm *ConfusionMatrix, classes []string) string {
	const lastLine = "weighted avg"
	width := len(lastLine)
	for _, name := range classes {
		width = max(width, len(name))
	}
	var sb strings.Builder
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&sb, format, args...) }
	row := func(name string, p, r, f1 float64, support int) {
		w("%*s  %9.2f %9.2f %9.2f %9d\n", width, name, p, r, f1, support)
	}

	w("%*s ", width, "")
	for _, h := range []string{"precision", "recall", "f1-score", "support"} {
		w(" %9s", h)
	}
	w("\n\n")
	for c := range cm.NumClasses {
		name := fmt.Sprintf("%d", c)
		if c < len(classes) {
			name = classes[c]
		}
		row(name, cm.Precision(c), cm.Recall(c), cm.F1(c), cm.Support(c))
	}
	w("\n")
	total := cm.Total()
	w("%*s  %9s %9s %9.2f %9d\n", width, "accuracy", "", "", cm.Accuracy(), total)
	macro := cm.MacroAverage()
	row("macro avg", macro.Precision, macro.Recall, macro.F1, total)
	weighted := cm.WeightedAverage()
	row(lastLine, weighted.Precision, weighted.Recall, weighted.F1, total)
	return sb.String()
}
