// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package report evaluates a trained model on the test set and writes the artifacts of a training run:
// confusion matrix and training curves plots, the text report, the history table, a YAML summary and the
// test predictions.
package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gomlx/emotions/pkg/config"
	"github.com/gomlx/emotions/pkg/dataset"
	"github.com/gomlx/emotions/pkg/model"
	"github.com/gomlx/emotions/pkg/trainer"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

// ErrEmptyTestSet is returned by Evaluate when the test dataset has no examples.
var ErrEmptyTestSet = errors.New("test dataset is empty")

// Predictor returns the predicted class and the probabilities of each example of a dataset, in the order
// they are yielded. classifier.Classifier implements it.
type Predictor interface {
	PredictDataset(ds *dataset.Dataset) (predictions []int, probabilities [][]float32, err error)
}

// Evaluation of a model on the test set.
type Evaluation struct {
	Loss, Accuracy float64
	Classes        []string

	// TrueLabels, Predictions and Probabilities are in the test dataset order.
	TrueLabels    []int
	Predictions   []int
	Probabilities [][]float32

	Confusion *ConfusionMatrix
}

// Evaluate computes the test loss and accuracy with trainer, and the predictions of each test example
// with predictor.
//
// testDS must not be shuffled, so its labels are aligned with the predictions.
func Evaluate(trainer *train.Trainer, predictor Predictor, testDS *dataset.Dataset) (*Evaluation, error) {
	if testDS.NumExamples() == 0 {
		return nil, ErrEmptyTestSet
	}
	testDS.Reset()
	values, err := trainer.Eval(testDS)
	if err != nil {
		return nil, errors.WithMessagef(err, "evaluating on %q", testDS.Name())
	}
	ev := &Evaluation{Classes: testDS.Classes()}
	ev.Loss, ev.Accuracy, err = model.LossAndAccuracy(trainer, values)
	if err != nil {
		return nil, err
	}

	testDS.Reset()
	ev.TrueLabels = testDS.Labels()
	ev.Predictions, ev.Probabilities, err = predictor.PredictDataset(testDS)
	testDS.Reset()
	if err != nil {
		return nil, errors.WithMessagef(err, "predicting %q", testDS.Name())
	}
	if len(ev.Predictions) != len(ev.TrueLabels) {
		return nil, errors.Errorf("got %d predictions for %d test examples", len(ev.Predictions), len(ev.TrueLabels))
	}
	ev.Confusion, err = NewConfusionMatrix(ev.TrueLabels, ev.Predictions, len(ev.Classes))
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// ClassificationReport of the evaluation, see ClassificationReport.
func (ev *Evaluation) ClassificationReport() string {
	return ClassificationReport(ev.Confusion, ev.Classes)
}

// WritePredictions saves the true labels ("y_true"), the predictions ("y_pred") and the probabilities
// ("probabilities") to a NumPy .npz file.
func WritePredictions(ev *Evaluation, path string) error {
	if len(ev.Predictions) == 0 {
		return ErrEmptyTestSet
	}
	toInt32 := func(values []int) []int32 {
		out := make([]int32, len(values))
		for ii, v := range values {
			out[ii] = int32(v)
		}
		return out
	}
	arrays := map[string]*tensors.Tensor{
		"y_true":        tensors.FromValue(toInt32(ev.TrueLabels)),
		"y_pred":        tensors.FromValue(toInt32(ev.Predictions)),
		"probabilities": tensors.FromValue(ev.Probabilities),
	}
	defer func() {
		for _, t := range arrays {
			t.MustFinalizeAll()
		}
	}()
	return errors.WithMessagef(numpy.ToNpzFile(arrays, path), "writing predictions to %q", path)
}

// Report is the plain text report of a training run.
type Report struct {
	TestAccuracy, TestLoss float64
	Config                 config.Config
	Classes                []string
	ClassificationReport   string
}

// NewReport creates the Report of an evaluation.
func NewReport(cfg config.Config, ev *Evaluation) *Report {
	return &Report{
		TestAccuracy:         ev.Accuracy,
		TestLoss:             ev.Loss,
		Config:               cfg,
		Classes:              ev.Classes,
		ClassificationReport: ev.ClassificationReport(),
	}
}

// String implements fmt.Stringer, and returns the contents of the text report.
func (r *Report) String() string {
	var sb strings.Builder
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&sb, format, args...) }
	w("=== INFORME DE ENTRENAMIENTO FER2013 ===\n\n")
	w("Precisión en test: %.4f\n", r.TestAccuracy)
	w("Pérdida en test: %.4f\n\n", r.TestLoss)

	w("=== Hiperparámetros ===\n")
	w("Épocas máximas: %d\n", r.Config.Epochs)
	w("Batch size: %d\n", r.Config.BatchSize)
	w("Tamaño de imagen: %dx%d\n", r.Config.ImageSize, r.Config.ImageSize)
	w("Número de clases: %d\n\n", r.Config.NumClasses)

	w("=== Clases ===\n")
	w("%s\n\n", strings.Join(r.Classes, ", "))

	w("=== Classification Report ===\n")
	w("%s", r.ClassificationReport)
	return sb.String()
}

// WriteTextReport writes the report to path.
func (r *Report) WriteTextReport(path string) error {
	return errors.Wrapf(os.WriteFile(path, []byte(r.String()), 0o644), "writing report %q", path)
}

// Summary of a training run, saved as YAML.
type Summary struct {
	RunID        string           `yaml:"run_id"`
	Started      time.Time        `yaml:"started"`
	Finished     time.Time        `yaml:"finished"`
	Config       config.Config    `yaml:"config"`
	Classes      []string         `yaml:"classes"`
	ModelFile    string           `yaml:"model_file"`
	BestEpoch    int              `yaml:"best_epoch"`
	StoppedEarly bool             `yaml:"stopped_early"`
	TestLoss     float64          `yaml:"test_loss"`
	TestAccuracy float64          `yaml:"test_accuracy"`
	History      *trainer.History `yaml:"history"`
}

// WriteSummary saves the summary as YAML to path.
func (s *Summary) WriteSummary(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding training summary")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing training summary %q", path)
}

// ReadSummary reads a summary written by Summary.WriteSummary.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading training summary %q", path)
	}
	s := &Summary{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "decoding training summary %q", path)
	}
	return s, nil
}

// WriteAll writes every artifact of a training run whose file name is configured in cfg (see
// config.Config.OutputPath): confusion matrix, curves (PNG and HTML), text report, history CSV, summary and
// predictions.
//
// A failing artifact doesn't prevent the others from being written: failures are logged, and the first
// error is returned after trying all of them. It returns the paths written.
func WriteAll(cfg config.Config, ev *Evaluation, history *trainer.History, summary *Summary) ([]string, error) {
	if dir := cfg.OutputPath("."); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating output directory %q", dir)
		}
	}
	artifacts := []struct {
		name  string
		write func(path string) error
	}{
		{cfg.ConfusionMatrixFile, func(path string) error {
			return PlotConfusionMatrix(ev.Confusion, ev.Classes, path)
		}},
		{cfg.CurvesFile, func(path string) error { return PlotCurves(history, path) }},
		{cfg.CurvesHTMLFile, func(path string) error { return PlotCurvesHTML(history, path) }},
		{cfg.ReportFile, func(path string) error { return NewReport(cfg, ev).WriteTextReport(path) }},
		{cfg.HistoryCSVFile, func(path string) error { return WriteHistoryCSV(history, path) }},
		{cfg.SummaryFile, func(path string) error {
			if summary == nil {
				return errors.New("no training summary given")
			}
			return summary.WriteSummary(path)
		}},
		{cfg.PredictionsFile, func(path string) error { return WritePredictions(ev, path) }},
	}

	var written []string
	var firstErr error
	for _, artifact := range artifacts {
		path := cfg.OutputPath(artifact.name)
		if path == "" {
			continue
		}
		if err := artifact.write(path); err != nil {
			klog.Warningf("failed to write %q: %+v", path, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written = append(written, path)
	}
	return written, firstErr
}
