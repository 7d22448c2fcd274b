// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/emotions/pkg/config"
	"github.com/gomlx/emotions/pkg/dataset"
	"github.com/gomlx/emotions/pkg/dataset/datasettest"
	"github.com/gomlx/emotions/pkg/model"
	"github.com/gomlx/emotions/pkg/trainer"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

var pngMagic = []byte("\x89PNG")

func TestConfusionMatrix(t *testing.T) {
	trueLabels := []int{0, 0, 0, 1, 1, 2}
	predLabels := []int{0, 0, 1, 1, 2, 2}
	cm, err := NewConfusionMatrix(trueLabels, predLabels, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{2, 1, 0}, {0, 1, 1}, {0, 0, 1}}, cm.Counts)
	assert.Equal(t, 6, cm.Total())
	assert.InDelta(t, 4.0/6.0, cm.Accuracy(), 1e-9)
	assert.Equal(t, 3, cm.Support(0))
	assert.InDelta(t, 1.0, cm.Precision(0), 1e-9)
	assert.InDelta(t, 2.0/3.0, cm.Recall(0), 1e-9)
	assert.InDelta(t, 0.8, cm.F1(0), 1e-9)
	assert.InDelta(t, 0.5, cm.Precision(1), 1e-9)
	assert.InDelta(t, 0.5, cm.Recall(1), 1e-9)

	// Class never predicted and without support: all zeros.
	cm, err = NewConfusionMatrix([]int{0, 1}, []int{0, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cm.Precision(2))
	assert.Equal(t, 0.0, cm.Recall(2))
	assert.Equal(t, 0.0, cm.F1(2))
	assert.InDelta(t, 2.0/3.0, cm.MacroAverage().F1, 1e-9)
	assert.InDelta(t, 1.0, cm.WeightedAverage().F1, 1e-9)

	_, err = NewConfusionMatrix([]int{0}, []int{0, 1}, 2)
	require.Error(t, err)
	_, err = NewConfusionMatrix([]int{0, 2}, []int{0, 1}, 2)
	require.Error(t, err)
}

func TestClassificationReport(t *testing.T) {
	cm, err := NewConfusionMatrix([]int{0, 0, 1, 1}, []int{0, 1, 1, 1}, 2)
	require.NoError(t, err)
	got := ClassificationReport(cm, []string{"happy", "sad"})
	want := "" +
		"              precision    recall  f1-score   support\n" +
		"\n" +
		"       happy       1.00      0.50      0.67         2\n" +
		"         sad       0.67      1.00      0.80         2\n" +
		"\n" +
		"    accuracy                           0.75         4\n" +
		"   macro avg       0.83      0.75      0.73         4\n" +
		"weighted avg       0.83      0.75      0.73         4\n"
	assert.Equal(t, want, got)
}

func testHistory() *trainer.History {
	h := trainer.NewHistory()
	h.Append(trainer.EpochMetrics{Loss: 0.9, Accuracy: 0.5, ValLoss: 0.8, ValAccuracy: 0.55})
	h.Append(trainer.EpochMetrics{Loss: 0.7, Accuracy: 0.75, ValLoss: 0.72, ValAccuracy: 0.6})
	h.BestEpoch = 1
	return h
}

func testEvaluation(t *testing.T) *Evaluation {
	trueLabels := []int{0, 0, 1, 1}
	predictions := []int{0, 1, 1, 1}
	cm, err := NewConfusionMatrix(trueLabels, predictions, 2)
	require.NoError(t, err)
	return &Evaluation{
		Loss:          0.5,
		Accuracy:      0.75,
		Classes:       []string{"happy", "sad"},
		TrueLabels:    trueLabels,
		Predictions:   predictions,
		Probabilities: [][]float32{{0.9, 0.1}, {0.4, 0.6}, {0.2, 0.8}, {0.3, 0.7}},
		Confusion:     cm,
	}
}

func assertPNG(t *testing.T, path string) {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic), "%q is not a PNG file", path)
}

func TestPlots(t *testing.T) {
	dir := t.TempDir()
	ev := testEvaluation(t)

	cmPath := filepath.Join(dir, "cm.png")
	require.NoError(t, PlotConfusionMatrix(ev.Confusion, ev.Classes, cmPath))
	assertPNG(t, cmPath)
	require.Error(t, PlotConfusionMatrix(ev.Confusion, []string{"only one"}, cmPath))

	// All-zero matrix still plots.
	empty, err := NewConfusionMatrix(nil, nil, 2)
	require.NoError(t, err)
	require.NoError(t, PlotConfusionMatrix(empty, ev.Classes, filepath.Join(dir, "empty.png")))

	curvesPath := filepath.Join(dir, "curves.png")
	require.NoError(t, PlotCurves(testHistory(), curvesPath))
	assertPNG(t, curvesPath)
	require.ErrorIs(t, PlotCurves(trainer.NewHistory(), filepath.Join(dir, "none.png")), ErrEmptyHistory)

	htmlPath := filepath.Join(dir, "curves.html")
	require.NoError(t, PlotCurvesHTML(testHistory(), htmlPath))
	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), PlotlySrc)
	assert.Contains(t, string(html), "plot1")
	// Accented titles and legends are written as UTF-8 text in the page, not encoded.
	for _, label := range []string{AccuracyTitle, LossTitle, EpochsLabel, ValidationLegend} {
		assert.Contains(t, string(html), `"`+label+`"`)
	}
	assert.NotContains(t, string(html), "atob(")
	require.ErrorIs(t, PlotCurvesHTML(trainer.NewHistory(), htmlPath), ErrEmptyHistory)
	_, err = os.Stat(htmlPath)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHistory(&buf, testHistory()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "epoch,loss,accuracy,val_loss,val_accuracy", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1,0.9"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "2,0.7"), lines[2])
	require.ErrorIs(t, WriteHistory(&buf, trainer.NewHistory()), ErrEmptyHistory)
}

func TestTextReport(t *testing.T) {
	cfg := config.Default()
	r := NewReport(cfg, testEvaluation(t))
	text := r.String()
	assert.True(t, strings.HasPrefix(text, "=== INFORME DE ENTRENAMIENTO FER2013 ===\n\nPrecisión en test: 0.7500\n"))
	for _, want := range []string{
		"Pérdida en test: 0.5000\n\n",
		"=== Hiperparámetros ===\nÉpocas máximas: 50\nBatch size: 64\nTamaño de imagen: 48x48\nNúmero de clases: 7\n\n",
		"=== Clases ===\nhappy, sad\n\n",
		"=== Classification Report ===\n",
		"weighted avg",
	} {
		assert.Contains(t, text, want)
	}

	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, r.WriteTextReport(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, text, string(data))
}

func TestWritePredictions(t *testing.T) {
	ev := testEvaluation(t)
	path := filepath.Join(t.TempDir(), "predictions.npz")
	require.NoError(t, WritePredictions(ev, path))
	arrays, err := numpy.FromNpzFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0, 1, 1}, tensors.MustCopyFlatData[int32](arrays["y_true"]))
	assert.Equal(t, []int32{0, 1, 1, 1}, tensors.MustCopyFlatData[int32](arrays["y_pred"]))
	assert.Equal(t, []int{4, 2}, arrays["probabilities"].Shape().Dimensions)
}

func TestWriteAll(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	ev := testEvaluation(t)
	summary := &Summary{RunID: "test", Config: cfg, Classes: ev.Classes, History: testHistory(), BestEpoch: 1}

	written, err := WriteAll(cfg, ev, testHistory(), summary)
	require.NoError(t, err)
	assert.Len(t, written, 7)
	for _, path := range written {
		_, err := os.Stat(path)
		require.NoError(t, err)
	}
	assertPNG(t, cfg.OutputPath(cfg.ConfusionMatrixFile))
	got, err := ReadSummary(cfg.OutputPath(cfg.SummaryFile))
	require.NoError(t, err)
	assert.Equal(t, "test", got.RunID)
	assert.Equal(t, testHistory().ValLoss, got.History.ValLoss)
	assert.Equal(t, cfg.ImageSize, got.Config.ImageSize)

	// Without history the curves fail, but the other artifacts are still written.
	cfg.OutputDir = filepath.Join(t.TempDir(), "partial")
	cfg.HistoryCSVFile = ""
	written, err = WriteAll(cfg, ev, trainer.NewHistory(), summary)
	require.ErrorIs(t, err, ErrEmptyHistory)
	assert.Len(t, written, 4)
	assert.FileExists(t, cfg.OutputPath(cfg.ReportFile))
	assert.FileExists(t, cfg.OutputPath(cfg.PredictionsFile))
	assert.NoFileExists(t, cfg.OutputPath(cfg.CurvesFile))
}

// fixedPredictor predicts always the same class.
type fixedPredictor struct{ class int }

func (p fixedPredictor) PredictDataset(ds *dataset.Dataset) ([]int, [][]float32, error) {
	n := ds.NumExamples()
	predictions := make([]int, n)
	probabilities := make([][]float32, n)
	for ii := range n {
		predictions[ii] = p.class
		probabilities[ii] = make([]float32, len(ds.Classes()))
		probabilities[ii][p.class] = 1
	}
	return predictions, probabilities, nil
}

func TestEvaluate(t *testing.T) {
	classes := []string{"happy", "sad"}
	root := datasettest.WriteTree(t, classes, []int{2, 2}, []int{3, 2}, 24)
	examples, err := dataset.ScanDir(filepath.Join(root, "test"), classes)
	require.NoError(t, err)
	testDS := dataset.New("test", examples, classes, 24, 2)

	cfg := config.Default()
	cfg.ImageSize = 24
	cfg.NumClasses = 2
	ctx := model.CreateDefaultContext(cfg)
	ctx.SetParam(model.ParamConvChannels, []int{2, 4, 4})
	ctx.SetParam(model.ParamDenseUnits, 4)
	tr := model.NewTrainer(graphtest.BuildTestBackend(), ctx)

	ev, err := Evaluate(tr, fixedPredictor{class: 1}, testDS)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1}, ev.TrueLabels)
	assert.Equal(t, [][]int{{0, 3}, {0, 2}}, ev.Confusion.Counts)
	assert.Greater(t, ev.Loss, 0.0)
	assert.GreaterOrEqual(t, ev.Accuracy, 0.0)
	assert.LessOrEqual(t, ev.Accuracy, 1.0)

	_, err = Evaluate(tr, fixedPredictor{}, dataset.New("empty", nil, classes, 24, 2))
	require.ErrorIs(t, err, ErrEmptyTestSet)
}
