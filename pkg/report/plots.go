// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"os"

	"github.com/gomlx/emotions/pkg/trainer"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Labels used in the plots.
const (
	ConfusionMatrixTitle = "Matriz de Confusión"
	PredictedLabel       = "Etiqueta Predicha"
	TrueLabel            = "Etiqueta Real"
	AccuracyTitle        = "Precisión"
	LossTitle            = "Pérdida"
	EpochsLabel          = "Épocas"
	TrainingLegend       = "Entrenamiento"
	ValidationLegend     = "Validación"
)

// ErrEmptyHistory is returned when plotting a training history with no epochs.
var ErrEmptyHistory = errors.New("training history is empty")

// confusionGrid implements plotter.GridXYZ for a confusion matrix. Rows are flipped, so the first class
// is drawn at the top.
type confusionGrid struct {
	cm *ConfusionMatrix
}

func (g confusionGrid) Dims() (c, r int) { return g.cm.NumClasses, g.cm.NumClasses }
func (g confusionGrid) X(c int) float64  { return float64(c) }
func (g confusionGrid) Y(r int) float64  { return float64(r) }
func (g confusionGrid) Z(c, r int) float64 {
	return float64(g.cm.Counts[g.cm.NumClasses-1-r][c])
}

// PlotConfusionMatrix draws the confusion matrix as a heat map, with the count of each cell written on it,
// and saves it to path. The image format is taken from the path extension (e.g. ".png").
func PlotConfusionMatrix(cm *ConfusionMatrix, classes []string, path string) error {
	if len(classes) != cm.NumClasses {
		return errors.Errorf("confusion matrix has %d classes, but %d class names were given",
			cm.NumClasses, len(classes))
	}
	n := cm.NumClasses
	p := plot.New()
	p.Title.Text = ConfusionMatrixTitle
	p.X.Label.Text = PredictedLabel
	p.Y.Label.Text = TrueLabel

	heatMap := plotter.NewHeatMap(confusionGrid{cm}, palette.Heat(16, 1))
	maxCount := 1
	for _, row := range cm.Counts {
		for _, c := range row {
			maxCount = max(maxCount, c)
		}
	}
	heatMap.Min, heatMap.Max = 0, float64(maxCount)
	p.Add(heatMap)

	cells := plotter.XYLabels{
		XYs:    make(plotter.XYs, 0, n*n),
		Labels: make([]string, 0, n*n),
	}
	for trueIdx := range n {
		for predIdx := range n {
			cells.XYs = append(cells.XYs, plotter.XY{X: float64(predIdx), Y: float64(n - 1 - trueIdx)})
			cells.Labels = append(cells.Labels, fmt.Sprintf("%d", cm.Counts[trueIdx][predIdx]))
		}
	}
	counts, err := plotter.NewLabels(cells)
	if err != nil {
		return errors.Wrap(err, "creating confusion matrix labels")
	}
	p.Add(counts)

	xTicks := make([]plot.Tick, n)
	yTicks := make([]plot.Tick, n)
	for ii, name := range classes {
		xTicks[ii] = plot.Tick{Value: float64(ii), Label: name}
		yTicks[ii] = plot.Tick{Value: float64(n - 1 - ii), Label: name}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xTicks)
	p.Y.Tick.Marker = plot.ConstantTicks(yTicks)
	p.X.Min, p.X.Max = -0.5, float64(n)-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(n)-0.5

	if err := p.Save(10*vg.Inch, 8*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving confusion matrix plot to %q", path)
	}
	return nil
}

func epochPoints(epochs []int, values []float64) plotter.XYs {
	pts := make(plotter.XYs, len(values))
	for ii, v := range values {
		pts[ii] = plotter.XY{X: float64(epochs[ii]), Y: v}
	}
	return pts
}

func curvePlot(title, yLabel string, epochs []int, trainValues, valValues []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = EpochsLabel
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
	err := plotutil.AddLinePoints(p,
		TrainingLegend, epochPoints(epochs, trainValues),
		ValidationLegend, epochPoints(epochs, valValues))
	if err != nil {
		return nil, errors.Wrapf(err, "plotting %s", title)
	}
	return p, nil
}

// PlotCurves draws the training and validation accuracy (left) and loss (right) per epoch, and saves
// it as a PNG image to path.
//
// It returns ErrEmptyHistory if there are no epochs to plot.
func PlotCurves(history *trainer.History, path string) error {
	if history.Len() == 0 {
		return errors.Wrapf(ErrEmptyHistory, "plotting %q", path)
	}
	epochs := history.Epochs()
	accuracy, err := curvePlot(AccuracyTitle, AccuracyTitle, epochs, history.Accuracy, history.ValAccuracy)
	if err != nil {
		return err
	}
	loss, err := curvePlot(LossTitle, LossTitle, epochs, history.Loss, history.ValLoss)
	if err != nil {
		return err
	}

	img := vgimg.New(15*vg.Inch, 5*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1, Cols: 2,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Points(2), PadBottom: vg.Points(2), PadLeft: vg.Points(2), PadRight: vg.Points(2),
	}
	plots := [][]*plot.Plot{{accuracy, loss}}
	canvases := plot.Align(plots, tiles, dc)
	for col, p := range plots[0] {
		p.Draw(canvases[0][col])
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating curves plot %q", path)
	}
	if _, err = (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing curves plot %q", path)
	}
	return errors.Wrapf(f.Close(), "closing curves plot %q", path)
}
