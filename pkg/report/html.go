// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"encoding/json"
	"html/template"
	"io"
	"os"

	"github.com/gomlx/emotions/pkg/trainer"
	"github.com/pkg/errors"

	grob "github.com/MetalBlueberry/go-plotly/generated/v2.34.0/graph_objects"
	ptypes "github.com/MetalBlueberry/go-plotly/pkg/types"
)

// PlotlySrc is the Plotly script loaded by the HTML pages. It matches the version of the generated
// graph objects.
const PlotlySrc = "https://cdn.plot.ly/plotly-2.34.0.min.js"

var (
	curvesHTML = `<!DOCTYPE html>
<html>
	<head>
		<meta charset="utf-8">
		<script src="{{ .CDN }}"></script>
	</head>
	<body>
{{- range $i, $f := .Figures }}
		<div id="plot{{ $i }}"></div>
{{- end }}
	<script>
{{- range $i, $f := .Figures }}
		Plotly.newPlot('plot{{ $i }}', {{ $f }});
{{- end }}
	</script>
	</body>
</html>`
	curvesHTMLTmpl = template.Must(template.New("curves").Parse(curvesHTML))
)

func curveFigure(title string, epochs []int, trainValues, valValues []float64) *grob.Fig {
	x := make([]float64, len(epochs))
	for ii, e := range epochs {
		x[ii] = float64(e)
	}
	fig := &grob.Fig{
		Layout: &grob.Layout{
			Title: &grob.LayoutTitle{Text: ptypes.S(title)},
			Xaxis: &grob.LayoutXaxis{
				Showgrid: ptypes.B(true),
				Title:    &grob.LayoutXaxisTitle{Text: ptypes.S(EpochsLabel)},
			},
			Yaxis: &grob.LayoutYaxis{
				Showgrid: ptypes.B(true),
				Title:    &grob.LayoutYaxisTitle{Text: ptypes.S(title)},
			},
		},
	}
	for _, line := range []struct {
		name   string
		values []float64
	}{{TrainingLegend, trainValues}, {ValidationLegend, valValues}} {
		fig.Data = append(fig.Data, &grob.Scatter{
			Name: ptypes.S(line.name),
			Line: &grob.ScatterLine{Shape: grob.ScatterLineShapeLinear},
			Mode: "lines+markers",
			X:    ptypes.DataArray(x),
			Y:    ptypes.DataArray(line.values),
		})
	}
	return fig
}

// WriteCurvesHTML writes an HTML page with interactive Plotly charts of the accuracy and loss per epoch.
func WriteCurvesHTML(w io.Writer, history *trainer.History) error {
	if history.Len() == 0 {
		return ErrEmptyHistory
	}
	epochs := history.Epochs()
	figures := []*grob.Fig{
		curveFigure(AccuracyTitle, epochs, history.Accuracy, history.ValAccuracy),
		curveFigure(LossTitle, epochs, history.Loss, history.ValLoss),
	}
	data := &struct {
		CDN     string
		Figures []template.JS
	}{CDN: PlotlySrc}
	for _, fig := range figures {
		figAsJSON, err := json.Marshal(fig)
		if err != nil {
			return errors.Wrap(err, "failed to marshal plotly figure")
		}
		// json.Marshal escapes '<', '>' and '&', so the figure can be embedded in the script as is.
		data.Figures = append(data.Figures, template.JS(figAsJSON))
	}
	if err := curvesHTMLTmpl.Execute(w, data); err != nil {
		return errors.Wrap(err, "failed to render plotly")
	}
	return nil
}

// PlotCurvesHTML writes the page of WriteCurvesHTML to path.
func PlotCurvesHTML(history *trainer.History, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %q", path)
	}
	if err = WriteCurvesHTML(f, history); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return errors.Wrapf(f.Close(), "closing %q", path)
}
