// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package console renders the results of the emotion classifier tools as tables for the terminal.
package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/emotions/pkg/bundle"
	"github.com/gomlx/emotions/pkg/convert"
	"github.com/gomlx/emotions/pkg/report"
	"github.com/gomlx/emotions/pkg/trainer"
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// Table wraps a lipgloss table, with alternating row styles and optionally highlighted ("red") rows.
type Table struct {
	*lgtable.Table
	count int
	reds  map[int]bool
}

// NewTable creates a Table. alignments are given per column; the last one applies to the remaining columns.
func NewTable(alignments ...lipgloss.Position) *Table {
	t := &Table{reds: make(map[int]bool)}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			switch {
			case t.reds[row]:
				s = redRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
	return t
}

// AddRow appends a row, highlighted if isRed.
func (t *Table) AddRow(isRed bool, row ...string) {
	if isRed {
		t.reds[t.count] = true
	}
	t.Table.Row(row...)
	t.count++
}

// Title renders a section title.
func Title(title string) string {
	return TitleStyle.Render(title)
}

// ModelInfo renders the summary, hyperparameters and variables of a model file.
func ModelInfo(info *bundle.Info) string {
	var sb strings.Builder
	sb.WriteString(Title(fmt.Sprintf("Model file %q", info.Path)))
	sb.WriteString("\n")
	summary := NewTable(lipgloss.Right, lipgloss.Left)
	m := info.Manifest
	for _, row := range [][]string{
		{"format", fmt.Sprintf("%s v%d", m.Format, m.FormatVersion)},
		{"run id", m.RunID},
		{"created", m.Created.String()},
		{"producer", m.Producer},
		{"classes", strings.Join(m.Classes, ", ")},
		{"image size", fmt.Sprintf("%dx%d", m.ImageSize, m.ImageSize)},
		{"file size", humanize.Bytes(uint64(info.FileSize))},
		{"# variables", humanize.Comma(int64(len(info.Variables)))},
		{"# parameters", humanize.Comma(int64(info.TotalSize))},
		{"# bytes", humanize.Bytes(uint64(info.TotalBytes))},
	} {
		summary.AddRow(false, row...)
	}
	sb.WriteString(summary.Render())
	sb.WriteString("\n")

	sb.WriteString(Title("Hyperparameters"))
	sb.WriteString("\n")
	params := NewTable()
	params.Headers("Scope", "Name", "Type", "Value")
	for _, p := range info.Params {
		params.AddRow(false, p.Scope, p.Key, fmt.Sprintf("%T", p.Value), fmt.Sprintf("%v", p.Value))
	}
	sb.WriteString(params.Render())
	sb.WriteString("\n")

	sb.WriteString(Title("Variables"))
	sb.WriteString("\n")
	variables := NewTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	variables.Headers("Scope", "Name", "Shape", "Size", "Bytes")
	for _, v := range info.Variables {
		variables.AddRow(false, v.Scope, v.Name, v.Shape, humanize.Comma(int64(v.Size)), humanize.Bytes(uint64(v.Bytes)))
	}
	sb.WriteString(variables.Render())
	sb.WriteString("\n")
	return sb.String()
}

// Evaluation renders the per-class metrics of the test evaluation. Classes with an F1 score below the
// macro average are highlighted.
func Evaluation(ev *report.Evaluation) string {
	cm := ev.Confusion
	t := NewTable(lipgloss.Left, lipgloss.Right)
	t.Headers("Class", "Precision", "Recall", "F1", "Support")
	macro := cm.MacroAverage()
	for c, name := range ev.Classes {
		t.AddRow(cm.F1(c) < macro.F1, name,
			fmt.Sprintf("%.2f", cm.Precision(c)),
			fmt.Sprintf("%.2f", cm.Recall(c)),
			fmt.Sprintf("%.2f", cm.F1(c)),
			humanize.Comma(int64(cm.Support(c))))
	}
	t.AddRow(false, "macro avg",
		fmt.Sprintf("%.2f", macro.Precision), fmt.Sprintf("%.2f", macro.Recall), fmt.Sprintf("%.2f", macro.F1),
		humanize.Comma(int64(cm.Total())))
	return fmt.Sprintf("%s\n%s\nTest accuracy: %.4f, test loss: %.4f\n",
		Title("Test evaluation"), t.Render(), ev.Accuracy, ev.Loss)
}

// History renders the metrics per epoch, with the best epoch highlighted.
func History(h *trainer.History) string {
	t := NewTable(lipgloss.Right)
	t.Headers("Epoch", "Loss", "Accuracy", "Val. Loss", "Val. Accuracy")
	for ii, epoch := range h.Epochs() {
		m := h.At(ii)
		t.AddRow(ii == h.BestEpoch, fmt.Sprintf("%d", epoch),
			fmt.Sprintf("%.4f", m.Loss), fmt.Sprintf("%.4f", m.Accuracy),
			fmt.Sprintf("%.4f", m.ValLoss), fmt.Sprintf("%.4f", m.ValAccuracy))
	}
	return fmt.Sprintf("%s\n%s\n", Title("Training history"), t.Render())
}

// RepairOutcome renders the result of each loading tier tried by convert.Repair. Failed tiers are
// highlighted.
func RepairOutcome(outcome *convert.RepairOutcome) string {
	t := NewTable()
	t.Headers("Tier", "Result")
	for _, attempt := range outcome.Attempts {
		result := "ok"
		if !attempt.OK() {
			result = attempt.Err.Error()
		}
		t.AddRow(!attempt.OK(), attempt.Tier.String(), result)
	}
	return fmt.Sprintf("%s\n%s\n", Title("Repair attempts"), t.Render())
}
