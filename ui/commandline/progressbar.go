// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline implements terminal UI for training: a progress bar
// listener with a live loss readout and a final per-epoch summary table.
package commandline

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"

	"github.com/gomlx/stax/ml/models"
)

// ProgressbarStyle to use. Defaults to the ASCII version; consider
// progressbar.ThemeUnicode for a prettier one where the terminal supports
// the graphical symbols.
var ProgressbarStyle = progressbar.ThemeASCII

// maxSummaryRows in the final table: if the run has more epochs than this,
// only the last maxSummaryRows are shown.
const maxSummaryRows = 10

var (
	summaryHeaderStyle = lipgloss.NewStyle().Bold(true).Align(lipgloss.Center).Padding(0, 1)
	summaryCellStyle   = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
)

// ProgressBar returns a training listener that renders one progress bar per
// epoch on stdout, with the batch loss as a live suffix, and prints a
// summary table of the per-epoch results at the end of training.
func ProgressBar() models.Listener {
	return NewProgressBar(os.Stdout)
}

// NewProgressBar is ProgressBar writing to the given writer.
func NewProgressBar(w io.Writer) models.Listener {
	return &progressBarListener{w: w, termenv: termenv.NewOutput(os.Stdout)}
}

type progressBarListener struct {
	w       io.Writer
	termenv *termenv.Output
	plan    models.Plan
	bar     *progressbar.ProgressBar
}

func (pb *progressBarListener) OnTrainBegin(plan models.Plan) {
	pb.plan = plan
	fmt.Fprintf(pb.w, "Training on %q: %s examples, %s batches of %d per epoch, %d epochs\n",
		plan.DatasetName, humanize.Comma(int64(plan.NumExamples)),
		humanize.Comma(int64(plan.NumBatches)), plan.BatchSize, plan.NumEpochs)
	pb.termenv.HideCursor()
}

func (pb *progressBarListener) OnEpochBegin(epoch int) {
	pb.bar = progressbar.NewOptions(pb.plan.NumBatches,
		progressbar.OptionSetDescription(fmt.Sprintf("epoch %d/%d", epoch+1, pb.plan.NumEpochs)),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pb.w),
	)
}

func (pb *progressBarListener) OnBatchEnd(stats models.BatchStats) {
	pb.bar.Describe(fmt.Sprintf("epoch %d/%d loss=%.4f",
		stats.Epoch+1, pb.plan.NumEpochs, stats.Loss))
	_ = pb.bar.Add(1)
}

func (pb *progressBarListener) OnEpochEnd(stats models.EpochStats) {
	_ = pb.bar.Finish()
	fmt.Fprintln(pb.w)
}

func (pb *progressBarListener) OnTrainEnd(history *models.History) {
	pb.termenv.ShowCursor()
	if len(history.Epochs) == 0 {
		return
	}
	metricNames := sortedMetricNames(history.Last())
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return summaryHeaderStyle
			}
			return summaryCellStyle
		}).
		Headers(append([]string{"Epoch", "Loss"}, metricNames...)...)
	first := max(0, len(history.Epochs)-maxSummaryRows)
	if first > 0 {
		fmt.Fprintf(pb.w, "(showing the last %d of %d epochs)\n", maxSummaryRows, len(history.Epochs))
	}
	for _, stats := range history.Epochs[first:] {
		row := make([]string, 0, 2+len(metricNames))
		row = append(row, humanize.Comma(int64(stats.Epoch+1)), fmt.Sprintf("%.4f", stats.Loss))
		for _, name := range metricNames {
			row = append(row, fmt.Sprintf("%.4f", stats.Metrics[name]))
		}
		table.Row(row...)
	}
	fmt.Fprintln(pb.w, table.Render())
}

func sortedMetricNames(stats models.EpochStats) []string {
	names := make([]string, 0, len(stats.Metrics))
	for name := range stats.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
