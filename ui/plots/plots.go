// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots renders training histories as SVG line charts, using the
// Margaid library (https://github.com/erkkah/margaid).
package plots

import (
	"io"
	"sort"

	mg "github.com/erkkah/margaid"
	"github.com/pkg/errors"

	"github.com/gomlx/stax/ml/models"
)

// Default dimensions of the SVG written by HistorySVG.
const (
	DefaultWidth  = 1024
	DefaultHeight = 400
)

// HistorySVG writes the loss and metric curves of a training history to w as
// an SVG, one line per series, the epoch on the x-axis. It plots the loss
// plus every metric recorded in the history.
func HistorySVG(history *models.History, w io.Writer) error {
	return New(DefaultWidth, DefaultHeight).Render(history, w)
}

// Plot configures a history chart. Create it with New.
type Plot struct {
	width, height int
	logScaleY     bool
}

// New creates a history chart with the given dimensions in pixels.
func New(width, height int) *Plot {
	return &Plot{width: width, height: height}
}

// LogScaleY plots the values on a log scale, usually a better view of a
// decaying loss.
func (p *Plot) LogScaleY() *Plot {
	p.logScaleY = true
	return p
}

// Render writes the chart of the history to w as an SVG.
func (p *Plot) Render(history *models.History, w io.Writer) error {
	if len(history.Epochs) == 0 {
		return errors.New("plots: empty history, nothing to render")
	}
	names := seriesNames(history)
	allSeries := make([]*mg.Series, 0, len(names))
	for _, name := range names {
		series := mg.NewSeries(mg.Titled(name))
		for epoch, value := range history.MetricSeries(name) {
			series.Add(mg.MakeValue(float64(epoch+1), value))
		}
		allSeries = append(allSeries, series)
	}

	yProjection := mg.Lin
	if p.logScaleY {
		yProjection = mg.Log
	}
	diagram := mg.New(p.width, p.height,
		mg.WithAutorange(mg.XAxis, allSeries...),
		mg.WithAutorange(mg.YAxis, allSeries...),
		mg.WithProjection(mg.YAxis, yProjection),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, series := range allSeries {
		diagram.Line(series, mg.UsingAxes(mg.XAxis, mg.YAxis),
			mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(allSeries[0], mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Epoch")
	diagram.Axis(allSeries[0], mg.YAxis, diagram.ValueTicker('f', 3, 10), true, "Value")
	diagram.Frame()
	diagram.Title("Training history")
	diagram.Legend(mg.BottomLeft)
	if err := diagram.Render(w); err != nil {
		return errors.Wrap(err, "plots: failed to render history SVG")
	}
	return nil
}

// seriesNames lists the plotted series: the loss plus every metric of the
// history, sorted for a stable legend.
func seriesNames(history *models.History) []string {
	names := []string{"loss"}
	metricNames := make([]string, 0, len(history.Last().Metrics))
	for name := range history.Last().Metrics {
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)
	return append(names, metricNames...)
}
