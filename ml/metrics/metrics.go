// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics defines the metrics reported during training and
// evaluation.
//
// A metric builds a scalar graph node with its value over one batch
// (Interface.BuildGraph); models aggregate the per-batch values into epoch
// means with a MeanAccumulator, weighting each batch by its size so partial
// final batches don't skew the result.
//
// Each metric instance gets a unique ScopeName, so the same metric type can
// appear more than once in a model (e.g. accuracy at two thresholds) and
// still be tracked separately.
package metrics

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"

	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/ml/losses"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// Interface implemented by metrics.
type Interface interface {
	// Name of the metric, used in reports ("categorical accuracy").
	Name() string

	// ShortName is the key of the metric in results and history
	// ("accuracy").
	ShortName() string

	// ScopeName uniquely identifies this metric instance.
	ScopeName() string

	// BuildGraph returns a scalar node with the metric computed over the
	// batch of labels and predictions.
	BuildGraph(labels, predictions *graph.Node) *graph.Node

	// PrettyPrint formats a value of the metric for display.
	PrettyPrint(value *tensors.Tensor) string
}

// BatchMetricFn computes a scalar metric over one batch.
type BatchMetricFn func(labels, predictions *graph.Node) *graph.Node

// baseMetric implements Interface from a BatchMetricFn.
type baseMetric struct {
	name, shortName, scopeName string
	fn                         BatchMetricFn
	prettyPrintFn              func(value *tensors.Tensor) string
}

// New creates a metric from a function computing its scalar value over one
// batch.
func New(name, shortName string, fn BatchMetricFn) Interface {
	return &baseMetric{
		name:      name,
		shortName: shortName,
		scopeName: fmt.Sprintf("%s_%s", shortName, uuid.NewString()),
		fn:        fn,
	}
}

func (m *baseMetric) Name() string      { return m.name }
func (m *baseMetric) ShortName() string { return m.shortName }
func (m *baseMetric) ScopeName() string { return m.scopeName }

func (m *baseMetric) BuildGraph(labels, predictions *graph.Node) *graph.Node {
	metric := m.fn(labels, predictions)
	if !metric.IsScalar() {
		xerrors.ThrowInvalidParamf(
			"metric %q built a node of shape %s, metrics must be scalar",
			m.name, metric.Shape())
	}
	return metric
}

func (m *baseMetric) PrettyPrint(value *tensors.Tensor) string {
	if m.prettyPrintFn != nil {
		return m.prettyPrintFn(value)
	}
	return fmt.Sprintf("%.4f", ScalarToFloat64(value))
}

// ScalarToFloat64 converts a scalar metric tensor to float64. Metric nodes
// are built (or converted) as Float32 or Float64.
func ScalarToFloat64(value *tensors.Tensor) float64 {
	switch value.DType() {
	case dtypes.Float64:
		return tensors.ToScalar[float64](value)
	default:
		return float64(tensors.ToScalar[float32](value))
	}
}

// percentPrinter formats ratio metrics as percentages.
func percentPrinter(value *tensors.Tensor) string {
	return fmt.Sprintf("%.2f%%", 100*ScalarToFloat64(value))
}

// Accuracy returns the categorical accuracy metric: the fraction of examples
// whose predicted class -- the arg-max of the predictions over the last
// axis -- matches the arg-max of the (one-hot) labels. Inputs are shaped
// [batchSize, numClasses]. It works equally on probabilities and logits.
func Accuracy() Interface {
	m := New("accuracy", "acc", func(labels, predictions *graph.Node) *graph.Node {
		if predictions.Rank() != 2 {
			xerrors.ThrowShapeMismatchf(
				"accuracy requires [batchSize, numClasses] predictions, got %s",
				predictions.Shape())
		}
		if !labels.Shape().Equal(predictions.Shape()) {
			xerrors.ThrowShapeMismatchf(
				"accuracy requires labels and predictions of the same shape, got %s and %s",
				labels.Shape(), predictions.Shape())
		}
		matches := graph.Equal(
			graph.ArgMax(predictions, -1),
			graph.ArgMax(labels, -1))
		return graph.ReduceAllMean(graph.ConvertDType(matches, predictions.DType()))
	})
	m.(*baseMetric).prettyPrintFn = percentPrinter
	return m
}

// BinaryAccuracy returns the binary accuracy metric: the fraction of
// examples where (prediction > threshold) matches (label > 0.5).
// Predictions are probabilities; for logit outputs use a 0 threshold.
func BinaryAccuracy(threshold float64) Interface {
	m := New("binary accuracy", "acc", func(labels, predictions *graph.Node) *graph.Node {
		if !labels.Shape().Equal(predictions.Shape()) {
			xerrors.ThrowShapeMismatchf(
				"binary accuracy requires labels and predictions of the same shape, got %s and %s",
				labels.Shape(), predictions.Shape())
		}
		g := predictions.Graph()
		dtype := predictions.DType()
		predicted := graph.GreaterThan(predictions, graph.Scalar(g, dtype, threshold))
		truth := graph.GreaterThan(labels, graph.Scalar(g, dtype, 0.5))
		matches := graph.Equal(predicted, truth)
		return graph.ReduceAllMean(graph.ConvertDType(matches, dtype))
	})
	m.(*baseMetric).prettyPrintFn = percentPrinter
	return m
}

// MeanSquaredError returns MSE as a metric.
func MeanSquaredError() Interface {
	return FromLoss("mean squared error", "mse", losses.MeanSquaredError)
}

// MeanAbsoluteError returns MAE as a metric.
func MeanAbsoluteError() Interface {
	return FromLoss("mean absolute error", "mae", losses.MeanAbsoluteError)
}

// FromLoss wraps a loss function as a metric: the batch mean of the
// per-example losses.
func FromLoss(name, shortName string, loss losses.Loss) Interface {
	return New(name, shortName, func(labels, predictions *graph.Node) *graph.Node {
		return graph.ReduceAllMean(loss(labels, predictions))
	})
}

// MeanAccumulator aggregates per-batch means into a weighted global mean:
// each batch value is weighted by its number of examples.
type MeanAccumulator struct {
	total, weight float64
}

// Add accumulates one batch's mean value with the given weight (usually the
// batch size).
func (a *MeanAccumulator) Add(value, weight float64) {
	a.total += value * weight
	a.weight += weight
}

// Mean returns the weighted mean accumulated so far, or 0 if nothing was
// accumulated.
func (a *MeanAccumulator) Mean() float64 {
	if a.weight == 0 {
		return 0
	}
	return a.total / a.weight
}

// Reset clears the accumulator for the next epoch.
func (a *MeanAccumulator) Reset() { *a = MeanAccumulator{} }
