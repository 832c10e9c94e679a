// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses implements the loss functions models train against.
//
// A Loss maps (labels, predictions) to a per-example loss of shape
// [batchSize]: feature axes are reduced (averaged or summed, depending on
// the loss), the batch axis is not. Models take the mean over the batch, so
// batches of different sizes weigh examples equally.
//
// All losses throw a ShapeMismatchError if labels and predictions have
// incompatible shapes.
package losses

import (
	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/types/xerrors"
)

// Epsilon is used to clip probabilities away from 0 and 1 before taking
// logarithms.
const Epsilon = 1e-7

// Loss computes a per-example loss, shaped [batchSize], from labels and
// predictions. The named losses of this package (MeanSquaredError, ...) and
// the builders (Huber) provide the usual implementations; custom functions
// with this signature work the same.
type Loss func(labels, predictions *graph.Node) *graph.Node

// checkMatchingShapes throws unless labels and predictions have identical
// shapes.
func checkMatchingShapes(lossName string, labels, predictions *graph.Node) {
	if !labels.Shape().Equal(predictions.Shape()) {
		xerrors.ThrowShapeMismatchf(
			"%s requires labels and predictions of the same shape, got %s and %s",
			lossName, labels.Shape(), predictions.Shape())
	}
}

// meanPerExample reduces all but the batch axis with a mean.
func meanPerExample(x *graph.Node) *graph.Node {
	if x.Rank() <= 1 {
		return x
	}
	axes := make([]int, x.Rank()-1)
	for ii := range axes {
		axes[ii] = ii + 1
	}
	return graph.ReduceMean(x, axes...)
}

// sumPerExample reduces all but the batch axis with a sum.
func sumPerExample(x *graph.Node) *graph.Node {
	if x.Rank() <= 1 {
		return x
	}
	axes := make([]int, x.Rank()-1)
	for ii := range axes {
		axes[ii] = ii + 1
	}
	return graph.ReduceSum(x, axes...)
}

// MeanSquaredError returns the mean over the feature axes of
// (labels-predictions)^2.
func MeanSquaredError(labels, predictions *graph.Node) *graph.Node {
	checkMatchingShapes("MeanSquaredError", labels, predictions)
	return meanPerExample(graph.Square(graph.Sub(labels, predictions)))
}

// MeanAbsoluteError returns the mean over the feature axes of
// |labels-predictions|.
func MeanAbsoluteError(labels, predictions *graph.Node) *graph.Node {
	checkMatchingShapes("MeanAbsoluteError", labels, predictions)
	return meanPerExample(graph.Abs(graph.Sub(labels, predictions)))
}

// BinaryCrossentropy computes -(y*log(p) + (1-y)*log(1-p)) for labels y in
// {0, 1} (or probabilities) and predicted probabilities p, averaged over the
// feature axes. Predictions are clipped Epsilon away from 0 and 1.
//
// If the model outputs logits, prefer BinaryCrossentropyLogits: fusing the
// sigmoid into the loss is numerically stabler.
func BinaryCrossentropy(labels, predictions *graph.Node) *graph.Node {
	checkMatchingShapes("BinaryCrossentropy", labels, predictions)
	p := graph.ClipScalar(predictions, Epsilon, 1-Epsilon)
	losses := graph.Neg(graph.Add(
		graph.Mul(labels, graph.Log(p)),
		graph.Mul(graph.OneMinus(labels), graph.Log(graph.OneMinus(p)))))
	return meanPerExample(losses)
}

// BinaryCrossentropyLogits is BinaryCrossentropy taking logits instead of
// probabilities: the sigmoid is folded into the loss, in the numerically
// stable form max(x, 0) - x*y + log(1+exp(-|x|)).
func BinaryCrossentropyLogits(labels, logits *graph.Node) *graph.Node {
	checkMatchingShapes("BinaryCrossentropyLogits", labels, logits)
	losses := graph.Add(
		graph.Sub(graph.MaxScalar(logits, 0.0), graph.Mul(logits, labels)),
		graph.Log(graph.AddScalar(graph.Exp(graph.Neg(graph.Abs(logits))), 1.0)))
	return meanPerExample(losses)
}

// CategoricalCrossentropy computes -sum(labels*log(predictions)) over the
// last axis, for one-hot (or soft) labels and predicted probabilities,
// shaped [batchSize, numClasses]. Predictions are clipped Epsilon away from
// 0 and 1.
//
// If the model outputs logits, prefer CategoricalCrossentropyLogits.
func CategoricalCrossentropy(labels, predictions *graph.Node) *graph.Node {
	checkMatchingShapes("CategoricalCrossentropy", labels, predictions)
	if predictions.Rank() < 2 {
		xerrors.ThrowShapeMismatchf(
			"CategoricalCrossentropy requires [batchSize, numClasses] inputs, got %s",
			predictions.Shape())
	}
	p := graph.ClipScalar(predictions, Epsilon, 1-Epsilon)
	return sumPerExample(graph.Neg(graph.Mul(labels, graph.Log(p))))
}

// CategoricalCrossentropyLogits is CategoricalCrossentropy taking logits
// instead of probabilities: -sum(labels*logSoftmax(logits)) over the last
// axis.
func CategoricalCrossentropyLogits(labels, logits *graph.Node) *graph.Node {
	checkMatchingShapes("CategoricalCrossentropyLogits", labels, logits)
	if logits.Rank() < 2 {
		xerrors.ThrowShapeMismatchf(
			"CategoricalCrossentropyLogits requires [batchSize, numClasses] inputs, got %s",
			logits.Shape())
	}
	return sumPerExample(graph.Neg(graph.Mul(labels, graph.LogSoftmax(logits))))
}

// Huber returns the Huber loss with the given transition point: quadratic
// for errors smaller than delta, linear beyond, averaged over the feature
// axes. Less sensitive to outliers than MeanSquaredError.
func Huber(delta float64) Loss {
	if delta <= 0 {
		xerrors.ThrowInvalidParamf("Huber: delta must be positive, got %g", delta)
	}
	return func(labels, predictions *graph.Node) *graph.Node {
		checkMatchingShapes("Huber", labels, predictions)
		absErrors := graph.Abs(graph.Sub(labels, predictions))
		quadratic := graph.MinScalar(absErrors, delta)
		linear := graph.Sub(absErrors, quadratic)
		losses := graph.Add(
			graph.MulScalar(graph.Square(quadratic), 0.5),
			graph.MulScalar(linear, delta))
		return meanPerExample(losses)
	}
}
