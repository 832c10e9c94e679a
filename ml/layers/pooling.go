// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/ml/context"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/xerrors"
)

// PoolLayer implements 2D max and average pooling. See MaxPool2D and
// AvgPool2D.
type PoolLayer struct {
	statelessLayer
	isMax    bool
	poolSize [2]int
	strides  [2]int
	padding  Padding
}

// MaxPool2D returns a layer that takes the maximum over spatial windows of
// the given size -- one value for square windows, or two values for
// [height, width].
//
// It takes inputs of shape [batchSize, height, width, channels]
// (channels-last) and pools each channel independently. Strides default to
// the pool size (non-overlapping windows) and padding to PaddingValid; see
// the With* setters. Values on the PaddingSame padded border are ignored,
// never taken as maximum.
func MaxPool2D(poolSize ...int) *PoolLayer {
	l := &PoolLayer{
		isMax:    true,
		poolSize: spatialPair("MaxPool2D", "poolSize", poolSize),
	}
	l.strides = l.poolSize
	l.typeName = "max_pool2d"
	return l
}

// AvgPool2D returns a layer that averages over spatial windows of the given
// size -- one value for square windows, or two values for [height, width].
//
// Geometry and defaults as in MaxPool2D. With PaddingSame, windows hanging
// over the border average only the values inside the input.
func AvgPool2D(poolSize ...int) *PoolLayer {
	l := &PoolLayer{
		poolSize: spatialPair("AvgPool2D", "poolSize", poolSize),
	}
	l.strides = l.poolSize
	l.typeName = "avg_pool2d"
	return l
}

// WithName sets the layer's name and returns it, for chaining.
func (l *PoolLayer) WithName(name string) *PoolLayer {
	l.SetName(name)
	return l
}

// WithStrides sets the pooling strides: one value for both spatial axes, or
// two values for [height, width]. Defaults to the pool size.
func (l *PoolLayer) WithStrides(strides ...int) *PoolLayer {
	l.strides = spatialPair(l.typeName, "strides", strides)
	return l
}

// WithPadding sets the padding policy: PaddingValid or PaddingSame.
// PaddingFull is not meaningful for pooling and throws an
// InvalidParameterError.
func (l *PoolLayer) WithPadding(padding Padding) *PoolLayer {
	if padding != PaddingValid && padding != PaddingSame {
		xerrors.ThrowInvalidParamf(
			`%s only supports "valid" and "same" paddings, got %q`, l.typeName, padding)
	}
	l.padding = padding
	return l
}

// checkInput throws a ShapeMismatchError unless input is a valid
// [batchSize, height, width, channels] shape.
func (l *PoolLayer) checkInput(input shapes.Shape) {
	if input.Rank() != 4 {
		xerrors.ThrowShapeMismatchf(
			"%s layer %q requires rank-4 inputs [batchSize, height, width, channels], got %s",
			l.typeName, l.name, input)
	}
	for axis := 1; axis < 4; axis++ {
		if input.Dim(axis) == shapes.UnknownDim {
			xerrors.ThrowShapeMismatchf(
				"%s layer %q: only the batch axis can be unknown, got %s", l.typeName, l.name, input)
		}
	}
}

// OutputShape implements Layer: [batchSize, outHeight, outWidth, channels],
// with the spatial dimensions given by OutputLength.
func (l *PoolLayer) OutputShape(input shapes.Shape) shapes.Shape {
	l.checkInput(input)
	outHeight := OutputLength(input.Dim(1), l.poolSize[0], l.strides[0], 1, l.padding)
	outWidth := OutputLength(input.Dim(2), l.poolSize[1], l.strides[1], 1, l.padding)
	return shapes.Make(input.DType, input.Dim(0), outHeight, outWidth, input.Dim(3))
}

// Build implements Layer. It creates no variables.
func (l *PoolLayer) Build(_ *context.Context, input shapes.Shape) {
	l.markBuilt()
	_ = l.OutputShape(input)
}

// Forward implements Layer.
func (l *PoolLayer) Forward(_ *context.Context, x *graph.Node, _ bool) *graph.Node {
	windowSizes := []int{1, l.poolSize[0], l.poolSize[1], 1}
	strides := []int{1, l.strides[0], l.strides[1], 1}
	paddings := [][2]int{
		{0, 0},
		paddingAmounts(x.Shape().Dim(1), l.poolSize[0], l.strides[0], 1, l.padding),
		paddingAmounts(x.Shape().Dim(2), l.poolSize[1], l.strides[1], 1, l.padding),
		{0, 0},
	}
	if l.isMax {
		return graph.ReduceWindowMax(x, windowSizes, strides, paddings)
	}
	sums := graph.ReduceWindowSum(x, windowSizes, strides, paddings)
	// Per-position count of the window values inside the input, so border
	// windows average only what they actually saw.
	counts := graph.ReduceWindowSum(graph.StopGradient(graph.OnesLike(x)), windowSizes, strides, paddings)
	return graph.Div(sums, counts)
}
