// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/ml/context"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/xerrors"
)

// FlattenLayer collapses all the axes of its input but the batch axis. See
// Flatten.
type FlattenLayer struct {
	statelessLayer
}

// Flatten returns a layer that reshapes [batchSize, dims...] inputs to
// [batchSize, product(dims)]: the usual bridge from convolution or pooling
// outputs to Dense layers.
func Flatten() *FlattenLayer {
	l := &FlattenLayer{}
	l.typeName = "flatten"
	return l
}

// WithName sets the layer's name and returns it, for chaining.
func (l *FlattenLayer) WithName(name string) *FlattenLayer {
	l.SetName(name)
	return l
}

// OutputShape implements Layer: [batchSize, product of the other dims].
func (l *FlattenLayer) OutputShape(input shapes.Shape) shapes.Shape {
	if input.Rank() < 2 {
		xerrors.ThrowShapeMismatchf(
			"flatten layer %q requires inputs of rank >= 2, got %s", l.name, input)
	}
	flatDim := 1
	for _, dim := range input.Dimensions[1:] {
		if dim == shapes.UnknownDim {
			xerrors.ThrowShapeMismatchf(
				"flatten layer %q: only the batch axis can be unknown, got %s", l.name, input)
		}
		flatDim *= dim
	}
	return shapes.Make(input.DType, input.Dim(0), flatDim)
}

// Build implements Layer. It creates no variables.
func (l *FlattenLayer) Build(_ *context.Context, input shapes.Shape) {
	l.markBuilt()
	_ = l.OutputShape(input)
}

// Forward implements Layer.
func (l *FlattenLayer) Forward(_ *context.Context, x *graph.Node, _ bool) *graph.Node {
	flatDim := 1
	for _, dim := range x.Shape().Dimensions[1:] {
		flatDim *= dim
	}
	return graph.Reshape(x, x.Shape().Dim(0), flatDim)
}
