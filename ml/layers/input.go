// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/ml/context"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/xerrors"
)

// InputLayer declares the shape of the examples fed to a model. See Input.
type InputLayer struct {
	statelessLayer
	example shapes.Shape
}

// Input returns the layer declaring the shape of one example (without the
// batch axis) fed to a model: the first layer of a models.Sequential. The
// shape must be fully defined.
//
//	layers.Input(shapes.Make(dtypes.Float32, 28, 28, 1))
func Input(example shapes.Shape) *InputLayer {
	example.AssertFullyDefined("layers.Input: the example shape excludes the batch axis")
	l := &InputLayer{example: example}
	l.typeName = "input"
	return l
}

// BatchedShape returns the shape of the layer's output: the example shape
// with an unknown leading batch axis.
func (l *InputLayer) BatchedShape() shapes.Shape {
	dims := append([]int{shapes.UnknownDim}, l.example.Dimensions...)
	return shapes.Make(l.example.DType, dims...)
}

// OutputShape returns BatchedShape. The input shape is ignored: an
// InputLayer is always the first layer of a model.
func (l *InputLayer) OutputShape(_ shapes.Shape) shapes.Shape {
	return l.BatchedShape()
}

// Build implements Layer. It creates no variables.
func (l *InputLayer) Build(_ *context.Context, _ shapes.Shape) {
	l.markBuilt()
}

// Forward implements Layer: it checks that x is a batch of examples of the
// declared shape and returns it unchanged.
func (l *InputLayer) Forward(_ *context.Context, x *graph.Node, _ bool) *graph.Node {
	want := l.BatchedShape()
	got := x.Shape()
	if got.DType != want.DType || got.Rank() != want.Rank() ||
		!want.WithBatch(got.Dim(0)).Equal(got) {
		xerrors.ThrowShapeMismatchf(
			"layer %q expects batches of shape %s, got %s", l.name, want, got)
	}
	return x
}
