// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers implements the building blocks of models: Dense, Conv2D,
// the poolings, Flatten and friends.
//
// A Layer goes through two phases: Build, called once with the shape of its
// input, creates its variables in the context; Forward adds the layer's
// computation to a graph. Configuration uses chained setters on the value
// returned by the layer constructor:
//
//	layer := layers.Dense(128).
//		WithActivation(activations.TypeRelu).
//		WithKernelInitializer(initializers.HeNormalFn(42))
//
// Shapes flow through layers with the batch axis unknown
// (shapes.UnknownDim): OutputShape computes the output of a layer for a
// given input shape without building anything, so a models.Sequential can
// validate the full chain upfront.
package layers

import (
	. "github.com/gomlx/exceptions"

	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/ml/context"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/xerrors"
)

// Layer is one stage of a model.
//
// Concrete layers are created by the constructors of this package (Input,
// Dense, Conv2D, MaxPool2D, AvgPool2D, Flatten, Activation) and configured
// with their chained setters before being handed to a model.
type Layer interface {
	// Name returns the layer's name, empty until one is set with SetName --
	// models assign unique names ("dense_0", "conv2d_1", ...) to unnamed
	// layers when they are built.
	Name() string

	// SetName sets the layer's name, which defines the variable scope of
	// its weights. It must be set before Build.
	SetName(name string)

	// TypeName returns the kind of the layer ("dense", "conv2d", ...),
	// used to generate unique names.
	TypeName() string

	// OutputShape computes the shape of the layer's output for the given
	// input shape, without building. It throws a ShapeMismatchError if the
	// input shape is not supported, and an InvalidShapeError if a computed
	// dimension would be non-positive.
	OutputShape(input shapes.Shape) shapes.Shape

	// Build creates the layer's variables in ctx, under the scope given by
	// the layer's name. It can only be called once: a second call throws an
	// IllegalStateError.
	Build(ctx *context.Context, input shapes.Shape)

	// Forward adds the layer's computation to the graph of x and returns
	// its output. For layers with no training-specific behavior the
	// training flag is ignored.
	Forward(ctx *context.Context, x *graph.Node, training bool) *graph.Node

	// Trainable reports whether the layer holds trainable variables.
	Trainable() bool

	// NumParameters returns the total number of scalar parameters of the
	// layer's variables. Only meaningful after Build; 0 for stateless
	// layers.
	NumParameters() int
}

// baseLayer holds the naming and single-build bookkeeping common to all
// layers.
type baseLayer struct {
	name     string
	typeName string
	built    bool
}

func (l *baseLayer) Name() string { return l.name }

func (l *baseLayer) SetName(name string) { l.name = name }

func (l *baseLayer) TypeName() string { return l.typeName }

// markBuilt makes sure the layer is only built once.
func (l *baseLayer) markBuilt() {
	if l.built {
		xerrors.ThrowIllegalStatef("layer %q (%s) has already been built", l.name, l.typeName)
	}
	if l.name == "" {
		Panicf("layer of type %q must be named before being built", l.typeName)
	}
	l.built = true
}

// scopedCtx returns the context scoped to the layer's variables.
func (l *baseLayer) scopedCtx(ctx *context.Context) *context.Context {
	return ctx.In(l.name)
}

// statelessLayer is embedded by layers without variables. Their Build
// methods only check the input shape and the single-build rule.
type statelessLayer struct {
	baseLayer
}

func (l *statelessLayer) Trainable() bool { return false }

func (l *statelessLayer) NumParameters() int { return 0 }
