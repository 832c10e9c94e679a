// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/ml/context"
	"github.com/gomlx/stax/ml/initializers"
	"github.com/gomlx/stax/ml/layers/activations"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/xerrors"
)

// DenseLayer is a fully connected layer. See Dense.
type DenseLayer struct {
	baseLayer
	units      int
	activation activations.Type
	useBias    bool
	kernelInit initializers.Initializer
	biasInit   initializers.Initializer

	inputDim int
	kernel   *context.Variable
	bias     *context.Variable
}

// Dense returns a fully connected layer with the given number of output
// units: output = activation(x · kernel + bias).
//
// It takes inputs of shape [batchSize, inputDim] and outputs
// [batchSize, units]. By default it applies no activation, adds a bias
// initialized to zero, and initializes its kernel with the context's default
// initializer; see the With* setters.
func Dense(units int) *DenseLayer {
	if units <= 0 {
		xerrors.ThrowInvalidParamf("Dense: units must be positive, got %d", units)
	}
	l := &DenseLayer{
		units:    units,
		useBias:  true,
		biasInit: initializers.Zero,
	}
	l.typeName = "dense"
	return l
}

// WithName sets the layer's name and returns it, for chaining.
func (l *DenseLayer) WithName(name string) *DenseLayer {
	l.SetName(name)
	return l
}

// WithActivation sets the activation applied to the layer's output. Defaults
// to none.
func (l *DenseLayer) WithActivation(activation activations.Type) *DenseLayer {
	l.activation = activation
	return l
}

// WithBias sets whether the layer adds a bias term. Defaults to true.
func (l *DenseLayer) WithBias(useBias bool) *DenseLayer {
	l.useBias = useBias
	return l
}

// WithKernelInitializer sets the initializer of the layer's kernel. If not
// set, the context's default initializer is used.
func (l *DenseLayer) WithKernelInitializer(initializer initializers.Initializer) *DenseLayer {
	l.kernelInit = initializer
	return l
}

// WithBiasInitializer sets the initializer of the layer's bias. Defaults to
// initializers.Zero.
func (l *DenseLayer) WithBiasInitializer(initializer initializers.Initializer) *DenseLayer {
	l.biasInit = initializer
	return l
}

// checkInput throws a ShapeMismatchError unless input is a valid
// [batchSize, inputDim] shape, and returns inputDim.
func (l *DenseLayer) checkInput(input shapes.Shape) int {
	if input.Rank() != 2 {
		xerrors.ThrowShapeMismatchf(
			"dense layer %q requires rank-2 inputs [batchSize, inputDim], got %s -- "+
				"use a Flatten layer to collapse higher-rank inputs", l.name, input)
	}
	inputDim := input.Dim(1)
	if inputDim == shapes.UnknownDim {
		xerrors.ThrowShapeMismatchf(
			"dense layer %q requires a known input dimension, got %s", l.name, input)
	}
	return inputDim
}

// OutputShape implements Layer: [batchSize, units].
func (l *DenseLayer) OutputShape(input shapes.Shape) shapes.Shape {
	_ = l.checkInput(input)
	return shapes.Make(input.DType, input.Dim(0), l.units)
}

// Build implements Layer: it creates the kernel variable, shaped
// [inputDim, units], and if configured the bias, shaped [units].
func (l *DenseLayer) Build(ctx *context.Context, input shapes.Shape) {
	l.markBuilt()
	l.inputDim = l.checkInput(input)
	ctxL := l.scopedCtx(ctx)
	kernelCtx := ctxL
	if l.kernelInit != nil {
		kernelCtx = ctxL.WithInitializer(l.kernelInit)
	}
	l.kernel = kernelCtx.VariableWithShape("weights",
		shapes.Make(input.DType, l.inputDim, l.units))
	if l.useBias {
		l.bias = ctxL.WithInitializer(l.biasInit).VariableWithShape("biases",
			shapes.Make(input.DType, l.units))
	}
}

// Forward implements Layer.
func (l *DenseLayer) Forward(_ *context.Context, x *graph.Node, _ bool) *graph.Node {
	g := x.Graph()
	output := graph.MatMul(x, l.kernel.ValueGraph(g))
	if l.useBias {
		output = graph.Add(output, l.bias.ValueGraph(g))
	}
	return activations.Apply(l.activation, output)
}

// Trainable implements Layer.
func (l *DenseLayer) Trainable() bool { return true }

// NumParameters implements Layer: inputDim*units weights, plus units bias
// terms if the bias is enabled.
func (l *DenseLayer) NumParameters() int {
	if !l.built {
		return 0
	}
	n := l.inputDim * l.units
	if l.useBias {
		n += l.units
	}
	return n
}
