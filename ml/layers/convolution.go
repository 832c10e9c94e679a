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

// Conv2DLayer is a 2D convolution layer. See Conv2D.
type Conv2DLayer struct {
	baseLayer
	filters    int
	kernelSize [2]int
	strides    [2]int
	dilations  [2]int
	padding    Padding
	activation activations.Type
	useBias    bool
	kernelInit initializers.Initializer
	biasInit   initializers.Initializer

	inChannels int
	kernel     *context.Variable
	bias       *context.Variable
}

// Conv2D returns a 2D convolution layer with the given number of output
// filters (channels) and kernel size -- one value for a square kernel, or
// two values for [height, width].
//
// It takes inputs of shape [batchSize, height, width, inChannels]
// (channels-last) and outputs [batchSize, outHeight, outWidth, filters].
// Defaults: strides 1, dilations 1, valid padding, a zero-initialized bias,
// no activation; see the With* setters.
func Conv2D(filters int, kernelSize ...int) *Conv2DLayer {
	if filters <= 0 {
		xerrors.ThrowInvalidParamf("Conv2D: filters must be positive, got %d", filters)
	}
	l := &Conv2DLayer{
		filters:    filters,
		kernelSize: spatialPair("Conv2D", "kernelSize", kernelSize),
		strides:    [2]int{1, 1},
		dilations:  [2]int{1, 1},
		useBias:    true,
		biasInit:   initializers.Zero,
	}
	l.typeName = "conv2d"
	return l
}

// spatialPair expands a 1-or-2 value spatial parameter to [height, width],
// checking positivity.
func spatialPair(layer, param string, values []int) [2]int {
	var pair [2]int
	switch len(values) {
	case 1:
		pair = [2]int{values[0], values[0]}
	case 2:
		pair = [2]int{values[0], values[1]}
	default:
		xerrors.ThrowInvalidParamf(
			"%s: %s takes 1 (square) or 2 ([height, width]) values, got %v", layer, param, values)
	}
	if pair[0] <= 0 || pair[1] <= 0 {
		xerrors.ThrowInvalidParamf("%s: %s values must be positive, got %v", layer, param, values)
	}
	return pair
}

// WithName sets the layer's name and returns it, for chaining.
func (l *Conv2DLayer) WithName(name string) *Conv2DLayer {
	l.SetName(name)
	return l
}

// WithStrides sets the convolution strides: one value for both spatial axes,
// or two values for [height, width]. Defaults to 1.
func (l *Conv2DLayer) WithStrides(strides ...int) *Conv2DLayer {
	l.strides = spatialPair("Conv2D", "strides", strides)
	return l
}

// WithDilations sets the kernel dilations: one value for both spatial axes,
// or two values for [height, width]. Defaults to 1.
func (l *Conv2DLayer) WithDilations(dilations ...int) *Conv2DLayer {
	l.dilations = spatialPair("Conv2D", "dilations", dilations)
	return l
}

// WithPadding sets the padding policy. Defaults to PaddingValid.
func (l *Conv2DLayer) WithPadding(padding Padding) *Conv2DLayer {
	l.padding = padding
	return l
}

// WithActivation sets the activation applied to the layer's output. Defaults
// to none.
func (l *Conv2DLayer) WithActivation(activation activations.Type) *Conv2DLayer {
	l.activation = activation
	return l
}

// WithBias sets whether the layer adds a per-filter bias. Defaults to true.
func (l *Conv2DLayer) WithBias(useBias bool) *Conv2DLayer {
	l.useBias = useBias
	return l
}

// WithKernelInitializer sets the initializer of the layer's kernel. If not
// set, the context's default initializer is used.
func (l *Conv2DLayer) WithKernelInitializer(initializer initializers.Initializer) *Conv2DLayer {
	l.kernelInit = initializer
	return l
}

// WithBiasInitializer sets the initializer of the layer's bias. Defaults to
// initializers.Zero.
func (l *Conv2DLayer) WithBiasInitializer(initializer initializers.Initializer) *Conv2DLayer {
	l.biasInit = initializer
	return l
}

// checkInput throws a ShapeMismatchError unless input is a valid
// [batchSize, height, width, inChannels] shape, and returns inChannels.
func (l *Conv2DLayer) checkInput(input shapes.Shape) int {
	if input.Rank() != 4 {
		xerrors.ThrowShapeMismatchf(
			"conv2d layer %q requires rank-4 inputs [batchSize, height, width, channels], got %s",
			l.name, input)
	}
	for axis := 1; axis < 4; axis++ {
		if input.Dim(axis) == shapes.UnknownDim {
			xerrors.ThrowShapeMismatchf(
				"conv2d layer %q: only the batch axis can be unknown, got %s", l.name, input)
		}
	}
	return input.Dim(3)
}

// OutputShape implements Layer: [batchSize, outHeight, outWidth, filters],
// with the spatial dimensions given by OutputLength.
func (l *Conv2DLayer) OutputShape(input shapes.Shape) shapes.Shape {
	_ = l.checkInput(input)
	outHeight := OutputLength(input.Dim(1), l.kernelSize[0], l.strides[0], l.dilations[0], l.padding)
	outWidth := OutputLength(input.Dim(2), l.kernelSize[1], l.strides[1], l.dilations[1], l.padding)
	return shapes.Make(input.DType, input.Dim(0), outHeight, outWidth, l.filters)
}

// Build implements Layer: it creates the kernel variable, shaped
// [kernelHeight, kernelWidth, inChannels, filters], and if configured the
// bias, shaped [filters].
func (l *Conv2DLayer) Build(ctx *context.Context, input shapes.Shape) {
	l.markBuilt()
	l.inChannels = l.checkInput(input)
	_ = l.OutputShape(input) // Validates the geometry upfront.
	ctxL := l.scopedCtx(ctx)
	kernelCtx := ctxL
	if l.kernelInit != nil {
		kernelCtx = ctxL.WithInitializer(l.kernelInit)
	}
	l.kernel = kernelCtx.VariableWithShape("weights",
		shapes.Make(input.DType, l.kernelSize[0], l.kernelSize[1], l.inChannels, l.filters))
	if l.useBias {
		l.bias = ctxL.WithInitializer(l.biasInit).VariableWithShape("biases",
			shapes.Make(input.DType, l.filters))
	}
}

// Forward implements Layer.
func (l *Conv2DLayer) Forward(_ *context.Context, x *graph.Node, _ bool) *graph.Node {
	g := x.Graph()
	paddings := [][2]int{
		paddingAmounts(x.Shape().Dim(1), l.kernelSize[0], l.strides[0], l.dilations[0], l.padding),
		paddingAmounts(x.Shape().Dim(2), l.kernelSize[1], l.strides[1], l.dilations[1], l.padding),
	}
	output := graph.ConvGeneral(x, l.kernel.ValueGraph(g),
		l.strides[:], paddings, l.dilations[:])
	if l.useBias {
		output = graph.Add(output, l.bias.ValueGraph(g))
	}
	return activations.Apply(l.activation, output)
}

// Trainable implements Layer.
func (l *Conv2DLayer) Trainable() bool { return true }

// NumParameters implements Layer: kernelHeight*kernelWidth*inChannels*filters
// weights, plus filters bias terms if the bias is enabled.
func (l *Conv2DLayer) NumParameters() int {
	if !l.built {
		return 0
	}
	n := l.kernelSize[0] * l.kernelSize[1] * l.inChannels * l.filters
	if l.useBias {
		n += l.filters
	}
	return n
}
