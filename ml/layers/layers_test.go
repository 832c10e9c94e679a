// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/graph/graphtest"
	"github.com/gomlx/stax/ml/context"
	"github.com/gomlx/stax/ml/initializers"
	"github.com/gomlx/stax/ml/layers"
	"github.com/gomlx/stax/ml/layers/activations"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// bruteForceOutputLength slides the dilated kernel over the padded input and
// counts the visited positions, independently of the closed-form formulas.
func bruteForceOutputLength(inputLength, kernelSize, stride, dilation int, padding layers.Padding) int {
	k := dilation*(kernelSize-1) + 1
	var first, last int
	switch padding {
	case layers.PaddingValid:
		first, last = 0, inputLength-k
	case layers.PaddingSame:
		// By definition, not by geometry.
		return (inputLength + stride - 1) / stride
	case layers.PaddingFull:
		first, last = -(k - 1), inputLength-1
	}
	count := 0
	for position := first; position <= last; position += stride {
		count++
	}
	return count
}

// TestOutputLengthGrid checks the output-length formulas over a grid of
// input lengths, kernel sizes, strides and dilations.
func TestOutputLengthGrid(t *testing.T) {
	paddings := []layers.Padding{layers.PaddingValid, layers.PaddingSame, layers.PaddingFull}
	for inputLength := 1; inputLength <= 12; inputLength++ {
		for kernelSize := 1; kernelSize <= 4; kernelSize++ {
			for stride := 1; stride <= 3; stride++ {
				for dilation := 1; dilation <= 2; dilation++ {
					for _, padding := range paddings {
						k := dilation*(kernelSize-1) + 1
						if padding == layers.PaddingValid && k > inputLength {
							err := exceptions.TryCatch[error](func() {
								layers.OutputLength(inputLength, kernelSize, stride, dilation, padding)
							})
							require.Error(t, err)
							var shapeErr *xerrors.InvalidShapeError
							require.True(t, errors.As(err, &shapeErr),
								"kernel %d (dilation %d) over input %d must throw InvalidShapeError",
								kernelSize, dilation, inputLength)
							continue
						}
						want := bruteForceOutputLength(inputLength, kernelSize, stride, dilation, padding)
						got := layers.OutputLength(inputLength, kernelSize, stride, dilation, padding)
						require.Equalf(t, want, got,
							"OutputLength(L=%d, K=%d, S=%d, D=%d, %s)",
							inputLength, kernelSize, stride, dilation, padding)
					}
				}
			}
		}
	}
}

func TestOutputLengthBadParameters(t *testing.T) {
	var paramErr *xerrors.InvalidParameterError
	for _, fn := range []func(){
		func() { layers.OutputLength(10, 0, 1, 1, layers.PaddingValid) },
		func() { layers.OutputLength(10, 3, 0, 1, layers.PaddingValid) },
		func() { layers.OutputLength(10, 3, 1, -1, layers.PaddingValid) },
	} {
		err := exceptions.TryCatch[error](fn)
		require.Error(t, err)
		require.True(t, errors.As(err, &paramErr))
	}
}

func TestPaddingFromName(t *testing.T) {
	assert.Equal(t, layers.PaddingValid, layers.PaddingFromName("valid"))
	assert.Equal(t, layers.PaddingSame, layers.PaddingFromName("Same"))
	assert.Equal(t, layers.PaddingFull, layers.PaddingFromName("FULL"))
	err := exceptions.TryCatch[error](func() { layers.PaddingFromName("reflect") })
	require.Error(t, err)
}

func TestInputLayer(t *testing.T) {
	layer := layers.Input(shapes.Make(dtypes.Float32, 28, 28, 1))
	layer.SetName("input_0")
	want := shapes.Make(dtypes.Float32, shapes.UnknownDim, 28, 28, 1)
	assert.True(t, layer.OutputShape(shapes.Invalid()).Equal(want))
	assert.False(t, layer.Trainable())
	assert.Equal(t, 0, layer.NumParameters())
}

func TestDenseShapes(t *testing.T) {
	layer := layers.Dense(16).WithName("dense_0")
	input := shapes.Make(dtypes.Float32, shapes.UnknownDim, 4)
	output := layer.OutputShape(input)
	assert.True(t, output.Equal(shapes.Make(dtypes.Float32, shapes.UnknownDim, 16)))

	ctx := context.New()
	layer.Build(ctx, input)
	require.NotNil(t, ctx.InspectVariable("/dense_0", "weights"))
	require.NotNil(t, ctx.InspectVariable("/dense_0", "biases"))
	assert.True(t, ctx.InspectVariable("/dense_0", "weights").Shape().
		Equal(shapes.Make(dtypes.Float32, 4, 16)))
	assert.True(t, ctx.InspectVariable("/dense_0", "biases").Shape().
		Equal(shapes.Make(dtypes.Float32, 16)))
	assert.Equal(t, 4*16+16, layer.NumParameters())
	assert.True(t, layer.Trainable())
}

func TestDenseWithoutBias(t *testing.T) {
	ctx := context.New()
	layer := layers.Dense(8).WithBias(false).WithName("dense_0")
	layer.Build(ctx, shapes.Make(dtypes.Float32, shapes.UnknownDim, 4))
	assert.Nil(t, ctx.InspectVariable("/dense_0", "biases"))
	assert.Equal(t, 4*8, layer.NumParameters())
}

// TestBuildTwice: every layer kind must reject a second Build.
func TestBuildTwice(t *testing.T) {
	testCases := []struct {
		layer layers.Layer
		input shapes.Shape
	}{
		{layers.Input(shapes.Make(dtypes.Float32, 4)), shapes.Invalid()},
		{layers.Dense(8), shapes.Make(dtypes.Float32, shapes.UnknownDim, 4)},
		{layers.Conv2D(8, 3), shapes.Make(dtypes.Float32, shapes.UnknownDim, 8, 8, 1)},
		{layers.MaxPool2D(2), shapes.Make(dtypes.Float32, shapes.UnknownDim, 8, 8, 1)},
		{layers.AvgPool2D(2), shapes.Make(dtypes.Float32, shapes.UnknownDim, 8, 8, 1)},
		{layers.Flatten(), shapes.Make(dtypes.Float32, shapes.UnknownDim, 8, 8, 1)},
		{layers.Activation(activations.TypeRelu), shapes.Make(dtypes.Float32, shapes.UnknownDim, 4)},
	}
	for ii, testCase := range testCases {
		t.Run(testCase.layer.TypeName(), func(t *testing.T) {
			ctx := context.New()
			testCase.layer.SetName(fmt.Sprintf("%s_%d", testCase.layer.TypeName(), ii))
			testCase.layer.Build(ctx, testCase.input)
			err := exceptions.TryCatch[error](func() {
				testCase.layer.Build(ctx, testCase.input)
			})
			require.Error(t, err)
			var stateErr *xerrors.IllegalStateError
			require.True(t, errors.As(err, &stateErr))
		})
	}
}

func TestDenseRejectsBadInputs(t *testing.T) {
	var shapeErr *xerrors.ShapeMismatchError
	err := exceptions.TryCatch[error](func() {
		layers.Dense(8).WithName("d").OutputShape(shapes.Make(dtypes.Float32, shapes.UnknownDim, 8, 8, 1))
	})
	require.True(t, errors.As(err, &shapeErr), "rank-4 input into dense")

	err = exceptions.TryCatch[error](func() {
		layers.Dense(8).WithName("d").OutputShape(shapes.Make(dtypes.Float32, 32, shapes.UnknownDim))
	})
	require.True(t, errors.As(err, &shapeErr), "unknown feature dimension")

	err = exceptions.TryCatch[error](func() { layers.Dense(0) })
	var paramErr *xerrors.InvalidParameterError
	require.True(t, errors.As(err, &paramErr))
}

func TestDenseForward(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	layer := layers.Dense(2).
		WithName("dense_0").
		WithKernelInitializer(initializers.One).
		WithBiasInitializer(initializers.Constant(0.5))
	layer.Build(ctx, shapes.Make(dtypes.Float32, shapes.UnknownDim, 3))

	exec := context.NewExec(backend, ctx, "dense",
		func(ctx *context.Context, g *graph.Graph, inputs []*graph.Node) []*graph.Node {
			return []*graph.Node{layer.Forward(ctx, inputs[0], false)}
		})
	defer exec.Finalize()
	outputs, err := exec.Call([][]float32{{1, 2, 3}})
	require.NoError(t, err)
	// All-ones kernel sums the features; bias adds 0.5.
	assert.Equal(t, []float32{6.5, 6.5}, tensors.CopyFlatData[float32](outputs[0]))
}

func TestConv2DShapes(t *testing.T) {
	input := shapes.Make(dtypes.Float32, shapes.UnknownDim, 28, 28, 3)
	testCases := []struct {
		name  string
		layer *layers.Conv2DLayer
		want  []int
	}{
		{"valid", layers.Conv2D(32, 3), []int{shapes.UnknownDim, 26, 26, 32}},
		{"same", layers.Conv2D(32, 3).WithPadding(layers.PaddingSame), []int{shapes.UnknownDim, 28, 28, 32}},
		{"full", layers.Conv2D(32, 3).WithPadding(layers.PaddingFull), []int{shapes.UnknownDim, 30, 30, 32}},
		{"strided", layers.Conv2D(32, 3).WithStrides(2).WithPadding(layers.PaddingSame), []int{shapes.UnknownDim, 14, 14, 32}},
		{"dilated", layers.Conv2D(32, 3).WithDilations(2), []int{shapes.UnknownDim, 24, 24, 32}},
		{"rect", layers.Conv2D(8, 5, 3), []int{shapes.UnknownDim, 24, 26, 8}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			testCase.layer.SetName("conv")
			got := testCase.layer.OutputShape(input)
			assert.True(t, got.Equal(shapes.Make(dtypes.Float32, testCase.want...)),
				"got %s, want dims %v", got, testCase.want)
		})
	}
}

func TestConv2DBuildAndForward(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	layer := layers.Conv2D(1, 2).
		WithName("conv2d_0").
		WithKernelInitializer(initializers.One)
	layer.Build(ctx, shapes.Make(dtypes.Float32, shapes.UnknownDim, 2, 2, 1))
	weights := ctx.InspectVariable("/conv2d_0", "weights")
	require.NotNil(t, weights)
	assert.True(t, weights.Shape().Equal(shapes.Make(dtypes.Float32, 2, 2, 1, 1)))
	assert.Equal(t, 2*2*1*1+1, layer.NumParameters())

	exec := context.NewExec(backend, ctx, "conv",
		func(ctx *context.Context, g *graph.Graph, inputs []*graph.Node) []*graph.Node {
			return []*graph.Node{layer.Forward(ctx, inputs[0], false)}
		})
	defer exec.Finalize()
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 1, 2, 2, 1)
	outputs, err := exec.Call(input)
	require.NoError(t, err)
	// 2x2 all-ones kernel over the full input: 1+2+3+4.
	assert.Equal(t, []float32{10}, tensors.CopyFlatData[float32](outputs[0]))
}

func TestPooling(t *testing.T) {
	// Input 1x3x3x1 with values 1..9.
	input := tensors.FromFlatDataAndDimensions(
		[]float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 3, 3, 1)

	buildForward := func(layer layers.Layer) []*tensors.Tensor {
		backend := graphtest.BuildTestBackend()
		ctx := context.New()
		layer.SetName(layer.TypeName() + "_0")
		layer.Build(ctx, shapes.Make(dtypes.Float32, shapes.UnknownDim, 3, 3, 1))
		exec := context.NewExec(backend, ctx, "pool",
			func(ctx *context.Context, g *graph.Graph, inputs []*graph.Node) []*graph.Node {
				return []*graph.Node{layer.Forward(ctx, inputs[0], false)}
			})
		defer exec.Finalize()
		outputs, err := exec.Call(input)
		require.NoError(t, err)
		return outputs
	}

	t.Run("max-valid", func(t *testing.T) {
		outputs := buildForward(layers.MaxPool2D(2).WithStrides(1))
		assert.Equal(t, []int{1, 2, 2, 1}, outputs[0].Shape().Dimensions)
		assert.Equal(t, []float32{5, 6, 8, 9}, tensors.CopyFlatData[float32](outputs[0]))
	})
	t.Run("max-same", func(t *testing.T) {
		outputs := buildForward(layers.MaxPool2D(2).WithPadding(layers.PaddingSame))
		assert.Equal(t, []int{1, 2, 2, 1}, outputs[0].Shape().Dimensions)
		assert.Equal(t, []float32{5, 6, 8, 9}, tensors.CopyFlatData[float32](outputs[0]))
	})
	t.Run("avg-valid", func(t *testing.T) {
		outputs := buildForward(layers.AvgPool2D(2).WithStrides(1))
		assert.Equal(t, []float32{3, 4, 6, 7}, tensors.CopyFlatData[float32](outputs[0]))
	})
	t.Run("avg-same-borders", func(t *testing.T) {
		// Windows hanging over the border only average in-bounds values.
		outputs := buildForward(layers.AvgPool2D(2).WithPadding(layers.PaddingSame))
		assert.Equal(t, []float32{3, 4.5, 7.5, 9}, tensors.CopyFlatData[float32](outputs[0]))
	})
}

func TestPoolingRejectsFullPadding(t *testing.T) {
	err := exceptions.TryCatch[error](func() {
		layers.MaxPool2D(2).WithPadding(layers.PaddingFull)
	})
	require.Error(t, err)
	var paramErr *xerrors.InvalidParameterError
	require.True(t, errors.As(err, &paramErr))
}

func TestFlatten(t *testing.T) {
	layer := layers.Flatten().WithName("flatten_0")
	output := layer.OutputShape(shapes.Make(dtypes.Float32, shapes.UnknownDim, 4, 4, 8))
	assert.True(t, output.Equal(shapes.Make(dtypes.Float32, shapes.UnknownDim, 128)))

	var shapeErr *xerrors.ShapeMismatchError
	err := exceptions.TryCatch[error](func() {
		layer.OutputShape(shapes.Make(dtypes.Float32, 7))
	})
	require.True(t, errors.As(err, &shapeErr))

	graphtest.RunTestGraphFn(t, "flatten-forward",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			ctx := context.New()
			x := graph.IotaFull(g, shapes.Make(dtypes.Float32, 2, 2, 3))
			flat := layers.Flatten().WithName("f")
			flat.Build(ctx, shapes.Make(dtypes.Float32, shapes.UnknownDim, 2, 3))
			return []*graph.Node{x}, []*graph.Node{flat.Forward(ctx, x, false)}
		}, []any{[][]float32{{0, 1, 2, 3, 4, 5}, {6, 7, 8, 9, 10, 11}}}, 0)
}
