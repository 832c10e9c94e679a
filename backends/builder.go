// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/types/shapes"
)

// Op represents the output of an operation during computation graph building.
//
// It is opaque to the caller: it is created by Builder methods and passed
// back as input to other Builder methods of the same Builder only.
type Op any

// Builder builds a computation to be compiled into an Executable.
// It is created with Backend.Builder.
//
// Convolutions and pooling operate on channels-last layouts: inputs are
// [batch, spatial..., channels] and kernels [spatial..., inputChannels,
// outputChannels]. All methods throw (panic) on invalid inputs.
type Builder interface {
	// Name of the computation being built.
	Name() string

	// OpShape returns the shape of an Op created by this builder.
	// It is not an operation, it doesn't change the computation being built.
	OpShape(op Op) shapes.Shape

	// Parameter creates an input parameter for the computation.
	// During execution of the compiled computation this value must be fed in
	// the same order it was created.
	Parameter(name string, shape shapes.Shape) Op

	// Constant creates a constant with the given flat values and the shape
	// defined by dims. flat must be a slice of a supported Go type, and its
	// length must match the size defined by dims. The value is copied.
	Constant(flat any, dims ...int) Op

	// Iota creates a tensor of the given shape whose values along axis are
	// the indices 0, 1, 2, ..., repeated over the other axes.
	Iota(shape shapes.Shape, axis int) Op

	// ConvertDType converts x to the given dtype.
	ConvertDType(x Op, dtype dtypes.DType) Op

	// Reshape reshapes x to dims. The total size cannot change.
	Reshape(x Op, dims ...int) Op

	// Transpose permutes the axes of x: output axis i comes from input axis
	// permutation[i]. permutation must have one value per axis of x.
	Transpose(x Op, permutation ...int) Op

	// BroadcastInDim broadcasts x to the target shape. broadcastAxes has one
	// entry per axis of x giving the target axis it maps to; axes of x with
	// dimension 1 are expanded, axes of the target not listed are filled by
	// repetition.
	BroadcastInDim(x Op, shape shapes.Shape, broadcastAxes []int) Op

	// Neg returns the element-wise negation of x.
	Neg(x Op) Op

	// Abs returns the element-wise absolute value of x.
	Abs(x Op) Op

	// Exp returns the element-wise natural exponentiation of x.
	Exp(x Op) Op

	// Log returns the element-wise natural logarithm of x.
	Log(x Op) Op

	// Sqrt returns the element-wise square root of x.
	Sqrt(x Op) Op

	// Tanh returns the element-wise hyperbolic tangent of x.
	Tanh(x Op) Op

	// Add returns the element-wise sum x+y. Operands must have identical
	// shapes: broadcasting is resolved by the caller with BroadcastInDim.
	// The same holds for the other binary operations.
	Add(x, y Op) Op

	// Sub returns the element-wise subtraction x-y.
	Sub(x, y Op) Op

	// Mul returns the element-wise multiplication x*y.
	Mul(x, y Op) Op

	// Div returns the element-wise division x/y.
	Div(x, y Op) Op

	// Pow returns the element-wise x raised to the power y.
	Pow(x, y Op) Op

	// Max returns the element-wise maximum of x and y.
	Max(x, y Op) Op

	// Min returns the element-wise minimum of x and y.
	Min(x, y Op) Op

	// Equal returns the element-wise comparison x == y, with dtype Bool.
	Equal(x, y Op) Op

	// GreaterThan returns the element-wise comparison x > y, with dtype Bool.
	GreaterThan(x, y Op) Op

	// GreaterOrEqual returns the element-wise comparison x >= y, with dtype
	// Bool.
	GreaterOrEqual(x, y Op) Op

	// Where returns element-wise onTrue or onFalse depending on condition.
	// condition must be Bool and have the same dimensions as the other
	// operands, which must have identical shapes.
	Where(condition, onTrue, onFalse Op) Op

	// ReduceSum sums x over the given axes, which are removed from the
	// output shape. No axes means reduce over all of them, to a scalar.
	ReduceSum(x Op, axes ...int) Op

	// ReduceMax takes the maximum of x over the given axes, which are
	// removed from the output shape. No axes means reduce over all of them.
	ReduceMax(x Op, axes ...int) Op

	// ArgMax returns the index of the maximum value of x along axis, which
	// is removed from the output shape. Ties pick the lowest index. The
	// output is converted to outputDType.
	ArgMax(x Op, axis int, outputDType dtypes.DType) Op

	// ConvGeneral computes the 2D convolution (correlation) of input
	// [batch, height, width, inChannels] with kernel [kernelHeight,
	// kernelWidth, inChannels, outChannels], returning [batch, outHeight,
	// outWidth, outChannels].
	//
	// strides and dilations have one value per spatial axis; paddings gives
	// {low, high} padding per spatial axis. Dilations apply to the kernel.
	ConvGeneral(input, kernel Op, strides []int, paddings [][2]int, dilations []int) Op

	// ConvGradInput computes the gradient of ConvGeneral with respect to its
	// input: it distributes gradOutput back through kernel into a tensor of
	// the given inputShape. The convolution parameters must match the ones
	// of the forward operation.
	ConvGradInput(gradOutput, kernel Op, inputShape shapes.Shape, strides []int, paddings [][2]int, dilations []int) Op

	// ConvGradKernel computes the gradient of ConvGeneral with respect to
	// its kernel, of the given kernelShape. The convolution parameters must
	// match the ones of the forward operation.
	ConvGradKernel(input, gradOutput Op, kernelShape shapes.Shape, strides []int, paddings [][2]int, dilations []int) Op

	// ReduceWindowMax takes the maximum of x over sliding windows.
	// windowSizes, strides and paddings have one entry per axis of x; axes
	// not being pooled take window 1, stride 1 and padding {0, 0}.
	ReduceWindowMax(x Op, windowSizes, strides []int, paddings [][2]int) Op

	// ReduceWindowSum sums x over sliding windows. Parameters as in
	// ReduceWindowMax.
	ReduceWindowSum(x Op, windowSizes, strides []int, paddings [][2]int) Op

	// MaxPoolGrad computes the gradient of ReduceWindowMax with respect to
	// x: each gradOutput value is routed to the position of the maximum of
	// its window in x, the lowest index on ties. The window parameters must
	// match the ones of the forward operation.
	MaxPoolGrad(x, gradOutput Op, windowSizes, strides []int, paddings [][2]int) Op

	// SumPoolGrad computes the gradient of ReduceWindowSum with respect to
	// its input, of the given inputShape: each gradOutput value is added to
	// every position of its window. The window parameters must match the
	// ones of the forward operation.
	SumPoolGrad(gradOutput Op, inputShape shapes.Shape, windowSizes, strides []int, paddings [][2]int) Op

	// Compile the computation into an Executable with the given outputs.
	// It immediately invalidates the Builder.
	Compile(outputs ...Op) Executable
}
