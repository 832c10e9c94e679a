// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/xerrors"
	"github.com/gomlx/stax/types/xslices"
)

// This file implements the operations that add backend ops to a graph: the
// wrappers validate and normalize arguments, insert broadcasting where the
// operands allow it, and record the attributes the gradient functions need.

// adjustAxis converts a negative axis (counting from the end) to its positive
// counterpart, and validates the range.
func adjustAxis(opName string, axis, rank int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += rank
	}
	if adjusted < 0 || adjusted >= rank {
		xerrors.ThrowInvalidParamf("%s: axis %d is out of range for rank %d", opName, axis, rank)
	}
	return adjusted
}

// normalizeAxes adjusts negative axes, rejects duplicates and returns the
// axes sorted.
func normalizeAxes(opName string, axes []int, rank int) []int {
	normalized := make([]int, len(axes))
	for ii, axis := range axes {
		normalized[ii] = adjustAxis(opName, axis, rank)
	}
	slices.Sort(normalized)
	for ii := 1; ii < len(normalized); ii++ {
		if normalized[ii] == normalized[ii-1] {
			xerrors.ThrowInvalidParamf("%s: axis %d given more than once", opName, normalized[ii])
		}
	}
	return normalized
}

// keepDimsShape is the shape of a reduction of x over axes when the reduced
// axes are kept with dimension 1.
func keepDimsShape(shape shapes.Shape, axes []int) shapes.Shape {
	kept := shape.Clone()
	for _, axis := range axes {
		kept.Dimensions[axis] = 1
	}
	return kept
}

// broadcastDimensions resolves the common dimensions of two operands
// following NumPy rules: dimensions are aligned from the right, and each
// pair must either match or one of them be 1 (or missing), broadcast to
// the other.
func broadcastDimensions(opName string, x, y shapes.Shape) []int {
	rank := max(x.Rank(), y.Rank())
	dims := make([]int, rank)
	for axis := range dims {
		dimX, dimY := 1, 1
		if axisX := axis - (rank - x.Rank()); axisX >= 0 {
			dimX = x.Dimensions[axisX]
		}
		if axisY := axis - (rank - y.Rank()); axisY >= 0 {
			dimY = y.Dimensions[axisY]
		}
		switch {
		case dimX == dimY:
			dims[axis] = dimX
		case dimX == 1:
			dims[axis] = dimY
		case dimY == 1:
			dims[axis] = dimX
		default:
			xerrors.ThrowShapeMismatchf("%s: shapes %s and %s are not broadcastable",
				opName, x, y)
		}
	}
	return dims
}

// broadcastToDims broadcasts x to the given dimensions, aligning its axes to
// the right. It is a no-op if x already has those dimensions.
func broadcastToDims(opName string, x *Node, dims []int) *Node {
	if slices.Equal(x.shape.Dimensions, dims) {
		return x
	}
	g := x.graph
	rankDiff := len(dims) - x.Rank()
	if rankDiff < 0 {
		xerrors.ThrowShapeMismatchf("%s: cannot broadcast %s to dimensions %v", opName, x.shape, dims)
	}
	broadcastAxes := make([]int, x.Rank())
	for ii := range broadcastAxes {
		broadcastAxes[ii] = rankDiff + ii
		dim := x.shape.Dimensions[ii]
		if dim != 1 && dim != dims[rankDiff+ii] {
			xerrors.ThrowShapeMismatchf("%s: cannot broadcast %s to dimensions %v", opName, x.shape, dims)
		}
	}
	target := shapes.Make(x.DType(), dims...)
	op := g.builder.BroadcastInDim(x.op, target, broadcastAxes)
	return g.newNode(backends.OpTypeBroadcastInDim, op, []*Node{x}, broadcastAxes)
}

// BroadcastToShape broadcasts x to the given shape, which must have x's
// DType. Axes are aligned from the right and must match or have dimension 1
// in x.
func BroadcastToShape(x *Node, shape shapes.Shape) *Node {
	_ = validateBuildingGraphFromInputs(x)
	if shape.DType != x.DType() {
		xerrors.ThrowShapeMismatchf("BroadcastToShape: x has dtype %s, target shape %s", x.DType(), shape)
	}
	return broadcastToDims("BroadcastToShape", x, shape.Dimensions)
}

// BroadcastToDims broadcasts x to the given dimensions, aligning its axes
// from the right.
func BroadcastToDims(x *Node, dimensions ...int) *Node {
	_ = validateBuildingGraphFromInputs(x)
	return broadcastToDims("BroadcastToDims", x, dimensions)
}

// broadcastForBinaryOp broadcasts both operands of a binary operation to
// their common dimensions, checking their dtypes match.
func broadcastForBinaryOp(opName string, x, y *Node) (*Node, *Node) {
	if x.DType() != y.DType() {
		xerrors.ThrowShapeMismatchf("%s: operands have different dtypes: %s and %s",
			opName, x.shape, y.shape)
	}
	if x.shape.EqualDimensions(y.shape) {
		return x, y
	}
	dims := broadcastDimensions(opName, x.shape, y.shape)
	return broadcastToDims(opName, x, dims), broadcastToDims(opName, y, dims)
}

// Neg returns the element-wise negation of x.
func Neg(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return g.newNode(backends.OpTypeNeg, g.builder.Neg(x.op), []*Node{x}, nil)
}

// Abs returns the element-wise absolute value of x.
func Abs(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return g.newNode(backends.OpTypeAbs, g.builder.Abs(x.op), []*Node{x}, nil)
}

// Exp returns e raised to the power of each element of x.
func Exp(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return g.newNode(backends.OpTypeExp, g.builder.Exp(x.op), []*Node{x}, nil)
}

// Log returns the element-wise natural logarithm of x.
func Log(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return g.newNode(backends.OpTypeLog, g.builder.Log(x.op), []*Node{x}, nil)
}

// Sqrt returns the element-wise square root of x.
func Sqrt(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return g.newNode(backends.OpTypeSqrt, g.builder.Sqrt(x.op), []*Node{x}, nil)
}

// Tanh returns the element-wise hyperbolic tangent of x.
func Tanh(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return g.newNode(backends.OpTypeTanh, g.builder.Tanh(x.op), []*Node{x}, nil)
}

// ConvertDType converts x to the given dtype. It is a no-op if x already has
// it.
func ConvertDType(x *Node, dtype dtypes.DType) *Node {
	g := validateBuildingGraphFromInputs(x)
	if x.DType() == dtype {
		return x
	}
	return g.newNode(backends.OpTypeConvertDType, g.builder.ConvertDType(x.op, dtype), []*Node{x}, nil)
}

// StopGradient returns a node with the same value as x through which no
// gradient flows during reverse-mode differentiation.
func StopGradient(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	node := g.newNode(x.opType, x.op, []*Node{x}, nil)
	node.stopGradient = true
	return node
}

// Add returns the element-wise sum of x and y, broadcasting the operands
// following NumPy rules: dimensions are aligned from the right and
// dimension-1 axes stretch to match the other operand. The same broadcasting
// applies to all binary operations.
func Add(x, y *Node) *Node {
	_ = validateBuildingGraphFromInputs(x, y)
	x, y = broadcastForBinaryOp("Add", x, y)
	g := x.graph
	return g.newNode(backends.OpTypeAdd, g.builder.Add(x.op, y.op), []*Node{x, y}, nil)
}

// Sub returns the element-wise subtraction x-y, with broadcasting.
func Sub(x, y *Node) *Node {
	_ = validateBuildingGraphFromInputs(x, y)
	x, y = broadcastForBinaryOp("Sub", x, y)
	g := x.graph
	return g.newNode(backends.OpTypeSub, g.builder.Sub(x.op, y.op), []*Node{x, y}, nil)
}

// Mul returns the element-wise multiplication of x and y, with broadcasting.
func Mul(x, y *Node) *Node {
	_ = validateBuildingGraphFromInputs(x, y)
	x, y = broadcastForBinaryOp("Mul", x, y)
	g := x.graph
	return g.newNode(backends.OpTypeMul, g.builder.Mul(x.op, y.op), []*Node{x, y}, nil)
}

// Div returns the element-wise division x/y, with broadcasting.
func Div(x, y *Node) *Node {
	_ = validateBuildingGraphFromInputs(x, y)
	x, y = broadcastForBinaryOp("Div", x, y)
	g := x.graph
	return g.newNode(backends.OpTypeDiv, g.builder.Div(x.op, y.op), []*Node{x, y}, nil)
}

// Pow returns element-wise x raised to the power of y, with broadcasting.
func Pow(x, y *Node) *Node {
	_ = validateBuildingGraphFromInputs(x, y)
	x, y = broadcastForBinaryOp("Pow", x, y)
	g := x.graph
	return g.newNode(backends.OpTypePow, g.builder.Pow(x.op, y.op), []*Node{x, y}, nil)
}

// Max returns the element-wise maximum of x and y, with broadcasting.
func Max(x, y *Node) *Node {
	_ = validateBuildingGraphFromInputs(x, y)
	x, y = broadcastForBinaryOp("Max", x, y)
	g := x.graph
	return g.newNode(backends.OpTypeMax, g.builder.Max(x.op, y.op), []*Node{x, y}, nil)
}

// Min returns the element-wise minimum of x and y, with broadcasting.
func Min(x, y *Node) *Node {
	_ = validateBuildingGraphFromInputs(x, y)
	x, y = broadcastForBinaryOp("Min", x, y)
	g := x.graph
	return g.newNode(backends.OpTypeMin, g.builder.Min(x.op, y.op), []*Node{x, y}, nil)
}

// Equal returns the element-wise x == y comparison, with dtype Bool and
// broadcasting.
func Equal(x, y *Node) *Node {
	_ = validateBuildingGraphFromInputs(x, y)
	x, y = broadcastForBinaryOp("Equal", x, y)
	g := x.graph
	return g.newNode(backends.OpTypeEqual, g.builder.Equal(x.op, y.op), []*Node{x, y}, nil)
}

// GreaterThan returns the element-wise x > y comparison, with dtype Bool and
// broadcasting.
func GreaterThan(x, y *Node) *Node {
	_ = validateBuildingGraphFromInputs(x, y)
	x, y = broadcastForBinaryOp("GreaterThan", x, y)
	g := x.graph
	return g.newNode(backends.OpTypeGreaterThan, g.builder.GreaterThan(x.op, y.op), []*Node{x, y}, nil)
}

// GreaterOrEqual returns the element-wise x >= y comparison, with dtype Bool
// and broadcasting.
func GreaterOrEqual(x, y *Node) *Node {
	_ = validateBuildingGraphFromInputs(x, y)
	x, y = broadcastForBinaryOp("GreaterOrEqual", x, y)
	g := x.graph
	return g.newNode(backends.OpTypeGreaterOrEqual, g.builder.GreaterOrEqual(x.op, y.op), []*Node{x, y}, nil)
}

// LessThan returns the element-wise x < y comparison, with dtype Bool and
// broadcasting.
func LessThan(x, y *Node) *Node {
	return GreaterThan(y, x)
}

// LessOrEqual returns the element-wise x <= y comparison, with dtype Bool
// and broadcasting.
func LessOrEqual(x, y *Node) *Node {
	return GreaterOrEqual(y, x)
}

// Where returns element-wise onTrue or onFalse depending on the Bool tensor
// condition. The three operands are broadcast to their common dimensions:
// in particular condition, onTrue or onFalse can be scalars.
func Where(condition, onTrue, onFalse *Node) *Node {
	g := validateBuildingGraphFromInputs(condition, onTrue, onFalse)
	if condition.DType() != dtypes.Bool {
		xerrors.ThrowInvalidParamf("Where: condition must be Bool, got %s", condition.shape)
	}
	if onTrue.DType() != onFalse.DType() {
		xerrors.ThrowShapeMismatchf("Where: onTrue (%s) and onFalse (%s) have different dtypes",
			onTrue.shape, onFalse.shape)
	}
	dims := broadcastDimensions("Where", condition.shape, onTrue.shape)
	dims = broadcastDimensions("Where", shapes.Make(onTrue.DType(), dims...), onFalse.shape)
	condition = broadcastToDims("Where", condition, dims)
	onTrue = broadcastToDims("Where", onTrue, dims)
	onFalse = broadcastToDims("Where", onFalse, dims)
	op := g.builder.Where(condition.op, onTrue.op, onFalse.op)
	return g.newNode(backends.OpTypeWhere, op, []*Node{condition, onTrue, onFalse}, nil)
}

// Reshape x to the given dimensions, which must preserve the total size. At
// most one dimension can be -1, in which case it is inferred from the
// others.
func Reshape(x *Node, dimensions ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	dims := xslices.Copy(dimensions)
	inferAxis := -1
	known := 1
	for axis, dim := range dims {
		switch {
		case dim == -1:
			if inferAxis >= 0 {
				xerrors.ThrowInvalidShapef("Reshape: more than one -1 dimension in %v", dimensions)
			}
			inferAxis = axis
		case dim <= 0:
			xerrors.ThrowInvalidShapef("Reshape: invalid dimension %d in %v", dim, dimensions)
		default:
			known *= dim
		}
	}
	if inferAxis >= 0 {
		if x.shape.Size()%known != 0 {
			xerrors.ThrowInvalidShapef("Reshape: cannot infer -1 dimension reshaping %s to %v",
				x.shape, dimensions)
		}
		dims[inferAxis] = x.shape.Size() / known
	}
	return g.newNode(backends.OpTypeReshape, g.builder.Reshape(x.op, dims...), []*Node{x}, nil)
}

// ReshapeWithShape reshapes x to the given shape, which must have the same
// DType and total size.
func ReshapeWithShape(x *Node, shape shapes.Shape) *Node {
	g := validateBuildingGraphFromInputs(x)
	if shape.DType != x.DType() {
		xerrors.ThrowShapeMismatchf("ReshapeWithShape: x has dtype %s, target shape %s", x.DType(), shape)
	}
	op := g.builder.Reshape(x.op, shape.Dimensions...)
	return g.newNode(backends.OpTypeReshape, op, []*Node{x}, nil)
}

// ExpandAxes returns x reshaped with new axes of dimension 1 inserted at the
// given positions of the resulting shape. Axes can be negative, counting
// from the end of the resulting shape: ExpandAxes(x, -1) appends one axis.
func ExpandAxes(x *Node, axes ...int) *Node {
	_ = validateBuildingGraphFromInputs(x)
	newRank := x.Rank() + len(axes)
	taken := make([]bool, newRank)
	for _, axis := range axes {
		adjusted := adjustAxis("ExpandAxes", axis, newRank)
		if taken[adjusted] {
			xerrors.ThrowInvalidParamf("ExpandAxes: axis %d given more than once", adjusted)
		}
		taken[adjusted] = true
	}
	dims := make([]int, 0, newRank)
	next := 0
	for axis := 0; axis < newRank; axis++ {
		if taken[axis] {
			dims = append(dims, 1)
		} else {
			dims = append(dims, x.shape.Dimensions[next])
			next++
		}
	}
	return Reshape(x, dims...)
}

// Transpose permutes the axes of x: axis i of the result comes from axis
// permutation[i] of x. The permutation must have exactly one value per axis.
func Transpose(x *Node, permutation ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	perm := make([]int, len(permutation))
	for ii, axis := range permutation {
		perm[ii] = adjustAxis("Transpose", axis, x.Rank())
	}
	op := g.builder.Transpose(x.op, perm...)
	return g.newNode(backends.OpTypeTranspose, op, []*Node{x}, perm)
}

// Iota creates a tensor of the given shape whose values along the iotaAxis
// are 0, 1, 2, ..., repeated over the other axes.
func Iota(g *Graph, shape shapes.Shape, iotaAxis int) *Node {
	g.AssertBuilding()
	axis := adjustAxis("Iota", iotaAxis, shape.Rank())
	return g.newNode(backends.OpTypeIota, g.builder.Iota(shape, axis), nil, axis)
}

// IotaFull creates a tensor of the given shape with the values
// 0, 1, 2, ... in row-major order.
func IotaFull(g *Graph, shape shapes.Shape) *Node {
	g.AssertBuilding()
	flat := Iota(g, shapes.Make(shape.DType, shape.Size()), 0)
	return ReshapeWithShape(flat, shape)
}

// ReduceSum sums x over the given axes, which are removed from the shape.
// Negative axes count from the end. No axes means reduce over all of them,
// yielding a scalar.
func ReduceSum(x *Node, reduceAxes ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	axes := normalizeAxes("ReduceSum", reduceAxes, x.Rank())
	op := g.builder.ReduceSum(x.op, axes...)
	return g.newNode(backends.OpTypeReduceSum, op, []*Node{x}, axes)
}

// ReduceAllSum sums all elements of x into a scalar.
func ReduceAllSum(x *Node) *Node {
	return ReduceSum(x)
}

// ReduceMax takes the maximum of x over the given axes, which are removed
// from the shape. No axes means reduce over all of them.
func ReduceMax(x *Node, reduceAxes ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	axes := normalizeAxes("ReduceMax", reduceAxes, x.Rank())
	op := g.builder.ReduceMax(x.op, axes...)
	return g.newNode(backends.OpTypeReduceMax, op, []*Node{x}, axes)
}

// ReduceAllMax takes the maximum over all elements of x, yielding a scalar.
func ReduceAllMax(x *Node) *Node {
	return ReduceMax(x)
}

// ReduceMean takes the mean of x over the given axes, which are removed from
// the shape. No axes means the mean over all of them. It requires a float
// dtype.
func ReduceMean(x *Node, reduceAxes ...int) *Node {
	_ = validateBuildingGraphFromInputs(x)
	axes := normalizeAxes("ReduceMean", reduceAxes, x.Rank())
	count := 1
	if len(axes) == 0 {
		count = x.shape.Size()
	} else {
		for _, axis := range axes {
			count *= x.shape.Dimensions[axis]
		}
	}
	return DivScalar(ReduceSum(x, axes...), float64(count))
}

// ReduceAllMean takes the mean over all elements of x, yielding a scalar.
func ReduceAllMean(x *Node) *Node {
	return ReduceMean(x)
}

// ReduceAndKeep applies the given reduction (ReduceSum, ReduceMax or
// ReduceMean) over the given axes, but keeps the reduced axes with dimension
// 1, so the result broadcasts against x.
func ReduceAndKeep(x *Node, reduceFn func(x *Node, reduceAxes ...int) *Node, reduceAxes ...int) *Node {
	_ = validateBuildingGraphFromInputs(x)
	axes := normalizeAxes("ReduceAndKeep", reduceAxes, x.Rank())
	if len(axes) == 0 {
		axes = xslices.Iota(0, x.Rank())
	}
	reduced := reduceFn(x, axes...)
	return ReshapeWithShape(reduced, keepDimsShape(x.shape, axes))
}

// ArgMax returns the index of the maximum value of x along the given axis,
// which is removed from the shape. Ties resolve to the lowest index. The
// output dtype defaults to Int32.
func ArgMax(x *Node, axis int, outputDType ...dtypes.DType) *Node {
	g := validateBuildingGraphFromInputs(x)
	dtype := dtypes.Int32
	if len(outputDType) > 1 {
		Panicf("ArgMax takes at most one outputDType, got %d", len(outputDType))
	} else if len(outputDType) == 1 {
		dtype = outputDType[0]
	}
	adjusted := adjustAxis("ArgMax", axis, x.Rank())
	op := g.builder.ArgMax(x.op, adjusted, dtype)
	return g.newNode(backends.OpTypeArgMax, op, []*Node{x}, adjusted)
}

// MatMul returns the matrix product of x, shaped [batch, inputDim], and
// weights, shaped [inputDim, outputDim]: the result is [batch, outputDim].
//
// It is assembled as a pointwise (1x1 kernel) convolution, which performs
// the same contraction.
func MatMul(x, weights *Node) *Node {
	_ = validateBuildingGraphFromInputs(x, weights)
	if x.DType() != weights.DType() {
		xerrors.ThrowShapeMismatchf("MatMul: operands have different dtypes: %s and %s",
			x.shape, weights.shape)
	}
	if x.Rank() != 2 || weights.Rank() != 2 {
		xerrors.ThrowShapeMismatchf("MatMul: operands must be rank-2, got %s and %s",
			x.shape, weights.shape)
	}
	if x.shape.Dimensions[1] != weights.shape.Dimensions[0] {
		xerrors.ThrowShapeMismatchf("MatMul: inner dimensions do not match: %s and %s",
			x.shape, weights.shape)
	}
	batchSize, inputDim := x.shape.Dimensions[0], x.shape.Dimensions[1]
	outputDim := weights.shape.Dimensions[1]
	lhs := Reshape(x, batchSize, 1, 1, inputDim)
	kernel := Reshape(weights, 1, 1, inputDim, outputDim)
	output := ConvGeneral(lhs, kernel, []int{1, 1}, [][2]int{{0, 0}, {0, 0}}, []int{1, 1})
	return Reshape(output, batchSize, outputDim)
}

// convGeneralData records the geometry of a convolution, for its gradient.
type convGeneralData struct {
	strides   []int
	paddings  [][2]int
	dilations []int
}

// ConvGeneral computes the 2D convolution (correlation, no kernel mirroring)
// of input, shaped [batch, height, width, inChannels], with kernel, shaped
// [kernelHeight, kernelWidth, inChannels, outChannels]. The result is shaped
// [batch, outHeight, outWidth, outChannels].
//
// strides and dilations take one value per spatial axis, paddings one
// {low, high} pair per spatial axis. Dilations apply to the kernel.
func ConvGeneral(input, kernel *Node, strides []int, paddings [][2]int, dilations []int) *Node {
	g := validateBuildingGraphFromInputs(input, kernel)
	data := &convGeneralData{
		strides:   xslices.Copy(strides),
		paddings:  xslices.Copy(paddings),
		dilations: xslices.Copy(dilations),
	}
	op := g.builder.ConvGeneral(input.op, kernel.op, data.strides, data.paddings, data.dilations)
	return g.newNode(backends.OpTypeConvGeneral, op, []*Node{input, kernel}, data)
}

// reduceWindowData records the geometry of a windowed reduction, for its
// gradient.
type reduceWindowData struct {
	windowSizes []int
	strides     []int
	paddings    [][2]int
}

func newReduceWindowData(windowSizes, strides []int, paddings [][2]int) *reduceWindowData {
	return &reduceWindowData{
		windowSizes: xslices.Copy(windowSizes),
		strides:     xslices.Copy(strides),
		paddings:    xslices.Copy(paddings),
	}
}

// ReduceWindowMax takes the maximum of x over sliding windows. windowSizes,
// strides and paddings take one entry per axis of x: axes not being pooled
// take window 1, stride 1 and padding {0, 0}.
func ReduceWindowMax(x *Node, windowSizes, strides []int, paddings [][2]int) *Node {
	g := validateBuildingGraphFromInputs(x)
	data := newReduceWindowData(windowSizes, strides, paddings)
	op := g.builder.ReduceWindowMax(x.op, data.windowSizes, data.strides, data.paddings)
	return g.newNode(backends.OpTypeReduceWindowMax, op, []*Node{x}, data)
}

// ReduceWindowSum sums x over sliding windows. Parameters as in
// ReduceWindowMax.
func ReduceWindowSum(x *Node, windowSizes, strides []int, paddings [][2]int) *Node {
	g := validateBuildingGraphFromInputs(x)
	data := newReduceWindowData(windowSizes, strides, paddings)
	op := g.builder.ReduceWindowSum(x.op, data.windowSizes, data.strides, data.paddings)
	return g.newNode(backends.OpTypeReduceWindowSum, op, []*Node{x}, data)
}
