// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
	"github.com/gomlx/stax/types/xslices"
)

// This file contains derived operations, assembled from the ones in ops.go.

// Const creates a constant node from a Go value: a *tensors.Tensor, a scalar
// or nested slices (see tensors.FromAnyValue).
func Const(g *Graph, value any) *Node {
	g.AssertBuilding()
	return newConstNode(g, tensors.FromAnyValue(value))
}

func newConstNode(g *Graph, t *tensors.Tensor) *Node {
	var op backends.Op
	t.ConstFlatData(func(flat any) {
		op = g.builder.Constant(flat, t.Shape().Dimensions...)
	})
	return g.newNode(backends.OpTypeConstant, op, nil, nil)
}

// Scalar returns a constant scalar with the given value, converted to dtype.
// Scalars are cached in the graph: repeated values reuse the same node. The
// cache is keyed by the value converted to float64, which may lose precision
// for very large integers; use Const for those.
func Scalar[N dtypes.NumberNotComplex](g *Graph, dtype dtypes.DType, value N) *Node {
	g.AssertBuilding()
	key := scalarKey{dtype: dtype, value: float64(value)}
	if node, found := g.scalars[key]; found {
		return node
	}
	node := newConstNode(g, scalarTensor(dtype, key.value))
	g.scalars[key] = node
	return node
}

// scalarTensor converts value to a scalar tensor of the given dtype.
func scalarTensor(dtype dtypes.DType, value float64) *tensors.Tensor {
	switch dtype {
	case dtypes.Bool:
		return tensors.FromScalar(value != 0)
	case dtypes.Int8:
		return tensors.FromScalar(int8(value))
	case dtypes.Int16:
		return tensors.FromScalar(int16(value))
	case dtypes.Int32:
		return tensors.FromScalar(int32(value))
	case dtypes.Int64:
		return tensors.FromScalar(int64(value))
	case dtypes.Uint8:
		return tensors.FromScalar(uint8(value))
	case dtypes.Uint16:
		return tensors.FromScalar(uint16(value))
	case dtypes.Uint32:
		return tensors.FromScalar(uint32(value))
	case dtypes.Uint64:
		return tensors.FromScalar(uint64(value))
	case dtypes.Float16:
		return tensors.FromScalar(float16.Fromfloat32(float32(value)))
	case dtypes.BFloat16:
		return tensors.FromScalar(bfloat16.FromFloat32(float32(value)))
	case dtypes.Float32:
		return tensors.FromScalar(float32(value))
	case dtypes.Float64:
		return tensors.FromScalar(value)
	}
	Panicf("unsupported dtype %s for a scalar constant", dtype)
	return nil
}

// ScalarZero returns the scalar constant 0 for the given dtype.
func ScalarZero(g *Graph, dtype dtypes.DType) *Node {
	return Scalar(g, dtype, 0)
}

// ScalarOne returns the scalar constant 1 for the given dtype.
func ScalarOne(g *Graph, dtype dtypes.DType) *Node {
	return Scalar(g, dtype, 1)
}

// FillScalar creates a node of the given shape filled with the given value.
func FillScalar(g *Graph, shape shapes.Shape, value float64) *Node {
	return broadcastToDims("FillScalar", Scalar(g, shape.DType, value), shape.Dimensions)
}

// Zeros creates a node of the given shape filled with 0.
func Zeros(g *Graph, shape shapes.Shape) *Node {
	return FillScalar(g, shape, 0)
}

// ZerosLike returns a node with the same shape as x, filled with 0.
func ZerosLike(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Zeros(g, x.shape)
}

// Ones creates a node of the given shape filled with 1.
func Ones(g *Graph, shape shapes.Shape) *Node {
	return FillScalar(g, shape, 1)
}

// OnesLike returns a node with the same shape as x, filled with 1.
func OnesLike(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Ones(g, x.shape)
}

// OneMinus returns 1-x.
func OneMinus(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Sub(ScalarOne(g, x.DType()), x)
}

// MinusOne returns x-1.
func MinusOne(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Sub(x, ScalarOne(g, x.DType()))
}

// Inverse returns 1/x, the multiplicative inverse.
func Inverse(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Div(ScalarOne(g, x.DType()), x)
}

// AddScalar converts scalar to a constant with x's dtype and returns
// x + scalar, with broadcasting.
func AddScalar[N dtypes.NumberNotComplex](x *Node, scalar N) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Add(x, Scalar(g, x.DType(), scalar))
}

// MulScalar converts scalar to a constant with x's dtype and returns
// x * scalar, with broadcasting.
func MulScalar[N dtypes.NumberNotComplex](x *Node, scalar N) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Mul(x, Scalar(g, x.DType(), scalar))
}

// DivScalar converts scalar to a constant with x's dtype and returns
// x / scalar, with broadcasting. For float dtypes it multiplies by 1/scalar
// instead.
func DivScalar[N dtypes.NumberNotComplex](x *Node, scalar N) *Node {
	g := validateBuildingGraphFromInputs(x)
	if scalar == 0 {
		Panicf("division by zero in DivScalar")
	}
	if x.DType().IsFloat() {
		return MulScalar(x, 1.0/float64(scalar))
	}
	return Div(x, Scalar(g, x.DType(), scalar))
}

// PowScalar converts scalar to a constant with x's dtype and returns
// Pow(x, scalar), with broadcasting.
func PowScalar[N dtypes.NumberNotComplex](x *Node, scalar N) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Pow(x, Scalar(g, x.DType(), scalar))
}

// MaxScalar converts scalar to a constant with x's dtype and returns the
// element-wise Max(x, scalar).
func MaxScalar[N dtypes.NumberNotComplex](x *Node, scalar N) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Max(x, Scalar(g, x.DType(), scalar))
}

// MinScalar converts scalar to a constant with x's dtype and returns the
// element-wise Min(x, scalar).
func MinScalar[N dtypes.NumberNotComplex](x *Node, scalar N) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Min(x, Scalar(g, x.DType(), scalar))
}

// Square returns x*x, element-wise.
func Square(x *Node) *Node {
	return Mul(x, x)
}

// Clip returns the values of x clipped between min and max. It is a shortcut
// to Min(max, Max(x, min)).
func Clip(x, min, max *Node) *Node {
	return Min(max, Max(x, min))
}

// ClipScalar returns the values of x clipped between the scalars min and
// max, converted to x's dtype.
func ClipScalar(x *Node, min, max float64) *Node {
	return MinScalar(MaxScalar(x, min), max)
}

// Sign returns -1, 0 or +1 with the sign of each element of x, with x's
// dtype.
func Sign(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	dtype := x.DType()
	zero := ScalarZero(g, dtype)
	negative := Where(GreaterThan(zero, x), Scalar(g, dtype, -1), zero)
	return Where(GreaterThan(x, zero), ScalarOne(g, dtype), negative)
}

// NonNegativeIndicator returns 1 where x >= 0, 0 otherwise, with x's dtype.
func NonNegativeIndicator(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	dtype := x.DType()
	return Where(GreaterOrEqual(x, ScalarZero(g, dtype)), ScalarOne(g, dtype), ScalarZero(g, dtype))
}

// PositiveIndicator returns 1 where x > 0, 0 otherwise, with x's dtype.
func PositiveIndicator(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	dtype := x.DType()
	return Where(GreaterThan(x, ScalarZero(g, dtype)), ScalarOne(g, dtype), ScalarZero(g, dtype))
}

// L2Norm returns the Euclidean norm of x over all its elements, a scalar.
func L2Norm(x *Node) *Node {
	return Sqrt(ReduceAllSum(Square(x)))
}

// OneHot converts an integer tensor of indices to a one-hot representation:
// one extra axis of the given depth is appended, with 1 at the position of
// each index and 0 elsewhere, in the given dtype.
func OneHot(indices *Node, depth int, dtype dtypes.DType) *Node {
	g := validateBuildingGraphFromInputs(indices)
	if !indices.DType().IsInt() {
		xerrors.ThrowInvalidParamf("OneHot: indices must be an integer dtype, got %s", indices.shape)
	}
	if depth <= 0 {
		xerrors.ThrowInvalidParamf("OneHot: depth must be positive, got %d", depth)
	}
	dims := append(xslices.Copy(indices.shape.Dimensions), depth)
	positions := Iota(g, shapes.Make(indices.DType(), dims...), -1)
	return ConvertDType(Equal(ExpandAxes(indices, -1), positions), dtype)
}

// Sigmoid returns 1/(1+exp(-x)), element-wise. It is computed as
// 0.5*tanh(x/2) + 0.5, which is numerically stable on both tails.
func Sigmoid(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	half := Scalar(g, x.DType(), 0.5)
	return Add(Mul(half, Tanh(Mul(half, x))), half)
}

// Softmax computes exp(x)/sum(exp(x)) over the given axes, the last one if
// none is given. The logits are shifted by their (gradient-stopped) max
// before exponentiation, so large values do not overflow.
func Softmax(logits *Node, axes ...int) *Node {
	_ = validateBuildingGraphFromInputs(logits)
	if !logits.DType().IsFloat() {
		xerrors.ThrowInvalidParamf("Softmax: logits must be float, got %s", logits.shape)
	}
	if len(axes) == 0 {
		axes = []int{-1}
	}
	normalized := Sub(logits, StopGradient(ReduceAndKeep(logits, ReduceMax, axes...)))
	numerator := Exp(normalized)
	denominator := ReduceAndKeep(numerator, ReduceSum, axes...)
	return Div(numerator, denominator)
}

// LogSoftmax computes the logarithm of Softmax over the given axes, the last
// one if none is given, in a numerically stable fashion.
func LogSoftmax(logits *Node, axes ...int) *Node {
	_ = validateBuildingGraphFromInputs(logits)
	if !logits.DType().IsFloat() {
		xerrors.ThrowInvalidParamf("LogSoftmax: logits must be float, got %s", logits.shape)
	}
	if len(axes) == 0 {
		axes = []int{-1}
	}
	normalized := Sub(logits, StopGradient(ReduceAndKeep(logits, ReduceMax, axes...)))
	logSumExp := Log(ReduceAndKeep(Exp(normalized), ReduceSum, axes...))
	return Sub(normalized, logSumExp)
}
