// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the combination of a DType and dimensions,
// used both for concrete tensors (see types/tensors) and for the expected
// values of computation graph nodes (see graph).
//
// A Shape may have at most one unknown dimension, the batch axis, denoted by
// UnknownDim (-1). Unknown dimensions exist only while declaring models and
// inferring layer output shapes: by the time a graph is built or a tensor is
// allocated the shape must be fully defined.
//
// Glossary:
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: the index of one dimension. Negative values count from the end,
//     so -1 refers to the last axis.
//   - Dimension: the size along one axis.
//   - DType: the data type of the unit element, from github.com/gomlx/gopjrt/dtypes.
//   - Scalar: a shape with rank 0, holding a single value.
//
// The multi-dimensional slice [][]int32{{0, 1, 2}, {3, 4, 5}} has shape
// (Int32)[2 3]: rank 2, dimension 2 on axis 0 and 3 on axis 1. It would be
// created with shapes.Make(dtypes.Int32, 2, 3).
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/types/xerrors"
)

// UnknownDim marks the one dimension of a Shape that is resolved only at
// execution time, usually the batch axis.
const UnknownDim = -1

// Shape of a tensor or computation graph node: a DType and the dimension of
// each axis.
//
// Use Make to create one; the zero value is invalid.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// HasShape accepts anything that can report its own Shape: tensors, graph
// nodes and Shape itself.
type HasShape interface {
	Shape() Shape
}

// Make returns a Shape with the given dimensions. No dimensions at all make
// a scalar shape.
//
// Dimensions must be positive, except that one of them may be UnknownDim.
// It throws (panics with) an xerrors.InvalidShapeError otherwise.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	unknown := 0
	for _, dim := range dimensions {
		if dim == UnknownDim {
			unknown++
			continue
		}
		if dim <= 0 {
			xerrors.ThrowInvalidShapef("shapes.Make(%s): dimensions must be positive (or one UnknownDim)", s)
		}
	}
	if unknown > 1 {
		xerrors.ThrowInvalidShapef("shapes.Make(%s): at most one dimension may be UnknownDim", s)
	}
	return s
}

// Scalar returns a rank-0 Shape for the given Go type.
func Scalar[T dtypes.Number]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Invalid returns an invalid shape: Invalid().Ok() == false.
func Invalid() Shape { return Shape{DType: dtypes.InvalidDType} }

// Ok returns whether this is a valid Shape. The zero value Shape{} is not.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape: the number of axes. Scalars have rank 0.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axis values count
// from the end: Dim(-1) is the last axis. Out-of-bounds axes throw an
// xerrors.InvalidParameterError.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		xerrors.ThrowInvalidParamf("Shape.Dim(%d): out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjusted]
}

// Shape returns itself, implementing HasShape.
func (s Shape) Shape() Shape { return s }

// String pretty-prints the shape, e.g. "(Float32)[-1 28 28 1]".
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// IsFullyDefined reports whether no dimension is UnknownDim.
func (s Shape) IsFullyDefined() bool {
	return !slices.Contains(s.Dimensions, UnknownDim)
}

// UnknownAxis returns the axis whose dimension is UnknownDim, or -1 if the
// shape is fully defined.
func (s Shape) UnknownAxis() int {
	return slices.Index(s.Dimensions, UnknownDim)
}

// WithBatch returns a copy of the shape with its unknown axis bound to dim.
// If the shape is already fully defined it returns an unmodified copy.
func (s Shape) WithBatch(dim int) Shape {
	s2 := s.Clone()
	if axis := s2.UnknownAxis(); axis >= 0 {
		s2.Dimensions[axis] = dim
	}
	return s2
}

// Size returns the number of elements the shape holds: the product of all
// dimensions. It is meaningless if the shape is not fully defined.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the bytes needed to store a tensor of this shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return s.EqualDimensions(s2)
}

// EqualDimensions compares dimensions only; dtypes may differ.
func (s Shape) EqualDimensions(s2 Shape) bool {
	if s.Rank() != s2.Rank() {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// AssertFullyDefined throws an xerrors.InvalidShapeError if any dimension is
// still unknown. msgFmt and args describe the caller for the error message.
func (s Shape) AssertFullyDefined(msgFmt string, args ...any) {
	if !s.IsFullyDefined() {
		xerrors.ThrowInvalidShapef("%s: shape %s must be fully defined", fmt.Sprintf(msgFmt, args...), s)
	}
}
