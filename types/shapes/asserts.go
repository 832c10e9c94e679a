// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/pkg/errors"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/types/xerrors"
)

// CheckDims checks that the shape has the given dimensions and rank. A value
// of UnknownDim (-1) in dimensions matches any value.
//
// It returns an error if the rank is different or if any of the dimensions
// don't match.
func (s Shape) CheckDims(dimensions ...int) error {
	if s.Rank() != len(dimensions) {
		return errors.Errorf("shape %s has rank %d, wanted rank %d", s, s.Rank(), len(dimensions))
	}
	for axis, wantDim := range dimensions {
		if wantDim != UnknownDim && s.Dimensions[axis] != wantDim {
			return errors.Errorf("shape %s axis %d has dimension %d, wanted %v", s, axis, s.Dimensions[axis], dimensions)
		}
	}
	return nil
}

// Check that the shape has the given dtype, dimensions and rank. A value of
// UnknownDim (-1) in dimensions matches any value.
func (s Shape) Check(dtype dtypes.DType, dimensions ...int) error {
	if dtype != s.DType {
		return errors.Errorf("shape %s has dtype %s, wanted %s", s, s.DType, dtype)
	}
	return s.CheckDims(dimensions...)
}

// AssertDims checks that the shape has the given dimensions and rank, with
// UnknownDim (-1) matching any value. It throws an xerrors.ShapeMismatchError
// if it doesn't match.
func (s Shape) AssertDims(dimensions ...int) {
	if err := s.CheckDims(dimensions...); err != nil {
		throwShapeMismatch("AssertDims(%v): %v", dimensions, err)
	}
}

// Assert checks that the shape has the given dtype, dimensions and rank, with
// UnknownDim (-1) matching any dimension. It throws an
// xerrors.ShapeMismatchError if it doesn't match.
func (s Shape) Assert(dtype dtypes.DType, dimensions ...int) {
	if err := s.Check(dtype, dimensions...); err != nil {
		throwShapeMismatch("Assert(%s, %v): %v", dtype, dimensions, err)
	}
}

// CheckRank checks that the shape has the given rank.
func (s Shape) CheckRank(rank int) error {
	if s.Rank() != rank {
		return errors.Errorf("shape %s has rank %d, wanted rank %d", s, s.Rank(), rank)
	}
	return nil
}

// AssertRank checks that the shape has the given rank. It throws an
// xerrors.ShapeMismatchError if it doesn't match.
func (s Shape) AssertRank(rank int) {
	if err := s.CheckRank(rank); err != nil {
		throwShapeMismatch("AssertRank(%d): %v", rank, err)
	}
}

// CheckScalar checks that the shape is a scalar.
func (s Shape) CheckScalar() error {
	if !s.IsScalar() {
		return errors.Errorf("shape %s is not a scalar", s)
	}
	return nil
}

// AssertScalar checks that the shape is a scalar. It throws an
// xerrors.ShapeMismatchError if it isn't.
func (s Shape) AssertScalar() {
	if err := s.CheckScalar(); err != nil {
		throwShapeMismatch("AssertScalar(): %v", err)
	}
}

func throwShapeMismatch(format string, args ...any) {
	xerrors.ThrowShapeMismatchf("shapes."+format, args...)
}

// CheckDims checks that shaped has the given dimensions and rank, with
// UnknownDim (-1) matching any value.
func CheckDims(shaped HasShape, dimensions ...int) error {
	return shaped.Shape().CheckDims(dimensions...)
}

// AssertDims checks that shaped has the given dimensions and rank, with
// UnknownDim (-1) matching any value. It throws an
// xerrors.ShapeMismatchError if it doesn't match.
func AssertDims(shaped HasShape, dimensions ...int) {
	shaped.Shape().AssertDims(dimensions...)
}

// Assert checks that shaped has the given dtype, dimensions and rank, with
// UnknownDim (-1) matching any dimension. It throws an
// xerrors.ShapeMismatchError if it doesn't match.
func Assert(shaped HasShape, dtype dtypes.DType, dimensions ...int) {
	shaped.Shape().Assert(dtype, dimensions...)
}

// CheckRank checks that shaped has the given rank.
func CheckRank(shaped HasShape, rank int) error {
	return shaped.Shape().CheckRank(rank)
}

// AssertRank checks that shaped has the given rank. It throws an
// xerrors.ShapeMismatchError if it doesn't match.
func AssertRank(shaped HasShape, rank int) {
	shaped.Shape().AssertRank(rank)
}

// CheckScalar checks that shaped is a scalar.
func CheckScalar(shaped HasShape) error {
	return shaped.Shape().CheckScalar()
}

// AssertScalar checks that shaped is a scalar. It throws an
// xerrors.ShapeMismatchError if it isn't.
func AssertScalar(shaped HasShape) {
	shaped.Shape().AssertScalar()
}
