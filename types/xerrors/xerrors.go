// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xerrors defines the error taxonomy shared across the stax packages,
// along with the helpers used to throw them during graph building.
//
// Model declaration and graph building code uses "exceptions" style error
// handling (see github.com/gomlx/exceptions): errors are thrown with panic and
// converted back to normal Go errors at the public API boundaries, with
// exceptions.TryCatch. This keeps the declaration code free of error plumbing
// while users still get ordinary errors that work with errors.As / errors.Is.
//
// The taxonomy:
//
//   - ShapeMismatchError: an input shape is incompatible with a layer or
//     operation at build or forward time.
//   - InvalidShapeError: a shape is malformed, or a computed dimension is
//     negative (e.g. a convolution kernel larger than its padded input).
//   - InvalidParameterError: a hyperparameter or argument is out of its legal
//     range (degenerate initializer bounds, non-positive batch size, ...).
//   - DuplicateVariableNameError: two variables registered under the same
//     scope and name.
//   - IllegalStateError: an operation called in the wrong lifecycle state
//     (compile before build, fit before compile, build called twice).
//   - ResourceClosedError: use of a model or backend after it was released.
package xerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ShapeMismatchError reports an input incompatible with what a layer or
// operation expects.
type ShapeMismatchError struct{ Msg string }

func (e *ShapeMismatchError) Error() string { return e.Msg }

// InvalidShapeError reports a malformed or impossible shape, such as a
// negative computed output length.
type InvalidShapeError struct{ Msg string }

func (e *InvalidShapeError) Error() string { return e.Msg }

// InvalidParameterError reports an argument or hyperparameter outside its
// legal range.
type InvalidParameterError struct{ Msg string }

func (e *InvalidParameterError) Error() string { return e.Msg }

// DuplicateVariableNameError reports a variable name collision within one
// scope.
type DuplicateVariableNameError struct{ Msg string }

func (e *DuplicateVariableNameError) Error() string { return e.Msg }

// IllegalStateError reports a lifecycle violation: an operation invoked in a
// state that does not allow it.
type IllegalStateError struct{ Msg string }

func (e *IllegalStateError) Error() string { return e.Msg }

// ResourceClosedError reports use of an already released resource.
type ResourceClosedError struct{ Msg string }

func (e *ResourceClosedError) Error() string { return e.Msg }

// throw panics with err wrapped with a stack trace. It pairs with
// exceptions.TryCatch[error] at the API boundaries.
func throw(err error) {
	panic(errors.WithStack(err))
}

// ThrowShapeMismatchf throws a ShapeMismatchError with a formatted message.
func ThrowShapeMismatchf(format string, args ...any) {
	throw(&ShapeMismatchError{Msg: fmt.Sprintf(format, args...)})
}

// ThrowInvalidShapef throws an InvalidShapeError with a formatted message.
func ThrowInvalidShapef(format string, args ...any) {
	throw(&InvalidShapeError{Msg: fmt.Sprintf(format, args...)})
}

// ThrowInvalidParamf throws an InvalidParameterError with a formatted message.
func ThrowInvalidParamf(format string, args ...any) {
	throw(&InvalidParameterError{Msg: fmt.Sprintf(format, args...)})
}

// ThrowDuplicateVariablef throws a DuplicateVariableNameError with a
// formatted message.
func ThrowDuplicateVariablef(format string, args ...any) {
	throw(&DuplicateVariableNameError{Msg: fmt.Sprintf(format, args...)})
}

// ThrowIllegalStatef throws an IllegalStateError with a formatted message.
func ThrowIllegalStatef(format string, args ...any) {
	throw(&IllegalStateError{Msg: fmt.Sprintf(format, args...)})
}

// ThrowResourceClosedf throws a ResourceClosedError with a formatted message.
func ThrowResourceClosedf(format string, args ...any) {
	throw(&ResourceClosedError{Msg: fmt.Sprintf(format, args...)})
}
