// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements the host-resident multidimensional arrays
// exchanged with the computation graph: model inputs, labels, predictions
// and variable values.
//
// A Tensor pairs a shapes.Shape with a flat slice of the corresponding Go
// type, laid out row-major. Create them with FromValue, FromFlatDataAndDimensions,
// FromScalarAndDimensions or FromShape; access the data with the generic
// ConstFlatData/MutableFlatData/CopyFlatData functions or their non-generic
// method counterparts.
//
// float16 values use github.com/x448/float16 and bfloat16 values use
// github.com/gomlx/gopjrt/dtypes/bfloat16.
package tensors

import (
	"fmt"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/xslices"
)

// Supported lists the Go types a Tensor can hold. Plain int/uint are not
// supported: use explicitly sized types.
type Supported interface {
	bool |
		int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float16.Float16 | bfloat16.BFloat16 | float32 | float64
}

// Tensor is a host-resident value of a given Shape. The zero value is
// invalid; use one of the From* constructors.
type Tensor struct {
	shape shapes.Shape
	flat  any // slice of shape.DType's Go type, len == shape.Size()
}

// FromShape returns a Tensor of the given shape with zero-initialized data.
// The shape must be fully defined.
func FromShape(shape shapes.Shape) *Tensor {
	shape.AssertFullyDefined("tensors.FromShape")
	flat := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	return &Tensor{shape: shape, flat: flat.Interface()}
}

// FromScalar returns a scalar Tensor holding value; the DType is inferred
// from the Go type.
func FromScalar[T Supported](value T) *Tensor {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions returns a Tensor of the given dimensions with
// every element set to value.
func FromScalarAndDimensions[T Supported](value T, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtypes.FromGenericsType[T](), dimensions...))
	xslices.FillSlice(t.flat.([]T), value)
	return t
}

// FromFlatDataAndDimensions returns a Tensor of the given dimensions filled
// with a copy of the row-major data.
func FromFlatDataAndDimensions[T Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions(%s): data has %d elements, shape needs %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	copy(t.flat.([]T), data)
	return t
}

// FromValue converts a scalar or (nested) slice Go value to a Tensor. All
// sub-slices at the same nesting level must have the same length.
//
// FromFlatDataAndDimensions is faster when speed matters.
func FromValue(value any) *Tensor {
	shape := shapeForValue(value)
	t := FromShape(shape)
	flatV := reflect.ValueOf(t.flat)
	if shape.IsScalar() {
		// Go int maps to dtype Int64, so the value may need converting.
		flatV.Index(0).Set(reflect.ValueOf(value).Convert(flatV.Type().Elem()))
		return t
	}
	copySlicesRecursively(flatV, reflect.ValueOf(value), t.LayoutStrides())
	return t
}

// FromAnyValue is like FromValue, except it passes through values that are
// already a *Tensor.
func FromAnyValue(value any) *Tensor {
	if t, ok := value.(*Tensor); ok {
		return t
	}
	return FromValue(value)
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar reports whether the tensor holds a single value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size is the number of elements stored.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory used by the tensor data, in bytes.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// LayoutStrides returns the row-major strides for each axis.
func (t *Tensor) LayoutStrides() (strides []int) {
	rank := t.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= t.shape.Dimensions[axis]
	}
	return
}

// ConstFlatData calls accessFn with the tensor's flat data slice. The slice
// is the backing store: accessFn must not modify it.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the tensor's flat data slice, which
// may be modified in place.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// ConstFlatData gives accessFn read access to the tensor's flat data as []T.
// It panics if T does not match the tensor's DType.
func ConstFlatData[T Supported](t *Tensor, accessFn func(flat []T)) {
	accessFn(flatAs[T](t))
}

// MutableFlatData gives accessFn access to the tensor's flat data as []T for
// in-place mutation. It panics if T does not match the tensor's DType.
func MutableFlatData[T Supported](t *Tensor, accessFn func(flat []T)) {
	accessFn(flatAs[T](t))
}

// CopyFlatData returns a copy of the tensor's flat data as []T.
func CopyFlatData[T Supported](t *Tensor) []T {
	return xslices.Copy(flatAs[T](t))
}

// ToScalar returns the value of a scalar (or single-element) tensor.
func ToScalar[T Supported](t *Tensor) T {
	flat := flatAs[T](t)
	if len(flat) != 1 {
		exceptions.Panicf("tensors.ToScalar: tensor shaped %s has %d elements", t.shape, len(flat))
	}
	return flat[0]
}

func flatAs[T Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		var dummy T
		exceptions.Panicf("tensor holds %s data, accessed as %T", t.shape.DType, dummy)
	}
	return flat
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t2 := FromShape(t.shape)
	reflect.Copy(reflect.ValueOf(t2.flat), reflect.ValueOf(t.flat))
	return t2
}

// Value returns the tensor data as a Go value: a scalar for rank 0, and
// (nested) slices otherwise.
func (t *Tensor) Value() any {
	flatV := reflect.ValueOf(t.flat)
	if t.IsScalar() {
		return flatV.Index(0).Interface()
	}
	return convertDataToSlices(flatV, t.shape.Dimensions...).Interface()
}

// Equal reports whether both tensors have the same shape and identical
// values.
func (t *Tensor) Equal(other *Tensor) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	return reflect.DeepEqual(t.flat, other.flat)
}

// InDelta reports whether both tensors have the same shape and every element
// differs by at most delta. It requires a float DType.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	a, err := t.floats()
	if err != nil {
		return false
	}
	b, _ := other.floats()
	for ii := range a {
		diff := a[ii] - b[ii]
		if diff < -delta || diff > delta {
			return false
		}
	}
	return true
}

func (t *Tensor) floats() ([]float64, error) {
	switch flat := t.flat.(type) {
	case []float32:
		return xslices.Map(flat, func(v float32) float64 { return float64(v) }), nil
	case []float64:
		return xslices.Copy(flat), nil
	case []float16.Float16:
		return xslices.Map(flat, func(v float16.Float16) float64 { return float64(v.Float32()) }), nil
	case []bfloat16.BFloat16:
		return xslices.Map(flat, func(v bfloat16.BFloat16) float64 { return float64(v.Float32()) }), nil
	}
	return nil, errors.Errorf("tensor dtype %s is not a float type", t.shape.DType)
}

// maxStringSize is the limit of elements printed by String.
const maxStringSize = 100

// String prints the shape and, for small tensors, the values.
func (t *Tensor) String() string {
	if t.Size() > maxStringSize {
		return fmt.Sprintf("%s: (... %d values ...)", t.shape, t.Size())
	}
	return fmt.Sprintf("%s: %v", t.shape, t.Value())
}

// shapeForValue infers the Shape of a scalar or nested Go slice.
func shapeForValue(value any) shapes.Shape {
	dims, baseT := []int(nil), reflect.TypeOf(value)
	v := reflect.ValueOf(value)
	for baseT.Kind() == reflect.Slice {
		dims = append(dims, v.Len())
		if v.Len() == 0 {
			exceptions.Panicf("tensors.FromValue: empty slice at nesting level %d", len(dims))
		}
		v = v.Index(0)
		baseT = baseT.Elem()
	}
	dtype := dtypes.FromGoType(baseT)
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("tensors.FromValue: unsupported element type %s", baseT)
	}
	shape := shapes.Make(dtype, dims...)
	checkRegular(reflect.ValueOf(value), dims)
	return shape
}

// checkRegular verifies all sub-slices at each level have the same length.
func checkRegular(v reflect.Value, dims []int) {
	if len(dims) == 0 {
		return
	}
	if v.Len() != dims[0] {
		exceptions.Panicf("tensors.FromValue: irregular slice lengths, got %d, want %d", v.Len(), dims[0])
	}
	for ii := 0; ii < v.Len(); ii++ {
		checkRegular(v.Index(ii), dims[1:])
	}
}

func copySlicesRecursively(data reflect.Value, mdSlice reflect.Value, strides []int) {
	if len(strides) == 1 {
		elemT := data.Type().Elem()
		if mdSlice.Type().Elem() == elemT {
			reflect.Copy(data, mdSlice)
		} else {
			// Source elements need converting, e.g. []int to []int64.
			for ii := 0; ii < mdSlice.Len(); ii++ {
				data.Index(ii).Set(mdSlice.Index(ii).Convert(elemT))
			}
		}
		return
	}
	stride := strides[0]
	for ii := 0; ii < mdSlice.Len(); ii++ {
		start := ii * stride
		copySlicesRecursively(data.Slice(start, start+stride), mdSlice.Index(ii), strides[1:])
	}
}

func convertDataToSlices(dataV reflect.Value, dimensions ...int) reflect.Value {
	if len(dimensions) <= 1 {
		return dataV
	}
	resultT := dataV.Type().Elem()
	for range dimensions {
		resultT = reflect.SliceOf(resultT)
	}
	strides := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dimensions[axis]
	}
	return createSlicesRecursively(resultT, dataV, dimensions, strides)
}

func createSlicesRecursively(resultT reflect.Type, data reflect.Value, dimensions []int, strides []int) reflect.Value {
	if len(dimensions) == 1 {
		return data
	}
	slice := reflect.MakeSlice(resultT, dimensions[0], dimensions[0])
	stride := strides[0]
	for ii := 0; ii < dimensions[0]; ii++ {
		start := ii * stride
		subData := data.Slice(start, start+stride)
		slice.Index(ii).Set(createSlicesRecursively(resultT.Elem(), subData, dimensions[1:], strides[1:]))
	}
	return slice
}
