// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

// supportedTypesConstraints enumerates the Go types SimpleGo kernels handle.
//
// Float16 and BFloat16 tensors are not supported by this backend: operations
// dispatching on them throw a "data type not supported" error.
type supportedTypesConstraints interface {
	bool | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// numericPODConstraints are the Go plain-old-data numeric types.
type numericPODConstraints interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// signedPODConstraints are the signed numeric types, where negation and
// absolute value are meaningful.
type signedPODConstraints interface {
	int8 | int16 | int32 | int64 | float32 | float64
}

// integerPODConstraints are the Go integer types.
type integerPODConstraints interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// floatPODConstraints are the Go native float types.
type floatPODConstraints interface {
	float32 | float64
}

// computeStrides returns the row-major strides for the given dimensions.
func computeStrides(dims []int) []int {
	strides := make([]int, len(dims))
	stride := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dims[axis]
	}
	return strides
}

// incrementCoords moves coords to the next position in row-major order.
// It returns false when coords wrap around back to all zeros.
func incrementCoords(coords, dims []int) bool {
	for axis := len(coords) - 1; axis >= 0; axis-- {
		coords[axis]++
		if coords[axis] < dims[axis] {
			return true
		}
		coords[axis] = 0
	}
	return false
}
