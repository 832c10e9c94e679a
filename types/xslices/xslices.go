// Package xslices provides functionality missing from the standard slices
// package for the slice handling done throughout stax.
package xslices

import (
	"cmp"
	"sort"

	"golang.org/x/exp/constraints"
)

// At returns the element at index, where a negative index counts from the
// end of the slice.
func At[T any](slice []T, index int) T {
	if index < 0 {
		index = len(slice) + index
	}
	return slice[index]
}

// SetAt sets the element at index, where a negative index counts from the
// end of the slice.
func SetAt[T any](slice []T, index int, value T) {
	if index < 0 {
		index = len(slice) + index
	}
	slice[index] = value
}

// Last returns the last element of the slice.
func Last[T any](slice []T) T {
	return At(slice, -1)
}

// Copy returns a shallow copy of the slice, or nil if it is empty.
func Copy[T any](slice []T) []T {
	if len(slice) == 0 {
		return nil
	}
	slice2 := make([]T, len(slice))
	copy(slice2, slice)
	return slice2
}

// Map applies fn to each element, returning the newly built slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Iota returns a slice of the given size starting at start and incrementing
// by 1 per element.
func Iota[T constraints.Integer | constraints.Float](start T, size int) (slice []T) {
	slice = make([]T, size)
	value := start
	for ii := range slice {
		slice[ii] = value
		value += 1
	}
	return
}

// SliceWithValue returns a slice of the given size with every element set to
// value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	for ii := range s {
		s[ii] = value
	}
	return s
}

// FillSlice sets every element of the slice to value.
func FillSlice[T any](slice []T, value T) {
	if len(slice) == 0 {
		return
	}
	slice[0] = value
	for filled := 1; filled < len(slice); filled *= 2 {
		copy(slice[filled:], slice[:filled])
	}
}

// Keys returns the keys of the map as a slice, in map iteration order.
func Keys[K comparable, V any](m map[K]V) []K {
	s := make([]K, 0, len(m))
	for k := range m {
		s = append(s, k)
	}
	return s
}

// SortedKeys returns the keys of the map as a sorted slice.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	s := Keys(m)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s
}
