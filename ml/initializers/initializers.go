// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializers provides the initial-value generators used for layer
// weights.
//
// An Initializer is a pure host-side function: given the fan-in and fan-out
// of the weight it is initializing and the desired shape, it materializes a
// tensor. Every constructor takes an explicit seed, and the returned
// Initializer builds a fresh random number generator per call, so the same
// initializer invoked twice with the same arguments yields identical
// tensors.
//
// The library defaults to GlorotUniformFn when the user doesn't specify
// otherwise.
package initializers

import (
	"math"
	"math/rand"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"

	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// Initializer builds the initial value of a variable with the given shape.
// fanIn and fanOut describe the connectivity of the weight being
// initialized, see FanInOut; initializers that don't depend on them (Zero,
// RandomNormalFn, ...) simply ignore them.
type Initializer func(fanIn, fanOut int, shape shapes.Shape) *tensors.Tensor

// NoSeed can be given to the constructors for a default (not randomized)
// seed.
const NoSeed = int64(0)

// FanInOut computes the fan-in and fan-out of a weight of the given shape:
//
//   - Scalar: fanIn = fanOut = 1.
//   - Rank 1: fanIn = fanOut = dim.
//   - Rank >= 2: the last two axes are input and output channels, any
//     leading axes are the receptive field (e.g. convolution kernels shaped
//     [kernelSpatialDims..., inputChannels, outputChannels]):
//     fanIn = inputChannels * receptiveFieldSize and
//     fanOut = outputChannels * receptiveFieldSize.
func FanInOut(shape shapes.Shape) (fanIn, fanOut int) {
	rank := shape.Rank()
	switch rank {
	case 0:
		return 1, 1
	case 1:
		return shape.Dim(0), shape.Dim(0)
	}
	receptiveFieldSize := 1
	for _, dim := range shape.Dimensions[:rank-2] {
		receptiveFieldSize *= dim
	}
	fanIn = shape.Dim(rank-2) * receptiveFieldSize
	fanOut = shape.Dim(rank-1) * receptiveFieldSize
	return
}

// fill materializes a tensor of the given shape, with each element drawn
// from gen in row-major order. Only float dtypes are supported.
func fill(shape shapes.Shape, gen func() float64) *tensors.Tensor {
	shape.AssertFullyDefined("initializers: cannot initialize shape %s", shape)
	t := tensors.FromShape(shape)
	switch shape.DType {
	case dtypes.Float64:
		tensors.MutableFlatData(t, func(flat []float64) {
			for ii := range flat {
				flat[ii] = gen()
			}
		})
	case dtypes.Float32:
		tensors.MutableFlatData(t, func(flat []float32) {
			for ii := range flat {
				flat[ii] = float32(gen())
			}
		})
	case dtypes.Float16:
		tensors.MutableFlatData(t, func(flat []float16.Float16) {
			for ii := range flat {
				flat[ii] = float16.Fromfloat32(float32(gen()))
			}
		})
	case dtypes.BFloat16:
		tensors.MutableFlatData(t, func(flat []bfloat16.BFloat16) {
			for ii := range flat {
				flat[ii] = bfloat16.FromFloat32(float32(gen()))
			}
		})
	default:
		xerrors.ThrowInvalidParamf(
			"initializers only support float dtypes, cannot initialize %s", shape)
	}
	return t
}

// Zero initializes variables with zeros.
var Zero Initializer = func(_, _ int, shape shapes.Shape) *tensors.Tensor {
	return fill(shape, func() float64 { return 0 })
}

// One initializes variables with ones.
var One Initializer = func(_, _ int, shape shapes.Shape) *tensors.Tensor {
	return fill(shape, func() float64 { return 1 })
}

// Constant returns an initializer that fills variables with value.
func Constant(value float64) Initializer {
	return func(_, _ int, shape shapes.Shape) *tensors.Tensor {
		return fill(shape, func() float64 { return value })
	}
}

// RandomUniformFn returns an initializer that generates random values
// uniformly distributed in [min, max).
func RandomUniformFn(initialSeed int64, min, max float64) Initializer {
	if min >= max {
		xerrors.ThrowInvalidParamf(
			"RandomUniformFn requires min < max, got [%g, %g)", min, max)
	}
	return func(_, _ int, shape shapes.Shape) *tensors.Tensor {
		rng := rand.New(rand.NewSource(initialSeed))
		return fill(shape, func() float64 {
			return min + rng.Float64()*(max-min)
		})
	}
}

// RandomNormalFn returns an initializer that generates random values with a
// normal distribution of the given standard deviation, centered at 0.
func RandomNormalFn(initialSeed int64, stddev float64) Initializer {
	if stddev <= 0 {
		xerrors.ThrowInvalidParamf("RandomNormalFn requires stddev > 0, got %g", stddev)
	}
	return func(_, _ int, shape shapes.Shape) *tensors.Tensor {
		rng := rand.New(rand.NewSource(initialSeed))
		return fill(shape, func() float64 {
			return rng.NormFloat64() * stddev
		})
	}
}

// TruncatedNormalFn returns an initializer that generates random values from
// a normal distribution with the given standard deviation, resampling any
// value that falls more than 2 standard deviations away from the mean. All
// generated values are therefore strictly within (-2*stddev, 2*stddev).
func TruncatedNormalFn(initialSeed int64, stddev float64) Initializer {
	return ParametrizedTruncatedNormalFn(initialSeed, 0, stddev, -2, 2)
}

// ParametrizedTruncatedNormalFn returns an initializer that generates random
// values from a normal distribution with the given mean and standard
// deviation, truncated by rejection to the interval
// (mean + lower*stddev, mean + upper*stddev).
//
// It throws an InvalidParameterError if the interval is empty (lower >=
// upper) or stddev is not positive: a degenerate interval would make the
// rejection loop never terminate.
func ParametrizedTruncatedNormalFn(initialSeed int64, mean, stddev, lower, upper float64) Initializer {
	if stddev <= 0 {
		xerrors.ThrowInvalidParamf(
			"ParametrizedTruncatedNormalFn requires stddev > 0, got %g", stddev)
	}
	if lower >= upper {
		xerrors.ThrowInvalidParamf(
			"ParametrizedTruncatedNormalFn truncation interval is empty: lower=%g >= upper=%g",
			lower, upper)
	}
	return func(_, _ int, shape shapes.Shape) *tensors.Tensor {
		rng := rand.New(rand.NewSource(initialSeed))
		return fill(shape, func() float64 {
			for {
				v := rng.NormFloat64()
				if v > lower && v < upper {
					return mean + v*stddev
				}
			}
		})
	}
}

// GlorotUniformFn returns the Glorot (aka. Xavier) uniform initializer: a
// uniform distribution over [-limit, limit) with
// limit = sqrt(6 / (fanIn + fanOut)). A sensible default for layers with
// tanh or sigmoid activations.
func GlorotUniformFn(initialSeed int64) Initializer {
	return func(fanIn, fanOut int, shape shapes.Shape) *tensors.Tensor {
		rng := rand.New(rand.NewSource(initialSeed))
		limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
		return fill(shape, func() float64 {
			return (2*rng.Float64() - 1) * limit
		})
	}
}

// GlorotNormalFn returns the Glorot (aka. Xavier) normal initializer: a
// truncated normal (2 standard deviations) with
// stddev = sqrt(2 / (fanIn + fanOut)).
func GlorotNormalFn(initialSeed int64) Initializer {
	return scaledTruncatedNormal(initialSeed, 2.0, func(fanIn, fanOut int) int {
		return fanIn + fanOut
	})
}

// HeUniformFn returns the He uniform initializer: a uniform distribution
// over [-limit, limit) with limit = sqrt(6 / fanIn). Recommended for layers
// with relu-family activations.
func HeUniformFn(initialSeed int64) Initializer {
	return func(fanIn, _ int, shape shapes.Shape) *tensors.Tensor {
		rng := rand.New(rand.NewSource(initialSeed))
		limit := math.Sqrt(6.0 / float64(fanIn))
		return fill(shape, func() float64 {
			return (2*rng.Float64() - 1) * limit
		})
	}
}

// HeNormalFn returns the He normal initializer: a truncated normal (2
// standard deviations) with stddev = sqrt(2 / fanIn).
func HeNormalFn(initialSeed int64) Initializer {
	return scaledTruncatedNormal(initialSeed, 2.0, func(fanIn, _ int) int {
		return fanIn
	})
}

// LeCunUniformFn returns the LeCun uniform initializer: a uniform
// distribution over [-limit, limit) with limit = sqrt(3 / fanIn).
func LeCunUniformFn(initialSeed int64) Initializer {
	return func(fanIn, _ int, shape shapes.Shape) *tensors.Tensor {
		rng := rand.New(rand.NewSource(initialSeed))
		limit := math.Sqrt(3.0 / float64(fanIn))
		return fill(shape, func() float64 {
			return (2*rng.Float64() - 1) * limit
		})
	}
}

// LeCunNormalFn returns the LeCun normal initializer: a truncated normal (2
// standard deviations) with stddev = sqrt(1 / fanIn).
func LeCunNormalFn(initialSeed int64) Initializer {
	return scaledTruncatedNormal(initialSeed, 1.0, func(fanIn, _ int) int {
		return fanIn
	})
}

// scaledTruncatedNormal implements the variance-scaling family: a truncated
// normal (2 standard deviations) with stddev = sqrt(gain / denominator),
// where the denominator is derived from the fans.
func scaledTruncatedNormal(initialSeed int64, gain float64, denominatorFn func(fanIn, fanOut int) int) Initializer {
	return func(fanIn, fanOut int, shape shapes.Shape) *tensors.Tensor {
		rng := rand.New(rand.NewSource(initialSeed))
		stddev := math.Sqrt(gain / float64(denominatorFn(fanIn, fanOut)))
		return fill(shape, func() float64 {
			for {
				v := rng.NormFloat64()
				if v > -2 && v < 2 {
					return v * stddev
				}
			}
		})
	}
}
