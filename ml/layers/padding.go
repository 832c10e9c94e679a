// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"strings"

	"github.com/gomlx/stax/types/xerrors"
)

// Padding policies for convolutions and poolings.
type Padding int

const (
	// PaddingValid applies no padding: the kernel only visits positions
	// fully inside the input, so the spatial dimensions shrink.
	PaddingValid Padding = iota

	// PaddingSame pads the input so the output length is
	// ceil(inputLength/stride): with stride 1 spatial dimensions are
	// preserved.
	PaddingSame

	// PaddingFull pads so every position where kernel and input overlap at
	// least one element is visited: the spatial dimensions grow. Not
	// supported by poolings.
	PaddingFull
)

// String implements fmt.Stringer.
func (p Padding) String() string {
	switch p {
	case PaddingValid:
		return "valid"
	case PaddingSame:
		return "same"
	case PaddingFull:
		return "full"
	}
	return "invalid"
}

// PaddingFromName converts "valid", "same" or "full" (case-insensitive) to
// the corresponding Padding. It throws an InvalidParameterError for unknown
// names.
func PaddingFromName(name string) Padding {
	switch strings.ToLower(name) {
	case "valid":
		return PaddingValid
	case "same":
		return PaddingSame
	case "full":
		return PaddingFull
	}
	xerrors.ThrowInvalidParamf(`unknown padding %q, valid values are "valid", "same" and "full"`, name)
	return PaddingValid
}

// effectiveKernelSize is the span of a kernel once dilated: dilation
// inserts dilation-1 gaps between the kernel taps.
func effectiveKernelSize(kernelSize, dilation int) int {
	return dilation*(kernelSize-1) + 1
}

func ceilDiv(numerator, denominator int) int {
	return (numerator + denominator - 1) / denominator
}

// OutputLength computes the output size of one spatial axis of a
// convolution or pooling (dilation 1 for poolings):
//
//   - PaddingValid: ceil((inputLength - k' + 1) / stride)
//   - PaddingSame: ceil(inputLength / stride)
//   - PaddingFull: ceil((inputLength + k' - 1) / stride)
//
// where k' is the effective (dilated) kernel size. It throws an
// InvalidParameterError on non-positive sizes, strides or dilations, and an
// InvalidShapeError if the output length would not be positive (a valid
// kernel larger than its input).
func OutputLength(inputLength, kernelSize, stride, dilation int, padding Padding) int {
	if kernelSize <= 0 || stride <= 0 || dilation <= 0 {
		xerrors.ThrowInvalidParamf(
			"kernel size (%d), stride (%d) and dilation (%d) must be positive",
			kernelSize, stride, dilation)
	}
	if inputLength <= 0 {
		xerrors.ThrowInvalidShapef("input length must be positive, got %d", inputLength)
	}
	k := effectiveKernelSize(kernelSize, dilation)
	var outputLength int
	switch padding {
	case PaddingValid:
		outputLength = ceilDiv(inputLength-k+1, stride)
	case PaddingSame:
		outputLength = ceilDiv(inputLength, stride)
	case PaddingFull:
		outputLength = ceilDiv(inputLength+k-1, stride)
	default:
		xerrors.ThrowInvalidParamf("invalid padding %d", padding)
	}
	if outputLength <= 0 {
		xerrors.ThrowInvalidShapef(
			"effective kernel size %d (dilation %d) does not fit input length %d with %s padding",
			k, dilation, inputLength, padding)
	}
	return outputLength
}

// paddingAmounts returns the {low, high} padding of one spatial axis that
// realizes the given padding policy for the backend convolution and
// reduce-window operations, which take explicit padding amounts.
func paddingAmounts(inputLength, kernelSize, stride, dilation int, padding Padding) [2]int {
	k := effectiveKernelSize(kernelSize, dilation)
	switch padding {
	case PaddingValid:
		return [2]int{0, 0}
	case PaddingSame:
		outputLength := ceilDiv(inputLength, stride)
		total := max((outputLength-1)*stride+k-inputLength, 0)
		return [2]int{total / 2, total - total/2}
	case PaddingFull:
		return [2]int{k - 1, k - 1}
	}
	xerrors.ThrowInvalidParamf("invalid padding %d", padding)
	return [2]int{}
}
