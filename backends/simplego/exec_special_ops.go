// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/backends"
)

func init() {
	nodeExecutors[backends.OpTypeReshape] = execReshape
	nodeExecutors[backends.OpTypeTranspose] = execTranspose
	nodeExecutors[backends.OpTypeBroadcastInDim] = execBroadcastInDim
	nodeExecutors[backends.OpTypeConvertDType] = execConvertDType
	nodeExecutors[backends.OpTypeIota] = execIota
	nodeExecutors[backends.OpTypeReduceSum] = execReduceSum
	nodeExecutors[backends.OpTypeReduceMax] = execReduceMax
	nodeExecutors[backends.OpTypeArgMax] = execArgMax
}

// execReshape only changes the shape: the flat data is unchanged.
func execReshape(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	operand := inputs[0]
	var output *Buffer
	if inputsOwned[0] {
		output = operand
		inputs[0] = nil
	} else {
		output = backend.getBuffer(operand.shape.DType, operand.shape.Size())
		copyFlat(output.flat, operand.flat)
	}
	output.shape = node.shape.Clone()
	return output
}

func execTranspose(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	operand := inputs[0]
	permutation := node.data.([]int)
	output := backend.getBufferForShape(node.shape)
	switch operand.shape.DType {
	case dtypes.Bool:
		execTransposeGeneric(operand.flat.([]bool), output.flat.([]bool), operand.shape.Dimensions, node.shape.Dimensions, permutation)
	case dtypes.Int8:
		execTransposeGeneric(operand.flat.([]int8), output.flat.([]int8), operand.shape.Dimensions, node.shape.Dimensions, permutation)
	case dtypes.Int16:
		execTransposeGeneric(operand.flat.([]int16), output.flat.([]int16), operand.shape.Dimensions, node.shape.Dimensions, permutation)
	case dtypes.Int32:
		execTransposeGeneric(operand.flat.([]int32), output.flat.([]int32), operand.shape.Dimensions, node.shape.Dimensions, permutation)
	case dtypes.Int64:
		execTransposeGeneric(operand.flat.([]int64), output.flat.([]int64), operand.shape.Dimensions, node.shape.Dimensions, permutation)
	case dtypes.Uint8:
		execTransposeGeneric(operand.flat.([]uint8), output.flat.([]uint8), operand.shape.Dimensions, node.shape.Dimensions, permutation)
	case dtypes.Uint16:
		execTransposeGeneric(operand.flat.([]uint16), output.flat.([]uint16), operand.shape.Dimensions, node.shape.Dimensions, permutation)
	case dtypes.Uint32:
		execTransposeGeneric(operand.flat.([]uint32), output.flat.([]uint32), operand.shape.Dimensions, node.shape.Dimensions, permutation)
	case dtypes.Uint64:
		execTransposeGeneric(operand.flat.([]uint64), output.flat.([]uint64), operand.shape.Dimensions, node.shape.Dimensions, permutation)
	case dtypes.Float32:
		execTransposeGeneric(operand.flat.([]float32), output.flat.([]float32), operand.shape.Dimensions, node.shape.Dimensions, permutation)
	case dtypes.Float64:
		execTransposeGeneric(operand.flat.([]float64), output.flat.([]float64), operand.shape.Dimensions, node.shape.Dimensions, permutation)
	default:
		exceptions.Panicf("unsupported data type %s for %s", operand.shape.DType, node.opType)
	}
	return output
}

func execTransposeGeneric[T supportedTypesConstraints](input, output []T, inDims, outDims, permutation []int) {
	inStrides := computeStrides(inDims)
	// Stride in the input for each output axis.
	outAxisStrides := make([]int, len(permutation))
	for outAxis, inAxis := range permutation {
		outAxisStrides[outAxis] = inStrides[inAxis]
	}
	coords := make([]int, len(outDims))
	for outIdx := range output {
		inIdx := 0
		for axis, coord := range coords {
			inIdx += coord * outAxisStrides[axis]
		}
		output[outIdx] = input[inIdx]
		incrementCoords(coords, outDims)
	}
}

func execBroadcastInDim(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	operand := inputs[0]
	broadcastAxes := node.data.([]int)
	output := backend.getBufferForShape(node.shape)
	switch operand.shape.DType {
	case dtypes.Bool:
		execBroadcastInDimGeneric(operand.flat.([]bool), output.flat.([]bool), operand.shape.Dimensions, node.shape.Dimensions, broadcastAxes)
	case dtypes.Int8:
		execBroadcastInDimGeneric(operand.flat.([]int8), output.flat.([]int8), operand.shape.Dimensions, node.shape.Dimensions, broadcastAxes)
	case dtypes.Int16:
		execBroadcastInDimGeneric(operand.flat.([]int16), output.flat.([]int16), operand.shape.Dimensions, node.shape.Dimensions, broadcastAxes)
	case dtypes.Int32:
		execBroadcastInDimGeneric(operand.flat.([]int32), output.flat.([]int32), operand.shape.Dimensions, node.shape.Dimensions, broadcastAxes)
	case dtypes.Int64:
		execBroadcastInDimGeneric(operand.flat.([]int64), output.flat.([]int64), operand.shape.Dimensions, node.shape.Dimensions, broadcastAxes)
	case dtypes.Uint8:
		execBroadcastInDimGeneric(operand.flat.([]uint8), output.flat.([]uint8), operand.shape.Dimensions, node.shape.Dimensions, broadcastAxes)
	case dtypes.Uint16:
		execBroadcastInDimGeneric(operand.flat.([]uint16), output.flat.([]uint16), operand.shape.Dimensions, node.shape.Dimensions, broadcastAxes)
	case dtypes.Uint32:
		execBroadcastInDimGeneric(operand.flat.([]uint32), output.flat.([]uint32), operand.shape.Dimensions, node.shape.Dimensions, broadcastAxes)
	case dtypes.Uint64:
		execBroadcastInDimGeneric(operand.flat.([]uint64), output.flat.([]uint64), operand.shape.Dimensions, node.shape.Dimensions, broadcastAxes)
	case dtypes.Float32:
		execBroadcastInDimGeneric(operand.flat.([]float32), output.flat.([]float32), operand.shape.Dimensions, node.shape.Dimensions, broadcastAxes)
	case dtypes.Float64:
		execBroadcastInDimGeneric(operand.flat.([]float64), output.flat.([]float64), operand.shape.Dimensions, node.shape.Dimensions, broadcastAxes)
	default:
		exceptions.Panicf("unsupported data type %s for %s", operand.shape.DType, node.opType)
	}
	return output
}

func execBroadcastInDimGeneric[T supportedTypesConstraints](input, output []T, inDims, outDims, broadcastAxes []int) {
	inStrides := computeStrides(inDims)
	// Input stride contribution per output axis: axes being broadcast (or of
	// input dimension 1) contribute 0, repeating the input values.
	outAxisStrides := make([]int, len(outDims))
	for inAxis, outAxis := range broadcastAxes {
		if inDims[inAxis] != 1 {
			outAxisStrides[outAxis] = inStrides[inAxis]
		}
	}
	coords := make([]int, len(outDims))
	for outIdx := range output {
		inIdx := 0
		for axis, coord := range coords {
			inIdx += coord * outAxisStrides[axis]
		}
		output[outIdx] = input[inIdx]
		incrementCoords(coords, outDims)
	}
}

func execConvertDType(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	operand := inputs[0]
	output := backend.getBufferForShape(node.shape)
	switch source := operand.flat.(type) {
	case []bool:
		convertFromBool(source, output.flat, node.opType)
	case []int8:
		convertFromNumeric(source, output.flat, node.opType)
	case []int16:
		convertFromNumeric(source, output.flat, node.opType)
	case []int32:
		convertFromNumeric(source, output.flat, node.opType)
	case []int64:
		convertFromNumeric(source, output.flat, node.opType)
	case []uint8:
		convertFromNumeric(source, output.flat, node.opType)
	case []uint16:
		convertFromNumeric(source, output.flat, node.opType)
	case []uint32:
		convertFromNumeric(source, output.flat, node.opType)
	case []uint64:
		convertFromNumeric(source, output.flat, node.opType)
	case []float32:
		convertFromNumeric(source, output.flat, node.opType)
	case []float64:
		convertFromNumeric(source, output.flat, node.opType)
	default:
		exceptions.Panicf("unsupported data type %s for %s", operand.shape.DType, node.opType)
	}
	return output
}

func convertFromNumeric[S numericPODConstraints](source []S, targetAny any, opType backends.OpType) {
	switch target := targetAny.(type) {
	case []bool:
		for ii, v := range source {
			target[ii] = v != 0
		}
	case []int8:
		for ii, v := range source {
			target[ii] = int8(v)
		}
	case []int16:
		for ii, v := range source {
			target[ii] = int16(v)
		}
	case []int32:
		for ii, v := range source {
			target[ii] = int32(v)
		}
	case []int64:
		for ii, v := range source {
			target[ii] = int64(v)
		}
	case []uint8:
		for ii, v := range source {
			target[ii] = uint8(v)
		}
	case []uint16:
		for ii, v := range source {
			target[ii] = uint16(v)
		}
	case []uint32:
		for ii, v := range source {
			target[ii] = uint32(v)
		}
	case []uint64:
		for ii, v := range source {
			target[ii] = uint64(v)
		}
	case []float32:
		for ii, v := range source {
			target[ii] = float32(v)
		}
	case []float64:
		for ii, v := range source {
			target[ii] = float64(v)
		}
	default:
		exceptions.Panicf("unsupported target data type %T for %s", targetAny, opType)
	}
}

func convertFromBool(source []bool, targetAny any, opType backends.OpType) {
	asNumeric := make([]int8, len(source))
	for ii, v := range source {
		if v {
			asNumeric[ii] = 1
		}
	}
	convertFromNumeric(asNumeric, targetAny, opType)
}

func execIota(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	axis := node.data.(int)
	output := backend.getBufferForShape(node.shape)
	stride := computeStrides(node.shape.Dimensions)[axis]
	dim := node.shape.Dimensions[axis]
	switch flat := output.flat.(type) {
	case []int8:
		execIotaGeneric(flat, stride, dim)
	case []int16:
		execIotaGeneric(flat, stride, dim)
	case []int32:
		execIotaGeneric(flat, stride, dim)
	case []int64:
		execIotaGeneric(flat, stride, dim)
	case []uint8:
		execIotaGeneric(flat, stride, dim)
	case []uint16:
		execIotaGeneric(flat, stride, dim)
	case []uint32:
		execIotaGeneric(flat, stride, dim)
	case []uint64:
		execIotaGeneric(flat, stride, dim)
	case []float32:
		execIotaGeneric(flat, stride, dim)
	case []float64:
		execIotaGeneric(flat, stride, dim)
	default:
		exceptions.Panicf("unsupported data type %s for %s", node.shape.DType, node.opType)
	}
	return output
}

func execIotaGeneric[T numericPODConstraints](output []T, stride, dim int) {
	for idx := range output {
		output[idx] = T((idx / stride) % dim)
	}
}

// reduceAxisContrib returns the contribution of each input axis to the flat
// output index: reduced axes contribute 0.
func reduceAxisContrib(inDims, sortedAxes []int) []int {
	outDims := make([]int, 0, len(inDims)-len(sortedAxes))
	for axis, dim := range inDims {
		if _, found := slices.BinarySearch(sortedAxes, axis); !found {
			outDims = append(outDims, dim)
		}
	}
	outStrides := computeStrides(outDims)
	contrib := make([]int, len(inDims))
	outAxis := 0
	for axis := range inDims {
		if _, found := slices.BinarySearch(sortedAxes, axis); !found {
			contrib[axis] = outStrides[outAxis]
			outAxis++
		}
	}
	return contrib
}

func execReduceSum(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	operand := inputs[0]
	axes := node.data.([]int)
	output := backend.getBufferForShape(node.shape)
	switch operand.shape.DType {
	case dtypes.Int8:
		execReduceSumGeneric(operand.flat.([]int8), output.flat.([]int8), operand.shape.Dimensions, axes)
	case dtypes.Int16:
		execReduceSumGeneric(operand.flat.([]int16), output.flat.([]int16), operand.shape.Dimensions, axes)
	case dtypes.Int32:
		execReduceSumGeneric(operand.flat.([]int32), output.flat.([]int32), operand.shape.Dimensions, axes)
	case dtypes.Int64:
		execReduceSumGeneric(operand.flat.([]int64), output.flat.([]int64), operand.shape.Dimensions, axes)
	case dtypes.Uint8:
		execReduceSumGeneric(operand.flat.([]uint8), output.flat.([]uint8), operand.shape.Dimensions, axes)
	case dtypes.Uint16:
		execReduceSumGeneric(operand.flat.([]uint16), output.flat.([]uint16), operand.shape.Dimensions, axes)
	case dtypes.Uint32:
		execReduceSumGeneric(operand.flat.([]uint32), output.flat.([]uint32), operand.shape.Dimensions, axes)
	case dtypes.Uint64:
		execReduceSumGeneric(operand.flat.([]uint64), output.flat.([]uint64), operand.shape.Dimensions, axes)
	case dtypes.Float32:
		execReduceSumGeneric(operand.flat.([]float32), output.flat.([]float32), operand.shape.Dimensions, axes)
	case dtypes.Float64:
		execReduceSumGeneric(operand.flat.([]float64), output.flat.([]float64), operand.shape.Dimensions, axes)
	default:
		exceptions.Panicf("unsupported data type %s for %s", operand.shape.DType, node.opType)
	}
	return output
}

func execReduceSumGeneric[T numericPODConstraints](input, output []T, inDims, sortedAxes []int) {
	clear(output)
	contrib := reduceAxisContrib(inDims, sortedAxes)
	coords := make([]int, len(inDims))
	for inIdx := range input {
		outIdx := 0
		for axis, coord := range coords {
			outIdx += coord * contrib[axis]
		}
		output[outIdx] += input[inIdx]
		incrementCoords(coords, inDims)
	}
}

func execReduceMax(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	operand := inputs[0]
	axes := node.data.([]int)
	output := backend.getBufferForShape(node.shape)
	switch operand.shape.DType {
	case dtypes.Int8:
		execReduceMaxGeneric(operand.flat.([]int8), output.flat.([]int8), operand.shape.Dimensions, axes)
	case dtypes.Int16:
		execReduceMaxGeneric(operand.flat.([]int16), output.flat.([]int16), operand.shape.Dimensions, axes)
	case dtypes.Int32:
		execReduceMaxGeneric(operand.flat.([]int32), output.flat.([]int32), operand.shape.Dimensions, axes)
	case dtypes.Int64:
		execReduceMaxGeneric(operand.flat.([]int64), output.flat.([]int64), operand.shape.Dimensions, axes)
	case dtypes.Uint8:
		execReduceMaxGeneric(operand.flat.([]uint8), output.flat.([]uint8), operand.shape.Dimensions, axes)
	case dtypes.Uint16:
		execReduceMaxGeneric(operand.flat.([]uint16), output.flat.([]uint16), operand.shape.Dimensions, axes)
	case dtypes.Uint32:
		execReduceMaxGeneric(operand.flat.([]uint32), output.flat.([]uint32), operand.shape.Dimensions, axes)
	case dtypes.Uint64:
		execReduceMaxGeneric(operand.flat.([]uint64), output.flat.([]uint64), operand.shape.Dimensions, axes)
	case dtypes.Float32:
		execReduceMaxGeneric(operand.flat.([]float32), output.flat.([]float32), operand.shape.Dimensions, axes)
	case dtypes.Float64:
		execReduceMaxGeneric(operand.flat.([]float64), output.flat.([]float64), operand.shape.Dimensions, axes)
	default:
		exceptions.Panicf("unsupported data type %s for %s", operand.shape.DType, node.opType)
	}
	return output
}

func execReduceMaxGeneric[T numericPODConstraints](input, output []T, inDims, sortedAxes []int) {
	contrib := reduceAxisContrib(inDims, sortedAxes)
	coords := make([]int, len(inDims))
	for inIdx := range input {
		outIdx := 0
		first := true
		for axis, coord := range coords {
			outIdx += coord * contrib[axis]
			if contrib[axis] == 0 && coord != 0 {
				first = false
			}
		}
		// The first element of each reduction group initializes the output:
		// pooled buffers hold stale data.
		if first {
			output[outIdx] = input[inIdx]
		} else {
			output[outIdx] = max(output[outIdx], input[inIdx])
		}
		incrementCoords(coords, inDims)
	}
}

func execArgMax(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	operand := inputs[0]
	axis := node.data.(*argMaxNode).axis
	output := backend.getBufferForShape(node.shape)
	dims := operand.shape.Dimensions
	axisDim := dims[axis]
	inner := 1
	for _, dim := range dims[axis+1:] {
		inner *= dim
	}
	outer := operand.shape.Size() / (axisDim * inner)
	indices := make([]int64, outer*inner)
	switch operand.shape.DType {
	case dtypes.Int8:
		execArgMaxGeneric(operand.flat.([]int8), indices, outer, axisDim, inner)
	case dtypes.Int16:
		execArgMaxGeneric(operand.flat.([]int16), indices, outer, axisDim, inner)
	case dtypes.Int32:
		execArgMaxGeneric(operand.flat.([]int32), indices, outer, axisDim, inner)
	case dtypes.Int64:
		execArgMaxGeneric(operand.flat.([]int64), indices, outer, axisDim, inner)
	case dtypes.Uint8:
		execArgMaxGeneric(operand.flat.([]uint8), indices, outer, axisDim, inner)
	case dtypes.Uint16:
		execArgMaxGeneric(operand.flat.([]uint16), indices, outer, axisDim, inner)
	case dtypes.Uint32:
		execArgMaxGeneric(operand.flat.([]uint32), indices, outer, axisDim, inner)
	case dtypes.Uint64:
		execArgMaxGeneric(operand.flat.([]uint64), indices, outer, axisDim, inner)
	case dtypes.Float32:
		execArgMaxGeneric(operand.flat.([]float32), indices, outer, axisDim, inner)
	case dtypes.Float64:
		execArgMaxGeneric(operand.flat.([]float64), indices, outer, axisDim, inner)
	default:
		exceptions.Panicf("unsupported data type %s for %s", operand.shape.DType, node.opType)
	}
	convertFromNumeric(indices, output.flat, node.opType)
	return output
}

// execArgMaxGeneric treats input as [outer, axisDim, inner] and finds the
// index of the maximum over the middle axis. Ties pick the lowest index.
func execArgMaxGeneric[T numericPODConstraints](input []T, indices []int64, outer, axisDim, inner int) {
	for o := range outer {
		base := o * axisDim * inner
		for i := range inner {
			best := input[base+i]
			bestIdx := int64(0)
			for k := 1; k < axisDim; k++ {
				value := input[base+k*inner+i]
				if value > best {
					best = value
					bestIdx = int64(k)
				}
			}
			indices[o*inner+i] = bestIdx
		}
	}
}
