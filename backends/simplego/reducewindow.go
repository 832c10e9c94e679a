// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/shapes"
)

func init() {
	nodeExecutors[backends.OpTypeReduceWindowMax] = execReduceWindow
	nodeExecutors[backends.OpTypeReduceWindowSum] = execReduceWindow
	nodeExecutors[backends.OpTypeMaxPoolGrad] = execMaxPoolGrad
	nodeExecutors[backends.OpTypeSumPoolGrad] = execSumPoolGrad
}

// reduceWindowNode is attached to Node.data for the sliding window ops.
// All slices have one entry per axis of the operand.
type reduceWindowNode struct {
	windowSizes []int
	strides     []int
	paddings    [][2]int
}

func newReduceWindowNode(windowSizes, strides []int, paddings [][2]int) *reduceWindowNode {
	return &reduceWindowNode{
		windowSizes: slices.Clone(windowSizes),
		strides:     slices.Clone(strides),
		paddings:    slices.Clone(paddings),
	}
}

// reduceWindowOutputShape validates the window parameters and returns the
// shape of the windowed reduction of input.
func reduceWindowOutputShape(opName string, input shapes.Shape, windowSizes, strides []int, paddings [][2]int) shapes.Shape {
	if !input.DType.IsFloat() && !input.DType.IsInt() {
		exceptions.Panicf("%s: operation not defined for dtype %s", opName, input.DType)
	}
	rank := input.Rank()
	if rank == 0 {
		exceptions.Panicf("%s: operand must have at least one axis, got %s", opName, input)
	}
	if len(windowSizes) != rank || len(strides) != rank || len(paddings) != rank {
		exceptions.Panicf("%s: windowSizes (%v), strides (%v) and paddings (%v) must have one value per axis of %s",
			opName, windowSizes, strides, paddings, input)
	}
	dims := make([]int, rank)
	for axis := range rank {
		if windowSizes[axis] < 1 {
			exceptions.Panicf("%s: window sizes must be at least 1, got %v", opName, windowSizes)
		}
		if strides[axis] < 1 {
			exceptions.Panicf("%s: strides must be at least 1, got %v", opName, strides)
		}
		if paddings[axis][0] < 0 || paddings[axis][1] < 0 {
			exceptions.Panicf("%s: paddings cannot be negative, got %v", opName, paddings)
		}
		padded := input.Dimensions[axis] + paddings[axis][0] + paddings[axis][1]
		if padded < windowSizes[axis] {
			exceptions.Panicf("%s: window %v does not fit the padded input %s (paddings %v)",
				opName, windowSizes, input, paddings)
		}
		dims[axis] = (padded-windowSizes[axis])/strides[axis] + 1
	}
	return shapes.Make(input.DType, dims...)
}

// addReduceWindowOp adds a windowed reduction op.
func (b *Builder) addReduceWindowOp(opType backends.OpType, x backends.Op, windowSizes, strides []int, paddings [][2]int) backends.Op {
	operand := b.checkOps(opType.String(), x)[0]
	shape := reduceWindowOutputShape(opType.String(), operand.shape, windowSizes, strides, paddings)
	node := b.newNode(opType, shape, operand)
	node.data = newReduceWindowNode(windowSizes, strides, paddings)
	return node
}

// ReduceWindowMax implements backends.Builder.
func (b *Builder) ReduceWindowMax(x backends.Op, windowSizes, strides []int, paddings [][2]int) backends.Op {
	return b.addReduceWindowOp(backends.OpTypeReduceWindowMax, x, windowSizes, strides, paddings)
}

// ReduceWindowSum implements backends.Builder.
func (b *Builder) ReduceWindowSum(x backends.Op, windowSizes, strides []int, paddings [][2]int) backends.Op {
	return b.addReduceWindowOp(backends.OpTypeReduceWindowSum, x, windowSizes, strides, paddings)
}

// MaxPoolGrad implements backends.Builder.
func (b *Builder) MaxPoolGrad(x, gradOutput backends.Op, windowSizes, strides []int, paddings [][2]int) backends.Op {
	operands := b.checkOps("MaxPoolGrad", x, gradOutput)
	xN, gradOutputN := operands[0], operands[1]
	expected := reduceWindowOutputShape("MaxPoolGrad", xN.shape, windowSizes, strides, paddings)
	if !gradOutputN.shape.Equal(expected) {
		exceptions.Panicf("MaxPoolGrad: gradOutput shaped %s, but pooling %s with window %v is shaped %s",
			gradOutputN.shape, xN.shape, windowSizes, expected)
	}
	node := b.newNode(backends.OpTypeMaxPoolGrad, xN.shape.Clone(), xN, gradOutputN)
	node.data = newReduceWindowNode(windowSizes, strides, paddings)
	return node
}

// SumPoolGrad implements backends.Builder.
func (b *Builder) SumPoolGrad(gradOutput backends.Op, inputShape shapes.Shape, windowSizes, strides []int, paddings [][2]int) backends.Op {
	gradOutputN := b.checkOps("SumPoolGrad", gradOutput)[0]
	expected := reduceWindowOutputShape("SumPoolGrad", inputShape, windowSizes, strides, paddings)
	if !gradOutputN.shape.Equal(expected) {
		exceptions.Panicf("SumPoolGrad: gradOutput shaped %s, but pooling %s with window %v is shaped %s",
			gradOutputN.shape, inputShape, windowSizes, expected)
	}
	node := b.newNode(backends.OpTypeSumPoolGrad, inputShape.Clone(), gradOutputN)
	node.data = newReduceWindowNode(windowSizes, strides, paddings)
	return node
}

// execReduceWindow handles both ReduceWindowMax and ReduceWindowSum.
func execReduceWindow(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	operand := inputs[0]
	data := node.data.(*reduceWindowNode)
	output := backend.getBufferForShape(node.shape)
	isMax := node.opType == backends.OpTypeReduceWindowMax
	switch operand.shape.DType {
	case dtypes.Int8:
		execReduceWindowGeneric(operand.flat.([]int8), output.flat.([]int8), operand.shape.Dimensions, node.shape.Dimensions, data, isMax)
	case dtypes.Int16:
		execReduceWindowGeneric(operand.flat.([]int16), output.flat.([]int16), operand.shape.Dimensions, node.shape.Dimensions, data, isMax)
	case dtypes.Int32:
		execReduceWindowGeneric(operand.flat.([]int32), output.flat.([]int32), operand.shape.Dimensions, node.shape.Dimensions, data, isMax)
	case dtypes.Int64:
		execReduceWindowGeneric(operand.flat.([]int64), output.flat.([]int64), operand.shape.Dimensions, node.shape.Dimensions, data, isMax)
	case dtypes.Uint8:
		execReduceWindowGeneric(operand.flat.([]uint8), output.flat.([]uint8), operand.shape.Dimensions, node.shape.Dimensions, data, isMax)
	case dtypes.Uint16:
		execReduceWindowGeneric(operand.flat.([]uint16), output.flat.([]uint16), operand.shape.Dimensions, node.shape.Dimensions, data, isMax)
	case dtypes.Uint32:
		execReduceWindowGeneric(operand.flat.([]uint32), output.flat.([]uint32), operand.shape.Dimensions, node.shape.Dimensions, data, isMax)
	case dtypes.Uint64:
		execReduceWindowGeneric(operand.flat.([]uint64), output.flat.([]uint64), operand.shape.Dimensions, node.shape.Dimensions, data, isMax)
	case dtypes.Float32:
		execReduceWindowGeneric(operand.flat.([]float32), output.flat.([]float32), operand.shape.Dimensions, node.shape.Dimensions, data, isMax)
	case dtypes.Float64:
		execReduceWindowGeneric(operand.flat.([]float64), output.flat.([]float64), operand.shape.Dimensions, node.shape.Dimensions, data, isMax)
	default:
		exceptions.Panicf("unsupported data type %s for %s", operand.shape.DType, node.opType)
	}
	return output
}

func execReduceWindowGeneric[T numericPODConstraints](input, output []T, inDims, outDims []int, data *reduceWindowNode, isMax bool) {
	inStrides := computeStrides(inDims)
	outCoords := make([]int, len(outDims))
	windowCoords := make([]int, len(inDims))
	for outIdx := range output {
		// The first valid window position initializes the accumulator: the
		// window may partially fall on the (ignored) padding.
		first := true
		var acc T
		clear(windowCoords)
		for {
			valid := true
			inIdx := 0
			for axis := range inDims {
				coord := outCoords[axis]*data.strides[axis] + windowCoords[axis] - data.paddings[axis][0]
				if coord < 0 || coord >= inDims[axis] {
					valid = false
					break
				}
				inIdx += coord * inStrides[axis]
			}
			if valid {
				value := input[inIdx]
				switch {
				case first:
					acc = value
					first = false
				case isMax:
					acc = max(acc, value)
				default:
					acc += value
				}
			}
			if !incrementCoords(windowCoords, data.windowSizes) {
				break
			}
		}
		output[outIdx] = acc
		incrementCoords(outCoords, outDims)
	}
}

func execMaxPoolGrad(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	operand, gradOutput := inputs[0], inputs[1]
	data := node.data.(*reduceWindowNode)
	gradInput := backend.getBufferForShape(node.shape)
	switch operand.shape.DType {
	case dtypes.Float32:
		execMaxPoolGradGeneric(operand.flat.([]float32), gradOutput.flat.([]float32), gradInput.flat.([]float32),
			operand.shape.Dimensions, gradOutput.shape.Dimensions, data)
	case dtypes.Float64:
		execMaxPoolGradGeneric(operand.flat.([]float64), gradOutput.flat.([]float64), gradInput.flat.([]float64),
			operand.shape.Dimensions, gradOutput.shape.Dimensions, data)
	default:
		exceptions.Panicf("unsupported data type %s for %s", operand.shape.DType, node.opType)
	}
	return gradInput
}

// execMaxPoolGradGeneric routes each gradOutput value to the position of the
// maximum of its window. Window positions are visited in increasing flat
// order, so keeping strict improvements picks the lowest index on ties.
func execMaxPoolGradGeneric[T floatPODConstraints](input, gradOutput, gradInput []T, inDims, outDims []int, data *reduceWindowNode) {
	clear(gradInput)
	inStrides := computeStrides(inDims)
	outCoords := make([]int, len(outDims))
	windowCoords := make([]int, len(inDims))
	for outIdx := range gradOutput {
		bestIdx := -1
		var best T
		clear(windowCoords)
		for {
			valid := true
			inIdx := 0
			for axis := range inDims {
				coord := outCoords[axis]*data.strides[axis] + windowCoords[axis] - data.paddings[axis][0]
				if coord < 0 || coord >= inDims[axis] {
					valid = false
					break
				}
				inIdx += coord * inStrides[axis]
			}
			if valid {
				value := input[inIdx]
				if bestIdx < 0 || value > best {
					best = value
					bestIdx = inIdx
				}
			}
			if !incrementCoords(windowCoords, data.windowSizes) {
				break
			}
		}
		if bestIdx >= 0 {
			gradInput[bestIdx] += gradOutput[outIdx]
		}
		incrementCoords(outCoords, outDims)
	}
}

func execSumPoolGrad(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	gradOutput := inputs[0]
	data := node.data.(*reduceWindowNode)
	gradInput := backend.getBufferForShape(node.shape)
	switch gradOutput.shape.DType {
	case dtypes.Float32:
		execSumPoolGradGeneric(gradOutput.flat.([]float32), gradInput.flat.([]float32),
			node.shape.Dimensions, gradOutput.shape.Dimensions, data)
	case dtypes.Float64:
		execSumPoolGradGeneric(gradOutput.flat.([]float64), gradInput.flat.([]float64),
			node.shape.Dimensions, gradOutput.shape.Dimensions, data)
	default:
		exceptions.Panicf("unsupported data type %s for %s", gradOutput.shape.DType, node.opType)
	}
	return gradInput
}

// execSumPoolGradGeneric adds each gradOutput value to every valid position
// of its window.
func execSumPoolGradGeneric[T floatPODConstraints](gradOutput, gradInput []T, inDims, outDims []int, data *reduceWindowNode) {
	clear(gradInput)
	inStrides := computeStrides(inDims)
	outCoords := make([]int, len(outDims))
	windowCoords := make([]int, len(inDims))
	for outIdx := range gradOutput {
		clear(windowCoords)
		for {
			valid := true
			inIdx := 0
			for axis := range inDims {
				coord := outCoords[axis]*data.strides[axis] + windowCoords[axis] - data.paddings[axis][0]
				if coord < 0 || coord >= inDims[axis] {
					valid = false
					break
				}
				inIdx += coord * inStrides[axis]
			}
			if valid {
				gradInput[inIdx] += gradOutput[outIdx]
			}
			if !incrementCoords(windowCoords, data.windowSizes) {
				break
			}
		}
		incrementCoords(outCoords, outDims)
	}
}
