// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/backends"
)

func init() {
	nodeExecutors[backends.OpTypeNeg] = execNeg
	nodeExecutors[backends.OpTypeAbs] = execAbs
	nodeExecutors[backends.OpTypeExp] = execExp
	nodeExecutors[backends.OpTypeLog] = execLog
	nodeExecutors[backends.OpTypeSqrt] = execSqrt
	nodeExecutors[backends.OpTypeTanh] = execTanh
}

// unaryOperandAndOutput is a convenience function to get the input and the
// output buffer, which reuses the input buffer when it is owned.
func unaryOperandAndOutput(backend *Backend, inputs []*Buffer, inputsOwned []bool) (input, output *Buffer) {
	input = inputs[0]
	if inputsOwned[0] {
		output = input
		inputs[0] = nil // Tells the executor we took over the buffer.
		return
	}
	output = backend.getBufferForShape(input.shape)
	return
}

func execNeg(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	input, output := unaryOperandAndOutput(backend, inputs, inputsOwned)
	switch input.shape.DType {
	case dtypes.Int8:
		execNegGeneric(input.flat.([]int8), output.flat.([]int8))
	case dtypes.Int16:
		execNegGeneric(input.flat.([]int16), output.flat.([]int16))
	case dtypes.Int32:
		execNegGeneric(input.flat.([]int32), output.flat.([]int32))
	case dtypes.Int64:
		execNegGeneric(input.flat.([]int64), output.flat.([]int64))
	case dtypes.Float32:
		execNegGeneric(input.flat.([]float32), output.flat.([]float32))
	case dtypes.Float64:
		execNegGeneric(input.flat.([]float64), output.flat.([]float64))
	default:
		exceptions.Panicf("unsupported data type %s for %s", input.shape.DType, node.opType)
	}
	return output
}

func execNegGeneric[T signedPODConstraints](inputs, outputs []T) {
	for ii, input := range inputs {
		outputs[ii] = -input
	}
}

func execAbs(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	input, output := unaryOperandAndOutput(backend, inputs, inputsOwned)
	switch input.shape.DType {
	case dtypes.Int8:
		execAbsGeneric(input.flat.([]int8), output.flat.([]int8))
	case dtypes.Int16:
		execAbsGeneric(input.flat.([]int16), output.flat.([]int16))
	case dtypes.Int32:
		execAbsGeneric(input.flat.([]int32), output.flat.([]int32))
	case dtypes.Int64:
		execAbsGeneric(input.flat.([]int64), output.flat.([]int64))
	case dtypes.Uint8:
		copy(output.flat.([]uint8), input.flat.([]uint8))
	case dtypes.Uint16:
		copy(output.flat.([]uint16), input.flat.([]uint16))
	case dtypes.Uint32:
		copy(output.flat.([]uint32), input.flat.([]uint32))
	case dtypes.Uint64:
		copy(output.flat.([]uint64), input.flat.([]uint64))
	case dtypes.Float32:
		execAbsGeneric(input.flat.([]float32), output.flat.([]float32))
	case dtypes.Float64:
		execAbsGeneric(input.flat.([]float64), output.flat.([]float64))
	default:
		exceptions.Panicf("unsupported data type %s for %s", input.shape.DType, node.opType)
	}
	return output
}

func execAbsGeneric[T signedPODConstraints](inputs, outputs []T) {
	for ii, input := range inputs {
		if input < 0 {
			input = -input
		}
		outputs[ii] = input
	}
}

// floatUnaryExecutor builds a nodeExecutor for a float-only unary function.
func floatUnaryExecutor(fn func(float64) float64) nodeExecutor {
	return func(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
		input, output := unaryOperandAndOutput(backend, inputs, inputsOwned)
		switch input.shape.DType {
		case dtypes.Float32:
			execFloatUnaryGeneric(input.flat.([]float32), output.flat.([]float32), fn)
		case dtypes.Float64:
			execFloatUnaryGeneric(input.flat.([]float64), output.flat.([]float64), fn)
		default:
			exceptions.Panicf("unsupported data type %s for %s", input.shape.DType, node.opType)
		}
		return output
	}
}

func execFloatUnaryGeneric[T floatPODConstraints](inputs, outputs []T, fn func(float64) float64) {
	for ii, input := range inputs {
		outputs[ii] = T(fn(float64(input)))
	}
}

var (
	execExp  = floatUnaryExecutor(math.Exp)
	execLog  = floatUnaryExecutor(math.Log)
	execSqrt = floatUnaryExecutor(math.Sqrt)
	execTanh = floatUnaryExecutor(math.Tanh)
)
