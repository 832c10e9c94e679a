// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/backends"
)

func init() {
	for _, opType := range []backends.OpType{
		backends.OpTypeAdd, backends.OpTypeSub, backends.OpTypeMul,
		backends.OpTypeDiv, backends.OpTypeMax, backends.OpTypeMin,
	} {
		nodeExecutors[opType] = execNumericBinary
	}
	nodeExecutors[backends.OpTypePow] = execPow
	for _, opType := range []backends.OpType{
		backends.OpTypeEqual, backends.OpTypeGreaterThan, backends.OpTypeGreaterOrEqual,
	} {
		nodeExecutors[opType] = execComparison
	}
	nodeExecutors[backends.OpTypeWhere] = execWhere
}

// binaryOperandsAndOutput gets the two operands and the output buffer,
// reusing one of the operand buffers when owned. Operands and output all
// have the same shape.
func binaryOperandsAndOutput(backend *Backend, inputs []*Buffer, inputsOwned []bool) (lhs, rhs, output *Buffer) {
	lhs, rhs = inputs[0], inputs[1]
	if inputsOwned[0] {
		output = lhs
		inputs[0] = nil
	} else if inputsOwned[1] {
		output = rhs
		inputs[1] = nil
	} else {
		output = backend.getBufferForShape(lhs.shape)
	}
	return
}

func execNumericBinary(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	lhs, rhs, output := binaryOperandsAndOutput(backend, inputs, inputsOwned)
	switch lhs.shape.DType {
	case dtypes.Int8:
		execNumericBinaryGeneric(node.opType, lhs.flat.([]int8), rhs.flat.([]int8), output.flat.([]int8))
	case dtypes.Int16:
		execNumericBinaryGeneric(node.opType, lhs.flat.([]int16), rhs.flat.([]int16), output.flat.([]int16))
	case dtypes.Int32:
		execNumericBinaryGeneric(node.opType, lhs.flat.([]int32), rhs.flat.([]int32), output.flat.([]int32))
	case dtypes.Int64:
		execNumericBinaryGeneric(node.opType, lhs.flat.([]int64), rhs.flat.([]int64), output.flat.([]int64))
	case dtypes.Uint8:
		execNumericBinaryGeneric(node.opType, lhs.flat.([]uint8), rhs.flat.([]uint8), output.flat.([]uint8))
	case dtypes.Uint16:
		execNumericBinaryGeneric(node.opType, lhs.flat.([]uint16), rhs.flat.([]uint16), output.flat.([]uint16))
	case dtypes.Uint32:
		execNumericBinaryGeneric(node.opType, lhs.flat.([]uint32), rhs.flat.([]uint32), output.flat.([]uint32))
	case dtypes.Uint64:
		execNumericBinaryGeneric(node.opType, lhs.flat.([]uint64), rhs.flat.([]uint64), output.flat.([]uint64))
	case dtypes.Float32:
		execNumericBinaryGeneric(node.opType, lhs.flat.([]float32), rhs.flat.([]float32), output.flat.([]float32))
	case dtypes.Float64:
		execNumericBinaryGeneric(node.opType, lhs.flat.([]float64), rhs.flat.([]float64), output.flat.([]float64))
	default:
		exceptions.Panicf("unsupported data type %s for %s", lhs.shape.DType, node.opType)
	}
	return output
}

func execNumericBinaryGeneric[T numericPODConstraints](opType backends.OpType, lhs, rhs, outputs []T) {
	switch opType {
	case backends.OpTypeAdd:
		for ii := range outputs {
			outputs[ii] = lhs[ii] + rhs[ii]
		}
	case backends.OpTypeSub:
		for ii := range outputs {
			outputs[ii] = lhs[ii] - rhs[ii]
		}
	case backends.OpTypeMul:
		for ii := range outputs {
			outputs[ii] = lhs[ii] * rhs[ii]
		}
	case backends.OpTypeDiv:
		for ii := range outputs {
			outputs[ii] = lhs[ii] / rhs[ii]
		}
	case backends.OpTypeMax:
		for ii := range outputs {
			outputs[ii] = max(lhs[ii], rhs[ii])
		}
	case backends.OpTypeMin:
		for ii := range outputs {
			outputs[ii] = min(lhs[ii], rhs[ii])
		}
	default:
		exceptions.Panicf("op %s is not a numeric binary operation", opType)
	}
}

func execPow(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	lhs, rhs, output := binaryOperandsAndOutput(backend, inputs, inputsOwned)
	switch lhs.shape.DType {
	case dtypes.Int8:
		execPowIntGeneric(lhs.flat.([]int8), rhs.flat.([]int8), output.flat.([]int8))
	case dtypes.Int16:
		execPowIntGeneric(lhs.flat.([]int16), rhs.flat.([]int16), output.flat.([]int16))
	case dtypes.Int32:
		execPowIntGeneric(lhs.flat.([]int32), rhs.flat.([]int32), output.flat.([]int32))
	case dtypes.Int64:
		execPowIntGeneric(lhs.flat.([]int64), rhs.flat.([]int64), output.flat.([]int64))
	case dtypes.Uint8:
		execPowIntGeneric(lhs.flat.([]uint8), rhs.flat.([]uint8), output.flat.([]uint8))
	case dtypes.Uint16:
		execPowIntGeneric(lhs.flat.([]uint16), rhs.flat.([]uint16), output.flat.([]uint16))
	case dtypes.Uint32:
		execPowIntGeneric(lhs.flat.([]uint32), rhs.flat.([]uint32), output.flat.([]uint32))
	case dtypes.Uint64:
		execPowIntGeneric(lhs.flat.([]uint64), rhs.flat.([]uint64), output.flat.([]uint64))
	case dtypes.Float32:
		execPowFloatGeneric(lhs.flat.([]float32), rhs.flat.([]float32), output.flat.([]float32))
	case dtypes.Float64:
		execPowFloatGeneric(lhs.flat.([]float64), rhs.flat.([]float64), output.flat.([]float64))
	default:
		exceptions.Panicf("unsupported data type %s for %s", lhs.shape.DType, node.opType)
	}
	return output
}

func execPowFloatGeneric[T floatPODConstraints](lhs, rhs, outputs []T) {
	for ii := range outputs {
		outputs[ii] = T(math.Pow(float64(lhs[ii]), float64(rhs[ii])))
	}
}

func execPowIntGeneric[T integerPODConstraints](lhs, rhs, outputs []T) {
	for ii := range outputs {
		outputs[ii] = intPow(lhs[ii], rhs[ii])
	}
}

// intPow is exponentiation by squaring.
// Negative exponents truncate to 0, except for base 1.
func intPow[T integerPODConstraints](base, exp T) T {
	if base == 1 || exp == 0 {
		return 1
	}
	var zero T
	if exp < zero {
		return 0
	}
	result := T(1)
	for ; exp > 0; exp >>= 1 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
	}
	return result
}

func execComparison(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	lhs, rhs := inputs[0], inputs[1]
	// The output dtype (Bool) differs from the operands, so operand buffers
	// are never reused.
	output := backend.getBufferForShape(node.shape)
	outputFlat := output.flat.([]bool)
	switch lhs.shape.DType {
	case dtypes.Int8:
		execComparisonGeneric(node.opType, lhs.flat.([]int8), rhs.flat.([]int8), outputFlat)
	case dtypes.Int16:
		execComparisonGeneric(node.opType, lhs.flat.([]int16), rhs.flat.([]int16), outputFlat)
	case dtypes.Int32:
		execComparisonGeneric(node.opType, lhs.flat.([]int32), rhs.flat.([]int32), outputFlat)
	case dtypes.Int64:
		execComparisonGeneric(node.opType, lhs.flat.([]int64), rhs.flat.([]int64), outputFlat)
	case dtypes.Uint8:
		execComparisonGeneric(node.opType, lhs.flat.([]uint8), rhs.flat.([]uint8), outputFlat)
	case dtypes.Uint16:
		execComparisonGeneric(node.opType, lhs.flat.([]uint16), rhs.flat.([]uint16), outputFlat)
	case dtypes.Uint32:
		execComparisonGeneric(node.opType, lhs.flat.([]uint32), rhs.flat.([]uint32), outputFlat)
	case dtypes.Uint64:
		execComparisonGeneric(node.opType, lhs.flat.([]uint64), rhs.flat.([]uint64), outputFlat)
	case dtypes.Float32:
		execComparisonGeneric(node.opType, lhs.flat.([]float32), rhs.flat.([]float32), outputFlat)
	case dtypes.Float64:
		execComparisonGeneric(node.opType, lhs.flat.([]float64), rhs.flat.([]float64), outputFlat)
	default:
		exceptions.Panicf("unsupported data type %s for %s", lhs.shape.DType, node.opType)
	}
	return output
}

func execComparisonGeneric[T numericPODConstraints](opType backends.OpType, lhs, rhs []T, outputs []bool) {
	switch opType {
	case backends.OpTypeEqual:
		for ii := range outputs {
			outputs[ii] = lhs[ii] == rhs[ii]
		}
	case backends.OpTypeGreaterThan:
		for ii := range outputs {
			outputs[ii] = lhs[ii] > rhs[ii]
		}
	case backends.OpTypeGreaterOrEqual:
		for ii := range outputs {
			outputs[ii] = lhs[ii] >= rhs[ii]
		}
	default:
		exceptions.Panicf("op %s is not a comparison operation", opType)
	}
}

func execWhere(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	condition, onTrue, onFalse := inputs[0], inputs[1], inputs[2]
	var output *Buffer
	if inputsOwned[1] {
		output = onTrue
		inputs[1] = nil
	} else if inputsOwned[2] {
		output = onFalse
		inputs[2] = nil
	} else {
		output = backend.getBufferForShape(node.shape)
	}
	conditionFlat := condition.flat.([]bool)
	switch node.shape.DType {
	case dtypes.Bool:
		execWhereGeneric(conditionFlat, onTrue.flat.([]bool), onFalse.flat.([]bool), output.flat.([]bool))
	case dtypes.Int8:
		execWhereGeneric(conditionFlat, onTrue.flat.([]int8), onFalse.flat.([]int8), output.flat.([]int8))
	case dtypes.Int16:
		execWhereGeneric(conditionFlat, onTrue.flat.([]int16), onFalse.flat.([]int16), output.flat.([]int16))
	case dtypes.Int32:
		execWhereGeneric(conditionFlat, onTrue.flat.([]int32), onFalse.flat.([]int32), output.flat.([]int32))
	case dtypes.Int64:
		execWhereGeneric(conditionFlat, onTrue.flat.([]int64), onFalse.flat.([]int64), output.flat.([]int64))
	case dtypes.Uint8:
		execWhereGeneric(conditionFlat, onTrue.flat.([]uint8), onFalse.flat.([]uint8), output.flat.([]uint8))
	case dtypes.Uint16:
		execWhereGeneric(conditionFlat, onTrue.flat.([]uint16), onFalse.flat.([]uint16), output.flat.([]uint16))
	case dtypes.Uint32:
		execWhereGeneric(conditionFlat, onTrue.flat.([]uint32), onFalse.flat.([]uint32), output.flat.([]uint32))
	case dtypes.Uint64:
		execWhereGeneric(conditionFlat, onTrue.flat.([]uint64), onFalse.flat.([]uint64), output.flat.([]uint64))
	case dtypes.Float32:
		execWhereGeneric(conditionFlat, onTrue.flat.([]float32), onFalse.flat.([]float32), output.flat.([]float32))
	case dtypes.Float64:
		execWhereGeneric(conditionFlat, onTrue.flat.([]float64), onFalse.flat.([]float64), output.flat.([]float64))
	default:
		exceptions.Panicf("unsupported data type %s for %s", node.shape.DType, node.opType)
	}
	return output
}

func execWhereGeneric[T supportedTypesConstraints](condition []bool, onTrue, onFalse, outputs []T) {
	for ii, cond := range condition {
		if cond {
			outputs[ii] = onTrue[ii]
		} else {
			outputs[ii] = onFalse[ii]
		}
	}
}
