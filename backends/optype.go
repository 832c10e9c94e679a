// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// OpType is an enum of the operations a Backend.Builder supports.
//
// It is used by backends to dispatch execution and by the graph package to
// report errors; nothing precludes a specialized backend from supporting
// extra ops beyond these.
type OpType int

const (
	OpTypeInvalid OpType = iota
	OpTypeParameter
	OpTypeConstant

	OpTypeAbs
	OpTypeAdd
	OpTypeArgMax
	OpTypeBroadcastInDim
	OpTypeConvGeneral
	OpTypeConvGradInput
	OpTypeConvGradKernel
	OpTypeConvertDType
	OpTypeDiv
	OpTypeEqual
	OpTypeExp
	OpTypeGreaterOrEqual
	OpTypeGreaterThan
	OpTypeIota
	OpTypeLog
	OpTypeMax
	OpTypeMaxPoolGrad
	OpTypeMin
	OpTypeMul
	OpTypeNeg
	OpTypePow
	OpTypeReduceMax
	OpTypeReduceSum
	OpTypeReduceWindowMax
	OpTypeReduceWindowSum
	OpTypeReshape
	OpTypeSqrt
	OpTypeSub
	OpTypeSumPoolGrad
	OpTypeTanh
	OpTypeTranspose
	OpTypeWhere

	// OpTypeLast is kept last and used as a counter/marker for OpType.
	OpTypeLast
)

var opTypeNames = [OpTypeLast + 1]string{
	"Invalid",
	"Parameter",
	"Constant",
	"Abs",
	"Add",
	"ArgMax",
	"BroadcastInDim",
	"ConvGeneral",
	"ConvGradInput",
	"ConvGradKernel",
	"ConvertDType",
	"Div",
	"Equal",
	"Exp",
	"GreaterOrEqual",
	"GreaterThan",
	"Iota",
	"Log",
	"Max",
	"MaxPoolGrad",
	"Min",
	"Mul",
	"Neg",
	"Pow",
	"ReduceMax",
	"ReduceSum",
	"ReduceWindowMax",
	"ReduceWindowSum",
	"Reshape",
	"Sqrt",
	"Sub",
	"SumPoolGrad",
	"Tanh",
	"Transpose",
	"Where",
	"Last",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || op > OpTypeLast {
		return "InvalidOpType"
	}
	return opTypeNames[op]
}
