// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"reflect"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/shapes"
)

// Builder keeps track of the computation graph being defined.
type Builder struct {
	name     string
	backend  *Backend
	compiled bool

	// nodes are only created when their inputs have already been created,
	// so this is a natural DAG ordering of the graph. The executor relies
	// on this invariant.
	nodes []*Node

	// inputs have nodeParameter as data.
	inputs []*Node

	// outputs can be any type of node.
	outputs []*Node
}

// Compile-time check.
var _ backends.Builder = (*Builder)(nil)

// Node in the SimpleGo computation graph.
type Node struct {
	// builderIdx in Builder.nodes.
	builderIdx int
	inputs     []*Node

	opType  backends.OpType
	shape   shapes.Shape
	builder *Builder

	// data for the specific node type.
	data any
}

// Name implements backends.Builder.
func (b *Builder) Name() string {
	return b.name
}

// newNode adds a new node of the given opType and shape to the Builder graph.
// It's used by the ops when creating new nodes.
func (b *Builder) newNode(opType backends.OpType, shape shapes.Shape, inputs ...*Node) *Node {
	n := &Node{
		builder:    b,
		opType:     opType,
		builderIdx: len(b.nodes),
		shape:      shape,
		inputs:     slices.Clone(inputs),
	}
	b.nodes = append(b.nodes, n)
	return n
}

// checkOps validates that the ops were created by this builder and that the
// builder has not yet been compiled.
func (b *Builder) checkOps(opName string, ops ...backends.Op) []*Node {
	if b == nil {
		exceptions.Panicf("%s: Builder is nil, cannot build a computation", opName)
	}
	if b.compiled {
		exceptions.Panicf("cannot add op (%s) to builder %q, it has already been compiled", opName, b.name)
	}
	nodes := make([]*Node, len(ops))
	var ok bool
	for idx, op := range ops {
		if op == nil {
			exceptions.Panicf("%s: input op #%d is nil", opName, idx)
		}
		nodes[idx], ok = op.(*Node)
		if !ok {
			exceptions.Panicf("%s: input op #%d was not created by the %q backend", opName, idx, BackendName)
		}
		if nodes[idx].builder != b {
			exceptions.Panicf("%s: input op #%d was created by builder %q, cannot use it with builder %q",
				opName, idx, nodes[idx].builder.name, b.name)
		}
	}
	return nodes
}

// OpShape returns the shape of a computation Op.
func (b *Builder) OpShape(op backends.Op) shapes.Shape {
	return b.checkOps("OpShape", op)[0].shape
}

// nodeParameter data.
type nodeParameter struct {
	name     string
	inputIdx int
}

// Parameter implements backends.Builder.
func (b *Builder) Parameter(name string, shape shapes.Shape) backends.Op {
	b.checkOps("Parameter")
	if shape.DType == dtypes.InvalidDType {
		exceptions.Panicf("Parameter %q: invalid shape %s", name, shape)
	}
	node := b.newNode(backends.OpTypeParameter, shape.Clone())
	node.data = &nodeParameter{
		name:     name,
		inputIdx: len(b.inputs),
	}
	b.inputs = append(b.inputs, node)
	return node
}

// checkFlat throws an exception if flat is not a slice of a supported dtype.
// It returns the dtype and the length of the flat slice.
func checkFlat(flat any) (dtypes.DType, int) {
	flatType := reflect.TypeOf(flat)
	if flatType.Kind() != reflect.Slice {
		exceptions.Panicf("flat data must be a slice, got %s", flatType.Kind())
	}
	dtype := dtypes.FromGoType(flatType.Elem())
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("flat is a slice of %s, not a valid stax data type", flatType.Elem())
	}
	return dtype, reflect.ValueOf(flat).Len()
}

// Constant implements backends.Builder. The flat data is copied.
func (b *Builder) Constant(flat any, dims ...int) backends.Op {
	b.checkOps("Constant")
	dtype, flatLen := checkFlat(flat)
	shape := shapes.Make(dtype, dims...)
	if shape.Size() != flatLen {
		exceptions.Panicf("Constant: flat data ([%d]%s) does not match the size of shape %s",
			flatLen, dtype, shape)
	}
	flatCopy := reflect.MakeSlice(reflect.TypeOf(flat), flatLen, flatLen)
	reflect.Copy(flatCopy, reflect.ValueOf(flat))
	node := b.newNode(backends.OpTypeConstant, shape)
	node.data = &Buffer{
		shape: shape,
		flat:  flatCopy.Interface(),
		valid: true,
	}
	return node
}

// Iota implements backends.Builder.
func (b *Builder) Iota(shape shapes.Shape, axis int) backends.Op {
	b.checkOps("Iota")
	if shape.Rank() == 0 {
		exceptions.Panicf("Iota: shape %s must have at least one axis", shape)
	}
	if axis < 0 || axis >= shape.Rank() {
		exceptions.Panicf("Iota: axis %d out of range for shape %s", axis, shape)
	}
	node := b.newNode(backends.OpTypeIota, shape.Clone())
	node.data = axis
	return node
}

// ConvertDType implements backends.Builder.
func (b *Builder) ConvertDType(x backends.Op, dtype dtypes.DType) backends.Op {
	operand := b.checkOps("ConvertDType", x)[0]
	if operand.shape.DType == dtype {
		return operand
	}
	shape := operand.shape.Clone()
	shape.DType = dtype
	return b.newNode(backends.OpTypeConvertDType, shape, operand)
}

// Reshape implements backends.Builder. The total size cannot change.
func (b *Builder) Reshape(x backends.Op, dims ...int) backends.Op {
	operand := b.checkOps("Reshape", x)[0]
	shape := shapes.Make(operand.shape.DType, dims...)
	if shape.Size() != operand.shape.Size() {
		exceptions.Panicf("Reshape: cannot reshape %s to %s, total sizes differ", operand.shape, shape)
	}
	return b.newNode(backends.OpTypeReshape, shape, operand)
}

// Transpose implements backends.Builder.
func (b *Builder) Transpose(x backends.Op, permutation ...int) backends.Op {
	operand := b.checkOps("Transpose", x)[0]
	rank := operand.shape.Rank()
	if len(permutation) != rank {
		exceptions.Panicf("Transpose: permutation %v must have one value per axis of %s",
			permutation, operand.shape)
	}
	seen := make([]bool, rank)
	dims := make([]int, rank)
	for axis, src := range permutation {
		if src < 0 || src >= rank || seen[src] {
			exceptions.Panicf("Transpose: invalid permutation %v for shape %s", permutation, operand.shape)
		}
		seen[src] = true
		dims[axis] = operand.shape.Dimensions[src]
	}
	node := b.newNode(backends.OpTypeTranspose, shapes.Make(operand.shape.DType, dims...), operand)
	node.data = slices.Clone(permutation)
	return node
}

// BroadcastInDim implements backends.Builder.
func (b *Builder) BroadcastInDim(x backends.Op, shape shapes.Shape, broadcastAxes []int) backends.Op {
	operand := b.checkOps("BroadcastInDim", x)[0]
	if shape.DType != operand.shape.DType {
		exceptions.Panicf("BroadcastInDim: cannot change dtype from %s to %s", operand.shape.DType, shape.DType)
	}
	if len(broadcastAxes) != operand.shape.Rank() {
		exceptions.Panicf("BroadcastInDim: broadcastAxes %v must have one value per axis of %s",
			broadcastAxes, operand.shape)
	}
	for inputAxis, outputAxis := range broadcastAxes {
		if outputAxis < 0 || outputAxis >= shape.Rank() {
			exceptions.Panicf("BroadcastInDim: broadcast axis %d out of range for target shape %s",
				outputAxis, shape)
		}
		if inputAxis > 0 && broadcastAxes[inputAxis-1] >= outputAxis {
			exceptions.Panicf("BroadcastInDim: broadcastAxes %v must be strictly increasing", broadcastAxes)
		}
		inputDim := operand.shape.Dimensions[inputAxis]
		if inputDim != 1 && inputDim != shape.Dimensions[outputAxis] {
			exceptions.Panicf("BroadcastInDim: axis %d of %s cannot be broadcast to dimension %d of %s",
				inputAxis, operand.shape, shape.Dimensions[outputAxis], shape)
		}
	}
	node := b.newNode(backends.OpTypeBroadcastInDim, shape.Clone(), operand)
	node.data = slices.Clone(broadcastAxes)
	return node
}

// addUnaryOp adds a generic unary op, that preserves the operand shape.
func (b *Builder) addUnaryOp(opType backends.OpType, x backends.Op) backends.Op {
	operand := b.checkOps(opType.String(), x)[0]
	if !operand.shape.DType.IsFloat() && !operand.shape.DType.IsInt() {
		exceptions.Panicf("%s: operation not defined for dtype %s", opType, operand.shape.DType)
	}
	return b.newNode(opType, operand.shape.Clone(), operand)
}

// Neg implements backends.Builder.
func (b *Builder) Neg(x backends.Op) backends.Op { return b.addUnaryOp(backends.OpTypeNeg, x) }

// Abs implements backends.Builder.
func (b *Builder) Abs(x backends.Op) backends.Op { return b.addUnaryOp(backends.OpTypeAbs, x) }

// Exp implements backends.Builder.
func (b *Builder) Exp(x backends.Op) backends.Op { return b.addUnaryOp(backends.OpTypeExp, x) }

// Log implements backends.Builder.
func (b *Builder) Log(x backends.Op) backends.Op { return b.addUnaryOp(backends.OpTypeLog, x) }

// Sqrt implements backends.Builder.
func (b *Builder) Sqrt(x backends.Op) backends.Op { return b.addUnaryOp(backends.OpTypeSqrt, x) }

// Tanh implements backends.Builder.
func (b *Builder) Tanh(x backends.Op) backends.Op { return b.addUnaryOp(backends.OpTypeTanh, x) }

// binaryOperands checks the two operands have identical shapes.
// Broadcasting is resolved by the caller with BroadcastInDim.
func (b *Builder) binaryOperands(opType backends.OpType, x, y backends.Op) (lhs, rhs *Node) {
	inputs := b.checkOps(opType.String(), x, y)
	lhs, rhs = inputs[0], inputs[1]
	if !lhs.shape.Equal(rhs.shape) {
		exceptions.Panicf("%s: operands must have identical shapes, got %s and %s",
			opType, lhs.shape, rhs.shape)
	}
	return
}

// addBinaryOp adds a generic binary op.
func (b *Builder) addBinaryOp(opType backends.OpType, x, y backends.Op) backends.Op {
	lhs, rhs := b.binaryOperands(opType, x, y)
	return b.newNode(opType, lhs.shape.Clone(), lhs, rhs)
}

// addComparisonOp adds a generic comparison op, with dtype Bool.
func (b *Builder) addComparisonOp(opType backends.OpType, x, y backends.Op) backends.Op {
	lhs, rhs := b.binaryOperands(opType, x, y)
	shape := lhs.shape.Clone()
	shape.DType = dtypes.Bool
	return b.newNode(opType, shape, lhs, rhs)
}

// Add implements backends.Builder.
func (b *Builder) Add(x, y backends.Op) backends.Op { return b.addBinaryOp(backends.OpTypeAdd, x, y) }

// Sub implements backends.Builder.
func (b *Builder) Sub(x, y backends.Op) backends.Op { return b.addBinaryOp(backends.OpTypeSub, x, y) }

// Mul implements backends.Builder.
func (b *Builder) Mul(x, y backends.Op) backends.Op { return b.addBinaryOp(backends.OpTypeMul, x, y) }

// Div implements backends.Builder.
func (b *Builder) Div(x, y backends.Op) backends.Op { return b.addBinaryOp(backends.OpTypeDiv, x, y) }

// Pow implements backends.Builder.
func (b *Builder) Pow(x, y backends.Op) backends.Op { return b.addBinaryOp(backends.OpTypePow, x, y) }

// Max implements backends.Builder.
func (b *Builder) Max(x, y backends.Op) backends.Op { return b.addBinaryOp(backends.OpTypeMax, x, y) }

// Min implements backends.Builder.
func (b *Builder) Min(x, y backends.Op) backends.Op { return b.addBinaryOp(backends.OpTypeMin, x, y) }

// Equal implements backends.Builder.
func (b *Builder) Equal(x, y backends.Op) backends.Op {
	return b.addComparisonOp(backends.OpTypeEqual, x, y)
}

// GreaterThan implements backends.Builder.
func (b *Builder) GreaterThan(x, y backends.Op) backends.Op {
	return b.addComparisonOp(backends.OpTypeGreaterThan, x, y)
}

// GreaterOrEqual implements backends.Builder.
func (b *Builder) GreaterOrEqual(x, y backends.Op) backends.Op {
	return b.addComparisonOp(backends.OpTypeGreaterOrEqual, x, y)
}

// Where implements backends.Builder.
func (b *Builder) Where(condition, onTrue, onFalse backends.Op) backends.Op {
	inputs := b.checkOps("Where", condition, onTrue, onFalse)
	cond, lhs, rhs := inputs[0], inputs[1], inputs[2]
	if cond.shape.DType != dtypes.Bool {
		exceptions.Panicf("Where: condition must be Bool, got %s", cond.shape)
	}
	if !lhs.shape.Equal(rhs.shape) || !cond.shape.EqualDimensions(lhs.shape) {
		exceptions.Panicf("Where: operands must have identical dimensions, got %s, %s and %s",
			cond.shape, lhs.shape, rhs.shape)
	}
	return b.newNode(backends.OpTypeWhere, lhs.shape.Clone(), cond, lhs, rhs)
}

// normalizeReduceAxes validates the axes and returns them sorted, without
// duplicates. No axes means reduce over all of them.
func normalizeReduceAxes(opType backends.OpType, shape shapes.Shape, axes []int) []int {
	if len(axes) == 0 {
		axes = make([]int, shape.Rank())
		for axis := range axes {
			axes[axis] = axis
		}
		return axes
	}
	axes = slices.Clone(axes)
	slices.Sort(axes)
	for ii, axis := range axes {
		if axis < 0 || axis >= shape.Rank() {
			exceptions.Panicf("%s: axis %d out of range for shape %s", opType, axis, shape)
		}
		if ii > 0 && axes[ii-1] == axis {
			exceptions.Panicf("%s: axis %d given more than once", opType, axis)
		}
	}
	return axes
}

// reducedShape returns shape with the given (sorted) axes removed.
func reducedShape(shape shapes.Shape, sortedAxes []int) shapes.Shape {
	dims := make([]int, 0, shape.Rank()-len(sortedAxes))
	for axis, dim := range shape.Dimensions {
		if _, found := slices.BinarySearch(sortedAxes, axis); !found {
			dims = append(dims, dim)
		}
	}
	return shapes.Make(shape.DType, dims...)
}

// addReduceOp adds a reduction op over the given axes.
func (b *Builder) addReduceOp(opType backends.OpType, x backends.Op, axes []int) backends.Op {
	operand := b.checkOps(opType.String(), x)[0]
	axes = normalizeReduceAxes(opType, operand.shape, axes)
	node := b.newNode(opType, reducedShape(operand.shape, axes), operand)
	node.data = axes
	return node
}

// ReduceSum implements backends.Builder.
func (b *Builder) ReduceSum(x backends.Op, axes ...int) backends.Op {
	return b.addReduceOp(backends.OpTypeReduceSum, x, axes)
}

// ReduceMax implements backends.Builder.
func (b *Builder) ReduceMax(x backends.Op, axes ...int) backends.Op {
	return b.addReduceOp(backends.OpTypeReduceMax, x, axes)
}

// argMaxNode is attached to Node.data for ArgMax.
type argMaxNode struct {
	axis int
}

// ArgMax implements backends.Builder.
func (b *Builder) ArgMax(x backends.Op, axis int, outputDType dtypes.DType) backends.Op {
	operand := b.checkOps("ArgMax", x)[0]
	if operand.shape.Rank() == 0 {
		exceptions.Panicf("ArgMax: operand must have at least one axis, got %s", operand.shape)
	}
	if axis < 0 || axis >= operand.shape.Rank() {
		exceptions.Panicf("ArgMax: axis %d out of range for shape %s", axis, operand.shape)
	}
	if !outputDType.IsInt() && !outputDType.IsFloat() {
		exceptions.Panicf("ArgMax: invalid output dtype %s", outputDType)
	}
	shape := reducedShape(operand.shape, []int{axis})
	shape.DType = outputDType
	node := b.newNode(backends.OpTypeArgMax, shape, operand)
	node.data = &argMaxNode{axis: axis}
	return node
}

// Compile implements backends.Builder. It immediately invalidates the
// Builder and returns the Executable for the computation.
func (b *Builder) Compile(outputs ...backends.Op) backends.Executable {
	if len(outputs) == 0 {
		exceptions.Panicf("Compile: computation %q has no outputs", b.name)
	}
	// The same node may appear several times in the output list (e.g. a value
	// returned both as a result and as a state update): it is computed once
	// and its buffer fanned out at collection time.
	b.outputs = b.checkOps("Compile", outputs...)
	b.compiled = true
	return newExecutable(b)
}
