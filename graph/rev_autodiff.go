// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	. "github.com/gomlx/exceptions"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/xslices"
)

// This file implements reverse-mode automatic differentiation with
// vector-Jacobian products (VJPs).
//
// Conventions: the "output" is the scalar being differentiated (typically a
// loss); the "adjoint" of a node is the gradient of the output with respect
// to that node's value, accumulated as the sum of the contributions
// back-propagated by each of the node's consumers. Nodes are processed in
// reverse creation order, which is a reverse topological order of the
// computation DAG, so by the time a node is processed every consumer has
// already contributed to its adjoint.
//
// Because binary operations broadcast their operands explicitly (see
// broadcastForBinaryOp), the element-wise VJPs here always see inputs with
// the node's own shape; un-broadcasting is handled once, by the VJP of
// BroadcastInDim.

// Gradient builds the nodes computing the gradient of the scalar output with
// respect to each node of gradientNodes, and returns them in the same order.
// The new nodes are added to the same graph, and can be further composed or
// given to Graph.Compile as outputs.
//
// Nodes with no effect on output get a zero gradient. Gradients do not flow
// through StopGradient nodes, nor through non-float values (comparison
// results, integer indices).
func Gradient(output *Node, gradientNodes ...*Node) []*Node {
	all := make([]*Node, 0, len(gradientNodes)+1)
	all = append(all, output)
	all = append(all, gradientNodes...)
	g := validateBuildingGraphFromInputs(all...)
	if !output.IsScalar() || !output.DType().IsFloat() {
		Panicf("Gradient requires a float scalar output, got %s", output.shape)
	}
	for ii, node := range gradientNodes {
		if !node.DType().IsFloat() {
			Panicf("Gradient with respect to gradientNodes[%d] requires a float dtype, got %s",
				ii, node.shape)
		}
	}

	// useful[id]: the node depends on at least one of the gradientNodes, so
	// its adjoint is worth building. Inputs always precede their consumers
	// in g.nodes, so a single forward pass resolves it.
	numNodes := len(g.nodes)
	useful := make([]bool, numNodes)
	for _, node := range gradientNodes {
		useful[node.id] = true
	}
	for id := 0; id < numNodes; id++ {
		node := g.nodes[id]
		if useful[id] || node.stopGradient {
			continue
		}
		for _, input := range node.inputs {
			if useful[input.id] {
				useful[id] = true
				break
			}
		}
	}

	// Back-propagate adjoints from the output. Nodes created by the VJPs
	// are appended after numNodes and never revisited by the sweep.
	adjoints := make([]*Node, numNodes)
	adjoints[output.id] = ScalarOne(g, output.DType())
	for id := output.id; id >= 0; id-- {
		node := g.nodes[id]
		adjoint := adjoints[id]
		if adjoint == nil || node.stopGradient || !useful[id] {
			continue
		}
		needInputs := false
		for _, input := range node.inputs {
			if useful[input.id] {
				needInputs = true
				break
			}
		}
		if !needInputs {
			continue
		}
		vjp, found := vjpRegistry[node.opType]
		if !found {
			Panicf("gradient of operation %s is not implemented", node.opType)
		}
		inputAdjoints := vjp(node, adjoint)
		if len(inputAdjoints) != len(node.inputs) {
			Panicf("gradient of %s built %d terms for %d inputs",
				node.opType, len(inputAdjoints), len(node.inputs))
		}
		for ii, inputAdjoint := range inputAdjoints {
			input := node.inputs[ii]
			if inputAdjoint == nil || !useful[input.id] {
				continue
			}
			if !inputAdjoint.shape.Equal(input.shape) {
				Panicf("gradient of %s built a %s term for input #%d shaped %s",
					node.opType, inputAdjoint.shape, ii, input.shape)
			}
			if adjoints[input.id] == nil {
				adjoints[input.id] = inputAdjoint
			} else {
				adjoints[input.id] = Add(adjoints[input.id], inputAdjoint)
			}
		}
	}

	grads := make([]*Node, len(gradientNodes))
	for ii, node := range gradientNodes {
		grad := adjoints[node.id]
		if grad == nil {
			grad = Zeros(g, node.shape)
		}
		grads[ii] = grad
	}
	return grads
}

// vjpFn builds the adjoints of a node's inputs given the adjoint of the node
// itself: one term per input, nil where no gradient flows.
type vjpFn func(node, adjoint *Node) []*Node

// vjpRegistry maps differentiable operations to their VJP. Operations
// absent from the table (comparisons, ArgMax, the gradient ops themselves)
// block the gradient; leaf operations (Parameter, Constant, Iota) never
// need one.
var vjpRegistry = map[backends.OpType]vjpFn{
	backends.OpTypeAbs:             absVJP,
	backends.OpTypeAdd:             addVJP,
	backends.OpTypeBroadcastInDim:  broadcastInDimVJP,
	backends.OpTypeConvGeneral:     convGeneralVJP,
	backends.OpTypeConvertDType:    convertDTypeVJP,
	backends.OpTypeDiv:             divVJP,
	backends.OpTypeExp:             expVJP,
	backends.OpTypeLog:             logVJP,
	backends.OpTypeMax:             maxVJP,
	backends.OpTypeMin:             minVJP,
	backends.OpTypeMul:             mulVJP,
	backends.OpTypeNeg:             negVJP,
	backends.OpTypePow:             powVJP,
	backends.OpTypeReduceMax:       reduceMaxVJP,
	backends.OpTypeReduceSum:       reduceSumVJP,
	backends.OpTypeReduceWindowMax: reduceWindowMaxVJP,
	backends.OpTypeReduceWindowSum: reduceWindowSumVJP,
	backends.OpTypeReshape:         reshapeVJP,
	backends.OpTypeSqrt:            sqrtVJP,
	backends.OpTypeSub:             subVJP,
	backends.OpTypeTanh:            tanhVJP,
	backends.OpTypeTranspose:       transposeVJP,
	backends.OpTypeWhere:           whereVJP,
}

func negVJP(_, adjoint *Node) []*Node {
	return []*Node{Neg(adjoint)}
}

func absVJP(node, adjoint *Node) []*Node {
	return []*Node{Mul(adjoint, Sign(node.inputs[0]))}
}

func expVJP(node, adjoint *Node) []*Node {
	return []*Node{Mul(adjoint, node)}
}

func logVJP(node, adjoint *Node) []*Node {
	return []*Node{Div(adjoint, node.inputs[0])}
}

func sqrtVJP(node, adjoint *Node) []*Node {
	// d(sqrt(x))/dx = 1/(2*sqrt(x)).
	return []*Node{Div(MulScalar(adjoint, 0.5), node)}
}

func tanhVJP(node, adjoint *Node) []*Node {
	return []*Node{Mul(adjoint, OneMinus(Square(node)))}
}

func addVJP(_, adjoint *Node) []*Node {
	return []*Node{adjoint, adjoint}
}

func subVJP(_, adjoint *Node) []*Node {
	return []*Node{adjoint, Neg(adjoint)}
}

func mulVJP(node, adjoint *Node) []*Node {
	x, y := node.inputs[0], node.inputs[1]
	return []*Node{Mul(adjoint, y), Mul(adjoint, x)}
}

func divVJP(node, adjoint *Node) []*Node {
	y := node.inputs[1]
	// d(x/y)/dx = 1/y; d(x/y)/dy = -x/y^2 = -node/y.
	return []*Node{
		Div(adjoint, y),
		Neg(Mul(adjoint, Div(node, y))),
	}
}

func powVJP(node, adjoint *Node) []*Node {
	x, y := node.inputs[0], node.inputs[1]
	// d(x^y)/dx = y*x^(y-1); d(x^y)/dy = x^y*log(x).
	return []*Node{
		Mul(adjoint, Mul(y, Pow(x, MinusOne(y)))),
		Mul(adjoint, Mul(node, Log(x))),
	}
}

func maxVJP(node, adjoint *Node) []*Node {
	return minMaxVJP(node, adjoint, true)
}

func minVJP(node, adjoint *Node) []*Node {
	return minMaxVJP(node, adjoint, false)
}

// minMaxVJP routes the adjoint to the winning side. On ties Max routes to
// the left operand and Min to the right one, so exactly one side receives
// each gradient term.
func minMaxVJP(node, adjoint *Node, isMax bool) []*Node {
	x, y := node.inputs[0], node.inputs[1]
	zero := ScalarZero(node.graph, adjoint.DType())
	var xWins *Node
	if isMax {
		xWins = GreaterOrEqual(x, y)
	} else {
		xWins = GreaterThan(y, x)
	}
	return []*Node{
		Where(xWins, adjoint, zero),
		Where(xWins, zero, adjoint),
	}
}

func whereVJP(node, adjoint *Node) []*Node {
	condition := node.inputs[0]
	zero := ScalarZero(node.graph, adjoint.DType())
	return []*Node{
		nil,
		Where(condition, adjoint, zero),
		Where(condition, zero, adjoint),
	}
}

func convertDTypeVJP(node, adjoint *Node) []*Node {
	x := node.inputs[0]
	if !x.DType().IsFloat() {
		return []*Node{nil}
	}
	return []*Node{ConvertDType(adjoint, x.DType())}
}

func reshapeVJP(node, adjoint *Node) []*Node {
	return []*Node{ReshapeWithShape(adjoint, node.inputs[0].shape)}
}

func transposeVJP(node, adjoint *Node) []*Node {
	permutation := node.data.([]int)
	inverse := make([]int, len(permutation))
	for ii, axis := range permutation {
		inverse[axis] = ii
	}
	return []*Node{Transpose(adjoint, inverse...)}
}

func broadcastInDimVJP(node, adjoint *Node) []*Node {
	x := node.inputs[0]
	toXAxis := make(map[int]int, x.Rank())
	for xAxis, targetAxis := range node.data.([]int) {
		toXAxis[targetAxis] = xAxis
	}
	// Sum away the axes filled by repetition: target axes not mapped from x,
	// and mapped axes stretched from dimension 1.
	var reduceAxes []int
	for targetAxis := 0; targetAxis < node.Rank(); targetAxis++ {
		xAxis, mapped := toXAxis[targetAxis]
		if !mapped || (x.shape.Dimensions[xAxis] == 1 && node.shape.Dimensions[targetAxis] != 1) {
			reduceAxes = append(reduceAxes, targetAxis)
		}
	}
	grad := adjoint
	if len(reduceAxes) > 0 {
		grad = ReduceSum(grad, reduceAxes...)
	}
	return []*Node{ReshapeWithShape(grad, x.shape)}
}

// reductionAxes recovers the normalized axes of a ReduceSum/ReduceMax node;
// an empty list means all axes.
func reductionAxes(node *Node) []int {
	axes := node.data.([]int)
	if len(axes) == 0 {
		axes = xslices.Iota(0, node.inputs[0].Rank())
	}
	return axes
}

func reduceSumVJP(node, adjoint *Node) []*Node {
	x := node.inputs[0]
	kept := keepDimsShape(x.shape, reductionAxes(node))
	return []*Node{BroadcastToShape(ReshapeWithShape(adjoint, kept), x.shape)}
}

// reduceMaxVJP routes the adjoint to the positions holding the maximum. On
// ties every maximal position receives the full adjoint.
func reduceMaxVJP(node, adjoint *Node) []*Node {
	x := node.inputs[0]
	kept := keepDimsShape(x.shape, reductionAxes(node))
	mask := Equal(x, ReshapeWithShape(node, kept))
	adjointKept := ReshapeWithShape(adjoint, kept)
	zero := ScalarZero(node.graph, adjoint.DType())
	return []*Node{Where(mask, adjointKept, zero)}
}

func convGeneralVJP(node, adjoint *Node) []*Node {
	input, kernel := node.inputs[0], node.inputs[1]
	data := node.data.(*convGeneralData)
	g := node.graph
	gradInputOp := g.builder.ConvGradInput(adjoint.op, kernel.op, input.shape,
		data.strides, data.paddings, data.dilations)
	gradInput := g.newNode(backends.OpTypeConvGradInput, gradInputOp, []*Node{adjoint, kernel}, data)
	gradKernelOp := g.builder.ConvGradKernel(input.op, adjoint.op, kernel.shape,
		data.strides, data.paddings, data.dilations)
	gradKernel := g.newNode(backends.OpTypeConvGradKernel, gradKernelOp, []*Node{input, adjoint}, data)
	return []*Node{gradInput, gradKernel}
}

func reduceWindowMaxVJP(node, adjoint *Node) []*Node {
	x := node.inputs[0]
	data := node.data.(*reduceWindowData)
	g := node.graph
	op := g.builder.MaxPoolGrad(x.op, adjoint.op, data.windowSizes, data.strides, data.paddings)
	return []*Node{g.newNode(backends.OpTypeMaxPoolGrad, op, []*Node{x, adjoint}, data)}
}

func reduceWindowSumVJP(node, adjoint *Node) []*Node {
	x := node.inputs[0]
	data := node.data.(*reduceWindowData)
	g := node.graph
	op := g.builder.SumPoolGrad(adjoint.op, x.shape, data.windowSizes, data.strides, data.paddings)
	return []*Node{g.newNode(backends.OpTypeSumPoolGrad, op, []*Node{adjoint}, data)}
}
