// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph builds computation graphs on top of a backends.Builder and
// executes them.
//
// A Graph is created with NewGraph for a given backend. While it is in its
// building phase, operations (Add, Mul, ReduceSum, ...) take and return
// *Node handles; each call adds the corresponding backend op to the graph.
// Once the desired outputs are reached, Graph.Compile makes the graph
// executable and Graph.Run executes it for concrete input values:
//
//	g := graph.NewGraph(backend, "l2")
//	x := g.Parameter("x", shapes.Make(dtypes.Float32, 3))
//	g.Compile(graph.ReduceAllSum(graph.Mul(x, x)))
//	sum := g.Run([]float32{1, 2, 3})[0]
//
// Binary operations broadcast their operands following NumPy rules (see
// broadcastForBinaryOp). Gradient builds the reverse-mode gradients of a
// scalar output as additional graph nodes.
//
// Errors are reported with panics carrying errors with stack traces, as in
// the rest of the library: use exceptions.TryCatch to convert them to
// ordinary errors at API boundaries. The Exec wrapper does that, and is the
// preferred way of executing graph functions when the input shapes vary.
package graph

import (
	"fmt"
	"sync"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
	"github.com/gomlx/stax/types/xslices"
)

// GraphId is a unique id of a Graph within the process.
type GraphId int

// NodeId is the index of a Node within its Graph, following creation order.
type NodeId int

// Graph with the operations and dependencies for a computation. It goes
// through 3 phases: building (operations can be added), compiled (Run can be
// called) and finalized (resources released, no further use).
//
// A Graph is not thread-safe: it is meant to be built, compiled and run from
// one goroutine at a time. The compiled executable itself is safe for
// concurrent Run calls.
type Graph struct {
	backend backends.Backend
	name    string
	id      GraphId

	// builder is non-nil while the graph is being built, and set to nil by
	// Compile and Finalize.
	builder     backends.Builder
	nodes       []*Node
	parameters  []*Node
	paramByName map[string]*Node
	scalars     map[scalarKey]*Node

	executable backends.Executable
	outputs    []*Node
	finalized  bool
}

// scalarKey caches scalar constants, a common source of duplicated nodes.
type scalarKey struct {
	dtype dtypes.DType
	value float64
}

var (
	muGraphCount sync.Mutex
	graphCount   GraphId
)

// NewGraph constructs an empty Graph for the given backend and starts its
// building phase. If name is empty, a unique one is generated.
func NewGraph(backend backends.Backend, name string) *Graph {
	if backend == nil {
		Panicf("graph.NewGraph: backend is nil")
	}
	muGraphCount.Lock()
	id := graphCount
	graphCount++
	muGraphCount.Unlock()
	if name == "" {
		name = fmt.Sprintf("graph#%d", id)
	}
	return &Graph{
		backend:     backend,
		name:        name,
		id:          id,
		builder:     backend.Builder(name),
		paramByName: make(map[string]*Node),
		scalars:     make(map[scalarKey]*Node),
	}
}

// Name of the Graph, as given to NewGraph.
func (g *Graph) Name() string { return g.name }

// Backend the Graph was created with.
func (g *Graph) Backend() backends.Backend { return g.backend }

// GraphId of the Graph, unique within the process.
func (g *Graph) GraphId() GraphId { return g.id }

// IsCompiled reports whether the Graph was already compiled.
func (g *Graph) IsCompiled() bool { return g != nil && g.executable != nil }

// IsFinalized reports whether Finalize was called.
func (g *Graph) IsFinalized() bool { return g == nil || g.finalized }

// AssertValid throws a ResourceClosedError if the graph is nil or finalized.
func (g *Graph) AssertValid() {
	if g == nil {
		Panicf("the Graph is nil")
	}
	if g.finalized {
		xerrors.ThrowResourceClosedf("graph %q has already been finalized", g.name)
	}
}

// AssertBuilding throws if the graph is not in its building phase, either
// because it was already compiled or because it was finalized.
func (g *Graph) AssertBuilding() {
	g.AssertValid()
	if g.executable != nil {
		xerrors.ThrowIllegalStatef(
			"graph %q is already compiled and can no longer be changed", g.name)
	}
}

// AssertCompiled throws if the graph was not yet compiled, or if it was
// finalized.
func (g *Graph) AssertCompiled() {
	g.AssertValid()
	if g.executable == nil {
		xerrors.ThrowIllegalStatef("graph %q is not compiled, call Graph.Compile first", g.name)
	}
}

// NumNodes returns the number of nodes added to the graph so far.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumParameters returns the number of parameters created so far.
func (g *Graph) NumParameters() int { return len(g.parameters) }

// newNode registers the output op of a backend operation as a Node of the
// graph. data carries op-specific attributes needed later, by the gradient
// functions mostly.
func (g *Graph) newNode(opType backends.OpType, op backends.Op, inputs []*Node, data any) *Node {
	node := &Node{
		graph:  g,
		id:     NodeId(len(g.nodes)),
		opType: opType,
		op:     op,
		shape:  g.builder.OpShape(op),
		inputs: inputs,
		data:   data,
	}
	g.nodes = append(g.nodes, node)
	return node
}

// Parameter creates an input parameter for the graph: its value is fed at
// Run time, in the order the parameters were created.
//
// The name is used for error reporting and must be unique within the graph;
// if empty a name is generated. The shape must be fully defined.
func (g *Graph) Parameter(name string, shape shapes.Shape) *Node {
	g.AssertBuilding()
	shape.AssertFullyDefined("graph %q: Parameter(%q)", g.name, name)
	if name == "" {
		name = fmt.Sprintf("parameter#%d", len(g.parameters))
	}
	if _, found := g.paramByName[name]; found {
		Panicf("graph %q already has a parameter named %q", g.name, name)
	}
	op := g.builder.Parameter(name, shape)
	node := g.newNode(backends.OpTypeParameter, op, nil, name)
	g.parameters = append(g.parameters, node)
	g.paramByName[name] = node
	return node
}

// Compile turns the built graph into an executable computation with the
// given outputs, ending the building phase. At least one output is required.
func (g *Graph) Compile(outputs ...*Node) {
	g.AssertBuilding()
	if len(outputs) == 0 {
		Panicf("graph %q: Compile requires at least one output", g.name)
	}
	for ii, output := range outputs {
		if output == nil {
			Panicf("graph %q: Compile output #%d is nil", g.name, ii)
		}
		if output.graph != g {
			Panicf("graph %q: Compile output #%d belongs to graph %q",
				g.name, ii, output.graph.name)
		}
	}
	ops := xslices.Map(outputs, func(node *Node) backends.Op { return node.op })
	g.executable = g.builder.Compile(ops...)
	g.outputs = outputs
	g.builder = nil
}

// Outputs returns the nodes the graph was compiled with.
func (g *Graph) Outputs() []*Node {
	g.AssertCompiled()
	return g.outputs
}

// Run executes the compiled graph with the given input values, one per
// parameter in creation order, and returns one tensor per compiled output.
//
// Each input is converted with tensors.FromAnyValue: it accepts *tensors.Tensor
// values, Go scalars and (nested) slices. Shapes must match the parameters
// exactly; it throws a ShapeMismatchError otherwise.
func (g *Graph) Run(inputs ...any) []*tensors.Tensor {
	g.AssertCompiled()
	if len(inputs) != len(g.parameters) {
		Panicf("graph %q takes %d parameters, Run got %d inputs",
			g.name, len(g.parameters), len(inputs))
	}
	buffers := make([]backends.Buffer, len(inputs))
	for ii, input := range inputs {
		t := tensors.FromAnyValue(input)
		if !t.Shape().Equal(g.parameters[ii].shape) {
			xerrors.ThrowShapeMismatchf(
				"graph %q: parameter %q takes %s, Run got %s",
				g.name, g.parameters[ii].ParameterName(), g.parameters[ii].shape, t.Shape())
		}
		buffers[ii] = t.Buffer(g.backend)
	}
	outputBuffers := g.executable.Execute(buffers...)
	for _, buffer := range buffers {
		g.backend.BufferFinalize(buffer)
	}
	results := make([]*tensors.Tensor, len(outputBuffers))
	for ii, buffer := range outputBuffers {
		results[ii] = tensors.FromBuffer(g.backend, buffer)
		g.backend.BufferFinalize(buffer)
	}
	return results
}

// Finalize releases the resources associated with the graph. It is
// idempotent, and any other use of the graph afterwards throws a
// ResourceClosedError.
func (g *Graph) Finalize() {
	if g == nil || g.finalized {
		return
	}
	if g.executable != nil {
		g.executable.Finalize()
		g.executable = nil
	}
	g.builder = nil
	g.nodes = nil
	g.parameters = nil
	g.paramByName = nil
	g.scalars = nil
	g.outputs = nil
	g.finalized = true
}

// Node is the result of an operation added to a Graph, a handle to be
// passed to other operations. Nodes are immutable once created.
type Node struct {
	graph  *Graph
	id     NodeId
	opType backends.OpType
	op     backends.Op
	shape  shapes.Shape
	inputs []*Node

	// data holds op-specific attributes needed by the gradient functions:
	// reduction axes, convolution geometry, the parameter name, etc.
	data any

	stopGradient bool
}

// Graph the node belongs to.
func (n *Node) Graph() *Graph { return n.graph }

// Id of the node within its graph, following creation order.
func (n *Node) Id() NodeId { return n.id }

// Shape of the node's value.
func (n *Node) Shape() shapes.Shape { return n.shape }

// DType of the node's value.
func (n *Node) DType() dtypes.DType { return n.shape.DType }

// Rank of the node's shape.
func (n *Node) Rank() int { return n.shape.Rank() }

// IsScalar reports whether the node's value is a scalar.
func (n *Node) IsScalar() bool { return n.shape.IsScalar() }

// Type of the backend operation that created the node.
func (n *Node) Type() backends.OpType { return n.opType }

// Inputs are the nodes the operation took as inputs, in order. It may be
// empty (Parameter, Constant, Iota).
func (n *Node) Inputs() []*Node { return n.inputs }

// ParameterName returns the parameter name for Parameter nodes, and panics
// for any other node.
func (n *Node) ParameterName() string {
	if n.opType != backends.OpTypeParameter {
		Panicf("node %s is not a Parameter", n)
	}
	return n.data.(string)
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	return fmt.Sprintf("%s(id=%d, shape=%s)", n.opType, n.id, n.shape)
}

// AssertValid panics if the node or its graph are in an unusable state.
func (n *Node) AssertValid() {
	if n == nil {
		Panicf("the Node is nil")
	}
	n.graph.AssertValid()
}

// validateBuildingGraphFromInputs checks that all nodes belong to the same
// graph, and that this graph is still building. It returns the common graph.
func validateBuildingGraphFromInputs(inputs ...*Node) *Graph {
	if len(inputs) == 0 {
		Panicf("no operands provided")
	}
	g := inputs[0].graph
	for ii, input := range inputs {
		if input == nil {
			Panicf("operand #%d is nil", ii)
		}
		if input.graph != g {
			Panicf("operands belong to different graphs: %q and %q",
				g.name, input.graph.name)
		}
	}
	g.AssertBuilding()
	return g
}
