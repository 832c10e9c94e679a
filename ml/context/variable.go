// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// ParameterPrefix is prepended to a variable's scoped name to build the name
// of the graph parameter that feeds its value.
const ParameterPrefix = "var:"

// Variable is a value shared among computation graphs: the weights of a
// layer, the moments of an optimizer, the accumulators of a metric.
//
// While building a graph, Variable.ValueGraph gives the node with the
// variable's value, and Variable.SetValueGraph registers a new value for it:
// the update becomes effective on the host tensor after the graph is
// executed by Exec.
type Variable struct {
	name  string
	scope string
	shape shapes.Shape

	trainable bool

	// value is nil before initialization: initFn materializes it.
	value  *tensors.Tensor
	initFn func() *tensors.Tensor

	// graphNodes tracks the per-graph nodes of the variable, for the graphs
	// currently using it.
	graphNodes map[graph.GraphId]*variableNodes
}

// variableNodes is the per-graph state of a Variable.
type variableNodes struct {
	// paramNode feeds the variable's value to the graph; paramIndex is its
	// position among the graph's parameters.
	paramNode  *graph.Node
	paramIndex int

	// valueNode is the node currently holding the variable's value: the
	// paramNode originally, the node given to SetValueGraph afterwards.
	valueNode *graph.Node
	changed   bool
}

// Name of the variable, unique within its scope.
func (v *Variable) Name() string { return v.name }

// Scope the variable was created in.
func (v *Variable) Scope() string { return v.scope }

// ScopeAndName returns the fully qualified name of the variable, unique
// within the context.
func (v *Variable) ScopeAndName() string {
	if v.scope == RootScope {
		return v.scope + v.name
	}
	return v.scope + ScopeSeparator + v.name
}

// ParameterName returns the name of the graph parameter that feeds the
// variable's value: ParameterPrefix + ScopeAndName.
func (v *Variable) ParameterName() string { return ParameterPrefix + v.ScopeAndName() }

// Shape of the variable.
func (v *Variable) Shape() shapes.Shape { return v.shape }

// DType of the variable.
func (v *Variable) DType() dtypes.DType { return v.shape.DType }

// Trainable reports whether the variable is to be updated by optimizers
// during training. Defaults to true.
func (v *Variable) Trainable() bool { return v.trainable }

// SetTrainable marks the variable as trainable (or not) and returns it.
func (v *Variable) SetTrainable(trainable bool) *Variable {
	v.trainable = trainable
	return v
}

// initialize materializes the variable's value if it is still pending.
func (v *Variable) initialize() {
	if v.value != nil || v.initFn == nil {
		return
	}
	value := v.initFn()
	if !value.Shape().Equal(v.shape) {
		xerrors.ThrowShapeMismatchf(
			"initializer for variable %q built shape %s, want %s",
			v.ScopeAndName(), value.Shape(), v.shape)
	}
	v.value = value
}

// Value returns the tensor holding the variable's current value,
// materializing it first if initialization is still pending.
func (v *Variable) Value() *tensors.Tensor {
	v.initialize()
	if v.value == nil {
		Panicf("variable %q has no value, was its context finalized?", v.ScopeAndName())
	}
	return v.value
}

// SetValue replaces the variable's host value. The shape must match the
// variable's shape; it throws a ShapeMismatchError otherwise.
func (v *Variable) SetValue(value *tensors.Tensor) {
	if !value.Shape().Equal(v.shape) {
		xerrors.ThrowShapeMismatchf(
			"cannot set variable %q of shape %s to value of shape %s",
			v.ScopeAndName(), v.shape, value.Shape())
	}
	v.value = value
	v.initFn = nil
}

// nodesForGraph returns the per-graph state of the variable, creating the
// parameter node if the variable wasn't yet in use by g.
func (v *Variable) nodesForGraph(g *graph.Graph) *variableNodes {
	nodes, found := v.graphNodes[g.GraphId()]
	if found {
		return nodes
	}
	paramIndex := g.NumParameters()
	paramNode := g.Parameter(v.ParameterName(), v.shape)
	nodes = &variableNodes{
		paramNode:  paramNode,
		paramIndex: paramIndex,
		valueNode:  paramNode,
	}
	if v.graphNodes == nil {
		v.graphNodes = make(map[graph.GraphId]*variableNodes)
	}
	v.graphNodes[g.GraphId()] = nodes
	return nodes
}

// ValueGraph returns the node of g holding the variable's value: a
// parameter node fed with the variable's value, or the last node given to
// SetValueGraph for this graph.
func (v *Variable) ValueGraph(g *graph.Graph) *graph.Node {
	return v.nodesForGraph(g).valueNode
}

// SetValueGraph registers node as the variable's new value within its graph.
// The effective update of the host value happens when the graph is executed
// through Exec: the node becomes an extra output of the graph, and its
// result is stored back into the variable.
func (v *Variable) SetValueGraph(node *graph.Node) {
	if !node.Shape().Equal(v.shape) {
		xerrors.ThrowShapeMismatchf(
			"cannot set variable %q of shape %s to a graph value of shape %s",
			v.ScopeAndName(), v.shape, node.Shape())
	}
	nodes := v.nodesForGraph(node.Graph())
	nodes.valueNode = node
	nodes.changed = true
}

// InUseByGraph reports whether the variable is in use by graph g, that is,
// whether ValueGraph or SetValueGraph were called for it.
func (v *Variable) InUseByGraph(g *graph.Graph) bool {
	_, found := v.graphNodes[g.GraphId()]
	return found
}

// ChangedInGraph reports whether the variable's value was changed in graph g
// with SetValueGraph.
func (v *Variable) ChangedInGraph(g *graph.Graph) bool {
	nodes, found := v.graphNodes[g.GraphId()]
	return found && nodes.changed
}
