// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	. "github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// ExecGraphFn builds the computation executed by an Exec: it receives the
// context, the graph being built and one parameter node per input of the
// call, in order, and returns the output nodes. Variables accessed through
// the context (Variable.ValueGraph, Variable.SetValueGraph) become extra
// inputs and outputs of the compiled graph, managed by the Exec.
type ExecGraphFn func(ctx *Context, g *graph.Graph, inputs []*graph.Node) []*graph.Node

// Exec compiles and executes computations that use context variables.
//
// It extends graph.Exec with the variable plumbing: the value of each
// variable in use by the graph is fed as an extra parameter on every call,
// and each variable changed in the graph (Variable.SetValueGraph) becomes an
// extra output, stored back into the variable's host tensor after the run.
// A training step is therefore a single graph execution, and the updated
// weights live in the context, shared with the graphs built for evaluation
// and inference.
//
// Like graph.Exec, it caches one compiled graph per combination of input
// shapes, least recently used first, up to a limit.
type Exec struct {
	backend  backends.Backend
	ctx      *Context
	name     string
	fn       ExecGraphFn
	maxCache int

	mu        sync.Mutex
	entries   []*execEntry // most recently used first
	built     int
	finalized bool
}

// execEntry is one compiled graph with its variable bindings.
type execEntry struct {
	signature string
	graph     *graph.Graph

	// numOutputs is the number of outputs returned by the graph function;
	// the compiled graph appends one extra output per changed variable.
	numOutputs int

	// sideInputs are the variables fed as extra parameters, ordered by
	// their parameter index in the graph.
	sideInputs []*Variable

	// sideOutputs are the variables updated from the extra outputs, in the
	// order their value nodes were compiled.
	sideOutputs []*Variable
}

// NewExec creates an Exec that builds computations with fn on demand, with
// variables stored in ctx. If name is empty a generic one is used; it shows
// up in error messages and logs.
func NewExec(backend backends.Backend, ctx *Context, name string, fn ExecGraphFn) *Exec {
	if name == "" {
		name = "ctxexec"
	}
	return &Exec{
		backend:  backend,
		ctx:      ctx,
		name:     name,
		fn:       fn,
		maxCache: graph.DefaultExecMaxCache,
	}
}

// WithMaxCache sets the maximum number of compiled graphs kept and returns
// the Exec, so it can be chained after NewExec.
func (e *Exec) WithMaxCache(n int) *Exec {
	if n < 1 {
		xerrors.ThrowInvalidParamf("Exec %q: max cache size must be at least 1, got %d", e.name, n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxCache = n
	return e
}

// Name of the Exec.
func (e *Exec) Name() string { return e.name }

// Context the Exec stores its variables in.
func (e *Exec) Context() *Context { return e.ctx }

// NumCachedGraphs returns the number of compiled graphs currently cached.
func (e *Exec) NumCachedGraphs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Call executes the computation with the given input values, compiling it
// first if these input shapes were not seen before. Inputs are converted
// with tensors.FromAnyValue. Pending variable initializations are
// materialized before the run, and variables changed in the graph are
// updated after it.
//
// Errors thrown while building, compiling or executing are returned as
// ordinary errors, matchable with errors.As against the types in
// types/xerrors.
func (e *Exec) Call(inputs ...any) (outputs []*tensors.Tensor, err error) {
	err = TryCatch[error](func() {
		outputs = e.CallOrThrow(inputs...)
	})
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

// CallOrThrow is like Call, but throws (panics) with the error on failure.
// Used by code already running inside a TryCatch.
func (e *Exec) CallOrThrow(inputs ...any) []*tensors.Tensor {
	e.ctx.AssertValid()
	converted := make([]*tensors.Tensor, len(inputs))
	var signature strings.Builder
	for ii, input := range inputs {
		converted[ii] = tensors.FromAnyValue(input)
		signature.WriteString(converted[ii].Shape().String())
		signature.WriteByte(';')
	}
	entry := e.entryForSignature(signature.String(), converted)

	// Variables created lazily while building still need materializing.
	e.ctx.InitializeVariables()
	args := make([]any, entry.graph.NumParameters())
	for ii, t := range converted {
		args[ii] = t
	}
	for _, v := range entry.sideInputs {
		args[v.graphNodes[entry.graph.GraphId()].paramIndex] = v.Value()
	}
	results := entry.graph.Run(args...)
	for ii, v := range entry.sideOutputs {
		v.SetValue(results[entry.numOutputs+ii])
	}
	return results[:entry.numOutputs]
}

// entryForSignature returns the compiled graph entry for the given input
// shapes, building it if needed.
func (e *Exec) entryForSignature(signature string, inputs []*tensors.Tensor) *execEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		xerrors.ThrowResourceClosedf("Exec %q has already been finalized", e.name)
	}
	for ii, entry := range e.entries {
		if entry.signature == signature {
			if ii > 0 {
				copy(e.entries[1:ii+1], e.entries[0:ii])
				e.entries[0] = entry
			}
			return entry
		}
	}
	entry := e.buildEntry(signature, inputs)
	if len(e.entries) >= e.maxCache {
		evicted := e.entries[len(e.entries)-1]
		klog.V(1).Infof("Exec %q: evicting compiled graph for input shapes %s", e.name, evicted.signature)
		e.dropEntry(evicted)
		e.entries = e.entries[:len(e.entries)-1]
	}
	e.entries = append([]*execEntry{entry}, e.entries...)
	return entry
}

func (e *Exec) buildEntry(signature string, inputs []*tensors.Tensor) *execEntry {
	g := graph.NewGraph(e.backend, fmt.Sprintf("%s#%d", e.name, e.built))
	e.built++
	params := make([]*graph.Node, len(inputs))
	for ii, t := range inputs {
		params[ii] = g.Parameter(fmt.Sprintf("arg#%d", ii), t.Shape())
	}
	outputs := e.fn(e.ctx, g, params)
	if len(outputs) == 0 {
		Panicf("Exec %q: the graph function returned no outputs", e.name)
	}

	entry := &execEntry{
		signature:  signature,
		graph:      g,
		numOutputs: len(outputs),
	}
	e.ctx.EnumerateVariables(func(v *Variable) {
		if !v.InUseByGraph(g) {
			return
		}
		entry.sideInputs = append(entry.sideInputs, v)
		if v.ChangedInGraph(g) {
			entry.sideOutputs = append(entry.sideOutputs, v)
			outputs = append(outputs, v.ValueGraph(g))
		}
	})
	gID := g.GraphId()
	sort.Slice(entry.sideInputs, func(i, j int) bool {
		return entry.sideInputs[i].graphNodes[gID].paramIndex <
			entry.sideInputs[j].graphNodes[gID].paramIndex
	})
	g.Compile(outputs...)
	return entry
}

// dropEntry finalizes the entry's graph and clears the variables' references
// to it.
func (e *Exec) dropEntry(entry *execEntry) {
	gID := entry.graph.GraphId()
	for _, v := range entry.sideInputs {
		delete(v.graphNodes, gID)
	}
	entry.graph.Finalize()
}

// Finalize releases every cached compiled graph. It does not finalize the
// context: the variable values remain available. The Exec must not be called
// afterwards. It is idempotent.
func (e *Exec) Finalize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return
	}
	for _, entry := range e.entries {
		e.dropEntry(entry)
	}
	e.entries = nil
	e.finalized = true
}
