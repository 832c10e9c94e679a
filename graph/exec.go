// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"
	"sync"

	. "github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// GraphFn builds the computation executed by an Exec: it receives the graph
// being built and one parameter node per input of the call, in order, and
// returns the output nodes.
type GraphFn func(g *Graph, inputs []*Node) []*Node

// DefaultExecMaxCache is the default number of compiled graphs an Exec
// keeps, one per combination of input shapes.
const DefaultExecMaxCache = 10

// Exec compiles and executes the computation built by a GraphFn.
//
// Graphs are compiled for concrete input shapes, so each distinct
// combination of input shapes gets its own compiled graph: a training loop
// whose last batch is smaller compiles two graphs, for instance. Exec caches
// the compiled graphs, least recently used first, up to a limit
// (DefaultExecMaxCache, changeable with WithMaxCache).
//
// Exec is safe for concurrent calls.
type Exec struct {
	backend  backends.Backend
	name     string
	fn       GraphFn
	maxCache int

	mu        sync.Mutex
	entries   []*execEntry // most recently used first
	built     int
	finalized bool
}

type execEntry struct {
	signature string
	graph     *Graph
}

// NewExec creates an Exec that builds computations with fn on demand. If
// name is empty a generic one is used; it shows up in error messages and
// logs.
func NewExec(backend backends.Backend, name string, fn GraphFn) *Exec {
	if name == "" {
		name = "exec"
	}
	return &Exec{
		backend:  backend,
		name:     name,
		fn:       fn,
		maxCache: DefaultExecMaxCache,
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

// NumCachedGraphs returns the number of compiled graphs currently cached.
func (e *Exec) NumCachedGraphs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Call executes the computation with the given input values, compiling it
// first if these input shapes were not seen before. Inputs are converted
// with tensors.FromAnyValue.
//
// Errors thrown while building, compiling or executing are returned as
// ordinary errors, matchable with errors.As against the types in
// types/xerrors.
func (e *Exec) Call(inputs ...any) (outputs []*tensors.Tensor, err error) {
	err = TryCatch[error](func() {
		outputs = e.callOrThrow(inputs)
	})
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

func (e *Exec) callOrThrow(inputs []any) []*tensors.Tensor {
	converted := make([]*tensors.Tensor, len(inputs))
	var signature strings.Builder
	for ii, input := range inputs {
		converted[ii] = tensors.FromAnyValue(input)
		signature.WriteString(converted[ii].Shape().String())
		signature.WriteByte(';')
	}
	g := e.graphForSignature(signature.String(), converted)
	args := make([]any, len(converted))
	for ii, t := range converted {
		args[ii] = t
	}
	return g.Run(args...)
}

// graphForSignature returns the compiled graph for the given input shapes,
// building it if needed. Building happens while holding the lock, so
// concurrent calls with the same new signature compile only once.
func (e *Exec) graphForSignature(signature string, inputs []*tensors.Tensor) *Graph {
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
			return entry.graph
		}
	}

	g := NewGraph(e.backend, fmt.Sprintf("%s#%d", e.name, e.built))
	e.built++
	params := make([]*Node, len(inputs))
	for ii, t := range inputs {
		params[ii] = g.Parameter(fmt.Sprintf("arg#%d", ii), t.Shape())
	}
	outputs := e.fn(g, params)
	if len(outputs) == 0 {
		Panicf("Exec %q: the graph function returned no outputs", e.name)
	}
	g.Compile(outputs...)

	if len(e.entries) >= e.maxCache {
		evicted := e.entries[len(e.entries)-1]
		klog.V(1).Infof("Exec %q: evicting compiled graph for input shapes %s", e.name, evicted.signature)
		evicted.graph.Finalize()
		e.entries = e.entries[:len(e.entries)-1]
	}
	e.entries = append([]*execEntry{{signature: signature, graph: g}}, e.entries...)
	return g
}

// Finalize releases every cached compiled graph. The Exec must not be called
// afterwards. It is idempotent.
func (e *Exec) Finalize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return
	}
	for _, entry := range e.entries {
		entry.graph.Finalize()
	}
	e.entries = nil
	e.finalized = true
}
