// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package context holds the variables of a model, organized in a tree of
// scopes.
//
// A Context is a light-weight reference: methods like Context.In,
// Context.Checked and Context.WithInitializer return new references into the
// same underlying variable store, with a different current scope or
// different settings. Layers create their variables inside their own scope,
// so two layers can both own a variable called "weights" without clashing.
//
// Variables are created with deferred initialization: Context.InitializeVariables
// materializes the pending initial values, and is called automatically
// before execution by Exec. Graph building code accesses variable values
// with Variable.ValueGraph and updates them with Variable.SetValueGraph; the
// Exec in this package feeds variable values as extra graph parameters and
// applies the updated values back to the host tensors after each run.
package context

import (
	"strings"
	"sync"

	. "github.com/gomlx/exceptions"

	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/ml/initializers"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// ScopeSeparator is used between levels of scope. Scope names cannot contain
// it.
const ScopeSeparator = "/"

// RootScope is the scope at the root: it is the scope of a new Context.
const RootScope = ScopeSeparator

// DefaultInitializerSeed is the seed of the default variable initializer of
// a new Context.
const DefaultInitializerSeed = int64(42)

// Context holds the variables of a model.
//
// The Context itself is a reference into a shared store: it is cheap to
// copy, and the scoping methods (In, Checked, WithInitializer) return
// modified copies. All references share the same variables.
type Context struct {
	scope string

	// checked: when true (the default), creating a variable that already
	// exists throws a DuplicateVariableNameError. When false, variable
	// creation methods return the existing variable instead, after checking
	// its shape.
	checked bool

	// initializer is the default used by VariableWithShape.
	initializer initializers.Initializer

	data *contextData
}

// contextData is the part of the Context shared across all its references.
type contextData struct {
	mu sync.Mutex

	// variablesByScope maps scope -> name -> variable.
	variablesByScope map[string]map[string]*Variable

	// variables in creation order. Deterministic ordering matters: the
	// side-parameters of an executed graph are fed in this order.
	variables []*Variable

	finalized bool
}

// New creates an empty Context, at the root scope, with a
// GlorotUniformFn default initializer.
func New() *Context {
	return &Context{
		scope:       RootScope,
		checked:     true,
		initializer: initializers.GlorotUniformFn(DefaultInitializerSeed),
		data: &contextData{
			variablesByScope: make(map[string]map[string]*Variable),
		},
	}
}

// AssertValid throws a ResourceClosedError if the context was finalized.
func (ctx *Context) AssertValid() {
	if ctx == nil || ctx.data == nil {
		Panicf("the Context is nil")
	}
	if ctx.data.finalized {
		xerrors.ThrowResourceClosedf("the Context has already been finalized")
	}
}

// Scope returns the full current scope path.
func (ctx *Context) Scope() string { return ctx.scope }

// In returns a new reference to the Context with the current scope entered
// into the given sub-scope. The scope name cannot be empty or contain the
// ScopeSeparator.
func (ctx *Context) In(scope string) *Context {
	ctx.AssertValid()
	if scope == "" {
		Panicf("cannot use an empty scope for Context.In")
	}
	if strings.Contains(scope, ScopeSeparator) {
		Panicf("scope name %q cannot contain the separator %q", scope, ScopeSeparator)
	}
	newCtx := *ctx
	if ctx.scope == RootScope {
		newCtx.scope = RootScope + scope
	} else {
		newCtx.scope = ctx.scope + ScopeSeparator + scope
	}
	return &newCtx
}

// InAbsPath returns a new reference to the Context with the current scope
// set to the given absolute path, which must start with ScopeSeparator.
func (ctx *Context) InAbsPath(scopePath string) *Context {
	ctx.AssertValid()
	if !strings.HasPrefix(scopePath, ScopeSeparator) {
		Panicf("absolute scope path must start with %q, got %q", ScopeSeparator, scopePath)
	}
	newCtx := *ctx
	newCtx.scope = scopePath
	return &newCtx
}

// Checked returns a new reference to the Context with the "checked" setting:
// if true (the default for a new Context), creating a variable that already
// exists throws a DuplicateVariableNameError; if false the variable creation
// methods reuse the existing variable, checking only that the shape matches.
//
// Layers create their variables once and use the default; optimizers and
// metrics, whose state is created lazily during graph building, use
// Checked(false).
func (ctx *Context) Checked(checked bool) *Context {
	ctx.AssertValid()
	newCtx := *ctx
	newCtx.checked = checked
	return &newCtx
}

// WithInitializer returns a new reference to the Context with the given
// default initializer, used by VariableWithShape.
func (ctx *Context) WithInitializer(initializer initializers.Initializer) *Context {
	ctx.AssertValid()
	if initializer == nil {
		Panicf("Context.WithInitializer given a nil initializer")
	}
	newCtx := *ctx
	newCtx.initializer = initializer
	return &newCtx
}

// VariableWithShape creates a variable in the current scope with the given
// name and shape. Its value is initialized lazily (see InitializeVariables)
// with the context's default initializer -- fan-in and fan-out are derived
// from the shape with initializers.FanInOut.
//
// If a variable with the same scope and name already exists it throws a
// DuplicateVariableNameError -- unless the context reference is Checked(false),
// in which case the existing variable is returned, after checking that the
// requested shape matches.
func (ctx *Context) VariableWithShape(name string, shape shapes.Shape) *Variable {
	ctx.AssertValid()
	shape.AssertFullyDefined("creating variable %q in scope %q", name, ctx.scope)
	initializer := ctx.initializer
	return ctx.newVariable(name, shape, func() *tensors.Tensor {
		fanIn, fanOut := initializers.FanInOut(shape)
		return initializer(fanIn, fanOut, shape)
	})
}

// VariableWithValue creates a variable in the current scope with the given
// name and initial value, converted with tensors.FromAnyValue. Duplicate
// handling is as in VariableWithShape.
func (ctx *Context) VariableWithValue(name string, value any) *Variable {
	ctx.AssertValid()
	t := tensors.FromAnyValue(value)
	v := ctx.newVariable(name, t.Shape(), nil)
	if v.value == nil {
		v.value = t
	}
	return v
}

func (ctx *Context) newVariable(name string, shape shapes.Shape, initFn func() *tensors.Tensor) *Variable {
	if name == "" {
		Panicf("cannot create a variable with an empty name in scope %q", ctx.scope)
	}
	if strings.Contains(name, ScopeSeparator) {
		Panicf("variable name %q cannot contain the separator %q", name, ScopeSeparator)
	}
	data := ctx.data
	data.mu.Lock()
	defer data.mu.Unlock()
	inScope := data.variablesByScope[ctx.scope]
	if v, found := inScope[name]; found {
		if ctx.checked {
			xerrors.ThrowDuplicateVariablef(
				"variable %q already exists in scope %q", name, ctx.scope)
		}
		if !v.shape.Equal(shape) {
			xerrors.ThrowShapeMismatchf(
				"variable %q in scope %q has shape %s, requested %s",
				name, ctx.scope, v.shape, shape)
		}
		return v
	}
	v := &Variable{
		name:      name,
		scope:     ctx.scope,
		shape:     shape,
		trainable: true,
		initFn:    initFn,
	}
	if inScope == nil {
		inScope = make(map[string]*Variable)
		data.variablesByScope[ctx.scope] = inScope
	}
	inScope[name] = v
	data.variables = append(data.variables, v)
	return v
}

// GetVariable returns the variable with the given name in the current scope,
// or nil if there is none.
func (ctx *Context) GetVariable(name string) *Variable {
	ctx.AssertValid()
	ctx.data.mu.Lock()
	defer ctx.data.mu.Unlock()
	return ctx.data.variablesByScope[ctx.scope][name]
}

// InspectVariable returns the variable with the given absolute scope path
// and name, or nil if there is none.
func (ctx *Context) InspectVariable(scopePath, name string) *Variable {
	ctx.AssertValid()
	ctx.data.mu.Lock()
	defer ctx.data.mu.Unlock()
	return ctx.data.variablesByScope[scopePath][name]
}

// NumVariables returns the number of variables created so far, in any scope.
func (ctx *Context) NumVariables() int {
	ctx.AssertValid()
	ctx.data.mu.Lock()
	defer ctx.data.mu.Unlock()
	return len(ctx.data.variables)
}

// EnumerateVariables calls fn for each variable of the context, in any
// scope, in creation order.
func (ctx *Context) EnumerateVariables(fn func(v *Variable)) {
	ctx.AssertValid()
	ctx.data.mu.Lock()
	variables := make([]*Variable, len(ctx.data.variables))
	copy(variables, ctx.data.variables)
	ctx.data.mu.Unlock()
	for _, v := range variables {
		fn(v)
	}
}

// EnumerateVariablesInScope calls fn for each variable under the current
// scope (included), in creation order.
func (ctx *Context) EnumerateVariablesInScope(fn func(v *Variable)) {
	scope := ctx.scope
	prefix := scope
	if prefix != RootScope {
		prefix += ScopeSeparator
	}
	ctx.EnumerateVariables(func(v *Variable) {
		if v.scope == scope || strings.HasPrefix(v.scope, prefix) {
			fn(v)
		}
	})
}

// InitializeVariables materializes the initial value of every variable that
// doesn't have one yet. It is called automatically by Exec before running a
// computation; calling it again is a no-op for already initialized
// variables.
func (ctx *Context) InitializeVariables() {
	ctx.AssertValid()
	ctx.EnumerateVariables(func(v *Variable) {
		v.initialize()
	})
}

// DeleteVariablesInScope deletes all variables under the current scope.
// Used to reset optimizer and metric state.
func (ctx *Context) DeleteVariablesInScope() {
	ctx.AssertValid()
	scope := ctx.scope
	prefix := scope
	if prefix != RootScope {
		prefix += ScopeSeparator
	}
	data := ctx.data
	data.mu.Lock()
	defer data.mu.Unlock()
	keep := data.variables[:0]
	for _, v := range data.variables {
		if v.scope == scope || strings.HasPrefix(v.scope, prefix) {
			delete(data.variablesByScope[v.scope], v.name)
			if len(data.variablesByScope[v.scope]) == 0 {
				delete(data.variablesByScope, v.scope)
			}
			v.value = nil
			v.graphNodes = nil
			continue
		}
		keep = append(keep, v)
	}
	data.variables = keep
}

// BuildTrainableVariablesGradientsGraph adds the gradient nodes of loss with
// respect to every trainable variable in use by the graph of loss. It
// returns the variables and their gradient nodes, aligned, in variable
// creation order. Used by optimizers.
func (ctx *Context) BuildTrainableVariablesGradientsGraph(loss *graph.Node) ([]*Variable, []*graph.Node) {
	ctx.AssertValid()
	g := loss.Graph()
	var variables []*Variable
	var valueNodes []*graph.Node
	ctx.EnumerateVariables(func(v *Variable) {
		if v.Trainable() && v.InUseByGraph(g) {
			variables = append(variables, v)
			valueNodes = append(valueNodes, v.ValueGraph(g))
		}
	})
	if len(variables) == 0 {
		return nil, nil
	}
	return variables, graph.Gradient(loss, valueNodes...)
}

// Finalize releases all the variable values. It is idempotent, and any other
// use of the context afterwards throws a ResourceClosedError.
func (ctx *Context) Finalize() {
	if ctx == nil || ctx.data == nil || ctx.data.finalized {
		return
	}
	data := ctx.data
	data.mu.Lock()
	defer data.mu.Unlock()
	for _, v := range data.variables {
		v.value = nil
		v.graphNodes = nil
	}
	data.variables = nil
	data.variablesByScope = nil
	data.finalized = true
}
