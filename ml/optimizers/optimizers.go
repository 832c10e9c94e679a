// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements the gradient-based optimizers used to train
// models: SGD (with momentum), Adam and RMSProp.
//
// An optimizer adds its weight-update computation to a training graph with
// UpdateGraph: it differentiates the loss with respect to every trainable
// variable in use and registers the updated values with
// Variable.SetValueGraph. Optimizer state (momentum, moment estimates, the
// global step counter) lives in context variables under the "optimizers"
// scope, marked non-trainable so they never receive gradients themselves.
package optimizers

import (
	"strings"

	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/ml/context"
	"github.com/gomlx/stax/ml/initializers"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// Scope is the context scope under which optimizers keep their state
// variables. Models must not create layers under this scope.
const Scope = "optimizers"

// GlobalStepVariableName is the name of the int64 variable under Scope
// counting the training steps taken.
const GlobalStepVariableName = "global_step"

// Interface implemented by optimizers.
type Interface interface {
	// UpdateGraph adds the optimizer's update to the graph g: gradients of
	// loss with respect to every trainable variable in use by g, the
	// corresponding variable updates, and the global step increment. loss
	// must be a scalar.
	UpdateGraph(ctx *context.Context, g *graph.Graph, loss *graph.Node)

	// Clear deletes the optimizer's state variables from ctx, restarting
	// the optimizer. It does not reset the global step.
	Clear(ctx *context.Context)
}

// KnownOptimizers maps the name of each built-in optimizer, usable with
// ByName, to a constructor with default parameters.
var KnownOptimizers = map[string]func() Interface{
	"sgd":     func() Interface { return SGD() },
	"adam":    func() Interface { return Adam() },
	"rmsprop": func() Interface { return RMSProp() },
}

// ByName returns a new optimizer with default parameters, given its name in
// KnownOptimizers. It throws an InvalidParameterError for unknown names.
func ByName(name string) Interface {
	builder, found := KnownOptimizers[strings.ToLower(name)]
	if !found {
		known := make([]string, 0, len(KnownOptimizers))
		for key := range KnownOptimizers {
			known = append(known, key)
		}
		xerrors.ThrowInvalidParamf("unknown optimizer %q, known optimizers are %v", name, known)
	}
	return builder()
}

// GetGlobalStepVar returns the global step variable, creating it (at 0) if
// needed.
func GetGlobalStepVar(ctx *context.Context) *context.Variable {
	return ctx.Checked(false).InAbsPath(context.RootScope).In(Scope).
		VariableWithValue(GlobalStepVariableName, int64(0)).SetTrainable(false)
}

// GetGlobalStep reads the current value of the global step counter.
func GetGlobalStep(ctx *context.Context) int64 {
	return tensors.ToScalar[int64](GetGlobalStepVar(ctx).Value())
}

// IncrementGlobalStepGraph adds one training step to the global step counter
// within the graph g and returns the incremented value as a node.
func IncrementGlobalStepGraph(ctx *context.Context, g *graph.Graph) *graph.Node {
	v := GetGlobalStepVar(ctx)
	updated := graph.AddScalar(v.ValueGraph(g), 1)
	v.SetValueGraph(updated)
	return updated
}

// stateScope returns the Checked(false) context scoped to the state of the
// named optimizer, under Scope.
func stateScope(ctx *context.Context, optimizerName string) *context.Context {
	return ctx.Checked(false).InAbsPath(context.RootScope).In(Scope).In(optimizerName)
}

// stateVariableName derives the name of a state variable ("momentum",
// "1st_moment", ...) for the given model variable. Scope separators are
// not allowed in names, so the variable's path is flattened.
func stateVariableName(v *context.Variable, kind string) string {
	return strings.ReplaceAll(v.ScopeAndName()[1:], context.ScopeSeparator, ".") + "." + kind
}

// trainableGradients checks loss and returns the trainable variables of the
// graph with their gradients.
func trainableGradients(ctx *context.Context, loss *graph.Node) ([]*context.Variable, []*graph.Node) {
	if !loss.IsScalar() {
		xerrors.ThrowInvalidParamf("optimizers require a scalar loss, got %s", loss.Shape())
	}
	return ctx.BuildTrainableVariablesGradientsGraph(loss)
}

// SGDConfig configures the stochastic gradient descent optimizer. See SGD.
type SGDConfig struct {
	learningRate float64
	momentum     float64
}

// SGDDefaultLearningRate is the default learning rate of SGD.
const SGDDefaultLearningRate = 0.01

// SGD returns a stochastic gradient descent optimizer:
//
//	w <- w - learningRate * grad
//
// or, with momentum mu:
//
//	velocity <- mu * velocity + grad
//	w <- w - learningRate * velocity
func SGD() *SGDConfig {
	return &SGDConfig{learningRate: SGDDefaultLearningRate}
}

// WithLearningRate sets the learning rate. Defaults to
// SGDDefaultLearningRate.
func (c *SGDConfig) WithLearningRate(learningRate float64) *SGDConfig {
	if learningRate <= 0 {
		xerrors.ThrowInvalidParamf("SGD: learning rate must be positive, got %g", learningRate)
	}
	c.learningRate = learningRate
	return c
}

// WithMomentum sets the momentum coefficient, in [0, 1). 0 (the default)
// disables momentum.
func (c *SGDConfig) WithMomentum(momentum float64) *SGDConfig {
	if momentum < 0 || momentum >= 1 {
		xerrors.ThrowInvalidParamf("SGD: momentum must be in [0, 1), got %g", momentum)
	}
	c.momentum = momentum
	return c
}

// UpdateGraph implements Interface.
func (c *SGDConfig) UpdateGraph(ctx *context.Context, g *graph.Graph, loss *graph.Node) {
	variables, gradients := trainableGradients(ctx, loss)
	_ = IncrementGlobalStepGraph(ctx, g)
	stateCtx := stateScope(ctx, "sgd")
	for ii, v := range variables {
		grad := gradients[ii]
		if c.momentum > 0 {
			velocityVar := stateCtx.WithInitializer(initializers.Zero).
				VariableWithShape(stateVariableName(v, "momentum"), v.Shape()).
				SetTrainable(false)
			velocity := graph.Add(
				graph.MulScalar(velocityVar.ValueGraph(g), c.momentum), grad)
			velocityVar.SetValueGraph(velocity)
			grad = velocity
		}
		v.SetValueGraph(graph.Sub(
			v.ValueGraph(g), graph.MulScalar(grad, c.learningRate)))
	}
}

// Clear implements Interface.
func (c *SGDConfig) Clear(ctx *context.Context) {
	stateScope(ctx, "sgd").DeleteVariablesInScope()
}
