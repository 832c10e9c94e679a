// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/ml/context"
	"github.com/gomlx/stax/ml/initializers"
	"github.com/gomlx/stax/types/xerrors"
)

// Default hyperparameters for Adam, from the original paper
// "Adam: A Method for Stochastic Optimization" (Kingma, Ba, 2014).
const (
	AdamDefaultLearningRate = 0.001
	AdamDefaultBeta1        = 0.9
	AdamDefaultBeta2        = 0.999
	AdamDefaultEpsilon      = 1e-7
)

// AdamConfig configures the Adam optimizer. See Adam.
type AdamConfig struct {
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
}

// Adam returns an Adam optimizer with the default hyperparameters. It keeps
// debiased running estimates of the first and second moment of each gradient:
//
//	m <- beta1 * m + (1 - beta1) * grad
//	v <- beta2 * v + (1 - beta2) * grad²
//	w <- w - learningRate * (m / (1 - beta1^t)) / (sqrt(v / (1 - beta2^t)) + epsilon)
//
// where t counts the steps taken by this optimizer.
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: AdamDefaultLearningRate,
		beta1:        AdamDefaultBeta1,
		beta2:        AdamDefaultBeta2,
		epsilon:      AdamDefaultEpsilon,
	}
}

// WithLearningRate sets the learning rate. Defaults to
// AdamDefaultLearningRate.
func (c *AdamConfig) WithLearningRate(learningRate float64) *AdamConfig {
	if learningRate <= 0 {
		xerrors.ThrowInvalidParamf("Adam: learning rate must be positive, got %g", learningRate)
	}
	c.learningRate = learningRate
	return c
}

// WithBetas sets the exponential decay rates of the first and second moment
// estimates, each in [0, 1).
func (c *AdamConfig) WithBetas(beta1, beta2 float64) *AdamConfig {
	if beta1 < 0 || beta1 >= 1 || beta2 < 0 || beta2 >= 1 {
		xerrors.ThrowInvalidParamf("Adam: betas must be in [0, 1), got beta1=%g, beta2=%g", beta1, beta2)
	}
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// WithEpsilon sets the small constant added to the denominator for numerical
// stability. Defaults to AdamDefaultEpsilon.
func (c *AdamConfig) WithEpsilon(epsilon float64) *AdamConfig {
	if epsilon <= 0 {
		xerrors.ThrowInvalidParamf("Adam: epsilon must be positive, got %g", epsilon)
	}
	c.epsilon = epsilon
	return c
}

// UpdateGraph implements Interface.
func (c *AdamConfig) UpdateGraph(ctx *context.Context, g *graph.Graph, loss *graph.Node) {
	variables, gradients := trainableGradients(ctx, loss)
	_ = IncrementGlobalStepGraph(ctx, g)
	stateCtx := stateScope(ctx, "adam")

	// Adam keeps its own step counter for the bias correction, so Clear
	// restarts the correction along with the moments.
	stepVar := stateCtx.VariableWithValue("step", int64(0)).SetTrainable(false)
	step := graph.AddScalar(stepVar.ValueGraph(g), 1)
	stepVar.SetValueGraph(step)

	for ii, v := range variables {
		grad := gradients[ii]
		dtype := v.DType()
		m := c.momentVariable(stateCtx, v, "1st_moment")
		s := c.momentVariable(stateCtx, v, "2nd_moment")

		mNew := graph.Add(
			graph.MulScalar(m.ValueGraph(g), c.beta1),
			graph.MulScalar(grad, 1-c.beta1))
		sNew := graph.Add(
			graph.MulScalar(s.ValueGraph(g), c.beta2),
			graph.MulScalar(graph.Square(grad), 1-c.beta2))
		m.SetValueGraph(mNew)
		s.SetValueGraph(sNew)

		// Debias: at step t the moments are scaled by (1 - beta^t).
		stepT := graph.ConvertDType(step, dtype)
		mHat := graph.Div(mNew, debiasTerm(g, dtype, c.beta1, stepT))
		sHat := graph.Div(sNew, debiasTerm(g, dtype, c.beta2, stepT))

		update := graph.Div(mHat, graph.AddScalar(graph.Sqrt(sHat), c.epsilon))
		v.SetValueGraph(graph.Sub(
			v.ValueGraph(g), graph.MulScalar(update, c.learningRate)))
	}
}

func (c *AdamConfig) momentVariable(stateCtx *context.Context, v *context.Variable, kind string) *context.Variable {
	return stateCtx.WithInitializer(initializers.Zero).
		VariableWithShape(stateVariableName(v, kind), v.Shape()).
		SetTrainable(false)
}

// debiasTerm returns 1 - beta^t as a scalar node.
func debiasTerm(g *graph.Graph, dtype dtypes.DType, beta float64, stepT *graph.Node) *graph.Node {
	return graph.OneMinus(graph.Pow(graph.Scalar(g, dtype, beta), stepT))
}

// Clear implements Interface.
func (c *AdamConfig) Clear(ctx *context.Context) {
	stateScope(ctx, "adam").DeleteVariablesInScope()
}

// Default hyperparameters for RMSProp.
const (
	RMSPropDefaultLearningRate = 0.001
	RMSPropDefaultRho          = 0.9
	RMSPropDefaultEpsilon      = 1e-7
)

// RMSPropConfig configures the RMSProp optimizer. See RMSProp.
type RMSPropConfig struct {
	learningRate float64
	rho          float64
	epsilon      float64
}

// RMSProp returns an RMSProp optimizer with the default hyperparameters. It
// divides each gradient by the root of a running mean of its square:
//
//	accum <- rho * accum + (1 - rho) * grad²
//	w <- w - learningRate * grad / sqrt(accum + epsilon)
func RMSProp() *RMSPropConfig {
	return &RMSPropConfig{
		learningRate: RMSPropDefaultLearningRate,
		rho:          RMSPropDefaultRho,
		epsilon:      RMSPropDefaultEpsilon,
	}
}

// WithLearningRate sets the learning rate. Defaults to
// RMSPropDefaultLearningRate.
func (c *RMSPropConfig) WithLearningRate(learningRate float64) *RMSPropConfig {
	if learningRate <= 0 {
		xerrors.ThrowInvalidParamf("RMSProp: learning rate must be positive, got %g", learningRate)
	}
	c.learningRate = learningRate
	return c
}

// WithRho sets the decay rate of the squared-gradient running mean, in
// [0, 1). Defaults to RMSPropDefaultRho.
func (c *RMSPropConfig) WithRho(rho float64) *RMSPropConfig {
	if rho < 0 || rho >= 1 {
		xerrors.ThrowInvalidParamf("RMSProp: rho must be in [0, 1), got %g", rho)
	}
	c.rho = rho
	return c
}

// WithEpsilon sets the small constant added inside the root for numerical
// stability. Defaults to RMSPropDefaultEpsilon.
func (c *RMSPropConfig) WithEpsilon(epsilon float64) *RMSPropConfig {
	if epsilon <= 0 {
		xerrors.ThrowInvalidParamf("RMSProp: epsilon must be positive, got %g", epsilon)
	}
	c.epsilon = epsilon
	return c
}

// UpdateGraph implements Interface.
func (c *RMSPropConfig) UpdateGraph(ctx *context.Context, g *graph.Graph, loss *graph.Node) {
	variables, gradients := trainableGradients(ctx, loss)
	_ = IncrementGlobalStepGraph(ctx, g)
	stateCtx := stateScope(ctx, "rmsprop")
	for ii, v := range variables {
		grad := gradients[ii]
		accumVar := stateCtx.WithInitializer(initializers.Zero).
			VariableWithShape(stateVariableName(v, "accumulator"), v.Shape()).
			SetTrainable(false)
		accum := graph.Add(
			graph.MulScalar(accumVar.ValueGraph(g), c.rho),
			graph.MulScalar(graph.Square(grad), 1-c.rho))
		accumVar.SetValueGraph(accum)
		update := graph.Div(grad, graph.Sqrt(graph.AddScalar(accum, c.epsilon)))
		v.SetValueGraph(graph.Sub(
			v.ValueGraph(g), graph.MulScalar(update, c.learningRate)))
	}
}

// Clear implements Interface.
func (c *RMSPropConfig) Clear(ctx *context.Context) {
	stateScope(ctx, "rmsprop").DeleteVariablesInScope()
}
