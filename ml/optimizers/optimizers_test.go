// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers_test

import (
	"errors"
	"math"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/graph/graphtest"
	"github.com/gomlx/stax/ml/context"
	"github.com/gomlx/stax/ml/optimizers"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// trainStepExec returns an Exec that runs one optimizer step on the loss
// built by lossFn from the context variables, returning the loss value.
func trainStepExec(t *testing.T, ctx *context.Context, opt optimizers.Interface,
	lossFn func(ctx *context.Context, g *graph.Graph) *graph.Node) *context.Exec {
	backend := graphtest.BuildTestBackend()
	exec := context.NewExec(backend, ctx, "train_step",
		func(ctx *context.Context, g *graph.Graph, inputs []*graph.Node) []*graph.Node {
			loss := lossFn(ctx, g)
			opt.UpdateGraph(ctx, g, loss)
			return []*graph.Node{loss}
		})
	t.Cleanup(exec.Finalize)
	return exec
}

func weightValues(t *testing.T, v *context.Variable) []float32 {
	var values []float32
	v.Value().ConstFlatData(func(flat any) {
		values = append(values, flat.([]float32)...)
	})
	require.NotEmpty(t, values)
	return values
}

// sumSquaresLoss: loss = sum(w²), so grad(w) = 2w.
func sumSquaresLoss(ctx *context.Context, g *graph.Graph) *graph.Node {
	w := ctx.GetVariable("w")
	return graph.ReduceAllSum(graph.Square(w.ValueGraph(g)))
}

// sumLoss: loss = sum(w), so grad(w) = 1 everywhere.
func sumLoss(ctx *context.Context, g *graph.Graph) *graph.Node {
	w := ctx.GetVariable("w")
	return graph.ReduceAllSum(w.ValueGraph(g))
}

func TestSGDStep(t *testing.T) {
	ctx := context.New()
	w := ctx.VariableWithValue("w", []float32{2, -4})
	opt := optimizers.SGD().WithLearningRate(0.1)
	exec := trainStepExec(t, ctx, opt, sumSquaresLoss)

	// w <- w - 0.1 * 2w = 0.8 * w.
	_, err := exec.Call()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1.6, -3.2}, weightValues(t, w), 1e-6)
	_, err = exec.Call()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1.28, -2.56}, weightValues(t, w), 1e-6)
	assert.Equal(t, int64(2), optimizers.GetGlobalStep(ctx))
}

func TestSGDMomentum(t *testing.T) {
	ctx := context.New()
	w := ctx.VariableWithValue("w", []float32{1, 1})
	opt := optimizers.SGD().WithLearningRate(0.1).WithMomentum(0.9)
	exec := trainStepExec(t, ctx, opt, sumLoss)

	// Constant gradient of 1: velocity grows 1, 1.9, ...
	_, err := exec.Call()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.9, 0.9}, weightValues(t, w), 1e-6)
	_, err = exec.Call()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.71, 0.71}, weightValues(t, w), 1e-6)
}

func TestAdamFirstStep(t *testing.T) {
	ctx := context.New()
	w := ctx.VariableWithValue("w", []float32{5, -3})
	opt := optimizers.Adam().WithLearningRate(0.01)
	exec := trainStepExec(t, ctx, opt, sumLoss)

	// After debiasing, the first step moves each weight by roughly
	// learningRate in the direction opposite the gradient.
	_, err := exec.Call()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{4.99, -3.01}, weightValues(t, w), 1e-4)
}

func TestRMSPropStep(t *testing.T) {
	ctx := context.New()
	w := ctx.VariableWithValue("w", []float32{1, 1})
	opt := optimizers.RMSProp().WithLearningRate(0.001).WithRho(0.9)
	exec := trainStepExec(t, ctx, opt, sumLoss)

	// accum = 0.1, update = 0.001 / sqrt(0.1 + eps).
	_, err := exec.Call()
	require.NoError(t, err)
	want := float32(1 - 0.001/math.Sqrt(0.1+optimizers.RMSPropDefaultEpsilon))
	assert.InDeltaSlice(t, []float32{want, want}, weightValues(t, w), 1e-6)
}

func TestSGDConvergesOnQuadratic(t *testing.T) {
	ctx := context.New()
	w := ctx.VariableWithValue("w", []float32{10, -10})
	opt := optimizers.SGD().WithLearningRate(0.1)
	exec := trainStepExec(t, ctx, opt, sumSquaresLoss)
	for step := 0; step < 100; step++ {
		_, err := exec.Call()
		require.NoError(t, err)
	}
	for _, value := range weightValues(t, w) {
		assert.InDelta(t, 0, value, 1e-3)
	}
	assert.Equal(t, int64(100), optimizers.GetGlobalStep(ctx))
}

func TestClearKeepsGlobalStep(t *testing.T) {
	ctx := context.New()
	ctx.VariableWithValue("w", []float32{1, 1})
	opt := optimizers.SGD().WithMomentum(0.9)
	exec := trainStepExec(t, ctx, opt, sumLoss)
	_, err := exec.Call()
	require.NoError(t, err)

	momentumVar := ctx.InspectVariable("/optimizers/sgd", "w.momentum")
	require.NotNil(t, momentumVar)
	assert.False(t, momentumVar.Trainable())

	opt.Clear(ctx)
	assert.Nil(t, ctx.InspectVariable("/optimizers/sgd", "w.momentum"))
	assert.Equal(t, int64(1), optimizers.GetGlobalStep(ctx))
}

func TestAdamStateVariables(t *testing.T) {
	ctx := context.New()
	ctx.In("model").VariableWithValue("w", []float32{1})
	opt := optimizers.Adam()
	exec := trainStepExec(t, ctx, opt, func(ctx *context.Context, g *graph.Graph) *graph.Node {
		w := ctx.In("model").GetVariable("w")
		return graph.ReduceAllSum(w.ValueGraph(g))
	})
	_, err := exec.Call()
	require.NoError(t, err)

	require.NotNil(t, ctx.InspectVariable("/optimizers/adam", "model.w.1st_moment"))
	require.NotNil(t, ctx.InspectVariable("/optimizers/adam", "model.w.2nd_moment"))
	stepVar := ctx.InspectVariable("/optimizers/adam", "step")
	require.NotNil(t, stepVar)
	assert.Equal(t, int64(1), tensors.ToScalar[int64](stepVar.Value()))
}

func TestByName(t *testing.T) {
	assert.IsType(t, &optimizers.SGDConfig{}, optimizers.ByName("sgd"))
	assert.IsType(t, &optimizers.AdamConfig{}, optimizers.ByName("Adam"))
	assert.IsType(t, &optimizers.RMSPropConfig{}, optimizers.ByName("rmsprop"))

	err := exceptions.TryCatch[error](func() { optimizers.ByName("sophia") })
	require.Error(t, err)
	var paramErr *xerrors.InvalidParameterError
	require.True(t, errors.As(err, &paramErr))
}

func TestHyperparameterValidation(t *testing.T) {
	for name, fn := range map[string]func(){
		"sgd negative lr":   func() { optimizers.SGD().WithLearningRate(-1) },
		"sgd momentum >= 1": func() { optimizers.SGD().WithMomentum(1) },
		"adam beta >= 1":    func() { optimizers.Adam().WithBetas(0.9, 1) },
		"adam zero epsilon": func() { optimizers.Adam().WithEpsilon(0) },
		"rmsprop rho >= 1":  func() { optimizers.RMSProp().WithRho(1.5) },
		"rmsprop zero lr":   func() { optimizers.RMSProp().WithLearningRate(0) },
	} {
		err := exceptions.TryCatch[error](fn)
		require.Error(t, err, name)
		var paramErr *xerrors.InvalidParameterError
		require.True(t, errors.As(err, &paramErr), name)
	}
}

func TestNonScalarLossRejected(t *testing.T) {
	ctx := context.New()
	ctx.VariableWithValue("w", []float32{1, 2})
	opt := optimizers.SGD()
	exec := trainStepExec(t, ctx, opt, func(ctx *context.Context, g *graph.Graph) *graph.Node {
		return ctx.GetVariable("w").ValueGraph(g)
	})
	_, err := exec.Call()
	require.Error(t, err)
	var paramErr *xerrors.InvalidParameterError
	require.True(t, errors.As(err, &paramErr))
}
