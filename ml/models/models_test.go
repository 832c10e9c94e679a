// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/stax/graph/graphtest"
	"github.com/gomlx/stax/ml/datasets"
	"github.com/gomlx/stax/ml/layers"
	"github.com/gomlx/stax/ml/layers/activations"
	"github.com/gomlx/stax/ml/losses"
	"github.com/gomlx/stax/ml/metrics"
	"github.com/gomlx/stax/ml/models"
	"github.com/gomlx/stax/ml/optimizers"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// newDenseModel builds a minimal Input -> Dense(1) model, not yet built.
func newDenseModel(t *testing.T) *models.Sequential {
	backend := graphtest.BuildTestBackend()
	model, err := models.NewSequential(backend,
		layers.Input(shapes.Make(dtypes.Float32, 2)),
		layers.Dense(1))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, model.Close()) })
	return model
}

func TestNewSequentialValidation(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	_, err := models.NewSequential(backend)
	require.Error(t, err)
	_, err = models.NewSequential(backend, layers.Dense(1))
	require.Error(t, err)
	_, err = models.NewSequential(nil, layers.Input(shapes.Make(dtypes.Float32, 2)))
	require.Error(t, err)
}

func TestLifecycleTransitions(t *testing.T) {
	model := newDenseModel(t)

	// Compile before Build.
	err := model.Compile(optimizers.SGD(), losses.MeanSquaredError)
	require.Error(t, err)
	var stateErr *xerrors.IllegalStateError
	require.True(t, errors.As(err, &stateErr))

	require.NoError(t, model.Build())
	err = model.Build()
	require.Error(t, err)
	require.True(t, errors.As(err, &stateErr))

	// Fit before Compile.
	ds := datasets.New("ds", [][]float32{{1, 2}}, [][]float32{{1}})
	_, err = model.Fit(ds, 1, 1)
	require.Error(t, err)
	require.True(t, errors.As(err, &stateErr))

	require.NoError(t, model.Compile(optimizers.SGD(), losses.MeanSquaredError))
	err = model.Compile(optimizers.SGD(), losses.MeanSquaredError)
	require.Error(t, err)
	require.True(t, errors.As(err, &stateErr))
}

func TestUseAfterClose(t *testing.T) {
	model := newDenseModel(t)
	require.NoError(t, model.Build())
	require.NoError(t, model.Close())
	require.NoError(t, model.Close()) // Idempotent.

	var closedErr *xerrors.ResourceClosedError
	err := model.Build()
	require.True(t, errors.As(err, &closedErr))
	err = model.Compile(optimizers.SGD(), losses.MeanSquaredError)
	require.True(t, errors.As(err, &closedErr))
	_, err = model.Predict([][]float32{{1, 2}})
	require.True(t, errors.As(err, &closedErr))
	_, err = model.Weights()
	require.True(t, errors.As(err, &closedErr))
	err = model.Summary(&strings.Builder{})
	require.True(t, errors.As(err, &closedErr))
}

// TestSGDStepByHand checks one full train step against a hand-computed
// update of a linear model y = x.w + b under mean squared error.
//
// With x = [[1,2],[3,4]], y = [[1],[2]], w = [[0.1],[0.2]], b = [0.5]:
// predictions [1.0, 1.6], errors [0, -0.4], loss (0 + 0.16)/2 = 0.08,
// dL/dw = [-1.2, -1.6], dL/db = -0.4; at learning rate 0.1 the step gives
// w = [0.22, 0.36], b = 0.54.
func TestSGDStepByHand(t *testing.T) {
	model := newDenseModel(t)
	require.NoError(t, model.Build())

	ctx := model.Context()
	ctx.InspectVariable("/dense_0", "weights").
		SetValue(tensors.FromFlatDataAndDimensions([]float32{0.1, 0.2}, 2, 1))
	ctx.InspectVariable("/dense_0", "biases").
		SetValue(tensors.FromFlatDataAndDimensions([]float32{0.5}, 1))

	require.NoError(t, model.Compile(
		optimizers.SGD().WithLearningRate(0.1), losses.MeanSquaredError))
	ds := datasets.New("line", [][]float32{{1, 2}, {3, 4}}, [][]float32{{1}, {2}})
	history, err := model.Fit(ds, 1, 2)
	require.NoError(t, err)
	require.Len(t, history.Epochs, 1)
	assert.InDelta(t, 0.08, history.Last().Loss, 1e-6)

	weights, err := model.Weights()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.22, 0.36},
		tensors.CopyFlatData[float32](weights["dense_0"]["weights"]), 1e-6)
	assert.InDeltaSlice(t, []float32{0.54},
		tensors.CopyFlatData[float32](weights["dense_0"]["biases"]), 1e-6)
}

// referenceSGDStep runs one step of gradient descent on a
// relu-then-linear two-layer network in float64 on the host: forward pass,
// backward pass and update, returning the updated parameters. The loss is
// the mean over batch and features of the squared error, matching
// losses.MeanSquaredError reduced with ReduceAllMean.
func referenceSGDStep(x, y [][]float64, w1 [][]float64, b1 []float64, w2 [][]float64, b2 []float64, lr float64) ([][]float64, []float64, [][]float64, []float64) {
	batch, in := len(x), len(x[0])
	hidden, out := len(b1), len(b2)

	// Forward.
	pre := make([][]float64, batch) // pre-activation of the hidden layer
	h := make([][]float64, batch)
	p := make([][]float64, batch)
	for b := range x {
		pre[b] = make([]float64, hidden)
		h[b] = make([]float64, hidden)
		for j := range pre[b] {
			pre[b][j] = b1[j]
			for i := range x[b] {
				pre[b][j] += x[b][i] * w1[i][j]
			}
			h[b][j] = max(pre[b][j], 0)
		}
		p[b] = make([]float64, out)
		for k := range p[b] {
			p[b][k] = b2[k]
			for j := range h[b] {
				p[b][k] += h[b][j] * w2[j][k]
			}
		}
	}

	// Backward: dLoss/dPrediction = 2*(p-y)/(batch*out).
	dP := make([][]float64, batch)
	dH := make([][]float64, batch)
	for b := range p {
		dP[b] = make([]float64, out)
		for k := range p[b] {
			dP[b][k] = 2 * (p[b][k] - y[b][k]) / float64(batch*out)
		}
		dH[b] = make([]float64, hidden)
		for j := range dH[b] {
			for k := range dP[b] {
				dH[b][j] += dP[b][k] * w2[j][k]
			}
			if pre[b][j] <= 0 {
				dH[b][j] = 0
			}
		}
	}

	// Updates.
	for j := 0; j < hidden; j++ {
		for k := 0; k < out; k++ {
			var grad float64
			for b := range h {
				grad += h[b][j] * dP[b][k]
			}
			w2[j][k] -= lr * grad
		}
	}
	for k := 0; k < out; k++ {
		var grad float64
		for b := range dP {
			grad += dP[b][k]
		}
		b2[k] -= lr * grad
	}
	for i := 0; i < in; i++ {
		for j := 0; j < hidden; j++ {
			var grad float64
			for b := range x {
				grad += x[b][i] * dH[b][j]
			}
			w1[i][j] -= lr * grad
		}
	}
	for j := 0; j < hidden; j++ {
		var grad float64
		for b := range dH {
			grad += dH[b][j]
		}
		b1[j] -= lr * grad
	}
	return w1, b1, w2, b2
}

// One SGD step through Input(4) -> Dense(3, relu) -> Dense(2, linear) must
// match host-computed gradient descent to within 1e-6. The fixed weights
// leave one hidden unit inactive on the second example, so the relu gating
// of the gradient is exercised too.
func TestSGDStepTwoLayersRelu(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	model, err := models.NewSequential(backend,
		layers.Input(shapes.Make(dtypes.Float32, 4)),
		layers.Dense(3).WithActivation(activations.TypeRelu),
		layers.Dense(2))
	require.NoError(t, err)
	defer func() { require.NoError(t, model.Close()) }()
	require.NoError(t, model.Build())

	w1 := [][]float64{{0.1, -0.2, 0.3}, {0.4, 0.1, -0.3}, {-0.2, 0.5, 0.2}, {0.3, -0.1, 0.4}}
	b1 := []float64{0.1, -0.1, 0.2}
	w2 := [][]float64{{0.2, -0.4}, {0.5, 0.3}, {-0.1, 0.6}}
	b2 := []float64{0.05, -0.05}
	flat32 := func(rows [][]float64) (flat []float32) {
		for _, row := range rows {
			for _, v := range row {
				flat = append(flat, float32(v))
			}
		}
		return
	}
	to32 := func(values []float64) (flat []float32) {
		for _, v := range values {
			flat = append(flat, float32(v))
		}
		return
	}
	ctx := model.Context()
	ctx.InspectVariable("/dense_0", "weights").
		SetValue(tensors.FromFlatDataAndDimensions(flat32(w1), 4, 3))
	ctx.InspectVariable("/dense_0", "biases").
		SetValue(tensors.FromFlatDataAndDimensions(to32(b1), 3))
	ctx.InspectVariable("/dense_1", "weights").
		SetValue(tensors.FromFlatDataAndDimensions(flat32(w2), 3, 2))
	ctx.InspectVariable("/dense_1", "biases").
		SetValue(tensors.FromFlatDataAndDimensions(to32(b2), 2))

	require.NoError(t, model.Compile(
		optimizers.SGD().WithLearningRate(0.1), losses.MeanSquaredError))

	x := [][]float64{{0.5, -1.0, 1.5, 2.0}, {1.0, 0.5, -0.5, 1.0}}
	y := [][]float64{{1, 0}, {0, 1}}
	ds := datasets.New("two-layer",
		[][]float32{to32(x[0]), to32(x[1])},
		[][]float32{to32(y[0]), to32(y[1])})
	_, err = model.Fit(ds, 1, 2)
	require.NoError(t, err)

	wantW1, wantB1, wantW2, wantB2 := referenceSGDStep(x, y, w1, b1, w2, b2, 0.1)
	weights, err := model.Weights()
	require.NoError(t, err)
	assert.InDeltaSlice(t, flat32(wantW1),
		tensors.CopyFlatData[float32](weights["dense_0"]["weights"]), 1e-6)
	assert.InDeltaSlice(t, to32(wantB1),
		tensors.CopyFlatData[float32](weights["dense_0"]["biases"]), 1e-6)
	assert.InDeltaSlice(t, flat32(wantW2),
		tensors.CopyFlatData[float32](weights["dense_1"]["weights"]), 1e-6)
	assert.InDeltaSlice(t, to32(wantB2),
		tensors.CopyFlatData[float32](weights["dense_1"]["biases"]), 1e-6)
}

// batchCounter records the batch sizes seen per epoch.
type batchCounter struct {
	plan       models.Plan
	epochs     int
	batchSizes [][]int
	trainEnds  int
}

func (c *batchCounter) OnTrainBegin(plan models.Plan) { c.plan = plan }
func (c *batchCounter) OnEpochBegin(epoch int) {
	c.epochs++
	c.batchSizes = append(c.batchSizes, nil)
}
func (c *batchCounter) OnBatchEnd(stats models.BatchStats) {
	c.batchSizes[len(c.batchSizes)-1] = append(c.batchSizes[len(c.batchSizes)-1], stats.BatchSize)
}
func (c *batchCounter) OnEpochEnd(stats models.EpochStats) {}
func (c *batchCounter) OnTrainEnd(history *models.History) { c.trainEnds++ }

func TestFitBatchPartitioning(t *testing.T) {
	model := newDenseModel(t)
	require.NoError(t, model.Build())
	require.NoError(t, model.Compile(optimizers.SGD(), losses.MeanSquaredError))

	x := make([][]float32, 10)
	y := make([][]float32, 10)
	for i := range x {
		x[i] = []float32{float32(i), 1}
		y[i] = []float32{float32(i)}
	}
	ds := datasets.New("mod", x, y)

	counter := &batchCounter{}
	history, err := model.Fit(ds, 2, 3, models.WithListeners(counter))
	require.NoError(t, err)
	require.Len(t, history.Epochs, 2)
	assert.Equal(t, 4, counter.plan.NumBatches)
	assert.Equal(t, 10, counter.plan.NumExamples)
	assert.Equal(t, 2, counter.epochs)
	assert.Equal(t, 1, counter.trainEnds)
	for _, sizes := range counter.batchSizes {
		assert.Equal(t, []int{3, 3, 3, 1}, sizes)
	}

	_, err = model.Fit(ds, 0, 3)
	require.Error(t, err)
	_, err = model.Fit(ds, 1, 0)
	require.Error(t, err)
}

func TestEvaluateAndMetrics(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	model, err := models.NewSequential(backend,
		layers.Input(shapes.Make(dtypes.Float32, 2)),
		layers.Dense(1))
	require.NoError(t, err)
	defer func() { require.NoError(t, model.Close()) }()
	require.NoError(t, model.Build())
	require.NoError(t, model.Compile(optimizers.SGD(), losses.MeanSquaredError,
		metrics.MeanAbsoluteError()))

	ds := datasets.New("eval", [][]float32{{1, 0}, {0, 1}, {1, 1}}, [][]float32{{0}, {0}, {1}})
	results, err := model.Evaluate(ds, 2)
	require.NoError(t, err)
	require.Contains(t, results, "loss")
	require.Contains(t, results, "mae")
	assert.GreaterOrEqual(t, results["loss"], 0.0)
}

func TestFitWithValidation(t *testing.T) {
	model := newDenseModel(t)
	require.NoError(t, model.Build())
	require.NoError(t, model.Compile(optimizers.SGD().WithLearningRate(0.01), losses.MeanSquaredError))

	ds := datasets.New("train",
		[][]float32{{1, 2}, {3, 4}, {5, 6}, {7, 8}},
		[][]float32{{1}, {2}, {3}, {4}})
	train, val := ds.Split(0.75)
	history, err := model.Fit(train, 3, 2, models.WithValidation(val))
	require.NoError(t, err)
	require.Len(t, history.Epochs, 3)
	require.Contains(t, history.Last().Metrics, "val_loss")
	assert.Len(t, history.MetricSeries("val_loss"), 3)
	assert.Len(t, history.MetricSeries("loss"), 3)
}

func TestPredictAndActivations(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	model, err := models.NewSequential(backend,
		layers.Input(shapes.Make(dtypes.Float32, 2)),
		layers.Dense(4),
		layers.Dense(1))
	require.NoError(t, err)
	defer func() { require.NoError(t, model.Close()) }()
	require.NoError(t, model.Build())
	require.NoError(t, model.Compile(optimizers.SGD(), losses.MeanSquaredError))

	inputs := [][]float32{{1, 2}, {3, 4}, {5, 6}}
	output, err := model.Predict(inputs)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1}, output.Shape().Dimensions)

	activations, err := model.PredictWithActivations(inputs)
	require.NoError(t, err)
	require.Len(t, activations, 3) // input, dense_0, dense_1
	assert.Equal(t, []int{3, 2}, activations[0].Shape().Dimensions)
	assert.Equal(t, []int{3, 4}, activations[1].Shape().Dimensions)
	assert.True(t, activations[2].InDelta(output, 1e-6))
}

func TestActivationsWithIdentityLayer(t *testing.T) {
	// A standalone identity activation layer makes two layers report the
	// same graph node, so the activations executor returns it twice.
	backend := graphtest.BuildTestBackend()
	model, err := models.NewSequential(backend,
		layers.Input(shapes.Make(dtypes.Float32, 2)),
		layers.Activation(activations.TypeNone),
		layers.Dense(1))
	require.NoError(t, err)
	defer func() { require.NoError(t, model.Close()) }()
	require.NoError(t, model.Build())
	require.NoError(t, model.Compile(optimizers.SGD(), losses.MeanSquaredError))

	inputs := [][]float32{{1, 2}, {3, 4}}
	acts, err := model.PredictWithActivations(inputs)
	require.NoError(t, err)
	require.Len(t, acts, 3)
	assert.True(t, acts[0].InDelta(acts[1], 0))
	assert.Equal(t, []int{2, 1}, acts[2].Shape().Dimensions)
}

func TestWeightsShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	model, err := models.NewSequential(backend,
		layers.Input(shapes.Make(dtypes.Float32, 8, 8, 1)),
		layers.Conv2D(2, 3),
		layers.Flatten(),
		layers.Dense(5))
	require.NoError(t, err)
	defer func() { require.NoError(t, model.Close()) }()
	require.NoError(t, model.Build())

	weights, err := model.Weights()
	require.NoError(t, err)
	require.Contains(t, weights, "conv2d_0")
	require.Contains(t, weights, "dense_0")
	assert.NotContains(t, weights, "flatten_0") // Stateless.
	assert.Equal(t, []int{3, 3, 1, 2}, weights["conv2d_0"]["weights"].Shape().Dimensions)
	assert.Equal(t, []int{2}, weights["conv2d_0"]["biases"].Shape().Dimensions)
	assert.Equal(t, []int{72, 5}, weights["dense_0"]["weights"].Shape().Dimensions)

	// Snapshots are copies: mutating them leaves the model untouched.
	tensors.MutableFlatData[float32](weights["dense_0"]["biases"], func(flat []float32) {
		flat[0] = 1e6
	})
	fresh, err := model.Weights()
	require.NoError(t, err)
	assert.NotEqual(t, float32(1e6), tensors.CopyFlatData[float32](fresh["dense_0"]["biases"])[0])
}

func TestSummary(t *testing.T) {
	model := newDenseModel(t)
	require.NoError(t, model.Build())

	var sb strings.Builder
	require.NoError(t, model.Summary(&sb))
	out := sb.String()
	assert.Contains(t, out, "dense_0")
	assert.Contains(t, out, "input_0")
	assert.Contains(t, out, "Total parameters: 3")
}

func TestFitConverges(t *testing.T) {
	model := newDenseModel(t)
	require.NoError(t, model.Build())
	require.NoError(t, model.Compile(optimizers.Adam().WithLearningRate(0.05), losses.MeanSquaredError))

	// y = x0 + 2*x1 - 1.
	x := make([][]float32, 32)
	y := make([][]float32, 32)
	for i := range x {
		a, b := float32(i%8)/8, float32(i/8)/4
		x[i] = []float32{a, b}
		y[i] = []float32{a + 2*b - 1}
	}
	ds := datasets.New("linear", x, y).Shuffle(42)
	history, err := model.Fit(ds, 200, 8)
	require.NoError(t, err)
	assert.Less(t, history.Last().Loss, 1e-3)
	assert.Less(t, history.Last().Loss, history.Epochs[0].Loss)
}
