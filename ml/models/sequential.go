// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package models implements the Sequential model: an ordered stack of layers
// with the usual Keras-like lifecycle. A model starts unbuilt, Build
// materializes the variables of every layer, Compile binds the loss,
// optimizer and metrics and creates the executors, and then Fit, Evaluate
// and Predict run it. Close releases the model's resources; the model cannot
// be used afterwards.
//
// The methods of Sequential return errors instead of throwing: internal
// panics are converted at this boundary with exceptions.TryCatch.
package models

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/ml/context"
	"github.com/gomlx/stax/ml/layers"
	"github.com/gomlx/stax/ml/losses"
	"github.com/gomlx/stax/ml/metrics"
	"github.com/gomlx/stax/ml/optimizers"
	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// state of the model lifecycle. Transitions only move forward.
type state int

const (
	stateUnbuilt state = iota
	stateBuilt
	stateCompiled
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUnbuilt:
		return "unbuilt"
	case stateBuilt:
		return "built"
	case stateCompiled:
		return "compiled"
	case stateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Sequential chains layers so the output of each is the input of the next.
// The first layer must be a layers.Input declaring the example shape.
//
// A Sequential is not safe for concurrent use.
type Sequential struct {
	backend backends.Backend
	ctx     *context.Context
	layers  []layers.Layer
	state   state

	// outputShapes[i] is the output of layers[i], batch axis unknown.
	outputShapes []shapes.Shape

	loss      losses.Loss
	optimizer optimizers.Interface
	metrics   []metrics.Interface

	trainExec       *context.Exec
	evalExec        *context.Exec
	predictExec     *context.Exec
	activationsExec *context.Exec
}

// NewSequential creates a model from the given layers, in order. There must
// be at least one layer and the first must be created with layers.Input.
func NewSequential(backend backends.Backend, layerList ...layers.Layer) (*Sequential, error) {
	if backend == nil {
		return nil, fmt.Errorf("models.NewSequential: backend is nil")
	}
	if len(layerList) == 0 {
		return nil, fmt.Errorf("models.NewSequential: no layers given")
	}
	if _, ok := layerList[0].(*layers.InputLayer); !ok {
		return nil, fmt.Errorf("models.NewSequential: first layer must be layers.Input, got %q",
			layerList[0].TypeName())
	}
	return &Sequential{
		backend: backend,
		ctx:     context.New(),
		layers:  layerList,
		state:   stateUnbuilt,
	}, nil
}

// Context returns the model's variable context. Mostly useful for tests and
// for tooling that inspects or saves variables.
func (m *Sequential) Context() *context.Context { return m.ctx }

// Layers returns the model's layers, in order.
func (m *Sequential) Layers() []layers.Layer { return m.layers }

// checkState throws if the model is not in the wanted lifecycle state.
func (m *Sequential) checkState(op string, want state) {
	if m.state == stateClosed {
		xerrors.ThrowResourceClosedf("model: %s called on a closed model", op)
	}
	if m.state != want {
		xerrors.ThrowIllegalStatef("model: %s requires a %s model, model is %s", op, want, m.state)
	}
}

// Build assigns a unique name to every unnamed layer, threads the output
// shape of each layer into the next and creates every layer's variables. It
// can only be called once.
func (m *Sequential) Build() error {
	return exceptions.TryCatch[error](m.build)
}

func (m *Sequential) build() {
	m.checkState("Build", stateUnbuilt)
	m.nameLayers()
	m.outputShapes = make([]shapes.Shape, len(m.layers))
	var current shapes.Shape
	for ii, layer := range m.layers {
		current = layer.OutputShape(current)
		m.outputShapes[ii] = current
		layer.Build(m.ctx, shapeIntoLayer(m.outputShapes, ii))
	}
	m.ctx.InitializeVariables()
	m.state = stateBuilt
}

// shapeIntoLayer is the input shape of layers[ii]: the output of the
// previous layer, or an empty shape for the input layer (which ignores it).
func shapeIntoLayer(outputShapes []shapes.Shape, ii int) shapes.Shape {
	if ii == 0 {
		return shapes.Shape{}
	}
	return outputShapes[ii-1]
}

// nameLayers gives every unnamed layer a unique "<type>_<i>" name and
// rejects duplicates among the explicitly named ones.
func (m *Sequential) nameLayers() {
	taken := make(map[string]bool)
	for _, layer := range m.layers {
		if name := layer.Name(); name != "" {
			if taken[name] {
				xerrors.ThrowInvalidParamf("model: two layers named %q", name)
			}
			taken[name] = true
		}
	}
	counters := make(map[string]int)
	for _, layer := range m.layers {
		typeName := layer.TypeName()
		if layer.Name() != "" {
			counters[typeName]++
			continue
		}
		for {
			name := fmt.Sprintf("%s_%d", typeName, counters[typeName])
			counters[typeName]++
			if !taken[name] {
				layer.SetName(name)
				taken[name] = true
				break
			}
		}
	}
}

// Compile binds the optimizer, loss and metrics and creates the model's
// executors. It requires a built, not yet compiled model.
func (m *Sequential) Compile(optimizer optimizers.Interface, loss losses.Loss, metricList ...metrics.Interface) error {
	return exceptions.TryCatch[error](func() { m.compile(optimizer, loss, metricList) })
}

func (m *Sequential) compile(optimizer optimizers.Interface, loss losses.Loss, metricList []metrics.Interface) {
	m.checkState("Compile", stateBuilt)
	if optimizer == nil || loss == nil {
		xerrors.ThrowInvalidParamf("model: Compile requires an optimizer and a loss")
	}
	m.optimizer = optimizer
	m.loss = loss
	m.metrics = metricList

	m.trainExec = context.NewExec(m.backend, m.ctx, "train",
		func(ctx *context.Context, g *graph.Graph, inputs []*graph.Node) []*graph.Node {
			x, labels := inputs[0], inputs[1]
			predictions := m.forwardGraph(ctx, x, true)
			lossScalar := graph.ReduceAllMean(m.loss(labels, predictions))
			m.optimizer.UpdateGraph(ctx, g, lossScalar)
			return m.lossAndMetricNodes(labels, predictions, lossScalar)
		})
	m.evalExec = context.NewExec(m.backend, m.ctx, "evaluate",
		func(ctx *context.Context, g *graph.Graph, inputs []*graph.Node) []*graph.Node {
			x, labels := inputs[0], inputs[1]
			predictions := m.forwardGraph(ctx, x, false)
			lossScalar := graph.ReduceAllMean(m.loss(labels, predictions))
			return m.lossAndMetricNodes(labels, predictions, lossScalar)
		})
	m.predictExec = context.NewExec(m.backend, m.ctx, "predict",
		func(ctx *context.Context, g *graph.Graph, inputs []*graph.Node) []*graph.Node {
			return []*graph.Node{m.forwardGraph(ctx, inputs[0], false)}
		})
	m.activationsExec = context.NewExec(m.backend, m.ctx, "activations",
		func(ctx *context.Context, g *graph.Graph, inputs []*graph.Node) []*graph.Node {
			outputs := make([]*graph.Node, 0, len(m.layers))
			x := inputs[0]
			for _, layer := range m.layers {
				x = layer.Forward(ctx, x, false)
				outputs = append(outputs, x)
			}
			return outputs
		})
	m.state = stateCompiled
}

// forwardGraph chains the Forward of every layer.
func (m *Sequential) forwardGraph(ctx *context.Context, x *graph.Node, training bool) *graph.Node {
	for _, layer := range m.layers {
		x = layer.Forward(ctx, x, training)
	}
	return x
}

// lossAndMetricNodes assembles the executor outputs: the scalar loss
// followed by one scalar per metric, in the order given to Compile.
func (m *Sequential) lossAndMetricNodes(labels, predictions, lossScalar *graph.Node) []*graph.Node {
	outputs := make([]*graph.Node, 0, 1+len(m.metrics))
	outputs = append(outputs, lossScalar)
	for _, metric := range m.metrics {
		outputs = append(outputs, metric.BuildGraph(labels, predictions))
	}
	return outputs
}

// Predict runs a forward pass on a batch of inputs, given as a *tensors.Tensor
// or any Go value convertible to one, and returns the model output.
func (m *Sequential) Predict(inputs any) (output *tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		m.checkState("Predict", stateCompiled)
		output = m.predictExec.CallOrThrow(tensors.FromAnyValue(inputs))[0]
	})
	if err != nil {
		return nil, err
	}
	return
}

// PredictWithActivations runs a forward pass and returns the output of every
// layer in layer order. The last element is the model output.
func (m *Sequential) PredictWithActivations(inputs any) (activations []*tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		m.checkState("PredictWithActivations", stateCompiled)
		activations = m.activationsExec.CallOrThrow(tensors.FromAnyValue(inputs))
	})
	if err != nil {
		return nil, err
	}
	return
}

// Weights returns a snapshot of the model's variables, keyed by layer name
// and then variable name ("weights", "biases"). The tensors are copies, safe
// to mutate or hand to other tooling.
func (m *Sequential) Weights() (weights map[string]map[string]*tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		if m.state == stateClosed {
			xerrors.ThrowResourceClosedf("model: Weights called on a closed model")
		}
		if m.state == stateUnbuilt {
			xerrors.ThrowIllegalStatef("model: Weights requires a built model")
		}
		weights = make(map[string]map[string]*tensors.Tensor)
		for _, layer := range m.layers {
			layerWeights := make(map[string]*tensors.Tensor)
			m.ctx.In(layer.Name()).EnumerateVariablesInScope(func(v *context.Variable) {
				layerWeights[v.Name()] = v.Value().Clone()
			})
			if len(layerWeights) > 0 {
				weights[layer.Name()] = layerWeights
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return
}

var (
	summaryHeaderStyle = lipgloss.NewStyle().Bold(true).Align(lipgloss.Center).Padding(0, 1)
	summaryCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Summary writes a per-layer table with names, output shapes and parameter
// counts, plus the totals. It requires a built model.
func (m *Sequential) Summary(w io.Writer) error {
	return exceptions.TryCatch[error](func() {
		if m.state == stateClosed {
			xerrors.ThrowResourceClosedf("model: Summary called on a closed model")
		}
		if m.state == stateUnbuilt {
			xerrors.ThrowIllegalStatef("model: Summary requires a built model")
		}
		table := lgtable.New().
			Border(lipgloss.RoundedBorder()).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == lgtable.HeaderRow {
					return summaryHeaderStyle
				}
				return summaryCellStyle
			}).
			Headers("Layer", "Output Shape", "Parameters")
		var total, trainable int
		for ii, layer := range m.layers {
			numParams := layer.NumParameters()
			total += numParams
			if layer.Trainable() {
				trainable += numParams
			}
			table.Row(
				fmt.Sprintf("%s (%s)", layer.Name(), layer.TypeName()),
				m.outputShapes[ii].String(),
				humanize.Comma(int64(numParams)))
		}
		var sb strings.Builder
		sb.WriteString(table.Render())
		sb.WriteString(fmt.Sprintf("\nTotal parameters: %s (%s trainable)\n",
			humanize.Comma(int64(total)), humanize.Comma(int64(trainable))))
		if _, err := w.Write([]byte(sb.String())); err != nil {
			panic(err)
		}
	})
}

// Close releases the model's executors and context. It is idempotent and
// safe under defer; every other method fails with a ResourceClosedError
// afterwards.
func (m *Sequential) Close() error {
	if m.state == stateClosed {
		return nil
	}
	for _, exec := range []*context.Exec{m.trainExec, m.evalExec, m.predictExec, m.activationsExec} {
		if exec != nil {
			exec.Finalize()
		}
	}
	m.trainExec, m.evalExec, m.predictExec, m.activationsExec = nil, nil, nil, nil
	m.ctx.Finalize()
	m.state = stateClosed
	return nil
}
