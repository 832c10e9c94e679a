// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/ml/context"
	"github.com/gomlx/stax/ml/layers/activations"
	"github.com/gomlx/stax/types/shapes"
)

// ActivationLayer applies an activation function as a standalone layer. See
// Activation.
type ActivationLayer struct {
	statelessLayer
	activation activations.Type
}

// Activation returns a layer applying the given activation function
// element-wise, for when the activation is wanted as its own model stage
// instead of fused into a Dense or Conv2D layer.
func Activation(activation activations.Type) *ActivationLayer {
	l := &ActivationLayer{activation: activation}
	l.typeName = "activation"
	return l
}

// ActivationByName is Activation with the activation given by name, see
// activations.FromName.
func ActivationByName(name string) *ActivationLayer {
	return Activation(activations.FromName(name))
}

// WithName sets the layer's name and returns it, for chaining.
func (l *ActivationLayer) WithName(name string) *ActivationLayer {
	l.SetName(name)
	return l
}

// OutputShape implements Layer: activations preserve the input shape.
func (l *ActivationLayer) OutputShape(input shapes.Shape) shapes.Shape {
	return input.Clone()
}

// Build implements Layer. It creates no variables.
func (l *ActivationLayer) Build(_ *context.Context, _ shapes.Shape) {
	l.markBuilt()
}

// Forward implements Layer.
func (l *ActivationLayer) Forward(_ *context.Context, x *graph.Node, _ bool) *graph.Node {
	return activations.Apply(l.activation, x)
}
