// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package activations implements the element-wise activation functions used
// by the layers.
//
// Activations are identified by a Type (or its string name, see FromName)
// and applied with Apply. They are stateless: they hold no variables and
// preserve the shape of their input.
package activations

import (
	"math"
	"strings"

	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/types/xerrors"
)

// Type is an "enum" of the supported activation functions.
type Type int

const (
	// TypeNone is the identity: no activation applied, usually what one
	// wants in the output layer of a regression model.
	TypeNone Type = iota

	// TypeRelu activation: max(x, 0).
	TypeRelu

	// TypeRelu6 activation: min(max(x, 0), 6).
	TypeRelu6

	// TypeLeakyRelu activation: x for x > 0, 0.01*x otherwise.
	TypeLeakyRelu

	// TypeElu activation: x for x > 0, exp(x)-1 otherwise.
	TypeElu

	// TypeSelu is the scaled exponential linear unit, a self-normalizing
	// variant of TypeElu.
	TypeSelu

	// TypeSigmoid activation: 1/(1+exp(-x)).
	TypeSigmoid

	// TypeTanh activation.
	TypeTanh

	// TypeSoftmax normalizes the last axis to a probability distribution.
	// The only activation here that is not element-wise.
	TypeSoftmax

	// TypeSwish activation (aka. SiLU): x*sigmoid(x).
	TypeSwish

	// TypeGelu is the gaussian error linear unit, in its tanh
	// approximation: 0.5*x*(1+tanh(sqrt(2/pi)*(x+0.044715*x^3))).
	TypeGelu

	// TypeSoftplus activation: log(1+exp(x)), a smooth approximation of
	// relu.
	TypeSoftplus

	// TypeHardSigmoid is a piecewise-linear approximation of the sigmoid:
	// clip(0.2*x+0.5, 0, 1).
	TypeHardSigmoid

	// TypeSquare activation: x^2.
	TypeSquare
)

// names of the activation types, in the order of the Type constants.
var names = []string{
	"none", "relu", "relu6", "leaky_relu", "elu", "selu", "sigmoid", "tanh",
	"softmax", "swish", "gelu", "softplus", "hard_sigmoid", "square",
}

// String implements fmt.Stringer.
func (t Type) String() string {
	if t < 0 || int(t) >= len(names) {
		return "invalid"
	}
	return names[t]
}

// FromName converts an activation name to its Type. The empty string and
// "linear" are aliases for "none". It throws an InvalidParameterError for
// unknown names.
func FromName(name string) Type {
	switch strings.ToLower(name) {
	case "", "linear":
		return TypeNone
	case "silu":
		return TypeSwish
	}
	for ii, known := range names {
		if strings.ToLower(name) == known {
			return Type(ii)
		}
	}
	xerrors.ThrowInvalidParamf("unknown activation %q, valid values are %v", name, names)
	return TypeNone
}

// Apply the activation of the given type to x.
func Apply(activation Type, x *graph.Node) *graph.Node {
	switch activation {
	case TypeNone:
		return x
	case TypeRelu:
		return Relu(x)
	case TypeRelu6:
		return Relu6(x)
	case TypeLeakyRelu:
		return LeakyRelu(x)
	case TypeElu:
		return Elu(x)
	case TypeSelu:
		return Selu(x)
	case TypeSigmoid:
		return graph.Sigmoid(x)
	case TypeTanh:
		return graph.Tanh(x)
	case TypeSoftmax:
		return graph.Softmax(x)
	case TypeSwish:
		return Swish(x)
	case TypeGelu:
		return Gelu(x)
	case TypeSoftplus:
		return Softplus(x)
	case TypeHardSigmoid:
		return HardSigmoid(x)
	case TypeSquare:
		return graph.Square(x)
	}
	xerrors.ThrowInvalidParamf("invalid activation type %d", activation)
	return nil
}

// Relu activation: returns max(x, 0).
func Relu(x *graph.Node) *graph.Node {
	return graph.MaxScalar(x, 0.0)
}

// Relu6 activation: returns min(max(x, 0), 6).
func Relu6(x *graph.Node) *graph.Node {
	return graph.ClipScalar(x, 0, 6)
}

// LeakyRelu activation: like relu, but leaks a small gradient (slope 0.01)
// for negative values.
func LeakyRelu(x *graph.Node) *graph.Node {
	return LeakyReluWithAlpha(x, 0.01)
}

// LeakyReluWithAlpha returns x for x >= 0, alpha*x otherwise.
func LeakyReluWithAlpha(x *graph.Node, alpha float64) *graph.Node {
	return graph.Where(
		graph.GreaterOrEqual(x, graph.ScalarZero(x.Graph(), x.DType())),
		x, graph.MulScalar(x, alpha))
}

// Elu activation: returns x for x >= 0, exp(x)-1 otherwise.
func Elu(x *graph.Node) *graph.Node {
	return graph.Where(
		graph.GreaterOrEqual(x, graph.ScalarZero(x.Graph(), x.DType())),
		x, graph.MinusOne(graph.Exp(x)))
}

// Selu activation: scale*x for x >= 0, scale*alpha*(exp(x)-1) otherwise,
// with the constants chosen so activations converge towards zero mean and
// unit variance.
func Selu(x *graph.Node) *graph.Node {
	const scale = 1.0507009873554805
	const alpha = 1.6732632423543772
	return graph.MulScalar(graph.Where(
		graph.GreaterOrEqual(x, graph.ScalarZero(x.Graph(), x.DType())),
		x, graph.MulScalar(graph.MinusOne(graph.Exp(x)), alpha)), scale)
}

// Swish activation (aka. SiLU): returns x*sigmoid(x).
func Swish(x *graph.Node) *graph.Node {
	return graph.Mul(x, graph.Sigmoid(x))
}

// Gelu activation, in its tanh approximation:
// 0.5*x*(1+tanh(sqrt(2/pi)*(x+0.044715*x^3))).
func Gelu(x *graph.Node) *graph.Node {
	inner := graph.MulScalar(
		graph.Add(x, graph.MulScalar(graph.Mul(x, graph.Square(x)), 0.044715)),
		math.Sqrt(2.0/math.Pi))
	return graph.MulScalar(graph.Mul(x, graph.AddScalar(graph.Tanh(inner), 1.0)), 0.5)
}

// Softplus activation: log(1+exp(x)), computed in a numerically stable form
// as max(x, 0) + log(1+exp(-|x|)).
func Softplus(x *graph.Node) *graph.Node {
	return graph.Add(
		graph.MaxScalar(x, 0.0),
		graph.Log(graph.AddScalar(graph.Exp(graph.Neg(graph.Abs(x))), 1.0)))
}

// HardSigmoid activation: clip(0.2*x+0.5, 0, 1).
func HardSigmoid(x *graph.Node) *graph.Node {
	return graph.ClipScalar(graph.AddScalar(graph.MulScalar(x, 0.2), 0.5), 0, 1)
}
