// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package activations_test

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/graph/graphtest"
	"github.com/gomlx/stax/ml/layers/activations"
	"github.com/gomlx/stax/types/xerrors"
)

func TestFromName(t *testing.T) {
	assert.Equal(t, activations.TypeNone, activations.FromName(""))
	assert.Equal(t, activations.TypeNone, activations.FromName("linear"))
	assert.Equal(t, activations.TypeNone, activations.FromName("none"))
	assert.Equal(t, activations.TypeRelu, activations.FromName("relu"))
	assert.Equal(t, activations.TypeRelu, activations.FromName("Relu"))
	assert.Equal(t, activations.TypeSwish, activations.FromName("silu"))
	assert.Equal(t, activations.TypeLeakyRelu, activations.FromName("leaky_relu"))

	err := exceptions.TryCatch[error](func() { activations.FromName("rellu") })
	require.Error(t, err)
	var paramErr *xerrors.InvalidParameterError
	require.True(t, errors.As(err, &paramErr))
}

func TestStringRoundTrip(t *testing.T) {
	for _, activation := range []activations.Type{
		activations.TypeNone, activations.TypeRelu, activations.TypeRelu6,
		activations.TypeLeakyRelu, activations.TypeElu, activations.TypeSelu,
		activations.TypeSigmoid, activations.TypeTanh, activations.TypeSoftmax,
		activations.TypeSwish, activations.TypeGelu, activations.TypeSoftplus,
		activations.TypeHardSigmoid, activations.TypeSquare,
	} {
		assert.Equal(t, activation, activations.FromName(activation.String()))
	}
}

func TestApplyValues(t *testing.T) {
	input := []float32{-2, -1, 0, 1, 2}
	testCases := []struct {
		activation activations.Type
		want       []float32
	}{
		{activations.TypeNone, []float32{-2, -1, 0, 1, 2}},
		{activations.TypeRelu, []float32{0, 0, 0, 1, 2}},
		{activations.TypeRelu6, []float32{0, 0, 0, 1, 2}},
		{activations.TypeLeakyRelu, []float32{-0.02, -0.01, 0, 1, 2}},
		{activations.TypeElu, []float32{-0.86466, -0.63212, 0, 1, 2}},
		{activations.TypeSigmoid, []float32{0.11920, 0.26894, 0.5, 0.73106, 0.88080}},
		{activations.TypeSwish, []float32{-0.23841, -0.26894, 0, 0.73106, 1.76159}},
		{activations.TypeGelu, []float32{-0.04540, -0.15881, 0, 0.84119, 1.95460}},
		{activations.TypeSoftplus, []float32{0.12693, 0.31326, 0.69315, 1.31326, 2.12693}},
		{activations.TypeHardSigmoid, []float32{0.1, 0.3, 0.5, 0.7, 0.9}},
		{activations.TypeSquare, []float32{4, 1, 0, 1, 4}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.activation.String(), func(t *testing.T) {
			graphtest.RunTestGraphFn(t, testCase.activation.String(),
				func(g *graph.Graph) (inputs, outputs []*graph.Node) {
					x := graph.Const(g, input)
					return []*graph.Node{x}, []*graph.Node{activations.Apply(testCase.activation, x)}
				}, []any{testCase.want}, 1e-4)
		})
	}
}

func TestRelu6Clips(t *testing.T) {
	graphtest.RunTestGraphFn(t, "relu6",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			x := graph.Const(g, []float32{-1, 5, 6, 7, 100})
			return []*graph.Node{x}, []*graph.Node{activations.Relu6(x)}
		}, []any{[]float32{0, 5, 6, 6, 6}}, 0)
}

func TestSoftmaxRows(t *testing.T) {
	graphtest.RunTestGraphFn(t, "softmax",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			x := graph.Const(g, [][]float32{{0, 0}, {1000, 1000}})
			return []*graph.Node{x}, []*graph.Node{activations.Apply(activations.TypeSoftmax, x)}
		}, []any{[][]float32{{0.5, 0.5}, {0.5, 0.5}}}, 1e-6)
}
