// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds test utilities for packages that depend on the
// graph package.
package graphtest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/stax/backends"
	_ "github.com/gomlx/stax/backends/simplego"
	"github.com/gomlx/stax/graph"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xslices"
)

var (
	backendOnce   sync.Once
	cachedBackend backends.Backend
)

// BuildTestBackend returns the backend tests should use, creating it on the
// first call and caching it. The STAX_BACKEND environment variable overrides
// the default choice.
func BuildTestBackend() backends.Backend {
	backendOnce.Do(func() {
		cachedBackend = backends.New()
	})
	return cachedBackend
}

// TestGraphFn builds its own inputs, and returns both inputs and outputs.
// The inputs are returned so they also get executed and can be inspected on
// failures.
type TestGraphFn func(g *graph.Graph) (inputs, outputs []*graph.Node)

// RunTestGraphFn executes the graph building function graphFn and compares
// its outputs to the values in want, reporting differences in t.
//
// Float outputs must match within delta; other dtypes must be exactly equal.
func RunTestGraphFn(t *testing.T, testName string, graphFn TestGraphFn, want []any, delta float64) {
	t.Run(testName, func(t *testing.T) {
		backend := BuildTestBackend()
		wantTensors := xslices.Map(want, tensors.FromAnyValue)

		var numInputs int
		wrapperFn := func(g *graph.Graph, _ []*graph.Node) []*graph.Node {
			inputs, outputs := graphFn(g)
			numInputs = len(inputs)
			return append(inputs, outputs...)
		}
		exec := graph.NewExec(backend, testName, wrapperFn)
		defer exec.Finalize()
		results, err := exec.Call()
		require.NoErrorf(t, err, "%s: failed to build or execute the graph", testName)

		outputs := results[numInputs:]
		require.Equalf(t, len(want), len(outputs),
			"%s: graph function returned %d outputs, want %d", testName, len(outputs), len(want))
		for ii, output := range outputs {
			if wantTensors[ii].DType().IsFloat() {
				require.Truef(t, wantTensors[ii].InDelta(output, delta),
					"%s: output #%d is %s, want %v", testName, ii, output, want[ii])
			} else {
				require.Truef(t, wantTensors[ii].Equal(output),
					"%s: output #%d is %s, want %v", testName, ii, output, want[ii])
			}
		}
	})
}
