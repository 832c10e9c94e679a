// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/stax/ml/datasets"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// iotaDataset builds n examples where x[i] = [i, i+0.5] and y[i] = [i].
func iotaDataset(t *testing.T, n int) *datasets.InMemoryDataset {
	x := make([][]float32, n)
	y := make([][]float32, n)
	for i := range x {
		x[i] = []float32{float32(i), float32(i) + 0.5}
		y[i] = []float32{float32(i)}
	}
	ds := datasets.New("iota", x, y)
	require.Equal(t, n, ds.NumExamples())
	return ds
}

func TestGetExamples(t *testing.T) {
	ds := iotaDataset(t, 5)
	assert.Equal(t, "iota", ds.Name())
	assert.Equal(t, []float32{3, 3.5}, tensors.CopyFlatData[float32](ds.GetX(3)))
	assert.Equal(t, []float32{3}, tensors.CopyFlatData[float32](ds.GetY(3)))
	assert.Equal(t, []int{2}, ds.GetX(0).Shape().Dimensions)

	err := exceptions.TryCatch[error](func() { ds.GetX(5) })
	require.Error(t, err)
	var paramErr *xerrors.InvalidParameterError
	require.True(t, errors.As(err, &paramErr))
}

func TestBatchWindow(t *testing.T) {
	ds := iotaDataset(t, 5)
	x, y := ds.BatchWindow(1, 4)
	assert.Equal(t, []int{3, 2}, x.Shape().Dimensions)
	assert.Equal(t, []float32{1, 1.5, 2, 2.5, 3, 3.5}, tensors.CopyFlatData[float32](x))
	assert.Equal(t, []float32{1, 2, 3}, tensors.CopyFlatData[float32](y))

	for _, window := range [][2]int{{-1, 2}, {2, 2}, {3, 6}} {
		err := exceptions.TryCatch[error](func() { ds.BatchWindow(window[0], window[1]) })
		require.Error(t, err, "window %v", window)
	}
}

func TestYieldKeepsPartialFinalBatch(t *testing.T) {
	ds := iotaDataset(t, 10).WithBatchSize(3)
	for epoch := 0; epoch < 2; epoch++ {
		ds.Reset()
		var batchSizes []int
		for {
			x, y, err := ds.Yield()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			require.Equal(t, x.Shape().Dimensions[0], y.Shape().Dimensions[0])
			batchSizes = append(batchSizes, x.Shape().Dimensions[0])
		}
		assert.Equal(t, []int{3, 3, 3, 1}, batchSizes)
	}
}

func TestSplit(t *testing.T) {
	ds := iotaDataset(t, 10)
	train, test := ds.Split(0.8)
	assert.Equal(t, 8, train.NumExamples())
	assert.Equal(t, 2, test.NumExamples())
	assert.Equal(t, []float32{8, 8.5}, tensors.CopyFlatData[float32](test.GetX(0)))

	for _, fraction := range []float64{0, 1, -0.5, 0.001} {
		err := exceptions.TryCatch[error](func() { ds.Split(fraction) })
		require.Error(t, err, "fraction %g", fraction)
	}
}

func TestShuffle(t *testing.T) {
	ds := iotaDataset(t, 100).Shuffle(17)
	seen := make(map[float32]bool)
	misplaced := 0
	for i := 0; i < 100; i++ {
		x := tensors.CopyFlatData[float32](ds.GetX(i))
		y := tensors.CopyFlatData[float32](ds.GetY(i))
		// Pairing survives the shuffle.
		require.Equal(t, x[0], y[0])
		require.Equal(t, x[0]+0.5, x[1])
		seen[y[0]] = true
		if y[0] != float32(i) {
			misplaced++
		}
	}
	assert.Len(t, seen, 100)
	assert.Greater(t, misplaced, 50)

	// Same seed, same order.
	other := iotaDataset(t, 100).Shuffle(17)
	assert.True(t, ds.GetX(0).Equal(other.GetX(0)))
}

func TestFromTensorsValidation(t *testing.T) {
	x := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	badY := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)
	err := exceptions.TryCatch[error](func() { datasets.FromTensors("bad", x, badY) })
	require.Error(t, err)
	var mismatchErr *xerrors.ShapeMismatchError
	require.True(t, errors.As(err, &mismatchErr))

	err = exceptions.TryCatch[error](func() { datasets.FromTensors("bad", x, nil) })
	require.Error(t, err)

	err = exceptions.TryCatch[error](func() {
		datasets.FromTensors("bad", x, tensors.FromScalar(float32(1)))
	})
	require.Error(t, err)
}

func TestFromDataFrame(t *testing.T) {
	csv := strings.NewReader("sepal_len,sepal_wid,species\n5.1,3.5,0\n4.9,3.0,0\n6.3,3.3,1\n")
	df := dataframe.ReadCSV(csv)
	ds := datasets.FromDataFrame("iris", df, []string{"sepal_len", "sepal_wid"}, []string{"species"})
	require.Equal(t, 3, ds.NumExamples())
	x, _ := ds.BatchWindow(0, 3)
	assert.Equal(t, []int{3, 2}, x.Shape().Dimensions)
	assert.InDeltaSlice(t, []float32{6.3, 3.3}, tensors.CopyFlatData[float32](ds.GetX(2)), 1e-6)
	assert.InDeltaSlice(t, []float32{1}, tensors.CopyFlatData[float32](ds.GetY(2)), 1e-6)

	err := exceptions.TryCatch[error](func() {
		datasets.FromDataFrame("iris", df, []string{"petal_len"}, []string{"species"})
	})
	require.Error(t, err)
}
