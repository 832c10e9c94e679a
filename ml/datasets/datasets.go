// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets provides in-memory datasets for model training: pairs of
// input and label tensors with a leading example axis, sliced into batches
// by the model's fit loop or streamed with the Yield/Reset contract.
package datasets

import (
	"io"
	"math"
	"math/rand"
	"reflect"

	"github.com/go-gota/gota/dataframe"

	"github.com/gomlx/stax/types/shapes"
	"github.com/gomlx/stax/types/tensors"
	"github.com/gomlx/stax/types/xerrors"
)

// Dataset is what model fitting and evaluation consume: a fixed number of
// examples addressable by contiguous batch windows.
type Dataset interface {
	// Name of the dataset, used in logs and error messages.
	Name() string

	// NumExamples in the dataset.
	NumExamples() int

	// BatchWindow returns the examples in [from, to) as a pair of tensors
	// with leading axis to-from. It requires 0 <= from < to <= NumExamples.
	BatchWindow(from, to int) (x, y *tensors.Tensor)
}

// DefaultBatchSize used by Yield when WithBatchSize was not called.
const DefaultBatchSize = 32

// InMemoryDataset is a Dataset fully materialized as two tensors whose
// leading axis enumerates the examples.
type InMemoryDataset struct {
	name      string
	x, y      *tensors.Tensor
	batchSize int
	next      int
}

// Statically assert the interface.
var _ Dataset = (*InMemoryDataset)(nil)

// FromTensors creates a dataset from input and label tensors. Both must have
// rank >= 1 and the same non-zero leading dimension.
func FromTensors(name string, x, y *tensors.Tensor) *InMemoryDataset {
	if x == nil || y == nil {
		xerrors.ThrowInvalidParamf("dataset %q: inputs and labels must both be given", name)
	}
	if x.Rank() < 1 || y.Rank() < 1 {
		xerrors.ThrowInvalidParamf(
			"dataset %q: inputs and labels need a leading example axis, got shapes %s and %s",
			name, x.Shape(), y.Shape())
	}
	numExamples := x.Shape().Dimensions[0]
	if numExamples == 0 {
		xerrors.ThrowInvalidParamf("dataset %q: no examples", name)
	}
	if y.Shape().Dimensions[0] != numExamples {
		xerrors.ThrowShapeMismatchf(
			"dataset %q: %d input examples but %d labels", name, numExamples, y.Shape().Dimensions[0])
	}
	return &InMemoryDataset{name: name, x: x, y: y, batchSize: DefaultBatchSize}
}

// New creates a dataset from Go values convertible to tensors, e.g.
// [][]float32 for the inputs and []float32 (or one-hot [][]float32) for the
// labels. See FromTensors for the shape requirements.
func New(name string, x, y any) *InMemoryDataset {
	return FromTensors(name, tensors.FromAnyValue(x), tensors.FromAnyValue(y))
}

// FromDataFrame creates a dataset from a gota DataFrame, taking the given
// columns as float32 features and labels, one example per row.
func FromDataFrame(name string, df dataframe.DataFrame, featureCols, labelCols []string) *InMemoryDataset {
	return FromTensors(name, columnsToTensor(name, df, featureCols), columnsToTensor(name, df, labelCols))
}

func columnsToTensor(name string, df dataframe.DataFrame, cols []string) *tensors.Tensor {
	if len(cols) == 0 {
		xerrors.ThrowInvalidParamf("dataset %q: no columns selected", name)
	}
	numRows := df.Nrow()
	if numRows == 0 {
		xerrors.ThrowInvalidParamf("dataset %q: DataFrame has no rows", name)
	}
	flat := make([]float32, numRows*len(cols))
	for colIdx, colName := range cols {
		col := df.Col(colName)
		if col.Err != nil {
			xerrors.ThrowInvalidParamf("dataset %q: column %q: %v", name, colName, col.Err)
		}
		for rowIdx, value := range col.Float() {
			flat[rowIdx*len(cols)+colIdx] = float32(value)
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, numRows, len(cols))
}

// Name implements Dataset.
func (ds *InMemoryDataset) Name() string { return ds.name }

// NumExamples implements Dataset.
func (ds *InMemoryDataset) NumExamples() int { return ds.x.Shape().Dimensions[0] }

// BatchWindow implements Dataset.
func (ds *InMemoryDataset) BatchWindow(from, to int) (x, y *tensors.Tensor) {
	if from < 0 || to <= from || to > ds.NumExamples() {
		xerrors.ThrowInvalidParamf("dataset %q: invalid batch window [%d, %d) of %d examples",
			ds.name, from, to, ds.NumExamples())
	}
	return sliceExamples(ds.x, from, to), sliceExamples(ds.y, from, to)
}

// GetX returns a copy of the inputs of example i, without the example axis.
func (ds *InMemoryDataset) GetX(i int) *tensors.Tensor {
	return exampleAt(ds.x, ds.checkIndex(i))
}

// GetY returns a copy of the labels of example i, without the example axis.
func (ds *InMemoryDataset) GetY(i int) *tensors.Tensor {
	return exampleAt(ds.y, ds.checkIndex(i))
}

func (ds *InMemoryDataset) checkIndex(i int) int {
	if i < 0 || i >= ds.NumExamples() {
		xerrors.ThrowInvalidParamf("dataset %q: example %d out of range [0, %d)",
			ds.name, i, ds.NumExamples())
	}
	return i
}

// Split partitions the dataset into a head with round(fraction*N) examples
// and a tail with the rest. Both parts must end up non-empty. It does not
// shuffle, call Shuffle first for a random split.
func (ds *InMemoryDataset) Split(fraction float64) (head, tail *InMemoryDataset) {
	numExamples := ds.NumExamples()
	headLen := int(math.Round(fraction * float64(numExamples)))
	if fraction <= 0 || fraction >= 1 || headLen == 0 || headLen == numExamples {
		xerrors.ThrowInvalidParamf(
			"dataset %q: cannot split %d examples at fraction %g, both parts must be non-empty",
			ds.name, numExamples, fraction)
	}
	headX, headY := ds.BatchWindow(0, headLen)
	tailX, tailY := ds.BatchWindow(headLen, numExamples)
	head = FromTensors(ds.name+"_head", headX, headY)
	tail = FromTensors(ds.name+"_tail", tailX, tailY)
	head.batchSize, tail.batchSize = ds.batchSize, ds.batchSize
	return
}

// Shuffle permutes the examples in place, deterministically for a given
// seed, keeping inputs and labels paired.
func (ds *InMemoryDataset) Shuffle(seed int64) *InMemoryDataset {
	permutation := rand.New(rand.NewSource(seed)).Perm(ds.NumExamples())
	ds.x = permuteExamples(ds.x, permutation)
	ds.y = permuteExamples(ds.y, permutation)
	return ds
}

// WithBatchSize sets the batch size used by Yield. Defaults to
// DefaultBatchSize.
func (ds *InMemoryDataset) WithBatchSize(batchSize int) *InMemoryDataset {
	if batchSize <= 0 {
		xerrors.ThrowInvalidParamf("dataset %q: batch size must be positive, got %d", ds.name, batchSize)
	}
	ds.batchSize = batchSize
	return ds
}

// Reset restarts the Yield iteration from the first example.
func (ds *InMemoryDataset) Reset() { ds.next = 0 }

// Yield returns the next batch of the epoch, the final one possibly smaller,
// and io.EOF once the epoch is exhausted. Call Reset to start a new epoch.
func (ds *InMemoryDataset) Yield() (x, y *tensors.Tensor, err error) {
	if ds.next >= ds.NumExamples() {
		return nil, nil, io.EOF
	}
	to := min(ds.next+ds.batchSize, ds.NumExamples())
	x, y = ds.BatchWindow(ds.next, to)
	ds.next = to
	return
}

// sliceExamples copies examples [from, to) into a new tensor.
func sliceExamples(t *tensors.Tensor, from, to int) *tensors.Tensor {
	dims := t.Shape().Dimensions
	rowSize := t.Size() / dims[0]
	newDims := append([]int{to - from}, dims[1:]...)
	out := tensors.FromShape(shapes.Make(t.DType(), newDims...))
	t.ConstFlatData(func(src any) {
		out.MutableFlatData(func(dst any) {
			reflect.Copy(reflect.ValueOf(dst), reflect.ValueOf(src).Slice(from*rowSize, to*rowSize))
		})
	})
	return out
}

// exampleAt copies example i into a new tensor without the example axis.
func exampleAt(t *tensors.Tensor, i int) *tensors.Tensor {
	dims := t.Shape().Dimensions
	rowSize := t.Size() / dims[0]
	out := tensors.FromShape(shapes.Make(t.DType(), dims[1:]...))
	t.ConstFlatData(func(src any) {
		out.MutableFlatData(func(dst any) {
			reflect.Copy(reflect.ValueOf(dst), reflect.ValueOf(src).Slice(i*rowSize, (i+1)*rowSize))
		})
	})
	return out
}

// permuteExamples returns a new tensor with example i moved to position ii
// for each permutation[ii] == i.
func permuteExamples(t *tensors.Tensor, permutation []int) *tensors.Tensor {
	dims := t.Shape().Dimensions
	rowSize := t.Size() / dims[0]
	out := tensors.FromShape(t.Shape())
	t.ConstFlatData(func(src any) {
		out.MutableFlatData(func(dst any) {
			srcV, dstV := reflect.ValueOf(src), reflect.ValueOf(dst)
			for ii, i := range permutation {
				reflect.Copy(
					dstV.Slice(ii*rowSize, (ii+1)*rowSize),
					srcV.Slice(i*rowSize, (i+1)*rowSize))
			}
		})
	})
	return out
}
