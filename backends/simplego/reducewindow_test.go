// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/stax/backends"
)

func TestReduceWindowMax(t *testing.T) {
	backend := New("").(*Backend)

	t.Run("2x2 stride 2", func(t *testing.T) {
		// [[1 .. 4] [5 .. 8] [9 .. 12] [13 .. 16]] in 2x2 blocks.
		input := backend.BufferFromFlatData(iotaFloats(16), S(F32, 4, 4))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.ReduceWindowMax(params[0], []int{2, 2}, []int{2, 2}, [][2]int{{0, 0}, {0, 0}}),
				}
			})
		require.True(t, backend.BufferShape(outputs[0]).Equal(S(F32, 2, 2)))
		require.Equal(t, []float32{6, 8, 14, 16}, bufferData[float32](backend, outputs[0]))
	})

	t.Run("padding", func(t *testing.T) {
		// 3x3 input padded to 4x4 on the high side: the last windows only
		// see the valid cells.
		input := backend.BufferFromFlatData(iotaFloats(9), S(F32, 3, 3))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.ReduceWindowMax(params[0], []int{2, 2}, []int{2, 2}, [][2]int{{0, 1}, {0, 1}}),
				}
			})
		require.Equal(t, []float32{5, 6, 8, 9}, bufferData[float32](backend, outputs[0]))
	})

	t.Run("negative values", func(t *testing.T) {
		input := backend.BufferFromFlatData([]float32{-4, -3, -2, -1}, S(F32, 2, 2))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.ReduceWindowMax(params[0], []int{2, 2}, []int{2, 2}, [][2]int{{0, 0}, {0, 0}}),
				}
			})
		require.Equal(t, []float32{-1}, bufferData[float32](backend, outputs[0]))
	})

	t.Run("batched with channels", func(t *testing.T) {
		// Pooling [batch, h, w, channels] keeps the non-pooled axes with
		// window 1 and stride 1.
		input := backend.BufferFromFlatData(iotaFloats(8), S(F32, 1, 2, 2, 2))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.ReduceWindowMax(params[0],
						[]int{1, 2, 2, 1}, []int{1, 2, 2, 1},
						[][2]int{{0, 0}, {0, 0}, {0, 0}, {0, 0}}),
				}
			})
		require.True(t, backend.BufferShape(outputs[0]).Equal(S(F32, 1, 1, 1, 2)))
		require.Equal(t, []float32{7, 8}, bufferData[float32](backend, outputs[0]))
	})
}

func TestReduceWindowSum(t *testing.T) {
	backend := New("").(*Backend)

	t.Run("2x2 stride 2", func(t *testing.T) {
		input := backend.BufferFromFlatData(iotaFloats(16), S(F32, 4, 4))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.ReduceWindowSum(params[0], []int{2, 2}, []int{2, 2}, [][2]int{{0, 0}, {0, 0}}),
				}
			})
		require.Equal(t, []float32{14, 22, 46, 54}, bufferData[float32](backend, outputs[0]))
	})

	t.Run("padding adds nothing", func(t *testing.T) {
		input := backend.BufferFromFlatData(iotaFloats(9), S(F32, 3, 3))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.ReduceWindowSum(params[0], []int{2, 2}, []int{2, 2}, [][2]int{{0, 1}, {0, 1}}),
				}
			})
		require.Equal(t, []float32{12, 9, 15, 9}, bufferData[float32](backend, outputs[0]))
	})

	t.Run("overlapping windows", func(t *testing.T) {
		input := backend.BufferFromFlatData(iotaFloats(9), S(F32, 3, 3))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.ReduceWindowSum(params[0], []int{2, 2}, []int{1, 1}, [][2]int{{0, 0}, {0, 0}}),
				}
			})
		require.Equal(t, []float32{12, 16, 24, 28}, bufferData[float32](backend, outputs[0]))
	})

	t.Run("ints", func(t *testing.T) {
		input := backend.BufferFromFlatData([]int32{1, 2, 3, 4}, S(I32, 4))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.ReduceWindowSum(params[0], []int{2}, []int{2}, [][2]int{{0, 0}}),
				}
			})
		require.Equal(t, []int32{3, 7}, bufferData[int32](backend, outputs[0]))
	})
}

func TestReduceWindowValidation(t *testing.T) {
	backend := New("").(*Backend)
	builder := backend.Builder("pool")
	x := builder.Parameter("x", S(F32, 4, 4))
	// One window/stride/padding value per axis.
	require.Panics(t, func() {
		builder.ReduceWindowMax(x, []int{2}, []int{2, 2}, [][2]int{{0, 0}, {0, 0}})
	})
	// Window must fit the padded input.
	require.Panics(t, func() {
		builder.ReduceWindowMax(x, []int{5, 5}, []int{1, 1}, [][2]int{{0, 0}, {0, 0}})
	})
	// Strides and window sizes must be positive.
	require.Panics(t, func() {
		builder.ReduceWindowMax(x, []int{2, 0}, []int{1, 1}, [][2]int{{0, 0}, {0, 0}})
	})
	require.Panics(t, func() {
		builder.ReduceWindowMax(x, []int{2, 2}, []int{0, 1}, [][2]int{{0, 0}, {0, 0}})
	})
}

func TestMaxPoolGrad(t *testing.T) {
	backend := New("").(*Backend)

	t.Run("disjoint windows", func(t *testing.T) {
		// Maxes of the 2x2 blocks of 1..16 sit at the block corners (1,1),
		// (1,3), (3,1) and (3,3); each receives its window's gradient.
		inputs := []backends.Buffer{
			backend.BufferFromFlatData(iotaFloats(16), S(F32, 4, 4)),
			backend.BufferFromFlatData([]float32{1, 2, 3, 4}, S(F32, 2, 2)),
		}
		outputs := testExec(t, backend, inputs,
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.MaxPoolGrad(params[0], params[1], []int{2, 2}, []int{2, 2}, [][2]int{{0, 0}, {0, 0}}),
				}
			})
		require.True(t, backend.BufferShape(outputs[0]).Equal(S(F32, 4, 4)))
		want := []float32{
			0, 0, 0, 0,
			0, 1, 0, 2,
			0, 0, 0, 0,
			0, 3, 0, 4,
		}
		require.Equal(t, want, bufferData[float32](backend, outputs[0]))
	})

	t.Run("overlapping windows accumulate", func(t *testing.T) {
		// With stride 1 on 1..9 the window maxes are 5, 6, 8 and 9: cell 9
		// gets only its own window since the others have larger neighbors.
		inputs := []backends.Buffer{
			backend.BufferFromFlatData(iotaFloats(9), S(F32, 3, 3)),
			backend.BufferFromFlatData([]float32{1, 2, 3, 4}, S(F32, 2, 2)),
		}
		outputs := testExec(t, backend, inputs,
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.MaxPoolGrad(params[0], params[1], []int{2, 2}, []int{1, 1}, [][2]int{{0, 0}, {0, 0}}),
				}
			})
		want := []float32{
			0, 0, 0,
			0, 1, 2,
			0, 3, 4,
		}
		require.Equal(t, want, bufferData[float32](backend, outputs[0]))
	})

	t.Run("ties pick the lowest index", func(t *testing.T) {
		inputs := []backends.Buffer{
			backend.BufferFromFlatData([]float32{1, 1, 1, 1}, S(F32, 2, 2)),
			backend.BufferFromFlatData([]float32{10}, S(F32, 1, 1)),
		}
		outputs := testExec(t, backend, inputs,
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.MaxPoolGrad(params[0], params[1], []int{2, 2}, []int{2, 2}, [][2]int{{0, 0}, {0, 0}}),
				}
			})
		require.Equal(t, []float32{10, 0, 0, 0}, bufferData[float32](backend, outputs[0]))
	})
}

func TestSumPoolGrad(t *testing.T) {
	backend := New("").(*Backend)
	// Overlapping 2x2 windows with stride 1 on a 3x3 input: every cell
	// receives the gradients of the windows covering it.
	inputShape := S(F32, 3, 3)
	gradOutput := backend.BufferFromFlatData([]float32{1, 2, 3, 4}, S(F32, 2, 2))
	outputs := testExec(t, backend, []backends.Buffer{gradOutput},
		func(builder backends.Builder, params []backends.Op) []backends.Op {
			return []backends.Op{
				builder.SumPoolGrad(params[0], inputShape, []int{2, 2}, []int{1, 1}, [][2]int{{0, 0}, {0, 0}}),
			}
		})
	require.True(t, backend.BufferShape(outputs[0]).Equal(inputShape))
	want := []float32{
		1, 3, 2,
		4, 10, 6,
		3, 7, 4,
	}
	require.Equal(t, want, bufferData[float32](backend, outputs[0]))

	// With padding the positions that fall outside the input are dropped.
	gradOutput = backend.BufferFromFlatData([]float32{1, 2, 3, 4}, S(F32, 2, 2))
	outputs = testExec(t, backend, []backends.Buffer{gradOutput},
		func(builder backends.Builder, params []backends.Op) []backends.Op {
			return []backends.Op{
				builder.SumPoolGrad(params[0], S(F32, 3, 3), []int{2, 2}, []int{2, 2}, [][2]int{{0, 1}, {0, 1}}),
			}
		})
	want = []float32{
		1, 1, 2,
		1, 1, 2,
		3, 3, 4,
	}
	require.Equal(t, want, bufferData[float32](backend, outputs[0]))
}
