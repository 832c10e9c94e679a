// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/stax/backends"
	"github.com/gomlx/stax/types/shapes"
)

var (
	// S is a shortcut to build shapes in the tests.
	S = shapes.Make

	F32 = dtypes.Float32
	F64 = dtypes.Float64
	I32 = dtypes.Int32
	I64 = dtypes.Int64
)

// testExec compiles fn with one parameter per input and executes it.
func testExec(t *testing.T, backend *Backend, inputs []backends.Buffer, fn func(builder backends.Builder, params []backends.Op) []backends.Op) []backends.Buffer {
	builder := backend.Builder(t.Name())
	params := make([]backends.Op, len(inputs))
	for ii, input := range inputs {
		params[ii] = builder.Parameter(fmt.Sprintf("p%d", ii), backend.BufferShape(input))
	}
	exec := builder.Compile(fn(builder, params)...)
	return exec.Execute(inputs...)
}

// bufferData transfers the buffer contents to a new flat slice.
func bufferData[T supportedTypesConstraints](backend *Backend, buffer backends.Buffer) []T {
	flat := make([]T, backend.BufferShape(buffer).Size())
	backend.BufferToFlatData(buffer, flat)
	return flat
}

func TestBuilderCompileAndExecute(t *testing.T) {
	backend := New("").(*Backend)
	builder := backend.Builder("test")
	var x, c backends.Op
	require.NotPanics(t, func() {
		x = builder.Parameter("x", S(F32, 3))
		x = builder.Neg(x)
		c = builder.Constant([]int64{1, 2, 3}, 3)
	})
	require.NotNil(t, x)
	require.NotNil(t, c)
	var exec backends.Executable
	require.NotPanics(t, func() { exec = builder.Compile(x, c) })

	names, inputShapes := exec.Inputs()
	require.Equal(t, []string{"x"}, names)
	require.True(t, inputShapes[0].Equal(S(F32, 3)))
	outputShapes := exec.Outputs()
	require.Len(t, outputShapes, 2)
	require.True(t, outputShapes[0].Equal(S(F32, 3)))
	require.True(t, outputShapes[1].Equal(S(I64, 3)))

	// Wrong number of inputs.
	require.Panics(t, func() { exec.Execute() })
	// Incompatible input shape.
	require.Panics(t, func() {
		exec.Execute(backend.BufferFromFlatData([]float32{1, 2, 3, 4}, S(F32, 4)))
	})
	// Incompatible input dtype.
	require.Panics(t, func() {
		exec.Execute(backend.BufferFromFlatData([]int64{1, 2, 3}, S(I64, 3)))
	})

	input := backend.BufferFromFlatData([]float32{3, 5, 7}, S(F32, 3))
	outputs := exec.Execute(input)
	require.Len(t, outputs, 2)
	require.Equal(t, []float32{-3, -5, -7}, bufferData[float32](backend, outputs[0]))
	require.Equal(t, []int64{1, 2, 3}, bufferData[int64](backend, outputs[1]))

	// Inputs are not donated: the same buffer can be fed again, and the
	// executable reused with fresh inputs.
	outputs = exec.Execute(input)
	require.Equal(t, []float32{-3, -5, -7}, bufferData[float32](backend, outputs[0]))
	input = backend.BufferFromFlatData([]float32{-1, 0, 1}, S(F32, 3))
	outputs = exec.Execute(input)
	require.Equal(t, []float32{1, 0, -1}, bufferData[float32](backend, outputs[0]))
}

func TestBuilderValidation(t *testing.T) {
	backend := New("").(*Backend)

	// Ops from one builder cannot be mixed into another.
	builderA := backend.Builder("a")
	builderB := backend.Builder("b")
	xA := builderA.Parameter("x", S(F32, 2))
	require.Panics(t, func() { builderB.Neg(xA) })

	// No ops can be added after Compile, and Compile needs outputs.
	builderC := backend.Builder("c")
	xC := builderC.Parameter("x", S(F32, 2))
	require.Panics(t, func() { builderC.Compile() })
	builderC.Compile(xC)
	require.Panics(t, func() { builderC.Neg(xC) })

	builder := backend.Builder("test")
	x2 := builder.Parameter("x2", S(F32, 2))
	x23 := builder.Parameter("x23", S(F32, 2, 3))
	xI := builder.Parameter("xI", S(I32, 2))

	// Binary ops require identical shapes, including dtype.
	require.Panics(t, func() { builder.Add(x2, x23) })
	require.Panics(t, func() { builder.Add(x2, xI) })
	// Where requires a Bool condition.
	require.Panics(t, func() { builder.Where(x2, x2, x2) })
	// Reshape cannot change the total size.
	require.Panics(t, func() { builder.Reshape(x23, 7) })
	// Transpose requires a valid permutation.
	require.Panics(t, func() { builder.Transpose(x23, 0) })
	require.Panics(t, func() { builder.Transpose(x23, 1, 1) })
	// Reduce axes must be in range and unique.
	require.Panics(t, func() { builder.ReduceSum(x23, 2) })
	require.Panics(t, func() { builder.ReduceSum(x23, 1, 1) })
	// Iota requires at least one axis.
	require.Panics(t, func() { builder.Iota(S(F32), 0) })
	// Constant flat data must match the dimensions.
	require.Panics(t, func() { builder.Constant([]float32{1, 2, 3}, 2) })
}

func TestUnaryOps(t *testing.T) {
	backend := New("").(*Backend)
	testCases := []struct {
		op    backends.OpType
		input []float32
		want  []float32
	}{
		{backends.OpTypeNeg, []float32{1, -2, 0}, []float32{-1, 2, 0}},
		{backends.OpTypeAbs, []float32{1, -2, 0}, []float32{1, 2, 0}},
		{backends.OpTypeExp, []float32{0, 1, -1}, []float32{1, float32(math.E), float32(1 / math.E)}},
		{backends.OpTypeLog, []float32{1, float32(math.E), 10}, []float32{0, 1, float32(math.Log(10))}},
		{backends.OpTypeSqrt, []float32{0, 4, 9}, []float32{0, 2, 3}},
		{backends.OpTypeTanh, []float32{0, 1, -1}, []float32{0, float32(math.Tanh(1)), float32(math.Tanh(-1))}},
	}
	for _, tc := range testCases {
		t.Run(tc.op.String(), func(t *testing.T) {
			input := backend.BufferFromFlatData(tc.input, S(F32, len(tc.input)))
			outputs := testExec(t, backend, []backends.Buffer{input},
				func(builder backends.Builder, params []backends.Op) []backends.Op {
					x := params[0]
					switch tc.op {
					case backends.OpTypeNeg:
						x = builder.Neg(x)
					case backends.OpTypeAbs:
						x = builder.Abs(x)
					case backends.OpTypeExp:
						x = builder.Exp(x)
					case backends.OpTypeLog:
						x = builder.Log(x)
					case backends.OpTypeSqrt:
						x = builder.Sqrt(x)
					case backends.OpTypeTanh:
						x = builder.Tanh(x)
					}
					return []backends.Op{x}
				})
			got := bufferData[float32](backend, outputs[0])
			require.InDeltaSlice(t, tc.want, got, 1e-6, "%s(%v): got %v, want %v", tc.op, tc.input, got, tc.want)
		})
	}

	// Neg and Abs also work on signed integers.
	input := backend.BufferFromFlatData([]int32{-7, 0, 3}, S(I32, 3))
	outputs := testExec(t, backend, []backends.Buffer{input},
		func(builder backends.Builder, params []backends.Op) []backends.Op {
			return []backends.Op{builder.Neg(params[0]), builder.Abs(params[0])}
		})
	require.Equal(t, []int32{7, 0, -3}, bufferData[int32](backend, outputs[0]))
	require.Equal(t, []int32{7, 0, 3}, bufferData[int32](backend, outputs[1]))
}

func TestBinaryOps(t *testing.T) {
	backend := New("").(*Backend)
	lhs := []float32{1, -2, 6, 0.5}
	rhs := []float32{3, 4, 2, -1}
	testCases := []struct {
		name string
		fn   func(builder backends.Builder, x, y backends.Op) backends.Op
		want []float32
	}{
		{"Add", func(b backends.Builder, x, y backends.Op) backends.Op { return b.Add(x, y) },
			[]float32{4, 2, 8, -0.5}},
		{"Sub", func(b backends.Builder, x, y backends.Op) backends.Op { return b.Sub(x, y) },
			[]float32{-2, -6, 4, 1.5}},
		{"Mul", func(b backends.Builder, x, y backends.Op) backends.Op { return b.Mul(x, y) },
			[]float32{3, -8, 12, -0.5}},
		{"Div", func(b backends.Builder, x, y backends.Op) backends.Op { return b.Div(x, y) },
			[]float32{1.0 / 3.0, -0.5, 3, -0.5}},
		{"Pow", func(b backends.Builder, x, y backends.Op) backends.Op { return b.Pow(x, y) },
			[]float32{1, 16, 36, 2}},
		{"Max", func(b backends.Builder, x, y backends.Op) backends.Op { return b.Max(x, y) },
			[]float32{3, 4, 6, 0.5}},
		{"Min", func(b backends.Builder, x, y backends.Op) backends.Op { return b.Min(x, y) },
			[]float32{1, -2, 2, -1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inputs := []backends.Buffer{
				backend.BufferFromFlatData(lhs, S(F32, 4)),
				backend.BufferFromFlatData(rhs, S(F32, 4)),
			}
			outputs := testExec(t, backend, inputs,
				func(builder backends.Builder, params []backends.Op) []backends.Op {
					return []backends.Op{tc.fn(builder, params[0], params[1])}
				})
			got := bufferData[float32](backend, outputs[0])
			require.InDeltaSlice(t, tc.want, got, 1e-6, "%s: got %v, want %v", tc.name, got, tc.want)
		})
	}
}

func TestIntegerPow(t *testing.T) {
	backend := New("").(*Backend)
	base := backend.BufferFromFlatData([]int64{2, 3, 7, 0, -2}, S(I64, 5))
	exponent := backend.BufferFromFlatData([]int64{10, 4, 0, 0, 3}, S(I64, 5))
	outputs := testExec(t, backend, []backends.Buffer{base, exponent},
		func(builder backends.Builder, params []backends.Op) []backends.Op {
			return []backends.Op{builder.Pow(params[0], params[1])}
		})
	require.Equal(t, []int64{1024, 81, 1, 1, -8}, bufferData[int64](backend, outputs[0]))
}

func TestComparisonAndWhere(t *testing.T) {
	backend := New("").(*Backend)
	lhs := backend.BufferFromFlatData([]float32{1, 2, 3, 4}, S(F32, 4))
	rhs := backend.BufferFromFlatData([]float32{2, 2, 2, 2}, S(F32, 4))
	outputs := testExec(t, backend, []backends.Buffer{lhs, rhs},
		func(builder backends.Builder, params []backends.Op) []backends.Op {
			x, y := params[0], params[1]
			cond := builder.GreaterThan(x, y)
			return []backends.Op{
				builder.Equal(x, y),
				cond,
				builder.GreaterOrEqual(x, y),
				builder.Where(cond, x, builder.Neg(x)),
			}
		})
	require.Equal(t, []bool{false, true, false, false}, bufferData[bool](backend, outputs[0]))
	require.Equal(t, []bool{false, false, true, true}, bufferData[bool](backend, outputs[1]))
	require.Equal(t, []bool{false, true, true, true}, bufferData[bool](backend, outputs[2]))
	require.Equal(t, []float32{-1, -2, 3, 4}, bufferData[float32](backend, outputs[3]))
}

func TestStructuralOps(t *testing.T) {
	backend := New("").(*Backend)

	t.Run("Reshape", func(t *testing.T) {
		input := backend.BufferFromFlatData([]float32{1, 2, 3, 4, 5, 6}, S(F32, 2, 3))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{builder.Reshape(params[0], 3, 2)}
			})
		require.True(t, backend.BufferShape(outputs[0]).Equal(S(F32, 3, 2)))
		require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, bufferData[float32](backend, outputs[0]))
	})

	t.Run("Transpose", func(t *testing.T) {
		input := backend.BufferFromFlatData([]float32{1, 2, 3, 4, 5, 6}, S(F32, 2, 3))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{builder.Transpose(params[0], 1, 0)}
			})
		require.True(t, backend.BufferShape(outputs[0]).Equal(S(F32, 3, 2)))
		require.Equal(t, []float32{1, 4, 2, 5, 3, 6}, bufferData[float32](backend, outputs[0]))
	})

	t.Run("TransposeRank3", func(t *testing.T) {
		// [2, 1, 3] -> [3, 2, 1] with permutation (2, 0, 1).
		input := backend.BufferFromFlatData([]int32{1, 2, 3, 4, 5, 6}, S(I32, 2, 1, 3))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{builder.Transpose(params[0], 2, 0, 1)}
			})
		require.True(t, backend.BufferShape(outputs[0]).Equal(S(I32, 3, 2, 1)))
		require.Equal(t, []int32{1, 4, 2, 5, 3, 6}, bufferData[int32](backend, outputs[0]))
	})

	t.Run("BroadcastInDim", func(t *testing.T) {
		scalar := backend.BufferFromFlatData([]float32{7}, S(F32))
		row := backend.BufferFromFlatData([]float32{1, 2, 3}, S(F32, 3))
		column := backend.BufferFromFlatData([]float32{1, 2}, S(F32, 2, 1))
		outputs := testExec(t, backend, []backends.Buffer{scalar, row, column},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.BroadcastInDim(params[0], S(F32, 2, 2), []int{}),
					builder.BroadcastInDim(params[1], S(F32, 2, 3), []int{1}),
					builder.BroadcastInDim(params[2], S(F32, 2, 3), []int{0, 1}),
				}
			})
		require.Equal(t, []float32{7, 7, 7, 7}, bufferData[float32](backend, outputs[0]))
		require.Equal(t, []float32{1, 2, 3, 1, 2, 3}, bufferData[float32](backend, outputs[1]))
		require.Equal(t, []float32{1, 1, 1, 2, 2, 2}, bufferData[float32](backend, outputs[2]))
	})

	t.Run("Iota", func(t *testing.T) {
		outputs := testExec(t, backend, nil,
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.Iota(S(F32, 2, 3), 0),
					builder.Iota(S(I64, 2, 3), 1),
				}
			})
		require.Equal(t, []float32{0, 0, 0, 1, 1, 1}, bufferData[float32](backend, outputs[0]))
		require.Equal(t, []int64{0, 1, 2, 0, 1, 2}, bufferData[int64](backend, outputs[1]))
	})

	t.Run("ConvertDType", func(t *testing.T) {
		input := backend.BufferFromFlatData([]float32{1.7, -2.3, 0}, S(F32, 3))
		outputs := testExec(t, backend, []backends.Buffer{input},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{
					builder.ConvertDType(params[0], I32),
					builder.ConvertDType(params[0], F64),
					builder.ConvertDType(params[0], dtypes.Bool),
				}
			})
		require.Equal(t, []int32{1, -2, 0}, bufferData[int32](backend, outputs[0]))
		require.InDeltaSlice(t, []float64{1.7, -2.3, 0}, bufferData[float64](backend, outputs[1]), 1e-6)
		require.Equal(t, []bool{true, true, false}, bufferData[bool](backend, outputs[2]))

		boolInput := backend.BufferFromFlatData([]bool{true, false}, S(dtypes.Bool, 2))
		outputs = testExec(t, backend, []backends.Buffer{boolInput},
			func(builder backends.Builder, params []backends.Op) []backends.Op {
				return []backends.Op{builder.ConvertDType(params[0], F32)}
			})
		require.Equal(t, []float32{1, 0}, bufferData[float32](backend, outputs[0]))
	})
}

func TestReduceOps(t *testing.T) {
	backend := New("").(*Backend)
	// input is [[1, 2, 3], [4, 5, 6]].
	input := backend.BufferFromFlatData([]float32{1, 2, 3, 4, 5, 6}, S(F32, 2, 3))
	outputs := testExec(t, backend, []backends.Buffer{input},
		func(builder backends.Builder, params []backends.Op) []backends.Op {
			x := params[0]
			return []backends.Op{
				builder.ReduceSum(x, 0),
				builder.ReduceSum(x, 1),
				builder.ReduceSum(x),
				builder.ReduceMax(x, 0),
				builder.ReduceMax(x, 1),
				builder.ReduceMax(x),
			}
		})
	require.Equal(t, []float32{5, 7, 9}, bufferData[float32](backend, outputs[0]))
	require.Equal(t, []float32{6, 15}, bufferData[float32](backend, outputs[1]))
	require.True(t, backend.BufferShape(outputs[2]).Equal(S(F32)))
	require.Equal(t, []float32{21}, bufferData[float32](backend, outputs[2]))
	require.Equal(t, []float32{4, 5, 6}, bufferData[float32](backend, outputs[3]))
	require.Equal(t, []float32{3, 6}, bufferData[float32](backend, outputs[4]))
	require.Equal(t, []float32{6}, bufferData[float32](backend, outputs[5]))

	// Negative values: ReduceMax must not depend on zero initialization.
	negatives := backend.BufferFromFlatData([]float32{-5, -2, -9, -3}, S(F32, 4))
	outputs = testExec(t, backend, []backends.Buffer{negatives},
		func(builder backends.Builder, params []backends.Op) []backends.Op {
			return []backends.Op{builder.ReduceMax(params[0])}
		})
	require.Equal(t, []float32{-2}, bufferData[float32](backend, outputs[0]))
}

func TestArgMax(t *testing.T) {
	backend := New("").(*Backend)
	// input is [[1, 3, 2], [6, 5, 6]]: row argmax is (1, 0); ties pick the
	// lowest index.
	input := backend.BufferFromFlatData([]float32{1, 3, 2, 6, 5, 6}, S(F32, 2, 3))
	outputs := testExec(t, backend, []backends.Buffer{input},
		func(builder backends.Builder, params []backends.Op) []backends.Op {
			return []backends.Op{
				builder.ArgMax(params[0], 1, I32),
				builder.ArgMax(params[0], 0, I64),
			}
		})
	require.True(t, backend.BufferShape(outputs[0]).Equal(S(I32, 2)))
	require.Equal(t, []int32{1, 0}, bufferData[int32](backend, outputs[0]))
	require.Equal(t, []int64{1, 1, 1}, bufferData[int64](backend, outputs[1]))
}

func TestConstantOutputIsolation(t *testing.T) {
	backend := New("").(*Backend)
	builder := backend.Builder("constants")
	c := builder.Constant([]float32{1, 2}, 2)
	exec := builder.Compile(c)

	// Outputs backed by a constant must be isolated copies: mutating one
	// execution's output cannot leak into the next.
	out1 := exec.Execute()[0]
	flat := make([]float32, 2)
	backend.BufferToFlatData(out1, flat)
	require.Equal(t, []float32{1, 2}, flat)
	out1.(*Buffer).flat.([]float32)[0] = 99
	out2 := exec.Execute()[0]
	backend.BufferToFlatData(out2, flat)
	require.Equal(t, []float32{1, 2}, flat)
}

func TestRepeatedOutputs(t *testing.T) {
	// The same node may be listed as an output several times (a value
	// returned both as a result and as a state update): each occurrence must
	// get its own isolated buffer.
	backend := New("").(*Backend)
	builder := backend.Builder("repeated")
	x := builder.Parameter("x", S(F32, 2))
	sum := builder.Add(x, builder.Constant([]float32{1, 1}, 2))
	var exec backends.Executable
	require.NotPanics(t, func() { exec = builder.Compile(sum, x, sum) })

	input := backend.BufferFromFlatData([]float32{1, 2}, S(F32, 2))
	outputs := exec.Execute(input)
	require.Len(t, outputs, 3)
	require.Equal(t, []float32{2, 3}, bufferData[float32](backend, outputs[0]))
	require.Equal(t, []float32{1, 2}, bufferData[float32](backend, outputs[1]))
	require.Equal(t, []float32{2, 3}, bufferData[float32](backend, outputs[2]))

	// The fanned-out buffers and the input are all independent.
	outputs[0].(*Buffer).flat.([]float32)[0] = 99
	require.Equal(t, []float32{2, 3}, bufferData[float32](backend, outputs[2]))
	outputs[1].(*Buffer).flat.([]float32)[0] = 99
	require.Equal(t, []float32{1, 2}, bufferData[float32](backend, input))
}

func TestUnsupportedDType(t *testing.T) {
	backend := New("").(*Backend)
	builder := backend.Builder("fp16")
	x := builder.Parameter("x", S(dtypes.Float16, 2))
	exec := builder.Compile(builder.Add(x, x))
	require.Panics(t, func() {
		input := backend.getBufferForShape(S(dtypes.Float16, 2))
		exec.Execute(input)
	})
}
