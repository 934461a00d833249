// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package za

import (
	"fmt"
	"testing"

	"github.com/gomlx/microgemm/internal/reference"
	"github.com/gomlx/microgemm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/merge"
	"github.com/gomlx/microgemm/pkg/gemm/pack"
	"github.com/gomlx/microgemm/pkg/gemm/quantize"
	"github.com/gomlx/microgemm/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

var testShapes = [][3]int{{1, 1, 1}, {5, 7, 3}, {16, 16, 4}, {9, 20, 7}, {3, 33, 2}, {17, 5, 13}}

// packOperands packs the contracting range [k0, kmax) of a and the columns [x0, xmax) of b for the kernel.
func packOperands[TOp any, TAcc Word, TOut any](k *Kernel[TOp, TAcc, TOut], vl int, a, b matrix.View[TOp],
	k0, kmax, x0, xmax int) (aPanel, bPanel []TOp) {
	aLayout, bLayout := k.LHSLayout(vl), k.RHSLayout(vl)
	aPanel = make([]TOp, pack.PackedSize(a.Rows, kmax-k0, aLayout))
	pack.Interleave(aPanel, a, 0, a.Rows, k0, kmax, aLayout, pack.Identity[TOp])
	bPanel = make([]TOp, pack.PackedSize(xmax-x0, kmax-k0, bLayout))
	pack.TransposeInterleave(bPanel, b, x0, xmax, k0, kmax, bLayout, pack.Identity[TOp])
	return
}

// runOnce runs the kernel over the whole [M, N] output in one call, without a buffer.
func runOnce[TOp any, TAcc Word, TOut any](arr *Array, k *Kernel[TOp, TAcc, TOut], a, b matrix.View[TOp],
	output OutputStage[TAcc, TOut]) matrix.View[TOut] {
	m, kk, n := a.Rows, a.Cols, b.Cols
	aPanel, bPanel := packOperands(k, arr.VL(), a, b, 0, kk, 0, n)
	c := matrix.Make[TOut](m, n)
	release := arr.Enter()
	defer release()
	k.Run(arr, &Call[TOp, TAcc, TOut]{A: aPanel, B: bPanel, C: &c, M: m, N: n, K: kk, Output: output})
	return c
}

func floatOperands(m, n, k int) (a, b matrix.View[float32]) {
	a = matrix.New(xslices.Cycle[float32](-3, 7, m*k), m, k)
	b = matrix.New(xslices.Cycle[float32](-2, 5, k*n), k, n)
	return
}

func int8Operands(m, n, k int) (a, b matrix.View[int8]) {
	a = matrix.New(xslices.Cycle[int8](-7, 15, m*k), m, k)
	b = matrix.New(xslices.Cycle[int8](-5, 11, k*n), k, n)
	return
}

func TestFloatFamilies(t *testing.T) {
	arr := NewArray(DefaultVectorLength)
	for _, shape := range testShapes {
		m, n, k := shape[0], shape[1], shape[2]
		a, b := floatOperands(m, n, k)
		want := reference.MatMulFloat32(a.Data, k, b.Data, n, m, n, k)
		for _, kernel := range FP32.Kernels {
			t.Run(fmt.Sprintf("%s/%dx%dx%d", kernel.Name, m, n, k), func(t *testing.T) {
				got := runOnce(arr, kernel, a, b, FloatActivation{})
				assert.Equal(t, want, got.Data)
			})
		}

		aBF16 := matrix.New(xslices.Map(a.Data, bfloat16.FromFloat32), m, k)
		bBF16 := matrix.New(xslices.Map(b.Data, bfloat16.FromFloat32), k, n)
		for _, kernel := range BF16FP32.Kernels {
			got := runOnce(arr, kernel, aBF16, bBF16, FloatActivation{})
			assert.Equal(t, want, got.Data, "%s %dx%dx%d", kernel.Name, m, n, k)
		}

		aFP16 := matrix.New(xslices.Map(a.Data, float16.Fromfloat32), m, k)
		bFP16 := matrix.New(xslices.Map(b.Data, float16.Fromfloat32), k, n)
		for _, kernel := range FP16FP32.Kernels {
			got := runOnce(arr, kernel, aFP16, bFP16, FloatActivation{})
			assert.Equal(t, want, got.Data, "%s %dx%dx%d", kernel.Name, m, n, k)
		}
		wantHalf := xslices.Map(want, float16.Fromfloat32)
		for _, kernel := range FP16FP32FP16.Kernels {
			got := runOnce(arr, kernel, aFP16, bFP16, HalfActivation{})
			assert.Equal(t, wantHalf, got.Data, "%s %dx%dx%d", kernel.Name, m, n, k)
		}
	}
}

func TestBiasAndActivation(t *testing.T) {
	const m, n, k, n0 = 7, 9, 5, 3
	a, b := floatOperands(m, n, k)
	want := reference.MatMulFloat32(a.Data, k, b.Data, n, m, n, k)
	bias := xslices.Cycle[float32](-4, 9, n0+n)
	act := merge.Activation{Kind: merge.BoundedReLU, Param1: 6}

	arr := NewArray(DefaultVectorLength)
	for _, kernel := range FP32.Kernels {
		aPanel, bPanel := packOperands(kernel, arr.VL(), a, b, 0, k, 0, n)
		full := matrix.Make[float32](m, n0+n)
		c := full.Sub(0, n0, m, n)
		func() {
			release := arr.Enter()
			defer release()
			kernel.Run(arr, &Call[float32, float32, float32]{A: aPanel, B: bPanel, C: &c, M: m, N: n, K: k,
				Bias: bias, N0: n0, Output: FloatActivation{Act: act}})
		}()
		for row := range m {
			for col := range n {
				expected := merge.Clamp(want[row*n+col]+bias[n0+col], 0, 6)
				require.Equal(t, expected, c.At(row, col), "%s: row=%d, col=%d", kernel.Name, row, col)
			}
			for col := range n0 {
				require.Zero(t, full.At(row, col))
			}
		}
	}
}

func TestIntegerFamilies(t *testing.T) {
	arr := NewArray(DefaultVectorLength)
	for _, shape := range testShapes {
		m, n, k := shape[0], shape[1], shape[2]
		a, b := int8Operands(m, n, k)
		want := reference.MatMulInt(reference.Widen(a.Data), k, reference.Widen(b.Data), n, m, n, k, 0, 0)
		for _, kernel := range S8S32.Kernels {
			got := runOnce(arr, kernel, a, b, Int32Store{})
			assert.Equal(t, want, got.Data, "%s %dx%dx%d", kernel.Name, m, n, k)
		}

		aU8 := matrix.New(xslices.Map(a.Data, pack.FlipSign), m, k)
		bU8 := matrix.New(xslices.Map(b.Data, pack.FlipSign), k, n)
		wantU8 := reference.MatMulInt(reference.Widen(aU8.Data), k, reference.Widen(bU8.Data), n, m, n, k, 128, 128)
		qp := &quantize.Requantize32{AOffset: 128, BOffset: 128, MinVal: 0, MaxVal: 255, COffset: 100,
			PerLayerMul: 1 << 30, PerLayerRightShift: 2} // Multiplier of 1/8.
		for _, kernel := range U8Q.Kernels {
			colBias := make([]int32, n)
			quantize.ComputeColSums(qp, n, k, bU8.Data, n, colBias, k, 0)
			rowBias := make([]int32, m)
			quantize.ComputeRowSums(qp, k, m, aU8.Data, k, rowBias)
			aPanel, bPanel := packOperands(kernel, arr.VL(), aU8, bU8, 0, k, 0, n)
			c := matrix.Make[uint8](m, n)
			func() {
				release := arr.Enter()
				defer release()
				kernel.Run(arr, &Call[uint8, int32, uint8]{A: aPanel, B: bPanel, C: &c, M: m, N: n, K: k,
					Bias: colBias, Output: Requantize[uint8]{QP: qp, RowBias: rowBias}})
			}()
			for ii, v := range wantU8 {
				require.Equal(t, uint8(qp.Requantize(v, ii%n)), c.Data[ii], "%s: element #%d", kernel.Name, ii)
			}
		}
	}
}

func TestPerChannelWindow(t *testing.T) {
	const m, n, k, x0 = 6, 12, 9, 4
	a, b := int8Operands(m, n, k)
	want := reference.MatMulInt(reference.Widen(a.Data), k, reference.Widen(b.Data), n, m, n, k, -3, 2)
	scales := make([]float64, n)
	for ii := range scales {
		scales[ii] = 0.02 * float64(ii+1)
	}
	qp, err := quantize.NewPerChannel(scales, -3, 2, 5, -128, 127)
	require.NoError(t, err)
	qp.Bias = xslices.Cycle[int32](-20, 41, n)
	colBias := make([]int32, n)
	quantize.ComputeColSums(qp, n, k, b.Data, n, colBias, k, 0)
	rowBias := make([]int32, m)
	quantize.ComputeRowSums(qp, k, m, a.Data, k, rowBias)

	arr := NewArray(DefaultVectorLength)
	for _, kernel := range S8Q.Kernels {
		// The window [x0, n) of the output, using the per-channel parameters of its absolute columns.
		aPanel, bPanel := packOperands(kernel, arr.VL(), a, b, 0, k, x0, n)
		full := matrix.Make[int8](m, n)
		c := full.Sub(0, x0, m, n-x0)
		func() {
			release := arr.Enter()
			defer release()
			kernel.Run(arr, &Call[int8, int32, int8]{A: aPanel, B: bPanel, C: &c, M: m, N: n - x0, K: k,
				Bias: colBias, N0: x0, Output: Requantize[int8]{QP: qp, RowBias: rowBias}})
		}()
		for row := range m {
			for col := x0; col < n; col++ {
				expected := int8(qp.Requantize(want[row*n+col]+qp.Bias[col], col))
				require.Equal(t, expected, full.At(row, col), "%s: row=%d, col=%d", kernel.Name, row, col)
			}
		}
	}

	for _, kernel := range S8QFP32.Kernels {
		aPanel, bPanel := packOperands(kernel, arr.VL(), a, b, 0, k, 0, n)
		colSums := make([]int32, n)
		quantize.ComputeColSums(&quantize.Requantize32{AOffset: -3, BOffset: 2}, n, k, b.Data, n, colSums, k, 0)
		lateBias := xslices.Cycle[float32](-1, 3, n)
		c := matrix.Make[float32](m, n)
		func() {
			release := arr.Enter()
			defer release()
			kernel.Run(arr, &Call[int8, int32, float32]{A: aPanel, B: bPanel, C: &c, M: m, N: n, K: k,
				Bias: colSums, Output: DequantizeFloat{DequantizeFloat: quantize.DequantizeFloat{Scale: 0.5},
					LateBias: lateBias}})
		}()
		for row := range m {
			for col := range n {
				// The row term of the zero-point correction is not part of the accumulators here.
				raw := c.At(row, col) - lateBias[col]
				expected := float32(want[row*n+col]-rowBias[row]) * 0.5
				require.Equal(t, expected, raw, "%s: row=%d, col=%d", kernel.Name, row, col)
			}
		}
	}
}

func TestSpillAndFill(t *testing.T) {
	const m, n, k = 11, 13, 21
	a, b := int8Operands(m, n, k)
	want := reference.MatMulInt(reference.Widen(a.Data), k, reference.Widen(b.Data), n, m, n, k, 0, 0)
	bias := xslices.Cycle[int32](-10, 21, n)
	chunks := [][2]int{{0, 6}, {6, 13}, {13, 21}}

	arr := NewArray(DefaultVectorLength)
	for _, kernel := range S8S32.Kernels {
		buf := kernel.NewBuffer(arr, m, n)
		c := matrix.Make[int32](m, n)
		for ii, chunk := range chunks {
			k0, kmax := chunk[0], chunk[1]
			aPanel, bPanel := packOperands(kernel, arr.VL(), a, b, k0, kmax, 0, n)
			call := &Call[int8, int32, int32]{A: aPanel, B: bPanel, M: m, N: n, K: kmax - k0,
				Bias: bias, Output: Int32Store{}, Accumulate: ii > 0, Buffer: buf}
			if ii == len(chunks)-1 {
				call.C = &c
			}
			func() {
				release := arr.Enter()
				defer release()
				kernel.Run(arr, call)
			}()
			wantState := SlotSpilled
			if call.C != nil {
				wantState = SlotFinalized
			}
			assert.Equal(t, wantState, buf.State(0, 0), "%s after chunk #%d", kernel.Name, ii)
		}
		for ii, v := range want {
			require.Equal(t, v+bias[ii%n], c.Data[ii], "%s: element #%d", kernel.Name, ii)
		}

		// Finalized slots cannot be accumulated without a Reset.
		aPanel, bPanel := packOperands(kernel, arr.VL(), a, b, 0, k, 0, n)
		call := &Call[int8, int32, int32]{A: aPanel, B: bPanel, C: &c, M: m, N: n, K: k, Output: Int32Store{}, Buffer: buf}
		require.Panics(t, func() {
			release := arr.Enter()
			defer release()
			kernel.Run(arr, call)
		})
		require.False(t, arr.Active(), "release must run when the kernel panics")
		buf.Reset()
		func() {
			release := arr.Enter()
			defer release()
			kernel.Run(arr, call)
		}()
		for ii, v := range want {
			require.Equal(t, v, c.Data[ii])
		}
	}
}

func TestBufferStates(t *testing.T) {
	buf := NewBuffer[float32](2, 3, 2, 2)
	rowBlocks, colBlocks := buf.Blocks()
	assert.Equal(t, []int{2, 3}, []int{rowBlocks, colBlocks})
	acc := []float32{1, 2, 3, 4}

	require.Panics(t, func() { buf.fill(0, 0, acc) })
	require.Panics(t, func() { buf.spill(0, 0, acc) })
	require.Panics(t, func() { buf.finalize(0, 0) })
	require.Panics(t, func() { buf.begin(2, 0) })

	buf.begin(1, 2)
	assert.Equal(t, SlotAccumulating, buf.State(1, 2))
	require.Panics(t, func() { buf.begin(1, 2) })
	buf.spill(1, 2, acc)
	require.Panics(t, func() { buf.spill(1, 2, acc) })
	got := make([]float32, 4)
	buf.fill(1, 2, got)
	assert.Equal(t, acc, got)
	buf.finalize(1, 2)
	assert.Equal(t, SlotFinalized, buf.State(1, 2))
	assert.Equal(t, "Finalized", buf.State(1, 2).String())
	require.Panics(t, func() { buf.fill(1, 2, got) })
	buf.Reset()
	assert.Equal(t, SlotEmpty, buf.State(1, 2))
}

func TestArrayScope(t *testing.T) {
	arr := NewArray(DefaultVectorLength)
	kernel := FP32.ForShape(Shape2VLx2VL)
	a, b := floatOperands(3, 3, 3)
	aPanel, bPanel := packOperands(kernel, arr.VL(), a, b, 0, 3, 0, 3)
	c := matrix.Make[float32](3, 3)
	call := &Call[float32, float32, float32]{A: aPanel, B: bPanel, C: &c, M: 3, N: 3, K: 3, Output: FloatActivation{}}

	// Outside a scope.
	require.Panics(t, func() { kernel.Run(arr, call) })

	release := arr.Enter()
	assert.True(t, arr.Active())
	require.Panics(t, func() { arr.Enter() })
	require.Panics(t, func() { arr.SetVL(8) })

	// Storing or accumulating without a buffer.
	require.Panics(t, func() {
		kernel.Run(arr, &Call[float32, float32, float32]{A: aPanel, B: bPanel, M: 3, N: 3, K: 3})
	})
	release()
	release()
	assert.False(t, arr.Active())

	require.Panics(t, func() { NewArray(0) })
	require.Panics(t, func() { FP32.ForShape(Shape{RowVectors: 3, ColVectors: 1}) })
}

func TestVectorLength(t *testing.T) {
	const m, n, k = 19, 21, 6
	a, b := floatOperands(m, n, k)
	want := reference.MatMulFloat32(a.Data, k, b.Data, n, m, n, k)
	arr := NewArray(DefaultVectorLength)
	kernel := FP32.ForShape(Shape2VLx2VL)
	staleBuf := kernel.NewBuffer(arr, m, n)

	arr.SetVL(8)
	assert.Equal(t, 8, arr.VL())
	rows, cols := kernel.TileShape(arr.VL())
	assert.Equal(t, []int{16, 16}, []int{rows, cols})
	got := runOnce(arr, kernel, a, b, FloatActivation{})
	assert.Equal(t, want, got.Data)

	// A buffer allocated for another vector length.
	aPanel, bPanel := packOperands(kernel, arr.VL(), a, b, 0, k, 0, n)
	require.Panics(t, func() {
		release := arr.Enter()
		defer release()
		kernel.Run(arr, &Call[float32, float32, float32]{A: aPanel, B: bPanel, M: m, N: n, K: k, Buffer: staleBuf})
	})
}

func TestRegistration(t *testing.T) {
	reg, found := kernels.Default.ByName("sme2-interleaved-nomerge-s8q-mopa-1VLx4VL")
	require.True(t, found)
	assert.Equal(t, kernels.KindNoMerge, reg.Kind)
	assert.Equal(t, 4, reg.Params.MR)
	assert.Equal(t, 16, reg.Params.NR)
	assert.Equal(t, 4, reg.Params.KR)
	kernel, err := KernelOf[int8, int32, int8](reg)
	require.NoError(t, err)
	assert.Same(t, S8Q.ForShape(Shape1VLx4VL), kernel)
	_, err = KernelOf[uint8, int32, uint8](reg)
	assert.Error(t, err)

	for _, family := range []string{"fp32", "bf16fp32", "fp16fp32", "fp16fp32fp16", "s8s32", "s8q", "u8q", "s8qfp32"} {
		for _, shape := range Shapes {
			_, found := kernels.Default.ByName(fmt.Sprintf("sme2-interleaved-nomerge-%s-mopa-%s", family, shape))
			assert.True(t, found, "family %s, shape %s", family, shape)
		}
	}
}
