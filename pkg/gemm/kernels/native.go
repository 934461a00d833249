// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/microgemm/internal/cpuinfo"
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
)

// SGEMMNative16x4Params for the native kernels: tiles of 4 rows by 16 columns, K in steps of 8.
var SGEMMNative16x4Params = CacheParams{MR: 4, NR: 16, KR: 1, PrefetchDistance: 8, KUnroll: 8}

func init() {
	Register(&Registration{
		Name: "a64-sgemm-native-16x4", Pair: dtypes.PairOf[float32, float32](), Kind: KindNative,
		ISA: cpuinfo.NEON, Params: &SGEMMNative16x4Params, Priority: PriorityDTypeSpecific,
		Fn: Native(SGEMMNative16x4),
	})
	Register(&Registration{
		Name: "a64-sgemm-nativeA-pretransposeB-16x4", Pair: dtypes.PairOf[float32, float32](), Kind: KindNativePretransposedB,
		ISA: cpuinfo.NEON, Params: &SGEMMNative16x4Params, Priority: PriorityDTypeSpecific,
		Fn: NativePretransposed(SGEMMNativePretransposed16x4),
	})
}

const nativeRows, nativeCols = 4, 16

// nativeTile holds the state of one 4x16 tile of the native kernels.
//
// Missing rows (M not a multiple of 4) read A from a zero row that never advances and write into a dummy
// row, missing columns (N not a multiple of 16) read B as zero, so the arithmetic is always the full tile.
type nativeTile struct {
	acc   [nativeRows * nativeCols]float32
	aRows [nativeRows][]float32
	aIncr [nativeRows]int
	bRow  [nativeCols]float32

	dummyA [1]float32
	dummyC [nativeCols]float32
}

// setRows points the tile to the rows [y, y+activeRows) of a.
func (t *nativeTile) setRows(a matrix.View[float32], y, activeRows int) {
	for r := range nativeRows {
		if r < activeRows {
			t.aRows[r] = a.Row(y + r)
			t.aIncr[r] = 1
		} else {
			t.aRows[r] = t.dummyA[:]
			t.aIncr[r] = 0
		}
	}
}

// step accumulates the K index kk, with the 16 values of B for kk in bRow.
func (t *nativeTile) step(bRow []float32, kk int) {
	bRow = bRow[:nativeCols]
	for r := range nativeRows {
		aV := t.aRows[r][kk*t.aIncr[r]]
		accRow := t.acc[r*nativeCols : (r+1)*nativeCols]
		for c, bV := range bRow {
			accRow[c] += aV * bV
		}
	}
}

// run accumulates the tile over k, reading the B values of each K index from loadB.
//
// K is consumed in steps of 8; a remainder of 4 or more K elements (oddK) runs a detached step of 4, and the
// last K%4 elements are single steps.
func (t *nativeTile) run(k int, loadB func(kk int) []float32) {
	clear(t.acc[:])
	oddK := k%8 >= 4
	oddOnes := k % 4
	kk := 0
	for range k / 8 {
		for range 8 {
			t.step(loadB(kk), kk)
			kk++
		}
	}
	if oddK {
		for range 4 {
			t.step(loadB(kk), kk)
			kk++
		}
	}
	for range oddOnes {
		t.step(loadB(kk), kk)
		kk++
	}
}

// commit writes the valid sub-rectangle of the tile to c at (y, x0): rows beyond activeRows go to the dummy
// row, columns beyond validCols are dropped. With beta == 0 the previous content of c is not read.
func (t *nativeTile) commit(c matrix.View[float32], y, x0, activeRows, validCols int, alpha, beta float32) {
	for r := range nativeRows {
		out := t.dummyC[:validCols]
		if r < activeRows {
			out = c.Row(y + r)[x0 : x0+validCols]
		}
		accRow := t.acc[r*nativeCols : r*nativeCols+validCols]
		if beta == 0 {
			for ii, v := range accRow {
				out[ii] = alpha * v
			}
		} else {
			for ii, v := range accRow {
				out[ii] = alpha*v + beta*out[ii]
			}
		}
	}
}

// SGEMMNative16x4 computes c = alpha * a x b + beta * c directly on the unpacked matrices, with a shaped
// [M, K], b shaped [K, N] and c shaped [M, N]. With beta == 0 the previous content of c is not read.
func SGEMMNative16x4(a, b, c matrix.View[float32], alpha, beta float32) {
	m, n, k := a.Rows, b.Cols, a.Cols
	var t nativeTile
	for y := 0; y < m; y += nativeRows {
		activeRows := min(m-y, nativeRows)
		t.setRows(a, y, activeRows)
		for x0 := 0; x0 < n; x0 += nativeCols {
			validCols := min(n-x0, nativeCols)
			clear(t.bRow[validCols:])
			t.run(k, func(kk int) []float32 {
				copy(t.bRow[:], b.Data[kk*b.Stride+x0:kk*b.Stride+x0+validCols])
				return t.bRow[:]
			})
			t.commit(c, y, x0, activeRows, validCols, alpha, beta)
		}
	}
}

// SGEMMNativePretransposed16x4 is SGEMMNative16x4 with b packed whole in strips of 16 columns
// (SGEMMNative16x4Params.RHSLayout), so the missing columns of the last strip already read as zero.
func SGEMMNativePretransposed16x4(a matrix.View[float32], bPanel []float32, c matrix.View[float32], alpha, beta float32) {
	m, n, k := a.Rows, c.Cols, a.Cols
	var t nativeTile
	for y := 0; y < m; y += nativeRows {
		activeRows := min(m-y, nativeRows)
		t.setRows(a, y, activeRows)
		for x0 := 0; x0 < n; x0 += nativeCols {
			strip := bPanel[x0*k : (x0+nativeCols)*k]
			t.run(k, func(kk int) []float32 {
				return strip[kk*nativeCols : (kk+1)*nativeCols]
			})
			t.commit(c, y, x0, activeRows, min(n-x0, nativeCols), alpha, beta)
		}
	}
}
