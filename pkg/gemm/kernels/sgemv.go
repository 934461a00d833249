// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/microgemm/internal/cpuinfo"
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
)

var (
	// SGEMVTransParams: 96 output columns accumulated at once over all of M.
	SGEMVTransParams = CacheParams{MR: 1, NR: 96, KR: 1, PrefetchDistance: 6, KUnroll: 1}

	// SGEMVPretransposedParams: 4 output elements (rows of the pretransposed matrix) at once.
	SGEMVPretransposedParams = CacheParams{MR: 1, NR: 4, KR: 1, PrefetchDistance: 6, KUnroll: 1}
)

func init() {
	Register(&Registration{
		Name: "a64-sgemv-trans", Pair: dtypes.PairOf[float32, float32](), Kind: KindGEMVTrans,
		ISA: cpuinfo.NEON, Params: &SGEMVTransParams, Priority: PriorityDTypeSpecific,
		Fn: GEMV(SGEMVTrans),
	})
	Register(&Registration{
		Name: "a64-sgemv-pretransposed", Pair: dtypes.PairOf[float32, float32](), Kind: KindGEMVPretransposed,
		ISA: cpuinfo.NEON, Params: &SGEMVPretransposedParams, Priority: PriorityDTypeSpecific,
		Fn: GEMV(SGEMVPretransposed),
	})
}

// SGEMVTrans computes y = alpha * a^T x + beta * y, for a shaped [M, N], x of length M and y of length N.
// It is the degenerate GEMM with a single LHS row (x), where a plays the role of the [K, N] RHS.
func SGEMVTrans(a matrix.View[float32], x, y []float32, alpha, beta float32) {
	const width = 96
	m, n := a.Rows, a.Cols
	beta0 := beta == 0
	var acc [width]float32
	for x0 := 0; x0 < n; x0 += width {
		cols := min(width, n-x0)
		accCols := acc[:cols]
		clear(accCols)
		for row := range m {
			xV := x[row]
			aRow := a.Data[row*a.Stride+x0 : row*a.Stride+x0+cols]
			for c, aV := range aRow {
				accCols[c] += xV * aV
			}
		}
		out := y[x0 : x0+cols]
		if beta0 {
			for c, v := range accCols {
				out[c] = alpha * v
			}
		} else {
			for c, v := range accCols {
				out[c] = alpha*v + beta*out[c]
			}
		}
	}
}

// SGEMVPretransposed computes y = alpha * a x + beta * y, for a shaped [N, K] (the RHS given transposed),
// x of length K and y of length N.
func SGEMVPretransposed(a matrix.View[float32], x, y []float32, alpha, beta float32) {
	n, k := a.Rows, a.Cols
	beta0 := beta == 0
	x = x[:k]
	write := func(idx int, v float32) {
		if beta0 {
			y[idx] = alpha * v
		} else {
			y[idx] = alpha*v + beta*y[idx]
		}
	}
	row := 0
	for ; row+3 < n; row += 4 {
		a0, a1, a2, a3 := a.Row(row), a.Row(row+1), a.Row(row+2), a.Row(row+3)
		var s0, s1, s2, s3 float32
		for kk, xV := range x {
			s0 += a0[kk] * xV
			s1 += a1[kk] * xV
			s2 += a2[kk] * xV
			s3 += a3[kk] * xV
		}
		write(row, s0)
		write(row+1, s1)
		write(row+2, s2)
		write(row+3, s3)
	}
	for ; row < n; row++ {
		var s float32
		for kk, aV := range a.Row(row) {
			s += aV * x[kk]
		}
		write(row, s)
	}
}
