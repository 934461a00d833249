// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/microgemm/internal/cpuinfo"
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

var (
	// SGEMM8x12Params for the float32 kernel: 8 rows by 12 columns, one K element per step.
	SGEMM8x12Params = CacheParams{MR: 8, NR: 12, KR: 1, PrefetchDistance: 24, KUnroll: 2}

	// HGEMM8x24Params for the float16 operands, float32 accumulators kernel.
	HGEMM8x24Params = CacheParams{MR: 8, NR: 24, KR: 1, PrefetchDistance: 32, KUnroll: 2}

	// BF16Dot8x12Params for the bfloat16 operands kernel, consuming pairs of K elements per step.
	BF16Dot8x12Params = CacheParams{MR: 8, NR: 12, KR: 2, PrefetchDistance: 16, KUnroll: 2}
)

func init() {
	Register(&Registration{
		Name: "a64-sgemm-8x12", Pair: dtypes.PairOf[float32, float32](), Kind: KindInterleaved,
		ISA: cpuinfo.NEON, Params: &SGEMM8x12Params, Priority: PriorityDTypeSpecific,
		Fn: Interleaved[float32, float32](SGEMM8x12),
	})
	Register(&Registration{
		Name: "a64-hgemm-fp16fp32-8x24", Pair: dtypes.PairOf[float16.Float16, float32](), Kind: KindInterleaved,
		ISA: cpuinfo.FP16, Params: &HGEMM8x24Params, Priority: PriorityDTypeSpecific,
		Fn: Interleaved[float16.Float16, float32](HGEMM8x24),
	})
	Register(&Registration{
		Name: "a64-bf16fp32-dot-8x12", Pair: dtypes.PairOf[bfloat16.BFloat16, float32](), Kind: KindInterleaved,
		ISA: cpuinfo.BF16, Params: &BF16Dot8x12Params, Priority: PriorityDTypeSpecific,
		Fn: Interleaved[bfloat16.BFloat16, float32](BF16Dot8x12),
	})
}

// outerProductAdd accumulates the outer product of a (one column of the tile rows) and b
// (one row of the tile columns) into the row-major tile acc.
func outerProductAdd(acc, a, b []float32) {
	nr := len(b)
	for r, aV := range a {
		accRow := acc[r*nr : (r+1)*nr]
		_ = accRow[nr-1] // BCE.
		for c, bV := range b {
			accRow[c] += aV * bV
		}
	}
}

// SGEMM8x12 is the float32 interleaved kernel with 8x12 tiles.
//
// K is processed two steps at a time, with the operands of the second step loaded before the first
// step is accumulated. An odd K ends with one detached step.
func SGEMM8x12(aPanel, bPanel, cPanel []float32, aBlocks, bBlocks, k int) {
	const mr, nr = 8, 12
	oddK := k%2 == 1
	pairs := k / 2
	cIdx := 0
	for ab := range aBlocks {
		aBlock := aPanel[ab*mr*k : (ab+1)*mr*k]
		for bb := range bBlocks {
			bBlock := bPanel[bb*nr*k : (bb+1)*nr*k]
			var acc [mr * nr]float32
			aIdx, bIdx := 0, 0
			for range pairs {
				a0, b0 := aBlock[aIdx:aIdx+mr], bBlock[bIdx:bIdx+nr]
				a1, b1 := aBlock[aIdx+mr:aIdx+2*mr], bBlock[bIdx+nr:bIdx+2*nr]
				outerProductAdd(acc[:], a0, b0)
				outerProductAdd(acc[:], a1, b1)
				aIdx += 2 * mr
				bIdx += 2 * nr
			}
			if oddK {
				outerProductAdd(acc[:], aBlock[aIdx:aIdx+mr], bBlock[bIdx:bIdx+nr])
			}
			copy(cPanel[cIdx:cIdx+mr*nr], acc[:])
			cIdx += mr * nr
		}
	}
}

// HGEMM8x24 is the float16 operands kernel with 8x24 tiles, accumulating in float32.
// Each step widens one column of A and one row of B.
func HGEMM8x24(aPanel, bPanel []float16.Float16, cPanel []float32, aBlocks, bBlocks, k int) {
	const mr, nr = 8, 24
	oddK := k%2 == 1
	pairs := k / 2
	var a0, a1 [mr]float32
	var b0, b1 [nr]float32
	widen := func(dst []float32, src []float16.Float16) {
		for ii, v := range src {
			dst[ii] = v.Float32()
		}
	}
	cIdx := 0
	for ab := range aBlocks {
		aBlock := aPanel[ab*mr*k : (ab+1)*mr*k]
		for bb := range bBlocks {
			bBlock := bPanel[bb*nr*k : (bb+1)*nr*k]
			var acc [mr * nr]float32
			aIdx, bIdx := 0, 0
			for range pairs {
				widen(a0[:], aBlock[aIdx:aIdx+mr])
				widen(b0[:], bBlock[bIdx:bIdx+nr])
				widen(a1[:], aBlock[aIdx+mr:aIdx+2*mr])
				widen(b1[:], bBlock[bIdx+nr:bIdx+2*nr])
				outerProductAdd(acc[:], a0[:], b0[:])
				outerProductAdd(acc[:], a1[:], b1[:])
				aIdx += 2 * mr
				bIdx += 2 * nr
			}
			if oddK {
				widen(a0[:], aBlock[aIdx:aIdx+mr])
				widen(b0[:], bBlock[bIdx:bIdx+nr])
				outerProductAdd(acc[:], a0[:], b0[:])
			}
			copy(cPanel[cIdx:cIdx+mr*nr], acc[:])
			cIdx += mr * nr
		}
	}
}

// bf16DotStep accumulates one block of 2 K elements: acc[r, c] += a[r, 0]*b[c, 0] + a[r, 1]*b[c, 1].
func bf16DotStep(acc []float32, a, b []bfloat16.BFloat16, mr, nr int) {
	for r := range mr {
		a0, a1 := a[2*r].Float32(), a[2*r+1].Float32()
		accRow := acc[r*nr : (r+1)*nr]
		for c := range accRow {
			accRow[c] += a0*b[2*c].Float32() + a1*b[2*c+1].Float32()
		}
	}
}

// BF16Dot8x12 is the bfloat16 operands kernel with 8x12 tiles, accumulating in float32. k must be a
// multiple of 2 (the packers pad it). Blocks of 2 K elements are processed two at a time, with a
// detached final block when their number is odd.
func BF16Dot8x12(aPanel, bPanel []bfloat16.BFloat16, cPanel []float32, aBlocks, bBlocks, k int) {
	const mr, nr, kr = 8, 12, 2
	numBlocks := k / kr
	oddBlocks := numBlocks%2 == 1
	aStep, bStep := mr*kr, nr*kr
	cIdx := 0
	for ab := range aBlocks {
		aBlock := aPanel[ab*mr*k : (ab+1)*mr*k]
		for bb := range bBlocks {
			bBlock := bPanel[bb*nr*k : (bb+1)*nr*k]
			var acc [mr * nr]float32
			aIdx, bIdx := 0, 0
			for range numBlocks / 2 {
				bf16DotStep(acc[:], aBlock[aIdx:aIdx+aStep], bBlock[bIdx:bIdx+bStep], mr, nr)
				bf16DotStep(acc[:], aBlock[aIdx+aStep:aIdx+2*aStep], bBlock[bIdx+bStep:bIdx+2*bStep], mr, nr)
				aIdx += 2 * aStep
				bIdx += 2 * bStep
			}
			if oddBlocks {
				bf16DotStep(acc[:], aBlock[aIdx:aIdx+aStep], bBlock[bIdx:bIdx+bStep], mr, nr)
			}
			copy(cPanel[cIdx:cIdx+mr*nr], acc[:])
			cIdx += mr * nr
		}
	}
}
