// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/microgemm/internal/cpuinfo"
	"github.com/gomlx/microgemm/pkg/core/dtypes"
)

var (
	// GEMMS8x12x8Params for the int8 operands, int32 accumulators kernel: 12x8 tiles, dot products of 4.
	GEMMS8x12x8Params = CacheParams{MR: 12, NR: 8, KR: 4, PrefetchDistance: 64, KUnroll: 2}

	// GEMMU8x8x12Params for the uint8 operands, uint32 accumulators kernel: 8x12 tiles, dot products of 4.
	GEMMU8x8x12Params = CacheParams{MR: 8, NR: 12, KR: 4, PrefetchDistance: 64, KUnroll: 2}
)

func init() {
	Register(&Registration{
		Name: "a64-gemm-s8-12x8", Pair: dtypes.PairOf[int8, int32](), Kind: KindInterleaved,
		ISA: cpuinfo.DotProd, Params: &GEMMS8x12x8Params, Priority: PriorityDTypeSpecific,
		Fn: Interleaved[int8, int32](GEMMS8x12x8),
	})
	Register(&Registration{
		Name: "a64-gemm-u8-8x12", Pair: dtypes.PairOf[uint8, uint32](), Kind: KindInterleaved,
		ISA: cpuinfo.DotProd, Params: &GEMMU8x8x12Params, Priority: PriorityDTypeSpecific,
		Fn: Interleaved[uint8, uint32](GEMMU8x8x12),
	})
}

// dot4Step accumulates one block of 4 K elements of each of the mr rows and nr columns:
// acc[r, c] += sum_i a[r, i] * b[c, i], computed on the accumulator type.
func dot4Step[TOp int8 | uint8, TAcc int32 | uint32](acc []TAcc, a, b []TOp, mr, nr int) {
	_ = a[mr*4-1] // BCE.
	_ = b[nr*4-1]
	for r := range mr {
		a0, a1, a2, a3 := TAcc(a[4*r]), TAcc(a[4*r+1]), TAcc(a[4*r+2]), TAcc(a[4*r+3])
		accRow := acc[r*nr : (r+1)*nr]
		for c := range accRow {
			bc := b[4*c : 4*c+4]
			accRow[c] += a0*TAcc(bc[0]) + a1*TAcc(bc[1]) + a2*TAcc(bc[2]) + a3*TAcc(bc[3])
		}
	}
}

// dot4Kernel is the structure shared by the 8-bit kernels: k is the packed depth, W = k/4 blocks are consumed
// two per main loop iteration, and an odd W ends with one detached block.
func dot4Kernel[TOp int8 | uint8, TAcc int32 | uint32](aPanel, bPanel []TOp, cPanel []TAcc, aBlocks, bBlocks, k, mr, nr int, acc []TAcc) {
	const kr = 4
	w := k / kr
	oddW := w%2 == 1
	aStep, bStep := mr*kr, nr*kr
	tileSize := mr * nr
	cIdx := 0
	for ab := range aBlocks {
		aBlock := aPanel[ab*mr*k : (ab+1)*mr*k]
		for bb := range bBlocks {
			bBlock := bPanel[bb*nr*k : (bb+1)*nr*k]
			clear(acc)
			aIdx, bIdx := 0, 0
			for range w / 2 {
				dot4Step(acc, aBlock[aIdx:aIdx+aStep], bBlock[bIdx:bIdx+bStep], mr, nr)
				dot4Step(acc, aBlock[aIdx+aStep:aIdx+2*aStep], bBlock[bIdx+bStep:bIdx+2*bStep], mr, nr)
				aIdx += 2 * aStep
				bIdx += 2 * bStep
			}
			if oddW {
				dot4Step(acc, aBlock[aIdx:aIdx+aStep], bBlock[bIdx:bIdx+bStep], mr, nr)
			}
			copy(cPanel[cIdx:cIdx+tileSize], acc)
			cIdx += tileSize
		}
	}
}

// GEMMS8x12x8 is the int8 kernel with 12x8 tiles of int32 accumulators. k must be a multiple of 4.
func GEMMS8x12x8(aPanel, bPanel []int8, cPanel []int32, aBlocks, bBlocks, k int) {
	var acc [12 * 8]int32
	dot4Kernel(aPanel, bPanel, cPanel, aBlocks, bBlocks, k, 12, 8, acc[:])
}

// GEMMU8x8x12 is the uint8 kernel with 8x12 tiles of uint32 accumulators. k must be a multiple of 4.
func GEMMU8x8x12(aPanel, bPanel []uint8, cPanel []uint32, aBlocks, bBlocks, k int) {
	var acc [8 * 12]uint32
	dot4Kernel(aPanel, bPanel, cPanel, aBlocks, bBlocks, k, 8, 12, acc[:])
}
