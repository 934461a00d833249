// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package highway registers a float32 interleaved kernel written with go-highway vectors.
// This package requires Go 1.26+ due to its dependency on go-highway.
//
// To enable it, import this package for its side effects:
//
//	import _ "github.com/gomlx/microgemm/pkg/gemm/highway"
//
// The kernel is only available when go-highway dispatches to a SIMD level, so HWY_NO_SIMD=1 disables it.
package highway

import (
	"fmt"

	"github.com/ajroetker/go-highway/hwy"
	"github.com/gomlx/microgemm/internal/cpuinfo"
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
)

// Params of the kernel: 4 rows by one vector of float32 columns, one K element per step.
var Params = kernels.CacheParams{MR: 4, NR: hwy.MaxLanes[float32](), KR: 1, PrefetchDistance: 16, KUnroll: 1}

// KernelName is the name the kernel registers with, e.g. "hwy-sgemm-4x8" for 8 float32 lanes.
var KernelName = fmt.Sprintf("hwy-sgemm-4x%d", Params.NR)

// ISA returns the cpuinfo.ISA matching go-highway's current dispatch target, and Generic for the
// targets cpuinfo doesn't name (scalar, sse2).
func ISA() cpuinfo.ISA {
	isa, _ := cpuinfo.ParseISA(hwy.CurrentName())
	return isa
}

// Available reports whether go-highway dispatches to a SIMD level.
func Available() bool {
	return hwy.CurrentLevel() != hwy.DispatchScalar && Params.NR > 0
}

func init() {
	kernels.Register(&kernels.Registration{
		Name: KernelName, Pair: dtypes.PairOf[float32, float32](), Kind: kernels.KindInterleaved,
		ISA: ISA(), Params: &Params, Priority: kernels.PriorityISA,
		Available: Available,
		Fn:        kernels.Interleaved[float32, float32](SGEMM),
	})
}

// SGEMM is the float32 interleaved kernel with tiles of Params.MR x Params.NR: each row of the tile is
// one vector accumulator, updated with a multiply-add of the broadcast A value and the B vector.
func SGEMM(aPanel, bPanel, cPanel []float32, aBlocks, bBlocks, k int) {
	mr, nr := Params.MR, Params.NR
	acc := make([]hwy.Vec[float32], mr)
	cIdx := 0
	for ab := range aBlocks {
		aBlock := aPanel[ab*mr*k : (ab+1)*mr*k]
		for bb := range bBlocks {
			bBlock := bPanel[bb*nr*k : (bb+1)*nr*k]
			for r := range acc {
				acc[r] = hwy.Zero[float32]()
			}
			for kk := range k {
				bV := hwy.Load(bBlock[kk*nr : (kk+1)*nr])
				for r, aV := range aBlock[kk*mr : (kk+1)*mr] {
					acc[r] = hwy.MulAdd(hwy.Set(aV), bV, acc[r])
				}
			}
			for r := range acc {
				hwy.Store(acc[r], cPanel[cIdx+r*nr:cIdx+(r+1)*nr])
			}
			cIdx += mr * nr
		}
	}
}
