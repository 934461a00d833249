// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interleaved

import (
	"fmt"
	"unsafe"

	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/config"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/merge"
	"github.com/gomlx/microgemm/pkg/gemm/pack"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// blockMerger folds the raw tiles of the columns xb (all rows), computed over the contracting block kb,
// into the output.
type blockMerger func(tiles []float32, mr, nr int, xb xBlock, kb kBlock)

// rhsPanels returns the packed B panel of the columns xb for the contracting block kb.
type rhsPanels[TOp any] func(xb xBlock, kb kBlock) []TOp

// Gemm computes c = act(alpha * a x b + beta * c + bias) with the interleaved kernel for TOp operands
// and float32 accumulators: TOp is float32, float16.Float16 or bfloat16.BFloat16.
//
// p.Alpha is taken as is, so the zero value zeroes the product. beta == 0 doesn't read c.
//
// With cfg.FastMath float32 and float16 operands are narrowed to bfloat16 while packing and run on the
// bfloat16 kernel (cfg.Kernel, if set, must name one).
func Gemm[TOp dtypes.Supported](cfg config.Config, a, b matrix.View[TOp], c matrix.View[float32], p merge.FloatParams[float32]) error {
	if err := checkFloat(a, b, c, p); err != nil {
		return err
	}
	return dispatchFloat(cfg, a, b, floatMerger(c, p))
}

// GemmToHalf is like Gemm, but the output is stored in half precision, merging in float32 and rounding once.
func GemmToHalf[TOp dtypes.Supported](cfg config.Config, a, b matrix.View[TOp], c matrix.View[float16.Float16], p merge.FloatParams[float32]) error {
	if err := checkFloat(a, b, c, p); err != nil {
		return err
	}
	h := &halfMerger{c: c, p: p}
	return dispatchFloat(cfg, a, b, h.merge)
}

func checkFloat[TOp, TOut any](a, b matrix.View[TOp], c matrix.View[TOut], p merge.FloatParams[float32]) error {
	if err := checkOperands(a, b, c); err != nil {
		return err
	}
	return checkPerColumn("bias", p.Bias, c.Cols)
}

// dispatchFloat picks the operand type of the kernel: TOp itself, or bfloat16 with cfg.FastMath.
func dispatchFloat[TOp dtypes.Supported](cfg config.Config, a, b matrix.View[TOp], mergeFn blockMerger) error {
	if cfg.FastMath {
		switch a := any(a).(type) {
		case matrix.View[float32]:
			return floatGemm(cfg, a, any(b).(matrix.View[float32]), pack.FP32ToBF16, mergeFn)
		case matrix.View[float16.Float16]:
			return floatGemm(cfg, a, any(b).(matrix.View[float16.Float16]), pack.FP16ToBF16, mergeFn)
		}
	}
	return floatGemm(cfg, a, b, pack.Identity[TOp], mergeFn)
}

func floatGemm[TIn, TOp dtypes.Supported](cfg config.Config, a, b matrix.View[TIn], convert func(TIn) TOp, mergeFn blockMerger) error {
	reg, err := SelectKernel(cfg, dtypes.PairOf[TOp, float32](), kernels.KindInterleaved)
	if err != nil {
		return err
	}
	fn, err := kernels.InterleavedFn[TOp, float32](reg)
	if err != nil {
		return err
	}
	m, k, n := a.Rows, a.Cols, b.Cols
	if m == 0 || n == 0 {
		return nil
	}
	kBlockSize, xBlockSize := blockSizes(cfg, reg.Params, sizeOf[TOp](), n, k)
	plan := newBlockPlan[TOp, float32](reg.Params, kBlockSize, xBlockSize, m, n, k, true)
	klog.V(1).Infof("interleaved.Gemm(%s) %dx%dx%d: kernel %q, %s", dtypes.PairOf[TIn, float32](), m, n, k, reg.Name, plan)
	runFloat(plan, fn, a, convert, repackRHS(plan, b, convert), mergeFn)
	return nil
}

// runFloat runs the blocked loop: it packs A with convert for every K block, takes the B panels from
// rhs and merges the raw tiles.
func runFloat[TIn, TOp any](plan *blockPlan[TOp, float32], fn kernels.Interleaved[TOp, float32], a matrix.View[TIn],
	convert func(TIn) TOp, rhs rhsPanels[TOp], mergeFn blockMerger) {
	for kb := range plan.kBlocks() {
		pack.Interleave(plan.aPanel, a, 0, plan.m, kb.k0, kb.kmax, plan.aLayout, convert)
		for xb := range plan.xBlocks() {
			tiles := plan.runKernel(fn, rhs(xb, kb), xb, kb)
			mergeFn(tiles, plan.params.MR, plan.params.NR, xb, kb)
		}
	}
}

// floatParams returns the merge parameters of the K block: beta and the bias apply once, on the first
// K block, the activation on the last one.
func (kb kBlock) floatParams(p merge.FloatParams[float32]) merge.FloatParams[float32] {
	blockParams := merge.FloatParams[float32]{Alpha: p.Alpha, Beta: 1}
	if kb.first {
		blockParams.Beta, blockParams.Bias = p.Beta, p.Bias
	}
	if kb.last {
		blockParams.Act = p.Act
	}
	return blockParams
}

func floatMerger(c matrix.View[float32], p merge.FloatParams[float32]) blockMerger {
	return func(tiles []float32, mr, nr int, xb xBlock, kb kBlock) {
		merge.Float(c, tiles, mr, nr, 0, c.Rows, xb.x0, xb.xmax, kb.floatParams(p))
	}
}

// halfMerger merges into a half precision output. With more than one K block the partial sums are kept
// in a float32 scratch, and rounded to half precision on the last K block only.
type halfMerger struct {
	c   matrix.View[float16.Float16]
	p   merge.FloatParams[float32]
	acc matrix.View[float32]
}

func (h *halfMerger) merge(tiles []float32, mr, nr int, xb xBlock, kb kBlock) {
	p := kb.floatParams(h.p)
	m := h.c.Rows
	if kb.first && kb.last {
		merge.FloatToHalf(h.c, tiles, mr, nr, 0, m, xb.x0, xb.xmax, p)
		return
	}
	if h.acc.Data == nil {
		h.acc = matrix.Make[float32](m, h.c.Cols)
	}
	if kb.first && p.Beta != 0 {
		for row := range m {
			dst := h.acc.Row(row)[xb.x0:xb.xmax]
			for ii, v := range h.c.Row(row)[xb.x0:xb.xmax] {
				dst[ii] = pack.FP16ToFP32(v)
			}
		}
	}
	merge.Float(h.acc, tiles, mr, nr, 0, m, xb.x0, xb.xmax, p)
	if !kb.last {
		return
	}
	for row := range m {
		dst := h.c.Row(row)[xb.x0:xb.xmax]
		for ii, v := range h.acc.Row(row)[xb.x0:xb.xmax] {
			dst[ii] = pack.FP32ToFP16(v)
		}
	}
}

// kBlock is one block [k0, kmax) of the contracting dimension, the index-th one.
type kBlock struct {
	index       int
	k0, kmax    int
	first, last bool
}

// xBlock is one block [x0, xmax) of output columns, the index-th one.
type xBlock struct {
	index    int
	x0, xmax int
}

// kBlocks yields the blocks of size kBlockSize of a contracting dimension k. k == 0 yields one empty block,
// so the output stage still runs.
func kBlocks(k, kBlockSize int) func(yield func(kBlock) bool) {
	return func(yield func(kBlock) bool) {
		if k == 0 {
			yield(kBlock{first: true, last: true})
			return
		}
		index := 0
		for k0 := 0; k0 < k; k0 += kBlockSize {
			kmax := min(k0+kBlockSize, k)
			if !yield(kBlock{index: index, k0: k0, kmax: kmax, first: k0 == 0, last: kmax == k}) {
				return
			}
			index++
		}
	}
}

// xBlocks yields the blocks of size xBlockSize of n output columns.
func xBlocks(n, xBlockSize int) func(yield func(xBlock) bool) {
	return func(yield func(xBlock) bool) {
		index := 0
		for x0 := 0; x0 < n; x0 += xBlockSize {
			if !yield(xBlock{index: index, x0: x0, xmax: min(x0+xBlockSize, n)}) {
				return
			}
			index++
		}
	}
}

func sizeOf[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// blockSizes returns the K and N block sizes configured or sized for the caches.
func blockSizes(cfg config.Config, params *kernels.CacheParams, elemSize, n, k int) (kBlockSize, xBlockSize int) {
	kBlockSize = cfg.KBlockFor(params, elemSize, k)
	xBlockSize = cfg.XBlockFor(params, elemSize, min(kBlockSize, k), n)
	return
}

// blockPlan holds the block sizes and the buffers of one GEMM call with an interleaved kernel.
type blockPlan[TOp, TAcc any] struct {
	params           *kernels.CacheParams
	m, n, k          int
	kBlock, xBlock   int
	aLayout, bLayout pack.Layout
	aBlocks          int

	aPanel, bPanel []TOp
	tiles          []TAcc
}

// newBlockPlan allocates the buffers of the call. The B panel is only needed if B is packed during the call.
func newBlockPlan[TOp, TAcc any](params *kernels.CacheParams, kBlockSize, xBlockSize, m, n, k int, withRHSPanel bool) *blockPlan[TOp, TAcc] {
	p := &blockPlan[TOp, TAcc]{
		params:  params,
		m:       m,
		n:       n,
		k:       k,
		kBlock:  kBlockSize,
		xBlock:  xBlockSize,
		aLayout: params.LHSLayout(),
		bLayout: params.RHSLayout(),
	}
	maxK := min(p.kBlock, k)
	maxX := min(p.xBlock, n)
	p.aBlocks = pack.RoundUp(m, params.MR) / params.MR
	maxBBlocks := pack.RoundUp(maxX, params.NR) / params.NR
	p.aPanel = make([]TOp, pack.PackedSize(m, maxK, p.aLayout))
	if withRHSPanel {
		p.bPanel = make([]TOp, pack.PackedSize(maxX, maxK, p.bLayout))
	}
	p.tiles = make([]TAcc, p.aBlocks*maxBBlocks*params.MR*params.NR)
	return p
}

// String implements fmt.Stringer.
func (p *blockPlan[TOp, TAcc]) String() string {
	return fmt.Sprintf("kblock=%d, xblock=%d", p.kBlock, p.xBlock)
}

func (p *blockPlan[TOp, TAcc]) kBlocks() func(yield func(kBlock) bool) {
	return kBlocks(p.k, p.kBlock)
}

func (p *blockPlan[TOp, TAcc]) xBlocks() func(yield func(xBlock) bool) {
	return xBlocks(p.n, p.xBlock)
}

// kPadding returns the number of contracting elements added by the packers to round every K block
// up to KR.
func (p *blockPlan[TOp, TAcc]) kPadding() int {
	var padding int
	for kb := range p.kBlocks() {
		depth := kb.kmax - kb.k0
		padding += p.aLayout.PackedDepth(depth) - depth
	}
	return padding
}

// repackRHS packs the B panel of each block into the plan's buffer when it is requested.
func repackRHS[TIn, TOp, TAcc any](p *blockPlan[TOp, TAcc], b matrix.View[TIn], convert func(TIn) TOp) rhsPanels[TOp] {
	return func(xb xBlock, kb kBlock) []TOp {
		pack.TransposeInterleave(p.bPanel, b, xb.x0, xb.xmax, kb.k0, kb.kmax, p.bLayout, convert)
		return p.bPanel
	}
}

// runKernel runs the interleaved kernel over the packed A panel and bPanel and returns the raw tiles,
// for all the rows and the columns of xb.
func (p *blockPlan[TOp, TAcc]) runKernel(fn kernels.Interleaved[TOp, TAcc], bPanel []TOp, xb xBlock, kb kBlock) []TAcc {
	bBlocks := pack.RoundUp(xb.xmax-xb.x0, p.params.NR) / p.params.NR
	tiles := p.tiles[:p.aBlocks*bBlocks*p.params.MR*p.params.NR]
	if kb.kmax == kb.k0 {
		clear(tiles)
		return tiles
	}
	fn(p.aPanel, bPanel, tiles, p.aBlocks, bBlocks, p.aLayout.PackedDepth(kb.kmax-kb.k0))
	return tiles
}
