// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interleaved

import (
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/config"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/merge"
	"github.com/gomlx/microgemm/pkg/gemm/pack"
	"github.com/gomlx/microgemm/pkg/gemm/quantize"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// PackedRHS is a B operand shaped [K, N], packed once for one kernel and reused by any number of GEMMs,
// with any number of LHS rows. The kernel and the block sizes are fixed when packing.
//
// It is created by PackRHS, PackQuantizedRHS or PackNativeRHS, and is read-only afterwards, so it can
// be shared by concurrent GEMMs.
type PackedRHS[TOp any] struct {
	reg            *kernels.Registration
	k, n           int
	kBlock, xBlock int
	numXBlocks     int

	// panels indexed by kBlock.index*numXBlocks + xBlock.index.
	panels [][]TOp

	// colSums are the raw column sums of B, for the quantized kernels.
	colSums []int32
}

// Rows returns K, the contracting dimension of the packed operand.
func (p *PackedRHS[TOp]) Rows() int { return p.k }

// Cols returns N, the number of output columns.
func (p *PackedRHS[TOp]) Cols() int { return p.n }

// Kernel returns the name of the kernel the operand was packed for.
func (p *PackedRHS[TOp]) Kernel() string { return p.reg.Name }

func (p *PackedRHS[TOp]) panel(xb xBlock, kb kBlock) []TOp {
	return p.panels[kb.index*p.numXBlocks+xb.index]
}

// packRHSPanels packs all the blocks of b with the RHS layout of the kernel.
func packRHSPanels[TOp any](reg *kernels.Registration, b matrix.View[TOp], kBlockSize, xBlockSize int) *PackedRHS[TOp] {
	k, n := b.Rows, b.Cols
	p := &PackedRHS[TOp]{
		reg:        reg,
		k:          k,
		n:          n,
		kBlock:     kBlockSize,
		xBlock:     xBlockSize,
		numXBlocks: (n + xBlockSize - 1) / xBlockSize,
	}
	layout := reg.Params.RHSLayout()
	for kb := range kBlocks(k, kBlockSize) {
		for xb := range xBlocks(n, xBlockSize) {
			panel := make([]TOp, pack.PackedSize(xb.xmax-xb.x0, kb.kmax-kb.k0, layout))
			pack.TransposeInterleave(panel, b, xb.x0, xb.xmax, kb.k0, kb.kmax, layout, pack.Identity[TOp])
			p.panels = append(p.panels, panel)
		}
	}
	klog.V(1).Infof("interleaved.PackRHS [%d, %d]: kernel %q, kblock=%d, xblock=%d, %d panels",
		k, n, reg.Name, kBlockSize, xBlockSize, len(p.panels))
	return p
}

// plan returns the buffers of a GEMM of m LHS rows over the packed operand.
func (p *PackedRHS[TOp]) plan(m int) *blockPlan[TOp, float32] {
	return newBlockPlan[TOp, float32](p.reg.Params, p.kBlock, p.xBlock, m, p.n, p.k, false)
}

// checkPacked validates c = a x b shapes for a packed b.
func checkPacked[TOp, TOut any](a matrix.View[TOp], b *PackedRHS[TOp], c matrix.View[TOut]) error {
	if b == nil {
		return errors.New("missing packed rhs operand")
	}
	if err := a.Check(); err != nil {
		return errors.WithMessage(err, "lhs operand")
	}
	if err := c.Check(); err != nil {
		return errors.WithMessage(err, "output")
	}
	if a.Cols != b.k {
		return errors.Errorf("contracting dimensions don't match: lhs is [%d, %d] and the packed rhs is [%d, %d]",
			a.Rows, a.Cols, b.k, b.n)
	}
	if c.Rows != a.Rows || c.Cols != b.n {
		return errors.Errorf("output shaped [%d, %d], but lhs [%d, %d] x packed rhs [%d, %d] is [%d, %d]",
			c.Rows, c.Cols, a.Rows, a.Cols, b.k, b.n, a.Rows, b.n)
	}
	return nil
}

// PackRHS packs b for GemmPacked and GemmToHalfPacked, with the kernel and block sizes Gemm would select
// for cfg. cfg.FastMath doesn't apply.
func PackRHS[TOp dtypes.Supported](cfg config.Config, b matrix.View[TOp]) (*PackedRHS[TOp], error) {
	if err := b.Check(); err != nil {
		return nil, errors.WithMessage(err, "rhs operand")
	}
	reg, err := SelectKernel(cfg, dtypes.PairOf[TOp, float32](), kernels.KindInterleaved)
	if err != nil {
		return nil, err
	}
	if _, err := kernels.InterleavedFn[TOp, float32](reg); err != nil {
		return nil, err
	}
	kBlockSize, xBlockSize := blockSizes(cfg, reg.Params, sizeOf[TOp](), b.Cols, b.Rows)
	return packRHSPanels(reg, b, kBlockSize, xBlockSize), nil
}

// GemmPacked is Gemm with b packed by PackRHS.
func GemmPacked[TOp dtypes.Supported](a matrix.View[TOp], b *PackedRHS[TOp], c matrix.View[float32], p merge.FloatParams[float32]) error {
	if err := checkPacked(a, b, c); err != nil {
		return err
	}
	if err := checkPerColumn("bias", p.Bias, c.Cols); err != nil {
		return err
	}
	return gemmPacked(a, b, floatMerger(c, p))
}

// GemmToHalfPacked is GemmToHalf with b packed by PackRHS.
func GemmToHalfPacked[TOp dtypes.Supported](a matrix.View[TOp], b *PackedRHS[TOp], c matrix.View[float16.Float16], p merge.FloatParams[float32]) error {
	if err := checkPacked(a, b, c); err != nil {
		return err
	}
	if err := checkPerColumn("bias", p.Bias, c.Cols); err != nil {
		return err
	}
	h := &halfMerger{c: c, p: p}
	return gemmPacked(a, b, h.merge)
}

func gemmPacked[TOp dtypes.Supported](a matrix.View[TOp], b *PackedRHS[TOp], mergeFn blockMerger) error {
	fn, err := kernels.InterleavedFn[TOp, float32](b.reg)
	if err != nil {
		return err
	}
	if a.Rows == 0 || b.n == 0 {
		return nil
	}
	plan := b.plan(a.Rows)
	klog.V(1).Infof("interleaved.GemmPacked(%s) %dx%dx%d: kernel %q, %s", b.reg.Pair, a.Rows, b.n, b.k, b.reg.Name, plan)
	runFloat(plan, fn, a, pack.Identity[TOp], b.panel, mergeFn)
	return nil
}

// PackQuantizedRHS packs the 8-bit b for QuantizedGemmPacked, with its column sums, using the kernel and
// block sizes QuantizedGemm would select for cfg. Sign flipping to an uint8 kernel is not supported here.
func PackQuantizedRHS[T int8 | uint8](cfg config.Config, b matrix.View[T]) (*PackedRHS[T], error) {
	if err := b.Check(); err != nil {
		return nil, errors.WithMessage(err, "rhs operand")
	}
	pair := dtypes.PairOf[uint8, uint32]()
	if _, signed := any(b).(matrix.View[int8]); signed {
		pair = dtypes.PairOf[int8, int32]()
	}
	reg, err := SelectKernel(cfg, pair, kernels.KindInterleaved)
	if err != nil {
		return nil, err
	}
	kBlockSize, xBlockSize := blockSizes(cfg, reg.Params, 1, b.Cols, b.Rows)
	p := packRHSPanels(reg, b, kBlockSize, xBlockSize)
	p.colSums = make([]int32, b.Cols)
	quantize.ColSums(b.Cols, b.Rows, b.Data, b.Stride, p.colSums)
	return p, nil
}

// QuantizedGemmPacked is QuantizedGemm with b packed by PackQuantizedRHS. The rounding is qp.Rounding.
func QuantizedGemmPacked[T int8 | uint8](a matrix.View[T], b *PackedRHS[T], c matrix.View[T], qp *quantize.Requantize32) error {
	if err := checkPacked(a, b, c); err != nil {
		return err
	}
	if err := checkRequantize[T](qp, c.Cols); err != nil {
		return err
	}
	if b.colSums == nil {
		return errors.Errorf("rhs operand packed for kernel %q was not packed with PackQuantizedRHS", b.reg.Name)
	}
	switch a := any(a).(type) {
	case matrix.View[int8]:
		return quantizedGemmPacked[int8, int32](a, any(b).(*PackedRHS[int8]), any(c).(matrix.View[int8]), qp)
	case matrix.View[uint8]:
		return quantizedGemmPacked[uint8, uint32](a, any(b).(*PackedRHS[uint8]), any(c).(matrix.View[uint8]), qp)
	}
	return errors.Errorf("QuantizedGemmPacked: unsupported operand type %T", a)
}

func quantizedGemmPacked[T int8 | uint8, TAcc int32 | uint32](a matrix.View[T], b *PackedRHS[T], c matrix.View[T], qp *quantize.Requantize32) error {
	fn, err := kernels.InterleavedFn[T, TAcc](b.reg)
	if err != nil {
		return err
	}
	m, k, n := a.Rows, b.k, b.n
	if m == 0 || n == 0 {
		return nil
	}
	plan := newBlockPlan[T, TAcc](b.reg.Params, b.kBlock, b.xBlock, m, n, k, false)
	klog.V(1).Infof("interleaved.QuantizedGemmPacked(%s) %dx%dx%d: kernel %q, %s, rounding %s",
		b.reg.Pair, m, n, k, b.reg.Name, plan, qp.Rounding)
	colBias := make([]int32, n)
	quantize.ColBias(qp, b.colSums, k, 0, colBias)
	runQuantized(plan, fn, a, pack.Identity[T], b.panel, c, qp, colBias, 0)
	return nil
}

// PackNativeRHS packs the whole b for NativePacked, with the layout of the pretransposed-B native kernel
// named by cfg.Kernel or the best one available.
func PackNativeRHS(cfg config.Config, b matrix.View[float32]) (*PackedRHS[float32], error) {
	if err := b.Check(); err != nil {
		return nil, errors.WithMessage(err, "rhs operand")
	}
	reg, err := SelectKernel(cfg, float32Pair, kernels.KindNativePretransposedB)
	if err != nil {
		return nil, err
	}
	if _, ok := reg.Fn.(kernels.NativePretransposed); !ok {
		return nil, errors.Errorf("kernel %q has function type %T, not kernels.NativePretransposed", reg.Name, reg.Fn)
	}
	return packRHSPanels(reg, b, max(b.Rows, 1), max(b.Cols, 1)), nil
}

// NativePacked computes c = alpha * a x b + beta * c like Native, reading the rows of a directly and b
// packed by PackNativeRHS.
func NativePacked(a matrix.View[float32], b *PackedRHS[float32], c matrix.View[float32], alpha, beta float32) error {
	if err := checkPacked(a, b, c); err != nil {
		return err
	}
	fn, ok := b.reg.Fn.(kernels.NativePretransposed)
	if !ok {
		return errors.Errorf("rhs operand packed for kernel %q was not packed with PackNativeRHS", b.reg.Name)
	}
	var bPanel []float32
	if len(b.panels) > 0 {
		bPanel = b.panels[0]
	}
	fn(a, bPanel, c, alpha, beta)
	return nil
}
