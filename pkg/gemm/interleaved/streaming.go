// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interleaved

import (
	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/config"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/pack"
	"github.com/gomlx/microgemm/pkg/gemm/quantize"
	"github.com/gomlx/microgemm/pkg/gemm/za"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NoMergeKernel returns the nomerge kernel named by cfg.Kernel, or the best one registered for the types.
func NoMergeKernel[TOp dtypes.Supported, TAcc za.Word, TOut dtypes.Supported](cfg config.Config) (*za.Kernel[TOp, TAcc, TOut], error) {
	reg, err := SelectKernel(cfg, dtypes.PairOf[TOp, TOut](), kernels.KindNoMerge)
	if err != nil {
		return nil, err
	}
	return za.KernelOf[TOp, TAcc, TOut](reg)
}

// StreamingGemm computes c = output(a x b + bias) with a nomerge kernel on the za.Default accumulator array.
//
// The output is processed in blocks of columns and, for each one, the contracting dimension is split in
// K blocks, both sized by cfg (see config.Config.KBlockFor and XBlockFor): the accumulator array is entered and released around every kernel call, and the
// partial accumulators are spilled to a za.Buffer and filled back by the next call. Only the last call
// runs the output stage.
//
// bias, if not nil, is indexed by output column. cfg.VectorLength > 0 changes the vector length of
// za.Default first, which fails if the array is in use.
func StreamingGemm[TOp dtypes.Supported, TAcc za.Word, TOut dtypes.Supported](cfg config.Config, kernel *za.Kernel[TOp, TAcc, TOut],
	a, b matrix.View[TOp], c matrix.View[TOut], bias []TAcc, output za.OutputStage[TAcc, TOut]) error {
	if kernel == nil || output == nil {
		return errors.New("StreamingGemm requires a kernel and an output stage")
	}
	if err := checkOperands(a, b, c); err != nil {
		return err
	}
	if err := checkPerColumn("bias", bias, c.Cols); err != nil {
		return err
	}
	arr := za.Default
	if cfg.VectorLength > 0 && cfg.VectorLength != arr.VL() {
		if arr.Active() {
			return errors.Errorf("cannot set the vector length to %d, the accumulator array is in use", cfg.VectorLength)
		}
		arr.SetVL(cfg.VectorLength)
	}
	m, k, n := a.Rows, a.Cols, b.Cols
	if m == 0 || n == 0 {
		return nil
	}

	vl := arr.VL()
	rows, cols := kernel.TileShape(vl)
	params := &kernels.CacheParams{MR: rows, NR: cols, KR: kernel.KR}
	kBlock, xBlock := blockSizes(cfg, params, sizeOf[TOp](), n, k)
	klog.V(1).Infof("interleaved.StreamingGemm %dx%dx%d: kernel %q, VL=%d, kblock=%d, xblock=%d",
		m, n, k, kernel.Name, vl, kBlock, xBlock)

	aLayout, bLayout := kernel.LHSLayout(vl), kernel.RHSLayout(vl)
	aPanel := make([]TOp, pack.PackedSize(m, min(kBlock, k), aLayout))
	bPanel := make([]TOp, pack.PackedSize(min(xBlock, n), min(kBlock, k), bLayout))
	buf := kernel.NewBuffer(arr, m, min(xBlock, n))
	for x0 := 0; x0 < n; x0 += xBlock {
		xmax := min(x0+xBlock, n)
		out := c.Sub(0, x0, m, xmax-x0)
		buf.Reset()
		for k0 := 0; k0 == 0 || k0 < k; k0 += kBlock {
			kmax := min(k0+kBlock, k)
			pack.Interleave(aPanel, a, 0, m, k0, kmax, aLayout, pack.Identity[TOp])
			pack.TransposeInterleave(bPanel, b, x0, xmax, k0, kmax, bLayout, pack.Identity[TOp])
			call := &za.Call[TOp, TAcc, TOut]{
				A: aPanel, B: bPanel,
				M: m, N: xmax - x0, K: kmax - k0,
				Bias: bias, Output: output, N0: x0,
				Accumulate: k0 > 0,
				Buffer:     buf,
			}
			if kmax == k {
				call.C = &out
			}
			runScoped(arr, kernel, call)
		}
	}
	return nil
}

// runScoped runs one kernel call inside its own accumulator array scope.
func runScoped[TOp any, TAcc za.Word, TOut any](arr *za.Array, kernel *za.Kernel[TOp, TAcc, TOut], call *za.Call[TOp, TAcc, TOut]) {
	release := arr.Enter()
	defer release()
	kernel.Run(arr, call)
}

// StreamingQuantizedGemm is the requantizing version of StreamingGemm, for the 8-bit nomerge kernels:
// the column corrections (including qp.Bias) go into the kernel's bias and the row corrections into the
// za.Requantize output stage.
func StreamingQuantizedGemm[T int8 | uint8](cfg config.Config, kernel *za.Kernel[T, int32, T], a, b, c matrix.View[T], qp *quantize.Requantize32) error {
	if err := checkOperands(a, b, c); err != nil {
		return err
	}
	if err := checkRequantize[T](qp, c.Cols); err != nil {
		return err
	}
	qp = withRounding(cfg, qp)
	m, k, n := a.Rows, a.Cols, b.Cols
	rowBias := make([]int32, m)
	quantize.ComputeRowSums(qp, k, m, a.Data, a.Stride, rowBias)
	colBias := make([]int32, n)
	quantize.ComputeColSums(qp, n, k, b.Data, b.Stride, colBias, k, 0)
	return StreamingGemm(cfg, kernel, a, b, c, colBias, za.Requantize[T]{QP: qp, RowBias: rowBias})
}
