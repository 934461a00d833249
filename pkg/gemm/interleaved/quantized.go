// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interleaved

import (
	"unsafe"

	"github.com/gomlx/microgemm/pkg/core/dtypes"
	"github.com/gomlx/microgemm/pkg/gemm/config"
	"github.com/gomlx/microgemm/pkg/gemm/kernels"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/merge"
	"github.com/gomlx/microgemm/pkg/gemm/pack"
	"github.com/gomlx/microgemm/pkg/gemm/quantize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// QuantizedGemm computes the requantized c = a x b of 8-bit affinely quantized operands, with the
// offsets, bias, multipliers and output range given by qp.
//
// The int8 kernels accumulate in int32 and the uint8 ones in uint32. The raw products are accumulated
// over all K blocks in an int32 matrix and requantized once, adding the zero-point corrections: the
// row sums are built while packing the LHS and the column sums (with qp.Bias) are computed upfront.
//
// If cfg.Kernel names an uint8 kernel, int8 operands are sign flipped (see pack.FlipSign) while packing
// and run on it, with the offsets moved by 128.
//
// A cfg.Rounding other than the default overrides qp.Rounding.
func QuantizedGemm[T int8 | uint8](cfg config.Config, a, b, c matrix.View[T], qp *quantize.Requantize32) error {
	if err := checkOperands(a, b, c); err != nil {
		return err
	}
	if err := checkRequantize[T](qp, c.Cols); err != nil {
		return err
	}
	qp = withRounding(cfg, qp)
	switch a := any(a).(type) {
	case matrix.View[int8]:
		b, c := any(b).(matrix.View[int8]), any(c).(matrix.View[int8])
		if flipsSign(cfg) {
			return flippedGemm(cfg, a, b, c, qp)
		}
		return quantizedGemm[int8, int32](cfg, a, b, c, qp)
	case matrix.View[uint8]:
		return quantizedGemm[uint8, uint32](cfg, a, any(b).(matrix.View[uint8]), any(c).(matrix.View[uint8]), qp)
	}
	return errors.Errorf("QuantizedGemm: unsupported operand type %T", a)
}

// checkRequantize validates the quantization parameters for an output of type TOut with n columns.
func checkRequantize[TOut int8 | uint8](qp *quantize.Requantize32, n int) error {
	if qp == nil {
		return errors.New("missing requantization parameters")
	}
	if qp.MinVal > qp.MaxVal {
		return errors.Errorf("requantization range [%d, %d] is empty", qp.MinVal, qp.MaxVal)
	}
	if lo, hi := quantize.Limits[TOut](); qp.MinVal < lo || qp.MaxVal > hi {
		return errors.Errorf("requantization range [%d, %d] exceeds the output range [%d, %d] of %T",
			qp.MinVal, qp.MaxVal, lo, hi, TOut(0))
	}
	if err := checkPerColumn("requantization bias", qp.Bias, n); err != nil {
		return err
	}
	if !qp.PerChannel {
		return nil
	}
	if qp.PerChannelMuls == nil || qp.PerChannelRightShifts == nil {
		return errors.New("per-channel requantization without the per-channel multipliers and right shifts")
	}
	for name, values := range map[string][]int32{
		"per-channel multipliers":  qp.PerChannelMuls,
		"per-channel right shifts": qp.PerChannelRightShifts,
		"per-channel left shifts":  qp.PerChannelLeftShifts,
	} {
		if err := checkPerColumn(name, values, n); err != nil {
			return err
		}
	}
	return nil
}

// withRounding returns qp, or a copy of it with the configured rounding.
func withRounding(cfg config.Config, qp *quantize.Requantize32) *quantize.Requantize32 {
	if cfg.Rounding == quantize.RoundHalfToEven || cfg.Rounding == qp.Rounding {
		return qp
	}
	qpCopy := *qp
	qpCopy.Rounding = cfg.Rounding
	return &qpCopy
}

func quantizedGemm[T int8 | uint8, TAcc int32 | uint32](cfg config.Config, a, b, c matrix.View[T], qp *quantize.Requantize32) error {
	reg, err := SelectKernel(cfg, dtypes.PairOf[T, TAcc](), kernels.KindInterleaved)
	if err != nil {
		return err
	}
	fn, err := kernels.InterleavedFn[T, TAcc](reg)
	if err != nil {
		return err
	}
	m, k, n := a.Rows, a.Cols, b.Cols
	if m == 0 || n == 0 {
		return nil
	}
	kBlockSize, xBlockSize := blockSizes(cfg, reg.Params, 1, n, k)
	plan := newBlockPlan[T, TAcc](reg.Params, kBlockSize, xBlockSize, m, n, k, true)
	klog.V(1).Infof("interleaved.QuantizedGemm(%s) %dx%dx%d: kernel %q, %s, rounding %s",
		reg.Pair, m, n, k, reg.Name, plan, qp.Rounding)

	colBias := make([]int32, n)
	quantize.ComputeColSums(qp, n, k, b.Data, b.Stride, colBias, k, 0)
	runQuantized(plan, fn, a, pack.Identity[T], repackRHS(plan, b, pack.Identity[T]), c, qp, colBias, 0)
	return nil
}

// flipOffset is the offset between an int8 value and its sign flipped uint8.
const flipOffset = 128

// flippedGemm runs an int8 GEMM on an uint8 kernel: with a' = a+128 and b' = b+128 (the sign flipped
// operands) and both offsets moved by 128, (a'-ao') * (b'-bo') = (a-ao) * (b-bo).
//
// The packers fill the ragged K blocks of both panels with FlipSign(0) = 128, so each padded contracting
// element adds 128*128 to the raw products; it is taken out of the column corrections.
func flippedGemm(cfg config.Config, a, b, c matrix.View[int8], qp *quantize.Requantize32) error {
	reg, err := SelectKernel(cfg, dtypes.PairOf[uint8, uint32](), kernels.KindInterleaved)
	if err != nil {
		return err
	}
	fn, err := kernels.InterleavedFn[uint8, uint32](reg)
	if err != nil {
		return err
	}
	m, k, n := a.Rows, a.Cols, b.Cols
	if m == 0 || n == 0 {
		return nil
	}
	kBlockSize, xBlockSize := blockSizes(cfg, reg.Params, 1, n, k)
	plan := newBlockPlan[uint8, uint32](reg.Params, kBlockSize, xBlockSize, m, n, k, true)
	klog.V(1).Infof("interleaved.QuantizedGemm(%s) %dx%dx%d: sign flipped on kernel %q, %s, rounding %s",
		dtypes.PairOf[int8, int32](), m, n, k, reg.Name, plan, qp.Rounding)

	flipped := *qp
	flipped.AOffset += flipOffset
	flipped.BOffset += flipOffset
	colBias := make([]int32, n)
	quantize.ColSums(n, k, b.Data, b.Stride, colBias)
	for ii := range colBias {
		colBias[ii] += int32(flipOffset * k)
	}
	quantize.ColBias(&flipped, colBias, k, 0, colBias)
	padding := int32(flipOffset * flipOffset * plan.kPadding())
	for ii := range colBias {
		colBias[ii] -= padding
	}
	runQuantized(plan, fn, a, pack.FlipSign, repackRHS(plan, b, pack.FlipSign), c, &flipped, colBias, int32(flipOffset*k))
	return nil
}

// runQuantized runs the blocked loop of a quantized GEMM: the raw products are accumulated over the K blocks,
// and requantized on the last one with the row corrections and colBias.
//
// rowSumOffset is added to the raw row sums of a, for operands converted with an offset.
func runQuantized[TIn int8 | uint8, TOp any, TAcc int32 | uint32](plan *blockPlan[TOp, TAcc], fn kernels.Interleaved[TOp, TAcc],
	a matrix.View[TIn], convert func(TIn) TOp, rhs rhsPanels[TOp], c matrix.View[TIn], qp *quantize.Requantize32,
	colBias []int32, rowSumOffset int32) {
	m, n := plan.m, plan.n
	rowBias := make([]int32, m)
	acc := matrix.Make[TAcc](m, n)
	accInt32 := asInt32(acc.Data)
	for kb := range plan.kBlocks() {
		pack.InterleaveWithRowSums(plan.aPanel, a, 0, m, kb.k0, kb.kmax, plan.aLayout, convert, rowBias)
		if kb.last {
			for ii := range rowBias {
				rowBias[ii] += rowSumOffset
			}
			quantize.ScaleRowSums(qp, rowBias)
		}
		for xb := range plan.xBlocks() {
			tiles := plan.runKernel(fn, rhs(xb, kb), xb, kb)
			merge.Integer(acc, tiles, plan.params.MR, plan.params.NR, 0, m, xb.x0, xb.xmax, nil, !kb.first)
			if kb.last {
				quantize.RequantizeBlock(qp, xb.xmax-xb.x0, m, accInt32[xb.x0:], n, c.Data[xb.x0:], c.Stride,
					rowBias, colBias[xb.x0:], xb.x0)
			}
		}
	}
}

// asInt32 reinterprets 32-bit accumulators as int32: the wrapped around uint32 sums are the same bits.
func asInt32[T int32 | uint32](s []T) []int32 {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(unsafe.SliceData(s))), len(s))
}
