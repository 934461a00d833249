// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package za

import (
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/merge"
	"github.com/gomlx/microgemm/pkg/gemm/quantize"
	"github.com/x448/float16"
)

// OutputStage converts finalized accumulators to the output type.
type OutputStage[TAcc Word, TOut any] interface {
	// Store writes the [rows, cols] accumulators of acc (row stride accStride) to c at (y, x).
	// col0 is the absolute output column of x, used for the parameters indexed by column.
	Store(c matrix.View[TOut], y, x int, acc []TAcc, accStride, rows, cols, col0 int)
}

// FloatActivation stores float32 accumulators clamped by the activation.
type FloatActivation struct {
	Act merge.Activation
}

// Store implements OutputStage.
func (s FloatActivation) Store(c matrix.View[float32], y, x int, acc []float32, accStride, rows, cols, _ int) {
	lo, hi := s.Act.Range()
	for r := range rows {
		out := c.Row(y + r)[x : x+cols]
		for col, v := range acc[r*accStride : r*accStride+cols] {
			out[col] = merge.Clamp(v, lo, hi)
		}
	}
}

// HalfActivation stores float32 accumulators as float16, clamped by the activation in float32.
type HalfActivation struct {
	Act merge.Activation
}

// Store implements OutputStage.
func (s HalfActivation) Store(c matrix.View[float16.Float16], y, x int, acc []float32, accStride, rows, cols, _ int) {
	lo, hi := s.Act.Range()
	for r := range rows {
		out := c.Row(y + r)[x : x+cols]
		for col, v := range acc[r*accStride : r*accStride+cols] {
			out[col] = float16.Fromfloat32(merge.Clamp(v, lo, hi))
		}
	}
}

// Int32Store stores int32 accumulators as they are.
type Int32Store struct{}

// Store implements OutputStage.
func (Int32Store) Store(c matrix.View[int32], y, x int, acc []int32, accStride, rows, cols, _ int) {
	for r := range rows {
		copy(c.Row(y + r)[x : x+cols], acc[r*accStride : r*accStride+cols])
	}
}

// Requantize stores int32 accumulators requantized to 8 bits.
//
// Column corrections are expected in the call's Bias (added when tiles start), RowBias holds the
// row corrections (see quantize.ComputeRowSums), indexed by the row of the call's output window,
// and is added on store.
type Requantize[TOut int8 | uint8] struct {
	QP      *quantize.Requantize32
	RowBias []int32
}

// Store implements OutputStage.
func (s Requantize[TOut]) Store(c matrix.View[TOut], y, x int, acc []int32, accStride, rows, cols, col0 int) {
	for r := range rows {
		var rowBias []int32
		if s.RowBias != nil {
			rowBias = s.RowBias[y+r : y+r+1]
		}
		quantize.RequantizeBlock(s.QP, cols, 1, acc[r*accStride:], accStride, c.Row(y + r)[x:], c.Stride, rowBias, nil, col0)
	}
}

// DequantizeFloat stores int32 accumulators as float32: Scale*acc + LateBias[col], clamped by the activation.
// LateBias, if not nil, is indexed by absolute output column.
type DequantizeFloat struct {
	quantize.DequantizeFloat
	LateBias []float32
	Act      merge.Activation
}

// Store implements OutputStage.
func (s DequantizeFloat) Store(c matrix.View[float32], y, x int, acc []int32, accStride, rows, cols, col0 int) {
	lo, hi := s.Act.Range()
	for r := range rows {
		out := c.Row(y + r)[x : x+cols]
		for col, v := range acc[r*accStride : r*accStride+cols] {
			var lateBias float32
			if s.LateBias != nil {
				lateBias = s.LateBias[col0+col]
			}
			out[col] = merge.Clamp(s.Apply(v, lateBias), lo, hi)
		}
	}
}
