// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package quantize implements the integer output stage of the quantized GEMMs: requantization of the
// int32 accumulators to 8 bits with a fixed-point multiplier and shift, the zero-point corrections
// (row and column sums) and the affine quantize/dequantize conversions used to build the parameters.
//
// Conventions: a quantized value q represents scale*(q - offset) for the three operands; the
// offsets are Requantize32.AOffset, BOffset and COffset.
package quantize

import (
	"math"
)

// Rounding selects how the final right shift of the requantization rounds.
type Rounding int

const (
	// RoundHalfToEven computes the exact product accumulator*multiplier and rounds it once, with ties to even.
	RoundHalfToEven Rounding = iota

	// RoundHalfAwayFromZero uses a saturating rounding doubling high multiply followed by a rounding shift
	// corrected for negative values, so ties round away from zero. Bit-compatible with the Arm NEON
	// kernels when the output minimum is below the output offset.
	RoundHalfAwayFromZero

	// RoundHalfUp is RoundHalfAwayFromZero without the negative correction: ties round towards +Inf.
	// Bit-compatible with the NEON kernels when the output minimum is >= the output offset, and with
	// the SME2 kernels.
	RoundHalfUp
)

// String implements fmt.Stringer.
func (r Rounding) String() string {
	switch r {
	case RoundHalfToEven:
		return "HalfToEven"
	case RoundHalfAwayFromZero:
		return "HalfAwayFromZero"
	case RoundHalfUp:
		return "HalfUp"
	}
	return "Rounding(?)"
}

// Requantize32 holds the requantization parameters for int32 accumulators: per-layer (one multiplier
// and shifts for all columns) or per-channel (one per output column).
//
// The effective real multiplier of a column is mul * 2^(leftShift - 31 - rightShift), see ChannelParams.
//
// Per-channel arrays are indexed by absolute output column: kernels working on a window that
// starts at column n0 look up entry n0+c for their column c.
type Requantize32 struct {
	// Bias, if not nil, is indexed by absolute output column and folded into the column sums,
	// see ComputeColSums.
	Bias []int32

	AOffset, BOffset, COffset int32
	MinVal, MaxVal            int32

	PerChannel bool

	PerLayerLeftShift, PerLayerRightShift, PerLayerMul int32

	PerChannelLeftShifts, PerChannelRightShifts, PerChannelMuls []int32

	Rounding Rounding
}

// ChannelParams returns the multiplier and shifts for the absolute output column col.
func (qp *Requantize32) ChannelParams(col int) (mul, leftShift, rightShift int32) {
	if !qp.PerChannel {
		return qp.PerLayerMul, qp.PerLayerLeftShift, qp.PerLayerRightShift
	}
	if qp.PerChannelLeftShifts != nil {
		leftShift = qp.PerChannelLeftShifts[col]
	}
	return qp.PerChannelMuls[col], leftShift, qp.PerChannelRightShifts[col]
}

// Requantize converts one accumulator (with all biases and zero-point corrections already added) of the
// absolute output column col, returning the clamped value.
func (qp *Requantize32) Requantize(acc int32, col int) int32 {
	mul, leftShift, rightShift := qp.ChannelParams(col)
	return qp.requantize(acc, mul, leftShift, rightShift)
}

func (qp *Requantize32) requantize(acc, mul, leftShift, rightShift int32) int32 {
	if leftShift > 0 {
		acc = SaturatingShiftLeft(acc, leftShift)
	}
	var v int64
	switch qp.Rounding {
	case RoundHalfToEven:
		v = RoundingShiftHalfToEven(int64(acc)*int64(mul), 31+int(rightShift))
	default:
		x := SaturatingRoundingDoublingHighMul(acc, mul)
		if qp.Rounding == RoundHalfAwayFromZero && rightShift > 0 && x < 0 {
			// Shift correction: a saturating -1 before the rounding shift rounds negative ties away from zero.
			if x != math.MinInt32 {
				x--
			}
		}
		v = int64(RoundingShiftRight(x, rightShift))
	}
	v += int64(qp.COffset)
	return int32(min(max(v, int64(qp.MinVal)), int64(qp.MaxVal)))
}

// SaturatingShiftLeft returns x << shift saturated to the int32 range.
func SaturatingShiftLeft(x, shift int32) int32 {
	v := int64(x) << shift
	if shift >= 32 || v > math.MaxInt32 {
		if x > 0 {
			return math.MaxInt32
		} else if x < 0 {
			return math.MinInt32
		}
		return 0
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// SaturatingRoundingDoublingHighMul returns the high 32 bits of 2*a*b, rounded half up (+Inf), saturating the
// single overflowing case MinInt32*MinInt32. It matches the NEON/SVE SQRDMULH instruction.
func SaturatingRoundingDoublingHighMul(a, b int32) int32 {
	if a == math.MinInt32 && b == math.MinInt32 {
		return math.MaxInt32
	}
	ab := int64(a) * int64(b)
	return int32((ab + (1 << 30)) >> 31)
}

// RoundingShiftRight is the SRSHL/VRSHL rounding shift: (x + 2^(shift-1)) >> shift, computed without overflow.
func RoundingShiftRight(x, shift int32) int32 {
	if shift <= 0 {
		return x
	}
	return int32((int64(x) + (int64(1) << (shift - 1))) >> shift)
}

// RoundingShiftHalfToEven returns x / 2^shift rounded to the nearest integer, ties to even.
// shift must be in [0, 62].
func RoundingShiftHalfToEven(x int64, shift int) int64 {
	if shift <= 0 {
		return x
	}
	q := x >> shift // Floor.
	rem := x - q<<shift
	half := int64(1) << (shift - 1)
	if rem > half || (rem == half && q&1 == 1) {
		q++
	}
	return q
}

// RequantizeBlock requantizes a [height, width] block of raw accumulators in into out.
//
// rowBias (indexed by block row) and colBias (indexed by block column) are added to the raw values if not nil,
// see ComputeRowSums and ComputeColSums. startCol is the absolute output column of the first column of the block,
// used to select the per-channel parameters.
func RequantizeBlock[TOut int8 | uint8](qp *Requantize32, width, height int, in []int32, inStride int,
	out []TOut, outStride int, rowBias, colBias []int32, startCol int) {
	for row := range height {
		var rowSum int32
		if rowBias != nil {
			rowSum = rowBias[row]
		}
		inRow := in[row*inStride : row*inStride+width]
		outRow := out[row*outStride : row*outStride+width]
		if !qp.PerChannel {
			mul, leftShift, rightShift := qp.PerLayerMul, qp.PerLayerLeftShift, qp.PerLayerRightShift
			for col, v := range inRow {
				v += rowSum
				if colBias != nil {
					v += colBias[col]
				}
				outRow[col] = TOut(qp.requantize(v, mul, leftShift, rightShift))
			}
			continue
		}
		for col, v := range inRow {
			v += rowSum
			if colBias != nil {
				v += colBias[col]
			}
			outRow[col] = TOut(qp.Requantize(v, startCol+col))
		}
	}
}
