// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pack implements the panel packers that rearrange a region of a matrix.View into the
// interleaved layout a micro-kernel streams through.
//
// Two transforms are provided:
//
//   - Interleave, for the LHS (A): groups of Layout.IntBy rows (MR) are interleaved, so that for each
//     block of Layout.Block (KR) contracting elements, the kernel finds the block of each of the
//     MR rows contiguously: packed[group][kBlock][row][kk].
//   - TransposeInterleave, for the RHS (B) given as [K, N]: strips of Layout.IntBy columns (NR),
//     likewise packed[strip][kBlock][col][kk].
//
// Every emitted group is complete: ragged rows (or columns) and the ragged end of the contracting
// dimension are filled, so the kernels always operate on dense panels. The fill value is the
// conversion of the zero of the source type, i.e. a logical zero, which for sign-flipping conversions
// is not the zero bit pattern.
//
// Packers don't allocate and don't check bounds: the caller guarantees dst has at least
// PackedSize elements and that the requested region lies within the source view.
package pack

import (
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
)

// PadPolicy defines how missing rows (or columns) of the last group are synthesized.
type PadPolicy int

const (
	// PadZero reads missing rows from a zero row.
	PadZero PadPolicy = iota

	// PadReplicate replicates the last valid row of the region into the missing rows. Useful for kernels
	// that compute some function of the rows where zero would be a special value.
	PadReplicate
)

// Layout describes the packed panel format a kernel expects.
type Layout struct {
	// IntBy is the interleave factor: number of rows (LHS) or columns (RHS) packed together, MR or NR.
	IntBy int

	// Block is the number of consecutive contracting elements of one row kept contiguous, KR.
	// Zero is the same as 1.
	Block int

	// Pad policy for the missing rows/columns of the last group.
	Pad PadPolicy
}

func (l Layout) block() int {
	return max(l.Block, 1)
}

// RoundUp rounds n up to a multiple of multiple.
func RoundUp(n, multiple int) int {
	return (n + multiple - 1) / multiple * multiple
}

// PackedDepth returns the contracting size of a packed panel: depth rounded up to the Layout block.
func (l Layout) PackedDepth(depth int) int {
	return RoundUp(depth, l.block())
}

// PackedSize returns the number of elements needed to pack a region of rows x depth with the given layout:
// roundup(rows, IntBy) * roundup(depth, Block).
func PackedSize(rows, depth int, layout Layout) int {
	return RoundUp(rows, layout.IntBy) * layout.PackedDepth(depth)
}

// Identity is the converter used when the kernel consumes the source type as is.
func Identity[T any](v T) T {
	return v
}

// Interleave packs the region [y0, ymax) x [k0, kmax) of the LHS src into dst, and returns the number
// of elements written, always PackedSize(ymax-y0, kmax-k0, layout).
//
// convert is applied to every element (and to the zero used as filling), see the converters in this package.
func Interleave[TIn, TOut any](dst []TOut, src matrix.View[TIn], y0, ymax, k0, kmax int, layout Layout, convert func(TIn) TOut) int {
	var zero TIn
	fill := convert(zero)
	intBy, block := layout.IntBy, layout.block()
	depth := kmax - k0
	numKBlocks := (depth + block - 1) / block
	stride := src.Stride
	dstIdx := 0
	for groupStart := y0; groupStart < ymax; groupStart += intBy {
		for kb := range numKBlocks {
			kStart := k0 + kb*block
			validK := min(block, kmax-kStart)
			for r := range intBy {
				row := groupStart + r
				if row >= ymax {
					if layout.Pad == PadZero {
						for range block {
							dst[dstIdx] = fill
							dstIdx++
						}
						continue
					}
					row = ymax - 1
				}
				srcIdx := row*stride + kStart
				for kk := range validK {
					dst[dstIdx] = convert(src.Data[srcIdx+kk])
					dstIdx++
				}
				for kk := validK; kk < block; kk++ {
					dst[dstIdx] = fill
					dstIdx++
				}
			}
		}
	}
	return dstIdx
}

// InterleaveWithRowSums is like Interleave for integer sources, and additionally adds to rowSums[r] the sum of
// the source values of row y0+r over [k0, kmax). rowSums must have at least ymax-y0 elements; it is
// accumulated into (not reset), so calls over consecutive contracting blocks build the full row sums.
//
// The sums are used to correct for the RHS zero-point in quantized GEMMs, see quantize.ScaleRowSums.
func InterleaveWithRowSums[TIn int8 | uint8, TOut any](dst []TOut, src matrix.View[TIn], y0, ymax, k0, kmax int,
	layout Layout, convert func(TIn) TOut, rowSums []int32) int {
	for row := y0; row < ymax; row++ {
		var sum int32
		for _, v := range src.Data[row*src.Stride+k0 : row*src.Stride+kmax] {
			sum += int32(v)
		}
		rowSums[row-y0] += sum
	}
	return Interleave(dst, src, y0, ymax, k0, kmax, layout, convert)
}

// TransposeInterleave packs the region [k0, kmax) x [x0, xmax) of the RHS src (shaped [K, N]) into dst,
// in strips of layout.IntBy columns, and returns the number of elements written, always
// PackedSize(xmax-x0, kmax-k0, layout).
func TransposeInterleave[TIn, TOut any](dst []TOut, src matrix.View[TIn], x0, xmax, k0, kmax int, layout Layout, convert func(TIn) TOut) int {
	var zero TIn
	fill := convert(zero)
	intBy, block := layout.IntBy, layout.block()
	depth := kmax - k0
	numKBlocks := (depth + block - 1) / block
	stride := src.Stride
	dstIdx := 0
	for stripStart := x0; stripStart < xmax; stripStart += intBy {
		validCols := min(intBy, xmax-stripStart)
		for kb := range numKBlocks {
			kStart := k0 + kb*block
			validK := min(block, kmax-kStart)
			for c := range intBy {
				col := stripStart + c
				if c >= validCols {
					if layout.Pad == PadZero {
						for range block {
							dst[dstIdx] = fill
							dstIdx++
						}
						continue
					}
					col = xmax - 1
				}
				srcIdx := kStart*stride + col
				for range validK {
					dst[dstIdx] = convert(src.Data[srcIdx])
					dstIdx++
					srcIdx += stride
				}
				for kk := validK; kk < block; kk++ {
					dst[dstIdx] = fill
					dstIdx++
				}
			}
		}
	}
	return dstIdx
}
