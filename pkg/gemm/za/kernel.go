// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package za

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
	"github.com/gomlx/microgemm/pkg/gemm/pack"
)

// Shape of the tile of a kernel, in vectors of VL 32-bit lanes: RowVectors*ColVectors is always 4, the
// accumulator array holding 4 VLxVL tiles.
type Shape struct {
	RowVectors, ColVectors int
}

var (
	Shape1VLx4VL = Shape{RowVectors: 1, ColVectors: 4}
	Shape2VLx2VL = Shape{RowVectors: 2, ColVectors: 2}
	Shape4VLx1VL = Shape{RowVectors: 4, ColVectors: 1}

	// Shapes lists all kernel shapes.
	Shapes = []Shape{Shape1VLx4VL, Shape2VLx2VL, Shape4VLx1VL}
)

// String implements fmt.Stringer, e.g. "2VLx2VL".
func (s Shape) String() string {
	return fmt.Sprintf("%dVLx%dVL", s.RowVectors, s.ColVectors)
}

// Tile returns the tile size for the vector length vl.
func (s Shape) Tile(vl int) (rows, cols int) {
	return s.RowVectors * vl, s.ColVectors * vl
}

// Kernel is a nomerge kernel: one family (operand, accumulator and output types) and one tile shape.
type Kernel[TOp any, TAcc Word, TOut any] struct {
	Name   string
	Family string
	Shape  Shape

	// KR is the number of contracting elements consumed per outer product.
	KR int

	widen func(TOp) TAcc
}

// TileShape returns the tile size when running on an array with vector length vl.
func (k *Kernel[TOp, TAcc, TOut]) TileShape(vl int) (rows, cols int) {
	return k.Shape.Tile(vl)
}

// LHSLayout is the layout of the packed A panel for the vector length vl.
func (k *Kernel[TOp, TAcc, TOut]) LHSLayout(vl int) pack.Layout {
	rows, _ := k.TileShape(vl)
	return pack.Layout{IntBy: rows, Block: k.KR}
}

// RHSLayout is the layout of the packed B panel for the vector length vl.
func (k *Kernel[TOp, TAcc, TOut]) RHSLayout(vl int) pack.Layout {
	_, cols := k.TileShape(vl)
	return pack.Layout{IntBy: cols, Block: k.KR}
}

// NewBuffer allocates the Buffer for an [m, n] output region computed on arr.
func (k *Kernel[TOp, TAcc, TOut]) NewBuffer(arr *Array, m, n int) *Buffer[TAcc] {
	rows, cols := k.TileShape(arr.VL())
	return NewBuffer[TAcc](pack.RoundUp(m, rows)/rows, pack.RoundUp(n, cols)/cols, rows, cols)
}

// String implements fmt.Stringer.
func (k *Kernel[TOp, TAcc, TOut]) String() string {
	return k.Name
}

// Call holds the arguments of one kernel invocation over an [M, N] output region.
type Call[TOp any, TAcc Word, TOut any] struct {
	// A and B are the panels packed with LHSLayout and RHSLayout, for the [M, K] and [K, N] operands.
	A, B []TOp

	// C is the output window, with (0, 0) at the first element of the region.
	// If nil, the accumulators are stored into Buffer instead of finalized.
	C *matrix.View[TOut]

	// M, N and K are the logical sizes; the panels have a packed depth of roundup(K, KR).
	M, N, K int

	// Bias, if not nil, is indexed by absolute output column (N0 + column) and added to tiles that start from
	// zero, never to tiles filled from the buffer.
	Bias []TAcc

	// Output converts the accumulators when finalizing (C != nil).
	Output OutputStage[TAcc, TOut]

	// N0 is the absolute output column of the first column of the region.
	N0 int

	// Accumulate fills the accumulators from Buffer instead of starting from zero.
	Accumulate bool

	// Buffer holds the spilled tiles of the region. Required if Accumulate is set or C is nil.
	Buffer *Buffer[TAcc]
}

// outerProduct accumulates one block of KR contracting elements into the [rows, cols] tile acc.
func (k *Kernel[TOp, TAcc, TOut]) outerProduct(acc []TAcc, aBlock, bBlock []TOp, aWide, bWide []TAcc, cols int) {
	for ii, v := range aBlock {
		aWide[ii] = k.widen(v)
	}
	for ii, v := range bBlock {
		bWide[ii] = k.widen(v)
	}
	kr := k.KR
	for r := 0; r*kr < len(aWide); r++ {
		aRow := aWide[r*kr : (r+1)*kr]
		accRow := acc[r*cols : (r+1)*cols]
		for c := range accRow {
			bCol := bWide[c*kr : (c+1)*kr]
			var sum TAcc
			for i, aV := range aRow {
				sum += aV * bCol[i]
			}
			accRow[c] += sum
		}
	}
}

// Run executes the kernel over all the tiles of the call's region, in row-major tile order.
//
// The array must have been entered (see Array.Enter). It panics on calls inconsistent with the state of
// the buffer slots, see Buffer.
func (k *Kernel[TOp, TAcc, TOut]) Run(arr *Array, call *Call[TOp, TAcc, TOut]) {
	arr.mustBeActive()
	vl := arr.VL()
	rows, cols := k.TileShape(vl)
	kr := k.KR
	kstride := pack.RoundUp(call.K, kr)
	numKBlocks := kstride / kr
	store := call.C == nil
	buf := call.Buffer
	if (store || call.Accumulate) && buf == nil {
		exceptions.Panicf("za: kernel %s needs a Buffer to store or accumulate", k.Name)
	}
	if buf != nil {
		if bufRows, bufCols := buf.TileShape(); bufRows != rows || bufCols != cols {
			exceptions.Panicf("za: kernel %s has tiles of [%d, %d] for VL=%d, but Buffer has slots of [%d, %d]",
				k.Name, rows, cols, vl, bufRows, bufCols)
		}
	}

	acc := tiles[TAcc](arr)[:rows*cols]
	aWide, bWide := operandScratch[TAcc](arr, rows*kr, cols*kr)
	aStep, bStep := rows*kr, cols*kr
	for yb, y := 0, 0; y < call.M; yb, y = yb+1, y+rows {
		validRows := min(rows, call.M-y)
		aTile := call.A[yb*rows*kstride : (yb+1)*rows*kstride]
		for xb, x := 0, 0; x < call.N; xb, x = xb+1, x+cols {
			validCols := min(cols, call.N-x)
			bTile := call.B[xb*cols*kstride : (xb+1)*cols*kstride]

			if call.Accumulate {
				buf.fill(yb, xb, acc)
			} else {
				clear(acc)
				if buf != nil {
					buf.begin(yb, xb)
				}
				if call.Bias != nil {
					bias := call.Bias[call.N0+x : call.N0+x+validCols]
					for r := range rows {
						copy(acc[r*cols:], bias)
					}
				}
			}

			aIdx, bIdx := 0, 0
			for range numKBlocks / 2 {
				k.outerProduct(acc, aTile[aIdx:aIdx+aStep], bTile[bIdx:bIdx+bStep], aWide, bWide, cols)
				k.outerProduct(acc, aTile[aIdx+aStep:aIdx+2*aStep], bTile[bIdx+bStep:bIdx+2*bStep], aWide, bWide, cols)
				aIdx += 2 * aStep
				bIdx += 2 * bStep
			}
			if numKBlocks%2 == 1 {
				k.outerProduct(acc, aTile[aIdx:aIdx+aStep], bTile[bIdx:bIdx+bStep], aWide, bWide, cols)
			}

			if store {
				buf.spill(yb, xb, acc)
				continue
			}
			call.Output.Store(*call.C, y, x, acc, cols, validRows, validCols, call.N0+x)
			if buf != nil {
				buf.finalize(yb, xb)
			}
		}
	}
}
