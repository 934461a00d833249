// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pack

import (
	"github.com/gomlx/microgemm/pkg/gemm/matrix"
)

// Unpack is the inverse of Interleave: it returns the [rows, depth] matrix packed in packed,
// dropping the filling.
func Unpack[T any](packed []T, rows, depth int, layout Layout) matrix.View[T] {
	out := matrix.Make[T](rows, depth)
	forEachPacked(rows, depth, layout, func(packedIdx, row, k int) {
		out.Set(row, k, packed[packedIdx])
	})
	return out
}

// UnpackTransposed is the inverse of TransposeInterleave: it returns the [depth, cols] matrix packed in packed.
func UnpackTransposed[T any](packed []T, depth, cols int, layout Layout) matrix.View[T] {
	out := matrix.Make[T](depth, cols)
	forEachPacked(cols, depth, layout, func(packedIdx, col, k int) {
		out.Set(k, col, packed[packedIdx])
	})
	return out
}

// Padding returns the values of all filling positions of a packed panel of rows x depth, in packing order.
func Padding[T any](packed []T, rows, depth int, layout Layout) []T {
	total := PackedSize(rows, depth, layout)
	valid := make([]bool, total)
	forEachPacked(rows, depth, layout, func(packedIdx, _, _ int) {
		valid[packedIdx] = true
	})
	var pads []T
	for ii, isValid := range valid {
		if !isValid {
			pads = append(pads, packed[ii])
		}
	}
	return pads
}

// forEachPacked calls fn for every in-bounds (row, k) position of a panel packed with the given layout,
// with its index in the packed buffer. For the RHS transform "row" is the column.
func forEachPacked(rows, depth int, layout Layout, fn func(packedIdx, row, k int)) {
	intBy, block := layout.IntBy, layout.block()
	packedDepth := layout.PackedDepth(depth)
	for row := range rows {
		group, r := row/intBy, row%intBy
		groupBase := group * intBy * packedDepth
		for k := range depth {
			kb, kk := k/block, k%block
			fn(groupBase+(kb*intBy+r)*block+kk, row, k)
		}
	}
}
