// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package matrix defines View, the caller-owned row-major matrix window read and written by
// the packers, kernels and merges.
//
// The GEMM core never allocates or frees a View, nor checks its bounds: Check is provided
// for the calling framework to validate its inputs before entering the core.
package matrix

import (
	"github.com/pkg/errors"
)

// View is a row-major matrix window over Data: element (row, col) is Data[row*Stride+col].
//
// Stride is the leading dimension and must be >= Cols.
type View[T any] struct {
	Data   []T
	Stride int
	Rows   int
	Cols   int
}

// New returns a View over data of shape [rows, cols] with Stride == cols.
func New[T any](data []T, rows, cols int) View[T] {
	return View[T]{Data: data, Stride: cols, Rows: rows, Cols: cols}
}

// Make allocates a zeroed [rows, cols] matrix.
func Make[T any](rows, cols int) View[T] {
	return New(make([]T, rows*cols), rows, cols)
}

// At returns the element at (row, col).
func (v View[T]) At(row, col int) T {
	return v.Data[row*v.Stride+col]
}

// Set sets the element at (row, col).
func (v View[T]) Set(row, col int, value T) {
	v.Data[row*v.Stride+col] = value
}

// Row returns the valid elements of the given row.
func (v View[T]) Row(row int) []T {
	start := row * v.Stride
	return v.Data[start : start+v.Cols]
}

// Sub returns the [rows, cols] window starting at (row0, col0). It shares Data with v.
func (v View[T]) Sub(row0, col0, rows, cols int) View[T] {
	offset := row0*v.Stride + col0
	end := len(v.Data)
	if rows > 0 && cols > 0 {
		end = offset + (rows-1)*v.Stride + cols
	} else if offset > end {
		offset = end
	}
	return View[T]{Data: v.Data[offset:end], Stride: v.Stride, Rows: rows, Cols: cols}
}

// Check validates the View invariants: Stride >= Cols and Data large enough for the shape.
func (v View[T]) Check() error {
	if v.Rows < 0 || v.Cols < 0 {
		return errors.Errorf("matrix view with negative shape [%d, %d]", v.Rows, v.Cols)
	}
	if v.Stride < v.Cols {
		return errors.Errorf("matrix view stride (leading dimension) %d smaller than number of columns %d", v.Stride, v.Cols)
	}
	if v.Rows == 0 || v.Cols == 0 {
		return nil
	}
	if needed := (v.Rows-1)*v.Stride + v.Cols; len(v.Data) < needed {
		return errors.Errorf("matrix view [%d, %d] with stride %d needs %d elements, got only %d",
			v.Rows, v.Cols, v.Stride, needed, len(v.Data))
	}
	return nil
}

// Clone returns a compact (Stride == Cols) copy of the view.
func (v View[T]) Clone() View[T] {
	c := Make[T](v.Rows, v.Cols)
	for row := range v.Rows {
		copy(c.Row(row), v.Row(row))
	}
	return c
}

// Transposed returns a compact transposed copy of the view.
func (v View[T]) Transposed() View[T] {
	t := Make[T](v.Cols, v.Rows)
	for row := range v.Rows {
		for col := range v.Cols {
			t.Data[col*t.Stride+row] = v.Data[row*v.Stride+col]
		}
	}
	return t
}

// Flat returns the valid elements of the view in row-major order (a copy if Stride != Cols).
func (v View[T]) Flat() []T {
	if v.Stride == v.Cols && len(v.Data) >= v.Rows*v.Cols {
		return v.Data[:v.Rows*v.Cols]
	}
	return v.Clone().Data
}
