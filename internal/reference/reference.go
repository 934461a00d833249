// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reference holds the naive triple-loop GEMM used by tests (and the benchmark tool) as
// the correctness oracle. It deliberately shares no code with the kernels.
package reference

// MatMulFloat64 returns the [m, n] row-major product of a [m, k] and b [k, n] (both row-major with the given
// strides), accumulated in float64.
func MatMulFloat64(a []float64, lda int, b []float64, ldb int, m, n, k int) []float64 {
	out := make([]float64, m*n)
	for row := range m {
		for col := range n {
			var sum float64
			for kk := range k {
				sum += a[row*lda+kk] * b[kk*ldb+col]
			}
			out[row*n+col] = sum
		}
	}
	return out
}

// MatMulFloat32 is like MatMulFloat64, but for float32 inputs. The result is accumulated in float64 and
// rounded once at the end.
func MatMulFloat32(a []float32, lda int, b []float32, ldb int, m, n, k int) []float32 {
	out := make([]float32, m*n)
	for row := range m {
		for col := range n {
			var sum float64
			for kk := range k {
				sum += float64(a[row*lda+kk]) * float64(b[kk*ldb+col])
			}
			out[row*n+col] = float32(sum)
		}
	}
	return out
}

// GEMMFloat32 returns alpha*a*b + beta*c for row-major float32 matrices, c being [m, n] with stride ldc.
func GEMMFloat32(alpha, beta float32, a []float32, lda int, b []float32, ldb int, c []float32, ldc int, m, n, k int) []float32 {
	ab := MatMulFloat32(a, lda, b, ldb, m, n, k)
	out := make([]float32, m*n)
	for row := range m {
		for col := range n {
			v := float64(alpha) * float64(ab[row*n+col])
			if beta != 0 {
				v += float64(beta) * float64(c[row*ldc+col])
			}
			out[row*n+col] = float32(v)
		}
	}
	return out
}

// MatMulInt is the exact integer product, with a and b given as int32 (operands after widening) and
// the zero-points subtracted from each operand first: sum_k (a-aOffset)*(b-bOffset).
func MatMulInt(a []int32, lda int, b []int32, ldb int, m, n, k int, aOffset, bOffset int32) []int32 {
	out := make([]int32, m*n)
	for row := range m {
		for col := range n {
			var sum int32
			for kk := range k {
				sum += (a[row*lda+kk] - aOffset) * (b[kk*ldb+col] - bOffset)
			}
			out[row*n+col] = sum
		}
	}
	return out
}

// Widen converts a slice of narrow integers to int32.
func Widen[T int8 | uint8 | int16 | uint16](in []T) []int32 {
	out := make([]int32, len(in))
	for ii, v := range in {
		out[ii] = int32(v)
	}
	return out
}

// ToFloat64 converts a slice of float32 to float64.
func ToFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for ii, v := range in {
		out[ii] = float64(v)
	}
	return out
}
