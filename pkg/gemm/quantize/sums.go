// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package quantize

// Zero-point corrections. With offsets, the quantized product expands as:
//
//	sum_k (a_k - ao) * (b_k - bo) = sum_k a_k*b_k - bo*sum_k a_k - ao*sum_k b_k + K*ao*bo
//
// The kernels compute only sum_k a_k*b_k; the row term depends only on the LHS row and the
// column terms only on the RHS column, so both are computed once per GEMM and added in the merge.

// ComputeRowSums sets rowBias[r] = -BOffset * sum_k in[r*stride+k] for the [height, width] LHS block in.
// If qp.BOffset is 0 the sums are not computed and rowBias is zeroed.
func ComputeRowSums[T int8 | uint8](qp *Requantize32, width, height int, in []T, stride int, rowBias []int32) {
	if qp.BOffset == 0 {
		clear(rowBias[:height])
		return
	}
	for row := range height {
		var sum int32
		for _, v := range in[row*stride : row*stride+width] {
			sum += int32(v)
		}
		rowBias[row] = sum * -qp.BOffset
	}
}

// ScaleRowSums converts raw row sums (as accumulated by pack.InterleaveWithRowSums) into the row correction
// -BOffset * sum.
func ScaleRowSums(qp *Requantize32, rowSums []int32) {
	for ii, sum := range rowSums {
		rowSums[ii] = sum * -qp.BOffset
	}
}

// ComputeColSums sets, for the [height=depth, width] RHS block in (a window of the RHS starting at the
// absolute output column firstCol):
//
//	colBias[c] = AOffset*BOffset*depth - AOffset*sum_k in[k*stride+c] + qp.Bias[firstCol+c]
//
// The user bias is included (if qp.Bias is not nil) so only one column vector needs to be added in the merge.
func ComputeColSums[T int8 | uint8](qp *Requantize32, width, height int, in []T, stride int, colBias []int32, depth int, firstCol int) {
	ColSums(width, height, in, stride, colBias)
	ColBias(qp, colBias[:width], depth, firstCol, colBias)
}

// ColSums sets colSums[c] to the raw sum of the column c of the [height, width] RHS block in.
func ColSums[T int8 | uint8](width, height int, in []T, stride int, colSums []int32) {
	colSums = colSums[:width]
	clear(colSums)
	for row := range height {
		for col, v := range in[row*stride : row*stride+width] {
			colSums[col] += int32(v)
		}
	}
}

// ColBias converts raw column sums (see ColSums) into the column corrections of ComputeColSums.
// colBias and colSums can be the same slice.
func ColBias(qp *Requantize32, colSums []int32, depth, firstCol int, colBias []int32) {
	constTerm := qp.AOffset * qp.BOffset * int32(depth)
	for col, sum := range colSums {
		result := constTerm - sum*qp.AOffset
		if qp.Bias != nil {
			result += qp.Bias[firstCol+col]
		}
		colBias[col] = result
	}
}
