// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bfloat16 is a trivial implementation for the bfloat16 type,
// based on https://github.com/x448/float16 and the pending issue in
// https://github.com/x448/float16/issues/22
package bfloat16

import (
	"math"
	"strconv"
)

// BFloat16 (brain floating point) is a 16 bits floating point format: it keeps the 8 exponent bits
// of float32 and truncates the mantissa to 7 bits.
type BFloat16 uint16

// Float32 widens f to a float32. It is exact.
func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16 by truncating the lower 16 bits of the mantissa.
func FromFloat32(x float32) BFloat16 {
	return BFloat16(math.Float32bits(x) >> 16)
}

// FromFloat32RoundToEven converts a float32 to a BFloat16 rounding to the nearest representable
// value, ties to even. NaNs are kept quiet NaNs.
//
// This is the narrowing the packers use when feeding float32 operands to BFloat16 kernels.
func FromFloat32RoundToEven(x float32) BFloat16 {
	bits := math.Float32bits(x)
	if bits&0x7f800000 == 0x7f800000 && bits&0x007fffff != 0 {
		// NaN: truncate and force the quiet bit so the mantissa doesn't become zero (Inf).
		return BFloat16(bits>>16 | 0x0040)
	}
	lsb := (bits >> 16) & 1
	bits += 0x7fff + lsb
	return BFloat16(bits >> 16)
}

// Bits convert BFloat16 to an uint16.
func (f BFloat16) Bits() uint16 {
	return uint16(f)
}

// String implements fmt.Stringer, and prints a float representation of the BFloat16.
func (f BFloat16) String() string {
	return strconv.FormatFloat(float64(f.Float32()), 'f', -1, 32)
}
