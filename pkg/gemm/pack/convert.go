// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pack

import (
	"github.com/gomlx/microgemm/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Converters applied by the packers, so the kernels only ever see their native operand type.

// FP32ToBF16 narrows float32 to BFloat16, rounding to nearest even.
func FP32ToBF16(v float32) bfloat16.BFloat16 {
	return bfloat16.FromFloat32RoundToEven(v)
}

// FP16ToBF16 converts a half precision float to BFloat16. The intermediate float32 is exact, so this
// rounds only once.
func FP16ToBF16(v float16.Float16) bfloat16.BFloat16 {
	return bfloat16.FromFloat32RoundToEven(v.Float32())
}

// FP16ToFP32 widens half precision to float32 (exact).
func FP16ToFP32(v float16.Float16) float32 {
	return v.Float32()
}

// FP32ToFP16 narrows float32 to half precision, rounding to nearest even.
func FP32ToFP16(v float32) float16.Float16 {
	return float16.Fromfloat32(v)
}

// FlipSign reinterprets an int8 as an uint8 offset by 128 (x ^ 0x80), so int8 data can be fed to
// unsigned kernels. The quantization zero-point must be offset by 128 accordingly.
func FlipSign(v int8) uint8 {
	return uint8(v) ^ 0x80
}
