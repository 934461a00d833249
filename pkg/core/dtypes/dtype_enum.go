// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

// DType enumerates the element types the GEMM kernels read, accumulate or write.
//
// The values follow the XLA/PJRT numbering used elsewhere in GoMLX, so a DType
// from this package can be compared with a GoMLX tensor dtype.
type DType int32

const (
	// InvalidDType is the zero value.
	InvalidDType DType = 0

	Int8   DType = 2
	Int16  DType = 3
	Int32  DType = 4
	Int64  DType = 5
	Uint8  DType = 6
	Uint16 DType = 7
	Uint32 DType = 8

	// Float16 is IEEE 754 half precision (github.com/x448/float16).
	Float16 DType = 10
	Float32 DType = 11
	Float64 DType = 12

	// BFloat16 is the truncated 16 bits floating point format: 1 sign bit,
	// 8 exponent bits and 7 mantissa bits. See package bfloat16.
	BFloat16 DType = 16
)

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
	BFloat16:     "BFloat16",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return "DType(unknown)"
}

// MapOfNames maps names (and lower-case names, and short aliases like "f32") to DTypes.
var MapOfNames = map[string]DType{
	"F16":  Float16,
	"F32":  Float32,
	"F64":  Float64,
	"BF16": BFloat16,
	"S8":   Int8,
	"S16":  Int16,
	"S32":  Int32,
	"S64":  Int64,
	"U8":   Uint8,
	"U16":  Uint16,
	"U32":  Uint32,
}
