// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types handled by the GEMM kernels,
// the DTypePair used to key kernel variants, and the constraint interfaces used with generics.
//
// It is a trimmed down fork of github.com/gomlx/gomlx/pkg/core/dtypes.
package dtypes

import (
	"strings"

	"github.com/gomlx/microgemm/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters are invalid.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

func init() {
	for dtype, name := range dtypeNames {
		if dtype == InvalidDType {
			continue
		}
		MapOfNames[name] = dtype
	}
	keys := make([]string, 0, len(MapOfNames))
	for key := range MapOfNames {
		keys = append(keys, key)
	}
	for _, key := range keys {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; !found {
			MapOfNames[lowerKey] = MapOfNames[key]
		}
	}
}

// Supported lists the Go types the kernels know how to read or write.
type Supported interface {
	float16.Float16 | bfloat16.BFloat16 | float32 | float64 |
		int8 | int16 | int32 | int64 | uint8 | uint16 | uint32
}

// GoFloat represent a continuous Go numeric type.
type GoFloat interface {
	float32 | float64
}

// FromGenericsType returns the DType enum for the given type.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case float64:
		return Float64
	case float32:
		return Float32
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	case int64:
		return Int64
	case int32:
		return Int32
	case int16:
		return Int16
	case int8:
		return Int8
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	}
	return InvalidDType
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	switch dtype {
	case Int8, Uint8:
		return 1
	case Int16, Uint16, Float16, BFloat16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Float64:
		return 8
	}
	panicf("Size() not defined for dtype %s", dtype)
	return 0
}

// DTypePair identifies a kernel by the dtype of its packed operands and the dtype of its accumulator/output.
type DTypePair struct {
	Input, Output DType
}

// String implements fmt.Stringer, e.g.: "Int8->Int32".
func (p DTypePair) String() string {
	return p.Input.String() + "->" + p.Output.String()
}

// PairOf returns the DTypePair for the generic types TIn and TOut.
func PairOf[TIn, TOut Supported]() DTypePair {
	return DTypePair{Input: FromGenericsType[TIn](), Output: FromGenericsType[TOut]()}
}

// ParsePair parses strings like "int8->int32", "f32->f32" or "bf16:f32".
func ParsePair(s string) (DTypePair, error) {
	sep := "->"
	if !strings.Contains(s, sep) {
		sep = ":"
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return DTypePair{}, errors.Errorf("invalid dtype pair %q, expected format \"input->output\"", s)
	}
	var pair DTypePair
	for ii, dst := range []*DType{&pair.Input, &pair.Output} {
		name := strings.TrimSpace(parts[ii])
		dtype, found := MapOfNames[name]
		if !found {
			dtype, found = MapOfNames[strings.ToLower(name)]
		}
		if !found {
			return DTypePair{}, errors.Errorf("unknown dtype %q in dtype pair %q", name, s)
		}
		*dst = dtype
	}
	return pair, nil
}
